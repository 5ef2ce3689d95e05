// Package commands implements the lumix-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/log"
)

const timeFormat = "2006-01-02T15:04:05.000000Z"

// RunView prints the events of path matching opts in a human-readable form.
func RunView(path string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// eventType names the payload carried by event.
func eventType(event log.Event) string {
	switch {
	case event.Register != nil:
		return "Register"
	case event.Call != nil:
		if event.Call.Status != nil {
			return "Response"
		}
		return "Request"
	case event.StateChange != nil:
		return "State"
	case event.Property != nil:
		return "Property"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeFormat)
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenConnID(event.ConnectionID),
		event.Direction.String(), event.Layer.String(), eventType(event))
	if event.Transport != "" {
		fmt.Fprintf(w, " (%s)", event.Transport)
	}
	fmt.Fprintln(w)

	switch {
	case event.Register != nil:
		formatRegister(w, event.Register)
	case event.Call != nil:
		formatCall(w, event.Call)
	case event.StateChange != nil:
		formatStateChange(w, event.StateChange)
	case event.Property != nil:
		fmt.Fprintf(w, "  %s = %s\n", event.Property.Name, event.Property.Value)
	case event.Error != nil:
		formatError(w, event.Error)
	}
	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatRegister(w io.Writer, reg *log.RegisterEvent) {
	fmt.Fprintf(w, "  %s 0x%04x", reg.Op.String(), reg.Address)
	if reg.Ack {
		fmt.Fprint(w, " ack")
	}
	fmt.Fprintln(w)
	if len(reg.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(reg.Data))
		if reg.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatCall(w io.Writer, call *log.CallEvent) {
	fmt.Fprintf(w, "  Target: %s\n", call.Target)
	if call.Attempt > 0 {
		fmt.Fprintf(w, "  Attempt: %d\n", call.Attempt)
	}
	if call.Status != nil {
		fmt.Fprintf(w, "  Status: %s\n", call.Status.String())
	}
	if call.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*call.Duration))
	}
	if call.Payload != "" {
		fmt.Fprintf(w, "  Payload: %s\n", call.Payload)
	}
}

func formatStateChange(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatError(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}
