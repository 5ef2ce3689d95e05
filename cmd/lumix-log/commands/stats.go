package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Calls             map[string]*CallStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for one connect cycle.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Transport string
	DeviceID  string
}

// CallStats holds response statistics for one call target.
type CallStats struct {
	Responses int
	Failures  int
	Retries   int
	Total     time.Duration
}

// Average returns the mean round trip of the target.
func (c *CallStats) Average() time.Duration {
	if c.Responses == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Responses)
}

// Collect reads path and aggregates its events.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Calls:             make(map[string]*CallStats),
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.Transport == "" {
		conn.Transport = event.Transport
	}
	if conn.DeviceID == "" {
		conn.DeviceID = event.DeviceID
	}

	if c := event.Call; c != nil && c.Status != nil {
		cs, ok := s.Calls[c.Target]
		if !ok {
			cs = &CallStats{}
			s.Calls[c.Target] = cs
		}
		cs.Responses++
		if *c.Status != wire.StatusOK {
			cs.Failures++
		}
		if c.Attempt > 0 {
			cs.Retries++
		}
		if c.Duration != nil {
			cs.Total += *c.Duration
		}
	}
	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Lumix Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerLink, log.LayerCall, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryNotification, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	ids := make([]string, 0, len(stats.Connections))
	for id := range stats.Connections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return stats.Connections[ids[i]].FirstSeen.Before(stats.Connections[ids[j]].FirstSeen)
	})
	for _, id := range ids {
		c := stats.Connections[id]
		fmt.Fprintf(w, "  [%s] %d events, duration %s", shortenConnID(id), c.Events,
			c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))
		if c.Transport != "" {
			fmt.Fprintf(w, ", %s", c.Transport)
		}
		fmt.Fprintln(w)
		if c.DeviceID != "" {
			fmt.Fprintf(w, "           Device: %s\n", c.DeviceID)
		}
	}

	if len(stats.Calls) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Calls:")
		targets := make([]string, 0, len(stats.Calls))
		for t := range stats.Calls {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			c := stats.Calls[t]
			fmt.Fprintf(w, "  %-32s %d responses, %d failed, %d retried, avg %s\n",
				t, c.Responses, c.Failures, c.Retries, formatDuration(c.Average()))
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
