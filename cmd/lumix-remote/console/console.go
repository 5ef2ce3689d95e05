// Package console provides the interactive command line of lumix-remote.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/remote"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Console runs commands typed by the user against a Remote.
type Console struct {
	remote *remote.Remote
	rl     *readline.Instance
	quiet  atomic.Bool
}

// New creates a console for r.
func New(r *remote.Remote) (*Console, error) {
	names := make([]readline.PrefixCompleterInterface, 0, len(r.Commands())+2)
	for _, c := range r.Commands() {
		names = append(names, readline.PcItem(c.Name))
	}
	names = append(names, readline.PcItem("help"), readline.PcItem("quit"), readline.PcItem("events"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lumix> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(names...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{remote: r, rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until EOF, quit or ctx is cancelled.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	sub := c.remote.Events()
	defer sub.Close()
	go c.printEvents(sub, c.rl.Stdout())

	fmt.Fprintln(c.rl.Stdout(), `Type "help" for commands.`)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := strings.ToLower(parts[0]), parts[1:]

		switch name {
		case "help", "?":
			c.printHelp(args)
		case "quit", "exit", "q":
			cancel()
			return
		case "events":
			on := len(args) == 0 || args[0] != "off"
			c.quiet.Store(!on)
			fmt.Fprintf(c.rl.Stdout(), "events %s\n", onOff(on))
		default:
			c.invoke(ctx, name, args)
		}
	}
}

func (c *Console) invoke(ctx context.Context, name string, args []string) {
	start := time.Now()
	out, err := c.remote.Invoke(ctx, name, args...)
	w := c.rl.Stdout()
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		var se *wire.StatusError
		if errors.As(err, &se) && se.Retries > 0 {
			fmt.Fprintf(w, "  (after %d retries)\n", se.Retries)
		}
		return
	}
	Print(w, out)
	fmt.Fprintf(w, "(%s)\n", time.Since(start).Round(time.Millisecond))
}

func (c *Console) printHelp(args []string) {
	w := c.rl.Stdout()
	if len(args) > 0 {
		for _, cmd := range c.remote.Commands() {
			if cmd.Name == args[0] {
				fmt.Fprintf(w, "%s %s\n  %s\n", cmd.Name, cmd.Usage, cmd.Help)
				return
			}
		}
		fmt.Fprintf(w, "unknown command %q\n", args[0])
		return
	}
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range c.remote.Commands() {
		fmt.Fprintf(w, "  %-28s %s\n", strings.TrimSpace(cmd.Name+" "+cmd.Usage), cmd.Help)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  help [command]               Show help")
	fmt.Fprintln(w, "  events on|off                Show or hide camera events")
	fmt.Fprintln(w, "  quit                         Exit")
}

// printEvents writes events until sub is closed. Connection changes are
// shown even when events are off.
func (c *Console) printEvents(sub *events.Subscription, w io.Writer) {
	for ev := range sub.C {
		if c.quiet.Load() && ev.Topic != events.TopicConnection {
			continue
		}
		FormatEvent(w, ev)
	}
}

// FormatEvent writes a one-line rendering of ev.
func FormatEvent(w io.Writer, ev events.Event) {
	ts := ev.At.Format("15:04:05.000")
	switch ev.Topic {
	case events.TopicConnection:
		if ev.Err != nil {
			fmt.Fprintf(w, "%s [connection] %s: %v\n", ts, ev.Name, ev.Err)
			return
		}
		fmt.Fprintf(w, "%s [connection] %s -> %s\n", ts, ev.Name, ev.Value)
	case events.TopicNotification:
		fmt.Fprintf(w, "%s [notify] 0x%04x %x\n", ts, ev.Address, ev.Data)
	case events.TopicProperty:
		fmt.Fprintf(w, "%s [property] %s = %s\n", ts, ev.Name, ev.Value)
	case events.TopicError:
		fmt.Fprintf(w, "%s [error] %s: %v\n", ts, ev.Name, ev.Err)
	default:
		fmt.Fprintf(w, "%s [%s] %s %s\n", ts, ev.Topic, ev.Name, formatValues(ev.Values))
	}
}

func formatValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + values[k]
	}
	return strings.Join(parts, " ")
}

// Print renders a command result. Plain values print as-is, structured
// values as YAML.
func Print(w io.Writer, v any) {
	switch out := v.(type) {
	case nil:
		fmt.Fprintln(w, "ok")
	case string:
		fmt.Fprintln(w, out)
	case []byte:
		fmt.Fprintf(w, "%x\n", out)
	case fmt.Stringer:
		fmt.Fprintln(w, out.String())
	default:
		data, err := yaml.Marshal(out)
		if err != nil {
			fmt.Fprintf(w, "%+v\n", out)
			return
		}
		w.Write(data)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
