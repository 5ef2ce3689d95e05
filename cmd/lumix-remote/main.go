// Command lumix-remote controls a Lumix camera over Wi-Fi or BLE.
//
// Usage:
//
//	lumix-remote [flags] [command [args...]]
//
// With a command it connects, runs the command, prints the result and
// exits. Without one it opens an interactive console.
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-transport string     Transport: wifi, ble (default "wifi")
//	-address string       Camera host or BLE address (empty: discover)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write the CBOR protocol log to this file
//	-auto-connect         Reconnect automatically after a loss (default true)
//	-ble-flavor string    BLE login flavor: sync, lab (default "sync")
//	-events               Subscribe to pushed camera events (default true)
//	-poll duration        State poll interval (default 2s)
//	-state-file string    Remember the last camera in this file
//
// Examples:
//
//	# Console against the camera's own access point
//	lumix-remote -address 192.168.54.1
//
//	# One shot capture over BLE
//	lumix-remote -transport ble capture
//
//	# Record the session for lumix-log
//	lumix-remote -protocol-log camera.llog -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lumix-remote/lumix-go/cmd/lumix-remote/console"
	"github.com/lumix-remote/lumix-go/pkg/config"
	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/remote"
)

const connectTimeout = 60 * time.Second

var flags config.Flags

func init() {
	flags.Register(flag.CommandLine)
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	file, err := flags.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	level, _ := config.ParseLevel(file.Log.Level)
	out := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	cfg, err := file.Remote()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}
	cfg.Logger = logger

	if file.Log.Protocol != "" {
		fl, err := log.NewFileLogger(file.Log.Protocol)
		if err != nil {
			stdlog.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fl.Close()
		cfg.Protocol = fl
		if level <= slog.LevelDebug {
			cfg.Protocol = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
		}
	}

	r, err := remote.New(cfg)
	if err != nil {
		stdlog.Printf("Failed to create remote: %v", err)
		return 1
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if flag.NArg() > 0 {
		return runOnce(ctx, r, flag.Arg(0), flag.Args()[1:])
	}

	if err := r.Start(ctx); err != nil {
		stdlog.Printf("Failed to start: %v", err)
		return 1
	}

	con, err := console.New(r)
	if err != nil {
		stdlog.Printf("Failed to start console: %v", err)
		return 1
	}
	out.Set(con.Stdout())
	stdlog.SetOutput(con.Stdout())

	if !cfg.Connection.AutoConnect {
		go func() {
			cctx, ccancel := context.WithTimeout(ctx, connectTimeout)
			defer ccancel()
			if err := r.Connect(cctx); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(con.Stdout(), "connect failed: %v\n", err)
			}
		}()
	}
	con.Run(ctx, cancel)
	return 0
}

// runOnce connects, runs one command and returns the exit code.
func runOnce(ctx context.Context, r *remote.Remote, name string, args []string) int {
	cctx, ccancel := context.WithTimeout(ctx, connectTimeout)
	defer ccancel()
	if err := r.Connect(cctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: connect: %v\n", err)
		return 1
	}
	out, err := r.Invoke(ctx, name, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	console.Print(os.Stdout, out)
	return 0
}

// switchWriter lets the logger follow the console once it owns the terminal.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
