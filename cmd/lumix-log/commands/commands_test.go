package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.llog")
	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create log file: %v", err)
	}
	for _, e := range events {
		fl.Log(e)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("failed to close log file: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer reader.Close()
	var out []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		out = append(out, event)
	}
}

func sampleEvents() []log.Event {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ok := wire.StatusOK
	busy := wire.StatusBusy
	d := 12 * time.Millisecond
	return []log.Event{
		{
			Timestamp: base, ConnectionID: "5f1c2e7a-aaaa", Transport: "wifi",
			Layer: log.LayerSession, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{OldState: "Disconnected", NewState: "Ready"},
		},
		{
			Timestamp: base.Add(time.Second), ConnectionID: "5f1c2e7a-aaaa", Transport: "wifi",
			Direction: log.DirectionOut, Layer: log.LayerCall, Category: log.CategoryMessage,
			Call: &log.CallEvent{Target: "camcmd/capture"},
		},
		{
			Timestamp: base.Add(time.Second), ConnectionID: "5f1c2e7a-aaaa", Transport: "wifi",
			Direction: log.DirectionIn, Layer: log.LayerCall, Category: log.CategoryMessage,
			Call: &log.CallEvent{Target: "camcmd/capture", Status: &busy, Duration: &d},
		},
		{
			Timestamp: base.Add(2 * time.Second), ConnectionID: "5f1c2e7a-aaaa", Transport: "wifi",
			Direction: log.DirectionIn, Layer: log.LayerCall, Category: log.CategoryMessage,
			Call: &log.CallEvent{Target: "camcmd/capture", Attempt: 1, Status: &ok, Duration: &d},
		},
		{
			Timestamp: base.Add(3 * time.Second), ConnectionID: "9b2d-bbbb", Transport: "ble", DeviceID: "G9M2-0042",
			Direction: log.DirectionOut, Layer: log.LayerLink, Category: log.CategoryMessage,
			Register: log.NewRegisterEvent(0x0068, log.RegisterWrite, []byte{0x01, 0x02}),
		},
		{
			Timestamp: base.Add(4 * time.Second), ConnectionID: "9b2d-bbbb", Transport: "ble",
			Direction: log.DirectionIn, Layer: log.LayerSession, Category: log.CategoryNotification,
			Property: &log.PropertyEvent{Name: "batt", Value: "4/4"},
		},
		{
			Timestamp: base.Add(5 * time.Second), ConnectionID: "9b2d-bbbb", Transport: "ble",
			Layer: log.LayerLink, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerLink, Message: "link lost", Context: "notify"},
		},
	}
}

func TestFilterOptionsBuild(t *testing.T) {
	f, err := FilterOptions{
		Address:   "0x0068",
		Layer:     "link",
		Direction: "OUT",
		Category:  "notification",
		TimeStart: "2026-03-02T09:30:00Z",
	}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if f.Address == nil || *f.Address != 0x68 {
		t.Errorf("address = %v", f.Address)
	}
	if f.Layer == nil || *f.Layer != log.LayerLink {
		t.Errorf("layer = %v", f.Layer)
	}
	if f.Direction == nil || *f.Direction != log.DirectionOut {
		t.Errorf("direction = %v", f.Direction)
	}
	if f.Category == nil || *f.Category != log.CategoryNotification {
		t.Errorf("category = %v", f.Category)
	}
	if f.TimeStart == nil || f.TimeEnd != nil {
		t.Errorf("time range = %v..%v", f.TimeStart, f.TimeEnd)
	}

	bad := []FilterOptions{
		{Layer: "wire"},
		{Direction: "sideways"},
		{Category: "control"},
		{Address: "0x1ffff"},
		{TimeEnd: "yesterday"},
	}
	for _, o := range bad {
		if _, err := o.Build(); err == nil {
			t.Errorf("expected error for %+v", o)
		}
	}
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	t.Run("by connection", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.llog")
		n, err := RunFilter(path, out, FilterOptions{ConnID: "9b2d-bbbb"})
		if err != nil {
			t.Fatalf("RunFilter failed: %v", err)
		}
		events := readAll(t, out)
		if n != 3 || len(events) != 3 {
			t.Fatalf("expected 3 events, got n=%d read=%d", n, len(events))
		}
		for _, e := range events {
			if e.ConnectionID != "9b2d-bbbb" {
				t.Errorf("unexpected connection %s", e.ConnectionID)
			}
		}
	})

	t.Run("by target", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.llog")
		n, err := RunFilter(path, out, FilterOptions{Target: "camcmd/capture", Direction: "in"})
		if err != nil {
			t.Fatalf("RunFilter failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 responses, got %d", n)
		}
	})

	t.Run("by address", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.llog")
		_, err := RunFilter(path, out, FilterOptions{Address: "104"})
		if err != nil {
			t.Fatalf("RunFilter failed: %v", err)
		}
		events := readAll(t, out)
		if len(events) != 1 || events[0].Register == nil {
			t.Fatalf("expected the register write, got %+v", events)
		}
		if events[0].Register.Op != log.RegisterWrite {
			t.Errorf("op = %s", events[0].Register.Op)
		}
	})

	t.Run("bad option", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.llog")
		if _, err := RunFilter(path, out, FilterOptions{Layer: "wire"}); err == nil {
			t.Fatal("expected error")
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("output should not be created, stat err = %v", err)
		}
	})
}

func TestRunView(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [conn:5f1c2e7a] IN  SESSION State (wifi)",
		"  Disconnected -> Ready",
		"  Target: camcmd/capture",
		"  Status: BUSY",
		"  Duration: 12.0ms",
		"  Attempt: 1",
		"  WRITE 0x0068",
		"  Data: 0102",
		"  batt = 4/4",
		"  Message: link lost",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	buf.Reset()
	if err := RunView(path, FilterOptions{Category: "error"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if strings.Count(buf.String(), "[conn:") != 1 {
		t.Errorf("expected one event, got:\n%s", buf.String())
	}
}

func TestRunExport(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	dir := t.TempDir()

	t.Run("jsonl", func(t *testing.T) {
		out := filepath.Join(dir, "out.jsonl")
		if err := RunExport(path, "jsonl", out); err != nil {
			t.Fatalf("RunExport failed: %v", err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 7 {
			t.Fatalf("expected 7 lines, got %d", len(lines))
		}
		var first map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		if first["ConnectionID"] != "5f1c2e7a-aaaa" {
			t.Errorf("ConnectionID = %v", first["ConnectionID"])
		}
	})

	t.Run("csv", func(t *testing.T) {
		out := filepath.Join(dir, "out.csv")
		if err := RunExport(path, "csv", out); err != nil {
			t.Fatalf("RunExport failed: %v", err)
		}
		f, err := os.Open(out)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("invalid csv: %v", err)
		}
		if len(rows) != 8 {
			t.Fatalf("expected header and 7 rows, got %d", len(rows))
		}
		reg := rows[5]
		if reg[7] != "Register" || reg[8] != "0x68" || reg[9] != "WRITE" || reg[10] != "0102" {
			t.Errorf("register row = %v", reg)
		}
		call := rows[3]
		if call[7] != "Response" || call[9] != "BUSY" {
			t.Errorf("call row = %v", call)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := RunExport(path, "xml", ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestCollect(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	stats, err := Collect(path)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if stats.TotalEvents != 7 {
		t.Errorf("TotalEvents = %d", stats.TotalEvents)
	}
	if len(stats.Connections) != 2 {
		t.Errorf("Connections = %d", len(stats.Connections))
	}
	if c := stats.Connections["9b2d-bbbb"]; c == nil || c.DeviceID != "G9M2-0042" || c.Transport != "ble" {
		t.Errorf("ble connection = %+v", c)
	}
	calls := stats.Calls["camcmd/capture"]
	if calls == nil {
		t.Fatal("missing call stats")
	}
	if calls.Responses != 2 || calls.Failures != 1 || calls.Retries != 1 {
		t.Errorf("call stats = %+v", calls)
	}
	if calls.Average() != 12*time.Millisecond {
		t.Errorf("average = %s", calls.Average())
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d", stats.Errors)
	}

	var buf bytes.Buffer
	printStats(&buf, stats)
	if !strings.Contains(buf.String(), "Connections: 2") {
		t.Errorf("stats output:\n%s", buf.String())
	}
}
