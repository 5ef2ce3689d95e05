package console

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/events"
)

func TestPrint(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "ok\n"},
		{"string", "G9M2", "G9M2\n"},
		{"bytes", []byte{0x01, 0xab}, "01ab\n"},
		{"map", map[string]string{"b": "2", "a": "1"}, "a: \"1\"\nb: \"2\"\n"},
		{"struct", struct {
			Name string `yaml:"name"`
		}{"DC-G9M2"}, "name: DC-G9M2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Print(&buf, tt.in)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 1, 0, time.Local)
	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{
			"transition",
			events.Event{Topic: events.TopicConnection, At: at, Name: "Authenticating", Value: "Ready"},
			"09:30:01.000 [connection] Authenticating -> Ready\n",
		},
		{
			"loss",
			events.Event{Topic: events.TopicConnection, At: at, Name: "lost", Err: errors.New("poll timeout")},
			"09:30:01.000 [connection] lost: poll timeout\n",
		},
		{
			"notification",
			events.Event{Topic: events.TopicNotification, At: at, Address: 0x0070, Data: []byte{0x02}},
			"09:30:01.000 [notify] 0x0070 02\n",
		},
		{
			"property",
			events.Event{Topic: events.TopicProperty, At: at, Name: "lens_focal", Value: "12"},
			"09:30:01.000 [property] lens_focal = 12\n",
		},
		{
			"state",
			events.Event{Topic: events.TopicState, At: at, Values: map[string]string{"rec": "off", "batt": "3/3"}},
			"09:30:01.000 [state]  batt=3/3 rec=off\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FormatEvent(&buf, tt.ev)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func TestPrintEventsHonoursToggle(t *testing.T) {
	c := &Console{}
	feed := events.NewFeed(64)
	out := &lockedBuffer{}
	sub := feed.Subscribe()
	done := make(chan struct{})
	go func() {
		c.printEvents(sub, out)
		close(done)
	}()

	t.Run("toggle while publishing", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.quiet.Store(i%2 == 0)
			}
		}()
		for i := 0; i < 50; i++ {
			feed.Publish(events.Event{Topic: events.TopicProperty, Name: "X_Panasonic_Cam_VRec", Value: "start"})
		}
		wg.Wait()
	})

	t.Run("off hides all but connection changes", func(t *testing.T) {
		c.quiet.Store(true)
		feed.Publish(events.Event{Topic: events.TopicProperty, Name: "hidden", Value: "1"})
		feed.Publish(events.Event{Topic: events.TopicConnection, Name: "Authenticating", Value: "Ready"})
		require.Eventually(t, func() bool { return out.contains("Authenticating -> Ready") }, time.Second, 5*time.Millisecond)
		assert.False(t, out.contains("hidden"))
	})

	t.Run("on shows events again", func(t *testing.T) {
		c.quiet.Store(false)
		feed.Publish(events.Event{Topic: events.TopicProperty, Name: "shown", Value: "1"})
		require.Eventually(t, func() bool { return out.contains("[property] shown = 1") }, time.Second, 5*time.Millisecond)
	})

	feed.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("printer did not stop after the feed closed")
	}
}
