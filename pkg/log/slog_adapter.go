package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter renders protocol events as debug records on an slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes event at Debug level under the message "protocol".
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Transport != "" {
		attrs = append(attrs, slog.String("transport", event.Transport))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Register != nil:
		r := event.Register
		attrs = append(attrs,
			slog.String("op", r.Op.String()),
			slog.Int("addr", int(r.Address)),
			slog.String("data", hex.EncodeToString(r.Data)),
		)
		if r.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Call != nil:
		c := event.Call
		attrs = append(attrs, slog.String("target", c.Target))
		if c.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", c.Attempt))
		}
		if c.Status != nil {
			attrs = append(attrs, slog.String("status", c.Status.String()))
		}
		if c.Duration != nil {
			attrs = append(attrs, slog.Duration("rtt", *c.Duration))
		}
	case event.StateChange != nil:
		s := event.StateChange
		attrs = append(attrs,
			slog.String("entity", s.Entity.String()),
			slog.String("old", s.OldState),
			slog.String("new", s.NewState),
		)
		if s.Reason != "" {
			attrs = append(attrs, slog.String("reason", s.Reason))
		}
	case event.Property != nil:
		attrs = append(attrs,
			slog.String("property", event.Property.Name),
			slog.String("value", event.Property.Value),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.String("context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
