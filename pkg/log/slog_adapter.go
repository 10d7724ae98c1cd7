package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func muidAttr(key string, v uint32) slog.Attr {
	return slog.String(key, fmt.Sprintf("0x%07X", v))
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.LocalRole != 0 {
		attrs = append(attrs, slog.String("role", event.LocalRole.String()))
	}
	if event.RemoteMUID != 0 {
		attrs = append(attrs, muidAttr("remote_muid", event.RemoteMUID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs,
			slog.String("message", m.Name),
			muidAttr("src", m.Source),
			muidAttr("dst", m.Destination),
		)
		if m.RequestID != nil {
			attrs = append(attrs,
				slog.Int("request_id", int(*m.RequestID)),
				slog.Int("chunk", int(m.ChunkIndex)),
				slog.Int("chunks", int(m.NumChunks)),
			)
		}
		if m.Resource != "" {
			attrs = append(attrs, slog.String("resource", m.Resource))
		}
		if m.Status != nil {
			attrs = append(attrs, slog.Int("status", *m.Status))
		}
	case event.Stream != nil:
		attrs = append(attrs,
			slog.String("message", event.Stream.Name),
			slog.Int("status", int(event.Stream.Status)),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
