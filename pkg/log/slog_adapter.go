package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at debug level.
// Each event becomes one record named after its payload, with the payload
// fields in a group of the same name.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("layer", event.Layer.String()),
		slog.String("dir", event.Direction.String()),
	)
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn", event.ConnectionID))
	}
	if event.Owner != "" || event.Key != "" {
		attrs = append(attrs, slog.Group("binding",
			slog.String("owner", event.Owner),
			slog.String("key", event.Key),
		))
	}

	name, payload := payloadAttrs(event)
	if payload != nil {
		attrs = append(attrs, slog.Attr{Key: name, Value: slog.GroupValue(payload...)})
	}
	a.logger.LogAttrs(ctx, slog.LevelDebug, name, attrs...)
}

func payloadAttrs(event Event) (string, []slog.Attr) {
	switch {
	case event.Frame != nil:
		return "frame", []slog.Attr{
			slog.Int("size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		}
	case event.Message != nil:
		return "message", messageAttrs(event.Message)
	case event.StateChange != nil:
		sc := event.StateChange
		attrs := []slog.Attr{
			slog.String("entity", sc.Entity.String()),
			slog.String("from", sc.OldState),
			slog.String("to", sc.NewState),
		}
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
		return "state", attrs
	case event.Error != nil:
		attrs := []slog.Attr{slog.String("message", event.Error.Message)}
		if event.Error.Code != "" {
			attrs = append(attrs, slog.String("code", event.Error.Code.String()))
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("during", event.Error.Context))
		}
		return "error", attrs
	default:
		return event.Category.String(), nil
	}
}

func messageAttrs(m *MessageEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("type", m.Type.String()),
		slog.Uint64("id", uint64(m.MessageID)),
	}
	if m.Operation != nil {
		attrs = append(attrs, slog.String("op", m.Operation.String()))
	}
	if m.SubscriptionID != nil {
		attrs = append(attrs, slog.Uint64("sub", uint64(*m.SubscriptionID)))
	}
	if m.ErrorCode != "" {
		attrs = append(attrs, slog.String("code", m.ErrorCode.String()))
	}
	if m.Text != "" {
		attrs = append(attrs, slog.String("text", m.Text))
	}
	if m.RoundTrip != nil {
		attrs = append(attrs, slog.Duration("rtt", *m.RoundTrip))
	}
	return attrs
}

var _ Logger = (*SlogAdapter)(nil)
