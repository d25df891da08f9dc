package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlog adapts a zerolog logger to the *slog.Logger the pipeline components
// depend on. Run, component, and dataset fields carried in the context are
// applied to every record.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zerologHandler{zl: zl})
}

// zerologHandler forwards slog records to zerolog. Level filtering is left to
// zerolog's global level, so Enabled always reports true.
type zerologHandler struct {
	zl     *zerolog.Logger
	preset []slog.Attr
}

func (h *zerologHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *zerologHandler) Handle(ctx context.Context, rec slog.Record) error {
	ev := h.eventFor(ctx, rec.Level)
	for _, a := range h.preset {
		ev = appendAttr(ev, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.preset = append(append([]slog.Attr{}, h.preset...), attrs...)
	return &cp
}

// groups are flattened; the pipeline logs flat key/value pairs only
func (h *zerologHandler) WithGroup(string) slog.Handler { return h }

func (h *zerologHandler) eventFor(ctx context.Context, level slog.Level) *zerolog.Event {
	base := FromContext(ctx, h.zl)
	switch {
	case level < slog.LevelInfo:
		return base.Debug()
	case level < slog.LevelWarn:
		return base.Info()
	case level < slog.LevelError:
		return base.Warn()
	default:
		return base.Error()
	}
}

func appendAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, v.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(a.Key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, v.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(a.Key, v.Duration())
	case slog.KindTime:
		return ev.Time(a.Key, v.Time())
	default:
		return ev.Interface(a.Key, v.Any())
	}
}
