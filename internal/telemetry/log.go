package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// NewLogHandler returns the slog handler used process-wide, formatting
// records as [LEVEL hh:mm:ss] msg key=value ...
func NewLogHandler(level slog.Level) slog.Handler {
	return &logHandler{level: level, w: os.Stderr}
}

type logHandler struct {
	level slog.Level
	w     *os.File
	attrs []slog.Attr
}

func (h *logHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *logHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)
	buf = append(buf, '[')
	buf = append(buf, r.Level.String()...)
	buf = append(buf, ' ')
	buf = append(buf, r.Time.Format("15:04:05")...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	appendAttr := func(a slog.Attr) {
		buf = append(buf, ' ')
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, a.Value.String()...)
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	buf = append(buf, '\n')
	_, err := h.w.Write(buf)
	return err
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	merged = append(merged, attrs...)
	return &logHandler{level: h.level, w: h.w, attrs: merged}
}

func (h *logHandler) WithGroup(string) slog.Handler { return h }
