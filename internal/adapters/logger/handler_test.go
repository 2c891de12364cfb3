package logger_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"go.trai.ch/kiln/internal/adapters/logger"
)

func TestPrettyHandler_Attrs(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h slog.Handler) slog.Handler
		attrs      []any
		goldenName string
	}{
		{
			name:       "record attrs",
			setup:      func(h slog.Handler) slog.Handler { return h },
			attrs:      []any{"module", "pkg.util", "bytes", 512},
			goldenName: "handler_record_attrs",
		},
		{
			name: "group",
			setup: func(h slog.Handler) slog.Handler {
				return h.WithGroup("cache").WithAttrs([]slog.Attr{slog.String("tier", "memory")})
			},
			attrs:      []any{"evicted", 3},
			goldenName: "handler_group",
		},
		{
			name:       "nested group attr",
			setup:      func(h slog.Handler) slog.Handler { return h.WithGroup("") },
			attrs:      []any{slog.Group("actor", slog.String("id", "checker#1"), slog.Int("restarts", 2))},
			goldenName: "handler_group_attr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", "1")

			buf := &bytes.Buffer{}
			handler := tt.setup(logger.NewPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.New(handler).Info("event", tt.attrs...)

			g := goldie.New(t)
			g.Assert(t, tt.goldenName, buf.Bytes())
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	handler := logger.NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	assert.False(t, handler.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, handler.Enabled(t.Context(), slog.LevelWarn))
	assert.True(t, handler.Enabled(t.Context(), slog.LevelError))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPrettyHandler_ReturnsWriteError(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	lg := slog.New(logger.NewPrettyHandler(brokenWriter{}, nil))
	handler := lg.Handler()

	err := handler.Handle(t.Context(), slog.NewRecord(testTime, slog.LevelInfo, "x", 0))
	assert.Error(t, err)
}
