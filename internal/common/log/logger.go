package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"ride-hail-driver/internal/common/contextx"
)

// New builds a JSON slog logger with the agent's service name attached.
func New(service string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}).WithAttrs([]slog.Attr{
		slog.String("service", service),
	})
	slog.SetDefault(slog.New(handler))

	return slog.New(handler)
}

// Info writes an INFO line with action + correlation ids, plus optional
// alternating key/value details.
func Info(ctx context.Context, log *slog.Logger, action, message string, details ...any) {
	args := append(baseAttrs(ctx, action), details...)
	log.Info(message, args...)
}

// Debug writes a DEBUG line with action + correlation ids.
func Debug(ctx context.Context, log *slog.Logger, action, message string, details ...any) {
	args := append(baseAttrs(ctx, action), details...)
	log.Debug(message, args...)
}

// Error writes an ERROR line and attaches a short stack for the error.
func Error(ctx context.Context, log *slog.Logger, action, message string, err error, details ...any) {
	args := append(baseAttrs(ctx, action), details...)
	if err != nil {
		args = append(args, slog.Group("error",
			"msg", err.Error(),
			"stack", shortStack(3, 8),
		))
	}
	log.Error(message, args...)
}

func baseAttrs(ctx context.Context, action string) []any {
	return []any{
		"action", action,
		"hostname", hostname(),
		"request_id", contextx.GetRequestID(ctx),
		"ride_id", contextx.GetRideID(ctx),
	}
}

func shortStack(skip, max int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	count := 0
	for {
		f, more := frames.Next()
		fn := f.Function
		if strings.HasPrefix(fn, "runtime.") || strings.Contains(fn, "/log.") {
			if !more {
				break
			}
			continue
		}
		file := filepath.Base(f.File)
		if i := strings.LastIndex(fn, "."); i >= 0 && i+1 < len(fn) {
			fn = fn[i+1:]
		}
		fmt.Fprintf(&b, "%s %s:%d\n", fn, file, f.Line)
		count++
		if count >= max || !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func hostname() string {
	name, _ := os.Hostname()
	return name
}
