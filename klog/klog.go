// Package klog is the kernel's structured log, in the idiom of
// accnt.Accnt_t and caller.Callerdump: a small leveled wrapper, not a
// reimplementation. It wraps log/slog rather than a third-party
// structured logger, since none of the retrieved example repos reach
// for one on the kernel side — biscuit and gopher-os both write
// straight fmt.Printf/hand-rolled prefix lines.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetOutput replaces the log sink and minimum level; the default sink is
// the host's stderr at info level. The tests use it to capture output.
func SetOutput(w io.Writer, level slog.Level) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Debugf logs at debug level, enabled by SetOutput's level filter.
func Debugf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelDebug, sprintf(format, args...))
}

// Infof logs a routine kernel event (boot milestones, schedule
// decisions worth recording).
func Infof(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelInfo, sprintf(format, args...))
}

// Warnf logs a recoverable anomaly: a faulting task killed by the trap
// handler, a rejected syscall argument.
func Warnf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelWarn, sprintf(format, args...))
}

// Errorf logs a condition the kernel is about to act on destructively
// (shutdown, task kill) because of.
func Errorf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelError, sprintf(format, args...))
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
