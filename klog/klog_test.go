package klog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInfofWritesMessageAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)
	Infof("frame %#x allocated", 0x1000)

	out := buf.String()
	if !strings.Contains(out, "frame 0x1000 allocated") {
		t.Fatalf("expected formatted message in output, got %q", out)
	}
	if !strings.Contains(out, "level=INFO") {
		t.Fatalf("expected INFO level in output, got %q", out)
	}
}

func TestDebugfSuppressedBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)
	Debugf("noisy detail")
	if buf.Len() != 0 {
		t.Fatalf("expected debug line to be suppressed, got %q", buf.String())
	}
}
