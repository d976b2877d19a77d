package gpuchan

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewSpinLoopDefault(t *testing.T) {
	if s := NewSpinLoop(0); s.warnAfter != DefaultSpinWarnTimeout {
		t.Errorf("warnAfter = %v, want %v", s.warnAfter, DefaultSpinWarnTimeout)
	}
	if s := NewSpinLoop(time.Second); s.warnAfter != time.Second {
		t.Errorf("warnAfter = %v, want 1s", s.warnAfter)
	}
}

func TestSpinLoopWarnsWhenStuck(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	s := NewSpinLoop(time.Nanosecond)
	s.Spin()
	time.Sleep(time.Millisecond)
	for i := 0; i < spinCheckInterval; i++ {
		s.Spin()
	}

	if s.Iterations() != spinCheckInterval+1 {
		t.Errorf("Iterations() = %d, want %d", s.Iterations(), spinCheckInterval+1)
	}
	if !strings.Contains(buf.String(), "stuck in spin loop") {
		t.Errorf("no warning logged, got: %s", buf.String())
	}
}

func TestSpinLoopQuietBeforeTimeout(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	s := NewSpinLoop(time.Hour)
	for i := 0; i < 3*spinCheckInterval; i++ {
		s.Spin()
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}
