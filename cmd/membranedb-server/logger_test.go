package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/tliron/commonlog"
	"github.com/tliron/commonlog/simple"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"warn":    LogLevelWarn,
		"error":   LogLevelError,
		"bogus":   LogLevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestLogger_FatalfWritesOnce(t *testing.T) {
	var logged bytes.Buffer
	backend := simple.NewBackend()
	backend.Buffered = false
	backend.Writer = &logged
	backend.SetMaxLevel(commonlog.Debug)
	commonlog.SetBackend(backend)
	t.Cleanup(func() {
		restored := simple.NewBackend()
		restored.Configure(0, nil)
		commonlog.SetBackend(restored)
	})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	stderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = stderr }()

	logger := NewLogger("error")
	code := -1
	logger.exit = func(c int) { code = c }
	logger.Fatalf("cannot start: %s", "boom")

	os.Stderr = stderr
	w.Close()
	direct, _ := io.ReadAll(r)

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if n := strings.Count(logged.String(), "cannot start: boom"); n != 1 {
		t.Errorf("Expected the message logged once, got %d times in %q", n, logged.String())
	}
	if len(direct) != 0 {
		t.Errorf("Expected nothing written straight to stderr, got %q", direct)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var logged bytes.Buffer
	backend := simple.NewBackend()
	backend.Buffered = false
	backend.Writer = &logged
	backend.SetMaxLevel(commonlog.Debug)
	commonlog.SetBackend(backend)
	t.Cleanup(func() {
		restored := simple.NewBackend()
		restored.Configure(0, nil)
		commonlog.SetBackend(restored)
	})

	logger := NewLogger("warn")
	logger.Debugf("hidden debug")
	logger.Infof("hidden info")
	logger.Warnf("shown warning")

	out := logged.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown warning") {
		t.Errorf("Expected warning in output, got %q", out)
	}
}
