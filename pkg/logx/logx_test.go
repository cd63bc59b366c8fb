package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// setupTestLogger redirects output into a buffer for the duration of a test.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetDebug(false, nil)
	})
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("session-1")
	if logger.Owner() != "session-1" {
		t.Errorf("Expected owner 'session-1', got '%s'", logger.Owner())
	}
	if other := logger.WithOwner("buffer"); other.Owner() != "buffer" {
		t.Errorf("Expected owner 'buffer', got '%s'", other.Owner())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	NewLogger("agent").Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[agent]") {
		t.Errorf("Expected owner in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO: Test message with formatting") {
		t.Errorf("Expected level and message in output, got: %s", output)
	}
	if !strings.HasPrefix(output, "[") || !strings.HasSuffix(output, "\n") {
		t.Errorf("Unexpected line shape: %q", output)
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(false, nil)

	NewLogger("agent").Debug("hidden")
	Debug(context.Background(), "buffer", "hidden too")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true, []string{"buffer"})

	ctx := ContextWithOwner(context.Background(), "session-9")
	Debug(ctx, "buffer", "opened %d lines", 50)
	Debug(ctx, "git", "should be filtered")

	output := buf.String()
	if !strings.Contains(output, "[session-9] DEBUG: [buffer] opened 50 lines") {
		t.Errorf("Expected buffer debug line, got: %s", output)
	}
	if strings.Contains(output, "should be filtered") {
		t.Errorf("Expected git domain to be filtered, got: %s", output)
	}
	if !IsDebugEnabledForDomain("buffer") || IsDebugEnabledForDomain("git") {
		t.Error("Domain filter not applied")
	}
}

func TestWrap(t *testing.T) {
	buf := setupTestLogger(t)
	base := errors.New("boom")

	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	err := Wrap(base, "db connect")
	if !errors.Is(err, base) {
		t.Errorf("Expected wrapped error to unwrap to base")
	}
	if err.Error() != "db connect: boom" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !strings.Contains(buf.String(), "ERROR: db connect: boom") {
		t.Errorf("Expected error to be logged, got: %s", buf.String())
	}
}
