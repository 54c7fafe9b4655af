package internal

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestLogger_TraceGatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	NewLogger(LogLevelDebug).Trace("suppressed message")
	if strings.Contains(buf.String(), "suppressed message") {
		t.Error("Trace output leaked below the trace level")
	}

	NewLogger(LogLevelTrace).Trace("pair %d scanned", 7)
	if !strings.Contains(buf.String(), "[TRACE] pair 7 scanned") {
		t.Errorf("Trace output missing at trace level, got %q", buf.String())
	}
}

func TestNewDefaultLogger_ParsesLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "TRACE")
	if got := NewDefaultLogger().GetLevel(); got != LogLevelTrace {
		t.Errorf("GetLevel()=%d, expected trace", got)
	}

	t.Setenv("LOG_LEVEL", "")
	if got := NewDefaultLogger().GetLevel(); got != LogLevelInfo {
		t.Errorf("GetLevel()=%d, expected the info default", got)
	}
}
