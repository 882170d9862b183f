package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("recorder")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("session started", "mime", "video/avi")

	out := buf.String()
	if !strings.Contains(out, "msg=\"session started\"") {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=recorder") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "mime=video/avi") {
		t.Fatalf("expected mime field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("recorder")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("mixer").Info("graph closed", "inputs", 2)

	out := buf.String()
	if !strings.Contains(out, `"component":"mixer"`) {
		t.Fatalf("expected JSON component field, got: %s", out)
	}
	if !strings.Contains(out, `"inputs":2`) {
		t.Fatalf("expected JSON inputs field, got: %s", out)
	}
}

func TestReinitSwitchesFormats(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)
	Init("text", "info", &buf)
	Init("json", "info", &buf)

	L("capture").Info("device opened")

	if !strings.Contains(buf.String(), `"component":"capture"`) {
		t.Fatalf("expected JSON output after reinit, got: %s", buf.String())
	}
}
