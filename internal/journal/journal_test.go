package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNilJournalLogDoesNotPanic(t *testing.T) {
	var j *Journal
	j.Log(EventSessionStarted, "sess-1", map[string]any{"key": "value"})
}

func TestNilJournalCloseDoesNotPanic(t *testing.T) {
	var j *Journal
	if err := j.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
}

func TestNilJournalDroppedCountReturnsNegOne(t *testing.T) {
	var j *Journal
	if got := j.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
}

func TestLogWritesJSONLEntry(t *testing.T) {
	j := newTestJournal(t)
	j.Log(EventSessionFinished, "sess-1", map[string]any{"duration_ms": 1500})
	j.Close()

	data, err := os.ReadFile(j.filePath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var entry Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.EventType != EventSessionFinished || entry.SessionID != "sess-1" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Timestamp == "" {
		t.Fatal("entry has no timestamp")
	}
	if got := j.DroppedCount(); got != 0 {
		t.Fatalf("DroppedCount() = %d, want 0", got)
	}
}

func TestRotationKeepsBackups(t *testing.T) {
	j := newTestJournal(t)
	j.maxSize = 256

	for i := 0; i < 50; i++ {
		j.Log(EventSessionStarted, fmt.Sprintf("sess-%d", i), map[string]any{"n": i})
	}
	j.Close()

	if _, err := os.Stat(j.filePath); err != nil {
		t.Fatalf("active journal missing: %v", err)
	}
	if _, err := os.Stat(j.filePath + ".1"); err != nil {
		t.Fatalf("rotated backup missing: %v", err)
	}
	if _, err := os.Stat(fmt.Sprintf("%s.%d", j.filePath, maxBackups+1)); err == nil {
		t.Fatal("rotation kept more backups than allowed")
	}
}

func TestReopenAppends(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Log(EventAgentStart, "", nil)
	j.Close()

	j, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	j.Log(EventAgentStop, "", nil)
	j.Close()

	data, err := os.ReadFile(j.filePath)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 2 {
		t.Fatalf("expected 2 lines after reopen, got %d", len(lines))
	}
}
