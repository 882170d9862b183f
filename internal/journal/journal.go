// Package journal keeps a line-delimited JSON history of session events
// next to the recordings, so "what happened to my recording" is answerable
// after the fact.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelcast/agent/internal/logging"
)

var log = logging.L("journal")

// Event types.
const (
	EventAgentStart      = "agent_start"
	EventAgentStop       = "agent_stop"
	EventSessionStarted  = "session_started"
	EventSessionFinished = "session_finished"
	EventSessionFailed   = "session_failed"
	EventRecordingSaved  = "recording_saved"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	SessionID string         `json:"sessionId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal appends entries to {dir}/journal.jsonl, rotating when the file
// grows past maxSize.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	maxSize  int64
	written  int64
	dropped  atomic.Int64
}

const (
	defaultMaxSize = 10 * 1024 * 1024
	maxBackups     = 3
)

// Open creates the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{
		filePath: filepath.Join(dir, "journal.jsonl"),
		maxSize:  defaultMaxSize,
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Log appends one entry. Failures are counted, not surfaced; the journal
// must never take a recording down with it. Safe to call on a nil receiver.
func (j *Journal) Log(eventType, sessionID string, details map[string]any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		SessionID: sessionID,
		Details:   details,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error("marshal journal entry failed", logging.KeyError, err, "eventType", eventType)
		j.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	if j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			log.Error("journal rotation failed", logging.KeyError, err)
			j.dropped.Add(1)
			return
		}
	}
	n, err := j.file.Write(data)
	if err != nil {
		log.Error("write journal entry failed", logging.KeyError, err, "eventType", eventType)
		j.dropped.Add(1)
		return
	}
	j.written += int64(n)
}

// DroppedCount reports entries that failed to write; -1 on a nil journal.
func (j *Journal) DroppedCount() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}

// Close flushes and closes the journal file. Safe on a nil receiver.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func (j *Journal) openFile() error {
	f, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.written = info.Size()
	return nil
}

// rotate shifts journal.jsonl to .1, .1 to .2, and so on, dropping the
// oldest backup.
func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	oldest := fmt.Sprintf("%s.%d", j.filePath, maxBackups)
	os.Remove(oldest)
	for i := maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", j.filePath, i)
		to := fmt.Sprintf("%s.%d", j.filePath, i+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
	if err := os.Rename(j.filePath, j.filePath+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate journal: %w", err)
	}
	j.written = 0
	return j.openFile()
}
