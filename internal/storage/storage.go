// Package storage keeps finished recordings on disk: one media file per
// recording plus a line-delimited JSON index with the metadata the files
// themselves cannot carry. The folder is the source of truth; the index is
// reconciled against it on every listing.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/reelcast/agent/internal/encoder"
	"github.com/reelcast/agent/internal/logging"
)

var log = logging.L("storage")

var ErrNotFound = errors.New("recording not found")

const indexName = "index.jsonl"

// Recording is one library entry.
type Recording struct {
	ID       string        `json:"id"`
	FileName string        `json:"file_name"`
	MimeType string        `json:"mime_type"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
	Created  time.Time     `json:"created"`
}

// Library manages the recordings folder.
type Library struct {
	dir string
	mu  sync.Mutex
}

// Open ensures the folder exists and returns a library over it.
func Open(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &Library{dir: dir}, nil
}

// Dir reports the library folder.
func (l *Library) Dir() string { return l.dir }

// Save writes the artifact to disk and records it in the index. The file
// name is derived from the session start time so the folder sorts
// chronologically.
func (l *Library) Save(_ context.Context, artifact *encoder.Artifact, started time.Time, duration time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := fmt.Sprintf("rec-%s%s", started.UTC().Format("20060102-150405"), extFor(artifact.MimeType))
	path := filepath.Join(l.dir, name)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("rec-%s-%d%s", started.UTC().Format("20060102-150405"), i, extFor(artifact.MimeType))
		path = filepath.Join(l.dir, name)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize recording: %w", err)
	}

	rec := Recording{
		ID:       uuid.NewString(),
		FileName: name,
		MimeType: artifact.MimeType,
		Size:     int64(len(artifact.Data)),
		Duration: duration,
		Created:  started,
	}
	if err := l.appendIndex(rec); err != nil {
		return "", err
	}
	log.Info("recording saved", "file", name, "bytes", rec.Size, "duration", duration)
	return rec.ID, nil
}

// List reconciles the index against the folder and returns recordings
// newest first. Files dropped into the folder out of band get synthesized
// entries with probed metadata; index rows whose file is gone are removed.
func (l *Library) List(_ context.Context) ([]Recording, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	indexed, err := l.readIndex()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Recording, len(indexed))
	for _, r := range indexed {
		byName[r.FileName] = r
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read library dir: %w", err)
	}

	var out []Recording
	drifted := false
	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "rec-") || name == indexName {
			continue
		}
		seen[name] = true
		if rec, ok := byName[name]; ok {
			out = append(out, rec)
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(l.dir, name)
		rec := Recording{
			ID:       uuid.NewString(),
			FileName: name,
			MimeType: mimeFor(name),
			Size:     info.Size(),
			Duration: probeDuration(path),
			Created:  info.ModTime(),
		}
		log.Info("adopting unindexed recording", "file", name, "duration", rec.Duration)
		out = append(out, rec)
		drifted = true
	}
	for name := range byName {
		if !seen[name] {
			log.Warn("dropping index entry for missing file", "file", name)
			drifted = true
		}
	}

	if drifted {
		if err := l.writeIndex(out); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// Get returns one recording by ID.
func (l *Library) Get(ctx context.Context, id string) (Recording, error) {
	recs, err := l.List(ctx)
	if err != nil {
		return Recording{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Path reports the absolute file path of a recording.
func (l *Library) Path(rec Recording) string {
	return filepath.Join(l.dir, rec.FileName)
}

// Delete removes a recording's file and index entry.
func (l *Library) Delete(ctx context.Context, id string) error {
	recs, err := l.List(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := recs[:0]
	var victim *Recording
	for _, r := range recs {
		if r.ID == id {
			v := r
			victim = &v
			continue
		}
		kept = append(kept, r)
	}
	if victim == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(filepath.Join(l.dir, victim.FileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete recording: %w", err)
	}
	if err := l.writeIndex(kept); err != nil {
		return err
	}
	log.Info("recording deleted", "file", victim.FileName)
	return nil
}

// FreeSpace reports free bytes on the volume holding the library.
func (l *Library) FreeSpace() (uint64, error) {
	usage, err := disk.Usage(l.dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	return usage.Free, nil
}

func (l *Library) appendIndex(rec Recording) error {
	f, err := os.OpenFile(filepath.Join(l.dir, indexName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append index: %w", err)
	}
	return nil
}

func (l *Library) readIndex() ([]Recording, error) {
	f, err := os.Open(filepath.Join(l.dir, indexName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var out []Recording
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Recording
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn("skipping corrupt index line", logging.KeyError, err)
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func (l *Library) writeIndex(recs []Recording) error {
	tmp := filepath.Join(l.dir, indexName+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open index temp: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal index entry: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(l.dir, indexName))
}

func extFor(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/mp4"):
		return ".mp4"
	case mime == encoder.MimeAVI:
		return ".avi"
	default:
		return ".bin"
	}
}

func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return encoder.MimeMP4
	case ".avi":
		return encoder.MimeAVI
	default:
		return "application/octet-stream"
	}
}
