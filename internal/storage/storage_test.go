package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reelcast/agent/internal/encoder"
)

func openTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return lib
}

func saveArtifact(t *testing.T, lib *Library, started time.Time, data string) string {
	t.Helper()
	id, err := lib.Save(context.Background(), &encoder.Artifact{
		Data:     []byte(data),
		MimeType: encoder.MimeAVI,
	}, started, 3*time.Second)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return id
}

func TestSaveAndList(t *testing.T) {
	lib := openTestLibrary(t)
	started := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	id := saveArtifact(t, lib, started, "payload")

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recordings, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID != id {
		t.Fatalf("id = %q, want %q", rec.ID, id)
	}
	if rec.FileName != "rec-20260314-150926.avi" {
		t.Fatalf("file name = %q", rec.FileName)
	}
	if rec.Size != int64(len("payload")) {
		t.Fatalf("size = %d", rec.Size)
	}
	if rec.Duration != 3*time.Second {
		t.Fatalf("duration = %v", rec.Duration)
	}
	if data, err := os.ReadFile(lib.Path(rec)); err != nil || string(data) != "payload" {
		t.Fatalf("file contents = %q, %v", data, err)
	}
}

func TestSaveAvoidsNameCollision(t *testing.T) {
	lib := openTestLibrary(t)
	started := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	saveArtifact(t, lib, started, "first")
	saveArtifact(t, lib, started, "second")

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d recordings, want 2", len(recs))
	}
	if recs[0].FileName == recs[1].FileName {
		t.Fatalf("colliding file names: %q", recs[0].FileName)
	}
}

func TestListAdoptsUnindexedFile(t *testing.T) {
	lib := openTestLibrary(t)
	saveArtifact(t, lib, time.Now(), "indexed")

	stray := filepath.Join(lib.Dir(), "rec-stray.avi")
	if err := os.WriteFile(stray, []byte("not really avi"), 0o644); err != nil {
		t.Fatal(err)
	}

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d recordings, want 2", len(recs))
	}
	var adopted *Recording
	for i := range recs {
		if recs[i].FileName == "rec-stray.avi" {
			adopted = &recs[i]
		}
	}
	if adopted == nil {
		t.Fatal("stray file was not adopted")
	}
	if adopted.MimeType != encoder.MimeAVI {
		t.Fatalf("adopted mime = %q", adopted.MimeType)
	}
	if adopted.ID == "" {
		t.Fatal("adopted recording has no id")
	}

	// A second listing must keep the synthesized entry stable.
	again, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, r := range again {
		if r.FileName == "rec-stray.avi" && r.ID != adopted.ID {
			t.Fatalf("adopted id changed across listings: %q != %q", r.ID, adopted.ID)
		}
	}
}

func TestListDropsEntriesForMissingFiles(t *testing.T) {
	lib := openTestLibrary(t)
	id := saveArtifact(t, lib, time.Now(), "doomed")

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := os.Remove(lib.Path(recs[0])); err != nil {
		t.Fatal(err)
	}

	recs, err = lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d recordings, want 0", len(recs))
	}
	if _, err := lib.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	lib := openTestLibrary(t)
	keep := saveArtifact(t, lib, time.Now().Add(-time.Minute), "keep")
	drop := saveArtifact(t, lib, time.Now(), "drop")

	if err := lib.Delete(context.Background(), drop); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != keep {
		t.Fatalf("recordings after delete = %+v", recs)
	}
	if err := lib.Delete(context.Background(), drop); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	lib := openTestLibrary(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	saveArtifact(t, lib, old, "old")
	saveArtifact(t, lib, old.Add(time.Hour), "new")

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || !recs[0].Created.After(recs[1].Created) {
		t.Fatalf("listing is not newest-first: %+v", recs)
	}
}

func TestIndexSurvivesCorruptLine(t *testing.T) {
	lib := openTestLibrary(t)
	saveArtifact(t, lib, time.Now(), "good")

	f, err := os.OpenFile(filepath.Join(lib.Dir(), indexName), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{this is not json\n")
	f.Close()

	recs, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recordings, want 1", len(recs))
	}
}

func TestWatchSignalsOnNewRecording(t *testing.T) {
	lib := openTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := lib.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	saveArtifact(t, lib, time.Now(), "watched")

	select {
	case _, ok := <-events:
		if !ok {
			t.Fatal("watch channel closed early")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch signal after save")
	}
}

func TestProbeAVIDuration(t *testing.T) {
	// Build a stream through the real engine, then probe the saved file.
	dir := t.TempDir()
	header := aviHeaderForTest(t)
	path := filepath.Join(dir, "rec-probe.avi")
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatal(err)
	}
	d := probeDuration(path)
	if d <= 0 {
		t.Fatalf("probed duration = %v, want > 0", d)
	}
}

func TestProbeUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec-x.bin")
	os.WriteFile(path, []byte("opaque"), 0o644)
	if d := probeDuration(path); d != 0 {
		t.Fatalf("duration for unknown format = %v, want 0", d)
	}
	if mimeFor("rec-x.bin") != "application/octet-stream" {
		t.Fatal("unexpected mime for unknown extension")
	}
}

// aviHeaderForTest produces a minimal closed-size AVI with two video
// chunks at ~30fps.
func aviHeaderForTest(t *testing.T) []byte {
	t.Helper()
	var b strings.Builder
	u32 := func(v uint32) {
		b.WriteByte(byte(v))
		b.WriteByte(byte(v >> 8))
		b.WriteByte(byte(v >> 16))
		b.WriteByte(byte(v >> 24))
	}
	b.WriteString("RIFF")
	u32(0xFFFFFFFF)
	b.WriteString("AVI ")
	b.WriteString("avih")
	u32(56)
	u32(33333) // microseconds per frame
	for i := 0; i < 13; i++ {
		u32(0)
	}
	for i := 0; i < 2; i++ {
		b.WriteString("00dc")
		u32(4)
		b.WriteString("data")
	}
	return []byte(b.String())
}
