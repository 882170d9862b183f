package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reelcast/agent/internal/capture"
	"github.com/reelcast/agent/internal/compositor"
	"github.com/reelcast/agent/internal/encoder"
	"github.com/reelcast/agent/internal/health"
	"github.com/reelcast/agent/internal/media"
	"github.com/reelcast/agent/internal/record"
	"github.com/reelcast/agent/internal/storage"
)

type testAcquirer struct {
	denyDisplay bool
}

func (a *testAcquirer) Display(context.Context, capture.DisplayRequest) (*media.Source, error) {
	if a.denyDisplay {
		return nil, fmt.Errorf("%w: screen capture", capture.ErrPermissionDenied)
	}
	video := media.NewTestPatternTrack("display", 64, 48, 30)
	return media.NewSource("display", []media.VideoTrack{video}, nil), nil
}

func (a *testAcquirer) Microphone(_ context.Context, id string) (*media.Source, error) {
	audio := media.NewToneTrack("mic", 440, 0.25)
	return media.NewSource("mic", nil, []media.AudioTrack{audio}), nil
}

func (a *testAcquirer) Camera(_ context.Context, id string) (*media.Source, error) {
	video := media.NewTestPatternTrack("camera", 32, 24, 30)
	return media.NewSource("camera", []media.VideoTrack{video}, nil), nil
}

func newTestServer(t *testing.T, acq record.Acquirer) (*httptest.Server, *storage.Library) {
	t.Helper()
	lib, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	mon := health.NewMonitor()
	rec := record.New(record.Config{
		VideoBitrate:    1_000_000,
		ChunkInterval:   50 * time.Millisecond,
		FrameRate:       30,
		RefreshRate:     60,
		FallbackWidth:   640,
		FallbackHeight:  360,
		OverlayPosition: compositor.BottomRight,
		OverlayRatio:    0.2,
		MimePreferences: []string{encoder.MimeAVI},
		Health:          mon,
	}, acq, lib)
	srv := New("127.0.0.1:0", rec, lib, mon)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, lib
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestRecordLifecycleOverAPI(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})

	var state stateResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/start", startRequest{MicDeviceID: "mic-1"}, &state); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if state.State != record.StateRecording {
		t.Fatalf("state = %v", state.State)
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/start", nil, nil); code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", code)
	}

	time.Sleep(200 * time.Millisecond)
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/record/state", nil, &state); code != http.StatusOK {
		t.Fatalf("state status = %d", code)
	}
	if state.ElapsedMS <= 0 {
		t.Fatalf("elapsed = %d, want > 0", state.ElapsedMS)
	}

	var stop stopResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/stop", nil, &stop); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if stop.RecordingID == "" || stop.Size == 0 {
		t.Fatalf("stop response = %+v", stop)
	}

	var recs []storage.Recording
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/recordings", nil, &recs); code != http.StatusOK {
		t.Fatalf("recordings status = %d", code)
	}
	if len(recs) != 1 || recs[0].ID != stop.RecordingID {
		t.Fatalf("recordings = %+v", recs)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/recordings/"+stop.RecordingID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestElapsedAlias(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/start", nil, nil); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	time.Sleep(150 * time.Millisecond)

	var state stateResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/record/elapsed", nil, &state); code != http.StatusOK {
		t.Fatalf("elapsed status = %d", code)
	}
	if state.State != record.StateRecording || state.ElapsedMS <= 0 {
		t.Fatalf("elapsed response = %+v", state)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/stop", nil, nil); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
}

func TestStopWithoutSessionConflicts(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})
	var e errorResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/stop", nil, &e); code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", code)
	}
}

func TestPermissionDeniedIsActionable(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{denyDisplay: true})
	var e errorResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/start", nil, &e); code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if !strings.Contains(e.Error, "permission") || !strings.Contains(e.Error, "retry") {
		t.Fatalf("error %q is not actionable", e.Error)
	}
}

func TestDeleteUnknownRecording(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/recordings/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthReflectsCaptureState(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})

	var rep health.Report
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, &rep); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if rep.Status != health.Healthy {
		t.Fatalf("empty monitor reports %v", rep.Status)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/record/start", nil, nil)
	defer doJSON(t, http.MethodPost, ts.URL+"/api/record/stop", nil, nil)

	if code := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, &rep); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	found := false
	for _, c := range rep.Checks {
		if c.Name == health.ComponentCapture && c.Status == health.Healthy {
			found = true
		}
	}
	if !found {
		t.Fatalf("no healthy capture check in %+v", rep.Checks)
	}
}

func TestTimerWebsocket(t *testing.T) {
	ts, _ := newTestServer(t, &testAcquirer{})
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/record/start", nil, nil); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	defer doJSON(t, http.MethodPost, ts.URL+"/api/record/stop", nil, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/timer"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var first, second stateResponse
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if err := ws.ReadJSON(&second); err != nil {
		t.Fatalf("read second snapshot: %v", err)
	}
	if first.State != record.StateRecording {
		t.Fatalf("state = %v", first.State)
	}
	if second.ElapsedMS < first.ElapsedMS {
		t.Fatalf("elapsed went backwards: %d then %d", first.ElapsedMS, second.ElapsedMS)
	}
}
