// Package control exposes the recorder over a local HTTP API, plus a
// websocket that streams the session timer to UI clients.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reelcast/agent/internal/capture"
	"github.com/reelcast/agent/internal/encoder"
	"github.com/reelcast/agent/internal/health"
	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/record"
	"github.com/reelcast/agent/internal/storage"
)

var log = logging.L("control")

// timerInterval is how often the websocket pushes the elapsed time.
const timerInterval = 500 * time.Millisecond

type Server struct {
	rec *record.Recorder
	lib *storage.Library
	mon *health.Monitor

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New wires the API onto addr. The server only makes sense bound to
// loopback; nothing here authenticates.
func New(addr string, rec *record.Recorder, lib *storage.Library, mon *health.Monitor) *Server {
	s := &Server{rec: rec, lib: lib, mon: mon}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/record/start", s.handleStart)
	mux.HandleFunc("POST /api/record/stop", s.handleStop)
	mux.HandleFunc("GET /api/record/state", s.handleState)
	mux.HandleFunc("GET /api/record/elapsed", s.handleState)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.handleDelete)
	mux.HandleFunc("GET /ws/timer", s.handleTimer)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) ListenAndServe() error {
	log.Info("control api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type startRequest struct {
	MicDeviceID    string `json:"mic_device_id"`
	CameraEnabled  bool   `json:"camera_enabled"`
	CameraDeviceID string `json:"camera_device_id"`
}

type stateResponse struct {
	State     record.State `json:"state"`
	ElapsedMS int64        `json:"elapsed_ms"`
}

type stopResponse struct {
	RecordingID string   `json:"recording_id"`
	MimeType    string   `json:"mime_type"`
	Size        int      `json:"size"`
	DurationMS  int64    `json:"duration_ms"`
	Degraded    []string `json:"degraded,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}
	err := s.rec.Start(r.Context(), record.Options{
		MicDeviceID:    req.MicDeviceID,
		CameraEnabled:  req.CameraEnabled,
		CameraDeviceID: req.CameraDeviceID,
	})
	if err != nil {
		writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	result, err := s.rec.Stop(r.Context())
	if err != nil {
		writeRecordError(w, err)
		return
	}
	resp := stopResponse{
		RecordingID: result.RecordingID,
		DurationMS:  result.Duration.Milliseconds(),
		Degraded:    result.Degraded,
	}
	if result.Artifact != nil {
		resp.MimeType = result.Artifact.MimeType
		resp.Size = len(result.Artifact.Data)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rep := s.mon.Report()
	status := http.StatusOK
	if rep.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := record.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "device enumeration failed")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.lib.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if recs == nil {
		recs = []storage.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.lib.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such recording")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTimer streams {state, elapsed_ms} snapshots until the client goes
// away.
func (s *Server) handleTimer(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Reads only serve to detect the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timerInterval)
	defer ticker.Stop()
	for {
		if err := ws.WriteJSON(s.snapshot()); err != nil {
			return
		}
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) snapshot() stateResponse {
	resp := stateResponse{State: s.rec.State()}
	if elapsed, ok := s.rec.Elapsed(); ok {
		resp.ElapsedMS = elapsed.Milliseconds()
	}
	return resp
}

// writeRecordError maps session errors onto statuses the UI can act on.
func writeRecordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		writeError(w, http.StatusForbidden,
			"screen capture permission denied; grant the agent capture access in system settings and retry")
	case errors.Is(err, record.ErrSessionActive):
		writeError(w, http.StatusConflict, "a recording is already in progress")
	case errors.Is(err, record.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no recording in progress")
	case errors.Is(err, record.ErrLowDiskSpace):
		writeError(w, http.StatusInsufficientStorage, "not enough free disk space for a new recording")
	case errors.Is(err, capture.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, "display capture is not supported on this machine")
	case errors.Is(err, encoder.ErrEncodingFailure):
		writeError(w, http.StatusInternalServerError, "encoding failed; the session was torn down")
	default:
		log.Error("request failed", logging.KeyError, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("response encode failed", logging.KeyError, err)
	}
}
