// Package server exposes the transport engine over a small JSON HTTP
// API so a remote control surface (phone, tablet, footswitch box) can
// drive it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/stagedeck/internal/session"
	"github.com/audiolibrelab/stagedeck/internal/transport"
)

// Server wraps the engine in an http.Server.
type Server struct {
	engine *transport.Engine
	sess   *session.Session
	http   *http.Server
}

// CommandResponse is the JSON shape every transport command returns.
type CommandResponse struct {
	State       string        `json:"state"`
	CurrentTake *session.Take `json:"current_take"`
	Error       string        `json:"error,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// TakesResponse lists the session's takes.
type TakesResponse struct {
	SessionID string          `json:"session_id"`
	Directory string          `json:"directory"`
	Takes     []*session.Take `json:"takes"`
	Current   *session.Take   `json:"current_take"`
}

// New creates the control server on the given listen address.
func New(addr string, engine *transport.Engine, sess *session.Session) *Server {
	s := &Server{engine: engine, sess: sess}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/takes", s.handleTakes)
	mux.HandleFunc("/takes/", s.handleTakeDownload)
	mux.HandleFunc("/record", s.command(engine.Record))
	mux.HandleFunc("/pause", s.command(engine.Pause))
	mux.HandleFunc("/resume", s.command(engine.Resume))
	mux.HandleFunc("/stop", s.command(engine.Stop))
	mux.HandleFunc("/play", s.command(engine.Play))
	mux.HandleFunc("/rewind", s.command(engine.Rewind))
	mux.HandleFunc("/next", s.command(engine.Next))
	mux.HandleFunc("/reset", s.command(engine.Reset))
	mux.HandleFunc("/shutdown", s.handleShutdown)

	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves until Close. It blocks.
func (s *Server) Start() error {
	slog.Info("control server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

// Close shuts the HTTP listener down gracefully.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// command adapts an engine command to a POST handler.
func (s *Server) command(fn func() transport.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		s.writeResult(w, fn())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	s.writeResult(w, s.engine.Status())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	res := s.engine.Shutdown()
	s.writeResult(w, res)
	if res.Err == nil {
		// Stop accepting connections once the response is flushed.
		go s.Close()
	}
}

func (s *Server) handleTakes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, TakesResponse{
		SessionID: s.sess.ID(),
		Directory: s.sess.Dir(),
		Takes:     s.sess.Takes(),
		Current:   s.sess.Current(),
	})
}

// handleTakeDownload serves a take's audio file by take ID.
func (s *Server) handleTakeDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/takes/")
	take := s.sess.ByID(id)
	if take == nil {
		http.Error(w, "take not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(take.Path)))
	http.ServeFile(w, r, take.Path)
}

func (s *Server) writeResult(w http.ResponseWriter, res transport.Result) {
	resp := CommandResponse{
		State:       string(res.State),
		CurrentTake: res.CurrentTake,
	}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = string(transport.KindOf(res.Err))
		resp.Message = res.Err.Error()
		status = statusFor(transport.KindOf(res.Err))
	}
	writeJSON(w, status, resp)
}

func statusFor(kind transport.ErrorKind) int {
	switch kind {
	case transport.ErrInvalidTransition, transport.ErrNotRunning, transport.ErrAlreadyFinalized:
		return http.StatusConflict
	case transport.ErrDiskFull, transport.ErrStorageUnavailable:
		return http.StatusInsufficientStorage
	case transport.ErrDeviceBusy, transport.ErrDeviceMissing, transport.ErrSpawnFailed, transport.ErrProcessCrashed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}
