// Package server exposes the retrieval engine and the job queue over a
// small JSON HTTP API. The wire surface is deliberately thin; all semantics
// live in the engine, pipeline, and queue packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/agentbrain/agentbrain/internal/backend"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/internal/queue"
	"github.com/agentbrain/agentbrain/internal/search"
)

// DefaultQueryTimeout bounds one search request.
const DefaultQueryTimeout = 30 * time.Second

// Server wires the HTTP handlers to the engine and the queue.
type Server struct {
	engine  *search.Engine
	queue   *queue.Queue
	backend backend.Backend
	logger  *slog.Logger
}

// New builds a Server. All dependencies are required.
func New(engine *search.Engine, q *queue.Queue, b backend.Backend, logger *slog.Logger) (*Server, error) {
	if engine == nil || q == nil || b == nil {
		return nil, braerr.New(braerr.ErrCodeInvalidInput,
			"server requires an engine, a queue, and a backend", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, queue: q, backend: b, logger: logger}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/index", s.handleIndex)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	return mux
}

// ListenAndServe writes the runtime descriptor, then serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int, paths *project.Paths, foreground bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("listen on %s:%d: %v", host, port, err), err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port

	// Clients discover the instance through the descriptor, so it must be
	// on disk before the first request can arrive.
	if paths != nil {
		rt := project.Runtime{
			BaseURL:    fmt.Sprintf("http://%s:%d", host, actualPort),
			Port:       actualPort,
			BindHost:   host,
			PID:        os.Getpid(),
			StartedAt:  time.Now().UTC(),
			Foreground: foreground,
		}
		if err := paths.WriteRuntime(rt); err != nil {
			_ = ln.Close()
			return err
		}
		defer func() { _ = paths.RemoveRuntime() }()
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "host", host, "port", actualPort)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Backend        string               `json:"backend"`
	ChunkCount     int                  `json:"chunk_count"`
	Queue          queue.StatusSnapshot `json:"queue"`
	GraphSupported bool                 `json:"graph_supported"`
}

// handleStatus serves without touching the queue's worker lock; the queue
// snapshot is a lock-free read.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.backend.GetCount(r.Context(), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Backend:        s.backend.Name(),
		ChunkCount:     count,
		Queue:          s.queue.Status(),
		GraphSupported: s.backend.SupportsGraph(),
	})
}

type searchRequest struct {
	Query      string                 `json:"query"`
	Mode       string                 `json:"mode"`
	TopK       int                    `json:"top_k"`
	GraphDepth int                    `json:"graph_depth"`
	MinScore   float64                `json:"min_score"`
	Filters    *backend.SearchFilters `json:"filters"`
}

type searchResponse struct {
	Results []model.SearchResult `json:"results"`
	Count   int                  `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, braerr.New(braerr.ErrCodeInvalidInput, "malformed request body", err))
		return
	}
	mode := search.Mode(req.Mode)
	if req.Mode == "" {
		mode = search.ModeHybrid
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultQueryTimeout)
	defer cancel()

	results, err := s.engine.Search(ctx, search.Request{
		Query:      req.Query,
		Mode:       mode,
		TopK:       req.TopK,
		GraphDepth: req.GraphDepth,
		MinScore:   req.MinScore,
		Filters:    req.Filters,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

type indexRequest struct {
	Path          string   `json:"path"`
	IncludeCode   bool     `json:"include_code"`
	Patterns      []string `json:"patterns"`
	Force         bool     `json:"force"`
	AllowExternal bool     `json:"allow_external"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, braerr.New(braerr.ErrCodeInvalidInput, "malformed request body", err))
		return
	}
	result, err := s.queue.Enqueue(queue.EnqueueRequest{
		Path: req.Path,
		Options: model.JobOptions{
			IncludeCode:   req.IncludeCode,
			Patterns:      req.Patterns,
			Force:         req.Force,
			AllowExternal: req.AllowExternal,
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if result.DedupeHit {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.queue.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.Cancel(id); err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.queue.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeError maps error codes to HTTP statuses and renders the structured
// body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: braerr.ErrCodeStorage, Message: err.Error()}

	var be *braerr.BrainError
	if errors.As(err, &be) {
		body.Code = be.Code
		body.Message = be.Message
		body.Suggestion = be.Suggestion
		switch be.Code {
		case braerr.ErrCodeInvalidInput, braerr.ErrCodeInvalidQuery, braerr.ErrCodeInvalidPath:
			status = http.StatusBadRequest
		case braerr.ErrCodeFileNotFound, braerr.ErrCodeJobNotFound:
			status = http.StatusNotFound
		case braerr.ErrCodeQueueFull:
			status = http.StatusTooManyRequests
		case braerr.ErrCodeProviderMismatch:
			status = http.StatusConflict
		case braerr.ErrCodeBackendUnsupported:
			status = http.StatusNotImplemented
		case braerr.ErrCodeProviderTimeout, braerr.ErrCodeProviderUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	if status >= 500 {
		s.logger.Error("request failed", "code", body.Code, "error", err)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
