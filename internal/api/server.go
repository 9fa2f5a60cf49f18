// Package api serves the live control surface of one participant: status,
// the latest snapshot, stop requests and queued path changes. When a
// recorder store is attached its debug pages are mounted under /debug/.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/httputil"
	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/observe"
	"github.com/banshee-data/synchro/internal/recorder"
	"github.com/banshee-data/synchro/internal/syncmgr"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the part of syncmgr.Manager the API drives.
type Controller interface {
	RequestStop()
	ChangePath(agentIndex, pathIndex int) error
	State() syncmgr.State
	Tick() uint64
}

type Server struct {
	ctl   Controller
	pub   *observe.Publisher
	store *recorder.Store
	rank  int

	mu     sync.RWMutex
	latest *observe.Snapshot
}

// NewServer returns a server for ctl. pub and store may be nil.
func NewServer(rank int, ctl Controller, pub *observe.Publisher, store *recorder.Store) *Server {
	return &Server{rank: rank, ctl: ctl, pub: pub, store: store}
}

// Follow keeps the latest published snapshot until ctx is done.
func (s *Server) Follow(ctx context.Context) {
	if s.pub == nil {
		return
	}
	ch, cancel := s.pub.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				s.mu.Lock()
				s.latest = &snap
				s.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Debugf(
			"[api] [%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the routes.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/stop", s.requestStop)
	mux.HandleFunc("/api/path", s.changePath)
	if s.store != nil {
		if err := s.store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Status is the /api/status payload.
type Status struct {
	Rank           int    `json:"rank"`
	State          string `json:"state"`
	Tick           uint64 `json:"tick"`
	DroppedUpdates uint64 `json:"dropped_updates"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	st := Status{Rank: s.rank, State: s.ctl.State().String(), Tick: s.ctl.Tick()}
	if s.pub != nil {
		st.DroppedUpdates = s.pub.Stats().Dropped
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	if snap == nil {
		httputil.NotFound(w, "no snapshot yet")
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) requestStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.ctl.RequestStop()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

// PathChange is the /api/path request body.
type PathChange struct {
	Agent int `json:"agent"`
	Path  int `json:"path"`
}

func (s *Server) changePath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req PathChange
	if err := httputil.DecodeJSON(w, r, &req, 1<<10); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.ctl.ChangePath(req.Agent, req.Path); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, syncmgr.ErrUnknownAgent):
			status = http.StatusNotFound
		case errors.Is(err, driver.ErrPathIndex):
			status = http.StatusBadRequest
		}
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, req)
}
