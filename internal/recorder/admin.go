package recorder

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/synchro/internal/httputil"
	"github.com/banshee-data/synchro/internal/monitoring"
)

// AttachAdminRoutes mounts the debug pages on mux: live SQL via tailsql,
// the run list as JSON, per-agent states and a gzipped backup download.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.DB, &tailsql.DBOptions{
		Label: "Simulation runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("runs", "Recorded runs (JSON)", s.RunsHandler())
	debug.Handle("agent-states", "Agent states of one run: ?run=<id>&agent=<index>", s.AgentStatesHandler())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(s.serveBackup))
	return nil
}

// RunsHandler serves the run list.
func (s *Store) RunsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.Runs(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if runs == nil {
			runs = []RunSummary{}
		}
		httputil.WriteJSONOK(w, runs)
	})
}

// AgentStatesHandler serves the states of one agent in one run.
func (s *Store) AgentStatesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("run"))
		if err != nil {
			httputil.BadRequest(w, "invalid run id")
			return
		}
		var agent int
		if _, err := fmt.Sscanf(r.URL.Query().Get("agent"), "%d", &agent); err != nil {
			httputil.BadRequest(w, "invalid agent index")
			return
		}
		states, err := s.AgentStates(r.Context(), id, agent)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if states == nil {
			states = []AgentState{}
		}
		httputil.WriteJSONOK(w, states)
	})
}

func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := s.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("[recorder] failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("[recorder] backup copy failed: %v", err)
	}
}
