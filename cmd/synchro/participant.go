package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/synchro/internal/agent"
	"github.com/banshee-data/synchro/internal/api"
	"github.com/banshee-data/synchro/internal/config"
	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/observe"
	"github.com/banshee-data/synchro/internal/recorder"
	"github.com/banshee-data/synchro/internal/report"
	"github.com/banshee-data/synchro/internal/scenario"
	"github.com/banshee-data/synchro/internal/syncmgr"
	"github.com/banshee-data/synchro/internal/transport"
	"github.com/banshee-data/synchro/internal/units"
)

// participant is one rank with its observers attached.
type participant struct {
	rank int
	mgr  *syncmgr.Manager
	pub  *observe.Publisher
	col  *report.Collector
	rec  *recorder.Run
}

func newParticipant(ctx context.Context, cfg *config.RunConfig, rank int, tr transport.Transport, store *recorder.Store) (*participant, error) {
	build, err := scenario.Lookup(cfg.GetScenario())
	if err != nil {
		return nil, err
	}
	a, err := build(rank, scenario.Terrain(), cfg.ScenarioOptions())
	if err != nil {
		return nil, fmt.Errorf("rank %d: %w", rank, err)
	}
	mgr, err := syncmgr.New(cfg.SyncConfig(), tr, []*agent.Agent{a})
	if err != nil {
		return nil, fmt.Errorf("rank %d: %w", rank, err)
	}

	p := &participant{
		rank: rank,
		mgr:  mgr,
		pub:  observe.NewPublisher(observe.DefaultPublisherConfig()),
		col:  report.NewCollector(cfg.GetRecordEvery()),
	}
	mgr.Subscribe(p.pub)
	mgr.Subscribe(p.col)
	if store != nil {
		p.rec, err = store.BeginRun(ctx, recorder.RunMeta{
			Scenario:     cfg.GetScenario(),
			Rank:         rank,
			Participants: cfg.GetParticipants(),
			Heartbeat:    cfg.GetHeartbeat(),
		}, cfg.GetRecordEvery())
		if err != nil {
			return nil, err
		}
		mgr.Subscribe(p.rec)
	}
	return p, nil
}

// run drives the tick loop to completion and stamps the recorded run.
func (p *participant) run(ctx context.Context) (syncmgr.Result, error) {
	if err := p.pub.Start(); err != nil {
		return syncmgr.Result{}, err
	}
	defer p.pub.Stop()

	res, err := p.mgr.Run(ctx)
	monitoring.Logf("[synchro] rank %d %s (%s) after %d ticks, t=%.2fs, wall=%s, stale=%d",
		p.rank, res.Status, res.Reason, res.Ticks, res.Time, res.Wall.Round(time.Millisecond), res.StaleEvents)
	for _, a := range p.mgr.Locals() {
		snap := a.Snapshot()
		monitoring.Logf("[synchro] rank %d agent %d (%s): %s, path %d", p.rank, snap.Index, snap.Model, units.Format(snap.Speed, units.KPH), snap.ActivePath)
	}
	if p.rec != nil {
		if ferr := p.rec.Finish(context.WithoutCancel(ctx), res.Status.String(), res.Reason, res.Ticks, res.Time); ferr != nil {
			monitoring.Logf("[synchro] rank %d: %v", p.rank, ferr)
		}
	}
	return res, err
}

// stopOnSignal turns SIGINT/SIGTERM into a stop request on every manager.
func stopOnSignal(managers ...*syncmgr.Manager) (release func()) {
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			monitoring.Logf("[synchro] signal received, requesting stop")
			for _, m := range managers {
				m.RequestStop()
			}
		case <-done:
		}
	}()
	return func() {
		close(done)
		cancel()
	}
}

// serveAPI starts the control API on addr until the returned func is called.
func serveAPI(ctx context.Context, addr string, srv *api.Server) (shutdown func(), err error) {
	mux, err := srv.ServeMux()
	if err != nil {
		return nil, err
	}
	followCtx, cancel := context.WithCancel(ctx)
	srv.Follow(followCtx)

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("[api] server error: %v", err)
		}
	}()
	monitoring.Logf("[api] listening on %s", addr)

	return func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("[api] shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("[api] force close error: %v", err)
			}
		}
	}, nil
}

func openStore(cfg *config.RunConfig) (*recorder.Store, error) {
	if cfg.GetDatabase() == "" {
		return nil, nil
	}
	return recorder.Open(cfg.GetDatabase())
}

// writeReport renders the collected series as PNG charts plus one HTML page.
func writeReport(dir, title string, series []report.Series) error {
	files, err := report.WritePNG(dir, series)
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "report.html"))
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := report.WriteHTML(f, title, series); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Logf("[report] wrote %d charts and report.html to %s", len(files), dir)
	return nil
}

func newParticipantCmd() *cobra.Command {
	var (
		rank   int
		relay  string
		listen string
	)
	cmd := &cobra.Command{
		Use:   "participant",
		Short: "Run one rank against a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tr, err := transport.DialRelay(relay, rank, cfg.GetParticipants(),
				grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer tr.Close()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx := cmd.Context()
			p, err := newParticipant(ctx, cfg, rank, tr, store)
			if err != nil {
				return err
			}
			release := stopOnSignal(p.mgr)
			defer release()

			if listen != "" {
				shutdown, err := serveAPI(ctx, listen, api.NewServer(rank, p.mgr, p.pub, store))
				if err != nil {
					return err
				}
				defer shutdown()
			}

			_, runErr := p.run(ctx)
			if dir := cfg.GetReportDir(); dir != "" {
				title := fmt.Sprintf("synchro %s, rank %d", cfg.GetScenario(), rank)
				if err := writeReport(dir, title, p.col.Series()); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&rank, "rank", 0, "This participant's rank")
	cmd.Flags().StringVar(&relay, "relay", "localhost:7400", "Relay address")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve the control API on this address")
	return cmd
}
