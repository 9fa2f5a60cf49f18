package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/synchro/internal/api"
	"github.com/banshee-data/synchro/internal/config"
	"github.com/banshee-data/synchro/internal/recorder"
	"github.com/banshee-data/synchro/internal/report"
	"github.com/banshee-data/synchro/internal/syncmgr"
	"github.com/banshee-data/synchro/internal/transport"
)

// local is a single-process simulation: every rank on one in-process hub.
type local struct {
	cfg   *config.RunConfig
	hub   *transport.Hub
	parts []*participant
}

func newLocal(ctx context.Context, cfg *config.RunConfig, store *recorder.Store) (*local, error) {
	n := cfg.GetParticipants()
	hub, err := transport.NewHub(n)
	if err != nil {
		return nil, err
	}
	l := &local{cfg: cfg, hub: hub}
	for rank := range n {
		tr, err := hub.Transport(rank)
		if err != nil {
			return nil, err
		}
		p, err := newParticipant(ctx, cfg, rank, tr, store)
		if err != nil {
			return nil, err
		}
		l.parts = append(l.parts, p)
	}
	return l, nil
}

func (l *local) managers() []*syncmgr.Manager {
	ms := make([]*syncmgr.Manager, len(l.parts))
	for i, p := range l.parts {
		ms[i] = p.mgr
	}
	return ms
}

// run advances every rank concurrently and returns their results by rank.
func (l *local) run(ctx context.Context) ([]syncmgr.Result, error) {
	results := make([]syncmgr.Result, len(l.parts))
	errs := make([]error, len(l.parts))
	var g errgroup.Group
	for i, p := range l.parts {
		g.Go(func() error {
			results[i], errs[i] = p.run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// series merges the collected series of all ranks.
func (l *local) series() []report.Series {
	var all []report.Series
	for _, p := range l.parts {
		all = append(all, p.col.Series()...)
	}
	return all
}

func newRunCmd() *cobra.Command {
	var (
		listen  string
		apiRank int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every participant in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if apiRank < 0 || apiRank >= cfg.GetParticipants() {
				return fmt.Errorf("--api-rank %d out of range [0, %d)", apiRank, cfg.GetParticipants())
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx := cmd.Context()
			l, err := newLocal(ctx, cfg, store)
			if err != nil {
				return err
			}
			release := stopOnSignal(l.managers()...)
			defer release()

			if listen != "" {
				p := l.parts[apiRank]
				shutdown, err := serveAPI(ctx, listen, api.NewServer(apiRank, p.mgr, p.pub, store))
				if err != nil {
					return err
				}
				defer shutdown()
			}

			_, runErr := l.run(ctx)
			if dir := cfg.GetReportDir(); dir != "" {
				if err := writeReport(dir, "synchro "+cfg.GetScenario(), l.series()); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Serve the control API on this address")
	cmd.Flags().IntVar(&apiRank, "api-rank", 0, "Rank controlled through the API")
	return cmd
}
