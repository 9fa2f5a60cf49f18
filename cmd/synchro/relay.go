package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/transport"
)

// serveRelay runs a relay for size participants on lis until ctx is done.
func serveRelay(ctx context.Context, lis net.Listener, size int) error {
	relay, err := transport.NewRelayServer(size)
	if err != nil {
		return err
	}
	s := grpc.NewServer()
	transport.RegisterRelay(s, relay)

	go func() {
		<-ctx.Done()
		monitoring.Logf("[relay] shutting down with %d participants attached", relay.Connected())
		s.Stop()
	}()
	monitoring.Logf("[relay] serving %d participants on %s", size, lis.Addr())
	if err := s.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

func newRelayCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward state envelopes between participant processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveRelay(ctx, lis, cfg.GetParticipants())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":7400", "Relay listen address")
	return cmd
}
