// Command dlqctl inspects and drains the dead-letter queue of a receiver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/v1/deadletter"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/minio"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
)

type session struct {
	cfg       *config.Config
	log       *logger.Logger
	conn      *rabbit.RabbitClient
	inspector *deadletter.Inspector
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var queue string
	var limit int

	root := &cobra.Command{
		Use:          "dlqctl",
		Short:        "Inspect, replay and archive dead-lettered requests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&queue, "queue", "q", "", "work queue whose <queue>_dlq to operate on (default QUEUE_NAME)")
	root.PersistentFlags().IntVarP(&limit, "limit", "l", 0, "maximum number of messages, 0 for all")

	withSession := func(fn func(ctx context.Context, s *session, queue string, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			q := queue
			if q == "" {
				q = s.cfg.Server.Queue
			}
			return fn(ctx, s, q, cmd.OutOrStdout())
		}
	}

	peek := &cobra.Command{
		Use:   "peek",
		Short: "Print dead-lettered requests without removing them",
		RunE: withSession(func(ctx context.Context, s *session, q string, out io.Writer) error {
			entries, err := s.inspector.Peek(ctx, q, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered requests back onto the work queue",
		RunE: withSession(func(ctx context.Context, s *session, q string, out io.Writer) error {
			n, err := s.inspector.Replay(ctx, q, limit)
			fmt.Fprintf(out, "replayed %d message(s) to %s\n", n, q)
			return err
		}),
	}

	archive := &cobra.Command{
		Use:   "archive",
		Short: "Write dead-lettered requests to object storage and remove them",
		RunE: withSession(func(ctx context.Context, s *session, q string, out io.Writer) error {
			if !s.cfg.Minio.Enabled() {
				return fmt.Errorf("archive needs MINIO_ENDPOINT and MINIO_BUCKET")
			}
			store, err := minio.NewClient(s.cfg.Minio, minio.WithLogger(s.log))
			if err != nil {
				return err
			}
			defer store.GracefulShutdown()

			n, err := s.inspector.Archive(ctx, q, store, limit)
			fmt.Fprintf(out, "archived %d message(s) to bucket %s\n", n, store.Bucket())
			return err
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the depth of the work queue and its dead-letter queue",
		RunE: withSession(func(ctx context.Context, s *session, q string, out io.Writer) error {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(s.inspector.Stats(ctx, q))
		}),
	}

	root.AddCommand(peek, replay, archive, stats)
	return root
}

func openSession() (*session, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLoggerClient(cfg.Logger)
	if err != nil {
		return nil, err
	}
	conn, err := rabbit.NewClient(cfg.Rabbit, rabbit.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &session{
		cfg:       cfg,
		log:       log,
		conn:      conn,
		inspector: deadletter.NewInspector(conn, log),
	}, nil
}

func (s *session) close() {
	s.conn.GracefulShutdown()
	_ = s.log.Zap.Sync()
}
