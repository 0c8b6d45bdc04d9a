// Command caller sends requests to a receiver queue and prints the uniform
// JSON result of each call, one per line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aleph-Alpha/rpcbridge/internal/config"
	"github.com/Aleph-Alpha/rpcbridge/v1/logger"
	"github.com/Aleph-Alpha/rpcbridge/v1/metrics"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
	"github.com/Aleph-Alpha/rpcbridge/v1/tracer"
)

type callFlags struct {
	service     string
	queue       string
	payload     string
	input       string
	description string
	taskType    string
	timeout     time.Duration
	repeat      int
	stats       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "caller",
		Short: "Call a receiver over RabbitMQ and print the result",
		Example: `  caller --input hello --description uppercase
  caller --service data --payload '{"payload":[3,1,2],"description":"sort"}'
  caller --queue data_queue --input 7 --description square --repeat 20 --stats`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.service, "service", "s", "data", "target service; its queue is <SERVICE>_QUEUE_NAME or <service>_queue")
	fl.StringVarP(&f.queue, "queue", "q", "", "target queue, overrides --service")
	fl.StringVarP(&f.payload, "payload", "p", "", "raw JSON request body")
	fl.StringVarP(&f.input, "input", "i", "", "payload value; parsed as JSON when possible, otherwise sent as a string")
	fl.StringVarP(&f.description, "description", "d", "", "processing hint, e.g. uppercase, reverse, square, sort")
	fl.StringVar(&f.taskType, "task-type", "data", "task type recorded in lifecycle events")
	fl.DurationVarP(&f.timeout, "timeout", "t", 0, "per-call timeout (default from RPC_DEFAULT_TIMEOUT)")
	fl.IntVarP(&f.repeat, "repeat", "n", 1, "number of concurrent calls")
	fl.BoolVar(&f.stats, "stats", false, "print the latency snapshot to stderr when done")
	cmd.MarkFlagsMutuallyExclusive("payload", "input")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f callFlags) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	cfg.Logger.ServiceName = cfg.Client.ServiceName

	log, err := logger.NewLoggerClient(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Zap.Sync() }()

	body, err := requestBody(f)
	if err != nil {
		return err
	}

	queue := f.queue
	if queue == "" {
		queue = config.QueueName(f.service)
	}

	conn, err := rabbit.NewClient(cfg.Rabbit, rabbit.WithLogger(log))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.GracefulShutdown()

	trc, err := tracer.NewClient(cfg.Tracer, log)
	if err != nil {
		return err
	}
	defer func() { _ = trc.Shutdown(context.Background()) }()

	events, err := newLifecycle(cfg, log)
	if err != nil {
		return err
	}
	defer events.close()

	sink := metrics.NewSink(metrics.DefaultWindow)
	client := newRPCClient(conn, cfg.Client, log, sink, events.observers, trc)
	dispatcher := rpc.NewDispatcher(client, cfg.Client.Workers)

	out := cmd.OutOrStdout()
	outcomes := make([]<-chan rpc.CallOutcome, 0, f.repeat)
	for i := 0; i < max(f.repeat, 1); i++ {
		outcomes = append(outcomes, dispatcher.Go(ctx, queue, body, f.timeout))
	}
	failed := 0
	for _, ch := range outcomes {
		o := <-ch
		if o.Err != nil {
			failed++
		}
		fmt.Fprintln(out, string(o.Payload()))
	}
	dispatcher.Wait()

	if f.stats {
		snap, _ := json.Marshal(sink.Snapshot())
		fmt.Fprintln(cmd.ErrOrStderr(), string(snap))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, len(outcomes))
	}
	return nil
}

// requestBody builds {"payload", "description", "task_type"} unless a raw
// body was given.
func requestBody(f callFlags) ([]byte, error) {
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return nil, fmt.Errorf("--payload is not valid JSON")
		}
		return []byte(f.payload), nil
	}

	var value any = f.input
	if json.Valid([]byte(f.input)) && f.input != "" {
		value = json.RawMessage(f.input)
	}
	return json.Marshal(map[string]any{
		"payload":     value,
		"description": f.description,
		"task_type":   f.taskType,
	})
}
