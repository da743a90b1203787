// Command taskhub-worker runs the execution side of the pipeline: one
// worker.Worker per configured task-routing queue, each draining its
// destination stream through a bounded workerpool and reporting progress
// via a SyncPublisher (spec.md §5, §6 "Async-over-sync").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taskhub/internal/config"
	"taskhub/internal/eventlog/redis"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
	"taskhub/internal/publisher"
	"taskhub/internal/routing"
	"taskhub/internal/tasks"
	"taskhub/internal/tracing"
	"taskhub/internal/worker"
	"taskhub/internal/workerpool"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	blue  = color.New(color.FgBlue).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func main() {
	var configPath string
	var otelEndpoint string

	root := &cobra.Command{
		Use:   "taskhub-worker",
		Short: "taskhub execution worker",
		Long: fmt.Sprintf(`%s

Consumes execution requests off the task-routing destination streams
whose queue hint is in worker_queues, and runs each against the
compute-kernel registry on a bounded worker pool.`,
			bold("taskhub-worker")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, otelEndpoint)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP/HTTP trace collector endpoint (tracing disabled when empty)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, otelEndpoint string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracer, shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "taskhub-worker",
		Endpoint:    otelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	log, err := redis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	pipeline := metrics.NewPipeline()
	registry := tasks.NewRegistry()
	pool := workerpool.New(ctx, cfg.WorkerConcurrency)
	pub := publisher.NewSyncPublisher(log)

	streams := streamsForQueues(routing.DefaultRegistry(), cfg.WorkerQueues)
	if len(streams) == 0 {
		return fmt.Errorf("no routing destinations match worker_queues %v", cfg.WorkerQueues)
	}

	logger := logging.NewComponentLogger("main")
	workers := make([]*worker.Worker, 0, len(streams))
	for _, stream := range streams {
		w := worker.New(worker.Config{
			Stream:         stream,
			Group:          cfg.GroupName,
			Consumer:       cfg.ConsumerName,
			EventStream:    cfg.StreamName,
			Count:          cfg.Count,
			BlockMS:        cfg.BlockMS,
			ReclaimPending: cfg.ReclaimPending,
			ReclaimIdleMS:  cfg.ReclaimIdleMS,
		}, log, registry, pool, pub)
		w.UseMetrics(pipeline)
		w.UseTracer(tracer)

		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker for stream %s: %w", stream, err)
		}
		workers = append(workers, w)
	}

	fmt.Printf("%s consuming %s (redis=%s group=%s consumer=%s concurrency=%d)\n",
		green("taskhub-worker"), blue(fmt.Sprintf("%v", streams)), gray(cfg.RedisURL), cfg.GroupName, cfg.ConsumerName, cfg.WorkerConcurrency)

	go func() {
		for err := range pool.Errors() {
			logger.Error("task pool error: %v", err)
		}
	}()

	<-ctx.Done()

	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Warn("worker stop: %v", err)
		}
	}
	return nil
}

// streamsForQueues resolves each distinct Destination.Stream in reg whose
// QueueHint appears in queues, deduplicated and in a stable order.
func streamsForQueues(reg *routing.Registry, queues []string) []string {
	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, dest := range reg.Destinations() {
		if !wanted[dest.QueueHint] || seen[dest.Stream] {
			continue
		}
		seen[dest.Stream] = true
		out = append(out, dest.Stream)
	}
	return out
}
