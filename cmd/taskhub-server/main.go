// Command taskhub-server runs the API gateway process: the Task Service,
// HTTP/WebSocket gateway, and the server-side Consumer/Dispatcher that
// turns TaskEvents into durable status/result writes and live broadcasts
// (spec.md §4, §6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"taskhub/internal/broadcaster"
	"taskhub/internal/config"
	"taskhub/internal/dispatcher"
	"taskhub/internal/eventlog/redis"
	"taskhub/internal/handler"
	"taskhub/internal/httpapi"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
	"taskhub/internal/routing"
	"taskhub/internal/service"
	"taskhub/internal/store/postgres"
	"taskhub/internal/tracing"
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
		Use:   "taskhub-server",
		Short: "taskhub API gateway and dispatcher",
		Long: fmt.Sprintf(`%s

Serves task submission, status, result and live-stream endpoints over
the Task Service, and runs the durable Consumer/Dispatcher loop that
drains the event log into the store and the live broadcaster.`,
			bold("taskhub-server")),
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
		ServiceName: "taskhub-server",
		Endpoint:    otelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	store, err := postgres.New(pool)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	log, err := redis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	pipeline := metrics.NewPipeline()

	live := broadcaster.New()
	live.UseMetrics(pipeline)

	h := handler.New(store, live, cfg.StatusDelta)
	h.UseMetrics(pipeline)

	consumer := dispatcher.New(dispatcher.Config{
		Stream:         cfg.StreamName,
		Group:          cfg.GroupName,
		Consumer:       cfg.ConsumerName,
		Count:          cfg.Count,
		BlockMS:        cfg.BlockMS,
		ReclaimPending: cfg.ReclaimPending,
		ReclaimIdleMS:  cfg.ReclaimIdleMS,
	}, log, h)
	consumer.UseMetrics(pipeline)
	consumer.UseTracer(tracer)

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	svc := service.New(store, log, routing.DefaultRegistry())

	gatewayCfg := httpapi.DefaultServerConfig()
	gatewayCfg.Host, gatewayCfg.Port, err = splitHostPort(cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("parse http_addr: %w", err)
	}
	gateway := httpapi.NewServer(gatewayCfg, svc, live)
	gateway.UseMetrics(pipeline)
	gateway.UseTracer(tracer)

	fmt.Printf("%s listening on %s (redis=%s stream=%s group=%s consumer=%s)\n",
		green("taskhub-server"), blue(cfg.HTTPAddr), gray(cfg.RedisURL), cfg.StreamName, cfg.GroupName, cfg.ConsumerName)

	runErr := gateway.Run(ctx)

	if stopErr := consumer.Stop(); stopErr != nil {
		logging.NewComponentLogger("main").Warn("dispatcher stop: %v", stopErr)
	}

	return runErr
}

// splitHostPort parses an "host:port" address, defaulting host to
// "0.0.0.0" when unspecified (e.g. ":8080").
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		host = "0.0.0.0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
