// Command voicerelayd runs the voice relay server: it admits learner
// WebSocket connections, dials the upstream conversational-AI provider on
// their behalf, and relays audio and control messages between them while
// tracking turns, transcripts, and session metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/corallang/voicerelay/config"
	"github.com/corallang/voicerelay/core"
	"github.com/corallang/voicerelay/internal/httputil"
	"github.com/corallang/voicerelay/o11y"
	"github.com/corallang/voicerelay/pkg/relay/assessor"
	"github.com/corallang/voicerelay/pkg/relay/persistence"
	"github.com/corallang/voicerelay/pkg/relay/stats"
	"github.com/corallang/voicerelay/pkg/relay/supervisor"
	"github.com/corallang/voicerelay/pkg/relay/token"
	"github.com/corallang/voicerelay/pkg/relay/upstream"
	"github.com/corallang/voicerelay/pkg/relay/watchdog"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
)

func main() {
	logger := o11y.NewLogger(o11y.WithJSON())
	ctx := o11y.WithLogger(context.Background(), logger)

	if err := run(ctx, logger); err != nil {
		logger.Error(ctx, "voicerelayd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *o11y.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	serviceName := cfg.OTel.ServiceName
	if serviceName == "" {
		serviceName = "voicerelayd"
	}

	shutdownTracer, err := initTracer(ctx, serviceName, cfg.OTel.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initialising tracer: %w", err)
	}
	defer shutdownTracer()

	metricsHandler, err := initMeter(serviceName)
	if err != nil {
		return fmt.Errorf("initialising meter: %w", err)
	}

	persistSink, err := buildPersistence(cfg)
	if err != nil {
		return fmt.Errorf("initialising persistence: %w", err)
	}
	if closer, ok := persistSink.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	sup := supervisor.New(supervisor.Config{
		MaxSessionsPerTenant: cfg.MaxSessionsPerTenant,
		UpstreamBaseURL:      cfg.UpstreamWSBase,
	})
	verifier := token.NewJWTVerifier([]byte(cfg.JWT.Secret))
	sup.Verifier = verifier
	sup.Dialer = upstream.NewDialer(cfg.UpstreamWSBase)
	sup.Persistence = persistSink
	sup.Assessor = assessor.NewStub()
	sup.Events = stats.NewEventBus(logger)
	sup.Logger = logger
	sup.AuthPolicy = supervisor.NewTokenClaimsPolicy("voicerelayd")

	agg := stats.NewAggregator(sup, time.Now())

	wd := watchdog.New(watchdog.Config{
		HeartbeatInterval:  time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		InactivityTimeout:  time.Duration(cfg.InactivityTimeoutMs) * time.Millisecond,
		MaxSessionDuration: time.Duration(cfg.MaxSessionDurationMs) * time.Millisecond,
	}, sup, sup, sup, logger)

	app := core.NewApp()
	app.Register(wd)
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("starting lifecycle components: %w", err)
	}

	if watcher, ok := startConfigWatcher(ctx, logger, verifier); ok {
		defer watcher.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/", supervisor.NewRouter(sup, agg, cfg.PathPrefix))
	mux.Handle("/metrics", metricsHandler)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lifecycle httputil.ServerLifecycle
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "voicerelayd listening", "addr", cfg.ListenAddr)
		serveErr <- lifecycle.Serve(sigCtx, cfg.ListenAddr, mux, 0, 0, 0, "voicerelayd")
	}()

	err = <-serveErr
	if err != nil && err != context.Canceled {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "supervisor shutdown error", "error", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "lifecycle shutdown error", "error", err)
	}

	return nil
}

func buildPersistence(cfg *config.ServerConfig) (persistence.Sink, error) {
	if cfg.Postgres.ConnString == "" {
		return persistence.NewInMemorySink(), nil
	}
	return persistence.NewPostgresSinkFromConfig(persistence.PostgresConfig{ConnString: cfg.Postgres.ConnString})
}

// initTracer wires the OTel tracer provider to an OTLP gRPC exporter when
// otlpEndpoint is configured, falling back to a stdout exporter so spans
// are still observable in local development.
func initTracer(ctx context.Context, serviceName, otlpEndpoint string) (func(), error) {
	if otlpEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		return o11y.InitTracer(serviceName, o11y.WithSpanExporter(exp))
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return o11y.InitTracer(serviceName, o11y.WithSpanExporter(exp))
}

// initMeter wires the OTel meter provider to a Prometheus exporter and
// returns the promhttp handler to serve "/metrics" with.
func initMeter(serviceName string) (http.Handler, error) {
	exp, err := otelprom.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	if err := o11y.InitMeter(serviceName); err != nil {
		return nil, err
	}
	return promhttp.Handler(), nil
}

// startConfigWatcher polls the config file Load resolved (if any) and
// rotates the verifier's JWT secret whenever the file changes, without a
// process restart. ok is false when no config file was found, since there
// is nothing to watch for an env-only deployment.
func startConfigWatcher(ctx context.Context, logger *o11y.Logger, verifier *token.JWTVerifier) (config.Watcher, bool) {
	path := config.ConfigFileUsed()
	if path == "" {
		return nil, false
	}

	watcher := config.NewFileWatcher(path, 5*time.Second)
	go func() {
		err := watcher.Watch(ctx, func(_ any) {
			cfg, err := config.Load()
			if err != nil {
				logger.Error(ctx, "config reload failed, keeping previous secret", "error", err)
				return
			}
			verifier.SetSecret([]byte(cfg.JWT.Secret))
			logger.Info(ctx, "jwt secret reloaded from config file change", "path", path)
		})
		if err != nil && err != context.Canceled {
			logger.Error(ctx, "config watcher stopped", "error", err)
		}
	}()
	return watcher, true
}
