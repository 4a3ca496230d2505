// queryd runs the query agent: the session-aware entry point of the
// analysis chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chimera-analytics/chimera/internal/agents/query"
	"github.com/chimera-analytics/chimera/pkg/config"
	"github.com/chimera-analytics/chimera/pkg/messaging/rabbitmq"
	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/observability/otel"
	"github.com/chimera-analytics/chimera/pkg/ops"
	"github.com/chimera-analytics/chimera/pkg/scheduler"
	"github.com/chimera-analytics/chimera/pkg/session"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(query.AgentName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := otel.NewProvider(ctx, &otel.Config{
		ServiceName:     cfg.Observability.ServiceName,
		ServiceVersion:  cfg.Observability.ServiceVersion,
		Environment:     cfg.Environment,
		OTLPEndpoint:    cfg.Observability.TraceEndpoint,
		OTLPProtocol:    otel.OTLPProtocol(cfg.Observability.TraceProtocol),
		Insecure:        !cfg.IsProduction(),
		TraceSampleRate: cfg.Observability.TraceSampleRate,
		LogLevel:        observability.ParseLevel(cfg.Observability.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			log.Printf("observability shutdown: %v", err)
		}
	}()

	logger := provider.Logger()
	logger.Info(ctx, "query agent starting",
		observability.String("environment", cfg.Environment),
		observability.String("version", cfg.Observability.ServiceVersion),
	)

	bus, err := rabbitmq.New(provider,
		rabbitmq.WithURL(cfg.Broker.URL()),
		rabbitmq.WithExchange(cfg.Broker.Exchange),
		rabbitmq.WithServiceName(query.AgentName),
		rabbitmq.WithEnvironment(cfg.Environment),
	)
	if err != nil {
		return fmt.Errorf("message bus: %w", err)
	}

	kv := redis.NewClient(&redis.Options{
		Addr:     cfg.KV.Addr(),
		Password: cfg.KV.Password,
		DB:       cfg.KV.DB,
	})
	defer func() { _ = kv.Close() }()

	sched := scheduler.New(provider)
	agent, err := query.New(bus, session.NewStore(kv, provider), sched, provider)
	if err != nil {
		_ = bus.Close()
		return fmt.Errorf("query agent: %w", err)
	}

	if cfg.OpsAddr != "" {
		opsServer := ops.New(cfg.OpsAddr, provider,
			ops.WithCheck("bus", bus.HealthCheck()),
			ops.WithCheck("kv", func(ctx context.Context) error { return kv.Ping(ctx).Err() }),
		)
		stopOps := opsServer.Run()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = stopOps(sctx)
		}()
		go func() {
			// A dead ops listener takes the process down the graceful way.
			if err := <-opsServer.ShutdownListener(); err != nil {
				logger.Error(ctx, "ops server failed", observability.Error(err))
				stop()
			}
		}()
	}

	sched.Start()

	runErr := agent.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(sctx); err != nil {
		logger.Warn(sctx, "scheduler drain incomplete", observability.Error(err))
	}
	if err := agent.Close(); err != nil {
		logger.Warn(sctx, "agent close failed", observability.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("query agent stopped: %w", runErr)
	}
	logger.Info(context.Background(), "query agent stopped")
	return nil
}
