package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dukex/callflow/pkg/cmd"
	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/log"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/dukex/callflow/pkg/registry"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "callflow-api",
		Usage:                 "Edit, publish and simulate IVR call flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Flow storage URL (file://dir, postgres://..., sqlite://path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "session-store-url",
				Usage:   "Simulation session store (memory or redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("SESSION_STORE_URL"),
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Usage:   "How long an idle simulation session is kept",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("SESSION_TTL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Steps a simulated session may take before it fails",
				Value:   engine.DefaultMaxSteps,
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.BoolFlag{
				Name:    "live-api-calls",
				Usage:   "Let API nodes call their endpoints instead of simulating a response",
				Sources: cli.EnvVars("LIVE_API_CALLS"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing callflow API")

			var tracer trace.Tracer

			if command.Bool("otel-enabled") {
				t, err := otelhelper.NewTracer(ctx, "callflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				tracer = t
			}

			reg, err := registry.NewDefaultRegistry(logger)
			if err != nil {
				return fmt.Errorf("failed to build node registry: %w", err)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			sessions, err := cmd.NewSessionStore(ctx, logger, command.String("session-store-url"), command.Duration("session-ttl"))
			if err != nil {
				return err
			}

			defer func() {
				if err := sessions.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close session store", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if err := subscribeAuditLog(ctx, eventBus, logger); err != nil {
				return err
			}

			engineOpts := []engine.Option{
				engine.WithMaxSteps(command.Int("max-steps")),
				engine.WithLogger(logger),
			}

			if tracer != nil {
				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			if command.Bool("live-api-calls") {
				engineOpts = append(engineOpts, engine.WithAPICaller(engine.NewHTTPCaller(logger)))
			}

			api := NewAPI(
				logger,
				persistence,
				reg,
				sessions,
				engine.New(engineOpts...),
				eventBus,
				tracer,
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
