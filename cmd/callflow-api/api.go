// Package main provides the callflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/eventbus"
	"github.com/dukex/callflow/pkg/metrics"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/registry"
	"github.com/dukex/callflow/pkg/services"
	"github.com/dukex/callflow/pkg/sessionstore"
	"github.com/dukex/callflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	sessions    sessionstore.Store
	engine      *engine.Engine
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	sessions sessionstore.Store,
	engine *engine.Engine,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		sessions:    sessions,
		engine:      engine,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	opts := []services.Option{
		services.WithLogger(a.logger),
		services.WithHistories(services.NewHistories(services.DefaultHistoryLimit)),
	}

	if a.tracer != nil {
		opts = append(opts, services.WithTracer(a.tracer))
	}

	if a.eventBus != nil {
		opts = append(opts, services.WithEventPublisher(a.eventBus))
	}

	handlers := web.NewAPIHandlers(
		services.NewFlow(a.persistence, opts...),
		services.NewNode(a.persistence, a.registry, opts...),
		services.NewPublishing(a.persistence, opts...),
		services.NewSession(a.persistence, a.engine, a.sessions, opts...),
		a.validate,
		a.registry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(metrics.NewRegistry())))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Callflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
