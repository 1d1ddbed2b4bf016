package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/web"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	control     web.Controller
	validate    *validator.Validate
	app         *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	control web.Controller,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		control:     control,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(
		workflow.NewRepository(a.persistence),
		a.persistence,
		a.control,
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

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("WALKOFF API")
	})

	handlers.Routes(app)

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Starting API", "port", port)

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.app == nil {
		return nil
	}

	return a.app.ShutdownWithContext(ctx)
}
