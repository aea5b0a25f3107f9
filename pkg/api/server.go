// Package api assembles the Dispatch Gateway's Fiber HTTP server: CORS,
// static image serving out of the output directory, the generate/stop
// control surface, the read-only settings/history surfaces, and the
// aggregate progress websocket.
package api

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpuforge/dispatch/pkg/api/handlers"
	"github.com/gpuforge/dispatch/pkg/dispatch"
	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/settings"
)

var logger = log.New(os.Stdout, "[api] ", log.LstdFlags)

// Config configures the gateway's HTTP surface.
type Config struct {
	Host      string
	Port      int
	OutputDir string
	DevMode   bool
}

// Server owns the Fiber app and its dependencies.
type Server struct {
	cfg Config
	app *fiber.App
}

// NewServer builds the Fiber app and registers every route, wiring core,
// settingsRegistry, and store into a handlers.Handlers instance shared
// across requests.
func NewServer(cfg Config, core *dispatch.DispatchCore, settingsRegistry *settings.Registry, store *metadata.Store) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: !cfg.DevMode,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "*",
	}))

	app.Static("/images", cfg.OutputDir)

	h := handlers.New(core, settingsRegistry, store, cfg.OutputDir)

	app.Post("/generate", h.Generate)
	app.Post("/stop", h.Stop)

	app.Get("/settings", h.Settings)
	app.Get("/presets", h.Presets)
	app.Get("/presets/:name", h.PresetDetails)

	app.Get("/history", h.History)
	app.Get("/history/metadata/:date/:filename", h.HistoryMetadata)

	app.Get("/ws", websocket.New(h.WS))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return &Server{cfg: cfg, app: app}
}

// Start runs the Fiber app on the configured host/port. It blocks until the
// server stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	logger.Printf("listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests and stops the Fiber app.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
