// Package server is the HTTP surface of Bobby's Table: the tool webhook,
// payment endpoints, calendar views and operational routes.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/receptionist"
)

// oauthStateTTL bounds how long a Google consent round trip may take.
const oauthStateTTL = 10 * time.Minute

// Server is the HTTP server.
type Server struct {
	app    *fiber.App
	svc    *receptionist.App
	port   string
	logger *slog.Logger

	statesMu sync.Mutex
	states   map[string]time.Time
}

// New creates a server for svc.
func New(svc *receptionist.App) *Server {
	s := &Server{
		svc:    svc,
		port:   svc.Config.Port,
		logger: log.Component("server"),
		states: make(map[string]time.Time),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Bobby's Table",
		DisableStartupMessage: true,
		BodyLimit:             1 << 20,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())
	app.Use(s.accessLog)

	// Tool webhook
	app.Get("/receptionist", s.handleBootstrap)
	app.Post("/receptionist", s.handleReceptionist)

	// Payments
	app.Post("/api/payment-processor", s.handlePaymentProcessor)
	app.Post("/api/signalwire/payment-callback", s.handlePaymentCallback)
	app.Post("/stripe-webhook", s.handleStripeWebhook)

	api := app.Group("/api")
	api.Get("/stripe/config", s.handleStripeConfig)
	api.Post("/stripe/create-payment-intent", s.handleCreatePaymentIntent)
	api.Post("/calendar/refresh-trigger", s.handleRefreshTrigger)
	api.Get("/reservations/calendar", s.handleCalendarEvents)
	api.Get("/google/auth", s.handleGoogleAuth)
	api.Get("/google/callback", s.handleGoogleCallback)

	// Calendar
	app.Get("/ws/calendar", calendar.RequireUpgrade, svc.Hub.Handler())
	app.Get("/calendar", s.handleCalendarLink)

	// Operations
	app.Get("/health", s.handleHealth)
	app.Post("/debug/cleanup-sessions", s.handleCleanupSessions)
	app.Get("/debug/cleanup-status", s.handleCleanupStatus)

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured port. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
	}
	level := slog.LevelDebug
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	} else if status >= fiber.StatusBadRequest {
		level = slog.LevelWarn
	}
	s.logger.Log(c.UserContext(), level, "request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", time.Since(start),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return err
}

// newState issues a one-time OAuth state value.
func (s *Server) newState(id string) {
	now := time.Now()
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	for k, at := range s.states {
		if now.Sub(at) > oauthStateTTL {
			delete(s.states, k)
		}
	}
	s.states[id] = now
}

// takeState consumes a state value issued by newState.
func (s *Server) takeState(id string) bool {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	at, ok := s.states[id]
	delete(s.states, id)
	return ok && time.Since(at) <= oauthStateTTL
}
