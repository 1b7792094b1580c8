package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/payment"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// calendarRangeDays is the default span of the reservations calendar feed.
const calendarRangeDays = 30

// handleBootstrap returns the SWML document that starts a call
func (s *Server) handleBootstrap(c *fiber.Ctx) error {
	return c.JSON(s.svc.Dispatcher.Bootstrap())
}

// handleReceptionist serves tool calls
func (s *Server) handleReceptionist(c *fiber.Ctx) error {
	status, body := s.svc.Dispatcher.Handle(c.UserContext(), c.Body())
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

// handlePaymentProcessor charges card data collected by the pay verb
func (s *Server) handlePaymentProcessor(c *fiber.Ctx) error {
	status, resp := s.svc.Payments.Handle(c.UserContext(), c.Body())
	return c.Status(status).JSON(resp)
}

// handlePaymentCallback follows pay verb progress
func (s *Server) handlePaymentCallback(c *fiber.Ctx) error {
	var req payment.CallbackRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid callback body",
		})
	}
	status, reply := s.svc.Payments.Callback(c.UserContext(), &req)
	return c.Status(status).JSON(reply)
}

// handleStripeWebhook settles Stripe events
func (s *Server) handleStripeWebhook(c *fiber.Ctx) error {
	status, reply := s.svc.Payments.Webhook(c.UserContext(), c.Body(), c.Get("Stripe-Signature"))
	return c.Status(status).JSON(reply)
}

func (s *Server) handleStripeConfig(c *fiber.Ctx) error {
	return c.JSON(s.svc.Payments.CheckoutConfig())
}

func (s *Server) handleCreatePaymentIntent(c *fiber.Ctx) error {
	var req payment.CheckoutRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	status, reply := s.svc.Payments.CreateCheckout(c.UserContext(), req)
	return c.Status(status).JSON(reply)
}

// handleRefreshTrigger broadcasts a refresh event to calendar views
func (s *Server) handleRefreshTrigger(c *fiber.Ctx) error {
	var e calendar.RefreshEvent
	if err := json.Unmarshal(c.Body(), &e); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid JSON"})
	}
	if e.Source == "" {
		e.Source = calendar.SourceTrigger
	}
	if err := e.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if err := s.svc.Hub.Publish(c.UserContext(), e); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"event_type": e.EventType,
		"clients":    s.svc.Hub.ClientCount(),
	})
}

// handleCalendarEvents lists reservations between start and end (inclusive)
func (s *Server) handleCalendarEvents(c *fiber.Ctx) error {
	today := s.svc.Now().In(s.svc.Location)
	start := c.Query("start", today.Format("2006-01-02"))
	end := c.Query("end", today.AddDate(0, 0, calendarRangeDays).Format("2006-01-02"))
	if len(start) > 10 {
		start = start[:10]
	}
	if len(end) > 10 {
		end = end[:10]
	}
	list, err := s.svc.Store.ListReservationsBetween(c.UserContext(), start, end)
	if err != nil {
		s.logger.Error("calendar feed failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load reservations"})
	}
	return c.JSON(calendar.Events(list))
}

// handleCalendarLink serves the iCalendar file behind a signed SMS link
func (s *Server) handleCalendarLink(c *fiber.Ctx) error {
	if s.svc.Links == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Calendar links are not enabled"})
	}
	number, err := s.svc.Links.Verify(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Invalid or expired link"})
	}
	r, err := s.svc.Store.FindReservation(c.UserContext(), store.Criteria{ReservationNumber: number})
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Reservation not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load reservation"})
	}
	ics, err := calendar.ICS(r, s.svc.Location, s.svc.Templates.Restaurant, s.svc.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="reservation-%s.ics"`, r.ReservationNumber))
	return c.Send(ics)
}

func (s *Server) handleGoogleAuth(c *fiber.Ctx) error {
	if s.svc.Google == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Google Calendar is not configured"})
	}
	state := uuid.NewString()
	s.newState(state)
	return c.Redirect(s.svc.Google.AuthURL(state), fiber.StatusFound)
}

func (s *Server) handleGoogleCallback(c *fiber.Ctx) error {
	if s.svc.Google == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Google Calendar is not configured"})
	}
	if !s.takeState(c.Query("state")) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown or expired state"})
	}
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing authorization code", "reason": c.Query("error")})
	}
	if err := s.svc.Google.Exchange(c.UserContext(), code); err != nil {
		s.logger.Error("google authorization failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Google authorization failed"})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Google Calendar connected"})
}

// handleHealth reports dependency status
func (s *Server) handleHealth(c *fiber.Ctx) error {
	status, db := "healthy", "connected"
	code := fiber.StatusOK
	if err := s.svc.Store.Ping(c.UserContext()); err != nil {
		status, db, code = "unhealthy", "unreachable", fiber.StatusServiceUnavailable
	}
	google := "disabled"
	if s.svc.Google != nil {
		google = "not_connected"
		if s.svc.Google.Connected() {
			google = "connected"
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"status":           status,
		"service":          "bobbys-table",
		"database":         db,
		"calendar_clients": s.svc.Hub.ClientCount(),
		"calendar_hub":     s.svc.Hub.IsRunning(),
		"stripe_test_mode": s.svc.Gateway.TestMode(),
		"google_calendar":  google,
		"timestamp":        s.svc.Now().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// handleCleanupSessions runs the session sweep and memory prune now
func (s *Server) handleCleanupSessions(c *fiber.Ctx) error {
	swept, pruned, err := s.svc.Cleanup(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"success":          true,
		"expired_sessions": swept.Expired,
		"orphaned_aliases": swept.Orphaned,
		"memory_pruned":    pruned,
	})
}

func (s *Server) handleCleanupStatus(c *fiber.Ctx) error {
	snap, err := s.svc.Sessions.Snapshot(c.UserContext(), s.svc.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"payment_sessions":     snap,
		"conversation_memory":  s.svc.Memory.Len(),
		"jobs":                 s.svc.Scheduler.Status(),
		"calendar_hub_running": s.svc.Hub.IsRunning(),
	})
}
