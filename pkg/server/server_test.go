package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/receptionist"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

var testNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, edit ...func(*receptionist.Config)) (*Server, *receptionist.App) {
	t.Helper()
	cfg := receptionist.DefaultConfig()
	cfg.DatabaseURL = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.BaseURL = "https://bobbys.example.com"
	cfg.LocalTZ = "UTC"
	cfg.CalendarLinkSecret = "link-secret"
	for _, fn := range edit {
		fn(&cfg)
	}
	gateway := charge.NewFake()
	gateway.Secret = "whsec_test"
	svc, err := receptionist.New(cfg,
		receptionist.WithGateway(gateway),
		receptionist.WithSMSSender(notify.NewMock()),
		receptionist.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("receptionist.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if _, err := svc.SeedMenu(context.Background()); err != nil {
		t.Fatalf("SeedMenu: %v", err)
	}
	return New(svc), svc
}

func do(t *testing.T, s *Server, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func book(t *testing.T, svc *receptionist.App, date string) *store.Reservation {
	t.Helper()
	r, err := svc.Store.CreateReservation(context.Background(), store.NewReservation{
		Name:        "Alice Lee",
		PartySize:   2,
		Date:        date,
		Time:        "19:00",
		PhoneNumber: "+15551234567",
	}, nil)
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	return r
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t)
	resp, data := do(t, s, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	body := decode(t, data)
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("body = %v", body)
	}
	if body["stripe_test_mode"] != true {
		t.Errorf("stripe_test_mode = %v", body["stripe_test_mode"])
	}
	if body["google_calendar"] != "disabled" {
		t.Errorf("google_calendar = %v", body["google_calendar"])
	}
}

func TestReceptionistRoutes(t *testing.T) {
	s, _ := newServer(t)

	t.Run("bootstrap", func(t *testing.T) {
		resp, data := do(t, s, http.MethodGet, "/receptionist", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		doc := decode(t, data)
		if _, ok := doc["sections"]; !ok {
			t.Errorf("document = %s", data)
		}
	})

	t.Run("tool call", func(t *testing.T) {
		body := `{"function":"get_menu","argument":{"parsed":[{}]},"call_id":"call-1","ai_session_id":"session-1"}`
		resp, data := do(t, s, http.MethodPost, "/receptionist", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("Content-Type = %q", ct)
		}
		if out := decode(t, data); out["response"] == "" || out["response"] == nil {
			t.Errorf("response = %s", data)
		}
	})

	t.Run("malformed envelope", func(t *testing.T) {
		resp, _ := do(t, s, http.MethodPost, "/receptionist", "{not json")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestPaymentRoutes(t *testing.T) {
	s, svc := newServer(t)
	r := book(t, svc, "2025-06-10")

	t.Run("connector without data", func(t *testing.T) {
		resp, data := do(t, s, http.MethodPost, "/api/payment-processor", "{}")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d: %s", resp.StatusCode, data)
		}
	})

	t.Run("callback for unknown reservation", func(t *testing.T) {
		resp, _ := do(t, s, http.MethodPost, "/api/signalwire/payment-callback",
			`{"params":{"call_id":"call-9","for":"payment-completed"},"reservation_number":"999999"}`)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("callback body not json", func(t *testing.T) {
		resp, _ := do(t, s, http.MethodPost, "/api/signalwire/payment-callback", "nope")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("stripe config", func(t *testing.T) {
		resp, data := do(t, s, http.MethodGet, "/api/stripe/config", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if _, ok := decode(t, data)["publishable_key"]; !ok {
			t.Errorf("body = %s", data)
		}
	})

	t.Run("checkout", func(t *testing.T) {
		body := `{"reservation_id":` + jsonNumber(r.ID) + `,"amount":1798}`
		resp, data := do(t, s, http.MethodPost, "/api/stripe/create-payment-intent", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
		if secret, _ := decode(t, data)["client_secret"].(string); secret == "" {
			t.Errorf("body = %s", data)
		}
	})

	t.Run("checkout without amount", func(t *testing.T) {
		resp, _ := do(t, s, http.MethodPost, "/api/stripe/create-payment-intent", `{"reservation_id":1}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("webhook bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
		resp, err := s.App().Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestCalendarFeed(t *testing.T) {
	s, svc := newServer(t)
	book(t, svc, "2025-06-10")
	book(t, svc, "2025-08-01")

	resp, data := do(t, s, http.MethodGet, "/api/reservations/calendar", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var events []calendar.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("default range events = %d, want 1", len(events))
	}
	if events[0].Start != "2025-06-10T19:00:00" || events[0].Title != "Alice Lee (2 people)" {
		t.Errorf("event = %+v", events[0])
	}

	_, data = do(t, s, http.MethodGet, "/api/reservations/calendar?start=2025-06-01T00:00:00&end=2025-08-31", "")
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("explicit range events = %d, want 2", len(events))
	}
}

func TestCalendarLink(t *testing.T) {
	s, svc := newServer(t)
	r := book(t, svc, "2025-06-10")

	link, err := svc.Links.URL(r.ReservationNumber)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	target := strings.TrimPrefix(link, svc.Config.BaseURL)
	resp, data := do(t, s, http.MethodGet, target, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "reservation-"+r.ReservationNumber+".ics") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(string(data), "BEGIN:VCALENDAR") {
		t.Errorf("body = %s", data)
	}

	resp, _ = do(t, s, http.MethodGet, "/calendar?token=forged", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("forged token status = %d", resp.StatusCode)
	}
}

func TestCalendarLinkDisabled(t *testing.T) {
	s, _ := newServer(t, func(c *receptionist.Config) { c.CalendarLinkSecret = "" })
	resp, _ := do(t, s, http.MethodGet, "/calendar?token=x", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRefreshTrigger(t *testing.T) {
	s, _ := newServer(t)

	resp, data := do(t, s, http.MethodPost, "/api/calendar/refresh-trigger", `{"event_type":"reservation_moved"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid event status = %d: %s", resp.StatusCode, data)
	}

	resp, _ = do(t, s, http.MethodPost, "/api/calendar/refresh-trigger", "{")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json status = %d", resp.StatusCode)
	}
}

func TestRefreshTriggerReachesWebsocket(t *testing.T) {
	s, svc := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Hub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.App().Listener(ln) }()
	defer func() { _ = s.Shutdown(context.Background()) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/calendar", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return svc.Hub.ClientCount() == 1 })

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/calendar/refresh-trigger", "application/json",
		strings.NewReader(`{"event_type":"reservation_updated","reservation_number":"123456"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got calendar.RefreshEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventType != calendar.ReservationUpdated || got.Source != calendar.SourceTrigger || got.ReservationNumber != "123456" {
		t.Errorf("got %+v", got)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s, _ := newServer(t)
	resp, _ := do(t, s, http.MethodGet, "/ws/calendar", "")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCleanupRoutes(t *testing.T) {
	s, _ := newServer(t)

	resp, data := do(t, s, http.MethodPost, "/debug/cleanup-sessions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if decode(t, data)["success"] != true {
		t.Errorf("body = %s", data)
	}

	resp, data = do(t, s, http.MethodGet, "/debug/cleanup-status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, data)
	jobs, _ := body["jobs"].([]any)
	if len(jobs) != 2 {
		t.Errorf("jobs = %v", body["jobs"])
	}
}

func TestGoogleRoutes(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s, _ := newServer(t)
		resp, _ := do(t, s, http.MethodGet, "/api/google/auth", "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("consent redirect", func(t *testing.T) {
		s, _ := newServer(t, func(c *receptionist.Config) {
			c.GoogleClientID = "client-id"
			c.GoogleClientSecret = "client-secret"
			c.GoogleTokenPath = t.TempDir() + "/token.json"
		})
		resp, _ := do(t, s, http.MethodGet, "/api/google/auth", "")
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		loc := resp.Header.Get("Location")
		if !strings.Contains(loc, "accounts.google.com") || !strings.Contains(loc, "client-id") {
			t.Errorf("Location = %q", loc)
		}

		resp, _ = do(t, s, http.MethodGet, "/api/google/callback?state=unknown&code=abc", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("unknown state status = %d", resp.StatusCode)
		}
	})
}

func TestOAuthState(t *testing.T) {
	s := &Server{states: map[string]time.Time{}}
	s.newState("abc")
	if !s.takeState("abc") {
		t.Fatal("fresh state rejected")
	}
	if s.takeState("abc") {
		t.Error("state accepted twice")
	}
	s.states["old"] = time.Now().Add(-2 * oauthStateTTL)
	if s.takeState("old") {
		t.Error("expired state accepted")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
