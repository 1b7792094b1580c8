package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

func newSignalWire(t *testing.T, status int, body string) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var reqs []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		reqs = append(reqs, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestRESTSenderPostsForm(t *testing.T) {
	srv, reqs := newSignalWire(t, http.StatusCreated, `{"sid":"SM1","status":"queued"}`)
	s, err := NewRESTSender(RESTConfig{ProjectID: "proj", Token: "tok", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), Message{To: "+15551234567", From: "+14126127565", Body: "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(*reqs) != 1 {
		t.Fatalf("requests = %d", len(*reqs))
	}
	r := (*reqs)[0]
	if r.URL.Path != "/api/laml/2010-04-01/Accounts/proj/Messages.json" {
		t.Errorf("path = %s", r.URL.Path)
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "proj" || pass != "tok" {
		t.Errorf("auth = %q %q %v", user, pass, ok)
	}
	if r.PostForm.Get("To") != "+15551234567" || r.PostForm.Get("From") != "+14126127565" || r.PostForm.Get("Body") != "hi" {
		t.Errorf("form = %v", r.PostForm)
	}
}

func TestRESTSenderRejectsNon201(t *testing.T) {
	srv, _ := newSignalWire(t, http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`)
	s, _ := NewRESTSender(RESTConfig{ProjectID: "proj", Token: "tok", BaseURL: srv.URL})
	err := s.Send(context.Background(), Message{To: "+15551234567", From: "+14126127565", Body: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "21211" || apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestNewRESTSenderRequiresCredentials(t *testing.T) {
	if _, err := NewRESTSender(RESTConfig{Space: "bobby"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v", err)
	}
}

func TestSpaceHost(t *testing.T) {
	tests := map[string]string{
		"bobby":                         "bobby.signalwire.com",
		"bobby.signalwire.com":          "bobby.signalwire.com",
		"https://bobby.signalwire.com/": "bobby.signalwire.com",
		"":                              "",
	}
	for in, want := range tests {
		if got := SpaceHost(in); got != want {
			t.Errorf("SpaceHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGatewayFallsBack(t *testing.T) {
	failing := NewMock()
	failing.SendFunc = func(context.Context, Message) error { return errors.New("sdk down") }
	backup := NewMock()
	g := NewGateway("+14126127565", WithSender(backup))

	err := g.Send(context.Background(), Message{To: "555-123-4567", Body: "hello"}, failing)
	if err != nil {
		t.Fatal(err)
	}
	sent := backup.Sent()
	if len(sent) != 1 {
		t.Fatalf("backup sent %d", len(sent))
	}
	if sent[0].To != "+15551234567" || sent[0].From != "+14126127565" {
		t.Errorf("message = %+v", sent[0])
	}
}

func TestGatewayErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no sender", func(t *testing.T) {
		g := NewGateway("+14126127565")
		if err := g.Send(ctx, Message{To: "+15551234567", Body: "x"}); !errors.Is(err, ErrNoSender) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("bad recipient", func(t *testing.T) {
		g := NewGateway("+14126127565", WithSender(NewMock()))
		if err := g.Send(ctx, Message{To: "12", Body: "x"}); !errors.Is(err, ErrNoRecipient) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		a, b := NewMock(), NewMock()
		a.SendFunc = func(context.Context, Message) error { return errors.New("a") }
		b.SendFunc = func(context.Context, Message) error { return errors.New("b") }
		g := NewGateway("+14126127565", WithSender(b))
		err := g.Send(ctx, Message{To: "+15551234567", Body: "x"}, a)
		var ce *ChainError
		if !errors.As(err, &ce) || len(ce.Errors) != 2 {
			t.Fatalf("got %v", err)
		}
		if !strings.Contains(err.Error(), "all 2 senders failed") {
			t.Errorf("message = %q", err.Error())
		}
	})
}

func TestActionSenderAttachesSendSMS(t *testing.T) {
	res := swml.NewResult("Sent!")
	g := NewGateway("+14126127565")
	if err := g.Send(context.Background(), Message{To: "+15551234567", Body: "details"}, NewActionSender(res)); err != nil {
		t.Fatal(err)
	}
	if !res.HasAction(swml.ActionSWML) {
		t.Errorf("actions = %v", res.Actions)
	}
}

func TestLinkSigner(t *testing.T) {
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	s, err := NewLinkSigner("https://bobbys.example/", "secret")
	if err != nil {
		t.Fatal(err)
	}
	s.SetClock(func() time.Time { return now })

	link, err := s.URL("123456")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(link, "https://bobbys.example/calendar?token=") {
		t.Errorf("link = %s", link)
	}
	tok, _ := s.Token("123456")
	got, err := s.Verify(tok)
	if err != nil || got != "123456" {
		t.Errorf("Verify = %q, %v", got, err)
	}

	other, _ := NewLinkSigner("https://bobbys.example", "other")
	other.SetClock(func() time.Time { return now })
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("wrong secret: got %v", err)
	}

	s.SetClock(func() time.Time { return now.Add(LinkTTL + time.Hour) })
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("expired: got %v", err)
	}

	if _, err := NewLinkSigner("x", ""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func sampleReservation() *store.Reservation {
	conf := "AB12CD34"
	return &store.Reservation{
		ReservationNumber:  "123456",
		Name:               "Alice Lee",
		PartySize:          2,
		Date:               "2025-06-10",
		Time:               "19:00",
		PhoneNumber:        "+15551234567",
		Status:             store.StatusConfirmed,
		SpecialRequests:    "window seat",
		ConfirmationNumber: &conf,
		Orders: []store.Order{{
			PersonName: "Alice",
			Status:     store.OrderPending,
			TotalCents: 1798,
			Items: []store.OrderItem{
				{Quantity: 1, PriceAtTimeCents: 1299, MenuItem: store.MenuItem{Name: "Buffalo Wings"}},
				{Quantity: 1, PriceAtTimeCents: 499, MenuItem: store.MenuItem{Name: "Draft Beer"}},
			},
		}},
	}
}

func TestReservationConfirmation(t *testing.T) {
	links, _ := NewLinkSigner("https://bobbys.example", "secret")
	body := NewTemplates(links).ReservationConfirmation(sampleReservation())
	for _, want := range []string{
		"Reservation Confirmed!",
		"Reservation: #123456",
		"Party size: 2 people",
		"Time: 7:00 PM",
		"Special requests: window seat",
		"Buffalo Wings $12.99",
		"Pre-order total: $17.98",
		"https://bobbys.example/calendar?token=",
		"(412) 612-7565",
		"Reply STOP to opt out.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestPaymentReceipt(t *testing.T) {
	paid := time.Date(2025, 6, 9, 18, 5, 0, 0, time.UTC)
	body := NewTemplates(nil).PaymentReceipt(sampleReservation(), money.Cents(1798), "AB12CD34", paid)
	for _, want := range []string{"Payment Receipt", "Confirmation: AB12CD34", "Amount paid: $17.98", "06/09/2025 6:05 PM", "Draft Beer $4.99"} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "calendar") {
		t.Error("no link signer means no calendar link")
	}
}

func TestReservationUpdateCancelled(t *testing.T) {
	r := sampleReservation()
	r.Status = store.StatusCancelled
	body := NewTemplates(nil).ReservationUpdate(r)
	if !strings.Contains(body, "Reservation Cancelled") || !strings.Contains(body, "#123456") {
		t.Errorf("body = %s", body)
	}
}
