// Package payment settles card payments collected by the platform's pay
// verb. The connector charges the card, the status callback follows the
// collection and announces the result, and the Stripe webhook settles
// payments confirmed outside a call.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// MethodCard is recorded as the payment method of settled payments.
const MethodCard = "credit-card"

// DefaultAnnounceWindow is how long after settlement a completion callback
// is acknowledged without announcing the confirmation again.
const DefaultAnnounceWindow = 5 * time.Minute

// Connector error codes.
const (
	CodeMissingData   = "MISSING_DATA"
	CodeMissingAmount = "MISSING_AMOUNT"
	CodeInvalidAmount = "INVALID_AMOUNT"
	CodeCardDeclined  = "CARD_DECLINED"
	CodeStripeError   = "STRIPE_ERROR"
	CodeNotFound      = "NOT_FOUND"
)

// Response statuses.
const (
	StatusSuccess        = "success"
	StatusFailed         = "failed"
	StatusRequiresAction = "requires_action"
)

var errNoTarget = errors.New("payment: no reservation or order to settle")

// Config holds Processor settings.
type Config struct {
	// PublishableKey is handed to browser checkouts.
	PublishableKey string

	// AnnounceWindow suppresses a second confirmation announcement.
	AnnounceWindow time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Option configures a Processor.
type Option func(*Config)

// WithPublishableKey sets the key returned by CheckoutConfig.
func WithPublishableKey(key string) Option {
	return func(c *Config) { c.PublishableKey = key }
}

// WithAnnounceWindow overrides DefaultAnnounceWindow.
func WithAnnounceWindow(d time.Duration) Option {
	return func(c *Config) { c.AnnounceWindow = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		AnnounceWindow: DefaultAnnounceWindow,
		Now:            time.Now,
		Logger:         log.Component("payment"),
	}
}

// Deps are the components a Processor settles payments through. Gateway,
// Store and Sessions are required.
type Deps struct {
	Gateway   charge.Gateway
	Store     *store.Store
	Sessions  *paysession.Sessions
	Memory    *memory.Memory
	SMS       *notify.Gateway
	Templates *notify.Templates
	Calendar  *calendar.Notifier
}

// Processor is the payment connector, status callback and webhook handler.
type Processor struct {
	Deps
	cfg    *Config
	logger *slog.Logger
}

// New creates a Processor.
func New(deps Deps, opts ...Option) *Processor {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if deps.Templates == nil {
		deps.Templates = notify.NewTemplates(nil)
	}
	return &Processor{Deps: deps, cfg: cfg, logger: cfg.Logger}
}

// Response is the connector's reply. ChargeID, ErrorCode and ErrorMessage
// are always present, null when not applicable, as the platform expects.
type Response struct {
	Status             string  `json:"status"`
	ChargeID           *string `json:"charge_id"`
	PaymentIntentID    string  `json:"payment_intent_id,omitempty"`
	Amount             float64 `json:"amount,omitempty"`
	Currency           string  `json:"currency,omitempty"`
	Message            string  `json:"message,omitempty"`
	ConfirmationNumber string  `json:"confirmation_number,omitempty"`
	ReservationNumber  string  `json:"reservation_number,omitempty"`
	OrderNumber        string  `json:"order_number,omitempty"`
	ClientSecret       string  `json:"client_secret,omitempty"`
	SMSStatus          string  `json:"sms_status,omitempty"`
	DeclineCode        string  `json:"decline_code,omitempty"`
	ErrorCode          *string `json:"error_code"`
	ErrorMessage       *string `json:"error_message"`
}

func ptr(s string) *string { return &s }

func failure(code, message string) *Response {
	return &Response{Status: StatusFailed, ErrorCode: ptr(code), ErrorMessage: ptr(message), Message: message}
}

// Handle decodes a connector body and processes it.
func (p *Processor) Handle(ctx context.Context, body []byte) (int, *Response) {
	req, err := ParseRequest(body)
	if err != nil {
		p.logger.Warn("payment connector rejected body", "error", err)
		return http.StatusBadRequest, failure(CodeMissingData, "No payment data received")
	}
	return p.Process(ctx, req)
}

// Process charges the card in req. Only a missing or malformed amount is a
// 4xx; declines and provider errors are reported in a 200 body.
func (p *Processor) Process(ctx context.Context, req *Request) (int, *Response) {
	logger := p.logger.With("call_id", req.CallID, "reservation", req.ReservationNumber, "order", req.OrderNumber)
	logger.Info("payment requested", "card", req.Card.String(), "amount", req.Amount, "type", req.PaymentType)

	if req.Amount == "" {
		logger.Warn("payment request without amount")
		return http.StatusBadRequest, failure(CodeMissingAmount, "Amount is required")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || amount <= 0 {
		return http.StatusBadRequest, failure(CodeInvalidAmount, fmt.Sprintf("Invalid amount format: %s", req.Amount))
	}
	sess := p.advance(ctx, req.CallID, req.ReservationNumber, paysession.StepInProgress)

	pm, resp := p.paymentMethod(ctx, logger, req)
	if resp != nil {
		return http.StatusOK, resp
	}
	intent, err := p.Gateway.CreatePaymentIntent(ctx, charge.IntentParams{
		AmountCents:     amount,
		Currency:        req.Currency,
		PaymentMethodID: pm,
		Description:     req.Description(),
		Metadata:        req.Metadata(),
		IdempotencyKey:  idempotencyKey(req, sess, amount),
	})
	if err != nil {
		return http.StatusOK, p.declined(ctx, logger, req, err)
	}
	logger.Info("payment intent created", "intent", intent.ID, "status", intent.Status)

	switch intent.Status {
	case charge.StatusSucceeded:
		return p.succeeded(ctx, logger, req, intent)
	case charge.StatusRequiresAction:
		p.markPending(ctx, req.ReservationNumber, intent.ID)
		return http.StatusOK, &Response{
			Status:          StatusRequiresAction,
			PaymentIntentID: intent.ID,
			ClientSecret:    intent.ClientSecret,
			Message:         "Payment requires additional authentication",
		}
	}
	p.failed(ctx, req.CallID, req.ReservationNumber, req.SessionID, intent.Status)
	return http.StatusOK, &Response{
		Status:          StatusFailed,
		PaymentIntentID: intent.ID,
		Message:         fmt.Sprintf("Payment failed with status: %s", intent.Status),
		ErrorCode:       ptr(CodeCardDeclined),
		ErrorMessage:    ptr("Your payment could not be completed."),
	}
}

// idempotencyKey identifies one charge attempt so a redelivered connector
// request returns the original intent. Requests without a call id get no key.
func idempotencyKey(req *Request, sess *paysession.Session, amount money.Cents) string {
	if req.CallID == "" {
		return ""
	}
	attempt := 0
	if sess != nil {
		attempt = sess.Attempt
	}
	last4 := req.Card.Number
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return fmt.Sprintf("connector:%s:%s:%d:%s:%d",
		req.CallID, firstOf(req.ReservationNumber, req.OrderNumber), attempt, last4, int64(amount))
}

// paymentMethod tokenizes the card. In test mode an account that refuses
// raw card numbers is charged with the test card instead.
func (p *Processor) paymentMethod(ctx context.Context, logger *slog.Logger, req *Request) (string, *Response) {
	pm, err := p.Gateway.CreatePaymentMethod(ctx, req.Card)
	if err == nil {
		return pm.ID, nil
	}
	if errors.Is(err, charge.ErrRawCardRejected) && p.Gateway.TestMode() {
		logger.Warn("raw card data rejected, using test payment method")
		return charge.TestPaymentMethod, nil
	}
	return "", p.declined(ctx, logger, req, err)
}

func (p *Processor) declined(ctx context.Context, logger *slog.Logger, req *Request, err error) *Response {
	if ce, ok := charge.AsCardError(err); ok {
		logger.Warn("card declined", "code", ce.Code, "decline_code", ce.DeclineCode)
		p.failed(ctx, req.CallID, req.ReservationNumber, req.SessionID, firstOf(ce.DeclineCode, ce.Code))
		resp := failure(CodeCardDeclined, ce.UserMessage())
		resp.DeclineCode = ce.DeclineCode
		return resp
	}
	logger.Error("payment provider error", "error", err)
	p.failed(ctx, req.CallID, req.ReservationNumber, req.SessionID, "processing_error")
	return failure(CodeStripeError, "We couldn't process the payment right now. Please try again.")
}

func (p *Processor) succeeded(ctx context.Context, logger *slog.Logger, req *Request, intent *charge.Intent) (int, *Response) {
	t := target{
		kind:              req.PaymentType,
		reservationNumber: req.ReservationNumber,
		orderNumber:       req.OrderNumber,
		orderID:           parseID(req.OrderID),
		callID:            req.CallID,
		sessionID:         req.SessionID,
		phone:             req.Card.Phone,
	}
	if !req.forOrder() && t.reservationNumber != "" {
		t.kind = paysession.TypeReservation
	}
	s, err := p.settle(ctx, t, intent.AmountCents, intent.ID, calendar.SourceProcessor)

	resp := &Response{
		Status:          StatusSuccess,
		ChargeID:        ptr(intent.ID),
		PaymentIntentID: intent.ID,
		Amount:          intent.AmountCents.Dollars(),
		Currency:        intent.Currency,
	}
	switch {
	case errors.Is(err, errNoTarget):
		logger.Warn("payment not linked to a reservation or order", "intent", intent.ID)
		resp.Message = fmt.Sprintf("Payment of %s processed successfully.", intent.AmountCents.Format())
		return http.StatusOK, resp
	case errors.Is(err, store.ErrNotFound):
		logger.Error("paid for an unknown booking", "intent", intent.ID)
		return http.StatusNotFound, failure(CodeNotFound, fmt.Sprintf("%s not found", t.label()))
	case err != nil:
		logger.Error("settling payment failed", "intent", intent.ID, "error", err)
		return http.StatusInternalServerError, failure(CodeStripeError, "Payment received but could not be recorded")
	}

	resp.ConfirmationNumber = s.confirmation
	resp.SMSStatus = s.smsStatus
	if s.order != nil {
		resp.OrderNumber = s.order.OrderNumber
	} else {
		resp.ReservationNumber = s.reservation.ReservationNumber
	}
	resp.Message = fmt.Sprintf("Payment of %s processed successfully for %s. Your confirmation number is %s.",
		intent.AmountCents.Format(), t.label(), s.confirmation)
	logger.Info("payment settled", "intent", intent.ID, "confirmation", s.confirmation, "already_paid", s.alreadyPaid)
	return http.StatusOK, resp
}

// target names what a payment settles.
type target struct {
	kind              string
	reservationNumber string
	orderNumber       string
	orderID           uint
	callID            string
	sessionID         string
	phone             string
}

func (t target) forOrder() bool {
	return t.kind == paysession.TypeOrder && (t.orderNumber != "" || t.orderID != 0)
}

func (t target) label() string {
	if t.forOrder() {
		if t.orderNumber != "" {
			return "Order #" + t.orderNumber
		}
		return fmt.Sprintf("Order %d", t.orderID)
	}
	return "Reservation #" + t.reservationNumber
}

// settlement is the outcome of recording a payment.
type settlement struct {
	confirmation string
	alreadyPaid  bool
	reservation  *store.Reservation
	order        *store.Order
	smsStatus    string
}

// settle marks the reservation or order paid. The first settlement enriches
// the intent, texts a receipt and refreshes calendars; repeats only return
// the existing confirmation.
func (p *Processor) settle(ctx context.Context, t target, amount money.Cents, intentID, source string) (*settlement, error) {
	var s *settlement
	switch {
	case t.forOrder():
		o, err := p.Store.FindOrder(ctx, store.OrderCriteria{OrderNumber: t.orderNumber, ID: t.orderID})
		if err != nil {
			return nil, err
		}
		res, err := p.Store.MarkOrderPaid(ctx, o.ID, amount, intentID)
		if err != nil {
			return nil, err
		}
		s = &settlement{confirmation: res.ConfirmationNumber, alreadyPaid: res.AlreadyPaid, order: o}
		if !res.AlreadyPaid {
			if fresh, err := p.Store.FindOrder(ctx, store.OrderCriteria{ID: o.ID}); err == nil {
				s.order = fresh
			}
			p.enrich(ctx, intentID, s.confirmation, paysession.TypeOrder)
			to := firstOf(t.phone, o.CustomerPhone)
			s.smsStatus = p.sendReceipt(ctx, to, p.Templates.OrderReceipt(s.order, amount, s.confirmation, p.now()))
		}
		t.orderNumber = o.OrderNumber

	case t.reservationNumber != "":
		r, err := p.Store.FindReservation(ctx, store.Criteria{ReservationNumber: t.reservationNumber, IncludeCancelled: true})
		if err != nil {
			return nil, err
		}
		if due := r.AmountDueCents(); due > 0 && due != amount {
			p.logger.Warn("payment amount differs from balance", "reservation", r.ReservationNumber,
				"paid", amount.String(), "due", due.String())
		}
		res, err := p.Store.MarkReservationPaid(ctx, r.ID, amount, intentID, MethodCard)
		if err != nil {
			return nil, err
		}
		s = &settlement{confirmation: res.ConfirmationNumber, alreadyPaid: res.AlreadyPaid, reservation: r}
		if !res.AlreadyPaid {
			if fresh, err := p.Store.FindReservation(ctx, store.Criteria{ID: r.ID, IncludeCancelled: true}); err == nil {
				s.reservation = fresh
			}
			p.enrich(ctx, intentID, s.confirmation, paysession.TypeReservation)
			to := firstOf(t.phone, r.PhoneNumber)
			s.smsStatus = p.sendReceipt(ctx, to, p.Templates.PaymentReceipt(s.reservation, amount, s.confirmation, p.now()))
			p.Calendar.Notify(calendar.NewEvent(calendar.PaymentCompleted, s.reservation, source))
		}

	default:
		return nil, errNoTarget
	}

	p.remember(ctx, t, s.confirmation)
	return s, nil
}

// enrich adds the confirmation to the intent's metadata. Failure is logged.
func (p *Processor) enrich(ctx context.Context, intentID, confirmation, kind string) {
	if !strings.HasPrefix(intentID, "pi_") {
		return
	}
	err := p.Gateway.UpdateMetadata(ctx, intentID, map[string]string{
		"confirmation_number":    confirmation,
		"payment_completed_date": p.now().Format(time.RFC3339),
		"bobby_table_status":     "confirmed_paid",
		"payment_type":           kind,
	})
	if err != nil {
		p.logger.Warn("payment intent metadata not updated", "intent", intentID, "error", err)
	}
}

// sendReceipt texts a receipt and describes the outcome.
func (p *Processor) sendReceipt(ctx context.Context, to, body string) string {
	if p.SMS == nil {
		return "SMS receipt skipped: no sender configured"
	}
	if err := p.SMS.Send(ctx, notify.Message{To: to, Body: body}); err != nil {
		p.logger.Warn("sms receipt not sent", "error", err)
		return "SMS receipt failed: " + err.Error()
	}
	return "SMS receipt sent"
}

// remember completes the payment session and records the confirmation in
// conversation memory.
func (p *Processor) remember(ctx context.Context, t target, confirmation string) {
	sessionID := t.sessionID
	if sess := p.session(ctx, t.callID, t.reservationNumber); sess != nil {
		if _, err := p.Sessions.Complete(ctx, sess.CallID, confirmation); err != nil {
			p.logger.Warn("payment session not completed", "call_id", sess.CallID, "error", err)
		}
		sessionID = firstOf(sessionID, sess.SessionID)
	}
	if p.Memory == nil || sessionID == "" {
		return
	}
	p.Memory.Update(sessionID, func(s *memory.Session) {
		s.PaymentStep = memory.PaymentStepCompleted
		s.PaymentNeeded = false
		if t.reservationNumber != "" {
			s.SetFact(memory.PaymentConfirmationKey(t.reservationNumber), confirmation)
		}
	})
}

// failed records a failed attempt. The reservation stays unpaid so the
// caller can retry.
func (p *Processor) failed(ctx context.Context, callID, reservationNumber, sessionID, errorType string) {
	if sess := p.session(ctx, callID, reservationNumber); sess != nil {
		if _, err := p.Sessions.Fail(ctx, sess.CallID, errorType); err != nil {
			p.logger.Warn("payment session not failed", "call_id", sess.CallID, "error", err)
		}
		sessionID = firstOf(sessionID, sess.SessionID)
	}
	if p.Memory != nil && sessionID != "" {
		p.Memory.SetPaymentStep(sessionID, memory.PaymentStepFailed)
	}
	if reservationNumber == "" {
		return
	}
	r, err := p.Store.FindReservation(ctx, store.Criteria{ReservationNumber: reservationNumber})
	if err != nil {
		return
	}
	if err := p.Store.ResetPaymentStatus(ctx, r.ID); err != nil {
		p.logger.Warn("payment status not reset", "reservation", reservationNumber, "error", err)
	}
}

func (p *Processor) markPending(ctx context.Context, reservationNumber, intentID string) {
	if reservationNumber == "" {
		return
	}
	r, err := p.Store.FindReservation(ctx, store.Criteria{ReservationNumber: reservationNumber})
	if err != nil {
		return
	}
	if err := p.Store.SetPaymentIntent(ctx, r.ID, intentID); err != nil {
		p.logger.Warn("payment intent not recorded", "reservation", reservationNumber, "error", err)
	}
}

// advance moves the payment session forward, ignoring unknown calls.
func (p *Processor) advance(ctx context.Context, callID, reservationNumber, step string) *paysession.Session {
	sess := p.session(ctx, callID, reservationNumber)
	if sess == nil {
		return nil
	}
	updated, err := p.Sessions.UpdateStep(ctx, sess.CallID, step)
	if err != nil {
		p.logger.Warn("payment step not recorded", "call_id", sess.CallID, "step", step, "error", err)
		return sess
	}
	return updated
}

// session resolves the payment session for a call or reservation. Without
// either there is nothing to match on.
func (p *Processor) session(ctx context.Context, callID, reservationNumber string) *paysession.Session {
	if p.Sessions == nil || (callID == "" && reservationNumber == "") {
		return nil
	}
	sess, err := p.Sessions.Get(ctx, callID, reservationNumber)
	if err != nil {
		if !errors.Is(err, paysession.ErrNotFound) {
			p.logger.Warn("payment session lookup failed", "call_id", callID, "error", err)
		}
		return nil
	}
	return sess
}

func (p *Processor) now() time.Time {
	return p.cfg.Now()
}

func parseID(s string) uint {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
