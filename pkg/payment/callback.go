package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

// Callback states derived from the platform's "for" field.
const (
	StateFailed         = paysession.StepFailed
	StateCompleted      = paysession.StepCompleted
	StateCollectingCard = paysession.StepCollectingCard
	StateInProgress     = paysession.StepInProgress
	StateUnknown        = "unknown"
)

// CallbackParams are the pay verb's progress fields.
type CallbackParams struct {
	CallID          text `json:"call_id"`
	ControlID       text `json:"control_id"`
	For             text `json:"for"`
	ErrorType       text `json:"error_type"`
	Attempt         text `json:"attempt"`
	PaymentMethod   text `json:"payment_method"`
	PaymentCardType text `json:"payment_card_type"`
}

// CallbackRequest is a status callback from the pay verb. The top-level
// booking fields are sent by older integrations.
type CallbackRequest struct {
	EventType         text            `json:"event_type"`
	Params            CallbackParams  `json:"params"`
	ReservationNumber text            `json:"reservation_number"`
	OrderNumber       text            `json:"order_number"`
	CustomerName      text            `json:"customer_name"`
	PhoneNumber       text            `json:"phone_number"`
	PaymentType       text            `json:"payment_type"`
	Amount            text            `json:"amount"`
	PaymentID         text            `json:"payment_id"`
	PaymentIntentID   text            `json:"payment_intent_id"`
	Parameters        map[string]text `json:"parameters"`
}

// State maps the platform's progress marker to a payment state.
func (r *CallbackRequest) State() string {
	switch r.Params.For {
	case "payment-failed":
		return StateFailed
	case "payment-succeeded", "payment-completed":
		return StateCompleted
	case "payment-card-number":
		return StateCollectingCard
	case "expiration-date", "security-code", "postal-code", "payment-processing":
		return StateInProgress
	}
	return StateUnknown
}

func (r *CallbackRequest) param(key string) string {
	return string(r.Parameters[key])
}

// callbackTarget merges the payment session with the callback's own fields.
type callbackTarget struct {
	target
	amount    money.Cents
	paymentID string
	session   *paysession.Session
}

func (p *Processor) callbackTarget(ctx context.Context, req *CallbackRequest) callbackTarget {
	callID := string(req.Params.CallID)
	reservation := firstOf(string(req.ReservationNumber), req.param("reservation_number"))
	ct := callbackTarget{target: target{callID: callID}}
	// Callbacks may carry neither id, so the recency fallback always applies.
	sess, err := p.Sessions.Get(ctx, callID, reservation)
	switch {
	case err == nil:
		ct.session = sess
	case !errors.Is(err, paysession.ErrNotFound):
		p.logger.Warn("payment session lookup failed", "call_id", callID, "error", err)
	}
	if s := ct.session; s != nil {
		ct.kind = s.PaymentType
		ct.reservationNumber = s.ReservationNumber
		ct.orderNumber = s.OrderNumber
		ct.phone = s.PhoneNumber
		ct.sessionID = s.SessionID
		ct.amount = s.AmountCents
	}
	ct.kind = firstOf(ct.kind, string(req.PaymentType), req.param("payment_type"), paysession.TypeReservation)
	ct.reservationNumber = firstOf(ct.reservationNumber, reservation)
	ct.orderNumber = firstOf(ct.orderNumber, string(req.OrderNumber), req.param("order_number"))
	ct.phone = firstOf(ct.phone, string(req.PhoneNumber), req.param("phone_number"))
	if ct.amount == 0 {
		if c, err := money.Parse(firstOf(string(req.Amount), req.param("amount"))); err == nil {
			ct.amount = c
		}
	}
	ct.paymentID = firstOf(string(req.PaymentID), string(req.PaymentIntentID),
		req.param("payment_id"), req.param("payment_intent_id"))
	return ct
}

// Callback follows the pay verb's progress. Progress is acknowledged with
// JSON; completion returns a SWML document announcing the confirmation,
// unless the payment was settled within the announce window, in which
// case the caller has already heard it and only an ack is returned.
func (p *Processor) Callback(ctx context.Context, req *CallbackRequest) (int, any) {
	state := req.State()
	callID := string(req.Params.CallID)
	logger := p.logger.With("call_id", callID, "for", string(req.Params.For), "state", state)
	logger.Info("payment callback", "event_type", string(req.EventType), "attempt", string(req.Params.Attempt))

	ct := p.callbackTarget(ctx, req)
	sessionCallID := callID
	if ct.session != nil {
		sessionCallID = ct.session.CallID
	}

	switch state {
	case StateFailed:
		errorType := firstOf(string(req.Params.ErrorType), "payment-failed")
		p.failed(ctx, sessionCallID, ct.reservationNumber, ct.sessionID, errorType)
		return http.StatusOK, map[string]any{
			"success":     false,
			"status":      StateFailed,
			"error_type":  string(req.Params.ErrorType),
			"payment_for": string(req.Params.For),
			"attempt":     string(req.Params.Attempt),
			"call_id":     callID,
			"message":     fmt.Sprintf("Payment failed: %s", errorType),
		}

	case StateCollectingCard, StateInProgress:
		if ct.session != nil {
			if _, err := p.Sessions.UpdateStep(ctx, sessionCallID, state); err != nil {
				logger.Warn("payment step not recorded", "error", err)
			}
		}
		msg := "Payment in progress - collecting card information"
		if state == StateInProgress {
			msg = "Payment in progress - " + strings.ReplaceAll(string(req.Params.For), "-", " ")
		}
		return http.StatusOK, map[string]any{
			"success":     true,
			"status":      StateInProgress,
			"payment_for": string(req.Params.For),
			"call_id":     callID,
			"message":     msg,
		}

	case StateCompleted:
		ct.callID = sessionCallID
		return p.completed(ctx, ct)
	}

	logger.Warn("unrecognized payment callback")
	return http.StatusOK, map[string]any{
		"success":     true,
		"status":      StateUnknown,
		"payment_for": string(req.Params.For),
		"call_id":     callID,
	}
}

func (p *Processor) completed(ctx context.Context, ct callbackTarget) (int, any) {
	var (
		paidAt       *time.Time
		confirmation string
		closing      string
		label        string
	)
	switch {
	case ct.forOrder():
		o, err := p.Store.FindOrder(ctx, store.OrderCriteria{OrderNumber: ct.orderNumber})
		if err != nil {
			return p.lookupFailed(err, "Order "+ct.orderNumber)
		}
		label = "order " + o.OrderNumber
		paidAt, confirmation = o.PaymentDate, o.Confirmation()
		closing = fmt.Sprintf("Your order will be ready for %s at the scheduled time. Thank you for choosing Bobby's Table! "+
			"Have a great day!", o.OrderType)
		if o.IsPaid() && o.PaymentAmountCents != nil && ct.amount == 0 {
			ct.amount = *o.PaymentAmountCents
		}
	case ct.reservationNumber != "":
		r, err := p.Store.FindReservation(ctx, store.Criteria{ReservationNumber: ct.reservationNumber, IncludeCancelled: true})
		if err != nil {
			return p.lookupFailed(err, "Reservation "+ct.reservationNumber)
		}
		label = "reservation " + r.ReservationNumber
		paidAt, confirmation = r.PaymentDate, r.Confirmation()
		closing = "We look forward to serving you at Bobby's Table. Have a great day!"
		if r.IsPaid() && r.PaymentAmountCents != nil && ct.amount == 0 {
			ct.amount = *r.PaymentAmountCents
		}
		if !r.IsPaid() && ct.amount == 0 {
			ct.amount = r.AmountDueCents()
		}
	default:
		p.logger.Warn("payment completed without a booking", "call_id", ct.callID)
		return http.StatusOK, map[string]any{
			"success": true,
			"status":  StateCompleted,
			"call_id": ct.callID,
			"message": "Payment completed",
		}
	}

	if confirmation != "" && within(paidAt, p.now(), p.cfg.AnnounceWindow) {
		p.remember(ctx, ct.target, confirmation)
		p.logger.Info("payment already announced", "call_id", ct.callID, "booking", label, "confirmation", confirmation)
		return http.StatusOK, map[string]any{
			"success":             true,
			"status":              StateCompleted,
			"call_id":             ct.callID,
			"confirmation_number": confirmation,
			"already_processed":   true,
			"message":             "Payment already processed",
		}
	}

	if confirmation == "" {
		s, err := p.settle(ctx, ct.target, ct.amount, ct.paymentID, calendar.SourceCallback)
		if err != nil {
			p.logger.Error("settling payment from callback failed", "call_id", ct.callID, "error", err)
			return http.StatusInternalServerError, map[string]any{"success": false, "error": "payment could not be recorded"}
		}
		confirmation = s.confirmation
	} else {
		p.remember(ctx, ct.target, confirmation)
	}

	p.logger.Info("announcing payment confirmation", "call_id", ct.callID, "booking", label, "confirmation", confirmation)
	return http.StatusOK, swml.Announcement(announcement(ct.amount, confirmation, closing))
}

func (p *Processor) lookupFailed(err error, what string) (int, any) {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, map[string]any{"success": false, "error": what + " not found"}
	}
	p.logger.Error("payment callback lookup failed", "booking", what, "error", err)
	return http.StatusInternalServerError, map[string]any{"success": false, "error": "lookup failed"}
}

// announcement reads the confirmation twice, one character at a time.
func announcement(amount money.Cents, confirmation, closing string) string {
	spelled := swml.Spell(confirmation)
	var b strings.Builder
	if amount > 0 {
		fmt.Fprintf(&b, "Excellent! Your payment of %s has been processed successfully. ", amount.Format())
	} else {
		b.WriteString("Excellent! Your payment has been processed successfully. ")
	}
	fmt.Fprintf(&b, "Your confirmation number is %s. ", spelled)
	fmt.Fprintf(&b, "Please write this down: %s. ", spelled)
	b.WriteString(closing)
	return b.String()
}

// within reports whether t lies in the window before now.
func within(t *time.Time, now time.Time, window time.Duration) bool {
	if t == nil {
		return false
	}
	age := now.Sub(*t)
	return age >= -window && age <= window
}
