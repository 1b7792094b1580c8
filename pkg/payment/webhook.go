package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// ProviderStripe names Stripe in the processed-event table.
const ProviderStripe = "stripe"

// Webhook handles a Stripe event. Each event id is processed once; a
// redelivery is acknowledged without side effects.
func (p *Processor) Webhook(ctx context.Context, payload []byte, signature string) (int, map[string]any) {
	evt, err := p.Gateway.VerifyWebhook(payload, signature)
	switch {
	case errors.Is(err, charge.ErrInvalidSignature):
		p.logger.Warn("webhook signature rejected")
		return http.StatusBadRequest, map[string]any{"error": "Invalid signature"}
	case err != nil:
		p.logger.Warn("webhook payload rejected", "error", err)
		return http.StatusBadRequest, map[string]any{"error": "Invalid payload"}
	}
	logger := p.logger.With("event_id", evt.ID, "event_type", evt.Type)

	err = p.Store.RecordEvent(ctx, ProviderStripe, evt.ID, evt.Type, evt.Raw)
	switch {
	case errors.Is(err, store.ErrDuplicateEvent):
		logger.Info("duplicate webhook ignored")
		return http.StatusOK, map[string]any{"status": StatusSuccess, "duplicate": true}
	case err != nil:
		logger.Error("recording webhook failed", "error", err)
		return http.StatusInternalServerError, map[string]any{"error": "could not record event"}
	}

	if evt.Intent == nil {
		logger.Info("webhook ignored")
		return http.StatusOK, map[string]any{"status": StatusSuccess}
	}
	switch evt.Type {
	case charge.EventIntentSucceeded:
		if err := p.intentSucceeded(ctx, evt.Intent); err != nil {
			logger.Error("settling webhook payment failed", "intent", evt.Intent.ID, "error", err)
			return http.StatusInternalServerError, map[string]any{"error": err.Error()}
		}
	case charge.EventIntentFailed:
		p.intentFailed(ctx, evt.Intent)
	default:
		logger.Info("webhook ignored")
	}
	return http.StatusOK, map[string]any{"status": StatusSuccess}
}

// intentSucceeded settles the booking named in the intent's metadata, or
// the one the intent was recorded against.
func (p *Processor) intentSucceeded(ctx context.Context, intent *charge.Intent) error {
	md := intent.Metadata
	t := target{
		kind:              firstOf(md["payment_type"], md["type"]),
		reservationNumber: md["reservation_number"],
		orderNumber:       md["order_number"],
		orderID:           parseID(md["order_id"]),
		callID:            md["call_id"],
		phone:             firstOf(md["customer_phone"], md["phone_number"]),
	}
	if t.kind == "" && t.reservationNumber != "" {
		t.kind = paysession.TypeReservation
	}
	if !t.forOrder() && t.reservationNumber == "" {
		r, o, err := p.Store.FindByPaymentIntent(ctx, intent.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.logger.Warn("succeeded intent matches no booking", "intent", intent.ID)
			return nil
		case err != nil:
			return err
		case o != nil:
			t.kind, t.orderNumber = paysession.TypeOrder, o.OrderNumber
		default:
			t.kind, t.reservationNumber = paysession.TypeReservation, r.ReservationNumber
		}
	}

	s, err := p.settle(ctx, t, intent.AmountCents, intent.ID, calendar.SourceWebhook)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("succeeded intent names an unknown booking", "intent", intent.ID, "booking", t.label())
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("webhook payment settled", "intent", intent.ID, "confirmation", s.confirmation, "already_paid", s.alreadyPaid)
	return nil
}

// intentFailed returns the booking to unpaid and fails its payment session.
func (p *Processor) intentFailed(ctx context.Context, intent *charge.Intent) {
	reason := "payment_failed"
	if intent.LastError != nil {
		reason = firstOf(intent.LastError.DeclineCode, intent.LastError.Code, reason)
		p.logger.Warn("payment failed", "intent", intent.ID, "message", intent.LastError.Message)
	}
	reservation := intent.Metadata["reservation_number"]
	if reservation == "" {
		if r, _, err := p.Store.FindByPaymentIntent(ctx, intent.ID); err == nil && r != nil {
			reservation = r.ReservationNumber
		}
	}
	p.failed(ctx, intent.Metadata["call_id"], reservation, "", reason)
}
