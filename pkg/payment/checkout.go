package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// CheckoutConfig is what a browser needs to start a card checkout.
func (p *Processor) CheckoutConfig() map[string]any {
	return map[string]any{"publishable_key": p.cfg.PublishableKey}
}

// CheckoutRequest asks for a payment intent confirmed in the browser.
type CheckoutRequest struct {
	ReservationID uint   `json:"reservation_id"`
	OrderID       uint   `json:"order_id"`
	AmountCents   int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// CreateCheckout creates an unconfirmed intent for a reservation or order
// and returns its client secret. The webhook settles it once the browser
// confirms.
func (p *Processor) CreateCheckout(ctx context.Context, req CheckoutRequest) (int, map[string]any) {
	if req.AmountCents <= 0 {
		return http.StatusBadRequest, map[string]any{"error": "Missing amount"}
	}
	if req.ReservationID == 0 && req.OrderID == 0 {
		return http.StatusBadRequest, map[string]any{"error": "Missing reservation_id or order_id"}
	}

	var (
		metadata    map[string]string
		reservation *store.Reservation
	)
	if req.ReservationID != 0 {
		r, err := p.Store.FindReservation(ctx, store.Criteria{ID: req.ReservationID})
		if err != nil {
			return checkoutLookupFailed(err, "Reservation not found")
		}
		reservation = r
		metadata = map[string]string{
			"type":               paysession.TypeReservation,
			"payment_type":       paysession.TypeReservation,
			"reservation_id":     strconv.FormatUint(uint64(r.ID), 10),
			"reservation_number": r.ReservationNumber,
			"customer_name":      r.Name,
			"customer_phone":     r.PhoneNumber,
		}
	} else {
		o, err := p.Store.FindOrder(ctx, store.OrderCriteria{ID: req.OrderID})
		if err != nil {
			return checkoutLookupFailed(err, "Order not found")
		}
		metadata = map[string]string{
			"type":           paysession.TypeOrder,
			"payment_type":   paysession.TypeOrder,
			"order_id":       strconv.FormatUint(uint64(o.ID), 10),
			"order_number":   o.OrderNumber,
			"customer_name":  o.PersonName,
			"customer_phone": o.CustomerPhone,
		}
	}

	intent, err := p.Gateway.CreatePaymentIntent(ctx, charge.IntentParams{
		AmountCents: money.Cents(req.AmountCents),
		Currency:    firstOf(req.Currency, "usd"),
		Metadata:    metadata,
	})
	if err != nil {
		p.logger.Warn("checkout intent not created", "error", err)
		return http.StatusBadRequest, map[string]any{"error": err.Error()}
	}
	if reservation != nil {
		if err := p.Store.SetPaymentIntent(ctx, reservation.ID, intent.ID); err != nil {
			p.logger.Warn("checkout intent not recorded", "reservation", reservation.ReservationNumber, "error", err)
		}
	}
	p.logger.Info("checkout intent created", "intent", intent.ID, "amount", money.Cents(req.AmountCents).String())
	return http.StatusOK, map[string]any{"client_secret": intent.ClientSecret}
}

func checkoutLookupFailed(err error, msg string) (int, map[string]any) {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, map[string]any{"error": msg}
	}
	return http.StatusInternalServerError, map[string]any{"error": "Internal server error"}
}
