package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

func smsTools(d *Deps) []Tool {
	return []Tool{
		// ============================================================
		// offer_sms_confirmation - Text the reservation details
		// ============================================================
		{
			Name: OfferSMSConfirmation,
			Purpose: `Send the reservation confirmation by text message. Only call this after asking the caller ` +
				`whether they want a text, and pass their answer as user_wants_sms.`,
			Parameters: map[string]any{
				"user_wants_sms":     boolParam("True if the caller said yes to a confirmation text"),
				"reservation_number": stringParam("6-digit reservation number"),
				"phone_number":       stringParam("Number to text, if different from the one on the reservation"),
			},
			Required: []string{"user_wants_sms"},
			Handler:  d.offerSMSConfirmation,
		},

		// ============================================================
		// send_payment_receipt - Text a receipt for a paid booking or order
		// ============================================================
		{
			Name:    SendPaymentReceipt,
			Purpose: "Text the payment receipt for a paid reservation or order.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"order_number":       stringParam("5-digit order number"),
				"phone_number":       stringParam("Number to text, if different from the one on file"),
			},
			Handler: d.sendPaymentReceipt,
		},
	}
}

func (d *Deps) templates() *notify.Templates {
	if d.Templates == nil {
		d.Templates = notify.NewTemplates(nil)
	}
	return d.Templates
}

// sendSMS texts body to the caller, attaching the message to res so the
// platform delivers it, with the gateway's own senders as fallback.
// Failures are logged and returned for the response wording only.
func (d *Deps) sendSMS(ctx context.Context, res *swml.Result, to, body string) error {
	if d.SMS == nil {
		return notify.ErrNoSender
	}
	err := d.SMS.Send(ctx, notify.Message{To: to, Body: body}, notify.NewActionSender(res))
	if err != nil {
		d.logger().Warn("sms not sent", "error", err)
	}
	return err
}

// recipient picks the number to text: the argument, then the record, then
// the caller.
func recipient(c *Call, onFile string) string {
	for _, p := range []string{c.Args.String("phone_number"), onFile, c.CallerID} {
		if v, ok := nlu.NormalizePhone(p); ok {
			return v
		}
	}
	return ""
}

func lastFour(phone string) string {
	d := digits(phone)
	if len(d) <= 4 {
		return d
	}
	return d[len(d)-4:]
}

func (d *Deps) offerSMSConfirmation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	wants, ok := c.Args.Bool("user_wants_sms")
	if !ok {
		return res.SetResponse("Would you like me to text you a confirmation with your reservation details?"), nil
	}
	if !wants {
		return res.SetResponse("No problem! Your reservation is all set. Is there anything else I can help you with?"), nil
	}

	r, err := d.findReservation(ctx, c, lookup{callerID: true})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}
	to := recipient(c, r.PhoneNumber)
	if to == "" {
		return res.SetResponse("What number should I text the confirmation to?"), nil
	}
	if err := d.sendSMS(ctx, res, to, d.templates().ReservationConfirmation(r)); err != nil {
		return res.SetResponse(fmt.Sprintf("I wasn't able to send the text right now, but your reservation is confirmed. "+
			"Your reservation number is %s.", r.ReservationNumber)), nil
	}
	return res.SetResponse(fmt.Sprintf("I've sent a confirmation text to the number ending in %s with all your reservation details. "+
		"Is there anything else I can help you with?", lastFour(to))), nil
}

func (d *Deps) sendPaymentReceipt(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	if n := digits(c.Args.String("order_number")); n != "" {
		o, err := d.Store.FindOrder(ctx, store.OrderCriteria{OrderNumber: n})
		switch {
		case errors.Is(err, store.ErrNotFound):
			return res.SetResponse(fmt.Sprintf("I couldn't find order %s. Could you double-check the number?", n)), nil
		case err != nil:
			return nil, fmt.Errorf("send receipt: %w", err)
		}
		if !o.IsPaid() || o.PaymentAmountCents == nil {
			return res.SetResponse(fmt.Sprintf("I don't see a payment on order %s yet. Would you like to pay for it now?", o.OrderNumber)), nil
		}
		to := recipient(c, o.CustomerPhone)
		body := d.templates().OrderReceipt(o, *o.PaymentAmountCents, o.Confirmation(), paidAt(o.PaymentDate, d.now()))
		return d.receiptSent(ctx, res, to, body), nil
	}

	r, err := d.findReservation(ctx, c, lookup{callerID: true, cancelled: true})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}
	if !r.IsPaid() || r.PaymentAmountCents == nil {
		return res.SetResponse(fmt.Sprintf("I don't see a payment on reservation %s yet. Would you like to pay now?", r.ReservationNumber)), nil
	}
	to := recipient(c, r.PhoneNumber)
	body := d.templates().PaymentReceipt(r, *r.PaymentAmountCents, r.Confirmation(), paidAt(r.PaymentDate, d.now()))
	return d.receiptSent(ctx, res, to, body), nil
}

func (d *Deps) receiptSent(ctx context.Context, res *swml.Result, to, body string) *swml.Result {
	if to == "" {
		return res.SetResponse("What number should I text the receipt to?")
	}
	if err := d.sendSMS(ctx, res, to, body); err != nil {
		return res.SetResponse("I wasn't able to send the receipt right now. Your payment is confirmed, and you can call us at " +
			RestaurantPhone + " for a copy.")
	}
	return res.SetResponse(fmt.Sprintf("I've sent your payment receipt to the number ending in %s.", lastFour(to)))
}

func paidAt(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}
