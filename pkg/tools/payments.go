package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

func paymentTools(d *Deps) []Tool {
	return []Tool{
		// ============================================================
		// pay_reservation - Collect card payment for a pre-order
		// ============================================================
		{
			Name: PayReservation,
			Purpose: `Collect a card payment for a reservation's pre-order. The card is entered on the phone keypad ` +
				`and never passes through the conversation. Missing details are filled in from the call.`,
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"cardholder_name":    stringParam("Name on the card"),
				"phone_number":       stringParam("Phone number for the receipt"),
			},
			Handler: d.payReservation,
		},

		// ============================================================
		// retry_payment - Start over after a declined card
		// ============================================================
		{
			Name:    RetryPayment,
			Purpose: "Try the payment again, for example with a different card, after a failed attempt.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"order_number":       stringParam("5-digit order number, when retrying an order payment"),
			},
			Handler: d.retryPayment,
		},

		// ============================================================
		// check_payment_status
		// ============================================================
		{
			Name:    CheckPaymentStatus,
			Purpose: "Tell the caller whether their payment went through.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"order_number":       stringParam("5-digit order number"),
			},
			Handler: d.checkPaymentStatus,
		},

		// ============================================================
		// pay_order - Collect card payment for a pickup or delivery order
		// ============================================================
		{
			Name:    PayOrder,
			Purpose: "Collect a card payment for a pickup or delivery order.",
			Parameters: map[string]any{
				"order_number":  stringParam("5-digit order number"),
				"order_id":      intParam("Internal order id"),
				"customer_name": stringParam("Name on the card"),
				"phone_number":  stringParam("Phone number for the receipt"),
			},
			Handler: d.payOrder,
		},
	}
}

// charge is a payment about to be collected with the pay verb.
type charge struct {
	kind              string
	reservationNumber string
	orderNumber       string
	name              string
	phone             string
	amount            money.Cents
	description       string
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (d *Deps) callID(c *Call) string {
	return firstOf(c.CallID, c.SessionID)
}

// collect registers the payment session and asks the platform to take the card.
func (d *Deps) collect(ctx context.Context, c *Call, res *swml.Result, ch charge, prefix string) (*swml.Result, error) {
	callID := d.callID(c)
	if _, err := d.Sessions.Start(ctx, paysession.StartParams{
		CallID:            callID,
		SessionID:         c.SessionID,
		ReservationNumber: ch.reservationNumber,
		OrderNumber:       ch.orderNumber,
		PaymentType:       ch.kind,
		CustomerName:      ch.name,
		PhoneNumber:       ch.phone,
		AmountCents:       ch.amount,
	}); err != nil {
		return nil, fmt.Errorf("start payment session: %w", err)
	}
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.PaymentStep = memory.PaymentStepProcessing
		s.SetFact(memory.FactReservationNumber, ch.reservationNumber)
		s.SetFact(memory.FactOrderNumber, ch.orderNumber)
		s.SetFact(memory.FactCustomerName, ch.name)
		s.SetFact(memory.FactPhoneNumber, ch.phone)
	})

	res.Pay(swml.PayParams{
		ConnectorURL: d.Payments.Connector,
		StatusURL:    d.Payments.Status,
		Amount:       ch.amount,
		Currency:     d.Currency,
		Description:  ch.description,
		SecurityCode: true,
		PostalCode:   true,
		Parameters: []swml.Parameter{
			{Name: "reservation_number", Value: ch.reservationNumber},
			{Name: "order_number", Value: ch.orderNumber},
			{Name: "customer_name", Value: ch.name},
			{Name: "phone_number", Value: ch.phone},
			{Name: "payment_type", Value: ch.kind},
			{Name: "call_id", Value: callID},
			{Name: "session_id", Value: c.SessionID},
		},
	})
	d.logger().Info("payment collection started",
		"call_id", callID,
		"type", ch.kind,
		"reservation_number", ch.reservationNumber,
		"order_number", ch.orderNumber,
		"amount", ch.amount.String())
	return res.SetResponse(prefix + fmt.Sprintf("Your total is %s. I'll connect you to our secure payment system now. "+
		"Please enter your card number using your phone's keypad.", ch.amount.Format())), nil
}

func (d *Deps) payReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	return d.startReservationPayment(ctx, c, "")
}

func (d *Deps) startReservationPayment(ctx context.Context, c *Call, prefix string) (*swml.Result, error) {
	res := swml.NewResult("")
	a := c.Args
	sess := d.Memory.Session(c.SessionID)
	memNumber, _ := sess.Fact(memory.FactReservationNumber)
	memName, _ := sess.Fact(memory.FactCustomerName)
	memPhone, _ := sess.Fact(memory.FactPhoneNumber)

	number := digits(a.String("reservation_number"))
	name := a.String("cardholder_name")
	phone, _ := nlu.NormalizePhone(a.String("phone_number"))
	if offerAccepted(sess, c.Log) {
		// The caller said yes to the offer made right after booking, so the
		// booking in memory is the one to charge.
		number = firstOf(memNumber, number)
		name = firstOf(memName, name)
		phone = firstOf(memPhone, phone)
	}
	if number == "" {
		number = d.rememberedReservation(c)
	}
	if number == "" {
		return res.SetResponse("I'd be happy to take your payment. Could you give me your 6-digit reservation number?"), nil
	}

	r, err := d.Store.FindReservation(ctx, store.Criteria{ReservationNumber: number})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res.SetResponse(fmt.Sprintf("I couldn't find reservation %s. Could you double-check the number for me?", number)), nil
	case err != nil:
		return nil, fmt.Errorf("pay reservation: %w", err)
	}
	if r.IsPaid() {
		return res.SetResponse(fmt.Sprintf("Good news, reservation %s is already paid. Your confirmation number is %s.",
			r.ReservationNumber, swml.Spell(r.Confirmation()))), nil
	}
	due := r.AmountDueCents()
	if due <= 0 {
		d.Memory.Update(c.SessionID, func(s *memory.Session) { s.PaymentNeeded = false })
		return res.SetResponse(fmt.Sprintf("There's no payment required for reservation %s since there's no pre-order on it. "+
			"You're all set!", r.ReservationNumber)), nil
	}

	callerPhone, _ := nlu.NormalizePhone(c.CallerID)
	return d.collect(ctx, c, res, charge{
		kind:              paysession.TypeReservation,
		reservationNumber: r.ReservationNumber,
		name:              firstOf(name, memName, nlu.ExtractConversationContext(c.Log).CustomerName, r.Name),
		phone:             firstOf(phone, memPhone, callerPhone, r.PhoneNumber),
		amount:            due,
		description:       fmt.Sprintf("Bobby's Table reservation %s", r.ReservationNumber),
	}, prefix)
}

// offerAccepted reports whether the caller's last turn accepts the payment
// offered when the reservation was booked.
func offerAccepted(sess memory.Session, log []nlu.Turn) bool {
	if !sess.PaymentNeeded {
		return false
	}
	last := nlu.RecentUserTurns(log, 1)
	return len(last) == 1 && nlu.IsAffirmative(last[0])
}

// rememberedOrder is the order number from memory or the conversation.
func (d *Deps) rememberedOrder(c *Call) string {
	if n, ok := d.Memory.Fact(c.SessionID, memory.FactOrderNumber); ok {
		return n
	}
	return nlu.ExtractConversationContext(c.Log).OrderNumber
}

func (d *Deps) findOrder(ctx context.Context, c *Call) (*store.Order, error) {
	a := c.Args
	number := firstOf(digits(a.String("order_number")), d.rememberedOrder(c))
	if number != "" {
		return d.Store.FindOrder(ctx, store.OrderCriteria{OrderNumber: number})
	}
	phone := firstOf(a.String("customer_phone"), a.String("phone_number"))
	if phone == "" {
		return nil, errNoIdentifier
	}
	return d.Store.FindOrder(ctx, store.OrderCriteria{CustomerPhone: phone, CustomerName: a.String("customer_name")})
}

func (d *Deps) payOrder(ctx context.Context, c *Call) (*swml.Result, error) {
	return d.startOrderPayment(ctx, c, "")
}

func (d *Deps) startOrderPayment(ctx context.Context, c *Call, prefix string) (*swml.Result, error) {
	res := swml.NewResult("")
	o, err := d.findOrder(ctx, c)
	switch {
	case errors.Is(err, errNoIdentifier):
		return res.SetResponse("Could you give me your 5-digit order number?"), nil
	case errors.Is(err, store.ErrNotFound):
		return res.SetResponse("I couldn't find that order. Could you double-check the order number for me?"), nil
	case err != nil:
		return nil, fmt.Errorf("pay order: %w", err)
	}
	if o.IsPaid() {
		return res.SetResponse(fmt.Sprintf("Order %s is already paid. Your confirmation number is %s.",
			o.OrderNumber, swml.Spell(o.Confirmation()))), nil
	}
	if o.Status == store.OrderCancelled {
		return res.SetResponse(fmt.Sprintf("Order %s has been cancelled, so there's nothing to pay.", o.OrderNumber)), nil
	}
	if o.TotalCents <= 0 {
		return res.SetResponse(fmt.Sprintf("There's no payment required for order %s.", o.OrderNumber)), nil
	}

	a := c.Args
	memName, _ := d.Memory.Fact(c.SessionID, memory.FactCustomerName)
	phone, _ := nlu.NormalizePhone(a.String("phone_number"))
	callerPhone, _ := nlu.NormalizePhone(c.CallerID)
	return d.collect(ctx, c, res, charge{
		kind:        paysession.TypeOrder,
		orderNumber: o.OrderNumber,
		name:        firstOf(a.String("customer_name"), memName, o.PersonName),
		phone:       firstOf(phone, o.CustomerPhone, callerPhone),
		amount:      o.TotalCents,
		description: fmt.Sprintf("Bobby's Table %s order %s", o.OrderType, o.OrderNumber),
	}, prefix)
}

func (d *Deps) retryPayment(ctx context.Context, c *Call) (*swml.Result, error) {
	d.Memory.SetPaymentStep(c.SessionID, memory.PaymentStepNone)
	const again = "Let's try that again. "

	if c.Args.Has("order_number") && !c.Args.Has("reservation_number") {
		return d.startOrderPayment(ctx, c, again)
	}
	number := firstOf(digits(c.Args.String("reservation_number")), d.rememberedReservation(c))
	if number == "" && d.rememberedOrder(c) != "" {
		return d.startOrderPayment(ctx, c, again)
	}
	if number != "" {
		r, err := d.Store.FindReservation(ctx, store.Criteria{ReservationNumber: number})
		if err == nil && !r.IsPaid() {
			if err := d.Store.ResetPaymentStatus(ctx, r.ID); err != nil {
				return nil, fmt.Errorf("retry payment: %w", err)
			}
		}
	}
	return d.startReservationPayment(ctx, c, again)
}

func (d *Deps) checkPaymentStatus(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	if c.Args.Has("order_number") {
		o, err := d.findOrder(ctx, c)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return res.SetResponse("I couldn't find that order. Could you double-check the order number?"), nil
		case err != nil:
			return nil, fmt.Errorf("check payment: %w", err)
		}
		if o.IsPaid() {
			return res.SetResponse(paidText(fmt.Sprintf("order %s", o.OrderNumber), o.PaymentAmountCents, o.Confirmation(), o.PaymentDate)), nil
		}
		return res.SetResponse(d.sessionText(ctx, c, "", o.OrderNumber, o.TotalCents, "order "+o.OrderNumber)), nil
	}

	r, err := d.findReservation(ctx, c, lookup{callerID: true})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}
	if r.IsPaid() {
		return res.SetResponse(paidText("reservation "+r.ReservationNumber, r.PaymentAmountCents, r.Confirmation(), r.PaymentDate)), nil
	}
	return res.SetResponse(d.sessionText(ctx, c, r.ReservationNumber, "", r.AmountDueCents(), "reservation "+r.ReservationNumber)), nil
}

func paidText(what string, amount *money.Cents, confirmation string, at *time.Time) string {
	msg := fmt.Sprintf("Your payment for %s went through", what)
	if amount != nil {
		msg = fmt.Sprintf("Your payment of %s for %s went through", amount.Format(), what)
	}
	if at != nil {
		msg += " on " + at.Format("January 2 at 3:04 PM")
	}
	return msg + fmt.Sprintf(". Your confirmation number is %s.", swml.Spell(confirmation))
}

// sessionText describes an unpaid balance using the payment session, if any.
func (d *Deps) sessionText(ctx context.Context, c *Call, reservationNumber, orderNumber string, due money.Cents, what string) string {
	sess, err := d.Sessions.Get(ctx, d.callID(c), reservationNumber)
	if err == nil && (sess.ReservationNumber == reservationNumber || (orderNumber != "" && sess.OrderNumber == orderNumber)) {
		switch sess.Step {
		case paysession.StepStarted, paysession.StepCollectingCard, paysession.StepInProgress:
			return "Your payment is still being processed. It should only take a moment."
		case paysession.StepFailed:
			return "Your last payment attempt didn't go through. Would you like to try again with a different card?"
		case paysession.StepCompleted:
			if sess.ConfirmationNumber != "" {
				return fmt.Sprintf("Your payment went through. Your confirmation number is %s.", swml.Spell(sess.ConfirmationNumber))
			}
		}
	}
	if due <= 0 {
		return fmt.Sprintf("There's no payment due on %s.", what)
	}
	return fmt.Sprintf("There's an outstanding balance of %s on %s. Would you like to pay now?", due.Format(), what)
}
