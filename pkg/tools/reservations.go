package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/order"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

const changedBy = "phone"

func reservationTools(d *Deps) []Tool {
	return []Tool{
		// ============================================================
		// create_reservation - Book a table, optionally with a pre-order
		// ============================================================
		{
			Name: CreateReservation,
			Purpose: `Create a new restaurant reservation. Call this once you know the name, party size, date, time and phone number. ` +
				`If the guests want to order food ahead, pass party_orders (one entry per person) and read the returned summary back for confirmation. ` +
				`Set old_school to true when the caller does not want to pre-order.`,
			Parameters: map[string]any{
				"name":             stringParam("Name for the reservation. Several names joined with 'and' are split into the party."),
				"party_size":       intParam("Number of people, 1 to 20"),
				"date":             stringParam("Reservation date (YYYY-MM-DD, or as spoken: 'tomorrow', 'next Friday')"),
				"time":             stringParam("Reservation time (24-hour HH:MM, or as spoken: '7 pm')"),
				"phone_number":     stringParam("Customer phone number"),
				"special_requests": stringParam("Special requests or occasion"),
				"old_school":       boolParam("True when the caller does not want to pre-order food"),
				"party_orders": arrayParam("Pre-order per person", objectParam(map[string]any{
					"person_name": stringParam("Who the items are for"),
					"items": arrayParam("Items for this person", objectParam(map[string]any{
						"menu_item_id": intParam("Menu item id"),
						"quantity":     intParam("How many"),
					}, "menu_item_id")),
				}, "items")),
				"pre_order": namedItemsParam("Pre-order items by name, for a single diner"),
			},
			Required: []string{"name", "party_size", "date", "time", "phone_number"},
			Handler:  d.createReservation,
		},

		// ============================================================
		// get_reservation - Look up an existing reservation
		// ============================================================
		{
			Name:    GetReservation,
			Purpose: "Look up an existing reservation by reservation number, name, date, time, party size or phone number.",
			Parameters: map[string]any{
				"reservation_number":  stringParam("6-digit reservation number"),
				"reservation_id":      intParam("Internal reservation id"),
				"confirmation_number": stringParam("Payment confirmation number"),
				"name":                stringParam("Full name on the reservation"),
				"first_name":          stringParam("First name"),
				"last_name":           stringParam("Last name"),
				"date":                stringParam("Reservation date"),
				"time":                stringParam("Reservation time"),
				"party_size":          intParam("Number of people"),
				"email":               stringParam("Email address"),
				"phone_number":        stringParam("Phone number on the reservation"),
			},
			Handler: d.getReservation,
		},

		// ============================================================
		// update_reservation - Change date, time, party size or requests
		// ============================================================
		{
			Name:    UpdateReservation,
			Purpose: "Change an existing reservation's date, time, party size, name, phone number or special requests.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"reservation_id":     intParam("Internal reservation id"),
				"name":               stringParam("New name"),
				"party_size":         intParam("New number of people"),
				"date":               stringParam("New date"),
				"time":               stringParam("New time"),
				"phone_number":       stringParam("Phone number on the reservation, or the new one"),
				"special_requests":   stringParam("New special requests"),
			},
			Handler: d.updateReservation,
		},

		// ============================================================
		// cancel_reservation
		// ============================================================
		{
			Name:    CancelReservation,
			Purpose: "Cancel an existing reservation. Confirm with the caller before calling.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"reservation_id":     intParam("Internal reservation id"),
				"phone_number":       stringParam("Phone number on the reservation, used to verify the caller"),
			},
			Handler: d.cancelReservation,
		},

		// ============================================================
		// add_to_reservation - Add pre-order items to a booking
		// ============================================================
		{
			Name:    AddToReservation,
			Purpose: "Add food or drinks to an existing reservation's pre-order.",
			Parameters: map[string]any{
				"reservation_number": stringParam("6-digit reservation number"),
				"person_name":        stringParam("Who the items are for; defaults to the name on the reservation"),
				"items":              namedItemsParam("Items to add"),
			},
			Required: []string{"items"},
			Handler:  d.addToReservation,
		},
	}
}

// lookup controls how a reservation is located.
type lookup struct {
	// callerID allows the caller's number as the last resort.
	callerID  bool
	cancelled bool
}

// rememberedReservation is the reservation number from memory or the
// conversation so far.
func (d *Deps) rememberedReservation(c *Call) string {
	if n, ok := d.Memory.Fact(c.SessionID, memory.FactReservationNumber); ok {
		return n
	}
	if n := nlu.LastAssistantReservationNumber(c.Log); n != "" {
		return n
	}
	return nlu.ExtractConversationContext(c.Log).ReservationNumber
}

// findReservation resolves the reservation a call refers to: explicit
// identifiers first, then the conversation, then phone numbers.
func (d *Deps) findReservation(ctx context.Context, c *Call, o lookup) (*store.Reservation, error) {
	a := c.Args
	crit := store.Criteria{IncludeCancelled: o.cancelled}
	switch {
	case digits(a.String("reservation_number")) != "":
		crit.ReservationNumber = digits(a.String("reservation_number"))
	case a.Has("reservation_id"):
		id, _ := a.Int("reservation_id")
		if id <= 0 {
			return nil, store.ErrNotFound
		}
		crit.ID = uint(id)
	case a.Has("confirmation_number"):
		crit.ConfirmationNumber = a.String("confirmation_number")
	default:
		if n := d.rememberedReservation(c); n != "" {
			crit.ReservationNumber = n
			break
		}
		phone := a.String("phone_number")
		if phone == "" && o.callerID {
			phone = c.CallerID
		}
		if phone == "" {
			return nil, errNoIdentifier
		}
		crit.PhoneNumber = phone
	}
	return d.Store.FindReservation(ctx, crit)
}

func (d *Deps) notifyCalendar(t calendar.EventType, r *store.Reservation) {
	d.Calendar.Notify(calendar.NewEvent(t, r, calendar.SourceTool))
}

func (d *Deps) createReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	sess := d.Memory.Session(c.SessionID)

	if sess.AwaitingConfirmation() {
		switch nlu.DetectFromLog(c.Log, true) {
		case nlu.DecisionConfirm:
			return d.bookPending(ctx, c, res, sess.PendingOrder)
		case nlu.DecisionCancel:
			d.Memory.Update(c.SessionID, clearPending)
			return res.SetResponse("No problem, I haven't booked anything. Is there anything else I can help you with?"), nil
		case nlu.DecisionModify:
			d.Memory.Update(c.SessionID, clearPending)
		default:
			return res.SetResponse("Before I book the table, please confirm the pre-order. " + sess.PendingOrder.Summary), nil
		}
	}

	a := c.Args
	now := d.now()
	info := nlu.ExtractReservationInfo(c.Log, c.CallerID, now, d.loc())

	names := nlu.NameResult{Name: info.Name, AdditionalNames: info.AdditionalNames}
	if n := a.String("name"); n != "" {
		names = nlu.SplitCompoundName(n)
	}
	party, _ := a.Int("party_size")
	if party <= 0 {
		party = info.PartySize
	}
	if party <= 0 && len(names.AdditionalNames) > 0 {
		party = len(names.All())
	}
	date := info.Date
	if s := a.String("date"); s != "" {
		if v, err := nlu.NormalizeDate(s, now, d.loc()); err == nil {
			date = v
		}
	}
	clock := info.Time
	if s := a.String("time"); s != "" {
		if v, err := nlu.NormalizeTime(s); err == nil {
			clock = v
		}
	}
	phone := ""
	if p, ok := nlu.NormalizePhone(a.String("phone_number")); ok {
		phone = p
	}
	if phone == "" {
		phone = info.PhoneNumber
	}
	special := a.First("special_requests")
	if special == "" {
		special = info.SpecialRequests
	}

	var missing []string
	if names.Name == "" {
		missing = append(missing, "the name for the reservation")
	}
	if party <= 0 {
		missing = append(missing, "how many people will be joining")
	}
	if date == "" {
		missing = append(missing, "the date")
	}
	if clock == "" {
		missing = append(missing, "the time")
	}
	if phone == "" {
		missing = append(missing, "a phone number")
	}
	if len(missing) > 0 {
		return res.SetResponse("To book your table I still need " + joinWords(missing) + "."), nil
	}
	if party < store.MinPartySize || party > store.MaxPartySize {
		msg, _ := reservationProblem(store.ErrInvalidPartySize)
		return res.SetResponse(msg), nil
	}
	if err := nlu.ValidateNotPast(date, clock, now, d.loc()); err != nil {
		msg, _ := reservationProblem(err)
		return res.SetResponse(msg), nil
	}

	pending := &memory.PendingOrder{
		Name:            names.Name,
		PartySize:       party,
		Date:            date,
		Time:            clock,
		PhoneNumber:     phone,
		SpecialRequests: special,
		CreatedAt:       now,
	}

	if oldSchool, _ := a.Bool("old_school"); oldSchool {
		return d.bookPending(ctx, c, res, pending)
	}

	var provided []nlu.PartyOrder
	if err := a.Decode("party_orders", &provided); err != nil {
		d.logger().Debug("ignoring malformed party_orders", "call_id", c.CallID, "error", err)
		provided = nil
	}
	var preOrder []order.NamedItem
	if err := a.Decode("pre_order", &preOrder); err != nil {
		d.logger().Debug("ignoring malformed pre_order", "call_id", c.CallID, "error", err)
		preOrder = nil
	}
	asked := len(provided) > 0 || len(preOrder) > 0

	snapshot, err := d.menu(ctx, c, res)
	if err != nil {
		if asked {
			return res.SetResponse("I'm having trouble loading our menu right now, so I can't take the pre-order. " +
				"Would you like me to book the table without it? You can order when you arrive."), nil
		}
		return d.bookPending(ctx, c, res, pending)
	}

	asm, err := d.preOrder(ctx, c, names, provided, preOrder, snapshot)
	switch {
	case errors.Is(err, order.ErrEmptyOrder) && asked:
		return res.SetResponse("I couldn't find those items on our menu. Could you tell me again what you'd like to pre-order, " +
			"or would you prefer to order when you arrive?"), nil
	case err != nil:
		var ie *order.ItemError
		if errors.As(err, &ie) {
			msg, _ := itemProblem(err)
			return res.SetResponse(msg), nil
		}
		if !errors.Is(err, order.ErrEmptyOrder) {
			d.logger().Warn("pre-order assembly failed", "call_id", c.CallID, "error", err)
		}
		return d.bookPending(ctx, c, res, pending)
	}

	pending.Parties = asm.Parties
	pending.TotalCents = asm.TotalCents
	pending.Summary = asm.Summary
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.PendingOrder = pending
		s.WorkflowStep = memory.StepAwaitingOrderConfirmation
	})

	var b strings.Builder
	fmt.Fprintf(&b, "I have a reservation for %s, %s on %s at %s. ",
		pending.Name, people(party), spokenDate(date), notify.Clock12(clock))
	for _, dr := range asm.Dropped {
		if dr.Name != "" {
			fmt.Fprintf(&b, "I couldn't add %s. ", dr.Name)
		}
	}
	b.WriteString(asm.Summary)
	return res.SetResponse(b.String()), nil
}

// preOrder builds the pre-order from the arguments and the transcript.
func (d *Deps) preOrder(ctx context.Context, c *Call, names nlu.NameResult, provided []nlu.PartyOrder, named []order.NamedItem, snapshot []menu.Item) (*order.Assembly, error) {
	if len(provided) == 0 && len(named) > 0 {
		return order.FromPreOrder(names.Name, named, snapshot)
	}
	return d.assembler().Assemble(ctx, order.Input{
		Provided:   provided,
		Transcript: nlu.UserText(c.Log),
		Names:      names.All(),
		Menu:       snapshot,
	})
}

func clearPending(s *memory.Session) {
	s.PendingOrder = nil
	if s.WorkflowStep == memory.StepAwaitingOrderConfirmation {
		s.WorkflowStep = memory.StepNone
	}
}

// bookPending persists p and its pre-order.
func (d *Deps) bookPending(ctx context.Context, c *Call, res *swml.Result, p *memory.PendingOrder) (*swml.Result, error) {
	orders := make([]store.NewOrder, 0, len(p.Parties))
	for _, party := range p.Parties {
		person := party.PersonName
		if person == "" {
			person = p.Name
		}
		o := store.NewOrder{
			PersonName:    person,
			OrderType:     store.TypeReservation,
			TargetDate:    p.Date,
			TargetTime:    p.Time,
			CustomerPhone: p.PhoneNumber,
		}
		for _, l := range party.Items {
			o.Items = append(o.Items, store.NewItem{MenuItemID: l.MenuItemID, Quantity: l.Quantity, PriceCents: l.PriceCents})
		}
		orders = append(orders, o)
	}

	r, err := d.Store.CreateReservation(ctx, store.NewReservation{
		Name:            p.Name,
		PartySize:       p.PartySize,
		Date:            p.Date,
		Time:            p.Time,
		PhoneNumber:     p.PhoneNumber,
		SpecialRequests: p.SpecialRequests,
	}, orders)
	if err != nil {
		if msg, ok := reservationProblem(err); ok {
			d.Memory.Update(c.SessionID, clearPending)
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	total := r.TotalCents()
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.SetFact(memory.FactReservationNumber, r.ReservationNumber)
		s.SetFact(memory.FactCustomerName, r.Name)
		s.SetFact(memory.FactPhoneNumber, r.PhoneNumber)
		s.PendingOrder = nil
		s.WorkflowStep = memory.StepReservationCreated
		s.PaymentNeeded = total > 0
	})
	d.notifyCalendar(calendar.ReservationCreated, r)
	d.logger().Info("reservation created",
		"reservation_number", r.ReservationNumber,
		"party_size", r.PartySize,
		"orders", len(r.Orders),
		"total", total.String())

	var b strings.Builder
	fmt.Fprintf(&b, "Perfect! Your reservation for %s is confirmed for %s. Your reservation number is %s.",
		r.Name, slot(r), r.ReservationNumber)
	if r.SpecialRequests != "" {
		fmt.Fprintf(&b, " I've noted: %s.", r.SpecialRequests)
	}
	if total > 0 {
		fmt.Fprintf(&b, " Your pre-order total is %s and it will be ready when you arrive. "+
			"Would you like to pay now by card, or pay when you arrive?", total.Format())
		b.WriteString(" I can also text you a confirmation with all the details.")
	} else {
		b.WriteString(" Would you like me to text you a confirmation with the details?")
	}
	return res.SetResponse(b.String()), nil
}

func (d *Deps) getReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	a := c.Args
	now := d.now()

	crit := store.Criteria{IncludeCancelled: true}
	crit.ReservationNumber = digits(a.String("reservation_number"))
	if id, ok := a.Int("reservation_id"); ok && id > 0 {
		crit.ID = uint(id)
	}
	crit.ConfirmationNumber = a.String("confirmation_number")
	crit.Name = a.String("name")
	if crit.Name == "" {
		crit.Name = strings.TrimSpace(a.String("first_name") + " " + a.String("last_name"))
	}
	if s := a.String("date"); s != "" {
		if v, err := nlu.NormalizeDate(s, now, d.loc()); err == nil {
			crit.Date = v
		}
	}
	if s := a.String("time"); s != "" {
		if v, err := nlu.NormalizeTime(s); err == nil {
			crit.Time = v
		}
	}
	crit.PartySize, _ = a.Int("party_size")
	crit.PhoneNumber = a.String("phone_number")

	explicit := crit.ReservationNumber != "" || crit.ID != 0 || crit.ConfirmationNumber != "" ||
		crit.Name != "" || crit.PhoneNumber != ""
	if !explicit {
		crit.ReservationNumber = d.rememberedReservation(c)
		if crit.ReservationNumber == "" {
			crit.PhoneNumber = c.CallerID
		}
	}
	if crit.ReservationNumber == "" && crit.ID == 0 && crit.ConfirmationNumber == "" &&
		crit.Name == "" && crit.PhoneNumber == "" {
		return res.SetResponse("I'd be happy to look that up. Could you give me your reservation number, or the name the reservation is under?"), nil
	}

	list, err := d.Store.FindReservations(ctx, crit)
	if errors.Is(err, store.ErrNotFound) && explicit && crit.PhoneNumber == "" && c.CallerID != "" {
		list, err = d.Store.FindReservations(ctx, store.Criteria{PhoneNumber: c.CallerID})
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res.SetResponse("I couldn't find a reservation matching that. Could you double-check the reservation number, " +
			"or tell me the name and date it's under?"), nil
	case err != nil:
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	if len(list) > 1 {
		var b strings.Builder
		fmt.Fprintf(&b, "I found %d reservations. ", len(list))
		for i := range list {
			if i == 3 {
				break
			}
			r := &list[i]
			fmt.Fprintf(&b, "%s, %s, reservation number %s. ", r.Name, slot(r), r.ReservationNumber)
		}
		b.WriteString("Which one are you calling about?")
		return res.SetResponse(b.String()), nil
	}

	r := &list[0]
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.SetFact(memory.FactReservationNumber, r.ReservationNumber)
		s.SetFact(memory.FactCustomerName, r.Name)
		s.SetFact(memory.FactPhoneNumber, r.PhoneNumber)
	})
	return res.SetResponse(describeReservation(r) + " Is there anything you'd like to change?"), nil
}

// describeReservation reads a reservation back to the caller.
func describeReservation(r *store.Reservation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found the reservation for %s: %s. The reservation number is %s.",
		r.Name, slot(r), r.ReservationNumber)
	if r.Status == store.StatusCancelled {
		b.WriteString(" This reservation has been cancelled.")
		return b.String()
	}
	if r.SpecialRequests != "" {
		fmt.Fprintf(&b, " Special requests: %s.", r.SpecialRequests)
	}
	var parts []string
	for _, o := range r.Orders {
		if o.Status == store.OrderCancelled || len(o.Items) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", o.PersonName, orderItemsText(o.Items)))
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " Pre-order: %s. Total %s.", strings.Join(parts, "; "), r.TotalCents().Format())
	}
	switch {
	case r.IsPaid():
		fmt.Fprintf(&b, " It's paid, confirmation number %s.", swml.Spell(r.Confirmation()))
	case r.AmountDueCents() > 0:
		fmt.Fprintf(&b, " The balance of %s hasn't been paid yet.", r.AmountDueCents().Format())
	}
	return b.String()
}

func (d *Deps) updateReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	a := c.Args
	now := d.now()

	r, err := d.findReservation(ctx, c, lookup{})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}

	p := store.Patch{ChangedBy: changedBy}
	if s := a.String("name"); s != "" && !strings.EqualFold(s, r.Name) {
		p.Name = &s
	}
	if n, ok := a.Int("party_size"); ok && n > 0 && n != r.PartySize {
		p.PartySize = &n
	}
	if s := a.String("date"); s != "" {
		v, err := nlu.NormalizeDate(s, now, d.loc())
		if err != nil {
			return res.SetResponse("I didn't catch the new date. What day would you like to move the reservation to?"), nil
		}
		if v != r.Date {
			p.Date = &v
		}
	}
	if s := a.String("time"); s != "" {
		v, err := nlu.NormalizeTime(s)
		if err != nil {
			return res.SetResponse("I didn't catch the new time. What time would you like?"), nil
		}
		if v != r.Time {
			p.Time = &v
		}
	}
	if v, ok := nlu.NormalizePhone(a.String("phone_number")); ok && !samePhone(v, r.PhoneNumber) {
		p.PhoneNumber = &v
	}
	if a.Has("special_requests") {
		s := a.String("special_requests")
		if s != r.SpecialRequests {
			p.SpecialRequests = &s
		}
	}
	if p.Empty() {
		return res.SetResponse(fmt.Sprintf("Your reservation is currently for %s. What would you like to change? "+
			"I can update the date, time, party size or special requests.", slot(r))), nil
	}

	updated, err := d.Store.UpdateReservation(ctx, r.ID, p)
	if err != nil {
		if msg, ok := reservationProblem(err); ok {
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("update reservation: %w", err)
	}
	d.Memory.SetFact(c.SessionID, memory.FactReservationNumber, updated.ReservationNumber)
	d.notifyCalendar(calendar.ReservationUpdated, updated)

	msg := fmt.Sprintf("All set! Your reservation is now for %s. Your reservation number is still %s.",
		slot(updated), updated.ReservationNumber)
	if err := d.sendSMS(ctx, res, updated.PhoneNumber, d.templates().ReservationUpdate(updated)); err == nil {
		msg += " I've texted you the updated details."
	}
	return res.SetResponse(msg), nil
}

func (d *Deps) cancelReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	r, err := d.findReservation(ctx, c, lookup{cancelled: true})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}
	if phone := c.Args.String("phone_number"); phone != "" && c.Args.Has("reservation_number") && !samePhone(phone, r.PhoneNumber) {
		return res.SetResponse("That phone number doesn't match the reservation. Could you double-check the reservation number?"), nil
	}
	if r.Status == store.StatusCancelled {
		return res.SetResponse(fmt.Sprintf("Reservation %s is already cancelled. Is there anything else I can help you with?", r.ReservationNumber)), nil
	}

	cancelled, already, err := d.Store.CancelReservation(ctx, r.ID)
	if err != nil {
		if msg, ok := reservationProblem(err); ok {
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}
	if already {
		return res.SetResponse(fmt.Sprintf("Reservation %s is already cancelled.", r.ReservationNumber)), nil
	}
	d.Memory.Update(c.SessionID, func(s *memory.Session) { s.PaymentNeeded = false })
	d.notifyCalendar(calendar.ReservationCancelled, cancelled)

	msg := fmt.Sprintf("Your reservation for %s, %s, has been cancelled.", cancelled.Name, slot(cancelled))
	if cancelled.IsPaid() && cancelled.PaymentAmountCents != nil {
		msg += fmt.Sprintf(" Since you prepaid %s, our team will refund it to your card within 5 to 10 business days.",
			cancelled.PaymentAmountCents.Format())
	}
	_ = d.sendSMS(ctx, res, cancelled.PhoneNumber, d.templates().ReservationUpdate(cancelled))
	return res.SetResponse(msg + " We hope to see you another time!"), nil
}

func (d *Deps) addToReservation(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	var items []order.NamedItem
	if err := c.Args.Decode("items", &items); err != nil || len(items) == 0 {
		return res.SetResponse("What would you like to add to the order?"), nil
	}

	r, err := d.findReservation(ctx, c, lookup{})
	if resp, done, err := lookupProblem(res, err); done {
		return resp, err
	}

	snapshot, err := d.menu(ctx, c, res)
	if err != nil {
		return res.SetResponse("I'm having trouble loading our menu right now. You can add items when you arrive, or try again in a moment."), nil
	}
	lines, _, err := order.FromNamed(items, snapshot)
	if err != nil {
		if msg, ok := itemProblem(err); ok {
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("add to reservation: %w", err)
	}

	add := make([]store.NewItem, len(lines))
	for i, l := range lines {
		add[i] = store.NewItem{MenuItemID: l.MenuItemID, Quantity: l.Quantity, PriceCents: l.PriceCents}
	}
	person := c.Args.String("person_name")
	o, err := d.Store.AddItemsToReservation(ctx, r.ID, person, add)
	if err != nil {
		if msg, ok := reservationProblem(err); ok {
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("add to reservation: %w", err)
	}
	updated, err := d.Store.FindReservation(ctx, store.Criteria{ID: r.ID})
	if err != nil {
		return nil, fmt.Errorf("add to reservation: %w", err)
	}
	d.notifyCalendar(calendar.ReservationUpdated, updated)

	msg := fmt.Sprintf("I've added %s to %s's order.", linesText(lines), o.PersonName)
	if r.IsPaid() {
		return res.SetResponse(msg + " Your earlier payment covered the original pre-order, so the new items can be settled when you arrive."), nil
	}
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.SetFact(memory.FactReservationNumber, updated.ReservationNumber)
		s.PaymentNeeded = updated.AmountDueCents() > 0
	})
	msg += fmt.Sprintf(" Your pre-order total is now %s. Would you like to pay now by card, or when you arrive?", updated.TotalCents().Format())
	return res.SetResponse(msg), nil
}

// lookupProblem answers a failed reservation lookup. done is false when
// the lookup succeeded.
func lookupProblem(res *swml.Result, err error) (*swml.Result, bool, error) {
	switch {
	case err == nil:
		return nil, false, nil
	case errors.Is(err, errNoIdentifier):
		return res.SetResponse("Could you give me your 6-digit reservation number?"), true, nil
	case errors.Is(err, store.ErrNotFound):
		msg, _ := reservationProblem(err)
		return res.SetResponse(msg), true, nil
	}
	return nil, true, fmt.Errorf("find reservation: %w", err)
}

func samePhone(a, b string) bool {
	va := nlu.PhoneVariants(a)
	for _, x := range nlu.PhoneVariants(b) {
		for _, y := range va {
			if x == y {
				return true
			}
		}
	}
	return false
}
