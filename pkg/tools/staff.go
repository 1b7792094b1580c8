package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

// Defaults for the staff tools.
const (
	calendarDays      = 7
	maxListedBookings = 15
)

func staffTools(d *Deps) []Tool {
	return []Tool{
		// ============================================================
		// transfer_to_manager
		// ============================================================
		{
			Name:    TransferToManager,
			Purpose: "Transfer the caller to the manager when they ask for one or when you cannot help.",
			Parameters: map[string]any{
				"reason": stringParam("Why the caller wants the manager"),
			},
			Handler: d.transferToManager,
		},

		// ============================================================
		// schedule_callback
		// ============================================================
		{
			Name:    ScheduleCallback,
			Purpose: "Arrange for a staff member to call the customer back.",
			Parameters: map[string]any{
				"name":           stringParam("Customer name"),
				"phone_number":   stringParam("Number to call back"),
				"preferred_time": stringParam("When to call back"),
				"reason":         stringParam("What the call is about"),
			},
			Handler: d.scheduleCallback,
		},

		// ============================================================
		// get_calendar_events - Bookings over a date range
		// ============================================================
		{
			Name:    GetCalendarEvents,
			Purpose: "List reservations between two dates. Defaults to the next 7 days.",
			Parameters: map[string]any{
				"start_date": stringParam("First date"),
				"end_date":   stringParam("Last date"),
			},
			Handler: d.getCalendarEvents,
		},

		// ============================================================
		// get_todays_reservations
		// ============================================================
		{
			Name:       GetTodaysReservations,
			Purpose:    "List today's reservations.",
			Parameters: map[string]any{},
			Handler:    d.getTodaysReservations,
		},

		// ============================================================
		// get_reservation_summary - Counts and revenue for a day
		// ============================================================
		{
			Name:    GetReservationSummary,
			Purpose: "Summarize the reservations for a date: bookings, guests, cancellations and pre-order revenue.",
			Parameters: map[string]any{
				"date": stringParam("Date to summarize, defaults to today"),
			},
			Handler: d.getReservationSummary,
		},
	}
}

func (d *Deps) transferToManager(_ context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	if d.ManagerNumber == "" {
		return res.SetResponse("I'm sorry, our manager isn't available by phone right now. " +
			"Would you like me to schedule a callback?"), nil
	}
	d.logger().Info("transferring to manager", "call_id", c.CallID, "reason", c.Args.String("reason"))
	res.Connect(d.ManagerNumber, true)
	return res.SetResponse("I'm transferring you to our manager now. Please hold for just a moment."), nil
}

func (d *Deps) scheduleCallback(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	a := c.Args
	phone := recipient(c, "")
	if phone == "" {
		return res.SetResponse("What's the best number for us to call you back?"), nil
	}
	name := a.String("name")
	if name == "" {
		name, _ = d.Memory.Fact(c.SessionID, memory.FactCustomerName)
	}
	when := firstOf(a.String("preferred_time"), "as soon as possible")
	req, err := d.Store.CreateCallbackRequest(ctx, store.CallbackRequest{
		Name:          name,
		Phone:         phone,
		Reason:        firstOf(a.String("reason"), "general inquiry"),
		PreferredTime: when,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule callback: %w", err)
	}
	d.logger().Info("callback scheduled", "id", req.ID, "preferred_time", when)
	return res.SetResponse(fmt.Sprintf("I've scheduled a callback to the number ending in %s, %s. "+
		"A member of our team will call you then. Is there anything else I can help you with?", lastFour(phone), when)), nil
}

func (d *Deps) dateArg(c *Call, key, fallback string) string {
	if s := c.Args.String(key); s != "" {
		if v, err := nlu.NormalizeDate(s, d.now(), d.loc()); err == nil {
			return v
		}
	}
	return fallback
}

func (d *Deps) getCalendarEvents(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	today := d.now()
	from := d.dateArg(c, "start_date", today.Format(nlu.DateLayout))
	to := d.dateArg(c, "end_date", today.AddDate(0, 0, calendarDays).Format(nlu.DateLayout))
	if to < from {
		from, to = to, from
	}
	list, err := d.Store.ListReservationsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("calendar events: %w", err)
	}
	if len(list) == 0 {
		return res.SetResponse(fmt.Sprintf("There are no reservations between %s and %s.", spokenDate(from), spokenDate(to))), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d reservations between %s and %s. ", len(list), spokenDate(from), spokenDate(to))
	writeBookings(&b, list, true)
	return res.SetResponse(b.String()), nil
}

func (d *Deps) getTodaysReservations(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	today := d.now().Format(nlu.DateLayout)
	all, err := d.Store.ListReservationsOn(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("todays reservations: %w", err)
	}
	var list []store.Reservation
	for _, r := range all {
		if r.Status != store.StatusCancelled {
			list = append(list, r)
		}
	}
	if len(list) == 0 {
		return res.SetResponse("There are no reservations for today."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d reservations today. ", len(list))
	writeBookings(&b, list, false)
	return res.SetResponse(b.String()), nil
}

func writeBookings(b *strings.Builder, list []store.Reservation, withDate bool) {
	for i := range list {
		if i == maxListedBookings {
			fmt.Fprintf(b, "And %d more.", len(list)-i)
			return
		}
		r := &list[i]
		when := notify.Clock12(r.Time)
		if withDate {
			when = spokenDate(r.Date) + " at " + when
		}
		fmt.Fprintf(b, "%s: %s, number %s. ", when,
			calendar.Title(r.Name, r.PartySize, r.Status == store.StatusCancelled), r.ReservationNumber)
	}
}

func (d *Deps) getReservationSummary(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	date := d.dateArg(c, "date", d.now().Format(nlu.DateLayout))
	list, err := d.Store.ListReservationsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("reservation summary: %w", err)
	}

	var active, cancelled, guests, paid int
	var preOrders, collected money.Cents
	for i := range list {
		r := &list[i]
		if r.Status == store.StatusCancelled {
			cancelled++
			continue
		}
		active++
		guests += r.PartySize
		preOrders += r.TotalCents()
		if r.IsPaid() {
			paid++
			if r.PaymentAmountCents != nil {
				collected += *r.PaymentAmountCents
			}
		}
	}
	return res.SetResponse(fmt.Sprintf("On %s there are %d reservations for %d guests, with %d cancelled. "+
		"Pre-orders total %s, of which %d reservations have paid %s.",
		spokenDate(date), active, guests, cancelled, preOrders.Format(), paid, collected.Format())), nil
}
