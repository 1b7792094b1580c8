package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// DefaultRestaurantPhone is printed in every message.
const DefaultRestaurantPhone = "(412) 612-7565"

const optOut = "Reply STOP to opt out."

// Templates renders SMS bodies.
type Templates struct {
	Restaurant string
	Phone      string
	// Links signs calendar URLs; nil leaves them out.
	Links *LinkSigner
}

// NewTemplates creates templates for Bobby's Table.
func NewTemplates(links *LinkSigner) *Templates {
	return &Templates{Restaurant: "Bobby's Table", Phone: DefaultRestaurantPhone, Links: links}
}

// ReservationConfirmation lists the reservation, each person's pre-order and
// a calendar link.
func (t *Templates) ReservationConfirmation(r *store.Reservation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - Reservation Confirmed!\n\n", t.Restaurant)
	t.reservationBlock(&b, r)
	if r.SpecialRequests != "" {
		fmt.Fprintf(&b, "Special requests: %s\n", r.SpecialRequests)
	}
	if total := r.TotalCents(); total > 0 {
		b.WriteString("\nPre-order:\n")
		writeOrders(&b, r.Orders)
		fmt.Fprintf(&b, "Pre-order total: %s\n", total.Format())
	}
	t.calendarLine(&b, r.ReservationNumber)
	t.footer(&b, "We look forward to serving you!")
	return b.String()
}

// PaymentReceipt confirms a reservation payment with the paid items.
func (t *Templates) PaymentReceipt(r *store.Reservation, amount money.Cents, confirmation string, paidAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - Payment Receipt\n\n", t.Restaurant)
	fmt.Fprintf(&b, "Confirmation: %s\n", confirmation)
	fmt.Fprintf(&b, "Amount paid: %s\n", amount.Format())
	fmt.Fprintf(&b, "Payment date: %s\n\n", paidAt.Format("01/02/2006 3:04 PM"))
	t.reservationBlock(&b, r)
	if len(r.Orders) > 0 {
		b.WriteString("\nPaid items:\n")
		writeOrders(&b, r.Orders)
	}
	t.calendarLine(&b, r.ReservationNumber)
	t.footer(&b, "Thank you for dining with us!")
	return b.String()
}

// OrderReceipt confirms payment of a pickup or delivery order.
func (t *Templates) OrderReceipt(o *store.Order, amount money.Cents, confirmation string, paidAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - Payment Receipt\n\n", t.Restaurant)
	fmt.Fprintf(&b, "Confirmation: %s\n", confirmation)
	fmt.Fprintf(&b, "Order #%s (%s)\n", o.OrderNumber, o.OrderType)
	if o.PersonName != "" {
		fmt.Fprintf(&b, "Name: %s\n", o.PersonName)
	}
	fmt.Fprintf(&b, "Ready: %s at %s\n", o.TargetDate, Clock12(o.TargetTime))
	if o.OrderType == store.TypeDelivery && o.CustomerAddress != "" {
		fmt.Fprintf(&b, "Deliver to: %s\n", o.CustomerAddress)
	}
	fmt.Fprintf(&b, "Amount paid: %s\n", amount.Format())
	fmt.Fprintf(&b, "Payment date: %s\n", paidAt.Format("01/02/2006 3:04 PM"))
	if len(o.Items) > 0 {
		b.WriteString("\nItems:\n")
		writeItems(&b, o.Items, "- ")
	}
	t.footer(&b, "Thank you for your order!")
	return b.String()
}

// ReservationUpdate tells the caller their reservation changed.
func (t *Templates) ReservationUpdate(r *store.Reservation) string {
	var b strings.Builder
	if r.Status == store.StatusCancelled {
		fmt.Fprintf(&b, "%s - Reservation Cancelled\n\n", t.Restaurant)
		fmt.Fprintf(&b, "Reservation #%s for %s on %s at %s has been cancelled.\n",
			r.ReservationNumber, r.Name, r.Date, Clock12(r.Time))
		t.footer(&b, "We hope to see you another time.")
		return b.String()
	}
	fmt.Fprintf(&b, "%s - Reservation Updated\n\n", t.Restaurant)
	t.reservationBlock(&b, r)
	t.calendarLine(&b, r.ReservationNumber)
	t.footer(&b, "See you soon!")
	return b.String()
}

func (t *Templates) reservationBlock(b *strings.Builder, r *store.Reservation) {
	fmt.Fprintf(b, "Reservation: #%s\n", r.ReservationNumber)
	fmt.Fprintf(b, "Name: %s\n", r.Name)
	fmt.Fprintf(b, "Party size: %s\n", people(r.PartySize))
	fmt.Fprintf(b, "Date: %s\n", r.Date)
	fmt.Fprintf(b, "Time: %s\n", Clock12(r.Time))
}

func (t *Templates) calendarLine(b *strings.Builder, reservationNumber string) {
	if t.Links == nil {
		return
	}
	link, err := t.Links.URL(reservationNumber)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "\nAdd to calendar: %s\n", link)
}

func (t *Templates) footer(b *strings.Builder, closing string) {
	fmt.Fprintf(b, "\n%s\nQuestions? Call %s\n\n%s", closing, t.Phone, optOut)
}

func writeOrders(b *strings.Builder, orders []store.Order) {
	for _, o := range orders {
		if o.Status == store.OrderCancelled || len(o.Items) == 0 {
			continue
		}
		fmt.Fprintf(b, "%s (%s):\n", o.PersonName, o.TotalCents.Format())
		writeItems(b, o.Items, "  - ")
	}
}

func writeItems(b *strings.Builder, items []store.OrderItem, prefix string) {
	for _, it := range items {
		name := it.MenuItem.Name
		if name == "" {
			name = fmt.Sprintf("Item %d", it.MenuItemID)
		}
		if it.Quantity > 1 {
			fmt.Fprintf(b, "%s%dx %s %s\n", prefix, it.Quantity, name, it.LineCents().Format())
		} else {
			fmt.Fprintf(b, "%s%s %s\n", prefix, name, it.LineCents().Format())
		}
	}
}

func people(n int) string {
	if n == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", n)
}

// Clock12 renders "19:00" as "7:00 PM". Unparseable input is returned as is.
func Clock12(hhmm string) string {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}
