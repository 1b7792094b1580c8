package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/order"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// RestaurantPhone is read to callers who need a human.
const RestaurantPhone = notify.DefaultRestaurantPhone

// errNoIdentifier is returned by the lookups when the call names no record.
var errNoIdentifier = errors.New("tools: no identifier")

func people(n int) string {
	if n == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", n)
}

// spokenDate renders 2025-06-10 as "Tuesday, June 10".
func spokenDate(date string) string {
	t, err := time.Parse(nlu.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

// slot renders "party of 2 on Tuesday, June 10 at 7:00 PM".
func slot(r *store.Reservation) string {
	return fmt.Sprintf("party of %d on %s at %s", r.PartySize, spokenDate(r.Date), notify.Clock12(r.Time))
}

// digits keeps the digits of a spoken or typed identifier.
func digits(s string) string {
	s = nlu.WordsToDigits(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// joinWords joins with commas and a final "and".
func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	case 2:
		return words[0] + " and " + words[1]
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}

// lineText renders "2 Buffalo Wings" or "Draft Beer".
func lineText(name string, qty int) string {
	if qty > 1 {
		return fmt.Sprintf("%d %s", qty, name)
	}
	return name
}

func linesText(lines []order.Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = lineText(l.Name, l.Quantity)
	}
	return joinWords(parts)
}

func orderItemsText(items []store.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		name := it.MenuItem.Name
		if name == "" {
			name = fmt.Sprintf("item %d", it.MenuItemID)
		}
		parts = append(parts, lineText(name, it.Quantity))
	}
	return joinWords(parts)
}

// reservationProblem turns a validation error from the store into what the
// agent should say. ok is false for internal failures.
func reservationProblem(err error) (msg string, ok bool) {
	switch {
	case errors.Is(err, store.ErrInPast), errors.Is(err, nlu.ErrPastDateTime):
		return "That date and time has already passed. What date and time would you like instead?", true
	case errors.Is(err, store.ErrInvalidPartySize):
		return fmt.Sprintf("We can seat parties of %d to %d people. How many will be dining with us?", store.MinPartySize, store.MaxPartySize), true
	case errors.Is(err, store.ErrOutsideHours):
		return fmt.Sprintf("We take reservations between %s and %s. What time would work for you?",
			notify.Clock12(store.OpeningTime), notify.Clock12(store.ClosingTime)), true
	case errors.Is(err, store.ErrInvalidDateTime):
		return "I didn't quite catch the date and time. Could you tell me again when you'd like to come in?", true
	case errors.Is(err, store.ErrCancelled):
		return "That reservation has been cancelled, so I can't change it. Would you like to make a new reservation?", true
	case errors.Is(err, store.ErrNotFound):
		return "I couldn't find that reservation. Could you give me your 6-digit reservation number?", true
	case errors.Is(err, store.ErrMissingField):
		return "I'm missing some details for that. Could you tell me a bit more?", true
	}
	return "", false
}

// itemProblem explains an item the menu could not serve.
func itemProblem(err error) (string, bool) {
	var ie *order.ItemError
	if errors.As(err, &ie) {
		if ie.Reason == order.ReasonUnavailable {
			return fmt.Sprintf("Sorry, %s is currently unavailable.", ie.Name), true
		}
		return fmt.Sprintf("Sorry, I couldn't find '%s' on our menu. Would you like me to tell you what we have?", ie.Name), true
	}
	switch {
	case errors.Is(err, order.ErrEmptyOrder):
		return "Please specify which items you'd like to order.", true
	case errors.Is(err, order.ErrMenuEmpty):
		return "Sorry, the menu is currently unavailable.", true
	}
	return "", false
}
