package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/store"
)

// Event is a reservation as shown on the calendar page.
type Event struct {
	ID            uint           `json:"id"`
	Title         string         `json:"title"`
	Start         string         `json:"start"`
	End           string         `json:"end"`
	ClassName     string         `json:"className"`
	ExtendedProps map[string]any `json:"extendedProps"`
}

// Title renders "Alice Lee (2 people)", prefixed when cancelled.
func Title(name string, partySize int, cancelled bool) string {
	unit := "people"
	if partySize == 1 {
		unit = "person"
	}
	title := fmt.Sprintf("%s (%d %s)", name, partySize, unit)
	if cancelled {
		title = "[CANCELLED] " + title
	}
	return title
}

// Events converts reservations to calendar events. Reservations whose date
// or time cannot be parsed are skipped.
func Events(reservations []store.Reservation) []Event {
	events := make([]Event, 0, len(reservations))
	for _, r := range reservations {
		start, err := time.Parse("2006-01-02 15:04", r.Date+" "+r.Time)
		if err != nil {
			continue
		}
		status := r.Status
		if status == "" {
			status = store.StatusConfirmed
		}
		events = append(events, Event{
			ID:        r.ID,
			Title:     Title(r.Name, r.PartySize, status == store.StatusCancelled),
			Start:     start.Format("2006-01-02T15:04:05"),
			End:       start.Add(ReservationLength).Format("2006-01-02T15:04:05"),
			ClassName: "reservation-" + status,
			ExtendedProps: map[string]any{
				"reservationNumber": r.ReservationNumber,
				"partySize":         r.PartySize,
				"phoneNumber":       r.PhoneNumber,
				"status":            status,
				"paymentStatus":     r.PaymentStatus,
				"specialRequests":   r.SpecialRequests,
			},
		})
	}
	return events
}

// ICS renders r as a single-event iCalendar file.
func ICS(r *store.Reservation, loc *time.Location, restaurant string, now time.Time) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("calendar: reservation %s: %w", r.ReservationNumber, err)
	}
	const stamp = "20060102T150405Z"

	desc := icsEscape(fmt.Sprintf("Reservation #%s for %s", r.ReservationNumber, Title(r.Name, r.PartySize, false)))
	if r.SpecialRequests != "" {
		desc += `\nSpecial requests: ` + icsEscape(r.SpecialRequests)
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Bobby's Table//Reservations//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		fmt.Sprintf("UID:reservation-%s@bobbystable", r.ReservationNumber),
		"DTSTAMP:" + now.UTC().Format(stamp),
		"DTSTART:" + start.UTC().Format(stamp),
		"DTEND:" + start.Add(ReservationLength).UTC().Format(stamp),
		"SUMMARY:" + icsEscape(fmt.Sprintf("Dinner at %s", restaurant)),
		"DESCRIPTION:" + desc,
	}
	if r.Status == store.StatusCancelled {
		lines = append(lines, "STATUS:CANCELLED")
	} else {
		lines = append(lines, "STATUS:CONFIRMED")
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n"), nil
}

var icsReplacer = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

func icsEscape(s string) string {
	return icsReplacer.Replace(s)
}
