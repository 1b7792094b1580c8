// Package calendar keeps the reservation calendar in sync: it fans refresh
// events out to websocket clients, mirrors reservations to Google Calendar
// and renders calendar views of reservations.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/store"
)

// EventType names what changed.
type EventType string

// Refresh event types.
const (
	ReservationCreated   EventType = "reservation_created"
	ReservationUpdated   EventType = "reservation_updated"
	ReservationCancelled EventType = "reservation_cancelled"
	PaymentCompleted     EventType = "payment_completed"
)

// MessageType is the "type" of every refresh message sent to clients.
const MessageType = "calendar_refresh"

// Sources of refresh events.
const (
	SourceTool      = "swaig_function"
	SourceProcessor = "payment_processor"
	SourceCallback  = "payment_callback"
	SourceWebhook   = "stripe_webhook"
	SourceTrigger   = "refresh_trigger"
)

// ErrInvalidEventType is returned for an unknown event type.
var ErrInvalidEventType = errors.New("calendar: invalid event type")

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case ReservationCreated, ReservationUpdated, ReservationCancelled, PaymentCompleted:
		return true
	}
	return false
}

// RefreshEvent tells calendar views that a reservation changed.
type RefreshEvent struct {
	Type               string    `json:"type"`
	EventType          EventType `json:"event_type"`
	ReservationID      uint      `json:"reservation_id,omitempty"`
	ReservationNumber  string    `json:"reservation_number,omitempty"`
	CustomerName       string    `json:"customer_name,omitempty"`
	PartySize          int       `json:"party_size,omitempty"`
	Date               string    `json:"date,omitempty"`
	Time               string    `json:"time,omitempty"`
	PhoneNumber        string    `json:"phone_number,omitempty"`
	SpecialRequests    string    `json:"special_requests,omitempty"`
	PaymentStatus      string    `json:"payment_status,omitempty"`
	PaymentAmount      float64   `json:"payment_amount,omitempty"`
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	Source             string    `json:"source"`
	Timestamp          time.Time `json:"timestamp"`
}

// Validate checks the event type and fills in defaults.
func (e *RefreshEvent) Validate() error {
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.EventType)
	}
	e.Type = MessageType
	if e.Source == "" {
		e.Source = "unknown"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return nil
}

// NewEvent builds a refresh event describing r.
func NewEvent(t EventType, r *store.Reservation, source string) RefreshEvent {
	e := RefreshEvent{
		Type:               MessageType,
		EventType:          t,
		ReservationID:      r.ID,
		ReservationNumber:  r.ReservationNumber,
		CustomerName:       r.Name,
		PartySize:          r.PartySize,
		Date:               r.Date,
		Time:               r.Time,
		PhoneNumber:        r.PhoneNumber,
		SpecialRequests:    r.SpecialRequests,
		PaymentStatus:      r.PaymentStatus,
		ConfirmationNumber: r.Confirmation(),
		Source:             source,
		Timestamp:          time.Now(),
	}
	if r.PaymentAmountCents != nil {
		e.PaymentAmount = r.PaymentAmountCents.Dollars()
	}
	return e
}
