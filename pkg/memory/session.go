package memory

import (
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/order"
)

// Fact keys.
const (
	FactReservationNumber = "reservation_number"
	FactOrderNumber       = "order_number"
	FactCustomerName      = "customer_name"
	FactPhoneNumber       = "phone_number"
	FactPaymentIntent     = "payment_intent"
)

// PaymentConfirmationKey is the fact key holding the confirmation number
// issued for a reservation.
func PaymentConfirmationKey(reservationNumber string) string {
	return "payment_confirmation:" + reservationNumber
}

// Reservation workflow steps.
const (
	StepNone                      = ""
	StepAwaitingOrderConfirmation = "awaiting_order_confirmation"
	StepReservationCreated        = "reservation_created"
)

// Payment flow steps.
const (
	PaymentStepNone       = ""
	PaymentStepProcessing = "processing_payment"
	PaymentStepCompleted  = "payment_completed"
	PaymentStepFailed     = "payment_failed"
)

// Call is one recorded function invocation.
type Call struct {
	Function string    `json:"function"`
	At       time.Time `json:"at"`
}

// PendingOrder is a reservation with a pre-order whose summary was read back
// to the caller and is waiting for a yes. Prices are those of the menu
// snapshot at the time of the summary.
type PendingOrder struct {
	Name            string        `json:"name"`
	PartySize       int           `json:"party_size"`
	Date            string        `json:"date"`
	Time            string        `json:"time"`
	PhoneNumber     string        `json:"phone_number"`
	SpecialRequests string        `json:"special_requests,omitempty"`
	Parties         []order.Party `json:"parties"`
	TotalCents      money.Cents   `json:"total_cents"`
	Summary         string        `json:"summary"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Session is one conversation's short-term state.
type Session struct {
	ID               string               `json:"id"`
	FunctionCalls    []Call               `json:"function_calls"`
	LastFunctionTime map[string]time.Time `json:"last_function_time"`
	Facts            map[string]string    `json:"facts"`
	PendingOrder     *PendingOrder        `json:"pending_order,omitempty"`
	WorkflowStep     string               `json:"workflow_step,omitempty"`
	PaymentStep      string               `json:"payment_step,omitempty"`
	// PaymentNeeded is set when create_reservation offered payment for a
	// pre-order and the caller has not paid yet.
	PaymentNeeded bool      `json:"payment_needed,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
}

func newSession(id string) *Session {
	s := &Session{ID: id}
	s.ensure()
	return s
}

func (s *Session) ensure() {
	if s.LastFunctionTime == nil {
		s.LastFunctionTime = make(map[string]time.Time)
	}
	if s.Facts == nil {
		s.Facts = make(map[string]string)
	}
}

func (s *Session) clone() Session {
	c := *s
	c.FunctionCalls = append([]Call(nil), s.FunctionCalls...)
	c.LastFunctionTime = make(map[string]time.Time, len(s.LastFunctionTime))
	for k, v := range s.LastFunctionTime {
		c.LastFunctionTime[k] = v
	}
	c.Facts = make(map[string]string, len(s.Facts))
	for k, v := range s.Facts {
		c.Facts[k] = v
	}
	if s.PendingOrder != nil {
		p := *s.PendingOrder
		p.Parties = append([]order.Party(nil), s.PendingOrder.Parties...)
		c.PendingOrder = &p
	}
	return c
}

// Fact returns a remembered fact.
func (s Session) Fact(key string) (string, bool) {
	v, ok := s.Facts[strings.TrimSpace(key)]
	return v, ok && v != ""
}

// SetFact remembers a fact; an empty value is ignored.
func (s *Session) SetFact(key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	s.ensure()
	s.Facts[key] = value
}

// DeleteFact forgets a fact.
func (s *Session) DeleteFact(key string) {
	delete(s.Facts, strings.TrimSpace(key))
}

// PaymentActive reports whether a payment flow is under way.
func (s Session) PaymentActive() bool {
	return s.PaymentStep == PaymentStepProcessing
}

// AwaitingConfirmation reports whether a pre-order summary awaits a yes.
func (s Session) AwaitingConfirmation() bool {
	return s.WorkflowStep == StepAwaitingOrderConfirmation && s.PendingOrder != nil
}

// LastCall returns when function last ran.
func (s Session) LastCall(function string) (time.Time, bool) {
	t, ok := s.LastFunctionTime[function]
	return t, ok
}

// Fact returns a fact from the session for id.
func (m *Memory) Fact(id, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[SessionKey(id)]
	if !ok {
		return "", false
	}
	return s.Fact(key)
}

// SetFact remembers a fact for id.
func (m *Memory) SetFact(id, key, value string) {
	m.Update(id, func(s *Session) { s.SetFact(key, value) })
}

// SetPaymentStep moves the payment flow for id.
func (m *Memory) SetPaymentStep(id, step string) {
	m.Update(id, func(s *Session) { s.PaymentStep = step })
}

// PaymentActive reports whether a payment is in progress for id.
func (m *Memory) PaymentActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[SessionKey(id)]
	return ok && s.PaymentActive()
}
