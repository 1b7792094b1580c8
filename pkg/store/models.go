package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/money"
)

// Reservation statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Payment statuses shared by reservations and orders.
const (
	PaymentUnpaid  = "unpaid"
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Order statuses.
const (
	OrderPending   = "pending"
	OrderPreparing = "preparing"
	OrderReady     = "ready"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

// Order types.
const (
	TypeReservation = "reservation"
	TypePickup      = "pickup"
	TypeDelivery    = "delivery"
)

// MenuItem is a dish or drink offered by the restaurant.
type MenuItem struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	Name        string      `json:"name" gorm:"size:100;uniqueIndex;not null"`
	Description string      `json:"description" gorm:"type:text"`
	PriceCents  money.Cents `json:"price_cents" gorm:"not null"`
	Category    string      `json:"category" gorm:"size:50;index"`
	IsAvailable bool        `json:"is_available" gorm:"not null"`
}

// Item converts the row to a menu snapshot entry.
func (m MenuItem) Item() menu.Item {
	return menu.Item{
		ID:          int64(m.ID),
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		PriceCents:  m.PriceCents,
		IsAvailable: m.IsAvailable,
	}
}

// Reservation is a table booking and its pre-orders.
type Reservation struct {
	ID                 uint         `json:"id" gorm:"primaryKey"`
	ReservationNumber  string       `json:"reservation_number" gorm:"size:6;uniqueIndex;not null"`
	Name               string       `json:"name" gorm:"size:100;not null"`
	PartySize          int          `json:"party_size" gorm:"not null"`
	Date               string       `json:"date" gorm:"size:10;index;not null"`
	Time               string       `json:"time" gorm:"size:5;not null"`
	PhoneNumber        string       `json:"phone_number" gorm:"size:20;index"`
	Status             string       `json:"status" gorm:"size:20;not null"`
	SpecialRequests    string       `json:"special_requests" gorm:"type:text"`
	PaymentStatus      string       `json:"payment_status" gorm:"size:20;not null"`
	PaymentIntentID    string       `json:"payment_intent_id,omitempty" gorm:"size:100;index"`
	PaymentAmountCents *money.Cents `json:"payment_amount_cents,omitempty"`
	PaymentDate        *time.Time   `json:"payment_date,omitempty"`
	ConfirmationNumber *string      `json:"confirmation_number,omitempty" gorm:"size:8;uniqueIndex"`
	PaymentMethod      string       `json:"payment_method,omitempty" gorm:"size:30"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	Orders             []Order      `json:"orders,omitempty" gorm:"foreignKey:ReservationID"`
}

// IsPaid reports whether the reservation has been paid.
func (r *Reservation) IsPaid() bool {
	return r.PaymentStatus == PaymentPaid
}

// TotalCents sums the totals of the reservation's orders that are not cancelled.
func (r *Reservation) TotalCents() money.Cents {
	var total money.Cents
	for _, o := range r.Orders {
		if o.Status != OrderCancelled {
			total += o.TotalCents
		}
	}
	return total
}

// AmountDueCents is the outstanding pre-order balance.
func (r *Reservation) AmountDueCents() money.Cents {
	if r.IsPaid() {
		return 0
	}
	return r.TotalCents()
}

// Confirmation returns the confirmation number or "".
func (r *Reservation) Confirmation() string {
	if r.ConfirmationNumber == nil {
		return ""
	}
	return *r.ConfirmationNumber
}

// ReservationTotalCents is the pre-order total of r.
func ReservationTotalCents(r *Reservation) money.Cents {
	return r.TotalCents()
}

// Order is a person's pre-order within a reservation, or a standalone
// pickup or delivery order.
type Order struct {
	ID                  uint         `json:"id" gorm:"primaryKey"`
	OrderNumber         string       `json:"order_number" gorm:"size:5;uniqueIndex;not null"`
	ReservationID       *uint        `json:"reservation_id,omitempty" gorm:"index"`
	PersonName          string       `json:"person_name" gorm:"size:100"`
	Status              string       `json:"status" gorm:"size:20;not null"`
	TotalCents          money.Cents  `json:"total_cents" gorm:"not null"`
	TargetDate          string       `json:"target_date" gorm:"size:10"`
	TargetTime          string       `json:"target_time" gorm:"size:5"`
	OrderType           string       `json:"order_type" gorm:"size:20;not null"`
	CustomerPhone       string       `json:"customer_phone,omitempty" gorm:"size:20;index"`
	CustomerAddress     string       `json:"customer_address,omitempty" gorm:"type:text"`
	SpecialInstructions string       `json:"special_instructions,omitempty" gorm:"type:text"`
	PaymentStatus       string       `json:"payment_status" gorm:"size:20;not null"`
	PaymentIntentID     string       `json:"payment_intent_id,omitempty" gorm:"size:100"`
	PaymentAmountCents  *money.Cents `json:"payment_amount_cents,omitempty"`
	PaymentDate         *time.Time   `json:"payment_date,omitempty"`
	ConfirmationNumber  *string      `json:"confirmation_number,omitempty" gorm:"size:8;uniqueIndex"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	Items               []OrderItem  `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

// IsPaid reports whether the order has been paid.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

// Confirmation returns the confirmation number or "".
func (o *Order) Confirmation() string {
	if o.ConfirmationNumber == nil {
		return ""
	}
	return *o.ConfirmationNumber
}

// OrderItem is a line of an order. PriceAtTimeCents is captured on insert
// so later menu changes do not alter historical totals.
type OrderItem struct {
	ID               uint        `json:"id" gorm:"primaryKey"`
	OrderID          uint        `json:"order_id" gorm:"index;not null"`
	MenuItemID       uint        `json:"menu_item_id" gorm:"not null"`
	MenuItem         MenuItem    `json:"menu_item" gorm:"foreignKey:MenuItemID"`
	Quantity         int         `json:"quantity" gorm:"not null"`
	PriceAtTimeCents money.Cents `json:"price_at_time_cents" gorm:"not null"`
	Notes            string      `json:"notes,omitempty" gorm:"type:text"`
}

// LineCents is price at time times quantity.
func (i OrderItem) LineCents() money.Cents {
	return i.PriceAtTimeCents * money.Cents(i.Quantity)
}

// AppointmentHistory is an audit row for a reservation change.
type AppointmentHistory struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	ReservationID uint           `json:"reservation_id" gorm:"index;not null"`
	Action        string         `json:"action" gorm:"size:30;not null"`
	Changes       datatypes.JSON `json:"changes"`
	ChangedBy     string         `json:"changed_by" gorm:"size:50"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ProcessedEvent remembers a provider event so redeliveries are ignored.
type ProcessedEvent struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	Provider  string         `json:"provider" gorm:"size:30;not null;uniqueIndex:idx_provider_event"`
	EventID   string         `json:"event_id" gorm:"size:255;not null;uniqueIndex:idx_provider_event"`
	EventType string         `json:"event_type" gorm:"size:100"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// CallbackRequest asks staff to call a customer back.
type CallbackRequest struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Name          string    `json:"name" gorm:"size:100"`
	Phone         string    `json:"phone" gorm:"size:20;not null"`
	Reason        string    `json:"reason" gorm:"type:text"`
	PreferredTime string    `json:"preferred_time" gorm:"size:50"`
	Status        string    `json:"status" gorm:"size:20;not null"`
	CreatedAt     time.Time `json:"created_at"`
}

func models() []any {
	return []any{
		&MenuItem{},
		&Reservation{},
		&Order{},
		&OrderItem{},
		&AppointmentHistory{},
		&ProcessedEvent{},
		&CallbackRequest{},
	}
}
