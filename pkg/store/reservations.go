package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
	pastBuffer  = time.Minute
)

// Audit actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionCancelled = "cancelled"
	ActionPaid      = "paid"
	ActionItemsAdd  = "items_added"
)

// NewReservation holds the fields of a reservation to create.
type NewReservation struct {
	Name            string
	PartySize       int
	Date            string
	Time            string
	PhoneNumber     string
	SpecialRequests string
}

// NewItem is an order line to insert, priced at the time of the call.
type NewItem struct {
	MenuItemID int64
	Quantity   int
	PriceCents money.Cents
	Notes      string
}

// NewOrder holds one person's pre-order or a standalone order.
type NewOrder struct {
	PersonName          string
	OrderType           string
	TargetDate          string
	TargetTime          string
	CustomerPhone       string
	CustomerAddress     string
	SpecialInstructions string
	Items               []NewItem
}

// CreateReservation inserts the reservation and its pre-orders in a single
// transaction, assigning a fresh 6-digit reservation number and 5-digit
// order numbers.
func (s *Store) CreateReservation(ctx context.Context, in NewReservation, orders []NewOrder) (*Reservation, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	if in.PartySize < MinPartySize || in.PartySize > MaxPartySize {
		return nil, ErrInvalidPartySize
	}
	clock, err := normalizeClock(in.Time)
	if err != nil {
		return nil, err
	}
	in.Time = clock
	if _, err := s.parseSlot(in.Date, in.Time); err != nil {
		return nil, err
	}

	var created Reservation
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		number, err := s.newReservationNumber(tx)
		if err != nil {
			return err
		}
		created = Reservation{
			ReservationNumber: number,
			Name:              strings.TrimSpace(in.Name),
			PartySize:         in.PartySize,
			Date:              in.Date,
			Time:              in.Time,
			PhoneNumber:       in.PhoneNumber,
			Status:            StatusConfirmed,
			SpecialRequests:   in.SpecialRequests,
			PaymentStatus:     PaymentUnpaid,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		for _, o := range orders {
			if len(o.Items) == 0 {
				continue
			}
			o.OrderType = TypeReservation
			o.TargetDate, o.TargetTime = in.Date, in.Time
			if o.CustomerPhone == "" {
				o.CustomerPhone = in.PhoneNumber
			}
			if _, err := s.insertOrder(tx, &created.ID, o); err != nil {
				return err
			}
		}
		return s.audit(tx, created.ID, ActionCreated, map[string]any{
			"reservation_number": number,
			"party_size":         in.PartySize,
			"date":               in.Date,
			"time":               in.Time,
			"orders":             len(orders),
		}, "phone")
	})
	if err != nil {
		return nil, fmt.Errorf("store: create reservation: %w", err)
	}
	return s.reservationByID(ctx, created.ID)
}

// insertOrder creates an order with its items and returns it.
func (s *Store) insertOrder(tx *gorm.DB, reservationID *uint, in NewOrder) (*Order, error) {
	number, err := s.newOrderNumber(tx)
	if err != nil {
		return nil, err
	}
	o := Order{
		OrderNumber:         number,
		ReservationID:       reservationID,
		PersonName:          in.PersonName,
		Status:              OrderPending,
		TargetDate:          in.TargetDate,
		TargetTime:          in.TargetTime,
		OrderType:           in.OrderType,
		CustomerPhone:       in.CustomerPhone,
		CustomerAddress:     in.CustomerAddress,
		SpecialInstructions: in.SpecialInstructions,
		PaymentStatus:       PaymentUnpaid,
	}
	for _, it := range in.Items {
		item := OrderItem{
			MenuItemID:       uint(it.MenuItemID),
			Quantity:         clampQuantity(it.Quantity),
			PriceAtTimeCents: it.PriceCents,
			Notes:            it.Notes,
		}
		o.TotalCents += item.LineCents()
		o.Items = append(o.Items, item)
	}
	items := o.Items
	o.Items = nil
	if err := tx.Omit("Items").Create(&o).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].OrderID = o.ID
	}
	if len(items) > 0 {
		if err := tx.Omit("MenuItem").Create(&items).Error; err != nil {
			return nil, err
		}
	}
	o.Items = items
	return &o, nil
}

// Criteria selects reservations. Keys are tried in precedence order:
// confirmation number, reservation number, id, name with the remaining
// filters, and finally phone number.
type Criteria struct {
	ConfirmationNumber string
	ReservationNumber  string
	ID                 uint
	Name               string
	Date               string
	Time               string
	PartySize          int
	PhoneNumber        string
	// IncludeCancelled also returns cancelled reservations.
	IncludeCancelled bool
}

// FindReservation returns the best match for c, or ErrNotFound.
func (s *Store) FindReservation(ctx context.Context, c Criteria) (*Reservation, error) {
	list, err := s.FindReservations(ctx, c)
	if err != nil {
		return nil, err
	}
	return &list[0], nil
}

// FindReservations returns every reservation matched by the first criteria
// level that yields results, newest first.
func (s *Store) FindReservations(ctx context.Context, c Criteria) ([]Reservation, error) {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&Reservation{}).Preload("Orders.Items.MenuItem")
		if !c.IncludeCancelled {
			q = q.Where("status <> ?", StatusCancelled)
		}
		return q.Order("id DESC")
	}
	var levels []func(*gorm.DB) *gorm.DB
	if v := strings.ToUpper(strings.TrimSpace(c.ConfirmationNumber)); v != "" {
		levels = append(levels, func(q *gorm.DB) *gorm.DB { return q.Where("confirmation_number = ?", v) })
	}
	if v := strings.TrimSpace(c.ReservationNumber); v != "" {
		levels = append(levels, func(q *gorm.DB) *gorm.DB { return q.Where("reservation_number = ?", v) })
	}
	if c.ID != 0 {
		levels = append(levels, func(q *gorm.DB) *gorm.DB { return q.Where("id = ?", c.ID) })
	}
	if v := strings.ToLower(strings.TrimSpace(c.Name)); v != "" {
		levels = append(levels, func(q *gorm.DB) *gorm.DB {
			q = q.Where("LOWER(name) LIKE ?", "%"+v+"%")
			if c.Date != "" {
				q = q.Where("date = ?", c.Date)
			}
			if c.Time != "" {
				q = q.Where("time = ?", c.Time)
			}
			if c.PartySize > 0 {
				q = q.Where("party_size = ?", c.PartySize)
			}
			return q
		})
	}
	if variants := nlu.PhoneVariants(c.PhoneNumber); len(variants) > 0 {
		levels = append(levels, func(q *gorm.DB) *gorm.DB {
			q = q.Where("phone_number IN ?", variants)
			if c.Date != "" {
				q = q.Where("date = ?", c.Date)
			}
			return q
		})
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no search criteria", ErrMissingField)
	}

	for _, level := range levels {
		var out []Reservation
		if err := level(base()).Find(&out).Error; err != nil {
			return nil, fmt.Errorf("store: find reservation: %w", err)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) reservationByID(ctx context.Context, id uint) (*Reservation, error) {
	var r Reservation
	err := s.db.WithContext(ctx).Preload("Orders.Items.MenuItem").First(&r, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// Patch is a partial reservation update; nil fields are unchanged.
type Patch struct {
	Name            *string
	PartySize       *int
	Date            *string
	Time            *string
	PhoneNumber     *string
	SpecialRequests *string
	ChangedBy       string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.PartySize == nil && p.Date == nil && p.Time == nil &&
		p.PhoneNumber == nil && p.SpecialRequests == nil
}

// UpdateReservation applies p. A new date or time must not be in the past
// and must fall within operating hours; the party size must stay within
// 1..20. Each change is recorded in the appointment history.
func (s *Store) UpdateReservation(ctx context.Context, id uint, p Patch) (*Reservation, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Reservation
		if err := tx.First(&r, id).Error; err != nil {
			return notFound(err)
		}
		if r.Status == StatusCancelled {
			return ErrCancelled
		}

		changes := map[string]any{}
		updates := map[string]any{}
		set := func(field string, old, new any) {
			if old != new {
				changes[field] = map[string]any{"old": old, "new": new}
				updates[field] = new
			}
		}

		if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
			set("name", r.Name, strings.TrimSpace(*p.Name))
		}
		if p.PartySize != nil {
			if *p.PartySize < MinPartySize || *p.PartySize > MaxPartySize {
				return ErrInvalidPartySize
			}
			set("party_size", r.PartySize, *p.PartySize)
		}
		if p.Date != nil || p.Time != nil {
			date, clock := r.Date, r.Time
			if p.Date != nil {
				date = *p.Date
			}
			if p.Time != nil {
				c, err := normalizeClock(*p.Time)
				if err != nil {
					return err
				}
				clock = c
			}
			if _, err := s.parseSlot(date, clock); err != nil {
				return err
			}
			if clock < OpeningTime || clock > ClosingTime {
				return ErrOutsideHours
			}
			set("date", r.Date, date)
			set("time", r.Time, clock)
		}
		if p.PhoneNumber != nil {
			phone := *p.PhoneNumber
			if e164, ok := nlu.NormalizePhone(phone); ok {
				phone = e164
			}
			set("phone_number", r.PhoneNumber, phone)
		}
		if p.SpecialRequests != nil {
			set("special_requests", r.SpecialRequests, *p.SpecialRequests)
		}
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&r).Updates(updates).Error; err != nil {
			return err
		}
		if d, ok := updates["date"]; ok {
			tx.Model(&Order{}).Where("reservation_id = ?", r.ID).Update("target_date", d)
		}
		if t, ok := updates["time"]; ok {
			tx.Model(&Order{}).Where("reservation_id = ?", r.ID).Update("target_time", t)
		}
		changedBy := p.ChangedBy
		if changedBy == "" {
			changedBy = "phone"
		}
		return s.audit(tx, r.ID, ActionUpdated, changes, changedBy)
	})
	if err != nil {
		return nil, err
	}
	return s.reservationByID(ctx, id)
}

// CancelReservation marks the reservation cancelled along with its pending
// orders. Cancelling twice is not an error; already reports the second call.
func (s *Store) CancelReservation(ctx context.Context, id uint) (r *Reservation, already bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur Reservation
		if err := tx.First(&cur, id).Error; err != nil {
			return notFound(err)
		}
		if cur.Status == StatusCancelled {
			already = true
			return nil
		}
		if err := tx.Model(&cur).Update("status", StatusCancelled).Error; err != nil {
			return err
		}
		if err := tx.Model(&Order{}).
			Where("reservation_id = ? AND status IN ?", cur.ID, []string{OrderPending, OrderPreparing}).
			Update("status", OrderCancelled).Error; err != nil {
			return err
		}
		return s.audit(tx, cur.ID, ActionCancelled, map[string]any{
			"status": map[string]any{"old": cur.Status, "new": StatusCancelled},
		}, "phone")
	})
	if err != nil {
		return nil, false, err
	}
	r, err = s.reservationByID(ctx, id)
	return r, already, err
}

// PaymentResult is the outcome of marking a reservation or order paid.
type PaymentResult struct {
	ConfirmationNumber string
	// AlreadyPaid is set when the record was paid before this call.
	AlreadyPaid bool
	// IntentMismatch is set when the earlier payment used a different intent.
	IntentMismatch bool
}

// MarkReservationPaid transitions the reservation to paid with a new
// 8-character confirmation number. If it is already paid, the existing
// confirmation is returned and nothing changes, whichever intent is given.
func (s *Store) MarkReservationPaid(ctx context.Context, id uint, amount money.Cents, intentID, method string) (PaymentResult, error) {
	var res PaymentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conf, err := s.newConfirmationNumber(tx)
		if err != nil {
			return err
		}
		now := s.cfg.Now()
		upd := tx.Model(&Reservation{}).
			Where("id = ? AND payment_status <> ?", id, PaymentPaid).
			Updates(map[string]any{
				"payment_status":       PaymentPaid,
				"payment_amount_cents": int64(amount),
				"payment_intent_id":    intentID,
				"payment_date":         now,
				"confirmation_number":  conf,
				"payment_method":       method,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			var cur Reservation
			if err := tx.First(&cur, id).Error; err != nil {
				return notFound(err)
			}
			res = PaymentResult{
				ConfirmationNumber: cur.Confirmation(),
				AlreadyPaid:        true,
				IntentMismatch:     intentID != "" && cur.PaymentIntentID != "" && cur.PaymentIntentID != intentID,
			}
			return nil
		}
		res.ConfirmationNumber = conf
		if err := tx.Model(&Order{}).
			Where("reservation_id = ? AND status <> ?", id, OrderCancelled).
			Updates(map[string]any{"payment_status": PaymentPaid, "payment_intent_id": intentID, "payment_date": now}).Error; err != nil {
			return err
		}
		return s.audit(tx, id, ActionPaid, map[string]any{
			"amount_cents":      int64(amount),
			"payment_intent_id": intentID,
			"confirmation":      conf,
		}, "payment")
	})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("store: mark reservation paid: %w", err)
	}
	if res.IntentMismatch {
		s.logger.Warn("reservation already paid with a different intent", "reservation_id", id, "intent", intentID)
	}
	return res, nil
}

// SetPaymentIntent records the intent for a payment in progress.
func (s *Store) SetPaymentIntent(ctx context.Context, reservationID uint, intentID string) error {
	return s.db.WithContext(ctx).Model(&Reservation{}).
		Where("id = ? AND payment_status <> ?", reservationID, PaymentPaid).
		Updates(map[string]any{"payment_intent_id": intentID, "payment_status": PaymentPending}).Error
}

// ResetPaymentStatus returns a pending reservation to unpaid after a failed attempt.
func (s *Store) ResetPaymentStatus(ctx context.Context, reservationID uint) error {
	return s.db.WithContext(ctx).Model(&Reservation{}).
		Where("id = ? AND payment_status = ?", reservationID, PaymentPending).
		Update("payment_status", PaymentUnpaid).Error
}

// AddItemsToReservation appends items to the person's order under the
// reservation, creating the order when the person has none.
func (s *Store) AddItemsToReservation(ctx context.Context, reservationID uint, person string, items []NewItem) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items", ErrMissingField)
	}
	var orderID uint
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		var r Reservation
		if err := tx.First(&r, reservationID).Error; err != nil {
			return notFound(err)
		}
		if r.Status == StatusCancelled {
			return ErrCancelled
		}
		if person == "" {
			person = r.Name
		}

		var o Order
		err := tx.Where("reservation_id = ? AND LOWER(person_name) = ? AND status <> ?", r.ID, strings.ToLower(person), OrderCancelled).
			First(&o).Error
		switch {
		case err == nil:
			var added money.Cents
			for _, it := range items {
				row := OrderItem{
					OrderID:          o.ID,
					MenuItemID:       uint(it.MenuItemID),
					Quantity:         clampQuantity(it.Quantity),
					PriceAtTimeCents: it.PriceCents,
					Notes:            it.Notes,
				}
				if err := tx.Omit("MenuItem").Create(&row).Error; err != nil {
					return err
				}
				added += row.LineCents()
			}
			if err := tx.Model(&o).Update("total_cents", o.TotalCents+added).Error; err != nil {
				return err
			}
			orderID = o.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			created, err := s.insertOrder(tx, &r.ID, NewOrder{
				PersonName:    person,
				OrderType:     TypeReservation,
				TargetDate:    r.Date,
				TargetTime:    r.Time,
				CustomerPhone: r.PhoneNumber,
				Items:         items,
			})
			if err != nil {
				return err
			}
			orderID = created.ID
		default:
			return err
		}
		if r.IsPaid() {
			// new items leave a balance on a paid reservation
			if err := tx.Model(&Order{}).Where("id = ?", orderID).Update("payment_status", PaymentUnpaid).Error; err != nil {
				return err
			}
		}
		return s.audit(tx, r.ID, ActionItemsAdd, map[string]any{"person": person, "items": len(items)}, "phone")
	})
	if err != nil {
		return nil, fmt.Errorf("store: add items: %w", err)
	}
	return s.orderByID(ctx, orderID)
}

// ListReservationsOn returns the reservations on date ordered by time.
func (s *Store) ListReservationsOn(ctx context.Context, date string) ([]Reservation, error) {
	return s.ListReservationsBetween(ctx, date, date)
}

// ListReservationsBetween returns reservations dated from..to inclusive,
// cancelled ones included, ordered by date and time.
func (s *Store) ListReservationsBetween(ctx context.Context, from, to string) ([]Reservation, error) {
	var out []Reservation
	err := s.db.WithContext(ctx).Preload("Orders.Items.MenuItem").
		Where("date >= ? AND date <= ?", from, to).
		Order("date ASC, time ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list reservations: %w", err)
	}
	return out, nil
}

// History returns the audit rows of a reservation, oldest first.
func (s *Store) History(ctx context.Context, reservationID uint) ([]AppointmentHistory, error) {
	var out []AppointmentHistory
	err := s.db.WithContext(ctx).Where("reservation_id = ?", reservationID).Order("id ASC").Find(&out).Error
	return out, err
}

func (s *Store) audit(tx *gorm.DB, reservationID uint, action string, changes map[string]any, by string) error {
	raw, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	return tx.Create(&AppointmentHistory{
		ReservationID: reservationID,
		Action:        action,
		Changes:       datatypes.JSON(raw),
		ChangedBy:     by,
	}).Error
}

func normalizeClock(clock string) (string, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(clock))
	if err != nil {
		return "", fmt.Errorf("%w: time %q", ErrInvalidDateTime, clock)
	}
	return t.Format(clockLayout), nil
}

// parseSlot validates a date and time and rejects slots earlier than now
// minus a one-minute buffer.
func (s *Store) parseSlot(date, clock string) (time.Time, error) {
	if _, err := time.Parse(clockLayout, clock); err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidDateTime, clock)
	}
	at, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, s.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidDateTime, date)
	}
	if at.Before(s.now().Add(-pastBuffer)) {
		return time.Time{}, ErrInPast
	}
	return at, nil
}

func clampQuantity(q int) int {
	switch {
	case q < 1:
		return 1
	case q > nlu.MaxQuantity:
		return nlu.MaxQuantity
	}
	return q
}
