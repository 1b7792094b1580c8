package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
)

// allowed order status transitions; any non-completed order may be cancelled.
var orderTransitions = map[string][]string{
	OrderPending:   {OrderPreparing, OrderReady, OrderCancelled},
	OrderPreparing: {OrderReady, OrderCancelled},
	OrderReady:     {OrderCompleted, OrderCancelled},
}

// CreateOrder inserts a standalone pickup or delivery order.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	switch in.OrderType {
	case "":
		in.OrderType = TypePickup
	case TypePickup, TypeDelivery:
	default:
		return nil, fmt.Errorf("%w: order type %q", ErrMissingField, in.OrderType)
	}
	if in.OrderType == TypeDelivery && strings.TrimSpace(in.CustomerAddress) == "" {
		return nil, fmt.Errorf("%w: customer_address", ErrMissingField)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: items", ErrMissingField)
	}
	if p, ok := nlu.NormalizePhone(in.CustomerPhone); ok {
		in.CustomerPhone = p
	}
	if in.TargetDate == "" {
		in.TargetDate = s.now().Format(dateLayout)
	}

	var id uint
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		o, err := s.insertOrder(tx, nil, in)
		if err != nil {
			return err
		}
		id = o.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create order: %w", err)
	}
	return s.orderByID(ctx, id)
}

// OrderCriteria selects an order by number, then id, else by phone and
// optional name.
type OrderCriteria struct {
	OrderNumber   string
	ID            uint
	CustomerPhone string
	CustomerName  string
}

// FindOrder returns the order matching c, newest first, or ErrNotFound.
func (s *Store) FindOrder(ctx context.Context, c OrderCriteria) (*Order, error) {
	q := s.db.WithContext(ctx).Preload("Items.MenuItem").Order("id DESC")
	switch {
	case strings.TrimSpace(c.OrderNumber) != "":
		q = q.Where("order_number = ?", strings.TrimSpace(c.OrderNumber))
	case c.ID != 0:
		q = q.Where("id = ?", c.ID)
	case c.CustomerPhone != "":
		variants := nlu.PhoneVariants(c.CustomerPhone)
		if len(variants) == 0 {
			variants = []string{c.CustomerPhone}
		}
		q = q.Where("customer_phone IN ?", variants)
		if c.CustomerName != "" {
			q = q.Where("LOWER(person_name) LIKE ?", "%"+strings.ToLower(c.CustomerName)+"%")
		}
	default:
		return nil, fmt.Errorf("%w: order_number, id or customer_phone", ErrMissingField)
	}
	var o Order
	if err := q.First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *Store) orderByID(ctx context.Context, id uint) (*Order, error) {
	var o Order
	if err := s.db.WithContext(ctx).Preload("Items.MenuItem").First(&o, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// UpdateOrderStatus moves an order along pending, preparing, ready and
// completed. Setting the current status again is a no-op.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderNumber, status string) (*Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o Order
		if err := tx.Where("order_number = ?", orderNumber).First(&o).Error; err != nil {
			return notFound(err)
		}
		id = o.ID
		if o.Status == status {
			return nil
		}
		if !canTransition(o.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
		}
		return tx.Model(&o).Update("status", status).Error
	})
	if err != nil {
		return nil, err
	}
	return s.orderByID(ctx, id)
}

func canTransition(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkOrderPaid transitions a standalone order to paid; see MarkReservationPaid.
func (s *Store) MarkOrderPaid(ctx context.Context, id uint, amount money.Cents, intentID string) (PaymentResult, error) {
	var res PaymentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conf, err := s.newConfirmationNumber(tx)
		if err != nil {
			return err
		}
		upd := tx.Model(&Order{}).
			Where("id = ? AND payment_status <> ?", id, PaymentPaid).
			Updates(map[string]any{
				"payment_status":       PaymentPaid,
				"payment_amount_cents": int64(amount),
				"payment_intent_id":    intentID,
				"payment_date":         s.cfg.Now(),
				"confirmation_number":  conf,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected > 0 {
			res.ConfirmationNumber = conf
			return nil
		}
		var cur Order
		if err := tx.First(&cur, id).Error; err != nil {
			return notFound(err)
		}
		res = PaymentResult{
			ConfirmationNumber: cur.Confirmation(),
			AlreadyPaid:        true,
			IntentMismatch:     intentID != "" && cur.PaymentIntentID != "" && cur.PaymentIntentID != intentID,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("store: mark order paid: %w", err)
	}
	return res, nil
}

// FindByPaymentIntent returns the reservation or standalone order paid with
// intentID. Exactly one of the results is non-nil on success.
func (s *Store) FindByPaymentIntent(ctx context.Context, intentID string) (*Reservation, *Order, error) {
	if intentID == "" {
		return nil, nil, ErrNotFound
	}
	var r Reservation
	err := s.db.WithContext(ctx).Preload("Orders.Items.MenuItem").Where("payment_intent_id = ?", intentID).First(&r).Error
	if err == nil {
		return &r, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}
	var o Order
	err = s.db.WithContext(ctx).Preload("Items.MenuItem").Where("payment_intent_id = ? AND reservation_id IS NULL", intentID).First(&o).Error
	if err != nil {
		return nil, nil, notFound(err)
	}
	return nil, &o, nil
}
