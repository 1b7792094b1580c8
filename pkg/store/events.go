package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Callback request statuses.
const (
	CallbackPending   = "pending"
	CallbackCompleted = "completed"
)

// RecordEvent stores a provider event id. A second delivery of the same
// event returns ErrDuplicateEvent so the caller can skip it.
func (s *Store) RecordEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) error {
	if eventID == "" {
		return fmt.Errorf("%w: event id", ErrMissingField)
	}
	if !json.Valid(payload) {
		payload = []byte("null")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := exists(tx, &ProcessedEvent{}, "provider = ? AND event_id = ?", provider, eventID)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateEvent
		}
		return tx.Create(&ProcessedEvent{
			ID:        uuid.NewString(),
			Provider:  provider,
			EventID:   eventID,
			EventType: eventType,
			Payload:   datatypes.JSON(payload),
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEvent
	}
	return err
}

// CreateCallbackRequest records a request for staff to call a customer back.
func (s *Store) CreateCallbackRequest(ctx context.Context, req CallbackRequest) (*CallbackRequest, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: phone", ErrMissingField)
	}
	req.ID = 0
	if req.Status == "" {
		req.Status = CallbackPending
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, fmt.Errorf("store: create callback request: %w", err)
	}
	return &req, nil
}

// PendingCallbacks lists callback requests not yet completed, oldest first.
func (s *Store) PendingCallbacks(ctx context.Context) ([]CallbackRequest, error) {
	var out []CallbackRequest
	err := s.db.WithContext(ctx).Where("status = ?", CallbackPending).Order("id ASC").Find(&out).Error
	return out, err
}
