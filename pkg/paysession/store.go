package paysession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no record exists for a call id.
var ErrNotFound = errors.New("paysession: not found")

// Store persists session records keyed by call id.
type Store interface {
	Get(ctx context.Context, callID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, callID string) error
	List(ctx context.Context) ([]*Session, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Session)}
}

// Get returns a copy of the record for callID.
func (m *MemoryStore) Get(_ context.Context, callID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.records[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Put stores a copy of s under s.CallID.
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	if s.CallID == "" {
		return fmt.Errorf("paysession: empty call id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[s.CallID] = *s
	return nil
}

// Delete removes the record for callID.
func (m *MemoryStore) Delete(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, callID)
	return nil
}

// List returns copies of all records, most recently updated first.
func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.records))
	for _, s := range m.records {
		s := s
		out = append(out, &s)
	}
	m.mu.RUnlock()
	sortRecent(out)
	return out, nil
}

// record is the DBStore row: the session serialized as JSON with the
// fields used for lookups broken out.
type record struct {
	CallID            string `gorm:"primaryKey;size:128"`
	ReservationNumber string `gorm:"index;size:16"`
	Value             datatypes.JSON
	LastUpdated       time.Time `gorm:"index"`
}

func (record) TableName() string { return "payment_sessions" }

// DBStore keeps records in a database table so several processes sharing
// the database see the same sessions.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore migrates the session table and returns a DBStore.
func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("paysession: migrate: %w", err)
	}
	return &DBStore{db: db}, nil
}

// Get loads the record for callID.
func (d *DBStore) Get(ctx context.Context, callID string) (*Session, error) {
	var r record
	err := d.db.WithContext(ctx).Where("call_id = ?", callID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(r)
}

// Put upserts s.
func (d *DBStore) Put(ctx context.Context, s *Session) error {
	if s.CallID == "" {
		return fmt.Errorf("paysession: empty call id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r := record{
		CallID:            s.CallID,
		ReservationNumber: s.ReservationNumber,
		Value:             datatypes.JSON(data),
		LastUpdated:       s.LastUpdated,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reservation_number", "value", "last_updated"}),
	}).Create(&r).Error
}

// Delete removes the record for callID.
func (d *DBStore) Delete(ctx context.Context, callID string) error {
	return d.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&record{}).Error
}

// List returns all records, most recently updated first.
func (d *DBStore) List(ctx context.Context) ([]*Session, error) {
	var rows []record
	if err := d.db.WithContext(ctx).Order("last_updated DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		s, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortRecent(out)
	return out, nil
}

func decode(r record) (*Session, error) {
	var s Session
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return nil, fmt.Errorf("paysession: decode %s: %w", r.CallID, err)
	}
	s.CallID = r.CallID
	return &s, nil
}

func sortRecent(list []*Session) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastUpdated.After(list[j].LastUpdated)
	})
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DBStore)(nil)
)
