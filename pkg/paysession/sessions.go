// Package paysession tracks in-flight card payments per call.
//
// The platform's pay verb reports progress through callbacks whose call id
// does not always match the call that started the payment. Sessions
// resolves such callbacks by reservation number and, failing that, by the
// most recently active session, and remembers the mapping so later
// callbacks resolve directly.
package paysession

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/money"
)

// Payment steps. Completed and failed are terminal.
const (
	StepStarted        = "started"
	StepCollectingCard = "collecting_card"
	StepInProgress     = "in_progress"
	StepCompleted      = "completed"
	StepFailed         = "failed"
)

// Payment types.
const (
	TypeReservation = "reservation"
	TypeOrder       = "order"
)

// Defaults.
const (
	DefaultTTL            = 30 * time.Minute
	DefaultFallbackWindow = 10 * time.Minute
)

// Terminal reports whether step ends a payment.
func Terminal(step string) bool {
	return step == StepCompleted || step == StepFailed
}

// Session is the payment context for one call.
type Session struct {
	CallID             string      `json:"call_id"`
	SessionID          string      `json:"session_id,omitempty"`
	ReservationNumber  string      `json:"reservation_number,omitempty"`
	OrderNumber        string      `json:"order_number,omitempty"`
	PaymentType        string      `json:"payment_type,omitempty"`
	CustomerName       string      `json:"customer_name,omitempty"`
	PhoneNumber        string      `json:"phone_number,omitempty"`
	AmountCents        money.Cents `json:"amount_cents"`
	Step               string      `json:"step"`
	StartedAt          time.Time   `json:"started_at"`
	LastUpdated        time.Time   `json:"last_updated"`
	ConfirmationNumber string      `json:"confirmation_number,omitempty"`
	ErrorType          string      `json:"error_type,omitempty"`
	Attempt            int         `json:"attempt"`
	// OriginalCallID is set on alias records created by the fallback lookup
	// and names the session they point to.
	OriginalCallID    string `json:"original_call_id,omitempty"`
	MappedViaFallback bool   `json:"mapped_via_fallback,omitempty"`
}

// IsAlias reports whether the record only points at another session.
func (s *Session) IsAlias() bool {
	return s.OriginalCallID != "" && s.OriginalCallID != s.CallID
}

// StartParams describes a payment about to be collected.
type StartParams struct {
	CallID            string
	SessionID         string
	ReservationNumber string
	OrderNumber       string
	PaymentType       string
	CustomerName      string
	PhoneNumber       string
	AmountCents       money.Cents
}

// Config holds Sessions settings.
type Config struct {
	TTL            time.Duration
	FallbackWindow time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Option configures Sessions.
type Option func(*Config)

// WithTTL sets how long a session lives without updates.
func WithTTL(d time.Duration) Option {
	return func(c *Config) { c.TTL = d }
}

// WithFallbackWindow sets how recent a session must be for the
// most-recent-session fallback.
func WithFallbackWindow(d time.Duration) Option {
	return func(c *Config) { c.FallbackWindow = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TTL:            DefaultTTL,
		FallbackWindow: DefaultFallbackWindow,
		Now:            time.Now,
	}
}

// Sessions implements the payment session lifecycle on top of a Store.
type Sessions struct {
	store  Store
	cfg    *Config
	logger *slog.Logger
}

// New creates Sessions backed by store.
func New(store Store, opts ...Option) *Sessions {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("paysession")
	}
	return &Sessions{store: store, cfg: cfg, logger: cfg.Logger}
}

// Start registers a payment for p.CallID. An existing session for the call
// or the reservation that has not finished keeps its step and history and
// only has its details refreshed. A finished one is replaced by a new
// attempt.
func (s *Sessions) Start(ctx context.Context, p StartParams) (*Session, error) {
	if strings.TrimSpace(p.CallID) == "" {
		return nil, errors.New("paysession: call id required")
	}
	now := s.cfg.Now()

	cur, err := s.resolve(ctx, p.CallID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if cur == nil && p.ReservationNumber != "" {
		if byRes, err := s.GetByReservation(ctx, p.ReservationNumber); err == nil && !Terminal(byRes.Step) {
			cur = byRes
		}
	}

	if cur != nil && !Terminal(cur.Step) {
		refresh(cur, p)
		cur.LastUpdated = now
		if err := s.store.Put(ctx, cur); err != nil {
			return nil, err
		}
		if cur.CallID != p.CallID {
			if err := s.alias(ctx, p.CallID, cur.CallID, false, now); err != nil {
				return nil, err
			}
		}
		s.logger.Info("payment session refreshed", "call_id", cur.CallID, "reservation", cur.ReservationNumber, "step", cur.Step)
		return cur, nil
	}

	attempt := 1
	if cur != nil {
		attempt = cur.Attempt + 1
	}
	sess := &Session{
		CallID:    p.CallID,
		Step:      StepStarted,
		StartedAt: now,
		Attempt:   attempt,
	}
	refresh(sess, p)
	sess.LastUpdated = now
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("payment session started", "call_id", sess.CallID, "reservation", sess.ReservationNumber,
		"amount", sess.AmountCents.String(), "attempt", attempt)
	return sess, nil
}

func refresh(sess *Session, p StartParams) {
	if p.SessionID != "" {
		sess.SessionID = p.SessionID
	}
	if p.ReservationNumber != "" {
		sess.ReservationNumber = p.ReservationNumber
	}
	if p.OrderNumber != "" {
		sess.OrderNumber = p.OrderNumber
	}
	if p.PaymentType != "" {
		sess.PaymentType = p.PaymentType
	}
	if p.CustomerName != "" {
		sess.CustomerName = p.CustomerName
	}
	if p.PhoneNumber != "" {
		sess.PhoneNumber = p.PhoneNumber
	}
	if p.AmountCents > 0 {
		sess.AmountCents = p.AmountCents
	}
}

// UpdateStep moves the session for callID to step. A completed session
// never changes again, and a failed one only moves to completed.
func (s *Sessions) UpdateStep(ctx context.Context, callID, step string) (*Session, error) {
	return s.mutate(ctx, callID, func(sess *Session) {
		if !allowed(sess.Step, step) {
			return
		}
		sess.Step = step
	})
}

// Fail marks the session failed with errorType.
func (s *Sessions) Fail(ctx context.Context, callID, errorType string) (*Session, error) {
	return s.mutate(ctx, callID, func(sess *Session) {
		if !allowed(sess.Step, StepFailed) {
			return
		}
		sess.Step = StepFailed
		sess.ErrorType = errorType
	})
}

// Complete marks the session completed with its confirmation number.
func (s *Sessions) Complete(ctx context.Context, callID, confirmation string) (*Session, error) {
	return s.mutate(ctx, callID, func(sess *Session) {
		if sess.Step == StepCompleted {
			if sess.ConfirmationNumber == "" {
				sess.ConfirmationNumber = confirmation
			}
			return
		}
		sess.Step = StepCompleted
		sess.ErrorType = ""
		if confirmation != "" {
			sess.ConfirmationNumber = confirmation
		}
	})
}

func allowed(from, to string) bool {
	switch from {
	case StepCompleted:
		return false
	case StepFailed:
		return to == StepCompleted
	}
	return true
}

func (s *Sessions) mutate(ctx context.Context, callID string, fn func(*Session)) (*Session, error) {
	sess, err := s.resolve(ctx, callID)
	if err != nil {
		return nil, err
	}
	before := sess.Step
	fn(sess)
	sess.LastUpdated = s.cfg.Now()
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	if before != sess.Step {
		s.logger.Info("payment step", "call_id", sess.CallID, "from", before, "to", sess.Step)
	}
	return sess, nil
}

// End removes the session for callID together with every alias of it.
// It reports whether a session existed.
func (s *Sessions) End(ctx context.Context, callID string) (bool, error) {
	sess, err := s.resolve(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range all {
		if r.CallID == sess.CallID || r.OriginalCallID == sess.CallID || r.CallID == callID {
			if err := s.store.Delete(ctx, r.CallID); err != nil {
				return false, err
			}
		}
	}
	s.logger.Info("payment session ended", "call_id", sess.CallID, "step", sess.Step)
	return true, nil
}

// resolve loads the session for callID, following an alias.
func (s *Sessions) resolve(ctx context.Context, callID string) (*Session, error) {
	sess, err := s.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAlias() {
		return sess, nil
	}
	target, err := s.store.Get(ctx, sess.OriginalCallID)
	if err != nil {
		return nil, err
	}
	target.MappedViaFallback = sess.MappedViaFallback
	return target, nil
}

// Get finds the session a callback belongs to: by call id, then by
// reservation number, then the most recently updated session within the
// fallback window. A hit by either of the last two remembers callID so
// the next callback resolves directly.
func (s *Sessions) Get(ctx context.Context, callID, reservationNumber string) (*Session, error) {
	if callID != "" {
		sess, err := s.resolve(ctx, callID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	now := s.cfg.Now()
	if reservationNumber != "" {
		if sess, err := s.GetByReservation(ctx, reservationNumber); err == nil {
			if callID != "" && callID != sess.CallID {
				if err := s.alias(ctx, callID, sess.CallID, false, now); err != nil {
					return nil, err
				}
			}
			return sess, nil
		}
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range all {
		if sess.IsAlias() {
			continue
		}
		if now.Sub(sess.LastUpdated) > s.cfg.FallbackWindow {
			break
		}
		s.logger.Warn("payment session resolved by recency", "call_id", callID, "session", sess.CallID,
			"reservation", sess.ReservationNumber)
		if callID != "" {
			if err := s.alias(ctx, callID, sess.CallID, true, now); err != nil {
				return nil, err
			}
		}
		sess.MappedViaFallback = true
		return sess, nil
	}
	return nil, ErrNotFound
}

// GetByReservation returns the most recently updated session for a
// reservation number.
func (s *Sessions) GetByReservation(ctx context.Context, reservationNumber string) (*Session, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range all {
		if !sess.IsAlias() && sess.ReservationNumber == reservationNumber {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Sessions) alias(ctx context.Context, callID, target string, fallback bool, now time.Time) error {
	return s.store.Put(ctx, &Session{
		CallID:            callID,
		OriginalCallID:    target,
		MappedViaFallback: fallback,
		StartedAt:         now,
		LastUpdated:       now,
	})
}

// SweepResult counts what a sweep removed.
type SweepResult struct {
	Expired  int `json:"expired"`
	Orphaned int `json:"orphaned"`
}

// Sweep removes sessions not updated within the TTL and aliases whose
// session no longer exists. Expired sessions that never finished are
// logged as orphaned payments.
func (s *Sessions) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	all, err := s.store.List(ctx)
	if err != nil {
		return res, err
	}
	live := make(map[string]bool, len(all))
	for _, sess := range all {
		if sess.IsAlias() {
			continue
		}
		if now.Sub(sess.LastUpdated) > s.cfg.TTL {
			if err := s.store.Delete(ctx, sess.CallID); err != nil {
				return res, err
			}
			res.Expired++
			if !Terminal(sess.Step) {
				s.logger.Warn("orphaned payment session", "call_id", sess.CallID,
					"reservation", sess.ReservationNumber, "step", sess.Step)
			}
			continue
		}
		live[sess.CallID] = true
	}
	for _, sess := range all {
		if sess.IsAlias() && (!live[sess.OriginalCallID] || now.Sub(sess.LastUpdated) > s.cfg.TTL) {
			if err := s.store.Delete(ctx, sess.CallID); err != nil {
				return res, err
			}
			res.Orphaned++
		}
	}
	if res.Expired+res.Orphaned > 0 {
		s.logger.Info("payment sessions swept", "expired", res.Expired, "orphaned", res.Orphaned)
	}
	return res, nil
}

// Entry summarizes one session for the status endpoint.
type Entry struct {
	CallID            string `json:"call_id"`
	ReservationNumber string `json:"reservation_number,omitempty"`
	OrderNumber       string `json:"order_number,omitempty"`
	Step              string `json:"step"`
	AgeSeconds        int    `json:"age_seconds"`
	AliasOf           string `json:"alias_of,omitempty"`
}

// Status is a point-in-time view of all sessions.
type Status struct {
	Total    int     `json:"total"`
	Active   int     `json:"active"`
	Aliases  int     `json:"aliases"`
	Sessions []Entry `json:"sessions"`
}

// Snapshot returns the current sessions.
func (s *Sessions) Snapshot(ctx context.Context, now time.Time) (Status, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Total: len(all), Sessions: make([]Entry, 0, len(all))}
	for _, sess := range all {
		e := Entry{
			CallID:            sess.CallID,
			ReservationNumber: sess.ReservationNumber,
			OrderNumber:       sess.OrderNumber,
			Step:              sess.Step,
			AgeSeconds:        int(now.Sub(sess.StartedAt).Seconds()),
		}
		if sess.IsAlias() {
			st.Aliases++
			e.AliasOf = sess.OriginalCallID
		} else if !Terminal(sess.Step) {
			st.Active++
		}
		st.Sessions = append(st.Sessions, e)
	}
	return st, nil
}
