// Package memory is the short-term, per-conversation store used by tool
// handlers.
//
// Each session remembers:
//   - Calls: which functions ran and when, for repeat-call blocking
//   - Facts: things learned earlier in the call ("reservation_number" -> "123456")
//   - PendingOrder: a pre-order summary awaiting the caller's confirmation
//   - Steps: the reservation workflow and payment flow positions
//
// Sessions are keyed by the platform's AI session id, or DefaultSessionID
// when the platform sends none.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
)

// DefaultSessionID keys calls that carry no session id.
const DefaultSessionID = "default"

// DefaultWindow is the repeat-call window for functions without their own.
const DefaultWindow = 30 * time.Second

// maxCalls bounds the per-session call history.
const maxCalls = 200

// DefaultWindows are the per-function repeat-call windows.
var DefaultWindows = map[string]time.Duration{
	"create_reservation": 5 * time.Second,
	"create_order":       10 * time.Second,
	"get_reservation":    10 * time.Second,
	"pay_reservation":    5 * time.Second,
}

// Config holds Memory settings.
type Config struct {
	Windows       map[string]time.Duration
	DefaultWindow time.Duration
	Store         Store
	Logger        *slog.Logger
}

// Option configures a Memory.
type Option func(*Config)

// WithWindow overrides the repeat-call window for one function.
func WithWindow(function string, d time.Duration) Option {
	return func(c *Config) {
		c.Windows[function] = d
	}
}

// WithDefaultWindow sets the window for functions without their own.
func WithDefaultWindow(d time.Duration) Option {
	return func(c *Config) {
		c.DefaultWindow = d
	}
}

// WithStore persists sessions to s after every change.
func WithStore(s Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// DefaultConfig returns the default Memory configuration.
func DefaultConfig() *Config {
	windows := make(map[string]time.Duration, len(DefaultWindows))
	for k, v := range DefaultWindows {
		windows[k] = v
	}
	return &Config{
		Windows:       windows,
		DefaultWindow: DefaultWindow,
	}
}

// Memory holds every live conversation session.
type Memory struct {
	cfg      *Config
	logger   *slog.Logger
	store    Store
	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a Memory. When a store is configured, existing sessions are
// loaded from it.
func New(opts ...Option) *Memory {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("memory")
	}
	m := &Memory{
		cfg:      cfg,
		logger:   cfg.Logger,
		store:    cfg.Store,
		sessions: make(map[string]*Session),
	}
	if err := m.Load(); err != nil {
		m.logger.Warn("failed to load sessions", "error", err)
	}
	return m
}

// SessionKey returns id, or DefaultSessionID when id is blank.
func SessionKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}

// session returns the live session for id, creating it. Callers hold mu.
func (m *Memory) session(id string) *Session {
	id = SessionKey(id)
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id)
		m.sessions[id] = s
	}
	return s
}

// Session returns a copy of the session for id, creating it if needed.
func (m *Memory) Session(id string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session(id).clone()
}

// Update applies fn to the session under the lock and persists the result.
func (m *Memory) Update(id string, fn func(s *Session)) {
	m.mu.Lock()
	fn(m.session(id))
	m.mu.Unlock()
	m.save()
}

// Record notes that function ran at the given time.
func (m *Memory) Record(id, function string, at time.Time) {
	m.Update(id, func(s *Session) {
		s.FunctionCalls = append(s.FunctionCalls, Call{Function: function, At: at})
		if n := len(s.FunctionCalls); n > maxCalls {
			s.FunctionCalls = append([]Call(nil), s.FunctionCalls[n-maxCalls:]...)
		}
		s.LastFunctionTime[function] = at
		s.LastActivity = at
	})
}

// Window returns the repeat-call window for function.
func (m *Memory) Window(function string) time.Duration {
	if d, ok := m.cfg.Windows[function]; ok {
		return d
	}
	return m.cfg.DefaultWindow
}

// Blocked reports whether function ran within its window before now, and
// how long ago. Calls are never blocked while a payment is in progress.
func (m *Memory) Blocked(id, function string, now time.Time) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[SessionKey(id)]
	if !ok || s.PaymentActive() {
		return false, 0
	}
	last, ok := s.LastFunctionTime[function]
	if !ok {
		return false, 0
	}
	elapsed := now.Sub(last)
	if elapsed < 0 || elapsed >= m.Window(function) {
		return false, elapsed
	}
	return true, elapsed
}

// BlockedMessage is the response returned in place of a blocked call.
func BlockedMessage(function string, elapsed time.Duration) string {
	secs := int(math.Round(elapsed.Seconds()))
	return fmt.Sprintf("Function %s was called %d seconds ago. Please use the previous response.", function, secs)
}

// Reset forgets the session for id.
func (m *Memory) Reset(id string) {
	m.mu.Lock()
	delete(m.sessions, SessionKey(id))
	m.mu.Unlock()
	m.save()
}

// PruneInactive removes sessions idle for longer than olderThan and returns
// how many were removed.
func (m *Memory) PruneInactive(olderThan time.Duration, now time.Time) int {
	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > olderThan {
			delete(m.sessions, id)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		m.logger.Info("pruned inactive sessions", "count", removed)
		m.save()
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Memory) save() {
	if err := m.Save(); err != nil {
		m.logger.Warn("failed to persist sessions", "error", err)
	}
}

// Save persists all sessions to the configured store.
func (m *Memory) Save() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	data, err := json.MarshalIndent(m.sessions, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.store.Save(data)
}

// Load reads sessions from the configured store, replacing those in memory.
func (m *Memory) Load() error {
	if m.store == nil {
		return nil
	}
	data, err := m.store.Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	var loaded map[string]*Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range loaded {
		if s == nil {
			continue
		}
		s.ensure()
		m.sessions[id] = s
	}
	return nil
}

// Close releases resources held by the store.
func (m *Memory) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
