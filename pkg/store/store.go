// Package store is the reservation repository: reservations, orders, order
// items and the menu, persisted with gorm on sqlite or postgres.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teslashibe/bobbys-table/internal/log"
)

// DefaultDSN is the sqlite file used when no DATABASE_URL is configured.
const DefaultDSN = "bobbys_table.db"

// Identifier generation bounds.
const (
	maxIdentifierAttempts = 50
	maxCreateRetries      = 3

	confirmationAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	confirmationLength   = 8
)

// Sentinel errors.
var (
	ErrNotFound            = errors.New("store: not found")
	ErrIdentifierExhausted = errors.New("store: could not generate a unique identifier")
	ErrDuplicateEvent      = errors.New("store: event already processed")
	ErrInvalidPartySize    = errors.New("store: party size must be between 1 and 20")
	ErrInPast              = errors.New("store: date and time are in the past")
	ErrOutsideHours        = errors.New("store: time is outside operating hours")
	ErrInvalidDateTime     = errors.New("store: invalid date or time")
	ErrCancelled           = errors.New("store: reservation is cancelled")
	ErrInvalidTransition   = errors.New("store: invalid order status transition")
	ErrMissingField        = errors.New("store: required field missing")
)

// Party size and operating hours.
const (
	MinPartySize = 1
	MaxPartySize = 20
	OpeningTime  = "09:00"
	ClosingTime  = "21:00"
)

// Config holds Store settings.
type Config struct {
	Location *time.Location
	Now      func() time.Time
	// Intn returns a uniform random int in [0, n). Tests replace it to
	// force identifier collisions.
	Intn     func(n int) int
	Logger   *slog.Logger
	LogLevel logger.LogLevel
}

// Option configures a Store.
type Option func(*Config)

// WithLocation sets the restaurant's time zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Config) {
		c.Location = loc
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithRandom sets the random source used for identifiers.
func WithRandom(intn func(n int) int) Option {
	return func(c *Config) {
		c.Intn = intn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSQLLogLevel sets gorm's statement logging level.
func WithSQLLogLevel(level logger.LogLevel) Option {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// DefaultConfig returns the default Store configuration.
func DefaultConfig() *Config {
	return &Config{
		Location: time.UTC,
		Now:      time.Now,
		Intn:     cryptoIntn,
		LogLevel: logger.Warn,
	}
}

// Store is the gorm-backed repository.
type Store struct {
	db     *gorm.DB
	cfg    *Config
	logger *slog.Logger
}

// Open connects to dsn and migrates the schema. DSNs beginning with
// postgres:// or postgresql://, or containing host=, use postgres;
// anything else is a sqlite path.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if dsn == "" {
		dsn = DefaultDSN
	}

	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		TranslateError: true,
	}
	dial := dialector(dsn)
	db, err := gorm.Open(dial, gcfg)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if dial.Name() == "sqlite" {
		// sqlite allows a single writer
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	s := New(db, opts...)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB, opts ...Option) *Store {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("store")
	}
	return &Store{db: db, cfg: cfg, logger: cfg.Logger}
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// AutoMigrate creates or updates the schema.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Location returns the restaurant's time zone.
func (s *Store) Location() *time.Location {
	return s.cfg.Location
}

func (s *Store) now() time.Time {
	return s.cfg.Now().In(s.cfg.Location)
}

// digits returns an n-digit, zero-padded decimal string.
func (s *Store) digits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + s.cfg.Intn(10)))
	}
	return b.String()
}

// uniqueCode draws candidates until exists reports false.
func (s *Store) uniqueCode(tx *gorm.DB, gen func() string, exists func(tx *gorm.DB, code string) (bool, error)) (string, error) {
	for i := 0; i < maxIdentifierAttempts; i++ {
		code := gen()
		taken, err := exists(tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrIdentifierExhausted
}

func (s *Store) newReservationNumber(tx *gorm.DB) (string, error) {
	return s.uniqueCode(tx, func() string { return s.digits(6) }, func(tx *gorm.DB, code string) (bool, error) {
		return exists(tx, &Reservation{}, "reservation_number = ?", code)
	})
}

func (s *Store) newOrderNumber(tx *gorm.DB) (string, error) {
	return s.uniqueCode(tx, func() string { return s.digits(5) }, func(tx *gorm.DB, code string) (bool, error) {
		return exists(tx, &Order{}, "order_number = ?", code)
	})
}

func (s *Store) newConfirmationNumber(tx *gorm.DB) (string, error) {
	gen := func() string {
		b := make([]byte, confirmationLength)
		for i := range b {
			b[i] = confirmationAlphabet[s.cfg.Intn(len(confirmationAlphabet))]
		}
		return string(b)
	}
	return s.uniqueCode(tx, gen, func(tx *gorm.DB, code string) (bool, error) {
		taken, err := exists(tx, &Reservation{}, "confirmation_number = ?", code)
		if err != nil || taken {
			return taken, err
		}
		return exists(tx, &Order{}, "confirmation_number = ?", code)
	})
}

func exists(tx *gorm.DB, model any, query string, args ...any) (bool, error) {
	var n int64
	if err := tx.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("store: crypto/rand: %v", err))
	}
	return int(v.Int64())
}

// withRetry reruns fn when a unique index rejects a freshly drawn identifier.
func (s *Store) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxCreateRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		s.logger.Warn("identifier collision, retrying", "attempt", attempt+1)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
