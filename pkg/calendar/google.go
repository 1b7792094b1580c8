package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teslashibe/bobbys-table/internal/log"
)

// ReservationLength is how long a reservation occupies the calendar.
const ReservationLength = 2 * time.Hour

// Mirror errors.
var (
	ErrGoogleNotConfigured = errors.New("calendar: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	ErrNotConnected        = errors.New("calendar: not connected to Google")
)

// GoogleConfig configures the Google Calendar mirror.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// CalendarID defaults to "primary".
	CalendarID string
	// TokenPath stores the OAuth token between restarts.
	TokenPath string
	Location  *time.Location
	// ClientOptions replace the OAuth token source when set.
	ClientOptions []option.ClientOption
	Logger        *slog.Logger
}

// GoogleMirror mirrors reservations into a Google calendar: one event per
// reservation, upserted on create and update and deleted on cancel.
type GoogleMirror struct {
	oauth      *oauth2.Config
	calendarID string
	tokenPath  string
	loc        *time.Location
	clientOpts []option.ClientOption
	logger     *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *gcal.Service
}

// NewGoogleMirror creates a mirror and loads a saved token if present.
func NewGoogleMirror(cfg GoogleConfig) (*GoogleMirror, error) {
	if len(cfg.ClientOptions) == 0 && (cfg.ClientID == "" || cfg.ClientSecret == "") {
		return nil, ErrGoogleNotConfigured
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/google/callback"
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = filepath.Join(os.TempDir(), "bobbys_table_google_token.json")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("calendar.google")
	}

	m := &GoogleMirror{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gcal.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
		calendarID: cfg.CalendarID,
		tokenPath:  cfg.TokenPath,
		loc:        cfg.Location,
		clientOpts: cfg.ClientOptions,
		logger:     cfg.Logger,
	}

	if len(m.clientOpts) > 0 {
		if err := m.initService(context.Background()); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.loadToken(); err == nil {
		if err := m.initService(context.Background()); err != nil {
			m.logger.Warn("saved google token unusable", "error", err)
			m.token = nil
		}
	}
	return m, nil
}

// Connected reports whether the mirror can reach the calendar.
func (m *GoogleMirror) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.service != nil
}

// AuthURL returns the consent URL for connecting a Google account.
func (m *GoogleMirror) AuthURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and saves it.
func (m *GoogleMirror) Exchange(ctx context.Context, code string) error {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("calendar: exchange code: %w", err)
	}
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	if err := m.saveToken(); err != nil {
		m.logger.Warn("failed to save google token", "error", err)
	}
	return m.initService(ctx)
}

// Sync applies a refresh event to the calendar.
func (m *GoogleMirror) Sync(ctx context.Context, e RefreshEvent) error {
	m.mu.RLock()
	svc := m.service
	m.mu.RUnlock()
	if svc == nil {
		return ErrNotConnected
	}
	if e.ReservationNumber == "" {
		return fmt.Errorf("calendar: event without reservation number")
	}
	id := EventID(e.ReservationNumber)

	if e.EventType == ReservationCancelled {
		err := svc.Events.Delete(m.calendarID, id).Context(ctx).Do()
		if isGone(err) {
			return nil
		}
		return err
	}

	ev, err := m.toEvent(e)
	if err != nil {
		return err
	}
	_, err = svc.Events.Update(m.calendarID, id, ev).Context(ctx).Do()
	if isGone(err) {
		_, err = svc.Events.Insert(m.calendarID, ev).Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("calendar: upsert %s: %w", id, err)
	}
	m.logger.Debug("reservation mirrored", "reservation", e.ReservationNumber, "event_type", e.EventType)
	return nil
}

// EventID is the Google event id for a reservation. Google ids use the
// base32hex alphabet, which covers "bt" and digits.
func EventID(reservationNumber string) string {
	return "bt" + reservationNumber
}

func (m *GoogleMirror) toEvent(e RefreshEvent) (*gcal.Event, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.Time, m.loc)
	if err != nil {
		return nil, fmt.Errorf("calendar: reservation %s: %w", e.ReservationNumber, err)
	}
	end := start.Add(ReservationLength)

	var desc strings.Builder
	fmt.Fprintf(&desc, "Reservation #%s\n", e.ReservationNumber)
	if e.PhoneNumber != "" {
		fmt.Fprintf(&desc, "Phone: %s\n", e.PhoneNumber)
	}
	if e.SpecialRequests != "" {
		fmt.Fprintf(&desc, "Special requests: %s\n", e.SpecialRequests)
	}
	if e.PaymentStatus != "" {
		fmt.Fprintf(&desc, "Payment: %s", e.PaymentStatus)
		if e.ConfirmationNumber != "" {
			fmt.Fprintf(&desc, " (%s)", e.ConfirmationNumber)
		}
		desc.WriteString("\n")
	}

	return &gcal.Event{
		Id:          EventID(e.ReservationNumber),
		Summary:     Title(e.CustomerName, e.PartySize, false),
		Description: desc.String(),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: m.loc.String()},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: m.loc.String()},
	}, nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

func (m *GoogleMirror) initService(ctx context.Context) error {
	opts := m.clientOpts
	if len(opts) == 0 {
		m.mu.RLock()
		tok := m.token
		m.mu.RUnlock()
		if tok == nil {
			return ErrNotConnected
		}
		opts = []option.ClientOption{option.WithTokenSource(m.oauth.TokenSource(context.Background(), tok))}
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("calendar: create service: %w", err)
	}
	m.mu.Lock()
	m.service = svc
	m.mu.Unlock()
	return nil
}

func (m *GoogleMirror) loadToken() error {
	data, err := os.ReadFile(m.tokenPath)
	if err != nil {
		return err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	m.mu.Lock()
	m.token = &tok
	m.mu.Unlock()
	return nil
}

func (m *GoogleMirror) saveToken() error {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()
	if tok == nil {
		return ErrNotConnected
	}
	if err := os.MkdirAll(filepath.Dir(m.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.tokenPath, data, 0o600)
}
