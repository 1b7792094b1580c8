// Package receptionist wires the Bobby's Table components into a running
// service.
package receptionist

import (
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/internal/config"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/store"
)

// Default configuration values.
const (
	DefaultPort           = "8080"
	DefaultTimezone       = "America/New_York"
	DefaultFromNumber     = "+14126127565"
	DefaultSessionBackend = SessionsMemory
)

// Payment session backends.
const (
	SessionsMemory = "memory"
	SessionsDB     = "db"
)

// Config holds all configuration for the service.
// Flag parsing is done in cmd/bobbys-table/main.go; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	Port       string
	LogLevel   string
	Production bool

	// DatabaseURL is a sqlite path or a postgres DSN.
	DatabaseURL string
	// SessionBackend keeps payment sessions in memory or in the database.
	SessionBackend string
	// MemoryPath persists conversation memory as JSON; empty keeps it in memory.
	MemoryPath string
	// Seed loads the built-in menu at startup.
	Seed bool

	// BaseURL is the public URL of this service.
	BaseURL string
	// PaymentConnectorURL overrides BaseURL + /api/payment-processor.
	PaymentConnectorURL string
	LocalTZ             string

	StripeAPIKey         string
	StripePublishableKey string
	StripeWebhookSecret  string

	SignalWireProjectID string
	SignalWireToken     string
	SignalWireSpace     string
	FromNumber          string

	RestaurantPhone string
	ManagerNumber   string
	AgentProfile    string

	// CalendarLinkSecret signs calendar links sent by SMS.
	CalendarLinkSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCalendarID   string
	GoogleTokenPath    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            DefaultPort,
		LogLevel:        "info",
		DatabaseURL:     store.DefaultDSN,
		SessionBackend:  DefaultSessionBackend,
		LocalTZ:         DefaultTimezone,
		FromNumber:      DefaultFromNumber,
		RestaurantPhone: notify.DefaultRestaurantPhone,
	}
}

// LoadEnvConfig applies environment variables. Values already set by flags
// win over the environment for Port and Debug.
func (c *Config) LoadEnvConfig() {
	if c.Port == "" || c.Port == DefaultPort {
		c.Port = config.String("PORT", c.Port)
	}
	if !c.Debug {
		c.LogLevel = config.String("LOG_LEVEL", c.LogLevel)
	} else {
		c.LogLevel = "debug"
	}
	c.Production = config.String("GO_ENV", "") == "production"

	c.DatabaseURL = config.String("DATABASE_URL", c.DatabaseURL)
	c.SessionBackend = strings.ToLower(config.String("SESSION_BACKEND", c.SessionBackend))
	c.MemoryPath = config.String("MEMORY_PATH", c.MemoryPath)
	c.Seed = c.Seed || config.Bool("SEED_MENU", false)

	c.BaseURL = strings.TrimRight(config.String("BASE_URL", c.BaseURL), "/")
	c.PaymentConnectorURL = config.String("SIGNALWIRE_PAYMENT_CONNECTOR_URL", c.PaymentConnectorURL)
	c.LocalTZ = config.String("LOCAL_TZ", c.LocalTZ)

	c.StripeAPIKey = config.String("STRIPE_API_KEY", c.StripeAPIKey)
	c.StripePublishableKey = config.String("STRIPE_PUBLISHABLE_KEY", c.StripePublishableKey)
	c.StripeWebhookSecret = config.String("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)

	c.SignalWireProjectID = config.String("SIGNALWIRE_PROJECT_ID", c.SignalWireProjectID)
	if v := config.FirstOf("SIGNALWIRE_TOKEN", "SIGNALWIRE_AUTH_TOKEN"); v != "" {
		c.SignalWireToken = v
	}
	if v := config.FirstOf("SIGNALWIRE_SPACE", "SIGNALWIRE_SPACE_URL"); v != "" {
		c.SignalWireSpace = v
	}
	c.FromNumber = config.String("SIGNALWIRE_FROM_NUMBER", c.FromNumber)

	c.RestaurantPhone = config.String("RESTAURANT_PHONE", c.RestaurantPhone)
	c.ManagerNumber = config.String("MANAGER_NUMBER", c.ManagerNumber)
	c.AgentProfile = config.String("AGENT_PROFILE", c.AgentProfile)
	c.CalendarLinkSecret = config.String("CALENDAR_LINK_SECRET", c.CalendarLinkSecret)

	c.GoogleClientID = config.String("GOOGLE_CLIENT_ID", c.GoogleClientID)
	c.GoogleClientSecret = config.String("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
	c.GoogleCalendarID = config.String("GOOGLE_CALENDAR_ID", c.GoogleCalendarID)
	c.GoogleTokenPath = config.String("GOOGLE_TOKEN_PATH", c.GoogleTokenPath)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return &ConfigError{Field: "Port", Message: "PORT must not be empty"}
	}
	switch c.SessionBackend {
	case SessionsMemory, SessionsDB:
	default:
		return &ConfigError{Field: "SessionBackend", Message: "SESSION_BACKEND must be memory or db, got " + c.SessionBackend}
	}
	if _, err := time.LoadLocation(c.LocalTZ); err != nil {
		return &ConfigError{Field: "LocalTZ", Message: "LOCAL_TZ is not a known time zone: " + c.LocalTZ}
	}
	for field, raw := range map[string]string{"BaseURL": c.BaseURL, "PaymentConnectorURL": c.PaymentConnectorURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: field, Message: field + " must be an absolute http(s) URL, got " + raw}
		}
	}
	if c.StripeAPIKey != "" && !strings.HasPrefix(c.StripeAPIKey, "sk_") && !strings.HasPrefix(c.StripeAPIKey, "rk_") {
		return &ConfigError{Field: "StripeAPIKey", Message: "STRIPE_API_KEY must be a secret or restricted key"}
	}
	if c.Production && c.StripeAPIKey == "" {
		return &ConfigError{Field: "StripeAPIKey", Message: "STRIPE_API_KEY environment variable is required in production"}
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return &ConfigError{Field: "GoogleClientSecret", Message: "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"}
	}
	return nil
}

// Location returns the restaurant's time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LocalTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WebhookURL is where the platform posts tool calls.
func (c *Config) WebhookURL() string {
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/receptionist"
}

// ConnectorURL is where the pay verb posts card data.
func (c *Config) ConnectorURL() string {
	if c.PaymentConnectorURL != "" {
		return c.PaymentConnectorURL
	}
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/api/payment-processor"
}

// StatusURL is where the pay verb posts progress callbacks.
func (c *Config) StatusURL() string {
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/api/signalwire/payment-callback"
}

// SMSConfigured reports whether the REST SMS fallback can be used.
func (c *Config) SMSConfigured() bool {
	return c.SignalWireProjectID != "" && c.SignalWireToken != "" && c.SignalWireSpace != ""
}

// GoogleConfigured reports whether the Google Calendar mirror is enabled.
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
