package charge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/money"
)

// StripeConfig holds Stripe settings.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Logger        *slog.Logger
	// Backends overrides the HTTP backends, for tests against a local server.
	Backends *stripe.Backends
}

// StripeOption configures the Stripe gateway.
type StripeOption func(*StripeConfig)

// WithWebhookSecret sets the endpoint secret used to verify webhooks.
func WithWebhookSecret(secret string) StripeOption {
	return func(c *StripeConfig) { c.WebhookSecret = secret }
}

// WithStripeLogger sets the logger.
func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(c *StripeConfig) { c.Logger = l }
}

// WithBackends sets the Stripe API backends.
func WithBackends(b *stripe.Backends) StripeOption {
	return func(c *StripeConfig) { c.Backends = b }
}

// Stripe implements Gateway with stripe-go.
type Stripe struct {
	api    *client.API
	cfg    StripeConfig
	logger *slog.Logger
}

// NewStripe creates a Stripe gateway for apiKey.
func NewStripe(apiKey string, opts ...StripeOption) (*Stripe, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("charge: stripe API key required")
	}
	cfg := StripeConfig{APIKey: apiKey}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("stripe")
	}
	return &Stripe{
		api:    client.New(apiKey, cfg.Backends),
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// TestMode reports whether the key is a test key.
func (s *Stripe) TestMode() bool {
	return strings.HasPrefix(s.cfg.APIKey, "sk_test_") || strings.HasPrefix(s.cfg.APIKey, "rk_test_")
}

// CreatePaymentMethod tokenizes the card.
func (s *Stripe) CreatePaymentMethod(ctx context.Context, card Card) (*PaymentMethod, error) {
	name := card.Name
	if name == "" {
		name = "Customer"
	}
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.Int64(int64(card.ExpMonth)),
			ExpYear:  stripe.Int64(int64(card.ExpYear)),
		},
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{
			Name: stripe.String(name),
		},
	}
	if card.CVC != "" {
		params.Card.CVC = stripe.String(card.CVC)
	}
	if card.PostalCode != "" {
		params.BillingDetails.Address = &stripe.AddressParams{PostalCode: stripe.String(card.PostalCode)}
	}
	if card.Phone != "" {
		params.BillingDetails.Phone = stripe.String(card.Phone)
	}
	params.Context = ctx

	pm, err := s.api.PaymentMethods.New(params)
	if err != nil {
		return nil, toError(err)
	}
	out := &PaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
	}
	return out, nil
}

// CreatePaymentIntent creates an intent. With a payment method it is
// confirmed at once and redirect-based methods are disabled, since the
// caller is on the phone.
func (s *Stripe) CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	currency := strings.ToLower(p.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(p.AmountCents)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods.AllowRedirects = stripe.String("never")
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, toError(err)
	}
	s.logger.Info("payment intent created", "intent", pi.ID, "status", pi.Status, "amount", money.Cents(pi.Amount).String())
	return intentFrom(pi), nil
}

// UpdateMetadata merges metadata into an existing intent.
func (s *Stripe) UpdateMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	params := &stripe.PaymentIntentParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Update(intentID, params); err != nil {
		return toError(err)
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
// Without a configured secret the payload is accepted unverified.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	var evt stripe.Event
	if s.cfg.WebhookSecret == "" || signature == "" {
		if s.cfg.WebhookSecret != "" {
			return nil, ErrInvalidSignature
		}
		s.logger.Warn("webhook accepted without signature verification")
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else {
		var err error
		evt, err = webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			if errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrNotSigned) ||
				errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrTooOld) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return eventFrom(evt, payload)
}

func eventFrom(evt stripe.Event, payload []byte) (*Event, error) {
	out := &Event{ID: evt.ID, Type: string(evt.Type), Raw: payload}
	if strings.HasPrefix(out.Type, "payment_intent.") && evt.Data != nil {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out.Intent = intentFrom(&pi)
	}
	return out, nil
}

func intentFrom(pi *stripe.PaymentIntent) *Intent {
	out := &Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		AmountCents:  money.Cents(pi.Amount),
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
	if e := pi.LastPaymentError; e != nil {
		out.LastError = &CardError{Code: string(e.Code), DeclineCode: string(e.DeclineCode), Message: e.Msg}
	}
	return out
}

// toError maps stripe-go errors to CardError, ErrRawCardRejected or APIError.
func toError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("charge: %w", err)
	}
	msg := strings.ToLower(se.Msg)
	switch {
	case strings.Contains(msg, "raw card data"), strings.Contains(msg, "empty string"):
		return fmt.Errorf("%w: %s", ErrRawCardRejected, se.Msg)
	case se.Type == stripe.ErrorTypeCard:
		return &CardError{Code: string(se.Code), DeclineCode: string(se.DeclineCode), Message: se.Msg}
	}
	return &APIError{StatusCode: se.HTTPStatusCode, Type: string(se.Type), Message: se.Msg}
}

var _ Gateway = (*Stripe)(nil)
