// Package charge is the card-payment gateway: payment methods, payment
// intents and webhook verification. Stripe implements it in production and
// Fake in tests.
package charge

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/money"
)

// TestPaymentMethod is the test-mode card used when raw card numbers are
// not accepted by the account.
const TestPaymentMethod = "pm_card_visa"

// PaymentSource tags intents created from the platform's pay verb.
const PaymentSource = "swml_pay_verb"

// Intent statuses.
const (
	StatusSucceeded      = "succeeded"
	StatusRequiresAction = "requires_action"
	StatusProcessing     = "processing"
	StatusFailed         = "requires_payment_method"

	// StatusRequiresPaymentMethod is an intent created for a browser
	// checkout, waiting for the client to confirm it.
	StatusRequiresPaymentMethod = StatusFailed
)

// Webhook event types.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

var (
	// ErrRawCardRejected is returned when the account may not send raw card
	// numbers to the API.
	ErrRawCardRejected = errors.New("charge: raw card data not accepted")

	// ErrInvalidSignature is returned for a webhook that fails verification.
	ErrInvalidSignature = errors.New("charge: invalid webhook signature")

	// ErrInvalidPayload is returned for a webhook body that cannot be parsed.
	ErrInvalidPayload = errors.New("charge: invalid webhook payload")
)

// Card is the card data collected by the platform.
type Card struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVC        string
	PostalCode string
	Name       string
	Phone      string
}

// String never includes the number beyond its last four digits.
func (c Card) String() string {
	return fmt.Sprintf("card %s exp %02d/%d", log.MaskPAN(c.Number), c.ExpMonth, c.ExpYear)
}

// PaymentMethod is a tokenized card.
type PaymentMethod struct {
	ID    string
	Brand string
	Last4 string
}

// IntentParams describes a charge.
type IntentParams struct {
	AmountCents money.Cents
	Currency    string
	// PaymentMethodID confirms the intent immediately. Empty leaves it
	// unconfirmed for a browser checkout using the client secret.
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
	// IdempotencyKey makes a retried request return the original intent.
	IdempotencyKey string
}

// Intent is a payment intent after creation or confirmation.
type Intent struct {
	ID           string
	Status       string
	AmountCents  money.Cents
	Currency     string
	ClientSecret string
	Metadata     map[string]string
	// LastError is set when the intent failed.
	LastError *CardError
}

// Event is a verified webhook event.
type Event struct {
	ID     string
	Type   string
	Intent *Intent
	Raw    []byte
}

// Gateway is a card-payment provider.
type Gateway interface {
	CreatePaymentMethod(ctx context.Context, card Card) (*PaymentMethod, error)
	CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error)
	UpdateMetadata(ctx context.Context, intentID string, metadata map[string]string) error
	VerifyWebhook(payload []byte, signature string) (*Event, error)
	// TestMode reports whether charges are not real.
	TestMode() bool
}

// CardError is a decline or card validation failure.
type CardError struct {
	Code        string
	DeclineCode string
	Message     string
}

// Error implements the error interface.
func (e *CardError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("charge: card error %s (%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("charge: card error %s: %s", e.Code, e.Message)
}

// UserMessage is the text to read back to the caller.
func (e *CardError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return "Your card was declined."
}

// APIError is any other provider failure.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("charge: API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRetryable reports whether the same request may succeed later.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// AsCardError returns the CardError in err's chain.
func AsCardError(err error) (*CardError, bool) {
	var ce *CardError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
