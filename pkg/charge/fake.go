package charge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/teslashibe/bobbys-table/pkg/money"
)

// Test card numbers understood by Fake, after Stripe's test cards.
const (
	TestCardSuccess      = "4242424242424242"
	TestCardDeclined     = "4000000000000002"
	TestCardInsufficient = "4000000000009995"
	TestCard3DS          = "4000002760003184"
)

// Fake implements Gateway in memory. Declines can be scripted per card
// number or queued for the next intents; function fields override any
// method entirely.
type Fake struct {
	CreatePaymentMethodFunc func(ctx context.Context, card Card) (*PaymentMethod, error)
	CreatePaymentIntentFunc func(ctx context.Context, p IntentParams) (*Intent, error)

	// Secret enables signature checks in VerifyWebhook: the signature must
	// equal it.
	Secret string

	mu          sync.Mutex
	declines    map[string]string
	queued      []string
	intents     map[string]*Intent
	idempotency map[string]string
	methods     map[string]string
	seq         int
	calls       []FakeCall
}

// FakeCall records a method invocation.
type FakeCall struct {
	Method         string
	IntentID       string
	Amount         money.Cents
	IdempotencyKey string
}

// NewFake creates a Fake that declines the standard test decline cards.
func NewFake() *Fake {
	return &Fake{
		declines: map[string]string{
			TestCardDeclined:     "generic_decline",
			TestCardInsufficient: "insufficient_funds",
		},
		intents:     make(map[string]*Intent),
		idempotency: make(map[string]string),
		methods:     make(map[string]string),
	}
}

// DeclineCard makes every charge on number fail with declineCode.
func (f *Fake) DeclineCard(number, declineCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines[number] = declineCode
}

// QueueDecline makes the next intent fail with declineCode, whatever the card.
func (f *Fake) QueueDecline(declineCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, declineCode)
}

// TestMode is always true.
func (f *Fake) TestMode() bool { return true }

// CreatePaymentMethod returns a token for the card.
func (f *Fake) CreatePaymentMethod(ctx context.Context, card Card) (*PaymentMethod, error) {
	f.record(FakeCall{Method: "CreatePaymentMethod"})
	if f.CreatePaymentMethodFunc != nil {
		return f.CreatePaymentMethodFunc(ctx, card)
	}
	number := strings.ReplaceAll(card.Number, " ", "")
	if len(number) < 12 {
		return nil, &CardError{Code: "incorrect_number", Message: "Your card number is incorrect."}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("pm_fake_%d", f.seq)
	f.methods[id] = number
	return &PaymentMethod{ID: id, Brand: "visa", Last4: number[len(number)-4:]}, nil
}

// CreatePaymentIntent succeeds unless the card or the queue says otherwise.
func (f *Fake) CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	f.record(FakeCall{Method: "CreatePaymentIntent", Amount: p.AmountCents, IdempotencyKey: p.IdempotencyKey})
	if f.CreatePaymentIntentFunc != nil {
		return f.CreatePaymentIntentFunc(ctx, p)
	}
	if p.AmountCents <= 0 {
		return nil, &APIError{StatusCode: 400, Type: "invalid_request_error", Message: "Amount must be at least $0.50 usd"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p.IdempotencyKey != "" {
		if id, ok := f.idempotency[p.IdempotencyKey]; ok {
			return copyIntent(f.intents[id]), nil
		}
	}

	if p.PaymentMethodID == "" {
		f.seq++
		intent := &Intent{
			ID:          fmt.Sprintf("pi_fake_%d", f.seq),
			Status:      StatusRequiresPaymentMethod,
			AmountCents: p.AmountCents,
			Currency:    currencyOrUSD(p.Currency),
			Metadata:    make(map[string]string, len(p.Metadata)),
		}
		intent.ClientSecret = intent.ID + "_secret_fake"
		for k, v := range p.Metadata {
			intent.Metadata[k] = v
		}
		f.intents[intent.ID] = intent
		return copyIntent(intent), nil
	}

	number := f.methods[p.PaymentMethodID]
	decline := f.declines[number]
	if decline == "" && len(f.queued) > 0 {
		decline = f.queued[0]
		f.queued = f.queued[1:]
	}
	if decline != "" {
		return nil, &CardError{Code: "card_declined", DeclineCode: decline, Message: declineMessage(decline)}
	}

	f.seq++
	intent := &Intent{
		ID:          fmt.Sprintf("pi_fake_%d", f.seq),
		Status:      StatusSucceeded,
		AmountCents: p.AmountCents,
		Currency:    currencyOrUSD(p.Currency),
		Metadata:    make(map[string]string, len(p.Metadata)),
	}
	if number == TestCard3DS {
		intent.Status = StatusRequiresAction
		intent.ClientSecret = intent.ID + "_secret_fake"
	}
	for k, v := range p.Metadata {
		intent.Metadata[k] = v
	}
	f.intents[intent.ID] = intent
	if p.IdempotencyKey != "" {
		f.idempotency[p.IdempotencyKey] = intent.ID
	}
	return copyIntent(intent), nil
}

// UpdateMetadata merges metadata into a created intent.
func (f *Fake) UpdateMetadata(_ context.Context, intentID string, metadata map[string]string) error {
	f.record(FakeCall{Method: "UpdateMetadata", IntentID: intentID})
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok {
		return &APIError{StatusCode: 404, Type: "invalid_request_error", Message: "No such payment_intent: " + intentID}
	}
	for k, v := range metadata {
		intent.Metadata[k] = v
	}
	return nil
}

// Intent returns a created intent.
func (f *Fake) Intent(id string) (*Intent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, false
	}
	return copyIntent(intent), true
}

// fakeEvent is the subset of a Stripe event Fake decodes.
type fakeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook decodes a Stripe-shaped event. When Secret is set the
// signature must equal it.
func (f *Fake) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	f.record(FakeCall{Method: "VerifyWebhook"})
	if f.Secret != "" && signature != f.Secret {
		return nil, ErrInvalidSignature
	}
	var evt fakeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out := &Event{ID: evt.ID, Type: evt.Type, Raw: payload}
	if strings.HasPrefix(evt.Type, "payment_intent.") {
		obj := evt.Data.Object
		out.Intent = &Intent{
			ID:          obj.ID,
			Status:      obj.Status,
			AmountCents: money.Cents(obj.Amount),
			Currency:    obj.Currency,
			Metadata:    obj.Metadata,
		}
	}
	return out, nil
}

// Calls returns the recorded invocations.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallCount returns how many times method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *Fake) record(c FakeCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func copyIntent(in *Intent) *Intent {
	out := *in
	out.Metadata = make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func currencyOrUSD(c string) string {
	if c == "" {
		return "usd"
	}
	return strings.ToLower(c)
}

func declineMessage(code string) string {
	switch code {
	case "insufficient_funds":
		return "Your card has insufficient funds."
	case "expired_card":
		return "Your card has expired."
	case "incorrect_cvc":
		return "Your card's security code is incorrect."
	}
	return "Your card was declined."
}

var _ Gateway = (*Fake)(nil)
