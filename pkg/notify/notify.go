// Package notify sends SMS confirmations and receipts.
//
// A message is first offered to the senders given for the current request,
// typically an ActionSender that rides on the tool result, and then to the
// gateway's own senders such as the SignalWire REST API. Delivery failures
// are reported to the caller, which logs them; they never undo a
// reservation or a payment.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

var (
	// ErrNoSender is returned when no sender is available.
	ErrNoSender = errors.New("notify: no sender configured")

	// ErrNoRecipient is returned when the destination number is missing or invalid.
	ErrNoRecipient = errors.New("notify: recipient phone number required")

	// ErrNotConfigured is returned when a sender lacks credentials.
	ErrNotConfigured = errors.New("notify: sender not configured")
)

// Message is an outbound SMS.
type Message struct {
	To   string
	From string
	Body string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// ActionSender delivers by attaching a send_sms verb to a tool result; the
// platform sends it when it processes the result.
type ActionSender struct {
	result *swml.Result
}

// NewActionSender creates a sender bound to result.
func NewActionSender(result *swml.Result) *ActionSender {
	return &ActionSender{result: result}
}

// Send appends the send_sms action.
func (a *ActionSender) Send(_ context.Context, msg Message) error {
	if a.result == nil {
		return fmt.Errorf("%w: no result to attach to", ErrNoSender)
	}
	a.result.SendSMS(msg.To, msg.From, msg.Body)
	return nil
}

// Name returns "swml".
func (a *ActionSender) Name() string { return "swml" }

// Gateway routes messages through a chain of senders.
type Gateway struct {
	from    string
	senders []Sender
	logger  *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithSender appends a fallback sender used for every message.
func WithSender(s Sender) GatewayOption {
	return func(g *Gateway) {
		if s != nil {
			g.senders = append(g.senders, s)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway sending from the given number.
func NewGateway(from string, opts ...GatewayOption) *Gateway {
	g := &Gateway{from: from}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.Component("notify")
	}
	return g
}

// From returns the sending number.
func (g *Gateway) From() string { return g.from }

// Send tries primary senders first, then the gateway's own, until one
// accepts the message. The destination is normalized to E.164.
func (g *Gateway) Send(ctx context.Context, msg Message, primary ...Sender) error {
	to, ok := nlu.NormalizePhone(msg.To)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoRecipient, msg.To)
	}
	msg.To = to
	if msg.From == "" {
		msg.From = g.from
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("notify: empty message body")
	}

	chain := make([]Sender, 0, len(primary)+len(g.senders))
	for _, s := range primary {
		if s != nil {
			chain = append(chain, s)
		}
	}
	chain = append(chain, g.senders...)
	if len(chain) == 0 {
		return ErrNoSender
	}

	var errs []error
	for i, s := range chain {
		err := s.Send(ctx, msg)
		if err == nil {
			if i > 0 {
				g.logger.Info("fallback sender delivered sms", "sender", s.Name(), "to", maskPhone(msg.To))
			} else {
				g.logger.Debug("sms delivered", "sender", s.Name(), "to", maskPhone(msg.To))
			}
			return nil
		}
		errs = append(errs, err)
		g.logger.Warn("sms sender failed, trying next", "sender", s.Name(), "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &ChainError{Errors: errs}
}

// ChainError aggregates the failures of every sender tried.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "notify chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("notify chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("notify chain: all %d senders failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return p
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
