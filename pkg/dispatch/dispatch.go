// Package dispatch is the tool-call endpoint: it decodes the platform's
// envelope, answers signature and call-state requests, routes invocations
// to the tool registry and keeps every reply conversational.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/swml"
	"github.com/teslashibe/bobbys-table/pkg/tools"
)

// ErrorResponse is spoken when a handler fails or panics.
const ErrorResponse = "I'm sorry, there was an error processing your request. Please try again, " +
	"or call us at " + tools.RestaurantPhone + "."

// Config holds Dispatcher settings.
type Config struct {
	// WebhookURL is where the platform sends tool calls.
	WebhookURL string
	Profile    swml.Profile
	// MaxResponseBytes caps a serialized tool reply.
	MaxResponseBytes int
	Now              func() time.Time
	Logger           *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithWebhookURL sets the tool webhook advertised in signatures and the
// bootstrap document.
func WithWebhookURL(url string) Option {
	return func(c *Config) { c.WebhookURL = url }
}

// WithProfile sets the agent profile used for the bootstrap document.
func WithProfile(p swml.Profile) Option {
	return func(c *Config) { c.Profile = p }
}

// WithMaxResponseBytes overrides the response ceiling.
func WithMaxResponseBytes(n int) Option {
	return func(c *Config) { c.MaxResponseBytes = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		Profile:          swml.DefaultProfile(),
		MaxResponseBytes: MaxResponseBytes,
		Now:              time.Now,
		Logger:           log.Component("dispatch"),
	}
}

// Dispatcher routes platform requests to tools.
type Dispatcher struct {
	cfg      *Config
	registry *tools.Registry
	memory   *memory.Memory
	sessions *paysession.Sessions
	logger   *slog.Logger
}

// New creates a Dispatcher over the registry. mem and sessions may be nil.
func New(registry *tools.Registry, mem *memory.Memory, sessions *paysession.Sessions, opts ...Option) *Dispatcher {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = MaxResponseBytes
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		memory:   mem,
		sessions: sessions,
		logger:   cfg.Logger,
	}
}

// Bootstrap is the SWML document that starts a call.
func (d *Dispatcher) Bootstrap() *swml.Document {
	return swml.Bootstrap(d.cfg.Profile, d.cfg.WebhookURL, d.registry.Functions())
}

// Handle serves one request body and returns the HTTP status and JSON reply.
// Only a malformed envelope yields a non-200 status.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) (int, []byte) {
	env, err := ParseEnvelope(body)
	if err != nil {
		d.logger.Warn("rejecting request", "error", err)
		return http.StatusBadRequest, mustJSON(map[string]any{"success": false, "error": err.Error()})
	}

	switch {
	case env.Action == ActionGetSignature:
		return http.StatusOK, mustJSON(d.signatures(env.Functions))
	case env.Call != nil && env.Call.CallState != "":
		return http.StatusOK, mustJSON(d.callState(ctx, env.Call))
	case env.Function == "":
		d.logger.Warn("rejecting request", "error", ErrMissingFunction)
		return http.StatusBadRequest, mustJSON(map[string]any{"success": false, "error": "Function name required"})
	}
	return http.StatusOK, d.invoke(ctx, env)
}

func (d *Dispatcher) signatures(names []string) any {
	if len(names) == 0 {
		return map[string]any{"functions": d.registry.Names()}
	}
	out := make(map[string]swml.Function, len(names))
	for _, fn := range d.registry.Functions(names...) {
		fn.WebHookURL = d.cfg.WebhookURL
		out[fn.Name] = fn
	}
	for _, n := range names {
		if _, ok := out[n]; !ok {
			d.logger.Warn("signature requested for unknown function", "function", n)
		}
	}
	return out
}

func (d *Dispatcher) callState(ctx context.Context, call *CallInfo) any {
	d.logger.Info("call state", "call_id", call.CallID, "state", call.CallState, "direction", call.Direction)
	switch call.CallState {
	case StateCreated:
		return d.Bootstrap()
	case StateEnded:
		if d.sessions != nil && call.CallID != "" {
			if _, err := d.sessions.End(ctx, call.CallID); err != nil {
				d.logger.Warn("payment session cleanup failed", "call_id", call.CallID, "error", err)
			}
		}
	}
	return map[string]any{
		"status":     "received",
		"call_id":    call.CallID,
		"call_state": call.CallState,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, env *Envelope) []byte {
	start := d.cfg.Now()
	fn := env.Function
	session := env.SessionID()

	tool, ok := d.registry.Lookup(fn)
	if !ok {
		d.logger.Warn("unknown function", "function", fn, "call_id", env.CallID)
		return mustJSON(map[string]any{
			"response": fmt.Sprintf("I'm sorry, the %s function is not available right now. "+
				"Is there something else I can help you with?", fn),
			"success": false,
			"error":   fmt.Sprintf("function %s not found", fn),
			"call_id": env.CallID,
		})
	}

	arg := env.DecodeArg()
	args := arg.Values
	switch fn {
	case tools.PayReservation:
		d.fillPayment(env, args)
	case tools.CreateReservation, tools.UpdateReservation:
		splitDateTime(args)
	}

	logger := d.logger.With("function", fn, "call_id", env.CallID, "session", session)
	logger.Info("tool call", "arg_kind", arg.Kind.String(), "args", digest(args))

	if d.memory != nil {
		if blocked, elapsed := d.memory.Blocked(session, fn, start); blocked {
			logger.Info("repeat call blocked", "elapsed", elapsed)
			return d.encode(logger, swml.NewResult(memory.BlockedMessage(fn, elapsed)))
		}
	}

	res, err := d.run(ctx, tool, &tools.Call{
		Function:  fn,
		Args:      args,
		CallID:    env.CallID,
		SessionID: session,
		CallerID:  env.CallerID(),
		Log:       env.CallLog,
		Meta:      env.MetaData,
	})
	if err != nil {
		logger.Error("tool failed", "error", err, "elapsed", d.cfg.Now().Sub(start))
		return mustJSON(map[string]any{
			"response":   ErrorResponse,
			"success":    false,
			"error_type": errorType(err),
			"function":   fn,
			"call_id":    env.CallID,
		})
	}
	if d.memory != nil {
		d.memory.Record(session, fn, d.cfg.Now())
	}
	logger.Info("tool done", "actions", len(res.Actions), "elapsed", d.cfg.Now().Sub(start))
	return d.encode(logger, res)
}

// run calls the handler, turning a panic into an error.
func (d *Dispatcher) run(ctx context.Context, tool tools.Tool, c *tools.Call) (res *swml.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "function", c.Function, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, &PanicError{Value: r}
		}
	}()
	res, err = tool.Handler(ctx, c)
	if err == nil && res == nil {
		err = errNilResult
	}
	return res, err
}

var errNilResult = errors.New("dispatch: handler returned no result")

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: handler panicked: %v", e.Value)
}

func errorType(err error) string {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, errNilResult):
		return "null_result"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "internal"
}

// fillPayment completes missing pay_reservation arguments. Memory comes
// before the transcript, and the caller id is the last resort for the phone.
func (d *Dispatcher) fillPayment(env *Envelope, args tools.Args) {
	session := env.SessionID()
	conv := nlu.ExtractConversationContext(env.CallLog)
	if args.String("reservation_number") == "" {
		number := conv.ReservationNumber
		if d.memory != nil {
			if v, ok := d.memory.Fact(session, memory.FactReservationNumber); ok {
				number = v
			}
		}
		if number != "" {
			args["reservation_number"] = number
		}
	}
	if args.String("cardholder_name") == "" {
		name := conv.CustomerName
		if d.memory != nil {
			if v, ok := d.memory.Fact(session, memory.FactCustomerName); ok {
				name = v
			}
		}
		if name != "" {
			args["cardholder_name"] = name
		}
	}
	if args.String("phone_number") == "" {
		phone := ""
		if d.memory != nil {
			phone, _ = d.memory.Fact(session, memory.FactPhoneNumber)
		}
		if phone == "" {
			phone = env.CallerID()
		}
		if phone != "" {
			args["phone_number"] = phone
		}
	}
}

// splitDateTime moves an ISO datetime sent in time or date into the two
// fields the handlers expect.
func splitDateTime(args tools.Args) {
	if date, clock, ok := nlu.SplitISODateTime(args.String("time")); ok {
		args["date"] = date
		args["time"] = clock
	}
	if date, clock, ok := nlu.SplitISODateTime(args.String("date")); ok {
		args["date"] = date
		if args.String("time") == "" {
			args["time"] = clock
		}
	}
}

// digest summarizes arguments for logs without their values.
func digest(args tools.Args) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data, _ := json.Marshal(args)
	sum := sha256.Sum256(data)
	return strings.Join(keys, ",") + "#" + hex.EncodeToString(sum[:4])
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"response":"` + ErrorResponse + `"}`)
	}
	return data
}
