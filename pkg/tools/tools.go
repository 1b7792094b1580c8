// Package tools implements the functions the voice agent calls during a
// conversation: reservations, pre-orders, pickup and delivery orders,
// payments, SMS confirmations and staff lookups.
//
// Every handler receives its collaborators through Deps and the request
// through Call. Validation problems and missing records are answered
// conversationally in the result; only internal failures are returned as
// errors, which the dispatcher turns into an apology.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/order"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

// Handler runs one tool invocation.
type Handler func(ctx context.Context, c *Call) (*swml.Result, error)

// Tool is a function the agent may call.
type Tool struct {
	Name    string
	Purpose string
	// Parameters maps argument names to their JSON schema.
	Parameters map[string]any
	Required   []string
	Handler    Handler
}

// Function renders the tool's signature for the platform.
func (t Tool) Function() swml.Function {
	f := swml.Function{Name: t.Name, Purpose: t.Purpose}
	if t.Parameters != nil {
		arg := map[string]any{"type": "object", "properties": t.Parameters}
		if len(t.Required) > 0 {
			arg["required"] = t.Required
		}
		f.Argument = arg
	}
	return f
}

// Call is a single invocation as received from the platform.
type Call struct {
	Function string
	Args     Args
	CallID   string
	// SessionID keys conversation memory; the platform's ai_session_id.
	SessionID string
	CallerID  string
	Log       []nlu.Turn
	Meta      menu.Meta
}

// PaymentURLs are the endpoints handed to the pay verb.
type PaymentURLs struct {
	Connector string
	Status    string
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Menu      *menu.Cache
	Memory    *memory.Memory
	Sessions  *paysession.Sessions
	Store     *store.Store
	Assembler *order.Assembler
	SMS       *notify.Gateway
	Templates *notify.Templates
	// Calendar is told about reservation changes; nil disables it.
	Calendar *calendar.Notifier
	Payments PaymentURLs
	Currency string
	// ManagerNumber receives transfer_to_manager calls.
	ManagerNumber string
	Location      *time.Location
	Now           func() time.Time
	Logger        *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().In(d.loc())
	}
	return time.Now().In(d.loc())
}

func (d *Deps) loc() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.UTC
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Component("tools")
}

func (d *Deps) assembler() *order.Assembler {
	if d.Assembler == nil {
		d.Assembler = order.NewAssembler()
	}
	return d.Assembler
}

// menu loads the call's menu snapshot and attaches the refreshed meta to res.
func (d *Deps) menu(ctx context.Context, c *Call, res *swml.Result) ([]menu.Item, error) {
	items, meta, err := d.Menu.Get(ctx, c.Meta)
	if len(meta) > 0 {
		res.SetMetadata(meta)
	}
	return items, err
}

// Registry holds the tool catalog in registration order.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// NewRegistry creates a registry. A later tool with the same name replaces
// an earlier one.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]int, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	if i, ok := r.byName[t.Name]; ok {
		r.tools[i] = t
		return
	}
	r.byName[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Name
	}
	return out
}

// Functions returns the signatures of the named tools, or of every tool
// when no names are given. Unknown names are skipped.
func (r *Registry) Functions(names ...string) []swml.Function {
	if len(names) == 0 {
		out := make([]swml.Function, len(r.tools))
		for i, t := range r.tools {
			out[i] = t.Function()
		}
		return out
	}
	out := make([]swml.Function, 0, len(names))
	for _, n := range names {
		if t, ok := r.Lookup(n); ok {
			out = append(out, t.Function())
		}
	}
	return out
}

// Catalog returns every tool wired to d.
func Catalog(d *Deps) *Registry {
	var all []Tool
	all = append(all, reservationTools(d)...)
	all = append(all, smsTools(d)...)
	all = append(all, paymentTools(d)...)
	all = append(all, orderTools(d)...)
	all = append(all, staffTools(d)...)
	return NewRegistry(all...)
}

// Tool names.
const (
	CreateReservation     = "create_reservation"
	GetReservation        = "get_reservation"
	UpdateReservation     = "update_reservation"
	CancelReservation     = "cancel_reservation"
	AddToReservation      = "add_to_reservation"
	OfferSMSConfirmation  = "offer_sms_confirmation"
	PayReservation        = "pay_reservation"
	RetryPayment          = "retry_payment"
	CheckPaymentStatus    = "check_payment_status"
	CreateOrder           = "create_order"
	GetOrderStatus        = "get_order_status"
	UpdateOrderStatus     = "update_order_status"
	PayOrder              = "pay_order"
	SendPaymentReceipt    = "send_payment_receipt"
	TransferToManager     = "transfer_to_manager"
	ScheduleCallback      = "schedule_callback"
	GetCalendarEvents     = "get_calendar_events"
	GetTodaysReservations = "get_todays_reservations"
	GetReservationSummary = "get_reservation_summary"
	GetMenu               = "get_menu"
)

func stringParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intParam(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolParam(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func enumParam(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func arrayParam(desc string, item map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": item}
}

func objectParam(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

// namedItemsParam is the {name, quantity} item list shared by ordering tools.
func namedItemsParam(desc string) map[string]any {
	return arrayParam(desc, objectParam(map[string]any{
		"name":     stringParam("Menu item name"),
		"quantity": intParam("How many"),
	}, "name"))
}
