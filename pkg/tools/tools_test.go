package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/logger"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

var testNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

const aliceTranscript = "My name is Alice Lee, party of two, tomorrow at 7 pm, phone five five five one two three four five six seven."

type fixture struct {
	deps *Deps
	reg  *Registry
	sms  *notify.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	st, err := store.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared",
		store.WithLocation(time.UTC),
		store.WithClock(clock),
		store.WithSQLLogLevel(logger.Silent))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	items, err := store.DefaultMenu()
	if err != nil {
		t.Fatalf("default menu: %v", err)
	}
	if _, err := st.SeedMenu(context.Background(), items); err != nil {
		t.Fatalf("seed menu: %v", err)
	}

	mock := notify.NewMock()
	d := &Deps{
		Menu:      menu.NewCache(st, menu.WithClock(clock)),
		Memory:    memory.New(),
		Sessions:  paysession.New(paysession.NewMemoryStore(), paysession.WithClock(clock)),
		Store:     st,
		SMS:       notify.NewGateway("+14126127565", notify.WithSender(mock)),
		Templates: notify.NewTemplates(nil),
		Payments: PaymentURLs{
			Connector: "https://bobbys.example.com/api/payment-processor",
			Status:    "https://bobbys.example.com/api/signalwire/payment-callback",
		},
		ManagerNumber: "+14125550100",
		Location:      time.UTC,
		Now:           clock,
	}
	return &fixture{deps: d, reg: Catalog(d), sms: mock}
}

func user(s string) nlu.Turn      { return nlu.Turn{Role: nlu.RoleUser, Content: s} }
func assistant(s string) nlu.Turn { return nlu.Turn{Role: nlu.RoleAssistant, Content: s} }

func (f *fixture) call(t *testing.T, fn string, args Args, log ...nlu.Turn) *swml.Result {
	t.Helper()
	tool, ok := f.reg.Lookup(fn)
	if !ok {
		t.Fatalf("tool %s not registered", fn)
	}
	if args == nil {
		args = Args{}
	}
	res, err := tool.Handler(context.Background(), &Call{
		Function:  fn,
		Args:      args,
		CallID:    "call-1",
		SessionID: "session-1",
		CallerID:  "+15551234567",
		Log:       log,
	})
	if err != nil {
		t.Fatalf("%s: %v", fn, err)
	}
	if res == nil {
		t.Fatalf("%s returned nil result", fn)
	}
	return res
}

func (f *fixture) reservation(t *testing.T) *store.Reservation {
	t.Helper()
	number, ok := f.deps.Memory.Fact("session-1", memory.FactReservationNumber)
	if !ok {
		t.Fatal("no reservation number remembered")
	}
	r, err := f.deps.Store.FindReservation(context.Background(), store.Criteria{ReservationNumber: number})
	if err != nil {
		t.Fatalf("find reservation %s: %v", number, err)
	}
	return r
}

// verbs returns the SWML verbs named name across all actions.
func verbs(res *swml.Result, name string) []map[string]any {
	var out []map[string]any
	for _, a := range res.Actions {
		doc, ok := a[swml.ActionSWML].(*swml.Document)
		if !ok {
			continue
		}
		for _, v := range doc.Main() {
			if body, ok := v[name].(map[string]any); ok {
				out = append(out, body)
			}
		}
	}
	return out
}

func aliceArgs() Args {
	return Args{
		"name":         "Alice Lee",
		"party_size":   2,
		"date":         "tomorrow",
		"time":         "7 pm",
		"phone_number": "555-123-4567",
	}
}

func assertContains(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Errorf("response %q does not contain %q", s, sub)
	}
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	names := f.reg.Names()
	if len(names) != 20 {
		t.Fatalf("len(Names()) = %d, want 20: %v", len(names), names)
	}
	if names[0] != CreateReservation {
		t.Errorf("first tool = %s, want %s", names[0], CreateReservation)
	}

	fns := f.reg.Functions(PayReservation, "no_such_tool")
	if len(fns) != 1 {
		t.Fatalf("Functions() = %d entries, want 1", len(fns))
	}
	arg := fns[0].Argument
	if arg == nil {
		t.Fatal("pay_reservation has no argument schema")
	}
	props := arg["properties"].(map[string]any)
	if _, ok := props["reservation_number"]; !ok {
		t.Error("pay_reservation schema lacks reservation_number")
	}

	sms := f.reg.Functions(OfferSMSConfirmation)[0].Argument
	req, _ := sms["required"].([]string)
	if len(req) != 1 || req[0] != "user_wants_sms" {
		t.Errorf("offer_sms_confirmation required = %v", req)
	}
}

func TestCreateReservationWithoutPreOrder(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, CreateReservation, aliceArgs(), user(aliceTranscript))

	assertContains(t, res.Response, "Your reservation number is")
	if res.HasAction(swml.ActionSWML) && len(verbs(res, "send_sms")) > 0 {
		t.Error("booking sent an SMS without being asked")
	}
	if len(f.sms.Sent()) != 0 {
		t.Errorf("sent %d messages, want 0", len(f.sms.Sent()))
	}

	r := f.reservation(t)
	if r.PartySize != 2 || r.Date != "2025-06-10" || r.Time != "19:00" {
		t.Errorf("booked %d on %s at %s", r.PartySize, r.Date, r.Time)
	}
	if r.PhoneNumber != "+15551234567" {
		t.Errorf("phone = %s", r.PhoneNumber)
	}
	if len(r.Orders) != 0 {
		t.Errorf("orders = %d, want 0", len(r.Orders))
	}
	if sess := f.deps.Memory.Session("session-1"); sess.PaymentNeeded {
		t.Error("payment flagged for a booking without pre-order")
	}
}

func TestCreateReservationMissingFields(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, CreateReservation, Args{"name": "Alice Lee"})
	assertContains(t, res.Response, "I still need")
	assertContains(t, res.Response, "the date")
}

func TestCreateReservationRejects(t *testing.T) {
	tests := []struct {
		name string
		args Args
		want string
	}{
		{"party too large", Args{"party_size": 25}, "seat parties"},
		{"in the past", Args{"date": "2025-06-08"}, "already passed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			args := aliceArgs()
			args["old_school"] = true
			for k, v := range tt.args {
				args[k] = v
			}
			res := f.call(t, CreateReservation, args)
			assertContains(t, strings.ToLower(res.Response), tt.want)
			if _, ok := f.deps.Memory.Fact("session-1", memory.FactReservationNumber); ok {
				t.Error("reservation was booked")
			}
		})
	}
}

func TestCreateReservationPreOrderConfirmation(t *testing.T) {
	f := newFixture(t)
	log := []nlu.Turn{
		user(aliceTranscript),
		user("Alice wants the Buffalo Wings and a Draft Beer."),
	}
	first := f.call(t, CreateReservation, aliceArgs(), log...)
	assertContains(t, first.Response, "Is that correct?")
	if !f.deps.Memory.Session("session-1").AwaitingConfirmation() {
		t.Fatal("session is not awaiting confirmation")
	}
	if _, err := f.deps.Store.FindReservation(context.Background(), store.Criteria{PhoneNumber: "+15551234567"}); err == nil {
		t.Fatal("reservation booked before confirmation")
	}

	log = append(log, assistant(first.Response), user("yes, that's correct."))
	second := f.call(t, CreateReservation, aliceArgs(), log...)
	assertContains(t, second.Response, "Perfect!")
	assertContains(t, second.Response, "$17.98")

	r := f.reservation(t)
	if len(r.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(r.Orders))
	}
	if n := len(r.Orders[0].Items); n != 2 {
		t.Errorf("items = %d, want 2", n)
	}
	if r.TotalCents() != money.Cents(1798) {
		t.Errorf("total = %s, want 17.98", r.TotalCents())
	}
	sess := f.deps.Memory.Session("session-1")
	if !sess.PaymentNeeded || sess.AwaitingConfirmation() {
		t.Errorf("session after booking: payment_needed=%v awaiting=%v", sess.PaymentNeeded, sess.AwaitingConfirmation())
	}
}

func TestCreateReservationPreOrderDeclined(t *testing.T) {
	f := newFixture(t)
	log := []nlu.Turn{user(aliceTranscript), user("I'd like the Buffalo Wings.")}
	first := f.call(t, CreateReservation, aliceArgs(), log...)
	log = append(log, assistant(first.Response), user("no, cancel that."))

	res := f.call(t, CreateReservation, aliceArgs(), log...)
	assertContains(t, res.Response, "haven't booked anything")
	if f.deps.Memory.Session("session-1").AwaitingConfirmation() {
		t.Error("pending order not cleared")
	}
}

func TestCreateReservationPerPersonOrders(t *testing.T) {
	f := newFixture(t)
	args := Args{
		"name":         "Jim and Bob",
		"party_size":   2,
		"date":         "2025-06-09",
		"time":         "20:00",
		"phone_number": "5551234567",
	}
	log := []nlu.Turn{
		user("Table for Jim and Bob tonight at 8."),
		user("Jim will have the Mushroom Swiss Burger and Bob will have the House Salad."),
	}
	first := f.call(t, CreateReservation, args, log...)
	assertContains(t, first.Response, "Is that correct?")

	log = append(log, assistant(first.Response), user("yes"))
	f.call(t, CreateReservation, args, log...)

	r := f.reservation(t)
	if len(r.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(r.Orders))
	}
	want := map[string]string{"Jim": "Mushroom Swiss Burger", "Bob": "House Salad"}
	for _, o := range r.Orders {
		dish, ok := want[o.PersonName]
		if !ok {
			t.Errorf("unexpected order for %q", o.PersonName)
			continue
		}
		if len(o.Items) != 1 || o.Items[0].MenuItem.Name != dish {
			t.Errorf("%s ordered %v, want %s", o.PersonName, o.Items, dish)
		}
	}
}

func TestPayReservation(t *testing.T) {
	f := newFixture(t)
	log := []nlu.Turn{user(aliceTranscript), user("Alice wants the Buffalo Wings and a Draft Beer.")}
	first := f.call(t, CreateReservation, aliceArgs(), log...)
	log = append(log, assistant(first.Response), user("yes, that's correct."))
	f.call(t, CreateReservation, aliceArgs(), log...)
	r := f.reservation(t)

	res := f.call(t, PayReservation, nil, user("I'd like to pay now."))
	assertContains(t, res.Response, "Your total is $17.98")
	pay := verbs(res, "pay")
	if len(pay) != 1 {
		t.Fatalf("pay verbs = %d, want 1", len(pay))
	}
	if got := pay[0]["charge_amount"]; got != "17.98" {
		t.Errorf("charge_amount = %v, want 17.98", got)
	}
	if got := pay[0]["payment_connector_url"]; got != f.deps.Payments.Connector {
		t.Errorf("connector = %v", got)
	}

	sess, err := f.deps.Sessions.GetByReservation(context.Background(), r.ReservationNumber)
	if err != nil {
		t.Fatalf("payment session: %v", err)
	}
	if sess.AmountCents != 1798 || sess.CallID != "call-1" {
		t.Errorf("session = %+v", sess)
	}
	if !f.deps.Memory.PaymentActive("session-1") {
		t.Error("memory payment step not set")
	}
}

func TestPayReservationAcceptedOfferUsesMemory(t *testing.T) {
	f := newFixture(t)
	log := []nlu.Turn{user(aliceTranscript), user("Alice wants the Buffalo Wings and a Draft Beer.")}
	first := f.call(t, CreateReservation, aliceArgs(), log...)
	log = append(log, assistant(first.Response), user("yes, that's correct."))
	f.call(t, CreateReservation, aliceArgs(), log...)
	r := f.reservation(t)

	res := f.call(t, PayReservation, Args{"reservation_number": "999999", "phone_number": "4125550111"},
		assistant("Would you like to pay for your pre-order now?"), user("yes please"))
	assertContains(t, res.Response, "Your total is $17.98")
	sess, err := f.deps.Sessions.GetByReservation(context.Background(), r.ReservationNumber)
	if err != nil {
		t.Fatalf("payment session: %v", err)
	}
	if sess.PhoneNumber != "+15551234567" {
		t.Errorf("phone = %q, want the booked number", sess.PhoneNumber)
	}
}

func TestPayReservationWithoutOfferKeepsArguments(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)

	res := f.call(t, PayReservation, Args{"reservation_number": "999999"}, user("yes please"))
	assertContains(t, res.Response, "couldn't find reservation 999999")
}

func TestPayReservationNothingToCollect(t *testing.T) {
	t.Run("no number", func(t *testing.T) {
		f := newFixture(t)
		res := f.call(t, PayReservation, nil)
		assertContains(t, res.Response, "6-digit reservation number")
		if len(verbs(res, "pay")) != 0 {
			t.Error("pay verb without a reservation")
		}
	})

	t.Run("unknown number", func(t *testing.T) {
		f := newFixture(t)
		res := f.call(t, PayReservation, Args{"reservation_number": "999999"})
		assertContains(t, res.Response, "couldn't find reservation 999999")
	})

	t.Run("no pre-order", func(t *testing.T) {
		f := newFixture(t)
		args := aliceArgs()
		args["old_school"] = true
		f.call(t, CreateReservation, args)
		r := f.reservation(t)

		res := f.call(t, PayReservation, Args{"reservation_number": r.ReservationNumber})
		assertContains(t, res.Response, "no payment required")
		if len(verbs(res, "pay")) != 0 {
			t.Error("pay verb for a zero balance")
		}
		if _, err := f.deps.Sessions.GetByReservation(context.Background(), r.ReservationNumber); err == nil {
			t.Error("payment session started for a zero balance")
		}
	})
}

func TestOfferSMSConfirmation(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)

	res := f.call(t, OfferSMSConfirmation, Args{"user_wants_sms": false})
	if len(verbs(res, "send_sms")) != 0 {
		t.Error("texted after the caller declined")
	}

	res = f.call(t, OfferSMSConfirmation, Args{"user_wants_sms": true})
	assertContains(t, res.Response, "ending in 4567")
	sms := verbs(res, "send_sms")
	if len(sms) != 1 {
		t.Fatalf("send_sms verbs = %d, want 1", len(sms))
	}
	if sms[0]["to_number"] != "+15551234567" {
		t.Errorf("to_number = %v", sms[0]["to_number"])
	}
	if len(f.sms.Sent()) != 0 {
		t.Error("fallback sender used although the action sender succeeded")
	}
}

func TestGetReservation(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)
	r := f.reservation(t)

	res := f.call(t, GetReservation, Args{"reservation_number": r.ReservationNumber})
	assertContains(t, res.Response, "Alice Lee")
	assertContains(t, res.Response, "7:00 PM")

	res = f.call(t, GetReservation, Args{"first_name": "Alice", "last_name": "Lee"})
	assertContains(t, res.Response, r.ReservationNumber)
}

func TestUpdateReservation(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)
	r := f.reservation(t)

	res := f.call(t, UpdateReservation, Args{"reservation_number": r.ReservationNumber, "time": "23:30"})
	if got := f.reservation(t).Time; got != "19:00" {
		t.Errorf("time changed to %s outside opening hours", got)
	}

	res = f.call(t, UpdateReservation, Args{"reservation_number": r.ReservationNumber, "party_size": 4})
	assertContains(t, res.Response, "All set!")
	if got := f.reservation(t).PartySize; got != 4 {
		t.Errorf("party size = %d, want 4", got)
	}
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)
	r := f.reservation(t)

	res := f.call(t, CancelReservation, Args{"reservation_number": r.ReservationNumber, "phone_number": "4125550000"})
	assertContains(t, res.Response, "doesn't match")

	res = f.call(t, CancelReservation, Args{"reservation_number": r.ReservationNumber})
	assertContains(t, res.Response, "has been cancelled")

	res = f.call(t, CancelReservation, Args{"reservation_number": r.ReservationNumber})
	assertContains(t, res.Response, "already cancelled")
}

func TestAddToReservation(t *testing.T) {
	f := newFixture(t)
	args := aliceArgs()
	args["old_school"] = true
	f.call(t, CreateReservation, args)
	r := f.reservation(t)

	res := f.call(t, AddToReservation, Args{
		"reservation_number": r.ReservationNumber,
		"items":              []any{map[string]any{"name": "Draft Beer", "quantity": 2}},
	})
	assertContains(t, res.Response, "$9.98")
	if got := f.reservation(t).TotalCents(); got != 998 {
		t.Errorf("total = %s, want 9.98", got)
	}
}

func TestOrders(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, CreateOrder, Args{
		"items":         []any{map[string]any{"name": "Buffalo Wings", "quantity": 2}},
		"customer_name": "Sam",
		"order_type":    "pickup",
	})
	assertContains(t, res.Response, "Your pickup order is confirmed!")
	assertContains(t, res.Response, "$25.98")

	number, ok := f.deps.Memory.Fact("session-1", memory.FactOrderNumber)
	if !ok {
		t.Fatal("order number not remembered")
	}
	o, err := f.deps.Store.FindOrder(context.Background(), store.OrderCriteria{OrderNumber: number})
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if o.CustomerPhone != "+15551234567" || o.TargetTime != "12:20" {
		t.Errorf("order phone=%s target=%s", o.CustomerPhone, o.TargetTime)
	}

	res = f.call(t, GetOrderStatus, Args{"order_number": number})
	assertContains(t, res.Response, "Questions? Call us at (412) 612-7565.")

	res = f.call(t, UpdateOrderStatus, Args{"order_number": number, "status": "ready"})
	assertContains(t, res.Response, number)

	t.Run("delivery needs address", func(t *testing.T) {
		res := f.call(t, CreateOrder, Args{
			"items":         []any{map[string]any{"name": "House Salad"}},
			"customer_name": "Sam",
			"order_type":    "delivery",
		})
		assertContains(t, res.Response, "delivery address")
	})
}

func TestGetMenu(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, GetMenu, Args{"category": "drinks"})
	assertContains(t, res.Response, "Draft Beer")
	if strings.Contains(res.Response, "Buffalo Wings") {
		t.Error("drinks menu lists appetizers")
	}
	if !res.HasAction(swml.ActionSetMetadata) {
		t.Error("menu snapshot not attached")
	}

	res = f.call(t, GetMenu, nil)
	assertContains(t, res.Response, "Buffalo Wings")
}

func TestStaffTools(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, TransferToManager, Args{"reason": "complaint"})
	if len(verbs(res, "connect")) != 1 {
		t.Error("transfer did not connect the call")
	}

	res = f.call(t, ScheduleCallback, Args{"name": "Pat"})
	assertContains(t, res.Response, "ending in 4567")
	pending, err := f.deps.Store.PendingCallbacks(context.Background())
	if err != nil {
		t.Fatalf("pending callbacks: %v", err)
	}
	if len(pending) != 1 || pending[0].Reason != "general inquiry" {
		t.Errorf("callbacks = %+v", pending)
	}

	res = f.call(t, GetTodaysReservations, nil)
	assertContains(t, res.Response, "no reservations for today")
}
