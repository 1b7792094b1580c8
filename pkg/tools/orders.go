package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/order"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

// Kitchen estimates.
const (
	PickupEstimate   = 20 * time.Minute
	DeliveryEstimate = 35 * time.Minute
)

// Menu listing limits.
const (
	maxCategoryItems = 20
	maxOverviewItems = 10
)

// Menu categories offered to the model.
var menuCategories = []string{"breakfast", "appetizers", "main-courses", "desserts", "drinks"}

func orderTools(d *Deps) []Tool {
	return []Tool{
		// ============================================================
		// create_order - Pickup or delivery order
		// ============================================================
		{
			Name:    CreateOrder,
			Purpose: "Place a pickup or delivery order. Confirm the items, name and order type with the caller first.",
			Parameters: map[string]any{
				"items":                namedItemsParam("Items to order"),
				"customer_name":        stringParam("Name for the order"),
				"customer_phone":       stringParam("Phone number for the order"),
				"order_type":           enumParam("Pickup or delivery", store.TypePickup, store.TypeDelivery),
				"pickup_time":          stringParam("Requested pickup time, if not as soon as possible"),
				"delivery_address":     stringParam("Delivery address, required for delivery"),
				"special_instructions": stringParam("Special instructions for the kitchen"),
				"payment_preference":   enumParam("Pay now by card or at pickup", "now", "pickup"),
			},
			Required: []string{"items", "customer_name", "order_type"},
			Handler:  d.createOrder,
		},

		// ============================================================
		// get_order_status
		// ============================================================
		{
			Name:    GetOrderStatus,
			Purpose: "Check the status of a pickup or delivery order.",
			Parameters: map[string]any{
				"order_number":   stringParam("5-digit order number"),
				"customer_name":  stringParam("Name on the order"),
				"customer_phone": stringParam("Phone number used for the order"),
				"order_type":     enumParam("Pickup or delivery", store.TypePickup, store.TypeDelivery),
			},
			Handler: d.getOrderStatus,
		},

		// ============================================================
		// update_order_status - Staff moves an order along
		// ============================================================
		{
			Name:    UpdateOrderStatus,
			Purpose: "Update an order's status. For staff use.",
			Parameters: map[string]any{
				"order_number": stringParam("5-digit order number"),
				"order_id":     intParam("Internal order id"),
				"status": enumParam("New status",
					store.OrderPending, store.OrderPreparing, store.OrderReady, store.OrderCompleted, store.OrderCancelled),
			},
			Required: []string{"status"},
			Handler:  d.updateOrderStatus,
		},

		// ============================================================
		// get_menu
		// ============================================================
		{
			Name:    GetMenu,
			Purpose: "Read the menu, optionally one category, with prices.",
			Parameters: map[string]any{
				"category": enumParam("Menu category", menuCategories...),
			},
			Handler: d.getMenu,
		},
	}
}

func (d *Deps) createOrder(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	a := c.Args

	var items []order.NamedItem
	if err := a.Decode("items", &items); err != nil || len(items) == 0 {
		return res.SetResponse("Please specify which items you'd like to order."), nil
	}
	name := a.String("customer_name")
	if name == "" {
		return res.SetResponse("May I have a name for the order?"), nil
	}
	kind := strings.ToLower(a.String("order_type"))
	if kind != store.TypePickup && kind != store.TypeDelivery {
		return res.SetResponse("Will this be for pickup or delivery?"), nil
	}
	address := a.String("delivery_address")
	if kind == store.TypeDelivery && address == "" {
		return res.SetResponse("What's the delivery address?"), nil
	}
	phone := recipient(&Call{Args: Args{"phone_number": a.String("customer_phone")}, CallerID: c.CallerID}, "")
	if phone == "" {
		return res.SetResponse("What's the best phone number for the order?"), nil
	}

	snapshot, err := d.menu(ctx, c, res)
	if err != nil {
		return res.SetResponse("Sorry, the menu is currently unavailable. Please try again in a moment."), nil
	}
	lines, total, err := order.FromNamed(items, snapshot)
	if err != nil {
		if msg, ok := itemProblem(err); ok {
			return res.SetResponse(msg), nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	now := d.now()
	estimate := PickupEstimate
	if kind == store.TypeDelivery {
		estimate = DeliveryEstimate
	}
	ready := now.Add(estimate)
	target := ready.Format(nlu.TimeLayout)
	if s := a.String("pickup_time"); s != "" && kind == store.TypePickup {
		if v, err := nlu.NormalizeTime(s); err == nil && v > target {
			target = v
		}
	}

	newItems := make([]store.NewItem, len(lines))
	for i, l := range lines {
		newItems[i] = store.NewItem{MenuItemID: l.MenuItemID, Quantity: l.Quantity, PriceCents: l.PriceCents}
	}
	o, err := d.Store.CreateOrder(ctx, store.NewOrder{
		PersonName:          name,
		OrderType:           kind,
		TargetDate:          now.Format(nlu.DateLayout),
		TargetTime:          target,
		CustomerPhone:       phone,
		CustomerAddress:     address,
		SpecialInstructions: a.String("special_instructions"),
		Items:               newItems,
	})
	if err != nil {
		if errors.Is(err, store.ErrMissingField) {
			return res.SetResponse("I'm missing some details for the order. Could you tell me the items, your name and whether it's pickup or delivery?"), nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	d.Memory.Update(c.SessionID, func(s *memory.Session) {
		s.SetFact(memory.FactOrderNumber, o.OrderNumber)
		s.SetFact(memory.FactCustomerName, o.PersonName)
		s.SetFact(memory.FactPhoneNumber, o.CustomerPhone)
	})
	d.logger().Info("order created", "order_number", o.OrderNumber, "type", kind, "total", total.String())

	var b strings.Builder
	fmt.Fprintf(&b, "Your %s order is confirmed! Your order number is %s. You ordered %s, for a total of %s.",
		kind, o.OrderNumber, linesText(lines), total.Format())
	if kind == store.TypeDelivery {
		fmt.Fprintf(&b, " It should arrive in about %d minutes.", int(estimate.Minutes()))
	} else {
		fmt.Fprintf(&b, " It will be ready for pickup at %s.", notify.Clock12(target))
	}

	if a.String("payment_preference") == "now" {
		pay := &Call{
			Function:  PayOrder,
			Args:      Args{"order_number": o.OrderNumber, "customer_name": o.PersonName, "phone_number": o.CustomerPhone},
			CallID:    c.CallID,
			SessionID: c.SessionID,
			CallerID:  c.CallerID,
			Log:       c.Log,
			Meta:      c.Meta,
		}
		paid, err := d.startOrderPayment(ctx, pay, b.String()+" ")
		if err != nil {
			return nil, err
		}
		paid.Actions = append(res.Actions, paid.Actions...)
		return paid, nil
	}
	if kind == store.TypeDelivery {
		b.WriteString(" You can pay the driver on delivery, or pay now by card if you prefer.")
	} else {
		b.WriteString(" You can pay when you pick it up, or pay now by card if you prefer.")
	}
	return res.SetResponse(b.String()), nil
}

var orderStatusText = map[string]string{
	store.OrderPending:   "has been received and is in the queue",
	store.OrderPreparing: "is being prepared in the kitchen",
	store.OrderReady:     "is ready",
	store.OrderCompleted: "has been completed",
	store.OrderCancelled: "has been cancelled",
}

func (d *Deps) getOrderStatus(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	o, err := d.findOrder(ctx, c)
	switch {
	case errors.Is(err, errNoIdentifier):
		return res.SetResponse("Could you give me your order number, or the phone number you used for the order?"), nil
	case errors.Is(err, store.ErrNotFound):
		return res.SetResponse("I couldn't find an order matching that. Could you double-check the order number?"), nil
	case err != nil:
		return nil, fmt.Errorf("order status: %w", err)
	}
	if name := c.Args.String("customer_name"); name != "" &&
		!strings.Contains(strings.ToLower(o.PersonName), strings.ToLower(name)) {
		return res.SetResponse("The name doesn't match that order. Could you double-check the order number?"), nil
	}
	d.Memory.SetFact(c.SessionID, memory.FactOrderNumber, o.OrderNumber)

	status, ok := orderStatusText[o.Status]
	if !ok {
		status = "is " + o.Status
	}
	if o.Status == store.OrderReady {
		if o.OrderType == store.TypeDelivery {
			status = "is on its way"
		} else {
			status = "is ready for pickup"
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your %s order %s for %s %s.", o.OrderType, o.OrderNumber, o.PersonName, status)
	if len(o.Items) > 0 {
		fmt.Fprintf(&b, " It includes %s, totaling %s", orderItemsText(o.Items), o.TotalCents.Format())
		if o.IsPaid() {
			b.WriteString(", paid")
		}
		b.WriteString(".")
	}
	if o.Status == store.OrderPending || o.Status == store.OrderPreparing {
		if o.OrderType == store.TypeDelivery {
			fmt.Fprintf(&b, " Estimated delivery around %s.", notify.Clock12(o.TargetTime))
		} else {
			fmt.Fprintf(&b, " Estimated pickup time %s.", notify.Clock12(o.TargetTime))
		}
	}
	fmt.Fprintf(&b, " Questions? Call us at %s.", RestaurantPhone)
	return res.SetResponse(b.String()), nil
}

func (d *Deps) updateOrderStatus(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	status := strings.ToLower(c.Args.String("status"))
	if _, ok := orderStatusText[status]; !ok {
		return res.SetResponse("The status must be pending, preparing, ready, completed or cancelled."), nil
	}
	o, err := d.findOrder(ctx, c)
	switch {
	case errors.Is(err, errNoIdentifier):
		return res.SetResponse("Which order? I need the order number."), nil
	case errors.Is(err, store.ErrNotFound):
		return res.SetResponse("I couldn't find that order."), nil
	case err != nil:
		return nil, fmt.Errorf("update order status: %w", err)
	}

	updated, err := d.Store.UpdateOrderStatus(ctx, o.OrderNumber, status)
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		return res.SetResponse(fmt.Sprintf("Order %s is %s, so it can't be changed to %s.", o.OrderNumber, o.Status, status)), nil
	case err != nil:
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return res.SetResponse(fmt.Sprintf("Order %s %s.", updated.OrderNumber, orderStatusText[updated.Status])), nil
}

func (d *Deps) getMenu(ctx context.Context, c *Call) (*swml.Result, error) {
	res := swml.NewResult("")
	snapshot, err := d.menu(ctx, c, res)
	if err != nil || len(snapshot) == 0 {
		return res.SetResponse("Sorry, the menu is currently unavailable."), nil
	}
	idx := menu.NewIndex(snapshot)
	categories := idx.Categories()

	if want := c.Args.String("category"); want != "" {
		cat, ok := matchCategory(want, categories)
		if !ok {
			return res.SetResponse(fmt.Sprintf("We don't have a %s section. Our menu has %s.",
				want, joinWords(categoryTitles(categories)))), nil
		}
		var parts []string
		for _, it := range snapshot {
			if strings.EqualFold(it.Category, cat) && len(parts) < maxCategoryItems {
				parts = append(parts, fmt.Sprintf("%s for %s", it.Name, it.PriceCents.Format()))
			}
		}
		return res.SetResponse(fmt.Sprintf("Here's our %s menu: %s.", categoryTitle(cat), strings.Join(parts, ", "))), nil
	}

	var b strings.Builder
	b.WriteString("Here's our menu. ")
	for _, cat := range categories {
		var parts []string
		for _, it := range snapshot {
			if strings.EqualFold(it.Category, cat) && len(parts) < maxOverviewItems {
				parts = append(parts, fmt.Sprintf("%s %s", it.Name, it.PriceCents.Format()))
			}
		}
		fmt.Fprintf(&b, "%s: %s. ", categoryTitle(cat), strings.Join(parts, ", "))
	}
	b.WriteString("What would you like?")
	return res.SetResponse(b.String()), nil
}

// matchCategory accepts "main courses", "Drinks" or "dessert" for the
// stored category names.
func matchCategory(want string, categories []string) (string, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(want)), " ", "-")
	for _, c := range categories {
		if c == key || strings.TrimSuffix(c, "s") == strings.TrimSuffix(key, "s") {
			return c, true
		}
	}
	for _, c := range categories {
		if strings.HasPrefix(c, key) {
			return c, true
		}
	}
	return "", false
}

func categoryTitle(c string) string {
	words := strings.Split(c, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func categoryTitles(cs []string) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = strings.ToLower(categoryTitle(c))
	}
	return out
}
