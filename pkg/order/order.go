// Package order turns spoken pre-orders into validated per-person order
// groups priced from the menu snapshot.
//
// The transcript is authoritative: when the items the model passed in
// disagree with what the caller actually said, the assembler re-extracts
// them and reassigns them to the party.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
)

// MaxQuantity caps the quantity of a single line.
const MaxQuantity = nlu.MaxQuantity

var (
	// ErrEmptyOrder is returned when every requested item was dropped.
	ErrEmptyOrder = errors.New("order: no valid items")

	// ErrMenuEmpty is returned when no menu snapshot is available.
	ErrMenuEmpty = errors.New("order: menu unavailable")
)

// Drop reasons.
const (
	ReasonUnknown     = "unknown_item"
	ReasonUnavailable = "unavailable"
)

// Line is one priced item in a person's order.
type Line struct {
	MenuItemID int64       `json:"menu_item_id"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	PriceCents money.Cents `json:"price_cents"`
}

// TotalCents is price times quantity.
func (l Line) TotalCents() money.Cents {
	return l.PriceCents * money.Cents(l.Quantity)
}

// Party is the validated order for one person.
type Party struct {
	PersonName string      `json:"person_name"`
	Items      []Line      `json:"items"`
	TotalCents money.Cents `json:"total_cents"`
}

// Dropped records an item removed during validation.
type Dropped struct {
	PersonName string `json:"person_name"`
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name,omitempty"`
	Reason     string `json:"reason"`
}

// Input is what a create_reservation call knows about the pre-order.
type Input struct {
	// Provided is the party_orders argument as sent by the model.
	Provided []nlu.PartyOrder
	// Transcript is the caller's side of the conversation.
	Transcript string
	// Names is the party, primary name first.
	Names []string
	// Menu is the current snapshot.
	Menu []menu.Item
}

// Assembly is a validated, priced pre-order.
type Assembly struct {
	Parties    []Party     `json:"parties"`
	TotalCents money.Cents `json:"total_cents"`
	Summary    string      `json:"summary"`
	Dropped    []Dropped   `json:"dropped,omitempty"`
	// Reassigned is set when the transcript replaced the provided items.
	Reassigned bool `json:"reassigned"`
}

// ItemCount is the number of lines across all parties.
func (a *Assembly) ItemCount() int {
	n := 0
	for _, p := range a.Parties {
		n += len(p.Items)
	}
	return n
}

// Assembler builds pre-orders.
type Assembler struct {
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used to report dropped items.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Component("order")
	}
	return a
}

// Assemble re-extracts items from the transcript, reconciles them with the
// provided party orders, drops unknown or unavailable items and prices the rest.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*Assembly, error) {
	if len(in.Menu) == 0 {
		return nil, ErrMenuEmpty
	}
	idx := menu.NewIndex(in.Menu)

	names := in.Names
	if len(names) == 0 {
		for _, p := range in.Provided {
			if p.PersonName != "" {
				names = append(names, p.PersonName)
			}
		}
	}

	groups := in.Provided
	asm := &Assembly{}

	extracted := nlu.ExtractFoodItems(in.Transcript, in.Menu)
	if len(extracted) > 0 && !sameIDs(providedIDs(in.Provided), extractedIDs(extracted)) {
		groups = nlu.AssignItemsToPeople(in.Transcript, names, extracted, in.Menu)
		asm.Reassigned = true
		a.logger.Info("pre-order replaced from transcript",
			"provided", len(providedIDs(in.Provided)),
			"extracted", len(extracted))
	}

	for _, g := range groups {
		party := Party{PersonName: g.PersonName}
		for _, it := range g.Items {
			m, ok := idx.ByID(it.MenuItemID)
			if !ok && it.Name != "" {
				m, ok = idx.ByName(it.Name)
			}
			switch {
			case !ok:
				asm.drop(g.PersonName, it, ReasonUnknown)
				a.logger.Warn("dropping unknown menu item", "person", g.PersonName, "menu_item_id", it.MenuItemID, "name", it.Name)
				continue
			case !m.IsAvailable:
				asm.drop(g.PersonName, it, ReasonUnavailable)
				a.logger.Warn("dropping unavailable menu item", "person", g.PersonName, "menu_item_id", m.ID, "name", m.Name)
				continue
			}
			party.add(m, it.Quantity)
		}
		if len(party.Items) == 0 {
			continue
		}
		asm.Parties = append(asm.Parties, party)
		asm.TotalCents += party.TotalCents
	}

	if len(asm.Parties) == 0 {
		return asm, ErrEmptyOrder
	}
	asm.Summary = Summarize(asm.Parties, asm.TotalCents)
	return asm, nil
}

// add appends an item, merging repeats of the same menu item.
func (p *Party) add(m menu.Item, qty int) {
	qty = clamp(qty)
	for i := range p.Items {
		if p.Items[i].MenuItemID == m.ID {
			merged := clamp(p.Items[i].Quantity + qty)
			p.TotalCents += m.PriceCents * money.Cents(merged-p.Items[i].Quantity)
			p.Items[i].Quantity = merged
			return
		}
	}
	line := Line{MenuItemID: m.ID, Name: m.Name, Quantity: qty, PriceCents: m.PriceCents}
	p.Items = append(p.Items, line)
	p.TotalCents += line.TotalCents()
}

func (a *Assembly) drop(person string, it nlu.PartyItem, reason string) {
	a.Dropped = append(a.Dropped, Dropped{PersonName: person, MenuItemID: it.MenuItemID, Name: it.Name, Reason: reason})
}

// Summarize renders the read-back the caller is asked to confirm.
func Summarize(parties []Party, total money.Cents) string {
	var b strings.Builder
	b.WriteString("Here's your pre-order: ")
	for i, p := range parties {
		if i > 0 {
			b.WriteString("; ")
		}
		name := p.PersonName
		if name == "" {
			name = "Your order"
		}
		b.WriteString(name)
		b.WriteString(": ")
		for j, l := range p.Items {
			if j > 0 {
				b.WriteString(", ")
			}
			if l.Quantity > 1 {
				fmt.Fprintf(&b, "%d %s (%s)", l.Quantity, l.Name, l.TotalCents().Format())
			} else {
				fmt.Fprintf(&b, "%s (%s)", l.Name, l.TotalCents().Format())
			}
		}
	}
	fmt.Fprintf(&b, ". Pre-order total: %s. Is that correct?", total.Format())
	return b.String()
}

// NamedItem is an item requested by name, as in create_order and pre_order.
type NamedItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ItemError reports a named item that could not be ordered.
type ItemError struct {
	Name   string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("order: %s: %s", e.Name, e.Reason)
}

// FromNamed resolves items requested by name against the menu, exact name
// first and then by closest match. The first unresolvable item fails the whole
// request with an *ItemError.
func FromNamed(items []NamedItem, snapshot []menu.Item) ([]Line, money.Cents, error) {
	if len(snapshot) == 0 {
		return nil, 0, ErrMenuEmpty
	}
	idx := menu.NewIndex(snapshot)
	var p Party
	for _, req := range items {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			continue
		}
		m, ok := idx.ByName(name)
		if !ok {
			m, _, ok = nlu.BestMenuMatch(name, snapshot)
		}
		if !ok {
			return nil, 0, &ItemError{Name: name, Reason: ReasonUnknown}
		}
		if !m.IsAvailable {
			return nil, 0, &ItemError{Name: m.Name, Reason: ReasonUnavailable}
		}
		p.add(m, req.Quantity)
	}
	if len(p.Items) == 0 {
		return nil, 0, ErrEmptyOrder
	}
	return p.Items, p.TotalCents, nil
}

// FromPreOrder builds a single-person assembly from a pre_order argument.
func FromPreOrder(person string, items []NamedItem, snapshot []menu.Item) (*Assembly, error) {
	lines, total, err := FromNamed(items, snapshot)
	if err != nil {
		return nil, err
	}
	parties := []Party{{PersonName: person, Items: lines, TotalCents: total}}
	return &Assembly{Parties: parties, TotalCents: total, Summary: Summarize(parties, total)}, nil
}

func providedIDs(groups []nlu.PartyOrder) []int64 {
	var ids []int64
	for _, g := range groups {
		for _, it := range g.Items {
			ids = append(ids, it.MenuItemID)
		}
	}
	return ids
}

func extractedIDs(items []nlu.FoodMatch) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.MenuItemID)
	}
	return ids
}

// sameIDs compares two id lists as sets.
func sameIDs(a, b []int64) bool {
	as := uniqueSorted(a)
	bs := uniqueSorted(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clamp(q int) int {
	switch {
	case q < 1:
		return 1
	case q > MaxQuantity:
		return MaxQuantity
	}
	return q
}
