package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/money"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
)

func testMenu() []menu.Item {
	return []menu.Item{
		{ID: 1, Name: "Buffalo Wings", Category: "appetizers", PriceCents: 1299, IsAvailable: true},
		{ID: 2, Name: "Mushroom Swiss Burger", Category: "main-courses", PriceCents: 1599, IsAvailable: true},
		{ID: 3, Name: "House Salad", Category: "appetizers", PriceCents: 899, IsAvailable: true},
		{ID: 4, Name: "Draft Beer", Category: "drinks", PriceCents: 599, IsAvailable: true},
		{ID: 6, Name: "Classic Burger", Category: "main-courses", PriceCents: 1399, IsAvailable: true},
		{ID: 7, Name: "Lobster Bisque", Category: "appetizers", PriceCents: 1150, IsAvailable: false},
	}
}

func TestAssembleFromTranscript(t *testing.T) {
	a := NewAssembler()
	asm, err := a.Assemble(context.Background(), Input{
		Transcript: "Alice wants the Buffalo Wings and a Draft Beer.",
		Names:      []string{"Alice"},
		Menu:       testMenu(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(asm.Parties) != 1 || asm.Parties[0].PersonName != "Alice" {
		t.Fatalf("unexpected parties: %+v", asm.Parties)
	}
	if got := asm.ItemCount(); got != 2 {
		t.Errorf("ItemCount() = %d, want 2", got)
	}
	if asm.TotalCents != money.Cents(1898) {
		t.Errorf("TotalCents = %d, want 1898", asm.TotalCents)
	}
	if !strings.Contains(asm.Summary, "$18.98") || !strings.HasSuffix(asm.Summary, "Is that correct?") {
		t.Errorf("unexpected summary: %q", asm.Summary)
	}
}

func TestAssembleTranscriptOverridesWrongIDs(t *testing.T) {
	text := "Jim and Bob, party of two, tonight at 8, Jim will have the Mushroom Swiss Burger, Bob will have the House Salad."
	provided := []nlu.PartyOrder{
		{PersonName: "Jim", Items: []nlu.PartyItem{{MenuItemID: 6, Quantity: 1}}},
		{PersonName: "Bob", Items: []nlu.PartyItem{{MenuItemID: 1, Quantity: 1}}},
	}

	asm, err := NewAssembler().Assemble(context.Background(), Input{
		Provided:   provided,
		Transcript: text,
		Names:      []string{"Jim", "Bob"},
		Menu:       testMenu(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !asm.Reassigned {
		t.Error("expected transcript to replace provided items")
	}
	want := map[string]int64{"Jim": 2, "Bob": 3}
	for _, p := range asm.Parties {
		if len(p.Items) != 1 || p.Items[0].MenuItemID != want[p.PersonName] {
			t.Errorf("%s items = %+v, want id %d", p.PersonName, p.Items, want[p.PersonName])
		}
	}
	if asm.TotalCents != 1599+899 {
		t.Errorf("TotalCents = %d", asm.TotalCents)
	}
}

func TestAssembleKeepsMatchingProvided(t *testing.T) {
	provided := []nlu.PartyOrder{
		{PersonName: "Alice", Items: []nlu.PartyItem{{MenuItemID: 1, Quantity: 2}, {MenuItemID: 4, Quantity: 1}}},
	}
	asm, err := NewAssembler().Assemble(context.Background(), Input{
		Provided:   provided,
		Transcript: "Alice wants the Buffalo Wings and a Draft Beer.",
		Menu:       testMenu(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if asm.Reassigned {
		t.Error("matching ids should keep the provided grouping")
	}
	if asm.Parties[0].Items[0].Quantity != 2 {
		t.Errorf("provided quantity lost: %+v", asm.Parties[0].Items)
	}
}

func TestAssembleDropsInvalidItems(t *testing.T) {
	provided := []nlu.PartyOrder{
		{PersonName: "Sam", Items: []nlu.PartyItem{
			{MenuItemID: 99, Quantity: 1},
			{MenuItemID: 7, Quantity: 1},
			{MenuItemID: 3, Quantity: 40},
		}},
	}
	asm, err := NewAssembler().Assemble(context.Background(), Input{Provided: provided, Menu: testMenu()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(asm.Dropped) != 2 {
		t.Fatalf("Dropped = %+v, want 2 entries", asm.Dropped)
	}
	if asm.Dropped[0].Reason != ReasonUnknown || asm.Dropped[1].Reason != ReasonUnavailable {
		t.Errorf("unexpected drop reasons: %+v", asm.Dropped)
	}
	line := asm.Parties[0].Items[0]
	if line.Quantity != MaxQuantity {
		t.Errorf("quantity = %d, want capped at %d", line.Quantity, MaxQuantity)
	}
	if asm.TotalCents != money.Cents(899*MaxQuantity) {
		t.Errorf("TotalCents = %d", asm.TotalCents)
	}
}

func TestAssembleErrors(t *testing.T) {
	t.Run("menu empty", func(t *testing.T) {
		_, err := NewAssembler().Assemble(context.Background(), Input{Transcript: "wings"})
		if !errors.Is(err, ErrMenuEmpty) {
			t.Errorf("expected ErrMenuEmpty, got %v", err)
		}
	})
	t.Run("all dropped", func(t *testing.T) {
		provided := []nlu.PartyOrder{{PersonName: "Sam", Items: []nlu.PartyItem{{MenuItemID: 99, Quantity: 1}}}}
		_, err := NewAssembler().Assemble(context.Background(), Input{Provided: provided, Menu: testMenu()})
		if !errors.Is(err, ErrEmptyOrder) {
			t.Errorf("expected ErrEmptyOrder, got %v", err)
		}
	})
}

func TestFromNamed(t *testing.T) {
	lines, total, err := FromNamed([]NamedItem{
		{Name: "buffalo wings", Quantity: 2},
		{Name: "draft beer"},
		{Name: "Buffalo Wings", Quantity: 1},
	}, testMenu())
	if err != nil {
		t.Fatalf("FromNamed() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected repeats merged, got %+v", lines)
	}
	if lines[0].Quantity != 3 || lines[1].Quantity != 1 {
		t.Errorf("unexpected quantities: %+v", lines)
	}
	if total != 1299*3+599 {
		t.Errorf("total = %d", total)
	}

	_, _, err = FromNamed([]NamedItem{{Name: "lobster bisque"}}, testMenu())
	var itemErr *ItemError
	if !errors.As(err, &itemErr) || itemErr.Reason != ReasonUnavailable {
		t.Errorf("expected unavailable ItemError, got %v", err)
	}

	_, _, err = FromNamed([]NamedItem{{Name: "spaghetti carbonara"}}, testMenu())
	if !errors.As(err, &itemErr) || itemErr.Reason != ReasonUnknown {
		t.Errorf("expected unknown ItemError, got %v", err)
	}
}

func TestFromPreOrder(t *testing.T) {
	asm, err := FromPreOrder("Dana", []NamedItem{{Name: "House Salad", Quantity: 1}}, testMenu())
	if err != nil {
		t.Fatalf("FromPreOrder() error = %v", err)
	}
	if asm.Parties[0].PersonName != "Dana" || asm.TotalCents != 899 {
		t.Errorf("unexpected assembly: %+v", asm)
	}
}
