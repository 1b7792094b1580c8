package nlu

import (
	"regexp"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/menu"
)

// proximityWindow is how far from a name an item mention may be to count as that person's.
const proximityWindow = 200

// PartyItem is one item in a person's pre-order.
type PartyItem struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
}

// PartyOrder groups the items ordered for one person.
type PartyOrder struct {
	PersonName string      `json:"person_name"`
	Items      []PartyItem `json:"items"`
}

var (
	sentenceSplit  = regexp.MustCompile(`[.!?\n]+`)
	firstPerson    = regexp.MustCompile(`(?i)\b(?:i|i'll|i'd|i'm|me|my)\b`)
	thirdPerson    = regexp.MustCompile(`(?i)\b(?:he|she|they|him|her|his|their|he'll|she'll|they'll)\b`)
	orderVerbsExpr = `(?:wants|will have|'ll have|would like|gets|is having|is getting|will get|can have|should get|is going to have)`
)

// AssignItemsToPeople distributes extracted items across the named party.
// It applies, in order: explicit "<name> wants ..." clauses, pronoun
// resolution within sentences, proximity to a name mention, and finally a
// round-robin that gives everyone a food item before anyone gets a second.
func AssignItemsToPeople(text string, names []string, items []FoodMatch, menuItems []menu.Item) []PartyOrder {
	names = uniqueNames(names)
	if len(names) == 0 {
		names = []string{""}
	}
	orders := make([]PartyOrder, len(names))
	for i, n := range names {
		orders[i].PersonName = n
	}
	if len(items) == 0 {
		return orders
	}
	if len(names) == 1 {
		for _, it := range items {
			orders[0].Items = append(orders[0].Items, toPartyItem(it))
		}
		return orders
	}

	idx := menu.NewIndex(menuItems)
	lower := strings.ToLower(text)
	assigned := make([]int, len(items))
	for i := range assigned {
		assigned[i] = -1
	}

	explicitAssign(lower, names, items, assigned)
	pronounAssign(lower, names, items, assigned)
	proximityAssign(lower, names, items, assigned)
	roundRobinAssign(names, items, assigned, idx, orders)

	for i, it := range items {
		if assigned[i] >= 0 {
			orders[assigned[i]].Items = append(orders[assigned[i]].Items, toPartyItem(it))
		}
	}
	return orders
}

func explicitAssign(lower string, names []string, items []FoodMatch, assigned []int) {
	for p, name := range names {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(name)) + `\s+` + orderVerbsExpr + `\s+([^.;!?\n]+)`)
		if err != nil {
			continue
		}
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			clause := cutAtOtherName(m[1], names, p)
			for i, it := range items {
				if assigned[i] < 0 && mentions(clause, it.Name) {
					assigned[i] = p
				}
			}
		}
	}
}

func pronounAssign(lower string, names []string, items []FoodMatch, assigned []int) {
	for _, sentence := range sentenceSplit.Split(lower, -1) {
		var present []int
		for p, name := range names {
			if containsName(sentence, name) {
				present = append(present, p)
			}
		}
		target := -1
		switch {
		case len(present) == 1:
			target = present[0]
		case len(present) == 0 && firstPerson.MatchString(sentence):
			target = 0
		case len(present) == 0 && thirdPerson.MatchString(sentence) && len(names) > 1:
			target = 1
		}
		if target < 0 {
			continue
		}
		for i, it := range items {
			if assigned[i] < 0 && mentions(sentence, it.Name) {
				assigned[i] = target
			}
		}
	}
}

func proximityAssign(lower string, names []string, items []FoodMatch, assigned []int) {
	namePos := make([][]int, len(names))
	for p, name := range names {
		namePos[p] = wordIndexes(lower, strings.ToLower(name))
	}
	for i, it := range items {
		if assigned[i] >= 0 {
			continue
		}
		positions := wordIndexes(lower, strings.ToLower(it.Name))
		if it.Position >= 0 {
			positions = append(positions, it.Position)
		}
		best, bestDist := -1, proximityWindow+1
		for _, ip := range positions {
			for p, list := range namePos {
				for _, np := range list {
					d := ip - np
					if d < 0 {
						d = -d
					}
					if d <= proximityWindow && d < bestDist {
						best, bestDist = p, d
					}
				}
			}
		}
		if best >= 0 {
			assigned[i] = best
		}
	}
}

// roundRobinAssign gives remaining food to people without food first, then
// drinks to people without drinks, then cycles.
func roundRobinAssign(names []string, items []FoodMatch, assigned []int, idx *menu.Index, orders []PartyOrder) {
	hasFood := make([]bool, len(names))
	hasDrink := make([]bool, len(names))
	isDrink := func(it FoodMatch) bool {
		m, ok := idx.ByID(it.MenuItemID)
		return ok && m.IsDrink()
	}
	for i, it := range items {
		if p := assigned[i]; p >= 0 {
			if isDrink(it) {
				hasDrink[p] = true
			} else {
				hasFood[p] = true
			}
		}
	}

	next := 0
	pick := func(need []bool) int {
		for k := 0; k < len(names); k++ {
			p := (next + k) % len(names)
			if !need[p] {
				return p
			}
		}
		return -1
	}
	for pass := 0; pass < 2; pass++ {
		for i, it := range items {
			if assigned[i] >= 0 || isDrink(it) != (pass == 1) {
				continue
			}
			flags := hasFood
			if pass == 1 {
				flags = hasDrink
			}
			p := pick(flags)
			if p < 0 {
				p = next % len(names)
			}
			assigned[i] = p
			flags[p] = true
			next = (p + 1) % len(names)
		}
	}
}

func cutAtOtherName(clause string, names []string, self int) string {
	cut := len(clause)
	for p, n := range names {
		if p == self {
			continue
		}
		if ix := wordIndexes(clause, strings.ToLower(n)); len(ix) > 0 && ix[0] < cut {
			cut = ix[0]
		}
	}
	return clause[:cut]
}

// mentions reports whether the text names the item, tolerating a dropped plural.
func mentions(text, itemName string) bool {
	name := strings.ToLower(itemName)
	if len(wordIndexes(text, name)) > 0 {
		return true
	}
	for _, chunk := range splitChunks(text) {
		if ScoreMatch(chunk, itemName) >= ScoreSubstring {
			return true
		}
	}
	return false
}

func containsName(text, name string) bool {
	return len(wordIndexes(text, strings.ToLower(name))) > 0
}

func wordIndexes(text, word string) []int {
	if word == "" {
		return nil
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return nil
	}
	var out []int
	for _, l := range re.FindAllStringIndex(text, -1) {
		out = append(out, l[0])
	}
	return out
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

func toPartyItem(m FoodMatch) PartyItem {
	return PartyItem{MenuItemID: m.MenuItemID, Name: m.Name, Quantity: clampQuantity(m.Quantity)}
}
