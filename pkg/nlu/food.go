package nlu

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/menu"
)

// Scoring thresholds for menu name matching.
const (
	ScoreExact     = 1.0
	ScoreSubstring = 0.8
	ScoreMinimum   = 0.4
	scoreFuzzyCap  = 0.95
)

// Extraction passes, recorded on each match.
const (
	SourceStructured = "structured"
	SourceNatural    = "natural"
	SourceDirect     = "direct"
	SourcePrice      = "price"
)

// FoodMatch is a menu item recognized in the transcript.
type FoodMatch struct {
	MenuItemID int64   `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
	Position   int     `json:"-"`
}

var (
	structuredPattern = regexp.MustCompile(`(?i)\b(?:drink|beverage|food|appetizer|starter|main|main course|entree|entrée|dessert|side)\s*:\s*([^,;\n.]+)`)
	naturalPattern    = regexp.MustCompile(`(?i)\b(?:i'll have|i will have|i'd like|i would like|i want|i'll take|i will take|give me|get me|let me get|can i get|could i get|i'll get|(?:[a-z]+)\s+(?:wants|will have|'ll have|would like|gets|is having|is getting|will get))\s+([^.;!?\n]+)`)
	priceAnchored     = regexp.MustCompile(`(?i)\bthe\s+([a-z][a-z '\-]{2,40}?)\s+for\s+(\$?\d+(?:\.\d{1,2})?|` + numberWordPattern + `)\s*(?:dollars|bucks)?`)
	chunkSplit        = regexp.MustCompile(`(?i)\s*(?:,|\band\b|\bwith\b|\bplus\b|\balso\b|&)\s*`)
	leadQuantity      = regexp.MustCompile(`(?i)^(?:(\d{1,2}|` + numberWordPattern + `|a|an|a couple of|a pair of)\s+)?(?:orders? of\s+|of\s+)?(?:the\s+|some\s+)?(.+)$`)
	trailingFiller    = regexp.MustCompile(`(?i)\s+(?:please|too|as well|for me|for him|for her|each)$`)
	priorQuantity     = regexp.MustCompile(`(?i)\b(\d{1,2}|` + numberWordPattern + `|a|an)\s+(?:orders? of\s+)?(?:the\s+)?$`)
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "with": true, "and": true, "or": true,
	"on": true, "in": true, "to": true, "for": true, "some": true, "please": true,
}

// ExtractFoodFromLog runs ExtractFoodItems over the user turns and adds the
// structured recommendations made by the assistant ("Drink: Iced Tea").
func ExtractFoodFromLog(log []Turn, items []menu.Item) []FoodMatch {
	user := UserText(log)
	matches := ExtractFoodItems(user, items)

	var assistant []string
	for _, t := range log {
		if t.Role == RoleAssistant {
			assistant = append(assistant, t.Content)
		}
	}
	rec := structuredPass(strings.Join(assistant, "\n"), items)
	for i := range rec {
		rec[i].Position = -1
	}
	return mergeMatches(append(matches, rec...))
}

// ExtractFoodItems finds menu items in text with four passes: structured
// recommendations, natural ordering phrases, direct name mentions and
// price-anchored mentions. Results are deduplicated by menu item id.
func ExtractFoodItems(text string, items []menu.Item) []FoodMatch {
	if strings.TrimSpace(text) == "" || len(items) == 0 {
		return nil
	}
	var all []FoodMatch
	all = append(all, structuredPass(text, items)...)
	all = append(all, naturalPass(text, items)...)
	all = append(all, directPass(text, items)...)
	all = append(all, pricePass(text, items)...)
	return mergeMatches(all)
}

// ScoreMatch rates how well a spoken phrase matches a menu name.
// Exact scores 1.0, containment 0.8, otherwise word overlap plus a keyword
// bonus capped below exact.
func ScoreMatch(phrase, name string) float64 {
	p := menu.NormalizeName(phrase)
	n := menu.NormalizeName(name)
	if p == "" || n == "" {
		return 0
	}
	if p == n {
		return ScoreExact
	}
	if containsWords(p, n) || containsWords(n, p) && len(strings.Fields(p)) >= 2 {
		return ScoreSubstring
	}

	pw := significantWords(p)
	nw := significantWords(n)
	if len(pw) == 0 || len(nw) == 0 {
		return 0
	}
	inter := 0
	bonus := 0.0
	for w := range pw {
		if nw[w] {
			inter++
			if len(w) > 4 {
				bonus += 0.1
			}
		}
	}
	union := len(pw) + len(nw) - inter
	score := float64(inter)/float64(union) + bonus
	if score > scoreFuzzyCap {
		score = scoreFuzzyCap
	}
	return score
}

// BestMenuMatch returns the best-scoring menu item for a phrase above ScoreMinimum.
func BestMenuMatch(phrase string, items []menu.Item) (menu.Item, float64, bool) {
	var best menu.Item
	bestScore := 0.0
	for _, it := range items {
		s := ScoreMatch(phrase, it.Name)
		if s > bestScore {
			best, bestScore = it, s
		}
	}
	if bestScore < ScoreMinimum {
		return menu.Item{}, 0, false
	}
	return best, bestScore, true
}

func structuredPass(text string, items []menu.Item) []FoodMatch {
	var out []FoodMatch
	for _, loc := range structuredPattern.FindAllStringSubmatchIndex(text, -1) {
		phrase := strings.TrimSpace(text[loc[2]:loc[3]])
		for _, m := range matchPhrase(phrase, items, SourceStructured) {
			m.Position = loc[2]
			out = append(out, m)
		}
	}
	return out
}

func naturalPass(text string, items []menu.Item) []FoodMatch {
	var out []FoodMatch
	for _, loc := range naturalPattern.FindAllStringSubmatchIndex(text, -1) {
		clause := text[loc[2]:loc[3]]
		offset := loc[2]
		for _, chunk := range splitChunks(clause) {
			for _, m := range matchPhrase(chunk, items, SourceNatural) {
				m.Position = offset + max(0, strings.Index(strings.ToLower(clause), strings.ToLower(firstWord(chunk))))
				out = append(out, m)
			}
		}
	}
	return out
}

func directPass(text string, items []menu.Item) []FoodMatch {
	lower := strings.ToLower(text)
	var out []FoodMatch
	for _, it := range items {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(it.Name)) + `\b`)
		if err != nil {
			continue
		}
		locs := re.FindAllStringIndex(lower, -1)
		if len(locs) == 0 {
			continue
		}
		qty := 1
		for _, l := range locs {
			if q, ok := quantityBefore(lower[:l[0]]); ok && q > qty {
				qty = q
			}
		}
		out = append(out, FoodMatch{
			MenuItemID: it.ID,
			Name:       it.Name,
			Quantity:   clampQuantity(qty),
			Score:      ScoreExact,
			Source:     SourceDirect,
			Position:   locs[0][0],
		})
	}
	return out
}

func pricePass(text string, items []menu.Item) []FoodMatch {
	var out []FoodMatch
	for _, loc := range priceAnchored.FindAllStringSubmatchIndex(text, -1) {
		phrase := text[loc[2]:loc[3]]
		priceText := strings.TrimPrefix(text[loc[4]:loc[5]], "$")
		it, score, ok := BestMenuMatch(phrase, items)
		if !ok {
			continue
		}
		if dollars, ok := parsePrice(priceText); ok && int64(it.PriceCents)/100 == dollars {
			score = maxf(score, ScoreSubstring)
		}
		out = append(out, FoodMatch{
			MenuItemID: it.ID,
			Name:       it.Name,
			Quantity:   1,
			Score:      score,
			Source:     SourcePrice,
			Position:   loc[2],
		})
	}
	return out
}

// matchPhrase resolves one spoken chunk ("two draft beers") to a menu item.
func matchPhrase(chunk string, items []menu.Item, source string) []FoodMatch {
	chunk = strings.TrimSpace(trailingFiller.ReplaceAllString(strings.TrimSpace(chunk), ""))
	if chunk == "" {
		return nil
	}
	qty := 1
	name := chunk
	if m := leadQuantity.FindStringSubmatch(chunk); m != nil {
		if m[1] != "" {
			if q, ok := parseQuantity(m[1]); ok {
				qty = q
			}
		}
		name = m[2]
	}
	it, score, ok := BestMenuMatch(name, items)
	if !ok {
		// plural "beers" against "Draft Beer"
		it, score, ok = BestMenuMatch(strings.TrimSuffix(name, "s"), items)
		if !ok {
			return nil
		}
	}
	return []FoodMatch{{
		MenuItemID: it.ID,
		Name:       it.Name,
		Quantity:   clampQuantity(qty),
		Score:      score,
		Source:     source,
	}}
}

func splitChunks(clause string) []string {
	var out []string
	for _, c := range chunkSplit.Split(clause, -1) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// mergeMatches deduplicates by menu id keeping the best score, the largest
// quantity and the earliest position, ordered by first mention.
func mergeMatches(all []FoodMatch) []FoodMatch {
	byID := make(map[int64]*FoodMatch)
	var order []int64
	for _, m := range all {
		cur, ok := byID[m.MenuItemID]
		if !ok {
			c := m
			byID[m.MenuItemID] = &c
			order = append(order, m.MenuItemID)
			continue
		}
		if m.Score > cur.Score {
			cur.Score = m.Score
			cur.Source = m.Source
		}
		if m.Quantity > cur.Quantity {
			cur.Quantity = m.Quantity
		}
		if m.Position >= 0 && (cur.Position < 0 || m.Position < cur.Position) {
			cur.Position = m.Position
		}
	}
	out := make([]FoodMatch, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Position, out[j].Position
		if pi < 0 {
			return false
		}
		if pj < 0 {
			return true
		}
		return pi < pj
	})
	return out
}

func quantityBefore(prefix string) (int, bool) {
	m := priorQuantity.FindStringSubmatch(prefix)
	if m == nil {
		return 0, false
	}
	return parseQuantity(m[1])
}

func parseQuantity(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "a couple of":
		return 2, true
	case "a pair of":
		return 2, true
	}
	n, ok := ParseNumber(s)
	if !ok {
		return 0, false
	}
	return clampQuantity(n), true
}

func parsePrice(s string) (int64, bool) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	if n, ok := ParseNumber(s); ok {
		return int64(n), true
	}
	return 0, false
}

func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?'\"")
		if w == "" || stopWords[w] {
			continue
		}
		out[strings.TrimSuffix(w, "s")] = true
	}
	return out
}

// containsWords reports whether needle occurs in hay on word boundaries.
func containsWords(hay, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return s
	}
	return f[0]
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
