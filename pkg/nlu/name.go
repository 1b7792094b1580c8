package nlu

import (
	"regexp"
	"strings"
	"unicode"
)

// nonNames are words that commonly follow "I'm" or stand alone in a reply
// but are never a caller's name.
var nonNames = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "no": true, "nope": true, "ok": true, "okay": true,
	"sure": true, "thanks": true, "thank": true, "hello": true, "hi": true, "hey": true,
	"correct": true, "right": true, "great": true, "perfect": true, "good": true, "fine": true,
	"please": true, "today": true, "tomorrow": true, "tonight": true, "morning": true,
	"evening": true, "afternoon": true, "looking": true, "calling": true, "trying": true,
	"interested": true, "here": true, "just": true, "not": true, "going": true, "wondering": true,
	"ready": true, "done": true, "that": true, "all": true, "nothing": true, "maybe": true,
	"reservation": true, "table": true, "party": true, "people": true, "person": true,
	"pay": true, "payment": true, "cancel": true, "change": true, "menu": true,
	"the": true, "a": true, "an": true, "and": true, "for": true, "with": true, "at": true,
	"one": true, "two": true, "three": true, "four": true, "five": true, "six": true,
	"seven": true, "eight": true, "nine": true, "ten": true, "bye": true, "goodbye": true,
	"wait": true, "hold": true, "sorry": true, "excuse": true, "also": true, "actually": true,
	"hungry": true, "starving": true, "new": true, "back": true, "glad": true, "happy": true,
	"hoping": true, "planning": true, "thinking": true, "curious": true, "free": true, "available": true,
}

// nameStops end a captured name.
var nameStops = map[string]bool{
	"party": true, "for": true, "at": true, "calling": true, "here": true, "from": true,
	"with": true, "on": true, "tomorrow": true, "today": true, "tonight": true, "and": false,
	"i": true, "i'd": true, "would": true, "want": true, "need": true, "looking": true,
	"my": true, "phone": true, "number": true, "please": true, "to": true, "is": true,
	"reservation": true, "table": true, "we": true, "we'd": true, "but": true, "so": true,
}

var (
	introPattern = regexp.MustCompile(`(?i)\b(?:my name is|my name's|name is|i'm|i am|this is)\s+([a-z][a-z'\-]*(?:\s+[a-z][a-z'\-]*){0,5})`)
	// compoundLead matches capitalized names opening a turn: "Jim and Bob, ..."
	compoundLead = regexp.MustCompile(`^\s*([A-Z][a-z'\-]+(?:\s*,\s*[A-Z][a-z'\-]+)*\s+and\s+[A-Z][a-z'\-]+)\b`)
	underPattern = regexp.MustCompile(`(?i)\b(?:under|reservation for|table for|booking for)\s+(?:the name\s+)?([a-z][a-z'\-]*(?:\s+[a-z][a-z'\-]*){0,2})`)
)

// NameResult is a primary name plus any companions named with it.
type NameResult struct {
	Name            string
	AdditionalNames []string
}

// All returns the primary name followed by the additional names.
func (n NameResult) All() []string {
	if n.Name == "" {
		return nil
	}
	return append([]string{n.Name}, n.AdditionalNames...)
}

// ExtractName finds the caller's name in the user turns.
// Explicit introductions win over compound openings, which win over a
// standalone one-word answer at the end of the last user turn.
func ExtractName(log []Turn) NameResult {
	users := UserTurns(log)

	for i := len(users) - 1; i >= 0; i-- {
		for _, m := range introPattern.FindAllStringSubmatch(users[i], -1) {
			if name := cleanName(m[1]); name != "" {
				return SplitCompoundName(name)
			}
		}
	}

	for i := len(users) - 1; i >= 0; i-- {
		if m := compoundLead.FindStringSubmatch(users[i]); m != nil {
			if name := cleanName(m[1]); name != "" {
				return SplitCompoundName(name)
			}
		}
	}

	for i := len(users) - 1; i >= 0; i-- {
		if m := underPattern.FindStringSubmatch(users[i]); m != nil {
			if name := cleanName(m[1]); name != "" {
				return SplitCompoundName(name)
			}
		}
	}

	if len(users) > 0 {
		if name := standaloneName(users[len(users)-1]); name != "" {
			return NameResult{Name: name}
		}
	}
	return NameResult{}
}

// SplitCompoundName separates "Jim and Bob" or "Jim, Bob and Sue" into a
// primary name and the rest.
func SplitCompoundName(name string) NameResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return NameResult{}
	}
	norm := strings.ReplaceAll(name, ",", " and ")
	var parts []string
	for _, p := range strings.Split(norm, " and ") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return NameResult{}
	}
	return NameResult{Name: parts[0], AdditionalNames: parts[1:]}
}

// cleanName cuts a captured phrase at the first stop word, rejects
// non-name words and title-cases what remains.
func cleanName(raw string) string {
	words := strings.Fields(strings.Trim(raw, " .,!?"))
	var kept []string
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,!?"))
		if stop, ok := nameStops[lw]; ok && stop {
			break
		}
		if lw == "and" {
			kept = append(kept, "and")
			continue
		}
		if nonNames[lw] {
			if len(kept) == 0 {
				return ""
			}
			break
		}
		kept = append(kept, titleCase(lw))
		if countNames(kept) >= 3 && !strings.Contains(strings.Join(kept, " "), " and ") {
			break
		}
	}
	for len(kept) > 0 && kept[len(kept)-1] == "and" {
		kept = kept[:len(kept)-1]
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, " ")
}

func countNames(words []string) int {
	n := 0
	for _, w := range words {
		if w != "and" {
			n++
		}
	}
	return n
}

// standaloneName accepts a one-word answer such as "Alice." as a name.
func standaloneName(turn string) string {
	w := strings.Trim(strings.TrimSpace(turn), ".,!? ")
	if strings.ContainsAny(w, " \t") || len(w) < 3 || len(w) > 20 {
		return ""
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return ""
		}
	}
	if nonNames[strings.ToLower(w)] {
		return ""
	}
	return titleCase(strings.ToLower(w))
}

func titleCase(w string) string {
	if w == "" {
		return w
	}
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	for i := 1; i < len(r); i++ {
		if r[i-1] == '-' || r[i-1] == '\'' && i >= 2 && unicode.ToLower(r[i-2]) == 'o' {
			r[i] = unicode.ToUpper(r[i])
		}
	}
	return string(r)
}
