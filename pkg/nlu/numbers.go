package nlu

import (
	"strconv"
	"strings"
)

var digitWords = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9",
}

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"a": 1, "an": 1, "single": 1, "couple": 2, "pair": 2, "dozen": 12,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// numberWordPattern matches a spelled number of up to two words ("twenty two").
const numberWordPattern = `(?:twenty|thirty|forty|fifty|sixty|seventy|eighty|ninety)(?:[\s-](?:one|two|three|four|five|six|seven|eight|nine))?|zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen`

// ParseNumber parses digits or a spelled number below one hundred.
func ParseNumber(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	s = strings.ReplaceAll(s, "-", " ")
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		if n, ok := unitWords[parts[0]]; ok {
			return n, true
		}
		if n, ok := tensWords[parts[0]]; ok {
			return n, true
		}
	case 2:
		t, ok := tensWords[parts[0]]
		if !ok {
			return 0, false
		}
		u, ok := unitWords[parts[1]]
		if !ok || u == 0 || u > 9 {
			return 0, false
		}
		return t + u, true
	}
	return 0, false
}

// WordsToDigits rewrites spelled digits ("five five five") into digits and
// joins adjacent digit tokens, so "five five five one two" becomes "55512".
// Punctuation after a token ends the digit run.
func WordsToDigits(text string) string {
	var b strings.Builder
	joinNext := false
	for _, tok := range strings.Fields(text) {
		trimmed := strings.TrimRight(tok, ".,!?;:")
		trail := tok[len(trimmed):]
		core := strings.ToLower(trimmed)

		digit, isWord := digitWords[core]
		isNumeric := core != "" && strings.Trim(core, "0123456789-") == "" && strings.ContainsAny(core, "0123456789")
		if !isWord && !isNumeric {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(tok)
			joinNext = false
			continue
		}

		if isWord {
			trimmed = digit
		}
		if !joinNext && b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(trimmed)
		b.WriteString(trail)
		joinNext = trail == ""
	}
	return b.String()
}

// clampQuantity keeps a quantity within the accepted range.
func clampQuantity(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxQuantity:
		return MaxQuantity
	}
	return n
}
