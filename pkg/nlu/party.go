package nlu

import "regexp"

var partyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bparty of\s+(\d{1,2}|` + numberWordPattern + `)\b`),
	regexp.MustCompile(`(?i)\b(\d{1,2}|` + numberWordPattern + `)\s+(?:people|persons|guests|diners|adults|of us)\b`),
	regexp.MustCompile(`(?i)\b(?:table|reservation|booking)\s+for\s+(\d{1,2}|` + numberWordPattern + `)\b(?:\s+(?:people|persons|guests))?`),
	regexp.MustCompile(`(?i)\bfor\s+(\d{1,2}|` + numberWordPattern + `)\s+(?:people|persons|guests)\b`),
	regexp.MustCompile(`(?i)\b(one|1)\s+person\b`),
}

var (
	justMe   = regexp.MustCompile(`(?i)\bjust (?:me|myself)\b`)
	timeTail = regexp.MustCompile(`(?i)^\s*(?::\d{2}|\s*(?:am|pm|a\.m\.|p\.m\.|o'?clock))`)
)

// ExtractPartySize finds the party size in the text, returning 0 when absent
// or outside 1..20.
func ExtractPartySize(text string) int {
	best := 0
	bestPos := -1
	for _, p := range partyPatterns {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			// "for 7 pm" is a time, not a party size
			if timeTail.MatchString(text[loc[3]:]) {
				continue
			}
			n, ok := ParseNumber(text[loc[2]:loc[3]])
			if !ok || n < MinPartySize || n > MaxPartySize {
				continue
			}
			if loc[0] > bestPos {
				best, bestPos = n, loc[0]
			}
		}
	}
	if best == 0 && justMe.MatchString(text) {
		return 1
	}
	return best
}

// partySizeFromNames counts the names given for the party.
func partySizeFromNames(n NameResult) int {
	c := len(n.All())
	if c < MinPartySize || c > MaxPartySize {
		return 0
	}
	return c
}
