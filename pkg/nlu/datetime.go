package nlu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Canonical layouts for stored dates and times.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// DefaultTimeZone is used when no LOCAL_TZ is configured.
const DefaultTimeZone = "America/New_York"

// pastBuffer tolerates clock skew when rejecting past reservations.
const pastBuffer = time.Minute

var dateLayouts = []string{
	DateLayout,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11, "twelfth": 12,
	"thirteenth": 13, "fourteenth": 14, "fifteenth": 15, "sixteenth": 16,
	"seventeenth": 17, "eighteenth": 18, "nineteenth": 19, "twentieth": 20,
	"twenty first": 21, "twenty second": 22, "twenty third": 23, "twenty fourth": 24,
	"twenty fifth": 25, "twenty sixth": 26, "twenty seventh": 27, "twenty eighth": 28,
	"twenty ninth": 29, "thirtieth": 30, "thirty first": 31,
}

const monthPattern = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

const ordinalPattern = `(?:twenty|thirty)[\s-](?:first|second|third|fourth|fifth|sixth|seventh|eighth|ninth)|first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|eleventh|twelfth|thirteenth|fourteenth|fifteenth|sixteenth|seventeenth|eighteenth|nineteenth|twentieth|thirtieth`

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b(` + monthPattern + `)\.?\s+(\d{1,2}|` + ordinalPattern + `)(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`)
	weekdayPattern   = regexp.MustCompile(`(?i)\b(this|next|on)?\s*(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)

	isoTimePattern      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T(\d{2}):(\d{2})`)
	clockPattern        = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm|a\.m\.|p\.m\.)?`)
	meridiemPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm|a\.m\.|p\.m\.)`)
	oclockPattern       = regexp.MustCompile(`(?i)\b(\d{1,2}|` + numberWordPattern + `)\s+o'?\s?clock\b`)
	spokenTimePattern   = regexp.MustCompile(`(?i)\b(` + numberWordPattern + `)(?:\s+(thirty|fifteen|forty[\s-]five|o'?\s?clock))?\s+(am|pm|a\.m\.|p\.m\.|in the evening)\b`)
	atHourPattern       = regexp.MustCompile(`(?i)\bat\s+(\d{1,2}|` + numberWordPattern + `)(?:\s+(thirty|fifteen|forty[\s-]five))?\b`)
	eveningPattern      = regexp.MustCompile(`(?i)\b(tonight|evening|dinner|this evening|in the evening)\b`)
	partyFollowsPattern = regexp.MustCompile(`(?i)^\s*(?:people|persons|guests|of us)\b`)
)

// ResolveLocation loads a time zone, falling back to DefaultTimeZone and then UTC.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimeZone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimeZone); err == nil {
		return loc
	}
	return time.UTC
}

// SplitISODateTime splits "2025-06-09T19:00[:00]" into date and time parts.
func SplitISODateTime(s string) (date, clock string, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, 'T')
	if i != 10 {
		return "", "", false
	}
	d, err := time.Parse(DateLayout, s[:i])
	if err != nil {
		return "", "", false
	}
	rest := s[i+1:]
	if len(rest) < 5 {
		return "", "", false
	}
	t, err := time.Parse(TimeLayout, rest[:5])
	if err != nil {
		return "", "", false
	}
	return d.Format(DateLayout), t.Format(TimeLayout), true
}

// ExtractDate resolves a reservation date mentioned in text, relative to now in loc.
func ExtractDate(text string, now time.Time, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)
	lower := strings.ToLower(text)

	if m := lastMatch(isoDatePattern, text); m != nil {
		if d, err := time.ParseInLocation(DateLayout, m[0], loc); err == nil {
			return d.Format(DateLayout), true
		}
	}
	if m := lastMatch(slashDatePattern, text); m != nil {
		if d, ok := slashDate(m, loc); ok {
			return d.Format(DateLayout), true
		}
	}
	if m := lastMatch(monthDayPattern, lower); m != nil {
		if d, ok := monthDay(m, today, loc); ok {
			return d.Format(DateLayout), true
		}
	}

	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2).Format(DateLayout), true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1).Format(DateLayout), true
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight") || strings.Contains(lower, "this evening"):
		return today.Format(DateLayout), true
	}

	if m := lastMatch(weekdayPattern, lower); m != nil {
		want := weekdays[m[2]]
		days := (int(want) - int(today.Weekday()) + 7) % 7
		if m[1] == "next" && days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days).Format(DateLayout), true
	}
	return "", false
}

// NormalizeDate converts a date argument supplied by the model into YYYY-MM-DD.
func NormalizeDate(arg string, now time.Time, loc *time.Location) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("nlu: empty date")
	}
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, arg, loc); err == nil {
			return d.Format(DateLayout), nil
		}
	}
	if d, ok := ExtractDate(arg, now, loc); ok {
		return d, nil
	}
	return "", fmt.Errorf("nlu: unrecognized date %q", arg)
}

// ExtractTime resolves a reservation time mentioned in text as HH:MM (24h).
// Without am/pm, hours before 8 are read as evening, and so are 8-11
// when the caller talks about tonight or dinner.
func ExtractTime(text string) (string, bool) {
	evening := eveningPattern.MatchString(text)

	if m := lastMatch(isoTimePattern, text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		return formatClock(h, mi)
	}
	if m := lastMatch(clockPattern, text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		return formatClock(applyMeridiem(h, m[3], evening), mi)
	}
	if m := lastMatch(meridiemPattern, text); m != nil {
		h, _ := strconv.Atoi(m[1])
		return formatClock(applyMeridiem(h, m[2], evening), 0)
	}
	if m := lastMatch(spokenTimePattern, text); m != nil {
		h, ok := ParseNumber(m[1])
		if ok {
			mer := strings.ToLower(m[3])
			if mer == "in the evening" {
				mer = "pm"
			}
			return formatClock(applyMeridiem(h, mer, evening), spokenMinutes(m[2]))
		}
	}
	if m := lastMatch(oclockPattern, text); m != nil {
		if h, ok := ParseNumber(m[1]); ok {
			return formatClock(applyMeridiem(h, "", evening), 0)
		}
	}
	if strings.Contains(strings.ToLower(text), "noon") {
		return "12:00", true
	}
	for _, loc := range reverse(atHourPattern.FindAllStringSubmatchIndex(text, -1)) {
		if partyFollowsPattern.MatchString(text[loc[1]:]) {
			continue
		}
		h, ok := ParseNumber(text[loc[2]:loc[3]])
		if !ok {
			continue
		}
		mins := 0
		if loc[4] >= 0 {
			mins = spokenMinutes(text[loc[4]:loc[5]])
		}
		return formatClock(applyMeridiem(h, "", evening), mins)
	}
	return "", false
}

// NormalizeTime converts a time argument such as "7pm", "7:30 PM" or "19:00" to HH:MM.
func NormalizeTime(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if t, err := time.Parse(TimeLayout, arg); err == nil {
		return t.Format(TimeLayout), nil
	}
	if _, clock, ok := SplitISODateTime(arg); ok {
		return clock, nil
	}
	if t, ok := ExtractTime(arg); ok {
		return t, nil
	}
	if t, ok := ExtractTime("at " + arg); ok {
		return t, nil
	}
	return "", fmt.Errorf("nlu: unrecognized time %q", arg)
}

// ValidateNotPast rejects a date and time earlier than now minus a one-minute buffer.
func ValidateNotPast(date, clock string, now time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	if clock == "" {
		clock = "23:59"
	}
	at, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return fmt.Errorf("nlu: invalid date/time %q %q: %w", date, clock, err)
	}
	if at.Before(now.Add(-pastBuffer)) {
		return ErrPastDateTime
	}
	return nil
}

func applyMeridiem(h int, mer string, evening bool) int {
	mer = strings.ReplaceAll(strings.ToLower(mer), ".", "")
	switch mer {
	case "pm":
		if h < 12 {
			return h + 12
		}
		return h
	case "am":
		if h == 12 {
			return 0
		}
		return h
	}
	if h >= 1 && h < 8 {
		return h + 12
	}
	if evening && h >= 8 && h < 12 {
		return h + 12
	}
	return h
}

func spokenMinutes(s string) int {
	s = strings.ToLower(strings.ReplaceAll(s, "-", " "))
	switch {
	case s == "thirty":
		return 30
	case s == "fifteen":
		return 15
	case strings.HasPrefix(s, "forty"):
		return 45
	}
	return 0
}

func formatClock(h, m int) (string, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

func slashDate(m []string, loc *time.Location) (time.Time, bool) {
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	return buildDate(year, time.Month(month), day, loc)
}

func monthDay(m []string, today time.Time, loc *time.Location) (time.Time, bool) {
	month, ok := months[strings.TrimSuffix(m[1], ".")]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(m[2])
	if err != nil {
		d, ok := ordinalWords[strings.ReplaceAll(m[2], "-", " ")]
		if !ok {
			return time.Time{}, false
		}
		day = d
	}
	if m[3] != "" {
		year, _ := strconv.Atoi(m[3])
		return buildDate(year, month, day, loc)
	}
	d, ok := buildDate(today.Year(), month, day, loc)
	if !ok {
		return d, false
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	if d.Before(start) {
		return buildDate(today.Year()+1, month, day, loc)
	}
	return d, true
}

func buildDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func lastMatch(re *regexp.Regexp, s string) []string {
	all := re.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func reverse[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
