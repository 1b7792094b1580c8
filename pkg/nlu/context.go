package nlu

import (
	"regexp"
	"strings"
	"time"
)

// ConversationContext holds facts recovered from earlier turns that a
// handler can use when the model omits an argument.
type ConversationContext struct {
	ReservationNumber string
	OrderNumber       string
	CustomerName      string
	PaymentRequested  bool
}

var (
	reservationNumberPattern = regexp.MustCompile(`\b(\d{6})\b`)
	orderNumberPattern       = regexp.MustCompile(`(?i)\border\s*(?:number|#|no\.?)?\s*(?:is\s*)?:?\s*(\d{5})\b`)
	assistantResPattern      = regexp.MustCompile(`(?i)reservation\s*(?:number|#|no\.?)?\s*(?:is\s*)?:?\s*#?(\d{6})\b`)
	assistantNamePattern     = regexp.MustCompile(`(?i)\breservation for\s+([A-Z][a-z'\-]+(?:\s+[A-Z][a-z'\-]+)?)`)
	forUnderPattern          = regexp.MustCompile(`(?i)\b(?:for|under)\s+([a-z][a-z'\-]+\s+[a-z][a-z'\-]+)`)
	paymentKeywords          = regexp.MustCompile(`(?i)\b(?:pay|payment|bill|charge|credit card)\b`)
	specialRequestPattern    = regexp.MustCompile(`(?i)\b(?:special request(?:s)?(?: is| are)?:?|(?:it's|it is) (?:a|an|our|my) )\s*([^.!?\n]+)`)
	occasionPattern          = regexp.MustCompile(`(?i)\b(birthday|anniversary|graduation|high chair|wheelchair|window seat|booth|allerg(?:y|ic)[^.!?\n]*)`)
)

// ExtractConversationContext scans the call log for a reservation number,
// the caller's name and whether they asked to pay.
func ExtractConversationContext(log []Turn) ConversationContext {
	var ctx ConversationContext
	for _, t := range log {
		switch t.Role {
		case RoleUser:
			text := WordsToDigits(t.Content)
			if m := lastMatch(reservationNumberPattern, text); m != nil {
				ctx.ReservationNumber = m[1]
			}
			if m := lastMatch(orderNumberPattern, text); m != nil {
				ctx.OrderNumber = m[1]
			}
			if paymentKeywords.MatchString(t.Content) {
				ctx.PaymentRequested = true
			}
			if m := introPattern.FindStringSubmatch(t.Content); m != nil {
				if name := cleanName(m[1]); name != "" {
					ctx.CustomerName = name
				}
			} else if m := forUnderPattern.FindStringSubmatch(t.Content); m != nil {
				if name := cleanName(m[1]); len(strings.Fields(name)) >= 2 {
					ctx.CustomerName = name
				}
			}
		case RoleAssistant:
			if ctx.ReservationNumber == "" {
				if m := lastMatch(assistantResPattern, t.Content); m != nil {
					ctx.ReservationNumber = m[1]
				}
			}
			if ctx.OrderNumber == "" {
				if m := lastMatch(orderNumberPattern, t.Content); m != nil {
					ctx.OrderNumber = m[1]
				}
			}
			if ctx.CustomerName == "" {
				if m := assistantNamePattern.FindStringSubmatch(t.Content); m != nil {
					ctx.CustomerName = strings.TrimSpace(m[1])
				}
			}
		}
	}
	return ctx
}

// LastAssistantReservationNumber returns the reservation number most recently
// spoken by the assistant.
func LastAssistantReservationNumber(log []Turn) string {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role != RoleAssistant {
			continue
		}
		if m := lastMatch(assistantResPattern, log[i].Content); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractSpecialRequests returns a short note about occasions or seating needs.
func ExtractSpecialRequests(text string) string {
	if m := specialRequestPattern.FindStringSubmatch(text); m != nil {
		if occ := occasionPattern.FindString(m[0]); occ != "" || strings.Contains(strings.ToLower(m[0]), "special request") {
			return strings.TrimSpace(m[1])
		}
	}
	var found []string
	seen := make(map[string]bool)
	for _, m := range occasionPattern.FindAllString(text, -1) {
		k := strings.ToLower(strings.TrimSpace(m))
		if !seen[k] {
			seen[k] = true
			found = append(found, k)
		}
	}
	return strings.Join(found, ", ")
}

// ReservationInfo is what the transcript says about a reservation.
type ReservationInfo struct {
	Name            string
	AdditionalNames []string
	PartySize       int
	Date            string
	Time            string
	PhoneNumber     string
	SpecialRequests string
	Missing         []string
}

// ExtractReservationInfo reconstructs the reservation fields from the user
// turns. The phone falls back to callerID; anything not found is listed in Missing.
func ExtractReservationInfo(log []Turn, callerID string, now time.Time, loc *time.Location) ReservationInfo {
	text := UserText(log)
	names := ExtractName(log)

	info := ReservationInfo{
		Name:            names.Name,
		AdditionalNames: names.AdditionalNames,
		PartySize:       ExtractPartySize(text),
		SpecialRequests: ExtractSpecialRequests(text),
	}
	if info.PartySize == 0 && len(names.AdditionalNames) > 0 {
		info.PartySize = partySizeFromNames(names)
	}
	if d, ok := ExtractDate(text, now, loc); ok {
		info.Date = d
	}
	if t, ok := ExtractTime(text); ok {
		info.Time = t
	}
	if p, err := ExtractPhone(text, callerID); err == nil {
		info.PhoneNumber = p
	}

	if info.Name == "" {
		info.Missing = append(info.Missing, "name")
	}
	if info.PartySize == 0 {
		info.Missing = append(info.Missing, "party_size")
	}
	if info.Date == "" {
		info.Missing = append(info.Missing, "date")
	}
	if info.Time == "" {
		info.Missing = append(info.Missing, "time")
	}
	if info.PhoneNumber == "" {
		info.Missing = append(info.Missing, "phone_number")
	}
	return info
}

// ExtractOrderNumber returns the last 5-digit order number mentioned in text.
func ExtractOrderNumber(text string) string {
	if m := lastMatch(orderNumberPattern, WordsToDigits(text)); m != nil {
		return m[1]
	}
	return ""
}
