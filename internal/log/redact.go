package log

import (
	"log/slog"
	"regexp"
	"strings"
)

// panKeys are attribute keys whose values are masked to the last four digits.
var panKeys = map[string]bool{
	"card_number": true,
	"cardnumber":  true,
	"pan":         true,
}

// secretKeys are attribute keys whose values are never written.
var secretKeys = map[string]bool{
	"cvv":           true,
	"cvc":           true,
	"security_code": true,
}

// panPattern matches 13-19 digit runs that look like card numbers.
var panPattern = regexp.MustCompile(`\b\d{13,19}\b`)

// MaskPAN returns the card number reduced to its last four digits.
func MaskPAN(pan string) string {
	digits := make([]byte, 0, len(pan))
	for i := 0; i < len(pan); i++ {
		if pan[i] >= '0' && pan[i] <= '9' {
			digits = append(digits, pan[i])
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "****" + string(digits[len(digits)-4:])
}

// ScrubText replaces any card-number-like digit run in free text.
func ScrubText(s string) string {
	return panPattern.ReplaceAllStringFunc(s, MaskPAN)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, "[redacted]")
	case panKeys[key]:
		return slog.String(a.Key, MaskPAN(a.Value.String()))
	case a.Value.Kind() == slog.KindString:
		if s := a.Value.String(); panPattern.MatchString(s) {
			return slog.String(a.Key, ScrubText(s))
		}
	}
	return a
}
