package nlu

import (
	"regexp"
	"strings"
)

// syntheticAreaCode is prefixed to seven-digit local numbers.
const syntheticAreaCode = "555"

var phoneCandidate = regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`)

// NormalizePhone converts a phone number to E.164 (+1XXXXXXXXXX).
// It accepts 7, 10 and 11-digit (leading 1) forms and is idempotent on its output.
func NormalizePhone(s string) (string, bool) {
	digits := onlyDigits(s)
	switch {
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, true
	case len(digits) == 10:
		return "+1" + digits, true
	case len(digits) == 7:
		return "+1" + syntheticAreaCode + digits, true
	}
	return "", false
}

// PhoneVariants returns the stored forms a phone number may take:
// E.164, bare 10 digits and 11 digits with the leading 1.
func PhoneVariants(s string) []string {
	e164, ok := NormalizePhone(s)
	if !ok {
		return nil
	}
	ten := e164[2:]
	return []string{e164, ten, "1" + ten, "+1 " + ten, "(" + ten[:3] + ") " + ten[3:6] + "-" + ten[6:], ten[:3] + "-" + ten[3:6] + "-" + ten[6:]}
}

// ExtractPhone finds a phone number in the text after converting spelled
// digits, falling back to the caller ID. It returns ErrNeedPhoneNumber when
// neither yields a valid number.
func ExtractPhone(text, callerID string) (string, error) {
	converted := WordsToDigits(text)
	matches := phoneCandidate.FindAllString(converted, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if looksLikeDate(matches[i]) {
			continue
		}
		if p, ok := NormalizePhone(matches[i]); ok {
			return p, nil
		}
	}
	if p, ok := NormalizePhone(callerID); ok {
		return p, nil
	}
	return "", ErrNeedPhoneNumber
}

func looksLikeDate(s string) bool {
	s = strings.TrimSpace(s)
	return isoDatePattern.MatchString(s) && len(onlyDigits(s)) == 8
}

func onlyDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
