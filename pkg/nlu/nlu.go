// Package nlu reconstructs reservation details from a call transcript.
//
// Every function here is pure: it reads the ordered call log the voice
// platform sends with each tool invocation and returns what it could find.
// Nothing is invented; a field the caller never said stays empty.
package nlu

import (
	"errors"
	"strings"
)

// Limits shared by the extractors.
const (
	MinPartySize = 1
	MaxPartySize = 20
	MaxQuantity  = 20
)

// Sentinel errors.
var (
	// ErrNeedPhoneNumber is returned when neither the transcript nor caller ID yields a phone.
	ErrNeedPhoneNumber = errors.New("nlu: phone number required")

	// ErrPastDateTime is returned for a date/time earlier than now.
	ErrPastDateTime = errors.New("nlu: date and time are in the past")
)

// Roles used in the call log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one entry in the platform call log.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserTurns returns the content of every user turn, in order.
func UserTurns(log []Turn) []string {
	var out []string
	for _, t := range log {
		if t.Role == RoleUser && strings.TrimSpace(t.Content) != "" {
			out = append(out, t.Content)
		}
	}
	return out
}

// UserText joins all user turns into a single string.
func UserText(log []Turn) string {
	return strings.Join(UserTurns(log), " ")
}

// FullText joins user and assistant turns.
func FullText(log []Turn) string {
	parts := make([]string, 0, len(log))
	for _, t := range log {
		if t.Role == RoleUser || t.Role == RoleAssistant {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, " ")
}

// LastTurn returns the most recent turn with the given role.
func LastTurn(log []Turn, role string) (string, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == role && strings.TrimSpace(log[i].Content) != "" {
			return log[i].Content, true
		}
	}
	return "", false
}

// RecentUserTurns returns up to n most recent user turns, oldest first.
func RecentUserTurns(log []Turn, n int) []string {
	turns := UserTurns(log)
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// AssistantBefore returns the assistant turn preceding the last user turn.
func AssistantBefore(log []Turn) string {
	seenUser := false
	for i := len(log) - 1; i >= 0; i-- {
		switch log[i].Role {
		case RoleUser:
			seenUser = true
		case RoleAssistant:
			if seenUser {
				return log[i].Content
			}
		}
	}
	return ""
}
