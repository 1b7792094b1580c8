package nlu

import (
	"regexp"
	"strings"
)

// Signal is the classification of a single user utterance.
type Signal int

const (
	SignalOther Signal = iota
	SignalAffirm
	SignalModify
	SignalCancel
	// SignalPayment is a request to pay, which confirms a pending order.
	SignalPayment
)

// PromptKind classifies the assistant turn the user is answering.
type PromptKind int

const (
	PromptInformation PromptKind = iota
	PromptConfirmation
)

// Decision is the outcome of the affirmation state machine.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionConfirm
	DecisionModify
	DecisionCancel
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionConfirm:
		return "confirm"
	case DecisionModify:
		return "modify"
	case DecisionCancel:
		return "cancel"
	}
	return "none"
}

var (
	cancelPhrases  = regexp.MustCompile(`(?i)\b(?:cancel|start over|never ?mind|forget it|scratch that)\b`)
	modifyPhrases  = regexp.MustCompile(`(?i)\b(?:change|wrong|different|instead|not (?:right|correct)|incorrect|that's not|switch|swap|remove|replace)\b`)
	confirmPhrases = regexp.MustCompile(`(?i)\b(?:that's (?:correct|right|perfect)|that is (?:correct|right)|yes,? (?:that's|it's) (?:correct|right)|create it|book it|go ahead|confirm(?:ed)?|sounds (?:good|great|perfect)|looks (?:good|great)|make the reservation|please do|do it|all good|absolutely|definitely)\b`)
	simpleYes      = regexp.MustCompile(`(?i)^\W*(?:yes|yeah|yep|yup|ok|okay|sure|correct|right|perfect|great|uh[- ]huh|mm[- ]hmm|please)\b`)
	simpleNo       = regexp.MustCompile(`(?i)^\W*(?:no|nope|nah)\b`)
	paymentPhrases = regexp.MustCompile(`(?i)\b(?:pay|paying|payment|credit card|debit card|card|charge|bill)\b`)
	promptCues     = regexp.MustCompile(`(?i)\b(?:is (?:that|this|everything) (?:correct|right)|does (?:that|this|everything) (?:look|sound)|shall i|should i|would you like me to|can i go ahead|want me to|confirm|ready to (?:book|create|proceed)|proceed|look good)\b`)
)

// Classify maps an utterance to a signal. Cancel beats modify, which beats
// explicit confirmation; payment and bare yes/no are reported separately.
func Classify(utterance string) Signal {
	u := strings.TrimSpace(utterance)
	switch {
	case u == "":
		return SignalOther
	case cancelPhrases.MatchString(u):
		return SignalCancel
	case modifyPhrases.MatchString(u):
		return SignalModify
	case confirmPhrases.MatchString(u):
		return SignalAffirm
	case paymentPhrases.MatchString(u):
		return SignalPayment
	}
	return SignalOther
}

// ClassifyPrompt decides whether an assistant turn asked for confirmation.
func ClassifyPrompt(assistant string) PromptKind {
	if strings.Contains(assistant, "?") && promptCues.MatchString(assistant) {
		return PromptConfirmation
	}
	return PromptInformation
}

// Detect runs the affirmation state machine over the user's recent turns,
// newest first. A bare yes confirms only when the previous assistant turn
// asked for confirmation; a payment request confirms only while a pending
// order awaits confirmation.
func Detect(recentUser []string, prevAssistant string, awaiting bool) Decision {
	prompt := ClassifyPrompt(prevAssistant)
	for i := len(recentUser) - 1; i >= 0; i-- {
		u := recentUser[i]
		switch Classify(u) {
		case SignalCancel:
			return DecisionCancel
		case SignalModify:
			return DecisionModify
		case SignalAffirm:
			return DecisionConfirm
		case SignalPayment:
			if awaiting {
				return DecisionConfirm
			}
		}
		if prompt == PromptConfirmation {
			if simpleYes.MatchString(u) {
				return DecisionConfirm
			}
			if simpleNo.MatchString(u) {
				return DecisionModify
			}
		}
		// only the newest substantive turn counts
		if strings.TrimSpace(u) != "" {
			break
		}
	}
	return DecisionNone
}

// DetectFromLog applies Detect to the user turns that follow the last assistant turn.
func DetectFromLog(log []Turn, awaiting bool) Decision {
	return Detect(RecentUserTurns(log, 2), AssistantBefore(log), awaiting)
}

// IsAffirmative reports whether the utterance alone is a confirmation.
func IsAffirmative(utterance string) bool {
	return Classify(utterance) == SignalAffirm || simpleYes.MatchString(utterance)
}
