package swml

import (
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/money"
)

// Verb is one instruction of a SWML section.
type Verb map[string]any

// Document is a SWML document.
type Document struct {
	Version  string            `json:"version"`
	Sections map[string][]Verb `json:"sections"`
}

// NewDocument creates a document whose main section runs verbs in order.
func NewDocument(verbs ...Verb) *Document {
	return &Document{
		Version:  Version,
		Sections: map[string][]Verb{"main": verbs},
	}
}

// Main returns the main section.
func (d *Document) Main() []Verb {
	return d.Sections["main"]
}

// Append adds verbs to the main section.
func (d *Document) Append(verbs ...Verb) *Document {
	d.Sections["main"] = append(d.Sections["main"], verbs...)
	return d
}

// Announcement voice settings.
const (
	AnnounceVoice    = "rime.luna"
	AnnounceModel    = "arcana"
	AnnounceLanguage = "en-US"
)

// SayVerb speaks text with the announcement voice.
func SayVerb(text string) Verb {
	return Verb{"say": map[string]any{
		"text":     text,
		"voice":    AnnounceVoice,
		"model":    AnnounceModel,
		"language": AnnounceLanguage,
	}}
}

// HangupVerb ends the call.
func HangupVerb() Verb {
	return Verb{"hangup": map[string]any{}}
}

// Announcement says text and hangs up.
func Announcement(text string) *Document {
	return NewDocument(SayVerb(text), HangupVerb())
}

// Spell separates characters with spaces so the voice reads them one by one.
func Spell(s string) string {
	return strings.Join(strings.Split(s, ""), " ")
}

// Default pay verb settings.
const (
	DefaultCardTypes   = "visa mastercard amex"
	DefaultCurrency    = "usd"
	DefaultMaxAttempts = 3
	PayInputDTMF       = "dtmf"
	PayMethodCard      = "credit-card"
	TokenOneTime       = "one-time"
)

// Parameter is a name/value pair echoed back to the payment connector.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PayParams configures the pay verb.
type PayParams struct {
	ConnectorURL   string
	StatusURL      string
	Amount         money.Cents
	Currency       string
	Description    string
	CardTypes      string
	MaxAttempts    int
	SecurityCode   bool
	PostalCode     bool
	Parameters     []Parameter
	PromptLanguage string
}

func (p PayParams) verb() map[string]any {
	currency := p.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	cardTypes := p.CardTypes
	if cardTypes == "" {
		cardTypes = DefaultCardTypes
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	params := make([]map[string]string, 0, len(p.Parameters))
	for _, kv := range p.Parameters {
		if kv.Value == "" {
			continue
		}
		params = append(params, map[string]string{"name": kv.Name, "value": kv.Value})
	}
	v := map[string]any{
		"payment_connector_url": p.ConnectorURL,
		"input":                 PayInputDTMF,
		"payment_method":        PayMethodCard,
		"token_type":            TokenOneTime,
		"charge_amount":         p.Amount.String(),
		"currency":              currency,
		"valid_card_types":      cardTypes,
		"max_attempts":          attempts,
		"security_code":         boolString(p.SecurityCode),
		"postal_code":           boolString(p.PostalCode),
		"parameters":            params,
	}
	if p.StatusURL != "" {
		v["status_url"] = p.StatusURL
	}
	if p.Description != "" {
		v["description"] = p.Description
	}
	if p.PromptLanguage != "" {
		v["language"] = p.PromptLanguage
	}
	return v
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
