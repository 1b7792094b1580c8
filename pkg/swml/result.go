// Package swml builds the JSON the voice platform consumes: tool results
// with their actions, and SWML documents for call bootstrap and
// announcements.
package swml

import (
	"encoding/json"
)

// Version is the SWML document version.
const Version = "1.0.0"

// Action names understood by the platform.
const (
	ActionSetMetadata = "set_meta_data"
	ActionSWML        = "SWML"
	ActionSay         = "say"
	ActionHangup      = "hangup"
	ActionTransfer    = "transfer"
	ActionStop        = "stop"
)

// Action is one entry of a result's action list.
type Action map[string]any

// Result is what a tool handler returns: the text the model speaks from and
// the actions the platform executes after it.
type Result struct {
	Response    string
	Actions     []Action
	PostProcess bool
}

// NewResult creates a result with the given response text.
func NewResult(response string) *Result {
	return &Result{Response: response}
}

// SetResponse replaces the response text.
func (r *Result) SetResponse(text string) *Result {
	r.Response = text
	return r
}

// AddAction appends a single-key action.
func (r *Result) AddAction(name string, value any) *Result {
	r.Actions = append(r.Actions, Action{name: value})
	return r
}

// SetMetadata asks the platform to store meta on the call. The platform
// echoes it back as meta_data on the next invocation.
func (r *Result) SetMetadata(meta map[string]any) *Result {
	return r.AddAction(ActionSetMetadata, meta)
}

// Metadata returns the payload of the last set_meta_data action, or nil.
func (r *Result) Metadata() map[string]any {
	for i := len(r.Actions) - 1; i >= 0; i-- {
		if v, ok := r.Actions[i][ActionSetMetadata]; ok {
			if m, ok := v.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// ExecuteSWML appends a SWML document for the platform to run.
func (r *Result) ExecuteSWML(doc *Document) *Result {
	return r.AddAction(ActionSWML, doc)
}

// SendSMS appends a send_sms verb.
func (r *Result) SendSMS(to, from, body string) *Result {
	return r.ExecuteSWML(NewDocument(Verb{"send_sms": map[string]any{
		"to_number":   to,
		"from_number": from,
		"body":        body,
	}}))
}

// Pay appends a pay verb so the platform collects card details itself.
func (r *Result) Pay(p PayParams) *Result {
	return r.ExecuteSWML(NewDocument(Verb{"pay": p.verb()}))
}

// Say makes the agent speak text verbatim.
func (r *Result) Say(text string) *Result {
	return r.AddAction(ActionSay, text)
}

// Hangup ends the call after the response.
func (r *Result) Hangup() *Result {
	return r.AddAction(ActionHangup, true)
}

// Connect transfers the call to a number. A final transfer leaves the
// agent; otherwise the caller returns to it afterwards.
func (r *Result) Connect(to string, final bool) *Result {
	r.ExecuteSWML(NewDocument(Verb{"connect": map[string]any{"to": to}}))
	if final {
		r.AddAction(ActionTransfer, "true")
	}
	return r
}

// HasAction reports whether any action has the given name.
func (r *Result) HasAction(name string) bool {
	for _, a := range r.Actions {
		if _, ok := a[name]; ok {
			return true
		}
	}
	return false
}

// ToMap renders the wire shape.
func (r *Result) ToMap() map[string]any {
	out := map[string]any{"response": r.Response}
	if len(r.Actions) > 0 {
		actions := make([]any, len(r.Actions))
		for i, a := range r.Actions {
			actions[i] = map[string]any(a)
		}
		out["action"] = actions
	}
	if r.PostProcess {
		out["post_process"] = true
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}
