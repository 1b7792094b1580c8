package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/nlu"
	"github.com/teslashibe/bobbys-table/pkg/tools"
)

// Envelope errors.
var (
	ErrMalformed       = errors.New("dispatch: malformed request")
	ErrMissingFunction = errors.New("dispatch: function name required")
)

// Call states reported by the platform.
const (
	StateCreated  = "created"
	StateAnswered = "answered"
	StateEnded    = "ended"
)

// ActionGetSignature asks for the tool catalog.
const ActionGetSignature = "get_signature"

// CallInfo is the call object of a call-state notification.
type CallInfo struct {
	CallID    string `json:"call_id"`
	CallState string `json:"call_state"`
	Direction string `json:"direction,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// Envelope is the body the platform posts to the tool endpoint.
type Envelope struct {
	Action         string          `json:"action"`
	Functions      []string        `json:"functions"`
	Call           *CallInfo       `json:"call"`
	Function       string          `json:"function"`
	Argument       json.RawMessage `json:"argument"`
	CallID         string          `json:"call_id"`
	AISessionID    string          `json:"ai_session_id"`
	MetaData       menu.Meta       `json:"meta_data"`
	MetaDataToken  string          `json:"meta_data_token"`
	CallLog        []nlu.Turn      `json:"call_log"`
	CallerIDNum    string          `json:"caller_id_num"`
	CallerIDNumber string          `json:"caller_id_number"`

	// form holds the arguments of a form-encoded body.
	form tools.Args
}

// CallerID returns the caller's number from either field the platform uses.
func (e *Envelope) CallerID() string {
	if e.CallerIDNum != "" {
		return e.CallerIDNum
	}
	return e.CallerIDNumber
}

// SessionID keys conversation memory.
func (e *Envelope) SessionID() string {
	if e.AISessionID == "" {
		return memory.DefaultSessionID
	}
	return e.AISessionID
}

// ParseEnvelope decodes a JSON body, falling back to a form-encoded one.
func ParseEnvelope(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if body[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &env, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil || values.Get("function") == "" {
		return nil, fmt.Errorf("%w: neither JSON nor a form with a function", ErrMalformed)
	}
	env := &Envelope{
		Function:    values.Get("function"),
		CallID:      values.Get("call_id"),
		AISessionID: values.Get("ai_session_id"),
		CallerIDNum: values.Get("caller_id_num"),
		form:        tools.Args{},
	}
	if raw := values.Get("argument"); raw != "" {
		env.Argument = json.RawMessage(raw)
	}
	for k := range values {
		switch k {
		case "function", "call_id", "ai_session_id", "caller_id_num", "argument":
			continue
		}
		env.form[k] = values.Get(k)
	}
	return env, nil
}

// ArgKind says how the arguments of an invocation were sent.
type ArgKind int

const (
	ArgNone ArgKind = iota
	// ArgParsed is argument.parsed, an object or a list holding one.
	ArgParsed
	// ArgRaw is argument.raw, or a bare string argument, holding JSON text.
	ArgRaw
	// ArgForm is a form-encoded body or a raw string that is not JSON.
	ArgForm
)

func (k ArgKind) String() string {
	switch k {
	case ArgParsed:
		return "parsed"
	case ArgRaw:
		return "raw"
	case ArgForm:
		return "form"
	}
	return "none"
}

// Arg is the decoded argument of an invocation.
type Arg struct {
	Kind   ArgKind
	Values tools.Args
}

// DecodeArg decodes the envelope's argument once. Undecodable input yields
// empty values rather than an error so the handler can ask for what it needs.
func (e *Envelope) DecodeArg() Arg {
	arg := decodeArgument(e.Argument)
	if len(e.form) > 0 {
		if arg.Values == nil {
			arg.Values = tools.Args{}
		}
		for k, v := range e.form {
			if _, ok := arg.Values[k]; !ok {
				arg.Values[k] = v
			}
		}
		if arg.Kind == ArgNone {
			arg.Kind = ArgForm
		}
	}
	if arg.Values == nil {
		arg.Values = tools.Args{}
	}
	return arg
}

func decodeArgument(raw json.RawMessage) Arg {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Arg{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Arg{}
		}
		return decodeRaw(s)
	case '{':
	default:
		return Arg{}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Arg{}
	}
	if parsed, ok := obj["parsed"]; ok {
		if v := decodeParsed(parsed); v != nil {
			return Arg{Kind: ArgParsed, Values: v}
		}
	}
	if r, ok := obj["raw"]; ok {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			return decodeRaw(s)
		}
	}
	if _, ok := obj["parsed"]; ok {
		return Arg{Kind: ArgParsed}
	}
	var values tools.Args
	if err := json.Unmarshal(raw, &values); err != nil {
		return Arg{}
	}
	return Arg{Kind: ArgParsed, Values: values}
}

// decodeParsed accepts an object or a list whose first element is one.
func decodeParsed(raw json.RawMessage) tools.Args {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var list []tools.Args
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return nil
		}
		return list[0]
	}
	var v tools.Args
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func decodeRaw(s string) Arg {
	s = strings.TrimSpace(s)
	if s == "" {
		return Arg{}
	}
	var v tools.Args
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return Arg{Kind: ArgRaw, Values: v}
	}
	values, err := url.ParseQuery(s)
	if err != nil || len(values) == 0 {
		return Arg{}
	}
	v = tools.Args{}
	for k := range values {
		v[k] = values.Get(k)
	}
	return Arg{Kind: ArgForm, Values: v}
}
