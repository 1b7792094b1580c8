package swml

// Function declares a tool the AI agent may call.
type Function struct {
	Name       string         `json:"function"`
	Purpose    string         `json:"purpose"`
	Argument   map[string]any `json:"argument,omitempty"`
	WebHookURL string         `json:"web_hook_url,omitempty"`
}

// Bootstrap builds the document that starts a call: optional stereo
// recording followed by the AI agent with its prompt and tool catalog.
// Tools are called back on webhookURL.
func Bootstrap(p Profile, webhookURL string, functions []Function) *Document {
	fns := make([]Function, len(functions))
	copy(fns, functions)

	ai := map[string]any{
		"languages": []Language{p.Language},
		"params":    p.AIParams(),
		"prompt":    map[string]any{"text": p.Prompt},
		"SWAIG": map[string]any{
			"defaults":  map[string]any{"web_hook_url": webhookURL},
			"functions": fns,
		},
	}
	if p.PostPrompt != "" {
		ai["post_prompt"] = map[string]any{"text": p.PostPrompt}
	}

	doc := NewDocument()
	if p.RecordCall {
		doc.Append(Verb{"record_call": map[string]any{"format": "wav", "stereo": "true"}})
	}
	return doc.Append(Verb{"ai": ai})
}
