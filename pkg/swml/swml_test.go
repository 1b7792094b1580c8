package swml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestResultWireShape(t *testing.T) {
	r := NewResult("Your reservation is confirmed.").
		SetMetadata(map[string]any{"menu_item_count": 3}).
		Say("one moment")
	got := roundTrip(t, r)

	if got["response"] != "Your reservation is confirmed." {
		t.Errorf("response = %v", got["response"])
	}
	actions, ok := got["action"].([]any)
	if !ok || len(actions) != 2 {
		t.Fatalf("actions = %v", got["action"])
	}
	meta := actions[0].(map[string]any)[ActionSetMetadata].(map[string]any)
	if meta["menu_item_count"] != float64(3) {
		t.Errorf("meta = %v", meta)
	}
	if _, ok := got["post_process"]; ok {
		t.Error("post_process should be omitted")
	}
}

func TestResultWithoutActions(t *testing.T) {
	got := roundTrip(t, NewResult("ok"))
	if _, ok := got["action"]; ok {
		t.Error("empty action list should be omitted")
	}
}

func TestSendSMS(t *testing.T) {
	got := roundTrip(t, NewResult("sent").SendSMS("+15551234567", "+14126127565", "hello"))
	action := got["action"].([]any)[0].(map[string]any)
	doc := action["SWML"].(map[string]any)
	if doc["version"] != Version {
		t.Errorf("version = %v", doc["version"])
	}
	main := doc["sections"].(map[string]any)["main"].([]any)
	sms := main[0].(map[string]any)["send_sms"].(map[string]any)
	want := map[string]any{"to_number": "+15551234567", "from_number": "+14126127565", "body": "hello"}
	for k, v := range want {
		if sms[k] != v {
			t.Errorf("%s = %v, want %v", k, sms[k], v)
		}
	}
}

func TestPayVerb(t *testing.T) {
	r := NewResult("Let's take your card.").Pay(PayParams{
		ConnectorURL: "https://example.test/api/payment-processor",
		StatusURL:    "https://example.test/api/signalwire/payment-callback",
		Amount:       1798,
		SecurityCode: true,
		PostalCode:   true,
		Parameters: []Parameter{
			{Name: "reservation_number", Value: "123456"},
			{Name: "payment_type", Value: "reservation"},
			{Name: "phone_number", Value: ""},
		},
	})
	got := roundTrip(t, r)
	doc := got["action"].([]any)[0].(map[string]any)["SWML"].(map[string]any)
	pay := doc["sections"].(map[string]any)["main"].([]any)[0].(map[string]any)["pay"].(map[string]any)

	checks := map[string]any{
		"payment_connector_url": "https://example.test/api/payment-processor",
		"status_url":            "https://example.test/api/signalwire/payment-callback",
		"charge_amount":         "17.98",
		"currency":              "usd",
		"input":                 "dtmf",
		"valid_card_types":      "visa mastercard amex",
		"security_code":         "true",
		"max_attempts":          float64(3),
	}
	for k, v := range checks {
		if pay[k] != v {
			t.Errorf("%s = %v, want %v", k, pay[k], v)
		}
	}
	params := pay["parameters"].([]any)
	if len(params) != 2 {
		t.Fatalf("empty parameters should be dropped, got %v", params)
	}
	first := params[0].(map[string]any)
	if first["name"] != "reservation_number" || first["value"] != "123456" {
		t.Errorf("parameters[0] = %v", first)
	}
}

func TestConnect(t *testing.T) {
	r := NewResult("Transferring you now.").Connect("+14126127565", true)
	if !r.HasAction(ActionSWML) || !r.HasAction(ActionTransfer) {
		t.Errorf("actions = %v", r.Actions)
	}
	r = NewResult("").Connect("+14126127565", false)
	if r.HasAction(ActionTransfer) {
		t.Error("non-final connect should not transfer")
	}
}

func TestAnnouncement(t *testing.T) {
	got := roundTrip(t, Announcement("Your confirmation number is "+Spell("AB12CD34")+"."))
	main := got["sections"].(map[string]any)["main"].([]any)
	if len(main) != 2 {
		t.Fatalf("main = %v", main)
	}
	say := main[0].(map[string]any)["say"].(map[string]any)
	if say["voice"] != "rime.luna" || !strings.Contains(say["text"].(string), "A B 1 2 C D 3 4") {
		t.Errorf("say = %v", say)
	}
	if _, ok := main[1].(map[string]any)["hangup"]; !ok {
		t.Errorf("second verb = %v", main[1])
	}
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if p.Model != "gpt-4.1-mini" || p.Language.Voice != "rime.spore" || p.LocalTZ != "America/New_York" {
		t.Errorf("profile = %+v", p)
	}
	if !strings.Contains(p.Prompt, "reservation number") {
		t.Error("prompt missing lookup guidance")
	}
	params := p.AIParams()
	if params["static_greeting"] != p.Greeting || params["temperature"] != 0.6 {
		t.Errorf("params = %v", params)
	}
	if params["end_of_speech_timeout"] != 500 {
		t.Errorf("end_of_speech_timeout = %v (%T)", params["end_of_speech_timeout"], params["end_of_speech_timeout"])
	}
}

func TestLoadProfileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := "greeting: \"Hi, Bobby's Table.\"\nparams:\n  verbose_logs: \"false\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Greeting != "Hi, Bobby's Table." {
		t.Errorf("greeting = %q", p.Greeting)
	}
	if p.Model != "gpt-4.1-mini" {
		t.Errorf("model should keep default, got %q", p.Model)
	}
	if p.Params["verbose_logs"] != "false" || p.Params["swaig_allow_swml"] != "true" {
		t.Errorf("params = %v", p.Params)
	}

	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBootstrap(t *testing.T) {
	fns := []Function{{Name: "get_menu", Purpose: "Read the menu"}}
	doc := Bootstrap(DefaultProfile().WithTimezone("America/Chicago"), "https://example.test/receptionist", fns)
	got := roundTrip(t, doc)

	main := got["sections"].(map[string]any)["main"].([]any)
	if len(main) != 2 {
		t.Fatalf("main = %v", main)
	}
	rec := main[0].(map[string]any)["record_call"].(map[string]any)
	if rec["format"] != "wav" || rec["stereo"] != "true" {
		t.Errorf("record_call = %v", rec)
	}
	ai := main[1].(map[string]any)["ai"].(map[string]any)
	params := ai["params"].(map[string]any)
	if params["local_tz"] != "America/Chicago" || params["ai_model"] != "gpt-4.1-mini" {
		t.Errorf("params = %v", params)
	}
	swaig := ai["SWAIG"].(map[string]any)
	if swaig["defaults"].(map[string]any)["web_hook_url"] != "https://example.test/receptionist" {
		t.Errorf("defaults = %v", swaig["defaults"])
	}
	list := swaig["functions"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["function"] != "get_menu" {
		t.Errorf("functions = %v", list)
	}
	langs := ai["languages"].([]any)
	if langs[0].(map[string]any)["voice"] != "rime.spore" {
		t.Errorf("languages = %v", langs)
	}
}
