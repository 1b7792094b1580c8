package swml

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed agent.yaml
var defaultProfile []byte

// Language is the voice the agent speaks with.
type Language struct {
	ID       string `yaml:"id" json:"id,omitempty"`
	Code     string `yaml:"code" json:"code"`
	Provider string `yaml:"provider" json:"provider,omitempty"`
	Voice    string `yaml:"voice" json:"voice"`
	Name     string `yaml:"name" json:"name"`
}

// Profile is the agent persona and AI engine settings.
type Profile struct {
	Name        string         `yaml:"name"`
	Restaurant  string         `yaml:"restaurant"`
	Greeting    string         `yaml:"greeting"`
	Model       string         `yaml:"model"`
	LocalTZ     string         `yaml:"local_tz"`
	Temperature float64        `yaml:"temperature"`
	TopP        float64        `yaml:"top_p"`
	RecordCall  bool           `yaml:"record_call"`
	Language    Language       `yaml:"language"`
	Params      map[string]any `yaml:"params"`
	Prompt      string         `yaml:"prompt"`
	PostPrompt  string         `yaml:"post_prompt"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() Profile {
	p, err := ParseProfile(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("swml: embedded profile: %v", err))
	}
	return p
}

// LoadProfile reads a profile from path. Fields the file leaves empty keep
// the built-in values. An empty path returns the built-in profile.
func LoadProfile(path string) (Profile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("swml: read profile: %w", err)
	}
	p := DefaultProfile()
	params := p.Params
	p.Params = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("swml: parse profile %s: %w", path, err)
	}
	for k, v := range p.Params {
		params[k] = v
	}
	p.Params = params
	return p, nil
}

// ParseProfile decodes a yaml profile.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("swml: parse profile: %w", err)
	}
	if p.Params == nil {
		p.Params = map[string]any{}
	}
	return p, nil
}

// WithTimezone returns a copy of p using tz when tz is set.
func (p Profile) WithTimezone(tz string) Profile {
	if strings.TrimSpace(tz) != "" {
		p.LocalTZ = tz
	}
	return p
}

// AIParams merges the engine settings into the free-form params.
func (p Profile) AIParams() map[string]any {
	out := make(map[string]any, len(p.Params)+5)
	for k, v := range p.Params {
		out[k] = v
	}
	if p.Model != "" {
		out["ai_model"] = p.Model
	}
	if p.LocalTZ != "" {
		out["local_tz"] = p.LocalTZ
	}
	if p.Greeting != "" {
		out["static_greeting"] = p.Greeting
	}
	if p.Temperature > 0 {
		out["temperature"] = p.Temperature
	}
	if p.TopP > 0 {
		out["top_p"] = p.TopP
	}
	return out
}
