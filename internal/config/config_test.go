package config

import (
	"os"
	"testing"
	"time"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
server:
  host: 0.0.0.0
  port: "8080"
store:
  driver: memory
chat:
  debounce_window: 90s
  typing_delay_min: 1s
  typing_delay_max: 500ms
summary:
  enabled: false
  interval: 42
persona:
  conversations:
    Alice: "You are Alice."
emoji:
  catalog:
    wave: "waving hand"
`

// TestLoad_File verifies that Load unmarshals a yaml file pointed to by CONFIG_PATH.
func TestLoad_File(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.BaseURL != "https://api.example.com" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if !cfg.LLM.Configured() {
		t.Fatalf("expected llm to be configured")
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected driver: %s", cfg.Store.Driver)
	}
	if cfg.Chat.DebounceWindow != 90*time.Second {
		t.Fatalf("unexpected debounce window: %v", cfg.Chat.DebounceWindow)
	}
	if cfg.Chat.TypingDelayMax != time.Second {
		t.Fatalf("typing delay max should be raised to min, got %v", cfg.Chat.TypingDelayMax)
	}
	if cfg.Summary.Enabled || cfg.Summary.Interval != 20 {
		t.Fatalf("unexpected summary config: %+v", cfg.Summary)
	}
	// viper lower-cases map keys
	if v := cfg.Persona.Conversations["alice"]; v != "You are Alice." {
		t.Fatalf("persona not parsed: %v", cfg.Persona.Conversations)
	}
	if v := cfg.Emoji.Catalog["wave"]; v != "waving hand" {
		t.Fatalf("emoji catalog not parsed: %v", cfg.Emoji.Catalog)
	}
}

// TestLoad_DefaultsAndEnv verifies defaults apply without a file and env overrides them.
func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PHONECHAT_LLM_API_KEY", "from-env")
	t.Setenv("PHONECHAT_CHAT_DEBOUNCE_WINDOW", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Fatalf("env override missing, got %q", cfg.LLM.APIKey)
	}
	if cfg.Chat.DebounceWindow != 3*time.Minute {
		t.Fatalf("unexpected default window: %v", cfg.Chat.DebounceWindow)
	}
	if !cfg.Summary.Enabled || cfg.Summary.Interval != 3 || cfg.Summary.MaxSnapshots != 20 {
		t.Fatalf("unexpected summary defaults: %+v", cfg.Summary)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected default driver: %s", cfg.Store.Driver)
	}
}
