package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 3390 {
		t.Errorf("port = %d, want 3390", cfg.Server.Port)
	}
	if cfg.Tasks.Store != "memory" {
		t.Errorf("task store = %q, want memory", cfg.Tasks.Store)
	}
	if cfg.Tasks.CallbackBudgetMins != 30 {
		t.Errorf("callback budget = %d, want 30", cfg.Tasks.CallbackBudgetMins)
	}
	if cfg.Tasks.PollIntervalSecs != 5 {
		t.Errorf("poll interval = %d, want 5", cfg.Tasks.PollIntervalSecs)
	}
	if cfg.Tasks.JanitorSchedule != "*/5 * * * *" {
		t.Errorf("janitor schedule = %q", cfg.Tasks.JanitorSchedule)
	}
	if cfg.Media.TTLHours != 48 {
		t.Errorf("media ttl = %d, want 48", cfg.Media.TTLHours)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasker.json")
	content := `{
		"server": {"port": 9999},
		"tasks": {"store": "sqlite"},
		"telegram": {"enabled": true, "botToken": "tok", "allowedUsers": [1, 2]}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// File values win.
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want the file value 9999", cfg.Server.Port)
	}
	if cfg.Tasks.Store != "sqlite" {
		t.Errorf("store = %q, want sqlite", cfg.Tasks.Store)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.BotToken != "tok" {
		t.Errorf("telegram = %+v, want the file values", cfg.Telegram)
	}
	if len(cfg.Telegram.AllowedUsers) != 2 {
		t.Errorf("allowed users = %v, want [1 2]", cfg.Telegram.AllowedUsers)
	}

	// Unset values keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want the default", cfg.Server.Host)
	}
	if cfg.Tasks.CallbackBudgetMins != 30 {
		t.Errorf("callback budget = %d, want the default 30", cfg.Tasks.CallbackBudgetMins)
	}

	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load failed for a missing file: %v", err)
	}
	if cfg.Server.Port != 3390 {
		t.Errorf("port = %d, want the default", cfg.Server.Port)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasker.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestEnvFillsMissingSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SUNO_API_KEY", "suno-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-env" {
		t.Errorf("openai key = %q, want the env value", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Providers.Suno.APIKey != "suno-env" {
		t.Errorf("suno key = %q, want the env value", cfg.Providers.Suno.APIKey)
	}
}

func TestEnvNeverOverridesExplicitConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := filepath.Join(t.TempDir(), "tasker.json")
	content := `{"providers": {"openai": {"apiKey": "sk-file"}}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-file" {
		t.Errorf("openai key = %q, want the file value to win", cfg.Providers.OpenAI.APIKey)
	}
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasker.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Server.Port = 4000
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if again.Server.Port != 4000 {
		t.Errorf("port after roundtrip = %d, want 4000", again.Server.Port)
	}
}
