// Package config provides configuration loading for tasker.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

// Config represents the merged tasker configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Providers ProvidersConfig `json:"providers"`
	Tasks     TasksConfig     `json:"tasks"`
	Media     MediaConfig     `json:"media"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`

	// path the config was loaded from, for Save
	path string
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PublicBaseURL is the externally reachable prefix handed to providers
	// when registering webhook callbacks, e.g. "https://tasker.example.com"
	PublicBaseURL string `json:"publicBaseUrl"`
}

type AuthConfig struct {
	// APIKeyHash is an argon2id hash of the API bearer key.
	// Empty disables auth on /api routes.
	APIKeyHash string `json:"apiKeyHash"`
	// CallbackToken is a shared path token for provider callback URLs.
	CallbackToken string `json:"callbackToken"`
}

type ProvidersConfig struct {
	// TablePath points at the YAML capability table. Empty uses built-ins.
	TablePath string          `json:"tablePath"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Gemini    GeminiConfig    `json:"gemini"`
	Grok      GrokConfig      `json:"grok"`
	Suno      SunoConfig      `json:"suno"`
	Anthropic AnthropicConfig `json:"anthropic"`
}

type OpenAIConfig struct {
	APIKey     string `json:"apiKey"`
	ImageModel string `json:"imageModel"`
}

type GeminiConfig struct {
	APIKey     string `json:"apiKey"`
	ImageModel string `json:"imageModel"`
	VideoModel string `json:"videoModel"`
}

type GrokConfig struct {
	APIKey     string `json:"apiKey"`
	ImageModel string `json:"imageModel"`
}

type SunoConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

type AnthropicConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

type TasksConfig struct {
	Store      string `json:"store"`      // "memory" or "sqlite"
	SQLitePath string `json:"sqlitePath"` // used when store is "sqlite"

	// CallbackBudgetMins bounds how long a task may sit awaiting a webhook
	// before the janitor fails it.
	CallbackBudgetMins int `json:"callbackBudgetMins"`

	PollIntervalSecs int    `json:"pollIntervalSecs"`
	PollBudgetMins   int    `json:"pollBudgetMins"`
	JanitorSchedule  string `json:"janitorSchedule"` // cron expression
}

type MediaConfig struct {
	Dir       string `json:"dir"`
	TTLHours  int    `json:"ttlHours"`
	MaxSizeMB int    `json:"maxSizeMb"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	BotToken     string  `json:"botToken"`
	AllowedUsers []int64 `json:"allowedUsers"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	ShowCaller bool   `json:"showCaller"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".tasker")
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3390,
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{ImageModel: "gpt-image-1"},
			Gemini: GeminiConfig{
				ImageModel: "gemini-2.5-flash-image",
				VideoModel: "veo-3.1-generate-preview",
			},
			Grok: GrokConfig{ImageModel: "grok-2-image"},
			Suno: SunoConfig{
				BaseURL: "https://api.sunoapi.org",
				Model:   "V4_5",
			},
			Anthropic: AnthropicConfig{Model: "claude-3-5-haiku-latest"},
		},
		Tasks: TasksConfig{
			Store:              "memory",
			SQLitePath:         filepath.Join(base, "tasks.db"),
			CallbackBudgetMins: 30,
			PollIntervalSecs:   5,
			PollBudgetMins:     6,
			JanitorSchedule:    "*/5 * * * *",
		},
		Media: MediaConfig{
			Dir:       filepath.Join(base, "media"),
			TTLHours:  48,
			MaxSizeMB: 50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			ShowCaller: true,
		},
	}
}

// Load reads configuration from path, merging file values over defaults.
// Empty path searches ./tasker.json then ~/.tasker/tasker.json; a missing
// file is not an error, the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfig()
	}
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else {
			var file Config
			if err := json.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &file, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
			L_debug("config: loaded", "path", path)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills secrets from environment variables when the file left
// them empty. Env never overrides an explicit config value.
func (c *Config) applyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.Providers.Grok.APIKey, "XAI_API_KEY")
	fill(&c.Providers.Suno.APIKey, "SUNO_API_KEY")
	fill(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	fill(&c.Auth.CallbackToken, "CALLBACK_TOKEN")
}

// findConfig returns the first config path that exists, or the home
// location as the place a future Save should write.
func findConfig() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		"tasker.json",
		filepath.Join(home, ".tasker", "tasker.json"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[1]
}

// Path returns where the config was loaded from (or would be saved to).
func (c *Config) Path() string {
	return c.path
}

// Save writes the config back to its path with backup rotation.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}
	return BackupAndWriteJSON(c.path, c, DefaultBackupCount)
}
