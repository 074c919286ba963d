// Package config loads the bot configuration from defaults, a TOML file, and
// EXPLAINBOT_-prefixed environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/explainbot/internal/firehose"
	"github.com/explainbot/internal/gen"
	"github.com/explainbot/internal/orchestrator"
	"github.com/explainbot/internal/retry"
)

// Config is the application configuration.
type Config struct {
	Bluesky struct {
		Host     string `koanf:"host"`
		Handle   string `koanf:"handle"`
		Password string `koanf:"password"`
	} `koanf:"bluesky"`

	Gemini   gen.Config          `koanf:"gemini"`
	Firehose firehose.Config     `koanf:"firehose"`
	Bot      orchestrator.Config `koanf:"bot"`

	PublishRetry retry.Config `koanf:"publish_retry"`

	Health struct {
		Port int `koanf:"port"`
	} `koanf:"health"`
}

// LoadConfig loads configuration from configPath, or from the default
// locations when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// The retry schedules default to the named policies so the numbers live
	// in one place.
	publish := retry.PublishConfig()
	generate := retry.GenerateConfig()

	k.Load(confmap.Provider(map[string]interface{}{
		"bluesky.host":                   "https://bsky.social",
		"gemini.model":                   "gemini-2.5-flash",
		"gemini.temperature":             0.2,
		"gemini.enable_search":           true,
		"bot.max_post_len":               300,
		"bot.cleanup_placeholder":        true,
		"bot.run_timeout":                "2m",
		"bot.generate_retry.max_retries": generate.MaxRetries,
		"bot.generate_retry.base_delay":  generate.BaseDelay.String(),
		"bot.generate_retry.max_delay":   generate.MaxDelay.String(),
		"bot.generate_retry.multiplier":  generate.Multiplier,
		"bot.generate_retry.log_retries": generate.LogRetries,
		"bot.messages.placeholder":       "Working on your explanation...",
		"bot.messages.guidance":          "Mention me together with a question and I will explain it.",
		"bot.messages.apology":           "Sorry, I could not produce an explanation this time. Please try again later.",
		"publish_retry.max_retries":      publish.MaxRetries,
		"publish_retry.base_delay":       publish.BaseDelay.String(),
		"publish_retry.max_delay":        publish.MaxDelay.String(),
		"publish_retry.multiplier":       publish.Multiplier,
		"publish_retry.log_retries":      publish.LogRetries,
		"firehose.rate_per_sec":          1.0,
		"firehose.burst":                 5,
		"health.port":                    8090,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./explainbot.toml", "$HOME/.explainbot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("EXPLAINBOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EXPLAINBOT_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// The listener watches for the bot's own handle unless told otherwise.
	if config.Firehose.BotHandle == "" {
		config.Firehose.BotHandle = config.Bluesky.Handle
	}

	return &config, nil
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ExplainBot Configuration

[bluesky]
host = "https://bsky.social"
handle = "explainbot.bsky.social"
password = "your-app-password"

[gemini]
api_key = "your-gemini-api-key"
model = "gemini-2.5-flash"
temperature = 0.2
enable_search = true

[bot]
max_post_len = 300
cleanup_placeholder = true

[firehose]
rate_per_sec = 1.0
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate checks that the configuration is usable.
func Validate(config *Config) error {
	if config.Bluesky.Handle == "" {
		return fmt.Errorf("bluesky handle is required")
	}

	if config.Bluesky.Password == "" {
		return fmt.Errorf("bluesky password is required")
	}

	if config.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api_key is required")
	}

	if config.Bot.MaxPostLen <= 10 {
		return fmt.Errorf("bot max_post_len must be larger than 10, got %d", config.Bot.MaxPostLen)
	}

	return nil
}
