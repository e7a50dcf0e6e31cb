package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	summaryDomain "tg-assistant/internal/modules/summary/domain"
	"tg-assistant/internal/shared/errors"
)

// UserContext carries the personal context embedded into prompts.
type UserContext struct {
	Name     string `koanf:"name"`
	Language string `koanf:"language"`
}

// ChatConfig describes one monitored chat.
type ChatConfig struct {
	DisplayName string                 `koanf:"display_name"`
	Goal        string                 `koanf:"goal"`
	Priority    summaryDomain.Priority `koanf:"priority"`
	Identifier  string                 `koanf:"identifier"` // @username, t.me link or dialog title
	ChatID      int64                  `koanf:"chat_id"`    // takes precedence when set
	MaxMessages int                    `koanf:"max_messages"`
}

// Key returns the stable string used to index checkpoints for this chat.
func (c *ChatConfig) Key() string {
	if c.ChatID != 0 {
		return strconv.FormatInt(c.ChatID, 10)
	}
	return c.Identifier
}

// Label renders the identifier shown next to a chat in listings.
func (c *ChatConfig) Label() string {
	if c.Identifier != "" {
		return c.Identifier
	}
	return fmt.Sprintf("ID: %d", c.ChatID)
}

// Config is the process-wide assistant configuration.
type Config struct {
	TelegramBotToken string `koanf:"telegram_bot_token"`
	AssistantChatID  int64  `koanf:"assistant_chat_id"`

	TelegramAPIID   int    `koanf:"telegram_api_id"`
	TelegramAPIHash string `koanf:"telegram_api_hash"`
	TelegramPhone   string `koanf:"telegram_phone"`
	SessionFile     string `koanf:"session_file"`

	OpenAIAPIKey string `koanf:"openai_api_key"`
	OpenAIModel  string `koanf:"openai_model"`

	HTTPPort            string `koanf:"http_port"`
	DataDir             string `koanf:"data_dir"`
	HealthCheckInterval int    `koanf:"health_check_interval"` // seconds

	User  UserContext  `koanf:"user"`
	Chats []ChatConfig `koanf:"chats"`
}

// Load reads the configuration from the first existing config file
// (yaml/json/toml), overridden by environment variables, and validates it.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads the configuration from an explicit file path. An empty path
// falls back to the default config file search order.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	configFile := path
	if configFile == "" {
		candidates := []string{
			"config.yaml",
			"config.yml",
			"config.json",
			"config.toml",
		}
		configFile, _ = lo.Find(candidates, func(file string) bool {
			_, err := os.Stat(file)
			return err == nil
		})
	}

	if configFile != "" {
		parser, err := parserFor(configFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values. Structured
	// sections are file-only: ambient variables like USER would clobber
	// them otherwise.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if key == "user" || key == "chats" {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	// Defaults
	if !k.Exists("data_dir") {
		k.Set("data_dir", "./data")
	}
	if !k.Exists("http_port") {
		k.Set("http_port", "8080")
	}
	if !k.Exists("session_file") {
		k.Set("session_file", "assistant.session")
	}
	if !k.Exists("openai_model") {
		k.Set("openai_model", "gpt-4o-mini")
	}
	if !k.Exists("health_check_interval") {
		k.Set("health_check_interval", 60)
	}
	if !k.Exists("user.language") {
		k.Set("user.language", "English")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parserFor(configFile string) (koanf.Parser, error) {
	switch filepath.Ext(configFile) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, oops.Errorf("unsupported config file extension: %s", filepath.Ext(configFile))
	}
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.ErrMissingBotToken
	}
	if c.AssistantChatID == 0 {
		return errors.ErrMissingChatID
	}
	if c.TelegramAPIID == 0 || c.TelegramAPIHash == "" {
		return errors.ErrMissingPlatformAPI
	}
	if len(c.Chats) == 0 {
		return errors.ErrNoChats
	}

	seen := make(map[string]struct{}, len(c.Chats))
	for i := range c.Chats {
		chat := &c.Chats[i]
		if chat.DisplayName == "" {
			return oops.Errorf("chat #%d has no display_name", i)
		}
		if chat.Identifier == "" && chat.ChatID == 0 {
			return oops.With("chat", chat.DisplayName).
				Errorf("chat %q has neither identifier nor chat_id", chat.DisplayName)
		}
		key := strings.ToLower(chat.DisplayName)
		if _, dup := seen[key]; dup {
			return oops.Errorf("duplicate chat display_name %q", chat.DisplayName)
		}
		seen[key] = struct{}{}

		chat.Priority = summaryDomain.ParsePriority(string(chat.Priority))
		if chat.MaxMessages <= 0 {
			chat.MaxMessages = 30
		}
	}

	return nil
}

// GetChat finds a chat config by display name, case-insensitive.
func (c *Config) GetChat(name string) (*ChatConfig, bool) {
	for i := range c.Chats {
		if strings.EqualFold(c.Chats[i].DisplayName, name) {
			return &c.Chats[i], true
		}
	}
	return nil, false
}

// ChatNames lists all configured display names in config order.
func (c *Config) ChatNames() []string {
	return lo.Map(c.Chats, func(chat ChatConfig, _ int) string {
		return chat.DisplayName
	})
}
