package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const envPrefix = "TELE_AGENT"

type Config struct {
	AdminChatID       int64         `mapstructure:"admin_chat_id"`
	Backend           Backend       `mapstructure:"backend"`
	Sampling          Sampling      `mapstructure:"sampling"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	MaxMessageLength  int           `mapstructure:"max_message_length"`
	ReclaimEvery      int           `mapstructure:"reclaim_every"`
	DatabasePath      string        `mapstructure:"database_path"`
	TokenEncoding     string        `mapstructure:"token_encoding"`
	TempFilesPath     string        `mapstructure:"temp_files_path"`
	RetentionDays     int           `mapstructure:"retention_days"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	Locale            string        `mapstructure:"locale"`
	Server            Server        `mapstructure:"server"`
	Log               Log           `mapstructure:"log"`
}

type Backend struct {
	Provider string        `mapstructure:"provider"`
	URL      string        `mapstructure:"url"`
	Model    string        `mapstructure:"model"`
	Token    string        `mapstructure:"token"`
	Threads  int           `mapstructure:"threads"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Sampling struct {
	Temperature   float64 `mapstructure:"temperature"`
	TopP          float64 `mapstructure:"top_p"`
	TopK          int     `mapstructure:"top_k"`
	NumCtx        int     `mapstructure:"num_ctx"`
	RepeatPenalty float64 `mapstructure:"repeat_penalty"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin_chat_id", 0)
	v.SetDefault("backend.provider", "ollama")
	v.SetDefault("backend.url", "http://localhost:11434")
	v.SetDefault("backend.model", "qwen2.5:7b")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.threads", 8)
	v.SetDefault("backend.timeout", 5*time.Minute)
	v.SetDefault("sampling.temperature", 0.3)
	v.SetDefault("sampling.top_p", 0.8)
	v.SetDefault("sampling.top_k", 30)
	v.SetDefault("sampling.num_ctx", 4096)
	v.SetDefault("sampling.repeat_penalty", 1.2)
	v.SetDefault("history_limit", 20)
	v.SetDefault("max_message_length", 4000)
	v.SetDefault("reclaim_every", 5)
	v.SetDefault("database_path", "./data/chat_history.db")
	v.SetDefault("temp_files_path", "./data/temp_files")
	v.SetDefault("token_encoding", "cl100k_base")
	v.SetDefault("retention_days", 30)
	v.SetDefault("retention_interval", 24*time.Hour)
	v.SetDefault("locale", "vi")
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "bot_agent.log")
}

// LoadConfig reads configuration from filename, or from
// config/tele-agent.yaml when filename is empty. A missing default file is
// not an error; environment variables and defaults still apply.
func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by earlier deployments.
	for key, env := range map[string]string{
		"admin_chat_id": "ADMIN_CHAT_ID",
		"backend.url":   "OLLAMA_URL",
		"backend.model": "OLLAMA_MODEL",
	} {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", filename, err)
		}
		return v, nil
	}

	v.SetConfigName("tele-agent")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load is LoadConfig followed by ParseConfig.
func Load(filename string) (*Config, error) {
	v, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.AdminChatID == 0 {
		err = multierr.Append(err, errors.New("admin_chat_id is required"))
	}
	switch c.Backend.Provider {
	case "ollama", "openai":
	default:
		err = multierr.Append(err, fmt.Errorf("backend.provider %q is not one of ollama, openai", c.Backend.Provider))
	}
	if c.Backend.URL == "" {
		err = multierr.Append(err, errors.New("backend.url is required"))
	}
	if c.Backend.Model == "" {
		err = multierr.Append(err, errors.New("backend.model is required"))
	}
	if c.Backend.Timeout <= 0 {
		err = multierr.Append(err, errors.New("backend.timeout must be positive"))
	}
	if c.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("history_limit must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		err = multierr.Append(err, errors.New("max_message_length must be positive"))
	}
	if c.ReclaimEvery < 0 {
		err = multierr.Append(err, errors.New("reclaim_every must not be negative"))
	}
	if c.RetentionDays < 0 {
		err = multierr.Append(err, errors.New("retention_days must not be negative"))
	}
	if c.DatabasePath == "" {
		err = multierr.Append(err, errors.New("database_path is required"))
	}
	switch c.Locale {
	case "vi", "en":
	default:
		err = multierr.Append(err, fmt.Errorf("locale %q is not one of vi, en", c.Locale))
	}
	return err
}
