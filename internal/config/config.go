// Package config loads muxbot settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so the key
// live.edit_interval is read from MUXBOT_LIVE_EDIT_INTERVAL.
const EnvPrefix = "MUXBOT"

// Config is the full bot configuration.
type Config struct {
	Telegram  TelegramConfig `mapstructure:"telegram"`
	WorkDir   string         `mapstructure:"workdir"`
	Shell     string         `mapstructure:"shell"`
	Live      LiveConfig     `mapstructure:"live"`
	Tasks     TasksConfig    `mapstructure:"tasks"`
	Eval      EvalConfig     `mapstructure:"eval"`
	Transfer  TransferConfig `mapstructure:"transfer"`
	Blocklist []string       `mapstructure:"blocklist"`
	API       APIConfig      `mapstructure:"api"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds the bot token and the static allow-list.
type TelegramConfig struct {
	Token        string  `mapstructure:"token"`
	OwnerID      int64   `mapstructure:"owner_id"`
	AllowedUsers []int64 `mapstructure:"allowed_users"`
	AllowedChats []int64 `mapstructure:"allowed_chats"`
}

// LiveConfig tunes the live message view.
type LiveConfig struct {
	EditInterval     time.Duration `mapstructure:"edit_interval"`
	MinEditGap       time.Duration `mapstructure:"min_edit_gap"`
	Grace            time.Duration `mapstructure:"grace"`
	StartupWait      time.Duration `mapstructure:"startup_wait"`
	TailLines        int           `mapstructure:"tail_lines"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
}

// TasksConfig limits the task registry.
type TasksConfig struct {
	Max       int           `mapstructure:"max"`
	Retention time.Duration `mapstructure:"retention"`
}

// EvalConfig bounds Lua evaluation.
type EvalConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// TransferConfig sets where /dl saves files and where /gup uploads them.
// An empty DownloadDir means the chat's working directory.
type TransferConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	Remote      string `mapstructure:"remote"`
}

// APIConfig enables the local control API when Addr is set.
type APIConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

// LoggingConfig selects the log level and handler format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultBlocklist holds command fragments refused by /term and /exec.
var DefaultBlocklist = []string{
	"rm -rf",
	"format",
	"del /f",
	"shutdown",
	"reboot",
	"halt",
	"mkfs",
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Shell: "/bin/sh",
		Live: LiveConfig{
			EditInterval:     2 * time.Second,
			MinEditGap:       time.Second,
			Grace:            100 * time.Millisecond,
			StartupWait:      time.Second,
			TailLines:        20,
			MaxMessageLength: 4096,
		},
		Tasks: TasksConfig{
			Max:       16,
			Retention: 30 * time.Minute,
		},
		Eval: EvalConfig{
			Timeout: 5 * time.Minute,
		},
		Transfer: TransferConfig{
			Remote: "gdrive:MuxBot",
		},
		Blocklist: DefaultBlocklist,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("telegram.token", d.Telegram.Token)
	v.SetDefault("telegram.owner_id", d.Telegram.OwnerID)
	v.SetDefault("telegram.allowed_users", []int64{})
	v.SetDefault("telegram.allowed_chats", []int64{})
	v.SetDefault("workdir", d.WorkDir)
	v.SetDefault("shell", d.Shell)
	v.SetDefault("live.edit_interval", d.Live.EditInterval)
	v.SetDefault("live.min_edit_gap", d.Live.MinEditGap)
	v.SetDefault("live.grace", d.Live.Grace)
	v.SetDefault("live.startup_wait", d.Live.StartupWait)
	v.SetDefault("live.tail_lines", d.Live.TailLines)
	v.SetDefault("live.max_message_length", d.Live.MaxMessageLength)
	v.SetDefault("tasks.max", d.Tasks.Max)
	v.SetDefault("tasks.retention", d.Tasks.Retention)
	v.SetDefault("eval.timeout", d.Eval.Timeout)
	v.SetDefault("transfer.download_dir", d.Transfer.DownloadDir)
	v.SetDefault("transfer.remote", d.Transfer.Remote)
	v.SetDefault("blocklist", d.Blocklist)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// BindEnv wires MUXBOT_* variables and the legacy BOT_TOKEN and OWNER_ID
// names.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("telegram.token", EnvPrefix+"_TELEGRAM_TOKEN", "BOT_TOKEN")
	_ = v.BindEnv("telegram.owner_id", EnvPrefix+"_TELEGRAM_OWNER_ID", "OWNER_ID")
}

// Load reads the configuration into v and decodes it. path names an
// explicit config file; when empty, ./muxbot.yaml is used if present.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("muxbot")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to run the bot.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required (MUXBOT_TELEGRAM_TOKEN or BOT_TOKEN)"))
	}
	if c.Telegram.OwnerID == 0 {
		errs = append(errs, errors.New("telegram.owner_id is required (MUXBOT_TELEGRAM_OWNER_ID or OWNER_ID)"))
	}
	if c.Live.EditInterval <= 0 {
		errs = append(errs, errors.New("live.edit_interval must be positive"))
	}
	if c.Live.MinEditGap < 0 {
		errs = append(errs, errors.New("live.min_edit_gap must not be negative"))
	}
	if c.Live.TailLines <= 0 {
		errs = append(errs, errors.New("live.tail_lines must be positive"))
	}
	if c.Live.MaxMessageLength <= 0 || c.Live.MaxMessageLength > 4096 {
		errs = append(errs, errors.New("live.max_message_length must be between 1 and 4096"))
	}
	if c.Tasks.Max < 0 {
		errs = append(errs, errors.New("tasks.max must not be negative"))
	}
	if c.Transfer.Remote != "" && !strings.Contains(c.Transfer.Remote, ":") {
		errs = append(errs, errors.New("transfer.remote must look like name:path"))
	}
	if c.API.Addr != "" && c.API.Token == "" {
		errs = append(errs, errors.New("api.token is required when api.addr is set"))
	}
	if c.Eval.Timeout <= 0 {
		errs = append(errs, errors.New("eval.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Authorized reports whether a user in a chat may use the bot.
func (t TelegramConfig) Authorized(userID, chatID int64) bool {
	if userID == t.OwnerID {
		return true
	}
	for _, id := range t.AllowedUsers {
		if id == userID {
			return true
		}
	}
	for _, id := range t.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}
