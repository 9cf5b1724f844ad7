package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static bot configuration loaded once at startup. Secrets
// (bot token, Sentry DSN) come from flags or the environment, not from here.
type Config struct {
	// OwnerID is the principal granted the owner role unconditionally.
	OwnerID int64 `yaml:"owner_id"`

	// BroadcastChatID is the default target for broadcast sessions without
	// an explicit target.
	BroadcastChatID int64 `yaml:"broadcast_chat_id"`

	// BackupDir is where export files are written and restore codes are
	// looked up.
	BackupDir string `yaml:"backup_dir"`

	// SessionIdleMinutes bounds how long a broadcast session may sit
	// without a forward. Zero disables the sweep.
	SessionIdleMinutes int `yaml:"session_idle_minutes"`

	// BirthdayGreeting is the fallback greeting text when the stored
	// settings have none.
	BirthdayGreeting string `yaml:"birthday_greeting"`
}

func Default() Config {
	return Config{
		BackupDir:          "backups",
		SessionIdleMinutes: 5,
		BirthdayGreeting:   "З днем народження!",
	}
}

// Load reads a YAML config file on top of the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}
