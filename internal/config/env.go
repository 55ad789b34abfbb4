package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every override variable (OUTREACH_TELEGRAM_TOKEN, ...).
const EnvPrefix = "OUTREACH"

// secretEnv lists the values that may be kept out of the config file.
type secretEnv struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	SESFrom       string `envconfig:"SES_FROM"`
}

// ApplyEnv overrides secrets in cfg from the process environment.
// Unset variables leave the file values untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env secretEnv
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.Wrap(err, "process env overrides")
	}
	if v := strings.TrimSpace(env.TelegramToken); v != "" {
		cfg.Chat.Token = v
	}
	if v := strings.TrimSpace(env.SMTPPassword); v != "" {
		cfg.Email.SMTP.Password = v
	}
	if v := strings.TrimSpace(env.PostgresDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(env.SESFrom); v != "" {
		cfg.Email.From = v
	}
	return nil
}
