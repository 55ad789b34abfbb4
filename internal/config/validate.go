package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/task/scheduler"
)

// Validate checks a config that already had defaults applied.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, errors.Newf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path: required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn: required for postgres")
		}
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("storage.status_ttl", cfg.Storage.StatusTTL)

	switch cfg.Chat.Driver {
	case "dryrun":
	case "telegram":
		if strings.TrimSpace(cfg.Chat.Token) == "" {
			add("chat.token: required for telegram")
		}
	default:
		add("chat.driver: unknown driver %q", cfg.Chat.Driver)
	}
	dur("chat.poll_timeout", cfg.Chat.PollTimeout)

	switch cfg.Email.Driver {
	case "dryrun":
	case "ses":
		if strings.TrimSpace(cfg.Email.From) == "" {
			add("email.from: required for ses")
		}
	case "smtp":
		if strings.TrimSpace(cfg.Email.From) == "" {
			add("email.from: required for smtp")
		}
		if strings.TrimSpace(cfg.Email.SMTP.Host) == "" {
			add("email.smtp.host: required for smtp")
		}
	default:
		add("email.driver: unknown driver %q", cfg.Email.Driver)
	}

	if cfg.Queue.RetryMax != nil && *cfg.Queue.RetryMax < 0 {
		add("queue.retry_max: must be >= 0")
	}
	dur("queue.retry_base", cfg.Queue.RetryBase)
	dur("queue.retry_max_delay", cfg.Queue.RetryMaxDelay)
	dur("dispatch.ledger_ttl", cfg.Dispatch.LedgerTTL)

	if _, err := scheduler.ParseSchedule(cfg.Maintenance.PruneSchedule); err != nil {
		errs = append(errs, errors.Wrap(err, "maintenance.prune_schedule"))
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("maintenance.timezone: unknown zone %q", tz)
		}
	}
	return errors.Join(errs...)
}
