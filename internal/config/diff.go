package config

import (
	logx "outreach/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns safe fields for logging. Secrets are reported only as "set".
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.status_ttl", newCfg.Storage.StatusTTL),
		)
	}
	if oldCfg.Chat != newCfg.Chat {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.driver", newCfg.Chat.Driver),
			logx.Bool("chat.token_set", newCfg.Chat.Token != ""),
			logx.Int("chat.rate_per_sec", newCfg.Chat.RatePerSec),
		)
	}
	if oldCfg.Email != newCfg.Email {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.String("email.driver", newCfg.Email.Driver),
			logx.Bool("email.smtp_password_set", newCfg.Email.SMTP.Password != ""),
			logx.Int("email.rate_per_sec", newCfg.Email.RatePerSec),
		)
	}
	if !queueEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.chat_workers", newCfg.Queue.ChatWorkers),
			logx.Int("queue.email_workers", newCfg.Queue.EmailWorkers),
		)
	}
	if boolVal(oldCfg.Dispatch.DedupSends) != boolVal(newCfg.Dispatch.DedupSends) ||
		oldCfg.Dispatch.LedgerTTL != newCfg.Dispatch.LedgerTTL {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Bool("dispatch.dedup_sends", boolVal(newCfg.Dispatch.DedupSends)))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.String("maintenance.prune_schedule", newCfg.Maintenance.PruneSchedule))
	}
	return changed, attrs
}

func queueEqual(a, b QueueConfig) bool {
	ra, rb := -1, -1
	if a.RetryMax != nil {
		ra = *a.RetryMax
	}
	if b.RetryMax != nil {
		rb = *b.RetryMax
	}
	a.RetryMax, b.RetryMax = nil, nil
	return a == b && ra == rb
}

func boolVal(p *bool) bool { return p != nil && *p }
