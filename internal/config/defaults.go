package config

import "strings"

const (
	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "./data/outreach.db"
	DefaultBusyTimeout   = "5s"
	DefaultStatusTTL     = "24h"

	DefaultChatWindow  = 10
	DefaultEmailWindow = 50
	DefaultChatRate    = 100
	DefaultEmailRate   = 200

	DefaultChatWorkers   = 1
	DefaultEmailWorkers  = 2
	DefaultQueueSize     = 256
	DefaultRetryMax      = 2
	DefaultRetryBase     = "1s"
	DefaultRetryMaxDelay = "1m"
	DefaultCircuitTrip   = 5

	DefaultLedgerTTL     = "72h"
	DefaultHTTPAddr      = ":8080"
	DefaultPruneSchedule = "@every 10m"
	DefaultPollTimeout   = "10s"
)

// ApplyDefaults fills every omitted field in place.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	s := &c.Storage
	s.Driver = lowerOr(s.Driver, DefaultStorageDriver)
	if s.Driver == "sqlite" && strings.TrimSpace(s.Path) == "" {
		s.Path = DefaultStoragePath
	}
	s.BusyTimeout = trimOr(s.BusyTimeout, DefaultBusyTimeout)
	s.StatusTTL = trimOr(s.StatusTTL, DefaultStatusTTL)

	c.Chat.Driver = lowerOr(c.Chat.Driver, "dryrun")
	c.Chat.PollTimeout = trimOr(c.Chat.PollTimeout, DefaultPollTimeout)
	c.Chat.RatePerSec = intOr(c.Chat.RatePerSec, DefaultChatRate)
	c.Chat.WindowSize = intOr(c.Chat.WindowSize, DefaultChatWindow)

	c.Email.Driver = lowerOr(c.Email.Driver, "dryrun")
	c.Email.RatePerSec = intOr(c.Email.RatePerSec, DefaultEmailRate)
	c.Email.WindowSize = intOr(c.Email.WindowSize, DefaultEmailWindow)
	if c.Email.SMTP.Port <= 0 {
		c.Email.SMTP.Port = 587
	}

	q := &c.Queue
	q.ChatWorkers = intOr(q.ChatWorkers, DefaultChatWorkers)
	q.EmailWorkers = intOr(q.EmailWorkers, DefaultEmailWorkers)
	q.QueueSize = intOr(q.QueueSize, DefaultQueueSize)
	if q.RetryMax == nil {
		n := DefaultRetryMax
		q.RetryMax = &n
	}
	q.RetryBase = trimOr(q.RetryBase, DefaultRetryBase)
	q.RetryMaxDelay = trimOr(q.RetryMaxDelay, DefaultRetryMaxDelay)
	q.CircuitTripFailures = intOr(q.CircuitTripFailures, DefaultCircuitTrip)

	if c.Dispatch.DedupSends == nil {
		on := true
		c.Dispatch.DedupSends = &on
	}
	c.Dispatch.LedgerTTL = trimOr(c.Dispatch.LedgerTTL, DefaultLedgerTTL)

	c.HTTP.Addr = trimOr(c.HTTP.Addr, DefaultHTTPAddr)
	c.Maintenance.PruneSchedule = trimOr(c.Maintenance.PruneSchedule, DefaultPruneSchedule)
}

func trimOr(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func lowerOr(v, def string) string { return strings.ToLower(trimOr(v, def)) }

func intOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
