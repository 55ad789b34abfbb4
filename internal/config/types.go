package config

// Config is the root of the outreach configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
// Omitted fields fall back to the defaults in defaults.go.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Chat        ChatConfig        `json:"chat"`
	Email       EmailConfig       `json:"email"`
	Queue       QueueConfig       `json:"queue"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	HTTP        HTTPConfig        `json:"http"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the durable backend for status records, queued jobs
// and the send ledger.
//
// Drivers:
//   - sqlite (default): Path is the database file.
//   - postgres: DSN is a pgx connection string.
//   - memory: nothing survives a restart.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// StatusTTL is the sliding retention of a job status record.
	StatusTTL string `json:"status_ttl,omitempty"`
}

type ChatConfig struct {
	// Driver is "telegram" or "dryrun".
	Driver      string `json:"driver"`
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	WindowSize  int    `json:"window_size,omitempty"`
}

type EmailConfig struct {
	// Driver is "ses", "smtp" or "dryrun".
	Driver     string     `json:"driver"`
	From       string     `json:"from,omitempty"`
	Region     string     `json:"region,omitempty"`
	SMTP       SMTPConfig `json:"smtp"`
	RatePerSec int        `json:"rate_per_sec,omitempty"`
	WindowSize int        `json:"window_size,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// QueueConfig controls the per-channel job lanes.
//
// RetryMax is a pointer so an explicit 0 (single attempt) can be told apart
// from an omitted field.
type QueueConfig struct {
	ChatWorkers         int    `json:"chat_workers,omitempty"`
	EmailWorkers        int    `json:"email_workers,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	RetryMax            *int   `json:"retry_max,omitempty"`
	RetryBase           string `json:"retry_base,omitempty"`
	RetryMaxDelay       string `json:"retry_max_delay,omitempty"`
	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
}

type DispatchConfig struct {
	// DedupSends enables the per-recipient send ledger so redelivered jobs
	// skip recipients that were already sent.
	DedupSends *bool  `json:"dedup_sends,omitempty"`
	LedgerTTL  string `json:"ledger_ttl,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type MaintenanceConfig struct {
	// PruneSchedule is a cron spec or "@every <duration>".
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// Timezone is the IANA zone cron specs are evaluated in. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}
