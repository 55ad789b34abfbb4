package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
	"outreach/internal/config"
	"outreach/internal/queue"
	"outreach/internal/storage"
	"outreach/internal/transport/dryrun"
	"outreach/internal/transport/mail"
	"outreach/internal/transport/telegram"
	logx "outreach/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

func mapQueueConfig(cfg *config.Config) queue.Config {
	q := cfg.Queue
	retryMax := config.DefaultRetryMax
	if q.RetryMax != nil {
		retryMax = *q.RetryMax
	}
	return queue.Config{
		Workers: map[channel.Channel]int{
			channel.Chat:  q.ChatWorkers,
			channel.Email: q.EmailWorkers,
		},
		QueueSize:           q.QueueSize,
		RetryMax:            retryMax,
		RetryBase:           config.MustDuration(q.RetryBase, time.Second),
		RetryMaxDelay:       config.MustDuration(q.RetryMaxDelay, time.Minute),
		RetryJitter:         0.1,
		CircuitTripFailures: q.CircuitTripFailures,
	}
}

// chatSession is what the app needs from a chat transport beyond sending.
type chatSession interface {
	channel.ChatSession
	Connect(ctx context.Context) error
	Close()
}

func buildChatSession(cfg *config.Config, log logx.Logger) (chatSession, error) {
	switch cfg.Chat.Driver {
	case "telegram":
		return telegram.New(telegram.Config{
			Token:       cfg.Chat.Token,
			PollTimeout: config.MustDuration(cfg.Chat.PollTimeout, 10*time.Second),
		}, log)
	case "dryrun":
		return dryrunSession{dryrun.NewChatSession(log)}, nil
	default:
		return nil, errors.Newf("unknown chat driver %q", cfg.Chat.Driver)
	}
}

type dryrunSession struct{ *dryrun.ChatSession }

func (dryrunSession) Connect(context.Context) error { return nil }
func (dryrunSession) Close()                        {}

func buildMailer(ctx context.Context, cfg *config.Config, log logx.Logger) (channel.Mailer, error) {
	e := cfg.Email
	switch e.Driver {
	case "ses":
		return mail.NewSES(ctx, e.From, e.Region)
	case "smtp":
		return mail.NewSMTP(mail.SMTPConfig{
			Host:     e.SMTP.Host,
			Port:     e.SMTP.Port,
			Username: e.SMTP.Username,
			Password: e.SMTP.Password,
			From:     e.From,
		})
	case "dryrun":
		return dryrun.NewMailer(log), nil
	default:
		return nil, errors.Newf("unknown email driver %q", e.Driver)
	}
}
