// Package app is the composition root: it builds every component from the
// config file and owns their lifetimes.
package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
	"outreach/internal/config"
	"outreach/internal/dispatch"
	"outreach/internal/eventbus"
	"outreach/internal/httpapi"
	"outreach/internal/pacing"
	"outreach/internal/queue"
	"outreach/internal/runtime/supervisor"
	"outreach/internal/status"
	"outreach/internal/storage"
	"outreach/internal/submit"
	"outreach/internal/task/scheduler"
	logx "outreach/pkg/logx"
)

const pruneSchedule = "storage.prune"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	chat     chatSession
	statuses *status.Manager
	disp     *dispatch.Dispatcher
	queue    *queue.Queue
	submit   *submit.Service
	sched    *scheduler.Service
	http     *httpapi.Server
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: eventbus.New()}
	if err := a.build(ctx, cfg, log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")), nil)
	if err != nil {
		return err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	a.chat, err = buildChatSession(cfg, log.With(logx.String("comp", "chat")))
	if err != nil {
		return errors.Wrap(err, "chat transport")
	}
	mailer, err := buildMailer(ctx, cfg, log.With(logx.String("comp", "email")))
	if err != nil {
		return errors.Wrap(err, "email transport")
	}

	a.statuses = status.NewManager(a.store,
		status.WithTTL(config.MustDuration(cfg.Storage.StatusTTL, status.DefaultTTL)),
		status.WithLogger(log.With(logx.String("comp", "status"))))

	dopts := []dispatch.Option{dispatch.WithLogger(log.With(logx.String("comp", "dispatch")))}
	if cfg.Dispatch.DedupSends != nil && *cfg.Dispatch.DedupSends {
		dopts = append(dopts, dispatch.WithLedger(a.store, config.MustDuration(cfg.Dispatch.LedgerTTL, 72*time.Hour)))
	}
	a.disp = dispatch.New(a.statuses, pacing.New(nil), dopts...)

	msgLog := channel.StoreLog(a.store)
	a.disp.Register(channel.NewChatSender(a.chat, msgLog, log.With(logx.String("comp", "chat"))),
		dispatch.LaneConfig{WindowSize: cfg.Chat.WindowSize, RatePerSec: cfg.Chat.RatePerSec})
	a.disp.Register(channel.NewEmailSender(mailer, msgLog, log.With(logx.String("comp", "email"))),
		dispatch.LaneConfig{WindowSize: cfg.Email.WindowSize, RatePerSec: cfg.Email.RatePerSec})

	a.queue = queue.New(mapQueueConfig(cfg), a.disp, a.statuses, a.store,
		queue.WithLogger(log.With(logx.String("comp", "queue"))), queue.WithBus(a.bus))
	a.submit = submit.New(a.queue, a.statuses, submit.WithLogger(log.With(logx.String("comp", "submit"))))

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Maintenance.Timezone}, log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Add(pruneSchedule, cfg.Maintenance.PruneSchedule, 30*time.Second, a.prune); err != nil {
		return errors.Wrap(err, "maintenance.prune_schedule")
	}

	httpLog := log.With(logx.String("comp", "http"))
	a.http = httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(a.submit, httpLog), httpLog)
	return nil
}

// Submission returns the submission service (status queries included).
func (a *App) Submission() *submit.Service { return a.submit }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	// The queue runs before the chat session is up; chat jobs that start
	// early fail as transport-unavailable and are retried.
	a.sup.GoRestart("chat.connect", a.chat.Connect,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(true))

	if err := a.queue.Start(a.sup.Context()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.sched.Trigger(pruneSchedule)

	a.sup.Go("http.serve", a.http.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startReloadLoop()
	a.startEventLog()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("queue", 5*time.Second, a.queue.Stop)
	step("chat", time.Second, func(context.Context) error { a.chat.Close(); return nil })
	step("supervisor", 6*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) prune(ctx context.Context) error {
	n, err := a.store.PruneExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("expired records pruned", logx.Int("rows", n))
	}
	return nil
}

// validateReload rejects reloads that change settings only a restart applies.
func (a *App) validateReload(_ context.Context, next *config.Config) error {
	cur := a.cfgm.Get()
	if cur == nil {
		return nil
	}
	if cur.Storage != next.Storage {
		return errors.New("storage settings change requires a restart")
	}
	if cur.Chat.Driver != next.Chat.Driver || cur.Email.Driver != next.Email.Driver {
		return errors.New("transport driver change requires a restart")
	}
	return nil
}

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case n2, ok := <-sub:
						if !ok {
							return
						}
						next = n2
					default:
						break drain
					}
				}
				a.applyReload(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyReload(prev, next *config.Config) {
	changed, fields := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		return
	}
	a.logs.Apply(mapLogConfig(next))
	a.disp.SetRate(channel.Chat, next.Chat.RatePerSec)
	a.disp.SetRate(channel.Email, next.Email.RatePerSec)
	if next.Maintenance.PruneSchedule != prev.Maintenance.PruneSchedule {
		if err := a.sched.Add(pruneSchedule, next.Maintenance.PruneSchedule, 30*time.Second, a.prune); err != nil {
			a.log.Warn("prune schedule not updated", logx.Err(err))
		}
	}
	a.log.Info("config applied", append([]logx.Field{logx.Any("sections", changed)}, fields...)...)
	if slices.Contains(changed, "queue") || slices.Contains(changed, "http") {
		a.log.Warn("queue and http changes take effect after restart")
	}
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("job event", logx.String("type", e.Type), logx.String("job", e.JobID),
					logx.String("channel", e.Channel), logx.Int("attempt", e.Attempt), logx.String("err", e.Error))
			}
		}
	})
}
