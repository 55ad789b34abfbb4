package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	logx "outreach/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add parses schedule and registers job under name, replacing any schedule
// with the same name. A timeout <= 0 runs the job without a deadline.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) Add(name, schedule string, timeout time.Duration, job JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	d := &scheduleDef{name: name, timeout: timeout, job: job}
	switch ps.Kind {
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return errors.Wrapf(err, "invalid cron spec %q", ps.Cron)
		}
		d.spec = ps.Cron
	case SpecInterval:
		d.every = ps.Every
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.describe()),
		logx.String("next", s.previewNextRunsLocked(d, 3)))
	return nil
}

// Remove unregisters the schedule with the given name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Start starts triggering. Runs derive their context from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels in-flight runs and waits for them.
// Registered schedules are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.runCancel
	s.c, s.runCancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with runs in flight")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Trigger runs the named schedule now, outside its timetable. It reports
// false for unknown names or when the scheduler is not started.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return false
	}
	for _, d := range s.defs {
		if d.name == name {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(d)
			}()
			return true
		}
	}
	return false
}

// Schedules returns the registered schedules with their next run times.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name: d.name, Spec: d.describe(), Timeout: d.timeout,
			Runs: d.runs.Load(), Failures: d.failures.Load(), Skipped: d.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	// cron.Stop waits for these runs; wg only tracks Trigger.
	job := cron.FuncJob(func() { s.run(d) })
	if d.every > 0 {
		sched, spread := makeIntervalScheduleWithSpread(d.every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, job)
		if spread > 0 {
			s.log.Debug("interval startup spread", logx.String("name", d.name), logx.Duration("spread", spread))
		}
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return errors.Wrapf(err, "register %s", d.name)
	}
	d.entryID = id
	return nil
}

func (s *Service) run(d *scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("schedule skipped; previous run in flight", logx.String("name", d.name))
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	base := s.runCtx
	s.mu.Unlock()
	if base == nil {
		return
	}
	ctx, cancel := base, context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic: %v", r)
				s.log.Error("schedule panicked", logx.String("name", d.name), logx.String("stack", string(debug.Stack())))
			}
		}()
		return d.job(ctx)
	}()
	d.runs.Add(1)
	if err != nil {
		d.failures.Add(1)
		s.log.Warn("schedule run failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("schedule run done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists the next n run times for debug logs.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	var sched cron.Schedule = cron.Every(d.every)
	if d.every <= 0 {
		p, err := s.parser.Parse(d.spec)
		if err != nil {
			return ""
		}
		sched = p
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

func (d *scheduleDef) describe() string {
	if d.every > 0 {
		return fmt.Sprintf("@every %s", d.every)
	}
	return d.spec
}
