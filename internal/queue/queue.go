// Package queue runs submitted jobs on per-channel worker lanes.
//
// Every job is persisted before it is accepted and removed once it reaches
// a terminal state, so jobs interrupted by a crash or shutdown are resumed
// on the next Start. Delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"outreach/internal/channel"
	"outreach/internal/dispatch"
	"outreach/internal/eventbus"
	"outreach/internal/pkg/clock"
	rtsup "outreach/internal/runtime/supervisor"
	"outreach/internal/status"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

type Queue struct {
	cfg      Config
	runner   Runner
	statuses *status.Manager
	store    storage.Store
	bus      eventbus.Bus
	log      logx.Logger
	sleep    SleepFunc
	clk      clock.Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	lanes   map[channel.Channel]*lane
	sup     *rtsup.Supervisor
	running bool
}

type Option func(*Queue)

func WithLogger(l logx.Logger) Option { return func(q *Queue) { q.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(q *Queue) { q.bus = b } }

func WithSleep(fn SleepFunc) Option {
	return func(q *Queue) {
		if fn != nil {
			q.sleep = fn
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clk = c
		}
	}
}

func WithRand(r *rand.Rand) Option {
	return func(q *Queue) {
		if r != nil {
			q.rng = r
		}
	}
}

func New(cfg Config, runner Runner, statuses *status.Manager, store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		cfg:      cfg.withDefaults(),
		runner:   runner,
		statuses: statuses,
		store:    store,
		log:      logx.Nop(),
		sleep:    sleepCtx,
		clk:      clock.NewReal(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start loads pending jobs from storage and starts the lane workers.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return nil
	}

	pending, err := q.store.PendingJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "load pending jobs")
	}
	backlog := map[channel.Channel][]entry{}
	for _, rec := range pending {
		e, ok := q.restore(ctx, rec)
		if ok {
			backlog[e.job.Channel] = append(backlog[e.job.Channel], e)
		}
	}

	q.lanes = make(map[channel.Channel]*lane, len(q.cfg.Workers))
	for ch, n := range q.cfg.Workers {
		if n <= 0 {
			continue
		}
		l := &lane{
			ch:      ch,
			workers: n,
			items:   make(chan entry, q.cfg.QueueSize+len(backlog[ch])),
			breaker: &circuit{trip: q.cfg.CircuitTripFailures, baseDelay: q.cfg.CircuitBaseDelay, maxDelay: q.cfg.CircuitMaxDelay},
		}
		for _, e := range backlog[ch] {
			l.items <- e
			q.publish(eventbus.JobResumed, e.job, e.attempts, "")
		}
		q.lanes[ch] = l
	}

	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log))
	for _, l := range q.lanes {
		for i := 0; i < l.workers; i++ {
			l := l
			q.sup.Go0(fmt.Sprintf("queue.%s.%d", l.ch, i), func(ctx context.Context) { q.worker(ctx, l) })
		}
		q.log.Info("lane started", logx.String("channel", string(l.ch)),
			logx.Int("workers", l.workers), logx.Int("resumed", len(backlog[l.ch])))
	}
	q.running = true
	return nil
}

// restore decodes a persisted job. Records that cannot run again are dropped.
func (q *Queue) restore(ctx context.Context, rec storage.JobRecord) (entry, bool) {
	var j dispatch.Job
	if err := json.Unmarshal(rec.Payload, &j); err != nil {
		q.log.Error("dropping undecodable job", logx.String("job", rec.ID), logx.Err(err))
		_ = q.store.DeleteJob(ctx, rec.ID)
		return entry{}, false
	}
	if st, err := q.statuses.Get(ctx, rec.ID); err == nil && st.Status.Terminal() {
		_ = q.store.DeleteJob(ctx, rec.ID)
		return entry{}, false
	}
	if _, ok := q.cfg.Workers[j.Channel]; !ok {
		q.log.Warn("dropping job for disabled channel", logx.String("job", rec.ID), logx.String("channel", string(j.Channel)))
		return entry{}, false
	}
	return entry{job: j, attempts: rec.Attempts, enqueuedAt: rec.EnqueuedAt}, true
}

// Stop cancels running jobs and waits for the workers. Interrupted jobs
// keep their durable record and resume on the next Start.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	sup := q.sup
	q.running = false
	q.sup = nil
	q.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	q.log.Info("queue stopped")
	return err
}

// Enqueue persists j, writes its pending status and hands it to its lane.
// It returns the assigned job id without waiting for delivery.
func (q *Queue) Enqueue(ctx context.Context, j dispatch.Job) (string, error) {
	q.mu.Lock()
	running := q.running
	l := q.lanes[j.Channel]
	q.mu.Unlock()
	if !running {
		return "", ErrStopped
	}
	if l == nil {
		return "", errors.Wrapf(dispatch.ErrUnsupportedChannel, "channel %q", j.Channel)
	}

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := q.clk.Now()
	payload, err := json.Marshal(j)
	if err != nil {
		return "", errors.Wrap(err, "encode job")
	}
	if _, err := q.statuses.Create(ctx, j.ID, string(j.Channel), len(j.Recipients)); err != nil {
		return "", err
	}
	if err := q.store.SaveJob(ctx, storage.JobRecord{ID: j.ID, Channel: string(j.Channel), Payload: payload, EnqueuedAt: now}); err != nil {
		return "", errors.Wrap(err, "persist job")
	}

	select {
	case l.items <- entry{job: j, enqueuedAt: now}:
	default:
		_ = q.store.DeleteJob(ctx, j.ID)
		_, _ = q.statuses.Update(ctx, j.ID, status.Patch{Status: status.Ptr(status.Failed), Error: status.Ptr(ErrQueueFull.Error())})
		q.log.Warn("queue full; rejecting job", logx.String("job", j.ID),
			logx.String("channel", string(j.Channel)), logx.Int("queue_cap", cap(l.items)))
		return "", ErrQueueFull
	}

	q.publish(eventbus.JobEnqueued, j, 0, "")
	q.log.Debug("job enqueued", logx.String("job", j.ID), logx.String("channel", string(j.Channel)),
		logx.Int("recipients", len(j.Recipients)), logx.Int("queue_len", len(l.items)))
	return j.ID, nil
}

// Status returns the current status record of a job.
func (q *Queue) Status(ctx context.Context, id string) (status.JobStatus, error) {
	return q.statuses.Get(ctx, id)
}

func (q *Queue) worker(ctx context.Context, l *lane) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case e := <-l.items:
			if !q.waitCircuit(ctx, l) {
				return
			}
			q.exec(ctx, l, e)
		}
	}
}

// waitCircuit blocks while the lane breaker is open.
func (q *Queue) waitCircuit(ctx context.Context, l *lane) bool {
	until, open := l.breaker.openUntilAt(q.clk.Now())
	if !open {
		return true
	}
	wait := until.Sub(q.clk.Now())
	q.log.Warn("lane paused by circuit breaker", logx.String("channel", string(l.ch)), logx.Duration("wait", wait))
	return q.sleep(ctx, wait) == nil
}

func (q *Queue) exec(ctx context.Context, l *lane, e entry) {
	j := e.job
	log := q.log.With(logx.String("job", j.ID), logx.String("channel", string(j.Channel)))
	maxAttempts := 1 + q.cfg.RetryMax
	first := min(e.attempts+1, maxAttempts)
	start := q.clk.Now()

	var (
		res     dispatch.Result
		err     error
		attempt int
	)
	for attempt = first; attempt <= maxAttempts; attempt++ {
		if perr := q.store.SaveJob(ctx, q.record(e, attempt)); perr != nil {
			log.Warn("persist attempt failed", logx.Err(perr))
		}
		if attempt == first {
			q.publish(eventbus.JobStarted, j, attempt, "")
		} else {
			q.publish(eventbus.JobRetrying, j, attempt, errString(err))
		}

		res, err = q.runSafe(ctx, j, log)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			log.Info("job interrupted; will resume on restart", logx.Int("attempt", attempt))
			return
		}
		if IsNoRetry(err) || attempt >= maxAttempts {
			break
		}

		delay := q.backoff(attempt, err)
		log.Warn("job attempt failed; retry scheduled",
			logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		if q.sleep(ctx, delay) != nil {
			log.Info("job interrupted during backoff; will resume on restart", logx.Int("attempt", attempt))
			return
		}
	}

	fctx := context.WithoutCancel(ctx)
	l.breaker.record(q.clk.Now(), err != nil)
	took := q.clk.Now().Sub(start)
	var msg string
	if err != nil {
		msg = FailurePrefix + err.Error()
		if _, uerr := q.statuses.Update(fctx, j.ID, status.Patch{
			Status: status.Ptr(status.Failed),
			Error:  status.Ptr(msg),
		}); uerr != nil && !errors.Is(uerr, status.ErrTerminal) {
			log.Error("failure status write failed", logx.Err(uerr))
		}
	}
	if derr := q.store.DeleteJob(fctx, j.ID); derr != nil {
		log.Warn("delete finished job failed", logx.Err(derr))
	}
	if err != nil {
		log.Error("job failed", logx.Int("attempts", attempt), logx.Duration("took", took), logx.Err(err))
		q.publish(eventbus.JobFailed, j, attempt, msg)
		return
	}
	log.Info("job finished", logx.String("status", string(res.Status)),
		logx.Int("attempts", attempt), logx.Duration("took", took))
	q.publish(eventbus.JobFinished, j, attempt, "")
}

// runSafe runs one attempt, converting a panic into an error.
func (q *Queue) runSafe(ctx context.Context, j dispatch.Job, log logx.Logger) (res dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	res, err = q.runner.Run(ctx, j)
	if errors.Is(err, dispatch.ErrUnsupportedChannel) {
		err = NoRetry(err)
	}
	return res, err
}

func (q *Queue) record(e entry, attempts int) storage.JobRecord {
	payload, _ := json.Marshal(e.job)
	return storage.JobRecord{
		ID: e.job.ID, Channel: string(e.job.Channel), Payload: payload,
		Attempts: attempts, EnqueuedAt: e.enqueuedAt,
	}
}

// backoff returns the delay before attempt+1: RetryBase doubled per
// failed attempt, capped at RetryMaxDelay. A RetryAfter hint wins.
func (q *Queue) backoff(attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return min(ra.RetryAfter(), q.cfg.RetryMaxDelay)
	}
	d := q.cfg.RetryBase
	for i := 1; i < attempt && d < q.cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if j := q.cfg.RetryJitter; j > 0 {
		q.rngMu.Lock()
		r := (q.rng.Float64()*2 - 1) * j
		q.rngMu.Unlock()
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), q.cfg.RetryMaxDelay)
}

func (q *Queue) publish(typ string, j dispatch.Job, attempt int, errMsg string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{
		Type: typ, Time: q.clk.Now(), JobID: j.ID, Channel: string(j.Channel),
		Attempt: attempt, Error: errMsg,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
