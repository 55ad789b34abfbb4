// Package dispatch drives one job: a sequential, paced send to each
// recipient, with progress written to the status store after every window.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"outreach/internal/channel"
	"outreach/internal/pacing"
	"outreach/internal/pkg/clock"
	"outreach/internal/status"
	logx "outreach/pkg/logx"
)

type lane struct {
	sender  channel.Sender
	window  int
	limiter *rate.Limiter
}

type Dispatcher struct {
	mu    sync.RWMutex
	lanes map[channel.Channel]*lane

	statuses  *status.Manager
	pacing    *pacing.Policy
	ledger    Ledger
	ledgerTTL time.Duration
	sleep     SleepFunc
	clk       clock.Clock
	log       logx.Logger
}

type Option func(*Dispatcher)

func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithSleep(fn SleepFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clk = c
		}
	}
}

// WithLedger enables per-recipient dedup across redeliveries. Entries live for ttl.
func WithLedger(l Ledger, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.ledger = l
		if ttl > 0 {
			d.ledgerTTL = ttl
		}
	}
}

func New(statuses *status.Manager, policy *pacing.Policy, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lanes:     make(map[channel.Channel]*lane),
		statuses:  statuses,
		pacing:    policy,
		ledgerTTL: 72 * time.Hour,
		sleep:     sleepCtx,
		clk:       clock.NewReal(),
		log:       logx.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.pacing == nil {
		d.pacing = pacing.New(nil)
	}
	return d
}

// Register installs the sender for its channel.
func (d *Dispatcher) Register(s channel.Sender, cfg LaneConfig) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lanes[s.Channel()] = &lane{sender: s, window: cfg.WindowSize, limiter: newLimiter(cfg.RatePerSec)}
}

// SetRate changes the send-rate cap of a channel at runtime.
func (d *Dispatcher) SetRate(ch channel.Channel, perSec int) {
	d.mu.RLock()
	l := d.lanes[ch]
	d.mu.RUnlock()
	if l == nil || l.limiter == nil || perSec <= 0 {
		return
	}
	l.limiter.SetLimit(rate.Limit(perSec))
	l.limiter.SetBurst(perSec)
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

// Run sends to every recipient of j in order.
//
// Per-recipient failures are counted. A transport-unavailable error aborts
// the run and is returned. When every recipient fails the counters are
// written, the status stays processing and ErrAllRecipientsFailed is
// returned so the queue can retry; the queue owns the final failed state.
func (d *Dispatcher) Run(ctx context.Context, j Job) (Result, error) {
	d.mu.RLock()
	ln := d.lanes[j.Channel]
	d.mu.RUnlock()
	if ln == nil {
		return Result{}, errors.Wrapf(ErrUnsupportedChannel, "channel %q", j.Channel)
	}

	log := d.log.With(logx.String("job", j.ID), logx.String("channel", string(j.Channel)))
	n := len(j.Recipients)
	start := d.clk.Now()

	if _, err := d.statuses.Update(ctx, j.ID, status.Patch{
		Restart: true,
		Channel: status.Ptr(string(j.Channel)),
		Total:   status.Ptr(n),
		Status:  status.Ptr(status.Processing),
	}); err != nil {
		return Result{}, errors.Wrap(err, "mark processing")
	}
	log.Info("dispatch started", logx.Int("total", n), logx.Int("window", ln.window))

	var (
		res     Result
		lastErr string
		pst     = d.pacing.Start()
	)
	flush := func(ctx context.Context) error {
		p := status.Patch{Completed: status.Ptr(res.Processed), Failed: status.Ptr(res.Failed)}
		if lastErr != "" {
			p.Error = status.Ptr(lastErr)
		}
		_, err := d.statuses.Update(ctx, j.ID, p)
		return err
	}

	for lo := 0; lo < n; lo += ln.window {
		hi := min(lo+ln.window, n)
		for i := lo; i < hi; i++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			sent, err := d.sendOne(ctx, ln, j, i, &res, &lastErr, log)
			if err != nil {
				if channel.IsUnavailable(err) {
					lastErr = err.Error()
					if ferr := flush(context.WithoutCancel(ctx)); ferr != nil {
						log.Warn("status write failed", logx.Err(ferr))
					}
					log.Warn("dispatch aborted: transport unavailable", logx.Int("at", i), logx.Err(err))
				}
				return res, err
			}
			if !sent {
				continue
			}
			delay, next := d.pacing.NextDelay(i, n, pst)
			pst = next
			if delay == 0 {
				continue
			}
			if err := d.sleep(ctx, delay); err != nil {
				return res, err
			}
		}

		if err := flush(ctx); err != nil {
			log.Warn("status write failed", logx.Err(err))
		}
		log.Debug("window done",
			logx.Int("completed", res.Processed), logx.Int("failed", res.Failed),
			logx.Int("progress", res.Processed*100/n))
		if hi < n {
			if err := d.sleep(ctx, pacing.WindowThrottle(hi-lo)); err != nil {
				return res, err
			}
		}
	}

	fields := []logx.Field{
		logx.Int("completed", res.Processed), logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped), logx.Duration("took", d.clk.Now().Sub(start)),
	}
	switch {
	case n > 0 && res.Failed == n:
		res.Status = status.Failed
		log.Warn("dispatch failed for every recipient", fields...)
		return res, errors.Wrapf(ErrAllRecipientsFailed, "%d of %d failed, last error: %s", res.Failed, n, lastErr)
	case res.Failed > 0:
		res.Status = status.CompletedWithErrors
	default:
		res.Status = status.Completed
	}

	if _, err := d.statuses.Update(ctx, j.ID, status.Patch{
		Completed: status.Ptr(res.Processed),
		Failed:    status.Ptr(res.Failed),
		Status:    status.Ptr(res.Status),
	}); err != nil {
		return res, errors.Wrap(err, "write final status")
	}
	log.Info("dispatch finished", append(fields, logx.String("status", string(res.Status)))...)
	return res, nil
}

// sendOne delivers recipient i. It reports sent=false when the ledger shows
// the recipient was already delivered by an earlier attempt.
func (d *Dispatcher) sendOne(ctx context.Context, ln *lane, j Job, i int, res *Result, lastErr *string, log logx.Logger) (bool, error) {
	key := ledgerKey(j.ID, i)
	if d.ledger != nil {
		if _, ok, err := d.ledger.GetDedup(ctx, key); err != nil {
			log.Warn("ledger read failed", logx.Int("index", i), logx.Err(err))
		} else if ok {
			res.Processed++
			res.Skipped++
			return false, nil
		}
	}

	if ln.limiter != nil {
		if err := ln.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	out, err := ln.sender.Send(ctx, channel.Delivery{
		JobID: j.ID, Index: i, Recipient: j.Recipients[i], Content: j.Content,
	})
	if err != nil {
		if channel.IsUnavailable(err) || ctx.Err() != nil {
			return false, err
		}
		out = channel.Failed(err)
	}

	if !out.Success {
		res.Failed++
		*lastErr = out.Error
		log.Debug("recipient failed", logx.Int("index", i), logx.String("err", out.Error))
		return true, nil
	}

	res.Processed++
	if d.ledger != nil {
		if err := d.ledger.PutDedup(ctx, key, d.clk.Now().Add(d.ledgerTTL)); err != nil {
			log.Warn("ledger write failed", logx.Int("index", i), logx.Err(err))
		}
	}
	return true, nil
}

func ledgerKey(jobID string, i int) string { return fmt.Sprintf("send:%s:%d", jobID, i) }
