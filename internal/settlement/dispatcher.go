package settlement

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Recorder receives one observation per delivery attempt.
type Recorder interface {
	RecordSettlement(ctx context.Context, kind string, delivered bool)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the outbox is scanned without a Notify.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(w *Dispatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize caps the transfers delivered per scan.
func WithBatchSize(n int) DispatcherOption {
	return func(w *Dispatcher) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMaxAttempts marks a transfer dead after n failed deliveries.
func WithMaxAttempts(n int) DispatcherOption {
	return func(w *Dispatcher) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay bounds.
func WithBackoff(base, max time.Duration) DispatcherOption {
	return func(w *Dispatcher) {
		if base > 0 && max >= base {
			w.backoffBase = base
			w.backoffMax = max
		}
	}
}

// WithRecorder reports delivery outcomes, typically to metrics.
func WithRecorder(r Recorder) DispatcherOption {
	return func(w *Dispatcher) {
		w.recorder = r
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) DispatcherOption {
	return func(w *Dispatcher) {
		if now != nil {
			w.now = now
		}
	}
}

// Dispatcher delivers committed outbox transfers through a Transferrer,
// retrying failures with exponential backoff. It never touches market
// state.
type Dispatcher struct {
	outbox      Outbox
	transferrer Transferrer
	logger      *zap.SugaredLogger
	recorder    Recorder
	now         func() time.Time

	wake        chan struct{}
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	delivered uint64
	failed    uint64
}

func NewDispatcher(outbox Outbox, transferrer Transferrer, logger *zap.SugaredLogger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		outbox:      outbox,
		transferrer: transferrer,
		logger:      logger,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
		interval:    2 * time.Second,
		batchSize:   64,
		maxAttempts: 10,
		backoffBase: time.Second,
		backoffMax:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start spins up the dispatch loop; call once during application startup.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Infow("Settlement dispatcher starting", "interval", d.interval, "batchSize", d.batchSize)

	go func() {
		defer d.logger.Infow("Settlement dispatcher stopped")
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-d.wake:
			}
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warnw("Settlement scan failed", "error", err)
			}
		}
	}()
}

// Notify asks the loop to scan now. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RunOnce delivers one batch of due transfers and returns how many were
// delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := d.outbox.Due(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load due transfers: %w", err)
	}

	delivered := 0
	for _, t := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		ok, err := d.deliver(ctx, t)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, t Transfer) (bool, error) {
	sendErr := d.transferrer.Transfer(ctx, t)
	if d.recorder != nil {
		d.recorder.RecordSettlement(ctx, string(t.Kind), sendErr == nil)
	}

	if sendErr == nil {
		if err := d.outbox.MarkDelivered(ctx, t.ID, d.now()); err != nil {
			return false, fmt.Errorf("mark %s delivered: %w", t.ID, err)
		}
		atomic.AddUint64(&d.delivered, 1)
		d.logger.Infow("Transfer delivered",
			"transferId", t.ID,
			"marketId", t.MarketID,
			"account", t.Account,
			"amount", t.Amount.String(),
			"kind", t.Kind,
			"attempts", t.Attempts+1,
		)
		return true, nil
	}

	atomic.AddUint64(&d.failed, 1)
	attempts := t.Attempts + 1
	var next time.Time
	if attempts < d.maxAttempts {
		next = d.now().Add(Backoff(attempts, d.backoffBase, d.backoffMax))
	}
	if err := d.outbox.MarkFailed(ctx, t.ID, attempts, sendErr.Error(), next); err != nil {
		return false, fmt.Errorf("mark %s failed: %w", t.ID, err)
	}

	if next.IsZero() {
		d.logger.Errorw("Transfer abandoned after max attempts",
			"transferId", t.ID,
			"marketId", t.MarketID,
			"account", t.Account,
			"attempts", attempts,
			"error", sendErr,
		)
	} else {
		d.logger.Warnw("Transfer failed, will retry",
			"transferId", t.ID,
			"attempts", attempts,
			"nextAttemptAt", next,
			"error", sendErr,
		)
	}
	return false, nil
}

// Stats returns delivered and failed attempt counts since start.
func (d *Dispatcher) Stats() (delivered, failed uint64) {
	return atomic.LoadUint64(&d.delivered), atomic.LoadUint64(&d.failed)
}
