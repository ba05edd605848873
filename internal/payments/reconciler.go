package payments

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"creditgate/pkg/kafka"
	"creditgate/pkg/logging"
)

// Reconciler drives the payment state machine. It is the sole writer of
// payment records after creation; exactly one instance may run per
// deployment.
type Reconciler struct {
	store     *Store
	monitor   *Monitor
	forwarder *Forwarder
	events    *Events
	logger    logging.Logger

	interval         time.Duration
	workers          int
	maxSweepAttempts int
	cycleObserver    func(seconds float64)

	stopCh  chan struct{}
	started bool
}

// ReconcilerConfig bundles reconciler tuning knobs. CycleObserver, when
// set, receives the duration of every completed cycle.
type ReconcilerConfig struct {
	Interval         time.Duration
	Workers          int
	MaxSweepAttempts int
	CycleObserver    func(seconds float64)
}

// NewReconciler creates a reconciler. It does not start polling until
// Start is called.
func NewReconciler(store *Store, monitor *Monitor, forwarder *Forwarder, events *Events, cfg ReconcilerConfig, logger logging.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxSweepAttempts <= 0 {
		cfg.MaxSweepAttempts = 10
	}
	return &Reconciler{
		store:            store,
		monitor:          monitor,
		forwarder:        forwarder,
		events:           events,
		logger:           logger,
		interval:         cfg.Interval,
		workers:          cfg.Workers,
		maxSweepAttempts: cfg.MaxSweepAttempts,
		cycleObserver:    cfg.CycleObserver,
		stopCh:           make(chan struct{}),
	}
}

// Start runs the reconciliation loop until the context is cancelled or
// Stop is called. A ticker decouples the interval from cycle duration: a
// tick arriving while a cycle runs is delivered once the cycle ends, and
// ticks never queue more than one deep. Starting twice is an error.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.started {
		return fmt.Errorf("reconciler already started")
	}
	r.started = true

	r.logger.WithFields(logging.Fields{
		"interval": r.interval,
		"workers":  r.workers,
	}).Info("Starting payment reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Payment reconciler stopping due to context cancellation")
			return nil
		case <-r.stopCh:
			r.logger.Info("Payment reconciler stopping")
			return nil
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// Stop signals the reconciler to exit after any in-flight cycle finishes.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// RunCycle executes one reconciliation pass over all active payments.
// Payments are independent, so per-payment work runs on a bounded worker
// pool; a failure in one payment never affects the others.
func (r *Reconciler) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r.cycleObserver != nil {
			r.cycleObserver(time.Since(start).Seconds())
		}
	}()

	payments, err := r.store.LoadActive(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to load active payments")
		return
	}
	if len(payments) == 0 {
		return
	}

	r.logger.WithField("count", len(payments)).Debug("Reconciling payments")

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i := range payments {
		p := payments[i]
		g.Go(func() error {
			r.processPayment(ctx, &p)
			return nil
		})
	}
	_ = g.Wait()
}

// processPayment applies the state machine to one payment. Panics are
// caught and recorded into last_error so a single bad record cannot halt
// the cycle.
func (r *Reconciler) processPayment(ctx context.Context, p *Payment) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic during reconciliation: %v", rec)
			r.logger.WithField("payment_id", p.ID).Error(msg)
			if err := r.store.SetLastError(ctx, p.ID, msg); err != nil {
				r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to record last error")
			}
		}
	}()

	switch p.Status {
	case StatusConfirmed:
		r.attemptSweep(ctx, p)
	case StatusPending, StatusConfirming:
		r.observe(ctx, p)
	}
}

// observe handles an open payment: expiry first, then the monitor verdict.
func (r *Reconciler) observe(ctx context.Context, p *Payment) {
	// Expiry takes precedence over any funds observation.
	if time.Now().After(p.ExpiresAt) {
		expired, err := r.store.MarkExpired(ctx, p.ID)
		if err != nil {
			r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to expire payment")
			return
		}
		if expired {
			p.Status = StatusExpired
			r.logger.WithFields(logging.Fields{
				"payment_id": p.ID,
				"owner_id":   p.OwnerID,
			}).Info("Payment expired")
			r.events.Emit(kafka.EventPaymentExpired, p, "")
		}
		return
	}

	prior := ""
	if p.FundingTxID != nil {
		prior = *p.FundingTxID
	}
	obs := r.monitor.Observe(ctx, p.ReceivingAddress, p.ExpectedAmount, prior)

	switch obs.Verdict {
	case VerdictDataUnavailable:
		// Provider hiccup; the next cycle retries.
		r.logger.WithField("payment_id", p.ID).Debug("Ledger data unavailable")

	case VerdictInsufficient:
		if err := r.store.UpdateObservation(ctx, p.ID, p.Status, obs); err != nil {
			r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to persist observation")
		}

	case VerdictAwaitingConfirmation:
		firstDetection := p.Status == StatusPending
		if err := r.store.UpdateObservation(ctx, p.ID, StatusConfirming, obs); err != nil {
			r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to persist observation")
			return
		}
		p.Status = StatusConfirming
		p.ReceivedAmount = maxInt64(p.ReceivedAmount, obs.ReceivedAmount)
		p.Confirmations = maxInt64(p.Confirmations, obs.Confirmations)
		if firstDetection {
			r.logger.WithFields(logging.Fields{
				"payment_id":    p.ID,
				"received":      obs.ReceivedAmount,
				"confirmations": obs.Confirmations,
			}).Info("Payment funds detected")
			r.events.Emit(kafka.EventPaymentDetected, p, obs.FundingTxID)
		}

	case VerdictConfirmed:
		credited, err := r.store.ConfirmAndCredit(ctx, p, obs)
		if err != nil {
			r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to confirm payment")
			if serr := r.store.SetLastError(ctx, p.ID, err.Error()); serr != nil {
				r.logger.WithError(serr).WithField("payment_id", p.ID).Error("Failed to record last error")
			}
			return
		}
		p.Status = StatusConfirmed
		p.ReceivedAmount = maxInt64(p.ReceivedAmount, obs.ReceivedAmount)
		p.Confirmations = maxInt64(p.Confirmations, obs.Confirmations)
		if credited {
			r.logger.WithFields(logging.Fields{
				"payment_id":    p.ID,
				"owner_id":      p.OwnerID,
				"credits":       p.CreditsAmount,
				"funding_tx_id": obs.FundingTxID,
			}).Info("Payment confirmed, credits granted")
			r.events.Emit(kafka.EventPaymentConfirmed, p, obs.FundingTxID)
		}
		r.attemptSweep(ctx, p)
	}
}

// attemptSweep forwards a confirmed payment's funds. Automatic retry stops
// after maxSweepAttempts consecutive failures; a manual re-trigger resets
// the counter.
func (r *Reconciler) attemptSweep(ctx context.Context, p *Payment) {
	if p.SweepAttempts >= r.maxSweepAttempts {
		return
	}

	result := r.forwarder.Sweep(ctx, p.SigningCredential, p.ReceivingAddress)
	if result.Success {
		if err := r.store.RecordSweepSuccess(ctx, p.ID, result); err != nil {
			r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to record sweep success")
			return
		}
		p.Status = StatusForwarded
		r.logger.WithFields(logging.Fields{
			"payment_id": p.ID,
			"amount":     result.AmountForwarded,
			"fee":        result.Fee,
			"tx_id":      result.TxID,
		}).Info("Payment forwarded")
		r.events.Emit(kafka.EventPaymentForwarded, p, result.TxID)
		return
	}

	r.logger.WithFields(logging.Fields{
		"payment_id": p.ID,
		"attempt":    p.SweepAttempts + 1,
		"message":    result.Message,
	}).Warn("Sweep failed")
	if err := r.store.RecordSweepFailure(ctx, p.ID, result.Message); err != nil {
		r.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to record sweep failure")
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
