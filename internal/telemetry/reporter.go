// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultQueueSize bounds reports waiting for delivery.
	DefaultQueueSize = 64

	// DefaultDeliveryTimeout bounds one delivery attempt.
	DefaultDeliveryTimeout = 5 * time.Second
)

// ReporterStats counts delivery outcomes.
type ReporterStats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

type job struct {
	metrics *MetricsReport
	failure *ErrorReport
}

// Reporter delivers reports in the background. Enqueueing never blocks:
// when the queue is full or the reporter is closed the report is dropped.
// Delivery failures are logged and otherwise ignored.
type Reporter struct {
	metrics MetricsSink
	errors  ErrorSink
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job

	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// ReporterOption configures a Reporter.
type ReporterOption func(*reporterOptions)

type reporterOptions struct {
	queueSize int
	timeout   time.Duration
	logger    *zap.Logger
}

// WithQueueSize sets the queue bound.
func WithQueueSize(n int) ReporterOption {
	return func(o *reporterOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithDeliveryTimeout sets the per-delivery timeout.
func WithDeliveryTimeout(d time.Duration) ReporterOption {
	return func(o *reporterOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithReporterLogger sets the logger for delivery failures.
func WithReporterLogger(l *zap.Logger) ReporterOption {
	return func(o *reporterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewReporter starts a reporter delivering to the given sinks. A nil sink
// discards its reports.
func NewReporter(metrics MetricsSink, errs ErrorSink, opts ...ReporterOption) *Reporter {
	o := reporterOptions{
		queueSize: DefaultQueueSize,
		timeout:   DefaultDeliveryTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if metrics == nil {
		metrics = NopSink{}
	}
	if errs == nil {
		errs = NopSink{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		metrics: metrics,
		errors:  errs,
		logger:  o.logger,
		timeout: o.timeout,
		queue:   make(chan job, o.queueSize),
		baseCtx: ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// ReportMetrics queues a metrics report.
func (r *Reporter) ReportMetrics(report MetricsReport) {
	r.enqueue(job{metrics: &report})
}

// ReportError queues an error report.
func (r *Reporter) ReportError(report ErrorReport) {
	r.enqueue(job{failure: &report})
}

func (r *Reporter) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- j:
	default:
		r.dropped.Add(1)
		r.logger.Warn("telemetry queue full, dropping report", zap.Int("capacity", cap(r.queue)))
	}
}

func (r *Reporter) run() {
	defer close(r.done)
	for j := range r.queue {
		r.deliver(j)
	}
}

func (r *Reporter) deliver(j job) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	var err error
	var kind string
	if j.metrics != nil {
		kind = "metrics"
		err = r.metrics.SendMetrics(ctx, *j.metrics)
	} else {
		kind = "error"
		err = r.errors.SendError(ctx, *j.failure)
	}

	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("telemetry delivery failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	r.delivered.Add(1)
}

// Stats returns delivery counters.
func (r *Reporter) Stats() ReporterStats {
	return ReporterStats{
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Close stops accepting reports and waits for queued ones to be delivered.
// If ctx ends first, in-flight deliveries are cancelled and ctx.Err() is
// returned.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
