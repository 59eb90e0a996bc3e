package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/objpool/errs"
	"github.com/coachpo/objpool/internal/observability"
)

const defaultShutdownTimeout = 5 * time.Second

// OwnerConfig configures an Owner.
type OwnerConfig[T any] struct {
	Options Options
	// IsActive reports whether a candidate passed to ReleaseAllActive is in use.
	// It is only consulted when Options.TrackActive is off.
	IsActive func(T) bool
	Logger   observability.Logger
	// Meter enables counters and idle/active gauges when non-nil.
	Meter metric.Meter
}

// Owner holds one configured engine for the lifetime of a pool, prewarms it,
// and serializes every call on a single mutex so the pool can be shared
// between goroutines.
type Owner[T comparable] struct {
	name     string
	mu       sync.Mutex
	engine   *Engine[T]
	isActive func(T) bool
	logger   observability.Logger

	closing   bool
	closed    bool
	drained   chan struct{}
	drainOnce sync.Once

	gauges          metric.Registration
	unregisterGauge sync.Once
}

// NewOwner configures an engine and prewarms it with Options.DefaultCapacity
// idle instances.
func NewOwner[T comparable](name string, hooks Hooks[T], cfg OwnerConfig[T]) (*Owner[T], error) {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}

	metrics, err := NewMetrics(cfg.Meter, name)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(name, hooks, cfg.Options, WithLogger(logger), WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	o := &Owner[T]{
		name:     name,
		engine:   engine,
		isActive: cfg.IsActive,
		logger:   logger,
		drained:  make(chan struct{}),
	}

	if err := engine.Prewarm(cfg.Options.DefaultCapacity); err != nil {
		_ = engine.Drain()
		return nil, fmt.Errorf("pool %s: prewarm: %w", name, err)
	}
	gauges, err := ObserveStats(cfg.Meter, name, o.Stats)
	if err != nil {
		_ = engine.Drain()
		return nil, err
	}
	o.gauges = gauges

	logger.Info("pool initialised",
		observability.F("pool", name),
		observability.F("idle", engine.IdleCount()),
		observability.F("max_size", engine.Capacity()),
		observability.F("track_active", cfg.Options.TrackActive))
	return o, nil
}

// Name returns the pool name.
func (o *Owner[T]) Name() string { return o.name }

// Acquire checks an instance out of the pool.
func (o *Owner[T]) Acquire() (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing || o.closed {
		var zero T
		return zero, o.unavailable()
	}
	return o.engine.Acquire()
}

// Release returns an instance to the pool. Instances released after Shutdown
// are destroyed instead of retained.
func (o *Owner[T]) Release(inst T) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.engine.Release(inst)
	o.afterReleaseLocked()
	return err
}

// ReleaseAllActive reclaims every candidate that is still in use. When the
// engine does not track identities, the IsActive predicate (if any) filters
// the candidates first.
func (o *Owner[T]) ReleaseAllActive(candidates []T) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.engine.Options().TrackActive && o.isActive != nil {
		filtered := make([]T, 0, len(candidates))
		for _, inst := range candidates {
			if o.isActive(inst) {
				filtered = append(filtered, inst)
			}
		}
		candidates = filtered
	}
	err := o.engine.ReleaseAllActive(candidates)
	o.afterReleaseLocked()
	return err
}

// ReleaseOutstanding reclaims every tracked instance. It is a no-op when
// identity tracking is off.
func (o *Owner[T]) ReleaseOutstanding() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.engine.ReleaseAllActive(o.engine.Outstanding())
	o.afterReleaseLocked()
	return err
}

// Drain destroys all idle instances.
func (o *Owner[T]) Drain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.Drain()
}

// Stats returns a snapshot of the engine state.
func (o *Owner[T]) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.Stats()
}

// IdleCount returns the number of idle instances.
func (o *Owner[T]) IdleCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.IdleCount()
}

// ActiveCount returns the number of checked-out instances.
func (o *Owner[T]) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.ActiveCount()
}

// Capacity returns the idle ceiling.
func (o *Owner[T]) Capacity() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.Capacity()
}

// Shutdown stops new acquisitions and waits for outstanding instances to come
// back until ctx is done (5 seconds when ctx has no deadline). Tracked
// instances still out at that point are reclaimed; untracked ones are logged
// and reported in the returned error. The idle store is drained last.
func (o *Owner[T]) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	// The gauge callback takes o.mu, so unregister before locking.
	o.stopGauges()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closing = true
	o.signalIfDrainedLocked()
	o.mu.Unlock()

	select {
	case <-o.drained:
	case <-ctx.Done():
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var failures []error
	remaining := o.engine.ActiveCount()
	if remaining > 0 {
		o.logOutstandingLocked(remaining)
		if o.engine.Options().TrackActive {
			if err := o.engine.ReleaseAllActive(o.engine.Outstanding()); err != nil {
				failures = append(failures, err)
			}
		} else {
			failures = append(failures, errs.New(o.name, errs.CodeUnavailable,
				errs.WithMessage(fmt.Sprintf("shutdown timeout: %d pooled instances unreturned", remaining))))
		}
	}
	if err := o.engine.Drain(); err != nil {
		failures = append(failures, err)
	}
	o.closed = true
	o.closing = false

	o.logger.Info("pool shut down",
		observability.F("pool", o.name),
		observability.F("reclaimed", remaining),
		observability.F("destroyed", o.engine.Stats().Destroyed))
	return errors.Join(failures...)
}

func (o *Owner[T]) stopGauges() {
	o.unregisterGauge.Do(func() {
		if o.gauges == nil {
			return
		}
		if err := o.gauges.Unregister(); err != nil {
			o.logger.Error("pool gauge unregister failed",
				observability.F("pool", o.name),
				observability.F("error", err))
		}
	})
}

func (o *Owner[T]) afterReleaseLocked() {
	if o.closed {
		// Returned after shutdown: nothing will reuse it.
		_ = o.engine.Drain()
		return
	}
	o.signalIfDrainedLocked()
}

func (o *Owner[T]) signalIfDrainedLocked() {
	if o.closing && o.engine.ActiveCount() == 0 {
		o.drainOnce.Do(func() { close(o.drained) })
	}
}

func (o *Owner[T]) unavailable() error {
	return errs.New(o.name, errs.CodeUnavailable, errs.WithMessage("pool is shut down"))
}

func (o *Owner[T]) logOutstandingLocked(remaining int) {
	o.logger.Error("pool shutdown with instances in flight",
		observability.F("pool", o.name),
		observability.F("remaining", remaining))
	for _, stack := range o.engine.acquisitionStacks() {
		o.logger.Error("pool leak candidate",
			observability.F("pool", o.name),
			observability.F("acquired_at", stack))
	}
}
