// Package pool contains the reusable-object pool engine, its owner, and a
// registry of named pools.
package pool

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/coachpo/objpool/errs"
	"github.com/coachpo/objpool/internal/observability"
)

// Engine recycles a bounded set of instances. Idle instances are kept in LIFO
// order so the most recently released one is handed out first.
//
// Engine is not safe for concurrent use. Callers that share an engine across
// goroutines must serialize every call, which is what Owner does.
type Engine[T comparable] struct {
	name        string
	hooks       Hooks[T]
	opts        Options
	idle        []T
	active      map[T]struct{}
	activeCount int
	configured  bool
	// dynamicKeys is set for interface-typed pools, whose dynamic values may
	// not be usable as map keys.
	dynamicKeys bool

	logger  observability.Logger
	metrics *Metrics
	debug   *debugState
	stats   counters
}

type counters struct {
	created        uint64
	destroyed      uint64
	evicted        uint64
	doubleReleases uint64
}

// Stats is a point-in-time view of an engine.
type Stats struct {
	Name            string `json:"name"`
	Idle            int    `json:"idle"`
	Active          int    `json:"active"`
	DefaultCapacity int    `json:"default_capacity"`
	MaxSize         int    `json:"max_size"`
	TrackActive     bool   `json:"track_active"`
	Created         uint64 `json:"created"`
	Destroyed       uint64 `json:"destroyed"`
	Evicted         uint64 `json:"evicted"`
	DoubleReleases  uint64 `json:"double_releases"`
}

// EngineOption attaches optional collaborators to an engine.
type EngineOption func(*engineSettings)

type engineSettings struct {
	logger  observability.Logger
	metrics *Metrics
}

// WithLogger routes engine diagnostics to logger.
func WithLogger(logger observability.Logger) EngineOption {
	return func(s *engineSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records engine transitions on m.
func WithMetrics(m *Metrics) EngineOption {
	return func(s *engineSettings) {
		s.metrics = m
	}
}

// NewEngine constructs and configures an engine.
func NewEngine[T comparable](name string, hooks Hooks[T], opts Options, extra ...EngineOption) (*Engine[T], error) {
	e := new(Engine[T])
	if err := e.Configure(name, hooks, opts, extra...); err != nil {
		return nil, err
	}
	return e, nil
}

// Configure installs the callbacks and capacity options. An engine can be
// configured exactly once; the callbacks are fixed afterwards.
func (e *Engine[T]) Configure(name string, hooks Hooks[T], opts Options, extra ...EngineOption) error {
	if e.configured {
		return errs.New(e.name, errs.CodeConfiguration, errs.WithMessage("engine already configured"))
	}
	if name == "" {
		return errs.New("", errs.CodeConfiguration, errs.WithMessage("pool name must be non-empty"))
	}
	if hooks.Create == nil {
		return errs.New(name, errs.CodeConfiguration, errs.WithMessage("create callback must be provided"))
	}
	if err := opts.Validate(name); err != nil {
		return err
	}

	settings := engineSettings{logger: observability.Log()}
	for _, apply := range extra {
		if apply != nil {
			apply(&settings)
		}
	}

	e.name = name
	e.hooks = hooks.withDefaults()
	e.opts = opts
	e.idle = make([]T, 0, opts.DefaultCapacity)
	if opts.TrackActive {
		e.active = make(map[T]struct{}, opts.DefaultCapacity)
	}
	e.logger = settings.logger
	e.metrics = settings.metrics
	e.dynamicKeys = reflect.TypeFor[T]().Kind() == reflect.Interface
	e.debug = newDebugState(name)
	e.configured = true
	return nil
}

// Prewarm creates n instances straight into the idle store. OnRelease runs for
// each of them; OnAcquire does not. Asking for more than the idle store can
// hold is a configuration error and nothing is created.
func (e *Engine[T]) Prewarm(n int) error {
	if !e.configured {
		return errs.NotInitialized(e.name)
	}
	if n < 0 {
		return errs.New(e.name, errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("prewarm count must not be negative, got %d", n)))
	}
	if len(e.idle)+n > e.opts.MaxSize {
		return errs.New(e.name, errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("prewarm of %d with %d idle exceeds maxSize %d", n, len(e.idle), e.opts.MaxSize)))
	}
	for i := 0; i < n; i++ {
		inst, err := e.create()
		if err != nil {
			return err
		}
		e.hooks.OnRelease(inst)
		e.idle = append(e.idle, inst)
	}
	if n > 0 {
		e.logger.Debug("pool prewarmed",
			observability.F("pool", e.name),
			observability.F("count", n),
			observability.F("idle", len(e.idle)))
	}
	return nil
}

// Acquire hands out the most recently released idle instance, creating a new
// one when the idle store is empty. A failing create callback leaves the
// engine unchanged.
func (e *Engine[T]) Acquire() (T, error) {
	var zero T
	if !e.configured {
		return zero, errs.NotInitialized(e.name)
	}

	inst, reused := e.popIdle()
	if !reused {
		created, err := e.create()
		if err != nil {
			return zero, err
		}
		inst = created
	}

	e.hooks.OnAcquire(inst)
	e.markAcquired(inst)
	e.metrics.observeAcquire(reused)
	return inst, nil
}

// Release returns inst to the idle store, or destroys it when the store is
// already at MaxSize. With TrackActive enabled, releasing an instance that is
// not checked out fails with a double_release error and changes nothing.
func (e *Engine[T]) Release(inst T) error {
	if !e.configured {
		return errs.NotInitialized(e.name)
	}
	var zero T
	if inst == zero {
		return errs.New(e.name, errs.CodeInvalid, errs.WithMessage("cannot release an empty instance"))
	}
	if e.opts.TrackActive && !e.hashable(inst) {
		return errs.New(e.name, errs.CodeInvalid,
			errs.WithMessage("instance cannot be tracked: dynamic type is not comparable"),
			errs.WithInstance(describe(inst)))
	}
	if err := e.ensureReleasable(inst); err != nil {
		return err
	}

	e.hooks.OnRelease(inst)
	e.markReleased(inst)

	if len(e.idle) < e.opts.MaxSize {
		e.idle = append(e.idle, inst)
		e.metrics.observeRelease(true)
		return nil
	}

	e.destroy(inst)
	e.stats.evicted++
	e.metrics.observeRelease(false)
	e.logger.Debug("pool saturated, instance evicted",
		observability.F("pool", e.name),
		observability.F("max_size", e.opts.MaxSize))
	return nil
}

// ReleaseAllActive releases every candidate that is currently checked out.
// With TrackActive enabled the tracked set decides which candidates qualify;
// otherwise every candidate is released as given. Individual failures are
// joined into the returned error.
func (e *Engine[T]) ReleaseAllActive(candidates []T) error {
	if !e.configured {
		return errs.NotInitialized(e.name)
	}
	var failures []error
	for _, inst := range candidates {
		if e.opts.TrackActive {
			if !e.hashable(inst) {
				continue
			}
			if _, ok := e.active[inst]; !ok {
				continue
			}
		}
		if err := e.Release(inst); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// Drain destroys every idle instance. Checked-out instances are left alone and
// the engine stays usable: the next Acquire creates a fresh instance.
func (e *Engine[T]) Drain() error {
	if !e.configured {
		return errs.NotInitialized(e.name)
	}
	drained := 0
	for {
		inst, ok := e.popIdle()
		if !ok {
			break
		}
		e.destroy(inst)
		drained++
	}
	if drained > 0 {
		e.logger.Debug("pool drained",
			observability.F("pool", e.name),
			observability.F("destroyed", drained),
			observability.F("active", e.activeCount))
	}
	return nil
}

// Outstanding returns the instances currently tracked as checked out. It is
// nil unless TrackActive is enabled.
func (e *Engine[T]) Outstanding() []T {
	if !e.configured || !e.opts.TrackActive {
		return nil
	}
	out := make([]T, 0, len(e.active))
	for inst := range e.active {
		out = append(out, inst)
	}
	return out
}

// Name returns the pool name used in errors and telemetry.
func (e *Engine[T]) Name() string { return e.name }

// Configured reports whether Configure succeeded.
func (e *Engine[T]) Configured() bool { return e.configured }

// IdleCount returns the number of instances ready for reuse.
func (e *Engine[T]) IdleCount() int { return len(e.idle) }

// ActiveCount returns the number of instances checked out.
func (e *Engine[T]) ActiveCount() int { return e.activeCount }

// Capacity returns the idle ceiling.
func (e *Engine[T]) Capacity() int { return e.opts.MaxSize }

// Options returns the configured options.
func (e *Engine[T]) Options() Options { return e.opts }

// Stats returns a snapshot of counts and lifetime counters.
func (e *Engine[T]) Stats() Stats {
	return Stats{
		Name:            e.name,
		Idle:            len(e.idle),
		Active:          e.activeCount,
		DefaultCapacity: e.opts.DefaultCapacity,
		MaxSize:         e.opts.MaxSize,
		TrackActive:     e.opts.TrackActive,
		Created:         e.stats.created,
		Destroyed:       e.stats.destroyed,
		Evicted:         e.stats.evicted,
		DoubleReleases:  e.stats.doubleReleases,
	}
}

func (e *Engine[T]) create() (T, error) {
	var zero T
	inst, err := e.hooks.Create()
	if err != nil {
		e.metrics.observeCreateFailure()
		return zero, errs.New(e.name, errs.CodeCreationFailure,
			errs.WithMessage("create callback failed"),
			errs.WithCause(err))
	}
	if inst == zero {
		e.metrics.observeCreateFailure()
		return zero, errs.New(e.name, errs.CodeCreationFailure,
			errs.WithMessage("create callback returned an empty instance"))
	}
	if e.opts.TrackActive && !e.hashable(inst) {
		e.metrics.observeCreateFailure()
		return zero, errs.New(e.name, errs.CodeCreationFailure,
			errs.WithMessage("create callback returned an instance that cannot be tracked: dynamic type is not comparable"),
			errs.WithInstance(describe(inst)))
	}
	if e.opts.TrackActive {
		if _, dup := e.active[inst]; dup {
			e.metrics.observeCreateFailure()
			return zero, errs.New(e.name, errs.CodeCreationFailure,
				errs.WithMessage("create callback returned an instance that is already checked out"),
				errs.WithInstance(describe(inst)))
		}
	}
	e.stats.created++
	e.metrics.observeCreate()
	return inst, nil
}

func (e *Engine[T]) destroy(inst T) {
	e.hooks.OnDestroy(inst)
	e.stats.destroyed++
	e.metrics.observeDestroy()
}

func (e *Engine[T]) popIdle() (T, bool) {
	var zero T
	n := len(e.idle)
	if n == 0 {
		return zero, false
	}
	inst := e.idle[n-1]
	e.idle[n-1] = zero
	e.idle = e.idle[:n-1]
	return inst, true
}
