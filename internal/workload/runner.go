package workload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/coachpo/objpool/internal/observability"
	"github.com/coachpo/objpool/internal/pool"
)

// Pool is the subset of an owner the runner drives.
type Pool[T comparable] interface {
	Name() string
	Acquire() (T, error)
	Release(T) error
	ReleaseAllActive([]T) error
	Stats() pool.Stats
}

// RunnerConfig shapes a workload run.
type RunnerConfig struct {
	Workers    int
	Iterations int
	Rate       rate.Limit
	Burst      int
	Hold       time.Duration
	// ParkEvery leaves every Nth acquired instance checked out in the scene
	// instead of releasing it. Zero disables parking.
	ParkEvery int
	// ResetEvery reclaims the scene after every N parked instances. Zero
	// reclaims only at the end of the run.
	ResetEvery int
}

// DefaultRunnerConfig returns a small unthrottled run.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:    4,
		Iterations: 100,
		Rate:       rate.Inf,
		Burst:      1,
		ParkEvery:  5,
		ResetEvery: 8,
	}
}

func (c RunnerConfig) normalise() RunnerConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Iterations < 0 {
		c.Iterations = 0
	}
	if c.Rate == 0 {
		c.Rate = rate.Inf
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.ParkEvery < 0 {
		c.ParkEvery = 0
	}
	if c.ResetEvery < 0 {
		c.ResetEvery = 0
	}
	return c
}

// Report summarises a run.
type Report struct {
	Pool     string
	Acquired uint64
	Released uint64
	Parked   uint64
	Resets   uint64
	Failures uint64
	Elapsed  time.Duration
	Stats    pool.Stats
}

// Runner drives concurrent acquire/use/release cycles against one pool.
type Runner[T comparable] struct {
	pool    Pool[T]
	use     func(T)
	cfg     RunnerConfig
	limiter *rate.Limiter
	logger  observability.Logger

	sceneMu sync.Mutex
	scene   []T

	acquired atomic.Uint64
	released atomic.Uint64
	parked   atomic.Uint64
	resets   atomic.Uint64
	failures atomic.Uint64
}

// NewRunner builds a runner. use may be nil.
func NewRunner[T comparable](p Pool[T], use func(T), cfg RunnerConfig, logger observability.Logger) (*Runner[T], error) {
	if p == nil {
		return nil, errors.New("workload: pool required")
	}
	if logger == nil {
		logger = observability.Log()
	}
	cfg = cfg.normalise()
	return &Runner[T]{
		pool:    p,
		use:     use,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:  logger,
	}, nil
}

// Run executes the configured iterations on every worker, then reclaims the
// scene. It stops early when ctx is cancelled.
func (r *Runner[T]) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	workers := concpool.New().WithContext(ctx).WithMaxGoroutines(r.cfg.Workers)
	for w := 0; w < r.cfg.Workers; w++ {
		workers.Go(r.work)
	}
	runErr := workers.Wait()

	if err := r.reset(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	report := Report{
		Pool:     r.pool.Name(),
		Acquired: r.acquired.Load(),
		Released: r.released.Load(),
		Parked:   r.parked.Load(),
		Resets:   r.resets.Load(),
		Failures: r.failures.Load(),
		Elapsed:  time.Since(start),
		Stats:    r.pool.Stats(),
	}
	r.logger.Info("workload finished",
		observability.F("pool", report.Pool),
		observability.F("acquired", report.Acquired),
		observability.F("released", report.Released),
		observability.F("resets", report.Resets),
		observability.F("failures", report.Failures),
		observability.F("elapsed", report.Elapsed.String()))
	return report, runErr
}

func (r *Runner[T]) work(ctx context.Context) error {
	for i := 0; i < r.cfg.Iterations; i++ {
		// Wait only fails once ctx is done or its deadline is too close.
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}

		inst, err := r.pool.Acquire()
		if err != nil {
			r.failures.Add(1)
			r.logger.Error("workload acquire failed",
				observability.F("pool", r.pool.Name()),
				observability.F("error", err))
			continue
		}
		n := r.acquired.Add(1)
		if r.use != nil {
			r.use(inst)
		}
		if r.cfg.Hold > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.Hold):
			}
		}

		if r.cfg.ParkEvery > 0 && n%uint64(r.cfg.ParkEvery) == 0 {
			if err := r.park(inst); err != nil {
				r.failures.Add(1)
			}
			continue
		}
		if err := r.pool.Release(inst); err != nil {
			r.failures.Add(1)
			r.logger.Error("workload release failed",
				observability.F("pool", r.pool.Name()),
				observability.F("error", err))
			continue
		}
		r.released.Add(1)
	}
	return nil
}

func (r *Runner[T]) park(inst T) error {
	r.sceneMu.Lock()
	r.scene = append(r.scene, inst)
	full := r.cfg.ResetEvery > 0 && len(r.scene) >= r.cfg.ResetEvery
	r.sceneMu.Unlock()
	r.parked.Add(1)
	if full {
		return r.reset()
	}
	return nil
}

// reset reclaims every parked instance in one bulk call.
func (r *Runner[T]) reset() error {
	r.sceneMu.Lock()
	scene := r.scene
	r.scene = nil
	r.sceneMu.Unlock()
	if len(scene) == 0 {
		return nil
	}
	if err := r.pool.ReleaseAllActive(scene); err != nil {
		r.logger.Error("workload scene reset failed",
			observability.F("pool", r.pool.Name()),
			observability.F("error", err))
		return err
	}
	r.resets.Add(1)
	r.released.Add(uint64(len(scene)))
	r.logger.Debug("workload scene reset",
		observability.F("pool", r.pool.Name()),
		observability.F("reclaimed", len(scene)))
	return nil
}
