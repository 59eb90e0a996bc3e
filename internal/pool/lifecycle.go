package pool

import (
	"fmt"
	"reflect"

	"github.com/coachpo/objpool/errs"
	"github.com/coachpo/objpool/internal/observability"
)

func (e *Engine[T]) ensureReleasable(inst T) error {
	if !e.opts.TrackActive {
		return nil
	}
	if _, ok := e.active[inst]; ok {
		return nil
	}
	e.stats.doubleReleases++
	e.metrics.observeDoubleRelease()
	fields := []observability.Field{
		observability.F("pool", e.name),
		observability.F("instance", describe(inst)),
	}
	if stack := e.debug.lastRelease(inst); stack != "" {
		fields = append(fields, observability.F("released_at", stack))
	}
	e.logger.Error("pool double release detected", fields...)
	return errs.New(e.name, errs.CodeDoubleRelease,
		errs.WithMessage("instance is not checked out"),
		errs.WithInstance(describe(inst)))
}

func (e *Engine[T]) markAcquired(inst T) {
	if e.opts.TrackActive {
		e.active[inst] = struct{}{}
	}
	e.activeCount++
	e.debug.recordAcquire(inst)
}

func (e *Engine[T]) markReleased(inst T) {
	if e.opts.TrackActive {
		delete(e.active, inst)
	}
	// Without tracking the caller is trusted; an unknown instance must not
	// push the count negative.
	if e.activeCount > 0 {
		e.activeCount--
	}
	e.debug.recordRelease(inst)
}

func (e *Engine[T]) acquisitionStacks() []string {
	return e.debug.activeStacks()
}

// hashable reports whether inst can key the tracked set. Only interface-typed
// pools need the check; a slice or map behind an interface cannot be hashed.
func (e *Engine[T]) hashable(inst T) bool {
	if !e.dynamicKeys {
		return true
	}
	return comparableValue(inst)
}

func comparableValue(v any) bool {
	t := reflect.TypeOf(v)
	return t == nil || t.Comparable()
}

func describe(inst any) string {
	rv := reflect.ValueOf(inst)
	if rv.IsValid() && rv.Kind() == reflect.Pointer {
		return fmt.Sprintf("%T(%#x)", inst, rv.Pointer())
	}
	return fmt.Sprintf("%T(%v)", inst, inst)
}
