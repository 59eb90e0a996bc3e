package pool

// Hooks are the lifecycle callbacks an engine invokes at each transition.
// Create is required; the others default to no-ops.
type Hooks[T any] struct {
	// Create returns a fresh, independent instance. It must not return the zero value.
	Create func() (T, error)
	// OnAcquire puts an instance into its usable state.
	OnAcquire func(T)
	// OnRelease puts an instance into its quiescent state.
	OnRelease func(T)
	// OnDestroy frees whatever the instance holds. Called once per instance.
	OnDestroy func(T)
}

// Lifecycle describes pooled types that manage their own transitions.
type Lifecycle[T any] interface {
	Create() (T, error)
	OnAcquire(T)
	OnRelease(T)
	OnDestroy(T)
}

// HooksFrom adapts a Lifecycle implementation to Hooks.
func HooksFrom[T any](l Lifecycle[T]) Hooks[T] {
	return Hooks[T]{
		Create:    l.Create,
		OnAcquire: l.OnAcquire,
		OnRelease: l.OnRelease,
		OnDestroy: l.OnDestroy,
	}
}

func (h Hooks[T]) withDefaults() Hooks[T] {
	if h.OnAcquire == nil {
		h.OnAcquire = func(T) {}
	}
	if h.OnRelease == nil {
		h.OnRelease = func(T) {}
	}
	if h.OnDestroy == nil {
		h.OnDestroy = func(T) {}
	}
	return h
}
