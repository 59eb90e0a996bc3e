package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/objpool/errs"
)

func newTestOwner(t *testing.T, rec *recorder, cfg OwnerConfig[*widget]) *Owner[*widget] {
	t.Helper()
	o, err := NewOwner("widgets", rec.hooks(), cfg)
	require.NoError(t, err)
	return o
}

func TestNewOwnerPrewarmsDefaultCapacity(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{Options: DefaultOptions()})

	require.Equal(t, 10, o.IdleCount())
	require.Equal(t, 0, o.ActiveCount())
	require.Equal(t, 20, o.Capacity())
	require.Len(t, rec.created, 10)
	require.Empty(t, rec.acquired)
	for _, w := range rec.created {
		require.False(t, w.visible)
	}
}

func TestNewOwnerPrewarmFailureDestroysPartialBatch(t *testing.T) {
	calls := 0
	var destroyed []*widget
	hooks := Hooks[*widget]{
		Create: func() (*widget, error) {
			calls++
			if calls > 2 {
				return nil, errors.New("exhausted")
			}
			return &widget{id: calls}, nil
		},
		OnDestroy: func(w *widget) { destroyed = append(destroyed, w) },
	}
	_, err := NewOwner("widgets", hooks, OwnerConfig[*widget]{Options: Options{DefaultCapacity: 4, MaxSize: 4}})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeCreationFailure))
	require.Len(t, destroyed, 2)
}

func TestNewOwnerRejectsBadOptions(t *testing.T) {
	rec := &recorder{}
	_, err := NewOwner("widgets", rec.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 5, MaxSize: 2}})
	require.True(t, errs.IsCode(err, errs.CodeConfiguration))
	require.Empty(t, rec.created)
}

func TestOwnerConcurrentAcquireRelease(t *testing.T) {
	var inUse sync.Map
	var duplicates atomic.Int64
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options: Options{TrackActive: true, DefaultCapacity: 4, MaxSize: 8},
	})

	var wg conc.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Go(func() {
			for i := 0; i < 200; i++ {
				w, err := o.Acquire()
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if _, loaded := inUse.LoadOrStore(w, struct{}{}); loaded {
					duplicates.Add(1)
				}
				inUse.Delete(w)
				if err := o.Release(w); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		})
	}
	wg.Wait()

	require.Zero(t, duplicates.Load())
	require.Equal(t, 0, o.ActiveCount())
	require.LessOrEqual(t, o.IdleCount(), 8)
	st := o.Stats()
	require.Zero(t, st.DoubleReleases)
	require.Equal(t, st.Created, st.Destroyed+uint64(st.Idle))
}

func TestOwnerReleaseAllActiveUsesPredicate(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options:  Options{DefaultCapacity: 2, MaxSize: 6},
		IsActive: func(w *widget) bool { return w.visible },
	})

	var held []*widget
	for i := 0; i < 3; i++ {
		w, err := o.Acquire()
		require.NoError(t, err)
		held = append(held, w)
	}
	require.NoError(t, o.Release(held[0]))

	// Every instance the pool ever created, idle ones included.
	children := append([]*widget(nil), rec.created...)
	require.NoError(t, o.ReleaseAllActive(children))
	require.Equal(t, 0, o.ActiveCount())
	require.Equal(t, 3, o.IdleCount())
	require.Empty(t, rec.destroyed)
}

func TestOwnerReleaseOutstanding(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options: Options{TrackActive: true, DefaultCapacity: 0, MaxSize: 3},
	})
	for i := 0; i < 5; i++ {
		_, err := o.Acquire()
		require.NoError(t, err)
	}
	require.NoError(t, o.ReleaseOutstanding())
	require.Equal(t, 0, o.ActiveCount())
	require.Equal(t, 3, o.IdleCount())
	require.Len(t, rec.destroyed, 2)
}

func TestOwnerShutdownWaitsForReturns(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options: Options{TrackActive: true, DefaultCapacity: 2, MaxSize: 4},
	})
	w, err := o.Acquire()
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = o.Release(w)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	require.Equal(t, 0, o.IdleCount())
	require.Equal(t, 0, o.ActiveCount())
	require.Len(t, rec.destroyed, 2)

	_, err = o.Acquire()
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
	require.NoError(t, o.Shutdown(ctx))
}

func TestOwnerShutdownReclaimsTrackedInstances(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options: Options{TrackActive: true, DefaultCapacity: 1, MaxSize: 2},
	})
	held, err := o.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
	require.True(t, held.destroyed)
	require.Equal(t, 0, o.ActiveCount())

	err = o.Release(held)
	require.True(t, errs.IsCode(err, errs.CodeDoubleRelease))
}

func TestOwnerShutdownReportsUntrackedLeaks(t *testing.T) {
	rec := &recorder{}
	o := newTestOwner(t, rec, OwnerConfig[*widget]{
		Options: Options{DefaultCapacity: 1, MaxSize: 2},
	})
	held, err := o.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = o.Shutdown(ctx)
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
	require.False(t, held.destroyed)

	// A late return is destroyed rather than kept.
	require.NoError(t, o.Release(held))
	require.True(t, held.destroyed)
	require.Equal(t, 0, o.IdleCount())
}
