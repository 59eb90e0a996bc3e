package workload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/coachpo/objpool/errs"
	"github.com/coachpo/objpool/internal/observability"
	"github.com/coachpo/objpool/internal/pool"
)

func TestFrameHooksLifecycle(t *testing.T) {
	hooks := NewFrameHooks(64)
	f, err := hooks.Create()
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, f.ID)
	require.Equal(t, 64, cap(f.Data))

	hooks.OnAcquire(f)
	require.True(t, f.Active())
	f.Data = append(f.Data, "payload"...)

	hooks.OnRelease(f)
	require.False(t, f.Active())
	require.Empty(t, f.Data)
	require.Equal(t, 64, cap(f.Data))

	hooks.OnDestroy(f)
	require.True(t, f.Closed)
	require.Nil(t, f.Data)
}

func TestSessionDialRetries(t *testing.T) {
	var calls atomic.Int32
	dial := func(context.Context) (Link, error) {
		if calls.Add(1) < 3 {
			return Link{}, errors.New("connection refused")
		}
		return Link{Remote: "10.0.0.7:9000"}, nil
	}
	hooks := NewSessionHooks(context.Background(), dial, 5)
	s, err := hooks.Create()
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "10.0.0.7:9000", s.Remote)
	require.Contains(t, s.ID, "sess-")

	hooks.OnAcquire(s)
	require.True(t, s.Active())
	require.Equal(t, 1, s.Uses)
	hooks.OnRelease(s)
	require.False(t, s.Active())
	hooks.OnDestroy(s)
	require.True(t, s.Closed())
}

func TestSessionDialGivesUp(t *testing.T) {
	dialErr := errors.New("no route to host")
	hooks := NewSessionHooks(context.Background(), func(context.Context) (Link, error) {
		return Link{}, dialErr
	}, 2)
	_, err := hooks.Create()
	require.ErrorIs(t, err, dialErr)
}

func TestSessionCreateFailureSurfacesThroughPool(t *testing.T) {
	dialErr := errors.New("no route to host")
	hooks := NewSessionHooks(context.Background(), func(context.Context) (Link, error) {
		return Link{}, dialErr
	}, 1)
	engine, err := pool.NewEngine("sessions", hooks, pool.Options{MaxSize: 2})
	require.NoError(t, err)

	_, err = engine.Acquire()
	require.True(t, errs.IsCode(err, errs.CodeCreationFailure))
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, 0, engine.ActiveCount())
}

func TestSessionDialHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hooks := NewSessionHooks(ctx, func(context.Context) (Link, error) {
		return Link{}, errors.New("timeout")
	}, 3)
	_, err := hooks.Create()
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerReclaimsScene(t *testing.T) {
	owner, err := pool.NewOwner("frames", NewFrameHooks(32), pool.OwnerConfig[*Frame]{
		Options:  pool.Options{DefaultCapacity: 4, MaxSize: 16},
		IsActive: (*Frame).Active,
		Logger:   observability.Nop(),
	})
	require.NoError(t, err)

	cfg := RunnerConfig{Workers: 4, Iterations: 50, Rate: rate.Inf, ParkEvery: 3, ResetEvery: 5}
	runner, err := NewRunner[*Frame](owner, func(f *Frame) {
		f.Data = append(f.Data, 1, 2, 3)
	}, cfg, observability.Nop())
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "frames", report.Pool)
	require.Equal(t, uint64(200), report.Acquired)
	require.Equal(t, report.Acquired, report.Released)
	require.NotZero(t, report.Parked)
	require.NotZero(t, report.Resets)
	require.Zero(t, report.Failures)
	require.Equal(t, 0, report.Stats.Active)
	require.LessOrEqual(t, report.Stats.Idle, 16)
	require.Zero(t, report.Stats.DoubleReleases)
}

func TestRunnerTrackedSessions(t *testing.T) {
	hooks := NewSessionHooks(context.Background(), func(context.Context) (Link, error) {
		return Link{Remote: "127.0.0.1:7000"}, nil
	}, 1)
	owner, err := pool.NewOwner("sessions", hooks, pool.OwnerConfig[*Session]{
		Options: pool.Options{TrackActive: true, DefaultCapacity: 2, MaxSize: 4},
		Logger:  observability.Nop(),
	})
	require.NoError(t, err)

	runner, err := NewRunner[*Session](owner, nil, RunnerConfig{Workers: 3, Iterations: 20, ParkEvery: 4}, nil)
	require.NoError(t, err)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(60), report.Acquired)
	require.Equal(t, uint64(1), report.Resets)
	require.Equal(t, 0, owner.ActiveCount())
}

func TestRunnerStopsOnCancel(t *testing.T) {
	owner, err := pool.NewOwner("frames", NewFrameHooks(8), pool.OwnerConfig[*Frame]{
		Options: pool.Options{MaxSize: 4},
		Logger:  observability.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	runner, err := NewRunner[*Frame](owner, nil, RunnerConfig{Workers: 2, Iterations: 1000, Rate: 50, Burst: 1}, nil)
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Less(t, report.Acquired, uint64(2000))
	require.Equal(t, 0, owner.ActiveCount())
}

func TestNewRunnerRequiresPool(t *testing.T) {
	_, err := NewRunner[*Frame](nil, nil, DefaultRunnerConfig(), nil)
	require.Error(t, err)
}
