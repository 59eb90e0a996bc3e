package pool

import (
	"context"
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	pm := NewManager()
	require.NotNil(t, pm)
	require.NotNil(t, pm.pools)
	require.Empty(t, pm.Snapshot())
}

func TestRegisterAndLookup(t *testing.T) {
	pm := NewManager()
	rec := &recorder{}

	owner, err := Register(pm, "widgets", rec.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 2, MaxSize: 4}})
	require.NoError(t, err)
	require.Equal(t, 2, owner.IdleCount())

	_, err = Register(pm, "widgets", rec.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 2, MaxSize: 4}})
	require.Error(t, err)

	got, err := Lookup[*widget](pm, "widgets")
	require.NoError(t, err)
	require.Same(t, owner, got)

	_, err = Lookup[int](pm, "widgets")
	require.Error(t, err)

	_, err = pm.Lookup("missing")
	require.True(t, errors.Is(err, ErrPoolNotRegistered))
}

func TestRegisterPropagatesConfigurationErrors(t *testing.T) {
	pm := NewManager()
	rec := &recorder{}
	_, err := Register(pm, "widgets", rec.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 3, MaxSize: 1}})
	require.Error(t, err)
	_, err = pm.Lookup("widgets")
	require.ErrorIs(t, err, ErrPoolNotRegistered)
}

func TestSnapshotSortedAndEncoded(t *testing.T) {
	pm := NewManager()
	recA := &recorder{}
	recB := &recorder{}
	_, err := Register(pm, "zeta", recA.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 1, MaxSize: 2}})
	require.NoError(t, err)
	_, err = Register(pm, "alpha", recB.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 2, MaxSize: 2}})
	require.NoError(t, err)

	snap := pm.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "alpha", snap[0].Name)
	require.Equal(t, "zeta", snap[1].Name)

	body, err := pm.SnapshotJSON()
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "alpha", decoded[0]["name"])
	require.EqualValues(t, 2, decoded[0]["idle"])
}

func TestManagerShutdown(t *testing.T) {
	pm := NewManager()
	recA := &recorder{}
	recB := &recorder{}
	a, err := Register(pm, "a", recA.hooks(), OwnerConfig[*widget]{Options: Options{TrackActive: true, DefaultCapacity: 2, MaxSize: 2}})
	require.NoError(t, err)
	_, err = Register(pm, "b", recB.hooks(), OwnerConfig[*widget]{Options: Options{DefaultCapacity: 3, MaxSize: 3}})
	require.NoError(t, err)

	held, err := a.Acquire()
	require.NoError(t, err)
	require.NoError(t, a.Release(held))

	require.NoError(t, pm.Shutdown(context.Background()))
	require.Len(t, recA.destroyed, 2)
	require.Len(t, recB.destroyed, 3)

	_, err = Register(pm, "c", recA.hooks(), OwnerConfig[*widget]{Options: DefaultOptions()})
	require.ErrorIs(t, err, ErrPoolManagerClosed)
	require.NoError(t, pm.Shutdown(context.Background()))
}
