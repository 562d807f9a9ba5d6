package memstore

import (
	"context"
	"testing"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
	"github.com/hupe1980/featview/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interface {
		store.Store
		store.Writer
	} {
		return New(storetest.Features...)
	})
}

func TestAppend(t *testing.T) {
	s := New(1)
	assert.Equal(t, model.RecordID(1), s.Append(map[model.FeatureID]float64{1: 3}))
	assert.Equal(t, model.RecordID(2), s.Append(nil))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPut_GrowsWithNullRows(t *testing.T) {
	ctx := context.Background()
	s := New(1)
	require.NoError(t, s.Put(ctx, 3, map[model.FeatureID]float64{1: 7}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	row, err := sess.PointLookup(ctx, []model.FeatureID{1}, 1)
	require.NoError(t, err)
	assert.True(t, model.IsMissing(row.Values[0]))

	assert.ErrorIs(t, s.Put(ctx, 0, nil), model.ErrInvalidArgument)
}

func TestSessionsAreTracked(t *testing.T) {
	ctx := context.Background()
	s := New(1)

	a, err := s.Session(ctx)
	require.NoError(t, err)
	b, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.OpenSessions())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, s.OpenSessions())

	_, err = a.PointLookup(ctx, []model.FeatureID{1}, 1)
	assert.ErrorIs(t, err, store.ErrClosed)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, s.OpenSessions())
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New(1)
	require.NoError(t, s.Close())

	_, err := s.Count(ctx)
	assert.ErrorIs(t, err, store.ErrAccess)
	assert.ErrorIs(t, err, store.ErrClosed)

	_, err = s.Session(ctx)
	assert.ErrorIs(t, err, store.ErrAccess)
}

func TestUnknownFeature(t *testing.T) {
	ctx := context.Background()
	s := New(1)
	s.Append(map[model.FeatureID]float64{1: 1})

	_, err := s.PredicateScan(ctx, constraint.Gt(9, 0))
	assert.ErrorIs(t, err, store.ErrAccess)
}
