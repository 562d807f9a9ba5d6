// Package storetest holds the behavior every store.Store implementation
// must share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"math"
	"testing"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Features are the columns the fixture uses.
var Features = []model.FeatureID{1, 2}

// Fixture is the table loaded into every store under test:
//
//	id  f1   f2
//	1   1    10
//	2   6    NaN
//	3   7    30
//	4   NaN  40
//	5   12   50
var Fixture = []map[model.FeatureID]float64{
	{1: 1, 2: 10},
	{1: 6},
	{1: 7, 2: 30},
	{2: 40},
	{1: 12, 2: 50},
}

// Factory opens an empty writable store with the Features columns.
type Factory func(t *testing.T) interface {
	store.Store
	store.Writer
}

// Run loads Fixture through the Writer and checks the read contract.
func Run(t *testing.T, open Factory) {
	t.Helper()

	ctx := context.Background()

	load := func(t *testing.T) store.Store {
		s := open(t)
		for i, vals := range Fixture {
			require.NoError(t, s.Put(ctx, model.RecordID(i+1), vals))
		}
		return s
	}

	t.Run("Count", func(t *testing.T) {
		s := load(t)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(Fixture), n)
	})

	t.Run("PredicateScan", func(t *testing.T) {
		s := load(t)

		tests := []struct {
			p    constraint.Predicate
			want []model.RecordID
		}{
			{constraint.Gt(1, 5), []model.RecordID{2, 3, 5}},
			{constraint.Lt(1, 10), []model.RecordID{1, 2, 3}},
			{constraint.Eq(2, 30), []model.RecordID{3}},
			{constraint.Neq(2, 30), []model.RecordID{1, 4, 5}},
			{constraint.Gte(2, 40), []model.RecordID{4, 5}},
			{constraint.Lte(1, 1), []model.RecordID{1}},
			{constraint.Gt(1, 100), nil},
		}
		for _, tt := range tests {
			t.Run(tt.p.String(), func(t *testing.T) {
				got, err := s.PredicateScan(ctx, tt.p)
				require.NoError(t, err)
				assert.ElementsMatch(t, tt.want, got)
			})
		}
	})

	t.Run("RangeScan", func(t *testing.T) {
		s := load(t)
		sess, err := s.Session(ctx)
		require.NoError(t, err)
		defer sess.Close()

		var ids []model.RecordID
		var rows []store.Row
		for row, err := range sess.RangeScan(ctx, []model.FeatureID{2, 1}, 2, 4) {
			require.NoError(t, err)
			ids = append(ids, row.ID)
			rows = append(rows, row)
		}
		assert.Equal(t, []model.RecordID{2, 3, 4}, ids)

		require.Len(t, rows, 3)
		assert.True(t, math.IsNaN(rows[0].Values[0]))
		assert.Equal(t, 6.0, rows[0].Values[1])
		assert.Equal(t, []float64{30, 7}, rows[1].Values)
		assert.Equal(t, 40.0, rows[2].Values[0])
		assert.True(t, math.IsNaN(rows[2].Values[1]))
	})

	t.Run("RangeScanEarlyStop", func(t *testing.T) {
		s := load(t)
		sess, err := s.Session(ctx)
		require.NoError(t, err)
		defer sess.Close()

		n := 0
		for _, err := range sess.RangeScan(ctx, Features, 1, 5) {
			require.NoError(t, err)
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})

	t.Run("PointLookup", func(t *testing.T) {
		s := load(t)
		sess, err := s.Session(ctx)
		require.NoError(t, err)
		defer sess.Close()

		row, err := sess.PointLookup(ctx, Features, 5)
		require.NoError(t, err)
		assert.Equal(t, model.RecordID(5), row.ID)
		assert.Equal(t, []float64{12, 50}, row.Values)

		row, err = sess.PointLookup(ctx, []model.FeatureID{2}, 2)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(row.Values[0]))

		_, err = sess.PointLookup(ctx, Features, 99)
		assert.ErrorIs(t, err, store.ErrAccess)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := load(t)
		w := s.(store.Writer)
		require.NoError(t, w.Put(ctx, 3, map[model.FeatureID]float64{1: 99}))

		sess, err := s.Session(ctx)
		require.NoError(t, err)
		defer sess.Close()

		row, err := sess.PointLookup(ctx, Features, 3)
		require.NoError(t, err)
		assert.Equal(t, 99.0, row.Values[0])
		assert.True(t, math.IsNaN(row.Values[1]))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(Fixture), n)
	})

	t.Run("ConcurrentSessions", func(t *testing.T) {
		s := load(t)

		done := make(chan []model.RecordID, 4)
		for range 4 {
			go func() {
				sess, err := s.Session(ctx)
				if !assert.NoError(t, err) {
					done <- nil
					return
				}
				defer sess.Close()

				var ids []model.RecordID
				for row, err := range sess.RangeScan(ctx, Features, 1, 5) {
					if !assert.NoError(t, err) {
						break
					}
					ids = append(ids, row.ID)
				}
				done <- ids
			}()
		}
		for range 4 {
			assert.Equal(t, []model.RecordID{1, 2, 3, 4, 5}, <-done)
		}
	})
}
