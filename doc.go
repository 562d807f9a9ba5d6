// Package featview materializes filtered, scored record views over a
// feature table.
//
// A View combines four collaborators: a store.Store holding the records,
// and providers for the active features, the active groups and the
// active scoring strategy. Records returns the current snapshot and
// rebuilds it first when the cache slot is empty:
//
//	v, err := featview.New(st, features, groups, strategy,
//	    featview.WithParallelism(8),
//	    featview.WithLogger(featview.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	recs, err := v.Records(ctx)
//
// # Rebuilds
//
// A rebuild evaluates the constraints of every visible group into an id
// set, unions the sets into the working set, splits it into contiguous
// chunks and materializes each chunk on the worker pool. The snapshot is
// published only after every worker has returned.
//
// When no group is configured, or a visible group has no active
// constraint, every stored record is materialized by range scan.
// Otherwise the working-set ids are read by point lookup in ascending
// order.
//
// # Invalidation
//
// Configuration changes call Invalidate. It marks the slot empty and does
// not rebuild; the next Records call does:
//
//	registry.Subscribe(v) // config.Registry forwards every change
//	...
//	v.Invalidate()
//
// # Failures
//
// A store failure while evaluating constraints or counting records is a
// hard failure: an empty snapshot is published and the call returns a
// *store.AccessError (errors.Is(err, featview.ErrAccess) holds). The empty
// snapshot is then served without error until the next invalidation.
//
// A store failure inside a record worker is soft: that worker's whole
// chunk is filled with records whose stored values are NaN, group
// membership and score are still computed, and the rebuild succeeds. Soft
// failures are logged and counted through the MetricsCollector.
//
// # Thread Safety
//
// All View methods are safe for concurrent use. Rebuilds are serialized;
// callers arriving during a rebuild wait and then share its snapshot.
// Snapshots and records are immutable.
package featview
