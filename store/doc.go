// Package store defines the backing-table contract used by featview.
//
// A Store is a key-indexed table of records with dense ids 1..Count. It
// answers three kinds of queries:
//
//   - Count: number of stored records
//   - PredicateScan: ids whose feature value satisfies a predicate
//   - RangeScan / PointLookup: feature values, through a Session
//
// Sessions are private to one goroutine. featview opens one session per
// record worker and never shares it:
//
//	sess, err := st.Session(ctx)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	for row, err := range sess.RangeScan(ctx, features, 1, 100) {
//	    if err != nil {
//	        return err
//	    }
//	    use(row)
//	}
//
// Null values are returned as NaN. Implementations wrap I/O failures in
// *AccessError so callers can match them with errors.Is(err, ErrAccess).
package store
