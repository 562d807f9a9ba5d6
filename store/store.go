package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
)

var (
	// ErrAccess is matched by every *AccessError.
	ErrAccess = errors.New("store access failure")

	// ErrClosed is returned when a store or session is used after Close.
	ErrClosed = errors.New("store closed")

	// ErrNotFound is returned by PointLookup for ids outside 1..Count.
	ErrNotFound = errors.New("record not found")
)

// AccessError reports a failed store operation.
//
// The original underlying error can be accessed via errors.Unwrap.
type AccessError struct {
	Op  string
	Err error
}

// NewAccessError wraps err as a failure of operation op.
// A nil err yields nil.
func NewAccessError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return err
	}
	return &AccessError{Op: op, Err: err}
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("store access failure: %s: %v", e.Op, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAccess) hold for every AccessError.
func (e *AccessError) Is(target error) bool { return target == ErrAccess }

// Row is one stored record. Values are aligned with the requested
// feature ids; a null value is NaN.
type Row struct {
	ID     model.RecordID
	Values []float64
}

// Store is the backing table.
type Store interface {
	// Count returns the number of stored records. Ids are dense: 1..Count.
	Count(ctx context.Context) (int, error)

	// PredicateScan returns the ids whose value of p.Feature satisfies p.
	// Records with a null value never match.
	PredicateScan(ctx context.Context, p constraint.Predicate) ([]model.RecordID, error)

	// Session opens a private read session. The caller must Close it.
	Session(ctx context.Context) (Session, error)
}

// Session is a read handle owned by one goroutine.
type Session interface {
	// RangeScan yields the rows start..end (inclusive) in ascending id order.
	// Iteration stops after the first error.
	RangeScan(ctx context.Context, features []model.FeatureID, start, end model.RecordID) iter.Seq2[Row, error]

	// PointLookup returns one row.
	PointLookup(ctx context.Context, features []model.FeatureID, id model.RecordID) (Row, error)

	// Close releases the session.
	Close() error
}

// Writer is implemented by stores that can be filled by the seed tooling.
type Writer interface {
	// Put stores the values of record id. Missing features are stored as null.
	Put(ctx context.Context, id model.RecordID, values map[model.FeatureID]float64) error
}

// Missing returns a row of NaN values for the given features.
func Missing(id model.RecordID, n int) Row {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = model.Missing()
	}
	return Row{ID: id, Values: vals}
}
