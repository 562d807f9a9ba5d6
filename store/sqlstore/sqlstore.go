// Package sqlstore provides a store.Store on an SQLite database.
//
// Records live in one wide table:
//
//	records(id INTEGER PRIMARY KEY, f1 REAL, f2 REAL, ...)
//
// A NULL cell is read as a missing value. Ids are dense: the record count
// is the highest stored id, and gaps read as rows of missing values.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const table = "records"

var operators = map[constraint.Operator]string{
	constraint.OpEqual:        "=",
	constraint.OpNotEqual:     "<>",
	constraint.OpGreaterThan:  ">",
	constraint.OpGreaterEqual: ">=",
	constraint.OpLessThan:     "<",
	constraint.OpLessEqual:    "<=",
}

// Store is an SQLite backed table.
type Store struct {
	db       *sql.DB
	features map[model.FeatureID]struct{}
	upsert   string
	order    []model.FeatureID
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Writer = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and makes sure
// the records table holds a column per feature.
func Open(ctx context.Context, path string, features ...model.FeatureID) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &Store{
		db:       db,
		features: make(map[model.FeatureID]struct{}, len(features)),
		order:    slices.Clone(features),
	}
	for _, fid := range features {
		if fid <= 0 {
			_ = db.Close()
			return nil, fmt.Errorf("%w: feature id must be positive, got %d", model.ErrInvalidArgument, fid)
		}
		s.features[fid] = struct{}{}
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.upsert = s.upsertQuery()
	return s, nil
}

func column(fid model.FeatureID) string {
	return fmt.Sprintf("f%d", fid)
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+table+" (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info('"+table+"')")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("read schema: %w", err)
		}
		existing[name] = struct{}{}
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, fid := range s.order {
		if _, ok := existing[column(fid)]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column(fid)+" REAL"); err != nil {
			return fmt.Errorf("add column %s: %w", column(fid), err)
		}
	}
	return nil
}

func (s *Store) upsertQuery() string {
	cols := make([]string, 0, len(s.order)+1)
	marks := make([]string, 0, len(s.order)+1)
	sets := make([]string, 0, len(s.order))
	cols = append(cols, "id")
	marks = append(marks, "?")
	for _, fid := range s.order {
		c := column(fid)
		cols = append(cols, c)
		marks = append(marks, "?")
		sets = append(sets, c+"=excluded."+c)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(sets) > 0 {
		q += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
	} else {
		q += " ON CONFLICT(id) DO NOTHING"
	}
	return q
}

func nullable(v float64, ok bool) any {
	if !ok || math.IsNaN(v) {
		return nil
	}
	return v
}

// Put stores the values of record id. Features missing from values are
// stored as NULL.
func (s *Store) Put(ctx context.Context, id model.RecordID, values map[model.FeatureID]float64) error {
	if id == 0 {
		return fmt.Errorf("%w: record id must be positive", model.ErrInvalidArgument)
	}
	args := make([]any, 0, len(s.order)+1)
	args = append(args, int64(id))
	for _, fid := range s.order {
		v, ok := values[fid]
		args = append(args, nullable(v, ok))
	}
	if _, err := s.db.ExecContext(ctx, s.upsert, args...); err != nil {
		return store.NewAccessError("put", err)
	}
	return nil
}

// Count returns the highest stored id.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM "+table).Scan(&n); err != nil {
		return 0, store.NewAccessError("count", err)
	}
	return int(n), nil
}

func (s *Store) checkFeatures(features ...model.FeatureID) error {
	for _, fid := range features {
		if _, ok := s.features[fid]; !ok {
			return fmt.Errorf("unknown feature %d", fid)
		}
	}
	return nil
}

// PredicateScan returns the ids matching p in ascending order. NULL
// cells never match.
func (s *Store) PredicateScan(ctx context.Context, p constraint.Predicate) ([]model.RecordID, error) {
	if err := s.checkFeatures(p.Feature); err != nil {
		return nil, store.NewAccessError("predicate_scan", err)
	}
	op, ok := operators[p.Op]
	if !ok {
		return nil, store.NewAccessError("predicate_scan", fmt.Errorf("unknown operator %q", p.Op))
	}

	c := column(p.Feature)
	q := fmt.Sprintf("SELECT id FROM %s WHERE %s IS NOT NULL AND %s %s ? ORDER BY id", table, c, c, op)
	rows, err := s.db.QueryContext(ctx, q, p.Threshold)
	if err != nil {
		return nil, store.NewAccessError("predicate_scan", err)
	}
	defer rows.Close()

	var ids []model.RecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewAccessError("predicate_scan", err)
		}
		ids = append(ids, model.RecordID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewAccessError("predicate_scan", err)
	}
	return ids, nil
}

// Session pins one pooled connection for the session's reads.
func (s *Store) Session(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, store.NewAccessError("session", err)
	}
	return &session{store: s, conn: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func selectList(features []model.FeatureID) string {
	cols := make([]string, 0, len(features)+1)
	cols = append(cols, "id")
	for _, fid := range features {
		cols = append(cols, column(fid))
	}
	return strings.Join(cols, ", ")
}

// scanRow reads one result row into a store.Row.
func scanRow(rows interface{ Scan(...any) error }, n int) (store.Row, error) {
	var id int64
	cells := make([]sql.NullFloat64, n)
	dest := make([]any, 0, n+1)
	dest = append(dest, &id)
	for i := range cells {
		dest = append(dest, &cells[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return store.Row{}, err
	}

	row := store.Row{ID: model.RecordID(id), Values: make([]float64, n)}
	for i, c := range cells {
		if c.Valid {
			row.Values[i] = c.Float64
		} else {
			row.Values[i] = model.Missing()
		}
	}
	return row, nil
}

type session struct {
	store *Store
	conn  *sql.Conn
}

func (ss *session) RangeScan(ctx context.Context, features []model.FeatureID, start, end model.RecordID) iter.Seq2[store.Row, error] {
	features = slices.Clone(features)
	return func(yield func(store.Row, error) bool) {
		if err := ss.store.checkFeatures(features...); err != nil {
			yield(store.Row{}, store.NewAccessError("range_scan", err))
			return
		}
		if start == 0 || start > end {
			return
		}

		count, err := ss.store.Count(ctx)
		if err != nil {
			yield(store.Row{}, store.NewAccessError("range_scan", err))
			return
		}
		if int(end) > count {
			yield(store.Row{}, store.NewAccessError("range_scan", store.ErrNotFound))
			return
		}

		q := fmt.Sprintf("SELECT %s FROM %s WHERE id BETWEEN ? AND ? ORDER BY id", selectList(features), table)
		rows, err := ss.conn.QueryContext(ctx, q, int64(start), int64(end))
		if err != nil {
			yield(store.Row{}, store.NewAccessError("range_scan", err))
			return
		}
		defer rows.Close()

		next := start
		for rows.Next() {
			row, err := scanRow(rows, len(features))
			if err != nil {
				yield(store.Row{}, store.NewAccessError("range_scan", err))
				return
			}
			// Ids never written read as missing rows.
			for ; next < row.ID; next++ {
				if !yield(store.Missing(next, len(features)), nil) {
					return
				}
			}
			if !yield(row, nil) {
				return
			}
			next = row.ID + 1
		}
		if err := rows.Err(); err != nil {
			yield(store.Row{}, store.NewAccessError("range_scan", err))
			return
		}
		for ; next <= end; next++ {
			if !yield(store.Missing(next, len(features)), nil) {
				return
			}
		}
	}
}

func (ss *session) PointLookup(ctx context.Context, features []model.FeatureID, id model.RecordID) (store.Row, error) {
	if err := ss.store.checkFeatures(features...); err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectList(features), table)
	row, err := scanRow(ss.conn.QueryRowContext(ctx, q, int64(id)), len(features))
	if errors.Is(err, sql.ErrNoRows) {
		count, cerr := ss.store.Count(ctx)
		if cerr != nil {
			return store.Row{}, store.NewAccessError("point_lookup", cerr)
		}
		if id == 0 || int(id) > count {
			return store.Row{}, store.NewAccessError("point_lookup", store.ErrNotFound)
		}
		return store.Missing(id, len(features)), nil
	}
	if err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}
	return row, nil
}

func (ss *session) Close() error {
	return ss.conn.Close()
}
