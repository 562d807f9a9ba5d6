// Package badgerstore provides a store.Store on BadgerDB.
//
// Each record is one key, "r/" followed by the big-endian record id, so
// key order is id order. Values are rows encoded by a codec.Codec whose
// name is kept under the "m/codec" key. The highest written id is kept
// under "m/count"; ids never written read as rows of missing values.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/featview/codec"
	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
)

var (
	rowPrefix = []byte("r/")
	codecKey  = []byte("m/codec")
	countKey  = []byte("m/count")
)

// ErrCodecMismatch is returned when the configured codec differs from the
// one the database was written with.
var ErrCodecMismatch = errors.New("badgerstore: codec mismatch")

const maxConflictRetries = 8

// Config configures a Store.
type Config struct {
	// Path is the database directory. Ignored for in-memory stores.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites syncs every write to disk.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// Codec encodes rows of a new database. Nil selects codec.Default.
	// Existing databases keep the codec they were created with.
	Codec codec.Codec
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB backed table.
type Store struct {
	db       *badger.DB
	codec    codec.Codec
	features map[model.FeatureID]struct{}
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Writer = (*Store)(nil)
)

// Open opens the database described by cfg holding the given features.
func Open(cfg Config, features ...model.FeatureID) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	s := &Store{features: make(map[model.FeatureID]struct{}, len(features))}
	for _, fid := range features {
		if fid <= 0 {
			return nil, fmt.Errorf("%w: feature id must be positive, got %d", model.ErrInvalidArgument, fid)
		}
		s.features[fid] = struct{}{}
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s.db = db

	if err := s.selectCodec(cfg.Codec); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) selectCodec(want codec.Codec) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(codecKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if want == nil {
				want = codec.Default
			}
			s.codec = want
			return txn.Set(codecKey, []byte(want.Name()))
		}
		if err != nil {
			return err
		}

		name, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		c, ok := codec.ByName(string(name))
		if !ok {
			return fmt.Errorf("%w: unknown codec %q", ErrCodecMismatch, name)
		}
		if want != nil && want.Name() != c.Name() {
			return fmt.Errorf("%w: database uses %q, config asks for %q", ErrCodecMismatch, c.Name(), want.Name())
		}
		s.codec = c
		return nil
	})
}

// Codec returns the codec the rows are encoded with.
func (s *Store) Codec() codec.Codec { return s.codec }

func rowKey(id model.RecordID) []byte {
	return binary.BigEndian.AppendUint32(slices.Clip(rowPrefix), uint32(id))
}

func keyID(key []byte) model.RecordID {
	return model.RecordID(binary.BigEndian.Uint32(key[len(rowPrefix):]))
}

func readCount(txn *badger.Txn) (int, error) {
	item, err := txn.Get(countKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		if len(val) != 4 {
			return fmt.Errorf("corrupt record count")
		}
		n = int(binary.BigEndian.Uint32(val))
		return nil
	})
	return n, err
}

// Put stores the values of record id. Values of features the store does
// not hold are dropped.
func (s *Store) Put(ctx context.Context, id model.RecordID, values map[model.FeatureID]float64) error {
	if id == 0 {
		return fmt.Errorf("%w: record id must be positive", model.ErrInvalidArgument)
	}

	row := make(codec.Row, len(values))
	for fid, v := range values {
		if _, ok := s.features[fid]; ok {
			row[fid] = v
		}
	}
	data, err := s.codec.Marshal(row)
	if err != nil {
		return store.NewAccessError("put", err)
	}

	for range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return store.NewAccessError("put", err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(rowKey(id), data); err != nil {
				return err
			}
			n, err := readCount(txn)
			if err != nil {
				return err
			}
			if int(id) > n {
				return txn.Set(countKey, binary.BigEndian.AppendUint32(nil, uint32(id)))
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return store.NewAccessError("put", err)
}

// Count returns the highest written id.
func (s *Store) Count(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCount(txn)
		return err
	})
	if err != nil {
		return 0, store.NewAccessError("count", err)
	}
	return n, nil
}

func (s *Store) checkFeatures(features ...model.FeatureID) error {
	for _, fid := range features {
		if _, ok := s.features[fid]; !ok {
			return fmt.Errorf("unknown feature %d", fid)
		}
	}
	return nil
}

// PredicateScan decodes every row and returns the matching ids in
// ascending order.
func (s *Store) PredicateScan(ctx context.Context, p constraint.Predicate) ([]model.RecordID, error) {
	if err := s.checkFeatures(p.Feature); err != nil {
		return nil, store.NewAccessError("predicate_scan", err)
	}

	var ids []model.RecordID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = rowPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var row codec.Row
			err := item.Value(func(val []byte) error {
				var err error
				row, err = s.codec.Unmarshal(val)
				return err
			})
			if err != nil {
				return err
			}
			v, ok := row[p.Feature]
			if ok && p.Matches(v) {
				ids = append(ids, keyID(item.Key()))
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.NewAccessError("predicate_scan", err)
	}
	return ids, nil
}

// Session opens a read-only transaction. Reads through the session see
// the database as of this call.
func (s *Store) Session(_ context.Context) (store.Session, error) {
	if s.db.IsClosed() {
		return nil, store.NewAccessError("session", store.ErrClosed)
	}
	return &session{store: s, txn: s.db.NewTransaction(false)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type session struct {
	store *Store
	txn   *badger.Txn
}

func (ss *session) project(id model.RecordID, row codec.Row, features []model.FeatureID) store.Row {
	out := store.Missing(id, len(features))
	for i, fid := range features {
		if v, ok := row[fid]; ok {
			out.Values[i] = v
		}
	}
	return out
}

func (ss *session) decode(item *badger.Item) (codec.Row, error) {
	var row codec.Row
	err := item.Value(func(val []byte) error {
		var err error
		row, err = ss.store.codec.Unmarshal(val)
		return err
	})
	return row, err
}

func (ss *session) RangeScan(ctx context.Context, features []model.FeatureID, start, end model.RecordID) iter.Seq2[store.Row, error] {
	features = slices.Clone(features)
	return func(yield func(store.Row, error) bool) {
		fail := func(err error) { yield(store.Row{}, store.NewAccessError("range_scan", err)) }

		if err := ss.store.checkFeatures(features...); err != nil {
			fail(err)
			return
		}
		if start == 0 || start > end {
			return
		}
		n, err := readCount(ss.txn)
		if err != nil {
			fail(err)
			return
		}
		if int(end) > n {
			fail(store.ErrNotFound)
			return
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = rowPrefix
		it := ss.txn.NewIterator(opts)
		defer it.Close()

		next := start
		for it.Seek(rowKey(start)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			item := it.Item()
			id := keyID(item.Key())
			if id > end {
				break
			}
			row, err := ss.decode(item)
			if err != nil {
				fail(err)
				return
			}
			for ; next < id; next++ {
				if !yield(store.Missing(next, len(features)), nil) {
					return
				}
			}
			if !yield(ss.project(id, row, features), nil) {
				return
			}
			next = id + 1
		}
		for ; next <= end; next++ {
			if !yield(store.Missing(next, len(features)), nil) {
				return
			}
		}
	}
}

func (ss *session) PointLookup(_ context.Context, features []model.FeatureID, id model.RecordID) (store.Row, error) {
	if err := ss.store.checkFeatures(features...); err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}

	item, err := ss.txn.Get(rowKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		n, cerr := readCount(ss.txn)
		if cerr != nil {
			return store.Row{}, store.NewAccessError("point_lookup", cerr)
		}
		if id == 0 || int(id) > n {
			return store.Row{}, store.NewAccessError("point_lookup", store.ErrNotFound)
		}
		return store.Missing(id, len(features)), nil
	}
	if err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}

	row, err := ss.decode(item)
	if err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}
	return ss.project(id, row, features), nil
}

func (ss *session) Close() error {
	ss.txn.Discard()
	return nil
}
