package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/featview"
	"github.com/hupe1980/featview/config"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
	"github.com/hupe1980/featview/store/badgerstore"
	"github.com/hupe1980/featview/store/memstore"
	"github.com/hupe1980/featview/store/sqlstore"
	"github.com/hupe1980/featview/testutil"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	rows       int
	seed       int64
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "featview",
		Short:         "Filtered, scored record views over a feature table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "featview.yaml", "configuration file")
	cmd.PersistentFlags().IntVar(&flags.rows, "rows", 1000, "random rows generated for the memory driver")
	cmd.PersistentFlags().Int64Var(&flags.seed, "seed", 42, "random seed for generated rows")

	cmd.AddCommand(
		newCheckCmd(flags),
		newRecordsCmd(flags),
		newSeedCmd(flags),
		newServeCmd(flags),
	)
	return cmd
}

type writableStore interface {
	store.Store
	store.Writer
}

// storedFeatures returns the ids of the non-virtual features.
func storedFeatures(cfg *config.Config) []model.FeatureID {
	var fids []model.FeatureID
	for _, f := range cfg.Features {
		if !f.Virtual {
			fids = append(fids, model.FeatureID(f.ID))
		}
	}
	return fids
}

// openStore opens the configured store. The memory driver is filled with
// flags.rows generated rows.
func openStore(ctx context.Context, cfg *config.Config, flags *rootFlags) (writableStore, io.Closer, error) {
	fids := storedFeatures(cfg)

	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlstore.Open(ctx, cfg.Store.Path, fids...)
		return s, s, err
	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Store.Path,
			SyncWrites: true,
			Logger:     cfg.Log.Logger().Logger,
		}, fids...)
		return s, s, err
	case "memory", "":
		s := memstore.New(fids...)
		if err := seedRows(ctx, cfg, s, flags.rows, flags.seed, 0); err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// seedRows writes n generated rows with ids 1..n. Values follow the
// feature bounds; nullRate of the cells are left missing.
func seedRows(ctx context.Context, cfg *config.Config, w store.Writer, n int, seed int64, nullRate float64) error {
	rng := testutil.NewRNG(seed)
	for i := 1; i <= n; i++ {
		row := make(map[model.FeatureID]float64, len(cfg.Features))
		for _, f := range cfg.Features {
			if f.Virtual {
				continue
			}
			fid := model.FeatureID(f.ID)
			for k, v := range rng.Row([]model.FeatureID{fid}, testutil.Bounds(f.Min, f.Max), testutil.Nulls(nullRate)) {
				row[k] = v
			}
		}
		if err := w.Put(ctx, model.RecordID(i), row); err != nil {
			return err
		}
	}
	return nil
}

// session bundles everything a command needs to read records.
type session struct {
	cfg      *config.Config
	registry *config.Registry
	view     *featview.View
	closer   io.Closer
	unsub    func()
}

func openSession(ctx context.Context, flags *rootFlags, opts ...featview.Option) (*session, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	reg, err := config.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, closer, err := openStore(ctx, cfg, flags)
	if err != nil {
		return nil, err
	}

	view, err := featview.New(st, reg, reg, reg, append(cfg.Options(), opts...)...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{
		cfg:      cfg,
		registry: reg,
		view:     view,
		closer:   closer,
		unsub:    reg.Subscribe(view),
	}, nil
}

func (s *session) Close() error {
	s.unsub()
	return errors.Join(s.view.Close(), s.closer.Close())
}
