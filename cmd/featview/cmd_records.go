package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"
	"github.com/hupe1980/featview"
	"github.com/hupe1980/featview/model"
	"github.com/spf13/cobra"
)

type recordsFlags struct {
	json  bool
	limit int
}

func newRecordsCmd(flags *rootFlags) *cobra.Command {
	rf := &recordsFlags{}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Materialize and print the current record view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer sess.Close()

			snap, err := sess.view.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			features := sess.registry.ActiveFeatures()
			if rf.json {
				return writeJSON(cmd.OutOrStdout(), snap, features, rf.limit)
			}
			return writeTable(cmd.OutOrStdout(), snap, features, rf.limit)
		},
	}
	cmd.Flags().BoolVar(&rf.json, "json", false, "print JSON")
	cmd.Flags().IntVarP(&rf.limit, "limit", "n", 0, "print at most n records (0 = all)")
	return cmd
}

func limited(records []*model.Record, limit int) []*model.Record {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func formatValue(v float64) string {
	if model.IsMissing(v) {
		return "-"
	}
	return fmt.Sprintf("%.4g", v)
}

func writeTable(w io.Writer, snap *featview.Snapshot, features []*model.Feature, limit int) error {
	mode := "unfiltered"
	if snap.Filtered {
		mode = "filtered"
	}
	fmt.Fprintf(w, "%d records, %s, %d workers (%d degraded), built in %s\n\n",
		snap.Len(), mode, snap.Workers, snap.FailedWorkers, snap.Duration)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := []string{"ID", "GROUPS"}
	for _, f := range features {
		header = append(header, strings.ToUpper(f.Name()))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, r := range limited(snap.Records(), limit) {
		cells := []string{fmt.Sprint(r.ID()), fmt.Sprint(r.Groups())}
		for _, f := range features {
			cells = append(cells, formatValue(r.Value(f.ID())))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

type recordJSON struct {
	ID     model.RecordID      `json:"id"`
	Groups []model.GroupID     `json:"groups"`
	Values map[string]*float64 `json:"values"`
}

type snapshotJSON struct {
	Generation    uint64       `json:"generation"`
	Filtered      bool         `json:"filtered"`
	Workers       int          `json:"workers"`
	FailedWorkers int          `json:"failed_workers"`
	Records       []recordJSON `json:"records"`
}

func toJSON(snap *featview.Snapshot, features []*model.Feature, limit int) snapshotJSON {
	out := snapshotJSON{
		Generation:    snap.Generation,
		Filtered:      snap.Filtered,
		Workers:       snap.Workers,
		FailedWorkers: snap.FailedWorkers,
		Records:       []recordJSON{},
	}
	for _, r := range limited(snap.Records(), limit) {
		rj := recordJSON{ID: r.ID(), Groups: r.Groups(), Values: make(map[string]*float64, len(features))}
		for _, f := range features {
			// Missing values encode as null.
			var v *float64
			if x := r.Value(f.ID()); !math.IsNaN(x) {
				v = &x
			}
			rj.Values[f.Name()] = v
		}
		out.Records = append(out.Records, rj)
	}
	return out
}

func writeJSON(w io.Writer, snap *featview.Snapshot, features []*model.Feature, limit int) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSON(snap, features, limit))
}
