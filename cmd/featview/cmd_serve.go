package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/hupe1980/featview"
	promcollector "github.com/hupe1980/featview/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the record view and its metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			collector, err := promcollector.New("featview", reg)
			if err != nil {
				return err
			}

			sess, err := openSession(cmd.Context(), flags, featview.WithMetricsCollector(collector))
			if err != nil {
				return err
			}
			defer sess.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           newHandler(sess, reg),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			sess.cfg.Log.Logger().Info("serving", "addr", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// newHandler serves
//
//	GET  /records      the current snapshot as JSON (?limit=n)
//	POST /invalidate   drops the cached snapshot
//	GET  /metrics      Prometheus metrics
func newHandler(sess *session, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /records", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		snap, err := sess.view.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = gojson.NewEncoder(w).Encode(toJSON(snap, sess.registry.ActiveFeatures(), limit))
	})

	mux.HandleFunc("POST /invalidate", func(w http.ResponseWriter, _ *http.Request) {
		sess.view.Invalidate()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
