package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/monitoring"
	"github.com/woonradar/listings-cli/internal/pipeline"
	"github.com/woonradar/listings-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve snapshots and run history as a read-only JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitor.WebhookURL != "" {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
			go checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the read API over st.
func buildRouter(st store.Store, origins []string) http.Handler {
	r := chi.NewRouter()
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/sources", func(w http.ResponseWriter, r *http.Request) {
		names, err := st.ListSources(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, names)
	})

	r.Get("/sources/{source}/listings", func(w http.ResponseWriter, r *http.Request) {
		snap, err := st.LoadSnapshot(r.Context(), chi.URLParam(r, "source"))
		if err != nil {
			writeError(w, err)
			return
		}
		rows := snap.Rows
		if r.URL.Query().Get("active") == "true" {
			rows = pipeline.Active(snap)
		}
		if rows == nil {
			rows = []model.ListingSnapshotRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps store sentinels to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrUnsupported):
		status = http.StatusNotImplemented
	default:
		zap.L().Error("read api", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
