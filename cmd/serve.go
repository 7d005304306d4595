package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/monitoring"
	"github.com/expoforge/scout-cli/internal/pipeline"
	"github.com/expoforge/scout-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves health, evaluation, run history, and stats endpoints until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, pipelineOpts{})
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Serve.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline, env.Store, cfg.Serve.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes. p handles evaluations, st backs the run
// and stats endpoints; either may be nil in tests, disabling its routes'
// behavior rather than the routes themselves.
func buildRouter(p *pipeline.Pipeline, st store.Store, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/evaluations", handleEvaluate(p))

	r.Get("/v1/runs", handleListRuns(st))
	r.Get("/v1/runs/{id}", handleGetRun(st))
	r.Get("/v1/stats", handleStats(st))

	return r
}

// handleEvaluate scores a single org synchronously and returns the
// evaluation.
func handleEvaluate(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Website     string `json:"website"`
			Description string `json:"description"`
			Sector      string `json:"sector"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Website == "" {
			http.Error(w, `{"error":"website is required"}`, http.StatusBadRequest)
			return
		}
		if p == nil {
			http.Error(w, `{"error":"pipeline unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		org := model.Org{
			Name:        req.Name,
			Website:     req.Website,
			Description: req.Description,
			Sector:      req.Sector,
		}

		eval, err := p.Evaluate(r.Context(), org)
		if err != nil {
			zap.L().Error("evaluation failed",
				zap.String("org", org.DisplayName()),
				zap.Error(err),
			)
			http.Error(w, `{"error":"evaluation failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, eval)
	}
}

// handleListRuns lists persisted runs, newest first.
func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		runs, err := st.ListRuns(r.Context(), store.RunFilter{
			Status: model.RunStatus(q.Get("status")),
			Label:  q.Get("label"),
			Limit:  limit,
		})
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			http.Error(w, `{"error":"list runs failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, runs)
	}
}

// handleGetRun returns one run with its full report.
func handleGetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("get run failed", zap.Error(err))
			http.Error(w, `{"error":"get run failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}

// handleStats returns the monitoring snapshot.
func handleStats(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		window, _ := strconv.Atoi(r.URL.Query().Get("window"))

		snap, err := monitoring.NewCollector(st).Collect(r.Context(), window)
		if err != nil {
			zap.L().Error("stats collection failed", zap.Error(err))
			http.Error(w, `{"error":"stats collection failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
