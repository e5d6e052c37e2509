package main

import (
	"encoding/json"
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

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/monitoring"
	"github.com/sells-group/enrich-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for enrichment executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/executions", env.handleStartExecution)
		r.Get("/executions", env.handleListExecutions)
		r.Get("/executions/{id}", env.handleGetExecution)
		r.Post("/executions/{id}/cancel", env.handleCancelExecution)
		r.Get("/providers", env.handleProviders)

		collector := monitoring.NewCollector(env.Store, env.Registry)
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context(), cfg.Monitor.LookbackWindowHours)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		if cfg.Monitor.Enabled {
			alerter := monitoring.NewAlerter(cfg.Monitor.WebhookURL, monitoring.AlertThresholds{
				FailureRate:    cfg.Monitor.FailureRateThreshold,
				SystemicErrors: cfg.Monitor.SystemicErrorAlert,
			})
			checker := monitoring.NewChecker(collector, alerter,
				time.Duration(cfg.Monitor.CheckIntervalSecs)*time.Second,
				cfg.Monitor.LookbackWindowHours)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
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

// startExecutionRequest is the POST /executions body.
type startExecutionRequest struct {
	Entities []model.TargetEntity   `json:"entities"`
	Options  model.ExecutionOptions `json:"options"`
	OwnerKey string                 `json:"owner_key,omitempty"`
}

func (e *appEnv) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i := range req.Entities {
		if req.Entities[i].OwnerKey == "" {
			req.Entities[i].OwnerKey = req.OwnerKey
		}
		kind := req.Entities[i].Kind
		if kind != model.KindCompany && kind != model.KindPerson {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("entity %d: unknown kind %q", i, kind))
			return
		}
	}

	id, err := e.Manager.StartExecution(r.Context(), req.Entities, req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

func (e *appEnv) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		Status: model.ExecutionStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	execs, err := e.Manager.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (e *appEnv) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := e.Manager.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (e *appEnv) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := e.Manager.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (e *appEnv) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": e.Registry.Statuses()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
