package main

import (
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

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           buildRouter(cfg, env.Orchestrator),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			if _, err := env.Orchestrator.Stop(); err != nil && !errors.Is(err, pipeline.ErrNoRun) {
				zap.L().Warn("stop run on shutdown", zap.Error(err))
			}
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// server handles the control API routes.
type server struct {
	cfg  *config.Config
	orch *pipeline.Orchestrator
}

// buildRouter wires the control API.
func buildRouter(c *config.Config, orch *pipeline.Orchestrator) http.Handler {
	s := &server{cfg: c, orch: orch}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Post("/runs", s.startRun)
	r.Get("/runs/current", s.currentRun)
	r.Post("/runs/current/stop", s.stopRun)
	r.Get("/runs/current/output", s.downloadOutput)
	r.Get("/usage", s.usage)
	r.Post("/usage/reset", s.resetUsage)
	return r
}

type startRequest struct {
	URLs []string `json:"urls"`
}

type usageResponse struct {
	Tokens   model.TokenUsage  `json:"tokens"`
	Governor governor.Snapshot `json:"governor"`
	Locked   bool              `json:"locked"`
	Message  string            `json:"message,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reason := lockReason(s.cfg, s.orch.Governor()); reason != "" {
		writeError(w, http.StatusLocked, reason)
		return
	}

	res, err := s.orch.Start(r.Context(), req.URLs, s.cfg.RunConfig())
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrNoURLs):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		zap.L().Error("start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (s *server) currentRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) stopRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Stop()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) downloadOutput(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !res.Done() {
		writeError(w, http.StatusConflict, "run is still in progress")
		return
	}

	filename := res.Config.Filename
	if filename == "" {
		filename = "processed_content.md"
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Output))
}

func (s *server) usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.usageSnapshot())
}

func (s *server) resetUsage(w http.ResponseWriter, r *http.Request) {
	if res, err := s.orch.Current(); err == nil && !res.Done() {
		writeError(w, http.StatusConflict, pipeline.ErrRunActive.Error())
		return
	}
	if err := s.orch.ResetUsage(r.Context()); err != nil {
		zap.L().Error("reset usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.usageSnapshot())
}

func (s *server) usageSnapshot() usageResponse {
	reason := lockReason(s.cfg, s.orch.Governor())
	return usageResponse{
		Tokens:   s.orch.Usage(),
		Governor: s.orch.Governor().Snapshot(),
		Locked:   reason != "",
		Message:  reason,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
