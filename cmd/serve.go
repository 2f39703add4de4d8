package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/cascade"
	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newReviewRouter(e, cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newReviewRouter builds the review API. Field edits go through the
// cascade coordinator so the approval gates and the change log hold for
// HTTP clients exactly as for the CLI.
func newReviewRouter(e *env, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/references", e.handleListReferences)
		r.Get("/references/{id}", e.handleGetReference)
		r.Get("/references/{id}/changes", e.handleListChanges)
		r.Post("/references/{id}/fields/{level}", e.handleFieldUpdate)
		r.Post("/references/{id}/undo", e.handleUndo)
		r.Get("/pending", e.handleListPending)
		r.Post("/pending/{handle}/resume", e.handleResume)
		r.Post("/pending/{handle}/abandon", e.handleAbandon)
	})

	return r
}

func (e *env) handleListReferences(w http.ResponseWriter, r *http.Request) {
	filter := store.ReferenceFilter{
		Status: model.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("manual_review"); v != "" {
		flagged := v == "true"
		filter.ManualReview = &flagged
	}

	refs, err := e.store.ListReferences(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": refs})
}

func (e *env) handleGetReference(w http.ResponseWriter, r *http.Request) {
	ref, err := e.store.GetReference(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (e *env) handleListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := e.store.ListChanges(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

type fieldUpdateRequest struct {
	Text string        `json:"text"`
	URLs *model.URLSet `json:"urls,omitempty"`
	// AutoRegenerate defaults to true; pass false to commit the edit
	// without proposing the downstream field.
	AutoRegenerate *bool `json:"auto_regenerate,omitempty"`
}

func (e *env) handleFieldUpdate(w http.ResponseWriter, r *http.Request) {
	level := model.Level(chi.URLParam(r, "level"))
	var req fieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	autoRegenerate := req.AutoRegenerate == nil || *req.AutoRegenerate
	value := cascade.Value{Text: req.Text, URLs: req.URLs}
	res, err := e.coordinator.RequestFieldUpdate(r.Context(), chi.URLParam(r, "id"), level, value, autoRegenerate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resumeRequest struct {
	Decision string        `json:"decision"`
	Text     string        `json:"text,omitempty"`
	URLs     *model.URLSet `json:"urls,omitempty"`
}

func (e *env) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var modified *cascade.Value
	if req.Decision == string(model.DecisionModified) {
		modified = &cascade.Value{Text: req.Text, URLs: req.URLs}
	}
	res, err := e.coordinator.Resume(r.Context(), chi.URLParam(r, "handle"), model.Decision(req.Decision), modified)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *env) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := e.coordinator.Abandon(r.Context(), chi.URLParam(r, "handle")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

func (e *env) handleListPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": e.coordinator.Pending()})
}

type undoRequest struct {
	Level string `json:"level"`
}

func (e *env) handleUndo(w http.ResponseWriter, r *http.Request) {
	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ref, err := e.coordinator.Undo(r.Context(), chi.URLParam(r, "id"), model.Level(req.Level))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case cascade.IsConflict(err):
		status = http.StatusConflict
	case eris.Is(err, store.ErrNotFound), eris.Is(err, cascade.ErrUnknownHandle):
		status = http.StatusNotFound
	case eris.Is(err, cascade.ErrNothingToUndo),
		eris.Is(err, cascade.ErrFinalized):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
