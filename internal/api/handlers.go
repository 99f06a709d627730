package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/socialchef/easel/internal/db"
	apperrors "github.com/socialchef/easel/internal/errors"
	"github.com/socialchef/easel/internal/logger"
)

type PingResponse struct {
	Message string `json:"message"`
}

func (s *Server) HandlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{Message: "pong"})
}

type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

var healthCheck = db.NewStatement("SELECT 1 AS ok")

// HandleHealth reports "disabled" for the database when no URL is
// configured, and 503 when the pool is missing or the check query fails.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Service: s.cfg.ServiceName,
		Version: s.cfg.ServiceVersion,
	}

	if s.db == nil || !s.db.IsConfigured() {
		resp.Database = "disabled"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if _, err := s.db.FetchOne(r.Context(), healthCheck); err != nil {
		code := "DATABASE_UNAVAILABLE"
		if errors.Is(err, db.ErrPoolNotInitialized) {
			code = "DATABASE_NOT_INITIALIZED"
		}
		slog.WarnContext(r.Context(), "Health check failed", "error", err, logger.WithTraceContext(r.Context()))
		writeError(w, apperrors.NewUnavailableError("Database unavailable", code, err))
		return
	}

	resp.Database = "ok"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperrors.NewNotFoundError("Route not found", "ROUTE_NOT_FOUND", "Check the request path."))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders err as JSON. Errors that are not an *AppError become an
// opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError("Internal server error", "INTERNAL", err)
	}
	writeJSON(w, appErr.StatusCode, appErr)
}
