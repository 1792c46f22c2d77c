package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/safenest/safenest/internal/gateway"
	"github.com/safenest/safenest/internal/store"
)

// HealthProber reports whether an upstream dependency is reachable.
type HealthProber interface {
	Health(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db         store.DataStore
	redis      *store.RedisStore
	moderation HealthProber
	gw         *gateway.Gateway
}

// NewHandler creates a new Handler with the given stores and gateway.
func NewHandler(db store.DataStore, redis *store.RedisStore, moderation HealthProber, gw *gateway.Gateway) *Handler {
	return &Handler{db: db, redis: redis, moderation: moderation, gw: gw}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
