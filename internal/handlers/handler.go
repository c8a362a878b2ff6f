package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/fanout"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
	"github.com/profullstack/qryptchat-web-sub004/internal/sweeper"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store   store.DataStore
	redis   *store.RedisStore
	reg     *registry.Registry
	encoder *fanout.Encoder
	sweeper *sweeper.Sweeper
	logger  zerolog.Logger
	wsCfg   registry.Config
}

// NewHandler creates a new Handler with the given collaborators.
func NewHandler(st store.DataStore, redis *store.RedisStore, reg *registry.Registry, encoder *fanout.Encoder, sw *sweeper.Sweeper, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   st,
		redis:   redis,
		reg:     reg,
		encoder: encoder,
		sweeper: sw,
		logger:  logger,
		wsCfg:   registry.DefaultConfig(),
	}
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
