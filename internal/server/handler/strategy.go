package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

// StrategyHandler serves strategy runtime info, persisted configs, and the
// statistical-arbitrage pair book.
type StrategyHandler struct {
	registry *strategy.Registry
	configs  domain.StrategyConfigStore
	pairs    domain.PairStore
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(registry *strategy.Registry, configs domain.StrategyConfigStore, pairs domain.PairStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		registry: registry,
		configs:  configs,
		pairs:    pairs,
		logger:   logger,
	}
}

// ListStrategies returns runtime info for all registered strategies.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.registry.ListInfo()})
}

// ListConfigs returns all persisted strategy configurations.
// GET /api/strategies/configs
func (h *StrategyHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list strategy configs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list strategy configs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// GetConfig returns one strategy's persisted configuration.
// GET /api/strategies/configs/{name}
func (h *StrategyHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing strategy name")
		return
	}

	cfg, err := h.configs.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy config not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get strategy config failed",
			slog.String("strategy", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get strategy config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig upserts one strategy's persisted configuration. The new config
// takes effect on the strategy's next reload, not mid-cycle.
// PUT /api/strategies/configs/{name}
func (h *StrategyHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing strategy name")
		return
	}

	var body struct {
		Config  map[string]any `json:"config"`
		Enabled bool           `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body")
		return
	}

	cfg := domain.StrategyConfig{
		Name:      name,
		Config:    body.Config,
		Enabled:   body.Enabled,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.configs.Upsert(r.Context(), cfg); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: update strategy config failed",
			slog.String("strategy", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update strategy config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ListPairs returns tracked market pairs. With qualified=true only the pairs
// currently meeting the correlation minimum are returned.
// GET /api/pairs?qualified=true
func (h *StrategyHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	var (
		pairs []domain.MarketPair
		err   error
	)
	if r.URL.Query().Get("qualified") == "true" {
		pairs, err = h.pairs.ListQualified(r.Context())
	} else {
		pairs, err = h.pairs.List(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pairs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pairs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}
