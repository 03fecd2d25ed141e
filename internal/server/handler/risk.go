package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// LimitManager is the risk manager's configuration surface.
type LimitManager interface {
	Limits() domain.RiskLimits
	SetLimits(limits domain.RiskLimits)
}

// RiskHandler serves risk limits and snapshot endpoints.
type RiskHandler struct {
	manager   LimitManager
	snapshots domain.RiskSnapshotStore
	logger    *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(manager LimitManager, snapshots domain.RiskSnapshotStore, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		manager:   manager,
		snapshots: snapshots,
		logger:    logger,
	}
}

// GetLimits returns the active risk limit set.
// GET /api/risk/limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Limits())
}

// UpdateLimits replaces the risk limit set wholesale.
// PUT /api/risk/limits
func (h *RiskHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.RiskLimits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limits body")
		return
	}
	if err := validateLimits(limits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.manager.SetLimits(limits)
	h.logger.InfoContext(r.Context(), "risk limits updated")
	writeJSON(w, http.StatusOK, h.manager.Limits())
}

// GetLatestSnapshot returns the most recent risk snapshot.
// GET /api/risk/snapshots/latest
func (h *RiskHandler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Latest(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshots recorded")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: latest snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSnapshots returns recent risk snapshots.
// GET /api/risk/snapshots?limit=50
func (h *RiskHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	snaps, err := h.snapshots.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list snapshots failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func validateLimits(l domain.RiskLimits) error {
	switch {
	case l.MaxPortfolioExposure <= 0 || l.MaxPortfolioExposure > 1:
		return errors.New("max_portfolio_exposure must be in (0,1]")
	case l.MaxPositionSize <= 0 || l.MaxPositionSize > 1:
		return errors.New("max_position_size must be in (0,1]")
	case l.MaxOpenPositions <= 0:
		return errors.New("max_open_positions must be positive")
	case l.MaxDailyTrades <= 0:
		return errors.New("max_daily_trades must be positive")
	case l.MaxDailyLoss <= 0 || l.MaxDailyLoss > 1:
		return errors.New("max_daily_loss must be in (0,1]")
	case l.StopLossEnabled && (l.StopLossPct <= 0 || l.StopLossPct >= 1):
		return errors.New("stop_loss_pct must be in (0,1)")
	}
	return nil
}
