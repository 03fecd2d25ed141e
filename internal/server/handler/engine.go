package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// EngineControl defines the lifecycle operations the engine handler exposes
// over HTTP. The engine implements this.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EnableTrading(ctx context.Context) error
	DisableTrading(ctx context.Context) error
	EmergencyStop(ctx context.Context, reason string)
	Restart(ctx context.Context) error
	Status(ctx context.Context) domain.EngineStatus
	RunCycle(ctx context.Context) (domain.CycleReport, error)
}

// EngineHandler serves engine lifecycle endpoints.
type EngineHandler struct {
	engine EngineControl
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine EngineControl, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// GetStatus returns the engine's observability snapshot.
// GET /api/engine/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

// Start moves the engine to monitoring mode.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", h.engine.Start)
}

// Stop halts decision cycles.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "stop", h.engine.Stop)
}

// EnableTrading switches monitoring to live trading.
// POST /api/engine/trading/enable
func (h *EngineHandler) EnableTrading(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "enable trading", h.engine.EnableTrading)
}

// DisableTrading falls back from trading to monitoring.
// POST /api/engine/trading/disable
func (h *EngineHandler) DisableTrading(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "disable trading", h.engine.DisableTrading)
}

// EmergencyStop halts everything immediately.
// POST /api/engine/emergency-stop
func (h *EngineHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "operator request"
	}

	h.engine.EmergencyStop(r.Context(), body.Reason)
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

// Restart clears an emergency stop.
// POST /api/engine/restart
func (h *EngineHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restart", h.engine.Restart)
}

// TriggerCycle runs one decision cycle immediately.
// POST /api/engine/cycle
func (h *EngineHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RunCycle(r.Context())
	if err != nil {
		status := http.StatusConflict
		if !isStateError(err) {
			status = http.StatusInternalServerError
			h.logger.ErrorContext(r.Context(), "handler: manual cycle failed",
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *EngineHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if isStateError(err) {
			status = http.StatusConflict
		} else {
			h.logger.ErrorContext(r.Context(), "handler: engine transition failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

func isStateError(err error) bool {
	return errors.Is(err, domain.ErrEngineRunning) ||
		errors.Is(err, domain.ErrEngineNotRunning) ||
		errors.Is(err, domain.ErrEmergencyStopped) ||
		errors.Is(err, domain.ErrCycleInProgress)
}
