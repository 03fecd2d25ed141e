package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// SignalHandler serves the signal audit trail and cycle reports.
type SignalHandler struct {
	signals domain.SignalStore
	cycles  domain.CycleStore
	orders  domain.OrderStore
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals domain.SignalStore, cycles domain.CycleStore, orders domain.OrderStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		signals: signals,
		cycles:  cycles,
		orders:  orders,
		logger:  logger,
	}
}

// ListSignals returns signal records, optionally scoped to one cycle.
// GET /api/signals?cycle_id=&limit=50&offset=0
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	var (
		records []domain.SignalRecord
		err     error
	)
	if cycleID := r.URL.Query().Get("cycle_id"); cycleID != "" {
		records, err = h.signals.ListByCycle(r.Context(), cycleID)
	} else {
		records, err = h.signals.List(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": records})
}

// ListCycles returns the most recent cycle reports.
// GET /api/cycles?limit=20
func (h *SignalHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	reports, err := h.cycles.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cycles failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": reports})
}

// GetLatestCycle returns the most recent cycle report.
// GET /api/cycles/latest
func (h *SignalHandler) GetLatestCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.cycles.Latest(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no cycles recorded")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: latest cycle failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read latest cycle")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetCycle returns one cycle report with its orders.
// GET /api/cycles/{id}
func (h *SignalHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing cycle id")
		return
	}

	report, err := h.cycles.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get cycle failed",
			slog.String("cycle_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get cycle")
		return
	}

	orders, err := h.orders.ListByCycle(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cycle orders failed",
			slog.String("cycle_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cycle orders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cycle":  report,
		"orders": orders,
	})
}

// ListUnresolvedOrders returns orders awaiting reconciliation.
// GET /api/orders/unresolved
func (h *SignalHandler) ListUnresolvedOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListUnresolved(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list unresolved orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list unresolved orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
