package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// PortfolioSource is the ledger's read surface.
type PortfolioSource interface {
	State(now time.Time) domain.PortfolioState
	OpenPositions() []domain.Position
}

// PortfolioHandler serves portfolio and position endpoints.
type PortfolioHandler struct {
	portfolio PortfolioSource
	positions domain.PositionStore
	trades    domain.TradeStore
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioSource, positions domain.PositionStore, trades domain.TradeStore, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		portfolio: portfolio,
		positions: positions,
		trades:    trades,
		logger:    logger,
	}
}

// GetPortfolio returns the current derived portfolio state.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.portfolio.State(time.Now().UTC()))
}

// ListPositions returns the open positions from the in-memory book.
// GET /api/positions
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": h.portfolio.OpenPositions(),
	})
}

// ListPositionHistory returns closed and open positions from the store.
// GET /api/positions/history?limit=50&offset=0
func (h *PortfolioHandler) ListPositionHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	positions, err := h.positions.ListHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// ListTrades returns the trade log, optionally filtered to one market.
// GET /api/trades?market_id=&limit=50&offset=0
func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		trades []domain.Trade
		err    error
	)
	if marketID := r.URL.Query().Get("market_id"); marketID != "" {
		trades, err = h.trades.ListByMarket(r.Context(), marketID, opts)
	} else {
		trades, err = h.trades.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
