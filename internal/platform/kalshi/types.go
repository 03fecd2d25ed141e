package kalshi

import (
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
// Prices are in cents (1-99).
type KalshiMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	Category       string `json:"category"`
	Status         string `json:"status"` // "open", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	Volume24H      int64  `json:"volume_24h"`
	OpenInterest   int64  `json:"open_interest"`
	Result         string `json:"result"` // "yes", "no", "" (unsettled)
	CanCloseEarly  bool   `json:"can_close_early"`
	OpenTime       string `json:"open_time"`
	CloseTime      string `json:"close_time"`
	ExpirationTime string `json:"expiration_time"`
}

// ToDomain converts a REST market to the domain snapshot taken at observedAt.
// Mid prices are used when both sides are quoted; otherwise the last trade
// price stands in.
func (m KalshiMarket) ToDomain(observedAt time.Time) domain.Market {
	yes := midPrice(m.YesBid, m.YesAsk, m.LastPrice)
	no := midPrice(m.NoBid, m.NoAsk, 100-m.LastPrice)

	var closeTime time.Time
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		closeTime = t
	}

	return domain.Market{
		ID:           m.Ticker,
		EventID:      m.EventTicker,
		Title:        m.Title,
		Category:     m.Category,
		YesPrice:     yes,
		NoPrice:      no,
		Volume:       float64(m.Volume24H),
		OpenInterest: float64(m.OpenInterest),
		Status:       marketStatus(m.Status),
		CloseTime:    closeTime,
		ObservedAt:   observedAt,
	}
}

// midPrice converts cent quotes to a [0,1] probability, preferring the
// bid/ask midpoint and falling back to the last trade price.
func midPrice(bid, ask, last int64) float64 {
	if bid > 0 && ask > 0 {
		return float64(bid+ask) / 200
	}
	if last > 0 {
		return float64(last) / 100
	}
	return 0
}

func marketStatus(s string) domain.MarketStatus {
	switch s {
	case "open", "active":
		return domain.MarketStatusActive
	case "settled", "finalized":
		return domain.MarketStatusSettled
	default:
		return domain.MarketStatusClosed
	}
}

// KalshiEvent represents an event (a group of related markets) as returned by
// the Kalshi REST API.
type KalshiEvent struct {
	EventTicker       string `json:"event_ticker"`
	SeriesTicker      string `json:"series_ticker"`
	Title             string `json:"title"`
	Category          string `json:"category"`
	MutuallyExclusive bool   `json:"mutually_exclusive"`
	Status            string `json:"status"`
}

// ToDomain converts a REST event to a domain event group.
func (e KalshiEvent) ToDomain() domain.EventGroup {
	status := e.Status
	if status == "" || status == "open" {
		status = "active"
	}
	return domain.EventGroup{
		ID:                e.EventTicker,
		Title:             e.Title,
		Category:          e.Category,
		MutuallyExclusive: e.MutuallyExclusive,
		Status:            status,
	}
}

// KalshiCandle is one historical price candle. Prices are in cents.
type KalshiCandle struct {
	EndPeriodTs int64 `json:"end_period_ts"`
	OpenPrice   int64 `json:"open"`
	ClosePrice  int64 `json:"close"`
	HighPrice   int64 `json:"high"`
	LowPrice    int64 `json:"low"`
	Volume      int64 `json:"volume"`
}

// ToPricePoint converts a candle to a domain price point at the candle's
// closing price.
func (c KalshiCandle) ToPricePoint(marketID string) domain.PricePoint {
	return domain.PricePoint{
		MarketID: marketID,
		YesPrice: float64(c.ClosePrice) / 100,
		Volume:   float64(c.Volume),
		At:       time.Unix(c.EndPeriodTs, 0).UTC(),
	}
}

// KalshiOrder represents an order submission. Prices are in cents (1-99).
type KalshiOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`  // number of contracts
	YesPrice      *int64 `json:"yes_price,omitempty"`
	NoPrice       *int64 `json:"no_price,omitempty"`
	Expiration    *int64 `json:"expiration_ts,omitempty"` // Unix timestamp for GTD orders
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"`  // max cost in cents
}

// KalshiOrderState is the venue's view of an order, returned from both the
// create call and status polls.
type KalshiOrderState struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	InitialCount   int64  `json:"initial_count"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCount int64  `json:"maker_fill_count"`
	TakerFees      int64  `json:"taker_fees"`
	PlacedTime     string `json:"placed_time"`
	LastUpdateTime string `json:"last_update_time"`
}

// FilledCount is the total number of contracts filled so far.
func (o KalshiOrderState) FilledCount() int64 {
	return o.TakerFillCount + o.MakerFillCount
}

// AvgFillPrice is the average fill price in [0,1], or zero when unfilled.
func (o KalshiOrderState) AvgFillPrice() float64 {
	if o.TakerFillCount > 0 {
		return float64(o.TakerFillCost) / float64(o.TakerFillCount) / 100
	}
	// Maker fills execute at the resting limit price.
	if o.MakerFillCount > 0 {
		if o.Side == "no" {
			return float64(o.NoPrice) / 100
		}
		return float64(o.YesPrice) / 100
	}
	return 0
}

// DomainStatus maps the venue order status to the engine's view.
func (o KalshiOrderState) DomainStatus() domain.OrderStatus {
	switch o.Status {
	case "executed":
		return domain.OrderFilled
	case "canceled":
		return domain.OrderCanceled
	case "resting", "pending":
		if o.FilledCount() > 0 && o.RemainingCount == 0 {
			return domain.OrderFilled
		}
		return domain.OrderSubmitted
	default:
		return domain.OrderUnknown
	}
}

// KalshiExchangeStatus reports venue availability.
type KalshiExchangeStatus struct {
	ExchangeActive bool `json:"exchange_active"`
	TradingActive  bool `json:"trading_active"`
}

// KalshiErrorResponse represents a Kalshi API error response.
type KalshiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
