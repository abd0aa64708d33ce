// Package analysis derives trading signals from stored prices and from
// classified news sentiment.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
)

var ErrNoData = errors.New("no data")

const (
	Buy  = "BUY"
	Sell = "SELL"
	Hold = "HOLD"
)

const (
	rsiPeriod   = 14
	stochPeriod = 14
	macdShort   = 12
	macdLong    = 26
	macdSignal  = 9
	trendPeriod = 30
)

type HistoryStore interface {
	GetRange(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error)
}

// TechnicalResult holds the latest indicator values of an instrument.
// Indicators that are undefined for the available history are nil.
type TechnicalResult struct {
	StockCode  string           `json:"stockCode"`
	DateRange  string           `json:"dateRange"`
	Days       int              `json:"days"`
	LastPrice  float64          `json:"lastPrice"`
	SMA        *float64         `json:"sma"`
	EMA        *float64         `json:"ema"`
	RSI        *float64         `json:"rsi"`
	MACD       *float64         `json:"macd"`
	MACDSignal *float64         `json:"macdSignal"`
	StochK     *float64         `json:"stochK"`
	StochD     *float64         `json:"stochD"`
	Signals    TechnicalSignals `json:"signals"`
}

type TechnicalSignals struct {
	RSI   string `json:"rsi"`
	Stoch string `json:"stoch"`
	MACD  string `json:"macd"`
	SMA   string `json:"sma"`
	EMA   string `json:"ema"`
}

type Technical struct {
	store    HistoryStore
	lookback time.Duration
	now      func() time.Time
}

func NewTechnical(store HistoryStore) *Technical {
	return &Technical{store: store, lookback: 2 * 365 * 24 * time.Hour, now: time.Now}
}

// Analyze computes indicators over the last two years of code's history.
func (t *Technical) Analyze(ctx context.Context, code string) (*TechnicalResult, error) {
	end := t.now()
	recs, err := t.store.GetRange(ctx, code, end.Add(-t.lookback), end)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", code, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNoData)
	}
	return Compute(code, recs), nil
}

// Compute evaluates every indicator on recs, which must be sorted oldest
// first and non-empty.
func Compute(code string, recs []models.TradingRecord) *TechnicalResult {
	n := len(recs)
	closes := make([]float64, n)
	lows := make([]float64, n)
	highs := make([]float64, n)
	for i, r := range recs {
		closes[i] = r.LastTradePrice.InexactFloat64()
		lows[i] = r.MinPrice.InexactFloat64()
		highs[i] = r.MaxPrice.InexactFloat64()
	}

	rsi := RSI(closes, rsiPeriod)
	k, d := Stochastic(closes, lows, highs, stochPeriod)
	macd, sig := MACD(closes, macdShort, macdLong, macdSignal)
	smaLine := SMA(closes, trendPeriod)
	emaLine := EMA(closes, trendPeriod)

	last := n - 1
	price := closes[last]
	res := &TechnicalResult{
		StockCode:  code,
		DateRange:  recs[0].Date.Format("02.01.2006") + " - " + recs[last].Date.Format("02.01.2006"),
		Days:       n,
		LastPrice:  price,
		SMA:        finite(smaLine[last]),
		EMA:        finite(emaLine[last]),
		RSI:        finite(rsi[last]),
		MACD:       finite(macd[last]),
		MACDSignal: finite(sig[last]),
		StochK:     finite(k[last]),
		StochD:     finite(d[last]),
	}
	res.Signals = TechnicalSignals{
		RSI:   bandSignal(rsi[last], 30, 70),
		Stoch: bandSignal(k[last], 20, 80),
		MACD:  macdSignalOf(macd[last]),
		SMA:   trendSignal(price, smaLine[last]),
		EMA:   trendSignal(price, emaLine[last]),
	}
	return res
}

// bandSignal buys below lo and sells above hi.
func bandSignal(v, lo, hi float64) string {
	switch {
	case math.IsNaN(v):
		return Hold
	case v < lo:
		return Buy
	case v > hi:
		return Sell
	}
	return Hold
}

func macdSignalOf(v float64) string {
	if math.IsNaN(v) {
		return Hold
	}
	if v > 0 {
		return Buy
	}
	return Sell
}

func trendSignal(price, avg float64) string {
	switch {
	case math.IsNaN(avg):
		return Hold
	case price > avg:
		return Buy
	case price < avg:
		return Sell
	}
	return Hold
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
