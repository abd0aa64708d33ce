package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingRecord is one trading day of one instrument as published in the
// exchange's symbol history table. Rows with zero volume are never built.
type TradingRecord struct {
	ID             int64           `json:"id,omitempty"`
	StockCode      string          `json:"stockCode"`
	Date           time.Time       `json:"date"`
	LastTradePrice decimal.Decimal `json:"lastTradePrice"`
	MaxPrice       decimal.Decimal `json:"maxPrice"`
	MinPrice       decimal.Decimal `json:"minPrice"`
	AvgPrice       decimal.Decimal `json:"avgPrice"`
	PercentChange  decimal.Decimal `json:"percentChange"`
	Volume         int64           `json:"volume"`
	Turnover       decimal.Decimal `json:"turnover"`
	TotalTurnover  decimal.Decimal `json:"totalTurnover"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
}

// Watermark is the date from which an instrument's history must be fetched.
type Watermark struct {
	StockCode string `json:"stockCode"`
	LastDate  string `json:"lastDate"` // YYYY-MM-DD
}

// LiquidStock is one row of the exchange's most traded symbols table.
type LiquidStock struct {
	CompanyCode   string `json:"companyCode"`
	AveragePrice  string `json:"averagePrice"`
	PercentChange string `json:"percentChange"`
	Turnover      string `json:"turnover"`
}
