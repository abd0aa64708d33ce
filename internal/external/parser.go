package external

import (
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
	"github.com/shopspring/decimal"
)

// HistoryDateLayout is the date format of the symbol history table.
const HistoryDateLayout = "1/2/2006"

// historyCells is the number of cells in a symbol history row: date, last,
// max, min, avg, %chg, volume, turnover, total turnover.
const historyCells = 9

// ParseRow converts one history table row into a record. It reports false
// when the row carries no trading data: missing cells, zero or unparsable
// volume, or an unparsable date.
func ParseRow(cells []string, code string) (models.TradingRecord, bool) {
	if len(cells) < historyCells {
		return models.TradingRecord{}, false
	}

	volume := parseVolume(cells[6])
	if volume <= 0 {
		return models.TradingRecord{}, false
	}

	date, err := time.Parse(HistoryDateLayout, strings.TrimSpace(cells[0]))
	if err != nil {
		return models.TradingRecord{}, false
	}

	return models.TradingRecord{
		StockCode:      code,
		Date:           date,
		LastTradePrice: parseNumber(cells[1]),
		MaxPrice:       parseNumber(cells[2]),
		MinPrice:       parseNumber(cells[3]),
		AvgPrice:       parseNumber(cells[4]),
		PercentChange:  parseNumber(cells[5]),
		Volume:         volume,
		Turnover:       parseNumber(cells[7]),
		TotalTurnover:  parseNumber(cells[8]),
	}, true
}

// normalizeNumber drops thousands separators and, when more than one dot
// remains, every dot except the last.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if n := strings.Count(s, "."); n > 1 {
		s = strings.Replace(s, ".", "", n-1)
	}
	return s
}

func parseNumber(s string) decimal.Decimal {
	s = normalizeNumber(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseVolume(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
