package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// SentimentResult summarises the classified news of one company.
type SentimentResult struct {
	Company            string          `json:"company"`
	Total              int             `json:"total"`
	Positive           int             `json:"positive"`
	Negative           int             `json:"negative"`
	Neutral            int             `json:"neutral"`
	PositivePercentage decimal.Decimal `json:"positivePercentage"`
	NegativePercentage decimal.Decimal `json:"negativePercentage"`
	NeutralPercentage  decimal.Decimal `json:"neutralPercentage"`
	Signal             string          `json:"signal"`
}

// Sentiment reads the classifier output CSV, which carries at least the
// Company_Code and Sentiment columns.
type Sentiment struct {
	path string
}

func NewSentiment(path string) *Sentiment {
	return &Sentiment{path: path}
}

// Signal counts code's labelled documents: BUY when more than 60% are
// positive, SELL when more than 60% are negative, HOLD otherwise.
func (s *Sentiment) Signal(code string) (*SentimentResult, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("sentiment file %s: %w", s.path, ErrNoData)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("sentiment header: %w", err)
	}
	codeCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "Company_Code":
			codeCol = i
		case "Sentiment":
			labelCol = i
		}
	}
	if codeCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("sentiment file %s: missing Company_Code or Sentiment column", s.path)
	}

	res := &SentimentResult{Company: code}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sentiment row: %w", err)
		}
		if len(rec) <= max(codeCol, labelCol) || rec[codeCol] != code {
			continue
		}
		res.Total++
		switch label := strings.TrimSpace(rec[labelCol]); {
		case strings.EqualFold(label, "Positive"):
			res.Positive++
		case strings.EqualFold(label, "Negative"):
			res.Negative++
		case strings.EqualFold(label, "Neutral"):
			res.Neutral++
		}
	}
	if res.Total == 0 {
		return nil, fmt.Errorf("sentiment %s: %w", code, ErrNoData)
	}

	total := decimal.NewFromInt(int64(res.Total))
	pct := func(n int) decimal.Decimal {
		return decimal.NewFromInt(int64(n) * 100).Div(total).Round(2)
	}
	res.PositivePercentage = pct(res.Positive)
	res.NegativePercentage = pct(res.Negative)
	res.NeutralPercentage = pct(res.Neutral)

	switch {
	case res.Positive*100 > 60*res.Total:
		res.Signal = Buy
	case res.Negative*100 > 60*res.Total:
		res.Signal = Sell
	default:
		res.Signal = Hold
	}
	return res, nil
}
