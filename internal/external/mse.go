package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/kjannette/mse-backend/internal/httputil"
	"github.com/kjannette/mse-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// companiesSymbol is any listed symbol; its history page carries the
	// full instrument selector.
	companiesSymbol = "KMB"
	windowLayout    = "01/02/2006"
)

var ErrTableNotFound = errors.New("table not found")

type MSEOptions struct {
	BaseURL           string
	HistoryPath       string
	MaxConnsPerHost   int
	RetryAttempts     int
	RetryDelay        time.Duration
	RequestsPerSecond int // 0 disables pacing
	WindowDays        int
	Timeout           time.Duration
}

// MSEClient reads the Macedonian Stock Exchange public site.
type MSEClient struct {
	baseURL    string
	historyURL string
	windowDays int
	httpClient *http.Client
	retry      httputil.RetryConfig
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewMSEClient(opts MSEOptions, logger *zap.Logger) *MSEClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.mse.mk"
	}
	if opts.HistoryPath == "" {
		opts.HistoryPath = "/en/stats/symbolhistory"
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 10
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 365
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mse")

	base := strings.TrimRight(opts.BaseURL, "/")
	c := &MSEClient{
		baseURL:    base,
		historyURL: base + opts.HistoryPath,
		windowDays: opts.WindowDays,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     opts.MaxConnsPerHost,
				MaxIdleConnsPerHost: opts.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
	c.retry = httputil.FixedRetry(opts.RetryAttempts, opts.RetryDelay)
	c.retry.Logger = logger
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsPerSecond)
	}
	return c
}

// Window is an inclusive date range requested in one history call.
type Window struct {
	From time.Time
	To   time.Time
}

// Windows splits [from, to] into consecutive chronological windows of at
// most days days. Each window starts the day after the previous one ends.
// An empty slice is returned when from is not before to.
func Windows(from, to time.Time, days int) []Window {
	var out []Window
	for start := from; start.Before(to); {
		end := start.AddDate(0, 0, days)
		if end.After(to) {
			end = to
		}
		out = append(out, Window{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}

// FetchHistory returns every trading record of code between from and to,
// oldest window first. When any window exhausts its retries the whole
// instrument is abandoned and nil is returned with the error.
func (c *MSEClient) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error) {
	var records []models.TradingRecord
	for _, w := range Windows(from, to, c.windowDays) {
		recs, err := c.fetchWindow(ctx, code, w)
		if err != nil {
			return nil, fmt.Errorf("history %s %s-%s: %w",
				code, w.From.Format(time.DateOnly), w.To.Format(time.DateOnly), err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (c *MSEClient) fetchWindow(ctx context.Context, code string, w Window) ([]models.TradingRecord, error) {
	q := url.Values{}
	q.Set("FromDate", w.From.Format(windowLayout))
	q.Set("ToDate", w.To.Format(windowLayout))
	target := c.historyURL + "/" + url.PathEscape(code) + "?" + q.Encode()

	doc, err := c.getDocument(ctx, target)
	if err != nil {
		return nil, err
	}

	var records []models.TradingRecord
	doc.Find("tbody").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if rec, ok := ParseRow(cells, code); ok {
			records = append(records, rec)
		}
	})

	c.logger.Debug("window fetched",
		zap.String("code", code),
		zap.String("from", w.From.Format(time.DateOnly)),
		zap.String("to", w.To.Format(time.DateOnly)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// FetchCompanies returns the instrument codes offered by the history page
// selector. Only purely alphabetic codes are kept (bonds and compound
// instruments carry digits).
func (c *MSEClient) FetchCompanies(ctx context.Context) ([]string, error) {
	doc, err := c.getDocument(ctx, c.historyURL+"/"+companiesSymbol)
	if err != nil {
		return nil, fmt.Errorf("companies: %w", err)
	}

	seen := make(map[string]bool)
	var codes []string
	doc.Find("option").Each(func(_ int, opt *goquery.Selection) {
		code := strings.TrimSpace(opt.Text())
		if !isAlpha(code) || seen[code] {
			return
		}
		seen[code] = true
		codes = append(codes, code)
	})
	return codes, nil
}

// MostLiquid scrapes the exchange home page table of the most traded
// symbols.
func (c *MSEClient) MostLiquid(ctx context.Context) ([]models.LiquidStock, error) {
	doc, err := c.getDocument(ctx, c.baseURL+"/mk")
	if err != nil {
		return nil, fmt.Errorf("most liquid: %w", err)
	}

	table := doc.Find("div#topSymbolValueTopSymbols table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("most liquid: %w", ErrTableNotFound)
	}

	stocks := []models.LiquidStock{}
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		text := func(n int) string { return strings.TrimSpace(cells.Eq(n).Text()) }
		stocks = append(stocks, models.LiquidStock{
			CompanyCode:   text(0),
			AveragePrice:  text(1),
			PercentChange: text(2),
			Turnover:      text(3),
		})
	})
	return stocks, nil
}

func (c *MSEClient) getDocument(ctx context.Context, target string) (*goquery.Document, error) {
	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
