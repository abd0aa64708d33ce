package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/mse-backend/internal/httputil"
	"go.uber.org/zap"
)

const defaultMaxAttachmentBytes = 32 << 20

var ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

// FlexString decodes a JSON string or number into its textual form. The
// news API is not consistent about the type of its identifiers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// NewsItem is one document as returned by the news listing endpoint.
type NewsItem struct {
	DocumentID    FlexString `json:"documentId"`
	PublishedDate string     `json:"publishedDate"`
	Content       string     `json:"content"`
	Layout        struct {
		Description string `json:"description"`
	} `json:"layout"`
	Issuer struct {
		Code           string `json:"code"`
		LocalizedTerms []struct {
			DisplayName string `json:"displayName"`
		} `json:"localizedTerms"`
	} `json:"issuer"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	AttachmentID FlexString `json:"attachmentId"`
	FileName     string     `json:"fileName"`
}

type newsRequest struct {
	IssuedID      int    `json:"issuedId"`
	LanguageID    int    `json:"languageId"`
	ChannelID     int    `json:"channelId"`
	DateFrom      string `json:"dateFrom"`
	DateTo        string `json:"dateTo"`
	IsPushRequest bool   `json:"isPushRequest"`
	Page          int    `json:"page"`
}

type newsResponse struct {
	Data []NewsItem `json:"data"`
}

type NewsOptions struct {
	APIURL        string
	AttachmentURL string
	StartDate     string // YYYY-MM-DDTHH:MM:SS
	Timeout       time.Duration
	MaxAttachment int64 // bytes; larger attachments are rejected
}

// NewsClient reads issuer announcements from the SEI-Net public API.
type NewsClient struct {
	apiURL        string
	attachmentURL string
	startDate     string
	maxAttachment int64
	httpClient    *http.Client
	retry         httputil.RetryConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewNewsClient(opts NewsOptions, logger *zap.Logger) *NewsClient {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.seinet.com.mk/public/documents"
	}
	if opts.AttachmentURL == "" {
		opts.AttachmentURL = opts.APIURL + "/attachment"
	}
	if opts.StartDate == "" {
		opts.StartDate = "2022-01-01T00:00:00"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttachment <= 0 {
		opts.MaxAttachment = defaultMaxAttachmentBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("seinet")

	retry := httputil.DefaultRetry
	retry.Logger = logger
	return &NewsClient{
		apiURL:        opts.APIURL,
		attachmentURL: strings.TrimRight(opts.AttachmentURL, "/"),
		startDate:     opts.StartDate,
		maxAttachment: opts.MaxAttachment,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		retry:         retry,
		logger:        logger,
		now:           time.Now,
	}
}

// FetchPage returns the documents of one listing page. Pages are numbered
// from 1; an empty slice marks the end of the listing.
func (c *NewsClient) FetchPage(ctx context.Context, page int) ([]NewsItem, error) {
	body, err := json.Marshal(newsRequest{
		IssuedID:      0,
		LanguageID:    2,
		ChannelID:     1,
		DateFrom:      c.startDate,
		DateTo:        c.now().Format(time.DateOnly) + "T23:59:59",
		IsPushRequest: false,
		Page:          page,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("news page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news page %d: status %d", page, resp.StatusCode)
	}

	var data newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("news page %d: decode: %w", page, err)
	}
	return data.Data, nil
}

// FetchAttachment downloads an attachment's raw bytes.
func (c *NewsClient) FetchAttachment(ctx context.Context, id string) ([]byte, error) {
	target := c.attachmentURL + "/" + url.PathEscape(id)
	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment %s: status %d", id, resp.StatusCode)
	}
	// one byte past the limit tells a cut-off body from one that fits exactly
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAttachment+1))
	if err != nil {
		return nil, fmt.Errorf("attachment %s: read: %w", id, err)
	}
	if int64(len(data)) > c.maxAttachment {
		return nil, fmt.Errorf("attachment %s: %w (%d bytes)", id, ErrAttachmentTooLarge, c.maxAttachment)
	}
	return data, nil
}
