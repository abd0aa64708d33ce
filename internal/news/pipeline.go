// Package news ingests issuer announcements into the news CSV file and,
// when configured, the news_documents table.
package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kjannette/mse-backend/internal/external"
	"github.com/kjannette/mse-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is the upstream news API.
type Source interface {
	FetchPage(ctx context.Context, page int) ([]external.NewsItem, error)
	FetchAttachment(ctx context.Context, id string) ([]byte, error)
}

// Store persists accepted documents besides the CSV file.
type Store interface {
	InsertOne(ctx context.Context, doc *models.NewsDocument) (bool, error)
}

// TextExtractor returns the first-page text of a PDF.
type TextExtractor func(data []byte) (string, error)

type Options struct {
	Workers   int
	Streaming bool
}

// Result counts what one run did. Documents is the number of upstream items
// seen; every one of them ends up Accepted, Dropped or Failed.
type Result struct {
	Pages     int
	Documents int
	Accepted  int
	Dropped   int
	Failed    int
	Stored    int
	Truncated bool // pagination stopped on an error instead of an empty page
}

type Pipeline struct {
	src     Source
	csv     *CSVFile
	store   Store
	pdf     TextExtractor
	workers int
	stream  bool
	logger  *zap.Logger

	mu  sync.Mutex
	res Result
}

var errMissingField = errors.New("missing required field")

// NewPipeline builds a pipeline writing to csv. store may be nil.
func NewPipeline(src Source, csv *CSVFile, store Store, pdf TextExtractor, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		src:     src,
		csv:     csv,
		store:   store,
		pdf:     pdf,
		workers: opts.Workers,
		stream:  opts.Streaming,
		logger:  logger.Named("news"),
	}
}

// Run pages through the news API until an empty page and processes every
// document. Per-document failures are logged and counted, never returned.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	p.res = Result{}
	p.mu.Unlock()

	g := &errgroup.Group{}
	g.SetLimit(p.workers)

	var pending []external.NewsItem
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			break
		}
		p.logger.Debug("fetching page", zap.Int("page", page))
		items, err := p.src.FetchPage(ctx, page)
		if err != nil {
			p.logger.Warn("page fetch failed, stopping pagination", zap.Int("page", page), zap.Error(err))
			p.mu.Lock()
			p.res.Truncated = true
			p.mu.Unlock()
			break
		}
		if len(items) == 0 {
			p.logger.Info("no more pages", zap.Int("pages", page-1))
			break
		}

		p.mu.Lock()
		p.res.Pages++
		p.res.Documents += len(items)
		p.mu.Unlock()

		if p.stream {
			p.dispatch(ctx, g, items)
		} else {
			pending = append(pending, items...)
		}
	}
	p.dispatch(ctx, g, pending)
	g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("news ingestion complete",
		zap.Int("pages", p.res.Pages),
		zap.Int("documents", p.res.Documents),
		zap.Int("accepted", p.res.Accepted),
		zap.Int("dropped", p.res.Dropped),
		zap.Int("failed", p.res.Failed),
	)
	return p.res, ctx.Err()
}

func (p *Pipeline) dispatch(ctx context.Context, g *errgroup.Group, items []external.NewsItem) {
	for _, item := range items {
		g.Go(func() error {
			p.process(ctx, item)
			return nil
		})
	}
}

func (p *Pipeline) process(ctx context.Context, item external.NewsItem) {
	log := p.logger.With(zap.String("document_id", string(item.DocumentID)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("document processing panicked", zap.Any("panic", r))
			p.count(func(r *Result) { r.Failed++ })
		}
	}()

	doc, err := p.buildDocument(ctx, item)
	if err != nil {
		log.Warn("document skipped", zap.Error(err))
		p.count(func(r *Result) { r.Failed++ })
		return
	}
	if doc == nil {
		p.count(func(r *Result) { r.Dropped++ })
		return
	}

	if err := p.csv.Append(doc.CSVRow()); err != nil {
		log.Error("csv append failed", zap.Error(err))
		p.count(func(r *Result) { r.Failed++ })
		return
	}
	p.count(func(r *Result) { r.Accepted++ })
	log.Debug("document saved")

	if p.store == nil {
		return
	}
	inserted, err := p.store.InsertOne(ctx, doc)
	if err != nil {
		log.Error("store insert failed", zap.Error(err))
		return
	}
	if inserted {
		p.count(func(r *Result) { r.Stored++ })
	}
}

// buildDocument returns nil without error for dropped documents.
func (p *Pipeline) buildDocument(ctx context.Context, item external.NewsItem) (*models.NewsDocument, error) {
	if item.Issuer.Code == "" {
		return nil, fmt.Errorf("issuer code: %w", errMissingField)
	}
	if len(item.Issuer.LocalizedTerms) == 0 {
		return nil, fmt.Errorf("issuer name: %w", errMissingField)
	}
	if item.PublishedDate == "" {
		return nil, fmt.Errorf("published date: %w", errMissingField)
	}

	content := CleanContent(item.Content)
	if IsBoilerplate(content) {
		return nil, nil
	}
	if len(item.Attachments) > 0 && isPDF(item.Attachments[0].FileName) {
		content = p.attachmentText(ctx, item.Attachments[0])
	}
	content = strings.TrimSpace(content)
	if content == "" || IsBoilerplate(content) {
		return nil, nil
	}

	date, _, _ := strings.Cut(item.PublishedDate, "T")
	return &models.NewsDocument{
		DocumentID:      string(item.DocumentID),
		PublicationDate: date,
		Title:           item.Layout.Description,
		TextContent:     content,
		CompanyName:     item.Issuer.LocalizedTerms[0].DisplayName,
		CompanyCode:     item.Issuer.Code,
	}, nil
}

// attachmentText falls back to empty text on any failure.
func (p *Pipeline) attachmentText(ctx context.Context, att external.Attachment) string {
	log := p.logger.With(zap.String("attachment_id", string(att.AttachmentID)))
	if p.pdf == nil {
		return ""
	}
	data, err := p.src.FetchAttachment(ctx, string(att.AttachmentID))
	if err != nil {
		log.Warn("attachment fetch failed", zap.Error(err))
		return ""
	}
	text, err := p.pdf(data)
	if err != nil {
		log.Warn("pdf extraction failed", zap.Error(err))
		return ""
	}
	return text
}

func (p *Pipeline) count(fn func(*Result)) {
	p.mu.Lock()
	fn(&p.res)
	p.mu.Unlock()
}
