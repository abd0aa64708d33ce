package news

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kjannette/mse-backend/internal/external"
	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/pdftext"
	"github.com/kjannette/mse-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	pages       [][]external.NewsItem
	attachments map[string][]byte
	pageErr     error

	mu        sync.Mutex
	requested []int
}

func (f *fakeSource) FetchPage(_ context.Context, page int) ([]external.NewsItem, error) {
	f.mu.Lock()
	f.requested = append(f.requested, page)
	f.mu.Unlock()
	if page > len(f.pages) {
		if f.pageErr != nil {
			return nil, f.pageErr
		}
		return nil, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeSource) FetchAttachment(_ context.Context, id string) ([]byte, error) {
	data, ok := f.attachments[id]
	if !ok {
		return nil, errors.New("status 404")
	}
	return data, nil
}

type fakeStore struct {
	mu   sync.Mutex
	docs map[string]bool
}

func (s *fakeStore) InsertOne(_ context.Context, doc *models.NewsDocument) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = map[string]bool{}
	}
	if s.docs[doc.DocumentID] {
		return false, nil
	}
	s.docs[doc.DocumentID] = true
	return true, nil
}

func item(id, code, content string, attachments ...external.Attachment) external.NewsItem {
	var it external.NewsItem
	it.DocumentID = external.FlexString(id)
	it.PublishedDate = "2024-05-06T10:15:00"
	it.Content = content
	it.Layout.Description = "Announcement " + id
	it.Issuer.Code = code
	it.Issuer.LocalizedTerms = append(it.Issuer.LocalizedTerms, struct {
		DisplayName string `json:"displayName"`
	}{DisplayName: code + " AD Skopje"})
	it.Attachments = attachments
	return it
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func newPipeline(t *testing.T, src Source, store Store, pdf TextExtractor, opts Options) (*Pipeline, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "news.csv")
	out, err := OpenCSV(path)
	require.NoError(t, err)
	return NewPipeline(src, out, store, pdf, opts, zap.NewNop()), path
}

func TestCleanContent(t *testing.T) {
	assert.Equal(t, "Hello & bye", CleanContent("&lt;p&gt;Hello &amp; bye&lt;/p&gt;"))
	assert.Equal(t, "Dividend 5 MKD", CleanContent(`<div class="x">Dividend <b>5</b> MKD</div>`))
}

func TestIsBoilerplate(t *testing.T) {
	assert.True(t, IsBoilerplate("For more information contact Investor Relations"))
	assert.True(t, IsBoilerplate("THIS IS AUTOMATICALLY GENERATED DOCUMENT"))
	assert.False(t, IsBoilerplate("Dividend announced"))
}

func TestRun_BoilerplateDroppedOtherAppended(t *testing.T) {
	src := &fakeSource{pages: [][]external.NewsItem{{
		item("1", "ALK", "For more information contact Investor Relations"),
	}}}
	p, path := newPipeline(t, src, nil, nil, Options{Workers: 2})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, readRows(t, path), 1, "only the header")

	src.pages = [][]external.NewsItem{{item("2", "ALK", "Dividend announced")}}
	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"2", "2024-05-06", "Announcement 2", "Dividend announced", "ALK AD Skopje", "ALK"}, rows[1])
}

func TestRun_PaginatesUntilEmptyPage(t *testing.T) {
	src := &fakeSource{pages: [][]external.NewsItem{
		{item("1", "ALK", "a"), item("2", "KMB", "b")},
		{item("3", "TEL", "c")},
	}}
	p, path := newPipeline(t, src, nil, nil, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, src.requested)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 3, res.Accepted)
	assert.False(t, res.Truncated)
	assert.Len(t, readRows(t, path), 4)
}

func TestRun_PageErrorStopsPagination(t *testing.T) {
	src := &fakeSource{
		pages:   [][]external.NewsItem{{item("1", "ALK", "a")}},
		pageErr: errors.New("status 500"),
	}
	p, _ := newPipeline(t, src, nil, nil, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Accepted)
}

func TestRun_PDFAttachment(t *testing.T) {
	src := &fakeSource{
		pages: [][]external.NewsItem{{
			item("1", "ALK", "see attachment", external.Attachment{AttachmentID: "10", FileName: "report.PDF"}),
			item("2", "KMB", "see attachment", external.Attachment{AttachmentID: "missing", FileName: "report.pdf"}),
			item("3", "TEL", "plain body", external.Attachment{AttachmentID: "11", FileName: "photo.jpg"}),
			item("4", "STB", "see attachment", external.Attachment{AttachmentID: "12", FileName: "broken.pdf"}),
		}},
		attachments: map[string][]byte{"10": []byte("pdf-10"), "11": []byte("jpg"), "12": []byte("pdf-12")},
	}
	pdf := func(data []byte) (string, error) {
		if string(data) == "pdf-12" {
			return "", errors.New("corrupt")
		}
		return "First page of " + string(data), nil
	}
	p, path := newPipeline(t, src, nil, pdf, Options{Workers: 1})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 2, res.Dropped, "failed attachment fetch or extraction leaves empty text")

	byID := map[string]string{}
	for _, r := range readRows(t, path)[1:] {
		byID[r[0]] = r[3]
	}
	assert.Equal(t, "First page of pdf-10", byID["1"])
	assert.Equal(t, "plain body", byID["3"])
}

func TestRun_TruncatedPDFDroppedRunCompletes(t *testing.T) {
	full := testutil.BuildPDF([]string{"Dividend notice", "Annex"}, false)
	cut := bytes.Index(full, []byte("4 0 obj"))
	require.Positive(t, cut)

	src := &fakeSource{
		pages: [][]external.NewsItem{{
			item("1", "ALK", "see attachment", external.Attachment{AttachmentID: "10", FileName: "notice.pdf"}),
			item("2", "KMB", "see attachment", external.Attachment{AttachmentID: "11", FileName: "notice.pdf"}),
		}},
		attachments: map[string][]byte{"10": full[:cut], "11": full},
	}
	p, path := newPipeline(t, src, nil, pdftext.FirstPage, Options{Workers: 2})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 1, res.Dropped, "truncated attachment yields empty text")
	assert.Equal(t, 1, res.Accepted)

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "Dividend notice", rows[1][3])
}

func TestRun_PanickingExtractorContained(t *testing.T) {
	src := &fakeSource{
		pages: [][]external.NewsItem{{
			item("1", "ALK", "see attachment", external.Attachment{AttachmentID: "10", FileName: "notice.pdf"}),
			item("2", "KMB", "plain body"),
		}},
		attachments: map[string][]byte{"10": []byte("%PDF-1.4")},
	}
	pdf := func([]byte) (string, error) { panic("slice bounds out of range") }
	p, _ := newPipeline(t, src, nil, pdf, Options{Workers: 2})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Accepted)
}

func TestRun_MissingFieldsSkipped(t *testing.T) {
	noCode := item("1", "", "text")
	noName := item("2", "ALK", "text")
	noName.Issuer.LocalizedTerms = nil
	src := &fakeSource{pages: [][]external.NewsItem{{noCode, noName, item("3", "ALK", "text")}}}
	p, path := newPipeline(t, src, nil, nil, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Accepted)
	assert.Len(t, readRows(t, path), 2)
}

func TestRun_TwiceKeepsOneHeaderAndDuplicatesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.csv")
	src := &fakeSource{pages: [][]external.NewsItem{{item("1", "ALK", "a"), item("2", "KMB", "b")}}}

	for i := 0; i < 2; i++ {
		out, err := OpenCSV(path)
		require.NoError(t, err)
		_, err = NewPipeline(src, out, nil, nil, Options{}, zap.NewNop()).Run(context.Background())
		require.NoError(t, err)
	}

	rows := readRows(t, path)
	require.Len(t, rows, 5)
	headers := 0
	for _, r := range rows {
		if r[0] == Header[0] {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
}

func TestRun_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	const n = 300
	long := strings.Repeat(`quoted "text", with commas`+"\nand newlines ", 40)
	var page []external.NewsItem
	for i := 0; i < n; i++ {
		page = append(page, item(fmt.Sprint(i), "ALK", fmt.Sprintf("doc %d %s", i, long)))
	}

	for _, streaming := range []bool{false, true} {
		t.Run(fmt.Sprintf("streaming=%v", streaming), func(t *testing.T) {
			src := &fakeSource{pages: [][]external.NewsItem{page[:n/2], page[n/2:]}}
			store := &fakeStore{}
			p, path := newPipeline(t, src, store, nil, Options{Workers: 8, Streaming: streaming})

			res, err := p.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, n, res.Accepted)
			assert.Equal(t, n, res.Stored)

			rows := readRows(t, path)
			require.Len(t, rows, n+1)
			seen := map[string]bool{}
			for _, r := range rows[1:] {
				require.Len(t, r, len(Header))
				require.True(t, strings.HasPrefix(r[3], "doc "+r[0]+" "), "row %s content mismatch", r[0])
				seen[r[0]] = true
			}
			assert.Len(t, seen, n)
		})
	}
}
