// Package pdftext extracts plain text from the first page of a PDF.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrNotPDF  = errors.New("not a pdf document")
	ErrDamaged = errors.New("damaged pdf document")
)

var disableConfig sync.Once

// FirstPage returns the text shown on page 1 of the PDF in data. Damaged
// files that make the parser panic are reported as errors.
func FirstPage(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return "", ErrNotPDF
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: parser panic: %v", ErrDamaged, r)
		}
	}()

	disableConfig.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	outDir, err := os.MkdirTemp("", "mse-pdf-")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContent(bytes.NewReader(data), outDir, "attachment", []string{"1"}, conf); err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read extracted content: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	var out strings.Builder
	for _, name := range names {
		stream, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(DecodeContent(stream))
	}
	return strings.TrimSpace(out.String()), nil
}
