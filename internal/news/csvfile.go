package news

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Header is the first row of the news CSV file.
var Header = []string{"Document_ID", "Publication_date", "Title", "Text_Content", "Company_Name", "Company_Code"}

// CSVFile appends rows to a CSV file shared by all pipeline workers. Each
// append opens, writes and closes the file under one lock so rows never
// interleave.
type CSVFile struct {
	path string
	mu   sync.Mutex
}

// OpenCSV returns a CSVFile for path, writing the header when the file does
// not exist yet. An existing file is left untouched.
func OpenCSV(path string) (*CSVFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case errors.Is(err, fs.ErrExist):
		return &CSVFile{path: path}, nil
	case err != nil:
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	w.Write(Header)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return &CSVFile{path: path}, nil
}

func (c *CSVFile) Path() string { return c.path }

func (c *CSVFile) Append(row []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}

	w := csv.NewWriter(f)
	w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("append: %w", err)
	}
	return f.Close()
}
