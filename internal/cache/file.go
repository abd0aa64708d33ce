package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps one code per line in a text file. Entries older than ttl,
// judged by the file's modification time, are treated as missing; ttl 0
// never expires.
type FileStore struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func NewFileStore(path string, ttl time.Duration) *FileStore {
	return &FileStore{path: path, ttl: ttl, now: time.Now}
}

func (f *FileStore) Load(context.Context) ([]string, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.ttl > 0 && f.now().Sub(info.ModTime()) > f.ttl {
		return nil, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return splitLines(string(data)), nil
}

// Ping checks that the cache file's directory exists.
func (f *FileStore) Ping(context.Context) error {
	info, err := os.Stat(filepath.Dir(f.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(f.path))
	}
	return nil
}

// Save replaces the file atomically.
func (f *FileStore) Save(_ context.Context, codes []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".companies-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(codes, "\n")); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
