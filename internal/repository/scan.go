package repository

import "errors"

// ErrNotFound is returned by lookups that must identify exactly one row.
var ErrNotFound = errors.New("not found")

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
