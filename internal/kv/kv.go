// Package kv provides the small key-value persistence layer used for
// client-side session state.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var ErrNotFound = errors.New("kv: key not found")

// Store persists opaque values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds a store for driver rooted at path. For the file driver path is
// a directory; for sqlite it is the database file.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "state.db")
		}
		return NewSQLite(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
