// Package factory opens storage backends by name.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/filestore"
	"github.com/aimediator/mediator/internal/storage/memory"
	"github.com/aimediator/mediator/internal/storage/sqlstore"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = sqlstore.BackendSQLite
	BackendMySQL  = sqlstore.BackendMySQL
)

// Options configures how the storage backend is opened.
type Options struct {
	// Path is the root directory (file) or database file (sqlite).
	Path string
	// DSN is the driver data source name (mysql).
	DSN string
}

// BackendFactory creates a storage backend.
type BackendFactory func(ctx context.Context, opts Options) (storage.Store, error)

var backendRegistry = map[string]BackendFactory{
	BackendFile: func(ctx context.Context, opts Options) (storage.Store, error) {
		return filestore.Open(opts.Path)
	},
	BackendMemory: func(ctx context.Context, opts Options) (storage.Store, error) {
		return memory.New(), nil
	},
	BackendSQLite: func(ctx context.Context, opts Options) (storage.Store, error) {
		return sqlstore.Open(ctx, sqlstore.BackendSQLite, opts.Path)
	},
	BackendMySQL: func(ctx context.Context, opts Options) (storage.Store, error) {
		return sqlstore.Open(ctx, sqlstore.BackendMySQL, opts.DSN)
	},
}

// RegisterBackend registers (or replaces) a storage backend factory.
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New opens the named backend. An empty name selects the file backend.
func New(ctx context.Context, backend string, opts Options) (storage.Store, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = BackendFile
	}
	factory, ok := backendRegistry[backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
	return factory(ctx, opts)
}
