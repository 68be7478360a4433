package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"transitsql/internal/apperrors"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must match a registered backend kind. New defaults it to "sqlite".
//   - DSN is passed through to the backend factory; for sqlite it is a file path.
//   - BatchRows overrides DefaultBatchRows; dialect limits still apply.
//   - Schema qualifies table names on backends with schemas; others ignore it.
type Config struct {
	Kind      string
	DSN       string
	Schema    string
	BatchRows int
}

// RowFeed pushes the coerced rows of one table into emit, in source order.
// Every row has exactly one value per TableSpec column: nil, int64, float64
// or string. Returning an error aborts the load.
type RowFeed func(ctx context.Context, emit func(row []any) error) error

// Repository replaces whole tables in a relational store.
type Repository interface {
	// ReplaceTable drops spec.Name if it exists, recreates it from spec and
	// loads every row produced by feed. Backends run the whole replacement
	// in one transaction where their DDL allows it, so a failed load leaves
	// the previous table untouched.
	//
	// Returns the number of rows written.
	ReplaceTable(ctx context.Context, spec TableSpec, feed RowFeed) (int64, error)

	// Close releases connections. Call once.
	Close() error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind (e.g. "postgres", "sqlite").
//
// Call it from an init() function in the backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository with the factory registered for cfg.Kind.
//
// Errors:
//   - apperrors.ErrStore if the kind is unsupported or the factory fails.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		cfg.Kind = "sqlite"
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: unsupported storage kind=%s (registered: %v)", apperrors.ErrStore, cfg.Kind, Kinds())
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	return repo, nil
}
