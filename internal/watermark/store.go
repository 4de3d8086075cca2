// Package watermark persists, per chain, the highest proposal ID already
// reported. It is the bot's only durable state.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store reads and advances per-chain watermarks. Get returns 0 for a chain
// with no record. Advance with a value not above the stored one is a no-op.
type Store interface {
	Get(ctx context.Context, chainID string) (uint64, error)
	Advance(ctx context.Context, chainID string, value uint64) error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	All(ctx context.Context) (map[string]uint64, error)
}

// ErrPersist matches every *PersistError.
var ErrPersist = errors.New("persist watermark")

// PersistError is returned when Advance could not durably write. The stored
// value is left as it was.
type PersistError struct {
	ChainID string
	Value   uint64
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist watermark %d for %s: %v", e.Value, e.ChainID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }

// Driver selects a backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverFile     Driver = "file"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects and configures a backend. Dir is used by the file driver,
// DSN by sqlite (a path) and postgres (a connection string).
type Config struct {
	Driver Driver
	Dir    string
	DSN    string
}

// Open returns the configured backend and a close func.
func Open(ctx context.Context, cfg Config) (Store, func() error, error) {
	noop := func() error { return nil }
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case DriverMemory, "":
		return NewMemoryStore(), noop, nil
	case DriverFile:
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case DriverSQLite:
		s, err := NewSQLiteStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown watermark driver %q", cfg.Driver)
	}
}
