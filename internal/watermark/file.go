package watermark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const fileExt = ".txt"

var (
	_ Store  = (*FileStore)(nil)
	_ Lister = (*FileStore)(nil)
)

// FileStore keeps one <chain>.txt per chain holding the decimal watermark.
// Writes go through a temp file and rename so a record is never half written.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create watermark dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(chainID string) (string, error) {
	if chainID == "" || chainID == "." || chainID == ".." || strings.ContainsAny(chainID, `/\`) {
		return "", fmt.Errorf("invalid chain id %q", chainID)
	}
	return filepath.Join(s.dir, chainID+fileExt), nil
}

func (s *FileStore) Get(_ context.Context, chainID string) (uint64, error) {
	p, err := s.path(chainID)
	if err != nil {
		return 0, err
	}
	return readMark(p)
}

func readMark(p string) (uint64, error) {
	data, err := os.ReadFile(p) //nolint:gosec // path built from validated chain id
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark %s: %w", p, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %s: %w", p, err)
	}
	return v, nil
}

func (s *FileStore) Advance(ctx context.Context, chainID string, value uint64) error {
	fail := func(err error) error { return &PersistError{ChainID: chainID, Value: value, Err: err} }
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	p, err := s.path(chainID)
	if err != nil {
		return fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := readMark(p)
	if err != nil {
		return fail(err)
	}
	if value <= current {
		return nil
	}
	if err := writeAtomic(s.dir, p, strconv.FormatUint(value, 10)); err != nil {
		return fail(err)
	}
	return nil
}

func writeAtomic(dir, dst, content string) error {
	tmp, err := os.CreateTemp(dir, ".watermark-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *FileStore) All(_ context.Context) (map[string]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	out := make(map[string]uint64)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		v, err := readMark(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(name, fileExt)] = v
	}
	return out, nil
}
