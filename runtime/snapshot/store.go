package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opal-lang/datacube/runtime/executor"
)

// Store persists entries by task name.
type Store interface {
	Save(ctx context.Context, name string, e *executor.Entry) error
	Load(ctx context.Context, name string) (*executor.Entry, error)
	List(ctx context.Context) ([]string, error)
}

// Ext is the file extension of DirStore snapshots.
const Ext = ".dcs"

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

// DirStore keeps one <name>.dcs file per entry.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) path(name string) string { return filepath.Join(s.dir, name+Ext) }

// Save writes the entry atomically.
func (s *DirStore) Save(_ context.Context, name string, e *executor.Entry) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

func (s *DirStore) Load(_ context.Context, name string) (*executor.Entry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return e, nil
}

// List returns the stored names, sorted.
func (s *DirStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var names []string
	for _, de := range entries {
		n := de.Name()
		if de.IsDir() || strings.HasPrefix(n, ".") || filepath.Ext(n) != Ext {
			continue
		}
		names = append(names, strings.TrimSuffix(n, Ext))
	}
	sort.Strings(names)
	return names, nil
}

// SaveAll stores every cached result of x and returns how many were saved.
func SaveAll(ctx context.Context, s Store, x *executor.Executor) (int, error) {
	n := 0
	for _, name := range x.Names() {
		e, ok := x.Entry(name)
		if !ok {
			continue
		}
		if err := s.Save(ctx, name, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RestoreAll loads every stored entry into x's cache.
func RestoreAll(ctx context.Context, s Store, x *executor.Executor) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		e, err := s.Load(ctx, name)
		if err != nil {
			return i, err
		}
		x.Put(name, e)
	}
	return len(names), nil
}
