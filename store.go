package zarr

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the key-value backing for arrays and groups. Keys are normalized
// slash-separated logical paths. Implementations must make Put atomic per
// key: a concurrent Get never observes a partially written value.
type Store interface {
	// Get returns the value at key, or an error wrapping ErrNotFound if no
	// value has ever been put there.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put creates or replaces the value at key, atomically.
	Put(ctx context.Context, key string, value []byte) error
	// Exists reports whether a value is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the value at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore keeps values in a mutex-guarded map. Useful for tests and
// ephemeral arrays.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// stagingDir holds in-flight writes; its contents are never valid values.
const stagingDir = ".staging"

// FSStore persists values under a base directory, one file per key. Writes
// go to a staging file first and are published with a rename, so readers
// never observe a partial value and a crash mid-write leaves at most an
// orphaned staging file.
type FSStore struct {
	base     string
	log      *zap.Logger
	initOnce sync.Once
	initErr  error
}

var _ Store = (*FSStore)(nil)

// FSStoreOption configures an FSStore.
type FSStoreOption func(*FSStore)

// WithStoreLogger sets the logger used for store debug output. The default
// is a no-op logger.
func WithStoreLogger(l *zap.Logger) FSStoreOption {
	return func(s *FSStore) { s.log = l }
}

func NewFSStore(base string, opts ...FSStoreOption) (*FSStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(err, "resolving store base")
	}
	s := &FSStore{base: base, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, key)
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

func (s *FSStore) Put(ctx context.Context, key string, value []byte) (retErr error) {
	if err := s.ensureInit(); err != nil {
		return err
	}
	s.log.Debug("put", zap.String("key", key), zap.Int("value_len", len(value)))
	staging := filepath.Join(s.base, stagingDir, uuid.NewString())
	defer func() {
		if err := os.Remove(staging); err != nil && !os.IsNotExist(err) && retErr == nil {
			retErr = err
		}
	}()
	if err := os.WriteFile(staging, value, 0o644); err != nil {
		return errors.Wrapf(err, "staging %s", key)
	}
	final := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	if err := os.Rename(staging, final); err != nil {
		return errors.Wrapf(err, "publishing %s", key)
	}
	return nil
}

func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat %s", key)
	}
	return true, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p != s.base && d.Name() == stagingDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) pathFor(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *FSStore) ensureInit() error {
	s.initOnce.Do(func() {
		s.initErr = os.MkdirAll(filepath.Join(s.base, stagingDir), 0o755)
		if s.initErr == nil {
			s.log.Debug("initialized fs store", zap.String("base", s.base))
		}
	})
	return errors.Wrap(s.initErr, "initializing store")
}
