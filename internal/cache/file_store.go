package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

const entryExt = ".entry"

// FileStore keeps one file per entry under <dir>/<key[0:2]>/<key>.entry.
// Writes go to a temp file in the same directory and are renamed into place.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "cache directory is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeCacheWriteFailed, err, "failed to create cache directory %s", dir)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}

	return filepath.Join(s.dir, prefix, key+entryExt)
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, key string) (optional.Option[Entry], error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return optional.None[Entry](), nil
	}

	if err != nil {
		return optional.None[Entry](), errors.Wrapf(errors.ErrCodeCacheReadFailed, err, "failed to read cache entry %s", key)
	}

	var entry Entry
	if err := entry.UnmarshalBinary(data); err != nil {
		return optional.None[Entry](), err
	}

	if entry.Key != key {
		return optional.None[Entry](), errors.Newf(errors.ErrCodeCacheCorruption, "entry file %s holds key %s", key, entry.Key)
	}

	return optional.Some(entry), nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, entry Entry) error {
	target := s.path(entry.Key)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeCacheWriteFailed, err, "failed to create %s", dir)
	}

	data, err := entry.MarshalBinary()
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to encode entry", err)
	}

	tmp, err := os.CreateTemp(dir, entry.Key+".*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create temp file", err)
	}

	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()

		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to write temp file", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()

		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to sync temp file", err)
	}

	if err := tmp.Close(); err != nil {
		cleanup()

		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to close temp file", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		cleanup()

		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to move entry into place", err)
	}

	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrCodeCacheWriteFailed, err, "failed to delete entry %s", key)
	}

	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
