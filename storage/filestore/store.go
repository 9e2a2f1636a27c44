// Package filestore implements storage.Store on a local directory tree.
package filestore

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/storage"
)

const tempSuffix = ".tmp"

// Store keeps each key as a file below root. Writes go to a temporary
// sibling that is renamed over the target, so readers never observe a
// partially written file.
type Store struct {
	root string
	perm fs.FileMode
}

// New creates root if needed and returns a Store rooted there.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.ConfigFailure("filestore", "New", "root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapInvalid(err, "filestore", "New", "resolve root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "filestore", "New", "create root "+abs)
	}
	return &Store{root: abs, perm: 0o644}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) path(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "create directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.WrapTransient(err, "filestore", "Put", "write "+key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.WrapTransient(err, "filestore", "Put", "sync "+key)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.WrapTransient(err, "filestore", "Put", "close "+key)
	}
	if err := os.Chmod(tmpName, s.perm); err != nil {
		cleanup()
		return errors.WrapTransient(err, "filestore", "Put", "chmod "+key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return errors.WrapTransient(err, "filestore", "Put", "rename into "+key)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "filestore", "Get", key)
		}
		return nil, errors.WrapTransient(err, "filestore", "Get", "read "+key)
	}
	return data, nil
}

// List implements storage.Store. In-flight temporary files are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Walk only the deepest directory the prefix names.
	start := s.root
	if dir := prefix[:strings.LastIndex(prefix, "/")+1]; dir != "" {
		start = filepath.Join(s.root, filepath.FromSlash(dir))
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
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
		return nil, errors.WrapTransient(err, "filestore", "List", "walk "+prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.WrapTransient(err, "filestore", "Delete", "remove "+key)
	}
	return nil
}
