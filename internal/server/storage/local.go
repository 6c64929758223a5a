package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/clipdrop/internal/common"
)

// LocalBackend keeps blobs as files under a root directory. Keys map to
// relative paths; a key can never address anything outside root.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates root if needed and returns a backend rooted at
// its canonical path.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root: %w", common.ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create root: %w", common.ErrStorageUnavailable, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root: %w", common.ErrStorageUnavailable, err)
	}
	return &LocalBackend{root: canonical}, nil
}

func (b *LocalBackend) Root() string { return b.root }

// Ping checks the root is still a writable-looking directory.
func (b *LocalBackend) Ping(_ context.Context) error {
	fi, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", common.ErrStorageUnavailable, b.root)
	}
	return nil
}

// resolve maps key to an absolute path and verifies containment, including
// through symlinked directories that already exist under root.
func (b *LocalBackend) resolve(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	p := filepath.Join(b.root, filepath.FromSlash(key))
	if !b.contains(p) || p == b.root {
		return "", fmt.Errorf("%w: %q escapes root", common.ErrInvalidStorageKey, key)
	}

	// walk up to the deepest existing ancestor and check where it really is
	dir := filepath.Dir(p)
	for {
		actual, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !b.contains(actual) {
				return "", fmt.Errorf("%w: %q escapes root", common.ErrInvalidStorageKey, key)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) || dir == b.root {
			return "", fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
		}
		dir = filepath.Dir(dir)
	}
	return p, nil
}

func (b *LocalBackend) contains(p string) bool {
	rel, err := filepath.Rel(b.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Put writes data durably: temp file, fsync, rename, then fsync of the
// parent directory. A failed Put leaves no file at key.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}

	dir := filepath.Dir(p)
	tmp, err := createTempIn(dir)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write: %w", common.ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync: %w", common.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", common.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("%w: rename: %w", common.ErrStorageUnavailable, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

const putAttempts = 3

// createTemp is swapped in tests.
var createTemp = os.CreateTemp

// createTempIn creates the partition directory and a temp file in it. A
// concurrent Delete may prune the directory between the two steps, so the
// pair is retried a few times.
func createTempIn(dir string) (*os.File, error) {
	var err error
	for range putAttempts {
		if err = os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: mkdir: %w", common.ErrStorageUnavailable, err)
		}
		var tmp *os.File
		tmp, err = createTemp(dir, ".put-*")
		if err == nil {
			return tmp, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("%w: create temp: %w", common.ErrStorageUnavailable, err)
}

func (b *LocalBackend) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, fmt.Errorf("%w: read: %w", common.ErrStorageUnavailable, err)
	}
	return data, nil
}

// Delete removes the blob and prunes directories left empty, stopping at
// root. Deleting a missing key succeeds. A Put racing the prune recreates
// the directory (see createTempIn); once its temp file exists the directory
// is non-empty and survives.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove: %w", common.ErrStorageUnavailable, err)
	}

	for dir := filepath.Dir(p); dir != b.root && b.contains(dir); dir = filepath.Dir(dir) {
		// fails on non-empty dirs, which ends the walk
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	p, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}

	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat: %w", common.ErrStorageUnavailable, err)
	}
	return fi.Mode().IsRegular(), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
