// Package storage keeps item blobs in a local directory tree or an
// S3-compatible bucket behind one Backend interface. Both implementations
// report common.ErrorNotFound, common.ErrStorageUnavailable and
// common.ErrInvalidStorageKey the same way, so callers never branch on
// the concrete backend.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/server/config"
	"github.com/google/uuid"
)

// Backend stores opaque blobs by key.
//
// Put replaces nothing: keys are generated fresh per item. Get returns
// common.ErrorNotFound for missing keys. Delete is idempotent.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Pinger is implemented by backends that can check reachability up front.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the backend selected by cfg.StorageType.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageType {
	case config.StorageLocal:
		return NewLocalBackend(cfg.LocalRoot)
	case config.StorageObject:
		return NewObjectBackend(ctx, ObjectConfig{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3BaseEndpoint,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3RootUser,
			SecretKey: cfg.S3RootPassword,
			Timeout:   cfg.S3Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

// NewKey returns a fresh storage key partitioned by creation date,
// e.g. "items/2026/10/15/6f1c...".
func NewKey(now time.Time) string {
	return path.Join("items", now.UTC().Format("2006/01/02"), uuid.NewString())
}

// validateKey rejects keys that could resolve outside the backend root.
// Both backends apply it before any I/O so they agree on what is valid.
func validateKey(key string) error {
	if key == "" || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", common.ErrInvalidStorageKey, key)
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, `\`) || (len(key) > 1 && key[1] == ':') {
		return fmt.Errorf("%w: absolute key %q", common.ErrInvalidStorageKey, key)
	}
	for _, seg := range strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: relative segment in %q", common.ErrInvalidStorageKey, key)
		}
	}
	return nil
}
