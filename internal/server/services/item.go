package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/dmitrijs2005/clipdrop/internal/server/storage"
	"github.com/google/uuid"
)

// CreateItemRequest carries a new upload or clipboard entry.
type CreateItemRequest struct {
	OwnerID     string
	Kind        models.Kind
	DisplayName string
	// ContentType defaults from Kind when empty.
	ContentType string
	Data        []byte
	Tags        []string
	Folder      string
}

// ItemService ties encryption, blob storage and metadata together for the
// create/read/delete/retain lifecycle of an item.
type ItemService struct {
	store   *MetadataStore
	backend storage.Backend
	engine  *cryptox.Engine
	window  time.Duration
	log     logging.Logger
	now     func() time.Time
}

func NewItemService(store *MetadataStore, backend storage.Backend, engine *cryptox.Engine,
	retentionWindow time.Duration, log logging.Logger) *ItemService {
	return &ItemService{
		store:   store,
		backend: backend,
		engine:  engine,
		window:  retentionWindow,
		log:     log,
		now:     defaultClock,
	}
}

// timestamps are kept at millisecond precision so both SQL dialects
// round-trip them exactly
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// CreateItem encrypts data when a key is configured, writes the blob under a
// fresh storage key and records metadata expiring one retention window from
// now. If the metadata write fails the blob is removed again.
func (s *ItemService) CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", common.ErrorIncorrectMetadata, req.Kind)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", common.ErrorIncorrectMetadata)
	}

	now := s.now()
	stored, encrypted := s.engine.Seal(req.Data)
	key := storage.NewKey(now)

	if err := s.backend.Put(ctx, key, stored); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = models.DefaultContentType(req.Kind)
	}

	item := &models.Item{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		DisplayName: models.NormalizeDisplayName(req.DisplayName, req.Kind, now),
		ContentType: contentType,
		StorageKey:  key,
		IsEncrypted: encrypted,
		SizeBytes:   int64(len(req.Data)),
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        models.NormalizeTags(req.Tags),
		Folder:      normalizeFolder(req.Folder),
	}
	item.SetRetain(false, now, s.window)

	if err := s.store.Create(ctx, item); err != nil {
		if derr := s.backend.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Warn(ctx, "orphaned blob after failed create", "storage_key", key, "error", derr)
		}
		return nil, fmt.Errorf("create metadata: %w", err)
	}

	s.log.Debug(ctx, "item created", "id", item.ID, "kind", item.Kind, "size", item.SizeBytes, "encrypted", encrypted)
	return item, nil
}

// ReadItem returns the plaintext of an item. Tampered ciphertext yields
// common.ErrAuthentication; a missing blob yields common.ErrorNotFound.
func (s *ItemService) ReadItem(ctx context.Context, id string) ([]byte, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	blob, err := s.backend.Get(ctx, item.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read blob of %s: %w", id, err)
	}

	data, err := s.engine.Open(blob, item.IsEncrypted)
	if err != nil {
		return nil, fmt.Errorf("open item %s: %w", id, err)
	}
	return data, nil
}

// DeleteItem removes the blob and then the metadata, the same order the
// sweeper uses. Deleting an unknown or already deleted item succeeds.
func (s *ItemService) DeleteItem(ctx context.Context, id string) error {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}

	if err := s.backend.Delete(ctx, item.StorageKey); err != nil {
		return fmt.Errorf("delete blob of %s: %w", id, err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete metadata of %s: %w", id, err)
	}

	s.log.Debug(ctx, "item deleted", "id", id)
	return nil
}

// SetRetain pins or unpins an item. Unpinning restarts the retention
// window from now.
func (s *ItemService) SetRetain(ctx context.Context, id string, retain bool) (*models.Item, error) {
	return s.update(ctx, id, func(it *models.Item, now time.Time) {
		it.SetRetain(retain, now, s.window)
	})
}

func (s *ItemService) Rename(ctx context.Context, id, name string) (*models.Item, error) {
	return s.update(ctx, id, func(it *models.Item, now time.Time) {
		it.DisplayName = models.NormalizeDisplayName(name, it.Kind, now)
	})
}

func (s *ItemService) SetTags(ctx context.Context, id string, tags []string) (*models.Item, error) {
	return s.update(ctx, id, func(it *models.Item, _ time.Time) {
		it.Tags = models.NormalizeTags(tags)
	})
}

// SetFolder moves the item; an empty folder clears it.
func (s *ItemService) SetFolder(ctx context.Context, id, folder string) (*models.Item, error) {
	return s.update(ctx, id, func(it *models.Item, _ time.Time) {
		it.Folder = normalizeFolder(folder)
	})
}

func (s *ItemService) SetFavorite(ctx context.Context, id string, favorite bool) (*models.Item, error) {
	return s.update(ctx, id, func(it *models.Item, _ time.Time) {
		it.IsFavorite = favorite
	})
}

func (s *ItemService) Get(ctx context.Context, id string) (*models.Item, error) {
	return s.store.Get(ctx, id)
}

func (s *ItemService) ListByOwner(ctx context.Context, ownerID string, filter items.ListFilter) ([]*models.Item, error) {
	return s.store.ListByOwner(ctx, ownerID, filter)
}

func (s *ItemService) update(ctx context.Context, id string, fn func(*models.Item, time.Time)) (*models.Item, error) {
	now := s.now()
	return s.store.Update(ctx, id, func(it *models.Item) error {
		fn(it, now)
		it.UpdatedAt = now
		return nil
	})
}

func normalizeFolder(folder string) *string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return nil
	}
	return &folder
}
