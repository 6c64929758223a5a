package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/dbx"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/repomanager"
)

// MetadataStore is the durable record of every item. Each call is scoped to
// a single item; Update runs its read-modify-write in one transaction.
type MetadataStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewMetadataStore(db *sql.DB, repomanager repomanager.RepositoryManager) *MetadataStore {
	return &MetadataStore{
		db:          db,
		repomanager: repomanager,
	}
}

// Create inserts a validated item together with its tags.
func (s *MetadataStore) Create(ctx context.Context, item *models.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Items(tx).Insert(ctx, item)
	})
}

// Get returns the item or common.ErrorNotFound.
func (s *MetadataStore) Get(ctx context.Context, id string) (*models.Item, error) {
	return s.repomanager.Items(s.db).GetByID(ctx, id, false)
}

// Update locks the row, applies fn to the current state and writes it back.
// Returning an error from fn aborts without changes.
func (s *MetadataStore) Update(ctx context.Context, id string, fn func(*models.Item) error) (*models.Item, error) {
	var updated *models.Item

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Items(tx)

		item, err := repo.GetByID(ctx, id, true)
		if err != nil {
			return err
		}
		before := slices.Clone(item.Tags)

		if err := fn(item); err != nil {
			return err
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		if err := repo.Update(ctx, item); err != nil {
			return err
		}
		if !slices.Equal(before, item.Tags) {
			if err := repo.ReplaceTags(ctx, id, item.Tags); err != nil {
				return err
			}
		}

		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the item; unknown ids are not an error.
func (s *MetadataStore) Delete(ctx context.Context, id string) error {
	return s.repomanager.Items(s.db).Delete(ctx, id)
}

// ListExpired returns at most limit items eligible for sweeping at now.
func (s *MetadataStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Item, error) {
	return s.repomanager.Items(s.db).SelectExpired(ctx, now, limit)
}

func (s *MetadataStore) ListByOwner(ctx context.Context, ownerID string, filter items.ListFilter) ([]*models.Item, error) {
	return s.repomanager.Items(s.db).SelectByOwner(ctx, ownerID, filter)
}
