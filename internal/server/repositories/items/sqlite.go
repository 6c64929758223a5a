package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/dbx"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
)

// SQLite stores times as unix milliseconds so that expiry comparisons are
// plain integer comparisons.
const sqliteColumns = `i.id, i.owner_id, i.kind, i.display_name, i.content_type, i.storage_key, i.is_encrypted,
	i.size_bytes, i.created_at, i.updated_at, i.expires_at, i.retain, i.folder, i.is_favorite`

// SQLiteRepository implements Repository for a single-node SQLite metadata
// store. Row locking is implicit: SQLite serialises writers.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func (r *SQLiteRepository) Insert(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (id, owner_id, kind, display_name, content_type, storage_key, is_encrypted,
			size_bytes, created_at, updated_at, expires_at, retain, folder, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.OwnerID, string(item.Kind), item.DisplayName, item.ContentType, item.StorageKey, item.IsEncrypted,
		item.SizeBytes, toMillis(item.CreatedAt), toMillis(item.UpdatedAt), nullMillis(item.ExpiresAt), item.Retain,
		folderArg(item.Folder), item.IsFavorite)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insertTags(ctx, item.ID, item.Tags)
}

func (r *SQLiteRepository) insertTags(ctx context.Context, id string, tags []string) error {
	for _, tag := range tags {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO item_tags (item_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

// GetByID ignores forUpdate; callers serialise through the transaction.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string, _ bool) (*models.Item, error) {
	query := `SELECT ` + sqliteColumns + `, COALESCE(group_concat(t.tag, ','), '')
		FROM items i LEFT JOIN item_tags t ON t.item_id = i.id
		WHERE i.id = ? GROUP BY i.id`

	item, err := scanSQLite(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return item, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, item *models.Item) error {
	query := `
		UPDATE items SET display_name = ?, content_type = ?, updated_at = ?, expires_at = ?,
			retain = ?, folder = ?, is_favorite = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		item.DisplayName, item.ContentType, toMillis(item.UpdatedAt), nullMillis(item.ExpiresAt),
		item.Retain, folderArg(item.Folder), item.IsFavorite, item.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %s", common.ErrorNotFound, item.ID)
	}
	return nil
}

func (r *SQLiteRepository) ReplaceTags(ctx context.Context, id string, tags []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ?`, id); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	return r.insertTags(ctx, id, tags)
}

// Delete removes tags explicitly; foreign key enforcement is off by
// default in SQLite, so the cascade cannot be relied on.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ?`, id); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Item, error) {
	query := `SELECT ` + sqliteColumns + `, ''
		FROM items i
		WHERE i.retain = 0 AND i.expires_at <= ?
		ORDER BY i.expires_at, i.id
		LIMIT ?`
	return r.selectMany(ctx, query, toMillis(now), limit)
}

func (r *SQLiteRepository) SelectByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]*models.Item, error) {
	tail, args := ownerQuery(ownerID, filter, question)
	query := `SELECT ` + sqliteColumns + `, COALESCE(group_concat(t.tag, ','), '')
		FROM items i LEFT JOIN item_tags t ON t.item_id = i.id` + tail
	return r.selectMany(ctx, query, args...)
}

func (r *SQLiteRepository) selectMany(ctx context.Context, query string, args ...any) ([]*models.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []*models.Item
	for rows.Next() {
		item, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSQLite(row scanner) (*models.Item, error) {
	var (
		item             models.Item
		kind, tags       string
		created, updated int64
		expires          sql.NullInt64
		folder           sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.OwnerID, &kind, &item.DisplayName, &item.ContentType, &item.StorageKey, &item.IsEncrypted,
		&item.SizeBytes, &created, &updated, &expires, &item.Retain, &folder, &item.IsFavorite, &tags,
	); err != nil {
		return nil, err
	}

	item.Kind = models.Kind(kind)
	item.CreatedAt = fromMillis(created)
	item.UpdatedAt = fromMillis(updated)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		item.ExpiresAt = &t
	}
	if folder.Valid {
		item.Folder = &folder.String
	}
	item.Tags = models.ParseTags(tags)
	return &item, nil
}
