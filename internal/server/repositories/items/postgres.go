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
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE 22P02, raised when an id is not a valid UUID literal.
const pgInvalidTextRepresentation = "22P02"

// malformedID reports whether err came from an id that cannot be a UUID.
// Such an id can never match a row.
func malformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepresentation
}

const pgColumns = `i.id, i.owner_id, i.kind, i.display_name, i.content_type, i.storage_key, i.is_encrypted,
	i.size_bytes, i.created_at, i.updated_at, i.expires_at, i.retain, i.folder, i.is_favorite`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes a new item row and its tags. Run it inside a transaction
// when the tags must land atomically with the row.
func (r *PostgresRepository) Insert(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (id, owner_id, kind, display_name, content_type, storage_key, is_encrypted,
			size_bytes, created_at, updated_at, expires_at, retain, folder, is_favorite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.OwnerID, string(item.Kind), item.DisplayName, item.ContentType, item.StorageKey, item.IsEncrypted,
		item.SizeBytes, item.CreatedAt, item.UpdatedAt, nullTime(item.ExpiresAt), item.Retain, folderArg(item.Folder), item.IsFavorite)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insertTags(ctx, item.ID, item.Tags)
}

func (r *PostgresRepository) insertTags(ctx context.Context, id string, tags []string) error {
	for _, tag := range tags {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO item_tags (item_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

// GetByID loads one item with its tags. forUpdate takes a row lock that
// lasts until the surrounding transaction ends.
func (r *PostgresRepository) GetByID(ctx context.Context, id string, forUpdate bool) (*models.Item, error) {
	query := `SELECT ` + pgColumns + ` FROM items i WHERE i.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	item, err := scanPostgres(r.db.QueryRowContext(ctx, query, id), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
			return nil, fmt.Errorf("%w: item %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT tag FROM item_tags WHERE item_id = $1 ORDER BY tag`, id)
	if err != nil {
		return nil, fmt.Errorf("select tags: %w", err)
	}
	defer rows.Close()

	item.Tags = []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		item.Tags = append(item.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return item, nil
}

// Update rewrites the mutable columns of an existing row. Tags are handled
// by ReplaceTags.
func (r *PostgresRepository) Update(ctx context.Context, item *models.Item) error {
	query := `
		UPDATE items SET display_name = $2, content_type = $3, updated_at = $4, expires_at = $5,
			retain = $6, folder = $7, is_favorite = $8
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		item.ID, item.DisplayName, item.ContentType, item.UpdatedAt, nullTime(item.ExpiresAt),
		item.Retain, folderArg(item.Folder), item.IsFavorite)
	if err != nil {
		if malformedID(err) {
			return fmt.Errorf("%w: item %s", common.ErrorNotFound, item.ID)
		}
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

func (r *PostgresRepository) ReplaceTags(ctx context.Context, id string, tags []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = $1`, id); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	return r.insertTags(ctx, id, tags)
}

// Delete removes the row; item_tags rows go with it via ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id); err != nil {
		if malformedID(err) {
			return nil
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SelectExpired returns up to limit non-retained items with
// expires_at <= now, oldest expiry first. Tags are not loaded.
func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Item, error) {
	query := `SELECT ` + pgColumns + ` FROM items i
		WHERE i.retain = FALSE AND i.expires_at <= $1
		ORDER BY i.expires_at, i.id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired items: %w", err)
	}
	defer rows.Close()

	var result []*models.Item
	for rows.Next() {
		item, err := scanPostgres(rows, false)
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

// SelectByOwner lists an owner's items newest first, tags included.
func (r *PostgresRepository) SelectByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]*models.Item, error) {
	tail, args := ownerQuery(ownerID, filter, dollar)
	query := `SELECT ` + pgColumns + `, COALESCE(string_agg(t.tag, ',' ORDER BY t.tag), '')
		FROM items i LEFT JOIN item_tags t ON t.item_id = i.id` + tail

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []*models.Item
	for rows.Next() {
		item, err := scanPostgres(rows, true)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanPostgres(row scanner, withTags bool) (*models.Item, error) {
	var (
		item    models.Item
		kind    string
		expires sql.NullTime
		folder  sql.NullString
		tags    string
	)
	dest := []any{
		&item.ID, &item.OwnerID, &kind, &item.DisplayName, &item.ContentType, &item.StorageKey, &item.IsEncrypted,
		&item.SizeBytes, &item.CreatedAt, &item.UpdatedAt, &expires, &item.Retain, &folder, &item.IsFavorite,
	}
	if withTags {
		dest = append(dest, &tags)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	item.Kind = models.Kind(kind)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		item.ExpiresAt = &t
	}
	if folder.Valid {
		item.Folder = &folder.String
	}
	if withTags {
		item.Tags = models.ParseTags(tags)
	}
	return &item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
