package items

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/server/models"
)

// Repository persists item metadata rows.
//
// GetByID and Update return common.ErrorNotFound for unknown ids. Delete of
// an unknown id succeeds.
type Repository interface {
	Insert(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, id string, forUpdate bool) (*models.Item, error)
	Update(ctx context.Context, item *models.Item) error
	ReplaceTags(ctx context.Context, id string, tags []string) error
	Delete(ctx context.Context, id string) error
	SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Item, error)
	SelectByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]*models.Item, error)
}

// ListFilter narrows SelectByOwner. Zero values mean "no constraint".
// Folder set to "" selects items outside any folder.
type ListFilter struct {
	Kind          models.Kind
	Tag           string
	Folder        *string
	FavoritesOnly bool
	Limit         int
	Offset        int
}

// ownerQuery renders the WHERE/ORDER/LIMIT tail shared by both dialects.
// placeholder returns the dialect's n-th bind marker (1-based).
func ownerQuery(ownerID string, f ListFilter, placeholder func(int) string) (string, []any) {
	args := []any{ownerID}
	var sb strings.Builder

	sb.WriteString(" WHERE i.owner_id = " + placeholder(1))
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if f.Kind != "" {
		sb.WriteString(" AND i.kind = " + bind(string(f.Kind)))
	}
	if f.FavoritesOnly {
		sb.WriteString(" AND i.is_favorite = " + bind(true))
	}
	if f.Folder != nil {
		if *f.Folder == "" {
			sb.WriteString(" AND i.folder IS NULL")
		} else {
			sb.WriteString(" AND i.folder = " + bind(*f.Folder))
		}
	}
	if f.Tag != "" {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM item_tags x WHERE x.item_id = i.id AND x.tag = " + bind(f.Tag) + ")")
	}

	sb.WriteString(" GROUP BY i.id ORDER BY i.created_at DESC, i.id")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + bind(f.Limit))
		if f.Offset > 0 {
			sb.WriteString(" OFFSET " + bind(f.Offset))
		}
	}
	return sb.String(), args
}

func dollar(n int) string   { return fmt.Sprintf("$%d", n) }
func question(_ int) string { return "?" }

func folderArg(folder *string) any {
	if folder == nil {
		return nil
	}
	return *folder
}
