package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRead_Encrypted(t *testing.T) {
	f := newFixture(t, cryptox.GenerateKey())
	ctx := context.Background()
	data := []byte("hello clipboard")

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{
		OwnerID: "u1",
		Kind:    models.KindClipboardText,
		Data:    data,
		Tags:    []string{"Work", "work"},
	})
	require.NoError(t, err)

	assert.True(t, it.IsEncrypted)
	assert.Equal(t, int64(len(data)), it.SizeBytes)
	assert.Equal(t, "clipboard-20261015-090000.txt", it.DisplayName)
	assert.Equal(t, "text/plain; charset=utf-8", it.ContentType)
	assert.Equal(t, []string{"work"}, it.Tags)
	assert.False(t, it.Retain)
	require.NotNil(t, it.ExpiresAt)
	assert.Equal(t, f.clock.Add(24*time.Hour), *it.ExpiresAt)

	raw, err := f.backend.Get(ctx, it.StorageKey)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, data), "blob must be ciphertext")
	assert.Len(t, raw, len(data)+cryptox.Overhead)

	got, err := f.svc.ReadItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	stored, err := f.svc.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it, stored)
}

func TestCreateRead_PassThrough(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	data := []byte{0x89, 'P', 'N', 'G'}

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindClipboardImage, Data: data})
	require.NoError(t, err)
	assert.False(t, it.IsEncrypted)

	raw, err := f.backend.Get(ctx, it.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, data, raw)

	got, err := f.svc.ReadItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadItem_Tampered(t *testing.T) {
	f := newFixture(t, cryptox.GenerateKey())
	ctx := context.Background()

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("doc")})
	require.NoError(t, err)

	raw, err := f.backend.Get(ctx, it.StorageKey)
	require.NoError(t, err)
	raw[0] ^= 0xff
	require.NoError(t, f.backend.Put(ctx, it.StorageKey, raw))

	_, err = f.svc.ReadItem(ctx, it.ID)
	assert.ErrorIs(t, err, common.ErrAuthentication)
}

func TestReadItem_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ReadItem(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// metadata present, blob gone
	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, f.backend.Delete(ctx, it.StorageKey))

	_, err = f.svc.ReadItem(ctx, it.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCreateItem_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: "folder"})
	assert.ErrorIs(t, err, common.ErrorIncorrectMetadata)

	_, err = f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: " ", Kind: models.KindFile})
	assert.ErrorIs(t, err, common.ErrorIncorrectMetadata)
}

type failingBackend struct {
	*mapBackend
	putErr error
}

func (b *failingBackend) Put(ctx context.Context, key string, data []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.mapBackend.Put(ctx, key, data)
}

type mapBackend struct {
	blobs map[string][]byte
}

func (b *mapBackend) Put(_ context.Context, key string, data []byte) error {
	b.blobs[key] = append([]byte{}, data...)
	return nil
}

func (b *mapBackend) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := b.blobs[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return d, nil
}

func (b *mapBackend) Delete(_ context.Context, key string) error {
	delete(b.blobs, key)
	return nil
}

func (b *mapBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := b.blobs[key]
	return ok, nil
}

func TestCreateItem_StorageUnavailable(t *testing.T) {
	store, _ := newSQLiteStore(t)
	engine, err := cryptox.NewEngine(cryptox.Config{})
	require.NoError(t, err)

	backend := &failingBackend{mapBackend: &mapBackend{blobs: map[string][]byte{}}, putErr: common.ErrStorageUnavailable}
	svc := NewItemService(store, backend, engine, time.Hour, logging.NewDiscardLogger())

	_, err = svc.CreateItem(context.Background(), CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("x")})
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)

	list, err := store.ListByOwner(context.Background(), "u1", items.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "no metadata without a blob")
}

func TestCreateItem_MetadataFailureRemovesBlob(t *testing.T) {
	store, db := newSQLiteStore(t)
	engine, err := cryptox.NewEngine(cryptox.Config{})
	require.NoError(t, err)

	backend := &mapBackend{blobs: map[string][]byte{}}
	svc := NewItemService(store, backend, engine, time.Hour, logging.NewDiscardLogger())

	// break the metadata store after the blob write
	_, err = db.Exec(`DROP TABLE item_tags`)
	require.NoError(t, err)

	_, err = svc.CreateItem(context.Background(), CreateItemRequest{
		OwnerID: "u1", Kind: models.KindFile, Data: []byte("x"), Tags: []string{"t"},
	})
	require.Error(t, err)
	assert.Empty(t, backend.blobs, "blob must be compensated")
}

func TestSetRetain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("x")})
	require.NoError(t, err)

	f.advance(time.Hour)
	pinned, err := f.svc.SetRetain(ctx, it.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.Retain)
	assert.Nil(t, pinned.ExpiresAt)
	assert.Equal(t, f.clock, pinned.UpdatedAt)

	// never listed as expired, however late
	expired, err := f.store.ListExpired(ctx, f.clock.Add(1000*time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.advance(time.Hour)
	unpinned, err := f.svc.SetRetain(ctx, it.ID, false)
	require.NoError(t, err)
	require.NotNil(t, unpinned.ExpiresAt)
	assert.Equal(t, f.clock.Add(24*time.Hour), *unpinned.ExpiresAt, "window restarts at unpin time")

	_, err = f.svc.SetRetain(ctx, "00000000-0000-0000-0000-000000000000", true)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteItem(t *testing.T) {
	f := newFixture(t, cryptox.GenerateKey())
	ctx := context.Background()

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteItem(ctx, it.ID))

	ok, err := f.backend.Exists(ctx, it.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.svc.Get(ctx, it.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.NoError(t, f.svc.DeleteItem(ctx, it.ID), "second delete is a no-op")
}

func TestOrganizationalMutations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{
		OwnerID: "u1", Kind: models.KindFile, DisplayName: "a.txt", Data: []byte("x"), Folder: "/inbox/",
	})
	require.NoError(t, err)
	require.NotNil(t, it.Folder)
	assert.Equal(t, "inbox", *it.Folder)

	it, err = f.svc.Rename(ctx, it.ID, "  b.txt ")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", it.DisplayName)

	it, err = f.svc.SetTags(ctx, it.ID, []string{"Z", "a", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, it.Tags)

	it, err = f.svc.SetFolder(ctx, it.ID, "")
	require.NoError(t, err)
	assert.Nil(t, it.Folder)

	it, err = f.svc.SetFavorite(ctx, it.ID, true)
	require.NoError(t, err)
	assert.True(t, it.IsFavorite)

	stored, err := f.svc.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it, stored)
	assert.False(t, stored.Retain, "mutations leave retention alone")
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i, owner := range []string{"u1", "u1", "u2"} {
		f.advance(time.Minute)
		_, err := f.svc.CreateItem(ctx, CreateItemRequest{
			OwnerID: owner, Kind: models.KindFile, DisplayName: string(rune('a' + i)), Data: []byte("x"),
		})
		require.NoError(t, err)
	}

	list, err := f.svc.ListByOwner(ctx, "u1", items.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].DisplayName)
	assert.Equal(t, "a", list[1].DisplayName)
}

func TestMetadataStore_UpdateAbort(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	it, err := f.svc.CreateItem(ctx, CreateItemRequest{OwnerID: "u1", Kind: models.KindFile, Data: []byte("x")})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = f.store.Update(ctx, it.ID, func(i *models.Item) error {
		i.DisplayName = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// invariant violations are rejected before the write
	_, err = f.store.Update(ctx, it.ID, func(i *models.Item) error {
		i.Retain = true
		return nil
	})
	assert.Error(t, err)

	stored, err := f.store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.DisplayName, stored.DisplayName)
	assert.False(t, stored.Retain)
}
