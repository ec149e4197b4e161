package marker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions(filepath.Join(t.TempDir(), "markers"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemoryStore_PutAndList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mk, err := store.PutGlobalMarker(ctx, "minecraft:overworld", false, "antiqueatlas:village", "Village", 100, 200)
	require.NoError(t, err)

	assert.NotEmpty(t, mk.ID, "Маркер должен получить ID")
	assert.True(t, mk.Global)
	assert.True(t, mk.Persistent)
	assert.Equal(t, 100, mk.X)
	assert.Equal(t, 200, mk.Z)

	list, err := store.List(ctx, "minecraft:overworld")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mk, list[0])

	other, err := store.List(ctx, "minecraft:the_end")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBadgerStore_PersistentAndTemporary(t *testing.T) {
	db := openTestDB(t)
	store := NewBadgerStore(db)
	ctx := context.Background()

	persistent, err := store.PutGlobalMarker(ctx, "a", false, "village", "Village", 1, 2)
	require.NoError(t, err)
	temporary, err := store.PutGlobalMarker(ctx, "a", true, "temple", "Temple", 3, 4)
	require.NoError(t, err)
	assert.False(t, temporary.Persistent)

	_, err = store.PutGlobalMarker(ctx, "a:b", false, "village", "Nested", 5, 6)
	require.NoError(t, err)

	list, err := store.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2, "Маркер вложенного измерения не должен попадать в список")

	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, persistent.ID)
	assert.Contains(t, ids, temporary.ID)

	// Новое хранилище на той же базе видит только постоянные маркеры
	reopened := NewBadgerStore(db)
	list, err = reopened.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, persistent, list[0])
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("ATLAS_TEST_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db := "atlas_test_" + time.Now().Format("150405000000")
	store, err := NewMongoStore(ctx, MongoConfig{URI: uri, Database: db})
	if err != nil {
		t.Skipf("MongoDB not available, skipping test: %v", err)
	}
	t.Cleanup(func() {
		_ = store.client.Database(db).Drop(context.Background())
		store.Close()
	})

	persistent, err := store.PutGlobalMarker(context.Background(), "minecraft:overworld", false, "antiqueatlas:village", "Village", 100, 200)
	require.NoError(t, err)
	temporary, err := store.PutGlobalMarker(context.Background(), "minecraft:overworld", true, "antiqueatlas:village", "Camp", 1, 1)
	require.NoError(t, err)
	_, err = store.PutGlobalMarker(context.Background(), "minecraft:the_end", false, "antiqueatlas:end_city", "End City", 0, 0)
	require.NoError(t, err)

	list, err := store.List(context.Background(), "minecraft:overworld")
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, persistent.ID)
	assert.Contains(t, ids, temporary.ID)
	assert.LessOrEqual(t, list[0].ID, list[1].ID, "Список отсортирован по ID")

	for _, mk := range list {
		if mk.ID == persistent.ID {
			assert.Equal(t, persistent, mk)
		}
	}
}
