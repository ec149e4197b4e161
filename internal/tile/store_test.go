package tile

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) *BadgerStore {
	store, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testStoreContract проверяет общий контракт Store
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	pos := vec.Vec2{X: 3, Y: -7}

	t.Run("Missing tile", func(t *testing.T) {
		id, found, err := store.GetTile(ctx, "minecraft:overworld", pos)
		require.NoError(t, err)
		assert.False(t, found, "Тайл не должен существовать")
		assert.Equal(t, None, id)
	})

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, store.PutTile(ctx, "minecraft:overworld", "minecraft:plains", pos))

		id, found, err := store.GetTile(ctx, "minecraft:overworld", pos)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, ID("minecraft:plains"), id)
	})

	t.Run("Dimensions are separate", func(t *testing.T) {
		_, found, err := store.GetTile(ctx, "minecraft:the_nether", pos)
		require.NoError(t, err)
		assert.False(t, found, "Тайл другого измерения не должен быть виден")
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.PutTile(ctx, "minecraft:overworld", Ravine, pos))

		id, _, err := store.GetTile(ctx, "minecraft:overworld", pos)
		require.NoError(t, err)
		assert.Equal(t, Ravine, id)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	testStoreContract(t, setupBadgerStore(t))
}

func TestBadgerStore_Scan(t *testing.T) {
	store := setupBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutTile(ctx, "a", "t1", vec.Vec2{X: 1, Y: 2}))
	require.NoError(t, store.PutTile(ctx, "a", "t2", vec.Vec2{X: -4, Y: 0}))
	require.NoError(t, store.PutTile(ctx, "a:b", "t3", vec.Vec2{X: 9, Y: 9}))
	// Ключ tile:a:5:1:2 начинается как чанк (5,1) измерения "a"
	require.NoError(t, store.PutTile(ctx, "a:5", "t4", vec.Vec2{X: 1, Y: 2}))

	got := map[vec.Vec2]ID{}
	err := store.Scan(ctx, "a", func(e Entry) error {
		got[e.Chunk] = e.Tile
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[vec.Vec2]ID{{X: 1, Y: 2}: "t1", {X: -4, Y: 0}: "t2"}, got,
		"Тайлы вложенного измерения не должны попадать в скан")
}

func TestParseChunkKey(t *testing.T) {
	x, z, ok := parseChunkKey("-3:12")
	require.True(t, ok)
	assert.Equal(t, -3, x)
	assert.Equal(t, 12, z)

	for _, rest := range []string{"5:1:2", "1", "1:x", ":", "1:2 "} {
		_, _, ok := parseChunkKey(rest)
		assert.False(t, ok, rest)
	}
}

func TestBadgerStore_Closed(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, _, err = store.GetTile(context.Background(), "d", vec.Vec2{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.PutTile(context.Background(), "d", "x", vec.Vec2{}), ErrStoreClosed)
	assert.NoError(t, store.Close(), "Повторное закрытие не ошибка")
}

func TestMemoryStore_ScanOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutTile(ctx, "d", "c", vec.Vec2{X: 2, Y: 0}))
	require.NoError(t, store.PutTile(ctx, "d", "a", vec.Vec2{X: 0, Y: 5}))
	require.NoError(t, store.PutTile(ctx, "d", "b", vec.Vec2{X: 0, Y: 6}))

	var order []ID
	require.NoError(t, store.Scan(ctx, "d", func(e Entry) error {
		order = append(order, e.Tile)
		return nil
	}))
	assert.Equal(t, []ID{"a", "b", "c"}, order)
	assert.Equal(t, 3, store.Len("d"))
}

func TestCachedStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	defer client.Close()

	prefix := "atlas-test-" + time.Now().Format("150405.000000") + ":"
	cold := NewMemoryStore()
	store := NewCachedStoreWithClient(client, cold, prefix, time.Minute)

	testStoreContract(t, store)

	// Значение, записанное в обход кеша, читается через Read-Through
	pos := vec.Vec2{X: 100, Y: 100}
	require.NoError(t, cold.PutTile(context.Background(), "d", "cold-only", pos))

	id, found, err := store.GetTile(context.Background(), "d", pos)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ID("cold-only"), id)

	hits, misses := store.Stats()
	assert.Greater(t, misses, int64(0))
	assert.GreaterOrEqual(t, hits, int64(0))
}

func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("ATLAS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("ATLAS_TEST_MYSQL_DSN не задан, пропускаем тест MariaDB")
	}

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("MariaDB not available, skipping test: %v", err)
	}

	store, err := NewSQLStoreFromDB(context.Background(), db, DialectMySQL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dim := "atlas-test-" + time.Now().Format("150405.000000")
	// Контракт пишет в фиксированные координаты, очищаем их от прошлых запусков
	_, err = db.Exec(`DELETE FROM atlas_tiles WHERE (dim LIKE 'atlas-test-%') OR (x = 3 AND z = -7)`)
	require.NoError(t, err)

	testStoreContract(t, store)
	testSQLScanAndCount(t, store, dim)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	testStoreContract(t, store)
	testSQLScanAndCount(t, store, "minecraft:the_nether")

	// upsert не плодит строки
	require.NoError(t, store.PutTile(context.Background(), "minecraft:the_nether", "c", vec.Vec2{X: 1, Y: 0}))
	n, err := store.Count(context.Background(), "minecraft:the_nether")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	testStoreContract(t, store)

	_, err = NewSQLiteStore(context.Background(), "")
	assert.Error(t, err)
}

func testSQLScanAndCount(t *testing.T, store *SQLStore, dim string) {
	t.Helper()
	require.NoError(t, store.PutTile(context.Background(), dim, "b", vec.Vec2{X: 1, Y: 0}))
	require.NoError(t, store.PutTile(context.Background(), dim, "a", vec.Vec2{X: 0, Y: 3}))

	var order []ID
	require.NoError(t, store.Scan(context.Background(), dim, func(e Entry) error {
		order = append(order, e.Tile)
		return nil
	}))
	assert.Equal(t, []ID{"a", "b"}, order)

	n, err := store.Count(context.Background(), dim)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMariaConfig_DSN(t *testing.T) {
	assert.Equal(t, "atlas:secret@tcp(localhost:3306)/atlas?charset=utf8mb4&parseTime=True&loc=UTC",
		MariaConfig{Username: "atlas", Password: "secret"}.DSN())
	assert.Equal(t, "u:p@tcp(db:3307)/maps?charset=utf8mb4&parseTime=True&loc=UTC",
		MariaConfig{Host: "db", Port: 3307, Database: "maps", Username: "u", Password: "p"}.DSN())
}
