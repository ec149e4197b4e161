package tile

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/mmo-atlas/internal/vec"
)

// MemoryStore хранит тайлы в памяти; одна блокировка на хранилище
type MemoryStore struct {
	mu    sync.RWMutex
	tiles map[string]map[vec.Vec2]ID
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiles: make(map[string]map[vec.Vec2]ID),
	}
}

// GetTile возвращает тайл чанка
func (m *MemoryStore) GetTile(ctx context.Context, dim string, chunk vec.Vec2) (ID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.tiles[dim][chunk]
	return id, ok, nil
}

// PutTile записывает тайл чанка
func (m *MemoryStore) PutTile(ctx context.Context, dim string, id ID, chunk vec.Vec2) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.tiles[dim]
	if !ok {
		d = make(map[vec.Vec2]ID)
		m.tiles[dim] = d
	}
	d[chunk] = id
	return nil
}

// Scan обходит тайлы измерения в порядке (X, Z)
func (m *MemoryStore) Scan(ctx context.Context, dim string, fn func(Entry) error) error {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.tiles[dim]))
	for pos, id := range m.tiles[dim] {
		entries = append(entries, Entry{Chunk: pos, Tile: id})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Chunk.X != entries[j].Chunk.X {
			return entries[i].Chunk.X < entries[j].Chunk.X
		}
		return entries[i].Chunk.Y < entries[j].Chunk.Y
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len возвращает количество тайлов в измерении
func (m *MemoryStore) Len(dim string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles[dim])
}
