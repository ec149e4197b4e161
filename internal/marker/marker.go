package marker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// Marker - аннотация на карте (деревня, храм и т.п.)
type Marker struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	Dimension string `json:"dimension"`
	X         int    `json:"x"`
	Z         int    `json:"z"`
	Global    bool   `json:"global"`

	// Persistent - переживает ли маркер перезапуск (временные маркеры не сохраняются)
	Persistent bool `json:"persistent"`
}

// Store - хранилище маркеров
type Store interface {
	// PutGlobalMarker создаёт глобальный маркер и возвращает его
	PutGlobalMarker(ctx context.Context, dim string, temporary bool, markerType, label string, x, z int) (Marker, error)

	// List возвращает маркеры измерения, отсортированные по ID
	List(ctx context.Context, dim string) ([]Marker, error)
}

func newGlobal(dim string, temporary bool, markerType, label string, x, z int) Marker {
	return Marker{
		ID:         uuid.NewString(),
		Type:       markerType,
		Label:      label,
		Dimension:  dim,
		X:          x,
		Z:          z,
		Global:     true,
		Persistent: !temporary,
	}
}

// MemoryStore хранит маркеры в памяти
type MemoryStore struct {
	mu      sync.RWMutex
	markers map[string][]Marker
}

// NewMemoryStore создаёт пустое хранилище маркеров
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string][]Marker)}
}

// PutGlobalMarker добавляет маркер
func (m *MemoryStore) PutGlobalMarker(ctx context.Context, dim string, temporary bool, markerType, label string, x, z int) (Marker, error) {
	mk := newGlobal(dim, temporary, markerType, label, x, z)

	m.mu.Lock()
	m.markers[dim] = append(m.markers[dim], mk)
	m.mu.Unlock()
	return mk, nil
}

// List возвращает копию маркеров измерения
func (m *MemoryStore) List(ctx context.Context, dim string) ([]Marker, error) {
	m.mu.RLock()
	out := make([]Marker, len(m.markers[dim]))
	copy(out, m.markers[dim])
	m.mu.RUnlock()

	sortByID(out)
	return out, nil
}

// BadgerStore хранит постоянные маркеры в BadgerDB, временные - только в памяти
type BadgerStore struct {
	db        *badger.DB
	temporary *MemoryStore
}

// NewBadgerStore использует открытую базу BadgerDB
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, temporary: NewMemoryStore()}
}

func markerKey(dim, id string) []byte {
	return []byte(fmt.Sprintf("marker:%s:%s", dim, id))
}

// PutGlobalMarker сохраняет маркер
func (s *BadgerStore) PutGlobalMarker(ctx context.Context, dim string, temporary bool, markerType, label string, x, z int) (Marker, error) {
	if temporary {
		return s.temporary.PutGlobalMarker(ctx, dim, temporary, markerType, label, x, z)
	}

	mk := newGlobal(dim, temporary, markerType, label, x, z)
	data, err := json.Marshal(mk)
	if err != nil {
		return Marker{}, fmt.Errorf("ошибка сериализации маркера: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(markerKey(dim, mk.ID), data)
	})
	if err != nil {
		return Marker{}, fmt.Errorf("ошибка сохранения маркера в BadgerDB: %w", err)
	}
	return mk, nil
}

// List возвращает постоянные и временные маркеры измерения
func (s *BadgerStore) List(ctx context.Context, dim string) ([]Marker, error) {
	out, err := s.temporary.List(ctx, dim)
	if err != nil {
		return nil, err
	}

	prefix := []byte(fmt.Sprintf("marker:%s:", dim))
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var mk Marker
			if err := json.Unmarshal(val, &mk); err != nil {
				return fmt.Errorf("ошибка десериализации маркера %q: %w", it.Item().Key(), err)
			}
			// Префикс "marker:a:" совпадает и с измерением "a:b"
			if mk.Dimension != dim {
				continue
			}
			out = append(out, mk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortByID(out)
	return out, nil
}

func sortByID(list []Marker) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
