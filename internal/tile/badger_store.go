package tile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// ErrStoreClosed возвращается при обращении к закрытому хранилищу
var ErrStoreClosed = errors.New("хранилище не готово")

// BadgerStore хранит тайлы карты в BadgerDB
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создаёт) базу тайлов в dataPath/tiles
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "tiles")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// NewBadgerStoreFromDB использует уже открытую базу (общая с маркерами)
func NewBadgerStoreFromDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, isReady: true}
}

// DB возвращает базу для хранилищ, разделяющих её с тайлами
func (s *BadgerStore) DB() *badger.DB { return s.db }

// Close закрывает хранилище
func (s *BadgerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	return s.db.Close()
}

// GetTile читает тайл чанка
func (s *BadgerStore) GetTile(ctx context.Context, dim string, chunk vec.Vec2) (ID, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return None, false, ErrStoreClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key(dim, chunk)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	// Отсутствие тайла не ошибка
	if errors.Is(err, badger.ErrKeyNotFound) {
		return None, false, nil
	}
	if err != nil {
		return None, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return ID(data), true, nil
}

// PutTile записывает тайл чанка
func (s *BadgerStore) PutTile(ctx context.Context, dim string, id ID, chunk vec.Vec2) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key(dim, chunk)), []byte(id))
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Scan обходит все тайлы измерения в порядке ключей
func (s *BadgerStore) Scan(ctx context.Context, dim string, fn func(Entry) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	prefix := []byte(fmt.Sprintf("tile:%s:", dim))
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			x, z, ok := parseChunkKey(string(item.Key()[len(prefix):]))
			if !ok {
				// ключ вложенного измерения ("tile:a:5:1:2" при dim="a")
				logging.GetStorageLogger().Trace("BadgerStore: пропуск ключа %q", item.Key())
				continue
			}

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(Entry{Chunk: vec.Vec2{X: x, Y: z}, Tile: ID(val)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// parseChunkKey разбирает хвост ключа "<x>:<z>" целиком
func parseChunkKey(rest string) (x, z int, ok bool) {
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.Atoi(parts[0])
	z, errZ := strconv.Atoi(parts[1])
	return x, z, errX == nil && errZ == nil
}
