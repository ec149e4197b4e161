package tile

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/mmo-atlas/internal/vec"
)

// ID - идентификатор тайла карты: ID биома или синтетический тайл
type ID string

// None означает, что чанк не дал ни одного голоса
const None ID = ""

// Синтетические тайлы особенностей рельефа
const (
	WaterPool ID = "atlas:water_pool"
	LavaPool  ID = "atlas:lava_pool"
	Ravine    ID = "atlas:ravine"
)

// IsNone сообщает, что тайл отсутствует
func (id ID) IsNone() bool { return id == None }

// Store - постоянное хранилище тайлов карты по измерениям.
// Хранилище само отвечает за безопасность изменений по координатам.
type Store interface {
	// GetTile возвращает тайл чанка; found=false если тайла нет
	GetTile(ctx context.Context, dim string, chunk vec.Vec2) (ID, bool, error)

	// PutTile записывает тайл чанка
	PutTile(ctx context.Context, dim string, id ID, chunk vec.Vec2) error
}

// Entry - тайл вместе с координатами, для выгрузки областей
type Entry struct {
	Chunk vec.Vec2
	Tile  ID
}

// Scanner - хранилища, умеющие выдавать все тайлы измерения
type Scanner interface {
	Scan(ctx context.Context, dim string, fn func(Entry) error) error
}

// ErrScanUnsupported - обёрнутое хранилище не умеет Scan
var ErrScanUnsupported = errors.New("tile: store does not support scan")

// ScanStore вызывает Scan, если store его поддерживает
func ScanStore(ctx context.Context, store Store, dim string, fn func(Entry) error) error {
	sc, ok := store.(Scanner)
	if !ok {
		return ErrScanUnsupported
	}
	return sc.Scan(ctx, dim, fn)
}

// key формирует ключ тайла: "tile:<dim>:<x>:<z>"
func key(dim string, chunk vec.Vec2) string {
	return fmt.Sprintf("tile:%s:%d:%d", dim, chunk.X, chunk.Y)
}
