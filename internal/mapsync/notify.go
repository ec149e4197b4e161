package mapsync

import (
	"context"
	"sync/atomic"

	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/protocol"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// Source - имя источника событий в шине
const Source = "atlasd"

// TileStore публикует tile.changed после каждой успешной записи
type TileStore struct {
	tile.Store
	bus eventbus.EventBus

	publishErrors atomic.Uint64
}

// NewTileStore оборачивает store
func NewTileStore(store tile.Store, bus eventbus.EventBus) *TileStore {
	return &TileStore{Store: store, bus: bus}
}

// PutTile пишет тайл и уведомляет клиентов.
// Ошибка публикации не отменяет запись: она только логируется.
func (s *TileStore) PutTile(ctx context.Context, dim string, id tile.ID, chunk vec.Vec2) error {
	if err := s.Store.PutTile(ctx, dim, id, chunk); err != nil {
		return err
	}

	frame, err := protocol.EncodeFrame(&protocol.TileUpdate{
		Dimension: dim,
		X:         int32(chunk.X),
		Z:         int32(chunk.Y),
		Tile:      string(id),
	})
	if err == nil {
		err = s.bus.Publish(ctx, eventbus.NewEnvelope(Source, eventbus.EventTileChanged, dim, frame))
	}
	if err != nil {
		s.publishErrors.Add(1)
		logging.Warn("Не удалось опубликовать тайл %s(%d,%d): %v", dim, chunk.X, chunk.Y, err)
	}
	return nil
}

// Scan пробрасывается во внутреннее хранилище
func (s *TileStore) Scan(ctx context.Context, dim string, fn func(tile.Entry) error) error {
	return tile.ScanStore(ctx, s.Store, dim, fn)
}

// PublishErrors возвращает количество неудачных публикаций
func (s *TileStore) PublishErrors() uint64 { return s.publishErrors.Load() }

// MarkerStore публикует marker.added для новых маркеров
type MarkerStore struct {
	marker.Store
	bus eventbus.EventBus
}

// NewMarkerStore оборачивает store
func NewMarkerStore(store marker.Store, bus eventbus.EventBus) *MarkerStore {
	return &MarkerStore{Store: store, bus: bus}
}

// PutGlobalMarker сохраняет маркер и уведомляет клиентов
func (s *MarkerStore) PutGlobalMarker(ctx context.Context, dim string, temporary bool, markerType, label string, x, z int) (marker.Marker, error) {
	mk, err := s.Store.PutGlobalMarker(ctx, dim, temporary, markerType, label, x, z)
	if err != nil {
		return mk, err
	}

	frame, err := protocol.EncodeFrame(MarkerMessage(mk))
	if err == nil {
		err = s.bus.Publish(ctx, eventbus.NewEnvelope(Source, eventbus.EventMarkerAdded, dim, frame))
	}
	if err != nil {
		logging.Warn("Не удалось опубликовать маркер %s: %v", mk.ID, err)
	}
	return mk, nil
}

// MarkerMessage переводит маркер в сообщение протокола
func MarkerMessage(mk marker.Marker) *protocol.MarkerAdded {
	return &protocol.MarkerAdded{
		Dimension: mk.Dimension,
		MarkerID:  mk.ID,
		Type:      mk.Type,
		Label:     mk.Label,
		X:         int32(mk.X),
		Z:         int32(mk.Z),
		Global:    mk.Global,
	}
}
