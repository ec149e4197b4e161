package structure

import (
	"fmt"
	"strings"

	"github.com/annel0/mmo-atlas/internal/vec"
)

// Placement определяет, на какие чанки кладётся тайл части структуры
type Placement interface {
	Matches(box vec.Box) []vec.Vec2
}

// PlacementFunc позволяет использовать функцию как Placement
type PlacementFunc func(box vec.Box) []vec.Vec2

func (f PlacementFunc) Matches(box vec.Box) []vec.Vec2 { return f(box) }

// CenterChunk - только чанк, содержащий центр коробки (по умолчанию)
var CenterChunk Placement = PlacementFunc(func(box vec.Box) []vec.Vec2 {
	return []vec.Vec2{box.Center().ToVec2().ToChunkCoords()}
})

// AllOverlapping - все чанки, которые пересекает коробка
var AllOverlapping Placement = PlacementFunc(func(box vec.Box) []vec.Vec2 {
	lo, hi := box.ChunkSpan()
	out := make([]vec.Vec2, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1))
	for x := lo.X; x <= hi.X; x++ {
		for z := lo.Y; z <= hi.Y; z++ {
			out = append(out, vec.Vec2{X: x, Y: z})
		}
	}
	return out
})

// ParsePlacement разбирает имя стратегии из конфигурации
func ParsePlacement(name string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "center":
		return CenterChunk, nil
	case "all", "overlapping":
		return AllOverlapping, nil
	default:
		return nil, fmt.Errorf("unknown placement %q", name)
	}
}
