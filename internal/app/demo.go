package app

import (
	"context"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/annel0/mmo-atlas/internal/worldgen"
)

// DemoResult - итог демонстрационной генерации
type DemoResult struct {
	Chunks   int
	Tiles    int
	Villages int
}

// RunDemo генерирует квадрат чанков радиуса radius вокруг (0,0) и прогоняет
// его через хуки сервиса так, как это делал бы хост.
func (a *App) RunDemo(ctx context.Context, gen *worldgen.Generator, dim string, radius int) (DemoResult, error) {
	var res DemoResult
	world := gen.World()

	for cx := -radius; cx <= radius; cx++ {
		for cz := -radius; cz <= radius; cz++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			grid := gen.GenerateChunk(vec.Vec2{X: cx, Y: cz})
			id, err := a.Service.OnChunkGenerated(ctx, dim, world, grid)
			if err != nil {
				return res, err
			}
			res.Chunks++
			if !id.IsNone() {
				res.Tiles++
			}

			village, ok := gen.VillageAt(grid)
			if !ok {
				continue
			}
			for _, piece := range village.Pieces {
				if _, err := a.Service.OnStructurePiecePlaced(ctx, dim, piece); err != nil {
					return res, err
				}
			}
			if _, _, err := a.Service.OnStructureCompleted(ctx, dim, village.Start); err != nil {
				return res, err
			}
			res.Villages++
		}
	}

	logging.Info("🌍 Демо-генерация %s: %d чанков, %d тайлов, %d деревень", dim, res.Chunks, res.Tiles, res.Villages)
	return res, nil
}
