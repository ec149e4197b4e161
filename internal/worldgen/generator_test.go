package worldgen

import (
	"math/rand"
	"testing"

	"github.com/annel0/mmo-atlas/internal/biome"
	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChunk_Deterministic(t *testing.T) {
	a := New(12345).GenerateChunk(vec.Vec2{X: 3, Y: -2})
	b := New(12345).GenerateChunk(vec.Vec2{X: 3, Y: -2})
	assert.Equal(t, a.Columns, b.Columns, "Один сид должен давать один и тот же чанк")
	assert.Equal(t, vec.Vec2{X: 3, Y: -2}, a.Pos)
}

func TestGenerateChunk_WaterAtSeaLevel(t *testing.T) {
	g := New(7)
	for cx := -2; cx <= 2; cx++ {
		for cz := -2; cz <= 2; cz++ {
			grid := g.GenerateChunk(vec.Vec2{X: cx, Y: cz})
			for x := 0; x < detector.ChunkSize; x++ {
				for z := 0; z < detector.ChunkSize; z++ {
					col := grid.Columns[x][z]
					require.NotEmpty(t, col.Biome)
					if col.Biome == "minecraft:ocean" || col.Biome == "minecraft:deep_ocean" {
						assert.Equal(t, g.SeaLevel, col.Height)
						assert.Equal(t, detector.MaterialWater, col.Material)
					}
				}
			}
		}
	}
}

func TestColumn(t *testing.T) {
	g := New(1)
	g.RavineWidth = 0
	rng := rand.New(rand.NewSource(1))

	ocean := g.column(0.1, 0.5, 0, 0, rng)
	assert.Equal(t, biome.ID("minecraft:deep_ocean"), ocean.Biome)
	assert.Equal(t, detector.MaterialWater, ocean.Material)
	assert.Equal(t, g.SeaLevel, ocean.Height)

	plains := g.column(0.5, 0.5, 0, 0, rng)
	assert.Equal(t, biome.ID("minecraft:plains"), plains.Biome)
	assert.Equal(t, detector.MaterialOther, plains.Material)
	assert.Greater(t, plains.Height, g.SeaLevel)

	g.LavaChance = 1
	desert := g.column(0.5, 0.1, 0, 0, rng)
	assert.Equal(t, biome.ID("minecraft:desert"), desert.Biome)
	assert.Equal(t, detector.MaterialLava, desert.Material)

	g.LavaChance = 0
	g.RavineWidth = 1
	ravine := g.column(0.5, 0.5, 0, 0, rng)
	assert.Less(t, ravine.Height, g.SeaLevel-detector.RavineMinDepth)
}

func TestBiomeFor(t *testing.T) {
	assert.Equal(t, biome.ID("minecraft:ocean"), biomeFor(0.25, 0.5))
	assert.Equal(t, biome.ID("minecraft:beach"), biomeFor(0.32, 0.5))
	assert.Equal(t, biome.ID("minecraft:mountains"), biomeFor(0.9, 0.5))
	assert.Equal(t, biome.ID("minecraft:river"), biomeFor(0.5, 0.48))
	assert.Equal(t, biome.ID("minecraft:swamp"), biomeFor(0.5, 0.8))
	assert.Equal(t, biome.ID("minecraft:forest"), biomeFor(0.5, 0.6))
}

func TestGeneratedChunkClassifies(t *testing.T) {
	g := New(42)
	det := detector.New(biome.NewCatalog(biome.NewStaticRegistry(biome.VanillaDefinitions()...)), detector.DefaultOptions())

	for cx := 0; cx < 4; cx++ {
		grid := g.GenerateChunk(vec.Vec2{X: cx, Y: 0})
		assert.NotEqual(t, tile.None, det.Classify(g.World(), grid))
	}
}

func TestVillageAt(t *testing.T) {
	g := New(99)
	g.VillageChance = 1

	plains := detector.NewGrid(vec.Vec2{X: 2, Y: 5}, detector.Column{Biome: "minecraft:plains", Height: 70})
	v, ok := g.VillageAt(plains)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(v.Pieces), 4)
	assert.Equal(t, structure.Kind("minecraft:village"), v.Start.Kind)

	for _, p := range v.Pieces {
		assert.LessOrEqual(t, v.Start.Box.Min.X, p.Box.Min.X)
		assert.GreaterOrEqual(t, v.Start.Box.Max.Z, p.Box.Max.Z)
	}

	// Все виды частей известны правилам по умолчанию
	tiles := structure.NewTileResolver(tile.NewMemoryStore(), structure.PriorityLastWins)
	require.NoError(t, structure.DefaultRules().Apply(tiles, structure.NewMarkerResolver(nil)))
	for _, p := range v.Pieces {
		assert.Less(t, tiles.Priority(p.Kind), structure.LowestPriority, "вид %s", p.Kind)
	}

	forest := detector.NewGrid(vec.Vec2{}, detector.Column{Biome: "minecraft:forest", Height: 70})
	_, ok = g.VillageAt(forest)
	assert.False(t, ok)

	g.VillageChance = 0
	_, ok = g.VillageAt(plains)
	assert.False(t, ok)
}
