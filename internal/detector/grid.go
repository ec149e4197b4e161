package detector

import (
	"github.com/annel0/mmo-atlas/internal/biome"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// Column - данные одного столбца чанка
type Column struct {
	Biome    biome.ID
	Height   int
	Material Material
}

// Grid - снимок чанка в виде массива столбцов [x][z].
// Хост заполняет его при генерации; так же используется в тестах.
type Grid struct {
	Pos     vec.Vec2
	Columns [ChunkSize][ChunkSize]Column
	NoBiome bool
}

// NewGrid создаёт чанк, все столбцы которого равны col
func NewGrid(pos vec.Vec2, col Column) *Grid {
	g := &Grid{Pos: pos}
	g.Fill(col)
	return g
}

// Fill заполняет все столбцы
func (g *Grid) Fill(col Column) {
	for x := 0; x < ChunkSize; x++ {
		for z := 0; z < ChunkSize; z++ {
			g.Columns[x][z] = col
		}
	}
}

// SetColumn задаёт столбец по порядковому номеру i = x*16 + z
func (g *Grid) SetColumn(i int, col Column) {
	g.Columns[i/ChunkSize][i%ChunkSize] = col
}

func (g *Grid) Coords() vec.Vec2                  { return g.Pos }
func (g *Grid) HasBiomes() bool                   { return !g.NoBiome }
func (g *Grid) Biome(x, z int) biome.ID           { return g.Columns[x][z].Biome }
func (g *Grid) SurfaceHeight(x, z int) int        { return g.Columns[x][z].Height }
func (g *Grid) SurfaceMaterial(x, z int) Material { return g.Columns[x][z].Material }

// SeaLevel - мир с фиксированным уровнем моря
type SeaLevel int

func (s SeaLevel) SeaLevel() int { return int(s) }
