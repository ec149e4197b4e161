// Package worldgen - детерминированный генератор чанков на шуме Перлина.
// Используется демо-режимом atlasd и нагрузочными тестами вместо хоста.
package worldgen

import (
	"math/rand"

	"github.com/annel0/mmo-atlas/internal/biome"
	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Пороги нормализованной высоты (0..1)
const (
	DeepWaterMax    = 0.20 // Ниже - глубокий океан
	ShallowWaterMax = 0.30 // Ниже - океан
	BeachMax        = 0.34 // Ниже - пляж
	MountainStart   = 0.80 // Выше - горы
)

// DefaultSeaLevel - уровень моря генерируемого мира
const DefaultSeaLevel = 63

// Параметры шума: сглаживание, частота, октавы
const (
	noiseAlpha  = 2.0
	noiseBeta   = 2.0
	noiseOctave = int32(3)
)

// Generator генерирует снимки чанков для классификатора
type Generator struct {
	Seed       int64
	SeaLevel   int
	NoiseScale float64 // Масштаб шума высоты
	BiomeScale float64 // Масштаб шума биомов

	// RavineWidth - ширина полосы шума, в которой прорезается овраг
	RavineWidth float64
	// LavaChance - вероятность лавового столбца в пустыне и горах
	LavaChance float64
	// VillageChance - вероятность деревни в чанке равнины
	VillageChance float64

	height *perlin.Perlin
	biome  *perlin.Perlin
	ravine *perlin.Perlin
}

// New создаёт генератор с настройками по умолчанию
func New(seed int64) *Generator {
	return &Generator{
		Seed:          seed,
		SeaLevel:      DefaultSeaLevel,
		NoiseScale:    0.01,
		BiomeScale:    0.004,
		RavineWidth:   0.015,
		LavaChance:    0.01,
		VillageChance: 0.04,
		height:        perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed),
		biome:         perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed+42),
		ravine:        perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed+1337),
	}
}

// World возвращает параметры мира для классификатора
func (g *Generator) World() detector.World {
	return detector.SeaLevel(g.SeaLevel)
}

// noise2D возвращает значение шума в диапазоне 0..1
func noise2D(p *perlin.Perlin, x, y float64) float64 {
	return (p.Noise2D(x, y) + 1.0) / 2.0
}

// chunkRand - локальный генератор случайных чисел чанка.
// Сид зависит от сида мира и координат, поэтому результат детерминирован.
func (g *Generator) chunkRand(pos vec.Vec2) *rand.Rand {
	chunkSeed := g.Seed + int64(pos.X*31) + int64(pos.Y*17)
	return rand.New(rand.NewSource(chunkSeed))
}

// GenerateChunk генерирует чанк по его координатам
func (g *Generator) GenerateChunk(pos vec.Vec2) *detector.Grid {
	grid := &detector.Grid{Pos: pos}
	rng := g.chunkRand(pos)

	origin := pos.ChunkOrigin()
	for x := 0; x < detector.ChunkSize; x++ {
		for z := 0; z < detector.ChunkSize; z++ {
			gx := float64(origin.X + x)
			gz := float64(origin.Y + z)

			h := noise2D(g.height, gx*g.NoiseScale, gz*g.NoiseScale)
			b := noise2D(g.biome, gx*g.BiomeScale, gz*g.BiomeScale)
			grid.Columns[x][z] = g.column(h, b, gx, gz, rng)
		}
	}
	return grid
}

// column строит столбец по высоте и значению биома
func (g *Generator) column(h, b, gx, gz float64, rng *rand.Rand) detector.Column {
	id := biomeFor(h, b)
	col := detector.Column{Biome: id, Height: g.terrainHeight(h)}

	// Вода поднимается до уровня моря
	if col.Height < g.SeaLevel {
		col.Height = g.SeaLevel
		col.Material = detector.MaterialWater
		return col
	}

	if id == "minecraft:river" || id == "minecraft:swamp" {
		col.Material = detector.MaterialWater
		return col
	}

	// Овраг прорезает сушу глубже уровня моря
	r := noise2D(g.ravine, gx*g.NoiseScale*2, gz*g.NoiseScale*2)
	if r > 0.5-g.RavineWidth && r < 0.5+g.RavineWidth {
		col.Height = g.SeaLevel - detector.RavineMinDepth - 8
		return col
	}

	if (id == "minecraft:desert" || id == "minecraft:mountains") && rng.Float64() < g.LavaChance {
		col.Material = detector.MaterialLava
	}
	return col
}

// terrainHeight переводит нормализованную высоту в блоки.
// ShallowWaterMax соответствует уровню моря.
func (g *Generator) terrainHeight(h float64) int {
	base := g.SeaLevel - int(ShallowWaterMax*60)
	return base + int(h*60)
}

// biomeFor определяет биом на основе высоты и значения шума биомов
func biomeFor(h, b float64) biome.ID {
	switch {
	case h < DeepWaterMax:
		return "minecraft:deep_ocean"
	case h < ShallowWaterMax:
		return "minecraft:ocean"
	case h < BeachMax:
		return "minecraft:beach"
	case h > MountainStart:
		return "minecraft:mountains"
	}

	switch {
	case b > 0.47 && b < 0.49:
		return "minecraft:river"
	case b < 0.35:
		return "minecraft:desert"
	case b > 0.70:
		return "minecraft:swamp"
	case b > 0.55:
		return "minecraft:forest"
	default:
		return "minecraft:plains"
	}
}

// Village - деревня, сгенерированная в чанке
type Village struct {
	Start  structure.Start
	Pieces []structure.Piece
}

// VillageAt решает, стоит ли в чанке деревня. Деревни ставятся только
// на равнины (биом центра чанка).
func (g *Generator) VillageAt(grid *detector.Grid) (Village, bool) {
	center := grid.Columns[detector.ChunkSize/2][detector.ChunkSize/2]
	if center.Biome != "minecraft:plains" {
		return Village{}, false
	}

	rng := g.chunkRand(vec.Vec2{X: grid.Pos.X ^ 0x5f, Y: grid.Pos.Y ^ 0x3a})
	if rng.Float64() >= g.VillageChance {
		return Village{}, false
	}

	origin := grid.Pos.ChunkOrigin()
	y := center.Height
	piece := func(kind structure.Kind, dx, dz, w int) structure.Piece {
		lo := vec.Vec3{X: origin.X + dx, Y: y, Z: origin.Y + dz}
		hi := vec.Vec3{X: lo.X + w - 1, Y: y + 6, Z: lo.Z + w - 1}
		return structure.Piece{Kind: kind, Box: vec.NewBox(lo, hi)}
	}

	v := Village{
		Pieces: []structure.Piece{
			piece("minecraft:village/town_center", 4, 4, 8),
			piece("minecraft:village/house", 20, 2, 6),
			piece("minecraft:village/house", -14, 6, 6),
			piece("minecraft:village/street", 12, 6, 8),
		},
	}
	if rng.Intn(2) == 0 {
		v.Pieces = append(v.Pieces, piece("minecraft:village/farm", 4, 24, 7))
	}

	box := v.Pieces[0].Box
	for _, p := range v.Pieces[1:] {
		box = box.Union(p.Box)
	}
	v.Start = structure.Start{Kind: "minecraft:village", Box: box}
	return v, true
}
