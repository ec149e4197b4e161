package detector

import (
	"sort"

	"github.com/annel0/mmo-atlas/internal/biome"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// ChunkSize - размер чанка по горизонтали (16x16 столбцов)
const ChunkSize = 16

// Веса синтетических тайлов. Узкие особенности рельефа иначе теряются
// при голосовании большинством.
const (
	WeightWaterPool = 4
	WeightLavaPool  = 6
	WeightRavine    = 12

	// RavineMinDepth - минимальная глубина поверхности ниже уровня моря
	RavineMinDepth = 7
)

// Material - материал верхнего блока столбца
type Material uint8

const (
	MaterialOther Material = iota
	MaterialWater
	MaterialLava
)

// World - доступ к параметрам мира
type World interface {
	SeaLevel() int
}

// Chunk - доступ к данным сгенерированного чанка.
// Координаты x, z локальные: 0..15.
type Chunk interface {
	Coords() vec.Vec2

	// HasBiomes сообщает, есть ли у чанка сетка биомов
	HasBiomes() bool

	Biome(x, z int) biome.ID

	// SurfaceHeight - высота MOTION_BLOCKING поверхности (первый блок над твёрдым)
	SurfaceHeight(x, z int) int

	// SurfaceMaterial - материал блока на высоте SurfaceHeight-1
	SurfaceMaterial(x, z int) Material
}

// Options включает поиск особенностей рельефа
type Options struct {
	ScanPonds   bool `yaml:"scan_ponds"`
	ScanRavines bool `yaml:"scan_ravines"`
}

// DefaultOptions - оба сканирования включены
func DefaultOptions() Options {
	return Options{ScanPonds: true, ScanRavines: true}
}

// Votes - накопленные веса кандидатов одного чанка
type Votes map[tile.ID]int

// Add добавляет вес кандидату. Веса <= 0 не учитываются.
func (v Votes) Add(id tile.ID, weight int) {
	if weight <= 0 {
		return
	}
	v[id] += weight
}

// Winner возвращает кандидата с максимальным весом.
// При равенстве побеждает лексикографически меньший ID.
// Пустые голоса дают tile.None.
func (v Votes) Winner() tile.ID {
	if len(v) == 0 {
		return tile.None
	}

	ids := make([]tile.ID, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best := ids[0]
	for _, id := range ids[1:] {
		if v[id] > v[best] {
			best = id
		}
	}
	return best
}

// Detector определяет тайл чанка по биомам и рельефу.
// Вода и пляжи получают повышенный вес, чтобы береговая линия
// сохранялась на карте, а реки оставались связными.
type Detector struct {
	catalog *biome.Catalog
	opts    Options
}

// New создаёт детектор. Каталог биомов должен быть построен заранее.
func New(catalog *biome.Catalog, opts Options) *Detector {
	if catalog == nil {
		panic("detector: nil biome catalog")
	}
	return &Detector{catalog: catalog, opts: opts}
}

// SetScanPonds включает или выключает поиск прудов воды и лавы
func (d *Detector) SetScanPonds(v bool) { d.opts.ScanPonds = v }

// SetScanRavines включает или выключает поиск оврагов
func (d *Detector) SetScanRavines(v bool) { d.opts.ScanRavines = v }

// Options возвращает текущие настройки
func (d *Detector) Options() Options { return d.opts }

// Classify возвращает тайл чанка или tile.None, если у чанка нет биомов
func (d *Detector) Classify(world World, chunk Chunk) tile.ID {
	return d.Tally(world, chunk).Winner()
}

// Tally собирает голоса всех 256 столбцов чанка.
//
// Овраг определяется только по высоте поверхности (ниже уровня моря
// на RavineMinDepth), полости под поверхностью не анализируются.
// Без World уровень моря неизвестен, и овраги не ищутся.
func (d *Detector) Tally(world World, chunk Chunk) Votes {
	votes := make(Votes)
	if chunk == nil || !chunk.HasBiomes() {
		return votes
	}

	scanRavines, seaLevel := d.opts.ScanRavines && world != nil, 0
	if scanRavines {
		seaLevel = world.SeaLevel()
	}
	for x := 0; x < ChunkSize; x++ {
		for z := 0; z < ChunkSize; z++ {
			b := chunk.Biome(x, z)

			if d.opts.ScanPonds {
				if y := chunk.SurfaceHeight(x, z); y > 0 {
					switch chunk.SurfaceMaterial(x, z) {
					case MaterialWater:
						// Вода на поверхности болота - не пруд
						if !d.catalog.IsSwamp(b) {
							votes.Add(tile.WaterPool, WeightWaterPool)
						}
					case MaterialLava:
						votes.Add(tile.LavaPool, WeightLavaPool)
					}
				}
			}

			if scanRavines {
				if y := chunk.SurfaceHeight(x, z); y > 0 && y < seaLevel-RavineMinDepth {
					votes.Add(tile.Ravine, WeightRavine)
				}
			}

			if b != "" {
				votes.Add(tile.ID(b), d.catalog.Weight(b))
			}
		}
	}
	return votes
}
