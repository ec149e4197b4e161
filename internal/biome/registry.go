package biome

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID - стабильный идентификатор биома в реестре хоста ("minecraft:river")
type ID string

// Category - категория биома, которую сообщает реестр хоста
type Category uint8

const (
	CategoryNone Category = iota
	CategoryTaiga
	CategoryExtremeHills
	CategoryJungle
	CategoryMesa
	CategoryPlains
	CategorySavanna
	CategoryIcy
	CategoryTheEnd
	CategoryBeach
	CategoryForest
	CategoryOcean
	CategoryDesert
	CategoryRiver
	CategorySwamp
	CategoryMushroom
	CategoryNether
)

var categoryNames = map[Category]string{
	CategoryNone:         "none",
	CategoryTaiga:        "taiga",
	CategoryExtremeHills: "extreme_hills",
	CategoryJungle:       "jungle",
	CategoryMesa:         "mesa",
	CategoryPlains:       "plains",
	CategorySavanna:      "savanna",
	CategoryIcy:          "icy",
	CategoryTheEnd:       "the_end",
	CategoryBeach:        "beach",
	CategoryForest:       "forest",
	CategoryOcean:        "ocean",
	CategoryDesert:       "desert",
	CategoryRiver:        "river",
	CategorySwamp:        "swamp",
	CategoryMushroom:     "mushroom",
	CategoryNether:       "nether",
}

// String возвращает имя категории
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "none"
}

// ParseCategory разбирает имя категории. Неизвестное имя даёт CategoryNone.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s {
			return c
		}
	}
	return CategoryNone
}

// UnmarshalYAML позволяет писать категорию строкой в YAML
func (c *Category) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*c = ParseCategory(s)
	return nil
}

// MarshalYAML пишет категорию строкой
func (c Category) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// Definition - одно определение биома из реестра хоста
type Definition struct {
	ID       ID       `yaml:"id"`
	Category Category `yaml:"category"`
}

// Registry - перечислимый набор всех известных определений биомов
type Registry interface {
	Definitions() []Definition
}

// StaticRegistry - реестр на основе среза. Повторный ID заменяет прежнее определение.
type StaticRegistry struct {
	defs  []Definition
	index map[ID]int
}

// NewStaticRegistry создаёт реестр из определений
func NewStaticRegistry(defs ...Definition) *StaticRegistry {
	r := &StaticRegistry{index: make(map[ID]int)}
	r.Add(defs...)
	return r
}

// Add добавляет определения в реестр
func (r *StaticRegistry) Add(defs ...Definition) {
	for _, d := range defs {
		if i, ok := r.index[d.ID]; ok {
			r.defs[i] = d
			continue
		}
		r.index[d.ID] = len(r.defs)
		r.defs = append(r.defs, d)
	}
}

// Definitions возвращает копию определений в порядке регистрации
func (r *StaticRegistry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup возвращает определение по ID
func (r *StaticRegistry) Lookup(id ID) (Definition, bool) {
	i, ok := r.index[id]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Len возвращает число определений
func (r *StaticRegistry) Len() int { return len(r.defs) }

type registryFile struct {
	Biomes []Definition `yaml:"biomes"`
}

// LoadRegistryYAML читает дополнительные (модовые) биомы из YAML файла:
//
//	biomes:
//	  - id: "mymod:lagoon"
//	    category: ocean
func LoadRegistryYAML(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, d := range f.Biomes {
		if d.ID == "" {
			return nil, fmt.Errorf("%s: biome #%d: empty id", path, i)
		}
	}
	return f.Biomes, nil
}

// vanilla категории биомов хоста
var vanilla = map[Category][]string{
	CategoryOcean: {
		"ocean", "deep_ocean", "frozen_ocean", "deep_frozen_ocean", "cold_ocean",
		"deep_cold_ocean", "lukewarm_ocean", "deep_lukewarm_ocean", "warm_ocean", "deep_warm_ocean",
	},
	CategoryRiver:  {"river", "frozen_river"},
	CategoryBeach:  {"beach", "snowy_beach"},
	CategorySwamp:  {"swamp", "swamp_hills"},
	CategoryPlains: {"plains", "sunflower_plains"},
	CategoryDesert: {"desert", "desert_hills", "desert_lakes"},
	CategoryExtremeHills: {
		"mountains", "gravelly_mountains", "wooded_mountains",
		"modified_gravelly_mountains", "mountain_edge",
	},
	CategoryForest: {
		"forest", "flower_forest", "wooded_hills", "birch_forest", "birch_forest_hills",
		"tall_birch_forest", "tall_birch_hills", "dark_forest", "dark_forest_hills",
	},
	CategoryTaiga: {
		"taiga", "taiga_hills", "taiga_mountains", "snowy_taiga", "snowy_taiga_hills",
		"snowy_taiga_mountains", "giant_tree_taiga", "giant_tree_taiga_hills",
		"giant_spruce_taiga", "giant_spruce_taiga_hills",
	},
	CategoryIcy: {"snowy_tundra", "snowy_mountains", "ice_spikes"},
	CategoryJungle: {
		"jungle", "jungle_hills", "modified_jungle", "jungle_edge",
		"modified_jungle_edge", "bamboo_jungle", "bamboo_jungle_hills",
	},
	CategorySavanna: {"savanna", "savanna_plateau", "shattered_savanna", "shattered_savanna_plateau"},
	CategoryMesa: {
		"badlands", "wooded_badlands_plateau", "badlands_plateau", "eroded_badlands",
		"modified_wooded_badlands_plateau", "modified_badlands_plateau",
	},
	CategoryMushroom: {"mushroom_fields", "mushroom_field_shore"},
	CategoryNether:   {"nether_wastes", "soul_sand_valley", "crimson_forest", "warped_forest", "basalt_deltas"},
	CategoryTheEnd:   {"the_end", "small_end_islands", "end_midlands", "end_highlands", "end_barrens"},
	CategoryNone:     {"stone_shore", "the_void"},
}

// VanillaDefinitions возвращает стандартные биомы хоста, отсортированные по ID
func VanillaDefinitions() []Definition {
	defs := make([]Definition, 0, 80)
	for cat, names := range vanilla {
		for _, name := range names {
			defs = append(defs, Definition{ID: ID("minecraft:" + name), Category: cat})
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}
