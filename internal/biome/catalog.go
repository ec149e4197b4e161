package biome

// Class - грубая категория приоритета биома при голосовании за тайл
type Class uint8

const (
	ClassOther Class = iota
	ClassWater
	ClassBeach
	ClassSwamp
)

// String возвращает строковое представление класса
func (c Class) String() string {
	switch c {
	case ClassWater:
		return "water"
	case ClassBeach:
		return "beach"
	case ClassSwamp:
		return "swamp"
	default:
		return "other"
	}
}

// Базовые веса голоса столбца за свой биом
const (
	WeightWater = 4
	WeightBeach = 3
	WeightOther = 1
)

// Catalog разбивает все известные биомы на классы приоритета.
// Строится один раз и после этого только читается, поэтому
// безопасен для конкурентного чтения без блокировок.
type Catalog struct {
	water map[ID]struct{}
	beach map[ID]struct{}
	swamp map[ID]struct{}
}

// NewCatalog обходит все определения реестра и раскладывает их по классам.
// Beach -> пляж, River/Ocean -> вода, Swamp -> болото, остальное не запоминается.
func NewCatalog(reg Registry) *Catalog {
	c := &Catalog{
		water: make(map[ID]struct{}),
		beach: make(map[ID]struct{}),
		swamp: make(map[ID]struct{}),
	}
	if reg == nil {
		return c
	}

	for _, def := range reg.Definitions() {
		switch def.Category {
		case CategoryBeach:
			c.beach[def.ID] = struct{}{}
		case CategoryRiver, CategoryOcean:
			c.water[def.ID] = struct{}{}
		case CategorySwamp:
			c.swamp[def.ID] = struct{}{}
		}
	}
	return c
}

// Classify возвращает класс биома; неизвестный биом считается ClassOther
func (c *Catalog) Classify(id ID) Class {
	if _, ok := c.water[id]; ok {
		return ClassWater
	}
	if _, ok := c.beach[id]; ok {
		return ClassBeach
	}
	if _, ok := c.swamp[id]; ok {
		return ClassSwamp
	}
	return ClassOther
}

// Weight возвращает вес голоса одного столбца за биом id
func (c *Catalog) Weight(id ID) int {
	switch c.Classify(id) {
	case ClassWater:
		return WeightWater
	case ClassBeach:
		return WeightBeach
	default:
		return WeightOther
	}
}

// IsSwamp сообщает, относится ли биом к болотам
func (c *Catalog) IsSwamp(id ID) bool {
	_, ok := c.swamp[id]
	return ok
}

// Sizes возвращает размеры классов (вода, пляж, болото) для логов
func (c *Catalog) Sizes() (water, beach, swamp int) {
	return len(c.water), len(c.beach), len(c.swamp)
}
