package structure

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed rules.schema.json
var rulesSchemaJSON string

var (
	rulesSchemaOnce sync.Once
	rulesSchema     *jsonschema.Schema
	rulesSchemaErr  error
)

func compiledRulesSchema() (*jsonschema.Schema, error) {
	rulesSchemaOnce.Do(func() {
		rulesSchema, rulesSchemaErr = jsonschema.CompileString("rules.schema.json", rulesSchemaJSON)
	})
	return rulesSchema, rulesSchemaErr
}

// TileRuleSpec - правило тайла в файле конфигурации
type TileRuleSpec struct {
	Kind      Kind    `yaml:"kind"`
	Priority  int     `yaml:"priority"`
	Tile      tile.ID `yaml:"tile"`
	Placement string  `yaml:"placement"`
}

// MarkerRuleSpec - правило маркера в файле конфигурации
type MarkerRuleSpec struct {
	Kind  Kind   `yaml:"kind"`
	Type  string `yaml:"type"`
	Label string `yaml:"label"`
}

// Rules - набор правил, регистрируемых до начала обработки мира
type Rules struct {
	Tiles   []TileRuleSpec   `yaml:"tiles"`
	Markers []MarkerRuleSpec `yaml:"markers"`
}

// DefaultRules - правила для стандартных структур хоста
func DefaultRules() Rules {
	return Rules{
		Tiles: []TileRuleSpec{
			{Kind: "minecraft:village/town_center", Priority: 5, Tile: "antiqueatlas:village_well"},
			{Kind: "minecraft:village/house", Priority: 10, Tile: "antiqueatlas:village_house"},
			{Kind: "minecraft:village/farm", Priority: 20, Tile: "antiqueatlas:village_farmland"},
			{Kind: "minecraft:village/street", Priority: 40, Tile: "antiqueatlas:village_path", Placement: "all"},
			{Kind: "minecraft:nefcr", Priority: 10, Tile: "antiqueatlas:nether_bridge_crossing"},
			{Kind: "minecraft:nebs", Priority: 30, Tile: "antiqueatlas:nether_bridge", Placement: "all"},
			{Kind: "minecraft:ecrh", Priority: 10, Tile: "antiqueatlas:end_city"},
		},
		Markers: []MarkerRuleSpec{
			{Kind: "minecraft:village", Type: "antiqueatlas:village", Label: "gui.antiqueatlas.marker.village"},
			{Kind: "minecraft:fortress", Type: "antiqueatlas:nether_fortress", Label: "gui.antiqueatlas.marker.netherFortress"},
			{Kind: "minecraft:endcity", Type: "antiqueatlas:end_city", Label: "gui.antiqueatlas.marker.endCity"},
		},
	}
}

// LoadRules читает правила из YAML файла и проверяет их по JSON Schema
func LoadRules(path string) (Rules, error) {
	var r Rules
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := ValidateRules(raw); err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ValidateRules проверяет YAML документ правил по схеме rules.schema.json
func ValidateRules(raw []byte) error {
	schema, err := compiledRulesSchema()
	if err != nil {
		return fmt.Errorf("rules schema: %w", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil // пустой файл - пустой набор правил
	}

	// Схема проверяет JSON-значения: прогоняем YAML через encoding/json
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(buf, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Apply регистрирует правила в резолверах
func (r Rules) Apply(tiles *TileResolver, markers *MarkerResolver) error {
	for i, spec := range r.Tiles {
		if spec.Kind == "" || spec.Tile == tile.None {
			return fmt.Errorf("tile rule #%d: kind and tile are required", i)
		}
		placement, err := ParsePlacement(spec.Placement)
		if err != nil {
			return fmt.Errorf("tile rule #%d (%s): %w", i, spec.Kind, err)
		}
		if err := tiles.RegisterTile(spec.Kind, spec.Priority, spec.Tile, placement); err != nil {
			return err
		}
	}

	for i, spec := range r.Markers {
		if spec.Kind == "" || spec.Type == "" {
			return fmt.Errorf("marker rule #%d: kind and type are required", i)
		}
		if err := markers.RegisterMarker(spec.Kind, spec.Type, spec.Label); err != nil {
			return err
		}
	}
	return nil
}
