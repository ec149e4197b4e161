package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/annel0/mmo-atlas/internal/auth"
	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/observability"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/tile"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации atlasd
type Config struct {
	// LogLevel - общий уровень и уровни компонентов: "info,sync=debug,api=warn"
	LogLevel string `yaml:"log_level"`

	// BiomesFile - YAML с категориями биомов; пусто - встроенный набор
	BiomesFile string           `yaml:"biomes_file"`
	Detector   detector.Options `yaml:"detector"`

	Structures StructuresConfig     `yaml:"structures"`
	Storage    StorageConfig        `yaml:"storage"`
	Markers    MarkersConfig        `yaml:"markers"`
	EventBus   EventBusConfig       `yaml:"eventbus"`
	Server     ServerConfig         `yaml:"server"`
	Telemetry  observability.Config `yaml:"telemetry"`
	Auth       AuthConfig           `yaml:"auth"`
	Demo       DemoConfig           `yaml:"demo"`
}

type StructuresConfig struct {
	// RulesFile - YAML с правилами тайлов и маркеров; пусто - правила по умолчанию
	RulesFile        string `yaml:"rules_file"`
	PriorityPolicy   string `yaml:"priority_policy"`
	TemporaryMarkers bool   `yaml:"temporary_markers"`
}

type StorageConfig struct {
	Backend string           `yaml:"backend"` // memory | badger | mysql | sqlite
	Path    string           `yaml:"path"`
	Maria   tile.MariaConfig `yaml:"maria"`
	// Redis включает кеш тайлов, если задан addr
	Redis tile.RedisConfig `yaml:"redis"`
}

type MarkersConfig struct {
	Backend string             `yaml:"backend"` // memory | badger | mongo
	Mongo   marker.MongoConfig `yaml:"mongo"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type ServerConfig struct {
	HTTPPort    int `yaml:"http_port"`
	SyncTCPPort int `yaml:"sync_tcp_port"`
	SyncKCPPort int `yaml:"sync_kcp_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type AuthConfig struct {
	// JWTSecret - base64 ключ от 32 байт; пусто - случайный на время работы процесса
	JWTSecret string         `yaml:"jwt_secret"`
	TokenTTL  time.Duration  `yaml:"token_ttl"`
	Operators auth.Operators `yaml:"operators"`
}

// DemoConfig - генерация мира встроенным генератором вместо хоста
type DemoConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Seed      int64  `yaml:"seed"`
	Radius    int    `yaml:"radius"`
	Dimension string `yaml:"dimension"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Detector = detector.DefaultOptions()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}
	if c.Markers.Backend == "" {
		c.Markers.Backend = "memory"
	}
	if c.EventBus.Backend == "" {
		c.EventBus.Backend = "memory"
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "ATLAS"
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = 24
	}
	if c.EventBus.Capacity <= 0 {
		c.EventBus.Capacity = 1024
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Demo.Radius <= 0 {
		c.Demo.Radius = 8
	}
	if c.Demo.Dimension == "" {
		c.Demo.Dimension = "minecraft:overworld"
	}
}

// Validate проверяет значения перечислений
func (c *Config) Validate() error {
	if _, err := structure.ParsePriorityPolicy(c.Structures.PriorityPolicy); err != nil {
		return fmt.Errorf("structures.priority_policy: %w", err)
	}
	switch c.Storage.Backend {
	case "memory", "badger", "mysql", "sqlite":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch c.Markers.Backend {
	case "memory", "badger", "mongo":
	default:
		return fmt.Errorf("markers.backend: unknown backend %q", c.Markers.Backend)
	}
	if c.Markers.Backend == "badger" && c.Storage.Backend != "badger" {
		return fmt.Errorf("markers.backend: badger requires storage.backend badger")
	}
	switch c.EventBus.Backend {
	case "memory":
	case "jetstream":
		if c.EventBus.URL == "" {
			return fmt.Errorf("eventbus.url is required for jetstream")
		}
	default:
		return fmt.Errorf("eventbus.backend: unknown backend %q", c.EventBus.Backend)
	}
	return nil
}

// RetentionDuration - срок хранения событий в JetStream
func (e EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// GetHTTPPort возвращает порт HTTP API с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "ATLAS_HTTP_PORT", 8088)
}

// GetSyncTCPPort возвращает TCP порт синхронизации карты
func (s *ServerConfig) GetSyncTCPPort() int {
	return getPortWithEnvFallback(s.SyncTCPPort, "ATLAS_SYNC_TCP_PORT", 7777)
}

// GetSyncKCPPort возвращает KCP (UDP) порт синхронизации карты
func (s *ServerConfig) GetSyncKCPPort() int {
	return getPortWithEnvFallback(s.SyncKCPPort, "ATLAS_SYNC_KCP_PORT", 7778)
}

// GetMetricsPort возвращает порт метрик шины событий
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "ATLAS_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default.
// Отрицательный порт в конфиге выключает listener (результат 0).
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if configPort < 0 {
		return 0
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", берёт путь из ENV ATLAS_CONFIG; без файла возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ATLAS_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse разбирает YAML. Неизвестные поля считаются ошибкой.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Detector: detector.DefaultOptions()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
