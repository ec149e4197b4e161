// Package app собирает atlasd из конфигурации: хранилища, шина событий,
// сервис карты, серверы синхронизации и HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/annel0/mmo-atlas/internal/api"
	"github.com/annel0/mmo-atlas/internal/atlas"
	"github.com/annel0/mmo-atlas/internal/auth"
	"github.com/annel0/mmo-atlas/internal/biome"
	"github.com/annel0/mmo-atlas/internal/config"
	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/mapsync"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/metrics"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/prometheus/client_golang/prometheus"
)

// App - собранный процесс atlasd
type App struct {
	cfg *config.Config

	Tiles   *mapsync.TileStore
	Markers *mapsync.MarkerStore
	Bus     eventbus.EventBus
	Service *atlas.Service
	API     *api.Server

	syncServers []*mapsync.Server
	exporter    *eventbus.MetricsExporter
	logSub      eventbus.Subscription

	closers []func() error
	wg      sync.WaitGroup
	apiErr  chan error
	started bool
}

// Build создаёт все компоненты, но ничего не запускает.
// reg/gather - регистр метрик; nil означает глобальный.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gather prometheus.Gatherer) (*App, error) {
	a := &App{cfg: cfg, apiErr: make(chan error, 1)}
	if err := a.build(ctx, reg, gather); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, reg prometheus.Registerer, gather prometheus.Gatherer) error {
	cfg := a.cfg

	// === БИОМЫ И КЛАССИФИКАТОР ===
	registry := biome.NewStaticRegistry(biome.VanillaDefinitions()...)
	if cfg.BiomesFile != "" {
		defs, err := biome.LoadRegistryYAML(cfg.BiomesFile)
		if err != nil {
			return fmt.Errorf("biomes: %w", err)
		}
		registry.Add(defs...)
		logging.Info("🌿 Загружено %d дополнительных биомов из %s", len(defs), cfg.BiomesFile)
	}
	catalog := biome.NewCatalog(registry)
	water, beach, swamp := catalog.Sizes()
	logging.Info("🌿 Каталог биомов: вода=%d, пляжи=%d, болота=%d", water, beach, swamp)
	det := detector.New(catalog, cfg.Detector)

	// === ХРАНИЛИЩА ===
	tiles, badgerTiles, err := a.openTiles(ctx)
	if err != nil {
		return err
	}
	markers, err := a.openMarkers(ctx, badgerTiles)
	if err != nil {
		return err
	}

	// === ШИНА СОБЫТИЙ ===
	switch cfg.EventBus.Backend {
	case "jetstream":
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, cfg.EventBus.RetentionDuration())
		if err != nil {
			return err
		}
		a.Bus = js
	default:
		a.Bus = eventbus.NewMemoryBus(cfg.EventBus.Capacity)
	}
	a.closers = append(a.closers, a.Bus.Close)
	a.exporter = eventbus.NewMetricsExporter(a.Bus, reg)

	a.Tiles = mapsync.NewTileStore(tiles, a.Bus)
	a.Markers = mapsync.NewMarkerStore(markers, a.Bus)

	// === ПРАВИЛА СТРУКТУР ===
	policy, err := structure.ParsePriorityPolicy(cfg.Structures.PriorityPolicy)
	if err != nil {
		return err
	}
	pieces := structure.NewTileResolver(a.Tiles, policy)
	starts := structure.NewMarkerResolver(a.Markers)
	starts.Temporary = cfg.Structures.TemporaryMarkers

	rules := structure.DefaultRules()
	if cfg.Structures.RulesFile != "" {
		if rules, err = structure.LoadRules(cfg.Structures.RulesFile); err != nil {
			return fmt.Errorf("structures: %w", err)
		}
	}
	if err := rules.Apply(pieces, starts); err != nil {
		return fmt.Errorf("structures: %w", err)
	}
	logging.Info("🏘️ Правила структур: %d тайловых, %d маркерных", len(rules.Tiles), len(rules.Markers))

	a.Service = atlas.NewService(det, a.Tiles, pieces, starts, atlas.WithMetrics(metrics.NewAtlas(reg)))

	// === СЕРВЕРЫ ===
	if err := a.listenSync(); err != nil {
		return err
	}

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn("⚠️ auth.jwt_secret не задан: токены действительны до перезапуска")
	}

	a.API = api.NewServer(api.Config{
		Addr:       ":" + strconv.Itoa(cfg.Server.GetHTTPPort()),
		Tiles:      a.Tiles,
		Markers:    a.Markers,
		Signer:     signer,
		Operators:  cfg.Auth.Operators,
		Registerer: reg,
		Gatherer:   gather,
		Stats:      a.Stats,
		Bus:        a.Bus,
	})
	return nil
}

// openTiles открывает хранилище тайлов и, если задан addr, кеш Redis перед ним
func (a *App) openTiles(ctx context.Context) (tile.Store, *tile.BadgerStore, error) {
	cfg := a.cfg.Storage

	var store tile.Store
	var badgerStore *tile.BadgerStore
	switch cfg.Backend {
	case "badger":
		s, err := tile.NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		store, badgerStore = s, s
		logging.Info("💾 Тайлы: BadgerDB %s", cfg.Path)
	case "mysql":
		s, err := tile.NewSQLStore(ctx, cfg.Maria)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
		logging.Info("💾 Тайлы: MariaDB %s:%d", cfg.Maria.Host, cfg.Maria.Port)
	case "sqlite":
		path := filepath.Join(cfg.Path, "atlas.db")
		s, err := tile.NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
		logging.Info("💾 Тайлы: SQLite %s", path)
	default:
		store = tile.NewMemoryStore()
		logging.Info("💾 Тайлы: память")
	}

	if cfg.Redis.Addr != "" {
		redisCfg := cfg.Redis
		cached, err := tile.NewCachedStore(&redisCfg, store)
		if err != nil {
			return nil, nil, err
		}
		store = cached
	}
	return store, badgerStore, nil
}

func (a *App) openMarkers(ctx context.Context, badgerTiles *tile.BadgerStore) (marker.Store, error) {
	switch a.cfg.Markers.Backend {
	case "badger":
		if badgerTiles == nil {
			return nil, errors.New("markers: badger backend requires badger tile storage")
		}
		logging.Info("📍 Маркеры: BadgerDB (общая база с тайлами)")
		return marker.NewBadgerStore(badgerTiles.DB()), nil
	case "mongo":
		s, err := marker.NewMongoStore(ctx, a.cfg.Markers.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		logging.Info("📍 Маркеры: MongoDB %s", a.cfg.Markers.Mongo.URI)
		return s, nil
	default:
		logging.Info("📍 Маркеры: память")
		return marker.NewMemoryStore(), nil
	}
}

// listenSync открывает TCP и KCP listeners синхронизации карты
func (a *App) listenSync() error {
	listeners := []struct {
		name   string
		port   int
		listen func(string) (net.Listener, error)
	}{
		{"TCP", a.cfg.Server.GetSyncTCPPort(), mapsync.ListenTCP},
		{"KCP", a.cfg.Server.GetSyncKCPPort(), mapsync.ListenKCP},
	}

	for _, l := range listeners {
		if l.port == 0 {
			continue
		}
		ln, err := l.listen(":" + strconv.Itoa(l.port))
		if err != nil {
			return fmt.Errorf("sync %s: %w", l.name, err)
		}
		a.syncServers = append(a.syncServers, mapsync.NewServer(ln, a.Tiles, a.Bus))
	}
	return nil
}

// Start запускает серверы синхронизации, HTTP API и экспорт метрик
func (a *App) Start() error {
	a.started = true
	for _, s := range a.syncServers {
		if err := s.Start(); err != nil {
			return err
		}
	}

	if logging.GetLoggerManager().Level(logging.ComponentSync) <= logging.DEBUG {
		sub, err := eventbus.StartLoggingListener(a.Bus)
		if err != nil {
			return err
		}
		a.logSub = sub
	}

	if port := a.cfg.Server.GetMetricsPort(); port > 0 {
		a.exporter.StartHTTP(":" + strconv.Itoa(port))
	} else {
		a.exporter.Start()
	}

	if a.cfg.Server.GetHTTPPort() > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.API.Start(); err != nil {
				logging.Error("❌ HTTP API: %v", err)
				a.apiErr <- err
			}
		}()
	}
	return nil
}

// Err возвращает канал фатальных ошибок фоновых серверов
func (a *App) Err() <-chan error { return a.apiErr }

// Stats - разделы /api/stats
func (a *App) Stats() map[string]interface{} {
	clients := 0
	var dropped uint64
	for _, s := range a.syncServers {
		clients += s.Clients()
		dropped += s.Dropped()
	}
	return map[string]interface{}{
		"sync": map[string]interface{}{
			"clients":        clients,
			"dropped":        dropped,
			"publish_errors": a.Tiles.PublishErrors(),
		},
		"eventbus": a.Bus.Metrics(),
	}
}

// Stop останавливает всё в обратном порядке запуска
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.started {
		if err := a.API.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.wg.Wait()

		for _, s := range a.syncServers {
			s.Stop()
		}
		if a.logSub != nil {
			a.logSub.Unsubscribe()
		}
		a.exporter.Stop()
	}

	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	// Незапущенные серверы держат только listener
	if !a.started {
		for _, s := range a.syncServers {
			s.Stop()
		}
		a.syncServers = nil
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
