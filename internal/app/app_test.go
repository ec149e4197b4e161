package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/annel0/mmo-atlas/internal/config"
	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/mapsync"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/annel0/mmo-atlas/internal/worldgen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overworld = "minecraft:overworld"

// offlineConfig - без сетевых listener'ов
func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPPort = -1
	cfg.Server.SyncTCPPort = -1
	cfg.Server.SyncKCPPort = -1
	cfg.Server.MetricsPort = -1
	return cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	reg := prometheus.NewRegistry()
	a, err := Build(context.Background(), cfg, reg, reg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Stop(ctx))
	})
	return a
}

func TestBuild_MemoryBackends(t *testing.T) {
	a := build(t, offlineConfig())

	plains := detector.NewGrid(vec.Vec2{X: 1, Y: 1}, detector.Column{Biome: "minecraft:plains", Height: 70})
	id, err := a.Service.OnChunkGenerated(context.Background(), overworld, detector.SeaLevel(63), plains)
	require.NoError(t, err)
	assert.Equal(t, tile.ID("minecraft:plains"), id)

	w := httptest.NewRecorder()
	a.API.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tiles/minecraft:overworld/1/1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "minecraft:plains")

	w = httptest.NewRecorder()
	a.API.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Contains(t, stats.Data, "sync")
	assert.Contains(t, stats.Data, "eventbus")
}

func TestBuild_PublishesTileChanges(t *testing.T) {
	a := build(t, offlineConfig())

	got := make(chan *eventbus.Envelope, 4)
	sub, err := a.Bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventTileChanged}},
		func(ctx context.Context, ev *eventbus.Envelope) { got <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, a.Tiles.PutTile(context.Background(), overworld, "minecraft:forest", vec.Vec2{X: 4, Y: 4}))

	select {
	case ev := <-got:
		assert.Equal(t, overworld, ev.Dimension)
		assert.Equal(t, mapsync.Source, ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("событие tile.changed не получено")
	}
}

func TestBuild_FrozenRules(t *testing.T) {
	a := build(t, offlineConfig())

	// Правила по умолчанию применены: дом деревни перекрывает биом
	box := vec.NewBox(vec.Vec3{X: 2, Y: 60, Z: 2}, vec.Vec3{X: 8, Y: 66, Z: 8})
	n, err := a.Service.OnStructurePiecePlaced(context.Background(), overworld, structure.Piece{Kind: "minecraft:village/house", Box: box})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuild_RulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiles:
  - kind: "custom:tower"
    priority: 1
    tile: "custom:tower_tile"
markers: []
`), 0o644))

	cfg := offlineConfig()
	cfg.Structures.RulesFile = path
	a := build(t, cfg)

	box := vec.NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 3, Y: 3, Z: 3})
	n, err := a.Service.OnStructurePiecePlaced(context.Background(), overworld, structure.Piece{Kind: "custom:tower", Box: box})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.Service.OnStructurePiecePlaced(context.Background(), overworld, structure.Piece{Kind: "minecraft:village/house", Box: box})
	require.NoError(t, err)
	assert.Zero(t, n, "Правила по умолчанию заменены файлом")
}

func TestBuild_BadgerBackends(t *testing.T) {
	cfg := offlineConfig()
	cfg.Storage.Backend = "badger"
	cfg.Storage.Path = t.TempDir()
	cfg.Markers.Backend = "badger"
	a := build(t, cfg)

	box := vec.NewBox(vec.Vec3{X: 90, Y: 60, Z: 190}, vec.Vec3{X: 109, Y: 80, Z: 209})
	_, ok, err := a.Service.OnStructureCompleted(context.Background(), overworld, structure.Start{Kind: "minecraft:village", Box: box})
	require.NoError(t, err)
	require.True(t, ok)

	list, err := a.Markers.List(context.Background(), overworld)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Persistent)
}

func TestBuild_SQLiteTiles(t *testing.T) {
	cfg := offlineConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = t.TempDir()
	a := build(t, cfg)

	pos := vec.Vec2{X: -2, Y: 5}
	grid := detector.NewGrid(pos, detector.Column{Biome: "minecraft:desert", Height: 70})
	id, err := a.Service.OnChunkGenerated(context.Background(), overworld, detector.SeaLevel(63), grid)
	require.NoError(t, err)
	assert.Equal(t, tile.ID("minecraft:desert"), id)

	assert.FileExists(t, filepath.Join(cfg.Storage.Path, "atlas.db"))
}

func TestBuild_InvalidBiomesFile(t *testing.T) {
	cfg := offlineConfig()
	cfg.BiomesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, prometheus.NewRegistry(), nil)
	assert.Error(t, err)
}

func TestBuild_FailedSyncListenReleasesPorts(t *testing.T) {
	free, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	tcpPort := free.Addr().(*net.TCPAddr).Port
	require.NoError(t, free.Close())

	// KCP порт занят: Build падает после открытия TCP
	busy, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := offlineConfig()
	cfg.Server.SyncTCPPort = tcpPort
	cfg.Server.SyncKCPPort = busy.LocalAddr().(*net.UDPAddr).Port
	_, err = Build(context.Background(), cfg, prometheus.NewRegistry(), nil)
	require.Error(t, err)

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(tcpPort))
	require.NoError(t, err, "TCP listener остался открытым после неудачного Build")
	ln.Close()
}

func TestRunDemo(t *testing.T) {
	a := build(t, offlineConfig())
	gen := worldgen.New(2024)
	gen.VillageChance = 1

	res, err := a.RunDemo(context.Background(), gen, overworld, 2)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Chunks)
	assert.Equal(t, 25, res.Tiles, "У сгенерированных чанков всегда есть биомы")

	markers, err := a.Markers.List(context.Background(), overworld)
	require.NoError(t, err)
	assert.Len(t, markers, res.Villages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.RunDemo(ctx, gen, overworld, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
