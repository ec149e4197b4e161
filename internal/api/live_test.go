package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/mapsync"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveMap(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	tiles := mapsync.NewTileStore(tile.NewMemoryStore(), bus)
	markers := mapsync.NewMarkerStore(marker.NewMemoryStore(), bus)

	srv := NewServer(Config{Tiles: tiles, Markers: markers, Bus: bus, Registerer: prometheus.NewRegistry()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/map/" + overworld
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	// Событие другого измерения отфильтровано
	require.NoError(t, tiles.PutTile(ctx, "minecraft:the_nether", "minecraft:nether_wastes", vec.Vec2{}))
	require.NoError(t, tiles.PutTile(ctx, overworld, "minecraft:river", vec.Vec2{X: 3, Y: -1}))
	_, err = markers.PutGlobalMarker(ctx, overworld, false, "antiqueatlas:village", "Village", 40, 8)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev LiveEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, LiveEvent{Type: "tile", Dimension: overworld, X: 3, Z: -1, Tile: "minecraft:river"}, ev)

	ev = LiveEvent{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "marker", ev.Type)
	require.NotNil(t, ev.Marker)
	assert.Equal(t, "antiqueatlas:village", ev.Marker.Type)
	assert.Equal(t, 40, ev.X)
}

func TestLiveMap_NoBus(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/ws/map/"+overworld, nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLiveEventFrom_IgnoresGarbage(t *testing.T) {
	_, ok := liveEventFrom(eventbus.NewEnvelope("test", eventbus.EventTileChanged, overworld, []byte{1, 2}))
	assert.False(t, ok)
}
