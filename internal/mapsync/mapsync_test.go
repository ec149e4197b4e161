package mapsync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/protocol"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overworld = "minecraft:overworld"

func TestTileStore_PublishesFrame(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()

	got := make(chan *eventbus.Envelope, 1)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventTileChanged}}, func(_ context.Context, ev *eventbus.Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	store := NewTileStore(tile.NewMemoryStore(), bus)
	require.NoError(t, store.PutTile(context.Background(), overworld, "minecraft:river", vec.Vec2{X: 4, Y: -9}))

	id, found, err := store.GetTile(context.Background(), overworld, vec.Vec2{X: 4, Y: -9})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tile.ID("minecraft:river"), id)

	select {
	case ev := <-got:
		assert.Equal(t, overworld, ev.Dimension)
		msgType, payload, err := protocol.DecodeFrame(ev.Payload)
		require.NoError(t, err)
		require.Equal(t, protocol.MsgTileUpdate, msgType)

		upd := &protocol.TileUpdate{}
		require.NoError(t, upd.Decode(payload))
		assert.Equal(t, int32(4), upd.X)
		assert.Equal(t, int32(-9), upd.Z)
		assert.Equal(t, "minecraft:river", upd.Tile)
	case <-time.After(time.Second):
		t.Fatal("Событие tile.changed не получено")
	}
}

func TestTileStore_PublishFailureKeepsWrite(t *testing.T) {
	bus := eventbus.NewMemoryBus(4)
	require.NoError(t, bus.Close())

	store := NewTileStore(tile.NewMemoryStore(), bus)
	require.NoError(t, store.PutTile(context.Background(), overworld, "x", vec.Vec2{}))
	assert.Equal(t, uint64(1), store.PublishErrors())

	_, found, err := store.GetTile(context.Background(), overworld, vec.Vec2{})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTileStore_ScanPassthrough(t *testing.T) {
	bus := eventbus.NewMemoryBus(4)
	defer bus.Close()

	store := NewTileStore(tile.NewMemoryStore(), bus)
	require.NoError(t, store.PutTile(context.Background(), overworld, "x", vec.Vec2{X: 1}))

	var entries []tile.Entry
	require.NoError(t, store.Scan(context.Background(), overworld, func(e tile.Entry) error {
		entries = append(entries, e)
		return nil
	}))
	assert.Equal(t, []tile.Entry{{Chunk: vec.Vec2{X: 1}, Tile: "x"}}, entries)
}

func TestMarkerStore_Publishes(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()

	got := make(chan *eventbus.Envelope, 1)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventMarkerAdded}}, func(_ context.Context, ev *eventbus.Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	store := NewMarkerStore(marker.NewMemoryStore(), bus)
	mk, err := store.PutGlobalMarker(context.Background(), overworld, false, "antiqueatlas:village", "Village", 100, 200)
	require.NoError(t, err)

	select {
	case ev := <-got:
		_, payload, err := protocol.DecodeFrame(ev.Payload)
		require.NoError(t, err)
		added := &protocol.MarkerAdded{}
		require.NoError(t, added.Decode(payload))
		assert.Equal(t, mk.ID, added.MarkerID)
		assert.Equal(t, int32(100), added.X)
	case <-time.After(time.Second):
		t.Fatal("Событие marker.added не получено")
	}
}

// startServer поднимает сервер с уже заполненной картой
func startServer(t *testing.T, ln net.Listener) (*Server, *TileStore, *MarkerStore) {
	t.Helper()

	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { bus.Close() })

	tiles := NewTileStore(tile.NewMemoryStore(), bus)
	markers := NewMarkerStore(marker.NewMemoryStore(), bus)
	ctx := context.Background()
	require.NoError(t, tiles.PutTile(ctx, overworld, "minecraft:plains", vec.Vec2{X: 0, Y: 0}))
	require.NoError(t, tiles.PutTile(ctx, overworld, "minecraft:river", vec.Vec2{X: 1, Y: -1}))
	require.NoError(t, tiles.PutTile(ctx, overworld, "minecraft:ocean", vec.Vec2{X: 5, Y: 5}))

	srv := NewServer(ln, tiles, bus)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, tiles, markers
}

func runSyncScenario(t *testing.T, network string, srv *Server, tiles *TileStore, markers *MarkerStore) {
	conn, err := Dial(network, srv.Addr().String())
	require.NoError(t, err)

	local := tile.NewMemoryStore()
	client := NewClient(conn, local)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Радиус 1 вокруг (0,0): (5,5) не попадает
	require.NoError(t, client.Request(overworld, vec.Vec2{}, 1))
	require.Eventually(t, func() bool { return local.Len(overworld) == 2 }, 3*time.Second, 10*time.Millisecond)

	_, found, err := local.GetTile(context.Background(), overworld, vec.Vec2{X: 5, Y: 5})
	require.NoError(t, err)
	assert.False(t, found)

	// Изменения после запроса приходят сами
	require.NoError(t, tiles.PutTile(context.Background(), overworld, "antiqueatlas:village_house", vec.Vec2{X: 1, Y: -1}))
	require.Eventually(t, func() bool {
		id, _, _ := local.GetTile(context.Background(), overworld, vec.Vec2{X: 1, Y: -1})
		return id == "antiqueatlas:village_house"
	}, 3*time.Second, 10*time.Millisecond)

	_, err = markers.PutGlobalMarker(context.Background(), overworld, false, "antiqueatlas:village", "Village", 8, 8)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(client.Markers(overworld)) == 1 }, 3*time.Second, 10*time.Millisecond)

	// События другого измерения клиенту не отправляются
	require.NoError(t, tiles.PutTile(context.Background(), "minecraft:the_nether", "minecraft:nether_wastes", vec.Vec2{}))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, local.Len("minecraft:the_nether"))
}

func TestServer_TCP(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	require.NoError(t, err)

	srv, tiles, markers := startServer(t, ln)
	runSyncScenario(t, "tcp", srv, tiles, markers)
}

func TestServer_KCP(t *testing.T) {
	ln, err := ListenKCP("127.0.0.1:0")
	require.NoError(t, err)

	srv, tiles, markers := startServer(t, ln)
	runSyncScenario(t, "kcp", srv, tiles, markers)
}

func TestServer_BadFrameKeepsConnection(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	srv, _, _ := startServer(t, ln)

	conn, err := Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	// TileUpdate серверу не адресован: сообщение отбрасывается, соединение живёт
	require.NoError(t, protocol.WriteFrame(conn, &protocol.TileUpdate{Dimension: overworld, Tile: "x"}))

	local := tile.NewMemoryStore()
	client := NewClient(conn, local)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, client.Request(overworld, vec.Vec2{}, 0))
	require.Eventually(t, func() bool { return local.Len(overworld) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Clients())
}

func TestDial_UnknownNetwork(t *testing.T) {
	_, err := Dial("carrier-pigeon", "127.0.0.1:1")
	assert.Error(t, err)
}
