package mapsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/protocol"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/xtaci/kcp-go/v5"
)

// Dial подключается к серверу карты; network - "tcp" или "kcp"
func Dial(network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "":
		return net.Dial("tcp", addr)
	case "kcp":
		sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		tuneKCP(sess)
		return sess, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Client - клиентская копия карты: применяет присланные сервером тайлы и маркеры
type Client struct {
	conn  net.Conn
	tiles tile.Store

	wmu sync.Mutex

	mu      sync.RWMutex
	markers map[string]marker.Marker
}

// NewClient создаёт клиента; тайлы сервера пишутся в tiles
func NewClient(conn net.Conn, tiles tile.Store) *Client {
	return &Client{
		conn:    conn,
		tiles:   tiles,
		markers: make(map[string]marker.Marker),
	}
}

// Request запрашивает тайлы квадрата радиуса radius вокруг чанка
func (c *Client) Request(dim string, chunk vec.Vec2, radius int) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, &protocol.MapRequest{
		Dimension: dim,
		X:         int32(chunk.X),
		Z:         int32(chunk.Y),
		Radius:    int32(radius),
	})
}

// Markers возвращает полученные маркеры измерения, отсортированные по ID
func (c *Client) Markers(dim string) []marker.Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]marker.Marker, 0, len(c.markers))
	for _, mk := range c.markers {
		if mk.Dimension == dim {
			out = append(out, mk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run читает кадры до закрытия соединения или отмены ctx
func (c *Client) Run(ctx context.Context) error {
	dispatcher := protocol.NewDispatcher()
	dispatcher.Register(protocol.MsgTileUpdate, nil, func(ctx context.Context, msg protocol.Message) error {
		m := msg.(*protocol.TileUpdate)
		return c.tiles.PutTile(ctx, m.Dimension, tile.ID(m.Tile), vec.Vec2{X: int(m.X), Y: int(m.Z)})
	})
	dispatcher.Register(protocol.MsgTileGroups, nil, func(ctx context.Context, msg protocol.Message) error {
		m := msg.(*protocol.TileGroups)
		for _, t := range m.Tiles {
			if err := c.tiles.PutTile(ctx, m.Dimension, tile.ID(t.Tile), vec.Vec2{X: int(t.X), Y: int(t.Z)}); err != nil {
				return err
			}
		}
		return nil
	})
	dispatcher.Register(protocol.MsgMarkerAdded, nil, func(ctx context.Context, msg protocol.Message) error {
		m := msg.(*protocol.MarkerAdded)
		c.mu.Lock()
		c.markers[m.MarkerID] = marker.Marker{
			ID:        m.MarkerID,
			Type:      m.Type,
			Label:     m.Label,
			Dimension: m.Dimension,
			X:         int(m.X),
			Z:         int(m.Z),
			Global:    m.Global,
		}
		c.mu.Unlock()
		return nil
	})

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		frame, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return ctx.Err()
			}
			return err
		}

		err = dispatcher.Handle(ctx, protocol.SideClient, frame)
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) || errors.Is(err, protocol.ErrWrongSide) || errors.Is(err, protocol.ErrUnknownMessage) {
				logging.Warn("Клиент карты: сообщение отброшено: %v", err)
				continue
			}
			return err
		}
	}
}

// Close закрывает соединение
func (c *Client) Close() error {
	return c.conn.Close()
}
