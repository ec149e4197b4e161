package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/protocol"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	liveBuffer       = 256
	liveWriteTimeout = 5 * time.Second
	livePingInterval = 30 * time.Second
)

// LiveEvent - изменение карты для веб-клиентов (/ws/map/:dim)
type LiveEvent struct {
	Type      string         `json:"type"` // tile | marker
	Dimension string         `json:"dimension"`
	X         int            `json:"x"`
	Z         int            `json:"z"`
	Tile      tile.ID        `json:"tile,omitempty"`
	Marker    *marker.Marker `json:"marker,omitempty"`
}

// liveEventFrom разбирает кадр протокола из события шины
func liveEventFrom(ev *eventbus.Envelope) (LiveEvent, bool) {
	msgType, payload, err := protocol.DecodeFrame(ev.Payload)
	if err != nil {
		return LiveEvent{}, false
	}

	switch msgType {
	case protocol.MsgTileUpdate:
		var m protocol.TileUpdate
		if err := m.Decode(payload); err != nil {
			return LiveEvent{}, false
		}
		return LiveEvent{Type: "tile", Dimension: m.Dimension, X: int(m.X), Z: int(m.Z), Tile: tile.ID(m.Tile)}, true
	case protocol.MsgMarkerAdded:
		var m protocol.MarkerAdded
		if err := m.Decode(payload); err != nil {
			return LiveEvent{}, false
		}
		mk := marker.Marker{
			ID:        m.MarkerID,
			Type:      m.Type,
			Label:     m.Label,
			Dimension: m.Dimension,
			X:         int(m.X),
			Z:         int(m.Z),
			Global:    m.Global,
		}
		return LiveEvent{Type: "marker", Dimension: m.Dimension, X: mk.X, Z: mk.Z, Marker: &mk}, true
	}
	return LiveEvent{}, false
}

// handleLive отдаёт изменения карты измерения по WebSocket
func (s *Server) handleLive(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Шина событий не подключена"})
		return
	}
	dim := c.Param("dim")

	// Подписка до upgrade: клиент не теряет события сразу после рукопожатия
	out := make(chan []byte, liveBuffer)
	var dropped atomic.Uint64
	// Контекст запроса после Hijack не отражает жизнь соединения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := s.bus.Subscribe(ctx, eventbus.Filter{
		Types:      []string{eventbus.EventTileChanged, eventbus.EventMarkerAdded},
		Dimensions: []string{dim},
	}, func(_ context.Context, ev *eventbus.Envelope) {
		le, ok := liveEventFrom(ev)
		if !ok {
			return
		}
		b, err := json.Marshal(le)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			dropped.Add(1)
		}
	})
	if err != nil {
		s.internalError(c, "подписка на шину", err)
		return
	}
	defer sub.Unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // Upgrade уже ответил клиенту
	}
	defer conn.Close()
	logging.Debug("🌐 WebSocket клиент %s подписан на %s", c.ClientIP(), dim)

	// Чтение только ради close/pong
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			if n := dropped.Load(); n > 0 {
				logging.Warn("WebSocket клиент %s: пропущено %d событий", c.ClientIP(), n)
			}
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}
