package mapsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/protocol"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/xtaci/kcp-go/v5"
)

const (
	// IdleTimeout - соединение без входящих кадров закрывается
	IdleTimeout = 2 * time.Minute
	// WriteTimeout - клиент, не принявший кадр за это время, отключается
	WriteTimeout = 10 * time.Second
	// OutboxSize - очередь исходящих кадров одного клиента
	OutboxSize = 256
)

// ListenTCP открывает TCP listener
func ListenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// ListenKCP открывает KCP listener поверх UDP
func ListenKCP(addr string) (net.Listener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	return &kcpListener{ln}, nil
}

// kcpListener настраивает каждую принятую сессию
type kcpListener struct {
	*kcp.Listener
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess)
	return sess, nil
}

// tuneKCP - параметры для интерактивного трафика
func tuneKCP(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1)
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}

// Server отдаёт клиентам тайлы по запросу и пересылает изменения карты
type Server struct {
	listener net.Listener
	tiles    tile.Store
	bus      eventbus.EventBus
	logger   *logging.Logger

	mu     sync.RWMutex
	conns  map[uint64]*serverConn
	nextID uint64
	sub    eventbus.Subscription
	outbox int

	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// serverConn - соединение клиента.
// Пишет в сокет только writeLoop; остальные кладут кадры в out.
type serverConn struct {
	id     uint64
	conn   net.Conn
	server *Server

	out     chan []byte
	done    chan struct{}
	dropped atomic.Uint64

	mu sync.Mutex
	// dim - измерение, которое смотрит клиент (из последнего MapRequest)
	dim string
}

// NewServer создаёт сервер поверх готового listener
func NewServer(ln net.Listener, tiles tile.Store, bus eventbus.EventBus) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: ln,
		tiles:    tiles,
		bus:      bus,
		logger:   logging.GetSyncLogger(),
		conns:    make(map[uint64]*serverConn),
		nextID:   1,
		outbox:   OutboxSize,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Addr возвращает адрес listener
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start подписывается на изменения карты и начинает принимать соединения
func (s *Server) Start() error {
	sub, err := s.bus.Subscribe(s.ctx, eventbus.Filter{
		Types: []string{eventbus.EventTileChanged, eventbus.EventMarkerAdded},
	}, s.broadcast)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.sub = sub

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("🗺️ Сервер синхронизации карты слушает %s", s.listener.Addr())
	return nil
}

// Stop закрывает listener и все соединения
func (s *Server) Stop() {
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.listener.Close()

	s.mu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Clients возвращает количество подключённых клиентов
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Dropped - сколько событий не влезло в очереди медленных клиентов
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Ошибка принятия соединения: %v", err)
			continue
		}

		s.mu.Lock()
		// После Stop соединение не регистрируем: закрывать его уже некому
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		c := &serverConn{
			id:     s.nextID,
			conn:   conn,
			server: s,
			out:    make(chan []byte, s.outbox),
			done:   make(chan struct{}),
		}
		s.nextID++
		s.conns[c.id] = c
		s.wg.Add(2)
		s.mu.Unlock()

		go c.writeLoop()
		go c.serve()
	}
}

// broadcast пересылает кадр события клиентам, смотрящим это измерение.
// Не блокируется: кадр для переполненной очереди отбрасывается.
func (s *Server) broadcast(ctx context.Context, ev *eventbus.Envelope) {
	s.mu.RLock()
	targets := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		// До MapRequest клиент ничего не смотрит
		if c.watching() != ev.Dimension {
			continue
		}
		select {
		case c.out <- ev.Payload:
		default:
			c.dropped.Add(1)
			s.dropped.Add(1)
		}
	}
}

func (c *serverConn) watching() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// send ставит ответ в очередь; ждёт место, пока соединение живо
func (c *serverConn) send(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop - единственный писатель сокета
func (c *serverConn) writeLoop() {
	defer c.server.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if err := c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
				c.conn.Close()
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				if c.server.ctx.Err() == nil {
					c.server.logger.Debug("Клиент %d: ошибка отправки: %v", c.id, err)
				}
				// Разбудит serve: чтение вернёт ошибку
				c.conn.Close()
				return
			}
		}
	}
}

func (c *serverConn) serve() {
	s := c.server
	defer s.wg.Done()
	defer func() {
		close(c.done)
		c.conn.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		if n := c.dropped.Load(); n > 0 {
			s.logger.Warn("Клиент карты %d: пропущено %d событий", c.id, n)
		}
		s.logger.Info("👋 Клиент карты %d отключен", c.id)
	}()

	s.logger.Info("🔗 Клиент карты %d подключен: %s", c.id, c.conn.RemoteAddr())

	dispatcher := protocol.NewDispatcher()
	dispatcher.Register(protocol.MsgMapRequest, nil, func(ctx context.Context, msg protocol.Message) error {
		return c.handleMapRequest(ctx, msg.(*protocol.MapRequest))
	})

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			return
		}
		frame, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.logger.Debug("Клиент %d: чтение: %v", c.id, err)
			}
			return
		}

		err = dispatcher.Handle(s.ctx, protocol.SideServer, frame)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrDecode), errors.Is(err, protocol.ErrWrongSide), errors.Is(err, protocol.ErrUnknownMessage):
			// Ошибка касается только этого сообщения
			s.logger.Warn("Клиент %d: сообщение отброшено: %v", c.id, err)
		case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
			return
		default:
			s.logger.Error("Клиент %d: %v", c.id, err)
			return
		}
	}
}

// handleMapRequest отвечает тайлами квадрата вокруг чанка
func (c *serverConn) handleMapRequest(ctx context.Context, req *protocol.MapRequest) error {
	c.mu.Lock()
	c.dim = req.Dimension
	c.mu.Unlock()

	r := int(req.Radius)
	resp := &protocol.TileGroups{Dimension: req.Dimension}
	for x := int(req.X) - r; x <= int(req.X)+r; x++ {
		for z := int(req.Z) - r; z <= int(req.Z)+r; z++ {
			id, found, err := c.server.tiles.GetTile(ctx, req.Dimension, vec.Vec2{X: x, Y: z})
			if err != nil {
				return fmt.Errorf("map request %s(%d,%d): %w", req.Dimension, x, z, err)
			}
			if !found || id.IsNone() {
				continue
			}
			resp.Tiles = append(resp.Tiles, protocol.TileEntry{X: int32(x), Z: int32(z), Tile: string(id)})
		}
	}

	c.server.logger.Debug("Клиент %d: %d тайлов %s вокруг (%d,%d)", c.id, len(resp.Tiles), req.Dimension, req.X, req.Z)
	return c.send(ctx, resp)
}
