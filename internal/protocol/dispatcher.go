package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/mmo-atlas/internal/logging"
)

var (
	// ErrWrongSide - сообщение пришло на сторону, где его нельзя обрабатывать
	ErrWrongSide = errors.New("protocol: message not valid on this side")
	// ErrDecode - повреждённый кадр или полезная нагрузка; соединение остаётся рабочим
	ErrDecode = errors.New("protocol: decode failed")
	// ErrUnknownMessage - тип сообщения не зарегистрирован
	ErrUnknownMessage = errors.New("protocol: unknown message type")
)

// Factory создаёт пустое сообщение для декодирования
type Factory func() Message

// Handler обрабатывает декодированное сообщение
type Handler func(ctx context.Context, msg Message) error

type route struct {
	factory Factory
	handler Handler
}

// DispatcherStats - счётчики диспетчера
type DispatcherStats struct {
	Handled      uint64
	WrongSide    uint64
	DecodeErrors uint64
	Unknown      uint64
}

// Dispatcher маршрутизирует кадры к обработчикам по типу сообщения
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[MsgType]route

	handled      atomic.Uint64
	wrongSide    atomic.Uint64
	decodeErrors atomic.Uint64
	unknown      atomic.Uint64
}

// NewDispatcher создаёт пустой диспетчер
func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[MsgType]route)}
}

// Register задаёт фабрику и обработчик для типа; nil factory означает NewMessage
func (d *Dispatcher) Register(t MsgType, factory Factory, handler Handler) {
	if factory == nil {
		factory = func() Message {
			msg, _ := NewMessage(t)
			return msg
		}
	}

	d.mu.Lock()
	d.routes[t] = route{factory: factory, handler: handler}
	d.mu.Unlock()
}

// Handle декодирует кадр и вызывает обработчик.
// Ошибки декодирования касаются только этого сообщения.
func (d *Dispatcher) Handle(ctx context.Context, side Side, frame []byte) error {
	msgType, payload, err := DecodeFrame(frame)
	if err != nil {
		d.decodeErrors.Add(1)
		return err
	}

	d.mu.RLock()
	rt, ok := d.routes[msgType]
	d.mu.RUnlock()

	var msg Message
	if ok {
		msg = rt.factory()
	}
	if msg == nil {
		d.unknown.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}

	if !msg.ValidOn(side) {
		d.wrongSide.Add(1)
		logging.Warn("⚠️ Сообщение %s отклонено на стороне %s", msgType, side)
		return fmt.Errorf("%w: %s on %s", ErrWrongSide, msgType, side)
	}

	if err := msg.Decode(payload); err != nil {
		d.decodeErrors.Add(1)
		logging.Debug("Не удалось декодировать %s: %v", msgType, err)
		return fmt.Errorf("%w: %s: %v", ErrDecode, msgType, err)
	}

	d.handled.Add(1)
	if rt.handler == nil {
		return nil
	}
	return rt.handler(ctx, msg)
}

// Stats возвращает снимок счётчиков
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Handled:      d.handled.Load(),
		WrongSide:    d.wrongSide.Load(),
		DecodeErrors: d.decodeErrors.Load(),
		Unknown:      d.unknown.Load(),
	}
}
