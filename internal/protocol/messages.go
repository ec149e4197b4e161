package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Side - сторона, на которой обрабатывается сообщение
type Side uint8

const (
	SideServer Side = iota
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// MsgType определяет тип сообщения карты
type MsgType uint16

const (
	MsgUnknown     MsgType = 0
	MsgTileUpdate  MsgType = 1
	MsgTileGroups  MsgType = 2
	MsgMarkerAdded MsgType = 3
	MsgMapRequest  MsgType = 4
)

func (t MsgType) String() string {
	switch t {
	case MsgTileUpdate:
		return "TileUpdate"
	case MsgTileGroups:
		return "TileGroups"
	case MsgMarkerAdded:
		return "MarkerAdded"
	case MsgMapRequest:
		return "MapRequest"
	default:
		return fmt.Sprintf("MsgType(%d)", uint16(t))
	}
}

// Message - сообщение протокола синхронизации карты
type Message interface {
	ID() MsgType
	// ValidOn сообщает, можно ли обрабатывать сообщение на стороне side
	ValidOn(side Side) bool
	Encode() ([]byte, error)
	Decode(payload []byte) error
}

// clientBound - сообщения сервер → клиент
type clientBound struct{}

func (clientBound) ValidOn(side Side) bool { return side == SideClient }

// serverBound - сообщения клиент → сервер
type serverBound struct{}

func (serverBound) ValidOn(side Side) bool { return side == SideServer }

// TileUpdate - изменение одного тайла
type TileUpdate struct {
	clientBound
	Dimension string
	X, Z      int32
	Tile      string
}

func (*TileUpdate) ID() MsgType { return MsgTileUpdate }

func (m *TileUpdate) Encode() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Dimension)
	b = appendSint(b, 2, int64(m.X))
	b = appendSint(b, 3, int64(m.Z))
	b = appendString(b, 4, m.Tile)
	return b, nil
}

func (m *TileUpdate) Decode(payload []byte) error {
	*m = TileUpdate{}
	r := wireReader{b: payload}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Dimension = r.string(typ)
		case 2:
			m.X = int32(r.sint(typ))
		case 3:
			m.Z = int32(r.sint(typ))
		case 4:
			m.Tile = r.string(typ)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

// TileEntry - тайл одного чанка в групповой синхронизации
type TileEntry struct {
	X, Z int32
	Tile string
}

// MaxTileGroupEntries ограничивает размер одного TileGroups
const MaxTileGroupEntries = 4096

// MaxTileGroupsPayload - предел распакованного тела TileGroups
const MaxTileGroupsPayload = 1 << 20

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxTileGroupsPayload))
)

// TileGroups - пакетная синхронизация области карты; тело сжато zstd
type TileGroups struct {
	clientBound
	Dimension string
	Tiles     []TileEntry
}

func (*TileGroups) ID() MsgType { return MsgTileGroups }

func (m *TileGroups) Encode() ([]byte, error) {
	if len(m.Tiles) > MaxTileGroupEntries {
		return nil, fmt.Errorf("tile groups: %d entries exceed limit %d", len(m.Tiles), MaxTileGroupEntries)
	}

	var body []byte
	body = appendString(body, 1, m.Dimension)
	var entry []byte
	for _, t := range m.Tiles {
		entry = entry[:0]
		entry = appendSint(entry, 1, int64(t.X))
		entry = appendSint(entry, 2, int64(t.Z))
		entry = appendString(entry, 3, t.Tile)
		body = appendBytes(body, 2, entry)
	}
	return zstdEncoder.EncodeAll(body, nil), nil
}

func (m *TileGroups) Decode(payload []byte) error {
	*m = TileGroups{}
	body, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if len(body) > MaxTileGroupsPayload {
		return fmt.Errorf("tile groups body too large: %d", len(body))
	}

	r := wireReader{b: body}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Dimension = r.string(typ)
		case 2:
			raw := r.bytes(typ)
			if r.err != nil {
				return r.err
			}
			entry, err := decodeTileEntry(raw)
			if err != nil {
				return err
			}
			if len(m.Tiles) >= MaxTileGroupEntries {
				return fmt.Errorf("tile groups: more than %d entries", MaxTileGroupEntries)
			}
			m.Tiles = append(m.Tiles, entry)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func decodeTileEntry(raw []byte) (TileEntry, error) {
	var e TileEntry
	r := wireReader{b: raw}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			e.X = int32(r.sint(typ))
		case 2:
			e.Z = int32(r.sint(typ))
		case 3:
			e.Tile = r.string(typ)
		default:
			r.skip(num, typ)
		}
	}
	return e, r.err
}

// MarkerAdded - новый маркер на карте
type MarkerAdded struct {
	clientBound
	Dimension string
	MarkerID  string
	Type      string
	Label     string
	X, Z      int32
	Global    bool
}

func (*MarkerAdded) ID() MsgType { return MsgMarkerAdded }

func (m *MarkerAdded) Encode() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Dimension)
	b = appendString(b, 2, m.MarkerID)
	b = appendString(b, 3, m.Type)
	b = appendString(b, 4, m.Label)
	b = appendSint(b, 5, int64(m.X))
	b = appendSint(b, 6, int64(m.Z))
	b = appendBool(b, 7, m.Global)
	return b, nil
}

func (m *MarkerAdded) Decode(payload []byte) error {
	*m = MarkerAdded{}
	r := wireReader{b: payload}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Dimension = r.string(typ)
		case 2:
			m.MarkerID = r.string(typ)
		case 3:
			m.Type = r.string(typ)
		case 4:
			m.Label = r.string(typ)
		case 5:
			m.X = int32(r.sint(typ))
		case 6:
			m.Z = int32(r.sint(typ))
		case 7:
			m.Global = r.bool(typ)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

// MaxRequestRadius - максимальный радиус запроса области (в чанках)
const MaxRequestRadius = 16

// MapRequest - запрос клиента на тайлы вокруг чанка
type MapRequest struct {
	serverBound
	Dimension string
	X, Z      int32
	Radius    int32
}

func (*MapRequest) ID() MsgType { return MsgMapRequest }

func (m *MapRequest) Encode() ([]byte, error) {
	if m.Radius < 0 || m.Radius > MaxRequestRadius {
		return nil, fmt.Errorf("map request radius %d out of range [0,%d]", m.Radius, MaxRequestRadius)
	}
	var b []byte
	b = appendString(b, 1, m.Dimension)
	b = appendSint(b, 2, int64(m.X))
	b = appendSint(b, 3, int64(m.Z))
	b = appendSint(b, 4, int64(m.Radius))
	return b, nil
}

func (m *MapRequest) Decode(payload []byte) error {
	*m = MapRequest{}
	r := wireReader{b: payload}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Dimension = r.string(typ)
		case 2:
			m.X = int32(r.sint(typ))
		case 3:
			m.Z = int32(r.sint(typ))
		case 4:
			m.Radius = int32(r.sint(typ))
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return r.err
	}
	if m.Radius < 0 || m.Radius > MaxRequestRadius {
		return fmt.Errorf("map request radius %d out of range [0,%d]", m.Radius, MaxRequestRadius)
	}
	return nil
}

// NewMessage создаёт пустое сообщение по типу
func NewMessage(t MsgType) (Message, bool) {
	switch t {
	case MsgTileUpdate:
		return &TileUpdate{}, true
	case MsgTileGroups:
		return &TileGroups{}, true
	case MsgMarkerAdded:
		return &MarkerAdded{}, true
	case MsgMapRequest:
		return &MapRequest{}, true
	default:
		return nil, false
	}
}
