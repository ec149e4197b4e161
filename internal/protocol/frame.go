package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize - [type uint16][len uint32], big-endian
const HeaderSize = 6

// MaxPayloadSize - предел полезной нагрузки одного кадра
const MaxPayloadSize = 2 << 20

// EncodeFrame кодирует сообщение в кадр
func EncodeFrame(msg Message) ([]byte, error) {
	payload, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.ID(), err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: payload %d exceeds %d", msg.ID(), len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], uint16(msg.ID()))
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeFrame разбирает заголовок кадра и возвращает тип и полезную нагрузку
func DecodeFrame(frame []byte) (MsgType, []byte, error) {
	if len(frame) < HeaderSize {
		return MsgUnknown, nil, fmt.Errorf("%w: frame header: %v", ErrDecode, errTruncated)
	}
	msgType := MsgType(binary.BigEndian.Uint16(frame[0:2]))
	size := binary.BigEndian.Uint32(frame[2:6])
	if size > MaxPayloadSize {
		return msgType, nil, fmt.Errorf("%w: payload %d exceeds %d", ErrDecode, size, MaxPayloadSize)
	}
	if int(size) != len(frame)-HeaderSize {
		return msgType, nil, fmt.Errorf("%w: payload length %d, frame carries %d", ErrDecode, size, len(frame)-HeaderSize)
	}
	return msgType, frame[HeaderSize:], nil
}

// WriteFrame пишет сообщение в поток
func WriteFrame(w io.Writer, msg Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame читает из потока один целый кадр
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[2:6])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrDecode, size, MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize+int(size))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}
