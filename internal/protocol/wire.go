package protocol

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

var errTruncated = errors.New("truncated field")

// Вспомогательные функции кодирования полей полезной нагрузки.
// Поля пишутся в формате protobuf wire без сгенерированных типов.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// wireReader последовательно читает поля; первая ошибка запоминается
type wireReader struct {
	b   []byte
	err error
}

func (r *wireReader) fail(n int) {
	if r.err == nil {
		r.err = protowire.ParseError(n)
	}
	r.b = nil
}

// next читает тег следующего поля; false - поля закончились или ошибка
func (r *wireReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *wireReader) bytes(typ protowire.Type) []byte {
	if typ != protowire.BytesType {
		r.skip(0, typ)
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *wireReader) string(typ protowire.Type) string {
	return string(r.bytes(typ))
}

func (r *wireReader) varint(typ protowire.Type) uint64 {
	if typ != protowire.VarintType {
		r.skip(0, typ)
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *wireReader) sint(typ protowire.Type) int64 {
	return protowire.DecodeZigZag(r.varint(typ))
}

func (r *wireReader) bool(typ protowire.Type) bool {
	return protowire.DecodeBool(r.varint(typ))
}

// skip пропускает неизвестное поле
func (r *wireReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.fail(n)
		return
	}
	r.b = r.b[n:]
}
