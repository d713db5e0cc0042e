package tbtree

import "encoding/binary"

// Codec is the external binary (de)serializer collaborator: a stable
// serialized size, an in-place serializer, and a deserializer, over a
// little-endian, length-prefixed encoding. The tuple stores are generic
// over Codec[T] so the same store implementation hosts both keys and
// values.
type Codec[T any] interface {
	// SerializedSize returns the number of bytes SerializeInto would emit for v.
	SerializedSize(v T) int
	// SerializeInto writes the encoding of v into buf, which is guaranteed
	// to be at least SerializedSize(v) bytes long.
	SerializeInto(buf []byte, v T) error
	// Deserialize reconstructs a value from exactly SerializedSize(v) bytes.
	Deserialize(buf []byte) (T, error)
}

// FixedWidth is implemented by codecs whose encoding has a single,
// value-independent width, letting the engine route them to the
// FixedTupleStore automatically.
type FixedWidth interface {
	Width() int
}

// InlineCodec is implemented by key codecs whose value fits directly in
// a node's 8-byte key slot. Selecting an inline codec at construction
// puts the index into fixed-key mode for its lifetime.
type InlineCodec[K any] interface {
	ToSlot(k K) uint64
	FromSlot(u uint64) K
}

// ---- built-in integer codecs --------------------------------------------

type uint64Codec struct{}

func (uint64Codec) Width() int                             { return 8 }
func (uint64Codec) SerializedSize(uint64) int               { return 8 }
func (uint64Codec) SerializeInto(buf []byte, v uint64) error {
	binary.LittleEndian.PutUint64(buf, v)
	return nil
}
func (uint64Codec) Deserialize(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, newErr(DeserializeBlock, "buffer too short for uint64")
	}
	return binary.LittleEndian.Uint64(buf), nil
}
func (uint64Codec) ToSlot(k uint64) uint64   { return k }
func (uint64Codec) FromSlot(u uint64) uint64 { return u }

// Uint64Codec is a ready-made Codec[uint64] / InlineCodec[uint64].
func Uint64Codec() interface {
	Codec[uint64]
	InlineCodec[uint64]
	FixedWidth
} {
	return uint64Codec{}
}

type int64Codec struct{}

func (int64Codec) Width() int                            { return 8 }
func (int64Codec) SerializedSize(int64) int               { return 8 }
func (int64Codec) SerializeInto(buf []byte, v int64) error {
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return nil
}
func (int64Codec) Deserialize(buf []byte) (int64, error) {
	if len(buf) < 8 {
		return 0, newErr(DeserializeBlock, "buffer too short for int64")
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// ToSlot/FromSlot bias the signed range (flip the sign bit) so the
// unsigned ordering of slot bits matches signed key ordering. Node
// searches still decode each slot and compare keys with the tree's
// CompareFunc.
func (int64Codec) ToSlot(k int64) uint64   { return uint64(k) ^ (1 << 63) }
func (int64Codec) FromSlot(u uint64) int64 { return int64(u ^ (1 << 63)) }

// Int64Codec is a ready-made Codec[int64] / InlineCodec[int64].
func Int64Codec() interface {
	Codec[int64]
	InlineCodec[int64]
	FixedWidth
} {
	return int64Codec{}
}

// ---- built-in variable-width codecs -------------------------------------

type stringCodec struct{}

func (stringCodec) SerializedSize(v string) int { return 8 + len(v) }
func (stringCodec) SerializeInto(buf []byte, v string) error {
	binary.LittleEndian.PutUint64(buf, uint64(len(v)))
	copy(buf[8:], v)
	return nil
}
func (stringCodec) Deserialize(buf []byte) (string, error) {
	if len(buf) < 8 {
		return "", newErr(DeserializeBlock, "buffer too short for string length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	if uint64(len(buf)-8) < n {
		return "", newErr(DeserializeBlock, "buffer too short for string payload")
	}
	return string(buf[8 : 8+n]), nil
}

// StringCodec is a ready-made Codec[string] for indirect (out-of-line) keys or values.
func StringCodec() Codec[string] { return stringCodec{} }

type bytesCodec struct{}

func (bytesCodec) SerializedSize(v []byte) int { return 8 + len(v) }
func (bytesCodec) SerializeInto(buf []byte, v []byte) error {
	binary.LittleEndian.PutUint64(buf, uint64(len(v)))
	copy(buf[8:], v)
	return nil
}
func (bytesCodec) Deserialize(buf []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, newErr(DeserializeBlock, "buffer too short for []byte length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	if uint64(len(buf)-8) < n {
		return nil, newErr(DeserializeBlock, "buffer too short for []byte payload")
	}
	out := make([]byte, n)
	copy(out, buf[8:8+n])
	return out, nil
}

// BytesCodec is a ready-made Codec[[]byte] for indirect keys or values.
func BytesCodec() Codec[[]byte] { return bytesCodec{} }
