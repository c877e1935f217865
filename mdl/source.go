package mdl

import (
	"bytes"
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/odysseytools/mdlconv/geom"
)

// source is a byte-addressable random-access stream. The format is
// offset-table-based, so forward-only reading is not enough.
type source struct {
	data []byte
	base int64 // added to every offset before resolving
}

func (s *source) at(off uint32) *cursor {
	return &cursor{s: s, pos: s.base + int64(off)}
}

func (s *source) check(pos, size int64) error {
	if pos < 0 || size < 0 || pos+size > int64(len(s.data)) {
		return &OutOfBoundsError{Offset: pos, Size: size, Length: int64(len(s.data))}
	}
	return nil
}

// arrayDef locates variable-length data: a byte offset plus a redundant
// count pair that must agree.
type arrayDef struct {
	Offset uint32
	Count  uint32
}

// cursor reads consecutive values from a source. The first error sticks;
// later reads return zero values so decode code can stay linear and check
// err once per block.
type cursor struct {
	s   *source
	pos int64
	err error
}

func (c *cursor) skip(n int64) {
	if c.err != nil {
		return
	}
	if c.err = c.s.check(c.pos, n); c.err != nil {
		return
	}
	c.pos += n
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.err = c.s.check(c.pos, int64(n)); c.err != nil {
		return nil
	}
	b := c.s.data[c.pos : c.pos+int64(n)]
	c.pos += int64(n)
	return b
}

func (c *cursor) uint8() uint8 {
	b := c.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) uint16() uint16 {
	b := c.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) uint32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) int32() int32 {
	return int32(c.uint32())
}

func (c *cursor) float32() float32 {
	return math.Float32frombits(c.uint32())
}

func (c *cursor) vector2() geom.Vector2 {
	return geom.Vector2{X: c.float32(), Y: c.float32()}
}

func (c *cursor) vector3() geom.Vector3 {
	return geom.Vector3{X: c.float32(), Y: c.float32(), Z: c.float32()}
}

// quaternionWXYZ reads a quaternion in file order (W first).
func (c *cursor) quaternionWXYZ() geom.Quaternion {
	w := c.float32()
	x := c.float32()
	y := c.float32()
	z := c.float32()
	return geom.Quaternion{X: x, Y: y, Z: z, W: w}
}

// fixedString reads a nul-padded fixed-size string field. Legacy tools
// wrote these as Windows-1252.
func (c *cursor) fixedString(n int) string {
	b := c.bytes(n)
	if b == nil {
		return ""
	}
	return decodeLegacyString(bytes.SplitN(b, []byte{0}, 2)[0])
}

// cstring reads a nul-terminated string at the cursor.
func (c *cursor) cstring() string {
	if c.err != nil {
		return ""
	}
	end := c.pos
	for {
		if c.err = c.s.check(end, 1); c.err != nil {
			return ""
		}
		if c.s.data[end] == 0 {
			break
		}
		end++
	}
	b := c.s.data[c.pos:end]
	c.pos = end + 1
	return decodeLegacyString(b)
}

func (c *cursor) array() arrayDef {
	off := c.uint32()
	countPos := c.pos
	count := c.uint32()
	count2 := c.uint32()
	if c.err == nil && count != count2 {
		c.err = &ArrayCountMismatchError{Offset: countPos, Count: count, Count2: count2}
	}
	return arrayDef{Offset: off, Count: count}
}

func decodeLegacyString(b []byte) string {
	s, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func encodeLegacyString(s string) []byte {
	b, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}
