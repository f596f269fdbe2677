package decoder

import (
	"encoding/binary"
	"math"
)

// cursor reads little-endian fields and remembers whether any read ran past
// the end of the payload. Reads past the end return zero.
type cursor struct {
	data  []byte
	off   int
	short bool
}

func newCursor(data []byte) *cursor {
	return &cursor{data: data}
}

func (c *cursor) remaining() int {
	return len(c.data) - c.off
}

func (c *cursor) take(n int) []byte {
	if c.short || c.remaining() < n {
		c.short = true
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u24() uint32 {
	if b := c.take(3); b != nil {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return 0
}

// sfloat reads an IEEE-11073 16-bit SFLOAT. ok is false for the reserved
// NaN, NRes and infinity encodings, which decode as zero.
func (c *cursor) sfloat() (float64, bool) {
	raw := c.u16()
	if c.short {
		return 0, false
	}
	mantissa := int32(raw & 0x0FFF)
	switch mantissa {
	case 0x07FF, 0x0800, 0x07FE, 0x0802, 0x0801:
		return 0, false
	}
	if mantissa >= 0x0800 {
		mantissa -= 0x1000
	}
	exponent := int32(raw >> 12)
	if exponent >= 0x8 {
		exponent -= 0x10
	}
	return scale(mantissa, exponent), true
}

// float reads an IEEE-11073 32-bit FLOAT with the same special values as sfloat.
func (c *cursor) float() (float64, bool) {
	b := c.take(4)
	if b == nil {
		return 0, false
	}
	raw := binary.LittleEndian.Uint32(b)
	mantissa := int32(raw & 0x00FFFFFF)
	switch mantissa {
	case 0x007FFFFF, 0x00800000, 0x007FFFFE, 0x00800002, 0x00800001:
		return 0, false
	}
	if mantissa >= 0x00800000 {
		mantissa -= 0x01000000
	}
	return scale(mantissa, int32(int8(raw>>24))), true
}

func scale(mantissa, exponent int32) float64 {
	if exponent < 0 {
		return float64(mantissa) / math.Pow10(int(-exponent))
	}
	return float64(mantissa) * math.Pow10(int(exponent))
}

func (c *cursor) dateTime() *DateTime {
	b := c.take(7)
	if b == nil {
		return nil
	}
	return &DateTime{
		Year:    binary.LittleEndian.Uint16(b[0:2]),
		Month:   b[2],
		Day:     b[3],
		Hours:   b[4],
		Minutes: b[5],
		Seconds: b[6],
	}
}
