package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestReaderPrimitives(t *testing.T) {
	c := qt.New(t)

	r := newReader([]byte{0x00, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 'a', 'v', '0', '1'})
	v16, err := r.u16()
	c.Assert(err, qt.IsNil)
	c.Assert(v16, qt.Equals, uint16(1))

	v24, err := r.u24()
	c.Assert(err, qt.IsNil)
	c.Assert(v24, qt.Equals, uint32(2))

	v32, err := r.u32()
	c.Assert(err, qt.IsNil)
	c.Assert(v32, qt.Equals, uint32(3))

	fc, err := r.bytes(4)
	c.Assert(err, qt.IsNil)
	c.Assert(string(fc), qt.Equals, "av01")

	c.Assert(r.len(), qt.Equals, 0)
	_, err = r.u8()
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestReaderSeekAndSub(t *testing.T) {
	c := qt.New(t)
	r := newReader([]byte{1, 2, 3, 4, 5, 6})

	sub, err := r.sub(3)
	c.Assert(err, qt.IsNil)
	c.Assert(sub.len(), qt.Equals, 3)
	c.Assert(r.position(), qt.Equals, 3)

	rest := r.rest()
	c.Assert(rest.len(), qt.Equals, 3)
	c.Assert(r.position(), qt.Equals, 3) // rest does not consume

	c.Assert(r.seek(0), qt.IsNil)
	c.Assert(r.seek(-1), qt.Not(qt.IsNil))
	c.Assert(r.seek(100), qt.Not(qt.IsNil))
}

func TestReaderCString(t *testing.T) {
	c := qt.New(t)
	r := newReader([]byte("hello\x00world"))
	s, err := r.cstring(20)
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.Equals, "hello")

	r2 := newReader([]byte("noterm"))
	_, err = r2.cstring(6)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestFourCC(t *testing.T) {
	c := qt.New(t)
	f := fcc("av01")
	c.Assert(f.String(), qt.Equals, "av01")
	c.Assert(f.bytes(), qt.DeepEquals, []byte("av01"))
}
