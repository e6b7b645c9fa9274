package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNewRat(t *testing.T) {
	c := qt.New(t)

	ru, err := NewRat[uint32](2, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(ru.Num(), qt.Equals, uint32(1))
	c.Assert(ru.Den(), qt.Equals, uint32(2))
	c.Assert(ru.Float64(), qt.Equals, 0.5)

	_, err = NewRat[int32](1, 0)
	c.Assert(err, qt.Not(qt.IsNil))

	ri, err := NewRat[int32](-3, -6)
	c.Assert(err, qt.IsNil)
	c.Assert(ri.Num(), qt.Equals, int32(1))
	c.Assert(ri.Den(), qt.Equals, int32(2))
}

func TestRatString(t *testing.T) {
	c := qt.New(t)
	r, err := NewRat[int32](3, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(r.String(), qt.Equals, "3")

	r2, err := NewRat[int32](3, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(r2.String(), qt.Equals, "3/4")
}

func TestPrintableString(t *testing.T) {
	c := qt.New(t)
	c.Assert(printableString("hello\x00world"), qt.Equals, "helloworld")
	c.Assert(printableString("  trim me  "), qt.Equals, "trim me")
}

func TestTrimBytesNulls(t *testing.T) {
	c := qt.New(t)
	c.Assert(trimBytesNulls([]byte{0, 0, 'a', 'b', 0}), qt.DeepEquals, []byte("ab"))
	c.Assert(trimBytesNulls([]byte{0, 0, 0}), qt.IsNil)
}
