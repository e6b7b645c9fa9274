package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestReadBoxHeaderBasic(t *testing.T) {
	c := qt.New(t)
	body := []byte("hello")
	data := concatBoxes(box("free", body))
	r := newReader(data)

	h, b, err := readBoxHeader(r)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Type.String(), qt.Equals, "free")
	c.Assert(h.BodyLen, qt.Equals, len(body))
	got, err := b.bytes(len(body))
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "hello")
}

func TestReadBoxHeaderTruncated(t *testing.T) {
	c := qt.New(t)
	// declares a size far larger than the remaining bytes
	data := []byte{0x00, 0x00, 0x00, 0xff, 'f', 'r', 'e', 'e'}
	r := newReader(data)
	_, _, err := readBoxHeader(r)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestWalkBoxesAndFindBox(t *testing.T) {
	c := qt.New(t)
	data := concatBoxes(
		box("free", []byte("a")),
		box("skip", []byte("bb")),
		box("free", []byte("ccc")),
	)

	var types []string
	err := walkBoxes(newReader(data), 0, func(h boxHeader, body *reader) error {
		types = append(types, h.Type.String())
		return nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(types, qt.DeepEquals, []string{"free", "skip", "free"})

	found, ok, err := findBox(newReader(data), fcc("skip"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(found.len(), qt.Equals, 2)

	all, err := collectBoxes(newReader(data), fcc("free"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(len(all), qt.Equals, 2)
}

func TestWalkBoxesDepthLimit(t *testing.T) {
	c := qt.New(t)
	err := walkBoxes(newReader(nil), maxBoxDepth+1, func(h boxHeader, body *reader) error {
		return nil
	})
	c.Assert(err, qt.Not(qt.IsNil))
}
