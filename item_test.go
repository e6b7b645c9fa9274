package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

// ilocIdatEntry builds one iloc entry (iloc version 1, offsetSize=lengthSize=4,
// baseOffsetSize=indexSize=0) with an idat construction method, mirroring the
// on-disk shape parseIlocInto expects.
func ilocIdatEntry(id uint32, offset, length uint32) []byte {
	w := newBoxWriter()
	w.u16(uint16(id))
	w.u16(uint16(constructionIdat))
	w.u16(0) // data reference index
	w.u16(1) // extent count
	w.u32(offset)
	w.u32(length)
	return w.Bytes()
}

func buildSyntheticMeta(t *testing.T) []byte {
	t.Helper()

	payload1 := []byte("AAAA")
	payload2 := []byte("BBBB")
	gridHeader := func() []byte {
		w := newBoxWriter()
		w.u8(0) // version
		w.u8(0) // flags
		w.u8(0) // rows - 1
		w.u8(1) // cols - 1
		w.u16(8)
		w.u16(4)
		return w.Bytes()
	}()
	idat := concatBoxes(payload1, payload2, gridHeader)

	iinf := fullBox("iinf", 0, 0, concatBoxes(u16bytes(3),
		infeBox(1, "av01"), infeBox(2, "av01"), infeBox(3, "grid")))

	ilocBody := concatBoxes([]byte{0x41, 0x00}, u16bytes(3),
		ilocIdatEntry(1, 0, uint32(len(payload1))),
		ilocIdatEntry(2, uint32(len(payload1)), uint32(len(payload2))),
		ilocIdatEntry(3, uint32(len(payload1)+len(payload2)), uint32(len(gridHeader))))
	iloc := fullBox("iloc", 1, 0, ilocBody)

	dimgBody := newBoxWriter()
	dimgBody.u32(3)
	dimgBody.u16(2)
	dimgBody.u32(1)
	dimgBody.u32(2)
	iref := fullBox("iref", 1, 0, box("dimg", dimgBody.Bytes()))

	ispe := fullBox("ispe", 0, 0, concatBoxes(u32bytes(4), u32bytes(4)))
	ipco := box("ipco", ispe)
	ipma := fullBox("ipma", 1, 0, concatBoxes(u32bytes(1), ipmaAssocEntry(1, []int{1}, false)))
	iprp := box("iprp", concatBoxes(ipco, ipma))

	pitm := fullBox("pitm", 0, 0, u16bytes(3))

	metaBody := concatBoxes(pitm, iinf, iloc, iref, iprp, box("idat", idat))
	return fullBox("meta", 0, 0, metaBody)
}

func TestBuildItemGraphGrid(t *testing.T) {
	c := qt.New(t)
	meta := buildSyntheticMeta(t)

	_, body, err := readBoxHeader(newReader(meta))
	c.Assert(err, qt.IsNil)

	g, err := buildItemGraph(body, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(len(g.Items), qt.Equals, 3)
	c.Assert(g.PrimaryItemID, qt.Equals, uint32(3))

	gridItem, ok := g.item(3)
	c.Assert(ok, qt.IsTrue)
	c.Assert(gridItem.Grid, qt.Not(qt.IsNil))
	c.Assert(gridItem.Grid.Rows, qt.Equals, 1)
	c.Assert(gridItem.Grid.Cols, qt.Equals, 2)
	c.Assert(gridItem.Grid.OutputWidth, qt.Equals, uint32(8))
	c.Assert(gridItem.Grid.OutputHeight, qt.Equals, uint32(4))
	c.Assert(gridItem.Grid.Cells, qt.DeepEquals, []uint32{1, 2})

	ispe, ok := g.ispe(1)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ispe.Width, qt.Equals, uint32(4))
	c.Assert(ispe.Height, qt.Equals, uint32(4))

	_, ok = g.ispe(2)
	c.Assert(ok, qt.IsFalse)
}

func TestBuildItemGraphMissingPrimary(t *testing.T) {
	c := qt.New(t)
	pitm := fullBox("pitm", 0, 0, u16bytes(99))
	iinf := fullBox("iinf", 0, 0, concatBoxes(u16bytes(0)))
	meta := fullBox("meta", 0, 0, concatBoxes(pitm, iinf))

	_, body, err := readBoxHeader(newReader(meta))
	c.Assert(err, qt.IsNil)
	_, err = buildItemGraph(body, 0)
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrMissingImageItem)
}
