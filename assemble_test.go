package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func singleAV1Graph(w, h uint32) *itemGraph {
	g := &itemGraph{Items: map[uint32]*item{}, PrimaryItemID: 1}
	it := &item{ID: 1, Type: fcc("av01"), References: map[fourCC][]uint32{}}
	it.Extents = []extent{{Offset: 0, Length: 4}}
	g.Items[1] = it
	g.Order = []uint32{1}
	g.Properties = []property{
		{Type: fcc("ispe"), Ispe: &ispeProp{Width: w, Height: h}},
	}
	it.Associations = []ipmaAssoc{{Index: 1}}
	return g
}

func TestPlanAndAssembleSingle(t *testing.T) {
	c := qt.New(t)
	g := singleAV1Graph(4, 2)
	src := NewMemorySource([]byte("DATA"))

	tiles, w, h, err := planTiles(g, src, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(w, qt.Equals, 4)
	c.Assert(h, qt.Equals, 2)
	c.Assert(len(tiles), qt.Equals, 1)
	c.Assert(tiles[0].Payload, qt.DeepEquals, []byte("DATA"))

	img, err := assembleFrame(tiles, w, h, CodecChoiceAuto)
	c.Assert(err, qt.IsNil)
	c.Assert(img.Width, qt.Equals, 4)
	c.Assert(img.Height, qt.Equals, 2)
	c.Assert(img.Format, qt.Equals, PixelFormatYUV420)
	// nullCodec fills luma with len(payload)%256
	c.Assert(img.YPlane[0], qt.Equals, uint16(len("DATA")%256))
}

func TestPlanTilesMissingIspe(t *testing.T) {
	c := qt.New(t)
	g := &itemGraph{Items: map[uint32]*item{
		1: {ID: 1, Type: fcc("av01"), References: map[fourCC][]uint32{}},
	}, Order: []uint32{1}}
	src := NewMemorySource(nil)
	_, _, _, err := planTiles(g, src, 1)
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrIspeSizeMismatch)
}

func TestAssembleFrameGrid(t *testing.T) {
	c := qt.New(t)
	g := &itemGraph{Items: map[uint32]*item{}}
	mkCell := func(id uint32) {
		it := &item{ID: id, Type: fcc("av01"), References: map[fourCC][]uint32{}}
		it.Extents = []extent{{Offset: 0, Length: 2}}
		it.Associations = []ipmaAssoc{{Index: 1}}
		g.Items[id] = it
		g.Order = append(g.Order, id)
	}
	mkCell(1)
	mkCell(2)
	g.Properties = []property{{Type: fcc("ispe"), Ispe: &ispeProp{Width: 2, Height: 2}}}

	gridItem := &item{ID: 3, Type: fcc("grid"), References: map[fourCC][]uint32{fcc("dimg"): {1, 2}}}
	gridItem.Grid = &gridDerivation{Rows: 1, Cols: 2, OutputWidth: 4, OutputHeight: 2, Cells: []uint32{1, 2}}
	g.Items[3] = gridItem
	g.Order = append(g.Order, 3)
	g.PrimaryItemID = 3

	src := NewMemorySource([]byte("XY"))
	tiles, w, h, err := planTiles(g, src, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(w, qt.Equals, 4)
	c.Assert(h, qt.Equals, 2)
	c.Assert(len(tiles), qt.Equals, 2)
	c.Assert(tiles[1].DestX, qt.Equals, 2)

	img, err := assembleFrame(tiles, w, h, CodecChoiceAuto)
	c.Assert(err, qt.IsNil)
	c.Assert(img.Width, qt.Equals, 4)
}
