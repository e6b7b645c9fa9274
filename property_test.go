package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParsePropertyIspe(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fullBoxHeader(0, 0)
	w.u32(1920)
	w.u32(1080)

	p, err := parseProperty(fcc("ispe"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Ispe, qt.DeepEquals, &ispeProp{Width: 1920, Height: 1080})
}

func TestParsePropertyPixi(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fullBoxHeader(0, 0)
	w.u8(3)
	w.u8(8)
	w.u8(8)
	w.u8(8)

	p, err := parseProperty(fcc("pixi"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Pixi, qt.DeepEquals, &pixiProp{ChannelBitDepths: []uint8{8, 8, 8}})
}

func TestParsePropertyAv1C(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u8(0x81) // marker=1, version=1
	// seq_profile=2 (bits 7-5), seq_level_idx_0=31 (bits 4-0)
	w.u8((2 << 5) | 31)
	// seq_tier_0=1, high_bitdepth=1, twelve_bit=0, monochrome=1,
	// chroma_subsampling_x=1, chroma_subsampling_y=0, chroma_sample_position=2
	w.u8((1 << 7) | (1 << 6) | (0 << 5) | (1 << 4) | (1 << 3) | (0 << 2) | 2)
	w.raw([]byte{0xde, 0xad}) // configOBUs tail

	p, err := parseProperty(fcc("av1C"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Av1C.SeqProfile, qt.Equals, uint8(2))
	c.Assert(p.Av1C.SeqLevelIdx0, qt.Equals, uint8(31))
	c.Assert(p.Av1C.SeqTier0, qt.Equals, uint8(1))
	c.Assert(p.Av1C.HighBitdepth, qt.IsTrue)
	c.Assert(p.Av1C.TwelveBit, qt.IsFalse)
	c.Assert(p.Av1C.Monochrome, qt.IsTrue)
	c.Assert(p.Av1C.ChromaSubsamplingX, qt.Equals, uint8(1))
	c.Assert(p.Av1C.ChromaSubsamplingY, qt.Equals, uint8(0))
	c.Assert(p.Av1C.ChromaSamplePosition, qt.Equals, uint8(2))
	c.Assert(p.Av1C.ConfigOBUs, qt.DeepEquals, []byte{0xde, 0xad})
}

func TestParsePropertyHvcC(t *testing.T) {
	c := qt.New(t)
	raw := []byte{1, 2, 3, 4, 5}
	p, err := parseProperty(fcc("hvcC"), newReader(raw))
	c.Assert(err, qt.IsNil)
	c.Assert(p.HvcC.Raw, qt.DeepEquals, raw)
}

func TestParsePropertyColrNclx(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fourcc("nclx")
	w.u16(1) // color_primaries
	w.u16(13) // transfer_characteristics
	w.u16(6)  // matrix_coefficients
	w.u8(0x80) // full_range_flag set

	p, err := parseProperty(fcc("colr"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Colr, qt.DeepEquals, &colrProp{
		IsNclx: true, ColorPrimaries: 1, TransferCharacteristics: 13,
		MatrixCoefficients: 6, FullRange: true,
	})
}

func TestParsePropertyColrICC(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fourcc("rICC")
	w.raw([]byte{0xaa, 0xbb, 0xcc})

	p, err := parseProperty(fcc("colr"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Colr.ICC, qt.DeepEquals, []byte{0xaa, 0xbb, 0xcc})
}

func TestParsePropertyColrUnknownType(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fourcc("xxxx")

	_, err := parseProperty(fcc("colr"), newReader(w.Bytes()))
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrBmffParseFailed)
}

func TestParsePropertyClli(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u16(1000)
	w.u16(400)
	p, err := parseProperty(fcc("clli"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Clli, qt.DeepEquals, &clliProp{MaxCLL: 1000, MaxPALL: 400})
}

func TestParsePropertyPasp(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u32(1)
	w.u32(1)
	p, err := parseProperty(fcc("pasp"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Pasp, qt.DeepEquals, &paspProp{HSpacing: 1, VSpacing: 1})
}

func TestParsePropertyClap(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	for _, v := range []int32{4, 1, 2, 1, 0, 1, 0, 1} {
		w.i32(v)
	}
	p, err := parseProperty(fcc("clap"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Clap, qt.DeepEquals, &clapProp{
		WidthN: 4, WidthD: 1, HeightN: 2, HeightD: 1,
		HorizOffN: 0, HorizOffD: 1, VertOffN: 0, VertOffD: 1,
	})
}

func TestParsePropertyIrotImir(t *testing.T) {
	c := qt.New(t)
	irotR := newReader([]byte{0x03})
	p, err := parseProperty(fcc("irot"), irotR)
	c.Assert(err, qt.IsNil)
	c.Assert(p.Irot, qt.DeepEquals, &irotProp{Angle: 3})

	imirR := newReader([]byte{0x01})
	p2, err := parseProperty(fcc("imir"), imirR)
	c.Assert(err, qt.IsNil)
	c.Assert(p2.Imir, qt.DeepEquals, &imirProp{Axis: 1})
}

func TestParsePropertyLselA1op(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u16(2)
	p, err := parseProperty(fcc("lsel"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.Lsel, qt.DeepEquals, &lselProp{LayerID: 2})

	p2, err := parseProperty(fcc("a1op"), newReader([]byte{5}))
	c.Assert(err, qt.IsNil)
	c.Assert(p2.A1op, qt.DeepEquals, &a1opProp{OpIndex: 5})
}

func TestParsePropertyA1lxSmall(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u8(0) // large_size bit unset
	w.u16(100)
	w.u16(200)
	w.u16(300)
	p, err := parseProperty(fcc("a1lx"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.A1lx, qt.DeepEquals, &a1lxProp{LayerSize: [3]uint32{100, 200, 300}})
}

func TestParsePropertyA1lxLarge(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.u8(1) // large_size bit set
	w.u32(100000)
	w.u32(200000)
	w.u32(300000)
	p, err := parseProperty(fcc("a1lx"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.A1lx, qt.DeepEquals, &a1lxProp{
		LargeSize: true,
		LayerSize: [3]uint32{100000, 200000, 300000},
	})
}

func TestParsePropertyAuxC(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.cstring(wellKnownAlphaURN)
	p, err := parseProperty(fcc("auxC"), newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(p.AuxC, qt.DeepEquals, &auxCProp{AuxType: wellKnownAlphaURN})
}

func TestParseIpcoOrdering(t *testing.T) {
	c := qt.New(t)
	ispe := fullBox("ispe", 0, 0, concatBoxes(u32bytes(10), u32bytes(20)))
	paspW := newBoxWriter()
	paspW.u32(1)
	paspW.u32(1)
	pasp := box("pasp", paspW.Bytes())

	props, err := parseIpco(newReader(concatBoxes(ispe, pasp)), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(len(props), qt.Equals, 2)
	c.Assert(props[0].Type, qt.Equals, fcc("ispe"))
	c.Assert(props[0].Ispe.Width, qt.Equals, uint32(10))
	c.Assert(props[1].Type, qt.Equals, fcc("pasp"))
	c.Assert(props[1].Pasp.HSpacing, qt.Equals, uint32(1))
}

func TestParseIpmaVersion0NonEssential(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fullBoxHeader(0, 0)
	w.u32(1) // entry_count
	w.u16(7) // item_ID (16-bit, version<1)
	w.u8(2)  // association_count
	w.u8(1)  // index 1, not essential
	w.u8(0x82) // index 2 in the low 7 bits, essential bit (0x80) set; decoded at version 0 too

	out, err := parseIpma(newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	assocs, ok := out[7]
	c.Assert(ok, qt.IsTrue)
	c.Assert(assocs, qt.DeepEquals, []ipmaAssoc{
		{Index: 1, Essential: false},
		{Index: 2, Essential: true},
	})
}

func TestParseIpmaVersion1WideIndex(t *testing.T) {
	c := qt.New(t)
	w := newBoxWriter()
	w.fullBoxHeader(1, 1) // version 1, flags bit0 set => 32-bit item ID, 16-bit assoc entries
	w.u32(1)              // entry_count
	w.u32(99)              // item_ID (32-bit, version>=1)
	w.u8(1)                // association_count
	w.u16(0x8005)          // essential bit + index 5

	out, err := parseIpma(newReader(w.Bytes()))
	c.Assert(err, qt.IsNil)
	assocs, ok := out[99]
	c.Assert(ok, qt.IsTrue)
	c.Assert(assocs, qt.DeepEquals, []ipmaAssoc{{Index: 5, Essential: true}})
}
