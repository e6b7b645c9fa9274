package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func ilocFileEntryV0(id uint16, offset, length uint32) []byte {
	w := newBoxWriter()
	w.u16(id)
	w.u16(0) // data reference index
	w.u16(1) // extent count
	w.u32(offset)
	w.u32(length)
	return w.Bytes()
}

// buildStillAVIF assembles a minimal single-item AVIF byte stream with a
// file-backed (not idat-backed) coded payload, exercising Decoder.Parse and
// NextImage end to end against the registered reference codec.
func buildStillAVIF(t *testing.T, payload []byte, width, height uint32) []byte {
	t.Helper()

	ftyp := box("ftyp", concatBoxes(fcc("avif").bytes(), u32bytes(0), fcc("avif").bytes(), fcc("mif1").bytes()))

	pitm := fullBox("pitm", 0, 0, u16bytes(1))
	iinf := fullBox("iinf", 0, 0, concatBoxes(u16bytes(1), infeBox(1, "av01")))

	ispe := fullBox("ispe", 0, 0, concatBoxes(u32bytes(width), u32bytes(height)))
	ipco := box("ipco", ispe)
	ipma := fullBox("ipma", 1, 0, concatBoxes(u32bytes(1), ipmaAssocEntry(1, []int{1}, false)))
	iprp := box("iprp", concatBoxes(ipco, ipma))

	// ilocBody is completed below once the mdat payload's absolute offset is
	// known; reserve its shape here so the overall layout (and thus the
	// offset) is fixed before computing it.
	ilocHeader := []byte{0x44, 0x00}
	metaBodyPrefix := concatBoxes(pitm, iinf)
	metaBodySuffix := iprp

	// Compute the mdat payload's absolute file offset by laying out every
	// preceding box with a placeholder iloc of the same final size.
	placeholderIloc := fullBox("iloc", 0, 0, concatBoxes(ilocHeader, u16bytes(1), ilocFileEntryV0(1, 0, uint32(len(payload)))))
	meta := fullBox("meta", 0, 0, concatBoxes(metaBodyPrefix, placeholderIloc, metaBodySuffix))
	mdatOffset := len(ftyp) + len(meta) + 8 // +8 for the mdat box header

	iloc := fullBox("iloc", 0, 0, concatBoxes(ilocHeader, u16bytes(1), ilocFileEntryV0(1, uint32(mdatOffset), uint32(len(payload)))))
	meta = fullBox("meta", 0, 0, concatBoxes(metaBodyPrefix, iloc, metaBodySuffix))

	return concatBoxes(ftyp, meta, box("mdat", payload))
}

func TestDecoderParseAndNextImage(t *testing.T) {
	c := qt.New(t)
	data := buildStillAVIF(t, []byte("PAYL"), 6, 4)

	d := NewDecoder()
	d.SetSource(NewMemorySource(data))
	c.Assert(d.Parse(), qt.IsNil)
	c.Assert(d.ImageCount(), qt.Equals, 1)

	img, err := d.NextImage()
	c.Assert(err, qt.IsNil)
	c.Assert(img.Width, qt.Equals, 6)
	c.Assert(img.Height, qt.Equals, 4)

	_, err = d.NextImage()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrNoImagesRemaining)
}

func TestDecoderParseMissingFtyp(t *testing.T) {
	c := qt.New(t)
	d := NewDecoder()
	d.SetSource(NewMemorySource(box("meta", nil)))
	err := d.Parse()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrInvalidFtyp)
}

func TestDecoderNoSource(t *testing.T) {
	c := qt.New(t)
	d := NewDecoder()
	err := d.Parse()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrIONotSet)
}

func av1CBox(highBitdepth bool, subX, subY uint8) []byte {
	w := newBoxWriter()
	w.u8(0x81) // marker + version
	w.u8(0x00) // seq_profile/seq_level_idx0
	flags2 := subX<<3 | subY<<2
	if highBitdepth {
		flags2 |= 0x40
	}
	w.u8(flags2)
	return box("av1C", w.Bytes())
}

func a1lxBox(layerSizes [3]uint16) []byte {
	w := newBoxWriter()
	w.u8(0) // flags: large_size = 0, so 16-bit layer sizes
	for _, s := range layerSizes {
		w.u16(s)
	}
	return box("a1lx", w.Bytes())
}

// buildAVIFWithProps is buildStillAVIF generalized to accept extra ipco
// properties (beyond ispe) associated with the single item, so header-state
// population and progressive-layer plumbing can be exercised against a
// realistic item graph.
func buildAVIFWithProps(t *testing.T, payload []byte, width, height uint32, extraProps [][]byte) []byte {
	t.Helper()

	ftyp := box("ftyp", concatBoxes(fcc("avif").bytes(), u32bytes(0), fcc("avif").bytes(), fcc("mif1").bytes()))

	pitm := fullBox("pitm", 0, 0, u16bytes(1))
	iinf := fullBox("iinf", 0, 0, concatBoxes(u16bytes(1), infeBox(1, "av01")))

	ispe := fullBox("ispe", 0, 0, concatBoxes(u32bytes(width), u32bytes(height)))
	ipco := box("ipco", concatBoxes(ispe, concatBoxes(extraProps...)))
	indices := []int{1}
	for i := range extraProps {
		indices = append(indices, i+2)
	}
	ipma := fullBox("ipma", 1, 0, concatBoxes(u32bytes(1), ipmaAssocEntry(1, indices, false)))
	iprp := box("iprp", concatBoxes(ipco, ipma))

	ilocHeader := []byte{0x44, 0x00}
	metaBodyPrefix := concatBoxes(pitm, iinf)
	metaBodySuffix := iprp

	placeholderIloc := fullBox("iloc", 0, 0, concatBoxes(ilocHeader, u16bytes(1), ilocFileEntryV0(1, 0, uint32(len(payload)))))
	meta := fullBox("meta", 0, 0, concatBoxes(metaBodyPrefix, placeholderIloc, metaBodySuffix))
	mdatOffset := len(ftyp) + len(meta) + 8

	iloc := fullBox("iloc", 0, 0, concatBoxes(ilocHeader, u16bytes(1), ilocFileEntryV0(1, uint32(mdatOffset), uint32(len(payload)))))
	meta = fullBox("meta", 0, 0, concatBoxes(metaBodyPrefix, iloc, metaBodySuffix))

	return concatBoxes(ftyp, meta, box("mdat", payload))
}

func TestDecoderPopulateHeaderState(t *testing.T) {
	c := qt.New(t)
	data := buildAVIFWithProps(t, []byte("PAYL"), 10, 6, [][]byte{av1CBox(true, 1, 0)})

	d := NewDecoder()
	d.SetSource(NewMemorySource(data))
	c.Assert(d.Parse(), qt.IsNil)

	c.Assert(d.Width, qt.Equals, 10)
	c.Assert(d.Height, qt.Equals, 6)
	c.Assert(d.Depth, qt.Equals, 10)
	c.Assert(d.PixelFormat, qt.Equals, PixelFormatYUV422)
	c.Assert(d.ImageSequenceTrackPresent, qt.IsFalse)
	c.Assert(d.ProgressiveState, qt.Equals, ProgressiveStateUnavailable)
}

func TestDecoderProgressiveImageCountInactiveByDefault(t *testing.T) {
	c := qt.New(t)
	data := buildAVIFWithProps(t, []byte("PAYL"), 8, 8, [][]byte{
		av1CBox(false, 1, 1),
		a1lxBox([3]uint16{2, 3, 4}),
	})

	d := NewDecoder()
	d.SetSource(NewMemorySource(data))
	c.Assert(d.Parse(), qt.IsNil)

	c.Assert(d.ProgressiveState, qt.Equals, ProgressiveStateAvailable)
	c.Assert(d.ImageCount(), qt.Equals, 1)

	img, err := d.NextImage()
	c.Assert(err, qt.IsNil)
	c.Assert(img.Width, qt.Equals, 8)
}

func TestDecoderProgressiveImageCountWhenAllowed(t *testing.T) {
	c := qt.New(t)
	data := buildAVIFWithProps(t, []byte("PAYL"), 8, 8, [][]byte{
		av1CBox(false, 1, 1),
		a1lxBox([3]uint16{2, 3, 4}),
	})

	d := NewDecoder()
	d.AllowProgressive = true
	d.SetSource(NewMemorySource(data))
	c.Assert(d.Parse(), qt.IsNil)

	c.Assert(d.ProgressiveState, qt.Equals, ProgressiveStateActive)
	c.Assert(d.ImageCount(), qt.Equals, 3)

	for n := 0; n < 3; n++ {
		img, err := d.NthImage(n)
		c.Assert(err, qt.IsNil)
		c.Assert(img.Width, qt.Equals, 8)
	}

	_, err := d.NthImage(3)
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrInvalidArgument)
}
