package avif

import "fmt"

// EncodeOptions configures one AddImage/AddImageGrid call, per §4.K.
type EncodeOptions struct {
	CodecChoice CodecChoice
	Quality     int  // not read: no quality setting reaches the CodecEncoder
	Lossless    bool // not read: no lossless setting reaches the CodecEncoder
}

type encodedItem struct {
	id            uint32
	itemType      fourCC
	data          []byte
	width, height uint32
	bitDepths     []uint8
	isAlpha       bool
}

// Encoder assembles a still AVIF image (optionally a grid, with an alpha
// channel), writing ISOBMFF boxes with boxWriter the way Decoder reads them
// with reader, per §4.K. Finish writes only ftyp and meta (with the coded
// data in idat); it writes no moov, so it produces no image sequence, and
// further AddImage calls add further items beside the primary one.
type Encoder struct {
	CodecChoice CodecChoice

	items     []*encodedItem
	nextID    uint32
	primaryID uint32
	gridCells []uint32
	gridRows  int
	gridCols  int
	auxlRefs  []auxlRef

	exif, xmp []byte
}

// NewEncoder returns an Encoder ready to accept AddImage calls.
func NewEncoder() *Encoder {
	return &Encoder{nextID: 1}
}

// SetMetadata attaches Exif/XMP payloads to be stored as metadata items
// referencing the primary item via a cdsc reference.
func (e *Encoder) SetMetadata(exif, xmp []byte) {
	e.exif, e.xmp = exif, xmp
}

// AddImage encodes img as a coded item, along with its alpha plane if
// present. The first image added becomes the primary item unless
// AddImageGrid later makes its grid item primary.
func (e *Encoder) AddImage(img *Image, opts EncodeOptions) error {
	if img == nil {
		return newError(ErrInvalidArgument, "nil image")
	}
	item, err := e.encodeOne(img, opts)
	if err != nil {
		return err
	}
	if e.primaryID == 0 {
		e.primaryID = item.id
	}
	if img.HasAlpha() {
		if err := e.encodeAlpha(img, item.id, opts); err != nil {
			return err
		}
	}
	return nil
}

// AddImageGrid encodes each cell and registers a "grid" derivation item as
// the primary item, per §3.2's grid reconstruction.
func (e *Encoder) AddImageGrid(cells []*Image, rows, cols int, opts EncodeOptions) error {
	if len(cells) != rows*cols {
		return newErrorf(ErrInvalidArgument, "grid needs %d cells, got %d", rows*cols, len(cells))
	}
	e.gridRows, e.gridCols = rows, cols
	for _, cell := range cells {
		item, err := e.encodeOne(cell, opts)
		if err != nil {
			return err
		}
		e.gridCells = append(e.gridCells, item.id)
	}
	gridID := e.nextID
	e.nextID++
	e.primaryID = gridID
	e.items = append(e.items, &encodedItem{id: gridID, itemType: fcc("grid")})
	return nil
}

func (e *Encoder) encodeOne(img *Image, opts EncodeOptions) (*encodedItem, error) {
	enc, err := resolveEncoder(opts.CodecChoice)
	if err != nil {
		return nil, err
	}
	defer enc.Destroy()

	cfg := CodecConfig{Width: uint32(img.Width), Height: uint32(img.Height), BitDepths: []uint8{uint8(img.Depth)}}
	if err := enc.Initialize(cfg); err != nil {
		return nil, newErrorf(ErrEncodeColorFailed, "%v", err)
	}
	frame := &CodecFrame{
		Width: img.Width, Height: img.Height, BitDepth: img.Depth,
		Monochrome: img.Format == PixelFormatYUV400,
	}
	frame.Planes[0], frame.Strides[0] = img.YPlane, img.YStride
	frame.Planes[1], frame.Strides[1] = img.UPlane, img.UStride
	frame.Planes[2], frame.Strides[2] = img.VPlane, img.VStride
	payloads, err := enc.EncodeFrame(frame, true)
	if err != nil {
		return nil, newErrorf(ErrEncodeColorFailed, "%v", err)
	}
	data := concatBoxes(payloads...)

	item := &encodedItem{
		id: e.nextID, itemType: fcc("av01"), data: data,
		width: uint32(img.Width), height: uint32(img.Height),
		bitDepths: []uint8{uint8(img.Depth)},
	}
	e.nextID++
	e.items = append(e.items, item)
	return item, nil
}

func (e *Encoder) encodeAlpha(img *Image, colorItemID uint32, opts EncodeOptions) error {
	enc, err := resolveEncoder(opts.CodecChoice)
	if err != nil {
		return err
	}
	defer enc.Destroy()
	cfg := CodecConfig{Width: uint32(img.Width), Height: uint32(img.Height), BitDepths: []uint8{uint8(img.Depth)}}
	if err := enc.Initialize(cfg); err != nil {
		return newErrorf(ErrEncodeAlphaFailed, "%v", err)
	}
	frame := &CodecFrame{Width: img.Width, Height: img.Height, BitDepth: img.Depth, Monochrome: true}
	frame.Planes[0], frame.Strides[0] = img.AlphaPlane, img.AlphaStride
	payloads, err := enc.EncodeFrame(frame, true)
	if err != nil {
		return newErrorf(ErrEncodeAlphaFailed, "%v", err)
	}
	item := &encodedItem{
		id: e.nextID, itemType: fcc("av01"), data: concatBoxes(payloads...),
		width: uint32(img.Width), height: uint32(img.Height), isAlpha: true,
	}
	e.nextID++
	e.items = append(e.items, item)

	found := false
	for _, it := range e.items {
		if it.id == colorItemID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("internal error: color item %d not found", colorItemID)
	}
	e.auxlRefs = append(e.auxlRefs, auxlRef{from: item.id, to: colorItemID})
	return nil
}

type auxlRef struct{ from, to uint32 }

// Finish serializes every added image into a complete AVIF byte stream.
func (e *Encoder) Finish() ([]byte, error) {
	if e.primaryID == 0 {
		return nil, newError(ErrNoContent, "no images added")
	}

	ftyp := box("ftyp", concatBoxes(
		fcc("avif").bytes(),
		u32bytes(0),
		fcc("avif").bytes(),
		fcc("mif1").bytes(),
		fcc("miaf").bytes(),
	))

	var iinfEntries, ilocEntries, ipcoEntries, ipmaEntries, irefEntries []byte
	var idat []byte
	propIndex := 0
	itemCount := len(e.items)
	ipmaCount := 0

	addIspeAndMaybePixi := func(it *encodedItem) []int {
		var idxs []int
		ipcoEntries = append(ipcoEntries, fullBox("ispe", 0, 0, concatBoxes(u32bytes(it.width), u32bytes(it.height)))...)
		propIndex++
		idxs = append(idxs, propIndex)
		if len(it.bitDepths) > 0 {
			w := newBoxWriter()
			w.u8(uint8(len(it.bitDepths)))
			for _, d := range it.bitDepths {
				w.u8(d)
			}
			ipcoEntries = append(ipcoEntries, fullBox("pixi", 0, 0, w.Bytes())...)
			propIndex++
			idxs = append(idxs, propIndex)
		}
		if it.isAlpha {
			w := newBoxWriter()
			w.cstring(wellKnownAlphaURN)
			ipcoEntries = append(ipcoEntries, box("auxC", w.Bytes())...)
			propIndex++
			idxs = append(idxs, propIndex)
		}
		return idxs
	}

	for _, it := range e.items {
		if it.itemType == fcc("grid") {
			iinfEntries = append(iinfEntries, infeBox(it.id, "grid"))
			gridPayload := gridDerivationPayload(e.gridRows, e.gridCols, e.items)
			offset := uint64(len(idat))
			idat = append(idat, gridPayload...)
			ilocEntries = append(ilocEntries, ilocEntry(it.id, offset, uint64(len(gridPayload)))...)
			for _, cellID := range e.gridCells {
				irefEntries = append(irefEntries, irefEntry("dimg", it.id, cellID)...)
			}
			continue
		}

		iinfEntries = append(iinfEntries, infeBox(it.id, "av01"))
		offset := uint64(len(idat))
		idat = append(idat, it.data...)
		ilocEntries = append(ilocEntries, ilocEntry(it.id, offset, uint64(len(it.data)))...)

		idxs := addIspeAndMaybePixi(it)
		ipmaEntries = append(ipmaEntries, ipmaAssocEntry(it.id, idxs, false)...)
		ipmaCount++
	}

	for _, ref := range e.auxlRefs {
		irefEntries = append(irefEntries, irefEntry("auxl", ref.from, ref.to)...)
	}

	if e.exif != nil {
		id := e.nextID
		e.nextID++
		itemCount++
		iinfEntries = append(iinfEntries, infeBox(id, "Exif"))
		payload := concatBoxes(u32bytes(0), e.exif) // 4-byte tiff-header-offset prefix, per §4.D
		offset := uint64(len(idat))
		idat = append(idat, payload...)
		ilocEntries = append(ilocEntries, ilocEntry(id, offset, uint64(len(payload)))...)
		irefEntries = append(irefEntries, irefEntry("cdsc", id, e.primaryID)...)
	}
	if e.xmp != nil {
		id := e.nextID
		e.nextID++
		itemCount++
		iinfEntries = append(iinfEntries, infeMimeBox(id, "application/rdf+xml"))
		offset := uint64(len(idat))
		idat = append(idat, e.xmp...)
		ilocEntries = append(ilocEntries, ilocEntry(id, offset, uint64(len(e.xmp)))...)
		irefEntries = append(irefEntries, irefEntry("cdsc", id, e.primaryID)...)
	}

	iinf := fullBox("iinf", 0, 0, concatBoxes(u16bytes(uint16(itemCount)), iinfEntries))
	// version 1 carries a construction_method per entry (idat, here); offset
	// and length fields stay 4 bytes (0x44), base offset and index sizes are
	// unused (0x00), and item IDs stay 16-bit since version < 2.
	iloc := fullBox("iloc", 1, 0, concatBoxes([]byte{0x44, 0x00}, u16bytes(uint16(itemCount)), ilocEntries))
	ipco := box("ipco", ipcoEntries)
	ipma := fullBox("ipma", 1, 0, concatBoxes(u32bytes(uint32(ipmaCount)), ipmaEntries))
	iprp := box("iprp", concatBoxes(ipco, ipma))
	pitm := fullBox("pitm", 0, 0, u16bytes(uint16(e.primaryID)))

	var iref []byte
	if len(irefEntries) > 0 {
		iref = fullBox("iref", 1, 0, irefEntries)
	}

	var metaChildren [][]byte
	metaChildren = append(metaChildren, pitm, iinf, iloc, iprp)
	if iref != nil {
		metaChildren = append(metaChildren, iref)
	}
	metaChildren = append(metaChildren, box("idat", idat))
	meta := fullBox("meta", 0, 0, concatBoxes(metaChildren...))

	out := concatBoxes(ftyp, meta)
	return out, nil
}

func u16bytes(v uint16) []byte {
	w := newBoxWriter()
	w.u16(v)
	return w.Bytes()
}

func u32bytes(v uint32) []byte {
	w := newBoxWriter()
	w.u32(v)
	return w.Bytes()
}

// infeBox writes an infe FullBox at version 2, whose item_ID field is 16 bits
// wide (version 3 would be 32 bits; AVIF never needs more than 65535 items).
func infeBox(id uint32, itemType string) []byte {
	w := newBoxWriter()
	w.u16(uint16(id))
	w.u16(0) // protection index
	w.fourcc(itemType)
	return fullBox("infe", 2, 0, w.Bytes())
}

// infeMimeBox writes an infe entry of type "mime" with the given content_type,
// used for the XMP metadata item (item_type "mime" rather than a fourCC box type).
func infeMimeBox(id uint32, contentType string) []byte {
	w := newBoxWriter()
	w.u16(uint16(id))
	w.u16(0)
	w.fourcc("mime")
	w.cstring(contentType)
	return fullBox("infe", 2, 0, w.Bytes())
}

// ilocEntry encodes one iloc entry for version 1 (item_ID stays 16 bits,
// construction_method is idat, a single extent uses 4-byte offset/length
// fields matching the 0x44 0x00 nibble pair written once in Finish).
func ilocEntry(id uint32, offset, length uint64) []byte {
	w := newBoxWriter()
	w.u16(uint16(id))
	w.u16(uint16(constructionIdat))
	w.u16(0) // data reference index
	w.u16(1) // extent count
	w.u32(uint32(offset))
	w.u32(uint32(length))
	return w.Bytes()
}

// ipmaAssocEntry encodes one ipma top-level entry: an item ID followed by all
// of its property associations. Every association for a given item must be
// packed into a single entry since parseIpma keys its result by item ID.
func ipmaAssocEntry(itemID uint32, propIndices []int, essential bool) []byte {
	w := newBoxWriter()
	w.u32(itemID)
	w.u8(uint8(len(propIndices)))
	for _, propIndex := range propIndices {
		v := uint8(propIndex & 0x7f)
		if essential {
			v |= 0x80
		}
		w.u8(v)
	}
	return w.Bytes()
}

func irefEntry(refType string, from, to uint32) []byte {
	w := newBoxWriter()
	w.u32(from)
	w.u16(1)
	w.u32(to)
	return box(refType, w.Bytes())
}

func gridDerivationPayload(rows, cols int, items []*encodedItem) []byte {
	w := newBoxWriter()
	w.u8(0) // version
	w.u8(0) // flags (16-bit field size)
	w.u8(uint8(rows - 1))
	w.u8(uint8(cols - 1))
	var w0, h0 uint32
	for _, it := range items {
		if it.itemType == fcc("av01") && !it.isAlpha {
			w0, h0 = it.width, it.height
			break
		}
	}
	w.u16(uint16(w0 * uint32(cols)))
	w.u16(uint16(h0 * uint32(rows)))
	return w.Bytes()
}
