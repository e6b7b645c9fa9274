package avif

import "fmt"

// extent is a single (offset, length) byte range named by an item's iloc
// entry, relative to its construction method's base. ExtentIndex is only
// meaningful for ConstructionItem (construction_method 2): it names the item
// whose own resolved byte stream Offset/Length index into.
type extent struct {
	Offset      uint64
	Length      uint64
	ExtentIndex uint64
}

// constructionMethod selects where an item's extents are anchored.
type constructionMethod uint8

const (
	constructionFile constructionMethod = iota
	constructionIdat
	constructionItem
)

// item is one identified coded image or auxiliary payload from the
// meta/iinf+iloc+iref+iprp graph (§3.1).
type item struct {
	ID                 uint32
	Type               fourCC
	Hidden             bool
	ConstructionMethod constructionMethod
	BaseOffset         uint64
	Extents            []extent
	Associations       []ipmaAssoc
	References         map[fourCC][]uint32

	Grid *gridDerivation
	Iovl *iovlDerivation
	Tmap *tmapDerivation
}

// totalSize sums the item's extents, the size the tile planner reports for
// nth_image_max_extent-style prefetch hints.
func (it *item) totalSize() uint64 {
	var n uint64
	for _, e := range it.Extents {
		n += e.Length
	}
	return n
}

func (it *item) isDerivation() bool {
	switch it.Type {
	case fcc("grid"), fcc("iovl"), fcc("tmap"):
		return true
	default:
		return false
	}
}

// gridDerivation is the parsed payload of a "grid" item: a rows x cols
// tiling of the items referenced (in order) by its dimg iref entries.
type gridDerivation struct {
	Rows, Cols           int
	OutputWidth, OutputHeight uint32
	Cells                []uint32 // item IDs, row-major, left-to-right/top-to-bottom
}

// iovlDerivation is the parsed payload of an "iovl" (image overlay) item.
type iovlDerivation struct {
	CanvasFill                [4]uint16
	OutputWidth, OutputHeight uint32
	Offsets                   []struct{ H, V int32 }
	Images                    []uint32
}

// gainMapMetadata is the ISO 21496-1-shaped rational metadata a "tmap"
// derivation carries for its alternate (gain map) representation. The exact
// wire layout of a tmap item's own payload is one of spec.md's stated Open
// Questions; this decoder follows libavif's convention (documented in
// DESIGN.md) of a compact per-channel rational record.
type gainMapMetadata struct {
	ChannelCount                          int
	Min, Max                              [3]Rat[int32]
	Gamma                                 [3]Rat[uint32]
	BaseOffset, AlternateOffset           [3]Rat[int32]
	BaseHdrHeadroom, AlternateHdrHeadroom Rat[uint32]
	BaseColorPrimaries                    uint16
	BaseTransferCharacteristics           uint16
	BaseMatrixCoefficients                uint16
	BaseFullRange                         bool
	AlternateColorPrimaries               uint16
	AlternateTransferCharacteristics      uint16
	AlternateMatrixCoefficients           uint16
	AlternateFullRange                    bool
}

type tmapDerivation struct {
	BaseItemID      uint32 // dimg[0]
	AlternateItemID uint32 // dimg[1], normally the coded gain-map image
	Metadata        gainMapMetadata
}

// itemGraph is the fully resolved in-memory item/property graph built from a
// file's meta box (§3.1/§4.D). It is immutable once returned from
// buildItemGraph.
type itemGraph struct {
	Items         map[uint32]*item
	Order         []uint32
	Properties    []property
	PrimaryItemID uint32
	IdatData      []byte
}

func (g *itemGraph) item(id uint32) (*item, bool) {
	it, ok := g.Items[id]
	return it, ok
}

// propertiesFor resolves an item's ipma associations into concrete
// properties, in association order.
func (g *itemGraph) propertiesFor(id uint32) []property {
	it, ok := g.Items[id]
	if !ok {
		return nil
	}
	out := make([]property, 0, len(it.Associations))
	for _, a := range it.Associations {
		if a.Index < 1 || a.Index > len(g.Properties) {
			continue
		}
		out = append(out, g.Properties[a.Index-1])
	}
	return out
}

// unknownEssential reports the first essential property association for id
// that indexes into an unrecognized property, per §3.1's invariant that
// "every essential property known to the decoder must be understood."
func (g *itemGraph) unknownEssential(id uint32) (property, bool) {
	it, ok := g.Items[id]
	if !ok {
		return property{}, false
	}
	for _, a := range it.Associations {
		if !a.Essential {
			continue
		}
		if a.Index < 1 || a.Index > len(g.Properties) {
			continue
		}
		p := g.Properties[a.Index-1]
		if !p.known() {
			return p, true
		}
	}
	return property{}, false
}

// ispe returns the parsed ispe property for id, if any.
func (g *itemGraph) ispe(id uint32) (*ispeProp, bool) {
	for _, p := range g.propertiesFor(id) {
		if p.Ispe != nil {
			return p.Ispe, true
		}
	}
	return nil, false
}

// pixi returns the parsed pixi property for id, if any.
func (g *itemGraph) pixi(id uint32) (*pixiProp, bool) {
	for _, p := range g.propertiesFor(id) {
		if p.Pixi != nil {
			return p.Pixi, true
		}
	}
	return nil, false
}

// auxItemsFor returns the item IDs that declare an "auxl" reference to id,
// used to locate alpha/gain-map auxiliary items; callers inspect each
// candidate's auxC property themselves (see isAlphaItem).
func (g *itemGraph) auxItemsFor(id uint32) []uint32 {
	var out []uint32
	for _, candidateID := range g.Order {
		cand := g.Items[candidateID]
		for _, ref := range cand.References[fcc("auxl")] {
			if ref == id {
				out = append(out, candidateID)
			}
		}
	}
	return out
}

const wellKnownAlphaURN = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"

// isAlphaItem reports whether id is an auxl item with the well-known alpha
// aux-type.
func (g *itemGraph) isAlphaItem(id uint32) bool {
	for _, p := range g.propertiesFor(id) {
		if p.AuxC != nil && p.AuxC.AuxType == wellKnownAlphaURN {
			return true
		}
	}
	return false
}

// buildItemGraph parses a "meta" box body (starting at its own FullBox
// version+flags, which it reads first) into an itemGraph, following §4.D: iinf/iloc/iref/ipma/idat
// are collected in a single linear scan regardless of box order, then
// resolved, mirroring bep-imagemeta's imageDecoderHEIF.decode strategy.
// depth is the nesting level of metaBody's own box (the "meta" box itself),
// so its children are walked at depth+1.
func buildItemGraph(metaBody *reader, depth int) (*itemGraph, error) {
	if _, _, err := metaBody.fullBoxHeader(); err != nil {
		return nil, err
	}

	g := &itemGraph{Items: map[uint32]*item{}}

	ensureItem := func(id uint32) *item {
		it, ok := g.Items[id]
		if !ok {
			it = &item{ID: id, References: map[fourCC][]uint32{}}
			g.Items[id] = it
			g.Order = append(g.Order, id)
		}
		return it
	}

	err := walkBoxes(metaBody, depth+1, func(h boxHeader, body *reader) error {
		switch h.Type {
		case fcc("pitm"):
			version, _, err := body.fullBoxHeader()
			if err != nil {
				return err
			}
			if version == 0 {
				v, err := body.u16()
				if err != nil {
					return err
				}
				g.PrimaryItemID = uint32(v)
			} else {
				v, err := body.u32()
				if err != nil {
					return err
				}
				g.PrimaryItemID = v
			}

		case fcc("iinf"):
			version, _, err := body.fullBoxHeader()
			if err != nil {
				return err
			}
			if version == 0 {
				if _, err := body.u16(); err != nil { // entry_count, redundant with walkBoxes' own exhaustion
					return err
				}
			} else {
				if _, err := body.u32(); err != nil {
					return err
				}
			}
			if err := walkOneInfe(body, ensureItem, depth+2); err != nil {
				return err
			}

		case fcc("iloc"):
			return parseIlocInto(body, ensureItem)

		case fcc("iref"):
			return parseIrefInto(body, ensureItem, depth+2)

		case fcc("iprp"):
			return walkBoxes(body, depth+2, func(ch boxHeader, cb *reader) error {
				switch ch.Type {
				case fcc("ipco"):
					props, err := parseIpco(cb, depth+3)
					if err != nil {
						return err
					}
					g.Properties = props
				case fcc("ipma"):
					assocs, err := parseIpma(cb)
					if err != nil {
						return err
					}
					for id, a := range assocs {
						ensureItem(id).Associations = a
					}
				}
				return nil
			})

		case fcc("idat"):
			b, err := body.bytes(body.len())
			if err != nil {
				return err
			}
			g.IdatData = append([]byte(nil), b...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.PrimaryItemID != 0 {
		if _, ok := g.Items[g.PrimaryItemID]; !ok {
			return nil, newErrorf(ErrMissingImageItem, "primary item %d does not exist", g.PrimaryItemID)
		}
	}

	if err := validateReferences(g); err != nil {
		return nil, err
	}

	if err := resolveDerivations(g); err != nil {
		return nil, err
	}

	return g, nil
}

// walkOneInfe parses every "infe" FullBox child of an iinf body.
func walkOneInfe(body *reader, ensureItem func(uint32) *item, depth int) error {
	return walkBoxes(body, depth, func(h boxHeader, infeBody *reader) error {
		if h.Type != fcc("infe") {
			return nil
		}
		version, flags, err := infeBody.fullBoxHeader()
		if err != nil {
			return err
		}
		if version < 2 {
			// Versions below 2 predate item_type and aren't used by AVIF;
			// skip silently (degrades to a missing item, caught later if
			// referenced).
			return nil
		}
		var id uint32
		if version == 2 {
			v, err := infeBody.u16()
			if err != nil {
				return err
			}
			id = uint32(v)
		} else {
			id, err = infeBody.u32()
			if err != nil {
				return err
			}
		}
		if err := infeBody.skip(2); err != nil { // protection index
			return err
		}
		typeBytes, err := infeBody.bytes(4)
		if err != nil {
			return err
		}
		it := ensureItem(id)
		copy(it.Type[:], typeBytes)
		it.Hidden = flags&0x1 != 0
		return nil
	})
}

func readVarUint(r *reader, n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 2:
		v, err := r.u16()
		return uint64(v), err
	case 4:
		v, err := r.u32()
		return uint64(v), err
	case 8:
		return r.u64()
	default:
		return 0, newErrorf(ErrBmffParseFailed, "unsupported iloc field size %d", n)
	}
}

func parseIlocInto(body *reader, ensureItem func(uint32) *item) error {
	version, _, err := body.fullBoxHeader()
	if err != nil {
		return err
	}
	b1, err := body.u8()
	if err != nil {
		return err
	}
	offsetSize, lengthSize := int(b1>>4), int(b1&0xf)

	b2, err := body.u8()
	if err != nil {
		return err
	}
	baseOffsetSize, indexSize := int(b2>>4), int(b2&0xf)

	var count uint32
	if version < 2 {
		v, err := body.u16()
		if err != nil {
			return err
		}
		count = uint32(v)
	} else {
		count, err = body.u32()
		if err != nil {
			return err
		}
	}

	for range count {
		var itemID uint32
		if version < 2 {
			v, err := body.u16()
			if err != nil {
				return err
			}
			itemID = uint32(v)
		} else {
			itemID, err = body.u32()
			if err != nil {
				return err
			}
		}

		var method constructionMethod
		if version >= 1 {
			v, err := body.u16()
			if err != nil {
				return err
			}
			method = constructionMethod(v & 0xf)
		}
		if err := body.skip(2); err != nil { // data reference index
			return err
		}
		baseOffset, err := readVarUint(body, baseOffsetSize)
		if err != nil {
			return err
		}
		extentCount, err := body.u16()
		if err != nil {
			return err
		}

		it := ensureItem(itemID)
		it.ConstructionMethod = method
		it.BaseOffset = baseOffset
		for range extentCount {
			var extentIndex uint64
			if version >= 1 && indexSize > 0 {
				extentIndex, err = readVarUint(body, indexSize)
				if err != nil {
					return err
				}
			}
			off, err := readVarUint(body, offsetSize)
			if err != nil {
				return err
			}
			length, err := readVarUint(body, lengthSize)
			if err != nil {
				return err
			}
			it.Extents = append(it.Extents, extent{Offset: off, Length: length, ExtentIndex: extentIndex})
		}
	}
	return nil
}

func parseIrefInto(body *reader, ensureItem func(uint32) *item, depth int) error {
	version, _, err := body.fullBoxHeader()
	if err != nil {
		return err
	}
	return walkBoxes(body, depth, func(h boxHeader, refBody *reader) error {
		var fromID uint32
		if version == 0 {
			v, err := refBody.u16()
			if err != nil {
				return err
			}
			fromID = uint32(v)
		} else {
			fromID, err = refBody.u32()
			if err != nil {
				return err
			}
		}
		count, err := refBody.u16()
		if err != nil {
			return err
		}
		from := ensureItem(fromID)
		for range count {
			var toID uint32
			if version == 0 {
				v, err := refBody.u16()
				if err != nil {
					return err
				}
				toID = uint32(v)
			} else {
				toID, err = refBody.u32()
				if err != nil {
					return err
				}
			}
			from.References[h.Type] = append(from.References[h.Type], toID)
		}
		return nil
	})
}

// validateReferences enforces §3.1's reference-graph invariants: every
// referenced item exists, no item references itself, and the reference graph
// (restricted to dimg, the only cyclic-risk edge) is acyclic up to the depth
// cap of §9.
func validateReferences(g *itemGraph) error {
	for _, id := range g.Order {
		it := g.Items[id]
		for _, refs := range it.References {
			for _, to := range refs {
				if to == id {
					return newErrorf(ErrBmffParseFailed, "item %d references itself", id)
				}
				if _, ok := g.Items[to]; !ok {
					return newErrorf(ErrBmffParseFailed, "item %d references unknown item %d", id, to)
				}
			}
		}
	}
	const maxDerivationDepth = 8
	var visit func(id uint32, depth int, seen map[uint32]bool) error
	visit = func(id uint32, depth int, seen map[uint32]bool) error {
		if depth > maxDerivationDepth {
			return newError(ErrInvalidImageGrid, "derivation graph exceeds maximum depth")
		}
		if seen[id] {
			return newError(ErrInvalidImageGrid, "cyclic item derivation graph")
		}
		seen[id] = true
		defer delete(seen, id)
		for _, to := range g.Items[id].References[fcc("dimg")] {
			if err := visit(to, depth+1, seen); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range g.Order {
		if err := visit(id, 0, map[uint32]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// resolveDerivations parses grid/iovl/tmap payloads from their own coded
// data and attaches them to the item, per §4.D.
func resolveDerivations(g *itemGraph) error {
	for _, id := range g.Order {
		it := g.Items[id]
		if !it.isDerivation() {
			continue
		}
		payload, err := loadItemPayload(g, it)
		if err != nil {
			return err
		}
		cells := it.References[fcc("dimg")]
		switch it.Type {
		case fcc("grid"):
			gd, err := parseGrid(payload, cells)
			if err != nil {
				return err
			}
			it.Grid = gd
		case fcc("iovl"):
			od, err := parseIovl(payload, cells)
			if err != nil {
				return err
			}
			it.Iovl = od
		case fcc("tmap"):
			if len(cells) < 2 {
				return newErrorf(ErrInvalidToneMappedImage, "tmap item %d needs base and alternate dimg references", id)
			}
			td := &tmapDerivation{BaseItemID: cells[0], AlternateItemID: cells[1]}
			if len(payload) > 0 {
				md, err := parseGainMapMetadata(payload)
				if err != nil {
					return err
				}
				td.Metadata = md
			}
			it.Tmap = td
		}
	}
	return nil
}

// loadItemPayload concatenates an item's extents into one buffer, resolving
// file vs. idat construction methods. It's only used for small derivation
// payloads (grid/iovl/tmap headers); coded tile payloads are read lazily by
// the tile planner instead.
func loadItemPayload(g *itemGraph, it *item) ([]byte, error) {
	if it.ConstructionMethod == constructionIdat {
		var out []byte
		for _, e := range it.Extents {
			end := it.BaseOffset + e.Offset + e.Length
			if end > uint64(len(g.IdatData)) {
				return nil, newError(ErrTruncatedData, "idat extent out of range")
			}
			out = append(out, g.IdatData[it.BaseOffset+e.Offset:end]...)
		}
		return out, nil
	}
	// File-backed (construction method 0) payloads are not read here, since
	// the item graph has no Source: this returns nil, so a file-backed grid
	// or iovl item fails its payload length check and a file-backed tmap
	// item keeps zero-valued gain-map metadata. Only idat-backed derivation
	// payloads are parsed.
	return nil, nil
}

func parseGrid(payload []byte, cells []uint32) (*gridDerivation, error) {
	if len(payload) < 8 {
		return nil, newError(ErrInvalidImageGrid, "grid payload too short")
	}
	r := newReader(payload)
	if err := r.skip(1); err != nil { // version
		return nil, err
	}
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	rowsMinus1, err := r.u8()
	if err != nil {
		return nil, err
	}
	colsMinus1, err := r.u8()
	if err != nil {
		return nil, err
	}
	var w, h uint32
	if flags&1 != 0 {
		w, err = r.u32()
		if err != nil {
			return nil, err
		}
		h, err = r.u32()
		if err != nil {
			return nil, err
		}
	} else {
		ww, err := r.u16()
		if err != nil {
			return nil, err
		}
		hh, err := r.u16()
		if err != nil {
			return nil, err
		}
		w, h = uint32(ww), uint32(hh)
	}
	rows, cols := int(rowsMinus1)+1, int(colsMinus1)+1
	if len(cells) != rows*cols {
		return nil, newErrorf(ErrInvalidImageGrid, "grid declares %dx%d cells but has %d dimg references", rows, cols, len(cells))
	}
	return &gridDerivation{Rows: rows, Cols: cols, OutputWidth: w, OutputHeight: h, Cells: append([]uint32(nil), cells...)}, nil
}

func parseIovl(payload []byte, images []uint32) (*iovlDerivation, error) {
	if len(payload) < 2 {
		return nil, newError(ErrInvalidArgument, "iovl payload too short")
	}
	r := newReader(payload)
	if err := r.skip(1); err != nil { // version
		return nil, err
	}
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	var fill [4]uint16
	for i := range fill {
		v, err := r.u16()
		if err != nil {
			return nil, err
		}
		fill[i] = v
	}
	large := flags&1 != 0
	readDim := func() (uint32, error) {
		if large {
			return r.u32()
		}
		v, err := r.u16()
		return uint32(v), err
	}
	w, err := readDim()
	if err != nil {
		return nil, err
	}
	h, err := readDim()
	if err != nil {
		return nil, err
	}
	readOff := func() (int32, error) {
		if large {
			return r.i32()
		}
		v, err := r.u16()
		return int32(int16(v)), err
	}
	offs := make([]struct{ H, V int32 }, len(images))
	for i := range offs {
		hv, err := readOff()
		if err != nil {
			return nil, err
		}
		vv, err := readOff()
		if err != nil {
			return nil, err
		}
		offs[i] = struct{ H, V int32 }{hv, vv}
	}
	return &iovlDerivation{CanvasFill: fill, OutputWidth: w, OutputHeight: h, Offsets: offs, Images: append([]uint32(nil), images...)}, nil
}

func parseGainMapMetadata(payload []byte) (gainMapMetadata, error) {
	var md gainMapMetadata
	r := newReader(payload)
	if err := r.skip(1); err != nil { // version
		return md, err
	}
	count, err := r.u8()
	if err != nil {
		return md, err
	}
	if count != 1 && count != 3 {
		return md, newErrorf(ErrInvalidToneMappedImage, "unsupported gain map channel count %d", count)
	}
	md.ChannelCount = int(count)
	readRatI32 := func() (Rat[int32], error) {
		n, err := r.i32()
		if err != nil {
			return nil, err
		}
		d, err := r.i32()
		if err != nil {
			return nil, err
		}
		return NewRat[int32](n, d)
	}
	readRatU32 := func() (Rat[uint32], error) {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		d, err := r.u32()
		if err != nil {
			return nil, err
		}
		return NewRat[uint32](n, d)
	}
	for i := range count {
		v, err := readRatI32()
		if err != nil {
			return md, err
		}
		md.Min[i] = v
		if v, err = readRatI32(); err != nil {
			return md, err
		}
		md.Max[i] = v
		gv, err := readRatU32()
		if err != nil {
			return md, err
		}
		md.Gamma[i] = gv
		if v, err = readRatI32(); err != nil {
			return md, err
		}
		md.BaseOffset[i] = v
		if v, err = readRatI32(); err != nil {
			return md, err
		}
		md.AlternateOffset[i] = v
	}
	if md.BaseHdrHeadroom, err = readRatU32(); err != nil {
		return md, err
	}
	if md.AlternateHdrHeadroom, err = readRatU32(); err != nil {
		return md, err
	}
	readCICP := func(prim, trc, mtx *uint16, full *bool) error {
		v, err := r.u16()
		if err != nil {
			return err
		}
		*prim = v
		if v, err = r.u16(); err != nil {
			return err
		}
		*trc = v
		if v, err = r.u16(); err != nil {
			return err
		}
		*mtx = v
		fr, err := r.u8()
		if err != nil {
			return err
		}
		*full = fr != 0
		return nil
	}
	if err := readCICP(&md.BaseColorPrimaries, &md.BaseTransferCharacteristics, &md.BaseMatrixCoefficients, &md.BaseFullRange); err != nil {
		return md, err
	}
	if err := readCICP(&md.AlternateColorPrimaries, &md.AlternateTransferCharacteristics, &md.AlternateMatrixCoefficients, &md.AlternateFullRange); err != nil {
		return md, err
	}
	return md, nil
}

func (g *itemGraph) String() string {
	return fmt.Sprintf("itemGraph{items=%d primary=%d}", len(g.Items), g.PrimaryItemID)
}
