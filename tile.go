package avif

// tile is one coded payload, ready to submit to a Codec, together with the
// rectangle in the output Image it decodes into. Multiple tiles from a grid
// or overlay item are planned up front so they can be decoded on separate
// Codec instances concurrently (§4.F).
type tile struct {
	ItemID       uint32
	DestX, DestY int
	DestW, DestH int
	Payload      []byte
	Layers       [][]byte // a1lx progressive layers, submitted in order; nil for a single-payload item
	Config       CodecConfig
	HEVC         bool
}

// readItemData resolves an item's extents against src, honoring its
// construction method: file-relative offsets, idat-relative offsets, or (for
// ConstructionItem, rare in practice) byte ranges within another item's own
// resolved data, named per-extent by ExtentIndex.
func readItemData(g *itemGraph, it *item, src Source) ([]byte, error) {
	return readItemDataDepth(g, it, src, 0)
}

const maxItemConstructionDepth = 8

func readItemDataDepth(g *itemGraph, it *item, src Source, depth int) ([]byte, error) {
	switch it.ConstructionMethod {
	case constructionIdat:
		return loadItemPayload(g, it)
	case constructionItem:
		if depth > maxItemConstructionDepth {
			return nil, newErrorf(ErrBmffParseFailed, "item %d: item-construction chain too deep", it.ID)
		}
		var out []byte
		for _, e := range it.Extents {
			base, ok := g.item(uint32(e.ExtentIndex))
			if !ok {
				return nil, newErrorf(ErrMissingImageItem, "item %d not found for item-construction extent index %d", it.ID, e.ExtentIndex)
			}
			baseData, err := readItemDataDepth(g, base, src, depth+1)
			if err != nil {
				return nil, err
			}
			start := it.BaseOffset + e.Offset
			end := start + e.Length
			if end > uint64(len(baseData)) {
				return nil, newError(ErrTruncatedData, "item-construction extent out of range")
			}
			out = append(out, baseData[start:end]...)
		}
		return out, nil
	default:
		var out []byte
		for _, e := range it.Extents {
			b, err := src.Read(int64(it.BaseOffset+e.Offset), int64(e.Length))
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}
}

func codecConfigFor(g *itemGraph, it *item) (CodecConfig, bool, error) {
	ispe, hasIspe := g.ispe(it.ID)
	cfg := CodecConfig{}
	if hasIspe {
		cfg.Width, cfg.Height = ispe.Width, ispe.Height
	}
	if pixi, ok := g.pixi(it.ID); ok {
		cfg.BitDepths = pixi.ChannelBitDepths
	}
	hevc := false
	for _, p := range g.propertiesFor(it.ID) {
		if p.Av1C != nil {
			cfg.Av1C = p.Av1C
		}
		if p.HvcC != nil {
			cfg.HvcC = p.HvcC
			hevc = true
		}
	}
	return cfg, hevc, nil
}

// planTiles builds the tile list for itemID, recursing through grid/iovl
// derivations. tmap items plan only their base (color) representation; the
// gain map's own item is planned separately by the caller when gain map
// decoding is requested (§4.F, §4.H).
func planTiles(g *itemGraph, src Source, itemID uint32) ([]tile, int, int, error) {
	it, ok := g.item(itemID)
	if !ok {
		return nil, 0, 0, newErrorf(ErrMissingImageItem, "item %d not found", itemID)
	}

	switch it.Type {
	case fcc("grid"):
		return planGrid(g, src, it)
	case fcc("iovl"):
		return planIovl(g, src, it)
	case fcc("tmap"):
		return planTiles(g, src, it.Tmap.BaseItemID)
	default:
		t, w, h, err := planSingle(g, src, it)
		if err != nil {
			return nil, 0, 0, err
		}
		return []tile{t}, w, h, nil
	}
}

func planSingle(g *itemGraph, src Source, it *item) (tile, int, int, error) {
	cfg, hevc, err := codecConfigFor(g, it)
	if err != nil {
		return tile{}, 0, 0, err
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return tile{}, 0, 0, newErrorf(ErrIspeSizeMismatch, "item %d has no ispe", it.ID)
	}
	data, err := readItemData(g, it, src)
	if err != nil {
		return tile{}, 0, 0, err
	}

	t := tile{ItemID: it.ID, DestW: int(cfg.Width), DestH: int(cfg.Height), Config: cfg, HEVC: hevc, Payload: data}

	for _, p := range g.propertiesFor(it.ID) {
		if p.A1lx != nil {
			t.Layers = splitA1lxLayers(data, p.A1lx)
		}
	}
	return t, int(cfg.Width), int(cfg.Height), nil
}

// splitA1lxLayers cuts a layered item's payload into its declared progressive
// layer byte ranges. A zero-valued trailing LayerSize entry means "the rest
// of the data" (§4.F, mirroring AV1's a1lx semantics).
func splitA1lxLayers(data []byte, a1lx *a1lxProp) [][]byte {
	var layers [][]byte
	pos := 0
	for i, size := range a1lx.LayerSize {
		if size == 0 && i == len(a1lx.LayerSize)-1 {
			layers = append(layers, data[pos:])
			return layers
		}
		end := pos + int(size)
		if end > len(data) {
			end = len(data)
		}
		layers = append(layers, data[pos:end])
		pos = end
	}
	if pos < len(data) {
		layers = append(layers, data[pos:])
	}
	return layers
}

// planGrid requires every cell except those in the grid's final row/column
// to share the first cell's dimensions, per the HEIF grid derivation rule
// (§4.D): only the bottom-right edge may be a partial, smaller remainder.
func planGrid(g *itemGraph, src Source, it *item) ([]tile, int, int, error) {
	gd := it.Grid
	if gd == nil {
		return nil, 0, 0, newErrorf(ErrInvalidImageGrid, "item %d has no parsed grid payload", it.ID)
	}
	var tiles []tile
	cellW, cellH := 0, 0
	for i, cellID := range gd.Cells {
		cell, ok := g.item(cellID)
		if !ok {
			return nil, 0, 0, newErrorf(ErrMissingImageItem, "grid cell item %d missing", cellID)
		}
		t, w, h, err := planSingle(g, src, cell)
		if err != nil {
			return nil, 0, 0, err
		}
		if i == 0 {
			cellW, cellH = w, h
		} else {
			row, col := i/gd.Cols, i%gd.Cols
			wantW, wantH := cellW, cellH
			if col != gd.Cols-1 && w != wantW {
				return nil, 0, 0, newErrorf(ErrInvalidImageGrid, "grid cell %d width %d does not match cell 0 width %d", cellID, w, wantW)
			}
			if row != gd.Rows-1 && h != wantH {
				return nil, 0, 0, newErrorf(ErrInvalidImageGrid, "grid cell %d height %d does not match cell 0 height %d", cellID, h, wantH)
			}
		}
		row, col := i/gd.Cols, i%gd.Cols
		t.DestX, t.DestY = col*cellW, row*cellH
		tiles = append(tiles, t)
	}
	w, h := int(gd.OutputWidth), int(gd.OutputHeight)
	if w == 0 {
		w = cellW * gd.Cols
	}
	if h == 0 {
		h = cellH * gd.Rows
	}
	return tiles, w, h, nil
}

func planIovl(g *itemGraph, src Source, it *item) ([]tile, int, int, error) {
	od := it.Iovl
	if od == nil {
		return nil, 0, 0, newErrorf(ErrInvalidArgument, "item %d has no parsed iovl payload", it.ID)
	}
	var tiles []tile
	for i, imgID := range od.Images {
		img, ok := g.item(imgID)
		if !ok {
			return nil, 0, 0, newErrorf(ErrMissingImageItem, "overlay image item %d missing", imgID)
		}
		t, _, _, err := planSingle(g, src, img)
		if err != nil {
			return nil, 0, 0, err
		}
		t.DestX, t.DestY = int(od.Offsets[i].H), int(od.Offsets[i].V)
		tiles = append(tiles, t)
	}
	return tiles, int(od.OutputWidth), int(od.OutputHeight), nil
}
