package avif

// property is a typed box stored in ipco and referenced by items via ipma.
// Exactly one of the pointer fields is non-nil, selected by Type. Unrecognized
// property types are kept with every pointer nil so ipma associations still
// resolve by index; whether that's fatal is decided by whether the
// association was marked essential (§4.D "every essential property known to
// the decoder must be understood").
type property struct {
	Type fourCC

	Ispe *ispeProp
	Pixi *pixiProp
	Av1C *av1CProp
	HvcC *hvcCProp
	Colr *colrProp
	Clli *clliProp
	Pasp *paspProp
	Clap *clapProp
	Irot *irotProp
	Imir *imirProp
	Lsel *lselProp
	A1op *a1opProp
	A1lx *a1lxProp
	AuxC *auxCProp
}

// known reports whether this decoder understands the property's semantics,
// independent of whether it chose to keep the parsed payload.
func (p property) known() bool {
	switch p.Type {
	case fcc("ispe"), fcc("pixi"), fcc("av1C"), fcc("hvcC"), fcc("colr"),
		fcc("clli"), fcc("pasp"), fcc("clap"), fcc("irot"), fcc("imir"),
		fcc("lsel"), fcc("a1op"), fcc("a1lx"), fcc("auxC"):
		return true
	default:
		return false
	}
}

type ispeProp struct {
	Width, Height uint32
}

type pixiProp struct {
	ChannelBitDepths []uint8
}

// av1CProp is the parsed AV1CodecConfigurationRecord (av1C).
type av1CProp struct {
	SeqProfile           uint8
	SeqLevelIdx0         uint8
	SeqTier0             uint8
	HighBitdepth         bool
	TwelveBit            bool
	Monochrome           bool
	ChromaSubsamplingX   uint8
	ChromaSubsamplingY   uint8
	ChromaSamplePosition uint8
	ConfigOBUs           []byte
}

// hvcCProp carries the raw HEVCDecoderConfigurationRecord payload; this
// decoder doesn't interpret HEVC internals beyond carrying the bytes to a
// registered HEVC Codec (spec.md §1 allows HEVC as an alternative coded item
// type).
type hvcCProp struct {
	Raw []byte
}

type colrProp struct {
	IsNclx                          bool
	ColorPrimaries                  uint16
	TransferCharacteristics         uint16
	MatrixCoefficients              uint16
	FullRange                       bool
	ICC                             []byte
}

type clliProp struct {
	MaxCLL, MaxPALL uint16
}

type paspProp struct {
	HSpacing, VSpacing uint32
}

// clapProp is the CleanApertureBox: four rationals describing the cropped
// rectangle, per §4.E.
type clapProp struct {
	WidthN, WidthD     int32
	HeightN, HeightD   int32
	HorizOffN, HorizOffD int32
	VertOffN, VertOffD int32
}

type irotProp struct {
	Angle uint8 // 0..3, counter-clockwise quarter turns
}

type imirProp struct {
	Axis uint8 // 0 = vertical axis, 1 = horizontal axis
}

type lselProp struct {
	LayerID uint16
}

type a1opProp struct {
	OpIndex uint8
}

type a1lxProp struct {
	LargeSize  bool
	LayerSize  [3]uint32
}

type auxCProp struct {
	AuxType string
}

// parseIpco parses the children of an ipco box into an ordered property
// list; ipma associations reference this list by 1-based index. depth is the
// nesting level at which ipco's children are walked.
func parseIpco(body *reader, depth int) ([]property, error) {
	var props []property
	err := walkBoxes(body, depth, func(h boxHeader, pr *reader) error {
		p, err := parseProperty(h.Type, pr)
		if err != nil {
			return err
		}
		props = append(props, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

func parseProperty(typ fourCC, r *reader) (property, error) {
	p := property{Type: typ}
	switch typ {
	case fcc("ispe"):
		if _, _, err := r.fullBoxHeader(); err != nil {
			return p, err
		}
		w, err := r.u32()
		if err != nil {
			return p, err
		}
		h, err := r.u32()
		if err != nil {
			return p, err
		}
		p.Ispe = &ispeProp{Width: w, Height: h}

	case fcc("pixi"):
		if _, _, err := r.fullBoxHeader(); err != nil {
			return p, err
		}
		n, err := r.u8()
		if err != nil {
			return p, err
		}
		depths := make([]uint8, n)
		for i := range depths {
			d, err := r.u8()
			if err != nil {
				return p, err
			}
			depths[i] = d
		}
		p.Pixi = &pixiProp{ChannelBitDepths: depths}

	case fcc("av1C"):
		marker, err := r.u8()
		if err != nil {
			return p, err
		}
		_ = marker // top bit marker + version, not re-validated here
		flags1, err := r.u8()
		if err != nil {
			return p, err
		}
		flags2, err := r.u8()
		if err != nil {
			return p, err
		}
		rest, err := r.bytes(r.len())
		if err != nil {
			return p, err
		}
		a := &av1CProp{
			SeqProfile:           (flags1 >> 5) & 0x7,
			SeqLevelIdx0:         flags1 & 0x1f,
			SeqTier0:             (flags2 >> 7) & 0x1,
			HighBitdepth:         (flags2>>6)&0x1 != 0,
			TwelveBit:            (flags2>>5)&0x1 != 0,
			Monochrome:           (flags2>>4)&0x1 != 0,
			ChromaSubsamplingX:   (flags2 >> 3) & 0x1,
			ChromaSubsamplingY:   (flags2 >> 2) & 0x1,
			ChromaSamplePosition: flags2 & 0x3,
		}
		if len(rest) > 0 {
			a.ConfigOBUs = append([]byte(nil), rest...)
		}
		p.Av1C = a

	case fcc("hvcC"):
		rest, err := r.bytes(r.len())
		if err != nil {
			return p, err
		}
		p.HvcC = &hvcCProp{Raw: append([]byte(nil), rest...)}

	case fcc("colr"):
		typeTag, err := r.bytes(4)
		if err != nil {
			return p, err
		}
		c := &colrProp{}
		switch string(typeTag) {
		case "nclx":
			prim, err := r.u16()
			if err != nil {
				return p, err
			}
			trc, err := r.u16()
			if err != nil {
				return p, err
			}
			mtx, err := r.u16()
			if err != nil {
				return p, err
			}
			fr, err := r.u8()
			if err != nil {
				return p, err
			}
			c.IsNclx = true
			c.ColorPrimaries = prim
			c.TransferCharacteristics = trc
			c.MatrixCoefficients = mtx
			c.FullRange = fr&0x80 != 0
		case "rICC", "prof":
			icc, err := r.bytes(r.len())
			if err != nil {
				return p, err
			}
			c.ICC = append([]byte(nil), icc...)
		default:
			return p, newErrorf(ErrBmffParseFailed, "unknown colr type %q", typeTag)
		}
		p.Colr = c

	case fcc("clli"):
		maxCLL, err := r.u16()
		if err != nil {
			return p, err
		}
		maxPALL, err := r.u16()
		if err != nil {
			return p, err
		}
		p.Clli = &clliProp{MaxCLL: maxCLL, MaxPALL: maxPALL}

	case fcc("pasp"):
		hs, err := r.u32()
		if err != nil {
			return p, err
		}
		vs, err := r.u32()
		if err != nil {
			return p, err
		}
		p.Pasp = &paspProp{HSpacing: hs, VSpacing: vs}

	case fcc("clap"):
		vals := make([]int32, 8)
		for i := range vals {
			v, err := r.i32()
			if err != nil {
				return p, err
			}
			vals[i] = v
		}
		p.Clap = &clapProp{
			WidthN: vals[0], WidthD: vals[1],
			HeightN: vals[2], HeightD: vals[3],
			HorizOffN: vals[4], HorizOffD: vals[5],
			VertOffN: vals[6], VertOffD: vals[7],
		}

	case fcc("irot"):
		b, err := r.u8()
		if err != nil {
			return p, err
		}
		p.Irot = &irotProp{Angle: b & 0x3}

	case fcc("imir"):
		b, err := r.u8()
		if err != nil {
			return p, err
		}
		p.Imir = &imirProp{Axis: b & 0x1}

	case fcc("lsel"):
		id, err := r.u16()
		if err != nil {
			return p, err
		}
		p.Lsel = &lselProp{LayerID: id}

	case fcc("a1op"):
		idx, err := r.u8()
		if err != nil {
			return p, err
		}
		p.A1op = &a1opProp{OpIndex: idx}

	case fcc("a1lx"):
		flags, err := r.u8()
		if err != nil {
			return p, err
		}
		large := flags&0x1 != 0
		var sizes [3]uint32
		for i := range sizes {
			if large {
				v, err := r.u32()
				if err != nil {
					return p, err
				}
				sizes[i] = v
			} else {
				v, err := r.u16()
				if err != nil {
					return p, err
				}
				sizes[i] = uint32(v)
			}
		}
		p.A1lx = &a1lxProp{LargeSize: large, LayerSize: sizes}

	case fcc("auxC"):
		s, err := r.cstring(r.len())
		if err != nil {
			return p, err
		}
		p.AuxC = &auxCProp{AuxType: s}
	}
	return p, nil
}

// ipmaAssoc is one item-to-property association parsed from ipma.
type ipmaAssoc struct {
	Index     int // 1-based index into the ipco property list
	Essential bool
}

// parseIpma parses an ipma FullBox into a map from item ID to its ordered
// property associations.
func parseIpma(body *reader) (map[uint32][]ipmaAssoc, error) {
	version, flags, err := body.fullBoxHeader()
	if err != nil {
		return nil, err
	}
	count, err := body.u32()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]ipmaAssoc, count)
	for range count {
		var itemID uint32
		if version < 1 {
			v, err := body.u16()
			if err != nil {
				return nil, err
			}
			itemID = uint32(v)
		} else {
			itemID, err = body.u32()
			if err != nil {
				return nil, err
			}
		}
		assocCount, err := body.u8()
		if err != nil {
			return nil, err
		}
		assocs := make([]ipmaAssoc, 0, assocCount)
		for range assocCount {
			var idx int
			var essential bool
			if flags&1 != 0 {
				v, err := body.u16()
				if err != nil {
					return nil, err
				}
				essential = v&0x8000 != 0
				idx = int(v & 0x7fff)
			} else {
				v, err := body.u8()
				if err != nil {
					return nil, err
				}
				essential = v&0x80 != 0
				idx = int(v & 0x7f)
			}
			assocs = append(assocs, ipmaAssoc{Index: idx, Essential: essential})
		}
		out[itemID] = assocs
	}
	return out, nil
}
