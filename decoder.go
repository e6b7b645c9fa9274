package avif

// SourceChoice selects where a Decoder pulls images from when a file
// carries both a primary item and a moov image sequence, per §4.J.
type SourceChoice int

const (
	SourceChoiceAuto SourceChoice = iota
	SourceChoicePrimaryItem
	SourceChoiceTracks
)

// ContentToDecode is a bitmask of which auxiliary content NextImage/NthImage
// should resolve alongside the primary color planes.
type ContentToDecode uint32

const (
	ContentColor ContentToDecode = 1 << iota
	ContentAlpha
	ContentGainMap
	ContentExif
	ContentXMP
)

const ContentAll = ContentColor | ContentAlpha | ContentGainMap | ContentExif | ContentXMP

// StrictFlags enables individual strict-mode validation checks (§4.E); zero
// means "decode as permissively as possible," matching how libavif's
// strictFlags defaults to its most permissive setting for compatibility
// with files produced by slightly-off encoders.
type StrictFlags uint32

const (
	StrictPixiRequired StrictFlags = 1 << iota
	StrictClapValid
	StrictAlphaIspeRequired
	StrictAll = StrictPixiRequired | StrictClapValid | StrictAlphaIspeRequired
)

// Limits bounds resource usage while parsing untrusted input.
type Limits struct {
	MaxImageSizePixels int64
	MaxImageDimension  int
	MaxImageCount      int
	MaxBoxDepth        int
}

// DefaultLimits mirrors the generous-but-bounded defaults a decoder should
// ship with: large enough for real content, small enough to reject a
// pathological ispe claiming a multi-gigapixel frame.
func DefaultLimits() Limits {
	return Limits{
		MaxImageSizePixels: 1 << 28,
		MaxImageDimension:  1 << 16,
		MaxImageCount:      4096,
		MaxBoxDepth:        maxBoxDepth,
	}
}

// Timing is the decode/presentation timing of one sequence frame.
type Timing struct {
	Timescale   uint32
	DurationInTimescale uint64
	PTSInTimescale      int64
}

// RepetitionCount values with no literal count, per §6.4.
const (
	RepetitionCountInfinite = -1
	RepetitionCountUnknown  = -2
)

// ProgressiveState reports whether a decoded item exposes AV1 progressive
// (a1lx-layered) quality layers as successive addressable images, per §4.J.
type ProgressiveState int

const (
	ProgressiveStateUnavailable ProgressiveState = iota
	ProgressiveStateAvailable
	ProgressiveStateActive
)

// Decoder is the stateful controller of §4.J: configure it with a Source,
// Parse the container once, then pull images one at a time with NextImage
// or at random access with NthImage.
type Decoder struct {
	Limits           Limits
	Strict           StrictFlags
	Source           SourceChoice
	ContentToDecode  ContentToDecode
	CodecChoice      CodecChoice
	AllowProgressive bool

	src Source
	diag *diagnostics

	majorBrand       fourCC
	compatibleBrands []fourCC

	graph  *itemGraph
	tracks []*track
	colorTrackIdx int

	parsed       bool
	currentIndex int

	// Header-only state populated by Parse, before any image is decoded
	// (§4.J, §6.4).
	Width, Height           int
	Depth                   int
	PixelFormat             PixelFormat
	ColorRange              ColorRange
	ColorPrimaries          uint16
	TransferCharacteristics uint16
	MatrixCoefficients      uint16
	CLLI                    *clliProp
	Transform               Transform
	AlphaPresent            bool
	GainMapPresent          bool
	ImageSequenceTrackPresent bool
	RepetitionCount         int
	Timescale               uint32
	DurationInTimescales    uint64
	ProgressiveState        ProgressiveState

	progressiveLayerCount int
}

// NewDecoder returns a Decoder with default limits and permissive strictness.
func NewDecoder() *Decoder {
	return &Decoder{
		Limits:          DefaultLimits(),
		ContentToDecode: ContentColor | ContentAlpha,
		colorTrackIdx:   -1,
		diag:            newDiagnostics(),
		RepetitionCount: RepetitionCountUnknown,
	}
}

// SetSource attaches the byte source the decoder will Parse from.
func (d *Decoder) SetSource(src Source) {
	d.src = src
}

// Diagnostics returns warnings accumulated while parsing.
func (d *Decoder) Diagnostics() []string {
	return d.diag.Entries()
}

// Parse reads the container's top-level structure (ftyp plus either a still
// image's meta box or a sequence's moov box) without decoding any pixels,
// per §4.J.
func (d *Decoder) Parse() error {
	if d.src == nil {
		return newError(ErrIONotSet, "no source attached")
	}

	whole, err := d.src.Read(0, d.src.SizeHint())
	if err != nil {
		return err
	}
	r := newReader(whole)

	var metaBody, moovBody *reader
	err = walkBoxes(r, 0, func(h boxHeader, body *reader) error {
		switch h.Type {
		case fcc("ftyp"):
			return d.parseFtyp(body)
		case fcc("meta"):
			metaBody = body
		case fcc("moov"):
			moovBody = body
		}
		return nil
	})
	if err != nil {
		return err
	}

	if d.majorBrand == (fourCC{}) {
		return newError(ErrInvalidFtyp, "missing ftyp box")
	}

	if metaBody != nil {
		g, err := buildItemGraph(metaBody, 0)
		if err != nil {
			return err
		}
		if err := d.checkLimits(g); err != nil {
			return err
		}
		if err := validateStrict(g, d.Strict); err != nil {
			return err
		}
		d.graph = g
	}

	if moovBody != nil {
		tracks, err := buildTracks(moovBody, 0)
		if err != nil {
			return err
		}
		d.tracks = tracks
		for i, t := range tracks {
			if t.HandlerType == fcc("pict") && t.AlternateGroup == 0 {
				d.colorTrackIdx = i
				break
			}
		}
		if d.colorTrackIdx == -1 && len(tracks) > 0 {
			d.colorTrackIdx = 0
		}
	}

	if d.graph == nil && d.tracks == nil {
		return newError(ErrNoContent, "no meta or moov box found")
	}

	d.populateHeaderState()

	d.parsed = true
	d.currentIndex = -1
	return nil
}

// populateHeaderState fills in the observable-after-parse fields of §6.4
// from the primary item or color track, without decoding any pixel data.
func (d *Decoder) populateHeaderState() {
	d.RepetitionCount = RepetitionCountUnknown

	if d.graph != nil && d.graph.PrimaryItemID != 0 {
		primary := d.graph.PrimaryItemID
		if ispe, ok := d.graph.ispe(primary); ok {
			d.Width, d.Height = int(ispe.Width), int(ispe.Height)
		}
		d.Depth = 8
		d.PixelFormat = PixelFormatYUV420
		if pixi, ok := d.graph.pixi(primary); ok && len(pixi.ChannelBitDepths) > 0 {
			d.Depth = int(pixi.ChannelBitDepths[0])
		}
		for _, p := range d.graph.propertiesFor(primary) {
			if p.Av1C != nil {
				d.PixelFormat = pixelFormatFromAv1C(p.Av1C)
				if p.Av1C.HighBitdepth {
					d.Depth = 10
					if p.Av1C.TwelveBit {
						d.Depth = 12
					}
				}
			}
			if p.Colr != nil {
				d.ColorPrimaries = p.Colr.ColorPrimaries
				d.TransferCharacteristics = p.Colr.TransferCharacteristics
				d.MatrixCoefficients = p.Colr.MatrixCoefficients
				if p.Colr.FullRange {
					d.ColorRange = ColorRangeFull
				}
			}
			if p.Clli != nil {
				d.CLLI = p.Clli
			}
			if p.Irot != nil {
				d.Transform.HasIrot = true
				d.Transform.IrotAngle = p.Irot.Angle
			}
			if p.Imir != nil {
				d.Transform.HasImir = true
				d.Transform.ImirAxis = p.Imir.Axis
			}
			if p.Clap != nil && d.Width > 0 && d.Height > 0 {
				if rect, err := cleanApertureToRect(p.Clap, d.Width, d.Height, d.PixelFormat); err == nil {
					d.Transform.HasCrop = true
					d.Transform.Crop = rect
				}
			}
			if p.A1lx != nil {
				d.ProgressiveState = ProgressiveStateAvailable
				d.progressiveLayerCount = len(p.A1lx.LayerSize)
				if d.AllowProgressive {
					d.ProgressiveState = ProgressiveStateActive
				}
			}
		}
		for _, auxID := range d.graph.auxItemsFor(primary) {
			if d.graph.isAlphaItem(auxID) {
				d.AlphaPresent = true
			}
		}
		if it, ok := d.graph.item(primary); ok && it.Tmap != nil {
			d.GainMapPresent = true
		}
	}

	if len(d.tracks) > 0 {
		d.ImageSequenceTrackPresent = true
		d.RepetitionCount = repetitionCountFromTracks(d.tracks)
	}
	if d.colorTrackIdx >= 0 {
		t := d.tracks[d.colorTrackIdx]
		d.Timescale = t.Timescale
		d.DurationInTimescales = t.Duration
		if d.graph == nil {
			d.Width, d.Height = int(t.Width), int(t.Height)
		}
	}
}

// repetitionCountFromTracks infers the sequence's loop count from the color
// track's edit list: a single entry with a zero segment_duration means
// "repeat the track indefinitely," the same convention libavif's movie-box
// reader uses; anything else is reported as unknown rather than guessed at.
func repetitionCountFromTracks(tracks []*track) int {
	for _, t := range tracks {
		if t.HandlerType != fcc("pict") {
			continue
		}
		if len(t.EditList) == 1 && t.EditList[0].SegmentDuration == 0 {
			return RepetitionCountInfinite
		}
		return RepetitionCountUnknown
	}
	return RepetitionCountUnknown
}

func (d *Decoder) parseFtyp(body *reader) error {
	mb, err := body.bytes(4)
	if err != nil {
		return err
	}
	copy(d.majorBrand[:], mb)
	if err := body.skip(4); err != nil { // minor version
		return err
	}
	for body.len() >= 4 {
		cb, err := body.bytes(4)
		if err != nil {
			return err
		}
		var c fourCC
		copy(c[:], cb)
		d.compatibleBrands = append(d.compatibleBrands, c)
	}
	return nil
}

func (d *Decoder) checkLimits(g *itemGraph) error {
	for _, id := range g.Order {
		ispe, ok := g.ispe(id)
		if !ok {
			continue
		}
		if int(ispe.Width) > d.Limits.MaxImageDimension || int(ispe.Height) > d.Limits.MaxImageDimension {
			return newErrorf(ErrInvalidArgument, "item %d exceeds MaxImageDimension", id)
		}
		if int64(ispe.Width)*int64(ispe.Height) > d.Limits.MaxImageSizePixels {
			return newErrorf(ErrInvalidArgument, "item %d exceeds MaxImageSizePixels", id)
		}
	}
	return nil
}

func (d *Decoder) usesTracks() bool {
	switch d.Source {
	case SourceChoiceTracks:
		return true
	case SourceChoicePrimaryItem:
		return false
	default:
		return d.graph == nil && len(d.tracks) > 0
	}
}

// ImageCount reports how many images NthImage can address.
func (d *Decoder) ImageCount() int {
	if !d.parsed {
		return 0
	}
	if d.usesTracks() {
		if d.colorTrackIdx < 0 {
			return 0
		}
		return len(d.tracks[d.colorTrackIdx].Samples)
	}
	if d.graph == nil {
		return 0
	}
	if d.ProgressiveState == ProgressiveStateActive && d.progressiveLayerCount > 0 {
		return d.progressiveLayerCount
	}
	return 1
}

// NextImage decodes the next image in sequence order, or the (only) primary
// item on the first call for a still image.
func (d *Decoder) NextImage() (*Image, error) {
	if !d.parsed {
		return nil, newError(ErrNoContent, "Parse was not called")
	}
	next := d.currentIndex + 1
	if next >= d.ImageCount() {
		return nil, newError(ErrNoImagesRemaining, "no more images")
	}
	img, err := d.NthImage(next)
	if err != nil {
		return nil, err
	}
	d.currentIndex = next
	return img, nil
}

// NthImage decodes image index n directly and, on success, records n as the
// sequence cursor, so a following NextImage call continues with n+1.
func (d *Decoder) NthImage(n int) (*Image, error) {
	if !d.parsed {
		return nil, newError(ErrNoContent, "Parse was not called")
	}
	if n < 0 || n >= d.ImageCount() {
		return nil, newErrorf(ErrInvalidArgument, "image index %d out of range", n)
	}
	var img *Image
	var err error
	if d.usesTracks() {
		img, err = d.decodeTrackSample(n)
	} else {
		layerLimit := allLayers
		if d.ProgressiveState == ProgressiveStateActive && d.progressiveLayerCount > 0 {
			layerLimit = n
		}
		img, err = d.decodeItemImage(layerLimit)
	}
	if err != nil {
		return nil, err
	}
	d.currentIndex = n
	return img, nil
}

// NthImageTiming returns the decode/presentation timing for sequence frame
// n; for a still image it reports a single zero-duration frame.
func (d *Decoder) NthImageTiming(n int) (Timing, error) {
	if !d.usesTracks() {
		if n != 0 {
			return Timing{}, newErrorf(ErrInvalidArgument, "image index %d out of range", n)
		}
		return Timing{}, nil
	}
	t := d.tracks[d.colorTrackIdx]
	if n < 0 || n >= len(t.Samples) {
		return Timing{}, newErrorf(ErrInvalidArgument, "image index %d out of range", n)
	}
	var pts int64
	for i := 0; i < n; i++ {
		pts += int64(t.Samples[i].DecodeDelta)
	}
	s := t.Samples[n]
	return Timing{
		Timescale:           t.Timescale,
		DurationInTimescale: uint64(s.DecodeDelta),
		PTSInTimescale:      pts + int64(s.CompositionOffset) - t.mediaTimeOffset(),
	}, nil
}

// NthImageMaxExtent reports how many bytes of coded data image n needs, as a
// prefetch hint for incremental I/O (§4.A's WaitingOnIO): the sample size for
// a track, or the summed extent lengths of the primary item. It returns only
// a byte count, not an offset, and does not include the cells of a derived
// (grid/iovl) primary item or any alpha item.
func (d *Decoder) NthImageMaxExtent(n int) (int64, error) {
	if d.usesTracks() {
		t := d.tracks[d.colorTrackIdx]
		if n < 0 || n >= len(t.Samples) {
			return 0, newErrorf(ErrInvalidArgument, "image index %d out of range", n)
		}
		return int64(t.Samples[n].Size), nil
	}
	if d.graph == nil {
		return 0, newError(ErrNoContent, "no primary item")
	}
	it, ok := d.graph.item(d.graph.PrimaryItemID)
	if !ok {
		return 0, newError(ErrMissingImageItem, "primary item missing")
	}
	return int64(it.totalSize()), nil
}

// Reset clears decoded state but keeps the parsed container structure, so a
// caller can re-decode from the beginning without calling Parse again.
func (d *Decoder) Reset() {
	d.currentIndex = -1
}

// decodeItemImage decodes the primary item. layerLimit, when not allLayers,
// caps decoding to the item's first layerLimit+1 a1lx progressive layers, so
// each progressive layer can be surfaced as its own NthImage result.
func (d *Decoder) decodeItemImage(layerLimit int) (*Image, error) {
	if d.graph == nil {
		return nil, newError(ErrNoContent, "no item graph")
	}
	primary := d.graph.PrimaryItemID
	if primary == 0 {
		return nil, newError(ErrMissingImageItem, "no primary item")
	}
	if _, unknown := d.graph.unknownEssential(primary); unknown {
		return nil, newError(ErrInvalidCodecSpecificOption, "primary item has an unrecognized essential property")
	}

	tiles, w, h, err := planTiles(d.graph, d.src, primary)
	if err != nil {
		return nil, err
	}
	img, err := assembleFrameUpToLayer(tiles, w, h, d.CodecChoice, layerLimit)
	if err != nil {
		return nil, err
	}

	if clap, ok := d.firstClap(primary); ok {
		if err := applyClap(img, clap); err != nil {
			return nil, err
		}
	}
	d.applyOrientation(img, primary)

	if d.ContentToDecode&ContentAlpha != 0 {
		for _, auxID := range d.graph.auxItemsFor(primary) {
			if d.graph.isAlphaItem(auxID) {
				if err := mergeAlpha(d.graph, d.src, auxID, d.CodecChoice, img); err != nil {
					return nil, err
				}
			}
		}
	}

	if d.ContentToDecode&ContentExif != 0 || d.ContentToDecode&ContentXMP != 0 {
		d.attachMetadata(img, primary)
	}

	it := d.graph.Items[primary]
	if it.Tmap != nil && d.ContentToDecode&ContentGainMap != 0 {
		gm, err := d.decodeGainMap(it.Tmap)
		if err != nil {
			d.diag.add("gain map decode failed: %v", err)
		} else {
			img.GainMap = gm
			md := it.Tmap.Metadata
			img.GainMapMetadata = &md
		}
	}

	return img, nil
}

func (d *Decoder) decodeGainMap(td *tmapDerivation) (*Image, error) {
	tiles, w, h, err := planTiles(d.graph, d.src, td.AlternateItemID)
	if err != nil {
		return nil, err
	}
	return assembleFrame(tiles, w, h, d.CodecChoice)
}

func (d *Decoder) firstClap(itemID uint32) (*clapProp, bool) {
	for _, p := range d.graph.propertiesFor(itemID) {
		if p.Clap != nil {
			return p.Clap, true
		}
	}
	return nil, false
}

func (d *Decoder) applyOrientation(img *Image, itemID uint32) {
	for _, p := range d.graph.propertiesFor(itemID) {
		if p.Irot != nil {
			img.Transform.HasIrot = true
			img.Transform.IrotAngle = p.Irot.Angle
		}
		if p.Imir != nil {
			img.Transform.HasImir = true
			img.Transform.ImirAxis = p.Imir.Axis
		}
		if p.Colr != nil {
			img.Color.ColorPrimaries = p.Colr.ColorPrimaries
			img.Color.TransferCharacteristics = p.Colr.TransferCharacteristics
			img.Color.MatrixCoefficients = p.Colr.MatrixCoefficients
			if p.Colr.FullRange {
				img.Color.Range = ColorRangeFull
			}
			img.Color.ICC = p.Colr.ICC
		}
		if p.Clli != nil {
			img.CLLI = p.Clli
		}
	}
}

func (d *Decoder) attachMetadata(img *Image, itemID uint32) {
	for _, refID := range d.graph.Items[itemID].References[fcc("cdsc")] {
		it, ok := d.graph.item(refID)
		if !ok {
			continue
		}
		data, err := readItemData(d.graph, it, d.src)
		if err != nil {
			d.diag.add("failed to read metadata item %d: %v", refID, err)
			continue
		}
		switch it.Type {
		case fcc("Exif"):
			if len(data) > 4 {
				// Exif items carry a 4-byte "exif_tiff_header_offset" prefix.
				data = data[4:]
			}
			img.Exif = data
		case fcc("mime"):
			img.XMP = data
		}
	}
}

// applyClap converts a CleanApertureBox into a crop rectangle and records it
// on the Image's Transform, per §4.E's clean-aperture math.
func applyClap(img *Image, clap *clapProp) error {
	rect, err := cleanApertureToRect(clap, img.Width, img.Height, img.Format)
	if err != nil {
		return err
	}
	img.Transform.HasCrop = true
	img.Transform.Crop = rect
	return nil
}

func (d *Decoder) decodeTrackSample(n int) (*Image, error) {
	t := d.tracks[d.colorTrackIdx]
	s := t.Samples[n]
	data, err := d.src.Read(int64(s.Offset), int64(s.Size))
	if err != nil {
		return nil, err
	}
	hevc := t.HvcC != nil
	tl := tile{
		DestW: int(t.Width), DestH: int(t.Height),
		Payload: data,
		Config: CodecConfig{
			Av1C: t.Av1C, HvcC: t.HvcC,
			Width: t.Width, Height: t.Height,
		},
		HEVC: hevc,
	}
	return assembleFrame([]tile{tl}, int(t.Width), int(t.Height), d.CodecChoice)
}
