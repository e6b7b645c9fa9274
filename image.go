package avif

import (
	stdimage "image"
	"image/color"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// PixelFormat names the chroma subsampling of a decoded Image, per §4.I.
type PixelFormat int

const (
	PixelFormatYUV444 PixelFormat = iota
	PixelFormatYUV422
	PixelFormatYUV420
	PixelFormatYUV400 // monochrome
)

// ColorRange distinguishes limited (studio) vs. full-range sample values.
type ColorRange int

const (
	ColorRangeLimited ColorRange = iota
	ColorRangeFull
)

// Colorimetry carries an image's CICP triplet and, for wide-gamut/HDR
// content, its ICC profile bytes — whichever the colr property supplied.
type Colorimetry struct {
	ColorPrimaries          uint16
	TransferCharacteristics uint16
	MatrixCoefficients      uint16
	Range                   ColorRange
	ICC                     []byte
}

// Transform captures irot/imir/clap applied to the decoded planes.
type Transform struct {
	IrotAngle uint8 // 0..3
	HasIrot   bool
	ImirAxis  uint8
	HasImir   bool
	Crop      stdimage.Rectangle
	HasCrop   bool
}

// GainMapMetadata is the public, exported form of the gain map rational
// record parsed from a tmap item (§4.D, §4.I).
type GainMapMetadata = gainMapMetadata

// Image is one fully assembled decoded (or about-to-be-encoded) frame,
// per §4.I. It implements image.Image over its color planes so it can be
// handed directly to anything in the image/... ecosystem.
type Image struct {
	Width, Height int
	Depth         int // 8, 10, or 12
	Format        PixelFormat
	Color         Colorimetry
	CLLI          *clliProp
	Transform     Transform

	YPlane, UPlane, VPlane []uint16
	YStride, UStride, VStride int

	AlphaPlane  []uint16
	AlphaStride int
	AlphaRange  ColorRange

	Exif, XMP []byte

	GainMap         *Image
	GainMapMetadata *GainMapMetadata

	generation  int // bumped whenever planes are reallocated; see borrowToken
	decodedRows atomic.Int64
}

// DecodedRowCount reports how many rows of img's Y plane an in-progress
// assembleFrame call has copied so far, for a caller polling an Image handed
// to it before decode completes. It never exceeds img.Height.
func (img *Image) DecodedRowCount() int {
	return int(img.decodedRows.Load())
}

// NewImage allocates an Image with freshly zeroed planes sized for w x h at
// the given format/depth. Alpha is allocated separately via AllocAlpha.
func NewImage(w, h, depth int, format PixelFormat) *Image {
	img := &Image{Width: w, Height: h, Depth: depth, Format: format}
	img.YStride = w
	img.YPlane = make([]uint16, w*h)
	if format != PixelFormatYUV400 {
		cw, ch := chromaDims(w, h, format)
		img.UStride, img.VStride = cw, cw
		img.UPlane = make([]uint16, cw*ch)
		img.VPlane = make([]uint16, cw*ch)
	}
	return img
}

func chromaDims(w, h int, format PixelFormat) (int, int) {
	switch format {
	case PixelFormatYUV420:
		return (w + 1) / 2, (h + 1) / 2
	case PixelFormatYUV422:
		return (w + 1) / 2, h
	default:
		return w, h
	}
}

// AllocAlpha allocates a full-resolution alpha plane.
func (img *Image) AllocAlpha() {
	img.AlphaStride = img.Width
	img.AlphaPlane = make([]uint16, img.Width*img.Height)
	img.generation++
}

// HasAlpha reports whether this Image carries an alpha plane.
func (img *Image) HasAlpha() bool { return img.AlphaPlane != nil }

// borrowToken is returned by View and must remain valid (the Image must not
// be reallocated) for as long as the caller holds it; §9's generation
// counter makes stale-view use detectable rather than silently reading
// freed memory.
type borrowToken struct {
	img        *Image
	generation int
}

// Valid reports whether the Image has not been reallocated since the token
// was issued.
func (t borrowToken) Valid() bool { return t.img.generation == t.generation }

// View returns a borrow token for the image's current plane generation.
// Callers that hold onto plane slices across a call that reallocates planes
// (AllocAlpha, CopyPlanesFrom) should check Valid before using them again.
func (img *Image) View() borrowToken {
	return borrowToken{img: img, generation: img.generation}
}

// CopyPlanesFrom deep-copies src's geometry and planes into img, always
// allocating fresh plane slices, and bumps img's generation.
func (img *Image) CopyPlanesFrom(src *Image) {
	img.Width, img.Height, img.Depth, img.Format = src.Width, src.Height, src.Depth, src.Format
	img.YPlane = append([]uint16(nil), src.YPlane...)
	img.UPlane = append([]uint16(nil), src.UPlane...)
	img.VPlane = append([]uint16(nil), src.VPlane...)
	img.YStride, img.UStride, img.VStride = src.YStride, src.UStride, src.VStride
	if src.AlphaPlane != nil {
		img.AlphaPlane = append([]uint16(nil), src.AlphaPlane...)
		img.AlphaStride = src.AlphaStride
	}
	img.generation++
}

// --- image.Image ---

func (img *Image) ColorModel() color.Model {
	if img.Depth > 8 {
		return color.RGBA64Model
	}
	return color.RGBAModel
}

func (img *Image) Bounds() stdimage.Rectangle {
	return stdimage.Rect(0, 0, img.Width, img.Height)
}

func (img *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return color.RGBA{}
	}
	yv := img.YPlane[y*img.YStride+x]
	cx, cy := x, y
	switch img.Format {
	case PixelFormatYUV420:
		cx, cy = x/2, y/2
	case PixelFormatYUV422:
		cx = x / 2
	}
	var u, v uint16 = 128 << (img.Depth - 8), 128 << (img.Depth - 8)
	if img.UPlane != nil {
		u = img.UPlane[cy*img.UStride+cx]
		v = img.VPlane[cy*img.VStride+cx]
	}
	r, g, b := ycbcrToRGB(yv, u, v, img.Depth, img.Color.Range)
	a := uint16(0xffff)
	if img.AlphaPlane != nil {
		a = img.AlphaPlane[y*img.AlphaStride+x] << (16 - img.Depth)
	}
	if img.Depth > 8 {
		return color.RGBA64{R: r, G: g, B: b, A: a}
	}
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

// ycbcrToRGB is a plain BT.601/BT.709-shaped conversion sufficient for
// preview rendering; it is not a colorimetrically exact CICP transform
// (full matrix-coefficient-aware conversion is one of §9's Open Questions).
func ycbcrToRGB(y, cb, cr uint16, depth int, rng ColorRange) (r, g, b uint16) {
	maxVal := float64(int(1)<<depth - 1)
	yf := float64(y) / maxVal
	cbf := float64(cb)/maxVal - 0.5
	crf := float64(cr)/maxVal - 0.5
	if rng == ColorRangeLimited {
		yf = (float64(y) - 16*maxVal/255) / (219 * maxVal / 255)
	}
	rf := yf + 1.402*crf
	gf := yf - 0.344136*cbf - 0.714136*crf
	bf := yf + 1.772*cbf
	clamp := func(v float64) uint16 {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint16(v * 0xffff)
	}
	return clamp(rf), clamp(gf), clamp(bf)
}

// Scale returns a new Image of w x h resampled from img with a high-quality
// resampler, operating through image.Image/draw.Image so the actual
// interpolation logic is reused rather than reimplemented per plane; img
// itself is left unchanged. Any target size is accepted, including one larger
// than img.
func (img *Image) Scale(w, h int) *Image {
	dst := stdimage.NewRGBA64(stdimage.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	out := NewImage(w, h, img.Depth, img.Format)
	out.Color = img.Color
	if img.HasAlpha() {
		out.AllocAlpha()
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := dst.RGBA64At(x, y)
			writeRGBToYUV(out, x, y, c)
		}
	}
	return out
}

func writeRGBToYUV(img *Image, x, y int, c color.RGBA64) {
	rf, gf, bf := float64(c.R)/0xffff, float64(c.G)/0xffff, float64(c.B)/0xffff
	yf := 0.299*rf + 0.587*gf + 0.114*bf
	cbf := -0.168736*rf - 0.331264*gf + 0.5*bf + 0.5
	crf := 0.5*rf - 0.418688*gf - 0.081312*bf + 0.5
	maxVal := float64(int(1)<<img.Depth - 1)
	img.YPlane[y*img.YStride+x] = uint16(yf * maxVal)
	if img.UPlane == nil {
		return
	}
	cx, cy := x, y
	switch img.Format {
	case PixelFormatYUV420:
		cx, cy = x/2, y/2
	case PixelFormatYUV422:
		cx = x / 2
	}
	idx := cy*img.UStride + cx
	if idx < len(img.UPlane) {
		img.UPlane[idx] = uint16(cbf * maxVal)
		img.VPlane[idx] = uint16(crf * maxVal)
	}
	if img.AlphaPlane != nil {
		img.AlphaPlane[y*img.AlphaStride+x] = uint16(float64(c.A) / 0xffff * maxVal)
	}
}
