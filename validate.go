package avif

import (
	stdimage "image"
	"math"
)

// clapEpsilon bounds the float64 error tolerated before a clean-aperture
// coordinate is rejected as non-integer; the arithmetic here only ever
// divides by 1 or 2, so a genuine integer result has no meaningful error.
const clapEpsilon = 1e-9

// cleanApertureToRect converts a CleanApertureBox's four rationals into a
// pixel crop rectangle within a picWidth x picHeight coded image, following
// the ISOBMFF clean-aperture formula (§4.E): the rectangle is centered at
// the picture center plus the clap offset, sized by the clap width/height.
// The derived left/top/width/height must land on exact integers — a
// non-integer result is a malformed clap, not something to round away — and,
// for subsampled formats, must additionally fall on the even boundaries
// chroma planes require.
func cleanApertureToRect(clap *clapProp, picWidth, picHeight int, format PixelFormat) (stdimage.Rectangle, error) {
	cropW, err := ratFloat(clap.WidthN, clap.WidthD)
	if err != nil {
		return stdimage.Rectangle{}, newErrorf(ErrInvalidArgument, "clap width: %v", err)
	}
	cropH, err := ratFloat(clap.HeightN, clap.HeightD)
	if err != nil {
		return stdimage.Rectangle{}, newErrorf(ErrInvalidArgument, "clap height: %v", err)
	}
	horizOff, err := ratFloat(clap.HorizOffN, clap.HorizOffD)
	if err != nil {
		return stdimage.Rectangle{}, newErrorf(ErrInvalidArgument, "clap horizOff: %v", err)
	}
	vertOff, err := ratFloat(clap.VertOffN, clap.VertOffD)
	if err != nil {
		return stdimage.Rectangle{}, newErrorf(ErrInvalidArgument, "clap vertOff: %v", err)
	}

	pcX := float64(picWidth-1)/2 + horizOff
	pcY := float64(picHeight-1)/2 + vertOff
	left := pcX - (cropW-1)/2
	top := pcY - (cropH-1)/2

	if !isExactInt(left) || !isExactInt(top) || !isExactInt(cropW) || !isExactInt(cropH) {
		return stdimage.Rectangle{}, newError(ErrInvalidArgument, "clean aperture does not resolve to integer left/top/width/height")
	}
	li, ti := int(math.Round(left)), int(math.Round(top))
	wi, hi := int(math.Round(cropW)), int(math.Round(cropH))

	if err := checkClapSubsamplingParity(li, ti, wi, hi, format); err != nil {
		return stdimage.Rectangle{}, err
	}

	rect := stdimage.Rect(li, ti, li+wi, ti+hi)
	if rect.Min.X < 0 || rect.Min.Y < 0 || rect.Max.X > picWidth || rect.Max.Y > picHeight {
		return stdimage.Rectangle{}, newError(ErrInvalidArgument, "clean aperture rectangle exceeds the coded image bounds")
	}
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return stdimage.Rectangle{}, newError(ErrInvalidArgument, "clean aperture rectangle is empty")
	}
	return rect, nil
}

// cropRectToClap is the inverse of cleanApertureToRect: given a crop
// rectangle within a picWidth x picHeight coded image, it derives the
// CleanApertureBox rationals that would produce that same rectangle. Offsets
// only ever need a denominator of 1 or 2, since they're half the difference
// of two integer extents.
func cropRectToClap(rect stdimage.Rectangle, picWidth, picHeight int) (*clapProp, error) {
	if rect.Min.X < 0 || rect.Min.Y < 0 || rect.Max.X > picWidth || rect.Max.Y > picHeight {
		return nil, newError(ErrInvalidArgument, "crop rectangle exceeds the coded image bounds")
	}
	cropW, cropH := rect.Dx(), rect.Dy()
	if cropW <= 0 || cropH <= 0 {
		return nil, newError(ErrInvalidArgument, "crop rectangle is empty")
	}

	horizOffN := 2*rect.Min.X + (cropW - 1) - (picWidth - 1)
	vertOffN := 2*rect.Min.Y + (cropH - 1) - (picHeight - 1)

	widthR, err := NewRat[int32](int32(cropW), 1)
	if err != nil {
		return nil, newErrorf(ErrInvalidArgument, "crop width: %v", err)
	}
	heightR, err := NewRat[int32](int32(cropH), 1)
	if err != nil {
		return nil, newErrorf(ErrInvalidArgument, "crop height: %v", err)
	}
	horizR, err := NewRat[int32](int32(horizOffN), 2)
	if err != nil {
		return nil, newErrorf(ErrInvalidArgument, "crop horizOff: %v", err)
	}
	vertR, err := NewRat[int32](int32(vertOffN), 2)
	if err != nil {
		return nil, newErrorf(ErrInvalidArgument, "crop vertOff: %v", err)
	}

	return &clapProp{
		WidthN: widthR.Num(), WidthD: widthR.Den(),
		HeightN: heightR.Num(), HeightD: heightR.Den(),
		HorizOffN: horizR.Num(), HorizOffD: horizR.Den(),
		VertOffN: vertR.Num(), VertOffD: vertR.Den(),
	}, nil
}

// checkClapSubsamplingParity enforces the even-coordinate alignment chroma
// subsampling requires of a clean aperture (§4.E): 4:2:0 needs left, top,
// width, and height all even; 4:2:2 needs left and width even.
func checkClapSubsamplingParity(left, top, w, h int, format PixelFormat) error {
	switch format {
	case PixelFormatYUV420:
		if left%2 != 0 || top%2 != 0 || w%2 != 0 || h%2 != 0 {
			return newError(ErrInvalidArgument, "clean aperture geometry is not 4:2:0-subsampling aligned")
		}
	case PixelFormatYUV422:
		if left%2 != 0 || w%2 != 0 {
			return newError(ErrInvalidArgument, "clean aperture geometry is not 4:2:2-subsampling aligned")
		}
	}
	return nil
}

// pixelFormatFromAv1C derives the chroma subsampling format an av1C
// configuration record implies, per AV1's own chroma_subsampling_x/y
// semantics.
func pixelFormatFromAv1C(av1c *av1CProp) PixelFormat {
	if av1c == nil {
		return PixelFormatYUV420
	}
	if av1c.Monochrome {
		return PixelFormatYUV400
	}
	if av1c.ChromaSubsamplingX == 1 && av1c.ChromaSubsamplingY == 0 {
		return PixelFormatYUV422
	}
	if av1c.ChromaSubsamplingX == 0 && av1c.ChromaSubsamplingY == 0 {
		return PixelFormatYUV444
	}
	return PixelFormatYUV420
}

// formatForItem reports the chroma subsampling format itemID's coded
// configuration implies, consulting its av1C property if present.
func formatForItem(g *itemGraph, itemID uint32) PixelFormat {
	for _, p := range g.propertiesFor(itemID) {
		if p.Av1C != nil {
			return pixelFormatFromAv1C(p.Av1C)
		}
	}
	return PixelFormatYUV420
}

func isExactInt(f float64) bool {
	return math.Abs(f-math.Round(f)) < clapEpsilon
}

func ratFloat(num, den int32) (float64, error) {
	r, err := NewRat[int32](num, den)
	if err != nil {
		return 0, err
	}
	return r.Float64(), nil
}

// validateStrict applies the checks gated by Decoder.Strict against the
// primary item, per §4.E. Parse calls it on every parse; with no StrictFlags
// bit set (the permissive default) it returns nil without checking anything.
func validateStrict(g *itemGraph, flags StrictFlags) error {
	if flags == 0 || g.PrimaryItemID == 0 {
		return nil
	}
	primary := g.PrimaryItemID

	if flags&StrictPixiRequired != 0 {
		if _, ok := g.pixi(primary); !ok {
			return newErrorf(ErrIspeSizeMismatch, "primary item %d has no pixi property", primary)
		}
	}

	if flags&StrictClapValid != 0 {
		ispe, ok := g.ispe(primary)
		if ok {
			format := formatForItem(g, primary)
			for _, p := range g.propertiesFor(primary) {
				if p.Clap == nil {
					continue
				}
				if _, err := cleanApertureToRect(p.Clap, int(ispe.Width), int(ispe.Height), format); err != nil {
					return err
				}
			}
		}
	}

	if flags&StrictAlphaIspeRequired != 0 {
		for _, auxID := range g.auxItemsFor(primary) {
			if !g.isAlphaItem(auxID) {
				continue
			}
			if _, ok := g.ispe(auxID); !ok {
				return newErrorf(ErrIspeSizeMismatch, "alpha item %d has no ispe property", auxID)
			}
		}
	}

	return nil
}
