package avif

import (
	stdimage "image"
	"image/color"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNewImagePlaneSizes(t *testing.T) {
	c := qt.New(t)

	img := NewImage(5, 3, 8, PixelFormatYUV420)
	c.Assert(len(img.YPlane), qt.Equals, 15)
	c.Assert(img.UStride, qt.Equals, 3) // (5+1)/2
	c.Assert(len(img.UPlane), qt.Equals, 3*2)
	c.Assert(len(img.VPlane), qt.Equals, 3*2)

	mono := NewImage(4, 4, 8, PixelFormatYUV400)
	c.Assert(mono.UPlane, qt.IsNil)
	c.Assert(mono.VPlane, qt.IsNil)
}

func TestAllocAlphaAndHasAlpha(t *testing.T) {
	c := qt.New(t)
	img := NewImage(2, 2, 8, PixelFormatYUV420)
	c.Assert(img.HasAlpha(), qt.IsFalse)

	img.AllocAlpha()
	c.Assert(img.HasAlpha(), qt.IsTrue)
	c.Assert(len(img.AlphaPlane), qt.Equals, 4)
}

func TestBorrowTokenValidity(t *testing.T) {
	c := qt.New(t)
	img := NewImage(2, 2, 8, PixelFormatYUV420)
	tok := img.View()
	c.Assert(tok.Valid(), qt.IsTrue)

	img.AllocAlpha() // bumps generation
	c.Assert(tok.Valid(), qt.IsFalse)
	c.Assert(img.View().Valid(), qt.IsTrue)
}

func TestCopyPlanesFrom(t *testing.T) {
	c := qt.New(t)
	src := NewImage(2, 2, 8, PixelFormatYUV420)
	src.YPlane[0] = 42
	src.AllocAlpha()
	src.AlphaPlane[0] = 7

	dst := &Image{}
	dst.CopyPlanesFrom(src)
	c.Assert(dst.Width, qt.Equals, 2)
	c.Assert(dst.YPlane[0], qt.Equals, uint16(42))
	c.Assert(dst.HasAlpha(), qt.IsTrue)
	c.Assert(dst.AlphaPlane[0], qt.Equals, uint16(7))

	// Deep copy: mutating src shouldn't affect dst.
	src.YPlane[0] = 99
	c.Assert(dst.YPlane[0], qt.Equals, uint16(42))
}

func TestImageImageInterface(t *testing.T) {
	c := qt.New(t)
	img := NewImage(2, 2, 8, PixelFormatYUV420)
	for i := range img.YPlane {
		img.YPlane[i] = 200
	}
	for i := range img.UPlane {
		img.UPlane[i] = 128
		img.VPlane[i] = 128
	}

	converted := img.ColorModel().Convert(color.RGBA64{R: 0xffff, G: 0, B: 0, A: 0xffff})
	c.Assert(converted, qt.DeepEquals, color.Color(color.RGBA{R: 0xff, A: 0xff}))
	c.Assert(img.Bounds(), qt.DeepEquals, stdimage.Rect(0, 0, 2, 2))

	var _ stdimage.Image = img

	at := img.At(0, 0).(color.RGBA)
	c.Assert(at.A, qt.Equals, uint8(0xff))
	c.Assert(at.R > 150, qt.IsTrue) // near-white luma with neutral chroma

	out := img.At(-1, 0)
	c.Assert(out, qt.Equals, color.Color(color.RGBA{}))
}

func TestImageAt10Bit(t *testing.T) {
	c := qt.New(t)
	img := NewImage(1, 1, 10, PixelFormatYUV444)
	img.YPlane[0] = 1000
	img.UPlane[0] = 512
	img.VPlane[0] = 512
	_, is64 := img.ColorModel().Convert(color.RGBA64{}).(color.RGBA64)
	c.Assert(is64, qt.IsTrue)

	at := img.At(0, 0).(color.RGBA64)
	c.Assert(at.A, qt.Equals, uint16(0xffff))
}

func TestScalePreservesAlphaPresence(t *testing.T) {
	c := qt.New(t)
	img := NewImage(4, 4, 8, PixelFormatYUV420)
	for i := range img.YPlane {
		img.YPlane[i] = 180
	}
	for i := range img.UPlane {
		img.UPlane[i], img.VPlane[i] = 128, 128
	}
	img.AllocAlpha()
	for i := range img.AlphaPlane {
		img.AlphaPlane[i] = 255
	}

	out := img.Scale(2, 2)
	c.Assert(out.Width, qt.Equals, 2)
	c.Assert(out.Height, qt.Equals, 2)
	c.Assert(out.HasAlpha(), qt.IsTrue)
	c.Assert(out.Format, qt.Equals, PixelFormatYUV420)
}
