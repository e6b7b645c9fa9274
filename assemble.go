package avif

import (
	"runtime"
	"sync"
)

// allLayers requests every a1lx progressive layer be submitted to the codec,
// the normal non-progressive decode path.
const allLayers = -1

// assembleFrame decodes every planned tile and copies it into a single
// output Image, per §4.H. Tiles write disjoint destination rectangles, so
// decoding runs on a small bounded worker pool with no locking on the
// destination planes themselves — only the shared first-error slot needs
// synchronization, the same shape as a parallel row-encode pool where each
// worker owns independent output rows.
func assembleFrame(tiles []tile, outW, outH int, choice CodecChoice) (*Image, error) {
	return assembleFrameUpToLayer(tiles, outW, outH, choice, allLayers)
}

// assembleFrameUpToLayer is assembleFrame with progressive-layer control:
// layerLimit caps how many of a tile's a1lx layers are submitted to the
// codec, so a progressive item's successive quality layers can each be
// decoded as their own addressable image (§4.J).
func assembleFrameUpToLayer(tiles []tile, outW, outH int, choice CodecChoice, layerLimit int) (*Image, error) {
	if len(tiles) == 0 {
		return nil, newError(ErrNoContent, "no tiles to assemble")
	}

	depth := 8
	format := PixelFormatYUV420
	for _, bd := range tiles[0].Config.BitDepths {
		depth = int(bd)
		break
	}
	if tiles[0].Config.Av1C != nil {
		depth = 8
		if tiles[0].Config.Av1C.HighBitdepth {
			depth = 10
			if tiles[0].Config.Av1C.TwelveBit {
				depth = 12
			}
		}
		format = pixelFormatFromAv1C(tiles[0].Config.Av1C)
	}

	out := NewImage(outW, outH, depth, format)

	workers := min(max(1, runtime.NumCPU()), len(tiles))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, t := range tiles {
		wg.Add(1)
		sem <- struct{}{}
		go func(t tile) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := decodeAndCopyTile(t, choice, out, layerLimit); err != nil {
				setErr(err)
			}
		}(t)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func decodeAndCopyTile(t tile, choice CodecChoice, out *Image, layerLimit int) error {
	codec, err := resolveCodec(choice, t.HEVC)
	if err != nil {
		return err
	}
	defer codec.Destroy()

	if err := codec.Initialize(t.Config); err != nil {
		return err
	}

	if len(t.Layers) > 0 {
		layers := t.Layers
		if layerLimit != allLayers && layerLimit+1 < len(layers) {
			layers = layers[:layerLimit+1]
		}
		for _, layer := range layers {
			if err := codec.Submit(layer); err != nil {
				return err
			}
		}
	} else if err := codec.Submit(t.Payload); err != nil {
		return err
	}

	frame, err := codec.NextFrame()
	if err != nil {
		return err
	}
	copyFrameInto(out, frame, t.DestX, t.DestY)
	return nil
}

// copyFrameInto copies frame's planes into dst at (destX, destY), clipping
// against dst's bounds — the case where a grid's last row/column tile
// extends past the declared output size. It also advances dst's decoded-row
// counter by the number of rows actually written, so a caller polling
// Image.DecodedRowCount mid-assembly sees progress; tiles write disjoint row
// ranges (single tile: its own full height, grid: each cell's own band), so
// the atomic add is safe without further coordination.
func copyFrameInto(dst *Image, frame *CodecFrame, destX, destY int) {
	written := 0
	for y := 0; y < frame.Height; y++ {
		dy := destY + y
		if dy < 0 || dy >= dst.Height {
			continue
		}
		written++
		for x := 0; x < frame.Width; x++ {
			dx := destX + x
			if dx < 0 || dx >= dst.Width {
				continue
			}
			if idx := y*frame.Strides[0] + x; idx < len(frame.Planes[0]) {
				dst.YPlane[dy*dst.YStride+dx] = frame.Planes[0][idx]
			}
		}
	}
	dst.decodedRows.Add(int64(written))
	if dst.UPlane == nil || frame.Planes[1] == nil {
		return
	}
	cdx0, cdy0 := chromaCoord(dst, destX, destY)
	cw, ch := chromaExtent(frame)
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			dx := cdx0 + x
			srcIdx := y*frame.Strides[1] + x
			if srcIdx >= len(frame.Planes[1]) {
				continue
			}
			dstIdx := (cdy0+y)*dst.UStride + dx
			if dstIdx < 0 || dstIdx >= len(dst.UPlane) {
				continue
			}
			dst.UPlane[dstIdx] = frame.Planes[1][srcIdx]
			dst.VPlane[dstIdx] = frame.Planes[2][srcIdx]
		}
	}
}

func chromaCoord(dst *Image, x, y int) (int, int) {
	switch dst.Format {
	case PixelFormatYUV420:
		return x / 2, y / 2
	case PixelFormatYUV422:
		return x / 2, y
	default:
		return x, y
	}
}

func chromaExtent(frame *CodecFrame) (int, int) {
	if frame.SubsamplingX == 1 {
		return (frame.Width + 1) / 2, chromaHeight(frame)
	}
	return frame.Width, chromaHeight(frame)
}

func chromaHeight(frame *CodecFrame) int {
	if frame.SubsamplingY == 1 {
		return (frame.Height + 1) / 2
	}
	return frame.Height
}

// mergeAlpha decodes and copies an alpha item's single-plane frame into
// dst's alpha plane, validating that its dimensions match the color image
// per §3.3's ColorAlphaSizeMismatch invariant.
func mergeAlpha(g *itemGraph, src Source, alphaItemID uint32, choice CodecChoice, dst *Image) error {
	tiles, w, h, err := planTiles(g, src, alphaItemID)
	if err != nil {
		return err
	}
	if w != dst.Width || h != dst.Height {
		return newErrorf(ErrColorAlphaSizeMismatch, "alpha item %dx%d does not match color image %dx%d", w, h, dst.Width, dst.Height)
	}
	dst.AllocAlpha()
	for _, t := range tiles {
		codec, err := resolveCodec(choice, t.HEVC)
		if err != nil {
			return err
		}
		if err := codec.Initialize(t.Config); err != nil {
			codec.Destroy()
			return err
		}
		if err := codec.Submit(t.Payload); err != nil {
			codec.Destroy()
			return err
		}
		frame, err := codec.NextFrame()
		codec.Destroy()
		if err != nil {
			return err
		}
		for y := 0; y < frame.Height && t.DestY+y < dst.Height; y++ {
			for x := 0; x < frame.Width && t.DestX+x < dst.Width; x++ {
				if idx := y*frame.Strides[0] + x; idx < len(frame.Planes[0]) {
					dst.AlphaPlane[(t.DestY+y)*dst.AlphaStride+(t.DestX+x)] = frame.Planes[0][idx]
				}
			}
		}
	}
	return nil
}
