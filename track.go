package avif

// trackSample is one resolved sample: its byte range in the source plus its
// decode and presentation timing.
type trackSample struct {
	Offset   uint64
	Size     uint32
	DecodeDelta  uint32 // stts delta, in track timescale units
	CompositionOffset int32 // ctts offset, read as signed 32-bit for both ctts versions
	Sync     bool
}

// editListEntry is one elst entry: SegmentDuration is in the movie
// timescale, MediaTime in the track's media timescale.
type editListEntry struct {
	SegmentDuration uint64
	MediaTime       int64 // -1 means an empty edit (no media for this segment)
	MediaRateInt    int16
}

// track is one moov/trak entry reduced to its sample table, the form the
// tile planner and frame assembler need for the image-sequence source case
// of §3.2 (§4.D "track/sample-table model").
type track struct {
	ID         uint32
	Timescale  uint32
	Duration   uint64
	Width      uint32 // tkhd display width (16.16 fixed, truncated)
	Height     uint32
	HandlerType fourCC
	SampleEntryType fourCC // e.g. "av01", "hvc1"
	Av1C       *av1CProp
	HvcC       *hvcCProp
	Samples    []trackSample
	AlternateGroup uint16
	Auxiliary  bool // auxiliary (e.g. alpha) track flag; buildOneTrack never sets it, so it is always false
	EditList   []editListEntry
}

// mediaTimeOffset returns the number of track-timescale units the first
// edit-list entry's media_time shifts presentation timestamps by, per
// ISO/IEC 14496-12 §8.6.6. A track with no edit list, or whose first entry
// is an empty edit (media_time -1), has no adjustment.
func (t *track) mediaTimeOffset() int64 {
	if len(t.EditList) == 0 {
		return 0
	}
	first := t.EditList[0]
	if first.MediaTime < 0 {
		return 0
	}
	return first.MediaTime
}

// parseElst parses an elst FullBox into its entries, per ISO/IEC 14496-12
// §8.6.6. Field widths for segment_duration and media_time depend on the
// FullBox version, the same version-dependent-width pattern tkhd and mvhd
// use for their time fields.
func parseElst(elst *reader) ([]editListEntry, error) {
	version, _, err := elst.fullBoxHeader()
	if err != nil {
		return nil, err
	}
	count, err := elst.u32()
	if err != nil {
		return nil, err
	}
	out := make([]editListEntry, 0, count)
	for range count {
		var duration uint64
		var mediaTime int64
		if version == 1 {
			d, err := elst.u64()
			if err != nil {
				return nil, err
			}
			mt, err := elst.u64()
			if err != nil {
				return nil, err
			}
			duration = d
			mediaTime = int64(mt)
		} else {
			d, err := elst.u32()
			if err != nil {
				return nil, err
			}
			mt, err := elst.i32()
			if err != nil {
				return nil, err
			}
			duration = uint64(d)
			mediaTime = int64(mt)
		}
		rateInt, err := elst.u16()
		if err != nil {
			return nil, err
		}
		if err := elst.skip(2); err != nil { // media_rate_fraction, always 1
			return nil, err
		}
		out = append(out, editListEntry{
			SegmentDuration: duration,
			MediaTime:       mediaTime,
			MediaRateInt:    int16(rateInt),
		})
	}
	return out, nil
}

// buildTracks parses every trak under a moov body into a *track, per §4.D.
// depth is the nesting level of the moov box itself.
func buildTracks(moovBody *reader, depth int) ([]*track, error) {
	var movieTimescale uint32
	if mvhd, ok, err := findBox(moovBody.rest(), fcc("mvhd"), depth+1); err != nil {
		return nil, err
	} else if ok {
		version, _, err := mvhd.fullBoxHeader()
		if err != nil {
			return nil, err
		}
		if version == 1 {
			if err := mvhd.skip(16); err != nil {
				return nil, err
			}
		} else {
			if err := mvhd.skip(8); err != nil {
				return nil, err
			}
		}
		ts, err := mvhd.u32()
		if err != nil {
			return nil, err
		}
		movieTimescale = ts
	}

	trakBodies, err := collectBoxes(moovBody, fcc("trak"), depth+1)
	if err != nil {
		return nil, err
	}

	tracks := make([]*track, 0, len(trakBodies))
	for _, trakBody := range trakBodies {
		t, err := buildOneTrack(trakBody, movieTimescale, depth+1)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// buildOneTrack parses one trak body. depth is the nesting level of the trak
// box itself; its children (tkhd, mdia, ...) are walked at depth+1.
func buildOneTrack(trakBody *reader, movieTimescale uint32, depth int) (*track, error) {
	t := &track{}

	if tkhd, ok, err := findBox(trakBody.rest(), fcc("tkhd"), depth+1); err != nil {
		return nil, err
	} else if ok {
		version, _, err := tkhd.fullBoxHeader()
		if err != nil {
			return nil, err
		}
		if version == 1 {
			if err := tkhd.skip(8 + 8); err != nil { // creation_time, modification_time
				return nil, err
			}
		} else {
			if err := tkhd.skip(4 + 4); err != nil {
				return nil, err
			}
		}
		id, err := tkhd.u32() // track_ID, always 32 bits regardless of version
		if err != nil {
			return nil, err
		}
		t.ID = id
		if err := tkhd.skip(4); err != nil { // reserved
			return nil, err
		}
		if version == 1 {
			if err := tkhd.skip(8); err != nil {
				return nil, err
			}
		} else {
			if err := tkhd.skip(4); err != nil {
				return nil, err
			}
		}
		if err := tkhd.skip(8); err != nil { // reserved[2]
			return nil, err
		}
		if err := tkhd.skip(2); err != nil { // layer
			return nil, err
		}
		altGroup, err := tkhd.u16()
		if err != nil {
			return nil, err
		}
		t.AlternateGroup = altGroup
		if err := tkhd.skip(2 + 2 + 36); err != nil { // volume, reserved, matrix
			return nil, err
		}
		w, err := tkhd.fixed16_16()
		if err != nil {
			return nil, err
		}
		h, err := tkhd.fixed16_16()
		if err != nil {
			return nil, err
		}
		t.Width, t.Height = uint32(w), uint32(h)
	}

	if edts, ok, err := findBox(trakBody.rest(), fcc("edts"), depth+1); err != nil {
		return nil, err
	} else if ok {
		if elst, ok, err := findBox(edts.rest(), fcc("elst"), depth+2); err != nil {
			return nil, err
		} else if ok {
			editList, err := parseElst(elst)
			if err != nil {
				return nil, err
			}
			t.EditList = editList
		}
	}

	mdiaBody, ok, err := findBox(trakBody.rest(), fcc("mdia"), depth+1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErrorf(ErrBmffParseFailed, "trak %d has no mdia box", t.ID)
	}

	if mdhd, ok, err := findBox(mdiaBody.rest(), fcc("mdhd"), depth+2); err != nil {
		return nil, err
	} else if ok {
		version, _, err := mdhd.fullBoxHeader()
		if err != nil {
			return nil, err
		}
		if version == 1 {
			if err := mdhd.skip(16); err != nil {
				return nil, err
			}
		} else {
			if err := mdhd.skip(8); err != nil {
				return nil, err
			}
		}
		ts, err := mdhd.u32()
		if err != nil {
			return nil, err
		}
		t.Timescale = ts
		if version == 1 {
			dur, err := mdhd.u64()
			if err != nil {
				return nil, err
			}
			t.Duration = dur
		} else {
			dur, err := mdhd.u32()
			if err != nil {
				return nil, err
			}
			t.Duration = uint64(dur)
		}
	}
	if t.Timescale == 0 {
		t.Timescale = movieTimescale
	}

	if hdlr, ok, err := findBox(mdiaBody.rest(), fcc("hdlr"), depth+2); err != nil {
		return nil, err
	} else if ok {
		if _, _, err := hdlr.fullBoxHeader(); err != nil {
			return nil, err
		}
		if err := hdlr.skip(4); err != nil { // pre_defined
			return nil, err
		}
		ht, err := hdlr.bytes(4)
		if err != nil {
			return nil, err
		}
		copy(t.HandlerType[:], ht)
	}

	minfBody, ok, err := findBox(mdiaBody.rest(), fcc("minf"), depth+2)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErrorf(ErrBmffParseFailed, "trak %d has no minf box", t.ID)
	}
	stblBody, ok, err := findBox(minfBody.rest(), fcc("stbl"), depth+3)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErrorf(ErrBmffParseFailed, "trak %d has no stbl box", t.ID)
	}

	if err := parseSampleEntry(stblBody, t, depth+3); err != nil {
		return nil, err
	}

	samples, err := parseSampleTable(stblBody, depth+3)
	if err != nil {
		return nil, err
	}
	t.Samples = samples
	return t, nil
}

// parseSampleEntry reads the first sample description (stsd) entry, carrying
// its av1C/hvcC configuration record, per §4.D. depth is the nesting level of
// the stbl box itself.
func parseSampleEntry(stblBody *reader, t *track, depth int) error {
	stsd, ok, err := findBox(stblBody.rest(), fcc("stsd"), depth+1)
	if err != nil {
		return err
	}
	if !ok {
		return newErrorf(ErrBmffParseFailed, "trak %d has no stsd box", t.ID)
	}
	if _, _, err := stsd.fullBoxHeader(); err != nil {
		return err
	}
	count, err := stsd.u32()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	return walkBoxes(stsd, depth+2, func(h boxHeader, body *reader) error {
		if t.SampleEntryType != (fourCC{}) {
			return nil // only the first entry matters for this decoder
		}
		t.SampleEntryType = h.Type
		// Visual sample entry fixed header: 6 reserved + data_reference_index(2)
		// + pre_defined/reserved(16) + width/height(4) + resolution(8) +
		// frame_count(2) + compressorname(32) + depth(2) + pre_defined(2).
		if err := body.skip(6 + 2 + 16 + 4 + 8 + 2 + 32 + 2 + 2); err != nil {
			return nil // non-visual or truncated entry; leave config nil
		}
		return walkBoxes(body, depth+3, func(ch boxHeader, cb *reader) error {
			switch ch.Type {
			case fcc("av1C"):
				p, err := parseProperty(ch.Type, cb)
				if err != nil {
					return err
				}
				t.Av1C = p.Av1C
			case fcc("hvcC"):
				p, err := parseProperty(ch.Type, cb)
				if err != nil {
					return err
				}
				t.HvcC = p.HvcC
			}
			return nil
		})
	})
}

// parseSampleTable reads stco/co64, stsz, stsc, stts, ctts, and stss into a
// per-sample schedule. depth is the nesting level of the stbl box itself.
func parseSampleTable(stblBody *reader, depth int) ([]trackSample, error) {
	var offsets []uint64
	if stco, ok, err := findBox(stblBody.rest(), fcc("stco"), depth+1); err != nil {
		return nil, err
	} else if ok {
		offs, err := parseStco(stco)
		if err != nil {
			return nil, err
		}
		offsets = offs
	} else if co64, ok, err := findBox(stblBody.rest(), fcc("co64"), depth+1); err != nil {
		return nil, err
	} else if ok {
		offs, err := parseCo64(co64)
		if err != nil {
			return nil, err
		}
		offsets = offs
	} else {
		return nil, newError(ErrBmffParseFailed, "stbl has neither stco nor co64")
	}

	sizes, defaultSize, err := parseStsz(stblBody, depth)
	if err != nil {
		return nil, err
	}

	chunkMap, err := parseStsc(stblBody, depth)
	if err != nil {
		return nil, err
	}

	sampleCount := len(sizes)
	if sampleCount == 0 {
		sampleCount = countFromStsc(chunkMap, len(offsets))
	}

	samples := make([]trackSample, 0, sampleCount)
	sampleIdx := 0
	for chunkIdx := range offsets {
		chunkNum := uint32(chunkIdx + 1)
		samplesInChunk := samplesPerChunk(chunkMap, chunkNum)
		pos := offsets[chunkIdx]
		for range samplesInChunk {
			size := defaultSize
			if defaultSize == 0 && sampleIdx < len(sizes) {
				size = sizes[sampleIdx]
			}
			samples = append(samples, trackSample{Offset: pos, Size: size})
			pos += uint64(size)
			sampleIdx++
		}
	}

	if err := applyStts(stblBody, samples, depth); err != nil {
		return nil, err
	}
	if err := applyCtts(stblBody, samples, depth); err != nil {
		return nil, err
	}
	if err := applyStss(stblBody, samples, depth); err != nil {
		return nil, err
	}
	return samples, nil
}

func parseStco(body *reader) ([]uint64, error) {
	if _, _, err := body.fullBoxHeader(); err != nil {
		return nil, err
	}
	count, err := body.u32()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		v, err := body.u32()
		if err != nil {
			return nil, err
		}
		out[i] = uint64(v)
	}
	return out, nil
}

func parseCo64(body *reader) ([]uint64, error) {
	if _, _, err := body.fullBoxHeader(); err != nil {
		return nil, err
	}
	count, err := body.u32()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		v, err := body.u64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseStsz returns per-sample sizes, or a defaultSize > 0 when every sample
// has the same size (sizes is nil in that case).
func parseStsz(stblBody *reader, depth int) (sizes []uint32, defaultSize uint32, err error) {
	body, ok, err := findBox(stblBody.rest(), fcc("stsz"), depth+1)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, newError(ErrBmffParseFailed, "stbl has no stsz box")
	}
	if _, _, err := body.fullBoxHeader(); err != nil {
		return nil, 0, err
	}
	defSize, err := body.u32()
	if err != nil {
		return nil, 0, err
	}
	count, err := body.u32()
	if err != nil {
		return nil, 0, err
	}
	if defSize != 0 {
		return nil, defSize, nil
	}
	out := make([]uint32, count)
	for i := range out {
		v, err := body.u32()
		if err != nil {
			return nil, 0, err
		}
		out[i] = v
	}
	return out, 0, nil
}

type stscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
}

func parseStsc(stblBody *reader, depth int) ([]stscEntry, error) {
	body, ok, err := findBox(stblBody.rest(), fcc("stsc"), depth+1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(ErrBmffParseFailed, "stbl has no stsc box")
	}
	if _, _, err := body.fullBoxHeader(); err != nil {
		return nil, err
	}
	count, err := body.u32()
	if err != nil {
		return nil, err
	}
	out := make([]stscEntry, count)
	for i := range out {
		first, err := body.u32()
		if err != nil {
			return nil, err
		}
		per, err := body.u32()
		if err != nil {
			return nil, err
		}
		if err := body.skip(4); err != nil { // sample_description_index
			return nil, err
		}
		out[i] = stscEntry{FirstChunk: first, SamplesPerChunk: per}
	}
	return out, nil
}

func samplesPerChunk(entries []stscEntry, chunkNum uint32) uint32 {
	var n uint32
	for _, e := range entries {
		if e.FirstChunk <= chunkNum {
			n = e.SamplesPerChunk
		}
	}
	return n
}

func countFromStsc(entries []stscEntry, numChunks int) int {
	total := 0
	for i := 1; i <= numChunks; i++ {
		total += int(samplesPerChunk(entries, uint32(i)))
	}
	return total
}

func applyStts(stblBody *reader, samples []trackSample, depth int) error {
	body, ok, err := findBox(stblBody.rest(), fcc("stts"), depth+1)
	if err != nil || !ok {
		return err
	}
	if _, _, err := body.fullBoxHeader(); err != nil {
		return err
	}
	count, err := body.u32()
	if err != nil {
		return err
	}
	idx := 0
	for range count {
		sampleCount, err := body.u32()
		if err != nil {
			return err
		}
		delta, err := body.u32()
		if err != nil {
			return err
		}
		for range sampleCount {
			if idx >= len(samples) {
				break
			}
			samples[idx].DecodeDelta = delta
			idx++
		}
	}
	return nil
}

func applyCtts(stblBody *reader, samples []trackSample, depth int) error {
	body, ok, err := findBox(stblBody.rest(), fcc("ctts"), depth+1)
	if err != nil || !ok {
		return err
	}
	if _, _, err := body.fullBoxHeader(); err != nil {
		return err
	}
	count, err := body.u32()
	if err != nil {
		return err
	}
	idx := 0
	for range count {
		sampleCount, err := body.u32()
		if err != nil {
			return err
		}
		offset, err := body.i32()
		if err != nil {
			return err
		}
		for range sampleCount {
			if idx >= len(samples) {
				break
			}
			samples[idx].CompositionOffset = offset
			idx++
		}
	}
	return nil
}

func applyStss(stblBody *reader, samples []trackSample, depth int) error {
	body, ok, err := findBox(stblBody.rest(), fcc("stss"), depth+1)
	if err != nil {
		return err
	}
	if !ok {
		// No stss means every sample is a sync sample.
		for i := range samples {
			samples[i].Sync = true
		}
		return nil
	}
	if _, _, err := body.fullBoxHeader(); err != nil {
		return err
	}
	count, err := body.u32()
	if err != nil {
		return err
	}
	for range count {
		num, err := body.u32()
		if err != nil {
			return err
		}
		if num >= 1 && int(num-1) < len(samples) {
			samples[num-1].Sync = true
		}
	}
	return nil
}
