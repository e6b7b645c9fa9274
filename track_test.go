package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

// buildSyntheticTrak assembles a trak box with two samples in one chunk, an
// av01 stsd entry, and stts/ctts/stss boxes exercising every sample-table
// field buildOneTrack reads.
func buildSyntheticTrak(t *testing.T) []byte {
	t.Helper()

	tkhdBody := newBoxWriter()
	tkhdBody.u32(0) // creation_time
	tkhdBody.u32(0) // modification_time
	tkhdBody.u32(7) // track_ID
	tkhdBody.u32(0) // reserved
	tkhdBody.u32(0) // duration
	tkhdBody.raw(make([]byte, 8))  // reserved[2]
	tkhdBody.raw(make([]byte, 2))  // layer
	tkhdBody.u16(1)                // alternate_group
	tkhdBody.raw(make([]byte, 2))  // volume
	tkhdBody.raw(make([]byte, 2))  // reserved
	tkhdBody.raw(make([]byte, 36)) // matrix
	tkhdBody.u32(6 << 16)          // width
	tkhdBody.u32(4 << 16)          // height
	tkhd := fullBox("tkhd", 0, 0, tkhdBody.Bytes())

	mdhdBody := newBoxWriter()
	mdhdBody.u32(0) // creation_time
	mdhdBody.u32(0) // modification_time
	mdhdBody.u32(1000) // timescale
	mdhdBody.u32(2000) // duration
	mdhdBody.u16(0)     // language
	mdhdBody.u16(0)     // pre_defined
	mdhd := fullBox("mdhd", 0, 0, mdhdBody.Bytes())

	hdlrBody := newBoxWriter()
	hdlrBody.u32(0) // pre_defined
	hdlrBody.fourcc("pict")
	hdlrBody.raw(make([]byte, 12))
	hdlrBody.cstring("")
	hdlr := fullBox("hdlr", 0, 0, hdlrBody.Bytes())

	av1CBody := newBoxWriter()
	av1CBody.u8(0x81) // marker=1, version=1
	av1CBody.u8(0)    // seq_profile/seq_level_idx_0
	av1CBody.u8(0)    // tier/bitdepth/mono/subsampling/reserved
	av1CBody.u8(0)    // initial_presentation_delay
	av1C := box("av1C", av1CBody.Bytes())

	visualSampleEntry := newBoxWriter()
	visualSampleEntry.raw(make([]byte, 6)) // reserved
	visualSampleEntry.u16(1)               // data_reference_index
	visualSampleEntry.raw(make([]byte, 16))
	visualSampleEntry.u16(6) // width
	visualSampleEntry.u16(4) // height
	visualSampleEntry.raw(make([]byte, 8))  // resolution
	visualSampleEntry.u16(0)                // frame_count
	visualSampleEntry.raw(make([]byte, 32)) // compressorname
	visualSampleEntry.u16(0)                // depth
	visualSampleEntry.raw(make([]byte, 2))  // pre_defined
	visualSampleEntry.raw(av1C)
	av01 := box("av01", visualSampleEntry.Bytes())

	stsdBody := concatBoxes(u32bytes(1), av01)
	stsd := fullBox("stsd", 0, 0, stsdBody)

	stco := fullBox("stco", 0, 0, concatBoxes(u32bytes(1), u32bytes(100)))

	stszBody := newBoxWriter()
	stszBody.u32(0) // sample_size (0 => per-sample sizes follow)
	stszBody.u32(2) // sample_count
	stszBody.u32(10)
	stszBody.u32(20)
	stsz := fullBox("stsz", 0, 0, stszBody.Bytes())

	stscBody := newBoxWriter()
	stscBody.u32(1) // entry_count
	stscBody.u32(1) // first_chunk
	stscBody.u32(2) // samples_per_chunk
	stscBody.u32(1) // sample_description_index
	stsc := fullBox("stsc", 0, 0, stscBody.Bytes())

	sttsBody := newBoxWriter()
	sttsBody.u32(1) // entry_count
	sttsBody.u32(2) // sample_count
	sttsBody.u32(33) // sample_delta
	stts := fullBox("stts", 0, 0, sttsBody.Bytes())

	cttsBody := newBoxWriter()
	cttsBody.u32(1)
	cttsBody.u32(2)
	cttsBody.i32(5)
	ctts := fullBox("ctts", 1, 0, cttsBody.Bytes())

	stssBody := newBoxWriter()
	stssBody.u32(1)
	stssBody.u32(1) // sample 1 is a sync sample
	stss := fullBox("stss", 0, 0, stssBody.Bytes())

	stbl := box("stbl", concatBoxes(stsd, stco, stsz, stsc, stts, ctts, stss))
	minf := box("minf", stbl)
	mdia := box("mdia", concatBoxes(mdhd, hdlr, minf))
	return box("trak", concatBoxes(tkhd, mdia))
}

func TestBuildOneTrack(t *testing.T) {
	c := qt.New(t)
	trakBytes := buildSyntheticTrak(t)
	_, trakBody, err := readBoxHeader(newReader(trakBytes))
	c.Assert(err, qt.IsNil)

	tr, err := buildOneTrack(trakBody, 600, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(tr.ID, qt.Equals, uint32(7))
	c.Assert(tr.AlternateGroup, qt.Equals, uint16(1))
	c.Assert(tr.Width, qt.Equals, uint32(6))
	c.Assert(tr.Height, qt.Equals, uint32(4))
	c.Assert(tr.Timescale, qt.Equals, uint32(1000))
	c.Assert(tr.Duration, qt.Equals, uint64(2000))
	c.Assert(tr.HandlerType, qt.Equals, fcc("pict"))
	c.Assert(tr.SampleEntryType, qt.Equals, fcc("av01"))
	c.Assert(tr.Av1C, qt.Not(qt.IsNil))

	c.Assert(len(tr.Samples), qt.Equals, 2)
	c.Assert(tr.Samples[0], qt.DeepEquals, trackSample{
		Offset: 100, Size: 10, DecodeDelta: 33, CompositionOffset: 5, Sync: true,
	})
	c.Assert(tr.Samples[1], qt.DeepEquals, trackSample{
		Offset: 110, Size: 20, DecodeDelta: 33, CompositionOffset: 5, Sync: false,
	})
}

func TestBuildOneTrackFallsBackToMovieTimescale(t *testing.T) {
	c := qt.New(t)

	hdlrBody := newBoxWriter()
	hdlrBody.u32(0)
	hdlrBody.fourcc("pict")
	hdlrBody.raw(make([]byte, 12))
	hdlrBody.cstring("")
	hdlr := fullBox("hdlr", 0, 0, hdlrBody.Bytes())

	stsd := fullBox("stsd", 0, 0, u32bytes(0))
	stco := fullBox("stco", 0, 0, u32bytes(0))
	stsz := fullBox("stsz", 0, 0, concatBoxes(u32bytes(0), u32bytes(0)))
	stsc := fullBox("stsc", 0, 0, u32bytes(0))
	stbl := box("stbl", concatBoxes(stsd, stco, stsz, stsc))
	minf := box("minf", stbl)
	mdia := box("mdia", concatBoxes(hdlr, minf)) // no mdhd
	trakBytes := box("trak", mdia)

	_, trakBody, err := readBoxHeader(newReader(trakBytes))
	c.Assert(err, qt.IsNil)

	tr, err := buildOneTrack(trakBody, 600, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(tr.Timescale, qt.Equals, uint32(600))
}

func TestParseStsc(t *testing.T) {
	c := qt.New(t)
	body := newBoxWriter()
	body.u32(2) // entry_count
	body.u32(1) // first_chunk
	body.u32(3) // samples_per_chunk
	body.u32(1) // sample_description_index
	body.u32(4)
	body.u32(2)
	body.u32(1)
	stsc := fullBox("stsc", 0, 0, body.Bytes())
	stblBody := newReader(stsc)

	entries, err := parseStsc(stblBody, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(entries, qt.DeepEquals, []stscEntry{
		{FirstChunk: 1, SamplesPerChunk: 3},
		{FirstChunk: 4, SamplesPerChunk: 2},
	})
}

func TestSamplesPerChunkAndCountFromStsc(t *testing.T) {
	c := qt.New(t)
	entries := []stscEntry{
		{FirstChunk: 1, SamplesPerChunk: 3},
		{FirstChunk: 4, SamplesPerChunk: 2},
	}
	c.Assert(samplesPerChunk(entries, 1), qt.Equals, uint32(3))
	c.Assert(samplesPerChunk(entries, 3), qt.Equals, uint32(3))
	c.Assert(samplesPerChunk(entries, 4), qt.Equals, uint32(2))
	c.Assert(samplesPerChunk(entries, 10), qt.Equals, uint32(2))

	c.Assert(countFromStsc(entries, 5), qt.Equals, 3+3+3+2+2)
}

func TestParseStszConstantSize(t *testing.T) {
	c := qt.New(t)
	body := newBoxWriter()
	body.u32(16) // default size
	body.u32(5)  // sample count
	stsz := fullBox("stsz", 0, 0, body.Bytes())
	stblBody := newReader(stsz)

	sizes, defSize, err := parseStsz(stblBody, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(sizes, qt.IsNil)
	c.Assert(defSize, qt.Equals, uint32(16))
}

func TestApplyStssNoBoxMeansAllSync(t *testing.T) {
	c := qt.New(t)
	stblBody := newReader(box("stbl", nil)).rest()
	samples := []trackSample{{}, {}, {}}
	c.Assert(applyStss(stblBody, samples, 0), qt.IsNil)
	for _, s := range samples {
		c.Assert(s.Sync, qt.IsTrue)
	}
}
