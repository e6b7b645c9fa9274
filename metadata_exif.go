package avif

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"path"
	"strings"
)

const (
	byteOrderBigEndianMarker    = 0x4d4d
	byteOrderLittleEndianMarker = 0x4949

	xmpMarkerTag  = 0x02bc // EXIF ApplicationNotes, carries embedded XMP
	undefValue    = "undef"
)

// exifType is a TIFF/EXIF IFD entry's basic data type.
type exifType uint16

const (
	exifTypeUnsignedByte1  exifType = 1
	exifTypeASCIIString1   exifType = 2
	exifTypeUnsignedShort2 exifType = 3
	exifTypeUnsignedLong4  exifType = 4
	exifTypeUnsignedRat8   exifType = 5
	exifTypeSignedByte1    exifType = 6
	exifTypeUndef1         exifType = 7
	exifTypeSignedShort2   exifType = 8
	exifTypeSignedLong4    exifType = 9
	exifTypeSignedRat8     exifType = 10
	exifTypeSignedFloat4   exifType = 11
	exifTypeSignedDouble8  exifType = 12
)

var exifTypeSize = map[exifType]uint32{
	exifTypeUnsignedByte1: 1, exifTypeASCIIString1: 1, exifTypeUnsignedShort2: 2,
	exifTypeUnsignedLong4: 4, exifTypeUnsignedRat8: 8, exifTypeSignedByte1: 1,
	exifTypeUndef1: 1, exifTypeSignedShort2: 2, exifTypeSignedLong4: 4,
	exifTypeSignedRat8: 8, exifTypeSignedFloat4: 4, exifTypeSignedDouble8: 8,
}

var exifIFDPointers = map[uint16]string{
	0x8769: "ExifIFD",
	0x8825: "GPSInfoIFD",
	0xa005: "InteroperabilityIFD",
}

var exifFieldsAll = func() map[uint16]string {
	m := map[uint16]string{}
	maps.Copy(m, exifFields)
	maps.Copy(m, exifFieldsGPS)
	return m
}()

var exifConverters = vc{}

var exifValueConverterMap = map[string]valueConverter{
	"ApertureValue":           exifConverters.convertAPEXToFNumber,
	"MaxApertureValue":        exifConverters.convertAPEXToFNumber,
	"ShutterSpeedValue":       exifConverters.convertAPEXToSeconds,
	"GPSLatitude":             exifConverters.convertDegreesToDecimal,
	"GPSLongitude":            exifConverters.convertDegreesToDecimal,
	"GPSMeasureMode":          exifConverters.convertStringToInt,
	"SubSecTimeDigitized":     exifConverters.convertStringToInt,
	"SubSecTimeOriginal":      exifConverters.convertStringToInt,
	"SubSecTime":              exifConverters.convertStringToInt,
	"GPSSatellites":           exifConverters.convertStringToInt,
	"GPSTimeStamp":            exifConverters.convertToTimestampString,
	"GPSVersionID":            exifConverters.convertBytesToStringSpaceDelim,
	"SubjectArea":             exifConverters.convertNumbersToSpaceLimited,
	"BitsPerSample":           exifConverters.convertNumbersToSpaceLimited,
	"PageNumber":              exifConverters.convertNumbersToSpaceLimited,
	"StripByteCounts":         exifConverters.convertNumbersToSpaceLimited,
	"StripOffsets":            exifConverters.convertNumbersToSpaceLimited,
	"PrimaryChromaticities":   exifConverters.convertRatsToSpaceLimited,
	"WhitePoint":              exifConverters.convertRatsToSpaceLimited,
	"ReferenceBlackWhite":     exifConverters.convertRatsToSpaceLimited,
	"YCbCrCoefficients":       exifConverters.convertRatsToSpaceLimited,
	"ComponentsConfiguration": exifConverters.convertBytesToStringSpaceDelim,
	"LensInfo":                exifConverters.convertRatsToSpaceLimited,
	"Padding":                 exifConverters.convertBinaryData,
	"UserComment":             exifConverters.convertUserComment,
}

// exifReader is a TIFF-header-relative cursor with runtime-selected byte
// order, since EXIF IFDs (unlike ISOBMFF boxes) can be little- or
// big-endian depending on the "II"/"MM" marker at their start.
type exifReader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func (e *exifReader) otherUint16(b []byte) uint16 {
	if e.order == binary.BigEndian {
		return binary.LittleEndian.Uint16(b)
	}
	return binary.BigEndian.Uint16(b)
}

func (e *exifReader) seek(pos int) { e.pos = pos }

func (e *exifReader) read(n int) []byte {
	if e.pos+n > len(e.buf) || e.pos < 0 {
		return make([]byte, n)
	}
	b := e.buf[e.pos : e.pos+n]
	e.pos += n
	return b
}

func (e *exifReader) u16() uint16 { return e.order.Uint16(e.read(2)) }
func (e *exifReader) u32() uint32 { return e.order.Uint32(e.read(4)) }

// ParseExifTags decodes a TIFF/EXIF buffer (the byte-exact payload a Decoder
// attaches to Image.Exif, with its 4-byte tiff-header-offset prefix already
// stripped) into a flat tag list, per §6.
func ParseExifTags(data []byte, warnf func(string, ...any)) ([]MetaTag, error) {
	e := &exifReader{buf: data}
	// The byte-order marker itself reads the same whether interpreted as big-
	// or little-endian ("II"/"MM" are byte-symmetric), so read it before
	// e.order is set rather than through e.u16.
	marker := binary.BigEndian.Uint16(e.read(2))
	switch marker {
	case byteOrderBigEndianMarker:
		e.order = binary.BigEndian
	case byteOrderLittleEndianMarker:
		e.order = binary.LittleEndian
	default:
		return nil, newErrorf(ErrInvalidExifPayload, "unrecognized TIFF byte-order marker 0x%x", marker)
	}
	e.read(2) // magic 42

	d := &exifDecoder{e: e, seenIFDs: map[string]bool{}, warnf: warnf}

	ifd0Offset := e.u32()
	if ifd0Offset < 8 {
		return d.tags, nil
	}
	e.seek(int(ifd0Offset))
	if err := d.decodeTags("IFD0"); err != nil {
		return d.tags, err
	}

	ifd1Offset := e.u32()
	if ifd1Offset != 0 {
		e.seek(int(ifd1Offset))
		if err := d.decodeTags("IFD1"); err != nil {
			return d.tags, err
		}
	}
	return d.tags, nil
}

type exifDecoder struct {
	e        *exifReader
	seenIFDs map[string]bool
	warnf    func(string, ...any)
	tags     []MetaTag
}

func (d *exifDecoder) decodeTags(namespace string) error {
	numTags := d.e.u16()
	for range numTags {
		if err := d.decodeTag(namespace); err != nil {
			return err
		}
	}
	return nil
}

func (d *exifDecoder) decodeTagsAt(namespace string, offset int) error {
	save := d.e.pos
	d.e.seek(offset)
	err := d.decodeTags(namespace)
	d.e.seek(save)
	return err
}

// A tag is 12 bytes: 2-byte ID, 2-byte type, 4-byte count, 4-byte
// value-or-offset.
func (d *exifDecoder) decodeTag(namespace string) error {
	tagID := d.e.u16()
	dataType := d.e.u16()
	count := d.e.u32()
	if count > 0x10000 {
		d.e.read(4)
		return nil
	}

	tagName := exifFieldsAll[tagID]
	if tagName == "" {
		tagName = fmt.Sprintf("Unknown0x%x", tagID)
	}
	if strings.Contains(tagName, " ") {
		tagName = strings.Split(tagName, " ")[0]
	}

	ifd, isIFDPointer := exifIFDPointers[tagID]
	if isIFDPointer {
		if d.seenIFDs[ifd] {
			d.e.read(4)
			return nil
		}
		d.seenIFDs[ifd] = true
	}

	typ := exifType(dataType)
	size, ok := exifTypeSize[typ]
	if !ok {
		d.e.read(4)
		return nil
	}
	valLen := size * count

	if tagID == xmpMarkerTag {
		offset := d.e.u32()
		if offset == 0 || int(offset)+int(valLen) > len(d.e.buf) {
			return nil
		}
		xmpTags, err := ParseXMPTags(d.e.buf[offset : offset+valLen])
		if err == nil {
			d.tags = append(d.tags, xmpTags...)
		} else if d.warnf != nil {
			d.warnf("embedded XMP: %v", err)
		}
		return nil
	}

	var val any
	if valLen > 4 {
		valueOffset := d.e.u32()
		save := d.e.pos
		d.e.seek(int(valueOffset))
		val = d.convertValues(typ, int(count), int(valLen))
		d.e.seek(save)
	} else {
		val = d.convertValues(typ, int(count), int(valLen))
		if padding := 4 - int(valLen); padding > 0 {
			d.e.read(padding)
		}
	}

	if isIFDPointer {
		offset, ok := val.(uint32)
		if !ok {
			return newError(ErrInvalidExifPayload, "invalid IFD pointer value")
		}
		return d.decodeTagsAt(path.Join(namespace, ifd), int(offset))
	}

	ctx := valueConverterContext{tagName: tagName, byteOrder: d.e, warnfFunc: d.warnf}
	if convert, found := exifValueConverterMap[tagName]; found {
		val = convert(ctx, val)
	} else {
		val = toPrintableValue(val)
	}
	if val == nil {
		val = ""
	}

	d.tags = append(d.tags, MetaTag{Source: "exif", Namespace: namespace, Tag: tagName, Value: val})
	return nil
}

func (d *exifDecoder) convertValue(typ exifType) any {
	switch typ {
	case exifTypeUnsignedByte1, exifTypeUndef1, exifTypeASCIIString1, exifTypeSignedByte1:
		return d.e.read(1)[0]
	case exifTypeUnsignedShort2, exifTypeSignedShort2:
		return d.e.u16()
	case exifTypeUnsignedLong4:
		return d.e.u32()
	case exifTypeUnsignedRat8:
		n, den := d.e.u32(), d.e.u32()
		if den == 0 {
			return undefValue
		}
		r, err := NewRat[uint32](n, den)
		if err != nil {
			return 0
		}
		return r
	case exifTypeSignedLong4:
		return int32(d.e.u32())
	case exifTypeSignedRat8:
		n, den := int32(d.e.u32()), int32(d.e.u32())
		r, err := NewRat[int32](n, den)
		if err != nil {
			return 0
		}
		return r
	case exifTypeSignedFloat4:
		v := math.Float32frombits(d.e.u32())
		if isUndefined(float64(v)) {
			return undefValue
		}
		return v
	case exifTypeSignedDouble8:
		hi, lo := d.e.u32(), d.e.u32()
		bits := uint64(hi)<<32 | uint64(lo)
		v := math.Float64frombits(bits)
		if isUndefined(v) {
			return undefValue
		}
		return v
	default:
		return nil
	}
}

func (d *exifDecoder) convertValues(typ exifType, count, byteLen int) any {
	if count == 0 {
		return nil
	}
	if typ == exifTypeASCIIString1 {
		b := d.e.read(byteLen)
		return string(trimBytesNulls(b[:min(count, len(b))]))
	}
	if count == 1 {
		return d.convertValue(typ)
	}

	values := make([]any, count)
	allBytes := true
	for i := range count {
		v := d.convertValue(typ)
		values[i] = v
		if _, ok := v.(byte); !ok {
			allBytes = false
		}
	}
	if allBytes {
		bs := make([]byte, count)
		for i, v := range values {
			bs[i] = v.(byte)
		}
		return bs
	}
	return values
}
