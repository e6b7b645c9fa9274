package avif

import "encoding/binary"

// boxWriter accumulates bytes for one box body, buffering children so their
// total length can be patched into a 32-bit size prefix once known — the
// write-side mirror of reader.go's bounds-checked reader.
type boxWriter struct {
	buf []byte
}

func newBoxWriter() *boxWriter { return &boxWriter{} }

func (w *boxWriter) Bytes() []byte { return w.buf }

func (w *boxWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *boxWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *boxWriter) u24(v uint32) {
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}

func (w *boxWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *boxWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *boxWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *boxWriter) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *boxWriter) fourcc(s string) { w.raw(fcc(s).bytes()) }

func (w *boxWriter) fullBoxHeader(version uint8, flags uint32) {
	w.u8(version)
	w.u24(flags)
}

func (w *boxWriter) cstring(s string) {
	w.raw([]byte(s))
	w.u8(0)
}

// box wraps body with a standard 32-bit-size + fourCC header. If body would
// overflow a 32-bit size (never happens for this encoder's own output but
// kept honest for large mdat payloads), it falls back to the size==1
// extended-size form.
func box(typ string, body []byte) []byte {
	total := uint64(len(body)) + 8
	w := newBoxWriter()
	if total <= 0xffffffff {
		w.u32(uint32(total))
		w.fourcc(typ)
	} else {
		w.u32(1)
		w.fourcc(typ)
		w.u64(total + 8)
	}
	w.raw(body)
	return w.Bytes()
}

func fullBox(typ string, version uint8, flags uint32, body []byte) []byte {
	w := newBoxWriter()
	w.fullBoxHeader(version, flags)
	w.raw(body)
	return box(typ, w.Bytes())
}

func concatBoxes(boxes ...[]byte) []byte {
	var out []byte
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}
