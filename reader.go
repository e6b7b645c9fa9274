package avif

import "encoding/binary"

// fourCC is a 4-byte box or item type code, e.g. "ftyp", "av01", "grid".
type fourCC [4]byte

func (f fourCC) String() string { return string(f[:]) }

// bytes returns f's 4 bytes as a slice; fourCC is a value type so a bare
// f[:] on a function result isn't addressable, but a method's receiver copy
// is.
func (f fourCC) bytes() []byte {
	b := f
	return b[:]
}

func fcc(s string) fourCC {
	var f fourCC
	copy(f[:], s)
	return f
}

// reader is a forward-or-random-access cursor over a borrowed byte slice.
// Every read is bounds-checked against the slice it was constructed over, so
// a box body can never read past its declared length. Unlike a cursor built
// over an io.ReadSeeker, this one works directly against a resolved byte
// range, since AVIF item/box bodies are bounds-known extents, not an
// open-ended stream.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) otherUint16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// len returns the number of unread bytes remaining.
func (r *reader) len() int { return len(r.buf) - r.pos }

// position reports the current offset into the underlying slice.
func (r *reader) position() int { return r.pos }

// seek repositions the cursor to an absolute offset within bounds.
func (r *reader) seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return newError(ErrTruncatedData, "seek out of range")
	}
	r.pos = pos
	return nil
}

func (r *reader) skip(n int) error {
	return r.seek(r.pos + n)
}

func (r *reader) require(n int) error {
	if n < 0 || r.len() < n {
		return newError(ErrTruncatedData, "unexpected end of data")
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u24() (uint32, error) {
	b, err := r.bytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// fixed16_16 reads a 16.16 fixed-point value (e.g. mvhd rate, pasp-adjacent
// matrix entries) and returns it as a float64.
func (r *reader) fixed16_16() (float64, error) {
	v, err := r.i32()
	if err != nil {
		return 0, err
	}
	return float64(v) / 65536.0, nil
}

// fixed2_30 reads a 2.30 fixed-point matrix entry.
func (r *reader) fixed2_30() (float64, error) {
	v, err := r.i32()
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(1<<30), nil
}

// uuid reads a 16-byte UUID verbatim.
func (r *reader) uuid() ([16]byte, error) {
	var u [16]byte
	b, err := r.bytes(16)
	if err != nil {
		return u, err
	}
	copy(u[:], b)
	return u, nil
}

// cstring reads a null-terminated UTF-8 string, never scanning past max
// bytes (guarding against adversarial input with no terminator).
func (r *reader) cstring(max int) (string, error) {
	if max > r.len() {
		max = r.len()
	}
	for i := range max {
		if r.buf[r.pos+i] == 0 {
			s := string(r.buf[r.pos : r.pos+i])
			r.pos += i + 1
			return s, nil
		}
	}
	return "", newError(ErrTruncatedData, "unterminated string")
}

// fullBoxHeader reads the 1-byte version + 3-byte flags pair common to every
// ISOBMFF FullBox.
func (r *reader) fullBoxHeader() (version uint8, flags uint32, err error) {
	version, err = r.u8()
	if err != nil {
		return 0, 0, err
	}
	flags, err = r.u24()
	if err != nil {
		return 0, 0, err
	}
	return version, flags, nil
}

// sub returns a bounds-capped reader over the next n bytes, advancing this
// reader past them, so a child parser cannot read past its declared box
// length regardless of what it does with its own cursor.
func (r *reader) sub(n int) (*reader, error) {
	b, err := r.bytes(n)
	if err != nil {
		return nil, err
	}
	return newReader(b), nil
}

// rest returns a reader over all remaining bytes without consuming them from r.
func (r *reader) rest() *reader {
	return newReader(r.buf[r.pos:])
}
