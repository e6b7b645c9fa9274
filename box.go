package avif

// maxBoxDepth bounds box recursion so an adversarial file with deeply nested
// containers can't blow the stack; §4.C requires a default cap of 32.
const maxBoxDepth = 32

// boxHeader describes one ISOBMFF box: its 4-byte type and the bounds of its
// body within the reader it was parsed from.
type boxHeader struct {
	Type     fourCC
	HeaderLen int
	BodyLen   int // -1 means "extends to the end of the parent"
}

// readBoxHeader reads one box header (size + type, with the size==1 64-bit
// extension and size==0 "runs to container end" cases) from r, which must be
// positioned at the start of the box. It returns the header and a body
// reader bounds-capped to the box's declared length.
func readBoxHeader(r *reader) (boxHeader, *reader, error) {
	start := r.position()
	size32, err := r.u32()
	if err != nil {
		return boxHeader{}, nil, err
	}
	var typ fourCC
	tb, err := r.bytes(4)
	if err != nil {
		return boxHeader{}, nil, err
	}
	copy(typ[:], tb)

	var totalSize int64
	headerLen := 8
	switch size32 {
	case 0:
		totalSize = -1 // runs to end of parent
	case 1:
		ext, err := r.u64()
		if err != nil {
			return boxHeader{}, nil, err
		}
		totalSize = int64(ext)
		headerLen = 16
	default:
		totalSize = int64(size32)
	}

	if totalSize >= 0 {
		if totalSize < int64(headerLen) {
			return boxHeader{}, nil, newErrorf(ErrBmffParseFailed, "box %q has size %d smaller than its header", typ, totalSize)
		}
		bodyLen := int(totalSize) - headerLen
		if bodyLen > r.len() {
			return boxHeader{}, nil, newErrorf(ErrBmffParseFailed, "box %q declares size %d past parent bounds", typ, totalSize)
		}
		body, err := r.sub(bodyLen)
		if err != nil {
			return boxHeader{}, nil, err
		}
		return boxHeader{Type: typ, HeaderLen: headerLen, BodyLen: bodyLen}, body, nil
	}

	// size == 0: body is everything left in the parent.
	body := r.rest()
	r.pos = len(r.buf)
	_ = start
	return boxHeader{Type: typ, HeaderLen: headerLen, BodyLen: -1}, body, nil
}

// boxVisitor is called once per top-level child box encountered by
// walkBoxes. Returning an error aborts the walk.
type boxVisitor func(h boxHeader, body *reader) error

// walkBoxes iterates the sibling boxes in r (which must be positioned at the
// start of a box sequence) until r is exhausted, dispatching each to visit.
// depth is the current container nesting depth; walkBoxes itself does not
// recurse — callers recurse into container boxes from within visit — but it
// enforces the cap so every call site gets the same guard.
func walkBoxes(r *reader, depth int, visit boxVisitor) error {
	if depth > maxBoxDepth {
		return newError(ErrBmffParseFailed, "box recursion depth exceeded")
	}
	for r.len() > 0 {
		if r.len() < 8 {
			return newError(ErrTruncatedData, "trailing bytes too short for a box header")
		}
		h, body, err := readBoxHeader(r)
		if err != nil {
			return err
		}
		if err := visit(h, body); err != nil {
			return err
		}
	}
	return nil
}

// findBox scans the sibling boxes in r for the first one of type want,
// returning its body reader. Other boxes are skipped. It does not modify r
// itself; callers that need to continue scanning should pass a fresh reader
// over the remaining bytes. depth is r's nesting level, passed through to
// walkBoxes so the recursion cap sees the real depth.
func findBox(r *reader, want fourCC, depth int) (*reader, bool, error) {
	var found *reader
	err := walkBoxes(r, depth, func(h boxHeader, body *reader) error {
		if found == nil && h.Type == want {
			found = body
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// collectBoxes scans the sibling boxes in r and returns the bodies of every
// occurrence of want, in order. depth is r's nesting level; see findBox.
func collectBoxes(r *reader, want fourCC, depth int) ([]*reader, error) {
	var out []*reader
	err := walkBoxes(r, depth, func(h boxHeader, body *reader) error {
		if h.Type == want {
			out = append(out, body)
		}
		return nil
	})
	return out, err
}
