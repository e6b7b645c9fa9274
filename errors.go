package avif

import "fmt"

// ErrorCode is the stable, uint32-backed result code every public operation
// returns on failure. Values and names mirror the taxonomy in §6.3/§7: each
// constant's String() is the lower_snake_case wire name.
type ErrorCode uint32

const (
	ErrOK ErrorCode = iota
	ErrUnknownError
	ErrInvalidFtyp
	ErrNoContent
	ErrNoYUVFormatSelected
	ErrReformatFailed
	ErrUnsupportedDepth
	ErrEncodeColorFailed
	ErrEncodeAlphaFailed
	ErrBmffParseFailed
	ErrMissingImageItem
	ErrDecodeColorFailed
	ErrDecodeAlphaFailed
	ErrColorAlphaSizeMismatch
	ErrIspeSizeMismatch
	ErrNoCodecAvailable
	ErrNoImagesRemaining
	ErrInvalidExifPayload
	ErrInvalidImageGrid
	ErrInvalidCodecSpecificOption
	ErrTruncatedData
	ErrIONotSet
	ErrIOError
	ErrWaitingOnIO
	ErrInvalidArgument
	ErrNotImplemented
	ErrOutOfMemory
	ErrCannotChangeSetting
	ErrIncompatibleImage
	ErrEncodeGainMapFailed
	ErrDecodeGainMapFailed
	ErrInvalidToneMappedImage
)

// errorCodeNames holds the wire names in the shape `stringer` would generate
// for this enum; hand-written here since the toolchain isn't run in this
// build.
var errorCodeNames = [...]string{
	"ok",
	"unknown_error",
	"invalid_ftyp",
	"no_content",
	"no_yuv_format_selected",
	"reformat_failed",
	"unsupported_depth",
	"encode_color_failed",
	"encode_alpha_failed",
	"bmff_parse_failed",
	"missing_image_item",
	"decode_color_failed",
	"decode_alpha_failed",
	"color_alpha_size_mismatch",
	"ispe_size_mismatch",
	"no_codec_available",
	"no_images_remaining",
	"invalid_exif_payload",
	"invalid_image_grid",
	"invalid_codec_specific_option",
	"truncated_data",
	"io_not_set",
	"io_error",
	"waiting_on_io",
	"invalid_argument",
	"not_implemented",
	"out_of_memory",
	"cannot_change_setting",
	"incompatible_image",
	"encode_gain_map_failed",
	"decode_gain_map_failed",
	"invalid_tone_mapped_image",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", c)
}

// Error is the error type every public operation returns. It carries a
// stable Code plus a human-readable Message, the way the teacher's
// InvalidFormatError wraps a single underlying error, generalized to the
// full taxonomy of §7.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same Code, so callers can
// write errors.Is(err, avif.ErrNoImagesRemaining) against a sentinel built
// with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, msg string) error {
	return &Error{Code: code, Message: msg}
}

func newErrorf(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err: ErrOK if err is nil, and
// ErrUnknownError if err is not an *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrUnknownError
}

// diagnostics is a small, fixed-size ring of warning strings recorded when a
// non-essential property or box fails to parse. It never grows unbounded:
// once full, the oldest entry is evicted — mirroring the "fixed-size UTF-8
// diagnostics buffer" of §7.
type diagnostics struct {
	entries []string
	max     int
}

const defaultDiagnosticsCap = 64

func newDiagnostics() *diagnostics {
	return &diagnostics{max: defaultDiagnosticsCap}
}

func (d *diagnostics) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if len(d.entries) >= d.max {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, msg)
}

// Entries returns a snapshot of recorded warnings, oldest first.
func (d *diagnostics) Entries() []string {
	out := make([]string, len(d.entries))
	copy(out, d.entries)
	return out
}
