package avif

import (
	"bytes"
	"encoding"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Rat is a rational number, used for gain-map metadata, clean-aperture
// arithmetic, and EXIF rational values — anywhere a numerator/denominator
// pair is kept instead of a float.
type Rat[T int32 | uint32] interface {
	Num() T
	Den() T
	Float64() float64
	String() string
}

var (
	_ encoding.TextUnmarshaler = (*rat[int32])(nil)
	_ encoding.TextMarshaler   = rat[int32]{}
)

// rat is a lightweight rational number, avoiding the allocation weight of
// math/big.Rat for the small numerators/denominators the container uses.
type rat[T int32 | uint32] struct {
	num T
	den T
}

func (r rat[T]) Num() T { return r.num }
func (r rat[T]) Den() T { return r.den }

func (r rat[T]) Float64() float64 {
	return float64(r.num) / float64(r.den)
}

func (r rat[T]) String() string {
	if r.den == 1 {
		return fmt.Sprintf("%d", r.num)
	}
	return fmt.Sprintf("%d/%d", r.num, r.den)
}

func (r rat[T]) Format(w fmt.State, v rune) {
	switch v {
	case 'f':
		fmt.Fprintf(w, "%f", r.Float64())
	default:
		fmt.Fprintf(w, "%s", r.String())
	}
}

func (r *rat[T]) UnmarshalText(text []byte) error {
	s := string(text)
	if !strings.Contains(s, "/") {
		num, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("failed to parse %q as a rational number: %w", s, err)
		}
		r.num = T(num)
		r.den = 1
		return nil
	}
	if _, err := fmt.Sscanf(s, "%d/%d", &r.num, &r.den); err != nil {
		return fmt.Errorf("failed to parse %q as a rational number: %w", s, err)
	}
	return nil
}

func (r rat[T]) MarshalText() (text []byte, err error) {
	return []byte(r.String()), nil
}

// NewRat returns a new Rat in lowest terms, with a positive denominator.
func NewRat[T int32 | uint32](num, den T) (Rat[T], error) {
	if den == 0 {
		return nil, fmt.Errorf("denominator must be non-zero")
	}

	gcd := func(a, b T) T {
		for b != 0 {
			a, b = b, a%b
		}
		return a
	}
	d := gcd(num, den)
	if d != 1 && d != 0 {
		num, den = num/d, den/d
	}

	if den < 0 {
		num, den = -num, -den
	}

	return &rat[T]{num: num, den: den}, nil
}

type float64Provider interface {
	Float64() float64
}

func isUndefined(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

func isASCII(s string) bool {
	for i := range len(s) {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func printableString(s string) string {
	ss := strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(ss)
}

func toPrintableValue(v any) any {
	switch vv := v.(type) {
	case string:
		return printableString(vv)
	case []byte:
		return printableString(string(trimBytesNulls(vv)))
	default:
		return v
	}
}

func toFloat64(v any) float64 {
	switch vv := v.(type) {
	case float64Provider:
		return vv.Float64()
	case float64:
		return vv
	default:
		return 0
	}
}

func trimBytesNulls(b []byte) []byte {
	var lo, hi int
	for lo = 0; lo < len(b) && b[lo] == 0; lo++ {
	}
	for hi = len(b) - 1; hi >= 0 && b[hi] == 0; hi-- {
	}
	if lo > hi {
		return nil
	}
	return b[lo : hi+1]
}

// vc groups the small set of EXIF/XMP value converters the metadata
// supplement needs (APEX, degrees, user comments, rational lists).
type vc struct{}

type valueConverterContext struct {
	tagName   string
	byteOrder byteOrderer
	warnfFunc func(string, ...any)
}

// byteOrderer is the minimal subset of encoding/binary.ByteOrder the value
// converters need, satisfied by *reader.
type byteOrderer interface {
	otherUint16(b []byte) uint16
}

func (ctx valueConverterContext) warnf(format string, args ...any) {
	if ctx.warnfFunc == nil {
		return
	}
	ctx.warnfFunc(ctx.tagName+": "+format, args...)
}

type valueConverter func(valueConverterContext, any) any

func (vc) convertAPEXToFNumber(ctx valueConverterContext, v any) any {
	r, ok := v.(float64Provider)
	if !ok {
		return 0
	}
	f := r.Float64()
	return math.Pow(2, f/2)
}

func (vc) convertAPEXToSeconds(ctx valueConverterContext, v any) any {
	r, ok := v.(float64Provider)
	if !ok {
		return 0
	}
	f := r.Float64()
	f = 1 / math.Pow(2, f)
	return f
}

func (c vc) convertBytesToStringDelimBy(ctx valueConverterContext, v any, delim string) any {
	bb, ok := v.([]byte)
	if !ok {
		ctx.warnf("expected []byte, got %T", v)
		return ""
	}
	var buff bytes.Buffer
	for i, b := range bb {
		if i > 0 {
			buff.WriteString(delim)
		}
		buff.WriteString(strconv.Itoa(int(b)))
	}
	return buff.String()
}

func (c vc) convertBytesToStringSpaceDelim(ctx valueConverterContext, v any) any {
	return c.convertBytesToStringDelimBy(ctx, v, " ")
}

func (c vc) convertDegreesToDecimal(ctx valueConverterContext, v any) any {
	d, err := c.toDegrees(v)
	if err != nil {
		ctx.warnf("failed to convert degrees to decimal: %v", err)
		return 0.0
	}
	return d
}

func (vc) convertNumbersToSpaceLimited(ctx valueConverterContext, v any) any {
	nums, ok := v.([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for i, n := range nums {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%d", n)
	}
	return sb.String()
}

func (c vc) convertBinaryData(ctx valueConverterContext, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return ""
	}
	return fmt.Sprintf("(Binary data %d bytes)", len(b))
}

func (c vc) convertRatsToSpaceLimited(ctx valueConverterContext, v any) any {
	nums, ok := v.([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for i, n := range nums {
		if i > 0 {
			sb.WriteString(" ")
		}
		var s string
		var f float64
		switch n := n.(type) {
		case string:
			s = n
		case float64Provider:
			f = n.Float64()
		case float64:
			f = n
		}
		if s == "" {
			if isUndefined(f) {
				s = "undef"
			} else {
				s = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		sb.WriteString(s)
	}
	return sb.String()
}

func (vc) convertStringToInt(ctx valueConverterContext, v any) any {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	s = printableString(s)
	i, _ := strconv.Atoi(s)
	return i
}

func (c vc) convertUserComment(ctx valueConverterContext, v any) any {
	b, ok := v.([]byte)
	if !ok {
		if text, ok := v.(string); ok {
			return text
		}
		return ""
	}
	if len(b) < 8 {
		return ""
	}
	id := string(b[:8])

	switch id {
	case "ASCII\x00\x00\x00":
		s := printableString(string(trimBytesNulls(b[8:])))
		if !isASCII(s) {
			return ""
		}
		return s
	case "UNICODE\x00":
		return printableString(string(trimBytesNulls(b[8:])))
	case "\x00\x00\x00\x00\x00\x00\x00\x00":
		s := string(trimBytesNulls(b[8:]))
		if !isASCIIOrUTF8(s) {
			return ""
		}
		return strings.TrimRight(s, " ")
	default:
		return ""
	}
}

func isASCIIOrUTF8(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}

func (vc) ratNum(v any) any {
	switch vv := v.(type) {
	case Rat[uint32]:
		return vv.Num()
	case Rat[int32]:
		return vv.Num()
	default:
		return 0
	}
}

func (c vc) convertToTimestampString(ctx valueConverterContext, v any) any {
	switch vv := v.(type) {
	case []any:
		if len(vv) != 3 {
			return ""
		}
		for i, v := range vv {
			vv[i] = c.ratNum(v)
		}
		s := fmt.Sprintf("%02d:%02d:%02d", vv...)
		if len(s) == 10 {
			s = s[:8] + "." + s[8:]
		}
		return s
	default:
		return ""
	}
}

func (vc) parseDegrees(s string) (float64, error) {
	if s == "" || s == "0100" {
		return 0, nil
	}
	var deg, minute, sec float64
	if _, err := fmt.Sscanf(s, "%f,%f,%f", &deg, &minute, &sec); err != nil {
		return 0, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	return deg + minute/60 + sec/3600, nil
}

func (c vc) toDegrees(v any) (float64, error) {
	switch v := v.(type) {
	case []any:
		if len(v) != 3 {
			return 0.0, fmt.Errorf("expected 3 values, got %d", len(v))
		}
		deg := toFloat64(v[0])
		minute := toFloat64(v[1])
		sec := toFloat64(v[2])
		return deg + minute/60 + sec/3600, nil
	case float64:
		return v, nil
	case string:
		return c.parseDegrees(v)
	case []byte:
		return c.parseDegrees(string(v))
	default:
		return 0.0, fmt.Errorf("unsupported degree type %T", v)
	}
}
