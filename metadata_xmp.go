package avif

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MetaTag is one structured tag surfaced by ParseExifTags/ParseXMPTags, the
// supplemental metadata API of §6: the container decoder extracts Exif/XMP
// byte-exact but doesn't interpret them on the automatic decode path, so a
// caller that wants individual tags opts in explicitly.
type MetaTag struct {
	Source    string // "exif" or "xmp"
	Namespace string
	Tag       string
	Value     any
}

var xmpSkipNamespaces = map[string]bool{
	"xmlns": true,
	"http://www.w3.org/1999/02/22-rdf-syntax-ns#": true,
	"http://purl.org/dc/elements/1.1/":            true,
}

type rdf struct {
	XMLName      xml.Name
	Descriptions []rdfDescription `xml:"Description"`
}

// rdfDescription only models the common subset of XMP that appears in
// camera/image-editor output; exotic custom schemas surface as raw
// attribute tags instead.
type rdfDescription struct {
	XMLName   xml.Name
	Attrs     []xml.Attr `xml:",any,attr"`
	Creator   seqList    `xml:"creator"`
	Publisher bagList    `xml:"publisher"`
	Subject   bagList    `xml:"subject"`
	Rights    altList    `xml:"rights"`

	GPSLatitude    string `xml:"GPSLatitude"`
	GPSLongitude   string `xml:"GPSLongitude"`
	GPSAltitude    string `xml:"GPSAltitude"`
	GPSAltitudeRef string `xml:"GPSAltitudeRef"`
}

type altList struct {
	XMLName xml.Name
	Alt     struct {
		Items []string `xml:"li"`
	} `xml:"Alt"`
}

type seqList struct {
	XMLName xml.Name
	Seq     struct {
		Items []string `xml:"li"`
	} `xml:"Seq"`
}

type bagList struct {
	XMLName xml.Name
	Bag     struct {
		Items []string `xml:"li"`
	} `xml:"Bag"`
}

type xmpmeta struct {
	XMLName xml.Name
	RDF     rdf `xml:"RDF"`
}

// ParseXMPTags decodes an RDF/XMP packet (the byte-exact buffer a Decoder
// attaches to Image.XMP) into a flat tag list.
func ParseXMPTags(data []byte) ([]MetaTag, error) {
	var meta xmpmeta
	if err := xml.Unmarshal(data, &meta); err != nil {
		return nil, newErrorf(ErrInvalidExifPayload, "decoding XMP: %v", err)
	}

	var tags []MetaTag
	for _, desc := range meta.RDF.Descriptions {
		for _, attr := range desc.Attrs {
			if xmpSkipNamespaces[attr.Name.Space] {
				continue
			}
			tags = append(tags, MetaTag{Source: "xmp", Namespace: attr.Name.Space, Tag: firstUpper(attr.Name.Local), Value: attr.Value})
		}

		tags = append(tags, childElementTags(desc.Creator.XMLName, desc.Creator.Seq.Items)...)
		tags = append(tags, childElementTags(desc.Publisher.XMLName, desc.Publisher.Bag.Items)...)
		tags = append(tags, childElementTags(desc.Subject.XMLName, desc.Subject.Bag.Items)...)
		tags = append(tags, childElementTags(desc.Rights.XMLName, desc.Rights.Alt.Items)...)

		if desc.GPSLatitude != "" {
			if lat, err := parseXMPGPSCoordinate(desc.GPSLatitude); err == nil {
				tags = append(tags, gpsTag("GPSLatitude", lat))
			}
		}
		if desc.GPSLongitude != "" {
			if long, err := parseXMPGPSCoordinate(desc.GPSLongitude); err == nil {
				tags = append(tags, gpsTag("GPSLongitude", long))
			}
		}
	}
	return tags, nil
}

func childElementTags(name xml.Name, items []string) []MetaTag {
	if len(items) == 0 || name.Local == "" {
		return nil
	}
	var v any = items
	if len(items) == 1 {
		v = items[0]
	}
	return []MetaTag{{Source: "xmp", Namespace: name.Space, Tag: firstUpper(name.Local), Value: v}}
}

func firstUpper(s string) string {
	if s == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

func gpsTag(tag string, value float64) MetaTag {
	return MetaTag{Source: "xmp", Namespace: "http://ns.adobe.com/exif/1.0/", Tag: tag, Value: value}
}

// parseXMPGPSCoordinate parses GPS coordinates from XMP format: DMS with
// direction ("26,34.951N"), decimal with direction ("26.5825N"), or pure
// decimal ("-80.2002").
func parseXMPGPSCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty coordinate")
	}

	var negative bool
	lastChar := s[len(s)-1]
	switch lastChar {
	case 'S', 's', 'W', 'w':
		negative = true
		s = s[:len(s)-1]
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	}

	var degrees float64
	if idx := strings.Index(s, ","); idx != -1 {
		degStr, minStr := s[:idx], s[idx+1:]
		deg, err := strconv.ParseFloat(degStr, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing degrees: %w", err)
		}
		min, err := strconv.ParseFloat(minStr, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing minutes: %w", err)
		}
		degrees = deg + min/60.0
	} else {
		var err error
		degrees, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing decimal: %w", err)
		}
	}

	if negative {
		degrees = -degrees
	}
	return degrees, nil
}
