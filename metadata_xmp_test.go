package avif

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseXMPTagsAttributesAndLists(t *testing.T) {
	c := qt.New(t)
	data := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/">
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
<rdf:Description xmlns:test="http://ns.test.com/1.0/" xmlns:dc="http://purl.org/dc/elements/1.1/" test:Rating="5">
<dc:creator><rdf:Seq><rdf:li>Jane Doe</rdf:li></rdf:Seq></dc:creator>
<dc:subject><rdf:Bag><rdf:li>sunset</rdf:li><rdf:li>beach</rdf:li></rdf:Bag></dc:subject>
</rdf:Description>
</rdf:RDF>
</x:xmpmeta>`)

	tags, err := ParseXMPTags(data)
	c.Assert(err, qt.IsNil)

	byTag := map[string]MetaTag{}
	for _, tag := range tags {
		byTag[tag.Tag] = tag
	}

	rating, ok := byTag["Rating"]
	c.Assert(ok, qt.IsTrue)
	c.Assert(rating.Namespace, qt.Equals, "http://ns.test.com/1.0/")
	c.Assert(rating.Value, qt.Equals, "5")

	creator, ok := byTag["Creator"]
	c.Assert(ok, qt.IsTrue)
	c.Assert(creator.Value, qt.Equals, "Jane Doe")

	subject, ok := byTag["Subject"]
	c.Assert(ok, qt.IsTrue)
	c.Assert(subject.Value, qt.DeepEquals, []string{"sunset", "beach"})
}

func TestParseXMPTagsSkipsKnownNamespaces(t *testing.T) {
	c := qt.New(t)
	data := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/">
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
<rdf:Description xmlns:dc="http://purl.org/dc/elements/1.1/" dc:format="image/avif"></rdf:Description>
</rdf:RDF>
</x:xmpmeta>`)

	tags, err := ParseXMPTags(data)
	c.Assert(err, qt.IsNil)
	c.Assert(tags, qt.IsNil)
}

func TestParseXMPTagsGPSCoordinates(t *testing.T) {
	c := qt.New(t)
	data := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/">
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
<rdf:Description><GPSLatitude>26,34.951N</GPSLatitude><GPSLongitude>-80.2002</GPSLongitude></rdf:Description>
</rdf:RDF>
</x:xmpmeta>`)

	tags, err := ParseXMPTags(data)
	c.Assert(err, qt.IsNil)

	byTag := map[string]MetaTag{}
	for _, tag := range tags {
		byTag[tag.Tag] = tag
	}

	lat, ok := byTag["GPSLatitude"]
	c.Assert(ok, qt.IsTrue)
	c.Assert(lat.Namespace, qt.Equals, "http://ns.adobe.com/exif/1.0/")
	c.Assert(lat.Value, qt.Equals, 26.0+34.951/60.0)

	long, ok := byTag["GPSLongitude"]
	c.Assert(ok, qt.IsTrue)
	c.Assert(long.Value, qt.Equals, -80.2002)
}

func TestParseXMPTagsInvalidXML(t *testing.T) {
	c := qt.New(t)
	_, err := ParseXMPTags([]byte("not xml"))
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(CodeOf(err), qt.Equals, ErrInvalidExifPayload)
}

func TestParseXMPGPSCoordinateForms(t *testing.T) {
	c := qt.New(t)

	dms, err := parseXMPGPSCoordinate("26,34.951N")
	c.Assert(err, qt.IsNil)
	c.Assert(dms, qt.Equals, 26.0+34.951/60.0)

	dmsNeg, err := parseXMPGPSCoordinate("26,34.951W")
	c.Assert(err, qt.IsNil)
	c.Assert(dmsNeg, qt.Equals, -(26.0 + 34.951/60.0))

	decimal, err := parseXMPGPSCoordinate("26.5825N")
	c.Assert(err, qt.IsNil)
	c.Assert(decimal, qt.Equals, 26.5825)

	pureDecimal, err := parseXMPGPSCoordinate("-80.2002")
	c.Assert(err, qt.IsNil)
	c.Assert(pureDecimal, qt.Equals, -80.2002)

	_, err = parseXMPGPSCoordinate("")
	c.Assert(err, qt.Not(qt.IsNil))

	_, err = parseXMPGPSCoordinate("not,a,number")
	c.Assert(err, qt.Not(qt.IsNil))
}
