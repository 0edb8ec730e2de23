package goavif

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

const exifItemType = "Exif"

// ExifItem resolves the raw bytes of an "Exif"-typed item, if one exists.
// HEIF/AVIF Exif items (ISO 23008-12 Annex A) carry a 4-byte big-endian
// offset prefix before the TIFF header; it is stripped here the way the
// teacher's EXIF() method strips it.
func (p *Parser) ExifItem() (Data, bool, error) {
	for _, it := range p.meta.Items {
		if !it.ItemType.EqualString(exifItemType) {
			continue
		}
		d, err := p.resolveItem(it.ItemID)
		if err != nil {
			return Data{}, false, err
		}
		b := d.Bytes()
		if len(b) < 4 {
			return Data{}, false, invalidDataf("exif item too short")
		}
		offset := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
		if offset < 0 || 4+offset > len(b) {
			return Data{}, false, invalidDataf("exif item TIFF offset out of range")
		}
		stripped := b[4+offset:]
		if d.Owned() {
			return ownedData(stripped), true, nil
		}
		return borrowedData(stripped), true, nil
	}
	return Data{}, false, nil
}

// ExifTags decodes the Exif item (if any) with goexif and returns its
// tags as name -> formatted-value pairs, for callers that want structured
// metadata instead of raw TIFF bytes.
func (p *Parser) ExifTags() (map[string]string, error) {
	d, ok, err := p.ExifItem()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	x, err := exif.Decode(bytes.NewReader(d.Bytes()))
	if err != nil {
		return nil, unsupportedf("exif decode failed: %v", err)
	}
	tags := make(tagCollector)
	if err := x.Walk(tags); err != nil {
		return nil, unsupportedf("exif walk failed: %v", err)
	}
	return tags, nil
}

type tagCollector map[string]string

func (t tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	t[string(name)] = tag.String()
	return nil
}
