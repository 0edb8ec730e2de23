package goavif

import "github.com/jdeng/goavif/obu"

// PrimaryMetadata parses the AV1 sequence header from the primary item's
// payload. A grid primary carries no AV1 payload of its own; inspect a
// tile's TileMetadata instead.
func (p *Parser) PrimaryMetadata() (obu.Metadata, error) {
	if p.grid != nil {
		return obu.Metadata{}, unsupportedf("primary item is a grid, has no AV1 payload")
	}
	d, err := p.PrimaryData()
	if err != nil {
		return obu.Metadata{}, err
	}
	return parseAV1Metadata(d.Bytes())
}

// AlphaMetadata parses the AV1 sequence header from the discovered alpha
// item's payload, if any.
func (p *Parser) AlphaMetadata() (obu.Metadata, bool, error) {
	d, ok, err := p.AlphaData()
	if err != nil || !ok {
		return obu.Metadata{}, ok, err
	}
	m, err := parseAV1Metadata(d.Bytes())
	if err != nil {
		return obu.Metadata{}, true, err
	}
	return m, true, nil
}

// TileMetadata parses the AV1 sequence header from tile i's payload.
func (p *Parser) TileMetadata(i int) (obu.Metadata, error) {
	d, err := p.TileData(i)
	if err != nil {
		return obu.Metadata{}, err
	}
	return parseAV1Metadata(d.Bytes())
}

func parseAV1Metadata(data []byte) (obu.Metadata, error) {
	m, err := obu.ParseSequenceHeader(data)
	if err != nil {
		return obu.Metadata{}, invalidDataf("obu: %v", err)
	}
	return m, nil
}
