package goavif

import "github.com/jdeng/goavif/bmff"

// alphaInfo is computed once at parse time per §4.7.
type alphaInfo struct {
	itemID        uint32
	premultiplied bool
}

// findAlphaItem implements §4.7: an item A is the alpha plane of primary
// when iref(auxl, from=A, to=primary) exists and A carries an auxC
// property whose URN names the alpha auxiliary type. premultiplied_alpha
// additionally requires iref(prem, from=primary, to=A).
func findAlphaItem(meta *bmff.Meta, primaryID uint32) *alphaInfo {
	for _, ref := range meta.References {
		if !ref.Type.EqualString("auxl") || ref.ToItemID != primaryID {
			continue
		}
		candidate := ref.FromItemID
		auxC := findAssociatedProperty(meta, candidate, bmff.PropertyAuxiliaryType)
		if auxC == nil || auxC.AuxURN != alphaAuxURN {
			continue
		}
		info := &alphaInfo{itemID: candidate}
		for _, pref := range meta.References {
			if pref.Type.EqualString("prem") && pref.FromItemID == primaryID && pref.ToItemID == candidate {
				info.premultiplied = true
				break
			}
		}
		return info
	}
	return nil
}

const alphaAuxURN = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"

// AlphaData returns the primary item's alpha-plane bytes, if an auxl/auxC
// alpha item was discovered.
func (p *Parser) AlphaData() (Data, bool, error) {
	if p.alpha == nil {
		return Data{}, false, nil
	}
	d, err := p.resolveItem(p.alpha.itemID)
	if err != nil {
		return Data{}, false, err
	}
	return d, true, nil
}

// PremultipliedAlpha reports whether the discovered still-image alpha
// item is marked premultiplied via a "prem" reference.
func (p *Parser) PremultipliedAlpha() bool {
	return p.alpha != nil && p.alpha.premultiplied
}
