package goavif

import (
	"sort"

	"github.com/jdeng/goavif/bmff"
	"github.com/jdeng/goavif/resource"
)

// GridConfig is a grid item's composition: rows*columns tiles laid out
// row-major, composing to an output_width x output_height image.
// OutputWidth/OutputHeight may be 0, meaning the caller must compute the
// displayed size from the tiles itself.
type GridConfig struct {
	Rows, Columns             uint8
	OutputWidth, OutputHeight uint32
}

// gridInfo is computed once at parse time when the primary item is a grid.
type gridInfo struct {
	config  GridConfig
	tileIDs []uint32
}

// buildGridInfo implements §4.6: collect dimg-referenced tiles in
// reference_index order, then resolve the grid's row/column/output
// configuration, preferring an explicit ImageGrid property and falling
// back to the ispe-derived computation.
func buildGridInfo(meta *bmff.Meta, primaryID uint32, tracker *resource.Tracker) (*gridInfo, error) {
	type tile struct {
		id  uint32
		idx uint16
	}
	var tiles []tile
	for _, ref := range meta.References {
		if ref.Type.EqualString("dimg") && ref.FromItemID == primaryID {
			tiles = append(tiles, tile{id: ref.ToItemID, idx: ref.ReferenceIndex})
		}
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].idx < tiles[j].idx })

	if err := tracker.ValidateGridTiles(uint64(len(tiles))); err != nil {
		return nil, wrapResourceErr(err)
	}

	tileIDs := make([]uint32, len(tiles))
	for i, t := range tiles {
		tileIDs[i] = t.id
	}

	if prop := findAssociatedProperty(meta, primaryID, bmff.PropertyImageGrid); prop != nil {
		cfg := GridConfig{
			Rows:         prop.Rows,
			Columns:      prop.Columns,
			OutputWidth:  prop.OutputWidth,
			OutputHeight: prop.OutputHeight,
		}
		if err := validateGridMegapixels(tracker, cfg); err != nil {
			return nil, err
		}
		return &gridInfo{config: cfg, tileIDs: tileIDs}, nil
	}

	if len(tileIDs) == 0 {
		return &gridInfo{tileIDs: tileIDs}, nil
	}

	g := findAssociatedProperty(meta, primaryID, bmff.PropertyImageSpatialExtents)
	t := findAssociatedProperty(meta, tileIDs[0], bmff.PropertyImageSpatialExtents)
	if g != nil && t != nil && t.Width > 0 && t.Height > 0 &&
		g.Width%t.Width == 0 && g.Height%t.Height == 0 {
		cols := g.Width / t.Width
		rows := g.Height / t.Height
		if cols <= 255 && rows <= 255 {
			cfg := GridConfig{
				Rows:         uint8(rows),
				Columns:      uint8(cols),
				OutputWidth:  g.Width,
				OutputHeight: g.Height,
			}
			if err := validateGridMegapixels(tracker, cfg); err != nil {
				return nil, err
			}
			return &gridInfo{config: cfg, tileIDs: tileIDs}, nil
		}
	}

	rows := len(tileIDs)
	if rows > 255 {
		rows = 255
	}
	return &gridInfo{
		config:  GridConfig{Rows: uint8(rows), Columns: 1},
		tileIDs: tileIDs,
	}, nil
}

// validateGridMegapixels guards a grid's declared output dimensions
// against the configured total-megapixels quota, per spec.md's "guard on
// grid output dimensions" rule. A grid with no known output size (either
// dimension zero) has nothing to validate yet.
func validateGridMegapixels(tracker *resource.Tracker, cfg GridConfig) error {
	if cfg.OutputWidth == 0 || cfg.OutputHeight == 0 {
		return nil
	}
	if err := tracker.ValidateMegapixels(cfg.OutputWidth, cfg.OutputHeight); err != nil {
		return wrapResourceErr(err)
	}
	return nil
}

// findAssociatedProperty returns the first property of kind associated
// with itemID, or nil.
func findAssociatedProperty(meta *bmff.Meta, itemID uint32, kind bmff.PropertyKind) *bmff.Property {
	for _, assoc := range meta.Associations {
		if assoc.ItemID != itemID {
			continue
		}
		idx := assoc.PropertyIdx - 1
		if idx < 0 || idx >= len(meta.Properties) {
			continue
		}
		if meta.Properties[idx].Kind == kind {
			return &meta.Properties[idx]
		}
	}
	return nil
}

// GridConfig returns the primary item's grid configuration, if it is a
// grid item.
func (p *Parser) GridConfig() (GridConfig, bool) {
	if p.grid == nil {
		return GridConfig{}, false
	}
	return p.grid.config, true
}

// TileCount returns the number of tiles in the primary grid item, or 0 if
// the primary item is not a grid.
func (p *Parser) TileCount() int {
	if p.grid == nil {
		return 0
	}
	return len(p.grid.tileIDs)
}

// TileData returns the i'th tile's resolved bytes, in dimg reference_index
// order.
func (p *Parser) TileData(i int) (Data, error) {
	if p.grid == nil {
		return Data{}, invalidDataf("primary item is not a grid")
	}
	if i < 0 || i >= len(p.grid.tileIDs) {
		return Data{}, invalidDataf("tile index %d out of range [0,%d)", i, len(p.grid.tileIDs))
	}
	return p.resolveItem(p.grid.tileIDs[i])
}
