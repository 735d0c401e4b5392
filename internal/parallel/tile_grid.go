package parallel

// Tile describes one cell of an overlapping tile grid over an image of
// TileWidth x TileHeight "core" pixels, padded on each side by up to
// Overlap pixels (clamped at the image edges, per spec.md §4.11).
//
// TileID is the tile's row-major index (ty*TilesX+tx); merges across tiles
// (e.g. the pipeline's overlap-band blend) must combine in ascending
// TileID order to keep output independent of worker count (SPEC_FULL.md §5).
type Tile struct {
	TileID int
	TX, TY int

	// Core region: the non-overlapping area this tile is responsible for
	// writing, in source-image pixel coordinates.
	CoreX, CoreY, CoreW, CoreH int

	// Padded region: CoreX/Y/W/H expanded by the overlap on each side,
	// clamped to the image bounds. PadLeft/Top/Right/Bottom record how
	// much overlap actually survived clamping on each side.
	PadX, PadY, PadW, PadH               int
	PadLeft, PadTop, PadRight, PadBottom int
}

// Grid computes the deterministic set of overlapping tiles covering a
// width x height image with the given core tile size and symmetric
// overlap. Tiles are returned in row-major order; TileID matches that
// order, which is what makes per-tile processing reproducible regardless
// of how many goroutines ran it.
func Grid(width, height, tileW, tileH, overlap int) []Tile {
	if width <= 0 || height <= 0 || tileW <= 0 || tileH <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	tilesX := (width + tileW - 1) / tileW
	tilesY := (height + tileH - 1) / tileH

	tiles := make([]Tile, 0, tilesX*tilesY)
	id := 0
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			coreX := tx * tileW
			coreY := ty * tileH
			coreW := tileW
			if coreX+coreW > width {
				coreW = width - coreX
			}
			coreH := tileH
			if coreY+coreH > height {
				coreH = height - coreY
			}

			padLeft := overlap
			if coreX-padLeft < 0 {
				padLeft = coreX
			}
			padTop := overlap
			if coreY-padTop < 0 {
				padTop = coreY
			}
			padRight := overlap
			if coreX+coreW+padRight > width {
				padRight = width - (coreX + coreW)
			}
			padBottom := overlap
			if coreY+coreH+padBottom > height {
				padBottom = height - (coreY + coreH)
			}

			tiles = append(tiles, Tile{
				TileID: id,
				TX:     tx, TY: ty,
				CoreX: coreX, CoreY: coreY, CoreW: coreW, CoreH: coreH,
				PadX: coreX - padLeft, PadY: coreY - padTop,
				PadW: coreW + padLeft + padRight, PadH: coreH + padTop + padBottom,
				PadLeft: padLeft, PadTop: padTop, PadRight: padRight, PadBottom: padBottom,
			})
			id++
		}
	}
	return tiles
}

// OverlapWeight returns the linear-ramp blend weight for a pixel at
// (localX, localY) within this tile's padded crop, per spec.md §4.11:
// min(dx, dy, overlap-dx, overlap-dy)/overlap within the overlap band, 1.0
// in the core interior. localX/localY are offsets from the padded origin
// (PadX, PadY).
func (t Tile) OverlapWeight(localX, localY, overlap int) float64 {
	if overlap <= 0 {
		return 1.0
	}
	// Distance (in padded-crop coordinates) from each padded edge.
	distLeft := localX
	distTop := localY
	distRight := t.PadW - 1 - localX
	distBottom := t.PadH - 1 - localY

	// Only the sides that actually carry overlap (i.e. aren't clamped at
	// the image boundary) ramp; image-edge sides get full weight.
	w := 1.0
	if t.PadLeft > 0 && distLeft < t.PadLeft {
		w = minFloat(w, float64(distLeft)/float64(t.PadLeft))
	}
	if t.PadTop > 0 && distTop < t.PadTop {
		w = minFloat(w, float64(distTop)/float64(t.PadTop))
	}
	if t.PadRight > 0 && distRight < t.PadRight {
		w = minFloat(w, float64(distRight)/float64(t.PadRight))
	}
	if t.PadBottom > 0 && distBottom < t.PadBottom {
		w = minFloat(w, float64(distBottom)/float64(t.PadBottom))
	}
	if w < 0 {
		w = 0
	}
	return w
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
