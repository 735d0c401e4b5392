// Package tilealign implements the coarse-to-fine tile-based translational
// aligner of spec.md §4.4: a pyramidal SAD block matcher that produces a
// per-tile MotionField against a pre-set reference frame.
package tilealign

import (
	"math"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/internal/pyramid"
)

// Config holds the tunables named in spec.md §6 "Alignment".
type Config struct {
	TileSize            int
	SearchRadius        int
	PyramidLevels       int
	ConfidenceThreshold float64
	UseSubpixel         bool
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		TileSize:            16,
		SearchRadius:        16,
		PyramidLevels:       4,
		ConfidenceThreshold: 0.5,
		UseSubpixel:         false,
	}
}

// Aligner holds a configured reference pyramid; SetReference must be
// called before Align. The reference pyramid is read-only for the
// lifetime of a burst, per SPEC_FULL.md §5 shared-resource policy.
type Aligner struct {
	cfg        Config
	refPyramid *pyramid.GaussianPyramid
	tilesX     int
	tilesY     int
	refW, refH int
}

// New creates an Aligner with the given configuration.
func New(cfg Config) *Aligner {
	return &Aligner{cfg: cfg}
}

// SetReference builds the reference's Gaussian pyramid and the tile grid
// geometry, replacing any previously configured reference.
func (a *Aligner) SetReference(ref *mfsr.GrayBuffer) {
	a.refPyramid = pyramid.BuildGaussian(ref, a.cfg.PyramidLevels)
	mf := mfsr.NewMotionField(ref.Width(), ref.Height(), a.cfg.TileSize)
	a.tilesX, a.tilesY = mf.TilesX, mf.TilesY
	a.refW, a.refH = ref.Width(), ref.Height()
}

type tileStats struct {
	dx, dy            int
	minSAD, secondSAD float64
}

// Align matches target against the configured reference and returns the
// resulting FrameAlignment, with motion in level-0 (original-resolution)
// pixel units, per spec.md §4.4.
func (a *Aligner) Align(target *mfsr.GrayBuffer) mfsr.FrameAlignment {
	levels := len(a.refPyramid.Levels)
	targetPyramid := pyramid.BuildGaussian(target, levels)

	n := a.tilesX * a.tilesY
	curDX := make([]float64, n)
	curDY := make([]float64, n)
	stats := make([]tileStats, n)

	for level := levels - 1; level >= 0; level-- {
		scale := 1 << level
		refL := a.refPyramid.Levels[level]
		tgtL := targetPyramid.Levels[level]
		tileSizeL := a.cfg.TileSize / scale
		if tileSizeL < 1 {
			tileSizeL = 1
		}

		for ty := 0; ty < a.tilesY; ty++ {
			for tx := 0; tx < a.tilesX; tx++ {
				idx := ty*a.tilesX + tx
				cx := (tx*a.cfg.TileSize + a.cfg.TileSize/2) / scale
				cy := (ty*a.cfg.TileSize + a.cfg.TileSize/2) / scale

				initDX, initDY := curDX[idx], curDY[idx]
				bestDX, bestDY, minSAD, secondSAD := searchSAD(refL, tgtL, cx, cy, tileSizeL, initDX, initDY, a.cfg.SearchRadius)

				curDX[idx] = initDX + float64(bestDX)
				curDY[idx] = initDY + float64(bestDY)
				if level == 0 {
					stats[idx] = tileStats{dx: bestDX, dy: bestDY, minSAD: minSAD, secondSAD: secondSAD}
				}
			}
		}

		if level > 0 {
			for i := range curDX {
				curDX[i] *= 2
				curDY[i] *= 2
			}
		}
	}

	if a.cfg.UseSubpixel {
		refineSubpixel(a.refPyramid.Levels[0], targetPyramid.Levels[0], a, curDX, curDY)
	}

	field := &mfsr.MotionField{TilesX: a.tilesX, TilesY: a.tilesY, TileSize: a.cfg.TileSize, Vectors: make([]mfsr.MotionVector, n)}
	var sumConf float64
	var highConf int
	var sumDX, sumDY float64
	for i := 0; i < n; i++ {
		field.Vectors[i] = mfsr.MotionVector{DX: curDX[i], DY: curDY[i]}
		conf := tileConfidence(stats[i])
		sumConf += conf
		if conf > a.cfg.ConfidenceThreshold {
			highConf++
		}
		sumDX += curDX[i]
		sumDY += curDY[i]
	}

	avgConf := 0.0
	if n > 0 {
		avgConf = sumConf / float64(n)
	}
	valid := n > 0 && float64(highConf)/float64(n) >= 0.5

	return mfsr.FrameAlignment{
		MotionField:   field,
		AverageMotion: mfsr.MotionVector{DX: sumDX / float64(n), DY: sumDY / float64(n)},
		Confidence:    avgConf,
		Valid:         valid,
	}
}

// tileConfidence implements spec.md §4.4: 1 - min_SAD/second_min_SAD.
func tileConfidence(s tileStats) float64 {
	if s.secondSAD <= 0 {
		if s.minSAD <= 0 {
			return 1
		}
		return 0
	}
	c := 1 - s.minSAD/s.secondSAD
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// searchSAD finds the integer (ddx, ddy) within +/-radius of (initDX,initDY)
// that minimizes SAD over a tileSize x tileSize window centered at (cx,cy),
// tie-broken on the total displacement (dx,dy) = init + (ddx,ddy) by
// smallest |dx|+|dy|, then smallest dy, then smallest dx, per spec.md §4.4.
func searchSAD(ref, tgt *mfsr.GrayBuffer, cx, cy, tileSize int, initDX, initDY float64, radius int) (bestDX, bestDY int, minSAD, secondSAD float64) {
	half := tileSize / 2
	minSAD = math.Inf(1)
	secondSAD = math.Inf(1)
	bestDX, bestDY = 0, 0
	bestSet := false

	for ddy := -radius; ddy <= radius; ddy++ {
		for ddx := -radius; ddx <= radius; ddx++ {
			sad := 0.0
			for wy := -half; wy < tileSize-half; wy++ {
				ry := cy + wy
				for wx := -half; wx < tileSize-half; wx++ {
					rx := cx + wx
					// target(x,y) ~= reference(x+dx,y+dy): hold the target
					// window fixed and search the reference window shifted
					// by the candidate displacement.
					baseline := float64(tgt.AtClamped(rx, ry))
					shifted := float64(ref.AtClamped(rx+int(initDX)+ddx, ry+int(initDY)+ddy))
					d := baseline - shifted
					if d < 0 {
						d = -d
					}
					sad += d
				}
			}

			if sad < minSAD {
				secondSAD = minSAD
				minSAD = sad
				bestDX, bestDY = ddx, ddy
				bestSet = true
			} else if bestSet && sad == minSAD {
				secondSAD = sad
				if betterTie(int(initDX)+ddx, int(initDY)+ddy, int(initDX)+bestDX, int(initDY)+bestDY) {
					bestDX, bestDY = ddx, ddy
				}
			} else if sad < secondSAD {
				secondSAD = sad
			}
		}
	}
	return bestDX, bestDY, minSAD, secondSAD
}

// betterTie reports whether candidate (dx,dy) wins the tie-break over the
// current best (bx,by): smallest |dx|+|dy|, then smallest dy, then
// smallest dx.
func betterTie(dx, dy, bx, by int) bool {
	ca, cb := absInt(dx)+absInt(dy), absInt(bx)+absInt(by)
	if ca != cb {
		return ca < cb
	}
	if dy != by {
		return dy < by
	}
	return dx < bx
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// refineSubpixel fits a parabola through the 3 SAD samples around each
// tile's integer minimum along each axis, rejecting refinements whose
// vertex falls outside +/-1 of the minimum, per spec.md §4.4.
func refineSubpixel(ref, tgt *mfsr.GrayBuffer, a *Aligner, curDX, curDY []float64) {
	for ty := 0; ty < a.tilesY; ty++ {
		for tx := 0; tx < a.tilesX; tx++ {
			idx := ty*a.tilesX + tx
			cx := tx*a.cfg.TileSize + a.cfg.TileSize/2
			cy := ty*a.cfg.TileSize + a.cfg.TileSize/2

			ix, iy := int(math.Round(curDX[idx])), int(math.Round(curDY[idx]))

			sadAt := func(ddx, ddy int) float64 {
				half := a.cfg.TileSize / 2
				sad := 0.0
				for wy := -half; wy < a.cfg.TileSize-half; wy++ {
					ry := cy + wy
					for wx := -half; wx < a.cfg.TileSize-half; wx++ {
						rx := cx + wx
						baseline := float64(tgt.AtClamped(rx, ry))
						shifted := float64(ref.AtClamped(rx+ix+ddx, ry+iy+ddy))
						d := baseline - shifted
						if d < 0 {
							d = -d
						}
						sad += d
					}
				}
				return sad
			}

			sXm, s0, sXp := sadAt(-1, 0), sadAt(0, 0), sadAt(1, 0)
			if v, ok := parabolaVertex(sXm, s0, sXp); ok {
				curDX[idx] = float64(ix) + v
			} else {
				curDX[idx] = float64(ix)
			}

			sYm, sYp := sadAt(0, -1), sadAt(0, 1)
			if v, ok := parabolaVertex(sYm, s0, sYp); ok {
				curDY[idx] = float64(iy) + v
			} else {
				curDY[idx] = float64(iy)
			}
		}
	}
}

// parabolaVertex fits y = a*x^2+b*x+c through samples at x=-1,0,1 and
// returns the vertex offset, rejecting fits that have no minimum (flat or
// opening downward) and vertices that fall outside [-1,1].
func parabolaVertex(sm, s0, sp float64) (float64, bool) {
	denom := sm - 2*s0 + sp
	if denom <= 0 {
		return 0, false
	}
	v := 0.5 * (sm - sp) / denom
	if v < -1 || v > 1 {
		return 0, false
	}
	return v, true
}

// Warp samples input at (x - motion.dx, y - motion.dy) for every output
// pixel, where motion is the containing tile's vector, per spec.md §4.4.
func Warp(input *mfsr.GrayBuffer, alignment mfsr.FrameAlignment, output *mfsr.GrayBuffer) {
	h := output.Height()
	for y := 0; y < h; y++ {
		row := output.Row(y)
		for x := range row {
			mv := alignment.MotionField.TileAtPixel(x, y)
			row[x] = mfsr.BilinearGray(input, float64(x)-mv.DX, float64(y)-mv.DY)
		}
	}
}

// WarpRGB is the RGB-buffer equivalent of Warp.
func WarpRGB(input *mfsr.RGBBuffer, alignment mfsr.FrameAlignment, output *mfsr.RGBBuffer) {
	h := output.Height()
	for y := 0; y < h; y++ {
		row := output.Row(y)
		for x := range row {
			mv := alignment.MotionField.TileAtPixel(x, y)
			row[x] = mfsr.BilinearRGB(input, float64(x)-mv.DX, float64(y)-mv.DY)
		}
	}
}
