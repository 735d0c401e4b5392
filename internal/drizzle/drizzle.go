// Package drizzle implements sub-pixel drizzle accumulation, as
// spec.md §4.10.
package drizzle

import (
	"math"

	"github.com/burstsr/mfsr"
)

// Config holds the tunables named in spec.md §6 "Drizzle".
type Config struct {
	ScaleFactor int // one of {2,3,4}
	Pixfrac     float64
	WeightPower float64
	MinWeight   float64
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		ScaleFactor: 2,
		Pixfrac:     0.7,
		WeightPower: 1.0,
		MinWeight:   0.01,
	}
}

// Result is the accumulated image and the per-pixel sum of accumulated
// drop weights, before final normalization.
type Result struct {
	Image     *mfsr.RGBBuffer
	WeightMap *mfsr.GrayBuffer
}

// Drizzle accumulates frames (all the same size) onto a
// scale*w x scale*h output grid using per-frame sub-pixel shifts, per
// spec.md §4.10. An empty accumulator (no contributing drop) yields
// black with zero weight.
func Drizzle(frames []*mfsr.RGBBuffer, shifts []mfsr.SubPixelShift, cfg Config) Result {
	iw, ih := frames[0].Width(), frames[0].Height()
	ow, oh := iw*cfg.ScaleFactor, ih*cfg.ScaleFactor

	sumR := make([]float64, ow*oh)
	sumG := make([]float64, ow*oh)
	sumB := make([]float64, ow*oh)
	sumW := make([]float64, ow*oh)

	scale := float64(cfg.ScaleFactor)
	dropRadius := cfg.Pixfrac * scale / 2

	for fi, f := range frames {
		shift := shifts[fi]
		for iy := 0; iy < ih; iy++ {
			for ix := 0; ix < iw; ix++ {
				px := f.At(ix, iy)
				sx := float64(ix) + shift.DX
				sy := float64(iy) + shift.DY
				ocx := sx * scale
				ocy := sy * scale

				x0, x1 := boundsInt(ocx-dropRadius, ocx+dropRadius, ow)
				y0, y1 := boundsInt(ocy-dropRadius, ocy+dropRadius, oh)

				for oy := y0; oy <= y1; oy++ {
					cy := float64(oy) + 0.5
					for ox := x0; ox <= x1; ox++ {
						cx := float64(ox) + 0.5
						d := math.Hypot(cx-ocx, cy-ocy)
						if d >= dropRadius {
							continue
						}
						w := math.Pow(1-d/dropRadius, cfg.WeightPower)
						if w <= cfg.MinWeight {
							continue
						}
						idx := oy*ow + ox
						fw := w * shift.Weight
						sumR[idx] += float64(px.R) * fw
						sumG[idx] += float64(px.G) * fw
						sumB[idx] += float64(px.B) * fw
						sumW[idx] += fw
					}
				}
			}
		}
	}

	image := mfsr.NewBuffer[mfsr.RGB](ow, oh)
	weightMap := mfsr.NewBuffer[float32](ow, oh)
	for i := 0; i < ow*oh; i++ {
		weightMap.Data()[i] = float32(sumW[i])
		if sumW[i] <= 0 {
			continue
		}
		image.Data()[i] = mfsr.RGB{
			R: clamp01(sumR[i] / sumW[i]),
			G: clamp01(sumG[i] / sumW[i]),
			B: clamp01(sumB[i] / sumW[i]),
		}
	}
	return Result{Image: image, WeightMap: weightMap}
}

func clamp01(v float64) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float32(v)
}

// boundsInt converts a continuous [lo,hi] interval to an inclusive
// integer index range, clamped to [0, n).
func boundsInt(lo, hi float64, n int) (int, int) {
	x0 := int(math.Floor(lo))
	x1 := int(math.Ceil(hi))
	if x0 < 0 {
		x0 = 0
	}
	if x1 >= n {
		x1 = n - 1
	}
	return x0, x1
}

// ShiftsFromHomographies derives a SubPixelShift per frame from a set of
// frame-to-reference homographies: the reference frame gets shift (0,0)
// and weight 1; every other frame's shift is
// mfsr.ShiftFromHomography(h, 1), per spec.md §4.10.
func ShiftsFromHomographies(homographies []mfsr.Homography, refIndex int) []mfsr.SubPixelShift {
	out := make([]mfsr.SubPixelShift, len(homographies))
	for i, h := range homographies {
		if i == refIndex {
			out[i] = mfsr.SubPixelShift{Weight: 1}
			continue
		}
		out[i] = mfsr.ShiftFromHomography(h, 1)
	}
	return out
}
