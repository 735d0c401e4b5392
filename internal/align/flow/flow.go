// Package flow implements the hierarchical Lucas-Kanade dense optical flow
// estimator of spec.md §4.5.
package flow

import (
	"math"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/internal/edge"
	"github.com/burstsr/mfsr/internal/pyramid"
)

// Config holds the tunables named in spec.md §6 "Flow".
type Config struct {
	PyramidLevels        int
	WindowSize           int // must be odd
	MaxIterations        int
	ConvergenceThreshold float64
	MinEigenThreshold    float64
	UseGyroInit          bool
	GyroSearchRadius     int
	NoGyroSearchRadius   int
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		PyramidLevels:        4,
		WindowSize:           15,
		MaxIterations:        10,
		ConvergenceThreshold: 0.01,
		MinEigenThreshold:    0.001,
		UseGyroInit:          true,
		GyroSearchRadius:     5,
		NoGyroSearchRadius:   20,
	}
}

// Result is a dense flow field plus the fraction of pixels LK converged on
// with non-zero confidence.
type Result struct {
	Field    *mfsr.FlowField
	Coverage float64
}

// Estimator holds a configured reference pyramid and its precomputed Scharr
// gradients; SetReference must be called before Estimate.
type Estimator struct {
	cfg        Config
	refPyramid *pyramid.GaussianPyramid
	gx, gy     []*mfsr.GrayBuffer
}

// New creates an Estimator with the given configuration.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// SetReference builds the reference's Gaussian pyramid and its per-level
// Scharr gradients.
func (e *Estimator) SetReference(ref *mfsr.GrayBuffer) {
	e.refPyramid = pyramid.BuildGaussian(ref, e.cfg.PyramidLevels)
	e.gx = make([]*mfsr.GrayBuffer, len(e.refPyramid.Levels))
	e.gy = make([]*mfsr.GrayBuffer, len(e.refPyramid.Levels))
	for i, lvl := range e.refPyramid.Levels {
		e.gx[i], e.gy[i] = edge.Gradient(lvl, edge.Scharr)
	}
}

// Estimate computes dense flow of target against the configured reference.
// gyro may be nil; if non-nil and cfg.UseGyroInit, it seeds level-0 flow
// per spec.md §4.5.
func (e *Estimator) Estimate(target *mfsr.GrayBuffer, gyro *mfsr.Homography) Result {
	levels := len(e.refPyramid.Levels)
	targetPyramid := pyramid.BuildGaussian(target, levels)

	var field *mfsr.FlowField
	for level := levels - 1; level >= 0; level-- {
		refL := e.refPyramid.Levels[level]
		tgtL := targetPyramid.Levels[level]
		w, h := refL.Width(), refL.Height()

		var seeded *mfsr.FlowField
		if field == nil {
			seeded = mfsr.NewBuffer[mfsr.FlowVector](w, h)
		} else {
			seeded = upsampleFlow(field, w, h)
		}

		if level == 0 && e.cfg.UseGyroInit && gyro != nil {
			for y := 0; y < h; y++ {
				row := seeded.Row(y)
				for x := range row {
					gx, gy := gyro.Transform(float64(x), float64(y))
					row[x] = mfsr.FlowVector{DX: gx - float64(x), DY: gy - float64(y)}
				}
			}
		}

		radius := e.cfg.NoGyroSearchRadius
		if e.cfg.UseGyroInit && gyro != nil {
			radius = e.cfg.GyroSearchRadius
		}

		field = e.refine(refL, tgtL, e.gx[level], e.gy[level], seeded, radius)
	}

	var covered int
	n := field.Width() * field.Height()
	for _, v := range field.Data() {
		if v.Confidence > 0 {
			covered++
		}
	}
	coverage := 0.0
	if n > 0 {
		coverage = float64(covered) / float64(n)
	}
	return Result{Field: field, Coverage: coverage}
}

// refine runs the windowed Lucas-Kanade iteration at a single pyramid
// level, starting from the seeded flow field.
func (e *Estimator) refine(ref, tgt, gx, gy *mfsr.GrayBuffer, seeded *mfsr.FlowField, radius int) *mfsr.FlowField {
	w, h := ref.Width(), ref.Height()
	half := e.cfg.WindowSize / 2
	active := make([]bool, w*h)
	for i := range active {
		active[i] = true
	}

	// Precompute each pixel's 2x2 structure matrix and eigen-reject once;
	// it does not change across iterations.
	minEigenOK := make([]bool, w*h)
	Ixx := make([]float64, w*h)
	Ixy := make([]float64, w*h)
	Iyy := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			var ixx, ixy, iyy float64
			for wy := -half; wy <= half; wy++ {
				for wx := -half; wx <= half; wx++ {
					gxv := float64(gx.AtClamped(x+wx, y+wy))
					gyv := float64(gy.AtClamped(x+wx, y+wy))
					ixx += gxv * gxv
					ixy += gxv * gyv
					iyy += gyv * gyv
				}
			}
			Ixx[idx], Ixy[idx], Iyy[idx] = ixx, ixy, iyy
			st := mfsr.NewStructureTensor(ixx, ixy, iyy)
			minEigenOK[idx] = st.Lambda2 >= e.cfg.MinEigenThreshold
			if !minEigenOK[idx] {
				active[idx] = false
			}
		}
	}

	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		anyActive := false
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				if !active[idx] {
					continue
				}
				anyActive = true

				fv := seeded.Data()[idx]
				var bx, by float64
				for wy := -half; wy <= half; wy++ {
					ry := y + wy
					for wx := -half; wx <= half; wx++ {
						rx := x + wx
						it := float64(mfsr.BilinearGray(tgt, float64(rx)+fv.DX, float64(ry)+fv.DY))
						ir := float64(ref.AtClamped(rx, ry))
						diff := it - ir
						gxv := float64(gx.AtClamped(rx, ry))
						gyv := float64(gy.AtClamped(rx, ry))
						bx += gxv * diff
						by += gyv * diff
					}
				}

				det := Ixx[idx]*Iyy[idx] - Ixy[idx]*Ixy[idx]
				if det == 0 {
					active[idx] = false
					continue
				}
				dx := (Iyy[idx]*bx - Ixy[idx]*by) / det
				dy := (Ixx[idx]*by - Ixy[idx]*bx) / det

				mag := math.Hypot(dx, dy)
				if float64(radius) > 0 && mag > float64(radius) {
					scale := float64(radius) / mag
					dx *= scale
					dy *= scale
				}

				fv.DX += dx
				fv.DY += dy
				fv.Confidence = 1
				seeded.Data()[idx] = fv

				if math.Hypot(dx, dy) < e.cfg.ConvergenceThreshold {
					active[idx] = false
				}
			}
		}
		if !anyActive {
			break
		}
	}

	for idx := range seeded.Data() {
		if !minEigenOK[idx] {
			fv := seeded.Data()[idx]
			fv.Confidence = 0
			seeded.Data()[idx] = fv
		} else if seeded.Data()[idx].Confidence == 0 {
			fv := seeded.Data()[idx]
			fv.Confidence = 1
			seeded.Data()[idx] = fv
		}
	}
	return seeded
}

// upsampleFlow doubles the resolution of a coarser-level flow field,
// bilinearly interpolating dx/dy/confidence and scaling dx,dy by 2.
func upsampleFlow(prev *mfsr.FlowField, w, h int) *mfsr.FlowField {
	out := mfsr.NewBuffer[mfsr.FlowVector](w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := range row {
			sx := float64(x) / 2
			sy := float64(y) / 2
			v := bilinearFlow(prev, sx, sy)
			row[x] = mfsr.FlowVector{DX: v.DX * 2, DY: v.DY * 2, Confidence: v.Confidence}
		}
	}
	return out
}

func bilinearFlow(img *mfsr.FlowField, x, y float64) mfsr.FlowVector {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	tx := x - x0
	ty := y - y0
	ix0, iy0 := int(x0), int(y0)
	ix1, iy1 := ix0+1, iy0+1

	v00 := img.AtClamped(ix0, iy0)
	v10 := img.AtClamped(ix1, iy0)
	v01 := img.AtClamped(ix0, iy1)
	v11 := img.AtClamped(ix1, iy1)

	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	topDX := lerp(v00.DX, v10.DX, tx)
	botDX := lerp(v01.DX, v11.DX, tx)
	topDY := lerp(v00.DY, v10.DY, tx)
	botDY := lerp(v01.DY, v11.DY, tx)
	topC := lerp(v00.Confidence, v10.Confidence, tx)
	botC := lerp(v01.Confidence, v11.Confidence, tx)

	return mfsr.FlowVector{
		DX:         lerp(topDX, botDX, ty),
		DY:         lerp(topDY, botDY, ty),
		Confidence: lerp(topC, botC, ty),
	}
}
