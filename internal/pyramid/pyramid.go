// Package pyramid builds Gaussian and Laplacian multiscale representations
// of Gray and RGB buffers, per spec.md §4.2.
package pyramid

import "github.com/burstsr/mfsr"

// minDimension is the smallest width or height a pyramid level may have;
// construction stops before producing a level below this size.
const minDimension = 4

// gaussianTaps is the fixed 5-tap separable blur kernel from spec.md §3:
// [1,4,6,4,1]/16.
var gaussianTaps = [5]float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

// GaussianPyramid is an ordered sequence of progressively blurred and
// halved Gray buffers; level 0 is the original image.
type GaussianPyramid struct {
	Levels []*mfsr.GrayBuffer
}

// BuildGaussian constructs a Gaussian pyramid with up to maxLevels levels,
// stopping early if the next level would fall below 4x4, per spec.md §4.2.
func BuildGaussian(img *mfsr.GrayBuffer, maxLevels int) *GaussianPyramid {
	p := &GaussianPyramid{Levels: []*mfsr.GrayBuffer{img}}
	cur := img
	for level := 1; level < maxLevels; level++ {
		nw, nh := cur.Width()/2, cur.Height()/2
		if nw < minDimension || nh < minDimension {
			break
		}
		cur = downsample2x(cur)
		p.Levels = append(p.Levels, cur)
	}
	return p
}

// blurSeparable applies the fixed 5-tap Gaussian kernel horizontally then
// vertically with clamp-to-edge boundaries.
func blurSeparable(img *mfsr.GrayBuffer) *mfsr.GrayBuffer {
	w, h := img.Width(), img.Height()
	tmp := mfsr.NewBuffer[float32](w, h)
	out := mfsr.NewBuffer[float32](w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			for k := -2; k <= 2; k++ {
				sum += gaussianTaps[k+2] * img.AtClamped(x+k, y)
			}
			tmp.Set(x, y, sum)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			for k := -2; k <= 2; k++ {
				sum += gaussianTaps[k+2] * tmp.AtClamped(x, y+k)
			}
			out.Set(x, y, sum)
		}
	}
	return out
}

// downsample2x blurs then takes every even-indexed sample, matching
// spec.md §4.2's "downsample2x = separable 5-tap Gaussian followed by 2x
// subsample (take even indices)".
func downsample2x(img *mfsr.GrayBuffer) *mfsr.GrayBuffer {
	blurred := blurSeparable(img)
	nw, nh := img.Width()/2, img.Height()/2
	out := mfsr.NewBuffer[float32](nw, nh)
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			out.Set(x, y, blurred.At(x*2, y*2))
		}
	}
	return out
}

// upsampleBilinear resizes src to exactly (targetW, targetH) using bilinear
// interpolation, used to reconstruct Laplacian detail levels.
func upsampleBilinear(src *mfsr.GrayBuffer, targetW, targetH int) *mfsr.GrayBuffer {
	out := mfsr.NewBuffer[float32](targetW, targetH)
	sw, sh := src.Width(), src.Height()
	if sw == 0 || sh == 0 {
		return out
	}
	scaleX := float64(sw) / float64(targetW)
	scaleY := float64(sh) / float64(targetH)
	for y := 0; y < targetH; y++ {
		sy := (float64(y)+0.5)*scaleY - 0.5
		for x := 0; x < targetW; x++ {
			sx := (float64(x)+0.5)*scaleX - 0.5
			out.Set(x, y, mfsr.BilinearGray(src, sx, sy))
		}
	}
	return out
}

// LaplacianPyramid stores per-level detail (level - upsample(next level))
// plus the coarsest residual, enabling exact-up-to-rounding reconstruction.
type LaplacianPyramid struct {
	// Detail holds one entry per Gaussian level except the last.
	Detail []*mfsr.GrayBuffer
	// Residual is the coarsest Gaussian level, stored verbatim.
	Residual *mfsr.GrayBuffer
}

// BuildLaplacian derives a Laplacian pyramid from an already-built Gaussian
// pyramid.
func BuildLaplacian(g *GaussianPyramid) *LaplacianPyramid {
	n := len(g.Levels)
	lp := &LaplacianPyramid{Detail: make([]*mfsr.GrayBuffer, n-1)}
	for i := 0; i < n-1; i++ {
		cur := g.Levels[i]
		up := upsampleBilinear(g.Levels[i+1], cur.Width(), cur.Height())
		detail := mfsr.NewBuffer[float32](cur.Width(), cur.Height())
		for y := 0; y < cur.Height(); y++ {
			curRow := cur.Row(y)
			upRow := up.Row(y)
			dRow := detail.Row(y)
			for x := range curRow {
				dRow[x] = curRow[x] - upRow[x]
			}
		}
		lp.Detail[i] = detail
	}
	lp.Residual = g.Levels[n-1]
	return lp
}

// Reconstruct rebuilds the original image from the Laplacian pyramid,
// exact up to floating-point rounding (spec.md §8 invariant 2).
func (lp *LaplacianPyramid) Reconstruct() *mfsr.GrayBuffer {
	cur := lp.Residual
	for i := len(lp.Detail) - 1; i >= 0; i-- {
		detail := lp.Detail[i]
		up := upsampleBilinear(cur, detail.Width(), detail.Height())
		out := mfsr.NewBuffer[float32](detail.Width(), detail.Height())
		for y := 0; y < detail.Height(); y++ {
			dRow := detail.Row(y)
			upRow := up.Row(y)
			oRow := out.Row(y)
			for x := range dRow {
				oRow[x] = dRow[x] + upRow[x]
			}
		}
		cur = out
	}
	return cur
}

// RGBPyramid is a Gaussian pyramid over RGB buffers, built channel-wise.
type RGBPyramid struct {
	Levels []*mfsr.RGBBuffer
}

// BuildRGB constructs a multiscale RGB pyramid with the same stopping rule
// as BuildGaussian, by running the Gaussian construction independently per
// channel.
func BuildRGB(img *mfsr.RGBBuffer, maxLevels int) *RGBPyramid {
	w, h := img.Width(), img.Height()
	r := mfsr.NewBuffer[float32](w, h)
	gC := mfsr.NewBuffer[float32](w, h)
	b := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		rr, gr, br := r.Row(y), gC.Row(y), b.Row(y)
		for x, px := range row {
			rr[x], gr[x], br[x] = px.R, px.G, px.B
		}
	}

	rp := BuildGaussian(r, maxLevels)
	gp := BuildGaussian(gC, maxLevels)
	bp := BuildGaussian(b, maxLevels)

	levels := make([]*mfsr.RGBBuffer, len(rp.Levels))
	for i := range levels {
		lw, lh := rp.Levels[i].Width(), rp.Levels[i].Height()
		out := mfsr.NewBuffer[mfsr.RGB](lw, lh)
		for y := 0; y < lh; y++ {
			rr, gr, br := rp.Levels[i].Row(y), gp.Levels[i].Row(y), bp.Levels[i].Row(y)
			oRow := out.Row(y)
			for x := range oRow {
				oRow[x] = mfsr.RGB{R: rr[x], G: gr[x], B: br[x]}
			}
		}
		levels[i] = out
	}
	return &RGBPyramid{Levels: levels}
}
