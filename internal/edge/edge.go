// Package edge implements the gradient operators, structure-tensor field,
// and detail-mask primitives of spec.md §4.3, shared by the anisotropic
// merge stage, dense optical flow, and the burst orchestrator's
// diagnostics.
package edge

import (
	"math"

	"github.com/burstsr/mfsr"
)

// Operator selects the gradient kernel.
type Operator int

const (
	Sobel Operator = iota
	Scharr
	Prewitt
)

// kernel returns the 3x3 (gx, gy) kernels for the selected operator, along
// with the normalization divisor. Scharr is normalized by 1/32 per
// spec.md §4.3 (flagged in spec.md §9 Open Question 3 as needing
// verification against a reference; SPEC_FULL.md takes the spec text as
// written).
func kernel(op Operator) (gx, gy [3][3]float32, norm float32) {
	switch op {
	case Scharr:
		gx = [3][3]float32{
			{-3, 0, 3},
			{-10, 0, 10},
			{-3, 0, 3},
		}
		gy = [3][3]float32{
			{-3, -10, -3},
			{0, 0, 0},
			{3, 10, 3},
		}
		return gx, gy, 32
	case Prewitt:
		gx = [3][3]float32{
			{-1, 0, 1},
			{-1, 0, 1},
			{-1, 0, 1},
		}
		gy = [3][3]float32{
			{-1, -1, -1},
			{0, 0, 0},
			{1, 1, 1},
		}
		return gx, gy, 1
	default: // Sobel
		gx = [3][3]float32{
			{-1, 0, 1},
			{-2, 0, 2},
			{-1, 0, 1},
		}
		gy = [3][3]float32{
			{-1, -2, -1},
			{0, 0, 0},
			{1, 2, 1},
		}
		return gx, gy, 1
	}
}

// Gradient computes the horizontal and vertical gradient of img using the
// selected operator. Image borders (where the 3x3 window would fall
// outside the buffer) are zero, per spec.md §4.3.
func Gradient(img *mfsr.GrayBuffer, op Operator) (gxOut, gyOut *mfsr.GrayBuffer) {
	w, h := img.Width(), img.Height()
	gxOut = mfsr.NewBuffer[float32](w, h)
	gyOut = mfsr.NewBuffer[float32](w, h)
	gxK, gyK, norm := kernel(op)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var sx, sy float32
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := img.At(x+kx, y+ky)
					sx += gxK[ky+1][kx+1] * v
					sy += gyK[ky+1][kx+1] * v
				}
			}
			gxOut.Set(x, y, sx/norm)
			gyOut.Set(x, y, sy/norm)
		}
	}
	return gxOut, gyOut
}

// Magnitude computes sqrt(gx^2 + gy^2) element-wise.
func Magnitude(gx, gy *mfsr.GrayBuffer) *mfsr.GrayBuffer {
	w, h := gx.Width(), gx.Height()
	out := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		gxRow, gyRow, oRow := gx.Row(y), gy.Row(y), out.Row(y)
		for x := range oRow {
			oRow[x] = float32(math.Sqrt(float64(gxRow[x]*gxRow[x] + gyRow[x]*gyRow[x])))
		}
	}
	return out
}

// StructureTensorField computes the per-pixel structure tensor from Sobel
// gradients, with no integration blur. The anisotropic merge stage does
// not use this field; it builds its own Gaussian-integrated tensors from
// Sobel gradients (spec.md §4.9).
func StructureTensorField(img *mfsr.GrayBuffer) *mfsr.Buffer[mfsr.StructureTensor] {
	gx, gy := Gradient(img, Sobel)
	w, h := img.Width(), img.Height()
	out := mfsr.NewBuffer[mfsr.StructureTensor](w, h)
	for y := 0; y < h; y++ {
		gxRow, gyRow, oRow := gx.Row(y), gy.Row(y), out.Row(y)
		for x := range oRow {
			ix, iy := float64(gxRow[x]), float64(gyRow[x])
			oRow[x] = mfsr.NewStructureTensor(ix*ix, ix*iy, iy*iy)
		}
	}
	return out
}
