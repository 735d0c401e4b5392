// Package aniso implements the anisotropic structure-tensor-guided merge
// of spec.md §4.9: an oriented 7x7 kernel, elongated along the dominant
// eigenvector of the local structure tensor (the gradient direction),
// applied to every frame and averaged.
package aniso

import (
	"math"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/internal/edge"
)

// kernelRadius fixes the oriented kernel at 7x7, per spec.md §4.9.
const kernelRadius = 3

// Config holds the tunables named in spec.md §6 "Anisotropic".
type Config struct {
	WindowSize       int
	IntegrationSigma float64
	KernelSigma      float64
	Elongation       float64
	NoiseThreshold   float64
	AdaptiveStrength bool
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		WindowSize:       5,
		IntegrationSigma: 1.5,
		KernelSigma:      1.5,
		Elongation:       3,
		NoiseThreshold:   0.01,
		AdaptiveStrength: true,
	}
}

// Merge applies the per-pixel oriented anisotropic kernel (derived from
// ref's structure tensor field) to every frame and averages the result.
func Merge(ref *mfsr.GrayBuffer, frames []*mfsr.RGBBuffer, cfg Config) *mfsr.RGBBuffer {
	field := buildTensorField(ref, cfg)
	w, h := ref.Width(), ref.Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)
	n := len(frames)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			taps := buildKernel(field.At(x, y), cfg, x, y, w, h)
			var rSum, gSum, bSum float64
			for _, f := range frames {
				for _, t := range taps {
					px := f.At(x+t.dx, y+t.dy)
					rSum += t.weight * float64(px.R)
					gSum += t.weight * float64(px.G)
					bSum += t.weight * float64(px.B)
				}
			}
			out.Set(x, y, mfsr.RGB{
				R: float32(rSum / float64(n)),
				G: float32(gSum / float64(n)),
				B: float32(bSum / float64(n)),
			})
		}
	}
	return out
}

// buildTensorField computes the per-pixel structure tensor from ref's
// Sobel gradients, integrated with a separable Gaussian of sigma
// cfg.IntegrationSigma.
func buildTensorField(ref *mfsr.GrayBuffer, cfg Config) *mfsr.Buffer[mfsr.StructureTensor] {
	gx, gy := edge.Gradient(ref, edge.Sobel)
	w, h := ref.Width(), ref.Height()

	ixx := mfsr.NewBuffer[float32](w, h)
	ixy := mfsr.NewBuffer[float32](w, h)
	iyy := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		gxRow, gyRow := gx.Row(y), gy.Row(y)
		ixxRow, ixyRow, iyyRow := ixx.Row(y), ixy.Row(y), iyy.Row(y)
		for x := range gxRow {
			ixxRow[x] = gxRow[x] * gxRow[x]
			ixyRow[x] = gxRow[x] * gyRow[x]
			iyyRow[x] = gyRow[x] * gyRow[x]
		}
	}

	kernel := gaussianKernel1D(cfg.IntegrationSigma, cfg.WindowSize)
	ixxB := separableBlur(ixx, kernel)
	ixyB := separableBlur(ixy, kernel)
	iyyB := separableBlur(iyy, kernel)

	out := mfsr.NewBuffer[mfsr.StructureTensor](w, h)
	for y := 0; y < h; y++ {
		oRow := out.Row(y)
		ixxRow, ixyRow, iyyRow := ixxB.Row(y), ixyB.Row(y), iyyB.Row(y)
		for x := range oRow {
			oRow[x] = mfsr.NewStructureTensor(float64(ixxRow[x]), float64(ixyRow[x]), float64(iyyRow[x]))
		}
	}
	return out
}

// gaussianKernel1D returns a normalized (sum-to-1) Gaussian kernel of the
// given size (odd) and sigma.
func gaussianKernel1D(sigma float64, size int) []float64 {
	half := size / 2
	k := make([]float64, size)
	var sum float64
	for i := -half; i <= half; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+half] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// separableBlur convolves img with kernel along x then y, clamp-to-edge.
func separableBlur(img *mfsr.GrayBuffer, kernel []float64) *mfsr.GrayBuffer {
	w, h := img.Width(), img.Height()
	half := len(kernel) / 2

	tmp := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -half; k <= half; k++ {
				sum += kernel[k+half] * float64(img.AtClamped(x+k, y))
			}
			tmp.Set(x, y, float32(sum))
		}
	}

	out := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -half; k <= half; k++ {
				sum += kernel[k+half] * float64(tmp.AtClamped(x, y+k))
			}
			out.Set(x, y, float32(sum))
		}
	}
	return out
}

type tap struct {
	dx, dy int
	weight float64
}

// buildKernel constructs the normalized 7x7 sampling kernel for a single
// pixel: isotropic uniform when the tensor's dominant eigenvalue is at or
// below the noise floor, otherwise an anisotropic Gaussian elongated
// along the tensor's dominant eigenvector. Taps that fall outside the
// image are dropped and the remaining weights renormalized, per
// spec.md §4.9.
func buildKernel(st mfsr.StructureTensor, cfg Config, x, y, w, h int) []tap {
	isotropic := st.Lambda1 <= cfg.NoiseThreshold

	var sigmaAlong, sigmaPerp float64
	var cosT, sinT float64
	if !isotropic {
		factor := cfg.Elongation
		if cfg.AdaptiveStrength {
			factor = 1 + (cfg.Elongation-1)*st.Anisotropy
		}
		sigmaAlong = cfg.KernelSigma * factor
		sigmaPerp = cfg.KernelSigma
		cosT, sinT = math.Cos(st.Theta), math.Sin(st.Theta)
	}

	var taps []tap
	var sum float64
	for dy := -kernelRadius; dy <= kernelRadius; dy++ {
		ny := y + dy
		if ny < 0 || ny >= h {
			continue
		}
		for dx := -kernelRadius; dx <= kernelRadius; dx++ {
			nx := x + dx
			if nx < 0 || nx >= w {
				continue
			}
			var weight float64
			if isotropic {
				weight = 1
			} else {
				u := float64(dx)*cosT + float64(dy)*sinT
				v := -float64(dx)*sinT + float64(dy)*cosT
				weight = math.Exp(-(u*u/(2*sigmaAlong*sigmaAlong) + v*v/(2*sigmaPerp*sigmaPerp)))
			}
			taps = append(taps, tap{dx: dx, dy: dy, weight: weight})
			sum += weight
		}
	}
	if sum > 0 {
		for i := range taps {
			taps[i].weight /= sum
		}
	}
	return taps
}
