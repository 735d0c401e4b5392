// Package phase implements FFT-based phase correlation alignment, as
// spec.md §4.6: a radix-2 Cooley-Tukey FFT drives a cross-power-spectrum
// shift estimate over one or more sample windows, combined by median.
package phase

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/burstsr/mfsr"
)

// validConfidenceFloor is the fixed validity threshold from spec.md §4.6;
// unlike every other per-component threshold in this engine it is not
// configurable.
const validConfidenceFloor = 0.3

// zeroGuardEpsilon guards the cross-power-spectrum normalization against
// division by a near-zero magnitude.
const zeroGuardEpsilon = 1e-12

// Config holds the tunables named in spec.md §6 "Phase corr".
type Config struct {
	WindowSize     int // power of two
	NumSamples     int
	SubPixelRadius int
	UseHanning     bool
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		WindowSize:     256,
		NumSamples:     4,
		SubPixelRadius: 2,
		UseHanning:     true,
	}
}

// Result is the combined shift estimate across all sample windows.
type Result struct {
	ShiftX, ShiftY, Confidence float64
	Valid                      bool
}

// Correlator holds a configured reference image; SetReference must be
// called before Correlate.
type Correlator struct {
	cfg Config
	ref *mfsr.GrayBuffer
}

// New creates a Correlator with the given configuration.
func New(cfg Config) *Correlator {
	return &Correlator{cfg: cfg}
}

// SetReference stores the reference image used by subsequent Correlate
// calls.
func (c *Correlator) SetReference(ref *mfsr.GrayBuffer) {
	c.ref = ref
}

// Correlate estimates the global translation of target relative to the
// configured reference by averaging (via median) several windowed phase
// correlations.
func (c *Correlator) Correlate(target *mfsr.GrayBuffer) Result {
	n := c.cfg.WindowSize
	win := hanningWindow(n)
	centers := sampleCenters(c.ref.Width(), c.ref.Height(), n, c.cfg.NumSamples)

	shiftsX := make([]float64, 0, len(centers))
	shiftsY := make([]float64, 0, len(centers))
	confidences := make([]float64, 0, len(centers))

	for _, ctr := range centers {
		p1 := extractPatch(c.ref, ctr.x, ctr.y, n, win, c.cfg.UseHanning)
		p2 := extractPatch(target, ctr.x, ctr.y, n, win, c.cfg.UseHanning)

		fft2d(p1, n, false)
		fft2d(p2, n, false)

		cross := make([]complex128, n*n)
		for i := range cross {
			prod := p1[i] * cmplx.Conj(p2[i])
			mag := cmplx.Abs(prod)
			if mag < zeroGuardEpsilon {
				cross[i] = 0
				continue
			}
			cross[i] = prod / complex(mag, 0)
		}
		fft2d(cross, n, true)

		surface := make([]float64, n*n)
		var sum float64
		for i, v := range cross {
			surface[i] = real(v)
			sum += surface[i]
		}
		mean := sum / float64(n*n)

		px, py := argmax2D(surface, n)
		peak := surface[py*n+px]

		vx := fitParabola(surface, n, px, py, true)
		vy := fitParabola(surface, n, px, py, false)

		sx := wrapSigned(float64(px)+vx, n)
		sy := wrapSigned(float64(py)+vy, n)

		conf := 0.0
		if mean != 0 {
			conf = peak / mean
		}

		shiftsX = append(shiftsX, sx)
		shiftsY = append(shiftsY, sy)
		confidences = append(confidences, conf)
	}

	resX := median(shiftsX)
	resY := median(shiftsY)
	resConf := median(confidences)

	return Result{
		ShiftX:     resX,
		ShiftY:     resY,
		Confidence: resConf,
		Valid:      resConf > validConfidenceFloor,
	}
}

type center struct{ x, y int }

// sampleCenters lays out up to numSamples window centers on a roughly
// square grid across the image, margined so every window fits in bounds.
func sampleCenters(w, h, windowSize, numSamples int) []center {
	if numSamples < 1 {
		numSamples = 1
	}
	margin := windowSize / 2
	if margin*2 >= w && w/2 < margin {
		margin = w / 2
	}
	if margin*2 >= h && h/2 < margin {
		margin = h / 2
	}

	cols := int(math.Ceil(math.Sqrt(float64(numSamples))))
	rows := int(math.Ceil(float64(numSamples) / float64(cols)))

	centers := make([]center, 0, numSamples)
	for r := 0; r < rows && len(centers) < numSamples; r++ {
		for cidx := 0; cidx < cols && len(centers) < numSamples; cidx++ {
			var cx, cy int
			if cols == 1 {
				cx = w / 2
			} else {
				cx = margin + cidx*(w-2*margin)/(cols-1)
			}
			if rows == 1 {
				cy = h / 2
			} else {
				cy = margin + r*(h-2*margin)/(rows-1)
			}
			centers = append(centers, center{x: cx, y: cy})
		}
	}
	return centers
}

// hanningWindow returns the 1-D Hanning window of length n.
func hanningWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// extractPatch samples an n x n window of img centered at (cx, cy),
// clamp-to-edge, optionally applying a separable Hanning window.
func extractPatch(img *mfsr.GrayBuffer, cx, cy, n int, win []float64, useHanning bool) []complex128 {
	out := make([]complex128, n*n)
	half := n / 2
	for j := 0; j < n; j++ {
		y := cy - half + j
		for i := 0; i < n; i++ {
			x := cx - half + i
			v := float64(img.AtClamped(x, y))
			if useHanning {
				v *= win[i] * win[j]
			}
			out[j*n+i] = complex(v, 0)
		}
	}
	return out
}

// fft2d runs fft1d over rows then columns of an n x n row-major buffer.
func fft2d(data []complex128, n int, invert bool) {
	row := make([]complex128, n)
	for r := 0; r < n; r++ {
		copy(row, data[r*n:(r+1)*n])
		fft1d(row, invert)
		copy(data[r*n:(r+1)*n], row)
	}
	col := make([]complex128, n)
	for cidx := 0; cidx < n; cidx++ {
		for r := 0; r < n; r++ {
			col[r] = data[r*n+cidx]
		}
		fft1d(col, invert)
		for r := 0; r < n; r++ {
			data[r*n+cidx] = col[r]
		}
	}
}

// fft1d is an in-place iterative radix-2 Cooley-Tukey FFT. len(a) must be
// a power of two.
func fft1d(a []complex128, invert bool) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := 2 * math.Pi / float64(length)
		if !invert {
			ang = -ang
		}
		wlen := cmplx.Rect(1, ang)
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			half := length / 2
			for j := 0; j < half; j++ {
				u := a[i+j]
				v := a[i+j+half] * w
				a[i+j] = u + v
				a[i+j+half] = u - v
				w *= wlen
			}
		}
	}

	if invert {
		for i := range a {
			a[i] /= complex(float64(n), 0)
		}
	}
}

// argmax2D returns the row-major (x, y) index of the largest element.
func argmax2D(surface []float64, n int) (int, int) {
	bestIdx := 0
	best := surface[0]
	for i, v := range surface {
		if v > best {
			best = v
			bestIdx = i
		}
	}
	return bestIdx % n, bestIdx / n
}

// fitParabola fits a parabola through the 3 samples around (px,py) along
// one axis (horizontal if alongX, else vertical), wrapping neighbor
// indices, and returns the clamped vertex offset.
func fitParabola(surface []float64, n, px, py int, alongX bool) float64 {
	wrap := func(v int) int {
		v %= n
		if v < 0 {
			v += n
		}
		return v
	}
	var sm, s0, sp float64
	if alongX {
		sm = surface[py*n+wrap(px-1)]
		s0 = surface[py*n+px]
		sp = surface[py*n+wrap(px+1)]
	} else {
		sm = surface[wrap(py-1)*n+px]
		s0 = surface[py*n+px]
		sp = surface[wrap(py+1)*n+px]
	}
	denom := sm - 2*s0 + sp
	if denom == 0 {
		return 0
	}
	v := 0.5 * (sm - sp) / denom
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	return v
}

// wrapSigned maps a value in [0, n) to the signed range [-n/2, n/2).
func wrapSigned(v float64, n int) float64 {
	if v >= float64(n)/2 {
		v -= float64(n)
	}
	return v
}

// median returns the median of a float64 slice (average of the two middle
// elements for an even-length slice). The input slice is not mutated.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
