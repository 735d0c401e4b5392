// Package merge implements the robust multi-frame pixel merger and
// Wiener post-filter of spec.md §4.8.
package merge

import (
	"math"
	"sort"

	"github.com/burstsr/mfsr"
)

// Method selects the per-channel location estimator.
type Method int

const (
	Average Method = iota
	TrimmedMean
	MEstimator
	Median
)

// Config holds the tunables named in spec.md §6 "Merge".
type Config struct {
	Method           Method
	TrimRatio        float64
	HuberDelta       float64
	ApplyWiener      bool
	WienerNoiseVar   float64
	WienerWindowSize int
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		Method:           TrimmedMean,
		TrimRatio:        0.25,
		HuberDelta:       1.0,
		ApplyWiener:      true,
		WienerNoiseVar:   0.001,
		WienerWindowSize: 5,
	}
}

// Merge combines aligned RGB frames into a single image, one independent
// estimate per channel per pixel, per spec.md §4.8. confidences may be
// nil (unweighted) or one entry per frame.
func Merge(frames []*mfsr.RGBBuffer, confidences []float64, cfg Config) *mfsr.RGBBuffer {
	n := len(frames)
	w, h := frames[0].Width(), frames[0].Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)

	rSamples := make([]float64, n)
	gSamples := make([]float64, n)
	bSamples := make([]float64, n)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i, f := range frames {
				px := f.At(x, y)
				rSamples[i] = float64(px.R)
				gSamples[i] = float64(px.G)
				bSamples[i] = float64(px.B)
			}
			out.Set(x, y, mfsr.RGB{
				R: float32(mergeChannel(rSamples, confidences, cfg)),
				G: float32(mergeChannel(gSamples, confidences, cfg)),
				B: float32(mergeChannel(bSamples, confidences, cfg)),
			})
		}
	}

	if cfg.ApplyWiener {
		out = WienerFilter(out, cfg.WienerWindowSize, cfg.WienerNoiseVar)
	}
	return out
}

// MergeAdaptive is Merge generalized to a per-pixel Huber delta (spec.md
// §4.11's "adaptive robustness"): deltaField, when non-nil and
// cfg.Method is MEstimator, supplies the delta used at each pixel instead
// of cfg.HuberDelta. Every other method and every other cfg field behaves
// identically to Merge.
func MergeAdaptive(frames []*mfsr.RGBBuffer, confidences []float64, deltaField *mfsr.GrayBuffer, cfg Config) *mfsr.RGBBuffer {
	n := len(frames)
	w, h := frames[0].Width(), frames[0].Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)

	rSamples := make([]float64, n)
	gSamples := make([]float64, n)
	bSamples := make([]float64, n)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i, f := range frames {
				px := f.At(x, y)
				rSamples[i] = float64(px.R)
				gSamples[i] = float64(px.G)
				bSamples[i] = float64(px.B)
			}
			localCfg := cfg
			if cfg.Method == MEstimator && deltaField != nil {
				localCfg.HuberDelta = float64(deltaField.At(x, y))
			}
			out.Set(x, y, mfsr.RGB{
				R: float32(mergeChannel(rSamples, confidences, localCfg)),
				G: float32(mergeChannel(gSamples, confidences, localCfg)),
				B: float32(mergeChannel(bSamples, confidences, localCfg)),
			})
		}
	}

	if cfg.ApplyWiener {
		out = WienerFilter(out, cfg.WienerWindowSize, cfg.WienerNoiseVar)
	}
	return out
}

// mergeChannel applies the configured location estimator to one channel's
// samples across frames.
func mergeChannel(samples []float64, weights []float64, cfg Config) float64 {
	switch cfg.Method {
	case TrimmedMean:
		return trimmedMean(samples, weights, cfg.TrimRatio)
	case MEstimator:
		return huber(samples, weights, cfg.HuberDelta)
	case Median:
		return medianOf(samples)
	default:
		return average(samples, weights)
	}
}

func average(samples, weights []float64) float64 {
	if weights == nil {
		var sum float64
		for _, v := range samples {
			sum += v
		}
		return sum / float64(len(samples))
	}
	var sumW, sumWX float64
	for i, v := range samples {
		sumW += weights[i]
		sumWX += weights[i] * v
	}
	if sumW == 0 {
		return average(samples, nil)
	}
	return sumWX / sumW
}

// trimmedMean sorts samples, drops floor(trim*N) from each end, and
// averages the remainder (weighted if weights is non-nil), always
// retaining at least one sample.
func trimmedMean(samples, weights []float64, trim float64) float64 {
	n := len(samples)
	type pair struct {
		v, w float64
	}
	pairs := make([]pair, n)
	for i, v := range samples {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		pairs[i] = pair{v: v, w: w}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	drop := int(trim * float64(n))
	lo, hi := drop, n-drop
	if hi <= lo {
		lo, hi = 0, n
	}

	var sumW, sumWX float64
	for _, p := range pairs[lo:hi] {
		sumW += p.w
		sumWX += p.w * p.v
	}
	if sumW == 0 {
		return medianOf(samples)
	}
	return sumWX / sumW
}

// medianOf returns the median of samples (average of the two middle
// elements for an even-length slice). samples is not mutated.
func medianOf(samples []float64) float64 {
	n := len(samples)
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// huber is an iteratively reweighted location estimator: initialized at
// the median, weights w_i = 1 if |r_i| <= delta else delta/|r_i|,
// optionally scaled by per-frame confidence, up to 10 iterations or
// convergence < 1e-4.
func huber(samples, weights []float64, delta float64) float64 {
	est := medianOf(samples)
	for iter := 0; iter < 10; iter++ {
		var sumW, sumWX float64
		for i, x := range samples {
			r := x - est
			ar := math.Abs(r)
			w := 1.0
			if ar > delta {
				w = delta / ar
			}
			if weights != nil {
				w *= weights[i]
			}
			sumW += w
			sumWX += w * x
		}
		if sumW == 0 {
			break
		}
		next := sumWX / sumW
		if math.Abs(next-est) < 1e-4 {
			est = next
			break
		}
		est = next
	}
	return est
}

// WienerFilter applies the per-channel local Wiener post-filter of
// spec.md §4.8 over a windowSize x windowSize clamp-to-edge window, with
// noise variance n^2 = noiseVar.
func WienerFilter(img *mfsr.RGBBuffer, windowSize int, noiseVar float64) *mfsr.RGBBuffer {
	w, h := img.Width(), img.Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)
	half := windowSize / 2

	channel := func(get func(mfsr.RGB) float32, x, y int) (mean, variance, center float64) {
		var sum, sumSq float64
		count := 0
		for wy := -half; wy <= half; wy++ {
			for wx := -half; wx <= half; wx++ {
				v := float64(get(img.AtClamped(x+wx, y+wy)))
				sum += v
				sumSq += v * v
				count++
			}
		}
		mean = sum / float64(count)
		variance = sumSq/float64(count) - mean*mean
		if variance < 0 {
			variance = 0
		}
		center = float64(get(img.At(x, y)))
		return
	}

	apply := func(mean, variance, center float64) float32 {
		denom := math.Max(variance, noiseVar)
		if denom == 0 {
			return float32(mean)
		}
		gain := math.Max(0, variance-noiseVar) / denom
		return float32(mean + gain*(center-mean))
	}

	getR := func(p mfsr.RGB) float32 { return p.R }
	getG := func(p mfsr.RGB) float32 { return p.G }
	getB := func(p mfsr.RGB) float32 { return p.B }

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rMean, rVar, rCenter := channel(getR, x, y)
			gMean, gVar, gCenter := channel(getG, x, y)
			bMean, bVar, bCenter := channel(getB, x, y)
			out.Set(x, y, mfsr.RGB{
				R: apply(rMean, rVar, rCenter),
				G: apply(gMean, gVar, gCenter),
				B: apply(bMean, bVar, bCenter),
			})
		}
	}
	return out
}
