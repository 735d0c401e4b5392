package merge

import (
	"math"
	"testing"

	"github.com/burstsr/mfsr"
)

func gradientFrame(w, h int) *mfsr.RGBBuffer {
	img := mfsr.NewBuffer[mfsr.RGB](w, h)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for x := range row {
			v := float32(x) / float32(w-1)
			row[x] = mfsr.RGB{R: v, G: v, B: v}
		}
	}
	return img
}

func TestMerge_StaticBurstMatchesInput(t *testing.T) {
	frames := make([]*mfsr.RGBBuffer, 5)
	ref := gradientFrame(64, 64)
	for i := range frames {
		frames[i] = ref
	}
	cfg := DefaultConfig()
	cfg.ApplyWiener = false
	out := Merge(frames, nil, cfg)

	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			want := ref.At(x, y)
			got := out.At(x, y)
			if math.Abs(float64(got.R-want.R)) > 1e-6 {
				t.Fatalf("pixel (%d,%d) R = %v, want %v", x, y, got.R, want.R)
			}
		}
	}
}

func TestMerge_IdempotentOnSingleFrame(t *testing.T) {
	ref := gradientFrame(16, 16)
	methods := []Method{Average, TrimmedMean, MEstimator, Median}
	for _, m := range methods {
		cfg := DefaultConfig()
		cfg.Method = m
		cfg.ApplyWiener = false
		out := Merge([]*mfsr.RGBBuffer{ref}, nil, cfg)
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				if out.At(x, y) != ref.At(x, y) {
					t.Fatalf("method %v: pixel (%d,%d) = %v, want %v", m, x, y, out.At(x, y), ref.At(x, y))
				}
			}
		}
	}
}

func TestTrimmedMean_DropsOutliers(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 100}
	got := trimmedMean(samples, nil, 0.2)
	// Dropping the lowest and highest from 5 samples (floor(0.2*5)=1 each
	// end) leaves {2,3,4}, mean 3.
	if math.Abs(got-3) > 1e-9 {
		t.Fatalf("trimmedMean = %v, want 3", got)
	}
}

func TestHuber_RobustToOutlier(t *testing.T) {
	samples := []float64{10, 10.1, 9.9, 10.05, 1000}
	got := huber(samples, nil, 1.0)
	if math.Abs(got-10) > 1 {
		t.Fatalf("huber = %v, want near 10 (robust to the outlier)", got)
	}
}

func TestMedianOf_EvenAndOdd(t *testing.T) {
	if m := medianOf([]float64{3, 1, 2}); m != 2 {
		t.Fatalf("median odd = %v, want 2", m)
	}
	if m := medianOf([]float64{1, 2, 3, 4}); m != 2.5 {
		t.Fatalf("median even = %v, want 2.5", m)
	}
}

func TestMergeAdaptive_PerPixelDeltaOverridesOutlierResistance(t *testing.T) {
	// Three flat 2x1 frames: two agree at 10, one is a 1000 outlier. With
	// a tight delta the majority wins (Huber-robust); with a very loose
	// delta the outlier is weighted almost like an inlier and pulls the
	// estimate well above the agreeing pair.
	w, h := 2, 1
	a := mfsr.NewBuffer[mfsr.RGB](w, h)
	b := mfsr.NewBuffer[mfsr.RGB](w, h)
	c := mfsr.NewBuffer[mfsr.RGB](w, h)
	for x := 0; x < w; x++ {
		a.Set(x, 0, mfsr.RGB{R: 10, G: 10, B: 10})
		b.Set(x, 0, mfsr.RGB{R: 10, G: 10, B: 10})
		c.Set(x, 0, mfsr.RGB{R: 1000, G: 1000, B: 1000})
	}

	deltaField := mfsr.NewBuffer[float32](w, h)
	deltaField.Set(0, 0, 1.0)
	deltaField.Set(1, 0, 1000.0)

	cfg := DefaultConfig()
	cfg.Method = MEstimator
	cfg.ApplyWiener = false
	out := MergeAdaptive([]*mfsr.RGBBuffer{a, b, c}, nil, deltaField, cfg)

	if got := out.At(0, 0).R; got > 100 {
		t.Fatalf("tight delta at x=0: R = %v, want robust to the outlier (near 10)", got)
	}
	if got := out.At(1, 0).R; got < 300 {
		t.Fatalf("loose delta at x=1: R = %v, want pulled well above the agreeing pair", got)
	}
}

func TestMergeAdaptive_NilDeltaFieldMatchesMerge(t *testing.T) {
	frames := make([]*mfsr.RGBBuffer, 3)
	ref := gradientFrame(8, 8)
	for i := range frames {
		frames[i] = ref
	}
	cfg := DefaultConfig()
	cfg.Method = MEstimator
	cfg.ApplyWiener = false

	want := Merge(frames, nil, cfg)
	got := MergeAdaptive(frames, nil, nil, cfg)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if got.At(x, y) != want.At(x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got.At(x, y), want.At(x, y))
			}
		}
	}
}

func TestWienerFilter_FlatRegionUnchanged(t *testing.T) {
	img := mfsr.NewBuffer[mfsr.RGB](10, 10)
	for i := range img.Data() {
		img.Data()[i] = mfsr.RGB{R: 0.5, G: 0.5, B: 0.5}
	}
	out := WienerFilter(img, 5, 0.001)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := out.At(x, y)
			if math.Abs(float64(v.R-0.5)) > 1e-6 {
				t.Fatalf("flat region should be unchanged, got %v", v.R)
			}
		}
	}
}
