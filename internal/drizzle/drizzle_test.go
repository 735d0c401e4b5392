package drizzle

import (
	"math"
	"testing"

	"github.com/burstsr/mfsr"
)

func solidFrame(w, h int, r, g, b float32) *mfsr.RGBBuffer {
	img := mfsr.NewBuffer[mfsr.RGB](w, h)
	for i := range img.Data() {
		img.Data()[i] = mfsr.RGB{R: r, G: g, B: b}
	}
	return img
}

func impulseFrame(w, h, cx, cy int) *mfsr.RGBBuffer {
	img := mfsr.NewBuffer[mfsr.RGB](w, h)
	img.Set(cx, cy, mfsr.RGB{R: 1, G: 1, B: 1})
	return img
}

func TestDrizzle_IdenticalFramesReproduceScaledOriginal(t *testing.T) {
	const n = 4
	frames := make([]*mfsr.RGBBuffer, n)
	shifts := make([]mfsr.SubPixelShift, n)
	for i := range frames {
		frames[i] = solidFrame(8, 8, 0.4, 0.6, 0.8)
		shifts[i] = mfsr.SubPixelShift{Weight: 1}
	}
	cfg := DefaultConfig()
	cfg.Pixfrac = 1.0
	res := Drizzle(frames, shifts, cfg)

	if res.Image.Width() != 16 || res.Image.Height() != 16 {
		t.Fatalf("output size = %dx%d, want 16x16", res.Image.Width(), res.Image.Height())
	}
	for y := 2; y < 14; y++ {
		for x := 2; x < 14; x++ {
			v := res.Image.At(x, y)
			if math.Abs(float64(v.R-0.4)) > 1e-3 || math.Abs(float64(v.G-0.6)) > 1e-3 || math.Abs(float64(v.B-0.8)) > 1e-3 {
				t.Fatalf("pixel (%d,%d) = %v, want (0.4,0.6,0.8)", x, y, v)
			}
		}
	}
}

func TestDrizzle_EmptyAccumulatorIsBlackWithZeroWeight(t *testing.T) {
	frames := []*mfsr.RGBBuffer{solidFrame(4, 4, 1, 1, 1)}
	shifts := []mfsr.SubPixelShift{{Weight: 0}} // zero frame weight adds nothing to any accumulator
	cfg := DefaultConfig()
	res := Drizzle(frames, shifts, cfg)
	for i := range res.Image.Data() {
		if res.Image.Data()[i] != (mfsr.RGB{}) {
			t.Fatalf("pixel %d should be black, got %v", i, res.Image.Data()[i])
		}
		if res.WeightMap.Data()[i] != 0 {
			t.Fatalf("weight %d should be zero, got %v", i, res.WeightMap.Data()[i])
		}
	}
}

func TestDrizzle_SubPixelShiftOfImpulsesAccumulatesNearCenter(t *testing.T) {
	frames := []*mfsr.RGBBuffer{
		impulseFrame(9, 9, 4, 4),
		impulseFrame(9, 9, 4, 4),
		impulseFrame(9, 9, 4, 4),
		impulseFrame(9, 9, 4, 4),
	}
	shifts := []mfsr.SubPixelShift{
		{DX: 0, DY: 0, Weight: 1},
		{DX: 0.25, DY: 0, Weight: 1},
		{DX: 0, DY: 0.25, Weight: 1},
		{DX: 0.25, DY: 0.25, Weight: 1},
	}
	cfg := DefaultConfig()
	res := Drizzle(frames, shifts, cfg)

	var totalWeight float64
	for _, w := range res.WeightMap.Data() {
		totalWeight += float64(w)
	}
	if totalWeight <= 0 {
		t.Fatalf("expected nonzero total accumulated weight, got %v", totalWeight)
	}

	// Peak output brightness should land near output (8,8)..(9,9), the
	// scaled impulse location, not scattered arbitrarily. (The weight map
	// counts drops from every input pixel, bright or not, so it does not
	// locate the impulse.)
	peakX, peakY, peakW := -1, -1, float32(0)
	for y := 0; y < res.Image.Height(); y++ {
		for x := 0; x < res.Image.Width(); x++ {
			if v := res.Image.At(x, y).R; v > peakW {
				peakX, peakY, peakW = x, y, v
			}
		}
	}
	if peakX < 6 || peakX > 11 || peakY < 6 || peakY > 11 {
		t.Fatalf("peak brightness at (%d,%d), want near (8,8)", peakX, peakY)
	}
}

func TestBoundsInt_ClampsToRange(t *testing.T) {
	x0, x1 := boundsInt(-3, 2.5, 10)
	if x0 != 0 || x1 != 3 {
		t.Fatalf("boundsInt(-3,2.5,10) = (%d,%d), want (0,3)", x0, x1)
	}
	x0, x1 = boundsInt(7.5, 20, 10)
	if x0 != 7 || x1 != 9 {
		t.Fatalf("boundsInt(7.5,20,10) = (%d,%d), want (7,9)", x0, x1)
	}
}

func TestShiftsFromHomographies_ReferenceIsZero(t *testing.T) {
	h0 := mfsr.IdentityHomography()
	h1 := mfsr.Homography{M: [9]float64{1, 0, 3, 0, 1, -2, 0, 0, 1}}
	shifts := ShiftsFromHomographies([]mfsr.Homography{h0, h1}, 0)

	if shifts[0].DX != 0 || shifts[0].DY != 0 || shifts[0].Weight != 1 {
		t.Fatalf("reference shift = %+v, want zero shift, weight 1", shifts[0])
	}
	if math.Abs(shifts[1].DX+3) > 1e-9 || math.Abs(shifts[1].DY-2) > 1e-9 {
		t.Fatalf("non-reference shift = %+v, want (-3,2)", shifts[1])
	}
}
