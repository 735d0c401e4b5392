package pipeline

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/internal/parallel"
)

func solidFrame(w, h int, r, g, b float32) *mfsr.RGBBuffer {
	img := mfsr.NewBuffer[mfsr.RGB](w, h)
	for i := range img.Data() {
		img.Data()[i] = mfsr.RGB{R: r, G: g, B: b}
	}
	return img
}

func grayToRGB(gray *mfsr.GrayBuffer) *mfsr.RGBBuffer {
	out := mfsr.NewBuffer[mfsr.RGB](gray.Width(), gray.Height())
	for y := 0; y < gray.Height(); y++ {
		row := out.Row(y)
		for x := range row {
			v := gray.At(x, y)
			row[x] = mfsr.RGB{R: v, G: v, B: v}
		}
	}
	return out
}

func noiseRGB(w, h int, seed int64) *mfsr.RGBBuffer {
	r := rand.New(rand.NewSource(seed))
	img := mfsr.NewBuffer[float32](w, h)
	for i := range img.Data() {
		img.Data()[i] = float32(r.Float64())
	}
	return grayToRGB(img)
}

func shiftRGB(img *mfsr.RGBBuffer, dx, dy float64) *mfsr.RGBBuffer {
	w, h := img.Width(), img.Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = mfsr.BilinearRGB(img, float64(x)+dx, float64(y)+dy)
		}
	}
	return out
}

func TestRun_RejectsEmptyFrameList(t *testing.T) {
	_, err := Run(context.Background(), nil, 0, DefaultConfig())
	if err == nil {
		t.Fatal("expected an error for an empty frame list")
	}
	var merr *mfsr.Error
	if !asMfsrError(err, &merr) || merr.Kind != mfsr.InvalidInput {
		t.Fatalf("error = %v, want *mfsr.Error{Kind: InvalidInput}", err)
	}
}

func asMfsrError(err error, out **mfsr.Error) bool {
	e, ok := err.(*mfsr.Error)
	if ok {
		*out = e
	}
	return ok
}

func TestRun_FallbackInsufficientFrames(t *testing.T) {
	frames := []*mfsr.RGBBuffer{solidFrame(16, 16, 0.3, 0.4, 0.5)}
	res, err := Run(context.Background(), frames, 0, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedFallback || res.FallbackReason != mfsr.FallbackInsufficientFrames {
		t.Fatalf("result = %+v, want fallback with FallbackInsufficientFrames", res)
	}
	if res.Image.Width() != 32 || res.Image.Height() != 32 {
		t.Fatalf("fallback image size = %dx%d, want 32x32", res.Image.Width(), res.Image.Height())
	}
}

func TestRun_FallbackDimensionMismatch(t *testing.T) {
	frames := []*mfsr.RGBBuffer{
		solidFrame(16, 16, 0.1, 0.1, 0.1),
		solidFrame(12, 16, 0.1, 0.1, 0.1),
	}
	res, err := Run(context.Background(), frames, 0, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedFallback || res.FallbackReason != mfsr.FallbackDimensionMismatch {
		t.Fatalf("result = %+v, want fallback with FallbackDimensionMismatch", res)
	}
}

func TestRun_FallbackMemoryBudget(t *testing.T) {
	frames := []*mfsr.RGBBuffer{
		solidFrame(64, 64, 0.2, 0.2, 0.2),
		solidFrame(64, 64, 0.2, 0.2, 0.2),
	}
	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 0
	res, err := Run(context.Background(), frames, 0, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedFallback || res.FallbackReason != mfsr.FallbackMemoryBudget {
		t.Fatalf("result = %+v, want fallback with FallbackMemoryBudget", res)
	}
}

func TestRun_FallbackExcessiveMotion(t *testing.T) {
	ref := noiseRGB(256, 256, 7)
	moved := shiftRGB(ref, 40, -10) // magnitude ~41.2px, over the 32px precondition

	cfg := DefaultConfig()
	res, err := Run(context.Background(), []*mfsr.RGBBuffer{ref, moved}, 0, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedFallback || res.FallbackReason != mfsr.FallbackExcessiveMotion {
		t.Fatalf("result = %+v, want fallback with FallbackExcessiveMotion", res)
	}
}

func TestRun_StaticBurstSingleTileReproducesColor(t *testing.T) {
	frames := []*mfsr.RGBBuffer{
		solidFrame(24, 24, 0.4, 0.5, 0.6),
		solidFrame(24, 24, 0.4, 0.5, 0.6),
		solidFrame(24, 24, 0.4, 0.5, 0.6),
	}
	cfg := DefaultConfig()
	cfg.TileWidth, cfg.TileHeight = 24, 24 // single tile, no overlap blending to reason about
	cfg.Overlap = 0
	cfg.ScaleFactor = 2
	cfg.Robustness = RobustnessNone
	cfg.AlignmentMethod = DenseFlow

	res, err := Run(context.Background(), frames, 0, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UsedFallback {
		t.Fatalf("did not expect a fallback, got reason %v", res.FallbackReason)
	}
	if res.Image.Width() != 48 || res.Image.Height() != 48 {
		t.Fatalf("output size = %dx%d, want 48x48", res.Image.Width(), res.Image.Height())
	}

	for y := 4; y < 44; y++ {
		for x := 4; x < 44; x++ {
			v := res.Image.At(x, y)
			if math.Abs(float64(v.R-0.4)) > 0.05 || math.Abs(float64(v.G-0.5)) > 0.05 || math.Abs(float64(v.B-0.6)) > 0.05 {
				t.Fatalf("pixel (%d,%d) = %v, want near (0.4,0.5,0.6)", x, y, v)
			}
		}
	}
}

func TestRun_CancelledContextIsReportedAsCancelled(t *testing.T) {
	frames := []*mfsr.RGBBuffer{
		solidFrame(24, 24, 0.4, 0.5, 0.6),
		solidFrame(24, 24, 0.4, 0.5, 0.6),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, frames, 0, DefaultConfig())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	var merr *mfsr.Error
	if !asMfsrError(err, &merr) || merr.Kind != mfsr.Cancelled {
		t.Fatalf("error = %v, want *mfsr.Error{Kind: Cancelled}", err)
	}
}

func TestAlignmentMethod_String(t *testing.T) {
	cases := map[AlignmentMethod]string{
		DenseFlow: "dense_flow",
		PhaseCorr: "phase_corr",
		Hybrid:    "hybrid",
	}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", m, got, want)
		}
	}
}

func TestUniformFlowField_FillsEveryPixel(t *testing.T) {
	field := uniformFlowField(4, 3, 1.5, -2.5, 0.8)
	for _, v := range field.Data() {
		if v.DX != 1.5 || v.DY != -2.5 || v.Confidence != 0.8 {
			t.Fatalf("uniformFlowField element = %+v, want {1.5 -2.5 0.8}", v)
		}
	}
}

func TestCropRGB_ExtractsExactSubregion(t *testing.T) {
	img := mfsr.NewBuffer[mfsr.RGB](10, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, mfsr.RGB{R: float32(x), G: float32(y)})
		}
	}
	tl := parallel.Tile{PadX: 2, PadY: 3, PadW: 4, PadH: 5}
	out := cropRGB(img, tl)
	if out.Width() != 4 || out.Height() != 5 {
		t.Fatalf("crop size = %dx%d, want 4x5", out.Width(), out.Height())
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 4; x++ {
			got := out.At(x, y)
			want := img.At(2+x, 3+y)
			if got != want {
				t.Fatalf("crop(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}
