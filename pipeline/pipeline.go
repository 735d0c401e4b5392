// Package pipeline implements the tile-based multi-frame super-resolution
// synthesis stage of spec.md §4.11: an overlapping tile grid, per-tile
// alignment/merge/upscale, linear-ramp overlap blending, and the
// whole-burst fallback conditions.
package pipeline

import (
	"context"
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/gpuaccel"
	"github.com/burstsr/mfsr/internal/align/flow"
	"github.com/burstsr/mfsr/internal/align/phase"
	"github.com/burstsr/mfsr/internal/drizzle"
	"github.com/burstsr/mfsr/internal/merge"
	"github.com/burstsr/mfsr/internal/parallel"
)

// AlignmentMethod selects the per-tile alignment strategy, spec.md §6
// "Pipeline: alignment_method".
type AlignmentMethod int

const (
	DenseFlow AlignmentMethod = iota
	PhaseCorr
	Hybrid
)

func (m AlignmentMethod) String() string {
	switch m {
	case DenseFlow:
		return "dense_flow"
	case PhaseCorr:
		return "phase_corr"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Robustness selects the merge kernel's outlier-resistance behavior.
type Robustness int

const (
	RobustnessNone Robustness = iota
	RobustnessHuber
	RobustnessTukey
)

// excessiveMotionPx is the fixed precondition threshold from spec.md
// §4.11; unlike every per-component tunable it is not configurable.
const excessiveMotionPx = 32.0

// Config holds the tunables named in spec.md §6 "Pipeline".
type Config struct {
	TileWidth, TileHeight, Overlap, ScaleFactor int
	Robustness                                  Robustness
	RobustnessThreshold                         float64
	MaxMemoryMB                                 int
	AlignmentMethod                             AlignmentMethod
	// Workers bounds the worker pool size; <= 0 uses GOMAXPROCS, matching
	// internal/parallel.NewWorkerPool's own default.
	Workers int
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		TileWidth:           256,
		TileHeight:          256,
		Overlap:             32,
		ScaleFactor:         2,
		Robustness:          RobustnessHuber,
		RobustnessThreshold: 0.8,
		MaxMemoryMB:         200,
		AlignmentMethod:     Hybrid,
	}
}

// Result is the synthesized image plus whether (and why) the pipeline
// fell back to a single-frame upscale instead of running full MFSR.
type Result struct {
	Image          *mfsr.RGBImage
	UsedFallback   bool
	FallbackReason mfsr.FallbackReason
}

// Run synthesizes a super-resolved image from frames (all the same size)
// against frames[refIndex], per spec.md §4.11. ctx is polled for
// cancellation before tile dispatch begins and before each tile's work;
// a cancelled context discards any partial output and returns a
// *mfsr.Error{Kind: mfsr.Cancelled}, per spec.md §7.
func Run(ctx context.Context, frames []*mfsr.RGBBuffer, refIndex int, cfg Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, mfsr.NewError(mfsr.Cancelled, "pipeline.Run", err)
	}
	if len(frames) == 0 {
		return Result{}, mfsr.NewError(mfsr.InvalidInput, "pipeline.Run", errors.New("no frames"))
	}
	if refIndex < 0 || refIndex >= len(frames) {
		return Result{}, mfsr.NewError(mfsr.InvalidInput, "pipeline.Run", errors.New("reference index out of range"))
	}
	ref := frames[refIndex]
	if ref.Width() == 0 || ref.Height() == 0 {
		return Result{}, mfsr.NewError(mfsr.InvalidInput, "pipeline.Run", errors.New("empty reference frame"))
	}
	w, h := ref.Width(), ref.Height()

	for _, f := range frames {
		if f.Width() != w || f.Height() != h {
			return fallback(ref, cfg, mfsr.FallbackDimensionMismatch), nil
		}
	}
	if len(frames) < 2 {
		return fallback(ref, cfg, mfsr.FallbackInsufficientFrames), nil
	}
	if estimateGlobalMotion(frames, refIndex) > excessiveMotionPx {
		return fallback(ref, cfg, mfsr.FallbackExcessiveMotion), nil
	}
	if estimateMemoryMB(w, h, len(frames), cfg) > float64(cfg.MaxMemoryMB) {
		return fallback(ref, cfg, mfsr.FallbackMemoryBudget), nil
	}

	tiles := parallel.Grid(w, h, cfg.TileWidth, cfg.TileHeight, cfg.Overlap)
	if len(tiles) == 0 {
		return fallback(ref, cfg, mfsr.FallbackDimensionMismatch), nil
	}

	lums := make([]*mfsr.GrayBuffer, len(frames))
	for i, f := range frames {
		lums[i] = mfsr.Luminance(f)
	}

	scale := cfg.ScaleFactor
	outW, outH := w*scale, h*scale
	out := mfsr.NewBuffer[mfsr.RGB](outW, outH)
	weightMap := mfsr.NewBuffer[float32](outW, outH)

	pool := parallel.NewWorkerPool(cfg.Workers)
	defer pool.Close()

	tileOut := make([]tileResult, len(tiles))
	work := make([]func(), len(tiles))
	for i, tl := range tiles {
		i, tl := i, tl
		work[i] = func() {
			if ctx.Err() != nil {
				return
			}
			tileOut[i] = processTile(tl, frames, lums, refIndex, scale, cfg)
		}
	}
	pool.ExecuteAll(work)

	if err := ctx.Err(); err != nil {
		return Result{}, mfsr.NewError(mfsr.Cancelled, "pipeline.Run", err)
	}

	// Accumulate in ascending tile-id order (tiles, and therefore
	// tileOut, are already in that order from parallel.Grid) so the
	// result does not depend on worker count, per SPEC_FULL.md §5.
	for _, tr := range tileOut {
		accumulate(out, weightMap, tr, scale, cfg.Overlap)
	}

	for i, wgt := range weightMap.Data() {
		if wgt <= 0 {
			continue
		}
		px := out.Data()[i]
		out.Data()[i] = mfsr.RGB{
			R: clampOut(px.R / wgt),
			G: clampOut(px.G / wgt),
			B: clampOut(px.B / wgt),
		}
	}

	return Result{Image: out}, nil
}

func clampOut(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fallback synthesizes the single-frame bilinear ×scale upscale of the
// reference frame, per spec.md §4.11's fallback path. The decision is
// logged at Warn here, at its single point of origin, rather than
// re-logged by every caller.
func fallback(ref *mfsr.RGBBuffer, cfg Config, reason mfsr.FallbackReason) Result {
	mfsr.Logger().Warn("pipeline falling back to single-frame upscale", "reason", reason.String())
	scale := cfg.ScaleFactor
	if scale < 1 {
		scale = 1
	}
	dst := mfsr.NewBuffer[mfsr.RGB](ref.Width()*scale, ref.Height()*scale)
	dstRect := image.Rect(0, 0, dst.Width(), dst.Height())
	srcRect := image.Rect(0, 0, ref.Width(), ref.Height())
	draw.BiLinear.Scale(mfsr.AsDrawImage(dst), dstRect, mfsr.AsImage(ref), srcRect, draw.Src, nil)
	return Result{Image: dst, UsedFallback: true, FallbackReason: reason}
}

// estimateGlobalMotion returns the largest phase-correlation shift
// magnitude of any frame against the reference, used as the pipeline's
// cheap excessive-motion precondition check.
func estimateGlobalMotion(frames []*mfsr.RGBBuffer, refIndex int) float64 {
	refGray := mfsr.Luminance(frames[refIndex])
	c := phase.New(phase.DefaultConfig())
	c.SetReference(refGray)

	var maxMag float64
	for i, f := range frames {
		if i == refIndex {
			continue
		}
		res := c.Correlate(mfsr.Luminance(f))
		mag := math.Hypot(res.ShiftX, res.ShiftY)
		if mag > maxMag {
			maxMag = mag
		}
	}
	return maxMag
}

// estimateMemoryMB approximates the working-set size of the per-tile
// pipeline: every frame's padded RGB+gray crops plus the scaled output
// and weight map, in megabytes.
func estimateMemoryMB(w, h, numFrames int, cfg Config) float64 {
	const bytesPerRGBPixel = 12  // 3 x float32
	const bytesPerGrayPixel = 4  // 1 x float32
	scale := cfg.ScaleFactor
	if scale < 1 {
		scale = 1
	}
	inputBytes := float64(w) * float64(h) * float64(numFrames) * (bytesPerRGBPixel + bytesPerGrayPixel)
	outputBytes := float64(w) * float64(h) * float64(scale*scale) * (bytesPerRGBPixel + bytesPerGrayPixel)
	return (inputBytes + outputBytes) / (1024 * 1024)
}

// tileResult is one tile's synthesized, already-scaled output crop.
type tileResult struct {
	tile  parallel.Tile
	image *mfsr.RGBBuffer // scale*PadW x scale*PadH
}

// processTile runs per-tile alignment, optional robust merge, and
// drizzle upscale for a single tile's padded crop across all frames.
func processTile(tl parallel.Tile, frames []*mfsr.RGBBuffer, lums []*mfsr.GrayBuffer, refIndex, scale int, cfg Config) tileResult {
	refCropGray := cropGray(lums[refIndex], tl)

	warped := make([]*mfsr.RGBBuffer, len(frames))
	avgConfidence := make([]float64, len(frames))

	if acc := gpuaccel.Accelerator(); acc != nil {
		desc := gpuaccel.TileDescriptor{
			Width: uint32(tl.PadW), Height: uint32(tl.PadH),
			Scale: uint32(scale),
		}
		if img, err := acc.SynthesizeTile(desc, frames, tl.PadX, tl.PadY); err == nil {
			return tileResult{tile: tl, image: img}
		}
		// Any error, including gpuaccel.ErrFallbackToCPU, silently falls
		// back to the CPU kernels below (spec.md §4.13).
	}

	for i, f := range frames {
		rgbCrop := cropRGB(f, tl)
		if i == refIndex {
			warped[i] = rgbCrop
			avgConfidence[i] = 1
			continue
		}
		targetCropGray := cropGray(lums[i], tl)
		field, conf := alignCrop(refCropGray, targetCropGray, cfg.AlignmentMethod)
		warped[i] = warpRGBField(rgbCrop, field)
		avgConfidence[i] = conf
	}

	meanConfidence := 0.0
	for i, c := range avgConfidence {
		if i == refIndex {
			continue
		}
		meanConfidence += c
	}
	if n := len(frames) - 1; n > 0 {
		meanConfidence /= float64(n)
	} else {
		meanConfidence = 1
	}

	var drizzleFrames []*mfsr.RGBBuffer
	var shifts []mfsr.SubPixelShift
	if cfg.Robustness == RobustnessNone {
		drizzleFrames = warped
		shifts = make([]mfsr.SubPixelShift, len(warped))
		for i := range shifts {
			shifts[i] = mfsr.SubPixelShift{Weight: 1}
		}
	} else {
		mergeCfg := merge.DefaultConfig()
		mergeCfg.Method = merge.MEstimator
		if meanConfidence >= cfg.RobustnessThreshold {
			mergeCfg.HuberDelta *= 0.5 + 0.5*meanConfidence
		}
		merged := merge.Merge(warped, nil, mergeCfg)
		drizzleFrames = []*mfsr.RGBBuffer{merged}
		shifts = []mfsr.SubPixelShift{{Weight: 1}}
	}

	drizzleCfg := drizzle.DefaultConfig()
	drizzleCfg.ScaleFactor = scale
	drizzleCfg.Pixfrac = 1.0 // frames are already warped onto one grid; full-coverage splat reproduces a clean upscale
	res := drizzle.Drizzle(drizzleFrames, shifts, drizzleCfg)

	return tileResult{tile: tl, image: res.Image}
}

// alignCrop aligns target against ref using the configured method,
// returning a per-pixel flow field (uniform for phase-only modes) and
// its mean confidence.
func alignCrop(ref, target *mfsr.GrayBuffer, method AlignmentMethod) (*mfsr.FlowField, float64) {
	switch method {
	case PhaseCorr:
		c := phase.New(phase.DefaultConfig())
		c.SetReference(ref)
		res := c.Correlate(target)
		conf := res.Confidence
		if !res.Valid {
			conf = 0
		}
		return uniformFlowField(ref.Width(), ref.Height(), res.ShiftX, res.ShiftY, conf), conf
	case Hybrid:
		c := phase.New(phase.DefaultConfig())
		c.SetReference(ref)
		pres := c.Correlate(target)
		seed := mfsr.Homography{M: [9]float64{1, 0, pres.ShiftX, 0, 1, pres.ShiftY, 0, 0, 1}}
		est := flow.New(flow.DefaultConfig())
		est.SetReference(ref)
		fres := est.Estimate(target, &seed)
		return fres.Field, fres.Coverage
	default: // DenseFlow
		est := flow.New(flow.DefaultConfig())
		est.SetReference(ref)
		fres := est.Estimate(target, nil)
		return fres.Field, fres.Coverage
	}
}

func uniformFlowField(w, h int, dx, dy, conf float64) *mfsr.FlowField {
	out := mfsr.NewBuffer[mfsr.FlowVector](w, h)
	v := mfsr.FlowVector{DX: dx, DY: dy, Confidence: conf}
	for i := range out.Data() {
		out.Data()[i] = v
	}
	return out
}

// warpRGBField resamples src at (x+dx, y+dy) per pixel, matching the
// convention target(x+dx,y+dy) ~= reference(x,y) under which
// internal/align/flow's refine loop samples the target.
func warpRGBField(src *mfsr.RGBBuffer, field *mfsr.FlowField) *mfsr.RGBBuffer {
	w, h := src.Width(), src.Height()
	out := mfsr.NewBuffer[mfsr.RGB](w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := range row {
			fv := field.At(x, y)
			row[x] = mfsr.BilinearRGB(src, float64(x)+fv.DX, float64(y)+fv.DY)
		}
	}
	return out
}

func cropGray(img *mfsr.GrayBuffer, tl parallel.Tile) *mfsr.GrayBuffer {
	out := mfsr.NewBuffer[float32](tl.PadW, tl.PadH)
	for y := 0; y < tl.PadH; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = img.At(tl.PadX+x, tl.PadY+y)
		}
	}
	return out
}

func cropRGB(img *mfsr.RGBBuffer, tl parallel.Tile) *mfsr.RGBBuffer {
	out := mfsr.NewBuffer[mfsr.RGB](tl.PadW, tl.PadH)
	for y := 0; y < tl.PadH; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = img.At(tl.PadX+x, tl.PadY+y)
		}
	}
	return out
}

// accumulate blends one tile's scaled output crop into the shared output
// and weight map using the linear-ramp overlap weight, evaluated in
// input-pixel space and broadcast across each scale x scale output block,
// per spec.md §4.11 ("output coords = input coords x scale_factor").
func accumulate(out *mfsr.RGBBuffer, weightMap *mfsr.GrayBuffer, tr tileResult, scale, overlap int) {
	tl := tr.tile
	for ly := 0; ly < tl.PadH; ly++ {
		for lx := 0; lx < tl.PadW; lx++ {
			weight := tl.OverlapWeight(lx, ly, overlap)
			if weight <= 0 {
				continue
			}
			baseX := (tl.PadX + lx) * scale
			baseY := (tl.PadY + ly) * scale
			for sy := 0; sy < scale; sy++ {
				oy := baseY + sy
				for sx := 0; sx < scale; sx++ {
					ox := baseX + sx
					px := tr.image.At(lx*scale+sx, ly*scale+sy)
					acc := out.At(ox, oy)
					out.Set(ox, oy, mfsr.RGB{
						R: acc.R + float32(weight)*px.R,
						G: acc.G + float32(weight)*px.G,
						B: acc.B + float32(weight)*px.B,
					})
					weightMap.Set(ox, oy, weightMap.At(ox, oy)+float32(weight))
				}
			}
		}
	}
}
