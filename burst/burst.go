// Package burst implements the top-level stage state machine of spec.md
// §4.12: it drives a burst of YUV frames through conversion, alignment,
// fusion, and edge/mask diagnostics, delegating the actual tile-based
// synthesis to package pipeline.
package burst

import (
	"context"
	"errors"
	"image"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/internal/aniso"
	"github.com/burstsr/mfsr/internal/edge"
	"github.com/burstsr/mfsr/internal/pyramid"
	"github.com/burstsr/mfsr/pipeline"

	"golang.org/x/image/draw"
)

// Stage is one state of the orchestrator's state machine, spec.md §4.12.
type Stage int

const (
	StageIdle Stage = iota
	StageConvertingYUV
	StageBuildingPyramids
	StageAligningFrames
	StageMergingFrames
	StageComputingEdges
	StageGeneratingMask
	StageMultiFrameSR
	StageComplete
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageConvertingYUV:
		return "CONVERTING_YUV"
	case StageBuildingPyramids:
		return "BUILDING_PYRAMIDS"
	case StageAligningFrames:
		return "ALIGNING_FRAMES"
	case StageMergingFrames:
		return "MERGING_FRAMES"
	case StageComputingEdges:
		return "COMPUTING_EDGES"
	case StageGeneratingMask:
		return "GENERATING_MASK"
	case StageMultiFrameSR:
		return "MULTI_FRAME_SR"
	case StageComplete:
		return "COMPLETE"
	case StageError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ProgressFunc is invoked from the stage-driver goroutine as each stage
// makes progress. progress is monotone non-decreasing within a single
// stage, normalized to [0,1]. Implementations must not call back into the
// Orchestrator, per spec.md §6.
type ProgressFunc func(stage Stage, progress float64, message string)

// nonfiniteFractionThreshold is the spec.md §7 escalation threshold: a
// non-finite pixel fraction at or above this value escalates to
// mfsr.NumericDegenerate instead of silently sanitizing.
const nonfiniteFractionThreshold = 0.001

// Result is the outcome of a completed or fallen-back burst run.
type Result struct {
	Image          *mfsr.RGBImage
	UsedFallback   bool
	FallbackReason mfsr.FallbackReason
	ReferenceIndex int

	// EdgeMagnitude and DetailMask are diagnostic outputs computed over
	// Image's luminance (spec.md §4.3); nil when the run failed before
	// reaching those stages.
	EdgeMagnitude *mfsr.GrayBuffer
	DetailMask    *mfsr.ByteBuffer
}

// options holds the Orchestrator's construction-time choices. Unlike the
// numerically-dense per-component Config structs (spec.md §6), these are
// true opt-in toggles, so the functional-option shape applies here the
// same way it does to the teacher's gg.NewContext.
type options struct {
	referenceIndex      int
	edgeOperator        edge.Operator
	detailMaskTileSize  int
	detailMaskThreshold float32
	maskDilateRadius    int
	anisoConfig         aniso.Config
	refineAnisotropic   bool
	progress            ProgressFunc
	pyramidLevels       int
}

func defaultOptions() options {
	return options{
		referenceIndex:      -1, // middle frame
		edgeOperator:        edge.Sobel,
		detailMaskTileSize:  16,
		detailMaskThreshold: 0.1,
		maskDilateRadius:    0,
		anisoConfig:         aniso.DefaultConfig(),
		refineAnisotropic:   true,
		progress:            func(Stage, float64, string) {},
		pyramidLevels:       4,
	}
}

// Option configures an Orchestrator during construction.
type Option func(*options)

// WithReferenceIndex selects the burst's reference frame: >=0 is an
// explicit index (clamped to [0,N) at run time), -1 selects the middle
// frame, per spec.md §4.12.
func WithReferenceIndex(idx int) Option {
	return func(o *options) { o.referenceIndex = idx }
}

// WithProgress registers a callback invoked as each stage progresses.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.progress = fn
		}
	}
}

// WithEdgeOperator selects the gradient operator used for the
// COMPUTING_EDGES stage's diagnostic magnitude map.
func WithEdgeOperator(op edge.Operator) Option {
	return func(o *options) { o.edgeOperator = op }
}

// WithDetailMask configures the GENERATING_MASK stage's tile size and
// mean-magnitude threshold, and an optional dilation radius (0 disables
// dilation).
func WithDetailMask(tileSize int, threshold float32, dilateRadius int) Option {
	return func(o *options) {
		o.detailMaskTileSize = tileSize
		o.detailMaskThreshold = threshold
		o.maskDilateRadius = dilateRadius
	}
}

// WithAnisotropicRefinement toggles the MULTI_FRAME_SR stage's final
// structure-tensor-guided refinement pass (spec.md's overview: "merger or
// drizzle accumulates -> anisotropic filter -> output image"), and its
// config. Enabled by default.
func WithAnisotropicRefinement(enabled bool, cfg aniso.Config) Option {
	return func(o *options) {
		o.refineAnisotropic = enabled
		o.anisoConfig = cfg
	}
}

// WithPyramidLevels bounds the diagnostic reference pyramid built during
// BUILDING_PYRAMIDS (spec.md §4.2's level cap; actual alignment kernels
// build their own pyramids internally and are unaffected by this value).
func WithPyramidLevels(levels int) Option {
	return func(o *options) { o.pyramidLevels = levels }
}

// Orchestrator drives a burst of frames through the full state machine of
// spec.md §4.12. It is not safe for concurrent Run calls.
type Orchestrator struct {
	width, height int
	opts          options
	stage         Stage
}

// New constructs an Orchestrator for width x height frames.
func New(width, height int, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{width: width, height: height, opts: o}
}

// Stage returns the orchestrator's current state.
func (o *Orchestrator) Stage() Stage { return o.stage }

// Reset clears a terminal ERROR state back to IDLE, per spec.md §4.12
// ("ERROR ... terminal until reset").
func (o *Orchestrator) Reset() { o.stage = StageIdle }

func (o *Orchestrator) fail(op string, kind mfsr.ErrorKind, cause error) (Result, error) {
	o.stage = StageError
	mfsr.Logger().Error("burst run failed", "op", op, "kind", kind.String(), "err", cause)
	return Result{}, mfsr.NewError(kind, op, cause)
}

func (o *Orchestrator) advance(stage Stage, progress float64, message string) {
	o.stage = stage
	mfsr.Logger().Debug("burst stage", "stage", stage.String(), "progress", progress, "message", message)
	o.opts.progress(stage, progress, message)
}

// resolveReferenceIndex implements spec.md §4.12's reference selection:
// explicit index >=0 (clamped into [0,N)), -1 = middle, otherwise clamped
// to [0,N).
func resolveReferenceIndex(idx, n int) int {
	if idx == -1 {
		return n / 2
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Run drives frames through the full burst state machine, producing a
// single super-resolved image plus diagnostics. ctx is polled for
// cancellation between every stage (and, within pipeline.Run, between
// tiles); a cancelled context discards any partial output.
func (o *Orchestrator) Run(ctx context.Context, frames []mfsr.YUVFrame, cfg pipeline.Config) (Result, error) {
	if o.stage == StageError {
		return o.fail("burst.Run", mfsr.InvalidInput, errors.New("orchestrator is in ERROR state; call Reset first"))
	}
	if len(frames) == 0 {
		return o.fail("burst.Run", mfsr.InvalidInput, errors.New("no frames"))
	}
	for _, f := range frames {
		if f.Width != o.width || f.Height != o.height {
			return o.fail("burst.Run", mfsr.InvalidInput, errors.New("frame dimensions do not match orchestrator dimensions"))
		}
	}
	if err := ctx.Err(); err != nil {
		return o.fail("burst.Run", mfsr.Cancelled, err)
	}

	refIdx := resolveReferenceIndex(o.opts.referenceIndex, len(frames))

	o.advance(StageConvertingYUV, 0, "converting YUV frames to RGB")
	rgbFrames := make([]*mfsr.RGBBuffer, len(frames))
	for i := range frames {
		f := frames[i]
		rgbFrames[i] = f.ToRGB()
		o.advance(StageConvertingYUV, float64(i+1)/float64(len(frames)), "converted frame")
	}
	if err := ctx.Err(); err != nil {
		return o.fail("burst.Run", mfsr.Cancelled, err)
	}

	o.advance(StageBuildingPyramids, 0, "building reference pyramid")
	refGray := mfsr.Luminance(rgbFrames[refIdx])
	refPyramid := pyramid.BuildGaussian(refGray, o.opts.pyramidLevels)
	o.advance(StageBuildingPyramids, 1, "reference pyramid built")
	if err := ctx.Err(); err != nil {
		return o.fail("burst.Run", mfsr.Cancelled, err)
	}
	_ = refPyramid // diagnostic only: validates the burst's frames support multi-level alignment

	o.advance(StageAligningFrames, 0, "aligning frames")
	pres, err := pipeline.Run(ctx, rgbFrames, refIdx, cfg)
	if err != nil {
		var merr *mfsr.Error
		if errors.As(err, &merr) {
			return o.fail("burst.Run", merr.Kind, merr.Err)
		}
		return o.fail("burst.Run", mfsr.InvalidInput, err)
	}
	o.advance(StageAligningFrames, 1, "alignment complete")
	o.advance(StageMergingFrames, 1, "merge and drizzle complete")

	if pres.UsedFallback {
		o.advance(StageComplete, 1, "used fallback path")
		return Result{
			Image:          pres.Image,
			UsedFallback:   true,
			FallbackReason: pres.FallbackReason,
			ReferenceIndex: refIdx,
		}, nil
	}

	finalImage := pres.Image
	o.advance(StageMultiFrameSR, 0, "refining synthesized image")
	if o.opts.refineAnisotropic {
		finalGray := mfsr.Luminance(finalImage)
		upFrames := make([]*mfsr.RGBBuffer, len(rgbFrames))
		for i, f := range rgbFrames {
			upFrames[i] = upscaleBilinear(f, finalImage.Width(), finalImage.Height())
		}
		finalImage = aniso.Merge(finalGray, upFrames, o.opts.anisoConfig)
	}
	o.advance(StageMultiFrameSR, 1, "refinement complete")
	if err := ctx.Err(); err != nil {
		return o.fail("burst.Run", mfsr.Cancelled, err)
	}

	replaced := finalImage.Sanitize()
	total := finalImage.Width() * finalImage.Height()
	if total > 0 && float64(replaced)/float64(total) >= nonfiniteFractionThreshold {
		return o.fail("burst.Run", mfsr.NumericDegenerate, errors.New("non-finite pixel fraction exceeds 0.1%"))
	}

	o.advance(StageComputingEdges, 0, "computing edge magnitude")
	finalGray := mfsr.Luminance(finalImage)
	gx, gy := edge.Gradient(finalGray, o.opts.edgeOperator)
	magnitude := edge.Magnitude(gx, gy)
	o.advance(StageComputingEdges, 1, "edge magnitude computed")
	if err := ctx.Err(); err != nil {
		return o.fail("burst.Run", mfsr.Cancelled, err)
	}

	o.advance(StageGeneratingMask, 0, "generating detail mask")
	mask := edge.DetailMask(magnitude, o.opts.detailMaskTileSize, o.opts.detailMaskThreshold)
	if o.opts.maskDilateRadius > 0 {
		mask = edge.Dilate(mask, o.opts.maskDilateRadius)
	}
	o.advance(StageGeneratingMask, 1, "detail mask complete")

	o.advance(StageComplete, 1, "burst complete")
	return Result{
		Image:          finalImage,
		ReferenceIndex: refIdx,
		EdgeMagnitude:  magnitude,
		DetailMask:     mask,
	}, nil
}

// upscaleBilinear resizes src to exactly dstW x dstH using bilinear
// interpolation, reusing the same golang.org/x/image/draw resampler the
// tile pipeline's own fallback path uses.
func upscaleBilinear(src *mfsr.RGBBuffer, dstW, dstH int) *mfsr.RGBBuffer {
	dst := mfsr.NewBuffer[mfsr.RGB](dstW, dstH)
	dstRect := image.Rect(0, 0, dstW, dstH)
	srcRect := image.Rect(0, 0, src.Width(), src.Height())
	draw.BiLinear.Scale(mfsr.AsDrawImage(dst), dstRect, mfsr.AsImage(src), srcRect, draw.Src, nil)
	return dst
}
