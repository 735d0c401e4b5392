// Command burstsr runs the multi-frame super-resolution pipeline over a
// burst of still images and writes the synthesized result as PNG.
//
// Usage:
//
//	burstsr [options] <frame1> <frame2> [more frames...]
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/burstsr/mfsr"
	"github.com/burstsr/mfsr/burst"
	"github.com/burstsr/mfsr/internal/aniso"
	"github.com/burstsr/mfsr/pipeline"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "burstsr: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("burstsr", flag.ContinueOnError)
	output := fs.String("o", "output.png", "output PNG path")
	refIndex := fs.Int("ref", -1, "reference frame index (-1 = middle frame)")
	scale := fs.Int("scale", 2, "super-resolution scale factor")
	tileWidth := fs.Int("tile-width", 256, "tile width in reference-frame pixels")
	tileHeight := fs.Int("tile-height", 256, "tile height in reference-frame pixels")
	overlap := fs.Int("overlap", 32, "tile overlap band width in pixels")
	align := fs.String("align", "hybrid", "per-tile alignment method: dense, phase, or hybrid")
	robust := fs.String("robust", "huber", "merge robustness: none, huber, or tukey")
	robustThreshold := fs.Float64("robust-threshold", 0.8, "robustness threshold, 0-1")
	maxMemoryMB := fs.Int("max-memory-mb", 200, "per-burst tile memory budget in MB (triggers fallback above this)")
	workers := fs.Int("workers", 0, "worker pool size (0 = GOMAXPROCS)")
	anisoFlag := fs.Bool("aniso", true, "enable the orchestrator's anisotropic refinement pass")
	verbose := fs.Bool("v", false, "log stage transitions and lifecycle events to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("missing input frames\nUsage: burstsr [options] <frame1> <frame2> [more frames...]")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	mfsr.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	alignMethod, err := parseAlignment(*align)
	if err != nil {
		return err
	}
	robustness, err := parseRobustness(*robust)
	if err != nil {
		return err
	}

	paths := fs.Args()
	frames := make([]mfsr.YUVFrame, 0, len(paths))
	var width, height int
	for i, path := range paths {
		rgb, err := loadRGB(path)
		if err != nil {
			return fmt.Errorf("frame %d (%s): %w", i, path, err)
		}
		if i == 0 {
			width, height = rgb.Width(), rgb.Height()
		}
		frames = append(frames, rgbToYUV420(rgb))
	}

	cfg := pipeline.DefaultConfig()
	cfg.TileWidth = *tileWidth
	cfg.TileHeight = *tileHeight
	cfg.Overlap = *overlap
	cfg.ScaleFactor = *scale
	cfg.AlignmentMethod = alignMethod
	cfg.Robustness = robustness
	cfg.RobustnessThreshold = *robustThreshold
	cfg.MaxMemoryMB = *maxMemoryMB
	cfg.Workers = *workers

	progress := burst.WithProgress(func(stage burst.Stage, p float64, message string) {
		if *verbose {
			fmt.Fprintf(os.Stderr, "[%-16s] %5.1f%%  %s\n", stage, p*100, message)
		}
	})
	orchestrator := burst.New(width, height,
		burst.WithReferenceIndex(*refIndex),
		progress,
		burst.WithAnisotropicRefinement(*anisoFlag, aniso.DefaultConfig()),
	)

	result, err := orchestrator.Run(context.Background(), frames, cfg)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if result.UsedFallback {
		fmt.Fprintf(os.Stderr, "burstsr: fell back to single-frame upscale: %s\n", result.FallbackReason)
	}

	return writePNG(*output, result.Image)
}

func parseAlignment(s string) (pipeline.AlignmentMethod, error) {
	switch strings.ToLower(s) {
	case "dense", "dense_flow", "flow":
		return pipeline.DenseFlow, nil
	case "phase", "phase_corr":
		return pipeline.PhaseCorr, nil
	case "hybrid":
		return pipeline.Hybrid, nil
	default:
		return 0, fmt.Errorf("unknown -align %q (use dense, phase, or hybrid)", s)
	}
}

func parseRobustness(s string) (pipeline.Robustness, error) {
	switch strings.ToLower(s) {
	case "none":
		return pipeline.RobustnessNone, nil
	case "huber":
		return pipeline.RobustnessHuber, nil
	case "tukey":
		return pipeline.RobustnessTukey, nil
	default:
		return 0, fmt.Errorf("unknown -robust %q (use none, huber, or tukey)", s)
	}
}

// loadRGB decodes any stdlib-registered still-image format (PNG, JPEG) into
// an *mfsr.RGBBuffer with channels normalized to [0,1].
func loadRGB(path string) (*mfsr.RGBBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	b := img.Bounds()
	out := mfsr.NewBuffer[mfsr.RGB](b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := out.Row(y)
		for x := range row {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = mfsr.RGB{
				R: float32(r) / 65535,
				G: float32(g) / 65535,
				B: float32(bl) / 65535,
			}
		}
	}
	return out, nil
}

// rgbToYUV420 is the forward half of color.go's ToRGB: it subsamples
// chroma 2x2 by block-averaging (the encoder-side counterpart to ToRGB's
// bilinear reconstruction), using the exact inverse of ToRGB's Rec. 601
// coefficients so encode-then-decode round-trips losslessly apart from
// 4:2:0 chroma subsampling and 8-bit quantization.
func rgbToYUV420(img *mfsr.RGBBuffer) mfsr.YUVFrame {
	w, h := img.Width(), img.Height()
	planeW := (w + 1) / 2
	planeH := (h + 1) / 2

	yPlane := make([]byte, w*h)
	uPlane := make([]byte, planeW*planeH)
	vPlane := make([]byte, planeW*planeH)

	for y := 0; y < h; y++ {
		row := img.Row(y)
		for x := 0; x < w; x++ {
			c := row[x]
			yv := rec601Y(c)
			yPlane[y*w+x] = quantize(yv)
		}
	}

	for cy := 0; cy < planeH; cy++ {
		for cx := 0; cx < planeW; cx++ {
			var sumU, sumV float32
			var n int
			for dy := 0; dy < 2; dy++ {
				py := cy*2 + dy
				if py >= h {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					px := cx*2 + dx
					if px >= w {
						continue
					}
					c := img.At(px, py)
					sumU += rec601U(c)
					sumV += rec601V(c)
					n++
				}
			}
			if n == 0 {
				n = 1
			}
			uPlane[cy*planeW+cx] = quantize(sumU/float32(n) + 0.5)
			vPlane[cy*planeW+cx] = quantize(sumV/float32(n) + 0.5)
		}
	}

	return mfsr.YUVFrame{
		YPlane: yPlane, UPlane: uPlane, VPlane: vPlane,
		YRowStride: w, UVRowStride: planeW, UVPixelStride: 1,
		Width: w, Height: h,
	}
}

func rec601Y(c mfsr.RGB) float32 {
	return 0.299*c.R + 0.587*c.G + 0.114*c.B
}

// rec601U/V return Cb-0.5/Cr-0.5 (zero-centered), the exact inverse of
// ToRGB's 1.402/-0.344136/-0.714136/1.772 reconstruction coefficients.
func rec601U(c mfsr.RGB) float32 {
	return -0.168736*c.R - 0.331264*c.G + 0.5*c.B
}

func rec601V(c mfsr.RGB) float32 {
	return 0.5*c.R - 0.418688*c.G - 0.081312*c.B
}

func quantize(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func writePNG(path string, img *mfsr.RGBImage) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, mfsr.AsImage(img)); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return out.Close()
}
