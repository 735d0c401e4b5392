// Package mfsr implements the CPU-reference pipeline for burst multi-frame
// super-resolution (MFSR): given a short burst of noisy, slightly
// misaligned low-resolution frames of the same scene, it produces a single
// higher-resolution, lower-noise image.
//
// # Overview
//
//	frames := []mfsr.YUVFrame{...}
//	orch := burst.New(width, height)
//	result, err := orch.Run(ctx, frames, pipeline.DefaultConfig())
//
// # Architecture
//
// The module is organized the way the pipeline actually flows:
//   - Root package: typed pixel buffers, color conversion, motion types,
//     configuration, logging, and error kinds shared by every stage.
//   - internal/parallel: the worker-pool and tile-grid substrate every
//     tile-parallel stage schedules onto.
//   - internal/pyramid, internal/edge: multiscale and gradient primitives.
//   - internal/align/{tilealign,flow,phase,orb}: the four selectable
//     alignment strategies.
//   - internal/merge, internal/aniso, internal/drizzle: the three frame
//     fusion strategies.
//   - pipeline: tile-based orchestration tying alignment and fusion
//     together with bounded memory.
//   - burst: the top-level stage state machine and public entry point.
//   - gpuaccel: an optional GPU tile-synthesis accelerator contract; no
//     backend ships in this module.
//   - cmd/burstsr: a CLI driver that loads a burst of PNG/JPEG frames, runs
//     the pipeline, and writes the result as PNG.
package mfsr
