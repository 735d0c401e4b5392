// Package gpuaccel defines the optional GPU tile-synthesis accelerator
// contract named in spec.md's Design Notes §9: an external collaborator
// that implements the per-tile alignment/merge/drizzle kernels of §4 and
// must match the CPU path within 1 ULP. No concrete accelerator ships in
// this module; a future backend package registers one the way the
// teacher's GPU backends register a GPUAccelerator.
package gpuaccel

import (
	"errors"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/burstsr/mfsr"
)

// ErrFallbackToCPU indicates the accelerator cannot handle this tile.
// The pipeline transparently falls back to its CPU kernels.
var ErrFallbackToCPU = errors.New("gpuaccel: falling back to CPU tile synthesis")

// TileDescriptor describes one tile's synthesis request: its padded crop
// size (in input-pixel units) and the upscale factor to apply. Extent
// returns the size as a gputypes.Extent3D (DepthOrArrayLayers is always 1;
// there is no volumetric dimension here).
type TileDescriptor struct {
	Width, Height uint32
	Scale         uint32
}

// Extent returns the descriptor's size as a gputypes.Extent3D, for
// accelerator implementations that size GPU textures directly from it.
func (d TileDescriptor) Extent() gputypes.Extent3D {
	return gputypes.Extent3D{Width: d.Width, Height: d.Height, DepthOrArrayLayers: 1}
}

// GPUTileAccelerator is an optional GPU acceleration provider for the
// tile pipeline's per-tile synthesis step (alignment + merge + drizzle
// upscale combined). Implementations should be provided by a separate GPU
// backend package; this module carries only the contract.
type GPUTileAccelerator interface {
	// Name returns the accelerator name (e.g., "wgpu", "vulkan").
	Name() string

	// Init initializes GPU resources. Called once during registration.
	Init() error

	// Close releases GPU resources.
	Close()

	// SynthesizeTile runs the full per-tile pipeline (alignment, merge,
	// drizzle upscale) for the padded crop of every frame starting at
	// (cropX, cropY), described by desc, and returns the scaled tile
	// image. Returns ErrFallbackToCPU (or any other error) if the tile
	// cannot be GPU-accelerated; the pipeline falls back to its CPU
	// kernels silently in either case.
	SynthesizeTile(desc TileDescriptor, frames []*mfsr.RGBBuffer, cropX, cropY int) (*mfsr.RGBBuffer, error)
}

var (
	accelMu sync.RWMutex
	accel   GPUTileAccelerator
)

// RegisterAccelerator registers a GPU tile accelerator. Only one
// accelerator can be registered at a time; subsequent calls replace the
// previous one. The accelerator's Init method is called during
// registration; if it fails, the accelerator is not registered.
func RegisterAccelerator(a GPUTileAccelerator) error {
	if a == nil {
		return errors.New("gpuaccel: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Accelerator returns the currently registered accelerator, or nil.
func Accelerator() GPUTileAccelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// CloseAccelerator shuts down the global accelerator, if any. Idempotent.
func CloseAccelerator() {
	accelMu.Lock()
	a := accel
	accel = nil
	accelMu.Unlock()
	if a != nil {
		a.Close()
	}
}
