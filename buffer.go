package mfsr

import "math"

// Buffer is a generic row-major contiguous 2-D pixel buffer. T is one of
// the canonical element types: float32 (Gray), RGB, byte (Byte),
// MotionVector, FlowVector, or StructureTensor.
//
// An empty buffer has Width == Height == 0. RowStride is always >= Width;
// element (x, y) lives at index y*RowStride + x.
type Buffer[T any] struct {
	width, height int
	rowStride     int
	data          []T
}

// NewBuffer allocates a zero-valued w x h buffer. Negative dimensions are
// treated as zero, matching the "dimensions >= 0, empty buffer has both
// dims 0" invariant.
func NewBuffer[T any](w, h int) *Buffer[T] {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	if w == 0 || h == 0 {
		return &Buffer[T]{}
	}
	return &Buffer[T]{
		width:     w,
		height:    h,
		rowStride: w,
		data:      make([]T, w*h),
	}
}

// Width returns the buffer width in elements.
func (b *Buffer[T]) Width() int { return b.width }

// Height returns the buffer height in elements.
func (b *Buffer[T]) Height() int { return b.height }

// RowStride returns the number of elements between the start of successive
// rows.
func (b *Buffer[T]) RowStride() int { return b.rowStride }

// Empty reports whether the buffer has zero width or height.
func (b *Buffer[T]) Empty() bool { return b.width == 0 || b.height == 0 }

// At returns the element at (x, y). It panics if the coordinate is out of
// bounds, matching the "in-bounds at" contract from the spec; callers that
// need clamp-to-edge semantics use AtClamped.
func (b *Buffer[T]) At(x, y int) T {
	return b.data[y*b.rowStride+x]
}

// Set writes the element at (x, y).
func (b *Buffer[T]) Set(x, y int, v T) {
	b.data[y*b.rowStride+x] = v
}

// AtClamped returns the element nearest to (x, y) after clamping the
// coordinate to the buffer bounds. Used by every kernel that needs
// clamp-to-edge boundary handling (pyramid downsampling, warps, blur).
func (b *Buffer[T]) AtClamped(x, y int) T {
	if x < 0 {
		x = 0
	} else if x >= b.width {
		x = b.width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= b.height {
		y = b.height - 1
	}
	return b.data[y*b.rowStride+x]
}

// Row returns a slice view of row y, letting callers do bulk row access
// without repeated bounds checks.
func (b *Buffer[T]) Row(y int) []T {
	start := y * b.rowStride
	return b.data[start : start+b.width]
}

// Data returns the raw backing slice. Callers that construct a buffer
// directly (e.g. from a decoded frame) may write into this instead of
// calling Set pixel by pixel.
func (b *Buffer[T]) Data() []T { return b.data }

// Clone returns a deep copy of the buffer.
func (b *Buffer[T]) Clone() *Buffer[T] {
	out := &Buffer[T]{width: b.width, height: b.height, rowStride: b.rowStride}
	if len(b.data) > 0 {
		out.data = append([]T(nil), b.data...)
	}
	return out
}

// RGB is a single 3-channel float32 pixel, values nominally in [0,1].
type RGB struct {
	R, G, B float32
}

// GrayBuffer is a single-channel float32 image, the canonical type used by
// every alignment and edge-detection kernel.
type GrayBuffer = Buffer[float32]

// RGBBuffer is a 3-channel float32 image, the canonical type merging and
// drizzle operate on.
type RGBBuffer = Buffer[RGB]

// ByteBuffer is a single-channel byte image, used for raw YUV planes.
type ByteBuffer = Buffer[byte]

// sanitizeFloat replaces non-finite values with 0 and clamps to [0,1],
// returning whether the value was replaced (not merely clamped).
func sanitizeFloat(v float32) (float32, bool) {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0, true
	}
	if v < 0 {
		return 0, false
	}
	if v > 1 {
		return 1, false
	}
	return v, false
}

// Sanitize replaces non-finite elements with 0 and clamps all elements to
// [0,1]. On a GrayBuffer it returns the count of elements that were
// non-finite (and thus replaced, as opposed to merely clamped); on an
// RGBBuffer, the count of pixels containing at least one non-finite
// channel. Buffers of any other element type are left unchanged and 0 is
// returned.
func (b *Buffer[T]) Sanitize() int {
	switch data := any(b.data).(type) {
	case []float32:
		return sanitizeGray(data)
	case []RGB:
		return sanitizeRGB(data)
	}
	return 0
}

func sanitizeGray(data []float32) int {
	replaced := 0
	for i, v := range data {
		out, bad := sanitizeFloat(v)
		if bad {
			replaced++
		}
		data[i] = out
	}
	return replaced
}

func sanitizeRGB(data []RGB) int {
	replaced := 0
	for i, px := range data {
		r, badR := sanitizeFloat(px.R)
		g, badG := sanitizeFloat(px.G)
		bch, badB := sanitizeFloat(px.B)
		if badR || badG || badB {
			replaced++
		}
		data[i] = RGB{R: r, G: g, B: bch}
	}
	return replaced
}

// BilinearGray samples img at continuous coordinates (x, y) using bilinear
// interpolation with clamp-to-edge boundary handling. This is the sampling
// primitive shared by tile warping, optical flow, and drizzle-adjacent
// resampling.
func BilinearGray(img *GrayBuffer, x, y float64) float32 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	tx := x - x0
	ty := y - y0
	ix0, iy0 := int(x0), int(y0)
	ix1, iy1 := ix0+1, iy0+1

	v00 := float64(img.AtClamped(ix0, iy0))
	v10 := float64(img.AtClamped(ix1, iy0))
	v01 := float64(img.AtClamped(ix0, iy1))
	v11 := float64(img.AtClamped(ix1, iy1))

	top := v00*(1-tx) + v10*tx
	bot := v01*(1-tx) + v11*tx
	return float32(top*(1-ty) + bot*ty)
}

// BilinearRGB samples an RGBBuffer at continuous coordinates using bilinear
// interpolation with clamp-to-edge boundary handling.
func BilinearRGB(img *RGBBuffer, x, y float64) RGB {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	tx := x - x0
	ty := y - y0
	ix0, iy0 := int(x0), int(y0)
	ix1, iy1 := ix0+1, iy0+1

	v00 := img.AtClamped(ix0, iy0)
	v10 := img.AtClamped(ix1, iy0)
	v01 := img.AtClamped(ix0, iy1)
	v11 := img.AtClamped(ix1, iy1)

	lerp := func(a, b, t float32) float32 { return a + (b-a)*t }
	top := RGB{
		R: lerp(v00.R, v10.R, float32(tx)),
		G: lerp(v00.G, v10.G, float32(tx)),
		B: lerp(v00.B, v10.B, float32(tx)),
	}
	bot := RGB{
		R: lerp(v01.R, v11.R, float32(tx)),
		G: lerp(v01.G, v11.G, float32(tx)),
		B: lerp(v01.B, v11.B, float32(tx)),
	}
	return RGB{
		R: lerp(top.R, bot.R, float32(ty)),
		G: lerp(top.G, bot.G, float32(ty)),
		B: lerp(top.B, bot.B, float32(ty)),
	}
}
