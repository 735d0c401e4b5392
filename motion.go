package mfsr

import "math"

// MotionVector is an integer or sub-pixel tile translation. By convention
// (see SPEC_FULL.md §4.4), dx/dy describe the displacement such that
// target(x,y) ~= reference(x+dx, y+dy): warping samples the *target* frame
// at (x-dx, y-dy) to reconstruct the reference-aligned pixel.
type MotionVector struct {
	DX, DY float64
}

// MotionField is a tile grid of MotionVector, one entry per alignment tile.
type MotionField struct {
	TilesX, TilesY int
	TileSize       int
	Vectors        []MotionVector
}

// NewMotionField allocates a zeroed tile grid covering w x h pixels with
// the given tile size.
func NewMotionField(w, h, tileSize int) *MotionField {
	tx := (w + tileSize - 1) / tileSize
	ty := (h + tileSize - 1) / tileSize
	if tx < 1 {
		tx = 1
	}
	if ty < 1 {
		ty = 1
	}
	return &MotionField{
		TilesX:   tx,
		TilesY:   ty,
		TileSize: tileSize,
		Vectors:  make([]MotionVector, tx*ty),
	}
}

// At returns the motion vector for tile (tx, ty).
func (f *MotionField) At(tx, ty int) MotionVector {
	return f.Vectors[ty*f.TilesX+tx]
}

// Set stores the motion vector for tile (tx, ty).
func (f *MotionField) Set(tx, ty int, v MotionVector) {
	f.Vectors[ty*f.TilesX+tx] = v
}

// TileAtPixel returns the motion vector of the tile containing pixel
// (x, y), i.e. the nearest tile, matching the warp lookup in spec.md §4.4.
func (f *MotionField) TileAtPixel(x, y int) MotionVector {
	tx := x / f.TileSize
	ty := y / f.TileSize
	if tx >= f.TilesX {
		tx = f.TilesX - 1
	}
	if ty >= f.TilesY {
		ty = f.TilesY - 1
	}
	return f.At(tx, ty)
}

// FlowVector is a per-pixel dense optical flow sample with a confidence in
// [0,1].
type FlowVector struct {
	DX, DY     float64
	Confidence float64
}

// FlowField is a pixel-resolution grid of FlowVector.
type FlowField = Buffer[FlowVector]

// Homography is a 3x3 row-major projective transform. The zero value is
// NOT the identity; use IdentityHomography.
type Homography struct {
	M [9]float64
}

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{M: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// degenerateEpsilon is the |w| threshold below which a homography
// transform is considered degenerate (spec.md §3).
const degenerateEpsilon = 1e-6

// Transform applies the homography to point (x, y). If the transform is
// degenerate (|w| < 1e-6), the input point is returned unchanged.
func (h Homography) Transform(x, y float64) (float64, float64) {
	w := h.M[6]*x + h.M[7]*y + h.M[8]
	if math.Abs(w) < degenerateEpsilon {
		return x, y
	}
	xp := (h.M[0]*x + h.M[1]*y + h.M[2]) / w
	yp := (h.M[3]*x + h.M[4]*y + h.M[5]) / w
	return xp, yp
}

// Multiply computes h * other (apply other first, then h), so that
// (h.Multiply(other)).Transform(p) == h.Transform(other.Transform(p)).
func (h Homography) Multiply(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += h.M[r*3+k] * other.M[k*3+c]
			}
			out.M[r*3+c] = sum
		}
	}
	return out
}

// SubPixelShift is a per-frame sub-pixel translation with an associated
// accumulation weight, consumed by the drizzle stage.
type SubPixelShift struct {
	DX, DY, Weight float64
}

// ShiftFromHomography derives a SubPixelShift from a homography by
// transforming the origin and negating the displacement (spec.md §4.10,
// Open Question 2). This assumes H is near-translational; behavior under
// significant rotation or scale is explicitly undefined, per SPEC_FULL.md.
func ShiftFromHomography(h Homography, weight float64) SubPixelShift {
	x, y := h.Transform(0, 0)
	return SubPixelShift{DX: -x, DY: -y, Weight: weight}
}

// FrameAlignment is the result of aligning one frame against the
// configured reference.
type FrameAlignment struct {
	MotionField   *MotionField
	AverageMotion MotionVector
	Confidence    float64
	Valid         bool
}
