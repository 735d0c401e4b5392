package mfsr

import "math"

// StructureTensor summarizes the local gradient distribution at a pixel:
// eigenvalues Lambda1 >= Lambda2 >= 0 and the dominant orientation Theta.
type StructureTensor struct {
	Ixx, Ixy, Iyy float64
	Lambda1       float64
	Lambda2       float64
	Theta         float64
	Anisotropy    float64
}

// structureTensorEpsilon guards the |Ixy| and trace-sum comparisons in
// spec.md §3 from division-by-zero / atan2 instability.
const structureTensorEpsilon = 1e-6

// NewStructureTensor derives eigenvalues, orientation, and anisotropy from
// the raw second-moment matrix entries, exactly per spec.md §3.
func NewStructureTensor(ixx, ixy, iyy float64) StructureTensor {
	trace := ixx + iyy
	det := ixx*iyy - ixy*ixy
	disc := math.Sqrt(math.Max(0, trace*trace/4-det))
	l1 := trace/2 + disc
	l2 := trace/2 - disc

	var theta float64
	if math.Abs(ixy) > structureTensorEpsilon {
		theta = 0.5 * math.Atan2(2*ixy, ixx-iyy)
	} else if ixx < iyy {
		theta = math.Pi / 2
	} else {
		theta = 0
	}

	var aniso float64
	if sum := l1 + l2; sum > structureTensorEpsilon {
		aniso = (l1 - l2) / sum
	}

	return StructureTensor{
		Ixx: ixx, Ixy: ixy, Iyy: iyy,
		Lambda1: l1, Lambda2: l2,
		Theta:      theta,
		Anisotropy: aniso,
	}
}
