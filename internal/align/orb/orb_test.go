package orb

import (
	"math"
	"math/rand"
	"testing"

	"github.com/burstsr/mfsr"
)

func TestHamming_IdenticalIsZero(t *testing.T) {
	a := [4]uint64{1, 2, 3, 4}
	if d := hamming(a, a); d != 0 {
		t.Fatalf("hamming(a,a) = %d, want 0", d)
	}
	b := a
	b[0] ^= 1
	if d := hamming(a, b); d != 1 {
		t.Fatalf("single bit flip distance = %d, want 1", d)
	}
}

func TestLongestRun_Wraparound(t *testing.T) {
	var arr [16]bool
	// Run wraps across the end/start boundary: indices 14,15,0,1,2.
	for _, i := range []int{14, 15, 0, 1, 2} {
		arr[i] = true
	}
	if got := longestRun(arr); got != 5 {
		t.Fatalf("longestRun = %d, want 5", got)
	}
}

func TestLongestRun_AllTrue(t *testing.T) {
	var arr [16]bool
	for i := range arr {
		arr[i] = true
	}
	if got := longestRun(arr); got != 16 {
		t.Fatalf("longestRun = %d, want 16", got)
	}
}

func TestGaussianSolve_Identity(t *testing.T) {
	a := [][]float64{{2, 0}, {0, 4}}
	b := []float64{4, 8}
	x, ok := gaussianSolve(a, b)
	if !ok {
		t.Fatalf("expected solvable system")
	}
	if math.Abs(x[0]-2) > 1e-9 || math.Abs(x[1]-2) > 1e-9 {
		t.Fatalf("solution = %v, want [2,2]", x)
	}
}

func TestEstimateHomography_IdentityOnIdenticalPoints(t *testing.T) {
	var corr []Correspondence
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			fx, fy := float64(x)*10, float64(y)*10
			corr = append(corr, Correspondence{fx, fy, fx, fy})
		}
	}
	rng := rand.New(rand.NewSource(1))
	result := EstimateHomography(corr, 100, 1.0, rng)

	if !result.Success {
		t.Fatalf("expected success, got inlierCount=%d ratio=%v", result.InlierCount, result.InlierRatio)
	}
	for i, want := range mfsr.IdentityHomography().M {
		if math.Abs(result.H.M[i]-want) > 1e-6 {
			t.Fatalf("H.M[%d] = %v, want %v", i, result.H.M[i], want)
		}
	}
}

func TestMatchDescriptors_RatioTest(t *testing.T) {
	ref := []Keypoint{{Descriptor: [4]uint64{0, 0, 0, 0}}}
	target := []Keypoint{
		{Descriptor: [4]uint64{0, 0, 0, 0}},        // distance 0
		{Descriptor: [4]uint64{0xFFFFFFFFFFFFFFFF, 0, 0, 0}}, // distance 64
	}
	matches := MatchDescriptors(ref, target, 0.75)
	if len(matches) != 1 || matches[0].TargetIndex != 0 {
		t.Fatalf("expected one match to target[0], got %v", matches)
	}
}

func TestDetectLevel_FindsCheckerboardCorners(t *testing.T) {
	img := mfsr.NewBuffer[float32](40, 40)
	for y := 0; y < 40; y++ {
		row := img.Row(y)
		for x := range row {
			if ((x/10)+(y/10))%2 == 0 {
				row[x] = 1
			}
		}
	}
	kps := detectLevel(img, 20, 8)
	if len(kps) == 0 {
		t.Fatalf("expected at least one corner on a checkerboard")
	}
}

func TestDescribeInPlace_Deterministic(t *testing.T) {
	img := mfsr.NewBuffer[float32](40, 40)
	for y := 0; y < 40; y++ {
		row := img.Row(y)
		for x := range row {
			row[x] = float32(x%7) / 7
		}
	}
	kp1 := Keypoint{X: 20, Y: 20}
	kp2 := Keypoint{X: 20, Y: 20}
	describeInPlace(img, &kp1, 31, 1.0)
	describeInPlace(img, &kp2, 31, 1.0)
	if kp1.Descriptor != kp2.Descriptor {
		t.Fatalf("descriptor should be deterministic for identical input")
	}
}
