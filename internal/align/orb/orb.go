// Package orb implements ORB feature detection, brute-force Hamming
// matching, and RANSAC homography estimation, as spec.md §4.7.
package orb

import (
	"math"
	"math/rand"
	"sort"

	"github.com/burstsr/mfsr"
)

// Config holds the tunables named in spec.md §6 "ORB".
type Config struct {
	MaxKeypoints        int
	NLevels             int
	ScaleFactor         float64
	FastThreshold       float64
	PatchSize           int
	MatchRatioThreshold float64
	RansacIterations    int
	RansacThreshold     float64
}

// DefaultConfig returns the literal defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxKeypoints:        500,
		NLevels:             4,
		ScaleFactor:         1.2,
		FastThreshold:       20,
		PatchSize:           31,
		MatchRatioThreshold: 0.75,
		RansacIterations:    500,
		RansacThreshold:     3,
	}
}

// Keypoint is a detected, oriented, described ORB feature, with X/Y in
// original (level-0) image coordinates.
type Keypoint struct {
	X, Y       float64
	Level      int
	Response   float64
	Angle      float64
	Descriptor [4]uint64
}

// fastCircle is the standard 16-point Bresenham circle of radius 3 used by
// FAST-9.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// briefPattern is the fixed 256-pair BRIEF sampling pattern, generated
// once at init from a fixed seed so descriptors are reproducible across
// runs (spec.md §4.7 requires a "fixed pattern" but does not mandate
// reproducing any particular published table).
var briefPattern = generateBriefPattern()

const briefPatternRadius = 12

func generateBriefPattern() [256][4]float64 {
	r := rand.New(rand.NewSource(0xA55A))
	var pattern [256][4]float64
	for i := range pattern {
		pattern[i] = [4]float64{
			(r.Float64()*2 - 1) * briefPatternRadius,
			(r.Float64()*2 - 1) * briefPatternRadius,
			(r.Float64()*2 - 1) * briefPatternRadius,
			(r.Float64()*2 - 1) * briefPatternRadius,
		}
	}
	return pattern
}

// Detector detects, orients, and describes ORB keypoints.
type Detector struct {
	cfg Config
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect builds a scale pyramid at cfg.ScaleFactor, runs FAST-9 with
// per-cell NMS on each level and computes orientation and descriptor for
// every keypoint found there, then caps the combined result at
// cfg.MaxKeypoints by response.
func (d *Detector) Detect(img *mfsr.GrayBuffer) []Keypoint {
	var all []Keypoint
	w, h := img.Width(), img.Height()
	level := img
	scale := 1.0
	for lvl := 0; lvl < d.cfg.NLevels; lvl++ {
		lw, lh := level.Width(), level.Height()
		if lw < d.cfg.PatchSize || lh < d.cfg.PatchSize {
			break
		}
		kps := detectLevel(level, d.cfg.FastThreshold, d.cfg.PatchSize)
		for i := range kps {
			kps[i].Level = lvl
			kps[i].X *= scale
			kps[i].Y *= scale
			describeInPlace(level, &kps[i], d.cfg.PatchSize, scale)
		}
		all = append(all, kps...)

		scale *= d.cfg.ScaleFactor
		nw := int(float64(w) / scale)
		nh := int(float64(h) / scale)
		if nw < d.cfg.PatchSize || nh < d.cfg.PatchSize {
			break
		}
		level = resizeBilinear(img, nw, nh)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Response > all[j].Response })
	if len(all) > d.cfg.MaxKeypoints {
		all = all[:d.cfg.MaxKeypoints]
	}
	return all
}

// detectLevel runs FAST-9 over the interior of img and retains the
// highest-response keypoint per patchSize x patchSize cell.
func detectLevel(img *mfsr.GrayBuffer, threshold float64, cellSize int) []Keypoint {
	w, h := img.Width(), img.Height()
	type cellBest struct {
		kp Keypoint
		ok bool
	}
	cols := (w + cellSize - 1) / cellSize
	rows := (h + cellSize - 1) / cellSize
	cells := make([]cellBest, cols*rows)

	for y := 3; y < h-3; y++ {
		for x := 3; x < w-3; x++ {
			ok, score := fastScore(img, x, y, threshold)
			if !ok {
				continue
			}
			ci := (y/cellSize)*cols + x/cellSize
			if !cells[ci].ok || score > cells[ci].kp.Response {
				cells[ci] = cellBest{kp: Keypoint{X: float64(x), Y: float64(y), Response: score}, ok: true}
			}
		}
	}

	out := make([]Keypoint, 0, len(cells))
	for _, c := range cells {
		if c.ok {
			out = append(out, c.kp)
		}
	}
	return out
}

// fastScore reports whether (x,y) is a FAST-9 corner and its response
// score (sum of above-threshold absolute differences on the qualifying
// arc).
func fastScore(img *mfsr.GrayBuffer, x, y int, threshold float64) (bool, float64) {
	center := float64(img.At(x, y))
	var circle [16]float64
	for i, off := range fastCircle {
		circle[i] = float64(img.AtClamped(x+off[0], y+off[1]))
	}

	var brighter, darker [16]bool
	for i, v := range circle {
		d := v - center
		if d > threshold {
			brighter[i] = true
		}
		if d < -threshold {
			darker[i] = true
		}
	}

	if longestRun(brighter) < 9 && longestRun(darker) < 9 {
		return false, 0
	}

	var score float64
	for _, v := range circle {
		d := math.Abs(v - center)
		if d > threshold {
			score += d - threshold
		}
	}
	return true, score
}

func longestRun(arr [16]bool) int {
	n := len(arr)
	all := true
	for _, v := range arr {
		if !v {
			all = false
			break
		}
	}
	if all {
		return n
	}
	best, cur := 0, 0
	for i := 0; i < 2*n; i++ {
		if arr[i%n] {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	if best > n {
		best = n
	}
	return best
}

// describeInPlace computes orientation (intensity centroid over a disk of
// radius floor(patchSize/2)) and the rotated 256-bit BRIEF descriptor for
// kp, sampling from levelImg at kp's level-local coordinates
// (kp.X/kp.Y have already been rescaled to level-0 units by the caller).
func describeInPlace(levelImg *mfsr.GrayBuffer, kp *Keypoint, patchSize int, scale float64) {
	lx := int(kp.X / scale)
	ly := int(kp.Y / scale)
	radius := patchSize / 2

	var m10, m01 float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			v := float64(levelImg.AtClamped(lx+dx, ly+dy))
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	angle := math.Atan2(m01, m10)
	kp.Angle = angle

	cosA, sinA := math.Cos(angle), math.Sin(angle)
	var desc [4]uint64
	for i, pair := range briefPattern {
		rx1 := int(math.Round(pair[0]*cosA - pair[1]*sinA))
		ry1 := int(math.Round(pair[0]*sinA + pair[1]*cosA))
		rx2 := int(math.Round(pair[2]*cosA - pair[3]*sinA))
		ry2 := int(math.Round(pair[2]*sinA + pair[3]*cosA))

		v1 := levelImg.AtClamped(lx+rx1, ly+ry1)
		v2 := levelImg.AtClamped(lx+rx2, ly+ry2)
		if v1 < v2 {
			desc[i/64] |= 1 << uint(i%64)
		}
	}
	kp.Descriptor = desc
}

// resizeBilinear resamples src to exactly (w,h) using bilinear
// interpolation, for building the ORB scale pyramid.
func resizeBilinear(src *mfsr.GrayBuffer, w, h int) *mfsr.GrayBuffer {
	out := mfsr.NewBuffer[float32](w, h)
	sw, sh := src.Width(), src.Height()
	for y := 0; y < h; y++ {
		row := out.Row(y)
		sy := float64(y) * float64(sh) / float64(h)
		for x := range row {
			sx := float64(x) * float64(sw) / float64(w)
			row[x] = mfsr.BilinearGray(src, sx, sy)
		}
	}
	return out
}

// hamming returns the Hamming distance between two 256-bit descriptors.
func hamming(a, b [4]uint64) int {
	d := 0
	for i := 0; i < 4; i++ {
		d += popcount(a[i] ^ b[i])
	}
	return d
}

func popcount(v uint64) int {
	count := 0
	for v != 0 {
		v &= v - 1
		count++
	}
	return count
}

// Match pairs a reference keypoint index with its best target keypoint
// index.
type Match struct {
	RefIndex    int
	TargetIndex int
	Distance    int
}

// MatchDescriptors brute-force matches ref against target by Hamming
// distance, keeping a pair only if it passes Lowe's ratio test
// (distance1 < ratio * distance2).
func MatchDescriptors(ref, target []Keypoint, ratio float64) []Match {
	var matches []Match
	for i, r := range ref {
		best, second := -1, -1
		bestD, secondD := math.MaxInt32, math.MaxInt32
		for j, t := range target {
			d := hamming(r.Descriptor, t.Descriptor)
			if d < bestD {
				second, secondD = best, bestD
				best, bestD = j, d
			} else if d < secondD {
				second, secondD = j, d
			}
		}
		if best < 0 {
			continue
		}
		if second < 0 || float64(bestD) < ratio*float64(secondD) {
			matches = append(matches, Match{RefIndex: i, TargetIndex: best, Distance: bestD})
		}
	}
	return matches
}

// HomographyResult is the outcome of RANSAC homography estimation.
type HomographyResult struct {
	H           mfsr.Homography
	InlierCount int
	InlierRatio float64
	Success     bool
}

// Correspondence is a single point pair, {srcX,srcY,dstX,dstY}, used to
// estimate a homography mapping src coordinates to dst coordinates.
type Correspondence [4]float64

// EstimateHomography runs RANSAC over correspondences, refits on all
// inliers of the best model, and reports success per spec.md §4.7
// (inlier ratio >= 0.25 and inlier count >= 15).
func EstimateHomography(correspondences []Correspondence, iterations int, threshold float64, rng *rand.Rand) HomographyResult {
	n := len(correspondences)
	if n < 4 {
		return HomographyResult{H: mfsr.IdentityHomography()}
	}

	var bestH mfsr.Homography
	bestInliers := -1
	var bestInlierIdx []int

	for iter := 0; iter < iterations; iter++ {
		idx, ok := sampleNonDegenerate(correspondences, rng)
		if !ok {
			continue
		}
		sample := make([]Correspondence, 4)
		for i, id := range idx {
			sample[i] = correspondences[id]
		}
		h, ok := solveHomography(sample)
		if !ok {
			continue
		}
		inlierIdx := inliers(h, correspondences, threshold)
		if len(inlierIdx) > bestInliers {
			bestInliers = len(inlierIdx)
			bestH = h
			bestInlierIdx = inlierIdx
		}
	}

	if bestInliers < 0 {
		return HomographyResult{H: mfsr.IdentityHomography()}
	}

	refitSet := make([]Correspondence, len(bestInlierIdx))
	for i, id := range bestInlierIdx {
		refitSet[i] = correspondences[id]
	}
	if refined, ok := solveHomography(refitSet); ok {
		bestH = refined
		bestInlierIdx = inliers(refined, correspondences, threshold)
		bestInliers = len(bestInlierIdx)
	}

	ratio := float64(bestInliers) / float64(n)
	return HomographyResult{
		H:           bestH,
		InlierCount: bestInliers,
		InlierRatio: ratio,
		Success:     ratio >= 0.25 && bestInliers >= 15,
	}
}

// sampleNonDegenerate draws 4 distinct correspondence indices whose
// source points are not (near-)collinear.
func sampleNonDegenerate(correspondences []Correspondence, rng *rand.Rand) ([4]int, bool) {
	n := len(correspondences)
	for attempt := 0; attempt < 50; attempt++ {
		var idx [4]int
		seen := map[int]bool{}
		for i := range idx {
			for {
				c := rng.Intn(n)
				if !seen[c] {
					seen[c] = true
					idx[i] = c
					break
				}
			}
		}
		if !collinear(correspondences, idx) {
			return idx, true
		}
	}
	return [4]int{}, false
}

// collinear reports whether any 3 of the 4 sampled source points are
// (near-)collinear, which would make the DLT system degenerate.
func collinear(correspondences []Correspondence, idx [4]int) bool {
	pts := make([][2]float64, 4)
	for i, id := range idx {
		pts[i] = [2]float64{correspondences[id][0], correspondences[id][1]}
	}
	const eps = 1e-6
	triples := [][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	for _, tr := range triples {
		a, b, c := pts[tr[0]], pts[tr[1]], pts[tr[2]]
		area := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
		if math.Abs(area) < eps {
			return true
		}
	}
	return false
}

// solveHomography fits a homography mapping src to dst coordinates via
// the direct linear transform, normalizing so H[8]=1 and solving the
// (possibly over-determined) normal equations by Gaussian elimination.
func solveHomography(correspondences []Correspondence) (mfsr.Homography, bool) {
	n := len(correspondences)
	if n < 4 {
		return mfsr.Homography{}, false
	}

	// A is 2n x 8, b is 2n; solve normal equations (A^T A) h = A^T b.
	ata := make([][]float64, 8)
	for i := range ata {
		ata[i] = make([]float64, 8)
	}
	atb := make([]float64, 8)

	addRow := func(row [8]float64, rhs float64) {
		for i := 0; i < 8; i++ {
			atb[i] += row[i] * rhs
			for j := 0; j < 8; j++ {
				ata[i][j] += row[i] * row[j]
			}
		}
	}

	for _, c := range correspondences {
		x, y, xp, yp := c[0], c[1], c[2], c[3]
		addRow([8]float64{x, y, 1, 0, 0, 0, -xp * x, -xp * y}, xp)
		addRow([8]float64{0, 0, 0, x, y, 1, -yp * x, -yp * y}, yp)
	}

	h, ok := gaussianSolve(ata, atb)
	if !ok {
		return mfsr.Homography{}, false
	}
	return mfsr.Homography{M: [9]float64{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}}, true
}

// gaussianSolve solves A x = b via Gaussian elimination with partial
// pivoting on an augmented copy; a and b are not modified. b must have
// matching dimension.
func gaussianSolve(a [][]float64, b []float64) ([]float64, bool) {
	n := len(a)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = append(append([]float64(nil), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		if math.Abs(aug[col][col]) < 1e-12 {
			return nil, false
		}
		for r := col + 1; r < n; r++ {
			factor := aug[r][col] / aug[col][col]
			for c := col; c <= n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := aug[r][n]
		for c := r + 1; c < n; c++ {
			sum -= aug[r][c] * x[c]
		}
		x[r] = sum / aug[r][r]
	}
	return x, true
}

// inliers returns the indices of correspondences whose reprojection
// error under h is within threshold pixels.
func inliers(h mfsr.Homography, correspondences []Correspondence, threshold float64) []int {
	var idx []int
	for i, c := range correspondences {
		px, py := h.Transform(c[0], c[1])
		err := math.Hypot(px-c[2], py-c[3])
		if err <= threshold {
			idx = append(idx, i)
		}
	}
	return idx
}
