package edge

import "github.com/burstsr/mfsr"

// DetailMask computes a per-tile binary detail mask over magnitude (or any
// gray image): each tileSize x tileSize tile is marked 255 if its mean
// value (after clamping negatives to 0 and skipping NaN/Inf) is >=
// threshold, else 0 — spec.md §4.3.
func DetailMask(img *mfsr.GrayBuffer, tileSize int, threshold float32) *mfsr.ByteBuffer {
	w, h := img.Width(), img.Height()
	out := mfsr.NewBuffer[byte](w, h)

	for ty := 0; ty < h; ty += tileSize {
		for tx := 0; tx < w; tx += tileSize {
			x1 := tx + tileSize
			if x1 > w {
				x1 = w
			}
			y1 := ty + tileSize
			if y1 > h {
				y1 = h
			}

			var sum float64
			count := 0
			for y := ty; y < y1; y++ {
				row := img.Row(y)
				for x := tx; x < x1; x++ {
					v := row[x]
					if isNaNOrInf(v) {
						continue
					}
					if v < 0 {
						v = 0
					}
					sum += float64(v)
					count++
				}
			}

			var value byte
			if count > 0 && float32(sum/float64(count)) >= threshold {
				value = 255
			}
			for y := ty; y < y1; y++ {
				row := out.Row(y)
				for x := tx; x < x1; x++ {
					row[x] = value
				}
			}
		}
	}
	return out
}

func isNaNOrInf(v float32) bool {
	return v != v || v > 3.0e38 || v < -3.0e38
}

// Dilate applies morphological dilation (max over a square neighborhood of
// radius r) to a binary mask.
func Dilate(mask *mfsr.ByteBuffer, radius int) *mfsr.ByteBuffer {
	return morphSquare(mask, radius, true)
}

// Erode applies morphological erosion (min over a square neighborhood of
// radius r), symmetric to Dilate.
func Erode(mask *mfsr.ByteBuffer, radius int) *mfsr.ByteBuffer {
	return morphSquare(mask, radius, false)
}

func morphSquare(mask *mfsr.ByteBuffer, radius int, dilate bool) *mfsr.ByteBuffer {
	w, h := mask.Width(), mask.Height()
	out := mfsr.NewBuffer[byte](w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc byte
			if !dilate {
				acc = 255
			}
			for ky := -radius; ky <= radius; ky++ {
				for kx := -radius; kx <= radius; kx++ {
					v := mask.AtClamped(x+kx, y+ky)
					if dilate && v > acc {
						acc = v
					}
					if !dilate && v < acc {
						acc = v
					}
				}
			}
			out.Set(x, y, acc)
		}
	}
	return out
}
