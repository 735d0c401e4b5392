package edge

import (
	"testing"

	"github.com/burstsr/mfsr"
)

func verticalEdgeImage(w, h int) *mfsr.GrayBuffer {
	img := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for x := range row {
			if x < w/2 {
				row[x] = 0
			} else {
				row[x] = 1
			}
		}
	}
	return img
}

func TestGradient_BordersZero(t *testing.T) {
	img := verticalEdgeImage(16, 16)
	gx, _ := Gradient(img, Sobel)
	for x := 0; x < 16; x++ {
		if gx.At(x, 0) != 0 || gx.At(x, 15) != 0 {
			t.Fatalf("border row not zero at x=%d", x)
		}
	}
	for y := 0; y < 16; y++ {
		if gx.At(0, y) != 0 || gx.At(15, y) != 0 {
			t.Fatalf("border column not zero at y=%d", y)
		}
	}
}

func TestGradient_DetectsVerticalEdge(t *testing.T) {
	img := verticalEdgeImage(16, 16)
	gx, gy := Gradient(img, Sobel)
	mag := Magnitude(gx, gy)
	if mag.At(8, 8) <= mag.At(2, 8) {
		t.Fatalf("magnitude at edge (%v) should exceed flat region (%v)", mag.At(8, 8), mag.At(2, 8))
	}
}

func TestStructureTensorField_FlatRegionIsotropic(t *testing.T) {
	img := mfsr.NewBuffer[float32](8, 8)
	for i := range img.Data() {
		img.Data()[i] = 0.5
	}
	field := StructureTensorField(img)
	st := field.At(4, 4)
	if st.Anisotropy != 0 {
		t.Fatalf("flat region anisotropy = %v, want 0", st.Anisotropy)
	}
}

func TestDetailMask_Thresholding(t *testing.T) {
	img := mfsr.NewBuffer[float32](4, 4)
	// Left tile all above threshold, right tile all below.
	for y := 0; y < 4; y++ {
		row := img.Row(y)
		for x := 0; x < 2; x++ {
			row[x] = 1.0
		}
		for x := 2; x < 4; x++ {
			row[x] = 0.0
		}
	}
	mask := DetailMask(img, 2, 0.5)
	if mask.At(0, 0) != 255 {
		t.Fatalf("left tile should be marked detail")
	}
	if mask.At(3, 3) != 0 {
		t.Fatalf("right tile should be marked flat")
	}
}

func TestDilateErode_Symmetric(t *testing.T) {
	mask := mfsr.NewBuffer[byte](5, 5)
	mask.Set(2, 2, 255)

	dilated := Dilate(mask, 1)
	if dilated.At(1, 2) != 255 || dilated.At(3, 2) != 255 {
		t.Fatalf("dilation should spread the single set pixel to neighbors")
	}

	eroded := Erode(dilated, 1)
	if eroded.At(2, 2) != 255 {
		t.Fatalf("eroding back should retain the center pixel")
	}
}
