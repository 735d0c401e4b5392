package mfsr

import "testing"

func solidYUVFrame(w, h int, y, u, v byte) YUVFrame {
	cw, ch := (w+1)/2, (h+1)/2
	yPlane := make([]byte, w*h)
	for i := range yPlane {
		yPlane[i] = y
	}
	uPlane := make([]byte, cw*ch)
	vPlane := make([]byte, cw*ch)
	for i := range uPlane {
		uPlane[i] = u
		vPlane[i] = v
	}
	return YUVFrame{
		YPlane: yPlane, UPlane: uPlane, VPlane: vPlane,
		YRowStride: w, UVRowStride: cw, UVPixelStride: 1,
		Width: w, Height: h,
	}
}

func TestYUVFrame_ToRGB_Gray(t *testing.T) {
	f := solidYUVFrame(8, 8, 128, 128, 128)
	rgb := f.ToRGB()
	px := rgb.At(4, 4)
	// Neutral chroma (128/255 ~ 0.502, offset ~0.002) should be very close
	// to pure gray on every channel.
	if abs32(px.R-px.G) > 0.02 || abs32(px.G-px.B) > 0.02 {
		t.Fatalf("expected near-gray pixel, got %v", px)
	}
}

func TestYUVFrame_ToGray(t *testing.T) {
	f := solidYUVFrame(4, 4, 200, 50, 50)
	g := f.ToGray()
	want := float32(200) / 255
	if got := g.At(1, 1); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLuminance(t *testing.T) {
	img := NewBuffer[RGB](2, 2)
	img.Set(0, 0, RGB{R: 1, G: 0, B: 0})
	img.Set(1, 0, RGB{R: 0, G: 1, B: 0})
	img.Set(0, 1, RGB{R: 0, G: 0, B: 1})
	img.Set(1, 1, RGB{R: 1, G: 1, B: 1})

	lum := Luminance(img)
	if got := lum.At(0, 0); abs32(got-0.299) > 1e-6 {
		t.Fatalf("red luminance = %v, want 0.299", got)
	}
	if got := lum.At(1, 1); abs32(got-1) > 1e-6 {
		t.Fatalf("white luminance = %v, want 1", got)
	}
}

func TestRGBImage_ToARGB(t *testing.T) {
	img := NewBuffer[RGB](2, 1)
	img.Set(0, 0, RGB{R: 1, G: 0, B: 0})
	img.Set(1, 0, RGB{R: 0, G: 1, B: 0})

	stride := 2 * 4
	dst := make([]byte, stride*1)
	img.ToARGB(dst, stride)

	if dst[0] != 255 || dst[1] != 0 || dst[2] != 0 || dst[3] != 255 {
		t.Fatalf("pixel 0 = %v, want [255,0,0,255]", dst[0:4])
	}
	if dst[4] != 0 || dst[5] != 255 || dst[6] != 0 || dst[7] != 255 {
		t.Fatalf("pixel 1 = %v, want [0,255,0,255]", dst[4:8])
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
