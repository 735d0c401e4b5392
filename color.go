package mfsr

import (
	"image"
	"image/color"
)

// YUVFrame is a planar or semi-planar YUV 4:2:0 frame as produced by the
// capture front-end (outside this module's scope). U and V have half the
// spatial resolution of Y in each axis. UVPixelStride is 1 for fully
// planar layouts and 2 for interleaved (semi-planar, e.g. NV12) layouts.
type YUVFrame struct {
	YPlane, UPlane, VPlane []byte
	YRowStride             int
	UVRowStride            int
	UVPixelStride          int
	Width, Height          int
}

// Rec. 601 luma/chroma coefficients, matching spec.md §4.1.
const (
	rec601R = 0.299
	rec601G = 0.587
	rec601B = 0.114
)

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// chromaAt reconstructs U or V at full-resolution pixel (x, y) by bilinear
// interpolation of the 2x2-subsampled plane, matching the "sub-sampled 2x2
// U,V with bilinear reconstruction to per-pixel chroma" contract in
// spec.md §4.1.
func chromaAt(plane []byte, rowStride, pixStride, planeW, planeH, x, y int) float32 {
	// Position in chroma-plane coordinates (half resolution).
	cx := (float64(x) - 0.5) / 2
	cy := (float64(y) - 0.5) / 2

	sample := func(cxi, cyi int) float32 {
		if cxi < 0 {
			cxi = 0
		} else if cxi >= planeW {
			cxi = planeW - 1
		}
		if cyi < 0 {
			cyi = 0
		} else if cyi >= planeH {
			cyi = planeH - 1
		}
		idx := cyi*rowStride + cxi*pixStride
		return float32(plane[idx]) / 255
	}

	x0 := int(cx)
	y0 := int(cy)
	if float64(x0) > cx {
		x0--
	}
	if float64(y0) > cy {
		y0--
	}
	tx := float32(cx - float64(x0))
	ty := float32(cy - float64(y0))

	v00 := sample(x0, y0)
	v10 := sample(x0+1, y0)
	v01 := sample(x0, y0+1)
	v11 := sample(x0+1, y0+1)

	top := v00 + (v10-v00)*tx
	bot := v01 + (v11-v01)*tx
	return top + (bot-top)*ty
}

// ToRGB converts a YUV 4:2:0 frame to a full-resolution RGBBuffer using
// Rec. 601 coefficients, reconstructing chroma with bilinear interpolation.
// Output channels are clamped to [0,1].
func (f *YUVFrame) ToRGB() *RGBBuffer {
	out := NewBuffer[RGB](f.Width, f.Height)
	planeW := (f.Width + 1) / 2
	planeH := (f.Height + 1) / 2

	for y := 0; y < f.Height; y++ {
		yRow := f.YPlane[y*f.YRowStride:]
		for x := 0; x < f.Width; x++ {
			yv := float32(yRow[x]) / 255
			u := chromaAt(f.UPlane, f.UVRowStride, f.UVPixelStride, planeW, planeH, x, y) - 0.5
			v := chromaAt(f.VPlane, f.UVRowStride, f.UVPixelStride, planeW, planeH, x, y) - 0.5

			r := yv + 1.402*v
			g := yv - 0.344136*u - 0.714136*v
			b := yv + 1.772*u

			out.Set(x, y, RGB{R: clamp01(r), G: clamp01(g), B: clamp01(b)})
		}
	}
	return out
}

// ToGray converts a YUV 4:2:0 frame directly to single-channel luminance,
// skipping chroma reconstruction entirely (Y plane already is luminance).
func (f *YUVFrame) ToGray() *GrayBuffer {
	out := NewBuffer[float32](f.Width, f.Height)
	for y := 0; y < f.Height; y++ {
		yRow := f.YPlane[y*f.YRowStride:]
		outRow := out.Row(y)
		for x := 0; x < f.Width; x++ {
			outRow[x] = float32(yRow[x]) / 255
		}
	}
	return out
}

// Luminance computes Y = 0.299R + 0.587G + 0.114B per spec.md §4.1.
func Luminance(img *RGBBuffer) *GrayBuffer {
	out := NewBuffer[float32](img.Width(), img.Height())
	for y := 0; y < img.Height(); y++ {
		srcRow := img.Row(y)
		dstRow := out.Row(y)
		for x, px := range srcRow {
			dstRow[x] = clamp01(rec601R*px.R + rec601G*px.G + rec601B*px.B)
		}
	}
	return out
}

// RGBImage is the final output type (spec.md §6): a float32 [0,1] RGB
// image. It is a thin alias over RGBBuffer; the distinct name documents
// that this value is meant to be consumed by a caller (golden output),
// not mutated further.
type RGBImage = RGBBuffer

// imageView adapts an RGBBuffer to the standard image.Image and draw.Image
// interfaces, the way the teacher's Pixmap implements both, so that
// golang.org/x/image/draw can resample directly against it (used by the
// pipeline's single-frame fallback path).
type imageView struct {
	buf *RGBBuffer
}

var _ image.Image = (*imageView)(nil)

// AsImage wraps an RGBBuffer so it can be passed to golang.org/x/image/draw
// and the standard image package.
func AsImage(buf *RGBBuffer) image.Image { return &imageView{buf: buf} }

func (v *imageView) ColorModel() color.Model { return color.NRGBAModel }

func (v *imageView) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.buf.Width(), v.buf.Height())
}

func (v *imageView) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= v.buf.Width() || y >= v.buf.Height() {
		return color.NRGBA{}
	}
	px := v.buf.At(x, y)
	return color.NRGBA{
		R: uint8(clamp01(px.R)*255 + 0.5),
		G: uint8(clamp01(px.G)*255 + 0.5),
		B: uint8(clamp01(px.B)*255 + 0.5),
		A: 255,
	}
}

// drawImageView additionally implements draw.Image so x/image/draw can
// write its resampled output straight into an RGBBuffer.
type drawImageView struct {
	imageView
}

// AsDrawImage wraps an RGBBuffer as a draw.Image target.
func AsDrawImage(buf *RGBBuffer) *drawImageView { return &drawImageView{imageView{buf: buf}} }

func (v *drawImageView) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= v.buf.Width() || y >= v.buf.Height() {
		return
	}
	r, g, b, a := c.RGBA()
	if a == 0 {
		v.buf.Set(x, y, RGB{})
		return
	}
	// Unpremultiply (color.Color.RGBA returns alpha-premultiplied values).
	scale := 65535.0 / float64(a)
	v.buf.Set(x, y, RGB{
		R: clamp01(float32(float64(r) * scale / 65535)),
		G: clamp01(float32(float64(g) * scale / 65535)),
		B: clamp01(float32(float64(b) * scale / 65535)),
	})
}

// ToARGB converts the image to 8-bit ARGB (R,G,B,255) into a caller-
// supplied buffer with the given row stride in bytes, matching spec.md §6.
// Buffers whose element type is not RGB write nothing.
func (b *Buffer[T]) ToARGB(dst []byte, stride int) {
	rgb, ok := any(b).(*RGBBuffer)
	if !ok {
		return
	}
	for y := 0; y < rgb.Height(); y++ {
		row := rgb.Row(y)
		rowStart := y * stride
		for x, px := range row {
			i := rowStart + x*4
			dst[i+0] = uint8(clamp01(px.R)*255 + 0.5)
			dst[i+1] = uint8(clamp01(px.G)*255 + 0.5)
			dst[i+2] = uint8(clamp01(px.B)*255 + 0.5)
			dst[i+3] = 255
		}
	}
}
