package pyramid

import (
	"math"
	"testing"

	"github.com/burstsr/mfsr"
)

func gradientImage(w, h int) *mfsr.GrayBuffer {
	img := mfsr.NewBuffer[float32](w, h)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for x := range row {
			row[x] = float32(x) / float32(w-1)
		}
	}
	return img
}

func TestBuildGaussian_LevelSizesAndStopRule(t *testing.T) {
	img := gradientImage(100, 70)
	p := BuildGaussian(img, 8)

	w, h := 100, 70
	for i, lvl := range p.Levels {
		ceilW := int(math.Ceil(float64(100) / math.Pow(2, float64(i))))
		ceilH := int(math.Ceil(float64(70) / math.Pow(2, float64(i))))
		if lvl.Width() > ceilW || lvl.Height() > ceilH {
			t.Fatalf("level %d size (%d,%d) exceeds ceil bound (%d,%d)", i, lvl.Width(), lvl.Height(), ceilW, ceilH)
		}
		if i > 0 {
			if lvl.Width() != w/2 || lvl.Height() != h/2 {
				t.Fatalf("level %d = (%d,%d), want floor-halved (%d,%d)", i, lvl.Width(), lvl.Height(), w/2, h/2)
			}
			w, h = lvl.Width(), lvl.Height()
		}
	}
	last := p.Levels[len(p.Levels)-1]
	if last.Width()/2 >= 4 && last.Height()/2 >= 4 {
		t.Fatalf("pyramid stopped too early: last level (%d,%d) could still halve", last.Width(), last.Height())
	}
}

func TestLaplacianPyramid_RoundTrip(t *testing.T) {
	img := gradientImage(64, 48)
	g := BuildGaussian(img, 4)
	lp := BuildLaplacian(g)
	recon := lp.Reconstruct()

	if recon.Width() != img.Width() || recon.Height() != img.Height() {
		t.Fatalf("reconstructed size (%d,%d) != original (%d,%d)", recon.Width(), recon.Height(), img.Width(), img.Height())
	}
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			diff := float64(recon.At(x, y) - img.At(x, y))
			if diff > 1e-4 || diff < -1e-4 {
				t.Fatalf("pixel (%d,%d): reconstructed %v, original %v", x, y, recon.At(x, y), img.At(x, y))
			}
		}
	}
}

func TestBuildRGB_ChannelsIndependent(t *testing.T) {
	img := mfsr.NewBuffer[mfsr.RGB](16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, mfsr.RGB{R: float32(x) / 15, G: 0.5, B: float32(y) / 15})
		}
	}
	p := BuildRGB(img, 3)
	if len(p.Levels) < 2 {
		t.Fatalf("expected at least 2 levels, got %d", len(p.Levels))
	}
	lvl1 := p.Levels[1]
	if lvl1.Width() != 8 || lvl1.Height() != 8 {
		t.Fatalf("level 1 size = (%d,%d), want (8,8)", lvl1.Width(), lvl1.Height())
	}
}
