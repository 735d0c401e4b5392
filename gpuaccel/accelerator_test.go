package gpuaccel

import (
	"testing"

	"github.com/burstsr/mfsr"
)

type fakeAccelerator struct {
	initErr   error
	closed    bool
	tileErr   error
	tileCalls int
}

func (f *fakeAccelerator) Name() string { return "fake" }
func (f *fakeAccelerator) Init() error  { return f.initErr }
func (f *fakeAccelerator) Close()       { f.closed = true }
func (f *fakeAccelerator) SynthesizeTile(desc TileDescriptor, frames []*mfsr.RGBBuffer, cropX, cropY int) (*mfsr.RGBBuffer, error) {
	f.tileCalls++
	if f.tileErr != nil {
		return nil, f.tileErr
	}
	return mfsr.NewBuffer[mfsr.RGB](int(desc.Width*desc.Scale), int(desc.Height*desc.Scale)), nil
}

func TestRegisterAccelerator_ReplacesAndClosesPrevious(t *testing.T) {
	defer CloseAccelerator()

	first := &fakeAccelerator{}
	if err := RegisterAccelerator(first); err != nil {
		t.Fatalf("RegisterAccelerator(first) error: %v", err)
	}
	if Accelerator() != first {
		t.Fatalf("Accelerator() = %v, want first", Accelerator())
	}

	second := &fakeAccelerator{}
	if err := RegisterAccelerator(second); err != nil {
		t.Fatalf("RegisterAccelerator(second) error: %v", err)
	}
	if !first.closed {
		t.Fatal("replacing the accelerator should Close() the previous one")
	}
	if Accelerator() != second {
		t.Fatalf("Accelerator() = %v, want second", Accelerator())
	}
}

func TestRegisterAccelerator_NilIsRejected(t *testing.T) {
	if err := RegisterAccelerator(nil); err == nil {
		t.Fatal("RegisterAccelerator(nil) should error")
	}
}

func TestCloseAccelerator_IdempotentWhenNoneRegistered(t *testing.T) {
	CloseAccelerator()
	CloseAccelerator() // must not panic
	if Accelerator() != nil {
		t.Fatal("Accelerator() should be nil after CloseAccelerator with none registered")
	}
}

func TestTileDescriptor_Extent(t *testing.T) {
	d := TileDescriptor{Width: 64, Height: 48, Scale: 2}
	e := d.Extent()
	if e.Width != 64 || e.Height != 48 || e.DepthOrArrayLayers != 1 {
		t.Fatalf("Extent() = %+v, want {64 48 1}", e)
	}
}
