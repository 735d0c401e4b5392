package mfsr

import "testing"

func TestStructureTensor_Invariants(t *testing.T) {
	tests := []struct {
		name           string
		ixx, ixy, iyy  float64
	}{
		{"isotropic", 1, 0, 1},
		{"horizontal edge", 0, 0, 4},
		{"diagonal", 2, 1.5, 2},
		{"zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStructureTensor(tt.ixx, tt.ixy, tt.iyy)
			if st.Lambda1 < st.Lambda2 {
				t.Fatalf("lambda1 (%v) < lambda2 (%v)", st.Lambda1, st.Lambda2)
			}
			if st.Lambda2 < -1e-9 {
				t.Fatalf("lambda2 = %v, want >= 0", st.Lambda2)
			}
			if st.Anisotropy < 0 || st.Anisotropy > 1 {
				t.Fatalf("anisotropy = %v, want in [0,1]", st.Anisotropy)
			}
		})
	}
}

func TestStructureTensor_AxisAlignedOrientation(t *testing.T) {
	// Pure horizontal-gradient energy (Ixx dominant) with Ixy == 0.
	st := NewStructureTensor(4, 0, 1)
	if st.Theta != 0 {
		t.Fatalf("theta = %v, want 0 (Ixx >= Iyy)", st.Theta)
	}
	st2 := NewStructureTensor(1, 0, 4)
	if st2.Theta != 3.141592653589793/2 {
		t.Fatalf("theta = %v, want pi/2 (Iyy > Ixx)", st2.Theta)
	}
}
