/*
DESCRIPTION
  backend_test.go provides testing for the reconstruction back-end contract
  and kernel-dispatch table of backend.go.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hevcdec

import "testing"

func TestPlanarIntraPredictCorners(t *testing.T) {
	const size = 4
	above := []uint16{100, 102, 104, 106, 108} // above[4] is the top-right reference sample.
	left := []uint16{100, 110, 120, 130, 140}  // left[4] is the bottom-left reference sample.
	dst := make([]uint16, size*size)

	planarIntraPredict(dst, size, size, above, left)

	tests := []struct {
		x, y int
		want uint16
	}{
		{0, 0, 106},
		{3, 0, 111},
		{0, 3, 132},
		{3, 3, 124},
	}
	for _, test := range tests {
		got := dst[test.y*size+test.x]
		if got != test.want {
			t.Errorf("dst[%d][%d] = %d, want %d", test.y, test.x, got, test.want)
		}
	}
}

func TestPlanarIntraPredictRespectsStride(t *testing.T) {
	const size = 2
	const stride = 5
	above := []uint16{50, 60, 70}
	left := []uint16{50, 80, 90}
	dst := make([]uint16, stride*size)

	planarIntraPredict(dst, stride, size, above, left)

	// Every sample must land at row*stride+col, not row*size+col: probing
	// the gap between size and stride catches a decoder that ignores
	// dstStride.
	for y := 0; y < size; y++ {
		for x := size; x < stride; x++ {
			if dst[y*stride+x] != 0 {
				t.Errorf("dst[%d][%d] = %d, want 0 (outside the written block)", y, x, dst[y*stride+x])
			}
		}
	}
}

func TestSelectKernelsFallsBackToScalar(t *testing.T) {
	saved := registeredKernels
	registeredKernels = map[AccelerationCode]*Kernels{Scalar: scalarKernels()}
	t.Cleanup(func() { registeredKernels = saved })

	k := SelectKernels(AVX2)
	if k == nil || k.Code != Scalar {
		t.Errorf("SelectKernels(AVX2) with nothing registered = %+v, want the Scalar table", k)
	}
}

func TestRegisterKernelsOverridesSelection(t *testing.T) {
	saved := registeredKernels
	registeredKernels = map[AccelerationCode]*Kernels{Scalar: scalarKernels()}
	t.Cleanup(func() { registeredKernels = saved })

	custom := &Kernels{Code: AVX2}
	RegisterKernels(AVX2, custom)

	if got := SelectKernels(AVX2); got != custom {
		t.Errorf("SelectKernels(AVX2) after RegisterKernels = %+v, want the registered table", got)
	}
	if got := SelectKernels(Scalar); got.Code != Scalar {
		t.Error("registering AVX2 must not disturb the Scalar table")
	}
}

func TestInverseTransformScalarZeroCoeffsStayZero(t *testing.T) {
	coeffs := make([]int32, 16)
	inverseTransformScalar(coeffs, 2, false)
	for i, c := range coeffs {
		if c != 0 {
			t.Errorf("coeffs[%d] = %d, want 0 (an all-zero coefficient block must inverse-transform to all zero)", i, c)
		}
	}
}

func TestInverseTransformScalarDCOnlyIsFlat(t *testing.T) {
	coeffs := make([]int32, 64)
	coeffs[0] = 800
	inverseTransformScalar(coeffs, 3, false)
	want := coeffs[0]
	for i, c := range coeffs {
		if c != want {
			t.Errorf("coeffs[%d] = %d, want %d (a DC-only DCT-II input inverse-transforms to a flat block)", i, c, want)
		}
	}
}

func TestDCIntraPredictAverages(t *testing.T) {
	const size = 4
	above := []uint16{100, 100, 100, 100}
	left := []uint16{200, 200, 200, 200}
	dst := make([]uint16, size*size)

	dcIntraPredict(dst, size, size, above, left)

	// Every sample away from the smoothed top row/left column must equal
	// the unsmoothed average of above and left.
	if got, want := dst[2*size+2], uint16(150); got != want {
		t.Errorf("dst[2][2] = %d, want %d", got, want)
	}
}

func TestAngularIntraPredictHorizontalIsPureLeftCopy(t *testing.T) {
	const size = 4
	above := make([]uint16, 2*size)
	left := []uint16{10, 20, 30, 40, 0, 0, 0, 0}
	dst := make([]uint16, size*size)

	angularIntraPredict(dst, size, size, 10, above, left) // mode 10: pure horizontal, angle 0.

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if got, want := dst[y*size+x], left[y]; got != want {
				t.Errorf("dst[%d][%d] = %d, want %d (mode 10 copies the left reference column across every row)", y, x, got, want)
			}
		}
	}
}

func TestAngularIntraPredictVerticalIsPureAboveCopy(t *testing.T) {
	const size = 4
	above := []uint16{10, 20, 30, 40, 0, 0, 0, 0}
	left := make([]uint16, 2*size)
	dst := make([]uint16, size*size)

	angularIntraPredict(dst, size, size, 26, above, left) // mode 26: pure vertical, angle 0.

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if got, want := dst[y*size+x], above[x]; got != want {
				t.Errorf("dst[%d][%d] = %d, want %d (mode 26 copies the above reference row down every column)", y, x, got, want)
			}
		}
	}
}

func TestResolveIntraModeExplicitSkipsMPMEntries(t *testing.T) {
	sps := &SPS{
		PicWidthInLumaSamples: 64, PicHeightInLumaSamples: 64,
		CtbSizeY: 16, MinCbSizeY: 8, PicWidthInCtbsY: 4,
		PicWidthInMinCbsY: 8, PicHeightInMinCbsY: 8,
		SubWidthC: 2, SubHeightC: 2,
	}
	pps := &PPS{CtbAddrRSToTS: []int{0, 1, 2, 3}, TileIDRS: []int{0, 0, 0, 0}}
	pic, err := NewPicture(sps, pps, AllocFunctions{})
	if err != nil {
		t.Fatalf("NewPicture: %v", err)
	}
	// No neighbours available: candA=candB=1 (DC), so mpm={0,1,26} sorted.
	cu := &CodingUnit{X: 0, Y: 0, IntraLumaPredMode: [4]int{32 + 0}} // rem=0, must skip 0 -> resolves to 2.
	if got, want := resolveIntraMode(pic, cu, 0), 2; got != want {
		t.Errorf("resolveIntraMode = %d, want %d", got, want)
	}
}

func TestDequantizeScalesAndRounds(t *testing.T) {
	// log2Size=2, qp=32, bitDepth=8: shift=8+2-5=5, add=1<<4=16,
	// scale=levelScale[32%6=2](51)<<(32/6=5)=1632.
	// coeff 1: (1*1632+16)>>5 = 1648>>5 = 51.
	// coeff 4: (4*1632+16)>>5 = 6544>>5 = 204.
	coeffs := []int32{1, 0, 4}
	got := dequantize(coeffs, 2, 32, 8)
	if got[0] != 51 {
		t.Errorf("dequantize coeff[0] = %d, want 51", got[0])
	}
	if got[1] != 0 {
		t.Errorf("dequantize coeff[1] = %d, want 0", got[1])
	}
	if got[2] != 204 {
		t.Errorf("dequantize coeff[2] = %d, want 204", got[2])
	}
}

func TestDequantizeZeroQP(t *testing.T) {
	// qp=0: shift=8+2-5=5, add=16, scale=levelScale[0]=40<<0=40.
	// coeff 4: (4*40+16)>>5 = 176>>5 = 5.
	coeffs := []int32{4}
	got := dequantize(coeffs, 2, 0, 8)
	if got[0] != 5 {
		t.Errorf("dequantize(qp=0) coeff[0] = %d, want 5", got[0])
	}
}

func TestDequantizeNonPositiveShiftSkipsRounding(t *testing.T) {
	// bitDepth=1, log2Size=2: shift=1+2-5=-2, clamped to 0 with add=0.
	// qp=0: scale=levelScale[0]=40<<0=40. coeff 3: (3*40+0)>>0 = 120.
	coeffs := []int32{3}
	got := dequantize(coeffs, 2, 0, 1)
	if got[0] != 120 {
		t.Errorf("dequantize(non-positive shift) coeff[0] = %d, want 120", got[0])
	}
}
