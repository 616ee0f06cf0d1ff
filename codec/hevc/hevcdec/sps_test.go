/*
DESCRIPTION
  sps_test.go provides testing for parsing and derivation functionality
  found in sps.go.

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

import (
	"reflect"
	"testing"
)

func TestCeilDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{8, 4, 2},
		{9, 4, 3},
		{0, 4, 0},
		{1, 1, 1},
	}
	for _, test := range tests {
		if got := ceilDiv(test.a, test.b); got != test.want {
			t.Errorf("ceilDiv(%d,%d) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestDeriveGeometry420(t *testing.T) {
	s := &SPS{
		ChromaFormatIDC:                      Chroma420,
		PicWidthInLumaSamples:                832,
		PicHeightInLumaSamples:               480,
		Log2MinLumaCodingBlockSize:           3,
		Log2DiffMaxMinLumaCodingBlockSize:    3,
		Log2MinLumaTransformBlockSize:        2,
		Log2DiffMaxMinLumaTransformBlockSize: 3,
		Log2MaxPicOrderCntLsb:                8,
	}
	s.deriveGeometry()

	if s.SubWidthC != 2 || s.SubHeightC != 2 {
		t.Errorf("SubWidthC/SubHeightC = %d/%d, want 2/2", s.SubWidthC, s.SubHeightC)
	}
	if s.ChromaArrayType != Chroma420 {
		t.Errorf("ChromaArrayType = %d, want %d", s.ChromaArrayType, Chroma420)
	}
	if s.MinCbLog2SizeY != 3 || s.CtbLog2SizeY != 6 {
		t.Errorf("MinCbLog2SizeY/CtbLog2SizeY = %d/%d, want 3/6", s.MinCbLog2SizeY, s.CtbLog2SizeY)
	}
	if s.CtbSizeY != 64 || s.MinCbSizeY != 8 {
		t.Errorf("CtbSizeY/MinCbSizeY = %d/%d, want 64/8", s.CtbSizeY, s.MinCbSizeY)
	}
	if s.PicWidthInCtbsY != 13 || s.PicHeightInCtbsY != 8 {
		t.Errorf("PicWidthInCtbsY/PicHeightInCtbsY = %d/%d, want 13/8", s.PicWidthInCtbsY, s.PicHeightInCtbsY)
	}
	if s.PicSizeInCtbsY != 104 {
		t.Errorf("PicSizeInCtbsY = %d, want 104", s.PicSizeInCtbsY)
	}
	if s.MaxTbLog2SizeY != 5 {
		t.Errorf("MaxTbLog2SizeY = %d, want 5", s.MaxTbLog2SizeY)
	}
	if s.MaxPicOrderCntLsb != 256 {
		t.Errorf("MaxPicOrderCntLsb = %d, want 256", s.MaxPicOrderCntLsb)
	}
}

func TestDeriveGeometrySeparateColourPlane(t *testing.T) {
	s := &SPS{ChromaFormatIDC: Chroma444, SeparateColourPlaneFlag: true, Log2MaxPicOrderCntLsb: 4}
	s.deriveGeometry()
	if s.ChromaArrayType != 0 {
		t.Errorf("ChromaArrayType = %d, want 0 with separate colour planes", s.ChromaArrayType)
	}
	if s.SubWidthC != 1 || s.SubHeightC != 1 {
		t.Errorf("4:4:4 SubWidthC/SubHeightC = %d/%d, want 1/1", s.SubWidthC, s.SubHeightC)
	}
}

func TestParseShortTermRefPicSetDirect(t *testing.T) {
	in := "010" + // num_negative_pics ue = 1
		"010" + // num_positive_pics ue = 1
		"1" + // delta_poc_s0_minus1[0] ue = 0
		"1" + // used_by_curr_pic_s0_flag[0] = true
		"010" + // delta_poc_s1_minus1[0] ue = 1
		"0" // used_by_curr_pic_s1_flag[0] = false

	rbsp, err := binToSlice(in)
	if err != nil {
		t.Fatalf("binToSlice: %v", err)
	}
	_, r := newRBSPReader(rbsp)

	got, err := parseShortTermRefPicSet(&r, 0, nil, 0)
	if err != nil {
		t.Fatalf("parseShortTermRefPicSet: %v", err)
	}
	want := &ShortTermRefPicSet{
		NumNegativePics: 1,
		DeltaPocS0:      []int{-1},
		UsedByCurrPicS0: []bool{true},
		NumPositivePics: 1,
		DeltaPocS1:      []int{2},
		UsedByCurrPicS1: []bool{false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseShortTermRefPicSet mismatch.\nGot:  %+v\nWant: %+v", got, want)
	}
}
