/*
DESCRIPTION
  residual_test.go provides testing for the residual_coding() syntax walk
  and its scan-order/context-derivation helpers in residual.go.

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
	"bytes"
	"testing"

	"github.com/saxon-hevc/hevc/codec/hevc/hevcdec/bits"
)

func TestDiagonalScanOrderCoversEveryPositionOnce(t *testing.T) {
	for _, n := range []int{2, 4, 8} {
		order := diagonalScanOrder(n)
		if len(order) != n*n {
			t.Fatalf("diagonalScanOrder(%d) returned %d positions, want %d", n, len(order), n*n)
		}
		seen := make(map[[2]int]bool, n*n)
		for _, p := range order {
			if p[0] < 0 || p[0] >= n || p[1] < 0 || p[1] >= n {
				t.Fatalf("diagonalScanOrder(%d) produced out-of-range position %v", n, p)
			}
			if seen[p] {
				t.Fatalf("diagonalScanOrder(%d) produced duplicate position %v", n, p)
			}
			seen[p] = true
		}
	}
}

func TestDiagonalScanOrderStartsAtDC(t *testing.T) {
	order := diagonalScanOrder(4)
	if order[0] != [2]int{0, 0} {
		t.Errorf("diagonalScanOrder(4)[0] = %v, want (0,0)", order[0])
	}
}

func TestIndexOfPosFindsMember(t *testing.T) {
	order := diagonalScanOrder(4)
	for want, p := range order {
		if got := indexOfPos(order, p[0], p[1]); got != want {
			t.Errorf("indexOfPos(order, %d, %d) = %d, want %d", p[0], p[1], got, want)
		}
	}
}

func TestIndexOfPosMissingReturnsZero(t *testing.T) {
	order := diagonalScanOrder(4)
	if got := indexOfPos(order, 9, 9); got != 0 {
		t.Errorf("indexOfPos with an absent position = %d, want 0", got)
	}
}

func TestSigCoeffCtxIncDCOfDCSubblock(t *testing.T) {
	d := &CTBDecoder{}
	if got, want := d.sigCoeffCtxInc(2, 0, 0, 0, 0, 0), 2; got != want {
		t.Errorf("sigCoeffCtxInc(DC of DC subblock) = %d, want %d", got, want)
	}
}

func TestSigCoeffCtxIncDCOfNonDCSubblock(t *testing.T) {
	d := &CTBDecoder{}
	if got, want := d.sigCoeffCtxInc(2, 0, 0, 0, 1, 0), 5; got != want {
		t.Errorf("sigCoeffCtxInc(DC of non-DC subblock) = %d, want %d", got, want)
	}
}

func TestSigCoeffCtxIncChromaOffset(t *testing.T) {
	d := &CTBDecoder{}
	if got, want := d.sigCoeffCtxInc(2, 1, 0, 0, 0, 0), 29; got != want {
		t.Errorf("sigCoeffCtxInc(chroma) = %d, want %d", got, want)
	}
}

func TestSigCoeffCtxIncScalesWithTransformSize(t *testing.T) {
	d := &CTBDecoder{}
	if got, want := d.sigCoeffCtxInc(3, 0, 1, 0, 0, 0), 10; got != want {
		t.Errorf("sigCoeffCtxInc(8x8 luma) = %d, want %d", got, want)
	}
	if got, want := d.sigCoeffCtxInc(5, 0, 3, 3, 0, 0), 21; got != want {
		t.Errorf("sigCoeffCtxInc(32x32 luma) = %d, want %d", got, want)
	}
}

func TestCodedSubBlockCtxIncCountsCodedNeighbours(t *testing.T) {
	d := &CTBDecoder{}
	const numSub = 2

	coded := make([]bool, numSub*numSub)
	if got, want := d.codedSubBlockCtxInc(coded, numSub, 0, 0, 0), 0; got != want {
		t.Errorf("codedSubBlockCtxInc(no coded neighbours) = %d, want %d", got, want)
	}

	coded[0*numSub+1] = true // subblock to the right of (0,0)
	if got, want := d.codedSubBlockCtxInc(coded, numSub, 0, 0, 0), 1; got != want {
		t.Errorf("codedSubBlockCtxInc(right neighbour coded) = %d, want %d", got, want)
	}

	coded[1*numSub+0] = true // subblock below (0,0) too
	if got, want := d.codedSubBlockCtxInc(coded, numSub, 0, 0, 0), 1; got != want {
		t.Errorf("codedSubBlockCtxInc(both neighbours coded) = %d, want %d (saturates at 1)", got, want)
	}

	if got, want := d.codedSubBlockCtxInc(make([]bool, numSub*numSub), numSub, 0, 0, 1), 2; got != want {
		t.Errorf("codedSubBlockCtxInc(chroma, no coded neighbours) = %d, want %d", got, want)
	}
}

func TestCodedSubBlockCtxIncBottomRightSubblockHasNoNeighbours(t *testing.T) {
	d := &CTBDecoder{}
	const numSub = 2
	coded := make([]bool, numSub*numSub)
	if got, want := d.codedSubBlockCtxInc(coded, numSub, numSub-1, numSub-1, 0), 0; got != want {
		t.Errorf("codedSubBlockCtxInc(bottom-right subblock) = %d, want %d", got, want)
	}
}

func TestResolveLastSigCoeffPrefixShortPrefixesAreLiteral(t *testing.T) {
	d := &CTBDecoder{}
	for _, prefix := range []int{0, 1, 2, 3} {
		got, err := d.resolveLastSigCoeffPrefix(prefix)
		if err != nil {
			t.Fatalf("resolveLastSigCoeffPrefix(%d): %v", prefix, err)
		}
		if got != prefix {
			t.Errorf("resolveLastSigCoeffPrefix(%d) = %d, want %d", prefix, got, prefix)
		}
	}
}

func TestResolveLastSigCoeffPrefixLongPrefixReadsSuffix(t *testing.T) {
	// prefix 4: suffixBits = (4>>1)-1 = 1, one bypass bin read from 0x80.
	// codIRange=100, codIOffset=60, bit 1: offset=(60<<1)|1=121>=100 ->
	// bin=1, offset-=100 -> 21 (same arithmetic TestDecodeBypassWithSubtract
	// checks directly). suffix=1, so (1<<1)*(2+0)+1 = 5.
	c := &CABAC{
		br:         bits.NewBitReader(bytes.NewReader([]byte{0x80})),
		codIRange:  100,
		codIOffset: 60,
	}
	d := &CTBDecoder{cabac: c}

	got, err := d.resolveLastSigCoeffPrefix(4)
	if err != nil {
		t.Fatalf("resolveLastSigCoeffPrefix(4): %v", err)
	}
	if got != 5 {
		t.Errorf("resolveLastSigCoeffPrefix(4) = %d, want 5", got)
	}
}

func TestDecodeCoeffAbsLevelRemainingZeroPrefixIsJustSuffix(t *testing.T) {
	// codIRange=100, codIOffset=10: the first bypass bin doubles the offset
	// to 20, which stays below codIRange, so the unary prefix terminates
	// immediately at 0. With riceParam 0 the suffix has no bins either, so
	// the whole call consumes exactly one bin and returns 0.
	c := &CABAC{
		br:         bits.NewBitReader(bytes.NewReader([]byte{0x00})),
		codIRange:  100,
		codIOffset: 10,
	}
	d := &CTBDecoder{cabac: c}

	got, err := d.decodeCoeffAbsLevelRemaining(0)
	if err != nil {
		t.Fatalf("decodeCoeffAbsLevelRemaining: %v", err)
	}
	if got != 0 {
		t.Errorf("decodeCoeffAbsLevelRemaining(0) = %d, want 0", got)
	}
}

func TestDecodeCoeffAbsLevelRemainingPrefixAndSuffix(t *testing.T) {
	// Same 0x80 bypass stream as TestDecodeFLBypass, but read through the
	// unary-prefix-then-suffix binarization instead of a flat fixed-length
	// read: bins 1,0 (prefix=1, terminated by the 0) then bins 0,1 (the
	// 2-bit rice suffix, value 1). Result = (1<<2)+1 = 5.
	c := &CABAC{
		br:         bits.NewBitReader(bytes.NewReader([]byte{0x80})),
		codIRange:  100,
		codIOffset: 60,
	}
	d := &CTBDecoder{cabac: c}

	got, err := d.decodeCoeffAbsLevelRemaining(2)
	if err != nil {
		t.Fatalf("decodeCoeffAbsLevelRemaining: %v", err)
	}
	if got != 5 {
		t.Errorf("decodeCoeffAbsLevelRemaining(2) = %d, want 5", got)
	}
}
