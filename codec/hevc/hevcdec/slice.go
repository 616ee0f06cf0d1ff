/*
DESCRIPTION
  slice.go parses the slice segment header (section 7.3.6 of ITU-T H.265),
  partitions the active picture's Reference Picture Set from the header's
  short-term/long-term RPS selection (§4.7, §3 "RPS"), and assembles the L0/
  L1 reference picture lists used by inter prediction. A dependent slice
  segment's header is a copy of the preceding independent segment's header,
  apart from the segment address and the first-slice/dependent flags
  (SPEC_FULL.md supplemented feature 4). CABAC context tables are not
  carried over: decoder.go starts every slice segment with freshly
  initialized contexts.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)
  Bruce McMoran <mcmoranbjr@gmail.com>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hevcdec

import (
	"github.com/pkg/errors"
)

// Slice types, table 7-7.
const (
	SliceB = 0
	SliceP = 1
	SliceI = 2
)

// SliceHeader is a decoded slice segment header, per the data-model
// description in PURPOSE & SCOPE §3.
type SliceHeader struct {
	FirstSliceInPicFlag    bool
	NoOutputOfPriorPicsFlag bool
	PPSID                  uint8
	DependentSliceSegmentFlag bool
	SliceSegmentAddress    int

	// SliceAddrRS is the address of this segment's independent slice, the
	// same for every dependent segment that follows it (section 7.4.7.1's
	// "SliceAddrRs"); ctb.go uses it to populate Picture's per-CTB slice
	// map for the same-slice neighbour-availability check (§4.5).
	SliceAddrRS int

	SliceType int
	PicOutputFlag bool

	PicOrderCntLsb int

	ShortTermRefPicSetSPSFlag bool
	ShortTermRefPicSetIdx     int
	ShortTermRefPicSet        *ShortTermRefPicSet

	LongTermRefPics []LongTermRefPic

	TemporalMvpEnabledFlag bool
	SAOLumaFlag            bool
	SAOChromaFlag          bool

	NumRefIdxActiveOverrideFlag bool
	NumRefIdxL0ActiveMinus1     int
	NumRefIdxL1ActiveMinus1     int

	CabacInitFlag bool

	MvdL1ZeroFlag bool
	CollocatedFromL0Flag bool
	CollocatedRefIdx     int

	FiveMinusMaxNumMergeCand int

	SliceQPDelta      int
	SliceCbQPOffset   int
	SliceCrQPOffset   int

	DeblockingFilterOverrideFlag bool
	DeblockingFilterDisabledFlag bool
	BetaOffsetDiv2               int
	TcOffsetDiv2                 int

	LoopFilterAcrossSlicesEnabledFlag bool

	EntryPointOffsets []int

	// Derived reference-picture-list assembly (§4.7).
	RefPicSet RefPicSet
	RefPicListL0 []*Picture
	RefPicListL1 []*Picture

	// Bit position, in the RBSP, at which slice_segment_data() begins; the
	// CABAC engine's decoding-engine initialization (§4.4) reads from here.
	HeaderBits int

	SPS *SPS
	PPS *PPS
}

// LongTermRefPic is one entry of the long-term reference picture set built
// from either lt_ref_pic_poc_lsb_sps/used_by_curr_pic_lt_sps_flag or the
// slice-local poc_lsb_lt/used_by_curr_pic_lt_flag arrays (section 7.4.7.1).
type LongTermRefPic struct {
	PocLsb        int
	UsedByCurrPic bool
	DeltaPocMsbPresentFlag bool
	DeltaPocMsbCycle       int
}

// RefPicSet partitions the DPB into the five sets defined in §3 "Reference
// Picture Set (RPS)".
type RefPicSet struct {
	StCurrBefore []*Picture
	StCurrAfter  []*Picture
	StFoll       []*Picture
	LtCurr       []*Picture
	LtFoll       []*Picture
}

// isIndependent reports whether sh begins an independent slice segment
// (first_slice_segment_in_pic_flag or a coded slice_segment_address with
// dependent_slice_segment_flag == 0).
func (sh *SliceHeader) isIndependent() bool { return !sh.DependentSliceSegmentFlag }

// parseSliceHeader parses a slice segment header from the RBSP of a VCL
// NAL unit, per section 7.3.6.1. nalUnitType comes from the unit's NAL
// header; store resolves the pps_id reference; prevIndependent is the
// header a dependent segment copies.
func parseSliceHeader(rbsp []byte, nalUnitType uint8, store *ParamStore, prevIndependent *SliceHeader) (*SliceHeader, error) {
	br, r := newRBSPReader(rbsp)
	sh := &SliceHeader{}

	sh.FirstSliceInPicFlag = r.readFlag()
	if isIRAP(nalUnitType) {
		sh.NoOutputOfPriorPicsFlag = r.readFlag()
	}
	sh.PPSID = uint8(r.readUe())
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse slice header preamble")
	}

	pps, sps, err := store.activatePPS(sh.PPSID)
	if err != nil {
		return nil, err
	}
	sh.PPS, sh.SPS = pps, sps

	if !sh.FirstSliceInPicFlag {
		if pps.DependentSliceSegmentsEnabledFlag {
			sh.DependentSliceSegmentFlag = r.readFlag()
		}
		addrBits := ceilLog2(sps.PicSizeInCtbsY)
		sh.SliceSegmentAddress = int(r.readBits(addrBits))
	}

	if sh.DependentSliceSegmentFlag {
		if prevIndependent == nil {
			return nil, NewError(WarningInvalidSliceSegmentAddress, "dependent slice segment with no preceding independent segment")
		}
		// Inherit everything from the independent segment except the
		// segment address itself (SPEC_FULL.md supplemented feature 4);
		// slice_segment_header_extension, if present, follows below.
		inherited := *prevIndependent
		inherited.FirstSliceInPicFlag = sh.FirstSliceInPicFlag
		inherited.DependentSliceSegmentFlag = true
		inherited.SliceSegmentAddress = sh.SliceSegmentAddress
		sh = &inherited
	} else {
		sh.SliceAddrRS = sh.SliceSegmentAddress
		for i := 0; i < pps.NumExtraSliceHeaderBits; i++ {
			r.readBits(1)
		}
		sh.SliceType = int(r.readUe())
		if pps.OutputFlagPresentFlag {
			sh.PicOutputFlag = r.readFlag()
		} else {
			sh.PicOutputFlag = true
		}
		if sps.SeparateColourPlaneFlag {
			r.readBits(2) // colour_plane_id
		}

		if !isIDR(nalUnitType) {
			sh.PicOrderCntLsb = int(r.readBits(sps.Log2MaxPicOrderCntLsb))
			sh.ShortTermRefPicSetSPSFlag = r.readFlag()
			if !sh.ShortTermRefPicSetSPSFlag {
				set, err := parseShortTermRefPicSet(&r, len(sps.ShortTermRefPicSets), sps.ShortTermRefPicSets, len(sps.ShortTermRefPicSets))
				if err != nil {
					return nil, errors.Wrap(err, "could not parse slice-local short_term_ref_pic_set")
				}
				sh.ShortTermRefPicSet = set
			} else if len(sps.ShortTermRefPicSets) > 1 {
				idxBits := ceilLog2(len(sps.ShortTermRefPicSets))
				sh.ShortTermRefPicSetIdx = int(r.readBits(idxBits))
				if sh.ShortTermRefPicSetIdx >= len(sps.ShortTermRefPicSets) {
					return nil, NewError(WarningRPSIndexOutOfRange, "short_term_ref_pic_set_idx %d out of range", sh.ShortTermRefPicSetIdx)
				}
				sh.ShortTermRefPicSet = sps.ShortTermRefPicSets[sh.ShortTermRefPicSetIdx]
			} else if len(sps.ShortTermRefPicSets) == 1 {
				sh.ShortTermRefPicSet = sps.ShortTermRefPicSets[0]
			}

			if sps.LongTermRefPicsPresentFlag {
				numLongTermSPS := 0
				if sps.NumLongTermRefPicsSPS > 0 {
					numLongTermSPS = int(r.readUe())
				}
				numLongTermPics := int(r.readUe())
				total := numLongTermSPS + numLongTermPics
				sh.LongTermRefPics = make([]LongTermRefPic, total)
				prevDeltaMsb := 0
				for i := 0; i < total; i++ {
					lt := &sh.LongTermRefPics[i]
					if i < numLongTermSPS {
						if sps.NumLongTermRefPicsSPS > 1 {
							idxBits := ceilLog2(sps.NumLongTermRefPicsSPS)
							ltIdx := int(r.readBits(idxBits))
							lt.PocLsb = sps.LtRefPicPocLsbSPS[ltIdx]
							lt.UsedByCurrPic = sps.UsedByCurrPicLtSPSFlag[ltIdx]
						}
					} else {
						lt.PocLsb = int(r.readBits(sps.Log2MaxPicOrderCntLsb))
						lt.UsedByCurrPic = r.readFlag()
					}
					lt.DeltaPocMsbPresentFlag = r.readFlag()
					if lt.DeltaPocMsbPresentFlag {
						deltaMsbCycle := int(r.readUe())
						if i == 0 || i == numLongTermSPS {
							lt.DeltaPocMsbCycle = deltaMsbCycle
						} else {
							lt.DeltaPocMsbCycle = deltaMsbCycle + prevDeltaMsb
						}
						prevDeltaMsb = lt.DeltaPocMsbCycle
					}
				}
			}
			if sps.TemporalMvpEnabledFlag {
				sh.TemporalMvpEnabledFlag = r.readFlag()
			}
		}

		if sps.SampleAdaptiveOffsetEnabledFlag {
			sh.SAOLumaFlag = r.readFlag()
			if sps.ChromaArrayType != ChromaMonochrome {
				sh.SAOChromaFlag = r.readFlag()
			}
		}

		if sh.SliceType == SliceP || sh.SliceType == SliceB {
			sh.NumRefIdxActiveOverrideFlag = r.readFlag()
			sh.NumRefIdxL0ActiveMinus1 = pps.NumRefIdxL0DefaultActiveMinus1
			sh.NumRefIdxL1ActiveMinus1 = pps.NumRefIdxL1DefaultActiveMinus1
			if sh.NumRefIdxActiveOverrideFlag {
				sh.NumRefIdxL0ActiveMinus1 = int(r.readUe())
				if sh.SliceType == SliceB {
					sh.NumRefIdxL1ActiveMinus1 = int(r.readUe())
				}
			}
			// ref_pic_lists_modification() is skipped: this decoder core
			// builds L0/L1 in RPS-derived default order only (no explicit
			// list-entry reordering), matching the contract-level treatment
			// of the reconstruction back-end it feeds.
			if sh.SliceType == SliceB {
				sh.MvdL1ZeroFlag = r.readFlag()
			}
			if pps.CabacInitPresentFlag {
				sh.CabacInitFlag = r.readFlag()
			}
			if sh.TemporalMvpEnabledFlag {
				sh.CollocatedFromL0Flag = true
				if sh.SliceType == SliceB {
					sh.CollocatedFromL0Flag = r.readFlag()
				}
				if (sh.CollocatedFromL0Flag && sh.NumRefIdxL0ActiveMinus1 > 0) ||
					(!sh.CollocatedFromL0Flag && sh.NumRefIdxL1ActiveMinus1 > 0) {
					sh.CollocatedRefIdx = int(r.readUe())
				}
			}
			if (pps.WeightedPredFlag && sh.SliceType == SliceP) ||
				(pps.WeightedBipredFlag && sh.SliceType == SliceB) {
				skipPredWeightTable(&r, sps, sh)
			}
			sh.FiveMinusMaxNumMergeCand = int(r.readUe())
		}

		sh.SliceQPDelta = r.readSe()
		if pps.SliceChromaQpOffsetsPresentFlag {
			sh.SliceCbQPOffset = r.readSe()
			sh.SliceCrQPOffset = r.readSe()
		}
		if pps.DeblockingFilterControlPresentFlag {
			if pps.DeblockingFilterOverrideEnabledFlag {
				sh.DeblockingFilterOverrideFlag = r.readFlag()
			}
			if sh.DeblockingFilterOverrideFlag {
				sh.DeblockingFilterDisabledFlag = r.readFlag()
				if !sh.DeblockingFilterDisabledFlag {
					sh.BetaOffsetDiv2 = r.readSe()
					sh.TcOffsetDiv2 = r.readSe()
				}
			} else {
				sh.DeblockingFilterDisabledFlag = pps.DeblockingFilterDisabledFlag
				sh.BetaOffsetDiv2 = pps.BetaOffsetDiv2
				sh.TcOffsetDiv2 = pps.TcOffsetDiv2
			}
		}
		sh.LoopFilterAcrossSlicesEnabledFlag = pps.LoopFilterAcrossSlicesEnabledFlag
		if pps.LoopFilterAcrossSlicesEnabledFlag &&
			(sh.SAOLumaFlag || sh.SAOChromaFlag || !sh.DeblockingFilterDisabledFlag) {
			sh.LoopFilterAcrossSlicesEnabledFlag = r.readFlag()
		}
	}

	if pps.TilesEnabledFlag || pps.EntropyCodingSyncEnabledFlag {
		numEntryPointOffsets := int(r.readUe())
		if numEntryPointOffsets > 0 {
			offsetLenMinus1 := int(r.readUe())
			sh.EntryPointOffsets = make([]int, numEntryPointOffsets)
			for i := range sh.EntryPointOffsets {
				sh.EntryPointOffsets[i] = int(r.readBits(offsetLenMinus1+1)) + 1
			}
		}
	}
	if pps.SliceSegmentHeaderExtensionPresentFlag {
		length := int(r.readUe())
		for i := 0; i < length; i++ {
			r.readBits(8)
		}
	}
	// byte_alignment(): alignment_bit_equal_to_one then zero-padding to a
	// byte boundary, ahead of slice_segment_data().
	r.readBits(1)
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse slice header")
	}
	for !br.ByteAligned() {
		r.readBits(1)
	}
	sh.HeaderBits = br.BytesRead() * 8

	if sh.SliceSegmentAddress >= sps.PicSizeInCtbsY {
		return nil, NewError(WarningInvalidSliceSegmentAddress, "slice_segment_address %d outside picture (%d CTBs)", sh.SliceSegmentAddress, sps.PicSizeInCtbsY)
	}
	return sh, nil
}

// skipPredWeightTable consumes pred_weight_table() (section 7.3.6.3)
// without retaining values: explicit weighted prediction is a
// reconstruction back-end concern the CTB decoder passes syntax through to
// (§4.6), and only byte-exact RBSP consumption is needed here.
func skipPredWeightTable(r *fieldReader, sps *SPS, sh *SliceHeader) {
	r.readUe() // luma_log2_weight_denom
	if sps.ChromaArrayType != ChromaMonochrome {
		r.readSe() // delta_chroma_log2_weight_denom
	}
	numRef := [2]int{sh.NumRefIdxL0ActiveMinus1 + 1, 0}
	if sh.SliceType == SliceB {
		numRef[1] = sh.NumRefIdxL1ActiveMinus1 + 1
	}
	lists := 1
	if sh.SliceType == SliceB {
		lists = 2
	}
	for l := 0; l < lists; l++ {
		lumaFlags := make([]bool, numRef[l])
		for i := range lumaFlags {
			lumaFlags[i] = r.readFlag()
		}
		chromaFlags := make([]bool, numRef[l])
		if sps.ChromaArrayType != ChromaMonochrome {
			for i := range chromaFlags {
				chromaFlags[i] = r.readFlag()
			}
		}
		for i := 0; i < numRef[l]; i++ {
			if lumaFlags[i] {
				r.readSe()
				r.readSe()
			}
			if chromaFlags[i] {
				for c := 0; c < 2; c++ {
					r.readSe()
					r.readSe()
				}
			}
		}
	}
}

// buildRefPicSet partitions dpb's pictures into StCurrBefore/StCurrAfter/
// StFoll/LtCurr/LtFoll per section 8.3.2, using currPOC (the current
// picture's already-derived POC) and sh's short-/long-term RPS selection.
// Pictures present in the DPB but absent from every set are the caller's
// responsibility to mark UnusedForReference (§3 "RPS").
func buildRefPicSet(sh *SliceHeader, dpb *DPB, currPOC int) RefPicSet {
	var rps RefPicSet
	if sh.ShortTermRefPicSet != nil {
		st := sh.ShortTermRefPicSet
		for i := 0; i < st.NumNegativePics; i++ {
			poc := currPOC + st.DeltaPocS0[i]
			pic := dpb.findByPOC(poc)
			if pic == nil {
				continue
			}
			if st.UsedByCurrPicS0[i] {
				rps.StCurrBefore = append(rps.StCurrBefore, pic)
			} else {
				rps.StFoll = append(rps.StFoll, pic)
			}
		}
		for i := 0; i < st.NumPositivePics; i++ {
			poc := currPOC + st.DeltaPocS1[i]
			pic := dpb.findByPOC(poc)
			if pic == nil {
				continue
			}
			if st.UsedByCurrPicS1[i] {
				rps.StCurrAfter = append(rps.StCurrAfter, pic)
			} else {
				rps.StFoll = append(rps.StFoll, pic)
			}
		}
	}
	maxLsb := sh.SPS.MaxPicOrderCntLsb
	for _, lt := range sh.LongTermRefPics {
		var pic *Picture
		if lt.DeltaPocMsbPresentFlag {
			pocMsb := currPOC - lt.DeltaPocMsbCycle*maxLsb - (currPOC % maxLsb)
			pic = dpb.findByPOC(pocMsb + lt.PocLsb)
		} else {
			pic = dpb.findByPOCLsb(lt.PocLsb, maxLsb)
		}
		if pic == nil {
			continue
		}
		if lt.UsedByCurrPic {
			rps.LtCurr = append(rps.LtCurr, pic)
		} else {
			rps.LtFoll = append(rps.LtFoll, pic)
		}
	}
	return rps
}

// buildRefPicLists assembles RefPicListTemp0/1 then RefPicList0/1 per
// section 8.3.4, truncated/wrapped to NumRefIdxL{0,1}ActiveMinus1+1
// entries.
func buildRefPicLists(sh *SliceHeader) {
	if sh.SliceType == SliceI {
		return
	}
	temp0 := append(append([]*Picture{}, sh.RefPicSet.StCurrBefore...), sh.RefPicSet.StCurrAfter...)
	temp0 = append(temp0, sh.RefPicSet.LtCurr...)
	numL0 := sh.NumRefIdxL0ActiveMinus1 + 1
	sh.RefPicListL0 = wrapList(temp0, numL0)

	if sh.SliceType == SliceB {
		temp1 := append(append([]*Picture{}, sh.RefPicSet.StCurrAfter...), sh.RefPicSet.StCurrBefore...)
		temp1 = append(temp1, sh.RefPicSet.LtCurr...)
		numL1 := sh.NumRefIdxL1ActiveMinus1 + 1
		sh.RefPicListL1 = wrapList(temp1, numL1)
	}
}

// wrapList cyclically repeats src until it has exactly n entries (section
// 8.3.4's RefPicListTemp construction wraps when NumPocTotalCurr < n).
func wrapList(src []*Picture, n int) []*Picture {
	if len(src) == 0 || n == 0 {
		return nil
	}
	out := make([]*Picture, n)
	for i := range out {
		out[i] = src[i%len(src)]
	}
	return out
}

// ceilLog2 returns Ceil(Log2(n)) for n >= 1, per the addressing-bit-length
// computations used throughout §7.3.6 (e.g. slice_segment_address).
func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	bits := 0
	v := 1
	for v < n {
		v <<= 1
		bits++
	}
	return bits
}
