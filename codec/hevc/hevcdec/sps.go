/*
DESCRIPTION
  sps.go parses the Sequence Parameter Set RBSP (section 7.3.2.2 of ITU-T
  H.265) and derives the geometry fields (CTB/CB/TB grid sizes) that the CTB
  decoder and reconstruction back-end depend on. Grounded on the field
  layout of cnotch-ipchub's av/codec/hevc H265RawSPS, adapted from that
  package's flat uintN fields to Go-idiomatic named types and to this
  decoder's fieldReader/sticky-error parsing idiom.

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
	"github.com/pkg/errors"
)

// Chroma formats, section 6.2 table 6-1.
const (
	ChromaMonochrome = iota
	Chroma420
	Chroma422
	Chroma444
)

const maxShortTermRefPicSets = 65 // sps sets plus one slice-local set.

// ShortTermRefPicSet is a decoded st_ref_pic_set() (section 7.3.7),
// stored in the reconstructed delta-POC form regardless of whether it was
// coded explicitly or via inter-RPS prediction (section 7.4.8): both forms
// appear in real streams, and the RPS partition step needs concrete
// DeltaPocS0/S1 arrays to work with either way.
type ShortTermRefPicSet struct {
	NumNegativePics int
	NumPositivePics int
	DeltaPocS0      []int
	UsedByCurrPicS0 []bool
	DeltaPocS1      []int
	UsedByCurrPicS1 []bool
}

// NumDeltaPocs is the total number of reference pictures described by the
// set, per the derived variable of the same name in 7.4.8.
func (s *ShortTermRefPicSet) NumDeltaPocs() int { return s.NumNegativePics + s.NumPositivePics }

// parseShortTermRefPicSet parses st_ref_pic_set(stRpsIdx) per section
// 7.3.7, resolving the inter_ref_pic_set_prediction_flag branch (7.4.8)
// against the previously parsed sets in the same SPS.
func parseShortTermRefPicSet(r *fieldReader, stRpsIdx int, sets []*ShortTermRefPicSet, numShortTermRefPicSets int) (*ShortTermRefPicSet, error) {
	s := &ShortTermRefPicSet{}

	interRefPicSetPredictionFlag := false
	if stRpsIdx != 0 {
		interRefPicSetPredictionFlag = r.readFlag()
	}

	if interRefPicSetPredictionFlag {
		deltaIdxMinus1 := 0
		if stRpsIdx == numShortTermRefPicSets {
			deltaIdxMinus1 = int(r.readUe())
		}
		refIdx := stRpsIdx - (deltaIdxMinus1 + 1)
		if refIdx < 0 || refIdx >= len(sets) || sets[refIdx] == nil {
			return nil, NewError(WarningRPSIndexOutOfRange, "st_ref_pic_set inter-prediction refers to unparsed set %d", refIdx)
		}
		ref := sets[refIdx]

		deltaRpsSign := r.readBits(1)
		absDeltaRpsMinus1 := r.readUe()
		deltaRps := (1 - 2*int(deltaRpsSign)) * (int(absDeltaRpsMinus1) + 1)

		numDeltaPocs := ref.NumDeltaPocs()
		usedByCurr := make([]bool, numDeltaPocs+1)
		useDelta := make([]bool, numDeltaPocs+1)
		for j := 0; j <= numDeltaPocs; j++ {
			usedByCurr[j] = r.readFlag()
			if !usedByCurr[j] {
				useDelta[j] = r.readFlag()
			} else {
				useDelta[j] = true
			}
		}

		// Reconstruct the predicted set's delta-POC list per 7.4.8, walking
		// the reference set's S1 pictures (descending), the implicit POC-0
		// entry from deltaRps itself, then the reference set's S0 pictures
		// (ascending), and splitting the merged, delta-ordered result back
		// into negative/positive partitions.
		type entry struct {
			deltaPoc int
			used     bool
		}
		var merged []entry
		refDeltas := make([]int, 0, numDeltaPocs)
		for i := ref.NumPositivePics - 1; i >= 0; i-- {
			refDeltas = append(refDeltas, ref.DeltaPocS1[i])
		}
		refDeltas = append(refDeltas, 0)
		for i := 0; i < ref.NumNegativePics; i++ {
			refDeltas = append(refDeltas, ref.DeltaPocS0[i])
		}
		refUsed := make([]bool, 0, numDeltaPocs+1)
		for i := ref.NumPositivePics - 1; i >= 0; i-- {
			refUsed = append(refUsed, ref.UsedByCurrPicS1[i])
		}
		refUsed = append(refUsed, false)
		for i := 0; i < ref.NumNegativePics; i++ {
			refUsed = append(refUsed, ref.UsedByCurrPicS0[i])
		}
		for j, d := range refDeltas {
			jj := numDeltaPocs - j // useDelta/usedByCurr are indexed with S1 pictures first per 7.4.8's j loop
			if jj < 0 || jj > numDeltaPocs {
				continue
			}
			if !useDelta[jj] {
				continue
			}
			merged = append(merged, entry{d + deltaRps, usedByCurr[jj]})
		}
		for _, e := range merged {
			if e.deltaPoc < 0 {
				s.DeltaPocS0 = append(s.DeltaPocS0, e.deltaPoc)
				s.UsedByCurrPicS0 = append(s.UsedByCurrPicS0, e.used)
			} else {
				s.DeltaPocS1 = append(s.DeltaPocS1, e.deltaPoc)
				s.UsedByCurrPicS1 = append(s.UsedByCurrPicS1, e.used)
			}
		}
		s.NumNegativePics = len(s.DeltaPocS0)
		s.NumPositivePics = len(s.DeltaPocS1)
		return s, r.err()
	}

	s.NumNegativePics = int(r.readUe())
	s.NumPositivePics = int(r.readUe())
	s.DeltaPocS0 = make([]int, s.NumNegativePics)
	s.UsedByCurrPicS0 = make([]bool, s.NumNegativePics)
	prev := 0
	for i := 0; i < s.NumNegativePics; i++ {
		deltaPocS0Minus1 := int(r.readUe())
		prev -= deltaPocS0Minus1 + 1
		s.DeltaPocS0[i] = prev
		s.UsedByCurrPicS0[i] = r.readFlag()
	}
	s.DeltaPocS1 = make([]int, s.NumPositivePics)
	s.UsedByCurrPicS1 = make([]bool, s.NumPositivePics)
	prev = 0
	for i := 0; i < s.NumPositivePics; i++ {
		deltaPocS1Minus1 := int(r.readUe())
		prev += deltaPocS1Minus1 + 1
		s.DeltaPocS1[i] = prev
		s.UsedByCurrPicS1[i] = r.readFlag()
	}
	return s, r.err()
}

// SPS is a decoded Sequence Parameter Set, per the data-model description
// in PURPOSE & SCOPE §3 plus the SUPPLEMENTED FEATURES timing-info addition
// in SPEC_FULL.md. Fields not needed by this decoder core are not read:
// VUI parsing stops after the timing info (HRD parameters and bitstream
// restriction are not read), and the SPS extensions (range/SCC/3D) are not
// read either.
type SPS struct {
	ID    uint8
	VPSID uint8

	MaxSubLayersMinus1    uint8
	TemporalIDNestingFlag bool
	ProfileTierLevel      *ProfileTierLevel

	ChromaFormatIDC          int
	SeparateColourPlaneFlag  bool
	PicWidthInLumaSamples    int
	PicHeightInLumaSamples   int
	ConformanceWindowFlag    bool
	ConfWinLeftOffset        int
	ConfWinRightOffset       int
	ConfWinTopOffset         int
	ConfWinBottomOffset      int

	BitDepthLuma   int
	BitDepthChroma int

	Log2MaxPicOrderCntLsb int
	MaxPicOrderCntLsb     int

	MaxDecPicBuffering      [maxSubLayers]uint32
	MaxNumReorderPics       [maxSubLayers]uint32
	MaxLatencyIncreasePlus1 [maxSubLayers]uint32

	Log2MinLumaCodingBlockSize   int
	Log2DiffMaxMinLumaCodingBlockSize int
	Log2MinLumaTransformBlockSize     int
	Log2DiffMaxMinLumaTransformBlockSize int
	MaxTransformHierarchyDepthInter int
	MaxTransformHierarchyDepthIntra int

	ScalingListEnabledFlag bool

	AMPEnabledFlag                 bool
	SampleAdaptiveOffsetEnabledFlag bool

	PCMEnabledFlag                          bool
	PCMSampleBitDepthLuma                   int
	PCMSampleBitDepthChroma                 int
	Log2MinPCMLumaCodingBlockSize           int
	Log2DiffMaxMinPCMLumaCodingBlockSize    int
	PCMLoopFilterDisabledFlag               bool

	ShortTermRefPicSets []*ShortTermRefPicSet

	LongTermRefPicsPresentFlag bool
	NumLongTermRefPicsSPS      int
	LtRefPicPocLsbSPS          []int
	UsedByCurrPicLtSPSFlag     []bool

	TemporalMvpEnabledFlag        bool
	StrongIntraSmoothingEnabledFlag bool

	// Timing info from vui_parameters(), enough to sanity-check output
	// timing against sps_max_dec_pic_buffering (SPEC_FULL.md supplemented
	// feature 3); HRD parameters proper are not modelled.
	VUITimingInfoPresentFlag bool
	VUINumUnitsInTick        uint32
	VUITimeScale             uint32

	// Derived fields, precomputed on activation (COMPONENT DESIGN §4.3).
	SubWidthC, SubHeightC   int
	ChromaArrayType         int
	CtbLog2SizeY            int
	CtbSizeY                int
	MinCbLog2SizeY          int
	MinCbSizeY              int
	PicWidthInCtbsY         int
	PicHeightInCtbsY        int
	PicWidthInMinCbsY       int
	PicHeightInMinCbsY      int
	PicSizeInCtbsY          int
	MinTbLog2SizeY          int
	MaxTbLog2SizeY          int
}

// ParseSPS decodes a Sequence Parameter Set RBSP per section 7.3.2.2 and
// precomputes its derived geometry fields.
func ParseSPS(rbsp []byte) (*SPS, error) {
	_, r := newRBSPReader(rbsp)
	s := &SPS{}

	s.VPSID = uint8(r.readBits(4))
	s.MaxSubLayersMinus1 = uint8(r.readBits(3))
	s.TemporalIDNestingFlag = r.readFlag()

	ptl, err := parseProfileTierLevel(&r, true, int(s.MaxSubLayersMinus1))
	if err != nil {
		return nil, errors.Wrap(err, "could not parse SPS profile_tier_level")
	}
	s.ProfileTierLevel = ptl

	s.ID = uint8(r.readUe())
	s.ChromaFormatIDC = int(r.readUe())
	if s.ChromaFormatIDC == Chroma444 {
		s.SeparateColourPlaneFlag = r.readFlag()
	}
	s.PicWidthInLumaSamples = int(r.readUe())
	s.PicHeightInLumaSamples = int(r.readUe())
	s.ConformanceWindowFlag = r.readFlag()
	if s.ConformanceWindowFlag {
		s.ConfWinLeftOffset = int(r.readUe())
		s.ConfWinRightOffset = int(r.readUe())
		s.ConfWinTopOffset = int(r.readUe())
		s.ConfWinBottomOffset = int(r.readUe())
	}
	s.BitDepthLuma = int(r.readUe()) + 8
	s.BitDepthChroma = int(r.readUe()) + 8
	s.Log2MaxPicOrderCntLsb = int(r.readUe()) + 4

	subLayerOrderingInfoPresentFlag := r.readFlag()
	start := s.MaxSubLayersMinus1
	if subLayerOrderingInfoPresentFlag {
		start = 0
	}
	for i := start; i <= s.MaxSubLayersMinus1; i++ {
		s.MaxDecPicBuffering[i] = uint32(r.readUe()) + 1
		s.MaxNumReorderPics[i] = uint32(r.readUe())
		s.MaxLatencyIncreasePlus1[i] = uint32(r.readUe())
	}

	s.Log2MinLumaCodingBlockSize = int(r.readUe()) + 3
	s.Log2DiffMaxMinLumaCodingBlockSize = int(r.readUe())
	s.Log2MinLumaTransformBlockSize = int(r.readUe()) + 2
	s.Log2DiffMaxMinLumaTransformBlockSize = int(r.readUe())
	s.MaxTransformHierarchyDepthInter = int(r.readUe())
	s.MaxTransformHierarchyDepthIntra = int(r.readUe())

	s.ScalingListEnabledFlag = r.readFlag()
	if s.ScalingListEnabledFlag {
		spsScalingListDataPresentFlag := r.readFlag()
		if spsScalingListDataPresentFlag {
			if err := skipScalingListData(&r); err != nil {
				return nil, errors.Wrap(err, "could not skip scaling_list_data")
			}
		}
	}

	s.AMPEnabledFlag = r.readFlag()
	s.SampleAdaptiveOffsetEnabledFlag = r.readFlag()

	s.PCMEnabledFlag = r.readFlag()
	if s.PCMEnabledFlag {
		s.PCMSampleBitDepthLuma = int(r.readBits(4)) + 1
		s.PCMSampleBitDepthChroma = int(r.readBits(4)) + 1
		s.Log2MinPCMLumaCodingBlockSize = int(r.readUe()) + 3
		s.Log2DiffMaxMinPCMLumaCodingBlockSize = int(r.readUe())
		s.PCMLoopFilterDisabledFlag = r.readFlag()
	}

	numShortTermRefPicSets := int(r.readUe())
	s.ShortTermRefPicSets = make([]*ShortTermRefPicSet, numShortTermRefPicSets)
	for i := 0; i < numShortTermRefPicSets; i++ {
		set, err := parseShortTermRefPicSet(&r, i, s.ShortTermRefPicSets, numShortTermRefPicSets)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse short_term_ref_pic_set %d", i)
		}
		s.ShortTermRefPicSets[i] = set
	}

	s.LongTermRefPicsPresentFlag = r.readFlag()
	if s.LongTermRefPicsPresentFlag {
		s.NumLongTermRefPicsSPS = int(r.readUe())
		s.LtRefPicPocLsbSPS = make([]int, s.NumLongTermRefPicsSPS)
		s.UsedByCurrPicLtSPSFlag = make([]bool, s.NumLongTermRefPicsSPS)
		for i := 0; i < s.NumLongTermRefPicsSPS; i++ {
			s.LtRefPicPocLsbSPS[i] = int(r.readBits(s.Log2MaxPicOrderCntLsb))
			s.UsedByCurrPicLtSPSFlag[i] = r.readFlag()
		}
	}

	s.TemporalMvpEnabledFlag = r.readFlag()
	s.StrongIntraSmoothingEnabledFlag = r.readFlag()

	vuiParametersPresentFlag := r.readFlag()
	if vuiParametersPresentFlag {
		if err := parseVUITimingInfo(&r, s); err != nil {
			return nil, errors.Wrap(err, "could not parse vui_parameters timing info")
		}
	}
	// sps_extension_present_flag and beyond are not read: RBSP trailing
	// bits and any range/multilayer/3D/SCC extension payload are ignored,
	// consistent with those extensions being out of this core's scope.

	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse SPS")
	}
	if s.ID > 15 {
		return nil, NewError(CodedParameterOutOfRange, "sps_seq_parameter_set_id %d out of range", s.ID)
	}
	if s.ChromaFormatIDC > Chroma444 {
		return nil, NewError(WarningInvalidChromaFormat, "invalid chroma_format_idc %d", s.ChromaFormatIDC)
	}

	s.deriveGeometry()
	return s, nil
}

// skipScalingListData consumes scaling_list_data() (section 7.3.4) without
// retaining values: scaling-list-driven (de)quantization is a reconstruction
// back-end concern (§4.6), and callers of ParseSPS only need byte-exact
// RBSP consumption past this structure, not its content.
func skipScalingListData(r *fieldReader) error {
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			predModeFlag := r.readFlag()
			if !predModeFlag {
				r.readUe() // scaling_list_pred_matrix_id_delta
			} else {
				coefNum := 1 << uint(4+(sizeID<<1))
				if coefNum > 64 {
					coefNum = 64
				}
				if sizeID > 1 {
					r.readSe() // scaling_list_dc_coef_minus8
				}
				for i := 0; i < coefNum; i++ {
					r.readSe() // scaling_list_delta_coeff
				}
			}
		}
	}
	return r.err()
}

// parseVUITimingInfo parses the leading, timing-relevant prefix of
// vui_parameters() (section E.2.1): the aspect-ratio/overscan/video-signal
// blocks are skipped past (their fields do not affect decode-time
// behaviour in this core) up to vui_timing_info_present_flag.
func parseVUITimingInfo(r *fieldReader, s *SPS) error {
	if r.readFlag() { // aspect_ratio_info_present_flag
		aspectRatioIdc := r.readBits(8)
		if aspectRatioIdc == 255 { // EXTENDED_SAR
			r.readBits(16)
			r.readBits(16)
		}
	}
	if r.readFlag() { // overscan_info_present_flag
		r.readFlag()
	}
	if r.readFlag() { // video_signal_type_present_flag
		r.readBits(3)
		r.readFlag()
		if r.readFlag() { // colour_description_present_flag
			r.readBits(8)
			r.readBits(8)
			r.readBits(8)
		}
	}
	if r.readFlag() { // chroma_loc_info_present_flag
		r.readUe()
		r.readUe()
	}
	r.readFlag() // neutral_chroma_indication_flag
	r.readFlag() // field_seq_flag
	r.readFlag() // frame_field_info_present_flag
	if r.readFlag() { // default_display_window_flag
		r.readUe()
		r.readUe()
		r.readUe()
		r.readUe()
	}
	s.VUITimingInfoPresentFlag = r.readFlag()
	if s.VUITimingInfoPresentFlag {
		s.VUINumUnitsInTick = uint32(r.readBits(32))
		s.VUITimeScale = uint32(r.readBits(32))
	}
	return r.err()
}

// deriveGeometry precomputes PicWidthInCtbsY, PicHeightInCtbsY and the
// other size variables derived from an SPS's coded-block-size fields
// (section 7.4.3.2.1), run once on activation per COMPONENT DESIGN §4.3.
func (s *SPS) deriveGeometry() {
	switch s.ChromaFormatIDC {
	case ChromaMonochrome:
		s.SubWidthC, s.SubHeightC = 1, 1
	case Chroma420:
		s.SubWidthC, s.SubHeightC = 2, 2
	case Chroma422:
		s.SubWidthC, s.SubHeightC = 2, 1
	case Chroma444:
		s.SubWidthC, s.SubHeightC = 1, 1
	}
	s.ChromaArrayType = s.ChromaFormatIDC
	if s.SeparateColourPlaneFlag {
		s.ChromaArrayType = 0
	}

	s.MinCbLog2SizeY = s.Log2MinLumaCodingBlockSize
	s.CtbLog2SizeY = s.MinCbLog2SizeY + s.Log2DiffMaxMinLumaCodingBlockSize
	s.MinCbSizeY = 1 << uint(s.MinCbLog2SizeY)
	s.CtbSizeY = 1 << uint(s.CtbLog2SizeY)

	s.PicWidthInMinCbsY = s.PicWidthInLumaSamples / s.MinCbSizeY
	s.PicHeightInMinCbsY = s.PicHeightInLumaSamples / s.MinCbSizeY
	s.PicWidthInCtbsY = ceilDiv(s.PicWidthInLumaSamples, s.CtbSizeY)
	s.PicHeightInCtbsY = ceilDiv(s.PicHeightInLumaSamples, s.CtbSizeY)
	s.PicSizeInCtbsY = s.PicWidthInCtbsY * s.PicHeightInCtbsY

	s.MinTbLog2SizeY = s.Log2MinLumaTransformBlockSize
	s.MaxTbLog2SizeY = s.MinTbLog2SizeY + s.Log2DiffMaxMinLumaTransformBlockSize

	s.MaxPicOrderCntLsb = 1 << uint(s.Log2MaxPicOrderCntLsb)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
