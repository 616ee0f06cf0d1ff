/*
DESCRIPTION
  vps.go parses the Video Parameter Set RBSP (section 7.3.2.1 of ITU-T
  H.265): profile/tier/level and the HRD-relevant sub-layer ordering
  fields. SHVC/MV-HEVC layer-set extension syntax is a spec Non-goal and is
  not read: ParseVPS stops after the sub-layer ordering info.

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

	"github.com/pkg/errors"

	"github.com/saxon-hevc/hevc/codec/hevc/hevcdec/bits"
)

const maxSubLayers = 8

// ProfileTierLevel carries the profile/tier/level fields common to VPS and
// SPS, per section 7.3.3.
type ProfileTierLevel struct {
	GeneralProfileSpace              uint8
	GeneralTierFlag                  bool
	GeneralProfileIDC                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralProgressiveSourceFlag     bool
	GeneralInterlacedSourceFlag      bool
	GeneralNonPackedConstraintFlag   bool
	GeneralFrameOnlyConstraintFlag   bool
	GeneralLevelIDC                  uint8

	SubLayerProfilePresentFlag [maxSubLayers]bool
	SubLayerLevelPresentFlag   [maxSubLayers]bool
	SubLayerLevelIDC           [maxSubLayers]uint8
}

// parseProfileTierLevel parses profile_tier_level() as specified in section
// 7.3.3; profilePresentFlag and maxNumSubLayersMinus1 come from the calling
// syntax structure (VPS or SPS) per the standard's parameterization.
func parseProfileTierLevel(r *fieldReader, profilePresentFlag bool, maxNumSubLayersMinus1 int) (*ProfileTierLevel, error) {
	p := &ProfileTierLevel{}
	if profilePresentFlag {
		p.GeneralProfileSpace = uint8(r.readBits(2))
		p.GeneralTierFlag = r.readFlag()
		p.GeneralProfileIDC = uint8(r.readBits(5))
		p.GeneralProfileCompatibilityFlags = uint32(r.readBits(32))
		p.GeneralProgressiveSourceFlag = r.readFlag()
		p.GeneralInterlacedSourceFlag = r.readFlag()
		p.GeneralNonPackedConstraintFlag = r.readFlag()
		p.GeneralFrameOnlyConstraintFlag = r.readFlag()
		r.readBits(32) // general_reserved_zero_43bits (part 1)
		r.readBits(11) // general_reserved_zero_43bits (part 2)
		r.readBits(1)  // general_inbld_flag / reserved
	}
	p.GeneralLevelIDC = uint8(r.readBits(8))

	for i := 0; i < maxNumSubLayersMinus1; i++ {
		p.SubLayerProfilePresentFlag[i] = r.readFlag()
		p.SubLayerLevelPresentFlag[i] = r.readFlag()
	}
	if maxNumSubLayersMinus1 > 0 {
		for i := maxNumSubLayersMinus1; i < 8; i++ {
			r.readBits(2) // reserved_zero_2bits
		}
	}
	for i := 0; i < maxNumSubLayersMinus1; i++ {
		if p.SubLayerProfilePresentFlag[i] {
			r.readBits(2)
			r.readFlag()
			r.readBits(5)
			r.readBits(32)
			r.readBits(4)
			r.readBits(32) // sub_layer_reserved_zero_43bits (part 1)
			r.readBits(11) // sub_layer_reserved_zero_43bits (part 2)
			r.readBits(1)  // sub_layer_inbld_flag / reserved
		}
		if p.SubLayerLevelPresentFlag[i] {
			p.SubLayerLevelIDC[i] = uint8(r.readBits(8))
		}
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse profile_tier_level")
	}
	return p, nil
}

// VPS is a decoded Video Parameter Set (section 7.3.2.1). Only the fields
// this decoder core's PPS/SPS activation and DPB sizing depend on are
// retained; VPS extension syntax for layered coding is skipped.
type VPS struct {
	ID                        uint8
	BaseLayerInternalFlag     bool
	BaseLayerAvailableFlag    bool
	MaxLayersMinus1           uint8
	MaxSubLayersMinus1        uint8
	TemporalIDNestingFlag     bool
	ProfileTierLevel          *ProfileTierLevel
	SubLayerOrderingInfoFlag  bool
	MaxDecPicBuffering        [maxSubLayers]uint32
	MaxNumReorderPics         [maxSubLayers]uint32
	MaxLatencyIncreasePlus1   [maxSubLayers]uint32
}

// ParseVPS decodes a Video Parameter Set RBSP as specified in section
// 7.3.2.1. Fields beyond vps_sub_layer_ordering_info (HRD parameters,
// extensions) are not read; callers must not rely on byte-exact RBSP
// consumption past that point.
func ParseVPS(rbsp []byte) (*VPS, error) {
	br, r := newRBSPReader(rbsp)
	v := &VPS{}
	v.ID = uint8(r.readBits(4))
	v.BaseLayerInternalFlag = r.readFlag()
	v.BaseLayerAvailableFlag = r.readFlag()
	v.MaxLayersMinus1 = uint8(r.readBits(6))
	v.MaxSubLayersMinus1 = uint8(r.readBits(3))
	v.TemporalIDNestingFlag = r.readFlag()
	r.readBits(16) // vps_reserved_0xffff_16bits

	ptl, err := parseProfileTierLevel(&r, true, int(v.MaxSubLayersMinus1))
	if err != nil {
		return nil, errors.Wrap(err, "could not parse VPS profile_tier_level")
	}
	v.ProfileTierLevel = ptl

	v.SubLayerOrderingInfoFlag = r.readFlag()
	start := v.MaxSubLayersMinus1
	if v.SubLayerOrderingInfoFlag {
		start = 0
	}
	for i := start; i <= v.MaxSubLayersMinus1; i++ {
		v.MaxDecPicBuffering[i] = uint32(r.readUe()) + 1
		v.MaxNumReorderPics[i] = uint32(r.readUe())
		v.MaxLatencyIncreasePlus1[i] = uint32(r.readUe())
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse VPS")
	}
	_ = br
	if v.ID > 15 {
		return nil, NewError(CodedParameterOutOfRange, "vps_video_parameter_set_id %d out of range", v.ID)
	}
	return v, nil
}

// newRBSPReader wraps rbsp in a bits.BitReader and a fieldReader together,
// the pairing every parameter-set/slice-header parser in this package uses.
func newRBSPReader(rbsp []byte) (*bits.BitReader, fieldReader) {
	br := bits.NewBitReader(bytes.NewReader(rbsp))
	return br, newFieldReader(br)
}
