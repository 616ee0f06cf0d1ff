/*
DESCRIPTION
  vps_test.go provides testing for parsing functionality found in vps.go.

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

func TestParseVPSMinimal(t *testing.T) {
	rbsp, err := binToSlice(vpsMinimalBits())
	if err != nil {
		t.Fatalf("binToSlice: %v", err)
	}
	got, err := ParseVPS(rbsp)
	if err != nil {
		t.Fatalf("ParseVPS: %v", err)
	}

	want := &VPS{
		BaseLayerInternalFlag:  true,
		BaseLayerAvailableFlag: true,
		TemporalIDNestingFlag:  true,
		ProfileTierLevel: &ProfileTierLevel{
			GeneralProfileIDC:              1,
			GeneralProgressiveSourceFlag:   true,
			GeneralNonPackedConstraintFlag: true,
			GeneralFrameOnlyConstraintFlag: true,
			GeneralLevelIDC:                90,
		},
		SubLayerOrderingInfoFlag: true,
		MaxDecPicBuffering:       [maxSubLayers]uint32{0: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseVPS mismatch.\nGot:  %+v\nWant: %+v\nProfileTierLevel got: %+v\nProfileTierLevel want: %+v",
			got, want, got.ProfileTierLevel, want.ProfileTierLevel)
	}
}

// vpsMinimalBits builds the bit string for TestParseVPSMinimal
// programmatically so fixed-width fields (the 32-bit and 11-bit reserved
// runs) can't silently drift from their declared width the way a
// hand-counted literal can.
func vpsMinimalBits() string {
	zeros := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = '0'
		}
		return string(b)
	}
	return "0000" + // vps_video_parameter_set_id = 0
		"1" + // vps_base_layer_internal_flag
		"1" + // vps_base_layer_available_flag
		"000000" + // vps_max_layers_minus1 = 0
		"000" + // vps_max_sub_layers_minus1 = 0
		"1" + // vps_temporal_id_nesting_flag
		"1111111111111111" + // vps_reserved_0xffff_16bits

		// profile_tier_level(1, 0)
		"00" + // general_profile_space
		"0" + // general_tier_flag
		"00001" + // general_profile_idc = 1
		zeros(32) + // general_profile_compatibility_flag[32]
		"1" + // general_progressive_source_flag
		"0" + // general_interlaced_source_flag
		"1" + // general_non_packed_constraint_flag
		"1" + // general_frame_only_constraint_flag
		zeros(32) + // general_reserved_zero_43bits part 1
		zeros(11) + // general_reserved_zero_43bits part 2
		"0" + // general_inbld_flag / reserved
		"01011010" + // general_level_idc = 90

		"1" + // vps_sub_layer_ordering_info_present_flag
		"1" + // vps_max_dec_pic_buffering_minus1[0] ue = 0
		"1" + // vps_max_num_reorder_pics[0] ue = 0
		"1" + // vps_max_latency_increase_plus1[0] ue = 0
		zeros(8) // padding
}

func TestParseVPSTruncatedStreamErrors(t *testing.T) {
	// 0xff gives vps_video_parameter_set_id = 15, the largest value u(4)
	// can hold, so the ID range check cannot fail; the stream ends after
	// one byte and ParseVPS reports that short read as an error.
	rbsp := []byte{0xff}
	if _, err := ParseVPS(rbsp); err == nil {
		t.Error("expected error parsing a truncated VPS")
	}
}
