/*
DESCRIPTION
  nalunit.go provides the HEVC NAL unit header (section 7.3.1.2 of ITU-T
  H.265) and the emulation-prevention byte removal that turns a NAL's
  payload into an RBSP.

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

// NAL unit types, table 7-1.
const (
	NalTrailN = iota
	NalTrailR
	NalTsaN
	NalTsaR
	NalStsaN
	NalStsaR
	NalRadlN
	NalRadlR
	NalRaslN
	NalRaslR
	NalRsvVclN10
	NalRsvVclR11
	NalRsvVclN12
	NalRsvVclR13
	NalRsvVclN14
	NalRsvVclR15
	NalBlaWLp
	NalBlaWRadl
	NalBlaNLp
	NalIdrWRadl
	NalIdrNLp
	NalCraNut
	NalRsvIrapVcl22
	NalRsvIrapVcl23
	_
	_
	_
	_
	_
	_
	_
	_
	NalVps
	NalSps
	NalPps
	NalAud
	NalEosNut
	NalEobNut
	NalFdNut
	NalSeiPrefix
	NalSeiSuffix
)

// isSlice reports whether nalUnitType identifies a coded-slice-segment NAL
// unit (VCL NAL units, types 0-31).
func isSlice(nalUnitType uint8) bool { return nalUnitType <= 31 }

// isIRAP reports whether nalUnitType identifies an Intra Random Access
// Point picture (BLA, IDR or CRA), types 16-23.
func isIRAP(nalUnitType uint8) bool { return nalUnitType >= NalBlaWLp && nalUnitType <= NalRsvIrapVcl23 }

// isIDR reports whether nalUnitType identifies an IDR picture.
func isIDR(nalUnitType uint8) bool { return nalUnitType == NalIdrWRadl || nalUnitType == NalIdrNLp }

// isBLA reports whether nalUnitType identifies a BLA picture.
func isBLA(nalUnitType uint8) bool {
	return nalUnitType == NalBlaWLp || nalUnitType == NalBlaWRadl || nalUnitType == NalBlaNLp
}

// NALHeader describes the two-byte NAL unit header defined by section
// 7.3.1.2 of ITU-T H.265.
type NALHeader struct {
	// forbidden_zero_bit, always 0.
	ForbiddenZeroBit uint8

	// nal_unit_type, the type of RBSP data carried, table 7-1.
	Type uint8

	// nuh_layer_id, the layer of a (possibly multi-layer) bitstream this NAL
	// belongs to. This decoder core targets layer_id == 0 only; SHVC/MV-HEVC
	// layered extensions are a spec Non-goal.
	LayerID uint8

	// nuh_temporal_id_plus1 - 1, the temporal sub-layer identifier.
	TemporalID uint8
}

// NewNALHeader parses a NAL unit header from br following the syntax
// structure specified in section 7.3.1.2.
func NewNALHeader(br *bits.BitReader) (*NALHeader, error) {
	r := newFieldReader(br)
	h := &NALHeader{}
	h.ForbiddenZeroBit = uint8(r.readBits(1))
	h.Type = uint8(r.readBits(6))
	h.LayerID = uint8(r.readBits(6))
	temporalIDPlus1 := uint8(r.readBits(3))
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse NAL unit header")
	}
	if temporalIDPlus1 == 0 {
		return nil, NewError(CodedParameterOutOfRange, "nuh_temporal_id_plus1 must not be 0")
	}
	h.TemporalID = temporalIDPlus1 - 1
	return h, nil
}

// NALUnit is a fully framed, emulation-prevention-stripped bitstream unit as
// described in the PURPOSE & SCOPE data model ("Bitstream unit (NAL)"). Its
// lifetime spans parser ingest to consumption by the slice pipeline.
type NALUnit struct {
	Header   NALHeader
	RBSP     []byte // emulation-prevention-stripped payload, header excluded.
	PTS      int64
	UserData interface{}
}

// stripEmulationPrevention removes every emulation_prevention_three_byte
// (a 0x03 byte following 0x00 0x00 and preceding 0x00, 0x01, 0x02 or 0x03)
// from a NAL payload, turning it into an RBSP. Bytes that do not form part
// of an 00 00 03 sequence are preserved exactly.
func stripEmulationPrevention(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	zeros := 0
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		if zeros >= 2 && b == 0x03 && i+1 < len(payload) && payload[i+1] <= 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// insertEmulationPrevention is the inverse of stripEmulationPrevention: it
// inserts an emulation_prevention_three_byte after every 00 00 that would
// otherwise be followed by a byte <= 0x03, producing a byte string safe to
// scan for Annex-B start codes.
func insertEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/2)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// parseNALUnit parses a NAL unit header and strips emulation prevention from
// the remainder of raw (raw does not include an Annex-B start code).
func parseNALUnit(raw []byte, pts int64, userData interface{}) (*NALUnit, error) {
	if len(raw) < 2 {
		return nil, NewError(CodedParameterOutOfRange, "NAL unit shorter than header")
	}
	br := bits.NewBitReader(bytes.NewReader(raw[:2]))
	hdr, err := NewNALHeader(br)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse NAL header")
	}
	return &NALUnit{
		Header:   *hdr,
		RBSP:     stripEmulationPrevention(raw[2:]),
		PTS:      pts,
		UserData: userData,
	}, nil
}
