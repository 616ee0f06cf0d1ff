/*
DESCRIPTION
  pps.go parses the Picture Parameter Set RBSP (section 7.3.2.3 of ITU-T
  H.265): tile/slice layout, entry-point offsets, dependent-slice and
  wavefront enablement, and derived tile addressing tables (§4.3: ColBd/
  RowBd, CtbAddrRsToTs/CtbAddrTsToRs, TileIdRS). The z-scan table
  MinTbAddrZS is not derived.

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

// PPS is a decoded Picture Parameter Set, per the data-model description in
// PURPOSE & SCOPE §3.
type PPS struct {
	ID    uint8
	SPSID uint8

	DependentSliceSegmentsEnabledFlag bool
	OutputFlagPresentFlag             bool
	NumExtraSliceHeaderBits           int
	SignDataHidingEnabledFlag         bool
	CabacInitPresentFlag              bool

	NumRefIdxL0DefaultActiveMinus1 int
	NumRefIdxL1DefaultActiveMinus1 int
	InitQPMinus26                  int
	ConstrainedIntraPredFlag       bool
	TransformSkipEnabledFlag       bool

	CuQpDeltaEnabledFlag bool
	DiffCuQpDeltaDepth   int

	CbQpOffset int
	CrQpOffset int

	SliceChromaQpOffsetsPresentFlag bool
	WeightedPredFlag                bool
	WeightedBipredFlag              bool
	TransquantBypassEnabledFlag     bool

	TilesEnabledFlag              bool
	EntropyCodingSyncEnabledFlag  bool
	NumTileColumnsMinus1          int
	NumTileRowsMinus1             int
	UniformSpacingFlag            bool
	ColumnWidthMinus1             []int
	RowHeightMinus1               []int
	LoopFilterAcrossTilesEnabledFlag bool

	LoopFilterAcrossSlicesEnabledFlag bool

	DeblockingFilterControlPresentFlag bool
	DeblockingFilterOverrideEnabledFlag bool
	DeblockingFilterDisabledFlag       bool
	BetaOffsetDiv2                     int
	TcOffsetDiv2                       int

	ScalingListDataPresentFlag bool
	ListsModificationPresentFlag bool
	Log2ParallelMergeLevelMinus2 int
	SliceSegmentHeaderExtensionPresentFlag bool

	// Derived, precomputed on activation.
	ColBd, RowBd []int // tile column/row boundaries in CTB units.
	CtbAddrRSToTS []int
	CtbAddrTSToRS []int
	TileIDRS      []int
}

// ParsePPS decodes a Picture Parameter Set RBSP per section 7.3.2.3. sps
// resolves the picture geometry the PPS's tile derivation depends on; it
// must be the SPS the PPS's pps_seq_parameter_set_id refers to.
func ParsePPS(rbsp []byte, sps *SPS) (*PPS, error) {
	_, r := newRBSPReader(rbsp)
	p := &PPS{}

	p.ID = uint8(r.readUe())
	p.SPSID = uint8(r.readUe())
	p.DependentSliceSegmentsEnabledFlag = r.readFlag()
	p.OutputFlagPresentFlag = r.readFlag()
	p.NumExtraSliceHeaderBits = int(r.readBits(3))
	p.SignDataHidingEnabledFlag = r.readFlag()
	p.CabacInitPresentFlag = r.readFlag()
	p.NumRefIdxL0DefaultActiveMinus1 = int(r.readUe())
	p.NumRefIdxL1DefaultActiveMinus1 = int(r.readUe())
	p.InitQPMinus26 = r.readSe()
	p.ConstrainedIntraPredFlag = r.readFlag()
	p.TransformSkipEnabledFlag = r.readFlag()
	p.CuQpDeltaEnabledFlag = r.readFlag()
	if p.CuQpDeltaEnabledFlag {
		p.DiffCuQpDeltaDepth = int(r.readUe())
	}
	p.CbQpOffset = r.readSe()
	p.CrQpOffset = r.readSe()
	p.SliceChromaQpOffsetsPresentFlag = r.readFlag()
	p.WeightedPredFlag = r.readFlag()
	p.WeightedBipredFlag = r.readFlag()
	p.TransquantBypassEnabledFlag = r.readFlag()
	p.TilesEnabledFlag = r.readFlag()
	p.EntropyCodingSyncEnabledFlag = r.readFlag()
	if p.TilesEnabledFlag {
		p.NumTileColumnsMinus1 = int(r.readUe())
		p.NumTileRowsMinus1 = int(r.readUe())
		p.UniformSpacingFlag = r.readFlag()
		if !p.UniformSpacingFlag {
			p.ColumnWidthMinus1 = make([]int, p.NumTileColumnsMinus1)
			for i := range p.ColumnWidthMinus1 {
				p.ColumnWidthMinus1[i] = int(r.readUe())
			}
			p.RowHeightMinus1 = make([]int, p.NumTileRowsMinus1)
			for i := range p.RowHeightMinus1 {
				p.RowHeightMinus1[i] = int(r.readUe())
			}
		}
		p.LoopFilterAcrossTilesEnabledFlag = r.readFlag()
	} else {
		p.LoopFilterAcrossTilesEnabledFlag = true
	}
	p.LoopFilterAcrossSlicesEnabledFlag = r.readFlag()
	p.DeblockingFilterControlPresentFlag = r.readFlag()
	if p.DeblockingFilterControlPresentFlag {
		p.DeblockingFilterOverrideEnabledFlag = r.readFlag()
		p.DeblockingFilterDisabledFlag = r.readFlag()
		if !p.DeblockingFilterDisabledFlag {
			p.BetaOffsetDiv2 = r.readSe()
			p.TcOffsetDiv2 = r.readSe()
		}
	}
	p.ScalingListDataPresentFlag = r.readFlag()
	if p.ScalingListDataPresentFlag {
		if err := skipScalingListData(&r); err != nil {
			return nil, errors.Wrap(err, "could not skip PPS scaling_list_data")
		}
	}
	p.ListsModificationPresentFlag = r.readFlag()
	p.Log2ParallelMergeLevelMinus2 = int(r.readUe())
	p.SliceSegmentHeaderExtensionPresentFlag = r.readFlag()
	// pps_extension_present_flag and beyond (range/multilayer/3D/SCC
	// extensions) are not read; out of this core's scope.

	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "could not parse PPS")
	}
	if p.ID > 63 {
		return nil, NewError(CodedParameterOutOfRange, "pps_pic_parameter_set_id %d out of range", p.ID)
	}
	if sps != nil {
		p.deriveTileAddressing(sps)
	}
	return p, nil
}

// deriveTileAddressing computes the tile column/row boundaries and the
// raster-scan <-> tile-scan CTB address mapping tables used by neighbour
// availability (§4.5) and by slice-segment-address interpretation, per
// section 6.5.
func (p *PPS) deriveTileAddressing(sps *SPS) {
	numCols := p.NumTileColumnsMinus1 + 1
	numRows := p.NumTileRowsMinus1 + 1
	picWidthInCtbs := sps.PicWidthInCtbsY
	picHeightInCtbs := sps.PicHeightInCtbsY

	colWidth := make([]int, numCols)
	rowHeight := make([]int, numRows)
	if p.UniformSpacingFlag || !p.TilesEnabledFlag {
		for i := 0; i < numCols; i++ {
			colWidth[i] = (i+1)*picWidthInCtbs/numCols - i*picWidthInCtbs/numCols
		}
		for i := 0; i < numRows; i++ {
			rowHeight[i] = (i+1)*picHeightInCtbs/numRows - i*picHeightInCtbs/numRows
		}
	} else {
		sum := 0
		for i := 0; i < numCols-1; i++ {
			colWidth[i] = p.ColumnWidthMinus1[i] + 1
			sum += colWidth[i]
		}
		colWidth[numCols-1] = picWidthInCtbs - sum
		sum = 0
		for i := 0; i < numRows-1; i++ {
			rowHeight[i] = p.RowHeightMinus1[i] + 1
			sum += rowHeight[i]
		}
		rowHeight[numRows-1] = picHeightInCtbs - sum
	}

	p.ColBd = make([]int, numCols+1)
	for i := 0; i < numCols; i++ {
		p.ColBd[i+1] = p.ColBd[i] + colWidth[i]
	}
	p.RowBd = make([]int, numRows+1)
	for i := 0; i < numRows; i++ {
		p.RowBd[i+1] = p.RowBd[i] + rowHeight[i]
	}

	n := picWidthInCtbs * picHeightInCtbs
	p.CtbAddrRSToTS = make([]int, n)
	p.TileIDRS = make([]int, n)
	for ctbAddrRS := 0; ctbAddrRS < n; ctbAddrRS++ {
		tbX := ctbAddrRS % picWidthInCtbs
		tbY := ctbAddrRS / picWidthInCtbs
		tileX, tileY := 0, 0
		for i := 0; i < numCols; i++ {
			if tbX >= p.ColBd[i] {
				tileX = i
			}
		}
		for j := 0; j < numRows; j++ {
			if tbY >= p.RowBd[j] {
				tileY = j
			}
		}
		p.TileIDRS[ctbAddrRS] = tileY*numCols + tileX

		ts := 0
		for i := 0; i < tileX; i++ {
			ts += rowHeight[tileY] * colWidth[i]
		}
		for j := 0; j < tileY; j++ {
			ts += picWidthInCtbs * rowHeight[j]
		}
		ts += (tbY-p.RowBd[tileY])*colWidth[tileX] + tbX - p.ColBd[tileX]
		p.CtbAddrRSToTS[ctbAddrRS] = ts
	}
	p.CtbAddrTSToRS = make([]int, n)
	for rs, ts := range p.CtbAddrRSToTS {
		p.CtbAddrTSToRS[ts] = rs
	}
}
