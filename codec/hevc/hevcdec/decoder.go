/*
DESCRIPTION
  decoder.go wires the NAL parser, parameter store, DPB, scheduler and CABAC
  /CTB pipeline into the external operations of §6, and owns the two-band
  error model's warning queue (§7). It is the module's entry point, playing
  the role the teacher's h264dec package leaves to its caller (h264dec has
  no equivalent top-level type; this core's concurrency and DPB
  responsibilities make one necessary, grounded on revid's Config-driven
  Start/Stop lifecycle for the shape of a long-lived, configurable
  component).

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
	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/saxon-hevc/hevc/codec/hevc/hevcdec/bits"
	"github.com/saxon-hevc/hevc/codec/hevc/hevcconfig"
)

const defaultWarningQueueCapacity = 64

// Decoder is the top-level handle the external operations of §6 act on
// (new_decoder returns one, free_decoder releases it).
type Decoder struct {
	log logging.Logger
	cfg hevcconfig.Config

	nals    *NALParser
	params  *ParamStore
	dpb     *DPB
	sched   *Scheduler
	alloc   AllocFunctions
	backend Backend

	warnings *warningQueue

	prevIndependent *SliceHeader
	prevPicOrder    *Picture

	outputQueue []*Picture
}

// NewDecoder is the external new_decoder operation (§6): it returns a
// ready-to-configure Decoder with no worker threads started.
func NewDecoder(log logging.Logger) *Decoder {
	return &Decoder{
		log:      log,
		cfg:      hevcconfig.Default(),
		nals:     NewNALParser(),
		params:   NewParamStore(),
		sched:    NewScheduler(),
		warnings: newWarningQueue(defaultWarningQueueCapacity),
		backend:  NewScalarBackend(),
	}
}

// FreeDecoder is the external free_decoder operation: it stops the worker
// pool then discards all resources (§5 Cancellation, "free_decoder stops
// the pool before teardown").
func (d *Decoder) FreeDecoder() {
	d.sched.Stop()
	d.dpb.Reset()
}

// StartWorkerThreads is the external start_worker_threads operation.
func (d *Decoder) StartWorkerThreads(n int) int { return d.sched.StartWorkerThreads(n) }

// SetImageAllocationFunctions installs the pluggable allocator contract of
// §6.
func (d *Decoder) SetImageAllocationFunctions(alloc AllocFunctions) { d.alloc = alloc }

// SetKernels replaces the reconstruction back-end, which NewDecoder sets to
// NewScalarBackend(). The decoder does not read the ACCELERATION_CODE
// setting (hevcconfig.Config.AccelerationCode), so that setting does not
// change the back-end.
func (d *Decoder) SetKernels(backend Backend) { d.backend = backend }

// PushData is the external push_data operation: append bytes to the NAL
// parser (§4.2, §6).
func (d *Decoder) PushData(data []byte, pts int64, userData interface{}) {
	d.nals.pushData(data, pts, userData)
}

// PushNAL is the external push_NAL operation: enqueue one already-complete
// NAL unit (§4.2, §6).
func (d *Decoder) PushNAL(nal []byte, pts int64, userData interface{}) {
	d.nals.pushNAL(nal, pts, userData)
}

// FlushData is the external flush_data / push_end_of_NAL operation:
// finalize any pending partial NAL and mark end of stream (§4.2, §6).
func (d *Decoder) FlushData() {
	d.nals.markEndOfStream()
}

// SetParameterBool and SetParameterInt are the external
// set_parameter_{bool,int} operations (§6), delegating validation to
// hevcconfig.Config.
func (d *Decoder) SetParameterBool(key hevcconfig.Key, value bool) error {
	return d.cfg.SetBool(key, value)
}

func (d *Decoder) SetParameterInt(key hevcconfig.Key, value int) error {
	return d.cfg.SetInt(key, value)
}

// GetWarning is the external get_warning operation: pop one queued warning,
// or nil if none is pending (§7).
func (d *Decoder) GetWarning() *Error { return d.warnings.pop() }

// Reset is the external reset operation: it clears the DPB, parameter
// store, NAL parser and output queue (§5 Cancellation). It does not wait
// for tasks already submitted to the scheduler; those still run against
// their pictures.
func (d *Decoder) Reset() {
	if d.dpb != nil {
		d.dpb.Reset()
	}
	d.params.reset()
	d.nals = NewNALParser()
	d.prevIndependent = nil
	d.outputQueue = nil
}

// Decode is the external decode operation: pull NAL units from the parser,
// route parameter sets into the store, dispatch slices to the scheduler,
// and report whether more work remains (§6 "decode", out `more`).
func (d *Decoder) Decode() (more bool, err error) {
	nal, eos := d.nals.pop()
	if nal == nil {
		if eos {
			d.flushRemainingPictures()
			return false, nil
		}
		return false, NewError(WaitingForInputData, "no NAL unit available")
	}

	if err := d.handleNAL(nal); err != nil {
		if IsOK(err) {
			d.raiseWarning(err)
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// handleNAL routes one NAL unit by type, per the data-flow description of
// §2: parameter sets update the parameter store; VCL NAL units build a
// slice header and dispatch decode tasks.
func (d *Decoder) handleNAL(nal *NALUnit) error {
	switch {
	case nal.Header.Type == NalVps:
		vps, err := ParseVPS(nal.RBSP)
		if err != nil {
			return err
		}
		d.params.putVPS(vps)
		if d.cfg.DumpVPSHeaders != 0 {
			d.log.Debug("parsed VPS", "id", vps.ID)
		}
		return nil

	case nal.Header.Type == NalSps:
		sps, err := ParseSPS(nal.RBSP)
		if err != nil {
			return err
		}
		d.params.putSPS(sps)
		if d.dpb == nil {
			d.dpb = NewDPB(int(sps.MaxDecPicBuffering[sps.MaxSubLayersMinus1]) + 1)
		}
		if d.cfg.DumpSPSHeaders != 0 {
			d.log.Debug("parsed SPS", "id", sps.ID)
		}
		return nil

	case nal.Header.Type == NalPps:
		// ParsePPS reads pps_pic_parameter_set_id and pps_seq_parameter_set_id
		// as its first two fields and only consults the *SPS for the
		// tile-addressing tables it derives at the end, so the referenced SPS
		// can't be known until after the id itself has been parsed.
		pps, err := ParsePPS(nal.RBSP, nil)
		if err != nil {
			return err
		}
		if sps := d.params.sps_(pps.SPSID); sps != nil {
			pps.deriveTileAddressing(sps)
		} else {
			d.raiseWarning(NewError(WarningNonExistingSPSReferenced, "pps %d references undefined sps %d", pps.ID, pps.SPSID))
		}
		d.params.putPPS(pps)
		if d.cfg.DumpPPSHeaders != 0 {
			d.log.Debug("parsed PPS", "id", pps.ID)
		}
		return nil

	case isSlice(nal.Header.Type):
		return d.handleSlice(nal)

	default:
		return nil // AUD/EOS/EOB/filler/SEI are not modelled by this core.
	}
}

// handleSlice parses a slice segment header, updates the DPB for a new
// picture when the segment starts one, and dispatches the decode task,
// per §4.5-§4.8.
func (d *Decoder) handleSlice(nal *NALUnit) error {
	sh, err := parseSliceHeader(nal.RBSP, nal.Header.Type, d.params, d.prevIndependent)
	if err != nil {
		return err
	}
	if d.cfg.DumpSliceHeaders != 0 {
		d.log.Debug("parsed slice header", "type", sh.SliceType, "addr", sh.SliceSegmentAddress)
	}
	if sh.isIndependent() {
		d.prevIndependent = sh
	}

	var pic *Picture
	if sh.FirstSliceInPicFlag {
		pic, err = d.startPicture(sh, nal)
		if err != nil {
			return err
		}
		d.prevPicOrder = pic
	} else {
		pic = d.prevPicOrder
	}
	if pic == nil {
		return NewError(WarningInvalidSliceSegmentAddress, "slice segment without a preceding first_slice_in_pic_flag=1 segment")
	}

	pps := sh.PPS
	br := bits.NewBitReader(byteSliceCursor(nal.RBSP[sh.HeaderBits/8:]))
	sliceQPY := 26 + pps.InitQPMinus26 + sh.SliceQPDelta
	cabac, err := NewCABAC(br, sh.SliceType, sliceQPY)
	if err != nil {
		return err
	}

	if pps.EntropyCodingSyncEnabledFlag {
		numRows := pic.SPS.PicHeightInCtbsY
		startRow := sh.SliceSegmentAddress / pic.SPS.PicWidthInCtbsY
		for row := startRow; row < numRows; row++ {
			d.sched.SubmitCTBRow(pic, sh, row, cabac, d.backend)
			d.sched.SubmitFilterRow(pic, sh, row, d.backend)
		}
	} else {
		d.sched.SubmitSlice(pic, sh, cabac, d.backend)
	}
	return nil
}

// startPicture derives the new picture's POC, allocates it, builds and
// applies its RPS, and inserts it into the DPB, per §4.7 steps 1-4.
func (d *Decoder) startPicture(sh *SliceHeader, nal *NALUnit) (*Picture, error) {
	sps, pps := sh.SPS, sh.PPS
	pic, err := NewPicture(sps, pps, d.alloc)
	if err != nil {
		return nil, err
	}
	pic.NalUnitType = nal.Header.Type
	pic.LayerID = nal.Header.LayerID
	pic.TemporalID = nal.Header.TemporalID
	pic.OutputFlag = sh.PicOutputFlag
	pic.Integrity = NotDecoded

	noRaslOutputFlag := isIRAP(nal.Header.Type) // simplified: treated true for every IRAP, since cross-layer/BLA-specific reset conditions are out of scope.
	pic.POC = d.dpb.DerivePOC(sh.PicOrderCntLsb, sps.MaxPicOrderCntLsb, isIRAP(nal.Header.Type), isIDR(nal.Header.Type), noRaslOutputFlag)

	rps := buildRefPicSet(sh, d.dpb, pic.POC)
	sh.RefPicSet = rps
	buildRefPicLists(sh)
	d.dpb.MarkReferences(rps)

	d.dpb.Insert(pic, sh.PicOutputFlag, func(bumped *Picture) {
		d.outputQueue = append(d.outputQueue, bumped)
	})
	return pic, nil
}

// flushRemainingPictures bumps every remaining output-eligible picture on
// end of stream, §4.7 "On stream end".
func (d *Decoder) flushRemainingPictures() {
	if d.dpb == nil {
		return
	}
	d.dpb.Flush(func(bumped *Picture) {
		d.outputQueue = append(d.outputQueue, bumped)
	})
}

// raiseWarning marks a degraded picture's integrity (best-effort: the most
// recently started picture, since most warnings arise while parsing its
// slices) and queues w for GetWarning, per §7's propagation policy.
func (d *Decoder) raiseWarning(err error) {
	e, ok := err.(*Error)
	if !ok {
		e = NewError(WarningInvalidHeaderField, "%v", err)
	}
	if d.prevPicOrder != nil && d.prevPicOrder.Integrity == NotDecoded {
		d.prevPicOrder.Integrity = DecodingErrors
	}
	d.warnings.push(e)
}

// PeekNextPicture is the external peek_next_picture operation: return the
// output queue's head without removing it, honoring
// SUPPRESS_FAULTY_PICTURES (§6).
func (d *Decoder) PeekNextPicture() *Picture {
	for _, p := range d.outputQueue {
		if d.cfg.SuppressFaultyPictures && p.Integrity != Decoded {
			continue
		}
		return p
	}
	return nil
}

// GetNextPicture is the external get_next_picture operation: equivalent to
// PeekNextPicture followed by ReleaseNextPicture (§4.7, §8 testable
// property).
func (d *Decoder) GetNextPicture() *Picture {
	p := d.PeekNextPicture()
	if p != nil {
		d.ReleaseNextPicture()
	}
	return p
}

// ReleaseNextPicture is the external release_next_picture operation:
// remove the head of the output queue that PeekNextPicture would return.
func (d *Decoder) ReleaseNextPicture() {
	for i, p := range d.outputQueue {
		if d.cfg.SuppressFaultyPictures && p.Integrity != Decoded {
			continue
		}
		d.outputQueue = append(d.outputQueue[:i], d.outputQueue[i+1:]...)
		return
	}
}

// byteSliceCursor adapts a []byte to the bits.BitReader's io.Reader
// dependency without an extra copy through bytes.NewReader at every call
// site that already has a slice in hand.
func byteSliceCursor(b []byte) *sliceReader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	off int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.off >= len(s.b) {
		return 0, errors.New("hevcdec: end of RBSP")
	}
	n := copy(p, s.b[s.off:])
	s.off += n
	return n, nil
}
