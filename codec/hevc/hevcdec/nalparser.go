/*
DESCRIPTION
  nalparser.go turns an append-only Annex-B byte stream (or a sequence of
  already-demuxed NAL units) into a queue of complete, emulation-prevention
  stripped NALUnit values, per PURPOSE & SCOPE component 1 ("NAL input
  stage") and COMPONENT DESIGN section 4.2.

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
	"sync"
)

// startCode3 and startCode4 are the two Annex-B start code forms.
var (
	startCode3 = []byte{0x00, 0x00, 0x01}
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// NALParser converts append-only Annex-B bytes, or already-demuxed NAL
// units, into a FIFO of NALUnit. It has no notion of parameter sets or
// slices; malformed units surface only once header parsing consumes them,
// per the component contract ("Errors: none at this layer").
type NALParser struct {
	rope []byte // partial bytes not yet resolved into a complete NAL unit.
	// ropePTS is the presentation timestamp passed to the first pushData
	// call since the rope was last flushed; every NALUnit enqueued from the
	// rope carries it.
	ropePTS      int64
	ropeUserData interface{}
	haveRope     bool

	// units is a plain mutex-guarded FIFO rather than github.com/cnotch/queue
	// (used below by scheduler.go's worker pool): Pop() on that queue blocks
	// until an item is pushed or the queue is signalled, but pop() below
	// must return immediately when nothing is queued yet ("dequeue one unit
	// or return empty", §4.2) so Decoder.Decode can report
	// WaitingForInputData to its caller instead of stalling it.
	mu    sync.Mutex
	units []interface{}
	eos   bool
}

// eosSentinel is enqueued once by markEndOfStream to signal end of
// stream to pop() callers once all buffered units have drained.
type eosSentinel struct{}

// NewNALParser returns a new, empty NALParser.
func NewNALParser() *NALParser {
	return &NALParser{}
}

// pushData appends data (which need not align to a NAL boundary) to the
// internal rope and scans for Annex-B start codes; complete units found are
// enqueued with ropePTS and ropeUserData, the pts and userData of the first
// pushData call since the last flushData. The pts of the call that
// delivered a unit's first byte is not tracked. Partial trailing data
// remains buffered for the next call.
func (p *NALParser) pushData(data []byte, pts int64, userData interface{}) {
	if !p.haveRope {
		p.ropePTS = pts
		p.ropeUserData = userData
		p.haveRope = true
	}
	p.rope = append(p.rope, data...)
	p.scan()
}

// scan hunts p.rope for start-code boundaries, finalizing and enqueueing
// every complete NAL unit found, leaving any partial trailing unit in rope.
func (p *NALParser) scan() {
	starts := findStartCodes(p.rope)
	if len(starts) < 2 {
		return
	}
	for i := 0; i < len(starts)-1; i++ {
		payload := p.rope[starts[i].end:starts[i+1].start]
		p.enqueue(payload)
	}
	last := starts[len(starts)-1]
	p.rope = p.rope[last.end:]
	// The remaining rope still starts right after a start code; its PTS is
	// no longer known precisely, so keep the original rope PTS for the
	// eventual finalization by flushData.
}

// startCodeSpan is the byte range [start,end) covering one Annex-B start
// code within a buffer.
type startCodeSpan struct{ start, end int }

// findStartCodes returns, in order, the spans of every 3- or 4-byte
// Annex-B start code found in buf.
func findStartCodes(buf []byte) []startCodeSpan {
	var spans []startCodeSpan
	for i := 0; i+3 <= len(buf); {
		if buf[i] != 0x00 || buf[i+1] != 0x00 {
			i++
			continue
		}
		switch {
		case i+4 <= len(buf) && buf[i+2] == 0x00 && buf[i+3] == 0x01:
			spans = append(spans, startCodeSpan{i, i + 4})
			i += 4
		case buf[i+2] == 0x01:
			spans = append(spans, startCodeSpan{i, i + 3})
			i += 3
		default:
			i++
		}
	}
	return spans
}

// enqueue finalizes raw (a start-code-delimited, still-framed NAL payload)
// into a NALUnit and pushes it onto the output queue.
func (p *NALParser) enqueue(raw []byte) {
	if len(raw) < 2 {
		return
	}
	nal, err := parseNALUnit(raw, p.ropePTS, p.ropeUserData)
	if err != nil {
		// Malformed units are not an error at this layer; they are dropped
		// silently and will simply never surface to header parsing.
		return
	}
	p.push(nal)
}

// push appends v to the tail of the FIFO.
func (p *NALParser) push(v interface{}) {
	p.mu.Lock()
	p.units = append(p.units, v)
	p.mu.Unlock()
}

// pushNAL enqueues bytes as a single already-complete NAL unit (no start
// code prefix).
func (p *NALParser) pushNAL(bytes []byte, pts int64, userData interface{}) {
	nal, err := parseNALUnit(bytes, pts, userData)
	if err != nil {
		return
	}
	p.push(nal)
}

// flushData finalizes any pending partial NAL currently buffered in the
// rope (treating the remainder as a complete unit) without marking end of
// stream.
func (p *NALParser) flushData() {
	if len(p.rope) >= 2 {
		p.enqueue(p.rope)
	}
	p.rope = nil
	p.haveRope = false
}

// markEndOfStream flushes any pending partial data and marks the stream as
// ended; subsequent pop() calls will eventually surface io.EOF-equivalent
// behaviour to the decode loop once the queue drains.
func (p *NALParser) markEndOfStream() {
	p.flushData()
	if !p.eos {
		p.eos = true
		p.push(eosSentinel{})
	}
}

// pop dequeues one NALUnit, or returns nil if none is available yet. eos is
// true when the dequeued item is the end-of-stream sentinel.
func (p *NALParser) pop() (nal *NALUnit, eos bool) {
	p.mu.Lock()
	if len(p.units) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	v := p.units[0]
	p.units[0] = nil
	p.units = p.units[1:]
	p.mu.Unlock()
	switch t := v.(type) {
	case *NALUnit:
		return t, false
	case eosSentinel:
		return nil, true
	default:
		return nil, false
	}
}
