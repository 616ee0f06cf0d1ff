/*
DESCRIPTION
  dpb.go implements the decoded picture buffer: POC derivation, RPS-driven
  reference marking, and output-queue bumping (§4.7). Pictures are owned by
  the DPB arena and referenced by pointer from RPS/reference lists (§9
  "Cyclic picture references"); a picture is only evicted once its
  reference-count (RPS membership + pending tasks) reaches zero and it has
  already been output or carries output_flag=false.

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

import "sync"

// dpbEntry pairs a Picture with its DPB-local output state.
type dpbEntry struct {
	pic      *Picture
	output   bool // still owed to the output queue.
	prevPOC  int  // POC at insertion time, for output-queue sort stability.
}

// DPB is the decoded picture buffer of §3 "DPB" / §4.7.
type DPB struct {
	mu       sync.Mutex
	entries  []*dpbEntry
	capacity int

	prevPocMsb int
	prevPocLsb int
	havePrev   bool
}

// NewDPB returns a DPB with the given capacity (sps_max_dec_pic_buffering+1,
// §3 "DPB").
func NewDPB(capacity int) *DPB {
	return &DPB{capacity: capacity}
}

// DerivePOC computes the current picture's POC from pic_order_cnt_lsb per
// §4.7 step 1: the MSB increments (or decrements) when the LSB wraps past
// half MaxPicOrderCntLsb relative to the previous reference picture's POC.
// IDR pictures reset the derivation state and yield POC 0.
func (d *DPB) DerivePOC(pocLsb, maxPocLsb int, isIRAP, isIDR, noRaslOutputFlag bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if isIDR || (isIRAP && noRaslOutputFlag) || !d.havePrev {
		d.prevPocMsb, d.prevPocLsb = 0, 0
		d.havePrev = true
		if isIDR {
			return 0
		}
		d.prevPocLsb = pocLsb
		return pocLsb
	}

	pocMsb := d.prevPocMsb
	half := maxPocLsb / 2
	switch {
	case pocLsb < d.prevPocLsb && d.prevPocLsb-pocLsb >= half:
		pocMsb = d.prevPocMsb + maxPocLsb
	case pocLsb > d.prevPocLsb && pocLsb-d.prevPocLsb > half:
		pocMsb = d.prevPocMsb - maxPocLsb
	}
	d.prevPocMsb, d.prevPocLsb = pocMsb, pocLsb
	return pocMsb + pocLsb
}

// findByPOC returns the DPB picture with the given POC, or nil.
func (d *DPB) findByPOC(poc int) *Picture {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.pic.POC == poc {
			return e.pic
		}
	}
	return nil
}

// findByPOCLsb returns the DPB picture whose POC mod maxPocLsb equals
// pocLsb, used for long-term references coded without an explicit MSB
// cycle (§4.7, section 8.3.2).
func (d *DPB) findByPOCLsb(pocLsb, maxPocLsb int) *Picture {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if ((e.pic.POC % maxPocLsb) + maxPocLsb) % maxPocLsb == pocLsb {
			return e.pic
		}
	}
	return nil
}

// MarkReferences applies rps to the DPB: pictures in any of rps's five sets
// keep their ShortTerm/LongTerm status; every other entry is marked
// UnusedForReference, per §3 "RPS" and §4.7 step 2.
func (d *DPB) MarkReferences(rps RefPicSet) {
	kept := make(map[*Picture]RefState)
	for _, p := range rps.StCurrBefore {
		kept[p] = ShortTerm
	}
	for _, p := range rps.StCurrAfter {
		kept[p] = ShortTerm
	}
	for _, p := range rps.StFoll {
		kept[p] = ShortTerm
	}
	for _, p := range rps.LtCurr {
		kept[p] = LongTerm
	}
	for _, p := range rps.LtFoll {
		kept[p] = LongTerm
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if st, ok := kept[e.pic]; ok {
			e.pic.RefState = st
		} else {
			e.pic.RefState = UnusedForReference
		}
	}
	d.evictLocked()
}

// Insert adds pic to the DPB with output_flag from the slice header,
// bumping the smallest-POC output-eligible picture first if the DPB is
// already at capacity, per §4.7 steps 3-4. bump receives each picture
// bumped to the output queue by this call, in POC-ascending order.
func (d *DPB) Insert(pic *Picture, outputFlag bool, bump func(*Picture)) {
	d.mu.Lock()
	for d.countLocked() >= d.capacity {
		e := d.smallestPOCOutputEligibleLocked()
		if e == nil {
			break
		}
		e.output = false
		d.mu.Unlock()
		bump(e.pic)
		d.mu.Lock()
		d.evictLocked()
	}
	d.entries = append(d.entries, &dpbEntry{pic: pic, output: outputFlag})
	pic.RefState = ShortTerm
	d.mu.Unlock()
}

// Flush bumps every remaining output-eligible picture in POC-ascending
// order, the "on stream end" rule of §4.7.
func (d *DPB) Flush(bump func(*Picture)) {
	for {
		d.mu.Lock()
		e := d.smallestPOCOutputEligibleLocked()
		if e == nil {
			d.mu.Unlock()
			return
		}
		e.output = false
		d.mu.Unlock()
		bump(e.pic)
		d.mu.Lock()
		d.evictLocked()
		d.mu.Unlock()
	}
}

// smallestPOCOutputEligibleLocked returns the still-output-owed entry with
// the smallest POC, or nil. Caller holds d.mu.
func (d *DPB) smallestPOCOutputEligibleLocked() *dpbEntry {
	var best *dpbEntry
	for _, e := range d.entries {
		if !e.output {
			continue
		}
		if best == nil || e.pic.POC < best.pic.POC {
			best = e
		}
	}
	return best
}

// evictLocked drops entries that are UnusedForReference, no longer owed to
// the output queue, and have no pending tasks (§3 "DPB" invariant (a); §5
// "Pictures never leave the DPB while any task references them"). Caller
// holds d.mu.
func (d *DPB) evictLocked() {
	kept := d.entries[:0]
	for _, e := range d.entries {
		if e.pic.RefState == UnusedForReference && !e.output && e.pic.PendingTasks() == 0 {
			e.pic.release()
			continue
		}
		kept = append(kept, e)
	}
	d.entries = kept
}

// countLocked returns the number of pictures currently held. Caller holds
// d.mu.
func (d *DPB) countLocked() int { return len(d.entries) }

// Count returns the number of pictures currently held.
func (d *DPB) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked()
}

// Reset clears the DPB, releasing every held picture, for the external
// reset operation (§5 Cancellation).
func (d *DPB) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		e.pic.release()
	}
	d.entries = nil
	d.prevPocMsb, d.prevPocLsb, d.havePrev = 0, 0, false
}
