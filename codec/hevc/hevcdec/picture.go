/*
DESCRIPTION
  picture.go defines the Picture data model (§3 "Picture") and the
  CTB-progress cell that the scheduler and CTB decoder synchronize on
  (§3 "CTB-progress cell", §9 "Progress waits"). A picture is allocated
  through a pluggable allocator contract (§6 "Allocator contract") so the
  host controls buffer alignment and lifetime, matching the PURPOSE & SCOPE
  exclusion of "per-platform aligned-memory... wrappers" from this core.

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

// Progress is a CTB-progress cell's monotonic state, §3 "CTB-progress cell".
type Progress int

const (
	ProgressNone Progress = iota
	PredictionDone
	DeblockingVPass
	DeblockingHPass
	SAOComplete
)

// RefState is a picture's reference-picture status, §3 "Picture".
type RefState int

const (
	UnusedForReference RefState = iota
	ShortTerm
	LongTerm
)

// Integrity tracks how much of a picture's reconstruction is trustworthy,
// §3 "Picture", used by SUPPRESS_FAULTY_PICTURES (§6) to withhold output.
type Integrity int

const (
	NotDecoded Integrity = iota
	Decoded
	DecodingErrors
	DerivedFromErrors
)

// progressCell is one CTB's progress state plus the condition variable
// waiters block on, §9 "Progress waits". Cells are addressed by CTB
// raster-scan address and never share a lock across cells, so concurrent
// writers touching different CTBs never contend.
type progressCell struct {
	mu       sync.Mutex
	cond     *sync.Cond
	progress Progress
}

func newProgressCell() *progressCell {
	c := &progressCell{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// advance sets the cell to p if p is a forward move, per the "never
// decreases within one picture's lifetime" invariant of §3, and wakes
// waiters.
func (c *progressCell) advance(p Progress) {
	c.mu.Lock()
	if p > c.progress {
		c.progress = p
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// waitAtLeast blocks until the cell's progress is >= p.
func (c *progressCell) waitAtLeast(p Progress) {
	c.mu.Lock()
	for c.progress < p {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *progressCell) get() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Plane is one sample plane (luma or a chroma component) of a picture,
// populated by the allocator contract (§6).
type Plane struct {
	Data   []byte
	Stride int
	Width  int
	Height int
}

// AllocSpec describes the buffers a GetBuffer call must populate, per §6
// "Allocator contract": three planes, 16-byte-aligned, at least
// stride*height+padding bytes each.
type AllocSpec struct {
	Width, Height       [3]int // per plane: 0=luma, 1=Cb, 2=Cr.
	BitDepthLuma        int
	BitDepthChroma      int
}

// AllocFunctions is the pluggable allocator contract of §6: GetBuffer
// populates pic's planes for the given spec; ReleaseBuffer frees them. An
// AllocFunctions whose GetBuffer is nil makes NewPicture use a plain
// make()-based allocator with no alignment guarantee, adequate for tests but not for
// SIMD kernels expecting aligned, padded buffers.
type AllocFunctions struct {
	GetBuffer     func(spec AllocSpec, pic *Picture) error
	ReleaseBuffer func(pic *Picture)
}

// motionInfo is one prediction block's stored motion, kept per minimum-PB
// grid cell for co-located and spatial merge-candidate derivation.
type motionInfo struct {
	PredFlagL0, PredFlagL1 bool
	MvL0, MvL1             [2]int
	RefIdxL0, RefIdxL1     int
}

// tuFlags is per-transform-unit metadata the deblocking filter and
// residual decoding consult (cbf flags, transform-skip, transquant-bypass).
type tuFlags struct {
	CbfLuma, CbfCb, CbfCr bool
	TransformSkip         bool
	TransquantBypass      bool
}

// Picture is a decoded (or in-flight) picture, §3 "Picture". It owns its
// pixel buffers exclusively via AllocFunctions and is shared-read by the
// CABAC/back-end tasks of concurrent slices, plus the DPB's output queue,
// while pending_task_count > 0.
type Picture struct {
	POC          int
	NalUnitType  uint8
	LayerID      uint8
	TemporalID   uint8

	Planes [3]Plane

	SPS *SPS
	PPS *PPS

	RefState  RefState
	OutputFlag bool
	Integrity Integrity

	alloc AllocFunctions

	mu               sync.Mutex
	pendingTaskCount int
	tasksDoneCond    *sync.Cond

	progress    []*progressCell // indexed by CtbAddrRS.
	codingDepth []int8          // per minCb: coding-quad-tree depth of the covering CU, for split_cu_flag ctxInc.
	cuSkipped   []bool          // per minCb: cu_skip_flag of the covering CU.
	sliceAddrRS []int           // per CTB: SliceAddrRS of the slice segment that owns it, for neighbour availability.
	motion      []motionInfo    // per minimum-PB grid cell (reuses the minCb grid; this core never splits below it).
	tu          []tuFlags       // per minimum-TB grid cell (reuses the minCb grid).
	intraModeY  []int8          // per minCb: resolved luma intra mode (0-34), -1 if not intra-coded yet.
}

// NewPicture allocates a Picture for sps/pps using alloc, sized per sps's
// derived geometry. If alloc.GetBuffer is nil, a plain byte-slice
// allocator is used.
func NewPicture(sps *SPS, pps *PPS, alloc AllocFunctions) (*Picture, error) {
	p := &Picture{SPS: sps, PPS: pps, alloc: alloc}
	p.tasksDoneCond = sync.NewCond(&p.mu)

	spec := AllocSpec{BitDepthLuma: sps.BitDepthLuma, BitDepthChroma: sps.BitDepthChroma}
	spec.Width[0], spec.Height[0] = sps.PicWidthInLumaSamples, sps.PicHeightInLumaSamples
	spec.Width[1] = sps.PicWidthInLumaSamples / sps.SubWidthC
	spec.Height[1] = sps.PicHeightInLumaSamples / sps.SubHeightC
	spec.Width[2], spec.Height[2] = spec.Width[1], spec.Height[1]

	if alloc.GetBuffer != nil {
		if err := alloc.GetBuffer(spec, p); err != nil {
			return nil, NewError(ImageBufferFull, "allocator could not provide picture buffers: %v", err)
		}
	} else {
		for i := 0; i < 3; i++ {
			bytesPerSample := 1
			if (i == 0 && sps.BitDepthLuma > 8) || (i > 0 && sps.BitDepthChroma > 8) {
				bytesPerSample = 2
			}
			stride := spec.Width[i] * bytesPerSample
			p.Planes[i] = Plane{
				Data:   make([]byte, stride*spec.Height[i]),
				Stride: stride,
				Width:  spec.Width[i],
				Height: spec.Height[i],
			}
		}
	}

	n := sps.PicSizeInCtbsY
	p.progress = make([]*progressCell, n)
	for i := range p.progress {
		p.progress[i] = newProgressCell()
	}
	p.codingDepth = make([]int8, sps.PicWidthInMinCbsY*sps.PicHeightInMinCbsY+sps.PicWidthInMinCbsY+1)
	p.cuSkipped = make([]bool, len(p.codingDepth))
	p.sliceAddrRS = make([]int, n)
	p.motion = make([]motionInfo, len(p.codingDepth))
	p.tu = make([]tuFlags, len(p.codingDepth))
	p.intraModeY = make([]int8, len(p.codingDepth))
	for i := range p.intraModeY {
		p.intraModeY[i] = -1
	}
	return p, nil
}

// release returns the picture's buffers to the allocator, §6.
func (p *Picture) release() {
	if p.alloc.ReleaseBuffer != nil {
		p.alloc.ReleaseBuffer(p)
	}
}

// SetProgress advances the CTB at addrRS's progress cell.
func (p *Picture) SetProgress(addrRS int, prog Progress) {
	if addrRS < 0 || addrRS >= len(p.progress) {
		return
	}
	p.progress[addrRS].advance(prog)
}

// WaitProgress blocks until the CTB at addrRS reaches at least prog, the
// dependency primitive scheduler.go's task graph is built on (§4.8, §9).
func (p *Picture) WaitProgress(addrRS int, prog Progress) {
	if addrRS < 0 || addrRS >= len(p.progress) {
		return
	}
	p.progress[addrRS].waitAtLeast(prog)
}

// GetProgress reads the CTB at addrRS's current progress without blocking.
func (p *Picture) GetProgress(addrRS int) Progress {
	if addrRS < 0 || addrRS >= len(p.progress) {
		return ProgressNone
	}
	return p.progress[addrRS].get()
}

// minCbIndex recovers a minCb-grid index from the packed z-address
// ctb.go's neighbourAvailable builds: ctbN*CtbSizeY^2 + dy*CtbSizeY + dx,
// with dx/dy the sample offset within the CTB.
func (p *Picture) minCbIndex(zAddr int) int {
	ctbSize := p.SPS.CtbSizeY
	minCbSize := p.SPS.MinCbSizeY
	ctbN := zAddr / (ctbSize * ctbSize)
	within := zAddr % (ctbSize * ctbSize)
	dy, dx := within/ctbSize, within%ctbSize
	ctbX, ctbY := ctbN%p.SPS.PicWidthInCtbsY, ctbN/p.SPS.PicWidthInCtbsY
	x, y := ctbX*ctbSize+dx, ctbY*ctbSize+dy
	return (y/minCbSize)*p.SPS.PicWidthInMinCbsY + x/minCbSize
}

// CodingDepth returns the coding-quad-tree depth recorded for the minCb
// grid cell containing zAddr, used by split_cu_flag's ctxInc (table 9-42).
func (p *Picture) CodingDepth(zAddr int) int {
	idx := p.minCbIndex(zAddr)
	if idx < 0 || idx >= len(p.codingDepth) {
		return 0
	}
	return int(p.codingDepth[idx])
}

// SetCodingDepth records cu's coding-quad-tree depth over every minCb grid
// cell it covers.
func (p *Picture) SetCodingDepth(cu *CodingUnit, depth int) {
	minCbSize := p.SPS.MinCbSizeY
	size := 1 << uint(cu.Log2Size)
	widthInMinCbs := p.SPS.PicWidthInMinCbsY
	for dy := 0; dy < size; dy += minCbSize {
		for dx := 0; dx < size; dx += minCbSize {
			cx, cy := (cu.X+dx)/minCbSize, (cu.Y+dy)/minCbSize
			idx := cy*widthInMinCbs + cx
			if idx >= 0 && idx < len(p.codingDepth) {
				p.codingDepth[idx] = int8(depth)
				p.cuSkipped[idx] = cu.SkipFlag
			}
		}
	}
}

// CUSkipped reports whether the CU covering zAddr's minCb grid cell was
// cu_skip_flag coded, used by cu_skip_flag's own ctxInc (table 9-41).
func (p *Picture) CUSkipped(zAddr int) bool {
	idx := p.minCbIndex(zAddr)
	if idx < 0 || idx >= len(p.cuSkipped) {
		return false
	}
	return p.cuSkipped[idx]
}

// minCbIndexXY is minCbIndex's pixel-coordinate counterpart, used by callers
// (the backend) that already have (x,y) rather than a packed z-address.
func (p *Picture) minCbIndexXY(x, y int) int {
	minCbSize := p.SPS.MinCbSizeY
	idx := (y/minCbSize)*p.SPS.PicWidthInMinCbsY + x/minCbSize
	if idx < 0 || idx >= len(p.codingDepth) {
		return -1
	}
	return idx
}

// IntraModeAt returns the resolved luma intra prediction mode (0-34)
// recorded for the minCb grid cell covering (x,y), or -1 if none has been
// recorded (inter-coded, or not yet decoded), per §4.6's most-probable-mode
// derivation (section 8.4.2).
func (p *Picture) IntraModeAt(x, y int) int {
	idx := p.minCbIndexXY(x, y)
	if idx < 0 {
		return -1
	}
	return int(p.intraModeY[idx])
}

// SetIntraModeAt records cu's resolved luma intra mode over every minCb grid
// cell it covers.
func (p *Picture) SetIntraModeAt(x, y, size, mode int) {
	minCbSize := p.SPS.MinCbSizeY
	widthInMinCbs := p.SPS.PicWidthInMinCbsY
	for dy := 0; dy < size; dy += minCbSize {
		for dx := 0; dx < size; dx += minCbSize {
			cx, cy := (x+dx)/minCbSize, (y+dy)/minCbSize
			idx := cy*widthInMinCbs + cx
			if idx >= 0 && idx < len(p.intraModeY) {
				p.intraModeY[idx] = int8(mode)
			}
		}
	}
}

// MotionAt and SetMotionAt store/retrieve merge/AMVP-resolved motion per
// minCb grid cell, for co-located and spatial merge-candidate derivation.
func (p *Picture) MotionAt(x, y int) motionInfo {
	idx := p.minCbIndexXY(x, y)
	if idx < 0 {
		return motionInfo{}
	}
	return p.motion[idx]
}

func (p *Picture) SetMotionAt(x, y, size int, m motionInfo) {
	minCbSize := p.SPS.MinCbSizeY
	widthInMinCbs := p.SPS.PicWidthInMinCbsY
	for dy := 0; dy < size; dy += minCbSize {
		for dx := 0; dx < size; dx += minCbSize {
			cx, cy := (x+dx)/minCbSize, (y+dy)/minCbSize
			idx := cy*widthInMinCbs + cx
			if idx >= 0 && idx < len(p.motion) {
				p.motion[idx] = m
			}
		}
	}
}

// TUFlagsAt and SetTUFlagsAt store/retrieve per-transform-unit metadata that
// the deblocking filter's boundary-strength derivation consults (§8.7.2.4).
func (p *Picture) TUFlagsAt(x, y int) tuFlags {
	idx := p.minCbIndexXY(x, y)
	if idx < 0 {
		return tuFlags{}
	}
	return p.tu[idx]
}

func (p *Picture) SetTUFlagsAt(x, y int, f tuFlags) {
	idx := p.minCbIndexXY(x, y)
	if idx >= 0 {
		p.tu[idx] = f
	}
}

// NeighbourAvailable implements the same-slice/same-tile/z-scan-order test
// of §4.5 from the picture's own SPS/PPS, so both the CTB syntax walk
// (ctb.go) and the backend's MPM derivation can share one definition of
// availability instead of drifting apart.
func (p *Picture) NeighbourAvailable(xCurr, yCurr, xN, yN int) bool {
	sps := p.SPS
	pps := p.PPS
	if xN < 0 || yN < 0 || xN >= sps.PicWidthInLumaSamples || yN >= sps.PicHeightInLumaSamples {
		return false
	}
	ctbN := (yN/sps.CtbSizeY)*sps.PicWidthInCtbsY + xN/sps.CtbSizeY
	ctbCurr := (yCurr/sps.CtbSizeY)*sps.PicWidthInCtbsY + xCurr/sps.CtbSizeY
	if pps.CtbAddrRSToTS[ctbN] > pps.CtbAddrRSToTS[ctbCurr] {
		return false
	}
	if pps.TileIDRS[ctbN] != pps.TileIDRS[ctbCurr] {
		return false
	}
	return p.SliceAddrRS(ctbN) == p.SliceAddrRS(ctbCurr)
}

// SliceAddrRS returns the SliceAddrRS recorded for the CTB at addrRS, or 0
// if none has been recorded yet (used by neighbour availability, §4.5).
func (p *Picture) SliceAddrRS(addrRS int) int {
	if addrRS < 0 || addrRS >= len(p.sliceAddrRS) {
		return 0
	}
	return p.sliceAddrRS[addrRS]
}

// SetSliceAddrRS records that the CTB at addrRS belongs to the slice
// segment whose independent-segment CTB address is sliceAddrRS.
func (p *Picture) SetSliceAddrRS(addrRS, sliceAddrRS int) {
	if addrRS < 0 || addrRS >= len(p.sliceAddrRS) {
		return
	}
	p.sliceAddrRS[addrRS] = sliceAddrRS
}

// AddPendingTasks increments the picture's outstanding-task count, §4.8;
// pictures are never freed while this is nonzero (§5).
func (p *Picture) AddPendingTasks(n int) {
	p.mu.Lock()
	p.pendingTaskCount += n
	p.mu.Unlock()
}

// TaskDone decrements the outstanding-task count and broadcasts
// finished_cond when it reaches zero, §4.8. Reaching zero also advances
// Integrity from NotDecoded to Decoded, the "on decode completion"
// transition of §4.7 (a task that flagged DecodingErrors along the way
// leaves that verdict in place).
func (p *Picture) TaskDone() {
	p.mu.Lock()
	p.pendingTaskCount--
	if p.pendingTaskCount <= 0 {
		if p.Integrity == NotDecoded {
			p.Integrity = Decoded
		}
		p.tasksDoneCond.Broadcast()
	}
	p.mu.Unlock()
}

// WaitForCompletion blocks until every task submitted against p has
// finished, the external wait_for_completion operation of §5.
func (p *Picture) WaitForCompletion() {
	p.mu.Lock()
	for p.pendingTaskCount > 0 {
		p.tasksDoneCond.Wait()
	}
	p.mu.Unlock()
}

// PendingTasks reports the picture's outstanding-task count.
func (p *Picture) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingTaskCount
}
