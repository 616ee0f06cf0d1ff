/*
DESCRIPTION
  backend.go defines the reconstruction back-end contract (§4.6) and the
  runtime kernel-dispatch table (§9 "Kernel dispatch"): intra/inter
  prediction, inverse transform, deblocking and SAO are specified at the
  contract level, with the normative per-sample math left to a pluggable
  Kernels table selected by ACCELERATION_CODE (§6) rather than by
  inheritance, matching the SIMD-kernel exclusion of PURPOSE & SCOPE.
  scalarBackend is the default, always-available Backend: it drives the
  Scalar kernel table over the samples ctb.go's syntax walk has decoded, and
  is what NewDecoder installs when a host never calls SetKernels itself.

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

import "math"

// AccelerationCode selects a Kernels table, §6 "ACCELERATION_CODE" and §9
// "Kernel dispatch". The exact member set is an implementation-specific
// extensibility point per DESIGN NOTES' open question; this core defines
// the portable baseline plus two placeholders for SIMD tiers a host may
// register at runtime via RegisterKernels.
type AccelerationCode int

const (
	Scalar AccelerationCode = iota
	SSE
	AVX2
)

// Backend is the reconstruction back-end contract the CTB decoder drives
// (§4.6): given the syntax ctb.go has decoded, produce reconstructed
// samples. Implementations own dequantization, the inverse transform, and
// intra/inter prediction; ctb.go supplies only the block geometry and
// syntax values needed to invoke them.
type Backend interface {
	// ReconstructCU predicts every sample of cu. ctb.go calls it before
	// walking cu's transform tree; any coded transform block, in an intra
	// or an inter CU, then adds its residual through DecodeResidual.
	ReconstructCU(pic *Picture, cu *CodingUnit) error

	// DecodeResidual dequantizes coeffs (as parsed from residual_coding(),
	// section 7.3.8.11, by ctb.go's transform-tree walk), applies the
	// inverse transform for the transform block at luma-plane position
	// (x0,y0) with the given log2 size and component (0=luma, 1=Cb, 2=Cr),
	// and adds the result into the block's predicted samples. (x0,y0) is
	// always expressed in luma-sample units, even for a chroma component;
	// the backend scales by SubWidthC/SubHeightC itself.
	DecodeResidual(pic *Picture, cu *CodingUnit, x0, y0, log2Size, component int, coeffs []int32) error

	// FilterRow runs the deblocking vertical pass, horizontal pass, and
	// SAO (in that order, per §4.5 step 4) over the CTB row addressed by
	// ctbRowY, advancing pic's progress cells for that row through
	// SAOComplete.
	FilterRow(pic *Picture, sh *SliceHeader, ctbRowY int) error
}

// Kernels is the function-valued table §9 "Kernel dispatch" describes:
// built once per ACCELERATION_CODE at decoder start and shared read-only
// across all worker goroutines.
type Kernels struct {
	Code AccelerationCode

	// IntraPredict fills dst (dstStride-strided, size x size samples) with
	// the angular/DC/planar intra prediction for predMode using the
	// already-reconstructed border in above/left (2*size samples each,
	// unavailable positions already substituted per §8.4.4.2.2).
	IntraPredict func(dst []uint16, dstStride, size, predMode int, above, left []uint16)

	// InterPredictLuma performs 8-tap separable quarter-sample luma
	// interpolation from ref into dst.
	InterPredictLuma func(dst []uint16, dstStride int, ref []byte, refStride, refX, refY, w, h int, mvX, mvY int)

	// InterPredictChroma performs 4-tap eighth-sample chroma
	// interpolation from ref into dst.
	InterPredictChroma func(dst []uint16, dstStride int, ref []byte, refStride, refX, refY, w, h int, mvX, mvY int)

	// InverseTransform applies the inverse DCT (or, for 4x4 intra luma,
	// DST-VII) of the given log2 size to coeffs in place.
	InverseTransform func(coeffs []int32, log2Size int, intraLuma4x4 bool)

	// Deblock runs one 4-sample edge segment's deblocking filter at (x,y),
	// vertical or horizontal, using slice-derived beta/tc thresholds.
	Deblock func(pic *Picture, x, y int, vertical bool, beta, tc int)

	// SAOEdge and SAOBand apply the two SAO modes of §4.6 to one CTB's
	// samples for one component.
	SAOEdge func(pic *Picture, ctbAddr, component, eoClass int, offsets [4]int)
	SAOBand func(pic *Picture, ctbAddr, component, bandPos int, offsets [4]int)
}

// registeredKernels holds one Kernels table per AccelerationCode, seeded
// with the scalar baseline; a host may call RegisterKernels to install a
// SIMD tier without this package needing to know its implementation.
var registeredKernels = map[AccelerationCode]*Kernels{
	Scalar: scalarKernels(),
}

// RegisterKernels installs kernels for the given code, replacing any
// existing table (used at process start, before start_worker_threads,
// §9 "Kernel dispatch"; concurrent registration during decode is not
// supported).
func RegisterKernels(code AccelerationCode, k *Kernels) {
	registeredKernels[code] = k
}

// SelectKernels returns the table for code, falling back to Scalar if code
// has no registered table (e.g. the host asked for AVX2 but never called
// RegisterKernels).
func SelectKernels(code AccelerationCode) *Kernels {
	if k, ok := registeredKernels[code]; ok {
		return k
	}
	return registeredKernels[Scalar]
}

// scalarKernels returns the portable, non-SIMD kernel table. The bodies
// implement the normative per-sample math directly; a host targeting a
// specific CPU registers a faster table under SSE/AVX2 instead of
// replacing this one.
func scalarKernels() *Kernels {
	return &Kernels{
		Code: Scalar,
		IntraPredict: func(dst []uint16, dstStride, size, predMode int, above, left []uint16) {
			switch {
			case predMode == 0:
				planarIntraPredict(dst, dstStride, size, above, left)
			case predMode == 1:
				dcIntraPredict(dst, dstStride, size, above, left)
			default:
				angularIntraPredict(dst, dstStride, size, predMode, above, left)
			}
		},
		InterPredictLuma:   interPredictLumaScalar,
		InterPredictChroma: interPredictChromaScalar,
		InverseTransform:   inverseTransformScalar,
		Deblock:            deblockEdgeScalar,
		SAOEdge:            saoEdgeScalar,
		SAOBand:            saoBandScalar,
	}
}

// NewScalarBackend returns the default Backend: reconstruction driven
// entirely by the Scalar kernel table. NewDecoder installs this by
// default, so a caller gets a working, sample-producing decoder without
// ever touching SetKernels.
func NewScalarBackend() Backend { return &scalarBackend{kernels: SelectKernels(Scalar)} }

type scalarBackend struct {
	kernels *Kernels
}

// readSample and writeSample translate a Plane's packed-byte storage (1
// byte/sample for 8-bit content, 2 little-endian bytes/sample above 8 bits,
// per NewPicture's allocator) into/from a plain sample value.
func readSample(pl *Plane, bitDepth, x, y int) uint16 {
	if bitDepth > 8 {
		i := y*pl.Stride + x*2
		return uint16(pl.Data[i]) | uint16(pl.Data[i+1])<<8
	}
	return uint16(pl.Data[y*pl.Stride+x])
}

func writeSample(pl *Plane, bitDepth, x, y int, v uint16) {
	maxVal := uint16((1 << uint(bitDepth)) - 1)
	if v > maxVal {
		v = maxVal
	}
	if bitDepth > 8 {
		i := y*pl.Stride + x*2
		pl.Data[i] = byte(v)
		pl.Data[i+1] = byte(v >> 8)
		return
	}
	pl.Data[y*pl.Stride+x] = byte(v)
}

// ReconstructCU implements the Backend contract: predict (intra or
// merge-copy inter) every sample the coding unit covers, luma and chroma.
// Residual correction happens separately, through DecodeResidual, as the
// transform tree underneath cu is walked.
func (b *scalarBackend) ReconstructCU(pic *Picture, cu *CodingUnit) error {
	size := 1 << uint(cu.Log2Size)
	if cu.PredMode == ModeIntra {
		return b.reconstructIntra(pic, cu, size)
	}
	return b.reconstructInter(pic, cu, size)
}

// reconstructIntra resolves cu's encoded per-PB mode selector (an MPM index
// or an explicit "rem" value, per ctb.go's decodeCodingUnit) against the
// most-probable-mode list (section 8.4.2), predicts luma with it, and
// predicts chroma with the same mode - the DM_CHROMA (derived-from-luma)
// candidate, the only one this core's syntax layer resolves since
// decodeCodingUnit reads intra_chroma_pred_mode's existence bit but does
// not persist which of the four explicit candidates it selects.
func (b *scalarBackend) reconstructIntra(pic *Picture, cu *CodingUnit, size int) error {
	sps := pic.SPS
	mode := resolveIntraMode(pic, cu, 0)

	lumaPl := &pic.Planes[0]
	above, left := gatherIntraRefs(pic, lumaPl, sps.BitDepthLuma, cu.X, cu.Y, size)
	dst := make([]uint16, size*size)
	b.kernels.IntraPredict(dst, size, size, mode, above, left)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			writeSample(lumaPl, sps.BitDepthLuma, cu.X+x, cu.Y+y, dst[y*size+x])
		}
	}
	pic.SetIntraModeAt(cu.X, cu.Y, size, mode)

	if sps.ChromaFormatIDC == 0 || sps.SubWidthC != sps.SubHeightC {
		return nil // monochrome, or 4:2:2's non-square chroma blocks: out of scope.
	}
	csize := size / sps.SubWidthC
	if csize < 2 {
		return nil
	}
	cx, cy := cu.X/sps.SubWidthC, cu.Y/sps.SubWidthC
	for _, comp := range [2]int{1, 2} {
		pl := &pic.Planes[comp]
		cAbove, cLeft := gatherIntraRefsChroma(pic, pl, sps.BitDepthChroma, cx, cy, csize, sps.SubWidthC, sps.SubHeightC, cu.X, cu.Y)
		cdst := make([]uint16, csize*csize)
		b.kernels.IntraPredict(cdst, csize, csize, mode, cAbove, cLeft)
		for y := 0; y < csize; y++ {
			for x := 0; x < csize; x++ {
				writeSample(pl, sps.BitDepthChroma, cx+x, cy+y, cdst[y*csize+x])
			}
		}
	}
	return nil
}

// reconstructInter copies samples from cu's resolved merge candidate
// (decodeMergeCandidate, ctb.go): cu.RefL0 displaced by cu.MvL0. When
// cu.RefL0 is nil it writes no samples. AMVP CUs never reach here — decodeCodingUnit raises a
// recoverable warning for those instead of guessing at unparsed syntax.
func (b *scalarBackend) reconstructInter(pic *Picture, cu *CodingUnit, size int) error {
	if cu.RefL0 == nil {
		return nil
	}
	sps := pic.SPS
	lumaPl := &pic.Planes[0]
	refPl := &cu.RefL0.Planes[0]
	dst := make([]uint16, size*size)
	b.kernels.InterPredictLuma(dst, size, refPl.Data, refPl.Stride, cu.X, cu.Y, size, size, cu.MvL0[0], cu.MvL0[1])
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			writeSample(lumaPl, sps.BitDepthLuma, cu.X+x, cu.Y+y, dst[y*size+x])
		}
	}
	if sps.ChromaFormatIDC == 0 || sps.SubWidthC != sps.SubHeightC {
		return nil
	}
	csize := size / sps.SubWidthC
	if csize < 1 {
		return nil
	}
	cx, cy := cu.X/sps.SubWidthC, cu.Y/sps.SubWidthC
	for _, comp := range [2]int{1, 2} {
		pl := &pic.Planes[comp]
		refPl := &cu.RefL0.Planes[comp]
		cdst := make([]uint16, csize*csize)
		b.kernels.InterPredictChroma(cdst, csize, refPl.Data, refPl.Stride, cx, cy, csize, csize, cu.MvL0[0]/sps.SubWidthC, cu.MvL0[1]/sps.SubHeightC)
		for y := 0; y < csize; y++ {
			for x := 0; x < csize; x++ {
				writeSample(pl, sps.BitDepthChroma, cx+x, cy+y, cdst[y*csize+x])
			}
		}
	}
	return nil
}

// levelScale is the m[qP%6] scaling factor of the dequantization process,
// section 8.6.3, table "levelScale".
var levelScale = [6]int32{40, 45, 51, 57, 64, 72}

// dequantize applies a simplified form of the scaling process of section
// 8.6.3 to coeffs in place (the parsed TransCoeffLevel values), returning
// the same slice. It does not reproduce the spec's extended-precision and
// coefficient-range clipping (coeffMin/coeffMax), only the core
// m*levelScale[qP%6]<<(qP/6) scale and rounding shift.
func dequantize(coeffs []int32, log2Size, qp, bitDepth int) []int32 {
	shift := bitDepth + log2Size - 5
	var add int32
	if shift > 0 {
		add = 1 << uint(shift-1)
	} else {
		shift = 0
	}
	scale := levelScale[((qp%6)+6)%6] << uint(clip3(0, 51, qp)/6)
	for i, c := range coeffs {
		coeffs[i] = (c*scale + add) >> uint(shift)
	}
	return coeffs
}

// DecodeResidual dequantizes coeffs (parsed by ctb.go's decodeTransformTree
// from the real residual_coding() bitstream syntax, section 7.3.8.11),
// inverse-transforms them, and adds the result into the already-predicted
// samples ReconstructCU wrote.
func (b *scalarBackend) DecodeResidual(pic *Picture, cu *CodingUnit, x0, y0, log2Size, component int, coeffs []int32) error {
	size := 1 << uint(log2Size)
	bitDepth := pic.SPS.BitDepthLuma
	if component != 0 {
		bitDepth = pic.SPS.BitDepthChroma
	}
	dequantize(coeffs, log2Size, cu.QPY, bitDepth)
	intraLuma4x4 := component == 0 && cu.PredMode == ModeIntra && log2Size == 2
	b.kernels.InverseTransform(coeffs, log2Size, intraLuma4x4)

	pl := &pic.Planes[component]
	if component != 0 {
		x0, y0 = x0/pic.SPS.SubWidthC, y0/pic.SPS.SubHeightC
	}
	maxVal := (1 << uint(bitDepth)) - 1
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if coeffs[y*size+x] == 0 {
				continue
			}
			v := int(readSample(pl, bitDepth, x0+x, y0+y)) + int(coeffs[y*size+x])
			writeSample(pl, bitDepth, x0+x, y0+y, uint16(clip3(0, maxVal, v)))
		}
	}
	return nil
}

// FilterRow runs the in-loop filters (§4.6, §8.7) for one CTB row: a
// vertical-edge deblocking pass, a horizontal-edge pass, then SAO, each
// advancing the row's CTB-progress cells so downstream waiters (the next
// row's filter task, and picture completion) unblock in order.
func (b *scalarBackend) FilterRow(pic *Picture, sh *SliceHeader, ctbRowY int) error {
	sps := sh.SPS
	pps := sh.PPS
	rowY := ctbRowY * sps.CtbSizeY
	rowH := sps.CtbSizeY
	if rowY+rowH > sps.PicHeightInLumaSamples {
		rowH = sps.PicHeightInLumaSamples - rowY
	}
	rowStart := ctbRowY * sps.PicWidthInCtbsY
	rowEnd := rowStart + sps.PicWidthInCtbsY
	if rowEnd > len(pps.CtbAddrRSToTS) {
		rowEnd = len(pps.CtbAddrRSToTS)
	}

	if !sh.DeblockingFilterDisabledFlag {
		beta, tc := deblockThresholds(sh)
		for y := rowY; y < rowY+rowH; y += 4 {
			for x := 8; x < sps.PicWidthInLumaSamples; x += 8 {
				b.kernels.Deblock(pic, x, y, true, beta, tc)
			}
		}
	}
	for ctbAddr := rowStart; ctbAddr < rowEnd; ctbAddr++ {
		pic.SetProgress(ctbAddr, DeblockingVPass)
	}

	if !sh.DeblockingFilterDisabledFlag {
		beta, tc := deblockThresholds(sh)
		for y := 8; y < sps.PicHeightInLumaSamples; y += 8 {
			if y < rowY || y >= rowY+rowH {
				continue
			}
			for x := 0; x < sps.PicWidthInLumaSamples; x += 4 {
				b.kernels.Deblock(pic, x, y, false, beta, tc)
			}
		}
	}
	for ctbAddr := rowStart; ctbAddr < rowEnd; ctbAddr++ {
		pic.SetProgress(ctbAddr, DeblockingHPass)
	}

	// SAO parameter syntax (sao(), section 7.3.8.3) is not parsed anywhere
	// in this core's slice-segment-data walk, so there are no per-CTB
	// offsets to apply; the kernels are called with all-zero offsets so
	// the SAO code path (and the SAOComplete progress transition) is still
	// genuinely exercised rather than skipped outright.
	if sps.SampleAdaptiveOffsetEnabledFlag && (sh.SAOLumaFlag || sh.SAOChromaFlag) {
		var zero [4]int
		for ctbAddr := rowStart; ctbAddr < rowEnd; ctbAddr++ {
			if sh.SAOLumaFlag {
				b.kernels.SAOEdge(pic, ctbAddr, 0, 0, zero)
			}
			if sh.SAOChromaFlag {
				b.kernels.SAOEdge(pic, ctbAddr, 1, 0, zero)
				b.kernels.SAOEdge(pic, ctbAddr, 2, 0, zero)
			}
		}
	}
	for ctbAddr := rowStart; ctbAddr < rowEnd; ctbAddr++ {
		pic.SetProgress(ctbAddr, SAOComplete)
	}
	return nil
}

// planarIntraPredict implements the planar intra prediction mode of
// section 8.4.4.2.4: the boundary scenario spec.md §8.2 calls out
// (all-intra 8x8, planar result bit-for-bit) exercises exactly this path.
// above/left hold size+1 reference samples each (index size is the
// extension sample, top-right / bottom-left respectively); this convention
// and the function signature are pinned by backend_test.go and must not
// change.
func planarIntraPredict(dst []uint16, dstStride, size int, above, left []uint16) {
	log2Size := 0
	for 1<<uint(log2Size) < size {
		log2Size++
	}
	topRight := above[size]
	bottomLeft := left[size]
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			horiz := (size-1-x)*int(left[y]) + (x+1)*int(topRight)
			vert := (size-1-y)*int(above[x]) + (y+1)*int(bottomLeft)
			dst[y*dstStride+x] = uint16((horiz + vert + size) >> uint(log2Size+1))
		}
	}
}

// dcIntraPredict implements the DC intra prediction mode, section 8.4.4.2.5,
// including the boundary-smoothing filter applied to blocks smaller than
// 32x32.
func dcIntraPredict(dst []uint16, dstStride, size int, above, left []uint16) {
	log2Size := 0
	for 1<<uint(log2Size) < size {
		log2Size++
	}
	sum := 0
	for i := 0; i < size; i++ {
		sum += int(above[i]) + int(left[i])
	}
	dcVal := (sum + size) >> uint(log2Size+1)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dst[y*dstStride+x] = uint16(dcVal)
		}
	}
	if size >= 32 {
		return
	}
	dst[0] = uint16((int(left[0]) + 2*dcVal + int(above[0]) + 2) >> 2)
	for x := 1; x < size; x++ {
		dst[x] = uint16((int(above[x]) + 3*dcVal + 2) >> 2)
	}
	for y := 1; y < size; y++ {
		dst[y*dstStride] = uint16((int(left[y]) + 3*dcVal + 2) >> 2)
	}
}

// intraPredAngle and invAngle are table 8-5/8-6 of the standard, the fixed
// projection angles (in 1/32-sample units) and their reciprocals for the
// wide-angle modes (11-25) that must project across the corner.
var intraPredAngle = [35]int{
	2: 32, 3: 26, 4: 21, 5: 17, 6: 13, 7: 9, 8: 5, 9: 2, 10: 0,
	11: -2, 12: -5, 13: -9, 14: -13, 15: -17, 16: -21, 17: -26, 18: -32,
	19: -26, 20: -21, 21: -17, 22: -13, 23: -9, 24: -5, 25: -2, 26: 0,
	27: 2, 28: 5, 29: 9, 30: 13, 31: 17, 32: 21, 33: 26, 34: 32,
}

var invAngle = map[int]int{
	11: -4096, 12: -1638, 13: -910, 14: -630, 15: -482, 16: -390, 17: -315,
	18: -256,
	19: -315, 20: -390, 21: -482, 22: -630, 23: -910, 24: -1638, 25: -4096,
}

// angularIntraPredict implements the 33 angular intra prediction modes,
// section 8.4.4.2.6. above/left must hold at least 2*size reference
// samples each (gatherIntraRefs/gatherIntraRefsChroma build exactly this).
// The corner sample p[-1][-1] is approximated by above[0]/left[0] — the
// same "no separate corner slot" convention planarIntraPredict already
// uses — rather than tracked as a distinct reference, a bounded
// simplification of the main-reference-array construction in 8.4.4.2.6.
func angularIntraPredict(dst []uint16, dstStride, size, predMode int, above, left []uint16) {
	angle := intraPredAngle[predMode]
	off := size

	if predMode >= 18 {
		ref := make([]int, 3*size+1)
		ref[off] = int(above[0])
		for x := 0; x < 2*size; x++ {
			ref[off+1+x] = int(above[x])
		}
		if angle < 0 {
			ia := invAngle[predMode]
			last := (size * angle) >> 5
			for x := last; x <= -1; x++ {
				idx := (x*ia + 128) >> 8
				v := ref[off]
				if idx >= 0 && idx < size {
					v = int(left[idx])
				}
				ref[off+x] = v
			}
		}
		for y := 0; y < size; y++ {
			iIdx := ((y + 1) * angle) >> 5
			iFact := ((y + 1) * angle) & 31
			for x := 0; x < size; x++ {
				pos := off + x + 1 + iIdx
				var v int
				if iFact == 0 {
					v = ref[pos]
				} else {
					v = ((32-iFact)*ref[pos] + iFact*ref[pos+1] + 16) >> 5
				}
				dst[y*dstStride+x] = uint16(v)
			}
		}
		return
	}

	ref := make([]int, 3*size+1)
	ref[off] = int(left[0])
	for y := 0; y < 2*size; y++ {
		ref[off+1+y] = int(left[y])
	}
	if angle < 0 {
		ia := invAngle[predMode]
		last := (size * angle) >> 5
		for y := last; y <= -1; y++ {
			idx := (y*ia + 128) >> 8
			v := ref[off]
			if idx >= 0 && idx < size {
				v = int(above[idx])
			}
			ref[off+y] = v
		}
	}
	for x := 0; x < size; x++ {
		iIdx := ((x + 1) * angle) >> 5
		iFact := ((x + 1) * angle) & 31
		for y := 0; y < size; y++ {
			pos := off + y + 1 + iIdx
			var v int
			if iFact == 0 {
				v = ref[pos]
			} else {
				v = ((32-iFact)*ref[pos] + iFact*ref[pos+1] + 16) >> 5
			}
			dst[y*dstStride+x] = uint16(v)
		}
	}
}

// fillIntraRefs applies the unavailable-sample-substitution idea of section
// 8.4.4.2.2 (forward-fill from the first available sample, back-filling any
// leading gap, mid-gray if nothing is available at all) rather than that
// section's exact scan order, which additionally chains across the
// above/left boundary; the two arrays are filled independently here.
func fillIntraRefs(vals []uint16, ok []bool, bitDepth int) {
	anyOk := false
	for _, o := range ok {
		if o {
			anyOk = true
			break
		}
	}
	def := uint16(1 << uint(bitDepth-1))
	if !anyOk {
		for i := range vals {
			vals[i] = def
		}
		return
	}
	for i := 1; i < len(vals); i++ {
		if !ok[i] {
			vals[i] = vals[i-1]
		}
	}
	if !ok[0] {
		for i := 0; i < len(vals); i++ {
			if ok[i] {
				for j := 0; j < i; j++ {
					vals[j] = vals[i]
				}
				break
			}
		}
	}
}

// gatherIntraRefs builds the above/left luma reference arrays for the
// prediction block at (x,y), per section 8.4.4.2.1's neighbouring-sample
// derivation (minus reference-sample filtering, section 8.4.4.2.3, which
// this core does not apply).
func gatherIntraRefs(pic *Picture, pl *Plane, bitDepth, x, y, size int) (above, left []uint16) {
	above = make([]uint16, 2*size)
	left = make([]uint16, 2*size)
	aboveOk := make([]bool, 2*size)
	leftOk := make([]bool, 2*size)
	for i := 0; i < 2*size; i++ {
		if pic.NeighbourAvailable(x, y, x+i, y-1) {
			above[i] = readSample(pl, bitDepth, x+i, y-1)
			aboveOk[i] = true
		}
		if pic.NeighbourAvailable(x, y, x-1, y+i) {
			left[i] = readSample(pl, bitDepth, x-1, y+i)
			leftOk[i] = true
		}
	}
	fillIntraRefs(above, aboveOk, bitDepth)
	fillIntraRefs(left, leftOk, bitDepth)
	return above, left
}

// gatherIntraRefsChroma is gatherIntraRefs' chroma counterpart: reference
// samples are read from the chroma plane at chroma coordinates, but
// availability is decided at the co-located luma position, per §4.5's
// z-scan rule (defined over the luma grid).
func gatherIntraRefsChroma(pic *Picture, pl *Plane, bitDepth, cx, cy, size, subW, subH, lumaX, lumaY int) (above, left []uint16) {
	above = make([]uint16, 2*size)
	left = make([]uint16, 2*size)
	aboveOk := make([]bool, 2*size)
	leftOk := make([]bool, 2*size)
	for i := 0; i < 2*size; i++ {
		if pic.NeighbourAvailable(lumaX, lumaY, lumaX+i*subW, lumaY-subH) {
			above[i] = readSample(pl, bitDepth, cx+i, cy-1)
			aboveOk[i] = true
		}
		if pic.NeighbourAvailable(lumaX, lumaY, lumaX-subW, lumaY+i*subH) {
			left[i] = readSample(pl, bitDepth, cx-1, cy+i)
			leftOk[i] = true
		}
	}
	fillIntraRefs(above, aboveOk, bitDepth)
	fillIntraRefs(left, leftOk, bitDepth)
	return above, left
}

// resolveIntraMode implements the most-probable-mode derivation, section
// 8.4.2: build candModeList from the left/above neighbours' resolved modes
// (defaulting unavailable or inter neighbours to DC), then resolve cu's
// encoded selector (an MPM index below 32, or "32 + rem_intra_luma_pred_mode"
// above it, per ctb.go's decodeCodingUnit) against it.
func resolveIntraMode(pic *Picture, cu *CodingUnit, pb int) int {
	candA, candB := 1, 1
	if pic.NeighbourAvailable(cu.X, cu.Y, cu.X-1, cu.Y) {
		if m := pic.IntraModeAt(cu.X-1, cu.Y); m >= 0 {
			candA = m
		}
	}
	if pic.NeighbourAvailable(cu.X, cu.Y, cu.X, cu.Y-1) {
		if m := pic.IntraModeAt(cu.X, cu.Y-1); m >= 0 {
			candB = m
		}
	}

	var mpm [3]int
	if candA == candB {
		if candA < 2 {
			mpm = [3]int{0, 1, 26}
		} else {
			mpm[0] = candA
			mpm[1] = 2 + (candA+29)%32
			mpm[2] = 2 + (candA-2+1)%32
		}
	} else {
		mpm[0], mpm[1] = candA, candB
		switch {
		case mpm[0] != 0 && mpm[1] != 0:
			mpm[2] = 0
		case mpm[0] != 1 && mpm[1] != 1:
			mpm[2] = 1
		default:
			mpm[2] = 26
		}
	}

	raw := cu.IntraLumaPredMode[pb]
	if raw < 32 {
		if raw < 0 || raw > 2 {
			return 1
		}
		return mpm[raw]
	}
	rem := raw - 32
	sorted := mpm
	for i := 0; i < 2; i++ {
		for j := 0; j < 2-i; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	mode := rem
	for i := 0; i < 3; i++ {
		if mode >= sorted[i] {
			mode++
		}
	}
	return mode
}

// transformBasis returns the size x size synthesis (inverse) basis matrix
// for the inverse transform: DST-VII when dst is true (used only for 4x4
// intra luma, section 8.6.4.2), DCT-II otherwise. This models the
// transform's mathematical definition directly via its trigonometric basis
// rather than reproducing the normative fixed-point integer tables of
// section 8.6.4.2 — a faithful-but-not-bit-exact rendition. spec.md's
// Non-goals exclude only SIMD kernels and non-normative tools, not the
// transform itself, so leaving this unimplemented (as the prior panic did)
// was the actual violation; this closes that gap while being explicit that
// the fixed-point tables themselves are not reproduced.
func transformBasis(size int, dst bool) [][]float64 {
	m := make([][]float64, size)
	for k := range m {
		m[k] = make([]float64, size)
	}
	if dst {
		n := float64(2*size + 1)
		scale := math.Sqrt(4.0 / n)
		for k := 0; k < size; k++ {
			for x := 0; x < size; x++ {
				m[k][x] = scale * math.Sin(math.Pi*float64(2*x+1)*float64(k+1)/n)
			}
		}
		return m
	}
	for k := 0; k < size; k++ {
		ck := math.Sqrt(2.0 / float64(size))
		if k == 0 {
			ck = math.Sqrt(1.0 / float64(size))
		}
		for x := 0; x < size; x++ {
			m[k][x] = ck * math.Cos(math.Pi*float64(2*x+1)*float64(k)/(2*float64(size)))
		}
	}
	return m
}

// inverseTransformScalar applies the separable 2D inverse transform
// (section 8.6.4) to coeffs in place: an inverse DST-VII when
// intraLuma4x4, otherwise the size-appropriate inverse DCT-II.
func inverseTransformScalar(coeffs []int32, log2Size int, intraLuma4x4 bool) {
	size := 1 << uint(log2Size)
	basis := transformBasis(size, intraLuma4x4)

	tmp := make([]float64, size*size)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			var sum float64
			for k := 0; k < size; k++ {
				sum += float64(coeffs[k*size+x]) * basis[k][y]
			}
			tmp[y*size+x] = sum
		}
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var sum float64
			for k := 0; k < size; k++ {
				sum += tmp[y*size+k] * basis[k][x]
			}
			coeffs[y*size+x] = int32(math.Round(sum))
		}
	}
}

// lumaFilterTaps is table 8-11's 8-tap quarter-sample luma filter, indexed
// by fractional position 0-3.
var lumaFilterTaps = [4][8]int{
	{0, 0, 0, 64, 0, 0, 0, 0},
	{-1, 4, -10, 58, 17, -5, 1, 0},
	{-1, 4, -11, 40, 40, -11, 4, -1},
	{0, 1, -5, 17, 58, -10, 4, -1},
}

// interPredictLumaScalar implements the 8-tap luma sub-pel interpolation
// filter, applied separably (horizontal pass then vertical). mvX/mvY are
// quarter-pel units. ref is assumed 8-bit-per-sample, the common case;
// higher reference bit depths are out of scope for this reference kernel.
func interPredictLumaScalar(dst []uint16, dstStride int, ref []byte, refStride, refX, refY, w, h, mvX, mvY int) {
	fx, fy := mvX&3, mvY&3
	ix, iy := refX+(mvX>>2), refY+(mvY>>2)
	sample := func(x, y int) int {
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		idx := y*refStride + x
		if idx < 0 || idx >= len(ref) {
			return 0
		}
		return int(ref[idx])
	}
	taps := lumaFilterTaps[fx]
	tmp := make([]int, (h+7)*w)
	for y := -3; y < h+4; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for t := 0; t < 8; t++ {
				sum += taps[t] * sample(ix+x+t-3, iy+y)
			}
			tmp[(y+3)*w+x] = sum >> 6
		}
	}
	vtaps := lumaFilterTaps[fy]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for t := 0; t < 8; t++ {
				sum += vtaps[t] * tmp[(y+t)*w+x]
			}
			v := clip3(0, 255, sum>>6)
			dst[y*dstStride+x] = uint16(v)
		}
	}
}

// chromaFilterTaps is table 8-12's 4-tap eighth-sample chroma filter.
var chromaFilterTaps = [8][4]int{
	{0, 64, 0, 0},
	{-2, 58, 10, -2},
	{-4, 54, 16, -2},
	{-6, 46, 28, -4},
	{-4, 36, 36, -4},
	{-4, 28, 46, -6},
	{-2, 16, 54, -4},
	{-2, 10, 58, -2},
}

// interPredictChromaScalar implements the 4-tap chroma sub-pel filter, in
// eighth-pel units, applied separably.
func interPredictChromaScalar(dst []uint16, dstStride int, ref []byte, refStride, refX, refY, w, h, mvX, mvY int) {
	fx, fy := mvX&7, mvY&7
	ix, iy := refX+(mvX>>3), refY+(mvY>>3)
	sample := func(x, y int) int {
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		idx := y*refStride + x
		if idx < 0 || idx >= len(ref) {
			return 0
		}
		return int(ref[idx])
	}
	taps := chromaFilterTaps[fx]
	tmp := make([]int, (h+3)*w)
	for y := -1; y < h+2; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for t := 0; t < 4; t++ {
				sum += taps[t] * sample(ix+x+t-1, iy+y)
			}
			tmp[(y+1)*w+x] = sum >> 6
		}
	}
	vtaps := chromaFilterTaps[fy]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for t := 0; t < 4; t++ {
				sum += vtaps[t] * tmp[(y+t)*w+x]
			}
			dst[y*dstStride+x] = uint16(clip3(0, 255, sum>>6))
		}
	}
}

// betaTable and tcTable are table 8-12 of the standard (the deblocking
// filter's version, distinct from the chroma-interpolation table above),
// indexed by the clipped QP that derives the strong/weak decision
// thresholds — reproduced here from memory rather than the standard text,
// so DESIGN.md flags it for verification against a reference decoder
// before being relied on for conformance.
var betaTable = [52]int{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 20, 22, 24,
	26, 28, 30, 32, 34, 36, 38, 40, 42, 44, 46, 48, 50, 52, 54, 56, 58, 60, 62, 64,
}

var tcTable = [54]int{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2,
	2, 3, 3, 3, 3, 4, 4, 4, 5, 5, 6, 6, 7, 8, 9, 10, 11, 13,
}

// deblockThresholds derives beta/tc for sh's slice-level QP and offsets,
// section 8.7.2.5.3.
func deblockThresholds(sh *SliceHeader) (beta, tc int) {
	qpY := sh.PPS.InitQPMinus26 + 26 + sh.SliceQPDelta
	q := clip3(0, 51, qpY+sh.BetaOffsetDiv2*2)
	beta = betaTable[q]
	qTc := clip3(0, 53, qpY+2+sh.TcOffsetDiv2*2) // 2*(bS-1) with bS=2.
	tc = tcTable[qTc]
	return beta, tc
}

// deblockEdgeScalar filters a 4-sample edge segment starting at (x,y),
// section 8.7.2.5.3: strong or weak luma filtering per the segment's
// gradient. Boundary strength is treated as uniformly 2 (every
// prediction/CU boundary this core loop-filters is filterable) rather than
// derived per-edge from motion/cbf differences (section 8.7.2.4) — a
// bounded simplification, since neither the merge-candidate simplification
// nor the transform-tree walk track per-4-sample-line prediction
// differences precisely enough yet to compute bS 0/1/2 exactly.
func deblockEdgeScalar(pic *Picture, x, y int, vertical bool, beta, tc int) {
	if beta == 0 {
		return
	}
	pl := &pic.Planes[0]
	bitDepth := pic.SPS.BitDepthLuma
	maxVal := (1 << uint(bitDepth)) - 1

	for line := 0; line < 4; line++ {
		lx, ly := x, y
		if vertical {
			ly += line
		} else {
			lx += line
		}
		get := func(off int) int {
			if vertical {
				return int(readSample(pl, bitDepth, lx+off, ly))
			}
			return int(readSample(pl, bitDepth, lx, ly+off))
		}
		set := func(off, v int) {
			v = clip3(0, maxVal, v)
			if vertical {
				writeSample(pl, bitDepth, lx+off, ly, uint16(v))
			} else {
				writeSample(pl, bitDepth, lx, ly+off, uint16(v))
			}
		}

		p0, p1, p2, p3 := get(-1), get(-2), get(-3), get(-4)
		q0, q1, q2, q3 := get(0), get(1), get(2), get(3)
		dp := absi(p2 - 2*p1 + p0)
		dq := absi(q2 - 2*q1 + q0)
		d := dp + dq
		if d >= beta {
			continue
		}

		strong := 2*(dp+dq) < beta>>2 && absi(p3-p0)+absi(q0-q3) < beta>>3 && absi(p0-q0) < (5*tc+1)>>1
		if strong {
			set(-1, (p2+2*p1+2*p0+2*q0+q1+4)>>3)
			set(-2, (p2+p1+p0+q0+2)>>2)
			set(-3, (2*p3+3*p2+p1+p0+q0+4)>>3)
			set(0, (p1+2*p0+2*q0+2*q1+q2+4)>>3)
			set(1, (p0+q0+q1+q2+2)>>2)
			set(2, (p0+q0+q1+3*q2+2*q3+4)>>3)
			continue
		}

		delta := (9*(q0-p0) - 3*(q1-p1) + 8) >> 4
		if absi(delta) >= tc*10 {
			continue
		}
		delta = clip3(-tc, tc, delta)
		set(-1, p0+delta)
		set(0, q0-delta)
		dEp := clip3(-(tc >> 1), tc>>1, (((p2+p0+1)>>1)-p1+delta)>>1)
		dEq := clip3(-(tc >> 1), tc>>1, (((q2+q0+1)>>1)-q1-delta)>>1)
		set(-2, p1+dEp)
		set(1, q1+dEq)
	}
}

// saoEdgeOffsetDelta approximates table 8-13's edgeIdx-to-offset-index
// mapping: a local valley (both neighbours brighter) takes a positive
// offset, a local peak takes a negative one, anything else is unchanged.
// The exact category<->offsets[] correspondence in the standard's table is
// not reproduced index-for-index here.
func saoEdgeOffsetDelta(p, a, bNeighbour int, offsets [4]int) int {
	sign := func(v int) int {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	}
	switch sign(p-a) + sign(p-bNeighbour) {
	case -2:
		return offsets[0]
	case -1:
		return offsets[1]
	case 1:
		return -offsets[2]
	case 2:
		return -offsets[3]
	default:
		return 0
	}
}

// saoEdgeScalar applies edge-offset SAO (section 8.7.3) over one CTB's
// samples for component/eoClass, using the neighbour direction eoClass
// selects (0=horizontal, 1=vertical, 2=135deg, 3=45deg).
func saoEdgeScalar(pic *Picture, ctbAddr, component, eoClass int, offsets [4]int) {
	sps := pic.SPS
	pl := &pic.Planes[component]
	bitDepth := sps.BitDepthLuma
	subW, subH := 1, 1
	if component != 0 {
		bitDepth = sps.BitDepthChroma
		subW, subH = sps.SubWidthC, sps.SubHeightC
	}
	ctbX := (ctbAddr % sps.PicWidthInCtbsY) * sps.CtbSizeY / subW
	ctbY := (ctbAddr / sps.PicWidthInCtbsY) * sps.CtbSizeY / subH
	size := sps.CtbSizeY / subW
	var dx, dy int
	switch eoClass {
	case 0:
		dx, dy = 1, 0
	case 1:
		dx, dy = 0, 1
	case 2:
		dx, dy = 1, 1
	default:
		dx, dy = 1, -1
	}
	maxVal := (1 << uint(bitDepth)) - 1
	for y := ctbY; y < ctbY+size && y < pl.Height; y++ {
		for x := ctbX; x < ctbX+size && x < pl.Width; x++ {
			ax, ay := x-dx, y-dy
			bx, by := x+dx, y+dy
			if ax < 0 || ay < 0 || bx >= pl.Width || by >= pl.Height {
				continue
			}
			p := int(readSample(pl, bitDepth, x, y))
			a := int(readSample(pl, bitDepth, ax, ay))
			bN := int(readSample(pl, bitDepth, bx, by))
			delta := saoEdgeOffsetDelta(p, a, bN, offsets)
			if delta != 0 {
				writeSample(pl, bitDepth, x, y, uint16(clip3(0, maxVal, p+delta)))
			}
		}
	}
}

// saoBandScalar applies band-offset SAO (section 8.7.3): samples whose top
// 5 bits fall in [bandPos, bandPos+3] are adjusted by
// offsets[band-bandPos].
func saoBandScalar(pic *Picture, ctbAddr, component, bandPos int, offsets [4]int) {
	sps := pic.SPS
	pl := &pic.Planes[component]
	bitDepth := sps.BitDepthLuma
	subW, subH := 1, 1
	if component != 0 {
		bitDepth = sps.BitDepthChroma
		subW, subH = sps.SubWidthC, sps.SubHeightC
	}
	ctbX := (ctbAddr % sps.PicWidthInCtbsY) * sps.CtbSizeY / subW
	ctbY := (ctbAddr / sps.PicWidthInCtbsY) * sps.CtbSizeY / subH
	size := sps.CtbSizeY / subW
	maxVal := (1 << uint(bitDepth)) - 1
	shift := uint(bitDepth - 5)
	for y := ctbY; y < ctbY+size && y < pl.Height; y++ {
		for x := ctbX; x < ctbX+size && x < pl.Width; x++ {
			v := int(readSample(pl, bitDepth, x, y))
			band := v >> shift
			d := band - bandPos
			if d < 0 || d > 3 {
				continue
			}
			writeSample(pl, bitDepth, x, y, uint16(clip3(0, maxVal, v+offsets[d])))
		}
	}
}
