/*
DESCRIPTION
  residual.go implements residual_coding() (section 7.3.8.11): the
  coefficient-level syntax a transform-tree leaf with a set coded-block-flag
  carries — last significant-coefficient position, per-4x4-subblock
  coded_sub_block_flag, sig_coeff_flag, coeff_abs_level_greater1/2_flag,
  coeff_sign_flag and coeff_abs_level_remaining. ctb.go's decodeTransformTree
  calls into this file at each leaf with a set cbf and hands the resulting
  TransCoeffLevel array to the backend for dequantization and the inverse
  transform (§4.6).

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

import "github.com/pkg/errors"

// diagonalScanOrder returns, in up-right-diagonal scan order (section
// 6.5.3), the DC-first sequence of (x,y) positions covering an n x n block.
// Both the 4x4-subblock scan and the within-subblock coefficient scan use
// this shape; residual_coding() itself walks it in reverse (last-to-DC).
func diagonalScanOrder(n int) [][2]int {
	order := make([][2]int, 0, n*n)
	for d := 0; d < 2*n-1; d++ {
		x, y := 0, d
		if d >= n {
			x, y = d-n+1, n-1
		}
		for x <= d && y >= 0 {
			if x < n && y < n {
				order = append(order, [2]int{x, y})
			}
			x++
			y--
		}
	}
	return order
}

// indexOfPos returns the index of (x,y) within order, or 0 if absent.
func indexOfPos(order [][2]int, x, y int) int {
	for i, p := range order {
		if p[0] == x && p[1] == y {
			return i
		}
	}
	return 0
}

// decodeResidualCoding decodes residual_coding(x0, y0, log2TrafoSize, cIdx)
// per section 7.3.8.11 and returns the log2Size x log2Size array of
// TransCoeffLevel values in raster order, ready for the backend's
// dequantization and inverse transform.
//
// This core's context selection for sig_coeff_flag and the greater1/greater2
// flags approximates section 9.3.4.2.5's full position/subblock-dependent
// sigCtx state machine with a simpler position-and-subblock-based mapping
// (see DESIGN.md), and coeff_abs_level_remaining's binarization omits the
// exponential-Golomb escape code the full process switches to for very large
// magnitudes. The syntax structure itself — last-significant-coefficient
// position, per-subblock coded flags, sig/greater1/greater2 flags, signs and
// remaining levels — is decoded bin-by-bin from the real bitstream.
func (d *CTBDecoder) decodeResidualCoding(log2TrafoSize, cIdx int) ([]int32, error) {
	size := 1 << uint(log2TrafoSize)
	coeffs := make([]int32, size*size)

	lastX, lastY, err := d.decodeLastSigCoeffPos(log2TrafoSize, cIdx)
	if err != nil {
		return nil, err
	}

	const subSize = 4
	numSub := size / subSize
	if numSub < 1 {
		numSub = 1
	}
	subOrder := diagonalScanOrder(numSub)
	within := diagonalScanOrder(mini(subSize, size))
	subLen := len(within)

	lastSubX, lastSubY := lastX/subSize, lastY/subSize
	lastSubIdx := indexOfPos(subOrder, lastSubX, lastSubY)
	lastLocalIdx := indexOfPos(within, lastX-lastSubX*subSize, lastY-lastSubY*subSize)

	codedSubBlock := make([]bool, numSub*numSub)
	riceParam := 0

	for subIdx := lastSubIdx; subIdx >= 0; subIdx-- {
		sx, sy := subOrder[subIdx][0], subOrder[subIdx][1]
		isLastSub := subIdx == lastSubIdx
		isDCSub := sx == 0 && sy == 0
		coded := isLastSub || isDCSub
		if !coded {
			ctxInc := d.codedSubBlockCtxInc(codedSubBlock, numSub, sx, sy, cIdx)
			bit, err := d.cabac.decodeBin(CtxCodedSubBlockFlag, ctxInc)
			if err != nil {
				return nil, errors.Wrap(err, "could not decode coded_sub_block_flag")
			}
			coded = bit == 1
		}
		if !coded {
			continue
		}
		codedSubBlock[sy*numSub+sx] = true

		sigMask := make([]bool, subLen)
		startLocal := subLen - 1
		if isLastSub {
			sigMask[lastLocalIdx] = true
			startLocal = lastLocalIdx - 1
		}
		for i := startLocal; i >= 0; i-- {
			ctxInc := d.sigCoeffCtxInc(log2TrafoSize, cIdx, within[i][0], within[i][1], sx, sy)
			bit, err := d.cabac.decodeBin(CtxSigCoeffFlag, ctxInc)
			if err != nil {
				return nil, errors.Wrap(err, "could not decode sig_coeff_flag")
			}
			sigMask[i] = bit == 1
		}

		ctxSet := 0
		if !isDCSub && cIdx == 0 {
			ctxSet = 2
		}
		if cIdx != 0 {
			ctxSet += 4
		}
		greater1Ctx := 1
		greaterMask := make([]bool, subLen)
		numGreater1Coded := 0
		firstGreater1Local := -1
		for i := subLen - 1; i >= 0; i-- {
			if !sigMask[i] {
				continue
			}
			if numGreater1Coded < 8 {
				ctxInc := clip3(0, contextCount[CtxCoeffAbsLevelGreater1Flag]-1, ctxSet*4+greater1Ctx)
				bit, err := d.cabac.decodeBin(CtxCoeffAbsLevelGreater1Flag, ctxInc)
				if err != nil {
					return nil, errors.Wrap(err, "could not decode coeff_abs_level_greater1_flag")
				}
				greaterMask[i] = bit == 1
				if bit == 1 {
					greater1Ctx = 0
					if firstGreater1Local < 0 {
						firstGreater1Local = i
					}
				} else if greater1Ctx > 0 && greater1Ctx < 3 {
					greater1Ctx++
				}
				numGreater1Coded++
			}
		}

		greater2Mask := make([]bool, subLen)
		if firstGreater1Local >= 0 {
			ctxInc := 0
			if cIdx != 0 {
				ctxInc = 1
			}
			bit, err := d.cabac.decodeBin(CtxCoeffAbsLevelGreater2Flag, ctxInc)
			if err != nil {
				return nil, errors.Wrap(err, "could not decode coeff_abs_level_greater2_flag")
			}
			greater2Mask[firstGreater1Local] = bit == 1
		}

		signMask := make([]bool, subLen)
		for i := subLen - 1; i >= 0; i-- {
			if !sigMask[i] {
				continue
			}
			bit, err := d.cabac.decodeBypass()
			if err != nil {
				return nil, errors.Wrap(err, "could not decode coeff_sign_flag")
			}
			signMask[i] = bit == 1
		}

		numGreater1Seen := 0
		for i := subLen - 1; i >= 0; i-- {
			if !sigMask[i] {
				continue
			}
			greater1Decoded := numGreater1Seen < 8
			greater1 := greater1Decoded && greaterMask[i]
			baseLevel := 1
			if greater1 {
				baseLevel = 2
			}
			remainingPresent := false
			switch {
			case !greater1Decoded:
				remainingPresent = true
			case !greater1:
				remainingPresent = false
			case i == firstGreater1Local:
				remainingPresent = greater2Mask[i]
				if greater2Mask[i] {
					baseLevel = 3
				}
			default:
				remainingPresent = true
			}
			level := baseLevel
			if remainingPresent {
				rem, err := d.decodeCoeffAbsLevelRemaining(riceParam)
				if err != nil {
					return nil, err
				}
				level = baseLevel + rem
				if level > (3 << uint(riceParam)) && riceParam < 4 {
					riceParam++
				}
			}
			if greater1Decoded {
				numGreater1Seen++
			}
			if signMask[i] {
				level = -level
			}
			x := sx*subSize + within[i][0]
			y := sy*subSize + within[i][1]
			coeffs[y*size+x] = int32(level)
		}
	}
	return coeffs, nil
}

// decodeLastSigCoeffPos decodes last_sig_coeff_x/y_prefix and their suffixes
// per section 7.3.8.11 and resolves them to a coefficient position per the
// formula of section 7.4.9.11.
func (d *CTBDecoder) decodeLastSigCoeffPos(log2TrafoSize, cIdx int) (int, int, error) {
	cMax := (log2TrafoSize << 1) - 1
	ctxOffset := 3*(log2TrafoSize-2) + ((log2TrafoSize - 1) >> 2)
	ctxShift := (log2TrafoSize + 1) >> 2
	if cIdx != 0 {
		ctxOffset = 15
		ctxShift = log2TrafoSize - 2
		if ctxShift < 0 {
			ctxShift = 0
		}
	}
	xPrefix, err := d.decodeLastSigCoeffPrefix(CtxLastSigCoeffXPrefix, cMax, ctxOffset, ctxShift)
	if err != nil {
		return 0, 0, err
	}
	yPrefix, err := d.decodeLastSigCoeffPrefix(CtxLastSigCoeffYPrefix, cMax, ctxOffset, ctxShift)
	if err != nil {
		return 0, 0, err
	}
	lastX, err := d.resolveLastSigCoeffPrefix(xPrefix)
	if err != nil {
		return 0, 0, err
	}
	lastY, err := d.resolveLastSigCoeffPrefix(yPrefix)
	if err != nil {
		return 0, 0, err
	}
	return lastX, lastY, nil
}

func (d *CTBDecoder) decodeLastSigCoeffPrefix(e SyntaxElement, cMax, ctxOffset, ctxShift int) (int, error) {
	val := 0
	for val < cMax {
		ctxInc := clip3(0, contextCount[e]-1, ctxOffset+(val>>uint(ctxShift)))
		bit, err := d.cabac.decodeBin(e, ctxInc)
		if err != nil {
			return 0, errors.Wrap(err, "could not decode last_sig_coeff prefix bin")
		}
		if bit == 0 {
			break
		}
		val++
	}
	return val, nil
}

func (d *CTBDecoder) resolveLastSigCoeffPrefix(prefix int) (int, error) {
	if prefix <= 3 {
		return prefix, nil
	}
	suffixBits := (prefix >> 1) - 1
	suffix, err := d.decodeFLBypass(suffixBits)
	if err != nil {
		return 0, err
	}
	return (1<<uint(suffixBits))*(2+(prefix&1)) + suffix, nil
}

// codedSubBlockCtxInc implements section 9.3.4.2.4: whether the subblock to
// the right or below (both already decoded, since the scan walks the
// picture from the last significant coefficient backward) was itself coded.
func (d *CTBDecoder) codedSubBlockCtxInc(coded []bool, numSub, sx, sy, cIdx int) int {
	csbfCtx := 0
	if sx+1 < numSub && coded[sy*numSub+sx+1] {
		csbfCtx++
	}
	if sy+1 < numSub && coded[(sy+1)*numSub+sx] {
		csbfCtx++
	}
	ctxInc := mini(csbfCtx, 1)
	if cIdx != 0 {
		ctxInc += 2
	}
	return ctxInc
}

// sigCoeffCtxInc approximates section 9.3.4.2.5's sigCtx derivation: DC
// positions get the highest-probability context, near-DC positions within a
// subblock the next, everything else the lowest, offset by whether the
// subblock itself is the transform block's DC subblock and by transform
// size and component.
func (d *CTBDecoder) sigCoeffCtxInc(log2TrafoSize, cIdx, lx, ly, sx, sy int) int {
	var sigCtx int
	switch {
	case lx == 0 && ly == 0:
		sigCtx = 2
	case lx+ly < 3:
		sigCtx = 1
	default:
		sigCtx = 0
	}
	if sx != 0 || sy != 0 {
		sigCtx += 3
	}
	base := sigCtx
	if cIdx == 0 {
		switch {
		case log2TrafoSize == 2:
			// no-op: base already in [0,5].
		case log2TrafoSize == 3:
			base += 9
		default:
			base += 21
		}
	} else {
		base += 27
	}
	return clip3(0, contextCount[CtxSigCoeffFlag]-1, base)
}

// decodeCoeffAbsLevelRemaining decodes coeff_abs_level_remaining's
// Golomb-Rice binarization (section 9.3.3.9): a bypass-coded unary prefix
// followed by a riceParam-bit bypass suffix. This core caps the prefix at 32
// bins and does not implement the exponential-Golomb escape the full
// binarization switches to once the prefix reaches 4 — that only matters for
// coefficients large enough to need it.
func (d *CTBDecoder) decodeCoeffAbsLevelRemaining(riceParam int) (int, error) {
	prefix := 0
	for prefix < 32 {
		bit, err := d.cabac.decodeBypass()
		if err != nil {
			return 0, errors.Wrap(err, "could not decode coeff_abs_level_remaining prefix bit")
		}
		if bit == 0 {
			break
		}
		prefix++
	}
	suffix, err := d.decodeFLBypass(riceParam)
	if err != nil {
		return 0, err
	}
	return (prefix << uint(riceParam)) + suffix, nil
}
