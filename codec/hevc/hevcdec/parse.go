/*
NAME
  parse.go

DESCRIPTION
  parse.go provides parsing processes for syntax elements of the descriptors
  used throughout the HEVC syntax tables, as specified in section 9.2 of
  ITU-T H.265.

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

	"github.com/saxon-hevc/hevc/codec/hevc/hevcdec/bits"
)

// fieldReader provides methods for reading bool and int fields from a
// bits.BitReader with a sticky error that may be checked after a series of
// parsing read calls. HEVC syntax tables use only u(n), ue(v) and se(v)
// descriptors (H.264's te(v)/me(v) do not appear in the HEVC syntax and are
// not carried over).
type fieldReader struct {
	e  error
	br *bits.BitReader
}

// newFieldReader returns a new fieldReader.
func newFieldReader(br *bits.BitReader) fieldReader {
	return fieldReader{br: br}
}

// readBits reads n bits from the underlying reader and returns them in the
// least-significant bits of a uint64. The read does not happen if the
// fieldReader already has a non-nil error.
func (r *fieldReader) readBits(n int) uint64 {
	if r.e != nil {
		return 0
	}
	var b uint64
	b, r.e = r.br.ReadBits(n)
	return b
}

// readFlag reads u(1) and returns it as a bool.
func (r *fieldReader) readFlag() bool {
	return r.readBits(1) == 1
}

// readUe parses a syntax element of descriptor ue(v), an unsigned integer
// Exp-Golomb-coded element, using the method specified in section 9.2 of
// ITU-T H.265.
func (r *fieldReader) readUe() uint64 {
	if r.e != nil {
		return 0
	}
	var i uint64
	i, r.e = readUe(r.br)
	return i
}

// readSe parses a syntax element of descriptor se(v), a signed integer
// Exp-Golomb-coded element, using the method specified in section 9.2.2 of
// ITU-T H.265.
func (r *fieldReader) readSe() int {
	if r.e != nil {
		return 0
	}
	var i int
	i, r.e = readSe(r.br)
	return i
}

// err returns the fieldReader's sticky error.
func (r *fieldReader) err() error {
	return r.e
}

// readUe parses a syntax element of descriptor ue(v) directly from br.
func readUe(r *bits.BitReader) (uint64, error) {
	nZeros := 0
	for {
		b, err := r.ReadBits(1)
		if err != nil {
			return 0, errors.Wrap(err, "could not read leading bit of ue(v)")
		}
		if b != 0 {
			break
		}
		nZeros++
	}
	if nZeros == 0 {
		return 0, nil
	}
	rem, err := r.ReadBits(nZeros)
	if err != nil {
		return 0, errors.Wrap(err, "could not read suffix of ue(v)")
	}
	return (uint64(1)<<uint(nZeros) - 1) + rem, nil
}

// readSe parses a syntax element of descriptor se(v) directly from br by
// mapping the underlying ue(v) codeNum onto a signed value per table 9-3.
func readSe(r *bits.BitReader) (int, error) {
	codeNum, err := readUe(r)
	if err != nil {
		return 0, errors.Wrap(err, "error reading ue(v)")
	}
	v := int((codeNum + 1) / 2)
	if codeNum%2 == 0 {
		v = -v
	}
	return v, nil
}
