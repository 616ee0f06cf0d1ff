/*
DESCRIPTION
  errors.go defines the two-band error model used throughout the decoder:
  fatal error kinds that abort the current decode() call, and warning kinds
  that are queued for the host and leave decoding to continue with degraded
  picture integrity.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hevcdec provides a decoder for HEVC/H.265 bitstreams.
package hevcdec

import "fmt"

// Kind identifies a decoder error or warning. Kinds below 1000 are fatal;
// kinds at or above 1000 are warnings and do not stop decoding.
type Kind int

// Fatal kinds, kind < 1000.
const (
	NoSuchFile Kind = iota
	EOF
	OutOfMemory
	CoefficientOutOfImageBounds
	ChecksumMismatch
	CTBOutsideImageArea
	CodedParameterOutOfRange
	ImageBufferFull
	CannotStartThreadpool
	LibraryInitFailed
	MaxThreadContextsExceeded
	MaxSlicesExceeded
	WaitingForInputData
	CannotProcessSEI
)

// Warning kinds, kind >= 1000.
const (
	WarningNonExistingPPSReferenced Kind = 1000 + iota
	WarningNonExistingSPSReferenced
	WarningNonExistingVPSReferenced
	WarningInvalidHeaderField
	WarningRPSIndexOutOfRange
	WarningMotionVectorScalingInconsistent
	WarningDeblockingNeighbourCountMismatch
	WarningPrematureSliceEnd
	WarningCTBOutsideImageAreaConcealed
	WarningRefPicCountExceeded
	WarningInvalidChromaFormat
	WarningInvalidSliceSegmentAddress
	WarningBufferFull
)

// Error is a decoder error or warning. A nil *Error is never returned by
// decoder operations; the absence of an error is represented by a plain nil
// error interface value.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("hevcdec: %s", e.Msg) }

// NewError constructs an *Error of the given kind.
func NewError(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// IsWarning reports whether k is a warning kind (recoverable, decoding
// continues).
func (k Kind) IsWarning() bool { return k >= 1000 }

// IsOK reports whether err represents a condition decoding can proceed past:
// nil, or any *Error whose Kind is a warning.
func IsOK(err error) bool {
	if err == nil {
		return true
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind.IsWarning()
}

// warningQueue is a bounded FIFO of warnings raised while decoding. Overflow
// drops the oldest warning and raises WarningBufferFull in its place.
type warningQueue struct {
	items []*Error
	cap   int
}

func newWarningQueue(cap int) *warningQueue {
	return &warningQueue{cap: cap}
}

// push enqueues w, dropping the oldest entry and substituting
// WarningBufferFull if the queue is at capacity.
func (q *warningQueue) push(w *Error) {
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		w = NewError(WarningBufferFull, "warning buffer full, oldest warning dropped")
	}
	q.items = append(q.items, w)
}

// pop removes and returns the oldest queued warning, or nil if empty.
func (q *warningQueue) pop() *Error {
	if len(q.items) == 0 {
		return nil
	}
	w := q.items[0]
	q.items = q.items[1:]
	return w
}
