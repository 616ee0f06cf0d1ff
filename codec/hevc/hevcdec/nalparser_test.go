/*
DESCRIPTION
  nalparser_test.go provides testing for the Annex-B start-code scanner and
  NAL unit queue of nalparser.go.

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
	"reflect"
	"testing"
)

// A TRAIL_R (nal_unit_type=1), layer 0, temporal_id 0 header encodes as
// forbidden(0) type(000001) layer_id(000000) temporal_id_plus1(001), i.e.
// bits 0000001 000000001 -> bytes 0x02, 0x01.
var testNALHeaderBytes = []byte{0x02, 0x01}

func TestFindStartCodes(t *testing.T) {
	buf := append(append(append([]byte{0, 0, 0, 1}, 0xAB), []byte{0, 0, 1}...), 0xCD)
	got := findStartCodes(buf)
	want := []startCodeSpan{{0, 4}, {5, 8}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("findStartCodes = %v, want %v", got, want)
	}
}

func TestPushDataSplitsTwoUnits(t *testing.T) {
	nal1 := append(append([]byte{}, testNALHeaderBytes...), 0xAB, 0xCD)
	nal2 := append(append([]byte{}, testNALHeaderBytes...), 0xEF, 0x01)

	var stream []byte
	stream = append(stream, startCode4...)
	stream = append(stream, nal1...)
	stream = append(stream, startCode4...)
	stream = append(stream, nal2...)
	stream = append(stream, startCode4...)

	p := NewNALParser()
	p.pushData(stream, 42, "userdata")

	got1, eos := p.pop()
	if eos || got1 == nil {
		t.Fatalf("first pop() = (%v, eos=%v), want a NAL unit", got1, eos)
	}
	if got1.Header.Type != 1 || !reflect.DeepEqual(got1.RBSP, []byte{0xAB, 0xCD}) {
		t.Errorf("first unit = %+v, want type=1 RBSP=[AB CD]", got1)
	}
	if got1.PTS != 42 || got1.UserData != "userdata" {
		t.Errorf("first unit PTS/UserData = %d/%v, want 42/userdata", got1.PTS, got1.UserData)
	}

	got2, eos := p.pop()
	if eos || got2 == nil {
		t.Fatalf("second pop() = (%v, eos=%v), want a NAL unit", got2, eos)
	}
	if !reflect.DeepEqual(got2.RBSP, []byte{0xEF, 0x01}) {
		t.Errorf("second unit RBSP = %v, want [EF 01]", got2.RBSP)
	}

	got3, eos := p.pop()
	if got3 != nil || eos {
		t.Errorf("third pop() with nothing queued and no eos marked = (%v, %v), want (nil, false)", got3, eos)
	}
}

func TestPushDataLeavesPartialTrailingUnitBuffered(t *testing.T) {
	nal1 := append(append([]byte{}, testNALHeaderBytes...), 0xAB, 0xCD)
	var stream []byte
	stream = append(stream, startCode4...)
	stream = append(stream, nal1...)
	stream = append(stream, startCode4...)
	stream = append(stream, 0x05, 0x06) // a second unit's bytes, no closing start code yet.

	p := NewNALParser()
	p.pushData(stream, 1, nil)

	got, eos := p.pop()
	if eos || got == nil {
		t.Fatalf("pop() = (%v, %v), want the one complete unit", got, eos)
	}
	if got2, _ := p.pop(); got2 != nil {
		t.Errorf("a second pop() before the trailing unit closes = %v, want nil (still buffered)", got2)
	}
	if !reflect.DeepEqual(p.rope, []byte{0x05, 0x06}) {
		t.Errorf("rope = %v, want the still-open second unit's bytes [05 06]", p.rope)
	}
}

func TestPushNALEnqueuesDirectly(t *testing.T) {
	raw := append(append([]byte{}, testNALHeaderBytes...), 0x11, 0x22)
	p := NewNALParser()
	p.pushNAL(raw, 7, nil)

	got, eos := p.pop()
	if eos || got == nil {
		t.Fatalf("pop() after pushNAL = (%v, %v), want a unit", got, eos)
	}
	if !reflect.DeepEqual(got.RBSP, []byte{0x11, 0x22}) || got.PTS != 7 {
		t.Errorf("pushNAL unit = %+v, want RBSP=[11 22] PTS=7", got)
	}
}

func TestMarkEndOfStreamSignalsEOS(t *testing.T) {
	p := NewNALParser()
	p.markEndOfStream()

	got, eos := p.pop()
	if got != nil || !eos {
		t.Errorf("pop() after markEndOfStream on an empty parser = (%v, %v), want (nil, true)", got, eos)
	}

	// A second markEndOfStream must not enqueue a duplicate sentinel.
	p.markEndOfStream()
	got, eos = p.pop()
	if got != nil || eos {
		t.Errorf("pop() after a second markEndOfStream = (%v, %v), want (nil, false)", got, eos)
	}
}

func TestMarkEndOfStreamFlushesPartialData(t *testing.T) {
	nal0 := append(append([]byte{}, testNALHeaderBytes...), 0xAB, 0xCD)
	p := NewNALParser()

	// A first, fully-closed unit brings the rope back to empty (scan()
	// consumes through the last start code it finds), matching the
	// invariant markEndOfStream's flush relies on: whatever remains in the
	// rope afterward starts right after a start code, with none of its own
	// bytes.
	var opening []byte
	opening = append(opening, startCode4...)
	opening = append(opening, nal0...)
	opening = append(opening, startCode4...)
	p.pushData(opening, 0, nil)
	if got, _ := p.pop(); got == nil {
		t.Fatal("expected the first, fully-closed unit to already be queued")
	}

	// A second, never-closed unit's bytes arrive with no further start
	// code, so they stay buffered in the rope.
	trailing := append(append([]byte{}, testNALHeaderBytes...), 0x99)
	p.pushData(trailing, 1, nil)
	if got, _ := p.pop(); got != nil {
		t.Fatalf("pop() before flush = %v, want nil", got)
	}

	p.markEndOfStream()

	got, eos := p.pop()
	if eos || got == nil {
		t.Fatalf("pop() after markEndOfStream flushes the pending unit = (%v, %v), want a unit first", got, eos)
	}
	if !reflect.DeepEqual(got.RBSP, []byte{0x99}) {
		t.Errorf("flushed unit RBSP = %v, want [99]", got.RBSP)
	}

	got, eos = p.pop()
	if got != nil || !eos {
		t.Errorf("pop() after the flushed unit = (%v, %v), want (nil, true) for the eos sentinel", got, eos)
	}
}
