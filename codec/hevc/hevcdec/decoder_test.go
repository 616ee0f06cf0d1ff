/*
DESCRIPTION
  decoder_test.go provides testing for the top-level Decoder of decoder.go:
  wiring between the NAL parser, parameter store, DPB and output queue.

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
	"io"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/saxon-hevc/hevc/codec/hevc/hevcconfig"
)

// testLogger returns a logging.Logger that discards everything, so tests
// don't spam output for expected warning paths.
func testLogger() logging.Logger { return logging.New(logging.Fatal, io.Discard, true) }

func TestNewDecoderStartsEmpty(t *testing.T) {
	d := NewDecoder(testLogger())
	if d.GetWarning() != nil {
		t.Error("GetWarning on a fresh decoder should be nil")
	}
	if d.PeekNextPicture() != nil {
		t.Error("PeekNextPicture on a fresh decoder should be nil")
	}
}

func TestDecodeWithNoDataWaitsForInput(t *testing.T) {
	d := NewDecoder(testLogger())
	more, err := d.Decode()
	if more {
		t.Error("Decode with nothing pushed should report more=false")
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != WaitingForInputData {
		t.Errorf("Decode with nothing pushed = %v, want WaitingForInputData", err)
	}
}

// vpsNALBytes builds a complete raw NAL unit (2-byte header + RBSP, no
// Annex-B start code) for a minimal VPS, reusing vpsMinimalBits from
// vps_test.go so the fixture can't drift out of sync with ParseVPS's own
// test coverage.
func vpsNALBytes(t *testing.T) []byte {
	t.Helper()
	rbsp, err := binToSlice(vpsMinimalBits())
	if err != nil {
		t.Fatalf("binToSlice: %v", err)
	}
	// forbidden_zero_bit=0, nal_unit_type=32 (NalVps), layer_id=0,
	// temporal_id_plus1=1 -> header bits 0 100000 000000 001.
	header := []byte{0x40, 0x01}
	return append(header, rbsp...)
}

func TestDecodeParsesVPSIntoParamStore(t *testing.T) {
	d := NewDecoder(testLogger())
	d.PushNAL(vpsNALBytes(t), 0, nil)

	more, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !more {
		t.Error("Decode after consuming one queued NAL should report more=true")
	}
	if d.params.vps[0] == nil {
		t.Error("VPS id 0 was not stored in the parameter store")
	}
}

// slicePPSIDBytes builds a raw NAL unit (TRAIL_R, first_slice_in_pic_flag=1,
// pps_id=0) whose PPS id 0 is never registered, to exercise the
// NonExistingPPSReferenced warning path through Decode.
func slicePPSIDBytes() []byte {
	// forbidden_zero_bit=0, nal_unit_type=1 (NalTrailR), layer_id=0,
	// temporal_id_plus1=1 -> header bits 0 000001 000000 001.
	header := []byte{0x02, 0x01}
	// first_slice_segment_in_pic_flag=1, pps_id ue(v)=0 ("1"), padded with
	// zero bits: 11000000.
	rbsp := []byte{0xC0}
	return append(header, rbsp...)
}

func TestDecodeUnknownPPSRaisesWarningAndContinues(t *testing.T) {
	d := NewDecoder(testLogger())
	d.PushNAL(slicePPSIDBytes(), 0, nil)

	more, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode with a recoverable warning should return a nil error, got %v", err)
	}
	if !more {
		t.Error("Decode after a warning should still report more=true")
	}

	w := d.GetWarning()
	if w == nil || w.Kind != WarningNonExistingPPSReferenced {
		t.Errorf("GetWarning() = %v, want WarningNonExistingPPSReferenced", w)
	}
}

func TestFlushDataSignalsEndOfStream(t *testing.T) {
	d := NewDecoder(testLogger())
	d.FlushData()

	more, err := d.Decode()
	if more || err != nil {
		t.Errorf("Decode after FlushData with no pending pictures = (%v, %v), want (false, nil)", more, err)
	}
}

func TestResetClearsParamStoreAndQueues(t *testing.T) {
	d := NewDecoder(testLogger())
	d.PushNAL(vpsNALBytes(t), 0, nil)
	if _, err := d.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d.outputQueue = append(d.outputQueue, &Picture{Integrity: Decoded})

	d.Reset()

	if d.params.vps[0] != nil {
		t.Error("Reset should clear the parameter store")
	}
	if len(d.outputQueue) != 0 {
		t.Error("Reset should clear the output queue")
	}
	if _, eos := d.nals.pop(); eos {
		t.Error("Reset should hand the decoder a fresh, non-eos NAL parser")
	}
}

func TestPeekAndReleaseHonorSuppressFaultyPictures(t *testing.T) {
	d := NewDecoder(testLogger())
	if err := d.SetParameterBool(hevcconfig.SuppressFaultyPicturesKey, true); err != nil {
		t.Fatalf("SetParameterBool: %v", err)
	}

	faulty := &Picture{POC: 1, Integrity: DecodingErrors}
	good := &Picture{POC: 2, Integrity: Decoded}
	d.outputQueue = []*Picture{faulty, good}

	if got := d.PeekNextPicture(); got != good {
		t.Errorf("PeekNextPicture with suppression on = %v, want the good picture", got)
	}

	got := d.GetNextPicture()
	if got != good {
		t.Errorf("GetNextPicture = %v, want the good picture", got)
	}
	if len(d.outputQueue) != 1 || d.outputQueue[0] != faulty {
		t.Errorf("outputQueue after GetNextPicture = %v, want only the faulty picture left", d.outputQueue)
	}
}

func TestGetNextPictureWithoutSuppressionReturnsHeadRegardless(t *testing.T) {
	d := NewDecoder(testLogger())
	faulty := &Picture{POC: 1, Integrity: DecodingErrors}
	d.outputQueue = []*Picture{faulty}

	if got := d.GetNextPicture(); got != faulty {
		t.Errorf("GetNextPicture without suppression = %v, want the faulty picture", got)
	}
	if len(d.outputQueue) != 0 {
		t.Error("GetNextPicture should have released the head")
	}
}

func TestByteSliceCursorReadsThenErrors(t *testing.T) {
	c := byteSliceCursor([]byte{0x01, 0x02})
	buf := make([]byte, 4)

	n, err := c.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v), want (2, nil)", n, err)
	}
	if _, err := c.Read(buf); err == nil {
		t.Error("Read past the end of the slice should error")
	}
}
