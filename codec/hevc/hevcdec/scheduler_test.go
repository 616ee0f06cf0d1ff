/*
DESCRIPTION
  scheduler_test.go provides testing for the fixed worker pool and task
  graph of scheduler.go.

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
	"testing"
)

// testSPSMultiRow builds a 2-CTB-wide, 3-CTB-tall picture's geometry, for
// exercising SubmitCTBRow/SubmitFilterRow's row-to-row dependency math.
func testSPSMultiRow() *SPS {
	s := &SPS{
		ChromaFormatIDC:                      Chroma420,
		PicWidthInLumaSamples:                64,
		PicHeightInLumaSamples:               96,
		BitDepthLuma:                         8,
		BitDepthChroma:                       8,
		Log2MinLumaCodingBlockSize:           3,
		Log2DiffMaxMinLumaCodingBlockSize:    2,
		Log2MinLumaTransformBlockSize:        2,
		Log2DiffMaxMinLumaTransformBlockSize: 3,
		Log2MaxPicOrderCntLsb:                8,
	}
	s.deriveGeometry()
	return s
}

func TestStartWorkerThreadsCapsAtMax(t *testing.T) {
	s := NewScheduler()
	if got := s.StartWorkerThreads(50); got != maxWorkerThreads {
		t.Errorf("StartWorkerThreads(50) = %d, want %d", got, maxWorkerThreads)
	}
	if s.workers != maxWorkerThreads {
		t.Errorf("s.workers = %d, want %d", s.workers, maxWorkerThreads)
	}
	s.Stop()
}

func TestStartWorkerThreadsNeverShrinksPool(t *testing.T) {
	s := NewScheduler()
	s.StartWorkerThreads(4)
	if s.workers != 4 {
		t.Fatalf("s.workers after starting 4 = %d, want 4", s.workers)
	}
	s.StartWorkerThreads(2) // a smaller request must not shrink the pool.
	if s.workers != 4 {
		t.Errorf("s.workers after a smaller StartWorkerThreads call = %d, want 4 (unchanged)", s.workers)
	}
	s.StartWorkerThreads(6)
	if s.workers != 6 {
		t.Errorf("s.workers after growing past 4 = %d, want 6", s.workers)
	}
	s.Stop()
}

func TestSubmitRunsTaskAndCompletesPicture(t *testing.T) {
	s := NewScheduler()
	s.StartWorkerThreads(2)
	defer s.Stop()

	pic, err := NewPicture(testSPS(), nil, AllocFunctions{})
	if err != nil {
		t.Fatalf("NewPicture: %v", err)
	}

	var mu sync.Mutex
	ran := false
	s.Submit(&task{pic: pic, run: func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	}})

	pic.WaitForCompletion()

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Error("Submit did not run the task")
	}
}

func TestSubmitCTBRowDependsOnRowAboveTwoCTBsIn(t *testing.T) {
	s := NewScheduler()
	sps := testSPSMultiRow()
	sh := &SliceHeader{SPS: sps}
	pic := &Picture{}

	s.SubmitCTBRow(pic, sh, 0, nil, nil)
	v := s.ready.Pop()
	if v == nil {
		t.Fatal("expected a task in the ready queue")
	}
	if got := v.(*task).deps; len(got) != 0 {
		t.Errorf("row 0's deps = %v, want none", got)
	}

	s.SubmitCTBRow(pic, sh, 2, nil, nil)
	v = s.ready.Pop()
	if v == nil {
		t.Fatal("expected a task in the ready queue")
	}
	deps := v.(*task).deps
	if len(deps) != 1 {
		t.Fatalf("row 2's deps = %v, want exactly one", deps)
	}
	wantCTB := (2-1)*sps.PicWidthInCtbsY + 2
	if deps[0].ctbAddrRS != wantCTB || deps[0].need != PredictionDone {
		t.Errorf("row 2's dep = %+v, want ctbAddrRS=%d need=PredictionDone", deps[0], wantCTB)
	}
}

func TestSubmitFilterRowDependsOnOwnAndNextRow(t *testing.T) {
	s := NewScheduler()
	sps := testSPSMultiRow()
	sh := &SliceHeader{SPS: sps}
	pic := &Picture{}
	lastCol := sps.PicWidthInCtbsY - 1

	s.SubmitFilterRow(pic, sh, 0, nil)
	v := s.ready.Pop()
	if v == nil {
		t.Fatal("expected a task in the ready queue")
	}
	deps := v.(*task).deps
	if len(deps) != 2 {
		t.Fatalf("row 0's filter deps = %v, want exactly two (own row and the row below)", deps)
	}
	if deps[0].ctbAddrRS != lastCol {
		t.Errorf("first dep ctbAddrRS = %d, want %d", deps[0].ctbAddrRS, lastCol)
	}
	if want := sps.PicWidthInCtbsY + lastCol; deps[1].ctbAddrRS != want {
		t.Errorf("second dep ctbAddrRS = %d, want %d", deps[1].ctbAddrRS, want)
	}

	lastRow := sps.PicHeightInCtbsY - 1
	s.SubmitFilterRow(pic, sh, lastRow, nil)
	v = s.ready.Pop()
	if v == nil {
		t.Fatal("expected a task in the ready queue")
	}
	deps = v.(*task).deps
	if len(deps) != 1 {
		t.Errorf("the last row's filter deps = %v, want exactly one (no row below)", deps)
	}
}

func TestStopShutsDownWorkersCleanly(t *testing.T) {
	s := NewScheduler()
	s.StartWorkerThreads(3)
	s.Stop() // must return once every worker has exited, not hang.
}
