/*
DESCRIPTION
  scheduler.go implements the fixed worker pool and task graph of §4.8: a
  bounded set of goroutines pulling tasks off a ready queue, each task
  waiting on the progress cells (§3 "CTB-progress cell") its dependencies
  name before running. Grounded on the teacher's worker-pool-free,
  synchronous decode loop generalized here to the concurrent model §5
  requires; the ready queue is a github.com/cnotch/queue.SyncQueue.
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

	"github.com/cnotch/queue"
)

// maxWorkerThreads is the implementation-defined pool size cap named by
// §4.8 ("capped at an implementation limit, e.g. 32").
const maxWorkerThreads = 32

// TaskKind names one of the three task shapes of §4.8.
type TaskKind int

const (
	TaskDecodeSlice TaskKind = iota
	TaskDecodeCTBRow
	TaskFilterCTBRow
)

// dependency is a single "wait until CTB (cx,cy) progress >= X" condition,
// §4.8, evaluated against a specific picture (usually the task's own
// picture; a reference picture for inter-prediction dependencies).
type dependency struct {
	pic      *Picture
	ctbAddrRS int
	need     Progress
}

// task is one unit of scheduler work.
type task struct {
	kind   TaskKind
	pic    *Picture
	deps   []dependency
	run    func()
}

// stopTask is the marker Stop queues once per worker; a worker that pops
// it checks the stopped flag and exits.
var stopTask = &task{}

// Scheduler is the fixed worker pool of §4.8. Workers pull tasks from a
// concurrent ready queue (github.com/cnotch/queue.SyncQueue). Pop blocks
// until a task is pushed or the queue is signalled, so unlike nalparser.go's
// NAL queue (which needs a non-blocking dequeue-or-empty poll and so uses a
// plain mutex-guarded FIFO instead) this is exactly the shape SyncQueue is
// for: workers parking while idle rather than spinning.
type Scheduler struct {
	mu      sync.Mutex
	ready   *queue.SyncQueue
	workers int
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler returns a Scheduler with no workers started; call
// StartWorkerThreads to grow the pool, per the external start_worker_threads
// operation (§6).
func NewScheduler() *Scheduler {
	return &Scheduler{
		ready: queue.NewSyncQueue(),
	}
}

// StartWorkerThreads grows the pool to n workers, capped at
// maxWorkerThreads, per §6 "start_worker_threads". Calling it again with a
// larger n adds workers; it never shrinks the pool (matching "grows pool
// to N").
func (s *Scheduler) StartWorkerThreads(n int) int {
	if n > maxWorkerThreads {
		n = maxWorkerThreads
	}
	s.mu.Lock()
	toStart := n - s.workers
	if toStart > 0 {
		s.workers = n
	}
	s.mu.Unlock()
	for i := 0; i < toStart; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	return n
}

// workerLoop is one pool worker: pop a task, wait on its dependencies,
// run it, decrement the picture's pending-task count, repeat. SyncQueue.Pop
// blocks the goroutine until something is pushed, per §5 Cancellation.
//
// Stop queues one stopTask per worker behind any pending tasks. Because the
// markers stay in the queue until popped, a worker that was still busy, or
// had not yet reached Pop, when Stop ran still finds one, so every worker
// exits. A nil from Pop (a wakeup with nothing queued) is ignored.
func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		v := s.ready.Pop()
		if v == nil || v == stopTask {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			continue
		}
		t := v.(*task)
		for _, d := range t.deps {
			d.pic.WaitProgress(d.ctbAddrRS, d.need)
		}
		t.run()
		t.pic.TaskDone()
	}
}

// Submit enqueues t, incrementing its picture's pending-task count at
// submission per §4.8 ("Each task increments tasks_pending on the target
// picture at submission").
func (s *Scheduler) Submit(t *task) {
	t.pic.AddPendingTasks(1)
	s.ready.Push(t)
}

// SubmitSlice schedules a TaskDecodeSlice for one slice segment.
func (s *Scheduler) SubmitSlice(pic *Picture, sh *SliceHeader, cabac *CABAC, backend Backend) {
	s.Submit(&task{
		kind: TaskDecodeSlice,
		pic:  pic,
		run: func() {
			dec := NewCTBDecoder(sh, pic, cabac, backend)
			if err := dec.DecodeSliceSegment(); err != nil && !IsOK(err) {
				pic.Integrity = DecodingErrors
			}
		},
	})
}

// SubmitCTBRow schedules a TaskDecodeCTBRow, wavefront-parallel decoding of
// one CTB row, depending on the row above being two CTBs ahead (§4.8, "row
// r may proceed once row r-1 is two CTBs ahead" per the WPP glossary
// entry).
func (s *Scheduler) SubmitCTBRow(pic *Picture, sh *SliceHeader, row int, cabac *CABAC, backend Backend) {
	sps := sh.SPS
	var deps []dependency
	if row > 0 {
		aboveRowFirstCTB := (row-1)*sps.PicWidthInCtbsY + 2
		if aboveRowFirstCTB < sps.PicSizeInCtbsY {
			deps = append(deps, dependency{pic: pic, ctbAddrRS: aboveRowFirstCTB, need: PredictionDone})
		}
	}
	s.Submit(&task{
		kind: TaskDecodeCTBRow,
		pic:  pic,
		deps: deps,
		run: func() {
			dec := NewCTBDecoder(sh, pic, cabac, backend)
			dec.ctbAddrRS = row * sps.PicWidthInCtbsY
			if err := dec.DecodeSliceSegment(); err != nil && !IsOK(err) {
				pic.Integrity = DecodingErrors
			}
		},
	})
}

// SubmitFilterRow schedules a TaskFilterCTBRow: deblocking + SAO for one
// CTB row, depending on prediction completion of the rows its filter
// footprint touches (§4.8).
func (s *Scheduler) SubmitFilterRow(pic *Picture, sh *SliceHeader, row int, backend Backend) {
	sps := sh.SPS
	var deps []dependency
	lastCol := sps.PicWidthInCtbsY - 1
	deps = append(deps, dependency{pic: pic, ctbAddrRS: row*sps.PicWidthInCtbsY + lastCol, need: PredictionDone})
	if row+1 < sps.PicHeightInCtbsY {
		deps = append(deps, dependency{pic: pic, ctbAddrRS: (row+1)*sps.PicWidthInCtbsY + lastCol, need: PredictionDone})
	}
	s.Submit(&task{
		kind: TaskFilterCTBRow,
		pic:  pic,
		deps: deps,
		run: func() {
			if backend != nil {
				backend.FilterRow(pic, sh, row)
			}
		},
	})
}

// Stop makes every worker exit once the tasks already queued have run, part
// of free_decoder's teardown (§5): it sets the stopped flag and queues one
// stopTask per worker. Reset runs only after every worker has exited,
// freeing the queue's backing storage for GC (mirroring cnotch-ipchub's
// consume()/Close() teardown order).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	n := s.workers
	s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.ready.Push(stopTask)
	}
	s.wg.Wait()
	s.ready.Reset()
}
