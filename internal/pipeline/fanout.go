package pipeline

import "sync"

// Worker applies one pipeline stage's transform to a single Record.
type Worker func(Record) Record

// FanOut runs n worker goroutines pulling from in and applying f, the
// "stage is one or more worker threads" model the client pipeline uses
// for its CPU-bound stages (hashing, CAONT+RS encoding). Workers may
// finish out of order; FanOut reassembles strict Seq order with a
// pending-record map before pushing onto out, standing in for the
// round-robin dispatch and deterministic reassembly cursor a downstream
// single-threaded stage (segmenter, collector) depends on. FanOut
// returns once in is closed and drained and every worker has finished;
// it closes out before returning.
func FanOut(in *Queue, out *Queue, n int, f Worker) {
	results := make(chan Record, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for {
				rec, ok := in.Pop()
				if !ok {
					return
				}
				results <- f(rec)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[uint64]Record)
	var next uint64
	for rec := range results {
		pending[rec.Seq] = rec
		for {
			r, found := pending[next]
			if !found {
				break
			}
			out.Push(r)
			delete(pending, next)
			next++
		}
	}
	out.Close()
}
