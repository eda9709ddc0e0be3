package fetch

import "sync"

// worker is a single-goroutine FIFO queue. Submissions interleave with
// processing: push never blocks on the item in flight, and stop takes
// effect at the next item boundary.
type worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []batch
	stopped bool
}

func newWorker() *worker {
	w := &worker{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worker) push(b batch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.queue = append(w.queue, b)
	w.cond.Signal()
}

// pop blocks until an item or stop arrives.
func (w *worker) pop() (batch, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && !w.stopped {
		w.cond.Wait()
	}
	if w.stopped {
		return batch{}, false
	}
	b := w.queue[0]
	w.queue = w.queue[1:]
	return b, true
}

func (w *worker) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = nil
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.queue = nil
	w.cond.Broadcast()
}
