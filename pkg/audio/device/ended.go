package device

import "sync"

// endedQueue hands completion callbacks from a real-time audio thread to a
// dispatcher goroutine. push never waits for the consumer and never drops,
// so every onEnded runs exactly once even when the dispatcher falls behind.
type endedQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newEndedQueue() *endedQueue {
	return &endedQueue{wake: make(chan struct{}, 1)}
}

func (q *endedQueue) push(fns []func()) {
	if len(fns) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fns...)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *endedQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	fns := q.pending
	q.pending = nil
	return fns
}

// run calls queued callbacks in push order until done is closed. Callbacks
// still queued at that point are discarded, matching Output.Close.
func (q *endedQueue) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-q.wake:
			for _, fn := range q.take() {
				fn()
			}
		}
	}
}
