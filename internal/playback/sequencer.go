package playback

import "github.com/MrWong99/liveguide/pkg/audio"

// Decoded is the outcome of decoding one inbound audio payload.
type Decoded struct {
	// Seq is the arrival sequence number assigned by [Sequencer.Next].
	Seq uint64

	// Frame is valid when Err is nil.
	Frame audio.AudioFrame

	// Err wraps [ErrDecode] when the payload was malformed.
	Err error
}

// Sequencer restores arrival order for payloads that are decoded
// concurrently. Every inbound payload takes a sequence number with Next; the
// matching [Decoded] result is handed to Complete once ready, and Complete
// releases results strictly in sequence order.
//
// Reset discards every outstanding sequence number, so results of payloads
// that arrived before an interruption are never released.
//
// A Sequencer is owned by one goroutine and is not safe for concurrent use.
type Sequencer struct {
	next    uint64 // next number to hand out
	release uint64 // next number to release
	pending map[uint64]Decoded
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{pending: make(map[uint64]Decoded)}
}

// Next assigns the sequence number for a newly arrived payload.
func (q *Sequencer) Next() uint64 {
	seq := q.next
	q.next++
	return seq
}

// Complete records a finished decode and returns every result that is now
// releasable, in arrival order. Results for numbers that were skipped by
// Reset are discarded and Complete returns nil.
func (q *Sequencer) Complete(d Decoded) []Decoded {
	if d.Seq < q.release || d.Seq >= q.next {
		return nil
	}
	q.pending[d.Seq] = d

	var ready []Decoded
	for {
		r, ok := q.pending[q.release]
		if !ok {
			return ready
		}
		delete(q.pending, q.release)
		ready = append(ready, r)
		q.release++
	}
}

// Reset skips every sequence number handed out so far.
func (q *Sequencer) Reset() {
	q.release = q.next
	clear(q.pending)
}

// Outstanding returns how many assigned numbers have not been released yet.
func (q *Sequencer) Outstanding() int {
	return int(q.next - q.release)
}
