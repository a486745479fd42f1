package registry

import (
	"context"
	"sync"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
)

// DefaultInboxCapacity bounds a session inbox when no capacity is given.
const DefaultInboxCapacity = 256

// DefaultSaturationLimit is the number of consecutive overflowing pushes
// after which an inbox reports its session as unhealthy.
const DefaultSaturationLimit = 32

// Inbox is the bounded per-session delivery queue. Publishers push into it
// without ever blocking; the owning session's inbox processor is the only
// consumer. When full, the oldest queued event is dropped so the newest
// state change always gets through.
//
// An inbox that overflows on too many consecutive pushes invokes its
// saturation callback once, on its own goroutine, letting the session
// cancel itself instead of shedding events forever without the publisher
// ever waiting on the teardown.
type Inbox struct {
	mu       sync.Mutex
	buf      []protocol.Event
	capacity int
	strikes  int
	maxStrik int
	fired    bool
	closed   bool

	// notify wakes the consumer; capacity 1 so producers never block.
	notify chan struct{}

	onSaturated func()
}

// NewInbox creates a bounded inbox. capacity and saturationLimit fall back
// to the package defaults when non-positive.
func NewInbox(capacity, saturationLimit int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	if saturationLimit <= 0 {
		saturationLimit = DefaultSaturationLimit
	}
	return &Inbox{
		buf:      make([]protocol.Event, 0, capacity),
		capacity: capacity,
		maxStrik: saturationLimit,
		notify:   make(chan struct{}, 1),
	}
}

// OnSaturated sets the callback invoked (once, on its own goroutine) when
// the inbox stays saturated past its limit. Must be set before the inbox
// is shared.
func (in *Inbox) OnSaturated(fn func()) {
	in.mu.Lock()
	in.onSaturated = fn
	in.mu.Unlock()
}

// Push enqueues an event, dropping the oldest queued event if the inbox is
// full. It never blocks. The returned flag reports whether an event was
// dropped to make room.
func (in *Inbox) Push(ev protocol.Event) (dropped bool) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}

	var saturated func()
	if len(in.buf) >= in.capacity {
		copy(in.buf, in.buf[1:])
		in.buf = in.buf[:len(in.buf)-1]
		dropped = true
		in.strikes++
		if in.strikes >= in.maxStrik && !in.fired {
			in.fired = true
			saturated = in.onSaturated
		}
	} else {
		in.strikes = 0
	}
	in.buf = append(in.buf, ev)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}

	// The callback cancels the session, which can wait on the session's
	// write lock; running it here would stall the publisher mid fan-out.
	if saturated != nil {
		go saturated()
	}
	return dropped
}

// Pop dequeues the next event in FIFO order, blocking until one is
// available, the context is cancelled, or the inbox is closed. The second
// return value is false when no more events will be delivered.
func (in *Inbox) Pop(ctx context.Context) (protocol.Event, bool) {
	for {
		in.mu.Lock()
		if len(in.buf) > 0 {
			ev := in.buf[0]
			copy(in.buf, in.buf[1:])
			in.buf = in.buf[:len(in.buf)-1]
			in.mu.Unlock()
			return ev, true
		}
		closed := in.closed
		in.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-in.notify:
		}
	}
}

// Close marks the inbox as closed. Pending events are discarded and any
// blocked Pop returns. Closing twice is harmless.
func (in *Inbox) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	in.buf = nil
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buf)
}
