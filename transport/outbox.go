package transport

import (
	"sync"
	"time"
)

// closeTimeout bounds how long Close waits for queued frames to be written.
const closeTimeout = time.Second

// outbox decouples Send from the underlying writer: frames are queued without
// bound and written in order by one goroutine, so a sender never blocks on a
// peer that is itself blocked sending to us.
type outbox struct {
	write func([]byte) error

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	closing bool
	err     error
	done    chan struct{}
}

func newOutbox(write func([]byte) error) *outbox {
	o := &outbox{write: write, done: make(chan struct{})}
	o.cond = sync.NewCond(&o.mu)
	go o.writerLoop()
	return o
}

// push queues frame. It fails once the outbox is closing or a write failed.
func (o *outbox) push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	if o.closing {
		return ErrClosed
	}
	o.queue = append(o.queue, frame)
	o.cond.Signal()
	return nil
}

// close stops accepting frames and waits, up to closeTimeout, for the queue
// to drain.
func (o *outbox) close() {
	o.mu.Lock()
	o.closing = true
	o.cond.Broadcast()
	o.mu.Unlock()

	select {
	case <-o.done:
	case <-time.After(closeTimeout):
	}
}

func (o *outbox) writerLoop() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closing {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		frame := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if err := o.write(frame); err != nil {
			o.mu.Lock()
			o.err = err
			o.queue = nil
			o.mu.Unlock()
			return
		}
	}
}
