package transport

import "sync"

// PipeEnd is one side of an in-memory duplex transport created by Pipe.
// Frames are copied on Send and delivered in order on a goroutine owned by
// the receiving end.
type PipeEnd struct {
	peer      *PipeEnd
	listeners ListenerSet

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte
	closed bool
	done   chan struct{}
}

// Pipe returns two connected transport ends.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := newPipeEnd(), newPipeEnd()
	a.peer, b.peer = b, a
	go a.deliverLoop()
	go b.deliverLoop()
	return a, b
}

func newPipeEnd() *PipeEnd {
	p := &PipeEnd{done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Send queues a copy of frame for the peer.
func (p *PipeEnd) Send(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	return p.peer.enqueue(buf)
}

func (p *PipeEnd) enqueue(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.inbox = append(p.inbox, frame)
	p.cond.Signal()
	return nil
}

// Subscribe registers a handler for frames sent by the peer.
func (p *PipeEnd) Subscribe(h Handler) *Subscription {
	return p.listeners.Add(h)
}

// Unsubscribe removes a handler.
func (p *PipeEnd) Unsubscribe(s *Subscription) {
	p.listeners.Remove(s)
}

// Close shuts down both ends. Queued frames are discarded.
func (p *PipeEnd) Close() error {
	p.shutdown()
	p.peer.shutdown()
	return nil
}

// Done is closed once this end stopped delivering.
func (p *PipeEnd) Done() <-chan struct{} {
	return p.done
}

func (p *PipeEnd) shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.inbox = nil
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *PipeEnd) deliverLoop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.inbox) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		frame := p.inbox[0]
		p.inbox[0] = nil
		p.inbox = p.inbox[1:]
		p.mu.Unlock()

		p.listeners.Dispatch(frame)
	}
}
