package transport

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Stream is a transport over a pair of byte streams (a socket, a pipe, a
// child's stdio). Frames are length-prefixed. One reader goroutine delivers
// inbound frames in order and one writer goroutine drains the outbox.
type Stream struct {
	reader    *FrameReader
	writer    *FrameWriter
	closer    io.Closer
	out       *outbox
	listeners ListenerSet

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// NewStream starts a transport reading from r and writing to w. If r
// implements io.Closer it is closed by Close.
func NewStream(r io.Reader, w io.Writer) *Stream {
	return NewStreamWithLimits(r, w, DefaultLimits())
}

// NewStreamWithLimits is NewStream with explicit frame limits.
func NewStreamWithLimits(r io.Reader, w io.Writer, limits Limits) *Stream {
	s := &Stream{
		reader: NewFrameReader(r),
		writer: NewFrameWriter(w),
		done:   make(chan struct{}),
	}
	s.reader.SetLimits(limits)
	s.writer.SetLimits(limits)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	s.out = newOutbox(s.writer.WriteFrame)
	go s.readerLoop()
	return s
}

// NewConn starts a transport over a full duplex connection such as net.Conn.
func NewConn(conn io.ReadWriteCloser) *Stream {
	s := NewStream(conn, conn)
	s.closer = conn
	return s
}

// Send queues one frame for writing. Oversized frames are rejected here
// rather than failing the writer.
func (s *Stream) Send(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if max := s.writer.limits.effectiveMax(); len(frame) > max {
		return errors.New("frame exceeds max_frame limit")
	}
	return s.out.push(frame)
}

// Subscribe registers a handler for inbound frames.
func (s *Stream) Subscribe(h Handler) *Subscription {
	return s.listeners.Add(h)
}

// Unsubscribe removes a handler.
func (s *Stream) Unsubscribe(sub *Subscription) {
	s.listeners.Remove(sub)
}

// Done is closed when the reader goroutine exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the reader, nil on clean EOF or Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes queued frames, then closes the underlying reader when
// possible.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.out.close()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Stream) readerLoop() {
	defer close(s.done)
	for {
		frame, err := s.reader.ReadFrame()
		if err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			s.closed = true
			if !errors.Is(err, io.EOF) && !wasClosed {
				s.err = err
			}
			stopErr := s.err
			s.mu.Unlock()
			if stopErr != nil {
				log.Warn().Str("component", "transport").Err(err).Msg("stream reader stopped")
			}
			return
		}
		s.listeners.Dispatch(frame)
	}
}
