package transport

import (
	"bufio"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// maxTextLine bounds one encoded line; base64 inflates frames by 4/3.
const maxTextLine = MaxFrameHardLimit/3*4 + 64

// textLine is one frame on a text-only link.
type textLine struct {
	Frame []byte `json:"frame"`
}

// Text adapts a text-only, line-oriented link (a terminal, a websocket text
// channel, a log pipe) to the Transport contract. Each frame travels as one
// line of JSON with the frame base64-encoded.
type Text struct {
	out       *outbox
	listeners ListenerSet
	done      chan struct{}
}

// NewText starts reading lines from r and writes lines to w.
func NewText(r io.Reader, w io.Writer) *Text {
	t := &Text{done: make(chan struct{})}
	t.out = newOutbox(func(line []byte) error {
		_, err := w.Write(line)
		return err
	})
	go t.readLoop(r)
	return t
}

// Send queues one frame as a line.
func (t *Text) Send(frame []byte) error {
	line, err := json.Marshal(textLine{Frame: frame})
	if err != nil {
		return err
	}
	return t.out.push(append(line, '\n'))
}

// Close stops writing after queued lines are flushed. The reader stops at end
// of input.
func (t *Text) Close() error {
	t.out.close()
	return nil
}

// Subscribe registers a handler for inbound frames.
func (t *Text) Subscribe(h Handler) *Subscription {
	return t.listeners.Add(h)
}

// Unsubscribe removes a handler.
func (t *Text) Unsubscribe(s *Subscription) {
	t.listeners.Remove(s)
}

// Done is closed when the reader reaches end of input.
func (t *Text) Done() <-chan struct{} {
	return t.done
}

func (t *Text) readLoop(r io.Reader) {
	defer close(t.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTextLine)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line textLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Warn().Str("component", "transport").Err(err).Msg("dropping undecodable text frame")
			continue
		}
		t.listeners.Dispatch(line.Frame)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Warn().Str("component", "transport").Err(err).Msg("text reader stopped")
	}
}
