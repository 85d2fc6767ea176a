package transport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Compression algorithms accepted by Compress.
const (
	CompressionNone = "none"
	CompressionS2   = "s2"
	CompressionZstd = "zstd"
)

type compressor interface {
	compress(src []byte) []byte
	decompress(src []byte) ([]byte, error)
	close()
}

// Compressed wraps a transport and compresses every frame independently.
// Both ends of a link must use the same algorithm.
type Compressed struct {
	inner     Transport
	codec     compressor
	algorithm string
	listeners ListenerSet

	once sync.Once
	sub  *Subscription
}

// Compress wraps t with the named algorithm. An empty name or "none" returns
// t unchanged.
func Compress(t Transport, algorithm string) (Transport, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	var codec compressor
	switch algorithm {
	case "", CompressionNone:
		return t, nil
	case CompressionS2:
		codec = s2Compressor{}
	case CompressionZstd:
		z, err := newZstdCompressor()
		if err != nil {
			return nil, err
		}
		codec = z
	default:
		return nil, fmt.Errorf("unknown compression %q", algorithm)
	}

	c := &Compressed{inner: t, codec: codec, algorithm: algorithm}
	c.sub = t.Subscribe(c.receive)
	return c, nil
}

// Algorithm returns the algorithm in use.
func (c *Compressed) Algorithm() string {
	return c.algorithm
}

// Send compresses frame and hands it to the wrapped transport.
func (c *Compressed) Send(frame []byte) error {
	return c.inner.Send(c.codec.compress(frame))
}

// Subscribe registers a handler for decompressed inbound frames.
func (c *Compressed) Subscribe(h Handler) *Subscription {
	return c.listeners.Add(h)
}

// Unsubscribe removes a handler.
func (c *Compressed) Unsubscribe(s *Subscription) {
	c.listeners.Remove(s)
}

// Close detaches from the wrapped transport and frees codec state. The
// wrapped transport stays open.
func (c *Compressed) Close() error {
	c.once.Do(func() {
		c.inner.Unsubscribe(c.sub)
		c.listeners.Clear()
		c.codec.close()
	})
	return nil
}

func (c *Compressed) receive(frame []byte) {
	plain, err := c.codec.decompress(frame)
	if err != nil {
		log.Warn().Str("component", "transport").Str("compression", c.algorithm).
			Err(err).Msg("dropping undecodable frame")
		return
	}
	c.listeners.Dispatch(plain)
}

type s2Compressor struct{}

func (s2Compressor) compress(src []byte) []byte {
	return s2.Encode(nil, src)
}

func (s2Compressor) decompress(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameHardLimit {
		return nil, fmt.Errorf("decoded frame of %d bytes exceeds hard limit", n)
	}
	return s2.Decode(nil, src)
}

func (s2Compressor) close() {}

// zstdCompressor shares one encoder and one decoder; EncodeAll and
// DecodeAll are safe for concurrent use.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxFrameHardLimit)))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) compress(src []byte) []byte {
	return z.enc.EncodeAll(src, nil)
}

func (z *zstdCompressor) decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

func (z *zstdCompressor) close() {
	z.enc.Close()
	z.dec.Close()
}
