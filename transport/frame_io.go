package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader reads length-prefixed frames from a byte stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	// 4-byte big-endian length prefix
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if int(length) > fr.limits.effectiveMax() {
		return nil, fmt.Errorf("frame size %d exceeds max_frame limit %d", length, fr.limits.effectiveMax())
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// FrameWriter writes length-prefixed frames to a byte stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(frame []byte) error {
	if len(frame) > fw.limits.effectiveMax() {
		return fmt.Errorf("frame size %d exceeds max_frame limit %d", len(frame), fw.limits.effectiveMax())
	}

	// Prefix and payload go out in one write so concurrent streams sharing a
	// pipe never interleave partial frames.
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := fw.writer.Write(buf)
	return err
}
