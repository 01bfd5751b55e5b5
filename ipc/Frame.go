// Package ipc implements the wire protocol between an environment pool
// and its worker subprocesses.
//
// Every message travels in a frame: a 4-byte big-endian payload length
// followed by the payload. The payload is a one-byte Tag followed by
// the tag's fields in a fixed big-endian binary layout. A connection
// is synchronous request-response, and a worker serves one rollout at
// a time.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a frame may carry
const MaxFrameSize = 1 << 30

var (
	// ErrTruncated is returned when a frame or payload ends before all
	// of its declared bytes were read
	ErrTruncated = errors.New("truncated frame")

	// ErrUnknownTag is returned when a payload starts with a tag that
	// names no message
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrFrameSize is returned when a frame declares a payload larger
	// than MaxFrameSize
	ErrFrameSize = errors.New("frame too large")
)

// WriteFrame writes payload to w as one frame
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("writeFrame: payload of %v bytes: %w",
			len(payload), ErrFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writeFrame: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writeFrame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload. If r is
// exhausted before the frame starts, io.EOF is returned; if it is
// exhausted inside the frame, the error wraps ErrTruncated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("readFrame: header: %w", ErrTruncated)
		}
		return nil, fmt.Errorf("readFrame: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("readFrame: payload of %v bytes: %w", size,
			ErrFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("readFrame: payload: %w", ErrTruncated)
		}
		return nil, fmt.Errorf("readFrame: %w", err)
	}
	return payload, nil
}
