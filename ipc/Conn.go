package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrRemote is returned by Request when the peer replied with a Failure
var ErrRemote = errors.New("remote failure")

// Conn exchanges framed messages over a reader and a writer, such as
// the pipes to a worker's stdin and stdout
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn returns a Conn reading from r and writing to w
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

// Send writes m as one frame and flushes it
func (c *Conn) Send(m Message) error {
	payload, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := WriteFrame(c.w, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Recv reads the next message. At a clean end of the stream the
// returned error is io.EOF.
func (c *Conn) Recv() (Message, error) {
	payload, err := ReadFrame(c.r)
	if err == io.EOF {
		return Message{}, io.EOF
	}
	if err != nil {
		return Message{}, fmt.Errorf("recv: %w", err)
	}
	var m Message
	if err := m.UnmarshalBinary(payload); err != nil {
		return Message{}, fmt.Errorf("recv: %w", err)
	}
	return m, nil
}

// Request sends m and returns the reply. A Failure reply is returned
// as an error.
func (c *Conn) Request(m Message) (Message, error) {
	if err := c.Send(m); err != nil {
		return Message{}, fmt.Errorf("request: %w", err)
	}
	reply, err := c.Recv()
	if err == io.EOF {
		return Message{}, fmt.Errorf("request: %v: %w", m.Tag,
			io.ErrUnexpectedEOF)
	}
	if err != nil {
		return Message{}, fmt.Errorf("request: %v: %w", m.Tag, err)
	}
	if reply.Tag == Failure {
		return Message{}, fmt.Errorf("request: %v: %w: %v", m.Tag, ErrRemote,
			reply.Err)
	}
	return reply, nil
}
