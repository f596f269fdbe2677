package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/smallnest/ringbuffer"
)

// rawCapture keeps the most recent raw payload bytes so a decoding problem
// can be inspected after the stream ends. Older bytes are discarded first.
type rawCapture struct {
	buf   *ringbuffer.RingBuffer
	total int
}

var _ io.Writer = (*rawCapture)(nil)

func newRawCapture(size int) *rawCapture {
	return &rawCapture{buf: ringbuffer.New(size)}
}

func (c *rawCapture) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	c.total += n
	if capacity := c.buf.Capacity(); len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if free := c.buf.Free(); free < len(p) {
		discard := make([]byte, len(p)-free)
		if _, err := c.buf.TryRead(discard); err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
	}
	if _, err := c.buf.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

// Dump writes a hex dump of the retained bytes and empties the capture.
func (c *rawCapture) Dump(w io.Writer) error {
	retained := c.buf.Length()
	if retained == 0 {
		_, err := fmt.Fprintln(w, "Raw capture is empty")
		return err
	}

	data := make([]byte, retained)
	n, err := c.buf.TryRead(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return err
	}
	if _, err := fmt.Fprintf(w, "Raw capture (last %d of %d bytes):\n", n, c.total); err != nil {
		return err
	}
	_, err = io.WriteString(w, hex.Dump(data[:n]))
	return err
}
