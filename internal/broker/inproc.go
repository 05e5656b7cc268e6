package broker

import (
	"sync"

	"ailoy/internal/aerr"
)

// inprocConn is a Conn backed by Go channels — the default transport (spec
// §4.7: "Single transport, addressed by URL"; this is the in-process "URL").
type inprocConn struct {
	out      chan Packet
	in       chan Packet
	closeErr error
	once     sync.Once
	closed   chan struct{}
}

// NewInprocPair builds two connected Conns: the first is given to the
// Runtime client, the second to the broker's listener loop.
func NewInprocPair() (Conn, Conn) {
	a := make(chan Packet, 16)
	b := make(chan Packet, 16)
	closed := make(chan struct{})
	left := &inprocConn{out: a, in: b, closed: closed}
	right := &inprocConn{out: b, in: a, closed: closed}
	return left, right
}

func (c *inprocConn) Send(p Packet) error {
	select {
	case c.out <- p:
		return nil
	case <-c.closed:
		return aerr.New(aerr.Transport, "inproc connection closed")
	}
}

func (c *inprocConn) Recv() (Packet, error) {
	select {
	case p, ok := <-c.in:
		if !ok {
			return Packet{}, aerr.New(aerr.Transport, "inproc connection closed")
		}
		return p, nil
	case <-c.closed:
		return Packet{}, aerr.New(aerr.Transport, "inproc connection closed")
	}
}

func (c *inprocConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
