package broker

import (
	"net"
	"sync"

	"ailoy/internal/aerr"
)

// tcpConn is a Conn over a raw net.Conn using the same length-prefixed
// framing as the in-process transport (wire.go) — the "extensible to TCP"
// path spec §4.7 names, grounded on the teacher's otel-instrumented HTTP
// client wrapper (internal/observability/httpclient.go) generalized from a
// wrapped http.RoundTripper to a wrapped net.Conn.
type tcpConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// DialTCP connects to a broker listening at addr.
func DialTCP(addr string) (Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "dial broker tcp %s", addr)
	}
	return &tcpConn{conn: conn}, nil
}

// NewTCPConn wraps an already-accepted net.Conn (server side).
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{conn: conn}
}

func (c *tcpConn) Send(p Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WritePacket(c.conn, p)
}

func (c *tcpConn) Recv() (Packet, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return ReadPacket(c.conn)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// Listener accepts TCP connections and hands each one to handle as a Conn,
// one goroutine per connection.
type Listener struct {
	ln net.Listener
}

// Listen starts a TCP listener at addr.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "listen broker tcp %s", addr)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections in a loop, calling handle for each as a Conn.
// Returns when the listener is closed.
func (l *Listener) Serve(handle func(Conn)) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return aerr.Wrap(aerr.Transport, err, "accept broker tcp connection")
		}
		go handle(NewTCPConn(conn))
	}
}
