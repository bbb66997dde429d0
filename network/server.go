package network

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

const (
	// maxFrameSize bounds a single frame line; oversized frames kill the
	// connection rather than the server.
	maxFrameSize = 1 << 20

	// sendQueueSize is the per-connection outbound buffer. A connection
	// that cannot drain it gets send errors, never a blocked server.
	sendQueueSize = 256
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

var connSeq atomic.Uint64

// Conn is one accepted protocol connection. Sends go through a bounded
// queue drained by a dedicated writer goroutine, so Send never blocks on a
// slow peer.
type Conn struct {
	id   uint64
	raw  net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(raw net.Conn) *Conn {
	return &Conn{
		id:   connSeq.Add(1),
		raw:  raw,
		out:  make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Equal reports whether two handles refer to the same accepted connection.
func (c *Conn) Equal(o *Conn) bool { return o != nil && c.id == o.id }

// Done is closed when the connection goes away.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() string {
	if c.raw == nil {
		return ""
	}
	return c.raw.RemoteAddr().String()
}

func (c *Conn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send queues raw bytes for delivery. The caller is expected to pass a
// complete encoded frame (newline included).
func (c *Conn) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// SendFrame encodes and queues a frame.
func (c *Conn) SendFrame(f *Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return c.Send(b)
}

// SendAck queues an ack frame with a status code and optional JSON body.
func (c *Conn) SendAck(code int, msg string) error {
	return c.SendFrame(&Frame{Type: FrameAck, Code: code, Msg: msg})
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.raw.Close()
	})
	return nil
}

func (c *Conn) writePump() {
	for {
		select {
		case b := <-c.out:
			if _, err := c.raw.Write(b); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// MessageHandler is invoked for every decoded frame.
type MessageHandler func(c *Conn, f *Frame)

// DisconnectHandler is invoked once when a connection goes away.
type DisconnectHandler func(c *Conn)

// Server is the protocol listener. One reader goroutine and one writer
// goroutine per connection; handlers run on the reader goroutine.
type Server struct {
	ln         net.Listener
	handler    MessageHandler
	disconnect DisconnectHandler
	quit       chan struct{}
	wg         sync.WaitGroup

	mu    sync.Mutex
	conns map[uint64]*Conn
}

// ListenProtocol starts the protocol server on host:port.
func ListenProtocol(host string, port int, handler MessageHandler, disconnect DisconnectHandler) (*Server, error) {
	if port <= 0 {
		return nil, errors.New("invalid port")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}
	s := &Server{ln: ln, handler: handler, disconnect: disconnect, quit: make(chan struct{}), conns: make(map[uint64]*Conn)}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}
		c := newConn(raw)
		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()
		go c.writePump()
		s.wg.Add(1)
		go s.readLoop(c)
	}
}

func (s *Server) readLoop(c *Conn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		if s.disconnect != nil {
			s.disconnect(c)
		}
	}()

	sc := bufio.NewScanner(c.raw)
	sc.Buffer(make([]byte, 64*1024), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := DecodeFrame(line)
		if err != nil {
			// Malformed input from a peer must not take the server
			// down; drop the frame and keep reading.
			_ = c.SendFrame(&Frame{Type: FrameError, Code: 400, Msg: "malformed frame"})
			continue
		}
		s.handler(c, f)
	}
}

// Close stops accepting, drops every open connection and waits for the
// reader goroutines to drain.
func (s *Server) Close() error {
	close(s.quit)
	err := s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
