package session

import (
	"bufio"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
)

const defaultWriteTimeout = 5 * time.Second

// ErrClosed is returned by Send and Receive once the connection was closed locally. Workers treat
// it as a normal shutdown.
var ErrClosed = stderrors.New("session: connection closed")

type Config struct {
	// WriteTimeout bounds a single Send. Zero means 5s.
	WriteTimeout time.Duration
	// Clock is used for liveness timestamps. Nil means the real clock.
	Clock clockwork.Clock
}

// Conn is one framed message stream. Sends are serialized; Receive must only be called from a
// single goroutine.
type Conn struct {
	raw          net.Conn
	r            *bufio.Reader
	clock        clockwork.Clock
	writeTimeout time.Duration

	wmu       sync.Mutex
	lastSeen  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func New(raw net.Conn, c Config) *Conn {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	conn := &Conn{
		raw:          raw,
		r:            bufio.NewReader(raw),
		clock:        c.Clock,
		writeTimeout: c.WriteTimeout,
	}
	conn.touch()
	return conn
}

// Send writes m as one frame. Concurrent callers are serialized so frames never interleave.
func (c *Conn) Send(m protocol.Message) error {
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := c.raw.Write(frame); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return errors.New(errors.CodeConnection,
			errors.WithMessagef("send %s to %s", m.Type(), c.RemoteAddr()),
			errors.WithCause(err),
		)
	}

	return nil
}

// Receive blocks for the next message. Any successfully decoded message counts as liveness.
func (c *Conn) Receive() (protocol.Message, error) {
	m, err := protocol.Decode(c.r)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if errors.HasCode(err, errors.CodeProtocol) {
			return nil, err
		}
		return nil, errors.New(errors.CodeConnection,
			errors.WithMessagef("receive from %s", c.RemoteAddr()),
			errors.WithCause(err),
		)
	}

	c.touch()
	return m, nil
}

// ReceiveWithin is Receive bounded by d, used for handshakes.
func (c *Conn) ReceiveWithin(d time.Duration) (protocol.Message, error) {
	_ = c.raw.SetReadDeadline(time.Now().Add(d))
	defer func() { _ = c.raw.SetReadDeadline(time.Time{}) }()

	return c.Receive()
}

func (c *Conn) touch() {
	c.lastSeen.Store(c.clock.Now().UnixNano())
}

// LastSeen is the time the last inbound message arrived, or the creation time.
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Idle is how long the peer has been silent.
func (c *Conn) Idle() time.Duration {
	return c.clock.Since(c.LastSeen())
}

func (c *Conn) RemoteAddr() string {
	if a := c.raw.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Close closes the transport. It is safe to call more than once; later calls return the first
// result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// IsNormalClosure reports whether err only says the stream ended: a local close or the peer
// hanging up between frames.
func IsNormalClosure(err error) bool {
	return stderrors.Is(err, ErrClosed) || stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed)
}
