package client

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/session"
)

const (
	DefaultAttempts          = 3
	DefaultRetryDelay        = 2 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultKeepAliveInterval = 3 * time.Second
	DefaultLivenessTimeout   = 15 * time.Second
)

// Handlers receive game events. They are called one at a time from the receive loop, in the order
// the host sent them, and must not call Disconnect.
type Handlers struct {
	OnQuestion  func(q protocol.Question)
	OnTimer     func(remaining int)
	OnTimeUp    func(t protocol.TimeUp)
	OnStandings func(s []domain.Standing)
	OnResults   func(s []domain.Standing)
	// OnDisconnect is called once when the session ends for any reason other than Disconnect.
	OnDisconnect func(cause error)
}

type Config struct {
	// Addr is the host's "host:port".
	Addr     string
	Name     string
	RoomCode string

	Attempts          int
	RetryDelay        time.Duration
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	LivenessTimeout   time.Duration
	WriteTimeout      time.Duration

	Clock    clockwork.Clock
	Handlers Handlers
}

func (c *Config) setDefaults() {
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("client: "+format, args...))
	}

	switch {
	case c.Addr == "":
		return invalid("address is empty")
	case c.Name == "":
		return invalid("player name is empty")
	case c.RoomCode == "":
		return invalid("room code is empty")
	case c.Attempts < 1:
		return invalid("attempts must be at least 1")
	case c.RetryDelay < 0:
		return invalid("retry delay is negative")
	case c.KeepAliveInterval <= 0:
		return invalid("keep-alive interval must be positive")
	case c.LivenessTimeout < 2*c.KeepAliveInterval:
		return invalid("liveness timeout %s must be at least twice the keep-alive interval %s", c.LivenessTimeout, c.KeepAliveInterval)
	}
	return nil
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Client is a player's session with a host.
type Client struct {
	c     Config
	clock clockwork.Clock
	h     Handlers

	mu     sync.Mutex
	state  state
	conn   *session.Conn
	total  int
	cancel context.CancelFunc

	question atomic.Int64
	wg       sync.WaitGroup
}

func New(c Config) (*Client, error) {
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &Client{c: c, clock: c.Clock, h: c.Handlers}, nil
}

// Connect dials the host and joins the room, retrying up to Attempts times with RetryDelay
// between attempts. A JOIN_FAILED answer counts as a failed attempt; once attempts run out the
// CodeReconnectExhausted error wraps the last failure, so a rejection still matches
// CodeJoinRejected and carries the host's reason.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("client: connect called twice"))
	}
	c.state = stateConnecting
	c.mu.Unlock()

	var last error
	for attempt := 1; attempt <= c.c.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				c.abandon()
				return errors.New(errors.CodeConnection, errors.WithMessagef("client: connect canceled"), errors.WithCause(ctx.Err()))
			case <-c.clock.After(c.c.RetryDelay):
			}
			if c.closed() {
				return errors.New(errors.CodeConnection, errors.WithMessagef("client: disconnected while connecting"), errors.WithCause(last))
			}
		}

		conn, js, err := c.dial(ctx)
		if err == nil {
			if !c.start(conn, js) {
				_ = conn.Close()
				return errors.New(errors.CodeConnection, errors.WithMessagef("client: disconnected while connecting"))
			}
			slog.InfoContext(ctx, "client: joined",
				"room", c.c.RoomCode,
				"player", js.PlayerName,
				"attempt", attempt,
			)
			return nil
		}

		last = err
		slog.WarnContext(ctx, "client: connect attempt failed",
			"attempt", attempt,
			"of", c.c.Attempts,
			"error", err,
		)
	}

	c.abandon()
	return errors.New(errors.CodeReconnectExhausted,
		errors.WithMessagef("client: gave up after %d attempts", c.c.Attempts),
		errors.WithCause(last),
	)
}

// abandon returns a failed Connect to the idle state unless Disconnect closed the client meanwhile.
func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateConnecting {
		c.state = stateIdle
	}
}

func (c *Client) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// dial opens a connection and performs the join handshake. The connection is closed on any
// failure.
func (c *Client) dial(ctx context.Context) (_ *session.Conn, _ protocol.JoinSuccess, err error) {
	d := net.Dialer{Timeout: c.c.HandshakeTimeout}
	raw, err := d.DialContext(ctx, "tcp", c.c.Addr)
	if err != nil {
		return nil, protocol.JoinSuccess{}, errors.New(errors.CodeConnection,
			errors.WithMessagef("client: dial %s", c.c.Addr),
			errors.WithCause(err),
		)
	}

	conn := session.New(raw, session.Config{WriteTimeout: c.c.WriteTimeout, Clock: c.clock})
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	if err := conn.Send(protocol.Join{PlayerName: c.c.Name, RoomCode: c.c.RoomCode}); err != nil {
		return nil, protocol.JoinSuccess{}, err
	}

	m, err := conn.ReceiveWithin(c.c.HandshakeTimeout)
	if err != nil {
		return nil, protocol.JoinSuccess{}, err
	}

	switch m := m.(type) {
	case protocol.JoinSuccess:
		return conn, m, nil
	case protocol.JoinFailed:
		return nil, protocol.JoinSuccess{}, errors.New(errors.CodeJoinRejected, errors.WithMessagef("%s", m.Reason))
	default:
		return nil, protocol.JoinSuccess{}, errors.New(errors.CodeProtocol,
			errors.WithMessagef("client: unexpected %s during handshake", m.Type()))
	}
}

// start runs the session loops unless Disconnect was called during Connect.
func (c *Client) start(conn *session.Conn, js protocol.JoinSuccess) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConnecting {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.conn = conn
	c.total = js.TotalQuestions
	c.cancel = cancel
	c.state = stateConnected

	c.wg.Add(2)
	go c.receiveLoop(ctx, conn)
	go c.keepAliveLoop(ctx, conn)
	return true
}

// TotalQuestions is the quiz length announced by the host on join.
func (c *Client) TotalQuestions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// SendAnswer answers the most recent question.
func (c *Client) SendAnswer(answer int) error {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()

	if st != stateConnected {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("client: not connected"))
	}

	number := int(c.question.Load())
	if number == 0 {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("client: no question to answer"))
	}

	if err := conn.Send(protocol.Answer{Number: number, Answer: answer}); err != nil {
		if errors.HasCode(err, errors.CodeProtocol) {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("client: invalid answer %d", answer), errors.WithCause(err))
		}
		return err
	}
	return nil
}

// Disconnect leaves the room and closes the connection. Repeated calls are no-ops.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state != stateConnected {
		c.state = stateClosed
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	if err := conn.Send(protocol.Leave{}); err != nil {
		slog.Debug("client: send leave failed", "error", err)
	}
	cancel()
	_ = conn.Close()
	c.wg.Wait()

	slog.Info("client: disconnected", "room", c.c.RoomCode)
}

// terminate ends a session the client did not close itself.
func (c *Client) terminate(cause error) {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	cancel()
	_ = conn.Close()

	slog.Warn("client: session ended", "room", c.c.RoomCode, "error", cause)
	if c.h.OnDisconnect != nil {
		c.h.OnDisconnect(cause)
	}
}

func (c *Client) receiveLoop(ctx context.Context, conn *session.Conn) {
	defer c.wg.Done()

	for {
		m, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				c.terminate(err)
			}
			return
		}

		switch m := m.(type) {
		case protocol.Question:
			c.question.Store(int64(m.Number))
			if c.h.OnQuestion != nil {
				c.h.OnQuestion(m)
			}
		case protocol.Timer:
			if c.h.OnTimer != nil {
				c.h.OnTimer(m.Remaining)
			}
		case protocol.TimeUp:
			if c.h.OnTimeUp != nil {
				c.h.OnTimeUp(m)
			}
		case protocol.ScoreUpdate:
			if c.h.OnStandings != nil {
				c.h.OnStandings(protocol.DomainStandings(m.Standings))
			}
		case protocol.Results:
			if c.h.OnResults != nil {
				c.h.OnResults(protocol.DomainStandings(m.Standings))
			}
		case protocol.Disconnect:
			c.terminate(errors.New(errors.CodeConnection, errors.WithMessagef("host disconnected: %s", m.Reason)))
			return
		case protocol.KeepAlive:
		default:
			slog.DebugContext(ctx, "client: unexpected message ignored", "type", m.Type())
		}
	}
}

func (c *Client) keepAliveLoop(ctx context.Context, conn *session.Conn) {
	defer c.wg.Done()

	t := c.clock.NewTicker(c.c.KeepAliveInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
		}

		if idle := conn.Idle(); idle > c.c.LivenessTimeout {
			c.terminate(errors.New(errors.CodeLivenessTimeout,
				errors.WithMessagef("no message from host for %s", idle)))
			return
		}

		if err := conn.Send(protocol.KeepAlive{}); err != nil {
			if ctx.Err() == nil {
				c.terminate(err)
			}
			return
		}
	}
}
