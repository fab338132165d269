package room

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	DefaultPort              = 8888
	DefaultKeepAliveInterval = 3 * time.Second
	DefaultLivenessTimeout   = 15 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultRevealDelay       = 3 * time.Second

	defaultBroadcastConcurrency = 64
)

type Config struct {
	// Code is the room code players must present in JOIN.
	Code string
	Quiz *domain.Quiz
	// Addr to listen on. Empty means ":8888".
	Addr string

	KeepAliveInterval time.Duration
	// LivenessTimeout must be at least twice KeepAliveInterval.
	LivenessTimeout  time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// RevealDelay enables auto-advance: the room moves on this long after TIME_UP. Zero leaves
	// advancing to NextQuestion and ShowResults.
	RevealDelay time.Duration

	BroadcastConcurrency int

	Clock    clockwork.Clock
	EventBus *event.Bus
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8888"
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BroadcastConcurrency <= 0 {
		c.BroadcastConcurrency = defaultBroadcastConcurrency
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room: "+format, args...))
	}

	if c.Code == "" {
		return invalid("room code is empty")
	}
	if c.Quiz == nil {
		return invalid("quiz is nil")
	}
	if err := c.Quiz.Validate(); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room: invalid quiz"), errors.WithCause(err))
	}
	if c.EventBus == nil {
		return invalid("event bus is nil")
	}
	if c.KeepAliveInterval <= 0 {
		return invalid("keep-alive interval must be positive")
	}
	if c.LivenessTimeout < 2*c.KeepAliveInterval {
		return invalid("liveness timeout %s must be at least twice the keep-alive interval %s", c.LivenessTimeout, c.KeepAliveInterval)
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 {
		return invalid("handshake and write timeouts must be positive")
	}
	if c.RevealDelay < 0 {
		return invalid("reveal delay is negative")
	}
	return nil
}
