package room

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/session"
)

// Room hosts one quiz for the players connected to its listener. Game state is guarded by mu;
// the lock order is mu, then the registry, then a connection's write lock.
type Room struct {
	c     Config
	clock clockwork.Clock
	eb    *event.Bus
	reg   *registry

	ln net.Listener

	mu            sync.Mutex
	phase         domain.Phase
	index         int
	startedAt     time.Time
	stopCountdown func()
	revealTimer   clockwork.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(c Config) (*Room, error) {
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		c:      c,
		clock:  c.Clock,
		eb:     c.EventBus,
		reg:    newRegistry(),
		phase:  domain.PhaseLobby,
		index:  -1,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start listens on the configured address and begins accepting players. It returns once the
// listener is open.
func (r *Room) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.c.Addr)
	if err != nil {
		return errors.New(errors.CodeConnection,
			errors.WithMessagef("room: listen on %s", r.c.Addr),
			errors.WithCause(err),
		)
	}
	r.ln = ln

	slog.InfoContext(ctx, "room: listening",
		"addr", ln.Addr().String(),
		"room", r.c.Code,
		"quiz", r.c.Quiz.Name,
	)

	r.wg.Add(2)
	go r.acceptLoop()
	go r.keepAliveLoop()
	return nil
}

// Stop ends the game, tells every player the server is shutting down and closes all
// connections. It waits for every goroutine of the room and is safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.phase = domain.PhaseEnded
		r.stopTimersLocked()
		r.mu.Unlock()

		r.cancel()
		if r.ln != nil {
			_ = r.ln.Close()
		}

		r.fanOut(r.reg.snapshot(), func(h *handler) {
			h.disconnect(domain.DisconnectShutdown, protocol.ReasonServerShutdown)
		})

		r.wg.Wait()
		slog.InfoContext(r.ctx, "room: stopped", "room", r.c.Code)
	})
}

func (r *Room) Code() string { return r.c.Code }

func (r *Room) Quiz() *domain.Quiz { return r.c.Quiz }

// Addr is the listener address, or nil before Start.
func (r *Room) Addr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

func (r *Room) Phase() domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// QuestionNumber is the one-based number of the current or last question, zero before the game
// starts.
func (r *Room) QuestionNumber() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index + 1
}

// Standings returns the ranked standings of the connected players.
func (r *Room) Standings() []domain.Standing {
	return domain.Standings(r.reg.players())
}

func (r *Room) acceptLoop() {
	defer r.wg.Done()

	for {
		raw, err := r.ln.Accept()
		if err != nil {
			if r.ctx.Err() == nil {
				slog.ErrorContext(r.ctx, "room: accept failed", "error", err)
			}
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleConn(raw)
		}()
	}
}

func (r *Room) handleConn(raw net.Conn) {
	conn := session.New(raw, session.Config{
		WriteTimeout: r.c.WriteTimeout,
		Clock:        r.clock,
	})

	stop := context.AfterFunc(r.ctx, func() { _ = conn.Close() })
	m, err := conn.ReceiveWithin(r.c.HandshakeTimeout)
	if !stop() {
		return
	}
	if err != nil {
		slog.DebugContext(r.ctx, "room: handshake failed",
			"remote", conn.RemoteAddr(),
			"error", err,
		)
		_ = conn.Close()
		return
	}

	join, ok := m.(protocol.Join)
	if !ok {
		slog.DebugContext(r.ctx, "room: first message is not a join",
			"remote", conn.RemoteAddr(),
			"type", m.Type(),
		)
		_ = conn.Close()
		return
	}

	h, reason := r.join(conn, join)
	if h == nil {
		if reason != "" {
			r.reject(conn, join, reason)
		} else {
			_ = conn.Close()
		}
		return
	}

	h.serve()
}

// join registers the player and confirms the join. JOIN_SUCCESS is sent under the game lock so it
// reaches the player before any game broadcast does. A nil handler with an empty reason means the
// room is shutting down.
func (r *Room) join(conn *session.Conn, join protocol.Join) (*handler, string) {
	if join.RoomCode != r.c.Code {
		return nil, protocol.ReasonInvalidRoomCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case domain.PhaseEnded:
		return nil, ""
	case domain.PhaseResults:
		return nil, protocol.ReasonQuizFinished
	}

	h := &handler{
		room:   r,
		player: domain.NewPlayer(join.PlayerName),
		conn:   conn,
	}
	if !r.reg.add(h) {
		return nil, protocol.ReasonNameTaken
	}

	r.publish(domain.EventPlayerJoined{RoomCode: r.c.Code, PlayerName: join.PlayerName})
	r.publishRoster()

	if err := conn.Send(protocol.JoinSuccess{
		PlayerName:     join.PlayerName,
		TotalQuestions: r.c.Quiz.Len(),
	}); err != nil {
		slog.WarnContext(r.ctx, "room: send join success failed",
			"player", join.PlayerName,
			"error", err,
		)
		h.drop(domain.DisconnectSendFailed)
		return nil, ""
	}

	slog.InfoContext(r.ctx, "room: player joined",
		"player", join.PlayerName,
		"remote", conn.RemoteAddr(),
	)
	return h, ""
}

func (r *Room) reject(conn *session.Conn, join protocol.Join, reason string) {
	defer conn.Close()

	slog.InfoContext(r.ctx, "room: join rejected",
		"player", join.PlayerName,
		"reason", reason,
	)
	r.publish(domain.EventJoinRejected{RoomCode: r.c.Code, PlayerName: join.PlayerName, Reason: reason})

	if err := conn.Send(protocol.JoinFailed{Reason: reason}); err != nil {
		slog.DebugContext(r.ctx, "room: send join failed failed", "error", err)
	}
}

// keepAliveLoop pings every player and drops the ones that have been silent for longer than the
// liveness timeout.
func (r *Room) keepAliveLoop() {
	defer r.wg.Done()

	t := r.clock.NewTicker(r.c.KeepAliveInterval)
	defer t.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.Chan():
		}

		var live []*handler
		for _, h := range r.reg.snapshot() {
			if idle := h.conn.Idle(); idle > r.c.LivenessTimeout {
				slog.WarnContext(r.ctx, "room: player timed out",
					"player", h.player.Name(),
					"idle", idle,
				)
				r.wg.Add(1)
				go func() {
					defer r.wg.Done()
					h.disconnect(domain.DisconnectTimedOut, protocol.ReasonTimedOut)
				}()
				continue
			}
			live = append(live, h)
		}

		r.send(live, protocol.KeepAlive{})
	}
}

// broadcast sends m to every registered player and returns once all sends finished.
func (r *Room) broadcast(m protocol.Message) {
	r.send(r.reg.snapshot(), m)
}

// send delivers m to hs concurrently. A failed send drops that player only.
func (r *Room) send(hs []*handler, m protocol.Message) {
	r.fanOut(hs, func(h *handler) {
		if err := h.conn.Send(m); err != nil {
			if !session.IsNormalClosure(err) {
				slog.WarnContext(r.ctx, "room: send failed",
					"player", h.player.Name(),
					"type", m.Type(),
					"error", err,
				)
			}
			h.drop(domain.DisconnectSendFailed)
		}
	})
}

func (r *Room) fanOut(hs []*handler, f func(h *handler)) {
	var eg errgroup.Group
	eg.SetLimit(r.c.BroadcastConcurrency)
	for _, h := range hs {
		eg.Go(func() error {
			f(h)
			return nil
		})
	}
	_ = eg.Wait()
}

func (r *Room) publish(e event.Event) {
	r.eb.Publish(r.ctx, e)
}

func (r *Room) publishRoster() {
	r.publish(domain.EventRosterChanged{
		RoomCode: r.c.Code,
		Roster:   r.Standings(),
	})
}
