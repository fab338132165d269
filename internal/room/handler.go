package room

import (
	"log/slog"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/session"
)

// handler serves one joined player.
type handler struct {
	room   *Room
	player *domain.Player
	conn   *session.Conn

	dropOnce sync.Once
}

func (h *handler) serve() {
	ctx := h.room.ctx

	for {
		m, err := h.conn.Receive()
		if err != nil {
			if !session.IsNormalClosure(err) {
				slog.WarnContext(ctx, "room: receive failed",
					"player", h.player.Name(),
					"error", err,
				)
			}
			h.drop(domain.DisconnectConnectionLost)
			return
		}

		switch m := m.(type) {
		case protocol.KeepAlive:
		case protocol.Answer:
			h.room.submitAnswer(h.player, m)
		case protocol.Leave:
			h.drop(domain.DisconnectLeft)
			return
		default:
			slog.DebugContext(ctx, "room: unexpected message ignored",
				"player", h.player.Name(),
				"type", m.Type(),
			)
		}
	}
}

// disconnect tells the player why it is being dropped before closing the connection.
func (h *handler) disconnect(reason, protocolReason string) {
	if err := h.conn.Send(protocol.Disconnect{Reason: protocolReason}); err != nil && !session.IsNormalClosure(err) {
		slog.DebugContext(h.room.ctx, "room: send disconnect failed",
			"player", h.player.Name(),
			"error", err,
		)
	}
	h.drop(reason)
}

// drop closes the connection and removes the player. Only the first call has any effect.
func (h *handler) drop(reason string) {
	h.dropOnce.Do(func() {
		_ = h.conn.Close()

		if !h.room.reg.remove(h) {
			return
		}

		slog.InfoContext(h.room.ctx, "room: player disconnected",
			"player", h.player.Name(),
			"reason", reason,
		)

		h.room.publish(domain.EventPlayerDisconnected{
			RoomCode:   h.room.c.Code,
			PlayerName: h.player.Name(),
			Reason:     reason,
		})
		h.room.publishRoster()
	})
}
