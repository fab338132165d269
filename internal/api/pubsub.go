package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated pushes the standings to the room channel and to every ranked
// player's own channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := StandingsResponse{
		RoomCode:  l.RoomCode,
		Standings: toStandings(l.Entries),
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, RoomChannel(a.prefix, l.RoomCode), e.Name(), data)
	})
	for _, entry := range data.Standings {
		eg.Go(func() error {
			return a.publishNotification(ctx, PlayerChannel(a.prefix, l.RoomCode, entry.Name), e.Name(), data)
		})
	}

	return eg.Wait()
}

func RoomChannel(prefix, room string) string {
	return fmt.Sprintf("%s:room:%s:standings", prefix, room)
}

func PlayerChannel(prefix, room, player string) string {
	return fmt.Sprintf("%s:room:%s:player:%s", prefix, room, player)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
