package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval   = 200 * time.Millisecond
	defaultExpiration = 24 * time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Expiration of a room's keys after its last update. Zero means 24h.
	Expiration time.Duration
}

// Service mirrors room standings into a Redis sorted set per room, so they can be read from
// outside the host process.
type Service struct {
	eb         *event.Bus
	redis      redis.UniversalClient
	prefix     string
	expiration time.Duration
}

func NewService(c Config) *Service {
	if c.Expiration <= 0 {
		c.Expiration = defaultExpiration
	}

	s := &Service{
		eb:         c.EventBus,
		redis:      c.Redis,
		prefix:     c.Prefix,
		expiration: c.Expiration,
	}

	// One subscription for all three so a stale roster never overwrites newer standings.
	s.eb.SubscribeMany([]string{
		domain.EventNameRosterChanged,
		domain.EventNameStandingsUpdated,
		domain.EventNameResultsPublished,
	}, func(ctx context.Context, e event.Event) error {
		switch e := e.(type) {
		case domain.EventRosterChanged:
			return s.UpdateLeaderboard(ctx, UpdateLeaderboardRequest{RoomCode: e.RoomCode, Standings: e.Roster})
		case domain.EventStandingsUpdated:
			return s.UpdateLeaderboard(ctx, UpdateLeaderboardRequest{RoomCode: e.RoomCode, Standings: e.Standings})
		case domain.EventResultsPublished:
			return s.UpdateLeaderboard(ctx, UpdateLeaderboardRequest{RoomCode: e.RoomCode, Standings: e.Standings, Final: true})
		}
		return nil
	})

	return s
}

type GetLeaderboardRequest struct {
	RoomCode string
}

// GetLeaderboard returns the mirrored standings of a room, ranked.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.RoomCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: room=%s", req.RoomCode))
	}

	entries := make([]domain.Standing, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.Standing{
			Name:    z.Member.(string),
			Correct: int(z.Score),
		})
	}

	return &domain.Leaderboard{
		RoomCode: req.RoomCode,
		// Redis orders equal scores by member descending; re-rank for name ascending.
		Entries: domain.Rank(entries),
	}, nil
}

type UpdateLeaderboardRequest struct {
	RoomCode  string
	Standings []domain.Standing
	// Final bypasses the publish throttle and freezes the room's leaderboard.
	Final bool
}

// UpdateLeaderboard replaces the room's mirrored standings with req.Standings. Once a final
// update is stored, later non-final updates for the room are ignored.
func (s *Service) UpdateLeaderboard(ctx context.Context, req UpdateLeaderboardRequest) error {
	key := s.getLeaderboardKey(req.RoomCode)

	if !req.Final {
		n, err := s.redis.Exists(ctx, s.getLeaderboardFinalKey(req.RoomCode)).Result()
		if err != nil {
			return fmt.Errorf("check final: %w", err)
		}
		if n > 0 {
			return nil
		}
	}

	// TODO: retry on error
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		for _, st := range req.Standings {
			p.ZAdd(ctx, key, redis.Z{
				Score:  float64(st.Correct),
				Member: st.Name,
			})
		}
		p.Expire(ctx, key, s.expiration)
		if req.Final {
			p.Set(ctx, s.getLeaderboardFinalKey(req.RoomCode), 1, s.expiration)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	if req.Final {
		return s.publishLeaderboard(ctx, req.RoomCode)
	}
	return s.schedulePublishLeaderboard(ctx, req.RoomCode)
}

// schedulePublishLeaderboard publishes leaderboard changes at most once per interval. A burst of
// correct answers would otherwise publish one event per answer.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, room string) error {
	// This is a simple way to prevent multiple instances of the service from publishing the leaderboard.
	// But it's not perfect and can be improved.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(room), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, room)
}

func (s *Service) publishLeaderboard(ctx context.Context, room string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		RoomCode: room,
	})
	if errors.HasCode(err, errors.CodeNotFound) {
		l, err = &domain.Leaderboard{RoomCode: room, Entries: []domain.Standing{}}, nil
	}
	if err != nil {
		return fmt.Errorf("get leaderboard failed: room=%s: %w", room, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(room), time.Now().UnixMilli(), publishInterval).Err()
}

func (s *Service) getLeaderboardKey(room string) string {
	return fmt.Sprintf("%s:room:%s:leaderboard", s.prefix, room)
}

func (s *Service) getLeaderboardFinalKey(room string) string {
	return fmt.Sprintf("%s:room:%s:final", s.prefix, room)
}

func (s *Service) getLeaderboardTimeKey(room string) string {
	return fmt.Sprintf("%s:room:%s:time", s.prefix, room)
}
