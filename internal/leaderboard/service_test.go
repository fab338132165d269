package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	err := s.UpdateLeaderboard(ctx, leaderboard.UpdateLeaderboardRequest{
		RoomCode: "R1",
		Standings: []domain.Standing{
			{Name: "Bob", Correct: 1},
			{Name: "Carol", Correct: 0},
			{Name: "Alice", Correct: 1},
		},
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomCode: "R1"})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		RoomCode: "R1",
		Entries: []domain.Standing{
			{Name: "Alice", Correct: 1},
			{Name: "Bob", Correct: 1},
			{Name: "Carol", Correct: 0},
		},
	}
	require.Equal(t, want, resp)

	err = s.UpdateLeaderboard(ctx, leaderboard.UpdateLeaderboardRequest{
		RoomCode:  "R1",
		Standings: []domain.Standing{{Name: "Alice", Correct: 2}},
	})
	require.NoError(t, err)

	resp, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomCode: "R1"})
	require.NoError(t, err)
	require.Equal(t, []domain.Standing{{Name: "Alice", Correct: 2}}, resp.Entries, "players who left are dropped")
}

func TestService_GetLeaderboard_NotFound(t *testing.T) {
	s := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{RoomCode: "nope"})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_MirrorsRoomEvents(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))
	defer eb.Stop()

	ctx := context.Background()
	eb.Publish(ctx, domain.EventRosterChanged{RoomCode: "R1", Roster: []domain.Standing{{Name: "Alice"}, {Name: "Bob"}}})
	eb.Publish(ctx, domain.EventStandingsUpdated{RoomCode: "R1", Standings: []domain.Standing{{Name: "Bob", Correct: 1}, {Name: "Alice"}}})
	eb.Drain()

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomCode: "R1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Standing{{Name: "Bob", Correct: 1}, {Name: "Alice"}}, resp.Entries)
}

func TestService_FinalResultsAreKept(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	err := s.UpdateLeaderboard(ctx, leaderboard.UpdateLeaderboardRequest{
		RoomCode:  "R1",
		Standings: []domain.Standing{{Name: "Alice", Correct: 2}},
		Final:     true,
	})
	require.NoError(t, err)

	// Players leaving after the results must not erase them.
	err = s.UpdateLeaderboard(ctx, leaderboard.UpdateLeaderboardRequest{RoomCode: "R1", Standings: []domain.Standing{}})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomCode: "R1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Standing{{Name: "Alice", Correct: 2}}, resp.Entries)
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			requests []leaderboard.UpdateLeaderboardRequest
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after an update": {
			arrange: func() inputs {
				return inputs{
					requests: []leaderboard.UpdateLeaderboardRequest{
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 1}}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					RoomCode: "R1",
					Entries:  []domain.Standing{{Name: "u1", Correct: 1}},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events leaderboard.updated after updates for 2 different rooms": {
			arrange: func() inputs {
				return inputs{
					requests: []leaderboard.UpdateLeaderboardRequest{
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 1}}},
						{RoomCode: "R2", Standings: []domain.Standing{{Name: "u2", Correct: 2}}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated after updates for the same room within the publish interval": {
			arrange: func() inputs {
				return inputs{
					requests: []leaderboard.UpdateLeaderboardRequest{
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 1}}},
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 1}, {Name: "u2", Correct: 1}}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},

		"should always publish final results": {
			arrange: func() inputs {
				return inputs{
					requests: []leaderboard.UpdateLeaderboardRequest{
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 1}}},
						{RoomCode: "R1", Standings: []domain.Standing{{Name: "u1", Correct: 2}}, Final: true},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2)
				require.Equal(t, []domain.Standing{{Name: "u1", Correct: 2}}, out.publishedEvents[1].Leaderboard.Entries)
			},
		},

		"should publish an empty leaderboard when everyone left": {
			arrange: func() inputs {
				return inputs{
					requests: []leaderboard.UpdateLeaderboardRequest{
						{RoomCode: "R1", Standings: []domain.Standing{}, Final: true},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				require.Empty(t, out.publishedEvents[0].Leaderboard.Entries)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, req := range in.requests {
				err := s.UpdateLeaderboard(context.Background(), req)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "livequiz",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
