//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/client"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/protocol"
)

// TestQuiz plays a full game against a running host:
//
//	livequiz host --room DEMO42 --quiz quiz.yaml --http-port 8080 --reveal-delay 2s
func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		addr     = env("LIVEQUIZ_ADDR", "localhost:8888")
		httpAddr = env("LIVEQUIZ_HTTP", "http://localhost:8080")
		code     = env("LIVEQUIZ_ROOM", "DEMO42")
		players  = []string{"u1", "u2", "u3"}
	)

	// Prepare Redis subscriber
	if r := os.Getenv("LIVEQUIZ_REDIS"); r != "" {
		subscribeAsPlayer(t, makeRedis(t, r), code, "u1")
	}

	// Join every player concurrently
	results := make(chan []domain.Standing, len(players))
	clients := make([]*client.Client, len(players))
	{
		var eg errgroup.Group
		for i, p := range players {
			eg.Go(func() error {
				var cl *client.Client
				cl, err := client.New(client.Config{
					Addr:     addr,
					Name:     p,
					RoomCode: code,
					Handlers: client.Handlers{
						OnQuestion: func(q protocol.Question) {
							// Everyone picks option i, so u1..u3 score differently.
							go func() {
								if err := cl.SendAnswer(i % domain.OptionCount); err != nil {
									t.Logf("player %q answer: %v", p, err)
								}
							}()
						},
						OnResults: func(s []domain.Standing) { results <- s },
						OnDisconnect: func(cause error) {
							t.Logf("player %q disconnected: %v", p, cause)
						},
					},
				})
				if err != nil {
					return err
				}
				clients[i] = cl
				if err := cl.Connect(ctx); err != nil {
					return fmt.Errorf("player %q connect: %w", p, err)
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())
	}
	t.Cleanup(func() {
		for _, cl := range clients {
			cl.Disconnect()
		}
	})

	// Start the game; the host auto-advances through every question.
	resp, err := http.Post(httpAddr+"/room/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for range players {
		select {
		case s := <-results:
			t.Logf("final results:\n%s", formatStandings(s))
		case <-ctx.Done():
			t.Fatal("game did not finish")
		}
	}

}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func subscribeAsPlayer(t *testing.T, rc redis.UniversalClient, code, player string) {
	sub := subscribeRedis(t, rc, api.PlayerChannel("livequiz", code, player))
	go func() {
		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.StandingsResponse
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal standings: %v", err)
					continue
				}

				t.Logf("%s standings:\n%s", player, formatAPIStandings(l.Standings))
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T, addr string) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatStandings(s []domain.Standing) string {
	var out string
	for _, e := range s {
		out += fmt.Sprintf("%s: %d\n", e.Name, e.Correct)
	}
	return out
}

func formatAPIStandings(s []api.Standing) string {
	var out string
	for _, e := range s {
		out += fmt.Sprintf("%s: %d\n", e.Name, e.Correct)
	}
	return out
}
