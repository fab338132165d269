//go:build integration_test

package history_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/history"
)

func makeService(t *testing.T) (*history.Service, *event.Bus) {
	dsn := os.Getenv("LIVEQUIZ_POSTGRES_URL")
	if dsn == "" {
		t.Skip("LIVEQUIZ_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	s := history.NewService(history.Config{EventBus: eb, DB: db})
	require.NoError(t, s.Migrate(ctx))
	return s, eb
}

func TestService_RecordsAGame(t *testing.T) {
	s, eb := makeService(t)
	ctx := context.Background()
	room := "IT" + time.Now().Format("150405")

	eb.Publish(ctx, domain.EventGameStarted{RoomCode: room, QuizName: "Planets", Total: 2, Players: []string{"Alice", "Bob"}})
	eb.Publish(ctx, domain.EventAnswerSubmitted{Record: domain.AnswerRecord{
		RoomCode: room, Timestamp: time.Now(), PlayerName: "Alice", QuestionNumber: 1, Answer: 1, CorrectAnswer: 1, TimeTaken: 1500 * time.Millisecond,
	}})
	eb.Publish(ctx, domain.EventAnswerSubmitted{Record: domain.AnswerRecord{
		RoomCode: room, Timestamp: time.Now(), PlayerName: "Bob", QuestionNumber: 1, Answer: 0, CorrectAnswer: 1, TimeTaken: 2 * time.Second,
	}})
	eb.Drain()

	id, ok := s.GameID(room)
	require.True(t, ok)

	err := s.RecordAnswer(ctx, domain.AnswerRecord{RoomCode: room, Timestamp: time.Now(), PlayerName: "Alice", QuestionNumber: 1})
	require.True(t, errors.HasCode(err, errors.CodeAlreadyExists))

	eb.Publish(ctx, domain.EventResultsPublished{RoomCode: room, Standings: []domain.Standing{{Name: "Alice", Correct: 1}, {Name: "Bob"}}})
	eb.Drain()

	_, ok = s.GameID(room)
	require.False(t, ok)

	results, err := s.ListResults(ctx, history.ListResultsRequest{GameID: id})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Alice", results[0].Name)
	require.Equal(t, 1, results[0].Rank)
	require.True(t, decimal.RequireFromString("0.5").Equal(results[0].Accuracy))
	require.True(t, decimal.RequireFromString("1.5").Equal(results[0].AvgTime))
	require.Equal(t, 2, results[1].Rank)
}
