package history

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/victornm/livequiz/internal/domain"
)

func TestSeconds(t *testing.T) {
	tests := map[string]struct {
		d    time.Duration
		want string
	}{
		"zero":            {d: 0, want: "0"},
		"milliseconds":    {d: 1534 * time.Millisecond, want: "1.534"},
		"sub-millisecond": {d: 900 * time.Microsecond, want: "0"},
		"whole seconds":   {d: 12 * time.Second, want: "12"},
		"truncates":       {d: 2*time.Second + 999*time.Microsecond, want: "2"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, seconds(tc.d).String())
		})
	}
}

func TestAccuracy(t *testing.T) {
	tests := map[string]struct {
		correct, total int
		want           decimal.Decimal
	}{
		"all correct": {correct: 3, total: 3, want: decimal.NewFromInt(1)},
		"none":        {correct: 0, total: 3, want: decimal.Zero},
		"repeating":   {correct: 1, total: 3, want: decimal.RequireFromString("0.3333")},
		"rounds up":   {correct: 2, total: 3, want: decimal.RequireFromString("0.6667")},
		"empty quiz":  {correct: 0, total: 0, want: decimal.Zero},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := accuracy(tc.correct, tc.total)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestRanks(t *testing.T) {
	tests := map[string]struct {
		standings []domain.Standing
		want      []int
	}{
		"empty": {standings: nil, want: []int{}},
		"distinct": {
			standings: []domain.Standing{{Name: "a", Correct: 3}, {Name: "b", Correct: 2}, {Name: "c", Correct: 1}},
			want:      []int{1, 2, 3},
		},
		"ties share a rank": {
			standings: []domain.Standing{{Name: "a", Correct: 3}, {Name: "b", Correct: 2}, {Name: "c", Correct: 2}, {Name: "d", Correct: 0}},
			want:      []int{1, 2, 2, 4},
		},
		"everyone tied": {
			standings: []domain.Standing{{Name: "a"}, {Name: "b"}},
			want:      []int{1, 1},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ranks(tc.standings))
		})
	}
}

type execDB struct {
	err   error
	execs int
}

func (db *execDB) Begin(context.Context) (pgx.Tx, error) {
	return nil, stderrors.New("not supported")
}

func (db *execDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	db.execs++
	return pgconn.CommandTag{}, db.err
}

func (db *execDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, stderrors.New("not supported")
}

func TestService_HandleAnswer(t *testing.T) {
	tests := map[string]struct {
		dbErr   error
		wantErr bool
	}{
		"recorded":                     {},
		"repeated answer after rejoin": {dbErr: &pgconn.PgError{Code: "23505"}},
		"database down":                {dbErr: stderrors.New("connection refused"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			db := &execDB{err: tc.dbErr}
			s := &Service{db: db, games: map[string]uuid.UUID{"QZ7K2M": uuid.New()}}

			err := s.handle(context.Background(), domain.EventAnswerSubmitted{Record: domain.AnswerRecord{
				RoomCode:       "QZ7K2M",
				Timestamp:      time.Now(),
				PlayerName:     "Alice",
				QuestionNumber: 1,
				Answer:         2,
				CorrectAnswer:  2,
				TimeTaken:      time.Second,
			}})

			assert.Equal(t, 1, db.execs)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
