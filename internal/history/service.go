package history

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

//go:embed schema.sql
var schema string

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

// Service persists every game a room plays: who took part, each scored answer and the final
// ranking.
type Service struct {
	eb *event.Bus
	db DB

	mu    sync.Mutex
	games map[string]uuid.UUID // room code -> current game
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		db:    c.DB,
		games: make(map[string]uuid.UUID),
	}

	// Answers must land after their game row, so all three share one ordered queue.
	s.eb.SubscribeMany([]string{
		domain.EventNameGameStarted,
		domain.EventNameAnswerSubmitted,
		domain.EventNameResultsPublished,
	}, s.handle)

	return s
}

func (s *Service) handle(ctx context.Context, e event.Event) error {
	switch e := e.(type) {
	case domain.EventGameStarted:
		_, err := s.StartGame(ctx, StartGameRequest{
			RoomCode: e.RoomCode,
			QuizName: e.QuizName,
			Total:    e.Total,
			Players:  e.Players,
		})
		return err
	case domain.EventAnswerSubmitted:
		err := s.RecordAnswer(ctx, e.Record)
		if errors.HasCode(err, errors.CodeAlreadyExists) {
			// A player who left and rejoined under the same name answered the question twice.
			// Only the first answer is kept.
			slog.DebugContext(ctx, "history: repeated answer ignored",
				"room", e.Record.RoomCode,
				"player", e.Record.PlayerName,
				"question", e.Record.QuestionNumber,
			)
			return nil
		}
		return err
	case domain.EventResultsPublished:
		return s.FinishGame(ctx, FinishGameRequest{RoomCode: e.RoomCode, Standings: e.Standings})
	}
	return nil
}

// Migrate creates the history tables if they don't exist.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// GameID returns the game currently recorded for a room.
func (s *Service) GameID(room string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.games[room]
	return id, ok
}

type StartGameRequest struct {
	RoomCode  string
	QuizName  string
	Total     int
	Players   []string
	StartTime time.Time
}

func (s *Service) StartGame(ctx context.Context, req StartGameRequest) (id uuid.UUID, err error) {
	id, err = uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate game ID: %w", err)
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt   = `INSERT INTO games (game_id, room_code, quiz_name, total_questions, started_at) VALUES ($1, $2, $3, $4, $5);`
		insPlayerStmt = `INSERT INTO game_players (game_id, player_name) VALUES ($1, $2);`
	)

	if _, err = tx.Exec(ctx, insGameStmt, id, req.RoomCode, req.QuizName, req.Total, req.StartTime); err != nil {
		return uuid.Nil, fmt.Errorf("insert game: %w", err)
	}

	b := &pgx.Batch{}
	for _, p := range req.Players {
		b.Queue(insPlayerStmt, id, p)
	}
	if b.Len() > 0 {
		if err = tx.SendBatch(ctx, b).Close(); err != nil {
			return uuid.Nil, fmt.Errorf("insert players: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.games[req.RoomCode] = id
	s.mu.Unlock()

	slog.InfoContext(ctx, "history: game started", "room", req.RoomCode, "game", id)
	return id, nil
}

// RecordAnswer stores one scored answer against the room's current game.
func (s *Service) RecordAnswer(ctx context.Context, r domain.AnswerRecord) error {
	id, ok := s.GameID(r.RoomCode)
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no game recorded for room %s", r.RoomCode))
	}

	const stmt = `
INSERT INTO answers (game_id, player_name, question_number, answer, correct_answer, time_taken, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := s.db.Exec(ctx, stmt, id, r.PlayerName, r.QuestionNumber, r.Answer, r.CorrectAnswer, seconds(r.TimeTaken), r.Timestamp)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already recorded: game=%s player=%s question=%d", id, r.PlayerName, r.QuestionNumber),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	return nil
}

type FinishGameRequest struct {
	RoomCode  string
	Standings []domain.Standing
	EndTime   time.Time
}

// FinishGame stamps the end of the room's current game and stores its ranking.
func (s *Service) FinishGame(ctx context.Context, req FinishGameRequest) (err error) {
	id, ok := s.GameID(req.RoomCode)
	if !ok {
		// Results shown straight from the lobby: nothing was played.
		return nil
	}
	if req.EndTime.IsZero() {
		req.EndTime = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	var total int
	if err = tx.QueryRow(ctx, `UPDATE games SET ended_at = $2 WHERE game_id = $1 RETURNING total_questions;`, id, req.EndTime).Scan(&total); err != nil {
		return fmt.Errorf("end game: %w", err)
	}

	const insResultStmt = `INSERT INTO results (game_id, rank, player_name, correct, accuracy) VALUES ($1, $2, $3, $4, $5);`

	b := &pgx.Batch{}
	for i, rank := range ranks(req.Standings) {
		st := req.Standings[i]
		b.Queue(insResultStmt, id, rank, st.Name, st.Correct, accuracy(st.Correct, total))
	}
	if b.Len() > 0 {
		if err = tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	delete(s.games, req.RoomCode)
	s.mu.Unlock()

	slog.InfoContext(ctx, "history: game finished", "room", req.RoomCode, "game", id)
	return nil
}

type Result struct {
	Rank     int
	Name     string
	Correct  int
	Accuracy decimal.Decimal
	// AvgTime is the mean time taken over the player's recorded answers.
	AvgTime decimal.Decimal
}

type ListResultsRequest struct {
	GameID uuid.UUID
}

func (s *Service) ListResults(ctx context.Context, req ListResultsRequest) ([]Result, error) {
	const stmt = `
SELECT r.rank, r.player_name, r.correct, r.accuracy, COALESCE(AVG(a.time_taken), 0) AS avg_time
FROM results r
LEFT JOIN answers a ON a.game_id = r.game_id AND a.player_name = r.player_name
WHERE r.game_id = $1
GROUP BY r.rank, r.player_name, r.correct, r.accuracy
ORDER BY r.rank, r.player_name;`

	rows, err := s.db.Query(ctx, stmt, req.GameID)
	if err != nil {
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Result, error) {
		var res Result
		if err := r.Scan(&res.Rank, &res.Name, &res.Correct, &res.Accuracy, &res.AvgTime); err != nil {
			return Result{}, err
		}
		res.AvgTime = res.AvgTime.Round(3)
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no results for game %s", req.GameID))
	}

	return results, nil
}

func seconds(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Milliseconds()).Shift(-3)
}

func accuracy(correct, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(correct)).DivRound(decimal.NewFromInt(int64(total)), 4)
}

// ranks assigns competition ranks (1, 2, 2, 4) to standings that are already ranked.
func ranks(s []domain.Standing) []int {
	out := make([]int, len(s))
	for i := range s {
		if i > 0 && s[i].Correct == s[i-1].Correct {
			out[i] = out[i-1]
			continue
		}
		out[i] = i + 1
	}
	return out
}
