package domain

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

type Question struct {
	Text          string
	Options       [OptionCount]string
	CorrectAnswer int
	// TimeLimit in whole seconds.
	TimeLimit int
}

func (q Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("question text is empty")
	}
	for i, o := range q.Options {
		if o == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= OptionCount {
		return fmt.Errorf("correct answer %d out of range [0, %d)", q.CorrectAnswer, OptionCount)
	}
	if q.TimeLimit <= 0 {
		return fmt.Errorf("time limit must be positive, got %d", q.TimeLimit)
	}
	return nil
}

func (q Question) IsCorrect(answer int) bool {
	return answer == q.CorrectAnswer
}

// Quiz is an ordered list of questions. It must not be modified once a room is serving it.
type Quiz struct {
	Name      string
	Questions []Question
}

func (q *Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %q has no questions", q.Name)
	}
	for i, qq := range q.Questions {
		if err := qq.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return nil
}

func (q *Quiz) Len() int { return len(q.Questions) }

// QuestionAt returns the question at the zero-based index.
func (q *Quiz) QuestionAt(i int) (Question, bool) {
	if i < 0 || i >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[i], true
}

// Player is a participant of a room, identified by name. Safe for concurrent use.
type Player struct {
	name string

	mu         sync.Mutex
	correct    int
	answered   bool
	answeredAt time.Time
}

func NewPlayer(name string) *Player {
	return &Player{name: name}
}

func (p *Player) Name() string { return p.name }

func (p *Player) Correct() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.correct
}

// MarkAnswered records the first answer to the current question. It returns false if the
// player already answered it.
func (p *Player) MarkAnswered(at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answered {
		return false
	}
	p.answered = true
	p.answeredAt = at
	return true
}

func (p *Player) Answered() (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answered, p.answeredAt
}

func (p *Player) IncrementCorrect() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.correct++
	return p.correct
}

// ResetForQuestion clears the per-question answer state.
func (p *Player) ResetForQuestion() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = false
	p.answeredAt = time.Time{}
}

func (p *Player) Standing() Standing {
	return Standing{Name: p.name, Correct: p.Correct()}
}

// Standing is a point-in-time view of a player's score.
type Standing struct {
	Name    string
	Correct int
}

// Rank sorts standings in place by correct answers descending, then by name ascending.
func Rank(s []Standing) []Standing {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Correct != s[j].Correct {
			return s[i].Correct > s[j].Correct
		}
		return s[i].Name < s[j].Name
	})
	return s
}

// Standings snapshots and ranks the given players.
func Standings(players []*Player) []Standing {
	s := make([]Standing, 0, len(players))
	for _, p := range players {
		s = append(s, p.Standing())
	}
	return Rank(s)
}

// AnswerRecord is one scored answer, as handed to answer-log sinks.
type AnswerRecord struct {
	RoomCode       string
	Timestamp      time.Time
	PlayerName     string
	QuestionNumber int
	Answer         int
	CorrectAnswer  int
	TimeTaken      time.Duration
}

func (r AnswerRecord) IsCorrect() bool {
	return r.Answer == r.CorrectAnswer
}

// Phase is the state of the room's game.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseQuestionActive Phase = "question_active"
	PhaseReveal         Phase = "reveal"
	PhaseResults        Phase = "results"
	PhaseEnded          Phase = "ended"
)

// Reasons a player leaves the roster, carried by EventPlayerDisconnected.
const (
	DisconnectLeft           = "left"
	DisconnectConnectionLost = "connection lost"
	DisconnectTimedOut       = "timed out"
	DisconnectSendFailed     = "send failed"
	DisconnectShutdown       = "shutdown"
)
