package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
)

// StartGame moves the room out of the lobby and starts the first question.
func (r *Room) StartGame() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != domain.PhaseLobby {
		return wrongPhase("start game", r.phase)
	}

	players := r.reg.players()
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name())
	}

	slog.InfoContext(r.ctx, "room: game started",
		"quiz", r.c.Quiz.Name,
		"players", len(names),
	)
	r.publish(domain.EventGameStarted{
		RoomCode: r.c.Code,
		QuizName: r.c.Quiz.Name,
		Total:    r.c.Quiz.Len(),
		Players:  names,
	})

	r.startQuestionLocked(0)
	return nil
}

// NextQuestion starts the question after the one just revealed.
func (r *Room) NextQuestion() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != domain.PhaseReveal {
		return wrongPhase("next question", r.phase)
	}
	if r.index+1 >= r.c.Quiz.Len() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room: no questions remain after %d", r.index+1))
	}

	r.stopTimersLocked()
	r.startQuestionLocked(r.index + 1)
	return nil
}

// ShowResults publishes the final standings. Called before the last question was revealed it
// ends the game early.
func (r *Room) ShowResults() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case domain.PhaseLobby, domain.PhaseQuestionActive, domain.PhaseReveal:
	default:
		return wrongPhase("show results", r.phase)
	}

	r.stopTimersLocked()
	r.showResultsLocked()
	return nil
}

func (r *Room) startQuestionLocked(i int) {
	q, _ := r.c.Quiz.QuestionAt(i)
	number, total := i+1, r.c.Quiz.Len()

	for _, p := range r.reg.players() {
		p.ResetForQuestion()
	}

	r.index = i
	r.phase = domain.PhaseQuestionActive
	r.startedAt = r.clock.Now()

	r.broadcast(protocol.Question{
		Question: protocol.NewQuestionPayload(q),
		Number:   number,
		Total:    total,
	})
	r.publish(domain.EventQuestionStarted{RoomCode: r.c.Code, Question: q, Number: number, Total: total})

	r.broadcast(protocol.Timer{Remaining: q.TimeLimit})
	r.publish(domain.EventTimerTicked{RoomCode: r.c.Code, Number: number, Remaining: q.TimeLimit})

	stop := make(chan struct{})
	var once sync.Once
	r.stopCountdown = func() { once.Do(func() { close(stop) }) }

	t := r.clock.NewTicker(time.Second)
	r.wg.Add(1)
	go r.countdown(i, q.TimeLimit, t, stop)
}

// countdown ticks the question at index i down to zero, then reveals the answer.
func (r *Room) countdown(i, remaining int, t clockwork.Ticker, stop <-chan struct{}) {
	defer r.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.ctx.Done():
			return
		case <-t.Chan():
		}

		r.mu.Lock()
		if r.phase != domain.PhaseQuestionActive || r.index != i {
			r.mu.Unlock()
			return
		}

		remaining--
		r.broadcast(protocol.Timer{Remaining: remaining})
		r.publish(domain.EventTimerTicked{RoomCode: r.c.Code, Number: i + 1, Remaining: remaining})

		if remaining <= 0 {
			r.timeUpLocked()
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

func (r *Room) timeUpLocked() {
	q, _ := r.c.Quiz.QuestionAt(r.index)
	number := r.index + 1

	r.phase = domain.PhaseReveal
	r.stopCountdown = nil

	if r.c.RevealDelay > 0 {
		i := r.index
		r.revealTimer = r.clock.AfterFunc(r.c.RevealDelay, func() { r.autoAdvance(i) })
	}

	r.broadcast(protocol.TimeUp{Number: number, CorrectAnswer: q.CorrectAnswer})
	r.publish(domain.EventTimeUp{RoomCode: r.c.Code, Number: number, CorrectAnswer: q.CorrectAnswer})

	slog.InfoContext(r.ctx, "room: time up", "question", number)
}

// autoAdvance runs after the reveal delay of question i. It does nothing if a command already
// moved the game on.
func (r *Room) autoAdvance(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != domain.PhaseReveal || r.index != i {
		return
	}
	r.revealTimer = nil

	if i+1 < r.c.Quiz.Len() {
		r.startQuestionLocked(i + 1)
		return
	}
	r.showResultsLocked()
}

func (r *Room) showResultsLocked() {
	r.phase = domain.PhaseResults

	standings := r.Standings()
	r.broadcast(protocol.Results{Standings: protocol.NewStandings(standings)})
	r.publish(domain.EventResultsPublished{RoomCode: r.c.Code, Standings: standings})

	slog.InfoContext(r.ctx, "room: results published", "players", len(standings))
}

func (r *Room) stopTimersLocked() {
	if r.stopCountdown != nil {
		r.stopCountdown()
		r.stopCountdown = nil
	}
	if r.revealTimer != nil {
		r.revealTimer.Stop()
		r.revealTimer = nil
	}
}

// submitAnswer scores the first answer of p to the active question. Answers to any other
// question, or outside QUESTION_ACTIVE, are ignored.
func (r *Room) submitAnswer(p *domain.Player, a protocol.Answer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != domain.PhaseQuestionActive || a.Number != r.index+1 {
		slog.DebugContext(r.ctx, "room: stale answer ignored",
			"player", p.Name(),
			"number", a.Number,
		)
		return
	}

	now := r.clock.Now()
	if !p.MarkAnswered(now) {
		return
	}

	q, _ := r.c.Quiz.QuestionAt(r.index)
	r.publish(domain.EventAnswerSubmitted{Record: domain.AnswerRecord{
		RoomCode:       r.c.Code,
		Timestamp:      now,
		PlayerName:     p.Name(),
		QuestionNumber: a.Number,
		Answer:         a.Answer,
		CorrectAnswer:  q.CorrectAnswer,
		TimeTaken:      now.Sub(r.startedAt),
	}})

	if !q.IsCorrect(a.Answer) {
		return
	}

	p.IncrementCorrect()
	standings := r.Standings()
	r.broadcast(protocol.ScoreUpdate{Standings: protocol.NewStandings(standings)})
	r.publish(domain.EventStandingsUpdated{RoomCode: r.c.Code, Standings: standings})
}

func wrongPhase(op string, phase domain.Phase) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("room: cannot %s in phase %s", op, phase))
}
