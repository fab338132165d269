package protocol

import (
	"fmt"

	"github.com/victornm/livequiz/internal/domain"
)

type Type string

const (
	TypeJoin        Type = "JOIN"
	TypeJoinSuccess Type = "JOIN_SUCCESS"
	TypeJoinFailed  Type = "JOIN_FAILED"
	TypeLeave       Type = "LEAVE"
	TypeDisconnect  Type = "DISCONNECT"
	TypeQuestion    Type = "QUESTION"
	TypeAnswer      Type = "ANSWER"
	TypeTimer       Type = "TIMER"
	TypeTimeUp      Type = "TIME_UP"
	TypeScoreUpdate Type = "SCORE_UPDATE"
	TypeResults     Type = "RESULTS"
	TypeKeepAlive   Type = "KEEP_ALIVE"
)

// Join rejection reasons sent in JOIN_FAILED.
const (
	ReasonInvalidRoomCode = "Invalid room code"
	ReasonNameTaken       = "Player name already taken"
	ReasonQuizFinished    = "Quiz already finished"
)

// Disconnect reasons.
const (
	ReasonServerShutdown = "Server shutting down"
	ReasonTimedOut       = "Connection timed out"
)

// Message is one of the twelve message kinds exchanged between host and players.
type Message interface {
	Type() Type
	// Validate reports whether the fields required by the tag hold acceptable values.
	Validate() error

	isMessage()
}

type Join struct {
	PlayerName string `json:"player_name"`
	RoomCode   string `json:"room_code"`
}

type JoinSuccess struct {
	PlayerName     string `json:"player_name"`
	TotalQuestions int    `json:"total_questions"`
}

type JoinFailed struct {
	Reason string `json:"reason"`
}

type Leave struct{}

// Disconnect is sent by the room before it closes a session on its own initiative.
type Disconnect struct {
	Reason string `json:"reason"`
}

// QuestionPayload is what players see of a question. The correct answer is revealed in TimeUp.
type QuestionPayload struct {
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"time_limit"`
}

type Question struct {
	Question QuestionPayload `json:"question"`
	// Number is one-based.
	Number int `json:"number"`
	Total  int `json:"total"`
}

type Answer struct {
	Number int `json:"number"`
	Answer int `json:"answer"`
}

type Timer struct {
	Remaining int `json:"remaining"`
}

type TimeUp struct {
	Number        int `json:"number"`
	CorrectAnswer int `json:"correct_answer"`
}

type Standing struct {
	Name    string `json:"name"`
	Correct int    `json:"correct"`
}

type ScoreUpdate struct {
	Standings []Standing `json:"standings"`
}

type Results struct {
	Standings []Standing `json:"standings"`
}

type KeepAlive struct{}

func (Join) Type() Type        { return TypeJoin }
func (JoinSuccess) Type() Type { return TypeJoinSuccess }
func (JoinFailed) Type() Type  { return TypeJoinFailed }
func (Leave) Type() Type       { return TypeLeave }
func (Disconnect) Type() Type  { return TypeDisconnect }
func (Question) Type() Type    { return TypeQuestion }
func (Answer) Type() Type      { return TypeAnswer }
func (Timer) Type() Type       { return TypeTimer }
func (TimeUp) Type() Type      { return TypeTimeUp }
func (ScoreUpdate) Type() Type { return TypeScoreUpdate }
func (Results) Type() Type     { return TypeResults }
func (KeepAlive) Type() Type   { return TypeKeepAlive }

func (Join) isMessage()        {}
func (JoinSuccess) isMessage() {}
func (JoinFailed) isMessage()  {}
func (Leave) isMessage()       {}
func (Disconnect) isMessage()  {}
func (Question) isMessage()    {}
func (Answer) isMessage()      {}
func (Timer) isMessage()       {}
func (TimeUp) isMessage()      {}
func (ScoreUpdate) isMessage() {}
func (Results) isMessage()     {}
func (KeepAlive) isMessage()   {}

func (m Join) Validate() error {
	if m.PlayerName == "" {
		return fmt.Errorf("player_name is empty")
	}
	if m.RoomCode == "" {
		return fmt.Errorf("room_code is empty")
	}
	return nil
}

func (m JoinSuccess) Validate() error {
	if m.PlayerName == "" {
		return fmt.Errorf("player_name is empty")
	}
	if m.TotalQuestions < 0 {
		return fmt.Errorf("total_questions is negative")
	}
	return nil
}

func (m JoinFailed) Validate() error {
	if m.Reason == "" {
		return fmt.Errorf("reason is empty")
	}
	return nil
}

func (Leave) Validate() error { return nil }

func (m Disconnect) Validate() error {
	if m.Reason == "" {
		return fmt.Errorf("reason is empty")
	}
	return nil
}

func (q QuestionPayload) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) != domain.OptionCount {
		return fmt.Errorf("question has %d options, want %d", len(q.Options), domain.OptionCount)
	}
	for i, o := range q.Options {
		if o == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.TimeLimit <= 0 {
		return fmt.Errorf("time_limit must be positive")
	}
	return nil
}

func (m Question) Validate() error {
	if err := m.Question.Validate(); err != nil {
		return err
	}
	if m.Total < 1 {
		return fmt.Errorf("total must be at least 1")
	}
	if m.Number < 1 || m.Number > m.Total {
		return fmt.Errorf("number %d out of range [1, %d]", m.Number, m.Total)
	}
	return nil
}

func (m Answer) Validate() error {
	if m.Number < 1 {
		return fmt.Errorf("number must be at least 1")
	}
	return validateAnswerIndex(m.Answer)
}

func (m Timer) Validate() error {
	if m.Remaining < 0 {
		return fmt.Errorf("remaining is negative")
	}
	return nil
}

func (m TimeUp) Validate() error {
	if m.Number < 1 {
		return fmt.Errorf("number must be at least 1")
	}
	return validateAnswerIndex(m.CorrectAnswer)
}

func (m ScoreUpdate) Validate() error { return validateStandings(m.Standings) }

func (m Results) Validate() error { return validateStandings(m.Standings) }

func (KeepAlive) Validate() error { return nil }

func validateAnswerIndex(i int) error {
	if i < 0 || i >= domain.OptionCount {
		return fmt.Errorf("answer %d out of range [0, %d)", i, domain.OptionCount)
	}
	return nil
}

func validateStandings(s []Standing) error {
	if s == nil {
		return fmt.Errorf("standings are missing")
	}
	for i, st := range s {
		if st.Name == "" {
			return fmt.Errorf("standing %d: name is empty", i)
		}
		if st.Correct < 0 {
			return fmt.Errorf("standing %d: correct is negative", i)
		}
	}
	return nil
}

// NewQuestionPayload strips the correct answer from q.
func NewQuestionPayload(q domain.Question) QuestionPayload {
	return QuestionPayload{
		Text:      q.Text,
		Options:   append([]string(nil), q.Options[:]...),
		TimeLimit: q.TimeLimit,
	}
}

func NewStandings(s []domain.Standing) []Standing {
	out := make([]Standing, 0, len(s))
	for _, st := range s {
		out = append(out, Standing{Name: st.Name, Correct: st.Correct})
	}
	return out
}

func DomainStandings(s []Standing) []domain.Standing {
	out := make([]domain.Standing, 0, len(s))
	for _, st := range s {
		out = append(out, domain.Standing{Name: st.Name, Correct: st.Correct})
	}
	return out
}
