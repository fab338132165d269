package domain

const (
	EventNamePlayerJoined       = "player.joined"
	EventNameJoinRejected       = "join.rejected"
	EventNameRosterChanged      = "roster.changed"
	EventNameGameStarted        = "game.started"
	EventNameQuestionStarted    = "question.started"
	EventNameTimerTicked        = "timer.ticked"
	EventNameTimeUp             = "time.up"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameStandingsUpdated   = "standings.updated"
	EventNameResultsPublished   = "results.published"
	EventNamePlayerDisconnected = "player.disconnected"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventPlayerJoined struct {
	RoomCode   string
	PlayerName string
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventJoinRejected struct {
	RoomCode   string
	PlayerName string
	Reason     string
}

func (EventJoinRejected) Name() string { return EventNameJoinRejected }

// EventRosterChanged is published whenever a player joins or leaves. Roster is ranked.
type EventRosterChanged struct {
	RoomCode string
	Roster   []Standing
}

func (EventRosterChanged) Name() string { return EventNameRosterChanged }

type EventGameStarted struct {
	RoomCode string
	QuizName string
	Total    int
	Players  []string
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventQuestionStarted struct {
	RoomCode string
	Question Question
	Number   int
	Total    int
}

func (EventQuestionStarted) Name() string { return EventNameQuestionStarted }

type EventTimerTicked struct {
	RoomCode  string
	Number    int
	Remaining int
}

func (EventTimerTicked) Name() string { return EventNameTimerTicked }

type EventTimeUp struct {
	RoomCode      string
	Number        int
	CorrectAnswer int
}

func (EventTimeUp) Name() string { return EventNameTimeUp }

type EventAnswerSubmitted struct {
	Record AnswerRecord
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventStandingsUpdated struct {
	RoomCode  string
	Standings []Standing
}

func (EventStandingsUpdated) Name() string { return EventNameStandingsUpdated }

type EventResultsPublished struct {
	RoomCode  string
	Standings []Standing
}

func (EventResultsPublished) Name() string { return EventNameResultsPublished }

type EventPlayerDisconnected struct {
	RoomCode   string
	PlayerName string
	Reason     string
}

func (EventPlayerDisconnected) Name() string { return EventNamePlayerDisconnected }

// EventLeaderboardUpdated is published by the leaderboard mirror after a throttled refresh.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

// Leaderboard is the mirrored standings of a room. Entries are ranked.
type Leaderboard struct {
	RoomCode string
	Entries  []Standing
}
