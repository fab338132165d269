package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
)

// HealthService is the gRPC health service name reporting whether the room accepts play.
const HealthService = "livequiz.Room"

// Room is the part of the hosted room the admin API drives.
type Room interface {
	Code() string
	Quiz() *domain.Quiz
	Phase() domain.Phase
	QuestionNumber() int
	Standings() []domain.Standing
	StartGame() error
	NextQuestion() error
	ShowResults() error
}

type Leaderboard interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	HTTP     gin.IRouter
	GRPC     *grpc.Server
	EventBus *event.Bus
	Room     Room
	// Leaderboard and Redis are optional.
	Leaderboard  Leaderboard
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	room   Room
	ls     Leaderboard
	health *health.Server

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		room:   c.Room,
		ls:     c.Leaderboard,
		health: health.NewServer(),
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// gRPC APIs
	if c.GRPC != nil {
		healthpb.RegisterHealthServer(c.GRPC, a.health)
	}
	a.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	// HTTP APIs
	if c.HTTP != nil {
		a.routes(c.HTTP)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameResultsPublished, func(ctx context.Context, e event.Event) error {
		a.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		return nil
	})
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

// Shutdown marks every health service as not serving.
func (a *API) Shutdown() {
	a.health.Shutdown()
}

func (a *API) routes(r gin.IRouter) {
	r.GET("/healthz", a.healthz)
	r.GET("/room", a.getRoom)
	r.GET("/standings", a.getStandings)
	if a.ls != nil {
		r.GET("/leaderboard", a.getLeaderboard)
	}
	r.POST("/room/start", a.control(a.room.StartGame))
	r.POST("/room/next", a.control(a.room.NextQuestion))
	r.POST("/room/results", a.control(a.room.ShowResults))
}

type (
	RoomResponse struct {
		Code           string `json:"code"`
		Quiz           string `json:"quiz"`
		Phase          string `json:"phase"`
		QuestionNumber int    `json:"question_number"`
		TotalQuestions int    `json:"total_questions"`
		Players        int    `json:"players"`
	}

	Standing struct {
		Name    string `json:"name"`
		Correct int    `json:"correct"`
	}

	StandingsResponse struct {
		RoomCode  string     `json:"room_code"`
		Standings []Standing `json:"standings"`
	}
)

func (a *API) healthz(c *gin.Context) {
	resp, err := a.health.Check(c, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		abort(c, err)
		return
	}
	code := http.StatusOK
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": resp.GetStatus().String()})
}

func (a *API) getRoom(c *gin.Context) {
	c.JSON(http.StatusOK, a.roomResponse())
}

func (a *API) roomResponse() RoomResponse {
	q := a.room.Quiz()
	return RoomResponse{
		Code:           a.room.Code(),
		Quiz:           q.Name,
		Phase:          string(a.room.Phase()),
		QuestionNumber: a.room.QuestionNumber(),
		TotalQuestions: q.Len(),
		Players:        len(a.room.Standings()),
	}
}

func (a *API) getStandings(c *gin.Context) {
	c.JSON(http.StatusOK, StandingsResponse{
		RoomCode:  a.room.Code(),
		Standings: toStandings(a.room.Standings()),
	})
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c, leaderboard.GetLeaderboardRequest{RoomCode: a.room.Code()})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, StandingsResponse{
		RoomCode:  l.RoomCode,
		Standings: toStandings(l.Entries),
	})
}

func (a *API) control(op func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, a.roomResponse())
	}
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func toStandings(s []domain.Standing) []Standing {
	out := make([]Standing, 0, len(s))
	for _, st := range s {
		out = append(out, Standing{Name: st.Name, Correct: st.Correct})
	}
	return out
}
