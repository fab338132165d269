package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/answerlog"
	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/history"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/room"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Config of a hosted room and its optional infrastructure. A zero port, an empty Redis address
// list or an empty Postgres address disables that part.
type Config struct {
	Room struct {
		Code     string
		Addr     string
		QuizFile string

		KeepAliveInterval time.Duration
		LivenessTimeout   time.Duration
		HandshakeTimeout  time.Duration
		WriteTimeout      time.Duration
		RevealDelay       time.Duration
	}

	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	AnswerLog struct {
		Enabled bool
		Dir     string
	}

	Log telemetry.LogConfig
}

type Server struct {
	c Config

	eb   *event.Bus
	room *room.Room

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		leaderboard *leaderboard.Service
		history     *history.Service
		answerlog   *answerlog.Logger
	}

	api     *api.API
	metrics *prometheus.Registry
	http    *http.Server
	grpc    *grpc.Server
	serving errgroup.Group
}

// Init wires a room serving quiz together with whatever infrastructure c enables. On failure
// everything opened so far is released.
func Init(c Config, quiz *domain.Quiz) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	r, err := room.New(room.Config{
		Code:              c.Room.Code,
		Quiz:              quiz,
		Addr:              c.Room.Addr,
		KeepAliveInterval: c.Room.KeepAliveInterval,
		LivenessTimeout:   c.Room.LivenessTimeout,
		HandshakeTimeout:  c.Room.HandshakeTimeout,
		WriteTimeout:      c.Room.WriteTimeout,
		RevealDelay:       c.Room.RevealDelay,
		EventBus:          s.eb,
	})
	if err != nil {
		s.eb.Stop()
		return nil, fmt.Errorf("server: init room: %w", err)
	}
	s.room = r

	if err := s.initTelemetry(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init telemetry: %w", err)
	}

	if err := s.initInfra(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) Room() *room.Room { return s.room }

func (s *Server) EventBus() *event.Bus { return s.eb }

func (s *Server) initTelemetry() error {
	s.metrics = prometheus.NewRegistry()
	s.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := telemetry.NewMetrics(s.metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	m.Observe(s.eb)

	return nil
}

func (s *Server) initInfra() error {
	if len(s.c.Redis.Addrs) > 0 {
		if err := s.initRedis(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	if s.c.Postgres.Addr != "" {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})
	s.infra.redis = r

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	return r.Ping(ctx).Err()
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}
	s.infra.postgres = db

	return db.Ping(ctx)
}

func (s *Server) initService() error {
	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}

	if s.infra.postgres != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.service.history = history.NewService(history.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres,
		})
		if err := s.service.history.Migrate(ctx); err != nil {
			return err
		}
	}

	if s.c.AnswerLog.Enabled {
		l, err := answerlog.New(answerlog.Config{
			EventBus: s.eb,
			RoomCode: s.c.Room.Code,
			Dir:      s.c.AnswerLog.Dir,
		})
		if err != nil {
			return err
		}
		s.service.answerlog = l
	}

	return nil
}

func (s *Server) initAPI() {
	c := api.Config{
		EventBus:     s.eb,
		Room:         s.room,
		PubsubPrefix: s.c.Redis.Prefix,
	}
	if s.service.leaderboard != nil {
		c.Leaderboard = s.service.leaderboard
	}
	if s.infra.redis != nil {
		c.Redis = s.infra.redis
	}

	if s.c.HTTP.Port > 0 {
		e := gin.New()
		e.Use(gin.Recovery())
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
		pprof.Register(e, "/debug/pprof")
		c.HTTP = e

		s.http = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
			Handler:           e,
			ReadHeaderTimeout: 60 * time.Second,
		}
	}

	if s.c.GRPC.Port > 0 {
		s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
		c.GRPC = s.grpc
	}

	s.api = api.New(c)
}

// Start opens the room and the admin listeners, then serves them in the background. Serving
// errors are logged.
func (s *Server) Start(ctx context.Context) error {
	if err := s.room.Start(ctx); err != nil {
		return err
	}

	if s.grpc != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
		if err != nil {
			return fmt.Errorf("server: grpc listen: %w", err)
		}

		s.serving.Go(func() error {
			slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
			return s.grpc.Serve(lis)
		})
	}

	if s.http != nil {
		lis, err := net.Listen("tcp", s.http.Addr)
		if err != nil {
			return fmt.Errorf("server: http listen: %w", err)
		}

		s.serving.Go(func() error {
			slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	return nil
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.room.Stop()
	s.api.Shutdown()

	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
		}
	}
	if err := s.serving.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: serve failed", "error", err)
	}

	s.release()

	slog.InfoContext(ctx, "server: shutdown completed")
}

// release stops the event bus and closes the answer log and infrastructure connections.
func (s *Server) release() {
	s.eb.Stop()

	if s.service.answerlog != nil {
		if err := s.service.answerlog.Close(); err != nil {
			slog.Error("server: close answer log failed", "error", err)
		}
	}
	s.closeInfra()
}

func (s *Server) closeInfra() {
	if s.infra.redis != nil {
		_ = s.infra.redis.Close()
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
}
