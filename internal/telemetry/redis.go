package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments r with tracing, metrics and debug logging of every command.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{l: slog.Default().With("component", "redis")})
	return nil
}

type redisLog struct {
	l *slog.Logger
}

func (h redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := hook(ctx, network, addr)
		h.done(ctx, "redis dial", err, "network", network, "addr", addr, "elapsed", time.Since(start))
		return conn, err
	}
}

func (h redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		h.done(ctx, "redis command", err, "cmd", cmd.Name(), "elapsed", time.Since(start))
		return err
	}
}

func (h redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		h.done(ctx, "redis pipeline", err, "cmds", len(cmds), "elapsed", time.Since(start))
		return err
	}
}

func (h redisLog) done(ctx context.Context, msg string, err error, args ...any) {
	// redis.Nil is a cache miss, not a failure.
	if err != nil && err != redis.Nil {
		h.l.WarnContext(ctx, msg+" failed", append(args, "error", err)...)
		return
	}
	h.l.DebugContext(ctx, msg, args...)
}
