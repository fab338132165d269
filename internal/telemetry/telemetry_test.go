package telemetry_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	eb := event.NewBus()
	m.Observe(eb)

	ctx := context.Background()
	eb.Publish(ctx, domain.EventPlayerJoined{RoomCode: "R1", PlayerName: "Alice"})
	eb.Publish(ctx, domain.EventPlayerJoined{RoomCode: "R1", PlayerName: "Bob"})
	eb.Publish(ctx, domain.EventJoinRejected{RoomCode: "R1", PlayerName: "Bob", Reason: "Name already taken"})
	eb.Publish(ctx, domain.EventRosterChanged{RoomCode: "R1", Roster: []domain.Standing{{Name: "Alice"}, {Name: "Bob"}}})
	eb.Publish(ctx, domain.EventGameStarted{RoomCode: "R1"})
	eb.Publish(ctx, domain.EventQuestionStarted{RoomCode: "R1", Number: 1})
	eb.Publish(ctx, domain.EventAnswerSubmitted{Record: domain.AnswerRecord{Answer: 1, CorrectAnswer: 1}})
	eb.Publish(ctx, domain.EventAnswerSubmitted{Record: domain.AnswerRecord{Answer: 2, CorrectAnswer: 1}})
	eb.Publish(ctx, domain.EventPlayerDisconnected{RoomCode: "R1", PlayerName: "Bob", Reason: domain.DisconnectLeft})
	eb.Publish(ctx, domain.EventRosterChanged{RoomCode: "R1", Roster: []domain.Standing{{Name: "Alice"}}})
	eb.Publish(ctx, domain.EventResultsPublished{RoomCode: "R1"})
	eb.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Players))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Joins.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Joins.WithLabelValues("Name already taken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues(domain.DisconnectLeft)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Answers.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Answers.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Questions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Games.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Games.WithLabelValues("finished")))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	_, err = telemetry.NewMetrics(reg)
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := map[string]struct {
		c      telemetry.LogConfig
		assert func(t *testing.T, err error, out string)
	}{
		"json at warn drops info": {
			c: telemetry.LogConfig{Level: "warn", Format: "json"},
			assert: func(t *testing.T, err error, out string) {
				require.NoError(t, err)
				assert.NotContains(t, out, "hidden")
				assert.Contains(t, out, `"msg":"shown"`)
			},
		},
		"text at debug": {
			c: telemetry.LogConfig{Level: "debug"},
			assert: func(t *testing.T, err error, out string) {
				require.NoError(t, err)
				assert.Contains(t, out, "msg=hidden")
				assert.Contains(t, out, "msg=shown")
			},
		},
		"unknown level": {
			c: telemetry.LogConfig{Level: "loud"},
			assert: func(t *testing.T, err error, _ string) {
				assert.Error(t, err)
			},
		},
		"unknown format": {
			c: telemetry.LogConfig{Level: "info", Format: "xml"},
			assert: func(t *testing.T, err error, _ string) {
				assert.Error(t, err)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := telemetry.SetupLogger(&buf, tc.c)
			if err == nil {
				slog.Info("hidden")
				slog.Warn("shown")
			}
			tc.assert(t, err, buf.String())
		})
	}
}
