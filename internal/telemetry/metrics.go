package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const namespace = "livequiz"

// Metrics exports room activity to Prometheus. It is fed entirely from the event bus.
type Metrics struct {
	Players     prometheus.Gauge
	Joins       *prometheus.CounterVec
	Disconnects *prometheus.CounterVec
	Answers     *prometheus.CounterVec
	Questions   prometheus.Counter
	Games       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_connected",
			Help:      "Number of players currently in the room.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Players removed from the room by reason.",
		}, []string{"reason"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Scored answers by correctness.",
		}, []string{"correct"}),
		Questions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Questions started.",
		}),
		Games: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_total",
			Help:      "Games by lifecycle stage.",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{m.Players, m.Joins, m.Disconnects, m.Answers, m.Questions, m.Games} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Observe subscribes the metrics to the room events on eb.
func (m *Metrics) Observe(eb *event.Bus) {
	eb.Subscribe(domain.EventNameRosterChanged, func(_ context.Context, e event.Event) error {
		m.Players.Set(float64(len(e.(domain.EventRosterChanged).Roster)))
		return nil
	})
	eb.Subscribe(domain.EventNamePlayerJoined, func(_ context.Context, _ event.Event) error {
		m.Joins.WithLabelValues("accepted").Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameJoinRejected, func(_ context.Context, e event.Event) error {
		m.Joins.WithLabelValues(e.(domain.EventJoinRejected).Reason).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNamePlayerDisconnected, func(_ context.Context, e event.Event) error {
		m.Disconnects.WithLabelValues(e.(domain.EventPlayerDisconnected).Reason).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameAnswerSubmitted, func(_ context.Context, e event.Event) error {
		m.Answers.WithLabelValues(strconv.FormatBool(e.(domain.EventAnswerSubmitted).Record.IsCorrect())).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameQuestionStarted, func(_ context.Context, _ event.Event) error {
		m.Questions.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameGameStarted, func(_ context.Context, _ event.Event) error {
		m.Games.WithLabelValues("started").Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameResultsPublished, func(_ context.Context, _ event.Event) error {
		m.Games.WithLabelValues("finished").Inc()
		return nil
	})
}
