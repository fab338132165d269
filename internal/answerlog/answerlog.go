package answerlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const (
	DefaultDir = "logs"

	timestampLayout = "2006-01-02 15:04:05"
	fileTimeLayout  = "20060102_150405"
)

var header = []string{"Timestamp", "PlayerName", "QuestionNumber", "Answer", "CorrectAnswer", "TimeTaken"}

type Config struct {
	EventBus *event.Bus
	RoomCode string
	// Dir receives the CSV file. Empty means DefaultDir.
	Dir   string
	Clock clockwork.Clock
}

// Logger appends every scored answer of a room to a CSV file named after the room and the time
// it was opened.
type Logger struct {
	path string

	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	closed bool
}

func New(c Config) (*Logger, error) {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("answerlog: create dir: %w", err)
	}

	path := filepath.Join(c.Dir, fmt.Sprintf("quiz_%s_%s.csv", c.RoomCode, c.Clock.Now().Format(fileTimeLayout)))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("answerlog: create file: %w", err)
	}

	l := &Logger{path: path, f: f, w: csv.NewWriter(f)}
	if err := l.writeRow(header); err != nil {
		_ = f.Close()
		return nil, err
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameAnswerSubmitted, func(ctx context.Context, e event.Event) error {
			return l.Write(e.(domain.EventAnswerSubmitted).Record)
		})
	}

	slog.Info("answerlog: writing answers", "path", path)
	return l, nil
}

func (l *Logger) Path() string { return l.path }

// Write appends one answer. Answers written after Close are dropped.
func (l *Logger) Write(r domain.AnswerRecord) error {
	return l.writeRow([]string{
		r.Timestamp.Format(timestampLayout),
		r.PlayerName,
		strconv.Itoa(r.QuestionNumber),
		strconv.Itoa(r.Answer),
		strconv.Itoa(r.CorrectAnswer),
		strconv.FormatInt(r.TimeTaken.Milliseconds(), 10),
	})
}

func (l *Logger) writeRow(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("answerlog: write: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("answerlog: flush: %w", err)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("answerlog: flush: %w", err)
	}
	return l.f.Close()
}
