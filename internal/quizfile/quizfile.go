package quizfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/victornm/livequiz/internal/domain"
)

// DefaultTimeLimit applies to questions that don't set time_limit.
const DefaultTimeLimit = 30

type (
	file struct {
		Name      string     `yaml:"name"`
		Questions []question `yaml:"questions"`
	}

	question struct {
		Text    string   `yaml:"text"`
		Options []string `yaml:"options"`
		Answer  int      `yaml:"answer"`
		// TimeLimit in seconds.
		TimeLimit int `yaml:"time_limit"`
	}
)

// Load reads and validates a quiz from a YAML file.
func Load(path string) (*domain.Quiz, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quizfile: read %s: %w", path, err)
	}

	q, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("quizfile: %s: %w", path, err)
	}

	return q, nil
}

// Parse decodes a quiz document. Unknown keys are rejected.
func Parse(r io.Reader) (*domain.Quiz, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	q := &domain.Quiz{
		Name:      f.Name,
		Questions: make([]domain.Question, 0, len(f.Questions)),
	}

	for i, fq := range f.Questions {
		if len(fq.Options) != domain.OptionCount {
			return nil, fmt.Errorf("question %d: want %d options, got %d", i+1, domain.OptionCount, len(fq.Options))
		}

		dq := domain.Question{
			Text:          fq.Text,
			CorrectAnswer: fq.Answer,
			TimeLimit:     fq.TimeLimit,
		}
		if dq.TimeLimit == 0 {
			dq.TimeLimit = DefaultTimeLimit
		}
		copy(dq.Options[:], fq.Options)

		q.Questions = append(q.Questions, dq)
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	return q, nil
}
