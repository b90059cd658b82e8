package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quiz-attempt-service/internal/domain"
)

type seedFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
}

// LoadSeedFile reads quizzes from a YAML document of the form
// `quizzes: [...]` and indexes them by ID.
func LoadSeedFile(path string) (map[string]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (map[string]domain.Quiz, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse quiz seed: %w", err)
	}
	quizzes := make(map[string]domain.Quiz, len(seed.Quizzes))
	for _, quiz := range seed.Quizzes {
		if quiz.ID == "" {
			return nil, fmt.Errorf("%w: seed quiz without id", domain.ErrInvalidQuestion)
		}
		if _, dup := quizzes[quiz.ID]; dup {
			return nil, fmt.Errorf("%w: seed repeats quiz %s", domain.ErrInvalidQuestion, quiz.ID)
		}
		if err := normalizeQuiz(quiz).Validate(); err != nil {
			return nil, err
		}
		quizzes[quiz.ID] = quiz
	}
	return quizzes, nil
}
