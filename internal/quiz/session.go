package quiz

import (
	"errors"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/irt"
)

var (
	ErrSessionNotFound = errors.New("quiz not found")
	ErrExamFinished    = errors.New("quiz already finished")
	ErrResultNotReady  = errors.New("quiz has not been finished yet")
	ErrInvalidResponse = errors.New("invalid response value")
	ErrEmptyItemBank   = errors.New("quiz has no questions")
	ErrInvalidConfig   = errors.New("invalid quiz configuration")
	ErrInvalidQuestion = errors.New("invalid question")
)

// Config is fixed when a session is created.
type Config struct {
	MaxNumberOfQuestions   int
	MinMeasurementAccuracy float64
	// InputProficiency seeds the ability estimate; cat.RandomProficiency
	// asks for a random start.
	InputProficiency float64
	Selector         cat.SelectorKind
	Estimator        cat.EstimatorKind
}

// Session is a snapshot of one quiz. Administered holds bank indices in
// delivery order; Responses is parallel to it and may lag by the one item
// that is still awaiting an answer.
type Session struct {
	ID            string
	Config        Config
	Bank          []irt.Item
	Theta         float64
	StandardError float64
	Administered  []int
	Responses     []float64
	Finished      bool

	// Bounds of the differential-evolution search, taken from the bank at
	// creation.
	MinDifficulty float64
	MaxDifficulty float64
	// Seed of the estimator RNG; see cat.DifferentialEvolutionEstimator.
	Seed int64
}

// Pending reports whether the last delivered item still awaits a response.
func (s *Session) Pending() bool {
	return len(s.Administered) > len(s.Responses)
}

// AdministeredItems returns the delivered items in order.
func (s *Session) AdministeredItems() []irt.Item {
	items := make([]irt.Item, len(s.Administered))
	for i, idx := range s.Administered {
		items[i] = s.Bank[idx]
	}
	return items
}

// NextQuestion is what a next-item request returns. Item is nil once the
// quiz is finished.
type NextQuestion struct {
	SessionID     string
	Item          *irt.Item
	Index         int
	Theta         float64
	StandardError float64
	Finished      bool
	StopReason    cat.StopReason
}
