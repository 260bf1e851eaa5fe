package cat

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/lsat-prep/cat/internal/irt"
)

var (
	// ErrNoResponses is returned when an estimate is requested before any
	// item has been answered.
	ErrNoResponses = errors.New("no responses to estimate from")
	// ErrLengthMismatch is returned when there are more responses than
	// administered items.
	ErrLengthMismatch = errors.New("more responses than administered items")
)

// Estimate is the outcome of one proficiency estimation.
type Estimate struct {
	Theta float64
	// Converged is false when the estimator ran out of budget and Theta is
	// the best candidate found so far.
	Converged   bool
	Generations int
}

// Estimator maps a response history to an ability estimate.
type Estimator interface {
	Estimate(bank []irt.Item, administered []int, responses []float64, prior float64) (Estimate, error)
}

func checkHistory(administered []int, responses []float64) error {
	if len(responses) == 0 {
		return ErrNoResponses
	}
	if len(responses) > len(administered) {
		return fmt.Errorf("%d responses for %d items: %w", len(responses), len(administered), ErrLengthMismatch)
	}
	return nil
}

// DifferentialEvolutionEstimator maximizes the log-likelihood of the answered
// items within [Lower, Upper].
type DifferentialEvolutionEstimator struct {
	Lower     float64
	Upper     float64
	Optimizer DifferentialEvolution
	// Seed makes estimates reproducible: the RNG for each call is derived
	// from Seed and the number of responses.
	Seed int64
}

func (e DifferentialEvolutionEstimator) Estimate(bank []irt.Item, administered []int, responses []float64, prior float64) (Estimate, error) {
	if err := checkHistory(administered, responses); err != nil {
		return Estimate{Theta: prior}, err
	}
	rng := rand.New(rand.NewSource(e.Seed + int64(len(responses))*7919))
	negLL := func(theta float64) float64 {
		return -irt.LogLikelihood(theta, bank, administered, responses)
	}
	res := e.Optimizer.Minimize(negLL, e.Lower, e.Upper, rng)
	return Estimate{Theta: res.X, Converged: res.Converged, Generations: res.Generations}, nil
}

// LinearEstimator scores a fixed-order quiz as
// sum(difficulty * response) / sum(difficulty) over the answered items.
//
// The weights are the item difficulties, not 1, so this is not the plain
// share of correct answers. The formula is kept as the quiz service has
// always reported it.
type LinearEstimator struct{}

func (LinearEstimator) Estimate(bank []irt.Item, administered []int, responses []float64, prior float64) (Estimate, error) {
	if err := checkHistory(administered, responses); err != nil {
		return Estimate{Theta: prior}, err
	}
	return Estimate{Theta: LinearScore(bank, administered, responses), Converged: true}, nil
}

// LinearScore computes the difficulty-weighted score. A zero difficulty sum
// scores 0.
func LinearScore(bank []irt.Item, administered []int, responses []float64) float64 {
	var achievable, achieved float64
	for k, r := range responses {
		b := bank[administered[k]].Difficulty
		achievable += b
		achieved += b * r
	}
	if achievable == 0 {
		return 0
	}
	return achieved / achievable
}
