package cat

import "math/rand"

// RandomProficiency is the input proficiency that asks for a random start.
const RandomProficiency = 99.9

// Initializer seeds the ability estimate of a new session.
type Initializer interface {
	Initialize() float64
}

// RandomInitializer draws uniformly from [Low, High].
type RandomInitializer struct {
	Low  float64
	High float64
	Rand *rand.Rand
}

func (r RandomInitializer) Initialize() float64 {
	return r.Low + r.Rand.Float64()*(r.High-r.Low)
}

// FixedPointInitializer returns Theta unchanged.
type FixedPointInitializer struct {
	Theta float64
}

func (f FixedPointInitializer) Initialize() float64 {
	return f.Theta
}

// NewInitializer returns a random initializer on [-5, 5] for the sentinel
// input and a fixed point otherwise.
func NewInitializer(input float64, rng *rand.Rand) Initializer {
	if input == RandomProficiency {
		return RandomInitializer{Low: -5, High: 5, Rand: rng}
	}
	return FixedPointInitializer{Theta: input}
}
