package cat

import "fmt"

// SelectorKind names a selection strategy. The values match the wire format.
type SelectorKind string

const (
	SelectorMaxInfo SelectorKind = "maxInfoSelector"
	SelectorLinear  SelectorKind = "linearSelector"
)

// EstimatorKind names an estimation strategy. The values match the wire format.
type EstimatorKind string

const (
	EstimatorDifferentialEvolution EstimatorKind = "differentialEvolutionEstimator"
	EstimatorLinear                EstimatorKind = "linearEstimator"
)

func ParseSelectorKind(s string) (SelectorKind, error) {
	switch k := SelectorKind(s); k {
	case SelectorMaxInfo, SelectorLinear:
		return k, nil
	}
	return "", fmt.Errorf("unknown question selector %q", s)
}

func ParseEstimatorKind(s string) (EstimatorKind, error) {
	switch k := EstimatorKind(s); k {
	case EstimatorDifferentialEvolution, EstimatorLinear:
		return k, nil
	}
	return "", fmt.Errorf("unknown competency estimator %q", s)
}

// Selector returns the strategy for the kind.
func (k SelectorKind) Selector() Selector {
	if k == SelectorLinear {
		return LinearSelector{}
	}
	return MaxInfoSelector{}
}

// EstimatorParams carries what the differential-evolution estimator needs.
type EstimatorParams struct {
	Lower     float64
	Upper     float64
	Seed      int64
	Optimizer DifferentialEvolution
}

// Estimator returns the strategy for the kind.
func (k EstimatorKind) Estimator(p EstimatorParams) Estimator {
	if k == EstimatorLinear {
		return LinearEstimator{}
	}
	return DifferentialEvolutionEstimator{
		Lower:     p.Lower,
		Upper:     p.Upper,
		Optimizer: p.Optimizer,
		Seed:      p.Seed,
	}
}
