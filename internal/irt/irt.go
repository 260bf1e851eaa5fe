package irt

import (
	"fmt"
	"math"
)

// Default parameters applied when an item omits them.
const (
	DefaultDiscrimination = 1.0
	DefaultPseudoGuessing = 0.0
	DefaultUpperAsymptote = 1.0
)

// probabilityFloor keeps log-likelihood terms finite when P saturates.
const probabilityFloor = 1e-12

// Item is a four-parameter logistic item. ID is the caller's identifier and is
// never interpreted.
type Item struct {
	ID             string  `json:"id"`
	Discrimination float64 `json:"discrimination"`
	Difficulty     float64 `json:"difficulty"`
	PseudoGuessing float64 `json:"pseudoGuessing"`
	UpperAsymptote float64 `json:"upperAsymptote"`
}

// NewItem returns an item with the default a, c and d parameters.
func NewItem(id string, difficulty float64) Item {
	return Item{
		ID:             id,
		Discrimination: DefaultDiscrimination,
		Difficulty:     difficulty,
		PseudoGuessing: DefaultPseudoGuessing,
		UpperAsymptote: DefaultUpperAsymptote,
	}
}

// Validate checks the parameter ranges: c in [0,1], d in [c,1], all finite.
func (it Item) Validate() error {
	params := []struct {
		name string
		v    float64
	}{
		{"discrimination", it.Discrimination},
		{"difficulty", it.Difficulty},
		{"pseudoGuessing", it.PseudoGuessing},
		{"upperAsymptote", it.UpperAsymptote},
	}
	for _, p := range params {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return fmt.Errorf("item %q: %s must be finite", it.ID, p.name)
		}
	}
	if it.PseudoGuessing < 0 || it.PseudoGuessing > 1 {
		return fmt.Errorf("item %q: pseudoGuessing must be within [0, 1]", it.ID)
	}
	if it.UpperAsymptote < it.PseudoGuessing || it.UpperAsymptote > 1 {
		return fmt.Errorf("item %q: upperAsymptote must be within [pseudoGuessing, 1]", it.ID)
	}
	return nil
}

// Probability returns P(theta) = c + (d-c) / (1 + exp(-a(theta-b))).
func Probability(theta float64, it Item) float64 {
	x := -it.Discrimination * (theta - it.Difficulty)
	return it.PseudoGuessing + (it.UpperAsymptote-it.PseudoGuessing)/(1.0+math.Exp(x))
}

// Information returns the Fisher information of the item at theta. It is 0
// when P saturates at 0 or 1, or when the item has no range (c == d).
func Information(theta float64, it Item) float64 {
	p := Probability(theta, it)
	if p <= 0 || p >= 1 {
		return 0
	}
	span := it.UpperAsymptote - it.PseudoGuessing
	if span <= 0 {
		return 0
	}
	a := it.Discrimination
	num := a * a * (p - it.PseudoGuessing) * (p - it.PseudoGuessing) * (it.UpperAsymptote - p) * (it.UpperAsymptote - p)
	den := span * span * p * (1 - p)
	return num / den
}

// TotalInformation sums the item information of the selected bank indices.
func TotalInformation(theta float64, bank []Item, indices []int) float64 {
	var total float64
	for _, i := range indices {
		total += Information(theta, bank[i])
	}
	return total
}

// StandardError returns 1/sqrt(total information) over the selected indices.
// It is +Inf when no item is selected or the information is zero, which means
// the ability is not measurable yet.
func StandardError(theta float64, bank []Item, indices []int) float64 {
	info := TotalInformation(theta, bank, indices)
	if info <= 0 {
		return math.Inf(1)
	}
	return 1.0 / math.Sqrt(info)
}

// Measurable reports whether se is a real accuracy rather than the
// not-yet-measurable marker.
func Measurable(se float64) bool {
	return !math.IsInf(se, 0) && !math.IsNaN(se)
}

// LogLikelihood returns sum r*ln P + (1-r)*ln(1-P) over the answered items.
// responses[k] belongs to bank[indices[k]]; only len(responses) items count.
func LogLikelihood(theta float64, bank []Item, indices []int, responses []float64) float64 {
	var ll float64
	for k, r := range responses {
		p := Probability(theta, bank[indices[k]])
		p = math.Min(math.Max(p, probabilityFloor), 1-probabilityFloor)
		ll += r*math.Log(p) + (1-r)*math.Log(1-p)
	}
	return ll
}

// DifficultyRange returns the smallest and largest difficulty in the bank.
func DifficultyRange(bank []Item) (lo, hi float64) {
	if len(bank) == 0 {
		return 0, 0
	}
	lo, hi = bank[0].Difficulty, bank[0].Difficulty
	for _, it := range bank[1:] {
		lo = math.Min(lo, it.Difficulty)
		hi = math.Max(hi, it.Difficulty)
	}
	return lo, hi
}
