package cat

import (
	"math"
	"math/rand"
)

// DifferentialEvolution minimizes a scalar function over a closed interval
// with the best/1/bin scheme. In one dimension binomial crossover always keeps
// the mutant, so only the mutation step is configurable.
type DifferentialEvolution struct {
	// PopulationSize is the number of candidates per generation.
	PopulationSize int
	// MaxGenerations caps the work done by a single Minimize call.
	MaxGenerations int
	// MutationMin and MutationMax bound the dithered differential weight.
	MutationMin float64
	MutationMax float64
	// Tolerance is the relative spread of population energies that counts
	// as converged.
	Tolerance float64
}

// DefaultDifferentialEvolution uses the common textbook settings with a
// tighter generation budget so a single estimate stays in the low milliseconds.
func DefaultDifferentialEvolution() DifferentialEvolution {
	return DifferentialEvolution{
		PopulationSize: 15,
		MaxGenerations: 200,
		MutationMin:    0.5,
		MutationMax:    1.0,
		Tolerance:      0.01,
	}
}

// OptimizeResult is the best candidate found by Minimize.
type OptimizeResult struct {
	X           float64
	Value       float64
	Generations int
	Converged   bool
}

func (de DifferentialEvolution) withDefaults() DifferentialEvolution {
	def := DefaultDifferentialEvolution()
	if de.PopulationSize < 4 {
		de.PopulationSize = def.PopulationSize
	}
	if de.MaxGenerations <= 0 {
		de.MaxGenerations = def.MaxGenerations
	}
	if de.MutationMax <= 0 || de.MutationMin <= 0 || de.MutationMin > de.MutationMax {
		de.MutationMin, de.MutationMax = def.MutationMin, def.MutationMax
	}
	if de.Tolerance <= 0 {
		de.Tolerance = def.Tolerance
	}
	return de
}

// Minimize searches [lo, hi] for the minimum of f. It always returns the best
// candidate seen; Converged is false when the generation budget ran out first.
func (de DifferentialEvolution) Minimize(f func(float64) float64, lo, hi float64, rng *rand.Rand) OptimizeResult {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi-lo <= 0 {
		return OptimizeResult{X: lo, Value: f(lo), Converged: true}
	}
	de = de.withDefaults()
	n := de.PopulationSize
	width := hi - lo

	// Latin hypercube initialisation: one candidate per stratum.
	pop := make([]float64, n)
	energy := make([]float64, n)
	for i, s := range rng.Perm(n) {
		pop[i] = lo + (float64(s)+rng.Float64())*width/float64(n)
		energy[i] = f(pop[i])
	}
	best := argmin(energy)

	res := OptimizeResult{}
	for gen := 1; gen <= de.MaxGenerations; gen++ {
		res.Generations = gen
		weight := de.MutationMin + rng.Float64()*(de.MutationMax-de.MutationMin)
		for i := 0; i < n; i++ {
			r1, r2 := pickTwo(rng, n, i)
			trial := pop[best] + weight*(pop[r1]-pop[r2])
			if trial < lo || trial > hi {
				trial = lo + rng.Float64()*width
			}
			e := f(trial)
			if e <= energy[i] {
				pop[i], energy[i] = trial, e
				if e <= energy[best] {
					best = i
				}
			}
		}
		if converged(energy, de.Tolerance) {
			res.Converged = true
			break
		}
	}
	res.X, res.Value = polish(f, pop, pop[best], energy[best], lo, hi)
	return res
}

// polish refines the best candidate with a golden-section search over the
// final population's spread. The refined point is kept only if it is better.
func polish(f func(float64) float64, pop []float64, x, fx, lo, hi float64) (float64, float64) {
	a, b := pop[0], pop[0]
	for _, p := range pop {
		a = math.Min(a, p)
		b = math.Max(b, p)
	}
	a, b = math.Max(lo, math.Min(a, x)), math.Min(hi, math.Max(b, x))
	if b-a <= 0 {
		return x, fx
	}
	const invPhi = 0.6180339887498949
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < 60 && b-a > 1e-9; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	m := (a + b) / 2
	if fm := f(m); fm < fx {
		return m, fm
	}
	return x, fx
}

func argmin(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x < xs[best] {
			best = i
		}
	}
	return best
}

// pickTwo draws two distinct indices that also differ from skip.
func pickTwo(rng *rand.Rand, n, skip int) (int, int) {
	a := rng.Intn(n - 1)
	if a >= skip {
		a++
	}
	b := rng.Intn(n - 2)
	for _, taken := range sortedPair(a, skip) {
		if b >= taken {
			b++
		}
	}
	return a, b
}

func sortedPair(x, y int) [2]int {
	if x < y {
		return [2]int{x, y}
	}
	return [2]int{y, x}
}

func converged(energy []float64, tol float64) bool {
	var mean float64
	for _, e := range energy {
		mean += e
	}
	mean /= float64(len(energy))
	var variance float64
	for _, e := range energy {
		variance += (e - mean) * (e - mean)
	}
	std := math.Sqrt(variance / float64(len(energy)))
	return std <= tol*math.Abs(mean)
}
