package minimize

import "math"

const (
	lineSearchMaxIter = 12
	lineSearchMaxLam  = 1000.0
)

// lineSearch minimizes the objective along direction d starting from z,
// where f0 is the value at z and gdel = g'd is the (negative) directional
// derivative. It fits successive parabolas through the sampled points, the
// usual variable-metric companion search. Returns the best step length and
// value found; lam == 0 means no point along the line improved on f0.
func lineSearch(ev *evaluator, z, d []float64, f0, gdel float64) (lam, fval float64, err error) {
	n := len(z)
	zt := make([]float64, n)
	evalAt := func(l float64) (float64, error) {
		for i := 0; i < n; i++ {
			zt[i] = z[i] + l*d[i]
		}
		return ev.eval(zt)
	}

	bestLam, bestF := 0.0, f0
	l := 1.0
	fPrev := f0
	for iter := 0; iter < lineSearchMaxIter; iter++ {
		f1, eerr := evalAt(l)
		if eerr != nil {
			return 0, f0, eerr
		}
		if f1 < bestF {
			bestLam, bestF = l, f1
		}

		// parabola through (0, f0) with slope gdel and (l, f1)
		c := (f1 - f0 - gdel*l) / (l * l)
		var next float64
		if c > 0 {
			next = -gdel / (2 * c)
		} else {
			// still heading downhill, extend the step
			next = 2 * l
		}
		next = math.Min(math.Max(next, 0.1*l), 10*l)
		if next > lineSearchMaxLam {
			next = lineSearchMaxLam
		}

		// parabola apex agrees with the last sample: nothing left to gain
		if abs(next-l) < 0.05*l || abs(f1-fPrev) < 1e-3*(abs(f1)+abs(gdel)) && iter > 0 {
			break
		}
		fPrev = f1
		l = next
	}
	return bestLam, bestF, nil
}
