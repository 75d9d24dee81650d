package minimize

import "math"

// machine precision derived constants for finite differencing
var (
	epsMach = math.Nextafter(1, 2) - 1
	epsStep = math.Sqrt(epsMach)
)

// gradientEstimator computes central-difference gradients and diagonal
// second derivatives in internal coordinates. Step sizes start from the
// parameter errors and are re-scaled per cycle toward the optimum implied by
// the local curvature, so the finite difference stays above numerical noise
// without leaving the quadratic regime.
type gradientEstimator struct {
	ev      *evaluator
	up      float64
	ncycles int
}

func newGradientEstimator(ev *evaluator, up float64, strategy int) *gradientEstimator {
	ncycles := 3
	switch {
	case strategy <= 0:
		ncycles = 2
	case strategy >= 2:
		ncycles = 5
	}
	return &gradientEstimator{ev: ev, up: up, ncycles: ncycles}
}

// compute estimates gradient g and curvature diagonal g2 at z, where f0 is
// the objective value at z. steps seeds the finite-difference step sizes;
// the steps actually used are returned so callers can reuse them.
func (ge *gradientEstimator) compute(z []float64, f0 float64, steps []float64) (g, g2, gstep []float64, err error) {
	n := len(z)
	g = make([]float64, n)
	g2 = make([]float64, n)
	gstep = make([]float64, n)
	for i := range steps {
		gstep[i] = math.Max(abs(steps[i]), epsStep*(1+abs(z[i])))
	}

	// smallest objective change distinguishable from rounding noise
	dfmin := 8 * epsStep * epsStep * (abs(f0) + ge.up)

	zt := append([]float64(nil), z...)
	for cycle := 0; cycle < ge.ncycles; cycle++ {
		maxChange := 0.0
		for i := 0; i < n; i++ {
			h := gstep[i]

			zt[i] = z[i] + h
			fp, eerr := ge.ev.eval(zt)
			if eerr != nil {
				zt[i] = z[i]
				return nil, nil, nil, eerr
			}
			zt[i] = z[i] - h
			fm, eerr := ge.ev.eval(zt)
			zt[i] = z[i]
			if eerr != nil {
				return nil, nil, nil, eerr
			}

			g[i] = (fp - fm) / (2 * h)
			g2[i] = (fp + fm - 2*f0) / (h * h)

			if g2[i] != 0 && !math.IsNaN(g2[i]) {
				hOpt := math.Sqrt(dfmin / abs(g2[i]))
				hOpt = math.Min(math.Max(hOpt, 0.1*h), 10*h)
				if change := abs(hOpt/h - 1); change > maxChange {
					maxChange = change
				}
				gstep[i] = hOpt
			}
		}
		// steps stable, further cycles would reproduce the same differences
		if maxChange < 0.05 {
			break
		}
	}
	return g, g2, gstep, nil
}
