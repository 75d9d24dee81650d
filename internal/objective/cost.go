package objective

import (
	"fmt"
	"math"
)

// Model maps one observation point and a parameter vector to a prediction.
type Model func(x float64, p []float64) float64

// Loss selects how least-squares residuals are accumulated.
type Loss int

const (
	// LinearLoss sums plain squared pulls (standard chi-square).
	LinearLoss Loss = iota
	// SoftL1Loss applies the soft-L1 robust loss 2*(sqrt(1+z^2)-1),
	// which damps the influence of outliers.
	SoftL1Loss
)

// LeastSquares builds a chi-square cost function for fitting model to the
// observations (x, y) with uncertainties yerr. Its natural errordef is
// LeastSquaresUp.
func LeastSquares(x, y, yerr []float64, model Model, loss Loss) (Func, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("least squares: no data points")
	}
	if len(y) != len(x) || len(yerr) != len(x) {
		return nil, fmt.Errorf("least squares: x, y, yerr lengths differ (%d, %d, %d)", len(x), len(y), len(yerr))
	}
	for i, e := range yerr {
		if e <= 0 {
			return nil, fmt.Errorf("least squares: yerr[%d] = %g must be positive", i, e)
		}
	}
	if loss != LinearLoss && loss != SoftL1Loss {
		return nil, fmt.Errorf("least squares: unknown loss %d", loss)
	}

	return func(p []float64) float64 {
		var sum float64
		for i := range x {
			z := (y[i] - model(x[i], p)) / yerr[i]
			z2 := z * z
			if loss == SoftL1Loss {
				sum += 2 * (math.Sqrt(1+z2) - 1)
			} else {
				sum += z2
			}
		}
		return sum
	}, nil
}

// UnbinnedNLL builds a negative log-likelihood cost for the given sample and
// probability density. Its natural errordef is LikelihoodUp.
func UnbinnedNLL(sample []float64, pdf Model) (Func, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("unbinned nll: no data points")
	}
	return func(p []float64) float64 {
		var sum float64
		for _, xi := range sample {
			sum -= safeLog(pdf(xi, p))
		}
		return sum
	}, nil
}

// safeLog avoids returning NaN for a density that underflows to zero.
func safeLog(v float64) float64 {
	const logGuard = 1e-323
	return math.Log(v + logGuard)
}

// Polynomial returns a model evaluating a polynomial of the given degree;
// p[0] is the constant term. Coefficients beyond len(p) are treated as zero.
func Polynomial(degree int) Model {
	return func(x float64, p []float64) float64 {
		var y float64
		for k := degree; k >= 0; k-- {
			y *= x
			if k < len(p) {
				y += p[k]
			}
		}
		return y
	}
}
