package minimize

import (
	"gonum.org/v1/gonum/mat"
)

// invertSym inverts a symmetric matrix via Cholesky factorization. The
// second return value is false when the matrix is not positive definite.
func invertSym(m *mat.SymDense) (*mat.SymDense, bool) {
	var ch mat.Cholesky
	if !ch.Factorize(m) {
		return nil, false
	}
	var inv mat.SymDense
	if err := ch.InverseTo(&inv); err != nil {
		return nil, false
	}
	return &inv, true
}

// isPosDef reports whether m admits a Cholesky factorization.
func isPosDef(m *mat.SymDense) bool {
	var ch mat.Cholesky
	return ch.Factorize(m)
}

// forcePosDef shifts the diagonal of m until it is positive definite.
// Returns true when m had to be modified. The shift is derived from the most
// negative eigenvalue so the repaired matrix stays close to the original.
func forcePosDef(m *mat.SymDense) bool {
	if isPosDef(m) {
		return false
	}
	n := m.SymmetricDim()

	var shift float64
	var eig mat.EigenSym
	if eig.Factorize(m, false) {
		vals := eig.Values(nil)
		minEig := vals[0]
		for _, v := range vals[1:] {
			if v < minEig {
				minEig = v
			}
		}
		shift = -minEig
	} else {
		// eigen decomposition failed outright; fall back to the trace scale
		for i := 0; i < n; i++ {
			shift += abs(m.At(i, i))
		}
		shift /= float64(n)
	}

	pad := 1e-12 + 1e-8*shift
	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < n; i++ {
			m.SetSym(i, i, m.At(i, i)+shift+pad)
		}
		if isPosDef(m) {
			return true
		}
		shift = 0
		pad *= 10
		if pad < 1e-6 {
			pad = 1e-6
		}
	}
	return true
}

// symMulVec computes y = m*x for a symmetric matrix.
func symMulVec(m *mat.SymDense, x []float64) []float64 {
	n := len(x)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += m.At(i, j) * x[j]
		}
		y[i] = s
	}
	return y
}

// quadForm computes x' * m * x.
func quadForm(m *mat.SymDense, x []float64) float64 {
	var s float64
	for i, yi := range symMulVec(m, x) {
		s += x[i] * yi
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
