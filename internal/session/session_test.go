package session

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

func quadratic(x []float64) float64 {
	dx := x[0] - 2
	dy := x[1] - 3
	return dx*dx + dy*dy
}

func newQuadraticSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(quadratic, objective.LeastSquaresUp)
	require.NoError(t, err)
	require.NoError(t, s.AddParameter("x", 0, 0.1))
	require.NoError(t, s.AddParameter("y", 0, 0.1))
	return s
}

func TestSessionMigrad(t *testing.T) {
	s := newQuadraticSession(t)

	fm, err := s.Migrad(0, 0)
	require.NoError(t, err)
	require.True(t, fm.IsValid())
	assert.True(t, s.Valid())

	x, err := s.Value("x")
	require.NoError(t, err)
	assert.InDelta(t, 2, x, 1e-3)
	y, err := s.Value("y")
	require.NoError(t, err)
	assert.InDelta(t, 3, y, 1e-3)

	ex, err := s.Error("x")
	require.NoError(t, err)
	assert.InDelta(t, 1, ex, 0.05)

	assert.Greater(t, s.NFcn(), 0)
}

func TestSessionMinos(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Migrad(0, 0)
	require.NoError(t, err)

	res, err := s.Minos(1, 0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, name := range []string{"x", "y"} {
		me := res[name]
		require.NotNil(t, me)
		assert.True(t, me.IsValid(), "interval for %s", name)
		assert.InDelta(t, -1, me.Lower, 0.05)
		assert.InDelta(t, 1, me.Upper, 0.05)
	}
	assert.Len(t, s.MErrors(), 2)
}

func TestSessionMinosWithoutMinimum(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Minos(1, 0)
	assert.Error(t, err)
}

func TestSessionCovariancePadding(t *testing.T) {
	s := newQuadraticSession(t)
	require.NoError(t, s.Fix("y"))

	_, err := s.Migrad(0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Hesse(0))

	cov, err := s.Covariance()
	require.NoError(t, err)
	require.Equal(t, 2, cov.SymmetricDim())
	assert.InDelta(t, 1, cov.At(0, 0), 0.05)
	assert.Zero(t, cov.At(1, 1))
	assert.Zero(t, cov.At(0, 1))
}

func TestSessionCorrelation(t *testing.T) {
	s, err := New(func(x []float64) float64 {
		return x[0]*x[0] + (x[0]+x[1])*(x[0]+x[1])
	}, 1)
	require.NoError(t, err)
	require.NoError(t, s.AddParameter("a", 1, 0.1))
	require.NoError(t, s.AddParameter("b", 1, 0.1))

	_, err = s.Migrad(0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Hesse(0))

	corr, err := s.Correlation()
	require.NoError(t, err)
	assert.InDelta(t, 1, corr.At(0, 0), 1e-9)
	assert.InDelta(t, 1, corr.At(1, 1), 1e-9)
	assert.InDelta(t, -1/math.Sqrt2, corr.At(0, 1), 0.02)

	gcc, err := s.GlobalCC()
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, gcc["a"], 0.02)
	assert.InDelta(t, 1/math.Sqrt2, gcc["b"], 0.02)
}

func TestSessionCovarianceUnavailable(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Covariance()
	assert.ErrorIs(t, err, ErrNoCovariance)
	_, err = s.GlobalCC()
	assert.ErrorIs(t, err, ErrNoCovariance)
}

func TestSessionProfile(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Migrad(0, 0)
	require.NoError(t, err)

	pts, err := s.Profile("x", 11, 2, true)
	require.NoError(t, err)
	require.Len(t, pts, 11)

	// symmetric parabola: the grid midpoint carries the smallest value
	mid := pts[5]
	assert.InDelta(t, 2, mid.Value, 1e-2)
	assert.InDelta(t, 0, mid.Fval, 1e-3)
	for _, pt := range pts {
		assert.True(t, pt.Valid, "point at %v", pt.Value)
		assert.GreaterOrEqual(t, pt.Fval, 0.0)
	}
	// the edges sit bound*sigma away, rising to bound^2 * errordef
	assert.InDelta(t, 4, pts[0].Fval, 0.2)
	assert.InDelta(t, 4, pts[10].Fval, 0.2)
}

func TestSessionContour(t *testing.T) {
	s, err := New(func(x []float64) float64 {
		return x[0]*x[0] + x[1]*x[1]
	}, 1)
	require.NoError(t, err)
	require.NoError(t, s.AddParameter("x", 0.5, 0.1))
	require.NoError(t, s.AddParameter("y", -0.5, 0.1))

	_, err = s.Migrad(0, 0)
	require.NoError(t, err)

	mx, my, pts, err := s.Contour("x", "y", 8, 1)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	assert.InDelta(t, 1, mx.Upper, 0.05)
	assert.InDelta(t, 1, my.Upper, 0.05)
	for _, p := range pts {
		assert.InDelta(t, 1, math.Hypot(p.X, p.Y), 0.05)
	}
}

func TestSessionReset(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Migrad(0, 0)
	require.NoError(t, err)
	require.True(t, s.Valid())

	s.Reset()
	assert.False(t, s.Valid())
	assert.Nil(t, s.Fmin())
	assert.Zero(t, s.NFcn())
	x, err := s.Value("x")
	require.NoError(t, err)
	assert.Zero(t, x)
}

func TestSessionUnknownParameter(t *testing.T) {
	s := newQuadraticSession(t)
	_, err := s.Value("nope")
	assert.ErrorIs(t, err, param.ErrUnknownParameter)
	assert.ErrorIs(t, s.Fix("nope"), param.ErrUnknownParameter)
}

func TestSessionEqualLimitsFix(t *testing.T) {
	s := newQuadraticSession(t)
	require.NoError(t, s.SetLimits("y", 3, 3))

	fixed, err := s.Fixed("y")
	require.NoError(t, err)
	assert.True(t, fixed)

	_, err = s.Migrad(0, 0)
	require.NoError(t, err)
	y, err := s.Value("y")
	require.NoError(t, err)
	assert.Equal(t, 3.0, y)
}

func TestSessionCallLimit(t *testing.T) {
	s := newQuadraticSession(t)
	fm, err := s.Migrad(1, 1)
	require.NoError(t, err)
	assert.True(t, fm.HasReachedCallLimit)
	assert.False(t, fm.IsValid())
}

func TestSessionDeterminism(t *testing.T) {
	run := func() (float64, float64) {
		s := newQuadraticSession(t)
		fm, err := s.Migrad(0, 0)
		require.NoError(t, err)
		return fm.Fval, fm.Edm
	}
	f1, e1 := run()
	f2, e2 := run()
	assert.Equal(t, f1, f2)
	assert.Equal(t, e1, e2)
}

func TestSessionHesseKeepsMinimumSnapshot(t *testing.T) {
	s := newQuadraticSession(t)

	_, err := s.Migrad(0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Hesse(0))

	require.NoError(t, s.SetValue("x", 99))

	// the recorded minimum must not follow later parameter edits
	fm := s.Fmin()
	require.NotNil(t, fm)
	assert.InDelta(t, 2, fm.State.Get(0).Value, 1e-3)

	x, err := s.Value("x")
	require.NoError(t, err)
	assert.InDelta(t, 99, x, 1e-12)
}
