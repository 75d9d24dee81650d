package param

import "math"

// Transform maps between the external (user-visible) value of a bounded
// parameter and the internal coordinate the minimizer works in. The maps are
// the classic MINUIT choices: a sin-based bijection for two-sided limits and
// sqrt-based monotone maps for one-sided limits. Unbounded parameters use the
// identity.
type Transform struct {
	HasLower bool
	HasUpper bool
	Lower    float64
	Upper    float64
}

// Bounded reports whether the transform is anything other than the identity.
func (t Transform) Bounded() bool {
	return t.HasLower || t.HasUpper
}

// ToInternal converts an external value to the internal coordinate.
// External values outside the limits are clamped first.
func (t Transform) ToInternal(ext float64) float64 {
	switch {
	case t.HasLower && t.HasUpper:
		// arcsin argument must stay in [-1, 1] even with rounding
		arg := 2*(ext-t.Lower)/(t.Upper-t.Lower) - 1
		if arg < -1 {
			arg = -1
		} else if arg > 1 {
			arg = 1
		}
		return math.Asin(arg)
	case t.HasLower:
		d := ext - t.Lower
		if d < 0 {
			d = 0
		}
		return math.Sqrt((d+1)*(d+1) - 1)
	case t.HasUpper:
		d := t.Upper - ext
		if d < 0 {
			d = 0
		}
		return math.Sqrt((d+1)*(d+1) - 1)
	default:
		return ext
	}
}

// ToExternal converts an internal coordinate back to the external value.
// The result always lies within the configured limits.
func (t Transform) ToExternal(in float64) float64 {
	switch {
	case t.HasLower && t.HasUpper:
		return t.Lower + (t.Upper-t.Lower)/2*(math.Sin(in)+1)
	case t.HasLower:
		return t.Lower - 1 + math.Sqrt(in*in+1)
	case t.HasUpper:
		return t.Upper + 1 - math.Sqrt(in*in+1)
	default:
		return in
	}
}

// DExtDInt is the derivative of the external value with respect to the
// internal coordinate, evaluated at the given internal coordinate. Used to
// convert gradients, step sizes and covariances between the two spaces.
func (t Transform) DExtDInt(in float64) float64 {
	switch {
	case t.HasLower && t.HasUpper:
		return (t.Upper - t.Lower) / 2 * math.Cos(in)
	case t.HasLower:
		return in / math.Sqrt(in*in+1)
	case t.HasUpper:
		return -in / math.Sqrt(in*in+1)
	default:
		return 1
	}
}

// Clamp returns the external value clamped to the configured limits.
func (t Transform) Clamp(ext float64) float64 {
	if t.HasLower && ext < t.Lower {
		return t.Lower
	}
	if t.HasUpper && ext > t.Upper {
		return t.Upper
	}
	return ext
}
