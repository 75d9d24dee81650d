package store

import (
	"time"
)

// JobConfig holds the configuration of a fit job (persisted copy).
// This avoids import cycles with the server package.
type JobConfig struct {
	Model    string    `json:"model"`              // polynomial
	Degree   int       `json:"degree"`             // polynomial degree
	Loss     string    `json:"loss"`               // linear, soft_l1
	X        []float64 `json:"x"`                  // abscissa values
	Y        []float64 `json:"y"`                  // measured values
	YErr     []float64 `json:"yerr,omitempty"`     // per-point uncertainties (1.0 when absent)
	Strategy int       `json:"strategy"`           // minimizer strategy 0..2
	MaxCalls int       `json:"maxCalls,omitempty"` // objective call budget (0 = heuristic)
	Sigma    float64   `json:"sigma,omitempty"`    // minos level (0 = skip minos)
}

// MinosInterval is the persisted form of one asymmetric interval.
type MinosInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Valid bool    `json:"valid"`
}

// FitResult is the persisted outcome of one fit job. It records the final
// parameter estimates and their uncertainties together with the convergence
// flags needed to judge whether the numbers are trustworthy. The minimizer's
// internal state is deliberately not saved; re-running the fit from the
// stored values reproduces it cheaply.
type FitResult struct {
	// JobID is the unique identifier for this fit job
	JobID string `json:"jobId"`

	// Names, Values and Errors describe the fitted parameters in
	// declaration order
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
	Errors []float64 `json:"errors"`

	// Fval is the objective value at the minimum
	Fval float64 `json:"fval"`

	// Edm is the estimated distance to minimum at termination
	Edm float64 `json:"edm"`

	// NCalls is how many objective calls the fit consumed
	NCalls int `json:"nCalls"`

	// Convergence and covariance quality flags
	Valid               bool `json:"valid"`
	HasAccurateCovar    bool `json:"hasAccurateCovar"`
	HasMadePosDefCovar  bool `json:"hasMadePosDefCovar"`
	HasReachedCallLimit bool `json:"hasReachedCallLimit"`

	// Covariance is the full covariance matrix, row-major, with zeros for
	// fixed parameters. Nil when no covariance was available.
	Covariance [][]float64 `json:"covariance,omitempty"`

	// MinosErrors holds the asymmetric intervals keyed by parameter name,
	// present only when the job requested a minos scan.
	MinosErrors map[string]MinosInterval `json:"minosErrors,omitempty"`

	// Timestamp records when this result was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration the result was produced from
	Config JobConfig `json:"config"`
}

// ResultInfo contains metadata about a result without the full parameter and
// covariance data. Used for listing results efficiently.
type ResultInfo struct {
	JobID     string    `json:"jobId"`
	Fval      float64   `json:"fval"`
	Edm       float64   `json:"edm"`
	Valid     bool      `json:"valid"`
	NParams   int       `json:"nParams"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// ToInfo converts a full FitResult to ResultInfo (metadata only).
func (r *FitResult) ToInfo() ResultInfo {
	return ResultInfo{
		JobID:     r.JobID,
		Fval:      r.Fval,
		Edm:       r.Edm,
		Valid:     r.Valid,
		NParams:   len(r.Names),
		Model:     r.Config.Model,
		Timestamp: r.Timestamp,
	}
}

// Validate checks if the result has consistent data.
// Returns an error if any required field is missing or invalid.
func (r *FitResult) Validate() error {
	if r.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(r.Names) == 0 {
		return &ValidationError{Field: "Names", Reason: "cannot be empty"}
	}
	if len(r.Values) != len(r.Names) {
		return &ValidationError{Field: "Values", Reason: "length must match Names"}
	}
	if len(r.Errors) != len(r.Names) {
		return &ValidationError{Field: "Errors", Reason: "length must match Names"}
	}
	if r.NCalls < 0 {
		return &ValidationError{Field: "NCalls", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if r.Covariance != nil {
		if len(r.Covariance) != len(r.Names) {
			return &ValidationError{Field: "Covariance", Reason: "row count must match Names"}
		}
		for _, row := range r.Covariance {
			if len(row) != len(r.Names) {
				return &ValidationError{Field: "Covariance", Reason: "matrix must be square"}
			}
		}
	}
	return nil
}

// ValidationError represents a fit result validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
