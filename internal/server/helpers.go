package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// writeJSON serializes v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// applyConfigDefaults fills in the optional job config fields.
func applyConfigDefaults(config *JobConfig) {
	if config.Model == "" {
		config.Model = "polynomial"
	}
	if config.Loss == "" {
		config.Loss = "linear"
	}
	if config.Strategy < 0 {
		config.Strategy = 0
	}
	if config.Strategy > 2 {
		config.Strategy = 2
	}
}

// validateJobConfig rejects configurations the worker cannot fit.
func validateJobConfig(config JobConfig) error {
	if config.Model != "polynomial" {
		return fmt.Errorf("unknown model: %s", config.Model)
	}
	if config.Loss != "linear" && config.Loss != "soft_l1" {
		return fmt.Errorf("unknown loss: %s", config.Loss)
	}
	if config.Degree < 0 {
		return fmt.Errorf("degree must be non-negative")
	}
	if len(config.X) == 0 {
		return fmt.Errorf("x data is required")
	}
	if len(config.X) != len(config.Y) {
		return fmt.Errorf("x and y must have the same length (%d vs %d)", len(config.X), len(config.Y))
	}
	if len(config.YErr) > 0 && len(config.YErr) != len(config.X) {
		return fmt.Errorf("yerr must match x length (%d vs %d)", len(config.YErr), len(config.X))
	}
	if len(config.X) <= config.Degree {
		return fmt.Errorf("need more than %d data points to fit degree %d", config.Degree, config.Degree)
	}
	if config.Sigma < 0 {
		return fmt.Errorf("sigma must be non-negative")
	}
	return nil
}
