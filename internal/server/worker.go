package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/session"
	"github.com/cwbudde/minfit/internal/store"
)

// buildSession turns a job configuration into a ready-to-run fit session:
// the model and loss become a least-squares objective, and one parameter per
// polynomial coefficient is declared.
func buildSession(config JobConfig) (*session.Session, []string, error) {
	if config.Model != "polynomial" {
		return nil, nil, fmt.Errorf("unknown model: %s", config.Model)
	}

	var loss objective.Loss
	switch config.Loss {
	case "", "linear":
		loss = objective.LinearLoss
	case "soft_l1":
		loss = objective.SoftL1Loss
	default:
		return nil, nil, fmt.Errorf("unknown loss: %s", config.Loss)
	}

	yerr := config.YErr
	if len(yerr) == 0 {
		yerr = make([]float64, len(config.X))
		for i := range yerr {
			yerr[i] = 1
		}
	}

	model := objective.Polynomial(config.Degree)
	cost, err := objective.LeastSquares(config.X, config.Y, yerr, model, loss)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build cost function: %w", err)
	}

	sess, err := session.New(cost, objective.LeastSquaresUp)
	if err != nil {
		return nil, nil, err
	}
	sess.SetStrategy(config.Strategy)

	names := make([]string, config.Degree+1)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
		if err := sess.AddParameter(names[i], 0, 0.1); err != nil {
			return nil, nil, err
		}
	}
	return sess, names, nil
}

// runJob executes a fit job in the background. Progress is broadcast per
// migrad round; the finished result is persisted through resultStore and the
// round history through a trace file under dataDir.
func runJob(ctx context.Context, jm *JobManager, resultStore store.Store, dataDir, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting fit job", "job_id", jobID, "model", job.Config.Model, "degree", job.Config.Degree, "points", len(job.Config.X))

	sess, names, err := buildSession(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var trace *store.TraceWriter
	if resultStore != nil {
		trace, err = store.NewTraceWriter(dataDir, jobID, false)
		if err != nil {
			slog.Warn("Failed to open trace file, continuing without trace", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	start := time.Now()

	// one migrad round at a time so every round becomes a progress event
	var fm = sess.Fmin()
	for round := 1; round <= session.DefaultIterate; round++ {
		select {
		case <-ctx.Done():
			markJobCancelled(jm, jobID)
			return ctx.Err()
		default:
		}

		fm, err = sess.Migrad(job.Config.MaxCalls, 1)
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}

		jm.UpdateJob(jobID, func(j *Job) {
			j.Fval = fm.Fval
			j.Edm = fm.Edm
			j.NCalls = sess.NFcn()
			j.Valid = fm.IsValid()
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Round:     round,
			Fval:      fm.Fval,
			Edm:       fm.Edm,
			NCalls:    sess.NFcn(),
			Timestamp: time.Now(),
		})
		if trace != nil {
			if werr := trace.Write(store.TraceEntry{
				Round:     round,
				Fval:      fm.Fval,
				Edm:       fm.Edm,
				NCalls:    sess.NFcn(),
				Timestamp: time.Now(),
			}); werr != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", werr)
			}
		}

		if fm.IsValid() || fm.HasReachedCallLimit {
			break
		}
	}

	if err := sess.Hesse(job.Config.MaxCalls); err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	fm = sess.Fmin()

	var minosErrors map[string]store.MinosInterval
	if job.Config.Sigma > 0 && fm.IsValid() {
		results, merr := sess.Minos(job.Config.Sigma, job.Config.MaxCalls)
		if merr != nil {
			slog.Warn("Minos scan failed", "job_id", jobID, "error", merr)
		} else {
			minosErrors = make(map[string]store.MinosInterval, len(results))
			for name, res := range results {
				minosErrors[name] = store.MinosInterval{
					Lower: res.Lower,
					Upper: res.Upper,
					Valid: res.IsValid(),
				}
			}
		}
	}

	elapsed := time.Since(start)

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Names = names
		j.Values = sess.Values()
		j.Errors = sess.Errors()
		j.Fval = fm.Fval
		j.Edm = fm.Edm
		j.NCalls = sess.NFcn()
		j.Valid = fm.IsValid()
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Fit job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"fval", fm.Fval,
		"edm", fm.Edm,
		"ncalls", sess.NFcn(),
		"valid", fm.IsValid(),
	)

	if resultStore != nil {
		if err := saveResult(resultStore, sess, names, minosErrors, jobID, job.Config); err != nil {
			slog.Error("Failed to persist fit result", "job_id", jobID, "error", err)
		}
	}

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		Fval:      fm.Fval,
		Edm:       fm.Edm,
		NCalls:    sess.NFcn(),
		Timestamp: time.Now(),
	})

	return nil
}

// saveResult converts the session outcome to a FitResult and persists it.
func saveResult(resultStore store.Store, sess *session.Session, names []string, minosErrors map[string]store.MinosInterval, jobID string, config JobConfig) error {
	min := sess.Fmin()

	result := &store.FitResult{
		JobID:               jobID,
		Names:               names,
		Values:              sess.Values(),
		Errors:              sess.Errors(),
		Fval:                min.Fval,
		Edm:                 min.Edm,
		NCalls:              sess.NFcn(),
		Valid:               min.IsValid(),
		HasAccurateCovar:    min.HasAccurateCovar,
		HasMadePosDefCovar:  min.HasMadePosDefCovar,
		HasReachedCallLimit: min.HasReachedCallLimit,
		MinosErrors:         minosErrors,
		Timestamp:           time.Now(),
		Config:              config,
	}

	if cov, err := sess.Covariance(); err == nil {
		n := len(names)
		rows := make([][]float64, n)
		for i := 0; i < n; i++ {
			rows[i] = make([]float64, n)
			for j := 0; j < n; j++ {
				rows[i][j] = cov.At(i, j)
			}
		}
		result.Covariance = rows
	}

	if err := result.Validate(); err != nil {
		return err
	}
	return resultStore.SaveResult(jobID, result)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Fit job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Fit job cancelled", "job_id", jobID)
}
