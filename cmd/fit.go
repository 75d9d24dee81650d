package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/session"
	"github.com/cwbudde/minfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	dataPath   string
	outPath    string
	degree     int
	lossName   string
	errordef   float64
	strategy   int
	tolerance  float64
	maxCalls   int
	minosSigma float64
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Run a single-shot polynomial fit",
	Long: `Fits a polynomial model to data from a CSV file and prints the
fitted parameters with their uncertainties.`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&dataPath, "data", "", "Data file path, CSV with columns x,y[,yerr] (required)")
	fitCmd.Flags().StringVar(&outPath, "out", "", "Write full fit result as JSON to this path")
	fitCmd.Flags().IntVar(&degree, "degree", 1, "Polynomial degree")
	fitCmd.Flags().StringVar(&lossName, "loss", "linear", "Loss function: linear, soft_l1")
	fitCmd.Flags().Float64Var(&errordef, "errordef", 1.0, "Error definition (1 for chi-square, 0.5 for NLL)")
	fitCmd.Flags().IntVar(&strategy, "strategy", 1, "Minimization strategy (0, 1, 2)")
	fitCmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Convergence tolerance (0 = default)")
	fitCmd.Flags().IntVar(&maxCalls, "maxcalls", 0, "Maximum objective calls (0 = heuristic)")
	fitCmd.Flags().Float64Var(&minosSigma, "minos", 0, "Run minos at this sigma level (0 = skip)")

	fitCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	x, y, yerr, err := loadDataFile(dataPath)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	slog.Info("Loaded data", "points", len(x), "degree", degree, "loss", lossName)

	var loss objective.Loss
	switch lossName {
	case "linear":
		loss = objective.LinearLoss
	case "soft_l1":
		loss = objective.SoftL1Loss
	default:
		return fmt.Errorf("unknown loss %q (want linear or soft_l1)", lossName)
	}

	fn, err := objective.LeastSquares(x, y, yerr, objective.Polynomial(degree), loss)
	if err != nil {
		return err
	}

	sess, err := session.New(fn, errordef)
	if err != nil {
		return err
	}

	names := make([]string, degree+1)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
		if err := sess.AddParameter(names[i], 0, 0.1); err != nil {
			return err
		}
	}

	sess.SetStrategy(strategy)
	if tolerance > 0 {
		sess.SetTolerance(tolerance)
	}

	start := time.Now()
	fm, err := sess.Migrad(maxCalls, 0)
	if err != nil {
		return fmt.Errorf("migrad failed: %w", err)
	}

	if err := sess.Hesse(maxCalls); err != nil {
		return fmt.Errorf("hesse failed: %w", err)
	}
	fm = sess.Fmin()

	var minosErrs map[string]store.MinosInterval
	if minosSigma > 0 && fm.IsValid() {
		res, err := sess.Minos(minosSigma, maxCalls)
		if err != nil {
			slog.Warn("Minos failed", "error", err)
		} else {
			minosErrs = make(map[string]store.MinosInterval, len(res))
			for name, mr := range res {
				minosErrs[name] = store.MinosInterval{
					Lower: mr.Lower,
					Upper: mr.Upper,
					Valid: mr.IsValid(),
				}
			}
		}
	}

	elapsed := time.Since(start)

	// Print parameter table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if minosErrs != nil {
		fmt.Fprintln(w, "PARAM\tVALUE\tERROR\tMINOS-\tMINOS+")
		fmt.Fprintln(w, "-----\t-----\t-----\t------\t------")
	} else {
		fmt.Fprintln(w, "PARAM\tVALUE\tERROR")
		fmt.Fprintln(w, "-----\t-----\t-----")
	}
	values := sess.Values()
	errors := sess.Errors()
	for i, name := range names {
		if minosErrs != nil {
			me := minosErrs[name]
			fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\t%.6g\n", name, values[i], errors[i], me.Lower, me.Upper)
		} else {
			fmt.Fprintf(w, "%s\t%.6g\t%.6g\n", name, values[i], errors[i])
		}
	}
	w.Flush()

	fmt.Printf("\nFval: %.6g\n", fm.Fval)
	fmt.Printf("EDM: %.3g\n", fm.Edm)
	fmt.Printf("Calls: %d\n", sess.NFcn())
	fmt.Printf("Valid: %v\n", fm.IsValid())
	fmt.Printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if !fm.IsValid() {
		slog.Warn("Minimization did not converge",
			"aboveMaxEdm", fm.IsAboveMaxEdm,
			"callLimit", fm.HasReachedCallLimit)
	}

	if outPath != "" {
		if err := writeFitResult(outPath, names, sess, minosErrs); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		slog.Info("Wrote fit result", "path", outPath)
	}

	return nil
}

// loadDataFile reads a CSV file with columns x,y[,yerr]. Lines starting
// with '#' are skipped. When the yerr column is absent, unit errors are
// assumed.
func loadDataFile(path string) (x, y, yerr []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}

	hasErr := false
	for i, rec := range records {
		if len(rec) != 2 && len(rec) != 3 {
			return nil, nil, nil, fmt.Errorf("line %d: want 2 or 3 columns, got %d", i+1, len(rec))
		}
		// Tolerate a header row on the first line
		if i == 0 {
			if _, perr := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64); perr != nil {
				continue
			}
		}
		vals := make([]float64, len(rec))
		for j, field := range rec {
			vals[j], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		x = append(x, vals[0])
		y = append(y, vals[1])
		if len(vals) == 3 {
			yerr = append(yerr, vals[2])
			hasErr = true
		} else {
			yerr = append(yerr, 1)
		}
	}

	if len(x) == 0 {
		return nil, nil, nil, fmt.Errorf("no data points in %s", path)
	}
	if !hasErr {
		slog.Debug("No yerr column, assuming unit errors")
	}
	return x, y, yerr, nil
}

func writeFitResult(path string, names []string, sess *session.Session, minosErrs map[string]store.MinosInterval) error {
	fm := sess.Fmin()
	result := store.FitResult{
		JobID:               "cli",
		Names:               names,
		Values:              sess.Values(),
		Errors:              sess.Errors(),
		Fval:                fm.Fval,
		Edm:                 fm.Edm,
		NCalls:              sess.NFcn(),
		Valid:               fm.IsValid(),
		HasAccurateCovar:    fm.HasAccurateCovar,
		HasMadePosDefCovar:  fm.HasMadePosDefCovar,
		HasReachedCallLimit: fm.HasReachedCallLimit,
		MinosErrors:         minosErrs,
		Timestamp:           time.Now(),
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

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
