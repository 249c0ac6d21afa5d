// Package experiment orchestrates one end-to-end evaluation: aggregate
// subject records into per-group counts, test every treatment group
// against control, and adjust the resulting p-values for multiple
// comparisons. Aggregation finishes before any test starts, and the
// correction runs only after every pairwise test has reported; the
// pairwise tests themselves are independent and run concurrently.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/kmellis/splitz/aggregate"
	"github.com/kmellis/splitz/bayesian"
	"github.com/kmellis/splitz/bucketing"
	"github.com/kmellis/splitz/corrections"
	"github.com/kmellis/splitz/frequentist"
)

var (
	ErrNoRanges      = errors.New("experiment config has no group ranges")
	ErrUnknownEngine = errors.New("unknown test method")
)

// Method selects the engine evaluating each pairwise comparison.
type Method int

const (
	MethodFrequentist Method = iota
	MethodBayesian
)

func (m Method) String() string {
	switch m {
	case MethodFrequentist:
		return "frequentist"
	case MethodBayesian:
		return "bayesian"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func MethodFromString(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "frequentist":
		return MethodFrequentist, nil
	case "bayesian":
		return MethodBayesian, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEngine, s)
}

// Config fully describes a run. It replaces any interactive prompting:
// callers decide everything up front and pass it in.
type Config struct {
	Ranges *bucketing.GroupRanges
	Method Method

	// Frequentist settings.
	Alpha      float64
	Tails      frequentist.Tails
	Sequential bool
	// StoppingThreshold gates sequential early stopping. Zero means use
	// Alpha.
	StoppingThreshold float64
	Correction        corrections.Method

	// Bayesian settings.
	PriorSuccesses int
	PriorTrials    int
	Samples        int
	Uplift         bayesian.UpliftMethod

	// Workers caps parallelism for aggregation and pairwise tests. Zero
	// or one means sequential.
	Workers int
}

// DefaultConfig returns a frequentist two-tailed config at alpha 0.05 with
// Bonferroni correction, and the customary Bayesian defaults should the
// method be switched.
func DefaultConfig(ranges *bucketing.GroupRanges) Config {
	return Config{
		Ranges:         ranges,
		Method:         MethodFrequentist,
		Alpha:          0.05,
		Tails:          frequentist.TwoTailed,
		Correction:     corrections.Bonferroni,
		PriorSuccesses: 30,
		PriorTrials:    100,
		Samples:        2000,
		Uplift:         bayesian.Percent,
	}
}

// GroupResult is one treatment group's comparison against control.
// Exactly one of Frequentist or Bayesian is set, matching the run method.
type GroupResult struct {
	Group       string                  `json:"group"`
	Counts      aggregate.GroupCounts   `json:"counts"`
	Frequentist *frequentist.Result     `json:"frequentist,omitempty"`
	Bayesian    *bayesian.UpliftSummary `json:"bayesian,omitempty"`

	// UpliftDraws backs downstream rendering of the posterior. Sorted
	// ascending; nil for frequentist runs.
	UpliftDraws []float64 `json:"-"`
}

// Report is the outcome of one full evaluation.
type Report struct {
	Control aggregate.GroupCounts `json:"control"`
	Groups  []GroupResult         `json:"groups"`

	// Corrected carries the multiplicity-adjusted p-values in the same
	// order as Groups. Nil for Bayesian runs, and for frequentist runs
	// where any pairwise statistic was degenerate: rank-based corrections
	// are undefined over NaN.
	Corrected []corrections.Corrected `json:"corrected,omitempty"`
}

// Runner evaluates experiments under a fixed Config.
type Runner struct {
	cfg Config
	eng *frequentist.Engine
}

// NewRunner validates the config. Engine-level settings are checked here
// so a bad alpha or prior fails fast, before any data is touched.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Ranges == nil {
		return nil, ErrNoRanges
	}
	r := &Runner{cfg: cfg}
	switch cfg.Method {
	case MethodFrequentist:
		eng, err := frequentist.New(cfg.Alpha, cfg.Tails)
		if err != nil {
			return nil, err
		}
		if _, err := corrections.Correct(nil, cfg.Correction); err != nil {
			return nil, err
		}
		r.eng = eng
	case MethodBayesian:
		if _, err := bayesian.New(cfg.PriorSuccesses, cfg.PriorTrials, cfg.Samples); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEngine, int(cfg.Method))
	}
	return r, nil
}

// Run aggregates the records and evaluates every treatment group against
// control. Treatment groups are processed in name order; each pairwise
// test owns only its inputs, so they run concurrently up to cfg.Workers.
func (r *Runner) Run(ctx context.Context, records []aggregate.SubjectRecord) (*Report, error) {
	logger := zerolog.Ctx(ctx)

	counts, err := aggregate.AggregateParallel(ctx, records, r.cfg.Ranges, r.cfg.Workers)
	if err != nil {
		return nil, err
	}
	control := counts[bucketing.ControlGroup]
	testGroups := r.cfg.Ranges.TestGroups()
	sort.Strings(testGroups)
	logger.Debug().
		Int("records", len(records)).
		Int("testGroups", len(testGroups)).
		Str("method", r.cfg.Method.String()).
		Msg("experiment-aggregated")

	results := make([]GroupResult, len(testGroups))
	g, _ := errgroup.WithContext(ctx)
	if r.cfg.Workers > 1 {
		g.SetLimit(r.cfg.Workers)
	} else {
		g.SetLimit(1)
	}
	for i, name := range testGroups {
		g.Go(func() error {
			res, err := r.pairwise(name, control, counts[name])
			if err != nil {
				return fmt.Errorf("group %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Control: control, Groups: results}
	if r.cfg.Method == MethodFrequentist {
		report.Corrected = r.correct(ctx, results)
	}
	return report, nil
}

func (r *Runner) pairwise(name string, control, treatment aggregate.GroupCounts) (GroupResult, error) {
	result := GroupResult{Group: name, Counts: treatment}
	switch r.cfg.Method {
	case MethodBayesian:
		bt, err := bayesian.New(r.cfg.PriorSuccesses, r.cfg.PriorTrials, r.cfg.Samples)
		if err != nil {
			return GroupResult{}, err
		}
		summary, draws, err := bt.Run(
			control.Successes, control.Trials,
			treatment.Successes, treatment.Trials,
			r.cfg.Uplift)
		if err != nil {
			return GroupResult{}, err
		}
		summary.Group = name
		result.Bayesian = &summary
		result.UpliftDraws = draws
	default:
		var res frequentist.Result
		var err error
		if r.cfg.Sequential {
			threshold := r.cfg.StoppingThreshold
			if threshold == 0 {
				threshold = r.cfg.Alpha
			}
			res, err = r.eng.ConductSequential(frequentist.ReplayCounts(
				control.Successes, control.Trials,
				treatment.Successes, treatment.Trials), threshold)
		} else {
			res, err = r.eng.Conduct(
				control.Successes, control.Trials,
				treatment.Successes, treatment.Trials)
		}
		if err != nil {
			return GroupResult{}, err
		}
		res.Group = name
		result.Frequentist = &res
	}
	return result, nil
}

// correct runs the multiplicity adjustment over the full p-value vector.
// It must not run until every pairwise result is in.
func (r *Runner) correct(ctx context.Context, results []GroupResult) []corrections.Corrected {
	logger := zerolog.Ctx(ctx)
	degenerate := lo.Filter(results, func(g GroupResult, _ int) bool {
		return g.Frequentist.Degenerate
	})
	if len(degenerate) > 0 {
		logger.Warn().
			Strs("groups", lo.Map(degenerate, func(g GroupResult, _ int) string { return g.Group })).
			Msg("degenerate-statistics-skip-correction")
		return nil
	}
	names := lo.Map(results, func(g GroupResult, _ int) string { return g.Group })
	pvalues := lo.Map(results, func(g GroupResult, _ int) float64 { return g.Frequentist.PValue })
	corrected, err := corrections.CorrectGroups(names, pvalues, r.cfg.Correction)
	if err != nil {
		// Method validity was established in NewRunner.
		logger.Err(err).Msg("correction-failed")
		return nil
	}
	return corrected
}
