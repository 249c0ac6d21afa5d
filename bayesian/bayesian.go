// Package bayesian is the posterior-sampling collaborator for experiment
// evaluation. It consumes the same per-group (success, trial) counts as the
// frequentist engine and returns a summary of the posterior uplift
// distribution. Inference is conjugate Beta-Binomial: the posterior is a
// Beta distribution and all draws are delegated to gonum's distuv.Beta;
// nothing here implements sampling itself.
package bayesian

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"lukechampine.com/frand"

	"github.com/kmellis/splitz/stats"
)

var (
	ErrInvalidPrior        = errors.New("prior successes must be between 0 and prior trials")
	ErrInvalidSamples      = errors.New("sample count must be positive")
	ErrInvalidUpliftMethod = errors.New("uplift method must be percent, ratio, or difference")
	ErrZeroTrials          = errors.New("trial count is zero")
)

// UpliftMethod selects how the treatment arm is compared to control.
type UpliftMethod int

const (
	// Percent is (b-a)/a, relative lift over control.
	Percent UpliftMethod = iota
	// Ratio is b/a.
	Ratio
	// Difference is b-a in absolute proportion.
	Difference
)

func (m UpliftMethod) String() string {
	switch m {
	case Percent:
		return "percent"
	case Ratio:
		return "ratio"
	case Difference:
		return "difference"
	}
	return fmt.Sprintf("UpliftMethod(%d)", int(m))
}

func UpliftMethodFromString(s string) (UpliftMethod, error) {
	switch strings.ToLower(s) {
	case "percent":
		return Percent, nil
	case "ratio":
		return Ratio, nil
	case "difference":
		return Difference, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUpliftMethod, s)
}

// Cutoff returns the uplift value meaning "no change" for the method: 1
// for ratios, 0 otherwise.
func (m UpliftMethod) Cutoff() float64 {
	if m == Ratio {
		return 1
	}
	return 0
}

// UpliftSummary condenses the posterior uplift distribution of one
// treatment group against control.
type UpliftSummary struct {
	Group        string  `json:"group,omitempty"`
	Method       string  `json:"uplift_method"`
	Samples      int     `json:"samples"`
	ProbAboveCut float64 `json:"prob_above_cutoff"`
	Mean         float64 `json:"mean"`
	Stdev        float64 `json:"stdev"`
	Q025         float64 `json:"q025"`
	Median       float64 `json:"median"`
	Q975         float64 `json:"q975"`
}

// Test draws posterior samples for two arms under a shared Beta prior.
type Test struct {
	priorSuccesses int
	priorTrials    int
	samples        int
	rng            *frand.RNG
}

// New builds a Bayesian test with a Beta(priorSuccesses+1,
// priorFailures+1) prior on each arm and the given number of posterior
// draws per arm.
func New(priorSuccesses, priorTrials, samples int) (*Test, error) {
	if priorSuccesses < 0 || priorTrials < priorSuccesses {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidPrior, priorSuccesses, priorTrials)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSamples, samples)
	}
	return &Test{
		priorSuccesses: priorSuccesses,
		priorTrials:    priorTrials,
		samples:        samples,
		rng:            frand.New(),
	}, nil
}

// Seed makes the test's draws reproducible. Intended for tests and for
// replaying a run.
func (t *Test) Seed(key [32]byte) {
	t.rng = frand.NewCustom(key[:], 1024, 12)
}

// Run compares the two arms and summarizes the posterior uplift of the
// alternative over the null. The returned draw slice backs the summary and
// is yielded for downstream rendering (histograms); it is sorted ascending.
func (t *Test) Run(successNull, trialsNull, successAlt, trialsAlt int, method UpliftMethod) (UpliftSummary, []float64, error) {
	if trialsNull == 0 || trialsAlt == 0 {
		return UpliftSummary{}, nil, fmt.Errorf("%w: null=%d alt=%d", ErrZeroTrials, trialsNull, trialsAlt)
	}
	if method != Percent && method != Ratio && method != Difference {
		return UpliftSummary{}, nil, fmt.Errorf("%w: %d", ErrInvalidUpliftMethod, int(method))
	}

	null := t.posterior(successNull, trialsNull)
	alt := t.posterior(successAlt, trialsAlt)

	cutoff := method.Cutoff()
	uplift := make([]float64, t.samples)
	above := 0
	var acc stats.Statistic
	for i := range uplift {
		a := null.Quantile(t.rng.Float64())
		b := alt.Quantile(t.rng.Float64())
		var u float64
		switch method {
		case Ratio:
			u = b / a
		case Difference:
			u = b - a
		default:
			u = (b - a) / a
		}
		uplift[i] = u
		if u >= cutoff {
			above++
		}
		acc.Push(u)
	}
	sort.Float64s(uplift)

	return UpliftSummary{
		Method:       method.String(),
		Samples:      t.samples,
		ProbAboveCut: float64(above) / float64(t.samples),
		Mean:         acc.Mean(),
		Stdev:        acc.Stdev(),
		Q025:         stat.Quantile(0.025, stat.Empirical, uplift, nil),
		Median:       stat.Quantile(0.5, stat.Empirical, uplift, nil),
		Q975:         stat.Quantile(0.975, stat.Empirical, uplift, nil),
	}, uplift, nil
}

// posterior is the conjugate Beta posterior for one arm: the prior
// Beta(s0+1, f0+1) updated with the observed successes and failures.
func (t *Test) posterior(successes, trials int) distuv.Beta {
	priorFailures := t.priorTrials - t.priorSuccesses
	return distuv.Beta{
		Alpha: float64(t.priorSuccesses + 1 + successes),
		Beta:  float64(priorFailures + 1 + trials - successes),
	}
}
