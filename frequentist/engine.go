// Package frequentist implements a two-sample proportion test (pooled
// z-test) over per-group success and trial counts, with an optional
// sequential early-stopping mode and power curve computation.
package frequentist

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kmellis/splitz/stats"
)

var (
	ErrInvalidAlpha = errors.New("alpha must be strictly between 0 and 1")
	ErrInvalidTails = errors.New("hypothesis must be one_tailed or two_tailed")
	ErrZeroTrials   = errors.New("trial count is zero")
)

// Tails selects the alternative hypothesis.
type Tails int

const (
	OneTailed Tails = iota
	TwoTailed
)

func (t Tails) String() string {
	switch t {
	case OneTailed:
		return "one_tailed"
	case TwoTailed:
		return "two_tailed"
	}
	return fmt.Sprintf("Tails(%d)", int(t))
}

// TailsFromString parses "one_tailed" or "two_tailed", case-insensitively.
func TailsFromString(s string) (Tails, error) {
	switch strings.ToLower(s) {
	case "one_tailed":
		return OneTailed, nil
	case "two_tailed":
		return TwoTailed, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTails, s)
}

// Engine conducts pooled two-proportion z-tests at a fixed significance
// level. An Engine holds only its configuration; every Conduct call returns
// a self-contained Result, so one Engine may serve concurrent tests.
type Engine struct {
	alpha float64
	tails Tails
}

func New(alpha float64, tails Tails) (*Engine, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	if tails != OneTailed && tails != TwoTailed {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTails, int(tails))
	}
	return &Engine{alpha: alpha, tails: tails}, nil
}

func (e *Engine) Alpha() float64 { return e.alpha }
func (e *Engine) Tails() Tails   { return e.tails }

// Result is the immutable outcome of one pairwise test.
//
// When the pooled standard error is zero (pooled proportion of 0 or 1) the
// statistic is undefined: Degenerate is true and Statistic and PValue are
// NaN. Callers must check Degenerate rather than rely on NaN comparisons,
// which are always false.
type Result struct {
	Group        string       `json:"group,omitempty"`
	SuccessNull  int          `json:"success_null"`
	TrialsNull   int          `json:"trials_null"`
	SuccessAlt   int          `json:"success_alt"`
	TrialsAlt    int          `json:"trials_alt"`
	PropNull     float64      `json:"prop_null"`
	PropAlt      float64      `json:"prop_alt"`
	Statistic    float64      `json:"statistic"`
	PValue       float64      `json:"pvalue"`
	Significant  bool         `json:"significant"`
	Degenerate   bool         `json:"degenerate,omitempty"`
	StoppedEarly bool         `json:"stopped_early,omitempty"`
	StoppedAt    int          `json:"stopped_at,omitempty"`
	PowerCurve   []PowerPoint `json:"power_curve,omitempty"`
}

// Conduct runs the batch two-proportion test on final counts and returns
// the result together with the power curve for the observed sample sizes.
func (e *Engine) Conduct(successNull, trialsNull, successAlt, trialsAlt int) (Result, error) {
	if trialsNull == 0 || trialsAlt == 0 {
		return Result{}, fmt.Errorf("%w: null=%d alt=%d", ErrZeroTrials, trialsNull, trialsAlt)
	}
	res := Result{
		SuccessNull: successNull,
		TrialsNull:  trialsNull,
		SuccessAlt:  successAlt,
		TrialsAlt:   trialsAlt,
		PropNull:    float64(successNull) / float64(trialsNull),
		PropAlt:     float64(successAlt) / float64(trialsAlt),
	}
	z, degenerate := pooledZ(successNull, trialsNull, successAlt, trialsAlt)
	if degenerate {
		res.Statistic = math.NaN()
		res.PValue = math.NaN()
		res.Degenerate = true
	} else {
		res.Statistic = z
		res.PValue = pValue(z, e.tails)
		res.Significant = res.PValue < e.alpha
	}
	res.PowerCurve = slices.Collect(e.PowerCurve(res.PropNull, trialsNull, trialsAlt))
	return res, nil
}

// pooledZ computes the pooled two-proportion z statistic. The second return
// is true when the pooled standard error is zero and the statistic is
// undefined.
func pooledZ(successNull, trialsNull, successAlt, trialsAlt int) (float64, bool) {
	propNull := float64(successNull) / float64(trialsNull)
	propAlt := float64(successAlt) / float64(trialsAlt)
	pooled := float64(successNull+successAlt) / float64(trialsNull+trialsAlt)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(trialsNull) + 1/float64(trialsAlt)))
	if se == 0 {
		return 0, true
	}
	return (propAlt - propNull) / se, false
}

func pValue(z float64, tails Tails) float64 {
	switch tails {
	case TwoTailed:
		return 2 * (1 - stats.NormalCDF(math.Abs(z)))
	default:
		if z > 0 {
			return 1 - stats.NormalCDF(z)
		}
		return stats.NormalCDF(z)
	}
}
