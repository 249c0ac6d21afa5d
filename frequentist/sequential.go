package frequentist

import (
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidThreshold = errors.New("stopping threshold must be strictly between 0 and 1")
	ErrInvalidOutcome   = errors.New("observation outcome must be 0 or 1")
	ErrNoObservations   = errors.New("observation stream is empty")
)

// Arm identifies which variant an observation belongs to.
type Arm int

const (
	ArmNull Arm = iota
	ArmAlt
)

// Observation is a single subject outcome arriving on one arm of the test.
type Observation struct {
	Arm     Arm
	Outcome int
}

// ConductSequential consumes observations in arrival order, recomputing the
// running z statistic and p-value after each one, and stops the first time
// the running p-value falls under stoppingThreshold. If the threshold is
// never crossed, the result is the test on the full stream.
//
// Caveat: this is repeated significance testing on accumulating data with
// no multiplicity adjustment. Peeking inflates the false-positive rate well
// above alpha ("optional stopping"), and a test that stopped early is
// biased toward overstating the effect. Treat early stops as a signal to
// investigate, not as a confirmatory read. Use Conduct on the full sample
// for an unbiased p-value.
//
// Steps where either arm has no trials yet, or where the running pooled
// standard error is zero, carry no usable statistic and never trigger a
// stop.
func (e *Engine) ConductSequential(obs iter.Seq[Observation], stoppingThreshold float64) (Result, error) {
	if stoppingThreshold <= 0 || stoppingThreshold >= 1 {
		return Result{}, fmt.Errorf("%w: got %v", ErrInvalidThreshold, stoppingThreshold)
	}
	var successNull, trialsNull, successAlt, trialsAlt, seen int
	stopped := false
	for o := range obs {
		if o.Outcome != 0 && o.Outcome != 1 {
			return Result{}, fmt.Errorf("%w: got %d at observation %d", ErrInvalidOutcome, o.Outcome, seen+1)
		}
		seen++
		switch o.Arm {
		case ArmAlt:
			successAlt += o.Outcome
			trialsAlt++
		default:
			successNull += o.Outcome
			trialsNull++
		}
		if trialsNull == 0 || trialsAlt == 0 {
			continue
		}
		z, degenerate := pooledZ(successNull, trialsNull, successAlt, trialsAlt)
		if degenerate {
			continue
		}
		if p := pValue(z, e.tails); p < stoppingThreshold {
			log.Debug().
				Int("observation", seen).
				Float64("pvalue", p).
				Msg("sequential-early-stop")
			stopped = true
			break
		}
	}
	if seen == 0 {
		return Result{}, ErrNoObservations
	}
	if trialsNull == 0 || trialsAlt == 0 {
		return Result{}, fmt.Errorf("%w: null=%d alt=%d", ErrZeroTrials, trialsNull, trialsAlt)
	}
	res, err := e.Conduct(successNull, trialsNull, successAlt, trialsAlt)
	if err != nil {
		return Result{}, err
	}
	res.StoppedEarly = stopped
	if stopped {
		res.StoppedAt = seen
	}
	return res, nil
}

// ReplayCounts converts final per-arm counts back into an observation
// stream for ConductSequential, alternating arms and spreading each arm's
// successes evenly across its trials. It approximates an arrival order that
// was not recorded; running proportions track the final ones, but the
// replayed order is not the real one and early stops on it inherit that
// approximation.
func ReplayCounts(successNull, trialsNull, successAlt, trialsAlt int) iter.Seq[Observation] {
	return func(yield func(Observation) bool) {
		emittedNull, emittedAlt := 0, 0
		hitsNull, hitsAlt := 0, 0
		for emittedNull < trialsNull || emittedAlt < trialsAlt {
			// Keep the two arms as close to balanced as the totals allow.
			pickNull := emittedNull < trialsNull &&
				(emittedAlt >= trialsAlt || emittedNull*trialsAlt <= emittedAlt*trialsNull)
			var o Observation
			if pickNull {
				o.Arm = ArmNull
				emittedNull++
				// Bresenham-style spread of successes across the arm.
				if hitsNull*trialsNull < successNull*emittedNull {
					o.Outcome = 1
					hitsNull++
				}
			} else {
				o.Arm = ArmAlt
				emittedAlt++
				if hitsAlt*trialsAlt < successAlt*emittedAlt {
					o.Outcome = 1
					hitsAlt++
				}
			}
			if !yield(o) {
				return
			}
		}
	}
}
