package frequentist

import (
	"iter"
	"math"

	"github.com/kmellis/splitz/stats"
)

// Effect size grid for power curves: 0 to 0.2 in steps of 0.005.
const (
	effectSizeMax  = 0.2
	effectSizeStep = 0.005
)

// PowerPoint is the probability of detecting a given true difference in
// proportions at the engine's significance level.
type PowerPoint struct {
	EffectSize float64 `json:"effect_size"`
	Power      float64 `json:"power"`
}

// PowerCurve computes power across the effect size grid, assuming the null
// proportion propNull and the given per-arm sample sizes. The returned
// sequence is lazy and can be ranged over any number of times.
func (e *Engine) PowerCurve(propNull float64, trialsNull, trialsAlt int) iter.Seq[PowerPoint] {
	return func(yield func(PowerPoint) bool) {
		se := math.Sqrt(propNull * (1 - propNull) * (1/float64(trialsNull) + 1/float64(trialsAlt)))
		if se == 0 {
			// A null proportion of 0 or 1 has no power curve.
			return
		}
		var zAlpha float64
		if e.tails == TwoTailed {
			zAlpha = stats.NormalQuantile(1 - e.alpha/2)
		} else {
			zAlpha = stats.NormalQuantile(1 - e.alpha)
		}
		for i := 0; ; i++ {
			effectSize := float64(i) * effectSizeStep
			if effectSize >= effectSizeMax {
				return
			}
			power := 1 - stats.NormalCDF(zAlpha-effectSize/se)
			if !yield(PowerPoint{EffectSize: effectSize, Power: power}) {
				return
			}
		}
	}
}
