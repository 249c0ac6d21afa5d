package stats

import "gonum.org/v1/gonum/stat/distuv"

var stdNormal = distuv.Normal{
	Mu:    0,
	Sigma: 1,
}

// NormalCDF returns Φ(x), the standard normal cumulative distribution
// function evaluated at x.
func NormalCDF(x float64) float64 {
	return stdNormal.CDF(x)
}

// NormalQuantile returns Φ⁻¹(p), the inverse of the standard normal CDF.
func NormalQuantile(p float64) float64 {
	return stdNormal.Quantile(p)
}

// ZVal returns the two-tailed Z-value associated with a specific confidence
// interval. The interval is a number from 0 to 100 percent.
func ZVal(confidenceInterval float64) float64 {
	area := (1 + (confidenceInterval / 100)) / 2
	return stdNormal.Quantile(area)
}
