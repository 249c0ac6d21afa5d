// Package corrections adjusts p-value vectors for multiple comparisons.
// Running one pairwise test per treatment group multiplies the chances of
// a false positive; these procedures raise the p-values to compensate.
// The adjusted values match statsmodels' multipletests routines, which
// serve as the reference oracle in the tests.
package corrections

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownMethod = errors.New("unknown correction method")

// Method selects the correction procedure.
type Method int

const (
	// Bonferroni controls the family-wise error rate by scaling every
	// p-value by the number of tests. Simple and most conservative.
	Bonferroni Method = iota
	// Holm is a step-down refinement of Bonferroni: same family-wise
	// guarantee, uniformly more powerful.
	Holm
	// FDRBH is Benjamini-Hochberg, controlling the false discovery rate
	// rather than the family-wise error rate.
	FDRBH
)

func (m Method) String() string {
	switch m {
	case Bonferroni:
		return "bonferroni"
	case Holm:
		return "holm"
	case FDRBH:
		return "fdr_bh"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// MethodFromString parses "bonferroni", "holm", or "fdr_bh".
func MethodFromString(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "bonferroni":
		return Bonferroni, nil
	case "holm":
		return Holm, nil
	case "fdr_bh":
		return FDRBH, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Corrected pairs a group's original p-value with its adjusted value.
type Corrected struct {
	Group    string  `json:"group"`
	Original float64 `json:"original_pvalue"`
	Adjusted float64 `json:"corrected_pvalue"`
}

// Correct adjusts the p-values with the given method. The output keeps the
// input's order and length; an empty input yields an empty output, and a
// single p-value is returned unchanged by all three methods.
func Correct(pvalues []float64, method Method) ([]float64, error) {
	switch method {
	case Bonferroni:
		return bonferroni(pvalues), nil
	case Holm:
		return holm(pvalues), nil
	case FDRBH:
		return benjaminiHochberg(pvalues), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, int(method))
}

// CorrectGroups is Correct with group labels carried through. groups and
// pvalues must have equal length and matching order.
func CorrectGroups(groups []string, pvalues []float64, method Method) ([]Corrected, error) {
	if len(groups) != len(pvalues) {
		return nil, fmt.Errorf("got %d groups for %d p-values", len(groups), len(pvalues))
	}
	adjusted, err := Correct(pvalues, method)
	if err != nil {
		return nil, err
	}
	out := make([]Corrected, len(pvalues))
	for i := range pvalues {
		out[i] = Corrected{Group: groups[i], Original: pvalues[i], Adjusted: adjusted[i]}
	}
	return out, nil
}

func bonferroni(pvalues []float64) []float64 {
	m := float64(len(pvalues))
	out := make([]float64, len(pvalues))
	for i, p := range pvalues {
		out[i] = min(p*m, 1)
	}
	return out
}

// ascendingOrder returns the indices of pvalues sorted by ascending value.
// Ties keep their input order, so tied p-values always receive identical
// adjusted values from the cumulative passes below.
func ascendingOrder(pvalues []float64) []int {
	order := make([]int, len(pvalues))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pvalues[order[a]] < pvalues[order[b]]
	})
	return order
}

// holm walks the p-values in ascending order, scaling the k-th smallest by
// (m-k) remaining tests and taking a running maximum. The running maximum
// enforces monotonicity in the ascending-p direction: a larger p-value can
// never end up with a smaller adjusted value than one before it.
func holm(pvalues []float64) []float64 {
	m := len(pvalues)
	order := ascendingOrder(pvalues)
	out := make([]float64, m)
	runningMax := 0.0
	for k, idx := range order {
		adj := float64(m-k) * pvalues[idx]
		if adj > runningMax {
			runningMax = adj
		}
		out[idx] = min(runningMax, 1)
	}
	return out
}

// benjaminiHochberg scales the k-th smallest p-value by m/k, then walks
// from the largest rank down taking a running minimum so adjusted values
// never increase as rank decreases.
func benjaminiHochberg(pvalues []float64) []float64 {
	m := len(pvalues)
	order := ascendingOrder(pvalues)
	out := make([]float64, m)
	runningMin := 1.0
	for k := m - 1; k >= 0; k-- {
		idx := order[k]
		adj := pvalues[idx] * float64(m) / float64(k+1)
		if adj < runningMin {
			runningMin = adj
		}
		out[idx] = min(runningMin, 1)
	}
	return out
}
