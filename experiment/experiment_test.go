package experiment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmellis/splitz/aggregate"
	"github.com/kmellis/splitz/bucketing"
	"github.com/kmellis/splitz/corrections"
	"github.com/kmellis/splitz/frequentist"
	"github.com/kmellis/splitz/stats"
)

func testRanges(t *testing.T) *bucketing.GroupRanges {
	t.Helper()
	g, err := bucketing.ParseGroupRanges("control:0-50,test1:50-75,test2:75-100", bucketing.DefaultBucketCount)
	require.NoError(t, err)
	return g
}

// testRecords builds a deterministic dataset with a distinct success rate
// per group, by assigning each subject the outcome its group's schedule
// dictates.
func testRecords(t *testing.T, ranges *bucketing.GroupRanges, n int) []aggregate.SubjectRecord {
	t.Helper()
	rates := map[string]int{"control": 10, "test1": 5, "test2": 3} // every k-th trial succeeds
	seen := map[string]int{}
	records := make([]aggregate.SubjectRecord, n)
	for i := range records {
		id := fmt.Sprintf("subject-%d", i)
		group, err := ranges.Assign(id)
		require.NoError(t, err)
		seen[group]++
		outcome := 0
		if seen[group]%rates[group] == 0 {
			outcome = 1
		}
		records[i] = aggregate.SubjectRecord{SubjectID: id, Outcome: outcome}
	}
	return records
}

func TestNewRunnerValidation(t *testing.T) {
	ranges := testRanges(t)
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"nil ranges", Config{Method: MethodFrequentist, Alpha: 0.05}, ErrNoRanges},
		{"bad alpha", Config{Ranges: ranges, Method: MethodFrequentist, Alpha: 2}, frequentist.ErrInvalidAlpha},
		{"bad correction", Config{Ranges: ranges, Method: MethodFrequentist, Alpha: 0.05, Correction: corrections.Method(9)}, corrections.ErrUnknownMethod},
		{"bad method", Config{Ranges: ranges, Method: Method(5), Alpha: 0.05}, ErrUnknownEngine},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewRunner(c.cfg)
			assert.ErrorIs(t, err, c.want)
		})
	}
}

func TestRunFrequentist(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	records := testRecords(t, ranges, 6000)

	runner, err := NewRunner(DefaultConfig(ranges))
	is.NoErr(err)
	report, err := runner.Run(context.Background(), records)
	is.NoErr(err)

	is.Equal(len(report.Groups), 2)
	is.Equal(report.Groups[0].Group, "test1")
	is.Equal(report.Groups[1].Group, "test2")
	is.Equal(report.Control.Group, "control")
	is.True(report.Control.Trials > 0)

	// Each pairwise result must match a direct engine invocation on the
	// same counts.
	eng, err := frequentist.New(0.05, frequentist.TwoTailed)
	is.NoErr(err)
	for _, g := range report.Groups {
		want, err := eng.Conduct(
			report.Control.Successes, report.Control.Trials,
			g.Counts.Successes, g.Counts.Trials)
		is.NoErr(err)
		is.True(stats.FuzzyEqual(g.Frequentist.Statistic, want.Statistic))
		is.True(stats.FuzzyEqual(g.Frequentist.PValue, want.PValue))
		is.Equal(g.Bayesian, nil)
	}

	// Bonferroni over two tests doubles each p-value, preserving order.
	is.Equal(len(report.Corrected), 2)
	for i, c := range report.Corrected {
		is.Equal(c.Group, report.Groups[i].Group)
		is.True(stats.FuzzyEqual(c.Adjusted, min(c.Original*2, 1)))
	}
}

func TestRunFrequentistParallelDeterministic(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	records := testRecords(t, ranges, 6000)

	cfg := DefaultConfig(ranges)
	seq, err := NewRunner(cfg)
	is.NoErr(err)
	cfg.Workers = 8
	par, err := NewRunner(cfg)
	is.NoErr(err)

	a, err := seq.Run(context.Background(), records)
	is.NoErr(err)
	b, err := par.Run(context.Background(), records)
	is.NoErr(err)
	is.Equal(a, b)
}

func TestRunSequentialMode(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	records := testRecords(t, ranges, 6000)

	cfg := DefaultConfig(ranges)
	cfg.Sequential = true
	cfg.StoppingThreshold = 0.05
	runner, err := NewRunner(cfg)
	is.NoErr(err)
	report, err := runner.Run(context.Background(), records)
	is.NoErr(err)

	// test2 succeeds every 3rd trial vs control's every 10th; that large a
	// gap crosses the threshold long before the stream ends.
	var test2 *GroupResult
	for i := range report.Groups {
		if report.Groups[i].Group == "test2" {
			test2 = &report.Groups[i]
		}
	}
	is.True(test2 != nil)
	is.True(test2.Frequentist.StoppedEarly)
	is.True(test2.Frequentist.StoppedAt > 0)
	is.True(test2.Frequentist.PValue < 0.05)
}

func TestRunBayesian(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	records := testRecords(t, ranges, 6000)

	cfg := DefaultConfig(ranges)
	cfg.Method = MethodBayesian
	cfg.Samples = 500
	runner, err := NewRunner(cfg)
	is.NoErr(err)
	report, err := runner.Run(context.Background(), records)
	is.NoErr(err)

	is.Equal(report.Corrected, nil)
	for _, g := range report.Groups {
		is.Equal(g.Frequentist, nil)
		is.True(g.Bayesian != nil)
		is.Equal(g.Bayesian.Group, g.Group)
		is.Equal(g.Bayesian.Samples, 500)
		is.Equal(len(g.UpliftDraws), 500)
		is.True(g.Bayesian.ProbAboveCut >= 0 && g.Bayesian.ProbAboveCut <= 1)
		// Both treatments convert far better than control.
		is.True(g.Bayesian.ProbAboveCut > 0.9)
	}
}

func TestRunDegenerateSkipsCorrection(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	// Nobody converts anywhere: pooled proportion 0 for every pair.
	records := make([]aggregate.SubjectRecord, 3000)
	for i := range records {
		records[i] = aggregate.SubjectRecord{SubjectID: fmt.Sprintf("subject-%d", i), Outcome: 0}
	}
	runner, err := NewRunner(DefaultConfig(ranges))
	is.NoErr(err)
	report, err := runner.Run(context.Background(), records)
	is.NoErr(err)
	for _, g := range report.Groups {
		is.True(g.Frequentist.Degenerate)
	}
	is.Equal(report.Corrected, nil)
}

func TestRunPropagatesAggregationErrors(t *testing.T) {
	is := is.New(t)
	ranges := testRanges(t)
	runner, err := NewRunner(DefaultConfig(ranges))
	is.NoErr(err)
	_, err = runner.Run(context.Background(), []aggregate.SubjectRecord{
		{SubjectID: "u1", Outcome: 7},
	})
	is.True(errors.Is(err, aggregate.ErrInvalidOutcome))
}

func TestMethodFromString(t *testing.T) {
	is := is.New(t)
	m, err := MethodFromString("frequentist")
	is.NoErr(err)
	is.Equal(m, MethodFrequentist)
	m, err = MethodFromString("Bayesian")
	is.NoErr(err)
	is.Equal(m, MethodBayesian)
	_, err = MethodFromString("chi-squared")
	is.True(errors.Is(err, ErrUnknownEngine))
}
