package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kmellis/splitz/aggregate"
	"github.com/kmellis/splitz/bayesian"
	"github.com/kmellis/splitz/bucketing"
	"github.com/kmellis/splitz/config"
	"github.com/kmellis/splitz/corrections"
	"github.com/kmellis/splitz/experiment"
	"github.com/kmellis/splitz/frequentist"
)

// experimentFile is the YAML experiment definition. Any field present
// overrides the corresponding flag.
type experimentFile struct {
	Groups            string  `yaml:"groups"`
	Method            string  `yaml:"method"`
	Alpha             float64 `yaml:"alpha"`
	Tails             string  `yaml:"tails"`
	Sequential        bool    `yaml:"sequential"`
	StoppingThreshold float64 `yaml:"stopping_threshold"`
	Correction        string  `yaml:"correction"`
	PriorSuccesses    int     `yaml:"prior_successes"`
	PriorTrials       int     `yaml:"prior_trials"`
	Samples           int     `yaml:"samples"`
	Uplift            string  `yaml:"uplift"`
	Workers           int     `yaml:"workers"`
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	recordsPath := cfg.GetString("records")
	if recordsPath == "" {
		return fmt.Errorf("no subject records given; pass --records data.json")
	}
	records, err := loadRecords(recordsPath)
	if err != nil {
		return err
	}
	logger.Info().Int("records", len(records)).Str("file", recordsPath).Msg("loaded subject records")

	runCfg, err := buildConfig(cfg)
	if err != nil {
		return err
	}
	runner, err := experiment.NewRunner(runCfg)
	if err != nil {
		return err
	}
	ctx := logger.WithContext(context.Background())
	report, err := runner.Run(ctx, records)
	if err != nil {
		return err
	}
	printReport(report, runCfg)
	return nil
}

// loadRecords reads a JSON array of {"subject_id": ..., "outcome": 0|1}.
func loadRecords(path string) ([]aggregate.SubjectRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []aggregate.SubjectRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return records, nil
}

func buildConfig(cfg *config.Config) (experiment.Config, error) {
	var file experimentFile
	if path := cfg.GetString("experiment-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return experiment.Config{}, err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return experiment.Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	groups := cfg.GetString("groups")
	if file.Groups != "" {
		groups = file.Groups
	}
	ranges, err := bucketing.ParseGroupRanges(groups, bucketing.DefaultBucketCount)
	if err != nil {
		return experiment.Config{}, err
	}
	out := experiment.DefaultConfig(ranges)

	method := cfg.GetString("method")
	if file.Method != "" {
		method = file.Method
	}
	if out.Method, err = experiment.MethodFromString(method); err != nil {
		return experiment.Config{}, err
	}

	out.Alpha = pick(file.Alpha, cfg.GetFloat64("alpha"))
	tails := cfg.GetString("tails")
	if file.Tails != "" {
		tails = file.Tails
	}
	if out.Tails, err = frequentist.TailsFromString(tails); err != nil {
		return experiment.Config{}, err
	}
	out.Sequential = file.Sequential || cfg.GetBool("sequential")
	out.StoppingThreshold = pick(file.StoppingThreshold, cfg.GetFloat64("stopping-threshold"))

	correction := cfg.GetString("correction")
	if file.Correction != "" {
		correction = file.Correction
	}
	if out.Correction, err = corrections.MethodFromString(correction); err != nil {
		return experiment.Config{}, err
	}

	out.PriorSuccesses = pickInt(file.PriorSuccesses, cfg.GetInt("prior-successes"))
	out.PriorTrials = pickInt(file.PriorTrials, cfg.GetInt("prior-trials"))
	out.Samples = pickInt(file.Samples, cfg.GetInt("samples"))
	uplift := cfg.GetString("uplift")
	if file.Uplift != "" {
		uplift = file.Uplift
	}
	if out.Uplift, err = bayesian.UpliftMethodFromString(uplift); err != nil {
		return experiment.Config{}, err
	}
	out.Workers = pickInt(file.Workers, cfg.GetInt("workers"))
	return out, nil
}

func pick(fromFile, fromFlags float64) float64 {
	if fromFile != 0 {
		return fromFile
	}
	return fromFlags
}

func pickInt(fromFile, fromFlags int) int {
	if fromFile != 0 {
		return fromFile
	}
	return fromFlags
}

func printReport(report *experiment.Report, cfg experiment.Config) {
	fmt.Printf("Control: %d/%d (%.2f%%)\n",
		report.Control.Successes, report.Control.Trials,
		100*rate(report.Control))
	for _, g := range report.Groups {
		fmt.Printf("\nResults for %s\n=========================\n", g.Group)
		fmt.Printf("Successes: %d/%d (%.2f%%)\n", g.Counts.Successes, g.Counts.Trials, 100*rate(g.Counts))
		switch {
		case g.Frequentist != nil:
			printFrequentist(g.Frequentist, cfg)
		case g.Bayesian != nil:
			printBayesian(g.Bayesian, g.UpliftDraws)
		}
	}
	if len(report.Corrected) > 0 {
		fmt.Printf("\nCorrected p-values (%s)\n=========================\n", cfg.Correction)
		for _, c := range report.Corrected {
			fmt.Printf("%-12s %.4f -> %.4f\n", c.Group, c.Original, c.Adjusted)
		}
	}
}

func printFrequentist(res *frequentist.Result, cfg experiment.Config) {
	if res.Degenerate {
		fmt.Println("Statistic undefined: pooled proportion is 0 or 1")
		return
	}
	fmt.Printf("Test Statistic (Z): %.4f\n", res.Statistic)
	fmt.Printf("P-Value: %.4f\n", res.PValue)
	yn := "No"
	if res.Significant {
		yn = "Yes"
	}
	fmt.Printf("Significant at alpha=%v? %s\n", cfg.Alpha, yn)
	if res.StoppedEarly {
		fmt.Printf("Stopped early at observation %d\n", res.StoppedAt)
	}
	if len(res.PowerCurve) > 0 {
		fmt.Println("Power by effect size:")
		for _, p := range res.PowerCurve {
			if int(math.Round(p.EffectSize*1000))%25 == 0 { // print every 0.025
				fmt.Printf("  %.3f  %.3f\n", p.EffectSize, p.Power)
			}
		}
	}
}

func printBayesian(summary *bayesian.UpliftSummary, draws []float64) {
	fmt.Printf("Uplift (%s): mean %.4f, stdev %.4f\n", summary.Method, summary.Mean, summary.Stdev)
	fmt.Printf("95%% interval: [%.4f, %.4f], median %.4f\n", summary.Q025, summary.Q975, summary.Median)
	fmt.Printf("P(uplift above cutoff): %.2f%%\n", 100*summary.ProbAboveCut)
	if len(draws) > 0 {
		fmt.Println("Posterior uplift distribution:")
		hist := histogram.Hist(12, draws)
		if err := histogram.Fprint(os.Stdout, hist, histogram.Linear(40)); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func rate(c aggregate.GroupCounts) float64 {
	if c.Trials == 0 {
		return 0
	}
	return float64(c.Successes) / float64(c.Trials)
}
