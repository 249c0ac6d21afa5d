// Package aggregate folds subject outcome records into per-group success
// and trial counts. Aggregation is commutative, so records can be folded
// in any order, or in parallel shards merged at the end.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kmellis/splitz/bucketing"
)

var ErrInvalidOutcome = errors.New("outcome must be 0 or 1")

// SubjectRecord is one subject's observed outcome. Outcome must be exactly
// 0 (failure) or 1 (success).
type SubjectRecord struct {
	SubjectID string `json:"subject_id"`
	Outcome   int    `json:"outcome"`
}

// GroupCounts is the final tally for one group. Once aggregation returns,
// counts are never mutated again.
type GroupCounts struct {
	Group     string `json:"group"`
	Successes int    `json:"successes"`
	Trials    int    `json:"trials"`
}

// Aggregate assigns every record to a group and tallies successes and
// trials per group. Every group in the range map gets an entry, even with
// zero trials. Any unassignable subject or out-of-domain outcome aborts
// the whole fold.
func Aggregate(records []SubjectRecord, ranges *bucketing.GroupRanges) (map[string]GroupCounts, error) {
	counts := emptyCounts(ranges)
	for _, rec := range records {
		if err := tally(counts, rec, ranges); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// AggregateParallel shards the records across workers, folds each shard
// into private counts, and merges the partials. The result is identical to
// Aggregate for any worker count; the merge runs only after every shard
// has finished.
func AggregateParallel(ctx context.Context, records []SubjectRecord, ranges *bucketing.GroupRanges, workers int) (map[string]GroupCounts, error) {
	if workers <= 1 || len(records) < workers {
		return Aggregate(records, ranges)
	}
	logger := zerolog.Ctx(ctx)
	logger.Debug().Int("workers", workers).Int("records", len(records)).Msg("parallel-aggregate")

	partials := make([]map[string]GroupCounts, workers)
	shard := (len(records) + workers - 1) / workers
	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * shard
		hi := min(lo+shard, len(records))
		if lo >= hi {
			partials[w] = emptyCounts(ranges)
			continue
		}
		g.Go(func() error {
			part, err := Aggregate(records[lo:hi], ranges)
			if err != nil {
				return err
			}
			partials[w] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := emptyCounts(ranges)
	for _, part := range partials {
		Merge(total, part)
	}
	return total, nil
}

// Merge adds src's counts into dst. Both maps must cover the same groups.
func Merge(dst, src map[string]GroupCounts) {
	for name, c := range src {
		d := dst[name]
		d.Group = name
		d.Successes += c.Successes
		d.Trials += c.Trials
		dst[name] = d
	}
}

func emptyCounts(ranges *bucketing.GroupRanges) map[string]GroupCounts {
	counts := make(map[string]GroupCounts)
	for _, name := range ranges.Groups() {
		counts[name] = GroupCounts{Group: name}
	}
	return counts
}

func tally(counts map[string]GroupCounts, rec SubjectRecord, ranges *bucketing.GroupRanges) error {
	if rec.Outcome != 0 && rec.Outcome != 1 {
		return fmt.Errorf("%w: subject %q has outcome %d", ErrInvalidOutcome, rec.SubjectID, rec.Outcome)
	}
	group, err := ranges.Assign(rec.SubjectID)
	if err != nil {
		return err
	}
	c := counts[group]
	c.Successes += rec.Outcome
	c.Trials++
	counts[group] = c
	return nil
}
