package bucketing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ControlGroup is the reference arm for every pairwise comparison. A group
// map without it is rejected.
const ControlGroup = "control"

var (
	ErrEmptyRanges       = errors.New("group map has no ranges")
	ErrNoControlGroup    = errors.New("group map has no control group")
	ErrInvalidRange      = errors.New("invalid bucket range")
	ErrOverlappingRanges = errors.New("bucket ranges overlap")
	ErrDuplicateGroup    = errors.New("duplicate group name")
	ErrUnassignedBucket  = errors.New("bucket not assigned to any group")
)

// GroupRange names a contiguous half-open range [Start, End) of buckets.
type GroupRange struct {
	Name  string
	Start int
	End   int
}

func (r GroupRange) contains(bucket int) bool {
	return bucket >= r.Start && bucket < r.End
}

// GroupRanges is a validated partition of the bucket space into named
// groups. Ranges are pairwise disjoint and include a control group. The
// partition may leave buckets uncovered; those surface as
// ErrUnassignedBucket when a subject hashes into the gap.
type GroupRanges struct {
	ranges      []GroupRange
	bucketCount int
}

// NewGroupRanges validates the given ranges against a bucket space of
// bucketCount buckets. Overlaps, out-of-bounds or empty ranges, duplicate
// names, and a missing control group are all construction errors; they are
// never tolerated at assignment time.
func NewGroupRanges(ranges []GroupRange, bucketCount int) (*GroupRanges, error) {
	if bucketCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucketCount, bucketCount)
	}
	if len(ranges) == 0 {
		return nil, ErrEmptyRanges
	}
	seen := make(map[string]bool, len(ranges))
	hasControl := false
	for _, r := range ranges {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: empty group name", ErrInvalidRange)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, r.Name)
		}
		seen[r.Name] = true
		if r.Name == ControlGroup {
			hasControl = true
		}
		if r.Start < 0 || r.End > bucketCount || r.Start >= r.End {
			return nil, fmt.Errorf("%w: %s:[%d,%d) with %d buckets",
				ErrInvalidRange, r.Name, r.Start, r.End, bucketCount)
		}
	}
	if !hasControl {
		return nil, ErrNoControlGroup
	}
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].Start < ranges[j].End && ranges[j].Start < ranges[i].End {
				return nil, fmt.Errorf("%w: %s:[%d,%d) and %s:[%d,%d)",
					ErrOverlappingRanges,
					ranges[i].Name, ranges[i].Start, ranges[i].End,
					ranges[j].Name, ranges[j].Start, ranges[j].End)
			}
		}
	}
	cp := make([]GroupRange, len(ranges))
	copy(cp, ranges)
	return &GroupRanges{ranges: cp, bucketCount: bucketCount}, nil
}

// ParseGroupRanges builds a GroupRanges from a textual spec such as
// "control:0-50,test1:50-75,test2:75-100". Each entry is name:start-end
// with end exclusive.
func ParseGroupRanges(spec string, bucketCount int) (*GroupRanges, error) {
	parts := strings.Split(spec, ",")
	ranges := make([]GroupRange, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, bounds, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, part)
		}
		lo, hi, ok := strings.Cut(bounds, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, part, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, part, err)
		}
		ranges = append(ranges, GroupRange{
			Name:  strings.TrimSpace(name),
			Start: start,
			End:   end,
		})
	}
	return NewGroupRanges(ranges, bucketCount)
}

// Assign returns the group owning the subject's bucket. The scan follows
// the order ranges were given in; since construction rejects overlaps, at
// most one range can match.
func (g *GroupRanges) Assign(subjectID string) (string, error) {
	bucket, err := Bucket(subjectID, g.bucketCount)
	if err != nil {
		return "", err
	}
	for _, r := range g.ranges {
		if r.contains(bucket) {
			return r.Name, nil
		}
	}
	return "", fmt.Errorf("%w: subject %q in bucket %d", ErrUnassignedBucket, subjectID, bucket)
}

// Groups returns the group names in the order their ranges were declared.
func (g *GroupRanges) Groups() []string {
	names := make([]string, len(g.ranges))
	for i, r := range g.ranges {
		names[i] = r.Name
	}
	return names
}

// TestGroups returns every non-control group name, in declaration order.
func (g *GroupRanges) TestGroups() []string {
	names := make([]string, 0, len(g.ranges)-1)
	for _, r := range g.ranges {
		if r.Name != ControlGroup {
			names = append(names, r.Name)
		}
	}
	return names
}

// BucketCount returns the size of the bucket space.
func (g *GroupRanges) BucketCount() int {
	return g.bucketCount
}

// Covered reports whether every bucket in [0, bucketCount) belongs to some
// group. A false return means some subjects will fail assignment.
func (g *GroupRanges) Covered() bool {
	covered := 0
	for _, r := range g.ranges {
		covered += r.End - r.Start
	}
	return covered == g.bucketCount
}
