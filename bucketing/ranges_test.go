package bucketing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRanges(t *testing.T, spec string) *GroupRanges {
	t.Helper()
	g, err := ParseGroupRanges(spec, DefaultBucketCount)
	require.NoError(t, err)
	return g
}

func TestParseGroupRanges(t *testing.T) {
	is := is.New(t)
	g := mustRanges(t, "control:0-50,test1:50-75,test2:75-100")
	is.Equal(g.Groups(), []string{"control", "test1", "test2"})
	is.Equal(g.TestGroups(), []string{"test1", "test2"})
	is.Equal(g.BucketCount(), 100)
	is.True(g.Covered())
}

func TestParseGroupRangesWhitespace(t *testing.T) {
	is := is.New(t)
	g := mustRanges(t, " control : 0-50 , test1 : 50-100 ")
	is.Equal(g.Groups(), []string{"control", "test1"})
}

func TestConstructionErrors(t *testing.T) {
	cases := []struct {
		name string
		spec string
		want error
	}{
		{"empty", "", ErrEmptyRanges},
		{"no control", "test1:0-50,test2:50-100", ErrNoControlGroup},
		{"overlap", "control:0-60,test1:50-100", ErrOverlappingRanges},
		{"inverted", "control:50-10", ErrInvalidRange},
		{"out of bounds", "control:0-50,test1:50-120", ErrInvalidRange},
		{"negative", "control:-5-50", ErrInvalidRange},
		{"duplicate", "control:0-40,control:40-100", ErrDuplicateGroup},
		{"malformed", "control=0-50", ErrInvalidRange},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseGroupRanges(c.spec, DefaultBucketCount)
			assert.ErrorIs(t, err, c.want)
		})
	}
}

func TestAssign(t *testing.T) {
	is := is.New(t)
	g := mustRanges(t, "control:0-50,test1:50-100")
	// "u1" hashes to bucket 17, inside control's range.
	group, err := g.Assign("u1")
	is.NoErr(err)
	is.Equal(group, "control")
	// "u2" hashes to bucket 88.
	group, err = g.Assign("u2")
	is.NoErr(err)
	is.Equal(group, "test1")
}

func TestAssignUnassignedBucket(t *testing.T) {
	is := is.New(t)
	// Leave [50,100) uncovered; "u2" (bucket 88) falls into the gap.
	g, err := NewGroupRanges([]GroupRange{{Name: ControlGroup, Start: 0, End: 50}}, DefaultBucketCount)
	is.NoErr(err)
	is.True(!g.Covered())
	_, err = g.Assign("u2")
	is.True(errors.Is(err, ErrUnassignedBucket))
}

func TestFullPartitionNeverFailsAssignment(t *testing.T) {
	g := mustRanges(t, "control:0-34,test1:34-67,test2:67-100")
	for i := 0; i < 2000; i++ {
		if _, err := g.Assign(fmt.Sprintf("subject-%d", i)); err != nil {
			t.Fatalf("assignment failed on covered partition: %v", err)
		}
	}
}
