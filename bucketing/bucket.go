// Package bucketing deterministically assigns subjects to experiment arms.
// A subject ID is hashed into one of a fixed number of buckets, and each
// named group owns a contiguous range of buckets. The same subject always
// lands in the same bucket, on any platform, in any process.
package bucketing

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

// DefaultBucketCount is the granularity of the bucket space. 100 buckets
// means group ranges are effectively percentages of traffic.
const DefaultBucketCount = 100

var ErrInvalidBucketCount = errors.New("bucket count must be positive")

// Bucket maps a subject ID to a bucket in [0, bucketCount). The ID's string
// form is hashed with SHA-256 and the digest, read as an unsigned big-endian
// integer, is reduced modulo bucketCount. This matches the classic
// warehouse-side convention, so assignments agree with implementations in
// other languages that fix the same digest and encoding.
func Bucket(subjectID string, bucketCount int) (int, error) {
	if bucketCount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBucketCount, bucketCount)
	}
	sum := sha256.Sum256([]byte(subjectID))
	n := new(big.Int).SetBytes(sum[:])
	m := new(big.Int).Mod(n, big.NewInt(int64(bucketCount)))
	return int(m.Int64()), nil
}
