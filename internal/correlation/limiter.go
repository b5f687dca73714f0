// Package correlation implements exposure limits that account for
// correlated risk between nearby distributions in a market.
//
// A trader who repeatedly targets mu values close together is taking
// correlated risk: if the outcome lands near that neighborhood, every one
// of those positions pays out together. This package buckets positions by
// mu and enforces both a per-bucket and an aggregate nearby-bucket
// exposure limit, mirroring how a geographic correlation limiter buckets
// by spatial proximity instead of by a numeric line.
package correlation

import (
	"errors"
	"math/big"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
)

var (
	// ErrPerBucketLimitExceeded is returned when a trade would push a
	// single mu-bucket's exposure beyond the per-bucket maximum.
	ErrPerBucketLimitExceeded = errors.New("correlation: per-bucket exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push
	// aggregate exposure across nearby mu-buckets beyond the correlated
	// maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated exposure limit exceeded")
)

// MuBucketLimiter enforces exposure limits with correlation awareness
// across nearby regions of the outcome line.
//
// Correlation detection buckets mu into fixed-width intervals of
// BucketWidth; two positions are considered correlated if their bucket
// indices differ by no more than Radius buckets.
type MuBucketLimiter struct {
	// MaxPerBucket is the maximum absolute collateral exposure in any
	// single bucket.
	MaxPerBucket fixedpoint.UFixed

	// MaxCorrelated is the maximum aggregate absolute exposure across all
	// buckets within Radius of the target bucket.
	MaxCorrelated fixedpoint.UFixed

	// BucketWidth determines how wide each mu bucket is.
	BucketWidth fixedpoint.UFixed

	// Radius is how many neighboring buckets on either side are treated
	// as correlated with the target bucket.
	Radius int64
}

// NewMuBucketLimiter creates a limiter with the given per-bucket and
// correlated exposure limits.
func NewMuBucketLimiter(maxPerBucket, maxCorrelated, bucketWidth fixedpoint.UFixed, radius int64) *MuBucketLimiter {
	if radius < 0 {
		radius = 0
	}
	return &MuBucketLimiter{
		MaxPerBucket:  maxPerBucket,
		MaxCorrelated: maxCorrelated,
		BucketWidth:   bucketWidth,
		Radius:        radius,
	}
}

// CheckLimit validates whether a trade targeting mu respects exposure
// limits, given the caller's existing exposures keyed by bucket index.
//
// existingExposures is the caller's current exposure per bucket index
// (as produced by Bucket); it is not mutated.
func (l *MuBucketLimiter) CheckLimit(
	mu fixedpoint.SFixed,
	exposureDelta fixedpoint.UFixed,
	existingExposures map[int64]fixedpoint.UFixed,
) error {
	target := l.Bucket(mu)

	current := existingExposures[target]
	newExposure, err := current.Add(exposureDelta)
	if err != nil {
		return err
	}
	if newExposure.GreaterThan(l.MaxPerBucket) {
		return ErrPerBucketLimitExceeded
	}

	totalCorrelated := newExposure
	for bucket, exposure := range existingExposures {
		if bucket == target {
			continue // already counted via newExposure above
		}
		if abs64(bucket-target) <= l.Radius {
			totalCorrelated, err = totalCorrelated.Add(exposure)
			if err != nil {
				return err
			}
		}
	}

	if totalCorrelated.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}

	return nil
}

// Bucket maps a signed mu into its bucket index: floor(mu / BucketWidth),
// so adjacent negative and positive buckets stay contiguous across zero.
func (l *MuBucketLimiter) Bucket(mu fixedpoint.SFixed) int64 {
	width := l.BucketWidth.ToSigned()
	q, err := mu.Div(width)
	if err != nil {
		return 0
	}
	// q.Raw() is q_real * P; Euclidean Div by P (positive) floors, unlike
	// the truncating-toward-zero Quo the kernel itself uses.
	idx := new(big.Int).Div(q.Raw(), fixedpoint.P)
	return idx.Int64()
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
