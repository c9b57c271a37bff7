package impact

import (
	"cmp"
	"slices"
)

// Bucket is a coarse severity class used for presentation.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// SeverityBucket classifies a severity value.
func SeverityBucket(severity float64) Bucket {
	switch {
	case severity >= 0.75:
		return BucketHigh
	case severity >= 0.4:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Filter narrows the records returned by Rank. The zero value keeps
// direct records of every bucket.
type Filter struct {
	// Buckets keeps only records in the listed buckets. Empty keeps all.
	Buckets []Bucket

	// IncludePropagated keeps propagated records as well.
	IncludePropagated bool
}

func (f Filter) keep(r *Record) bool {
	if r.IsPropagated && !f.IncludePropagated {
		return false
	}
	return len(f.Buckets) == 0 || slices.Contains(f.Buckets, SeverityBucket(r.Severity))
}

// Rank returns the records of result passing filter, ordered by severity
// and then confidence, both descending. Ties keep their original order.
func Rank(result *Result, filter Filter) []*Record {
	if result == nil {
		return nil
	}

	var out []*Record
	for _, group := range [][]*Record{result.Impacted, result.Propagated} {
		for _, r := range group {
			if filter.keep(r) {
				out = append(out, r)
			}
		}
	}

	slices.SortStableFunc(out, func(a, b *Record) int {
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}
