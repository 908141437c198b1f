package seasonal

import (
	"github.com/samber/lo"

	"github.com/mtlprog/seasonal/internal/domain"
)

// bounds is the min/max of the present values of one group.
type bounds struct {
	min, max float64
	n        int
}

func (b bounds) add(v float64) bounds {
	if b.n == 0 {
		return bounds{min: v, max: v, n: 1}
	}
	b.min = min(b.min, v)
	b.max = max(b.max, v)
	b.n++
	return b
}

// rescale maps v into [0,100] over the group range, or reports the policy's
// missing value when the group is empty, its range is zero, or v is absent.
func (b bounds) rescale(v domain.NullFloat, policy domain.MissingPolicy) domain.NullFloat {
	if b.n == 0 || !v.Valid {
		return policy.Missing()
	}
	span := b.max - b.min
	if span == 0 {
		return policy.Missing()
	}
	return policy.Apply(((v.Float64 - b.min) / span) * 100)
}

// yearBounds groups records by calendar year and collects the bounds of one
// derived column. Missing values are excluded.
func yearBounds(rows []domain.EnrichedRecord, value func(domain.EnrichedRecord) domain.NullFloat) map[int]bounds {
	byYear := lo.GroupBy(rows, func(r domain.EnrichedRecord) int { return r.Date.Year() })
	return lo.MapValues(byYear, func(group []domain.EnrichedRecord, _ int) bounds {
		return lo.Reduce(group, func(b bounds, r domain.EnrichedRecord, _ int) bounds {
			if v := value(r); v.Valid {
				return b.add(v.Float64)
			}
			return b
		}, bounds{})
	})
}

// Mean returns the arithmetic mean of values, summed in order, or false when empty.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return lo.Sum(values) / float64(len(values)), true
}
