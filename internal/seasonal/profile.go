package seasonal

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/seasonal/internal/domain"
)

// MonthPoint is one month of a seasonal chart.
type MonthPoint struct {
	Month     int              `json:"month"`
	MonthName string           `json:"monthName"`
	Value     domain.NullFloat `json:"value"`
	Count     int              `json:"count"`
}

// ProfileFields lists the columns a monthly profile can be drawn from.
var ProfileFields = []string{
	domain.ColTrueSeasonal, domain.ColAverageNorm, domain.ColNormalized, domain.ColChange,
	domain.ColOpen, domain.ColHigh, domain.ColLow, domain.ColClose,
}

// MonthlyProfile averages one column per calendar month of the given year.
// Missing values count as 0. Months without records have a null value.
func MonthlyProfile(records []domain.EnrichedRecord, year int, field string) ([]MonthPoint, error) {
	if !lo.Contains(ProfileFields, field) {
		return nil, fmt.Errorf("unsupported profile field %q", field)
	}

	byMonth := lo.GroupBy(
		lo.Filter(records, func(r domain.EnrichedRecord, _ int) bool { return r.Date.Year() == year }),
		func(r domain.EnrichedRecord) time.Month { return r.Date.Month() },
	)

	points := make([]MonthPoint, 0, 12)
	for m := time.January; m <= time.December; m++ {
		p := MonthPoint{Month: int(m), MonthName: m.String()[:3]}
		rows := byMonth[m]
		values := lo.Map(rows, func(r domain.EnrichedRecord, _ int) float64 {
			v, _ := r.Field(field)
			return v.OrZero()
		})
		if mean, ok := Mean(values); ok {
			p.Value = domain.Float(mean)
			p.Count = len(rows)
		}
		points = append(points, p)
	}
	return points, nil
}

// Years returns the distinct years present, newest first.
func Years(records []domain.EnrichedRecord) []int {
	years := lo.Uniq(lo.Map(records, func(r domain.EnrichedRecord, _ int) int { return r.Date.Year() }))
	slices.SortFunc(years, func(a, b int) int { return cmp.Compare(b, a) })
	return years
}

// Summary describes a derived history, as shown after an upload.
type Summary struct {
	TotalRecords int        `json:"totalRecords"`
	FirstDate    *time.Time `json:"firstDate,omitempty"`
	LastDate     *time.Time `json:"lastDate,omitempty"`
	Years        int        `json:"years"`
	Months       int        `json:"months"`
}

// Summarize counts records, distinct years and distinct calendar months.
func Summarize(records []domain.EnrichedRecord) Summary {
	s := Summary{TotalRecords: len(records)}
	if len(records) == 0 {
		return s
	}
	first := lo.MinBy(records, func(a, b domain.EnrichedRecord) bool { return a.Date.Before(b.Date) }).Date
	last := lo.MaxBy(records, func(a, b domain.EnrichedRecord) bool { return a.Date.After(b.Date) }).Date
	s.FirstDate = &first
	s.LastDate = &last
	s.Years = len(Years(records))
	s.Months = len(lo.Uniq(lo.Map(records, func(r domain.EnrichedRecord, _ int) int { return r.MonthNo })))
	return s
}

// Row orderings offered by the history viewer.
const (
	OrderDateAsc      = "date-asc"
	OrderDateDesc     = "date-desc"
	OrderSeasonalDesc = "seasonal-desc"
)

// SortRecords orders rows in place by one of the Order* keys.
func SortRecords[T any](rows []T, order string, record func(T) domain.EnrichedRecord) error {
	switch order {
	case "", OrderDateAsc:
		slices.SortStableFunc(rows, func(a, b T) int { return record(a).Date.Compare(record(b).Date) })
	case OrderDateDesc:
		slices.SortStableFunc(rows, func(a, b T) int { return record(b).Date.Compare(record(a).Date) })
	case OrderSeasonalDesc:
		slices.SortStableFunc(rows, func(a, b T) int {
			return cmp.Compare(record(b).TrueSeasonal.OrZero(), record(a).TrueSeasonal.OrZero())
		})
	default:
		return fmt.Errorf("unknown order %q", order)
	}
	return nil
}
