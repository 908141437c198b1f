// Package seasonal derives the seasonal columns of a daily OHLC history.
//
// Derive runs a fixed sequence of passes over the whole history:
//
//	dates -> stable sort -> %change -> M-no -> normalized (per year)
//	-> Average_Norm (running mean per calendar month) -> True_Seasonal (per year)
//
// Each pass reads the finished output of the previous one, because the grouped
// columns depend on year- and month-wide aggregates of earlier columns.
// Derive is pure: it keeps no state between calls and never mutates its input.
package seasonal

import (
	"slices"

	"github.com/mtlprog/seasonal/internal/domain"
)

// Derive enriches records with %change, M-no, normalized, Average_Norm and
// True_Seasonal. Records whose Date cannot be resolved are dropped. The result
// is ordered by date; records sharing a date keep their input order.
func Derive(records []domain.PriceRecord, policy domain.MissingPolicy) []domain.EnrichedRecord {
	rows := resolveDates(records)
	slices.SortStableFunc(rows, func(a, b domain.EnrichedRecord) int {
		return a.Date.Compare(b.Date)
	})
	applyChange(rows, policy)
	applyMonth(rows)
	applyNormalized(rows, policy)
	applyAverageNorm(rows, policy)
	applyTrueSeasonal(rows, policy)
	return rows
}

// resolveDates converts input rows, silently skipping unparseable dates.
func resolveDates(records []domain.PriceRecord) []domain.EnrichedRecord {
	rows := make([]domain.EnrichedRecord, 0, len(records))
	for _, rec := range records {
		date, ok := ParseDate(rec[domain.ColDate])
		if !ok {
			continue
		}
		rows = append(rows, domain.EnrichedRecord{
			Date:  date,
			Open:  domain.ToFloat(rec[domain.ColOpen]),
			High:  domain.ToFloat(rec[domain.ColHigh]),
			Low:   domain.ToFloat(rec[domain.ColLow]),
			Close: domain.ToFloat(rec[domain.ColClose]),
			Extra: extraColumns(rec),
		})
	}
	return rows
}

func extraColumns(rec domain.PriceRecord) map[string]any {
	var extra map[string]any
	for k, v := range rec {
		if domain.IsSchemaColumn(k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}

// applyChange sets the close-to-close difference against the previous row.
func applyChange(rows []domain.EnrichedRecord, policy domain.MissingPolicy) {
	for i := range rows {
		if i == 0 {
			rows[i].Change = policy.Missing()
			continue
		}
		rows[i].Change = policy.Apply(rows[i].Close - rows[i-1].Close)
	}
}

func applyMonth(rows []domain.EnrichedRecord) {
	for i := range rows {
		rows[i].MonthNo = int(rows[i].Date.Month())
	}
}

// applyNormalized rescales %change to [0,100] within each calendar year.
func applyNormalized(rows []domain.EnrichedRecord, policy domain.MissingPolicy) {
	b := yearBounds(rows, func(r domain.EnrichedRecord) domain.NullFloat { return r.Change })
	for i := range rows {
		rows[i].Normalized = b[rows[i].Date.Year()].rescale(rows[i].Change, policy)
	}
}

// applyAverageNorm sets the expanding mean of normalized over all rows of the
// same calendar month, across years, up to and including the current position.
func applyAverageNorm(rows []domain.EnrichedRecord, policy domain.MissingPolicy) {
	var sums [13]float64
	var counts [13]int
	for i := range rows {
		m := rows[i].MonthNo
		if v := rows[i].Normalized; v.Valid {
			sums[m] += v.Float64
			counts[m]++
		}
		if counts[m] == 0 {
			rows[i].AverageNorm = policy.Missing()
			continue
		}
		rows[i].AverageNorm = policy.Apply(sums[m] / float64(counts[m]))
	}
}

// applyTrueSeasonal rescales Average_Norm to [0,100] within each calendar year.
func applyTrueSeasonal(rows []domain.EnrichedRecord, policy domain.MissingPolicy) {
	b := yearBounds(rows, func(r domain.EnrichedRecord) domain.NullFloat { return r.AverageNorm })
	for i := range rows {
		rows[i].TrueSeasonal = b[rows[i].Date.Year()].rescale(rows[i].AverageNorm, policy)
	}
}
