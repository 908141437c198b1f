package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samber/lo"
)

// DateLayout is the serialized form of a record date.
const DateLayout = "2006-01-02"

// Column names as they appear in spreadsheets and JSON payloads.
const (
	ColDate         = "Date"
	ColOpen         = "Open"
	ColHigh         = "High"
	ColLow          = "Low"
	ColClose        = "Close"
	ColChange       = "%change"
	ColMonthNo      = "M-no"
	ColNormalized   = "normalized"
	ColAverageNorm  = "Average_Norm"
	ColTrueSeasonal = "True_Seasonal"
)

// colYear is the grouping key used while deriving; it is never emitted.
const colYear = "Year"

// RequiredColumns must be present in an upload before derivation.
var RequiredColumns = []string{ColDate, ColOpen, ColHigh, ColLow, ColClose}

// OutputColumns is the column order used for tables and spreadsheet export.
var OutputColumns = []string{
	ColDate, ColOpen, ColHigh, ColLow, ColClose,
	ColChange, ColMonthNo, ColNormalized, ColAverageNorm, ColTrueSeasonal,
}

// ErrMissingColumns indicates an upload without one of RequiredColumns.
var ErrMissingColumns = errors.New("missing columns")

// ValidateColumns checks that every required column appears in at least one record.
func ValidateColumns(records []PriceRecord) error {
	if len(records) == 0 {
		return nil
	}
	missing := lo.Filter(RequiredColumns, func(col string, _ int) bool {
		return !lo.SomeBy(records, func(r PriceRecord) bool {
			_, ok := r[col]
			return ok
		})
	})
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// PriceRecord is a loosely typed input row keyed by column header.
type PriceRecord map[string]any

// EnrichedRecord is a price row with its seasonal columns.
type EnrichedRecord struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64

	Change       NullFloat
	MonthNo      int
	Normalized   NullFloat
	AverageNorm  NullFloat
	TrueSeasonal NullFloat

	// Extra carries input columns that are not part of the fixed schema.
	Extra map[string]any
}

// Bare returns the {Date, Open, High, Low, Close} tuple used to reprocess a stored row.
func (r EnrichedRecord) Bare() PriceRecord {
	return PriceRecord{
		ColDate:  r.Date.Format(DateLayout),
		ColOpen:  floatOrNil(r.Open),
		ColHigh:  floatOrNil(r.High),
		ColLow:   floatOrNil(r.Low),
		ColClose: floatOrNil(r.Close),
	}
}

// Field returns a numeric column by name.
func (r EnrichedRecord) Field(col string) (NullFloat, bool) {
	switch col {
	case ColOpen:
		return NullFloatFromPtr(FloatPtr(r.Open)), true
	case ColHigh:
		return NullFloatFromPtr(FloatPtr(r.High)), true
	case ColLow:
		return NullFloatFromPtr(FloatPtr(r.Low)), true
	case ColClose:
		return NullFloatFromPtr(FloatPtr(r.Close)), true
	case ColChange:
		return r.Change, true
	case ColMonthNo:
		return Float(float64(r.MonthNo)), true
	case ColNormalized:
		return r.Normalized, true
	case ColAverageNorm:
		return r.AverageNorm, true
	case ColTrueSeasonal:
		return r.TrueSeasonal, true
	default:
		return NullFloat{}, false
	}
}

// IsSchemaColumn reports whether col is owned by EnrichedRecord rather than Extra.
// The internal Year key counts as owned so that it never leaks into output.
func IsSchemaColumn(col string) bool {
	return col == colYear || lo.Contains(OutputColumns, col)
}

func (r EnrichedRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+len(OutputColumns))
	for k, v := range r.Extra {
		m[k] = v
	}
	m[ColDate] = r.Date.Format(DateLayout)
	m[ColOpen] = floatOrNil(r.Open)
	m[ColHigh] = floatOrNil(r.High)
	m[ColLow] = floatOrNil(r.Low)
	m[ColClose] = floatOrNil(r.Close)
	m[ColChange] = r.Change
	m[ColMonthNo] = r.MonthNo
	m[ColNormalized] = r.Normalized
	m[ColAverageNorm] = r.AverageNorm
	m[ColTrueSeasonal] = r.TrueSeasonal
	return json.Marshal(m)
}

func (r *EnrichedRecord) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	var out EnrichedRecord
	var date string
	if err := json.Unmarshal(m[ColDate], &date); err != nil {
		return fmt.Errorf("decoding %s: %w", ColDate, err)
	}
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", ColDate, err)
	}
	out.Date = d

	prices := map[string]*float64{ColOpen: &out.Open, ColHigh: &out.High, ColLow: &out.Low, ColClose: &out.Close}
	for col, dst := range prices {
		var p *float64
		if raw, ok := m[col]; ok {
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding %s: %w", col, err)
			}
		}
		*dst = FloatFromPtr(p)
	}

	derived := map[string]*NullFloat{
		ColChange:       &out.Change,
		ColNormalized:   &out.Normalized,
		ColAverageNorm:  &out.AverageNorm,
		ColTrueSeasonal: &out.TrueSeasonal,
	}
	for col, dst := range derived {
		if raw, ok := m[col]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("decoding %s: %w", col, err)
			}
		}
	}

	if raw, ok := m[ColMonthNo]; ok {
		if err := json.Unmarshal(raw, &out.MonthNo); err != nil {
			return fmt.Errorf("decoding %s: %w", ColMonthNo, err)
		}
	}

	for k, raw := range m {
		if IsSchemaColumn(k) {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decoding %s: %w", k, err)
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}

	*r = out
	return nil
}

func floatOrNil(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
