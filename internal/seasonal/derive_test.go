package seasonal

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/mtlprog/seasonal/internal/domain"
)

const tolerance = 1e-9

func ohlc(date any, close any) domain.PriceRecord {
	return domain.PriceRecord{"Date": date, "Open": close, "High": close, "Low": close, "Close": close}
}

func assertValue(t *testing.T, label string, got domain.NullFloat, want float64) {
	t.Helper()
	if !got.Valid {
		t.Errorf("%s = null, want %v", label, want)
		return
	}
	if math.Abs(got.Float64-want) > tolerance {
		t.Errorf("%s = %v, want %v", label, got.Float64, want)
	}
}

func assertNull(t *testing.T, label string, got domain.NullFloat) {
	t.Helper()
	if got.Valid {
		t.Errorf("%s = %v, want null", label, got.Float64)
	}
}

func TestDeriveScenarioA(t *testing.T) {
	input := []domain.PriceRecord{
		{"Date": "2023-01-01", "Open": 10.0, "High": 11.0, "Low": 9.0, "Close": 10.0},
		{"Date": "2023-01-02", "Open": 10.0, "High": 12.0, "Low": 9.0, "Close": 11.0},
	}

	out := Derive(input, domain.ZeroFill)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}

	assertValue(t, "out[0].%change", out[0].Change, 0)
	assertValue(t, "out[1].%change", out[1].Change, 1)
	for i, r := range out {
		if r.MonthNo != 1 {
			t.Errorf("out[%d].M-no = %d, want 1", i, r.MonthNo)
		}
	}
	assertValue(t, "out[0].normalized", out[0].Normalized, 0)
	assertValue(t, "out[1].normalized", out[1].Normalized, 100)
	// Average_Norm: 0, then (0+100)/2; True_Seasonal rescales {0, 50}.
	assertValue(t, "out[0].Average_Norm", out[0].AverageNorm, 0)
	assertValue(t, "out[1].Average_Norm", out[1].AverageNorm, 50)
	assertValue(t, "out[0].True_Seasonal", out[0].TrueSeasonal, 0)
	assertValue(t, "out[1].True_Seasonal", out[1].TrueSeasonal, 100)
}

func TestDeriveScenarioBSerialDate(t *testing.T) {
	out := Derive([]domain.PriceRecord{ohlc(44927.0, 1.0)}, domain.ZeroFill)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if got := out[0].Date.Format(domain.DateLayout); got != "2023-01-01" {
		t.Errorf("Date = %s, want 2023-01-01", got)
	}
}

func TestDeriveScenarioCDeletionReprocesses(t *testing.T) {
	closes := []float64{10, 11, 13, 12, 20, 19, 18, 21, 22, 21}
	full := make([]domain.PriceRecord, 0, len(closes))
	for i, c := range closes {
		full = append(full, ohlc(time.Date(2023, 3, i+1, 0, 0, 0, 0, time.UTC).Format(domain.DateLayout), c))
	}

	before := Derive(full, domain.ZeroFill)

	// Drop the jump from 12 to 20, the largest change of the year.
	trimmed := append(append([]domain.PriceRecord{}, full[:4]...), full[5:]...)
	after := Derive(trimmed, domain.ZeroFill)
	if len(after) != 9 {
		t.Fatalf("len = %d, want 9", len(after))
	}

	changed := 0
	for _, a := range after {
		for _, b := range before {
			if a.Date.Equal(b.Date) && a.Normalized != b.Normalized {
				changed++
			}
		}
	}
	if changed == 0 {
		t.Error("expected normalized values of remaining rows to change after deletion")
	}
}

func TestDeriveScenarioDEmpty(t *testing.T) {
	for _, p := range []domain.MissingPolicy{domain.ZeroFill, domain.PropagateMissing} {
		out := Derive(nil, p)
		if len(out) != 0 {
			t.Errorf("%s: len = %d, want 0", p, len(out))
		}
	}
}

func TestDeriveDropsUnparseableDates(t *testing.T) {
	input := []domain.PriceRecord{
		ohlc("2023-01-03", 3.0),
		ohlc("not-a-date", 99.0),
		ohlc(nil, 98.0),
		{"Open": 1.0, "Close": 1.0},
		ohlc("2023-01-01", 1.0),
	}

	out := Derive(input, domain.ZeroFill)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	for _, r := range out {
		if r.Close == 99 || r.Close == 98 {
			t.Errorf("unparseable row survived: %+v", r)
		}
	}
}

func TestDeriveStableOrderForEqualDates(t *testing.T) {
	input := []domain.PriceRecord{
		ohlc("2023-05-02", 10.0),
		ohlc("2023-05-02", 20.0),
		ohlc("2023-05-01", 5.0),
	}

	out := Derive(input, domain.ZeroFill)
	got := []float64{out[0].Close, out[1].Close, out[2].Close}
	want := []float64{5, 10, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closes = %v, want %v", got, want)
		}
	}
	// The second same-day row sees the first one in its running month mean.
	assertValue(t, "out[1].%change", out[1].Change, 5)
	assertValue(t, "out[2].%change", out[2].Change, 10)
	assertValue(t, "out[2].Average_Norm", out[2].AverageNorm, (0+50+100)/3.0)
}

func multiYearInput() []domain.PriceRecord {
	return []domain.PriceRecord{
		ohlc("2023-01-25", 13.0),
		ohlc("2022-01-20", 12.0),
		ohlc("2022-02-10", 11.0),
		ohlc("2022-01-10", 10.0),
		ohlc("2023-01-05", 15.0),
	}
}

func TestDeriveMultiYearZeroFill(t *testing.T) {
	out := Derive(multiYearInput(), domain.ZeroFill)
	if len(out) != 5 {
		t.Fatalf("len = %d, want 5", len(out))
	}

	wantDates := []string{"2022-01-10", "2022-01-20", "2022-02-10", "2023-01-05", "2023-01-25"}
	for i, d := range wantDates {
		if got := out[i].Date.Format(domain.DateLayout); got != d {
			t.Fatalf("out[%d].Date = %s, want %s", i, got, d)
		}
	}

	// %change: 0, 2, -1, 4, -2
	for i, want := range []float64{0, 2, -1, 4, -2} {
		assertValue(t, "%change", out[i].Change, want)
	}

	// 2022 range [-1, 2], 2023 range [-2, 4].
	third := 100.0 / 3
	for i, want := range []float64{third, 100, 0, 100, 0} {
		assertValue(t, "normalized", out[i].Normalized, want)
	}

	// January mean runs across years; February stands alone.
	wantAvg := []float64{third, (third + 100) / 2, 0, (third + 200) / 3, (third + 200) / 4}
	for i, want := range wantAvg {
		assertValue(t, "Average_Norm", out[i].AverageNorm, want)
	}

	// 2022 Average_Norm {33.3, 66.7, 0}; 2023 {77.8, 58.3}.
	for i, want := range []float64{50, 100, 0, 100, 0} {
		assertValue(t, "True_Seasonal", out[i].TrueSeasonal, want)
	}

	if out[2].MonthNo != 2 || out[4].MonthNo != 1 {
		t.Errorf("M-no = %d/%d, want 2/1", out[2].MonthNo, out[4].MonthNo)
	}
}

func TestDeriveMultiYearPropagateMissing(t *testing.T) {
	out := Derive(multiYearInput(), domain.PropagateMissing)

	assertNull(t, "out[0].%change", out[0].Change)
	assertNull(t, "out[0].normalized", out[0].Normalized)
	assertNull(t, "out[0].Average_Norm", out[0].AverageNorm)
	assertNull(t, "out[0].True_Seasonal", out[0].TrueSeasonal)

	for i, want := range []float64{100, 0, 100, 0} {
		assertValue(t, "normalized", out[i+1].Normalized, want)
	}
	for i, want := range []float64{100, 0, 100, 200.0 / 3} {
		assertValue(t, "Average_Norm", out[i+1].AverageNorm, want)
	}
	for i, want := range []float64{100, 0, 100, 0} {
		assertValue(t, "True_Seasonal", out[i+1].TrueSeasonal, want)
	}
}

func TestDeriveSingleRecordPolicy(t *testing.T) {
	input := []domain.PriceRecord{ohlc("2021-07-04", 5.0)}

	zero := Derive(input, domain.ZeroFill)[0]
	assertValue(t, "zero normalized", zero.Normalized, 0)
	assertValue(t, "zero True_Seasonal", zero.TrueSeasonal, 0)

	null := Derive(input, domain.PropagateMissing)[0]
	assertNull(t, "null normalized", null.Normalized)
	assertNull(t, "null True_Seasonal", null.TrueSeasonal)
}

func TestDeriveMissingClose(t *testing.T) {
	input := []domain.PriceRecord{
		ohlc("2023-01-01", 1.0),
		{"Date": "2023-01-02", "Open": 1.0, "High": 1.0, "Low": 1.0},
		ohlc("2023-01-03", 4.0),
		ohlc("2023-01-04", 6.0),
	}

	zero := Derive(input, domain.ZeroFill)
	assertValue(t, "zero out[1].%change", zero[1].Change, 0)
	assertValue(t, "zero out[2].%change", zero[2].Change, 0)
	assertValue(t, "zero out[3].%change", zero[3].Change, 2)
	if !math.IsNaN(zero[1].Close) {
		t.Errorf("missing Close = %v, want NaN", zero[1].Close)
	}

	null := Derive(input, domain.PropagateMissing)
	assertNull(t, "null out[1].%change", null[1].Change)
	assertNull(t, "null out[2].%change", null[2].Change)
	assertValue(t, "null out[3].%change", null[3].Change, 2)
	// Only one present %change in the year: zero range.
	assertNull(t, "null out[3].normalized", null[3].Normalized)
}

func TestDerivePassesExtraColumnsAndDropsYear(t *testing.T) {
	input := []domain.PriceRecord{
		{"Date": "2023-01-01", "Open": 1.0, "High": 1.0, "Low": 1.0, "Close": 1.0, "Volume": 300.0, "Year": 1999.0},
	}
	out := Derive(input, domain.ZeroFill)
	if out[0].Extra["Volume"] != 300.0 {
		t.Errorf("Volume = %v, want 300", out[0].Extra["Volume"])
	}
	if _, ok := out[0].Extra["Year"]; ok {
		t.Error("Year must not be passed through")
	}
	if _, ok := input[0]["Year"]; !ok {
		t.Error("input record must not be mutated")
	}
}

func randomHistory(r *rand.Rand, n int) []domain.PriceRecord {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	records := make([]domain.PriceRecord, 0, n)
	price := 100.0
	for i := range n {
		price += r.NormFloat64() * 2
		day := start.AddDate(0, 0, r.IntN(365*4))
		records = append(records, ohlc(day.Format(domain.DateLayout), price))
		if i%50 == 0 {
			records = append(records, ohlc("garbage", price))
		}
	}
	return records
}

func TestDeriveInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	input := randomHistory(r, 600)

	for _, p := range []domain.MissingPolicy{domain.ZeroFill, domain.PropagateMissing} {
		out := Derive(input, p)
		if len(out) != 600 {
			t.Fatalf("%s: len = %d, want 600", p, len(out))
		}
		for i, rec := range out {
			if i > 0 && rec.Date.Before(out[i-1].Date) {
				t.Fatalf("%s: out[%d] is before out[%d]", p, i, i-1)
			}
			if rec.MonthNo < 1 || rec.MonthNo > 12 || rec.MonthNo != int(rec.Date.Month()) {
				t.Errorf("%s: M-no = %d for %s", p, rec.MonthNo, rec.Date)
			}
			for label, v := range map[string]domain.NullFloat{"normalized": rec.Normalized, "True_Seasonal": rec.TrueSeasonal} {
				if v.Valid && (v.Float64 < 0 || v.Float64 > 100) {
					t.Errorf("%s: %s = %v out of [0,100]", p, label, v.Float64)
				}
			}
		}
	}
}

func TestDeriveDeterministic(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	input := randomHistory(r, 200)

	first, err := json.Marshal(Derive(input, domain.ZeroFill))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(Derive(input, domain.ZeroFill))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Error("Derive output differs between identical calls")
	}
}
