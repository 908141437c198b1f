package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/seasonal"
)

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(domain.DateLayout)
}

func printSummary(w io.Writer, s seasonal.Summary) {
	fmt.Fprintf(w, "records: %d\nfrom: %s\nto: %s\nyears: %d\nmonths: %d\n",
		s.TotalRecords, formatDate(s.FirstDate), formatDate(s.LastDate), s.Years, s.Months)
}

// printPreview renders the first n records as an aligned table with two decimals.
func printPreview(w io.Writer, records []domain.EnrichedRecord, n int) {
	if n <= 0 || len(records) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join(domain.OutputColumns, "\t")+"\t")
	for _, r := range records[:min(n, len(records))] {
		cells := []string{
			r.Date.Format(domain.DateLayout),
			domain.FormatPrice(r.Open, 2),
			domain.FormatPrice(r.High, 2),
			domain.FormatPrice(r.Low, 2),
			domain.FormatPrice(r.Close, 2),
			domain.FormatFixed(r.Change, 2),
			strconv.Itoa(r.MonthNo),
			domain.FormatFixed(r.Normalized, 2),
			domain.FormatFixed(r.AverageNorm, 2),
			domain.FormatFixed(r.TrueSeasonal, 2),
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	_ = tw.Flush()
}
