// Package export writes derived asset histories to spreadsheet destinations.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/seasonal"
)

// ProcessedSheet is the sheet name used when a single asset is exported to a workbook.
const ProcessedSheet = "Processed_Data"

// SummarySheet lists per-asset totals when several assets are exported together.
const SummarySheet = "SUMMARY"

// Sheet is the derived history of one asset.
type Sheet struct {
	Asset   string
	Records []domain.EnrichedRecord
}

// SheetWriter writes asset sheets to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, sheets []Sheet) error
}

// RecordSource provides stored asset histories.
type RecordSource interface {
	Assets(ctx context.Context) ([]string, error)
	Records(ctx context.Context, asset string) ([]domain.EnrichedRecord, error)
}

// Service reads asset histories and delegates writing to a SheetWriter.
type Service struct {
	source RecordSource
	writer SheetWriter
}

// NewService creates a new export Service.
func NewService(source RecordSource, writer SheetWriter) *Service {
	return &Service{source: source, writer: writer}
}

// ExportAsset writes one asset.
func (s *Service) ExportAsset(ctx context.Context, asset string) error {
	records, err := s.source.Records(ctx, asset)
	if err != nil {
		return fmt.Errorf("reading %s: %w", asset, err)
	}
	return s.writer.Write(ctx, []Sheet{{Asset: asset, Records: records}})
}

// ExportAll writes every stored asset. Assets that fail to load are skipped.
func (s *Service) ExportAll(ctx context.Context) (int, error) {
	assets, err := s.source.Assets(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing assets: %w", err)
	}

	sheets := make([]Sheet, 0, len(assets))
	for _, asset := range assets {
		records, err := s.source.Records(ctx, asset)
		if err != nil {
			slog.Warn("export: skipping asset", "asset", asset, "error", err)
			continue
		}
		sheets = append(sheets, Sheet{Asset: asset, Records: records})
	}
	if len(sheets) == 0 {
		return 0, nil
	}

	if err := s.writer.Write(ctx, sheets); err != nil {
		return 0, err
	}
	return len(sheets), nil
}

// buildTable renders records with the OutputColumns header. Missing values are nil.
func buildTable(records []domain.EnrichedRecord) [][]any {
	data := make([][]any, 0, len(records)+1)
	data = append(data, lo.ToAnySlice(domain.OutputColumns))

	for _, r := range records {
		data = append(data, []any{
			r.Date.Format(domain.DateLayout),
			cellFloat(r.Open), cellFloat(r.High), cellFloat(r.Low), cellFloat(r.Close),
			cellNull(r.Change),
			r.MonthNo,
			cellNull(r.Normalized),
			cellNull(r.AverageNorm),
			cellNull(r.TrueSeasonal),
		})
	}
	return data
}

// buildSummary renders one row per asset: record count, date range, distinct years and months.
func buildSummary(sheets []Sheet) [][]any {
	data := [][]any{{"Asset", "Records", "First Date", "Last Date", "Years", "Months"}}
	for _, sh := range sheets {
		s := seasonal.Summarize(sh.Records)
		var first, last any
		if s.FirstDate != nil {
			first = s.FirstDate.Format(domain.DateLayout)
			last = s.LastDate.Format(domain.DateLayout)
		}
		data = append(data, []any{sh.Asset, s.TotalRecords, first, last, s.Years, s.Months})
	}
	return data
}

func cellFloat(f float64) any {
	if p := domain.FloatPtr(f); p != nil {
		return *p
	}
	return nil
}

func cellNull(v domain.NullFloat) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

// maxSheetName is the longest sheet title spreadsheet applications accept, in runes.
const maxSheetName = 31

// sheetName strips characters spreadsheets reject in sheet titles and truncates to 31 runes.
func sheetName(asset string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, asset)
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Asset"
	}
	return truncateRunes(name, maxSheetName)
}

// sheetNames assigns each asset a distinct sheet title. Titles compare
// case-insensitively, SUMMARY is reserved, and collisions get a _2, _3 suffix.
func sheetNames(sheets []Sheet) []string {
	used := map[string]bool{strings.ToLower(SummarySheet): true}
	names := make([]string, len(sheets))
	for i, sh := range sheets {
		base := sheetName(sh.Asset)
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			suffix := "_" + strconv.Itoa(n)
			name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

func truncateRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
