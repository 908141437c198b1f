package asset

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/mtlprog/seasonal/internal/domain"
)

// memRepo is an in-memory Repository keyed by asset.
type memRepo struct {
	rows     map[string][]Row
	nextID   int64
	rowsHits int
	err      error
	// afterRead runs once the rows are copied, standing in for a write that
	// lands between the read and the cache fill.
	afterRead func()
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string][]Row)}
}

func (m *memRepo) store(asset string, records []domain.EnrichedRecord, processedAt time.Time) {
	for _, rec := range records {
		m.nextID++
		m.rows[asset] = append(m.rows[asset], Row{ID: m.nextID, Asset: asset, ProcessedAt: processedAt, EnrichedRecord: rec})
	}
	slices.SortStableFunc(m.rows[asset], func(a, b Row) int { return a.Date.Compare(b.Date) })
}

func (m *memRepo) Insert(_ context.Context, asset string, records []domain.EnrichedRecord, processedAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.store(asset, records, processedAt)
	return nil
}

func (m *memRepo) ListAssets(_ context.Context) ([]string, error) {
	var out []string
	for k := range m.rows {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, m.err
}

func (m *memRepo) Rows(_ context.Context, asset string) ([]Row, error) {
	m.rowsHits++
	rows := slices.Clone(m.rows[asset])
	if hook := m.afterRead; hook != nil {
		m.afterRead = nil
		hook()
	}
	return rows, m.err
}

func (m *memRepo) DeleteAsset(_ context.Context, asset string) error {
	if _, ok := m.rows[asset]; !ok {
		return ErrNotFound
	}
	delete(m.rows, asset)
	return nil
}

func (m *memRepo) Stats(_ context.Context) (Stats, error) {
	s := Stats{AssetsCount: len(m.rows)}
	for _, rows := range m.rows {
		s.TotalRecords += len(rows)
	}
	return s, m.err
}

func (m *memRepo) DateRange(_ context.Context, asset string) (DateRange, error) {
	rows := m.rows[asset]
	if len(rows) == 0 {
		return DateRange{}, m.err
	}
	first, last := rows[0].Date, rows[len(rows)-1].Date
	return DateRange{MinDate: &first, MaxDate: &last}, m.err
}

func (m *memRepo) Reset(_ context.Context) error {
	m.rows = make(map[string][]Row)
	m.nextID = 0
	return m.err
}

func (m *memRepo) Replace(_ context.Context, asset string, processedAt time.Time, rebuild RebuildFunc) ([]domain.EnrichedRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	result, err := rebuild(slices.Clone(m.rows[asset]))
	if err != nil {
		return nil, err
	}
	delete(m.rows, asset)
	m.store(asset, result, processedAt)
	return result, nil
}

func price(date string, close float64) domain.PriceRecord {
	return domain.PriceRecord{"Date": date, "Open": close, "High": close, "Low": close, "Close": close}
}

func closes(rows []Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Close
	}
	return out
}

func TestUploadValidatesColumns(t *testing.T) {
	svc := NewService(newMemRepo(), nil, domain.ZeroFill)
	_, err := svc.Upload(context.Background(), "BTC", []domain.PriceRecord{{"Date": "2023-01-01", "Close": 1.0}}, domain.ZeroFill, false)
	if !errors.Is(err, domain.ErrMissingColumns) {
		t.Fatalf("err = %v, want ErrMissingColumns", err)
	}
}

func TestUploadAppendsAndReplaces(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, " BTC ", []domain.PriceRecord{price("2023-01-02", 2)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 1)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := len(repo.rows["BTC"]); got != 2 {
		t.Fatalf("rows after append = %d, want 2", got)
	}

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2024-01-01", 5)}, domain.ZeroFill, true); err != nil {
		t.Fatalf("Upload replace: %v", err)
	}
	if got := closes(repo.rows["BTC"]); !slices.Equal(got, []float64{5}) {
		t.Errorf("rows after replace = %v, want [5]", got)
	}
}

func TestUploadRejectsBlankAsset(t *testing.T) {
	svc := NewService(newMemRepo(), nil, domain.ZeroFill)
	_, err := svc.Upload(context.Background(), "  ", []domain.PriceRecord{price("2023-01-01", 1)}, domain.ZeroFill, false)
	if !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("err = %v, want ErrInvalidAsset", err)
	}
}

func TestAddRowReprocessesHistory(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 100), price("2023-01-03", 120)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	derived, err := svc.AddRow(ctx, "BTC", domain.PriceRecord{"Date": "2023-01-02", "Open": 1.0, "High": 1.0, "Low": 1.0, "Close": 110.0, "Note": "x"})
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	if len(derived) != 3 {
		t.Fatalf("len = %d, want 3", len(derived))
	}
	mid := derived[1]
	if mid.Close != 110 || !mid.Change.Valid || mid.Change.Float64 != 10 {
		t.Errorf("inserted row = %+v, want close 110 with change 10", mid)
	}
	if mid.Extra != nil {
		t.Errorf("extra columns should be dropped, got %v", mid.Extra)
	}
	last := derived[2]
	if !last.Normalized.Valid || last.Normalized.Float64 != 100 {
		t.Errorf("last normalized = %+v, want 100", last.Normalized)
	}
}

func TestAddRowRejectsBadDate(t *testing.T) {
	svc := NewService(newMemRepo(), nil, domain.ZeroFill)
	_, err := svc.AddRow(context.Background(), "BTC", domain.PriceRecord{"Date": "soon", "Close": 1.0})
	if !errors.Is(err, ErrInvalidRow) {
		t.Fatalf("err = %v, want ErrInvalidRow", err)
	}
}

func TestUpdateRowMergesFields(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 100), price("2023-01-02", 110)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	id := repo.rows["BTC"][1].ID

	derived, err := svc.UpdateRow(ctx, "BTC", id, domain.PriceRecord{"Close": 150.0})
	if err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if derived[1].Close != 150 || derived[1].Open != 110 {
		t.Errorf("updated row = %+v, want close 150 with open kept at 110", derived[1])
	}
	if derived[1].Change.Float64 != 50 {
		t.Errorf("change = %v, want 50", derived[1].Change)
	}

	if _, err := svc.UpdateRow(ctx, "BTC", 999, domain.PriceRecord{"Close": 1.0}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
	if _, err := svc.UpdateRow(ctx, "BTC", id, domain.PriceRecord{"Date": "bad"}); !errors.Is(err, ErrInvalidRow) {
		t.Errorf("bad date err = %v, want ErrInvalidRow", err)
	}
}

func TestDeleteRowReprocessesRemaining(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{
		price("2023-01-01", 100), price("2023-01-02", 110), price("2023-01-03", 121),
	}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	id := repo.rows["BTC"][1].ID

	derived, err := svc.DeleteRow(ctx, "BTC", id)
	if err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if len(derived) != 2 {
		t.Fatalf("len = %d, want 2", len(derived))
	}
	if got := derived[1].Change.Float64; got != 21 {
		t.Errorf("change after delete = %v, want 21", got)
	}

	if _, err := svc.DeleteRow(ctx, "BTC", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestEditPolicyApplied(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.PropagateMissing)
	ctx := context.Background()

	derived, err := svc.AddRow(ctx, "BTC", price("2023-01-01", 100))
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	if derived[0].Change.Valid || derived[0].Normalized.Valid {
		t.Errorf("single row under propagate-missing = %+v, want nulls", derived[0])
	}
}

func TestRowsUsesCache(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, NewMemoryCache(time.Minute), domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 1)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	for range 3 {
		if _, err := svc.Rows(ctx, "BTC"); err != nil {
			t.Fatalf("Rows: %v", err)
		}
	}
	if repo.rowsHits != 1 {
		t.Errorf("repo hits = %d, want 1", repo.rowsHits)
	}

	if _, err := svc.AddRow(ctx, "BTC", price("2023-01-02", 2)); err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	rows, err := svc.Rows(ctx, "BTC")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 2 || repo.rowsHits != 2 {
		t.Errorf("rows = %d, hits = %d; want 2 rows after invalidation", len(rows), repo.rowsHits)
	}
}

func TestRowsUnknownAsset(t *testing.T) {
	svc := NewService(newMemRepo(), nil, domain.ZeroFill)
	if _, err := svc.Rows(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.DateRange(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DateRange err = %v, want ErrNotFound", err)
	}
}

func TestResetClearsStoreAndCache(t *testing.T) {
	repo := newMemRepo()
	cache := NewMemoryCache(time.Minute)
	svc := NewService(repo, cache, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 1)}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := svc.Rows(ctx, "BTC"); err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "BTC"); ok {
		t.Error("cache should be empty after reset")
	}
	assets, _ := svc.Assets(ctx)
	if len(assets) != 0 {
		t.Errorf("assets = %v, want none", assets)
	}
}

func TestProfileDefaultsToLatestYear(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, domain.ZeroFill)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{
		price("2022-05-01", 1), price("2023-01-01", 1), price("2023-01-02", 2),
	}, domain.ZeroFill, false); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	points, year, err := svc.Profile(ctx, "BTC", 0, domain.ColClose)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if year != 2023 {
		t.Errorf("year = %d, want 2023", year)
	}
	if points[0].Value.Float64 != 1.5 || points[0].Count != 2 {
		t.Errorf("Jan = %+v, want mean 1.5 over 2 rows", points[0])
	}
	if _, _, err := svc.Profile(ctx, "BTC", 2023, "Volume"); err == nil {
		t.Error("expected error for unsupported field")
	}
}

func TestRowsSkipsCacheFillAfterConcurrentWrite(t *testing.T) {
	tests := []struct {
		name  string
		write func(ctx context.Context, svc *Service) error
		want  int
	}{
		{
			name: "row added",
			write: func(ctx context.Context, svc *Service) error {
				_, err := svc.AddRow(ctx, "BTC", price("2023-01-02", 2))
				return err
			},
			want: 2,
		},
		{
			name: "asset replaced",
			write: func(ctx context.Context, svc *Service) error {
				_, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{
					price("2023-01-01", 5), price("2023-01-02", 6), price("2023-01-03", 7),
				}, domain.ZeroFill, true)
				return err
			},
			want: 3,
		},
		{
			name: "store reset and reloaded",
			write: func(ctx context.Context, svc *Service) error {
				if err := svc.Reset(ctx); err != nil {
					return err
				}
				_, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{
					price("2023-01-01", 5), price("2023-01-02", 6), price("2023-01-03", 7), price("2023-01-04", 8),
				}, domain.ZeroFill, false)
				return err
			},
			want: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			cache := NewMemoryCache(time.Minute)
			svc := NewService(repo, cache, domain.ZeroFill)
			ctx := context.Background()

			if _, err := svc.Upload(ctx, "BTC", []domain.PriceRecord{price("2023-01-01", 1)}, domain.ZeroFill, false); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			repo.afterRead = func() {
				if err := tt.write(ctx, svc); err != nil {
					t.Errorf("write: %v", err)
				}
			}

			stale, err := svc.Rows(ctx, "BTC")
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if len(stale) != 1 {
				t.Fatalf("first read = %d rows, want the 1 row read before the write", len(stale))
			}
			if _, ok, _ := cache.Get(ctx, "BTC"); ok {
				t.Fatal("rows read before the write were cached")
			}

			rows, err := svc.Rows(ctx, "BTC")
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("rows = %d, want %d", len(rows), tt.want)
			}
			if _, ok, _ := cache.Get(ctx, "BTC"); !ok {
				t.Error("fresh rows were not cached")
			}
		})
	}
}
