package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/seasonal/internal/domain"
)

// ErrNotFound indicates that the requested asset or row was not found.
var ErrNotFound = errors.New("not found")

// Row is one stored record of an asset history.
type Row struct {
	ID          int64
	Asset       string
	ProcessedAt time.Time
	domain.EnrichedRecord
}

func (r Row) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.EnrichedRecord)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["id"] = r.ID
	m["asset"] = r.Asset
	m["processed_date"] = r.ProcessedAt.UTC().Format(time.RFC3339)
	return json.Marshal(m)
}

func (r *Row) UnmarshalJSON(b []byte) error {
	var meta struct {
		ID          int64     `json:"id"`
		Asset       string    `json:"asset"`
		ProcessedAt time.Time `json:"processed_date"`
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return err
	}
	var rec domain.EnrichedRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	maps.DeleteFunc(rec.Extra, func(k string, _ any) bool {
		return k == "id" || k == "asset" || k == "processed_date"
	})
	if len(rec.Extra) == 0 {
		rec.Extra = nil
	}
	*r = Row{ID: meta.ID, Asset: meta.Asset, ProcessedAt: meta.ProcessedAt, EnrichedRecord: rec}
	return nil
}

// Stats aggregates the whole store.
type Stats struct {
	TotalRecords int        `json:"total_records"`
	AssetsCount  int        `json:"assets_count"`
	MinDate      *time.Time `json:"min_date"`
	MaxDate      *time.Time `json:"max_date"`
}

// DateRange is the first and last stored date of an asset.
type DateRange struct {
	MinDate *time.Time `json:"min_date"`
	MaxDate *time.Time `json:"max_date"`
}

// RebuildFunc computes the replacement history of an asset from its stored rows.
type RebuildFunc func(existing []Row) ([]domain.EnrichedRecord, error)

// Repository defines persistent storage for asset histories.
type Repository interface {
	Insert(ctx context.Context, asset string, records []domain.EnrichedRecord, processedAt time.Time) error
	ListAssets(ctx context.Context) ([]string, error)
	Rows(ctx context.Context, asset string) ([]Row, error)
	DeleteAsset(ctx context.Context, asset string) error
	Stats(ctx context.Context) (Stats, error)
	DateRange(ctx context.Context, asset string) (DateRange, error)
	Reset(ctx context.Context) error
	// Replace swaps the whole history of an asset atomically.
	Replace(ctx context.Context, asset string, processedAt time.Time, rebuild RebuildFunc) ([]domain.EnrichedRecord, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL asset repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var insertColumns = []string{
	"asset", "trade_date", "open", "high", "low", "close",
	"pct_change", "month_no", "normalized", "average_norm", "true_seasonal", "processed_at",
}

const selectRows = `SELECT id, asset, trade_date, open, high, low, close,
	pct_change, month_no, normalized, average_norm, true_seasonal, processed_at
	FROM asset_data
	WHERE asset = $1
	ORDER BY trade_date, id`

func (r *PgRepository) Insert(ctx context.Context, asset string, records []domain.EnrichedRecord, processedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return copyRecords(ctx, tx, asset, records, processedAt)
	})
	if err != nil {
		return fmt.Errorf("inserting rows for %s: %w", asset, err)
	}
	return nil
}

func (r *PgRepository) ListAssets(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT asset FROM asset_data ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	assets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning assets: %w", err)
	}
	return assets, nil
}

func (r *PgRepository) Rows(ctx context.Context, asset string) ([]Row, error) {
	rows, err := r.pool.Query(ctx, selectRows, asset)
	if err != nil {
		return nil, fmt.Errorf("querying rows for %s: %w", asset, err)
	}
	return collectRows(rows)
}

func (r *PgRepository) DeleteAsset(ctx context.Context, asset string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM asset_data WHERE asset = $1`, asset)
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", asset, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT asset), MIN(trade_date), MAX(trade_date) FROM asset_data`,
	).Scan(&s.TotalRecords, &s.AssetsCount, &s.MinDate, &s.MaxDate)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}

func (r *PgRepository) DateRange(ctx context.Context, asset string) (DateRange, error) {
	var dr DateRange
	err := r.pool.QueryRow(ctx,
		`SELECT MIN(trade_date), MAX(trade_date) FROM asset_data WHERE asset = $1`, asset,
	).Scan(&dr.MinDate, &dr.MaxDate)
	if err != nil {
		return DateRange{}, fmt.Errorf("reading date range for %s: %w", asset, err)
	}
	return dr, nil
}

// Reset empties the table and restarts row ids.
func (r *PgRepository) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE asset_data RESTART IDENTITY`); err != nil {
		return fmt.Errorf("resetting asset data: %w", err)
	}
	return nil
}

// Replace reads, rebuilds and rewrites an asset inside one transaction.
// A transaction-scoped advisory lock serializes concurrent edits of the same asset.
func (r *PgRepository) Replace(ctx context.Context, asset string, processedAt time.Time, rebuild RebuildFunc) ([]domain.EnrichedRecord, error) {
	var result []domain.EnrichedRecord
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, asset); err != nil {
			return fmt.Errorf("locking asset: %w", err)
		}

		rows, err := tx.Query(ctx, selectRows, asset)
		if err != nil {
			return fmt.Errorf("querying rows: %w", err)
		}
		existing, err := collectRows(rows)
		if err != nil {
			return err
		}

		result, err = rebuild(existing)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM asset_data WHERE asset = $1`, asset); err != nil {
			return fmt.Errorf("deleting old rows: %w", err)
		}
		return copyRecords(ctx, tx, asset, result, processedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("replacing rows for %s: %w", asset, err)
	}
	return result, nil
}

func copyRecords(ctx context.Context, tx pgx.Tx, asset string, records []domain.EnrichedRecord, processedAt time.Time) error {
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"asset_data"}, insertColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				asset, rec.Date,
				domain.FloatPtr(rec.Open), domain.FloatPtr(rec.High), domain.FloatPtr(rec.Low), domain.FloatPtr(rec.Close),
				rec.Change.Ptr(), rec.MonthNo, rec.Normalized.Ptr(), rec.AverageNorm.Ptr(), rec.TrueSeasonal.Ptr(),
				processedAt,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copying rows: %w", err)
	}
	return nil
}

func collectRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row                                         Row
			open, high, low, closePrice                 *float64
			change, normalized, averageNorm, trueSeason *float64
		)
		if err := rows.Scan(&row.ID, &row.Asset, &row.Date,
			&open, &high, &low, &closePrice,
			&change, &row.MonthNo, &normalized, &averageNorm, &trueSeason,
			&row.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row.Open = domain.FloatFromPtr(open)
		row.High = domain.FloatFromPtr(high)
		row.Low = domain.FloatFromPtr(low)
		row.Close = domain.FloatFromPtr(closePrice)
		row.Change = domain.NullFloatFromPtr(change)
		row.Normalized = domain.NullFloatFromPtr(normalized)
		row.AverageNorm = domain.NullFloatFromPtr(averageNorm)
		row.TrueSeasonal = domain.NullFloatFromPtr(trueSeason)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
