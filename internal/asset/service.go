// Package asset stores derived price histories and keeps them consistent on edits.
package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/seasonal"
)

var (
	// ErrInvalidAsset indicates an empty or malformed asset name.
	ErrInvalidAsset = errors.New("invalid asset name")
	// ErrInvalidRow indicates a row edit without a usable date.
	ErrInvalidRow = errors.New("invalid row")
)

// Service runs derivation over stored asset histories.
type Service struct {
	repo   Repository
	cache  RowCache
	policy domain.MissingPolicy
	now    func() time.Time

	// mu guards the write generations. A cache fill is dropped when a write
	// to the same asset, or a reset, finished while the rows were being read.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// generation counts the writes to one asset and the resets of the whole store.
type generation struct {
	writes, resets uint64
}

// NewService creates an asset service. policy applies to every edit-triggered
// reprocess. cache may be nil.
func NewService(repo Repository, cache RowCache, policy domain.MissingPolicy) *Service {
	return &Service{repo: repo, cache: cache, policy: policy, now: time.Now, gens: make(map[string]uint64)}
}

// Policy returns the missing-value policy used for edits.
func (s *Service) Policy() domain.MissingPolicy {
	return s.policy
}

// Process validates and derives records without storing them.
func (s *Service) Process(records []domain.PriceRecord, policy domain.MissingPolicy) ([]domain.EnrichedRecord, error) {
	if err := domain.ValidateColumns(records); err != nil {
		return nil, err
	}
	return seasonal.Derive(records, policy), nil
}

// Upload derives records and stores them under asset. Without replace the
// derived rows are appended to any existing history.
func (s *Service) Upload(ctx context.Context, asset string, records []domain.PriceRecord, policy domain.MissingPolicy, replace bool) ([]domain.EnrichedRecord, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	derived, err := s.Process(records, policy)
	if err != nil {
		return nil, err
	}

	if replace {
		_, err = s.repo.Replace(ctx, asset, s.now().UTC(), func([]Row) ([]domain.EnrichedRecord, error) {
			return derived, nil
		})
	} else {
		err = s.repo.Insert(ctx, asset, derived, s.now().UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", asset, err)
	}
	s.invalidate(ctx, asset)

	slog.Info("asset uploaded", "asset", asset, "rows", len(derived), "policy", policy, "replace", replace)
	return derived, nil
}

// AddRow appends one price row and reprocesses the whole asset.
func (s *Service) AddRow(ctx context.Context, asset string, row domain.PriceRecord) ([]domain.EnrichedRecord, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if _, ok := seasonal.ParseDate(row[domain.ColDate]); !ok {
		return nil, fmt.Errorf("%w: unparseable %s", ErrInvalidRow, domain.ColDate)
	}

	added := bareRow(row)
	return s.reprocess(ctx, asset, "row added", func(existing []Row) ([]domain.PriceRecord, error) {
		records := lo.Map(existing, func(r Row, _ int) domain.PriceRecord { return r.Bare() })
		return append(records, added), nil
	})
}

// UpdateRow overwrites the provided price columns of one stored row and
// reprocesses the whole asset.
func (s *Service) UpdateRow(ctx context.Context, asset string, id int64, fields domain.PriceRecord) ([]domain.EnrichedRecord, error) {
	if v, ok := fields[domain.ColDate]; ok {
		if _, ok := seasonal.ParseDate(v); !ok {
			return nil, fmt.Errorf("%w: unparseable %s", ErrInvalidRow, domain.ColDate)
		}
	}

	return s.reprocess(ctx, asset, "row updated", func(existing []Row) ([]domain.PriceRecord, error) {
		found := false
		records := lo.Map(existing, func(r Row, _ int) domain.PriceRecord {
			bare := r.Bare()
			if r.ID != id {
				return bare
			}
			found = true
			for _, col := range domain.RequiredColumns {
				if v, ok := fields[col]; ok {
					bare[col] = v
				}
			}
			return bare
		})
		if !found {
			return nil, ErrNotFound
		}
		return records, nil
	})
}

// DeleteRow removes one stored row and reprocesses the rest of the asset.
func (s *Service) DeleteRow(ctx context.Context, asset string, id int64) ([]domain.EnrichedRecord, error) {
	return s.reprocess(ctx, asset, "row deleted", func(existing []Row) ([]domain.PriceRecord, error) {
		kept := lo.Reject(existing, func(r Row, _ int) bool { return r.ID == id })
		if len(kept) == len(existing) {
			return nil, ErrNotFound
		}
		return lo.Map(kept, func(r Row, _ int) domain.PriceRecord { return r.Bare() }), nil
	})
}

// reprocess rebuilds an asset from its stored tuples with the edit policy.
func (s *Service) reprocess(ctx context.Context, asset, event string, edit func([]Row) ([]domain.PriceRecord, error)) ([]domain.EnrichedRecord, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}

	derived, err := s.repo.Replace(ctx, asset, s.now().UTC(), func(existing []Row) ([]domain.EnrichedRecord, error) {
		records, err := edit(existing)
		if err != nil {
			return nil, err
		}
		return seasonal.Derive(records, s.policy), nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, asset)

	slog.Info(event, "asset", asset, "rows", len(derived))
	return derived, nil
}

// DeleteAsset removes every row of asset.
func (s *Service) DeleteAsset(ctx context.Context, asset string) error {
	if err := s.repo.DeleteAsset(ctx, asset); err != nil {
		return err
	}
	s.invalidate(ctx, asset)
	slog.Info("asset deleted", "asset", asset)
	return nil
}

// Reset drops all stored data.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		s.mu.Lock()
		s.epoch++
		clear(s.gens)
		s.mu.Unlock()
		if err := s.cache.Clear(ctx); err != nil {
			slog.Warn("failed to clear row cache", "error", err)
		}
	}
	slog.Info("asset data reset")
	return nil
}

// Assets lists stored asset names.
func (s *Service) Assets(ctx context.Context) ([]string, error) {
	return s.repo.ListAssets(ctx)
}

// Rows returns the stored history of asset in date order.
func (s *Service) Rows(ctx context.Context, asset string) ([]Row, error) {
	if s.cache != nil {
		rows, ok, err := s.cache.Get(ctx, asset)
		if err != nil {
			slog.Warn("failed to read row cache", "asset", asset, "error", err)
		}
		if ok {
			return rows, nil
		}
	}

	gen := s.generation(asset)
	rows, err := s.repo.Rows(ctx, asset)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		s.fill(ctx, asset, gen, rows)
	}
	return rows, nil
}

func (s *Service) generation(asset string) generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generation{writes: s.gens[asset], resets: s.epoch}
}

// fill caches rows read at gen unless a write has been recorded since.
// The lock is held across Set so a concurrent invalidate either sees the
// entry and removes it or bumps the generation first.
func (s *Service) fill(ctx context.Context, asset string, gen generation, rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (generation{writes: s.gens[asset], resets: s.epoch}) != gen {
		slog.Debug("skipping stale row cache fill", "asset", asset)
		return
	}
	if err := s.cache.Set(ctx, asset, rows); err != nil {
		slog.Warn("failed to write row cache", "asset", asset, "error", err)
	}
}

// Records returns the stored history of asset without storage metadata.
func (s *Service) Records(ctx context.Context, asset string) ([]domain.EnrichedRecord, error) {
	rows, err := s.Rows(ctx, asset)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r Row, _ int) domain.EnrichedRecord { return r.EnrichedRecord }), nil
}

// DateRange returns the first and last stored date of asset.
func (s *Service) DateRange(ctx context.Context, asset string) (DateRange, error) {
	dr, err := s.repo.DateRange(ctx, asset)
	if err != nil {
		return DateRange{}, err
	}
	if dr.MinDate == nil {
		return DateRange{}, ErrNotFound
	}
	return dr, nil
}

// Stats aggregates the whole store.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// Profile averages field per month of year. A zero year selects the latest
// year of the history.
func (s *Service) Profile(ctx context.Context, asset string, year int, field string) ([]seasonal.MonthPoint, int, error) {
	records, err := s.Records(ctx, asset)
	if err != nil {
		return nil, 0, err
	}
	if year == 0 {
		year = seasonal.Years(records)[0]
	}
	points, err := seasonal.MonthlyProfile(records, year, field)
	if err != nil {
		return nil, 0, err
	}
	return points, year, nil
}

func (s *Service) invalidate(ctx context.Context, asset string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.gens[asset]++
	s.mu.Unlock()
	if err := s.cache.Invalidate(ctx, asset); err != nil {
		slog.Warn("failed to invalidate row cache", "asset", asset, "error", err)
	}
}

func normalizeAsset(asset string) (string, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" || len(asset) > 128 {
		return "", ErrInvalidAsset
	}
	return asset, nil
}

// bareRow keeps only the price tuple of an edit request.
func bareRow(row domain.PriceRecord) domain.PriceRecord {
	return lo.PickByKeys(row, domain.RequiredColumns)
}
