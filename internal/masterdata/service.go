package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quotedesk/quotedesk/internal/quotes/calc"
)

// Invalidator drops cached master data after an edit.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

type Service struct {
	repo   Repository
	cache  Invalidator
	logger *slog.Logger
}

func NewService(repo Repository, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, ErrInvalidID
	}
	return s.repo.GetItem(ctx, id)
}

// UpdateItem writes the new values and bumps the cache version. Quotes that
// already froze this item keep their snapshot.
func (s *Service) UpdateItem(ctx context.Context, id int64, req UpdateItemRequest) (Item, error) {
	if id <= 0 {
		return Item{}, ErrInvalidID
	}
	unitPrice, err := calc.FromFloat("unit_price", req.UnitPrice)
	if err != nil {
		return Item{}, err
	}
	costPrice, err := calc.FromFloat("cost_price", req.CostPrice)
	if err != nil {
		return Item{}, err
	}
	item := Item{
		ID:          id,
		Code:        strings.TrimSpace(req.Code),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Unit:        req.Unit,
		UnitPrice:   unitPrice,
		CostPrice:   costPrice,
		SupplierID:  req.SupplierID,
		IsActive:    req.IsActive,
	}
	if err := s.repo.UpdateItem(ctx, id, item); err != nil {
		return Item{}, err
	}
	if s.cache != nil {
		ver, err := s.cache.Invalidate(ctx)
		if err != nil {
			return Item{}, fmt.Errorf("invalidate masterdata cache: %w", err)
		}
		s.logger.Info("masterdata cache bumped", slog.Int64("item_id", id), slog.Int64("version", ver))
	}
	return s.repo.GetItem(ctx, id)
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, ErrInvalidID
	}
	return s.repo.GetSupplier(ctx, id)
}
