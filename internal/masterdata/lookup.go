package masterdata

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/quotedesk/quotedesk/internal/platform/cache"
	"github.com/quotedesk/quotedesk/internal/quotes/snapshot"
)

// Lookup serves snapshot resolution from Redis, falling back to one batch
// query per kind for cache misses.
type Lookup struct {
	repo  Repository
	cache *cache.Versioned
}

var _ snapshot.Lookup = (*Lookup)(nil)

func NewLookup(repo Repository, c *cache.Versioned) *Lookup {
	return &Lookup{repo: repo, cache: c}
}

func (l *Lookup) MasterItems(ctx context.Context, ids []int64) (map[int64]snapshot.MasterItem, error) {
	hits, missing, keys, err := fetchCached[Item](ctx, l.cache, "item", ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		rows, err := l.repo.ItemsByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		fill := make(map[string]any, len(rows))
		for _, it := range rows {
			hits[it.ID] = it
			fill[keys[it.ID]] = it
		}
		if err := l.cache.SetManyJSON(ctx, fill); err != nil {
			return nil, err
		}
	}

	out := make(map[int64]snapshot.MasterItem, len(hits))
	for id, it := range hits {
		out[id] = snapshot.MasterItem{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Unit:        it.Unit,
			UnitPrice:   it.UnitPrice,
			CostPrice:   it.CostPrice,
			SupplierID:  it.SupplierID,
		}
	}
	return out, nil
}

func (l *Lookup) Suppliers(ctx context.Context, ids []int64) (map[int64]snapshot.Supplier, error) {
	hits, missing, keys, err := fetchCached[Supplier](ctx, l.cache, "supplier", ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		rows, err := l.repo.SuppliersByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		fill := make(map[string]any, len(rows))
		for _, s := range rows {
			hits[s.ID] = s
			fill[keys[s.ID]] = s
		}
		if err := l.cache.SetManyJSON(ctx, fill); err != nil {
			return nil, err
		}
	}

	out := make(map[int64]snapshot.Supplier, len(hits))
	for id, s := range hits {
		out[id] = snapshot.Supplier{ID: s.ID, Name: s.Name}
	}
	return out, nil
}

// CustomerName is read through the cache one id at a time; a quote has at
// most one customer.
func (l *Lookup) CustomerName(ctx context.Context, id int64) (string, error) {
	key, err := l.cache.BuildKey(ctx, "customer", strconv.FormatInt(id, 10))
	if err != nil {
		return "", err
	}
	var c Customer
	err = l.cache.FetchJSON(ctx, key, &c, func(ctx context.Context) (any, error) {
		name, err := l.repo.CustomerName(ctx, id)
		if err != nil {
			return nil, err
		}
		return Customer{ID: id, Name: name}, nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", snapshot.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

// Invalidate bumps the cache version so the next lookup reads fresh rows.
func (l *Lookup) Invalidate(ctx context.Context) (int64, error) {
	return l.cache.Bump(ctx)
}

func fetchCached[T any](ctx context.Context, c *cache.Versioned, kind string, ids []int64) (map[int64]T, []int64, map[int64]string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	keys := make(map[int64]string, len(ids))
	list := make([]string, 0, len(ids))
	for _, id := range ids {
		key := c.Key(ver, kind, strconv.FormatInt(id, 10))
		keys[id] = key
		list = append(list, key)
	}
	raw, err := c.GetMany(ctx, list)
	if err != nil {
		return nil, nil, nil, err
	}

	hits := make(map[int64]T, len(ids))
	var missing []int64
	for _, id := range ids {
		payload, ok := raw[keys[id]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			missing = append(missing, id)
			continue
		}
		hits[id] = v
	}
	return hits, missing, keys, nil
}
