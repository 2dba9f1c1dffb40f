package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Service provides cached access to report aggregations.
type Service struct {
	Q            Querier
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Sales returns daily sales aggregates between the provided bounds, inclusive
// of from and exclusive of to.
func (s *Service) Sales(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("reports service not configured")
	}
	key := cacheKey("rp", "sales", from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached []SalesDay
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.SalesDailyRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// Inventory returns the stock valuation report.
func (s *Service) Inventory(ctx context.Context) ([]InventoryLine, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("reports service not configured")
	}
	key := cacheKey("rp", "inventory")
	var cached []InventoryLine
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.InventoryValuation(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// BestSelling returns the top products by quantity sold over the window.
func (s *Service) BestSelling(ctx context.Context, from, to time.Time, limit int) ([]BestSeller, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("reports service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	key := cacheKey("rp", "top", from.Format("2006-01-02"), to.Format("2006-01-02"), limit)
	var cached []BestSeller
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.TopProducts(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// Warm recomputes the default dashboard reports so the next reads hit cache.
func (s *Service) Warm(ctx context.Context) error {
	if s == nil || s.Q == nil {
		return fmt.Errorf("reports service not configured")
	}
	days := s.DefaultRange
	if days <= 0 {
		days = 30
	}
	to := s.now()
	from := to.AddDate(0, 0, -days)

	rows, err := s.Q.SalesDailyRange(ctx, from, to)
	if err != nil {
		return err
	}
	s.store(ctx, cacheKey("rp", "sales", from.Format("2006-01-02"), to.Format("2006-01-02")), rows)

	inv, err := s.Q.InventoryValuation(ctx)
	if err != nil {
		return err
	}
	s.store(ctx, cacheKey("rp", "inventory"), inv)

	top, err := s.Q.TopProducts(ctx, from, to, 10)
	if err != nil {
		return err
	}
	s.store(ctx, cacheKey("rp", "top", from.Format("2006-01-02"), to.Format("2006-01-02"), 10), top)
	return nil
}

func (s *Service) fromCache(ctx context.Context, key string, dest any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
