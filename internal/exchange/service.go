package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

const rateCacheKey = "exchange:rate:current"

// RateFetcher abstracts the external feed for tests.
type RateFetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// Service owns the single USD→local exchange rate.
type Service struct {
	store    Store
	redis    *redis.Client
	fetcher  RateFetcher
	logger   zerolog.Logger
	cacheTTL time.Duration
	currency string
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store    Store
	Redis    *redis.Client
	Fetcher  RateFetcher
	Logger   zerolog.Logger
	CacheTTL time.Duration
	Currency string
}

// RatePayload is the public exchange rate representation.
type RatePayload struct {
	Currency  string          `json:"currency"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedBy *string         `json:"updatedBy,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("exchange: store is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		store:    cfg.Store,
		redis:    cfg.Redis,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
		cacheTTL: ttl,
		currency: currency,
	}, nil
}

// CurrentRate returns the active rate, read through the Redis cache.
func (s *Service) CurrentRate(ctx context.Context) (RatePayload, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, rateCacheKey).Bytes(); err == nil {
			var cached RatePayload
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}
	stored, err := s.store.LatestRate(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RatePayload{}, &common.AppError{Code: "NOT_FOUND", Message: "no exchange rate configured", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return RatePayload{}, fmt.Errorf("latest rate: %w", err)
	}
	payload := s.toPayload(stored)
	s.cache(ctx, payload)
	return payload, nil
}

// UpdateRate stores a new rate revision and refreshes the cache.
func (s *Service) UpdateRate(ctx context.Context, rate decimal.Decimal, updatedBy *uuid.UUID) (RatePayload, error) {
	if !rate.IsPositive() {
		return RatePayload{}, &common.AppError{Code: "BAD_REQUEST", Message: "rate must be greater than zero", HTTPStatus: http.StatusBadRequest}
	}
	stored, err := s.store.InsertRate(ctx, rate, updatedBy)
	if err != nil {
		return RatePayload{}, fmt.Errorf("insert rate: %w", err)
	}
	payload := s.toPayload(stored)
	s.cache(ctx, payload)
	return payload, nil
}

// History returns recent rate revisions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]RatePayload, error) {
	rows, err := s.store.ListRates(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	payloads := make([]RatePayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, s.toPayload(row))
	}
	return payloads, nil
}

// SyncFromFeed pulls the current rate from the external feed and stores it as
// a system revision. Called by the worker on a schedule.
func (s *Service) SyncFromFeed(ctx context.Context) (RatePayload, error) {
	if s.fetcher == nil {
		return RatePayload{}, ErrRateUnavailable
	}
	rate, err := s.fetcher.FetchRate(ctx)
	if err != nil {
		return RatePayload{}, fmt.Errorf("fetch rate: %w", err)
	}
	payload, err := s.UpdateRate(ctx, rate, nil)
	if err != nil {
		return RatePayload{}, err
	}
	s.logger.Info().Str("currency", s.currency).Str("rate", rate.String()).Msg("exchange rate synced from feed")
	return payload, nil
}

func (s *Service) cache(ctx context.Context, payload RatePayload) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, rateCacheKey, data, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("cache exchange rate")
	}
}

func (s *Service) toPayload(rate Rate) RatePayload {
	payload := RatePayload{
		Currency:  s.currency,
		Rate:      rate.Rate,
		UpdatedAt: rate.CreatedAt,
	}
	if rate.UpdatedBy != nil {
		id := rate.UpdatedBy.String()
		payload.UpdatedBy = &id
	}
	return payload
}
