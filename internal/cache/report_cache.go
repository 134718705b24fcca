// Package cache keeps the latest risk report per as-of date in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// Client is the subset of the Redis API the cache uses
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ReportCache stores serialized reports with a TTL
type ReportCache struct {
	client Client
	ttl    time.Duration
}

// NewReportCache creates a report cache
func NewReportCache(client Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(asOf time.Time) string {
	return fmt.Sprintf("risk:report:%s", asOf.Format("2006-01-02"))
}

// GetReport returns the cached report for a date, or an error wrapping
// riskerr.ErrNotFound on a miss.
func (c *ReportCache) GetReport(ctx context.Context, asOf time.Time) (*models.RiskReport, error) {
	data, err := c.client.Get(ctx, reportKey(asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("report for %s: %w", asOf.Format("2006-01-02"), riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached report: %w", err)
	}
	var r models.RiskReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &r, nil
}

// SetReport caches a report under its as-of date
func (c *ReportCache) SetReport(ctx context.Context, r *models.RiskReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(r.AsOfDate), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache report: %w", err)
	}
	return nil
}

// Invalidate drops the cached report for a date
func (c *ReportCache) Invalidate(ctx context.Context, asOf time.Time) error {
	if err := c.client.Del(ctx, reportKey(asOf)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate report: %w", err)
	}
	return nil
}
