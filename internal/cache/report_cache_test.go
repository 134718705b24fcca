package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestReportCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	c := NewReportCache(fake, 10*time.Minute)
	asOf := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	_, err := c.GetReport(ctx, asOf)
	assert.ErrorIs(t, err, riskerr.ErrNotFound)

	report := &models.RiskReport{
		RunID:    "run-1",
		AsOfDate: asOf,
		Exposure: models.ExposureReport{
			GrossExposure:        decimal.NewFromInt(1000),
			DiversificationRatio: models.Unknown("gross exposure is zero"),
		},
	}
	require.NoError(t, c.SetReport(ctx, report))
	assert.Equal(t, 10*time.Minute, fake.ttl["risk:report:2025-06-02"])

	got, err := c.GetReport(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.True(t, got.Exposure.GrossExposure.Equal(decimal.NewFromInt(1000)))
	assert.False(t, got.Exposure.DiversificationRatio.IsKnown())
	assert.Equal(t, "gross exposure is zero", got.Exposure.DiversificationRatio.Reason())

	require.NoError(t, c.Invalidate(ctx, asOf))
	_, err = c.GetReport(ctx, asOf)
	assert.ErrorIs(t, err, riskerr.ErrNotFound)
}

func TestReportCache_BackendError(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	c := NewReportCache(fake, time.Minute)

	_, err := c.GetReport(context.Background(), time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, riskerr.ErrNotFound))
	assert.Error(t, c.SetReport(context.Background(), &models.RiskReport{}))
}
