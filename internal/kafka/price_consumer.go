package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// PriceRepository stores market prices
type PriceRepository interface {
	UpsertMarketPrice(ctx context.Context, p *models.MarketPrice) error
}

// PriceConsumer stores settlement prices published by the market data pipeline
type PriceConsumer struct {
	reader messageReader
	repo   PriceRepository
	cache  Invalidator
	logger *zap.Logger
}

// NewPriceConsumer creates a consumer for price events. cache may be nil.
func NewPriceConsumer(brokers []string, topic, groupID string, repo PriceRepository, cache Invalidator, logger *zap.Logger) *PriceConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceConsumer{
		reader: newReader(brokers, topic, groupID),
		repo:   repo,
		cache:  cache,
		logger: logger.Named("price-consumer"),
	}
}

// Start consumes until ctx is cancelled
func (c *PriceConsumer) Start(ctx context.Context) error {
	return consume(ctx, c.reader, c.logger, c.processMessage)
}

func (c *PriceConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.PriceEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal price event: %w", err)
	}
	if event.EventType != models.EventPricePublished {
		c.logger.Debug("ignoring event type", zap.String("event_type", event.EventType))
		return nil
	}

	price, err := convertEventToPrice(event)
	if err != nil {
		return fmt.Errorf("failed to convert price event: %w", err)
	}
	if err := c.repo.UpsertMarketPrice(ctx, price); err != nil {
		return err
	}

	c.logger.Debug("stored market price",
		zap.String("product", price.ProductCode),
		zap.String("month", string(price.ContractMonth)),
		zap.String("type", price.PriceType),
		zap.Time("date", price.PriceDate))

	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, price.PriceDate); err != nil {
			c.logger.Warn("failed to invalidate cached report", zap.Error(err))
		}
	}
	return nil
}

func convertEventToPrice(event models.PriceEvent) (*models.MarketPrice, error) {
	d := event.Data
	if d.ProductCode == "" {
		return nil, fmt.Errorf("missing product_code")
	}

	priceType := strings.ToUpper(d.PriceType)
	var month models.ContractMonth
	switch priceType {
	case models.PriceTypeSpot:
	case models.PriceTypeFutures:
		m, err := models.ParseContractMonth(d.ContractMonth)
		if err != nil {
			return nil, err
		}
		month = m
	default:
		return nil, fmt.Errorf("invalid price type: %s", d.PriceType)
	}

	value, err := decimal.NewFromString(d.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %s: %w", d.Price, err)
	}
	if !value.IsPositive() {
		return nil, fmt.Errorf("price must be positive, got %s", d.Price)
	}

	date, err := parseDate(d.PriceDate)
	if err != nil {
		return nil, fmt.Errorf("invalid price date %s: %w", d.PriceDate, err)
	}

	return &models.MarketPrice{
		ProductCode:   strings.ToUpper(d.ProductCode),
		ContractMonth: month,
		PriceType:     priceType,
		PriceDate:     date,
		Price:         value,
		CreatedAt:     time.Now(),
	}, nil
}

// Close closes the underlying reader
func (c *PriceConsumer) Close() error {
	return c.reader.Close()
}
