package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/metrics"
	"github.com/trogers1052/oil-risk-service/internal/models"
)

// messageReader is the subset of *kafka.Reader the consumers use
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

// ContractRepository applies contract events idempotently
type ContractRepository interface {
	ApplyContractEvent(ctx context.Context, event *models.ContractEvent, c *models.Contract) (bool, error)
}

// Invalidator drops cached reports that a new event makes stale
type Invalidator interface {
	Invalidate(ctx context.Context, asOf time.Time) error
}

// ContractConsumer keeps the contracts table in step with the contract
// management system. Events are deduplicated on event ID.
type ContractConsumer struct {
	reader messageReader
	repo   ContractRepository
	cache  Invalidator
	logger *zap.Logger
}

func newReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
}

// NewContractConsumer creates a consumer for contract events. cache may be nil.
func NewContractConsumer(brokers []string, topic, groupID string, repo ContractRepository, cache Invalidator, logger *zap.Logger) *ContractConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractConsumer{
		reader: newReader(brokers, topic, groupID),
		repo:   repo,
		cache:  cache,
		logger: logger.Named("contract-consumer"),
	}
}

// Start consumes until ctx is cancelled
func (c *ContractConsumer) Start(ctx context.Context) error {
	return consume(ctx, c.reader, c.logger, c.processMessage)
}

// consume runs the read loop shared by the consumers. Processing errors are
// logged and counted; the loop moves on to the next message.
func consume(ctx context.Context, reader messageReader, logger *zap.Logger, process func(context.Context, kafka.Message) error) error {
	topic := reader.Config().Topic
	logger.Info("starting kafka consumer", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			logger.Info("kafka consumer shutting down", zap.String("topic", topic))
			return reader.Close()
		default:
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return reader.Close()
				}
				logger.Error("error reading message", zap.String("topic", topic), zap.Error(err))
				continue
			}

			err = process(ctx, msg)
			metrics.EventConsumed(topic, err)
			if err != nil {
				logger.Error("error processing message",
					zap.String("topic", topic),
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
		}
	}
}

func (c *ContractConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.ContractEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal contract event: %w", err)
	}

	if event.EventType != models.EventContractUpserted && event.EventType != models.EventContractCancelled {
		c.logger.Debug("ignoring event type", zap.String("event_type", event.EventType))
		return nil
	}
	if event.EventID == "" {
		return errors.New("contract event has no event_id")
	}

	var contract *models.Contract
	if event.EventType == models.EventContractCancelled {
		if event.Data.ContractID == "" {
			return errors.New("cancel event has no contract_id")
		}
		contract = &models.Contract{ID: event.Data.ContractID, Status: models.ContractStatusCancelled}
	} else {
		var err error
		contract, err = convertEventToContract(event.Data)
		if err != nil {
			return fmt.Errorf("failed to convert event %s to contract: %w", event.EventID, err)
		}
	}

	applied, err := c.repo.ApplyContractEvent(ctx, &event, contract)
	if err != nil {
		return fmt.Errorf("failed to apply contract event %s: %w", event.EventID, err)
	}
	if !applied {
		c.logger.Info("contract event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	c.logger.Info("applied contract event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("contract_id", contract.ID))

	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, time.Now()); err != nil {
			c.logger.Warn("failed to invalidate cached report", zap.Error(err))
		}
	}
	return nil
}

// convertEventToContract maps upstream string fields onto a Contract
func convertEventToContract(d models.ContractEventData) (*models.Contract, error) {
	if d.ContractID == "" {
		return nil, errors.New("missing contract_id")
	}

	contractType := strings.ToUpper(d.ContractType)
	switch contractType {
	case models.ContractTypePhysicalPurchase, models.ContractTypePhysicalSale, models.ContractTypePaper:
	default:
		return nil, fmt.Errorf("invalid contract type: %s", d.ContractType)
	}

	month, err := models.ParseContractMonth(d.ContractMonth)
	if err != nil {
		return nil, err
	}

	quantity, err := decimal.NewFromString(d.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %s: %w", d.Quantity, err)
	}

	settled := decimal.Zero
	if d.SettledQuantity != "" {
		settled, err = decimal.NewFromString(d.SettledQuantity)
		if err != nil {
			return nil, fmt.Errorf("invalid settled quantity %s: %w", d.SettledQuantity, err)
		}
	}

	tradeDate, err := parseDate(d.TradeDate)
	if err != nil {
		return nil, fmt.Errorf("invalid trade date %s: %w", d.TradeDate, err)
	}

	var designationDate *time.Time
	if d.DesignationDate != nil && *d.DesignationDate != "" {
		t, err := parseDate(*d.DesignationDate)
		if err != nil {
			return nil, fmt.Errorf("invalid designation date %s: %w", *d.DesignationDate, err)
		}
		designationDate = &t
	}

	status := strings.ToUpper(d.Status)
	if status == "" {
		status = models.ContractStatusActive
	}

	return &models.Contract{
		ID:              d.ContractID,
		ContractNumber:  d.ContractNumber,
		ContractType:    contractType,
		ProductCode:     strings.ToUpper(d.ProductCode),
		ContractMonth:   month,
		Quantity:        quantity,
		Unit:            strings.ToUpper(d.Unit),
		SettledQuantity: settled,
		Status:          status,
		IsHedge:         d.IsHedge,
		DesignationRef:  d.DesignationRef,
		DesignationDate: designationDate,
		TradeGroupID:    d.TradeGroupID,
		TradeDate:       tradeDate,
	}, nil
}

// parseDate accepts a calendar date or an RFC3339 timestamp
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(24 * time.Hour), nil
}

// Close closes the underlying reader
func (c *ContractConsumer) Close() error {
	return c.reader.Close()
}
