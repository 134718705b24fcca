package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

func TestRiskRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }

	t.Run("contracts upsert and cancel", func(t *testing.T) {
		testDB.TruncateAll(t)

		c := &models.Contract{
			ID: "C-1", ContractNumber: "PUR-001", ContractType: models.ContractTypePhysicalPurchase,
			ProductCode: "BRENT", ContractMonth: "2507", Quantity: decimal.NewFromInt(10000),
			Unit: models.UnitBarrel, TradeDate: day(2),
		}
		require.NoError(t, testDB.UpsertContract(ctx, c))

		c.SettledQuantity = decimal.NewFromInt(2500)
		require.NoError(t, testDB.UpsertContract(ctx, c))

		got, err := testDB.GetContractByID(ctx, "C-1")
		require.NoError(t, err)
		assert.True(t, got.SettledQuantity.Equal(decimal.NewFromInt(2500)))
		assert.Equal(t, models.ContractMonth("2507"), got.ContractMonth)

		require.NoError(t, testDB.CancelContract(ctx, "C-1"))
		active, err := testDB.GetContracts(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, active)
		all, err := testDB.GetContracts(ctx, true)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		assert.ErrorIs(t, testDB.CancelContract(ctx, "nope"), riskerr.ErrNotFound)
	})

	t.Run("contract events apply once", func(t *testing.T) {
		testDB.TruncateAll(t)

		event := &models.ContractEvent{EventID: uuid.NewString(), EventType: models.EventContractUpserted, Source: "test"}
		c := &models.Contract{
			ID: "C-2", ContractNumber: "SAL-002", ContractType: models.ContractTypePhysicalSale,
			ProductCode: "WTI", ContractMonth: "2508", Quantity: decimal.NewFromInt(6000),
			Unit: models.UnitBarrel, TradeDate: day(3),
		}

		applied, err := testDB.ApplyContractEvent(ctx, event, c)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = testDB.ApplyContractEvent(ctx, event, c)
		require.NoError(t, err)
		assert.False(t, applied)

		seen, err := testDB.ContractEventProcessed(ctx, event.EventID)
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("latest price respects as-of date", func(t *testing.T) {
		testDB.TruncateAll(t)

		prices := []*models.MarketPrice{
			{ProductCode: "BRENT", PriceType: models.PriceTypeSpot, PriceDate: day(2), Price: decimal.NewFromFloat(70.10)},
			{ProductCode: "BRENT", PriceType: models.PriceTypeSpot, PriceDate: day(3), Price: decimal.NewFromFloat(71.25)},
			{ProductCode: "BRENT", PriceType: models.PriceTypeSpot, PriceDate: day(4), Price: decimal.NewFromFloat(69.80)},
		}
		require.NoError(t, testDB.UpsertMarketPriceBatch(ctx, prices))

		p, err := testDB.GetLatestPrice(ctx, "BRENT", "", models.PriceTypeSpot, day(3))
		require.NoError(t, err)
		assert.True(t, p.Price.Equal(decimal.NewFromFloat(71.25)))

		history, err := testDB.GetPriceHistory(ctx, "BRENT", "", models.PriceTypeSpot, day(1), day(30))
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.True(t, history[0].PriceDate.Before(history[2].PriceDate))

		_, err = testDB.GetLatestPrice(ctx, "BRENT", "2507", models.PriceTypeFutures, day(3))
		assert.ErrorIs(t, err, riskerr.ErrNotFound)
	})

	t.Run("concurrent breach writers record one open breach", func(t *testing.T) {
		testDB.TruncateAll(t)

		limit := &models.RiskLimit{
			Name: "Book VaR", LimitType: models.LimitTypeVaR, Scope: models.ScopePortfolio,
			MaxValue: decimal.NewFromInt(100000), Enabled: true,
		}
		require.NoError(t, testDB.CreateRiskLimit(ctx, limit))

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := testDB.RecordBreach(ctx, &models.LimitBreach{
					ID: uuid.NewString(), LimitID: limit.ID, LimitType: limit.LimitType, Scope: limit.Scope,
					RunID: "run", Severity: models.BreachSeverityLow, CurrentValue: decimal.NewFromInt(105000),
					LimitValue: limit.MaxValue, ExcessAmount: decimal.NewFromInt(5000),
					Utilization: decimal.RequireFromString("1.05"), DetectedAt: time.Now(),
				})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)

		open, err := testDB.ListBreaches(ctx, true)
		require.NoError(t, err)
		require.Len(t, open, 1)

		resolved, err := testDB.ResolveBreach(ctx, open[0].ID, "desk", "reduced position", time.Now())
		require.NoError(t, err)
		assert.True(t, resolved.IsResolved())

		_, err = testDB.ResolveBreach(ctx, open[0].ID, "desk", "again", time.Now())
		assert.ErrorIs(t, err, riskerr.ErrBreachAlreadyResolved)

		open, err = testDB.ListBreaches(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("snapshots round trip with realized pnl", func(t *testing.T) {
		testDB.TruncateAll(t)

		snaps := []models.RiskSnapshot{{
			AsOfDate: day(2), Scope: models.ScopePortfolio, Method: models.VaRMethodHistorical, Confidence: 0.95,
			VaR: decimal.NewFromInt(50000), ExpectedShortfall: decimal.NewFromInt(65000),
			NetExposure: decimal.NewFromInt(280000),
			Exposures:   map[string]decimal.Decimal{"BRENT": decimal.NewFromInt(280000)},
			RunID:       "run-1",
		}}
		require.NoError(t, testDB.SaveRiskSnapshots(ctx, snaps))
		require.NoError(t, testDB.SetRealizedPnL(ctx, snaps[0].ID, decimal.NewFromInt(-3100)))

		// Re-running the day keeps the booked P&L.
		snaps[0].VaR = decimal.NewFromInt(52000)
		require.NoError(t, testDB.SaveRiskSnapshots(ctx, snaps))

		got, err := testDB.GetRiskSnapshots(ctx, models.ScopePortfolio, day(1), day(5))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].VaR.Equal(decimal.NewFromInt(52000)))
		require.NotNil(t, got[0].RealizedPnL)
		assert.True(t, got[0].RealizedPnL.Equal(decimal.NewFromInt(-3100)))
		assert.True(t, got[0].Exposures["BRENT"].Equal(decimal.NewFromInt(280000)))
	})

	t.Run("stress scenarios crud", func(t *testing.T) {
		s := &models.StressScenario{
			Name: "Brent spike " + uuid.NewString()[:8],
			Shocks: []models.PriceShock{
				{ProductCode: "BRENT", ShockType: models.ShockTypePercentage, Value: decimal.RequireFromString("0.25")},
			},
			Enabled: true,
		}
		require.NoError(t, testDB.CreateStressScenario(ctx, s))

		got, err := testDB.GetStressScenarioByID(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.Shocks, 1)
		assert.True(t, got.Shocks[0].Value.Equal(decimal.RequireFromString("0.25")))

		s.Enabled = false
		require.NoError(t, testDB.UpdateStressScenario(ctx, s))
		enabled, err := testDB.GetStressScenarios(ctx, true)
		require.NoError(t, err)
		for _, e := range enabled {
			assert.NotEqual(t, s.ID, e.ID)
		}

		require.NoError(t, testDB.DeleteStressScenario(ctx, s.ID))
		_, err = testDB.GetStressScenarioByID(ctx, s.ID)
		assert.ErrorIs(t, err, riskerr.ErrNotFound)
	})
}
