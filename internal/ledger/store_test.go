package ledger

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "BTC/USDT"

var t0 = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), symbol, decimal.NewFromInt(10000), testLogger())
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buyFill(ts time.Time) models.Fill {
	return models.Fill{
		ID: uuid.NewString(), Timestamp: ts, Symbol: symbol, Side: models.SideBuy,
		Quantity: d("0.5"), Price: d("1000"), Fee: d("0.25"), Reason: models.FillReasonEntry,
	}
}

func sellFill(ts time.Time, pnl string, reason string) models.Fill {
	return models.Fill{
		ID: uuid.NewString(), Timestamp: ts, Symbol: symbol, Side: models.SideSell,
		Quantity: d("0.5"), Price: d("900"), Fee: d("0.225"), RealizedPnL: d(pnl), Reason: reason,
	}
}

// holdingState is a ledger with one open position bought at 1000 and marked at 1100.
func holdingState() *State {
	pos := &models.Position{
		Symbol: symbol, EntryPrice: d("1000"), Quantity: d("0.5"), StopPrice: d("800"),
		OpenedAt: t0, EntryCandleAt: t0.Add(-4 * time.Hour), Strategy: models.StrategyTrendFollowing,
		EntryFee: d("0.25"), MarkPrice: d("1100"),
	}
	cash := d("9499.75")
	return &State{
		Symbol: symbol,
		Equity: models.Equity{
			Cash:          cash,
			RealizedPnL:   decimal.Zero,
			UnrealizedPnL: d("49.75"),
			TotalEquity:   cash.Add(pos.MarketValue()),
			HighWaterMark: d("10049.75"),
		},
		Position:     pos,
		Fills:        []models.Fill{buyFill(t0)},
		LastCandleAt: t0.Add(-4 * time.Hour),
	}
}

func TestStore_LoadFresh(t *testing.T) {
	store := newStore(t)

	state, err := store.Load()
	require.NoError(t, err)
	assert.True(t, state.Fresh)
	assert.Equal(t, symbol, state.Symbol)
	assert.Nil(t, state.Position)
	assert.Empty(t, state.Fills)
	assert.Equal(t, "10000", state.Equity.TotalEquity.String())
	assert.Equal(t, "10000", state.Equity.HighWaterMark.String())
}

func TestStore_CommitAndLoad(t *testing.T) {
	store := newStore(t)
	state := holdingState()

	require.NoError(t, store.Commit(state, t0))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.False(t, loaded.Fresh)
	require.NotNil(t, loaded.Position)
	assert.True(t, loaded.Position.StopPrice.Equal(d("800")))
	assert.True(t, loaded.Equity.TotalEquity.Equal(d("10049.75")))
	require.Len(t, loaded.Fills, 1)
	assert.Equal(t, state.Fills[0].ID, loaded.Fills[0].ID)
	assert.True(t, loaded.LastCandleAt.Equal(state.LastCandleAt))
	assert.True(t, loaded.UpdatedAt.Equal(t0))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestStore_RestoredSnapshotLoadsElsewhere(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Commit(holdingState(), t0))

	restored := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, os.MkdirAll(restored, 0o755))
	for _, name := range []string{LedgerFile, FillsFile} {
		data, err := os.ReadFile(filepath.Join(store.Dir(), name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(restored, name), data, 0o644))
	}

	original, err := store.Load()
	require.NoError(t, err)
	copied, err := NewStore(restored, symbol, decimal.NewFromInt(10000), testLogger()).Load()
	require.NoError(t, err)

	assert.Equal(t, original.Equity, copied.Equity)
	assert.Equal(t, original.Fills, copied.Fills)
}

func TestStore_UncommittedFillsIgnored(t *testing.T) {
	store := newStore(t)
	state := holdingState()
	require.NoError(t, store.Commit(state, t0))

	// a crash after the history write but before the ledger rename
	f, err := os.OpenFile(filepath.Join(store.Dir(), FillsFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"orphan","side":"SELL"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Fills, 1)

	// the next commit rewrites history from the committed fills only
	loaded.Fills = append(loaded.Fills, sellFill(t0.Add(4*time.Hour), "-50.475", models.FillReasonStopLoss))
	loaded.Position = nil
	loaded.Equity.Cash = d("9949.525")
	loaded.Equity.TotalEquity = d("9949.525")
	loaded.Equity.UnrealizedPnL = decimal.Zero
	require.NoError(t, store.Commit(loaded, t0.Add(4*time.Hour)))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, reloaded.Fills, 2)
	assert.NotEqual(t, "orphan", reloaded.Fills[1].ID)
}

func TestStore_CommitRefusesToDropHistory(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Commit(holdingState(), t0))

	truncated := holdingState()
	truncated.Fills = nil
	truncated.Position = nil
	truncated.Equity = models.NewEquity(decimal.NewFromInt(10000))

	err := store.Commit(truncated, t0)
	assert.Error(t, err)
}

func TestStore_Corruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{"garbage ledger", func(t *testing.T, dir string) {
			writeFile(t, dir, LedgerFile, "{not json")
		}},
		{"unknown field", func(t *testing.T, dir string) {
			editLedger(t, dir, `"version": 1`, `"version": 1, "extra": true`)
		}},
		{"wrong version", func(t *testing.T, dir string) {
			editLedger(t, dir, `"version": 1`, `"version": 9`)
		}},
		{"other symbol", func(t *testing.T, dir string) {
			editLedger(t, dir, `"symbol": "BTC/USDT",`+"\n  \"equity\"", `"symbol": "ETH/USDT",`+"\n  \"equity\"")
		}},
		{"equity does not add up", func(t *testing.T, dir string) {
			editLedger(t, dir, `"cash": "9499.75"`, `"cash": "9999.75"`)
		}},
		{"missing history", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, FillsFile)))
		}},
		{"short history", func(t *testing.T, dir string) {
			writeFile(t, dir, FillsFile, "")
		}},
		{"undecodable fill", func(t *testing.T, dir string) {
			writeFile(t, dir, FillsFile, "{\"id\": 5}\n")
		}},
		{"fill without id", func(t *testing.T, dir string) {
			writeFile(t, dir, FillsFile, `{"id":"","timestamp":"2024-02-01T08:00:00Z","side":"BUY","quantity":"1","price":"1","fee":"0"}`+"\n")
		}},
		{"stop above entry", func(t *testing.T, dir string) {
			editLedger(t, dir, `"stop_price": "800"`, `"stop_price": "1200"`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.Commit(holdingState(), t0))
			tt.corrupt(t, store.Dir())

			_, err := store.Load()
			require.Error(t, err)
			var corruption *CorruptionError
			assert.True(t, errors.As(err, &corruption), "got %v", err)
		})
	}
}

func TestStore_PositionWithoutEntryFill(t *testing.T) {
	store := newStore(t)
	state := holdingState()
	state.Fills = []models.Fill{buyFill(t0), sellFill(t0.Add(time.Hour), "-50", models.FillReasonExit)}
	require.NoError(t, store.Commit(state, t0))

	_, err := store.Load()
	var corruption *CorruptionError
	require.True(t, errors.As(err, &corruption))
	assert.Contains(t, corruption.Reason, "last fill is a sell")
}

func TestStore_Heartbeat(t *testing.T) {
	store := newStore(t)

	_, err := store.ReadHeartbeat()
	assert.True(t, errors.Is(err, os.ErrNotExist))

	hb := models.Heartbeat{Timestamp: t0, Status: models.HeartbeatOK, Details: map[string]interface{}{"intent": "FLAT"}}
	require.NoError(t, store.WriteHeartbeat(hb))

	got, err := store.ReadHeartbeat()
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, models.HeartbeatOK, got.Status)
	assert.Equal(t, "FLAT", got.Details["intent"])
}

func TestState_Stats(t *testing.T) {
	day := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	state := &State{Fills: []models.Fill{
		buyFill(day.Add(-48 * time.Hour)),
		sellFill(day.Add(-44*time.Hour), "120", models.FillReasonExit),
		buyFill(day.Add(-30 * time.Hour)),
		sellFill(day.Add(-26*time.Hour), "-40", models.FillReasonStopLoss),
		buyFill(day.Add(2 * time.Hour)),
		sellFill(day.Add(6*time.Hour), "-60", models.FillReasonExit),
		buyFill(day.Add(10 * time.Hour)),
		sellFill(day.Add(14*time.Hour), "-25", models.FillReasonStopLoss),
	}}

	stats := state.Stats(day.Add(20 * time.Hour))

	assert.True(t, stats.Day.Equal(day))
	assert.Equal(t, "-85", stats.DailyRealizedPnL.String())
	assert.Equal(t, 3, stats.ConsecutiveLosses)
	assert.Equal(t, 4, stats.ClosedTrades)
	assert.True(t, stats.LastLossAt.Equal(day.Add(14*time.Hour)))
	assert.True(t, stats.LastStopAt.Equal(day.Add(14*time.Hour)))

	next := state.Stats(day.Add(26 * time.Hour))
	assert.True(t, next.DailyRealizedPnL.IsZero())
}

func TestState_DailySummary(t *testing.T) {
	day := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	state := &State{Fills: []models.Fill{
		buyFill(day.Add(-30 * time.Hour)),
		sellFill(day.Add(-26*time.Hour), "-40", models.FillReasonStopLoss),
		buyFill(day.Add(2 * time.Hour)),
		sellFill(day.Add(6*time.Hour), "90", models.FillReasonExit),
		buyFill(day.Add(10 * time.Hour)),
		sellFill(day.Add(14*time.Hour), "-25", models.FillReasonStopLoss),
		buyFill(day.Add(15 * time.Hour)),
		sellFill(day.Add(19*time.Hour), "35", models.FillReasonExit),
	}}

	summary := state.DailySummary(day.Add(23 * time.Hour))
	assert.True(t, summary.Day.Equal(day))
	assert.Equal(t, 3, summary.ClosedTrades)
	assert.Equal(t, 2, summary.Wins)
	assert.Equal(t, "100", summary.RealizedPnL.String())
	assert.Equal(t, "0.67", summary.WinRate().StringFixed(2))

	empty := state.DailySummary(day.Add(48 * time.Hour))
	assert.Zero(t, empty.ClosedTrades)
	assert.True(t, empty.WinRate().IsZero())
}

func TestState_Clone(t *testing.T) {
	state := holdingState()
	clone := state.Clone()

	clone.Position.StopPrice = d("900")
	clone.Fills = append(clone.Fills, sellFill(t0, "1", models.FillReasonExit))

	assert.True(t, state.Position.StopPrice.Equal(d("800")))
	assert.Len(t, state.Fills, 1)
	assert.True(t, state.Holding())
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func editLedger(t *testing.T, dir, old, replacement string) {
	t.Helper()
	path := filepath.Join(dir, LedgerFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), old)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), old, replacement, 1)), 0o644))
}
