package universe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/refdata/internal/clients/polygon"
)

// stubGateway serves canned snapshot and financials data, counting calls.
type stubGateway struct {
	mu             sync.Mutex
	financialCalls int
	financials     []polygon.StockFinancial
	financialsErr  error

	active      []polygon.TickerListing
	activeErr   error
	activeCalls int

	snapshots    []polygon.TickerSnapshot
	snapshotsErr error
}

func (g *stubGateway) QuarterlyFinancials(context.Context, string) ([]polygon.StockFinancial, error) {
	g.mu.Lock()
	g.financialCalls++
	g.mu.Unlock()
	return g.financials, g.financialsErr
}

func (g *stubGateway) ActiveTickers(context.Context) ([]polygon.TickerListing, error) {
	g.mu.Lock()
	g.activeCalls++
	g.mu.Unlock()
	return g.active, g.activeErr
}

func (g *stubGateway) FullSnapshot(context.Context) ([]polygon.TickerSnapshot, error) {
	return g.snapshots, g.snapshotsErr
}

func (g *stubGateway) Splits(context.Context, string, time.Time, time.Time) ([]polygon.Split, error) {
	return nil, nil
}

func (g *stubGateway) Dividends(context.Context, string, time.Time, time.Time) ([]polygon.Dividend, error) {
	return nil, nil
}

func (g *stubGateway) DailyBars(context.Context, string, time.Time, time.Time) ([]polygon.AggBar, error) {
	return nil, nil
}

func (g *stubGateway) TickerEvents(context.Context, string) ([]polygon.TickerEvent, error) {
	return nil, nil
}

func upstreamFiling(filingDate string, revenue float64) polygon.StockFinancial {
	return polygon.StockFinancial{
		Tickers:      []string{"AAPL"},
		FiscalYear:   "2023",
		FiscalPeriod: "Q1",
		FilingDate:   filingDate,
		Timeframe:    "quarterly",
		Financials: polygon.Financials{
			IncomeStatement: map[string]polygon.FinancialValue{
				"revenues": {Value: revenue},
			},
		},
	}
}

func TestFilingCacheDownloadsAndPersists(t *testing.T) {
	dir := t.TempDir()
	gw := &stubGateway{financials: []polygon.StockFinancial{
		upstreamFiling("2023-05-05", 110000),
		upstreamFiling("2023-02-03", 100000),
	}}
	cache := newFilingCache(dir, gw, 24, false, nil, zerolog.Nop())

	filings := cache.ensureLoaded("aapl")
	require.Len(t, filings, 2)
	// Sorted ascending by filing date regardless of upstream order.
	assert.Equal(t, "2023-02-03", filings[0].FilingDate)
	assert.Equal(t, 100000.0, filings[0].Statements.Income["revenues"])

	// The disk tier now holds the same records.
	data, err := os.ReadFile(FineFilePath(dir, "AAPL"))
	require.NoError(t, err)
	var onDisk []FilingRecord
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, filings, onDisk)

	// Batch mode: the in-memory entry never expires.
	_ = cache.ensureLoaded("AAPL")
	assert.Equal(t, 1, gw.financialCalls)
}

func TestFilingCacheLoadsFromDiskTier(t *testing.T) {
	dir := t.TempDir()
	path := FineFilePath(dir, "AAPL")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	seed := []FilingRecord{{Ticker: "AAPL", FilingDate: "2023-02-03", Timeframe: "quarterly"}}
	data, err := json.MarshalIndent(seed, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	gw := &stubGateway{}
	cache := newFilingCache(dir, gw, 24, false, nil, zerolog.Nop())

	filings := cache.ensureLoaded("AAPL")
	require.Len(t, filings, 1)
	assert.Equal(t, 0, gw.financialCalls)
}

func TestFilingCacheCorruptDiskFileRedownloads(t *testing.T) {
	dir := t.TempDir()
	path := FineFilePath(dir, "AAPL")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	gw := &stubGateway{financials: []polygon.StockFinancial{upstreamFiling("2023-02-03", 100000)}}
	cache := newFilingCache(dir, gw, 24, false, nil, zerolog.Nop())

	filings := cache.ensureLoaded("AAPL")
	require.Len(t, filings, 1)
	assert.Equal(t, 1, gw.financialCalls)

	// The corrupt file was replaced by a valid one.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []FilingRecord
	assert.NoError(t, json.Unmarshal(data, &onDisk))
}

func TestFilingCacheUpstreamFailureRetries(t *testing.T) {
	dir := t.TempDir()
	gw := &stubGateway{financialsErr: errors.New("rate limited")}
	cache := newFilingCache(dir, gw, 24, false, nil, zerolog.Nop())

	assert.Empty(t, cache.ensureLoaded("AAPL"))
	_, err := os.Stat(FineFilePath(dir, "AAPL"))
	assert.True(t, os.IsNotExist(err), "failures are not written to disk")

	// The failed attempt was not cached; recovery is picked up.
	gw.financialsErr = nil
	gw.financials = []polygon.StockFinancial{upstreamFiling("2023-02-03", 100000)}
	assert.Len(t, cache.ensureLoaded("AAPL"), 1)
	assert.Equal(t, 2, gw.financialCalls)
}

func TestFilingCacheLiveModeExpiry(t *testing.T) {
	dir := t.TempDir()
	gw := &stubGateway{financials: []polygon.StockFinancial{upstreamFiling("2023-02-03", 100000)}}
	cache := newFilingCache(dir, gw, 1, true, nil, zerolog.Nop())

	now := time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	cache.nowFn = func() time.Time { return now }

	_ = cache.ensureLoaded("AAPL")
	_ = cache.ensureLoaded("AAPL")
	assert.Equal(t, 1, gw.financialCalls)

	// Past the freshness window the in-memory entry is stale. The disk tier
	// is removed here so the reload is observable as an upstream call.
	require.NoError(t, os.Remove(FineFilePath(dir, "AAPL")))
	now = now.Add(2 * time.Hour)
	_ = cache.ensureLoaded("AAPL")
	assert.Equal(t, 2, gw.financialCalls)
}

func TestFilingCacheDropsInvalidFilingDates(t *testing.T) {
	gw := &stubGateway{financials: []polygon.StockFinancial{
		upstreamFiling("2023-02-03", 100000),
		upstreamFiling("not-a-date", 999999),
	}}
	cache := newFilingCache(t.TempDir(), gw, 24, false, nil, zerolog.Nop())

	filings := cache.ensureLoaded("AAPL")
	require.Len(t, filings, 1)
	assert.Equal(t, "2023-02-03", filings[0].FilingDate)
}
