package universe

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/clients/polygon"
	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/locks"
	"github.com/aristath/refdata/internal/utils"
)

// filingCache holds quarterly filings per ticker, backed by a JSON file tier.
// In batch mode (the default) a loaded entry never expires for the process
// lifetime; in live mode entries are refreshed once cacheHours elapse.
type filingCache struct {
	dataDir    string
	gateway    polygon.Gateway
	locks      *locks.KeyedMutex
	events     *events.Manager
	log        zerolog.Logger
	cacheHours int
	liveMode   bool
	nowFn      func() time.Time

	mu      sync.RWMutex
	entries map[string]*filingEntry
}

type filingEntry struct {
	filings  []FilingRecord
	loadedAt time.Time
}

func newFilingCache(dataDir string, gateway polygon.Gateway, cacheHours int, liveMode bool, eventManager *events.Manager, log zerolog.Logger) *filingCache {
	return &filingCache{
		dataDir:    dataDir,
		gateway:    gateway,
		locks:      locks.NewKeyedMutex(),
		events:     eventManager,
		log:        log.With().Str("component", "filing_cache").Logger(),
		cacheHours: cacheHours,
		liveMode:   liveMode,
		nowFn:      time.Now,
		entries:    make(map[string]*filingEntry),
	}
}

// ensureLoaded returns the ticker's filings, loading from disk or upstream
// as needed. Empty on upstream failure; the failed attempt is not cached, so
// the next call retries.
func (c *filingCache) ensureLoaded(ticker string) []FilingRecord {
	ticker = strings.ToUpper(ticker)

	if filings, ok := c.lookup(ticker); ok {
		return filings
	}

	var result []FilingRecord
	_ = c.locks.Do("filings-"+ticker, func() error {
		if filings, ok := c.lookup(ticker); ok {
			result = filings
			return nil
		}
		result = c.load(ticker)
		return nil
	})
	return result
}

// Seed installs filings for a ticker directly, bypassing disk and upstream.
// Fixture seam for tests and offline batch preparation.
func (c *filingCache) Seed(ticker string, filings []FilingRecord) {
	sortFilings(filings)
	c.mu.Lock()
	c.entries[strings.ToUpper(ticker)] = &filingEntry{filings: filings, loadedAt: c.nowFn()}
	c.mu.Unlock()
}

// lookup returns the in-memory entry when present and still valid.
func (c *filingCache) lookup(ticker string) ([]FilingRecord, bool) {
	c.mu.RLock()
	entry, ok := c.entries[ticker]
	c.mu.RUnlock()
	if !ok || entry.loadedAt.IsZero() {
		return nil, false
	}
	if c.liveMode && c.nowFn().Sub(entry.loadedAt) >= c.maxAge() {
		return nil, false
	}
	return entry.filings, true
}

func (c *filingCache) maxAge() time.Duration {
	return time.Duration(c.cacheHours) * time.Hour
}

// load populates the ticker's entry from the disk tier or upstream.
// Called with the per-ticker lock held.
func (c *filingCache) load(ticker string) []FilingRecord {
	if filings, ok := c.loadFromDisk(ticker); ok {
		c.store(ticker, filings)
		c.emit(ticker, len(filings), "disk")
		return filings
	}

	filings, err := c.download(ticker)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Filing download failed")
		return nil
	}

	if err := c.writeToDisk(ticker, filings); err != nil {
		c.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to write filing cache")
	}
	c.store(ticker, filings)
	c.emit(ticker, len(filings), "upstream")
	return filings
}

func (c *filingCache) store(ticker string, filings []FilingRecord) {
	c.mu.Lock()
	c.entries[ticker] = &filingEntry{filings: filings, loadedAt: c.nowFn()}
	c.mu.Unlock()
}

func (c *filingCache) emit(ticker string, count int, source string) {
	c.events.EmitTyped("universe", &events.FilingsRefreshedData{
		Ticker:  ticker,
		Filings: count,
		Source:  source,
	})
}

// loadFromDisk reads the JSON tier. In live mode the file must be younger
// than cacheHours; batch mode accepts any age. Corrupt files are deleted so
// the upstream path runs.
func (c *filingCache) loadFromDisk(ticker string) ([]FilingRecord, bool) {
	path := FineFilePath(c.dataDir, ticker)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.liveMode && c.nowFn().Sub(info.ModTime()) >= c.maxAge() {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var filings []FilingRecord
	if err := json.Unmarshal(data, &filings); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Corrupt filing cache, deleting")
		_ = os.Remove(path)
		return nil, false
	}

	sortFilings(filings)
	return filings, true
}

func (c *filingCache) writeToDisk(ticker string, filings []FilingRecord) error {
	data, err := json.MarshalIndent(filings, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(FineFilePath(c.dataDir, ticker), data)
}

// download fetches all quarterly filings from upstream and converts them to
// cache records, dropping any with an unparseable filing date.
func (c *filingCache) download(ticker string) ([]FilingRecord, error) {
	raw, err := c.gateway.QuarterlyFinancials(context.Background(), ticker)
	if err != nil {
		return nil, err
	}

	filings := make([]FilingRecord, 0, len(raw))
	for _, f := range raw {
		if f.FilingTime().IsZero() {
			continue
		}
		filings = append(filings, FilingRecord{
			Ticker:       ticker,
			FiscalYear:   f.FiscalYear,
			FiscalPeriod: f.FiscalPeriod,
			StartDate:    f.StartDate,
			EndDate:      f.EndDate,
			FilingDate:   f.FilingDate,
			Timeframe:    f.Timeframe,
			Statements: Statements{
				Income:   flattenValues(f.Financials.IncomeStatement),
				Balance:  flattenValues(f.Financials.BalanceSheet),
				CashFlow: flattenValues(f.Financials.CashFlowStatement),
			},
		})
	}

	sortFilings(filings)
	return filings, nil
}

func flattenValues(values map[string]polygon.FinancialValue) map[string]float64 {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]float64, len(values))
	for key, v := range values {
		out[key] = v.Value
	}
	return out
}

func sortFilings(filings []FilingRecord) {
	sort.SliceStable(filings, func(i, j int) bool {
		return filings[i].FilingTime().Before(filings[j].FilingTime())
	})
}
