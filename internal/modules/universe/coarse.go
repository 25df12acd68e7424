package universe

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/refdata/internal/clients/polygon"
	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/locks"
	"github.com/aristath/refdata/internal/utils"
)

// PermIDSource assigns stable permanent identifiers to tickers.
type PermIDSource interface {
	// Resolve returns the permanent identifier for a ticker, creating one
	// from the listing date on first sight.
	Resolve(ticker string, listDate time.Time) (string, error)
}

// Options configures the universe engine.
type Options struct {
	DataDir            string
	MaxConcurrent      int  // Parallel row builders per generation, default 10
	FinancialsCacheHrs int  // Filing cache freshness window in live mode
	LiveMode           bool // False = batch mode; loaded filings never expire
}

// Engine generates daily coarse universe files and serves per-security
// property lookups over them and over the filing cache. Safe for concurrent
// use.
type Engine struct {
	opts         Options
	gateway      polygon.Gateway
	factors      domain.FactorSource
	permIDs      PermIDSource
	locks        *locks.KeyedMutex
	events       *events.Manager
	log          zerolog.Logger
	fundamentals *Fundamentals
	filings      *filingCache

	// Single-entry day cache: one date's rows at a time, keyed by permID.
	dayMu      sync.Mutex
	cachedDate string
	cachedRows map[string]CoarseRow
}

// NewEngine creates a universe engine.
func NewEngine(opts Options, gateway polygon.Gateway, factors domain.FactorSource, permIDs PermIDSource, eventManager *events.Manager, log zerolog.Logger) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.FinancialsCacheHrs <= 0 {
		opts.FinancialsCacheHrs = 24
	}

	filings := newFilingCache(opts.DataDir, gateway, opts.FinancialsCacheHrs, opts.LiveMode, eventManager, log)
	return &Engine{
		opts:         opts,
		gateway:      gateway,
		factors:      factors,
		permIDs:      permIDs,
		locks:        locks.NewKeyedMutex(),
		events:       eventManager,
		log:          log.With().Str("engine", "universe").Logger(),
		fundamentals: NewFundamentals(filings),
		filings:      filings,
	}
}

// Fundamentals exposes the point-in-time filing lookup.
func (e *Engine) Fundamentals() *Fundamentals {
	return e.fundamentals
}

// SeedFilings installs filings for a ticker directly, bypassing disk and
// upstream. Fixture seam for tests and offline batch preparation.
func (e *Engine) SeedFilings(ticker string, filings []FilingRecord) {
	e.filings.Seed(ticker, filings)
}

// GenerateFor materializes the coarse file for a date. A file already on
// disk means no work. Concurrent calls for the same date coalesce into one
// generation.
func (e *Engine) GenerateFor(date time.Time) error {
	day := domain.Midnight(date)
	key := day.Format(domain.DateFormatCompact)

	if _, err := os.Stat(CoarseFilePath(e.opts.DataDir, day)); err == nil {
		return nil
	}

	return e.locks.Do("coarse-"+key, func() error {
		if _, err := os.Stat(CoarseFilePath(e.opts.DataDir, day)); err == nil {
			return nil
		}
		return e.generate(day)
	})
}

func (e *Engine) generate(day time.Time) error {
	timer := utils.NewTimer("coarse_generation", e.log)
	defer timer.Stop()

	ctx := context.Background()

	active, err := e.activeTickers(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to list active tickers: %w", err)
	}

	snapshots, err := e.gateway.FullSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch market snapshot: %w", err)
	}

	rows, skipped := e.buildRows(day, active, snapshots)

	if err := utils.WriteFileAtomic(CoarseFilePath(e.opts.DataDir, day), marshalCoarse(rows)); err != nil {
		return fmt.Errorf("failed to write coarse file: %w", err)
	}

	e.events.EmitTyped("universe", &events.CoarseGeneratedData{
		Date:       day.Format(domain.DateFormatCompact),
		Rows:       len(rows),
		Skipped:    skipped,
		MeanDollar: meanDollarVolume(rows),
	})
	e.log.Info().
		Str("date", day.Format(domain.DateFormatCompact)).
		Int("rows", len(rows)).
		Int("skipped", skipped).
		Msg("Coarse universe file generated")
	return nil
}

// buildRows converts snapshots of active tickers into coarse rows with
// bounded parallelism. Tickers without a usable bar are skipped; factor and
// permanent-identifier failures degrade to defaults rather than dropping the
// row.
func (e *Engine) buildRows(day time.Time, active []polygon.TickerListing, snapshots []polygon.TickerSnapshot) ([]CoarseRow, int) {
	listings := make(map[string]polygon.TickerListing, len(active))
	for _, l := range active {
		listings[strings.ToUpper(l.Ticker)] = l
	}

	var (
		mu      sync.Mutex
		rows    []CoarseRow
		skipped int
	)

	work := make(chan polygon.TickerSnapshot)
	var wg sync.WaitGroup
	for i := 0; i < e.opts.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snapshot := range work {
				row, ok := e.buildRow(day, listings, snapshot)
				mu.Lock()
				if ok {
					rows = append(rows, row)
				} else {
					skipped++
				}
				mu.Unlock()
			}
		}()
	}

	for _, snapshot := range snapshots {
		if _, isActive := listings[strings.ToUpper(snapshot.Ticker)]; !isActive {
			continue
		}
		work <- snapshot
	}
	close(work)
	wg.Wait()

	return rows, skipped
}

func (e *Engine) buildRow(day time.Time, listings map[string]polygon.TickerListing, snapshot polygon.TickerSnapshot) (CoarseRow, bool) {
	ticker := strings.ToUpper(snapshot.Ticker)

	bar := snapshot.Bar()
	if bar == nil {
		return CoarseRow{}, false
	}

	priceFactor, splitFactor := 1.0, 1.0
	if lookup, ok := e.factors.Lookup(ticker); ok {
		priceFactor, splitFactor = lookup.FactorsOn(day)
	}

	permID := e.resolvePermID(ticker, listings[ticker])
	volume := int64(bar.Volume)

	return CoarseRow{
		PermID:          permID,
		Ticker:          ticker,
		Close:           bar.Close,
		Volume:          volume,
		DollarVolume:    math.Trunc(bar.Close * float64(volume)),
		HasFundamentals: false,
		PriceFactor:     priceFactor,
		SplitFactor:     splitFactor,
	}, true
}

// resolvePermID asks the registry for the ticker's permanent identifier,
// falling back to the bare ticker when the registry cannot serve.
func (e *Engine) resolvePermID(ticker string, listing polygon.TickerListing) string {
	listDate, _ := time.Parse(domain.DateFormatISO, listing.ListDate)

	permID, err := e.permIDs.Resolve(ticker, listDate)
	if err != nil || permID == "" {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Permanent identifier unavailable, using ticker")
		return ticker
	}
	return permID
}

// activeTickers returns the day's active common-stock listings, using a
// per-date msgpack cache so re-runs within a day avoid the paginated listing
// crawl.
func (e *Engine) activeTickers(ctx context.Context, day time.Time) ([]polygon.TickerListing, error) {
	path := filepath.Join(e.opts.DataDir, "universe",
		"active-"+day.Format(domain.DateFormatCompact)+".mp")

	if data, err := os.ReadFile(path); err == nil {
		var cached []polygon.TickerListing
		if err := msgpack.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		e.log.Warn().Str("path", path).Msg("Corrupt active-ticker cache, deleting")
		_ = os.Remove(path)
	}

	listings, err := e.gateway.ActiveTickers(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := msgpack.Marshal(listings); err == nil {
		if err := utils.WriteFileAtomic(path, data); err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("Failed to write active-ticker cache")
		}
	}
	return listings, nil
}

func meanDollarVolume(rows []CoarseRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	volumes := make([]float64, len(rows))
	for i, row := range rows {
		volumes[i] = row.DollarVolume
	}
	return stat.Mean(volumes, nil)
}

// Get resolves one property for a security on a date. Financial properties
// consult the filing cache point-in-time; the rest read the date's coarse
// file. Missing securities or unknown properties produce NaN.
func (e *Engine) Get(property string, date time.Time, permID string) interface{} {
	day := domain.Midnight(date)

	if prop := ParseProperty(property); prop.IsFinancial() {
		ticker := permIDTicker(permID)
		if row, ok := e.rowFor(day, permID); ok {
			ticker = row.Ticker
		}
		return e.fundamentals.Value(ticker, prop, day)
	}

	row, ok := e.rowFor(day, permID)
	if !ok {
		return coarseZero(property)
	}

	switch property {
	case "Price", "Close":
		return row.Close
	case "Volume":
		return row.Volume
	case "DollarVolume":
		return row.DollarVolume
	case "PriceFactor":
		return row.PriceFactor
	case "SplitFactor":
		return row.SplitFactor
	}
	return math.NaN()
}

// coarseZero is the type-appropriate zero for a coarse field.
func coarseZero(property string) interface{} {
	switch property {
	case "Volume":
		return int64(0)
	case "Price", "Close", "DollarVolume", "PriceFactor", "SplitFactor":
		return 0.0
	}
	return math.NaN()
}

// rowFor returns a permID's coarse row for a date, loading (and if needed
// generating) that date's file into the single-entry day cache.
func (e *Engine) rowFor(day time.Time, permID string) (CoarseRow, bool) {
	key := day.Format(domain.DateFormatCompact)

	e.dayMu.Lock()
	defer e.dayMu.Unlock()

	if e.cachedDate != key {
		if err := e.GenerateFor(day); err != nil {
			e.log.Warn().Err(err).Str("date", key).Msg("Coarse generation failed during lookup")
			return CoarseRow{}, false
		}
		data, err := os.ReadFile(CoarseFilePath(e.opts.DataDir, day))
		if err != nil {
			return CoarseRow{}, false
		}
		e.cachedRows = parseCoarse(data)
		e.cachedDate = key
	}

	row, ok := e.cachedRows[permID]
	return row, ok
}
