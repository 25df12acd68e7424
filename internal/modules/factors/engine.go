package factors

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/clients/polygon"
	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/locks"
	"github.com/aristath/refdata/internal/utils"
)

// actionKind orders same-date corporate actions: splits apply before dividends.
type actionKind int

const (
	actionSplit actionKind = iota
	actionDividend
)

// corporateAction is one split or dividend normalized for the factor fold.
type corporateAction struct {
	kind           actionKind
	date           time.Time
	splitFactor    float64 // oldShares/newShares, splits only
	cashAmount     float64 // dividends only
	referencePrice float64 // Raw close on the last trading day before date
}

// Engine materializes factor files on demand with download-once semantics.
// Safe for concurrent use.
type Engine struct {
	dataDir  string
	gateway  polygon.Gateway
	calendar domain.TradingCalendar
	locks    *locks.KeyedMutex
	events   *events.Manager
	log      zerolog.Logger
	nowFn    func() time.Time
}

// NewEngine creates a factor file engine.
func NewEngine(dataDir string, gateway polygon.Gateway, calendar domain.TradingCalendar, eventManager *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		dataDir:  dataDir,
		gateway:  gateway,
		calendar: calendar,
		locks:    locks.NewKeyedMutex(),
		events:   eventManager,
		log:      log.With().Str("engine", "factors").Logger(),
		nowFn:    time.Now,
	}
}

// Get returns the factor file for a symbol, generating or refreshing it when
// the on-disk copy is stale or absent. Returns (nil, false) for non-equities.
// Upstream failures degrade to a minimal file (or the previous file when one
// exists), never an error.
func (e *Engine) Get(symbol domain.Symbol) (*File, bool) {
	if !symbol.IsEquity() {
		return nil, false
	}

	ticker := symbol.Ticker
	today := domain.Midnight(e.nowFn())

	if f := e.loadFresh(ticker, today); f != nil {
		return f, true
	}

	var result *File
	_ = e.locks.Do(ticker, func() error {
		// Re-check inside the lock: a concurrent caller may have just
		// finished the work for this ticker.
		if f := e.loadFresh(ticker, today); f != nil {
			result = f
			return nil
		}
		result = e.materialize(ticker, today)
		return nil
	})
	return result, result != nil
}

// Lookup implements domain.FactorSource for the universe engine.
func (e *Engine) Lookup(ticker string) (domain.FactorLookup, bool) {
	f, ok := e.Get(domain.NewEquity(ticker))
	if !ok {
		return nil, false
	}
	return f, true
}

// loadFresh parses the on-disk file and returns it only if its top sentinel
// is recent enough (verified through yesterday or later). Corrupt files are
// deleted so the next request regenerates them.
func (e *Engine) loadFresh(ticker string, today time.Time) *File {
	path := FilePath(e.dataDir, ticker)
	f, err := Load(path, ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Corrupt factor file, deleting")
		_ = os.Remove(path)
		return nil
	}
	if f == nil {
		return nil
	}
	if f.LastDate().Before(today.AddDate(0, 0, -1)) {
		return nil
	}
	return f
}

// materialize refreshes a stale file or generates one from scratch.
// Called with the per-ticker lock held.
func (e *Engine) materialize(ticker string, today time.Time) *File {
	timer := utils.NewTimer("factor_file_generation", e.log)
	defer timer.Stop()

	path := FilePath(e.dataDir, ticker)
	existing, err := Load(path, ticker)
	if err != nil {
		_ = os.Remove(path)
		existing = nil
	}

	if existing != nil {
		if f := e.refresh(ticker, existing, today); f != nil {
			return f
		}
		// Refresh found new corporate actions; regenerate from scratch.
	}

	return e.generate(ticker, today, existing)
}

// refresh handles the stale-but-present case: when no corporate actions
// occurred since the last verification, only the top sentinel date moves
// forward. Returns nil when a full regeneration is required.
func (e *Engine) refresh(ticker string, existing *File, today time.Time) *File {
	ctx := context.Background()
	from := existing.LastDate().AddDate(0, 0, 1)

	splits, err := e.gateway.Splits(ctx, ticker, from, today)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Split refresh failed, keeping previous factor file")
		return existing
	}
	dividends, err := e.gateway.Dividends(ctx, ticker, from, today)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Dividend refresh failed, keeping previous factor file")
		return existing
	}

	cashDividends := 0
	for _, d := range dividends {
		if d.IsCash() {
			cashDividends++
		}
	}
	if len(splits) > 0 || cashDividends > 0 {
		return nil
	}

	// Nothing new: advance the verification date and rewrite.
	refreshed := &File{Ticker: existing.Ticker, Rows: append([]Row(nil), existing.Rows...)}
	refreshed.Rows[len(refreshed.Rows)-1].Date = today

	if err := e.write(refreshed); err != nil {
		e.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to rewrite refreshed factor file")
		return existing
	}
	e.emit(ticker, len(refreshed.Rows), "refresh")
	return refreshed
}

// generate builds the full factor file from the complete corporate-action
// history. prior is returned as a fallback on upstream failure.
func (e *Engine) generate(ticker string, today time.Time, prior *File) *File {
	ctx := context.Background()
	earliest := domain.EarliestDate()

	splits, err := e.gateway.Splits(ctx, ticker, earliest, today)
	if err != nil {
		return e.degrade(ticker, today, prior, err, "splits")
	}
	dividends, err := e.gateway.Dividends(ctx, ticker, earliest, today)
	if err != nil {
		return e.degrade(ticker, today, prior, err, "dividends")
	}

	splits = dedupeSplits(splits)
	dividends = dedupeDividends(dividends)

	if len(splits) == 0 && len(dividends) == 0 {
		return e.writeAndReturn(minimalFile(ticker, today), "minimal")
	}

	bars, err := e.gateway.DailyBars(ctx, ticker, earliest, today)
	if err != nil {
		return e.degrade(ticker, today, prior, err, "daily bars")
	}

	closes, earliestBar := closesByDate(bars)
	if len(closes) == 0 {
		e.log.Warn().Str("ticker", ticker).Msg("No daily closes available, emitting minimal factor file")
		return e.writeAndReturn(minimalFile(ticker, today), "minimal")
	}

	actions := buildActions(splits, dividends, closes)
	if len(actions) == 0 {
		return e.writeAndReturn(minimalFile(ticker, today), "minimal")
	}

	file := &File{Ticker: domain.NewEquity(ticker).Ticker}
	file.Rows = []Row{
		{Date: earliestBar, PriceFactor: 1, SplitFactor: 1},
		{Date: today, PriceFactor: 1, SplitFactor: 1},
	}
	for _, action := range actions {
		e.apply(file, action)
	}
	sortRows(file.Rows)

	return e.writeAndReturn(file, "full")
}

// apply folds one corporate action into the file. Every existing row except
// the top sentinel describes a date before the action, so the action's factor
// scales them all; a new row is inserted on the trading day preceding the
// action carrying the factor that converts that day's raw price forward.
func (e *Engine) apply(file *File, action corporateAction) {
	prev := e.calendar.PreviousTradingDay(action.date)

	var priceFactor, splitFactor float64 = 1, 1
	switch action.kind {
	case actionSplit:
		splitFactor = action.splitFactor
	case actionDividend:
		p := action.referencePrice
		priceFactor = (p - action.cashAmount) / p
	}

	top := len(file.Rows) - 1
	for i := range file.Rows[:top] {
		file.Rows[i].PriceFactor *= priceFactor
		file.Rows[i].SplitFactor *= splitFactor
	}

	// A second action mapping to the same trading day updates the existing
	// row in place; the scaling above already folded in its factor.
	for i := range file.Rows[:top] {
		if file.Rows[i].Date.Equal(prev) {
			file.Rows[i].ReferencePrice = action.referencePrice
			return
		}
	}

	file.Rows = append(file.Rows, Row{
		Date:           prev,
		PriceFactor:    priceFactor,
		SplitFactor:    splitFactor,
		ReferencePrice: action.referencePrice,
	})
	sortRows(file.Rows)
}

// degrade handles upstream failure: keep the previous file when one exists,
// otherwise emit a minimal file so callers still get a usable series. The
// minimal file is not considered verified and is rewritten on the next
// request once upstream recovers (its sentinel is already today, so recovery
// happens after the staleness window; acceptable for a degraded path).
func (e *Engine) degrade(ticker string, today time.Time, prior *File, err error, stage string) *File {
	e.log.Warn().Err(err).Str("ticker", ticker).Str("stage", stage).Msg("Upstream failure during factor generation")
	if prior != nil {
		return prior
	}
	return minimalFile(ticker, today)
}

func (e *Engine) writeAndReturn(file *File, reason string) *File {
	if err := e.write(file); err != nil {
		e.log.Error().Err(err).Str("ticker", file.Ticker).Msg("Failed to write factor file")
		return file
	}
	e.emit(file.Ticker, len(file.Rows), reason)
	return file
}

func (e *Engine) write(file *File) error {
	return utils.WriteFileAtomic(FilePath(e.dataDir, file.Ticker), file.Marshal())
}

func (e *Engine) emit(ticker string, rows int, reason string) {
	e.events.EmitTyped("factors", &events.ArtifactGeneratedData{
		Kind:   "factor",
		Ticker: ticker,
		Rows:   rows,
		Reason: reason,
	})
}

// dedupeSplits keeps the first split per execution date (ascending) and
// drops records with unparseable dates.
func dedupeSplits(splits []polygon.Split) []polygon.Split {
	sort.SliceStable(splits, func(i, j int) bool { return splits[i].Date().Before(splits[j].Date()) })

	seen := make(map[string]bool, len(splits))
	out := splits[:0]
	for _, s := range splits {
		if s.Date().IsZero() || seen[s.ExecutionDate] {
			continue
		}
		seen[s.ExecutionDate] = true
		out = append(out, s)
	}
	return out
}

// dedupeDividends keeps cash dividends only, first per ex-date.
func dedupeDividends(dividends []polygon.Dividend) []polygon.Dividend {
	sort.SliceStable(dividends, func(i, j int) bool { return dividends[i].Date().Before(dividends[j].Date()) })

	seen := make(map[string]bool, len(dividends))
	out := dividends[:0]
	for _, d := range dividends {
		if !d.IsCash() || d.Date().IsZero() || seen[d.ExDividendDate] {
			continue
		}
		seen[d.ExDividendDate] = true
		out = append(out, d)
	}
	return out
}

// closesByDate indexes unadjusted closes by date and returns the earliest
// bar date, which anchors the generated series.
func closesByDate(bars []polygon.AggBar) (map[time.Time]float64, time.Time) {
	closes := make(map[time.Time]float64, len(bars))
	var earliest time.Time
	for _, bar := range bars {
		d := bar.Date()
		closes[d] = bar.Close
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return closes, earliest
}

// referencePriceFor finds the raw close on the most recent day strictly
// within the five calendar days before the event. Zero when none exists.
func referencePriceFor(closes map[time.Time]float64, eventDate time.Time) float64 {
	for back := 1; back <= 5; back++ {
		if c, ok := closes[eventDate.AddDate(0, 0, -back)]; ok {
			return c
		}
	}
	return 0
}

// buildActions converts surviving splits and dividends into a single sorted
// action stream. Records without a positive reference price, splits with a
// zero factor, and non-positive dividends are dropped.
func buildActions(splits []polygon.Split, dividends []polygon.Dividend, closes map[time.Time]float64) []corporateAction {
	actions := make([]corporateAction, 0, len(splits)+len(dividends))

	for _, s := range splits {
		ref := referencePriceFor(closes, s.Date())
		if ref <= 0 || s.Factor() == 0 {
			continue
		}
		actions = append(actions, corporateAction{
			kind:           actionSplit,
			date:           s.Date(),
			splitFactor:    s.Factor(),
			referencePrice: ref,
		})
	}

	for _, d := range dividends {
		ref := referencePriceFor(closes, d.Date())
		if ref <= 0 || d.CashAmount <= 0 {
			continue
		}
		actions = append(actions, corporateAction{
			kind:           actionDividend,
			date:           d.Date(),
			cashAmount:     d.CashAmount,
			referencePrice: ref,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].date.Equal(actions[j].date) {
			return actions[i].date.Before(actions[j].date)
		}
		return actions[i].kind < actions[j].kind
	})
	return actions
}
