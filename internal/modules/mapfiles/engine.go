package mapfiles

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

// Engine materializes map files on demand with download-once semantics.
// Safe for concurrent use.
type Engine struct {
	dataDir string
	gateway polygon.Gateway
	locks   *locks.KeyedMutex
	events  *events.Manager
	log     zerolog.Logger
	nowFn   func() time.Time
}

// NewEngine creates a map file engine.
func NewEngine(dataDir string, gateway polygon.Gateway, eventManager *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		dataDir: dataDir,
		gateway: gateway,
		locks:   locks.NewKeyedMutex(),
		events:  eventManager,
		log:     log.With().Str("engine", "mapfiles").Logger(),
		nowFn:   time.Now,
	}
}

// Resolve returns the map file for a symbol, synthesizing it from the
// upstream ticker-event history when no usable on-disk copy exists.
// Returns (nil, false) for non-equities. Upstream failures degrade to a
// minimal file, never an error.
func (e *Engine) Resolve(symbol domain.Symbol) (*File, bool) {
	if !symbol.IsEquity() {
		return nil, false
	}

	ticker := symbol.Ticker
	if f := e.load(ticker); f != nil {
		return f, true
	}

	var result *File
	_ = e.locks.Do("map-"+ticker, func() error {
		if f := e.loadFresh(ticker); f != nil {
			result = f
			return nil
		}
		result = e.generate(ticker)
		return nil
	})
	return result, result != nil
}

// load parses the on-disk file. Once written, a map file is served as is
// whatever its final date: a delisted security's file ends at its delisting
// date and must not trigger a refetch. Corrupt files are deleted so the next
// request regenerates them.
func (e *Engine) load(ticker string) *File {
	path := FilePath(e.dataDir, ticker)
	f, err := Load(path, ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Corrupt map file, deleting")
		_ = os.Remove(path)
		return nil
	}
	return f
}

// loadFresh is the re-check inside the lock: a file a concurrent caller just
// wrote counts only when its final row is at yesterday or later, or within a
// year of the far-future sentinel (the listed-security steady state).
func (e *Engine) loadFresh(ticker string) *File {
	f := e.load(ticker)
	if f == nil {
		return nil
	}

	last := f.LastDate()
	yesterday := domain.Midnight(e.nowFn()).AddDate(0, 0, -1)
	if last.Before(yesterday) && last.Before(domain.FarFutureDate().AddDate(-1, 0, 0)) {
		return nil
	}
	return f
}

// generate synthesizes the map file from the upstream ticker-event history.
// Called with the per-ticker lock held.
func (e *Engine) generate(ticker string) *File {
	exchange := domain.PrimaryExchange(domain.MarketUSA)

	tickerEvents, err := e.gateway.TickerEvents(context.Background(), ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Ticker events unavailable, emitting minimal map file")
		return minimalFile(ticker, exchange)
	}

	file := synthesize(ticker, exchange, tickerEvents)

	if err := utils.WriteFileAtomic(FilePath(e.dataDir, ticker), file.Marshal()); err != nil {
		e.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to write map file")
		return file
	}

	e.events.EmitTyped("mapfiles", &events.ArtifactGeneratedData{
		Kind:   "map",
		Ticker: file.Ticker,
		Rows:   len(file.Rows),
		Reason: reasonFor(tickerEvents),
	})
	return file
}

func reasonFor(tickerEvents []polygon.TickerEvent) string {
	if len(tickerEvents) == 0 {
		return "minimal"
	}
	return "full"
}

// synthesize folds the event history into map file rows. Each rename closes
// the previous ticker's validity on the day before the change took effect; a
// delisting replaces the far-future sentinel with the delisting date.
func synthesize(ticker, exchange string, tickerEvents []polygon.TickerEvent) *File {
	requested := domain.NewEquity(ticker).Ticker

	sorted := make([]polygon.TickerEvent, 0, len(tickerEvents))
	for _, ev := range tickerEvents {
		if !ev.EventDate().IsZero() {
			sorted = append(sorted, ev)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventDate().Before(sorted[j].EventDate())
	})

	rows := []Row{{Date: domain.EarliestDate(), Ticker: requested, Exchange: exchange}}

	var delistDate time.Time
	var previousTicker string
	for _, ev := range sorted {
		switch ev.Type {
		case polygon.EventTypeTickerChange:
			if previousTicker != "" {
				rows = append(rows, Row{
					Date:     ev.EventDate().AddDate(0, 0, -1),
					Ticker:   previousTicker,
					Exchange: exchange,
				})
			}
			if ev.TickerChange != nil {
				previousTicker = ev.TickerChange.Ticker
			}
		case polygon.EventTypeDelisted:
			delistDate = ev.EventDate()
		}
	}

	if !delistDate.IsZero() {
		rows = append(rows, Row{Date: delistDate, Ticker: requested, Exchange: exchange})
	} else {
		rows = append(rows, Row{Date: domain.FarFutureDate(), Ticker: requested, Exchange: exchange})
	}

	rows = dedupeByDate(rows)
	sortRows(rows)
	return &File{Ticker: requested, Rows: rows}
}
