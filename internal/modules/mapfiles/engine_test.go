package mapfiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/refdata/internal/clients/polygon"
	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/utils"
)

func writeToDisk(e *Engine, f *File) error {
	return utils.WriteFileAtomic(FilePath(e.dataDir, f.Ticker), f.Marshal())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func change(d, ticker string) polygon.TickerEvent {
	return polygon.TickerEvent{
		Type: polygon.EventTypeTickerChange,
		Date: d,
		TickerChange: &struct {
			Ticker string `json:"ticker"`
		}{Ticker: ticker},
	}
}

func delisted(d string) polygon.TickerEvent {
	return polygon.TickerEvent{Type: polygon.EventTypeDelisted, Date: d}
}

// stubGateway serves canned ticker events and counts upstream calls.
type stubGateway struct {
	tickerEvents []polygon.TickerEvent
	err          error
	calls        int
}

func (g *stubGateway) TickerEvents(context.Context, string) ([]polygon.TickerEvent, error) {
	g.calls++
	return g.tickerEvents, g.err
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

func (g *stubGateway) ActiveTickers(context.Context) ([]polygon.TickerListing, error) {
	return nil, nil
}

func (g *stubGateway) FullSnapshot(context.Context) ([]polygon.TickerSnapshot, error) {
	return nil, nil
}

func (g *stubGateway) QuarterlyFinancials(context.Context, string) ([]polygon.StockFinancial, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, gw polygon.Gateway) *Engine {
	t.Helper()
	e := NewEngine(t.TempDir(), gw, nil, zerolog.Nop())
	e.nowFn = func() time.Time { return date(2025, 1, 3) }
	return e
}

func TestResolveRejectsNonEquities(t *testing.T) {
	e := newTestEngine(t, &stubGateway{})

	f, ok := e.Resolve(domain.Symbol{Ticker: "SPY", Type: domain.SecurityTypeETF, Market: domain.MarketUSA})
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestResolveMinimalHistory(t *testing.T) {
	e := newTestEngine(t, &stubGateway{})

	f, ok := e.Resolve(domain.NewEquity("xyz"))
	require.True(t, ok)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, domain.EarliestDate(), f.Rows[0].Date)
	assert.Equal(t, "XYZ", f.Rows[0].Ticker)
	assert.Equal(t, domain.FarFutureDate(), f.Rows[1].Date)
	assert.Equal(t, domain.ExchangeNASDAQ, f.Rows[1].Exchange)

	onDisk, err := Load(FilePath(e.dataDir, "XYZ"), "XYZ")
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, f.Rows, onDisk.Rows)
}

func TestResolveRename(t *testing.T) {
	gw := &stubGateway{tickerEvents: []polygon.TickerEvent{
		// Upstream reports newest first; the listing event carries the
		// original ticker, later changes carry the ticker from that date on.
		change("2019-05-01", "NEW"),
		change("2010-06-01", "OLD"),
	}}
	e := newTestEngine(t, gw)

	f, ok := e.Resolve(domain.NewEquity("NEW"))
	require.True(t, ok)
	require.Len(t, f.Rows, 3)

	assert.Equal(t, Row{Date: domain.EarliestDate(), Ticker: "NEW", Exchange: "Q"}, f.Rows[0])
	assert.Equal(t, Row{Date: date(2019, 4, 30), Ticker: "OLD", Exchange: "Q"}, f.Rows[1])
	assert.Equal(t, Row{Date: domain.FarFutureDate(), Ticker: "NEW", Exchange: "Q"}, f.Rows[2])

	assert.Equal(t, "OLD", f.TickerOn(date(2015, 3, 2)))
	assert.Equal(t, "NEW", f.TickerOn(date(2020, 3, 2)))
	assert.False(t, f.Delisted())
}

func TestResolveDelisted(t *testing.T) {
	gw := &stubGateway{tickerEvents: []polygon.TickerEvent{
		change("2005-02-01", "GONE"),
		delisted("2021-03-15"),
	}}
	e := newTestEngine(t, gw)

	f, ok := e.Resolve(domain.NewEquity("GONE"))
	require.True(t, ok)
	require.Len(t, f.Rows, 2)

	assert.Equal(t, date(2021, 3, 15), f.LastDate())
	assert.Equal(t, "GONE", f.Rows[1].Ticker)
	assert.True(t, f.Delisted())
	assert.Equal(t, "", f.TickerOn(date(2022, 1, 3)))
}

func TestSynthesizeDedupesByDate(t *testing.T) {
	// Two renames on the same effective date land rows on the same day; the
	// later event wins.
	f := synthesize("C", "Q", []polygon.TickerEvent{
		change("2001-01-01", "A"),
		change("2010-06-02", "B"),
		change("2010-06-02", "C"),
	})

	require.Len(t, f.Rows, 3)
	assert.Equal(t, date(2010, 6, 1), f.Rows[1].Date)
	assert.Equal(t, "B", f.Rows[1].Ticker)
}

func TestFreshFileServedWithoutUpstreamCalls(t *testing.T) {
	gw := &stubGateway{}
	e := newTestEngine(t, gw)

	// An active file ends at the far-future sentinel and never goes stale.
	listed := minimalFile("AAPL", "Q")
	require.NoError(t, writeToDisk(e, listed))

	f, ok := e.Resolve(domain.NewEquity("AAPL"))
	require.True(t, ok)
	assert.Equal(t, domain.FarFutureDate(), f.LastDate())
	assert.Equal(t, 0, gw.calls)
}

func TestDelistedFileServedFromDisk(t *testing.T) {
	gw := &stubGateway{tickerEvents: []polygon.TickerEvent{
		change("2005-02-01", "GONE"),
		delisted("2021-03-15"),
	}}
	e := newTestEngine(t, gw)

	first, ok := e.Resolve(domain.NewEquity("GONE"))
	require.True(t, ok)
	assert.Equal(t, date(2021, 3, 15), first.LastDate())

	// The written file ends at the delisting date. Later requests read it
	// back instead of asking upstream again.
	for i := 0; i < 3; i++ {
		f, ok := e.Resolve(domain.NewEquity("GONE"))
		require.True(t, ok)
		assert.Equal(t, first.Rows, f.Rows)
	}
	assert.Equal(t, 1, gw.calls)
}

func TestOnDiskFileServedRegardlessOfLastDate(t *testing.T) {
	gw := &stubGateway{}
	e := newTestEngine(t, gw)

	existing := &File{Ticker: "GONE", Rows: []Row{
		{Date: domain.EarliestDate(), Ticker: "GONE", Exchange: "Q"},
		{Date: date(2021, 3, 10), Ticker: "GONE", Exchange: "Q"},
	}}
	require.NoError(t, writeToDisk(e, existing))

	f, ok := e.Resolve(domain.NewEquity("GONE"))
	require.True(t, ok)
	assert.Equal(t, date(2021, 3, 10), f.LastDate())
	assert.Equal(t, 0, gw.calls)
}

func TestUpstreamFailureEmitsMinimalWithoutCaching(t *testing.T) {
	gw := &stubGateway{err: errors.New("rate limited")}
	e := newTestEngine(t, gw)

	f, ok := e.Resolve(domain.NewEquity("AAPL"))
	require.True(t, ok)
	assert.Len(t, f.Rows, 2)

	// Degraded output is not persisted; the next request retries upstream.
	_, err := os.Stat(FilePath(e.dataDir, "AAPL"))
	assert.True(t, os.IsNotExist(err))

	_, _ = e.Resolve(domain.NewEquity("AAPL"))
	assert.Equal(t, 2, gw.calls)
}

func TestCorruptFileIsRegenerated(t *testing.T) {
	e := newTestEngine(t, &stubGateway{})

	path := FilePath(e.dataDir, "AAPL")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("20200101,aapl\n"), 0o644))

	f, ok := e.Resolve(domain.NewEquity("AAPL"))
	require.True(t, ok)
	assert.Len(t, f.Rows, 2)
}
