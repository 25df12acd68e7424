package polygon

import (
	"time"

	"github.com/aristath/refdata/internal/domain"
)

// Dividend types as reported by the upstream API. Factor generation only
// consumes cash-type dividends.
const (
	DividendTypeCash        = "CD" // Regular cash dividend
	DividendTypeSpecialCash = "SC" // Special cash dividend
)

// Ticker event types returned by the events endpoint.
const (
	EventTypeTickerChange = "ticker_change"
	EventTypeDelisted     = "delisted"
)

// pagedResponse is the envelope shared by all paginated endpoints.
// NextURL carries a continuation link until the sequence is exhausted.
type pagedResponse[T any] struct {
	Results []T    `json:"results"`
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
}

// Split is one stock split event.
type Split struct {
	Ticker        string  `json:"ticker"`
	ExecutionDate string  `json:"execution_date"` // yyyy-MM-dd
	SplitFrom     float64 `json:"split_from"` // Old share count
	SplitTo       float64 `json:"split_to"`   // New share count
}

// Factor returns oldShares/newShares: < 1 for forward splits, > 1 for
// reverse splits, 0 when the denominator is invalid.
func (s Split) Factor() float64 {
	if s.SplitTo == 0 {
		return 0
	}
	return s.SplitFrom / s.SplitTo
}

// Date parses the execution date; zero time on malformed payloads.
func (s Split) Date() time.Time {
	t, err := time.Parse(domain.DateFormatISO, s.ExecutionDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Dividend is one dividend declaration.
type Dividend struct {
	Ticker         string  `json:"ticker"`
	ExDividendDate string  `json:"ex_dividend_date"` // yyyy-MM-dd
	CashAmount     float64 `json:"cash_amount"`
	DividendType   string  `json:"dividend_type"` // CD, SC, LT, ST
}

// IsCash reports whether the dividend is a (special) cash dividend.
// Stock dividends and capital-gain distributions are excluded.
func (d Dividend) IsCash() bool {
	return d.DividendType == DividendTypeCash || d.DividendType == DividendTypeSpecialCash
}

// Date parses the ex-dividend date; zero time on malformed payloads.
func (d Dividend) Date() time.Time {
	t, err := time.Parse(domain.DateFormatISO, d.ExDividendDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AggBar is one daily aggregate bar. Timestamps are milliseconds since the
// Unix epoch.
type AggBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// Date converts the bar timestamp to its UTC trading date.
func (b AggBar) Date() time.Time {
	return domain.Midnight(time.UnixMilli(b.Timestamp).UTC())
}

// TickerEvent is one entry of a security's identity history.
type TickerEvent struct {
	Type         string `json:"type"` // ticker_change or delisted
	Date         string `json:"date"` // yyyy-MM-dd
	TickerChange *struct {
		Ticker string `json:"ticker"`
	} `json:"ticker_change,omitempty"`
}

// EventDate parses the event date; zero time on malformed payloads.
func (e TickerEvent) EventDate() time.Time {
	t, err := time.Parse(domain.DateFormatISO, e.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// tickerEventsResponse wraps the events endpoint, which returns one result
// object rather than a paged list.
type tickerEventsResponse struct {
	Results struct {
		Name   string        `json:"name"`
		Events []TickerEvent `json:"events"`
	} `json:"results"`
	Status string `json:"status"`
}

// TickerListing is one row of the reference ticker directory.
type TickerListing struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Market          string `json:"market"`
	Type            string `json:"type"` // CS for common stock
	Active          bool   `json:"active"`
	PrimaryExchange string `json:"primary_exchange"`
	ListDate        string `json:"list_date,omitempty"`
}

// SnapshotBar mirrors AggBar inside snapshot payloads.
type SnapshotBar struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// Valid reports whether the bar carries a usable close and volume.
func (b *SnapshotBar) Valid() bool {
	return b != nil && b.Close > 0 && b.Volume > 0
}

// TickerSnapshot is one ticker's entry in the full-market snapshot.
type TickerSnapshot struct {
	Ticker  string       `json:"ticker"`
	Day     *SnapshotBar `json:"day,omitempty"`
	PrevDay *SnapshotBar `json:"prevDay,omitempty"`
}

// Bar picks the bar used for coarse generation: the previous-day bar when the
// snapshot carries one, otherwise the current-day bar. Nil when the chosen
// bar has no usable close or volume; there is no fallback from a present but
// unusable previous-day bar to the current day.
func (t TickerSnapshot) Bar() *SnapshotBar {
	if t.PrevDay != nil {
		if !t.PrevDay.Valid() {
			return nil
		}
		return t.PrevDay
	}
	if t.Day.Valid() {
		return t.Day
	}
	return nil
}

// snapshotResponse wraps the full-market snapshot endpoint.
type snapshotResponse struct {
	Tickers []TickerSnapshot `json:"tickers"`
	Status  string           `json:"status"`
}

// FinancialValue is one reported line item.
type FinancialValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Label string  `json:"label,omitempty"`
}

// Financials groups the three statements of one filing. Each statement maps
// a canonical upstream field name (e.g. "revenues") to its value.
type Financials struct {
	IncomeStatement   map[string]FinancialValue `json:"income_statement,omitempty"`
	BalanceSheet      map[string]FinancialValue `json:"balance_sheet,omitempty"`
	CashFlowStatement map[string]FinancialValue `json:"cash_flow_statement,omitempty"`
}

// StockFinancial is one quarterly or annual filing.
type StockFinancial struct {
	Tickers      []string   `json:"tickers,omitempty"`
	CompanyName  string     `json:"company_name,omitempty"`
	FiscalYear   string     `json:"fiscal_year"`
	FiscalPeriod string     `json:"fiscal_period"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	FilingDate   string     `json:"filing_date"`
	Timeframe    string     `json:"timeframe"` // quarterly or annual
	Financials   Financials `json:"financials"`
}

// FilingTime parses the filing date; zero time on malformed payloads.
func (f StockFinancial) FilingTime() time.Time {
	t, err := time.Parse(domain.DateFormatISO, f.FilingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}
