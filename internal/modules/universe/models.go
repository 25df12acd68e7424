// Package universe builds daily coarse universe snapshots and answers
// point-in-time fundamental lookups over quarterly filings.
package universe

import (
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/utils"
)

// CoarseRow is one security's entry in a daily coarse universe file.
type CoarseRow struct {
	PermID          string
	Ticker          string
	Close           float64
	Volume          int64
	DollarVolume    float64 // trunc(close * volume)
	HasFundamentals bool
	PriceFactor     float64
	SplitFactor     float64
}

// CoarseFilePath returns the on-disk location of a date's coarse file.
func CoarseFilePath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, "equity", "usa", "fundamental", "coarse",
		date.Format(domain.DateFormatCompact)+".csv")
}

// marshalCoarse renders rows in the on-disk CSV form, sorted by permanent
// identifier string order.
func marshalCoarse(rows []CoarseRow) []byte {
	sort.Slice(rows, func(i, j int) bool { return rows[i].PermID < rows[j].PermID })

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(row.PermID)
		b.WriteByte(',')
		b.WriteString(row.Ticker)
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.Close))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(row.Volume, 10))
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.DollarVolume))
		b.WriteByte(',')
		if row.HasFundamentals {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.PriceFactor))
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.SplitFactor))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// parseCoarse reads the on-disk CSV form into a map keyed by permanent
// identifier. Malformed lines are skipped, not fatal.
func parseCoarse(data []byte) map[string]CoarseRow {
	rows := make(map[string]CoarseRow)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 8 {
			continue
		}

		closePrice, err1 := strconv.ParseFloat(parts[2], 64)
		volume, err2 := strconv.ParseInt(parts[3], 10, 64)
		dollarVolume, err3 := strconv.ParseFloat(parts[4], 64)
		priceFactor, err4 := strconv.ParseFloat(parts[6], 64)
		splitFactor, err5 := strconv.ParseFloat(parts[7], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}

		rows[parts[0]] = CoarseRow{
			PermID:          parts[0],
			Ticker:          parts[1],
			Close:           closePrice,
			Volume:          volume,
			DollarVolume:    dollarVolume,
			HasFundamentals: strings.EqualFold(parts[5], "true"),
			PriceFactor:     priceFactor,
			SplitFactor:     splitFactor,
		}
	}
	return rows
}

// Statements groups the three statements of one cached filing. Values are the
// reported line items keyed by the upstream canonical field name.
type Statements struct {
	Income   map[string]float64 `json:"income_statement,omitempty"`
	Balance  map[string]float64 `json:"balance_sheet,omitempty"`
	CashFlow map[string]float64 `json:"cash_flow_statement,omitempty"`
}

// FilingRecord is one quarterly or annual filing in the fine cache.
type FilingRecord struct {
	Ticker       string     `json:"ticker"`
	FiscalYear   string     `json:"fiscal_year"`
	FiscalPeriod string     `json:"fiscal_period"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	FilingDate   string     `json:"filing_date"` // yyyy-MM-dd
	Timeframe    string     `json:"timeframe"`
	Statements   Statements `json:"statements"`
}

// FilingTime parses the filing date; zero time on malformed records.
func (f FilingRecord) FilingTime() time.Time {
	t, err := time.Parse(domain.DateFormatISO, f.FilingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// statement returns the named statement's value map. Nil for unknown names.
func (f FilingRecord) statement(name string) map[string]float64 {
	switch name {
	case StatementIncome:
		return f.Statements.Income
	case StatementBalance:
		return f.Statements.Balance
	case StatementCashFlow:
		return f.Statements.CashFlow
	}
	return nil
}

// value reads one line item; NaN when the statement or field is absent.
func (f FilingRecord) value(statementName, field string) float64 {
	values := f.statement(statementName)
	if values == nil {
		return math.NaN()
	}
	v, ok := values[field]
	if !ok {
		return math.NaN()
	}
	return v
}

// FineFilePath returns the on-disk location of a ticker's filing cache.
func FineFilePath(dataDir, ticker string) string {
	return filepath.Join(dataDir, "equity", "usa", "fundamental", "fine", "polygon",
		strings.ToLower(ticker)+".json")
}

// permIDTicker extracts the first-listed ticker embedded in a permanent
// identifier of the form "TICKER YYYYMMDD".
func permIDTicker(permID string) string {
	if i := strings.IndexByte(permID, ' '); i > 0 {
		return permID[:i]
	}
	return permID
}
