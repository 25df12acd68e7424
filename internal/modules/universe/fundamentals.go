package universe

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Statement names as they appear in property names and in the fine cache.
const (
	StatementIncome   = "IncomeStatement"
	StatementBalance  = "BalanceSheet"
	StatementCashFlow = "CashFlowStatement"
)

// Reporting periods recognized in property names. Only the quarterly and
// trailing-twelve-months periods produce finite values.
const (
	PeriodThreeMonths  = "ThreeMonths"
	PeriodTwelveMonths = "TwelveMonths"
)

var knownPeriods = map[string]bool{
	"OneMonth":         true,
	"TwoMonths":        true,
	PeriodThreeMonths:  true,
	"SixMonths":        true,
	"NineMonths":       true,
	PeriodTwelveMonths: true,
}

// fieldKeys maps property field names to the upstream canonical keys.
// FreeCashFlow is absent: it is computed, not read.
var fieldKeys = map[string]string{
	"TotalRevenue":       "revenues",
	"CostOfRevenue":      "cost_of_revenue",
	"GrossProfit":        "gross_profit",
	"OperatingIncome":    "operating_income_loss",
	"NetIncome":          "net_income_loss",
	"TotalAssets":        "assets",
	"CurrentAssets":      "current_assets",
	"CurrentLiabilities": "current_liabilities",
	"StockholdersEquity": "equity_attributable_to_parent",
	"TotalEquity":        "equity",
	"OperatingCashFlow":  "net_cash_flow_from_operating_activities",
	"InvestingCashFlow":  "net_cash_flow_from_investing_activities",
	"FinancingCashFlow":  "net_cash_flow_from_financing_activities",
	"CapitalExpenditure": "capital_expenditure",
}

const (
	keyOperatingCashFlow  = "net_cash_flow_from_operating_activities"
	keyCapitalExpenditure = "capital_expenditure"
	fieldFreeCashFlow     = "FreeCashFlow"
)

// PropertyKind classifies a parsed property name.
type PropertyKind int

const (
	PropertyUnknown PropertyKind = iota
	PropertyFinancial
	PropertyMarketCap
	PropertyHasFundamentals
)

// Property is a parsed fundamental property name.
type Property struct {
	Kind      PropertyKind
	Statement string // Statement* constant
	Field     string // Property field name (e.g. "TotalRevenue", "FreeCashFlow")
	Period    string // One of the known period names
}

// IsFinancial reports whether the property reads the filing cache.
func (p Property) IsFinancial() bool {
	return p.Kind == PropertyFinancial || p.Kind == PropertyMarketCap || p.Kind == PropertyHasFundamentals
}

// ParseProperty parses a property name of the form
// FinancialStatements_{Statement}_{Field}_{Period}. Parsing is total:
// unrecognized names come back as PropertyUnknown, and lookups on those
// return NaN rather than failing.
func ParseProperty(name string) Property {
	switch name {
	case "CompanyProfile_MarketCap":
		return Property{Kind: PropertyMarketCap}
	case "HasFundamentalData":
		return Property{Kind: PropertyHasFundamentals}
	}

	rest, ok := strings.CutPrefix(name, "FinancialStatements_")
	if !ok {
		return Property{}
	}

	var statement string
	switch {
	case strings.HasPrefix(rest, StatementIncome+"_"):
		statement = StatementIncome
	case strings.HasPrefix(rest, StatementBalance+"_"):
		statement = StatementBalance
	case strings.HasPrefix(rest, StatementCashFlow+"_"):
		statement = StatementCashFlow
	default:
		return Property{}
	}
	rest = rest[len(statement)+1:]

	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return Property{}
	}
	field, period := rest[:i], rest[i+1:]

	if !knownPeriods[period] {
		return Property{}
	}
	if _, known := fieldKeys[field]; !known && field != fieldFreeCashFlow {
		return Property{}
	}

	return Property{Kind: PropertyFinancial, Statement: statement, Field: field, Period: period}
}

// Fundamentals answers point-in-time property lookups against the filing
// cache. Visibility is by filing date: a filing is observable on the day it
// was filed, never by its fiscal period end.
type Fundamentals struct {
	filings *filingCache
}

// NewFundamentals creates a fundamentals lookup over a filing cache.
func NewFundamentals(filings *filingCache) *Fundamentals {
	return &Fundamentals{filings: filings}
}

// HasData reports whether any filings are cached for the ticker.
func (f *Fundamentals) HasData(ticker string) bool {
	return len(f.filings.ensureLoaded(ticker)) > 0
}

// Value resolves a financial property for a ticker as of a date.
// All failure modes produce NaN.
func (f *Fundamentals) Value(ticker string, prop Property, date time.Time) float64 {
	switch prop.Kind {
	case PropertyMarketCap, PropertyUnknown:
		return math.NaN()
	case PropertyHasFundamentals:
		if f.HasData(ticker) {
			return 1
		}
		return 0
	}

	filings := f.filings.ensureLoaded(ticker)
	if len(filings) == 0 {
		return math.NaN()
	}

	switch prop.Period {
	case PeriodThreeMonths:
		return quarterlyValue(filings, prop, date)
	case PeriodTwelveMonths:
		if prop.Statement == StatementBalance {
			// Balance sheet items are stock quantities; the trailing
			// twelve months value is the latest observation.
			return quarterlyValue(filings, prop, date)
		}
		return trailingSum(filings, prop, date)
	}
	return math.NaN()
}

// fieldValue reads one filing's value for a property field, computing
// FreeCashFlow from its components.
func fieldValue(filing FilingRecord, prop Property) float64 {
	if prop.Field == fieldFreeCashFlow {
		ocf := filing.value(StatementCashFlow, keyOperatingCashFlow)
		capex := filing.value(StatementCashFlow, keyCapitalExpenditure)
		// Capex is reported signed negative, so adding subtracts it.
		return ocf + capex
	}
	return filing.value(prop.Statement, fieldKeys[prop.Field])
}

// quarterlyValue returns the field from the most recent quarterly filing
// visible at the date.
func quarterlyValue(filings []FilingRecord, prop Property, date time.Time) float64 {
	visible := visibleQuarterly(filings, date)
	if len(visible) == 0 {
		return math.NaN()
	}
	return fieldValue(visible[len(visible)-1], prop)
}

// trailingSum sums the field over the four most recent quarterly filings
// visible at the date. Fewer than four, or any NaN summand, yields NaN.
func trailingSum(filings []FilingRecord, prop Property, date time.Time) float64 {
	visible := visibleQuarterly(filings, date)
	if len(visible) < 4 {
		return math.NaN()
	}

	var sum float64
	for _, filing := range visible[len(visible)-4:] {
		v := fieldValue(filing, prop)
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += v
	}
	return sum
}

// visibleQuarterly filters to quarterly filings with filingDate <= date,
// sorted ascending by filing date.
func visibleQuarterly(filings []FilingRecord, date time.Time) []FilingRecord {
	var visible []FilingRecord
	for _, filing := range filings {
		if filing.Timeframe != "quarterly" {
			continue
		}
		ft := filing.FilingTime()
		if ft.IsZero() || ft.After(date) {
			continue
		}
		visible = append(visible, filing)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].FilingTime().Before(visible[j].FilingTime())
	})
	return visible
}
