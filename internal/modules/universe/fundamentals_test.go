package universe

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseProperty(t *testing.T) {
	tests := []struct {
		name string
		want Property
	}{
		{
			"FinancialStatements_IncomeStatement_TotalRevenue_TwelveMonths",
			Property{Kind: PropertyFinancial, Statement: StatementIncome, Field: "TotalRevenue", Period: PeriodTwelveMonths},
		},
		{
			"FinancialStatements_BalanceSheet_TotalAssets_ThreeMonths",
			Property{Kind: PropertyFinancial, Statement: StatementBalance, Field: "TotalAssets", Period: PeriodThreeMonths},
		},
		{
			"FinancialStatements_CashFlowStatement_FreeCashFlow_TwelveMonths",
			Property{Kind: PropertyFinancial, Statement: StatementCashFlow, Field: "FreeCashFlow", Period: PeriodTwelveMonths},
		},
		{
			"FinancialStatements_IncomeStatement_NetIncome_SixMonths",
			Property{Kind: PropertyFinancial, Statement: StatementIncome, Field: "NetIncome", Period: "SixMonths"},
		},
		{"CompanyProfile_MarketCap", Property{Kind: PropertyMarketCap}},
		{"HasFundamentalData", Property{Kind: PropertyHasFundamentals}},
		{"FinancialStatements_IncomeStatement_Bogus_TwelveMonths", Property{}},
		{"FinancialStatements_IncomeStatement_TotalRevenue_FourMonths", Property{}},
		{"FinancialStatements_Unknown_TotalRevenue_TwelveMonths", Property{}},
		{"Close", Property{}},
		{"", Property{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProperty(tt.name))
		})
	}
}

// quarter builds a quarterly filing with the given statements.
func quarter(filingDate string, statements Statements) FilingRecord {
	return FilingRecord{
		Ticker:     "AAPL",
		FilingDate: filingDate,
		Timeframe:  "quarterly",
		Statements: statements,
	}
}

func revenueQuarter(filingDate string, revenue float64) FilingRecord {
	return quarter(filingDate, Statements{Income: map[string]float64{"revenues": revenue}})
}

func newSeededFundamentals(filings ...FilingRecord) *Fundamentals {
	cache := newFilingCache("", nil, 24, false, nil, zerolog.Nop())
	cache.Seed("AAPL", filings)
	return NewFundamentals(cache)
}

func TestTrailingRevenueSumsFourQuarters(t *testing.T) {
	f := newSeededFundamentals(
		revenueQuarter("2023-02-03", 100000),
		revenueQuarter("2023-05-05", 110000),
		revenueQuarter("2023-08-04", 120000),
		revenueQuarter("2023-11-03", 130000),
	)
	prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_TwelveMonths")

	assert.Equal(t, 460000.0, f.Value("AAPL", prop, date(2023, 12, 1)))
}

func TestTrailingRevenueNaNWithFewerThanFourFilings(t *testing.T) {
	f := newSeededFundamentals(
		revenueQuarter("2023-02-03", 100000),
		revenueQuarter("2023-05-05", 110000),
		revenueQuarter("2023-08-04", 120000),
		revenueQuarter("2023-11-03", 130000),
	)
	prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_TwelveMonths")

	// Only two filings are visible by June; the trailing window is short.
	assert.True(t, math.IsNaN(f.Value("AAPL", prop, date(2023, 6, 1))))
}

func TestTrailingFreeCashFlow(t *testing.T) {
	cashQuarter := func(filingDate string, ocf, capex float64) FilingRecord {
		return quarter(filingDate, Statements{CashFlow: map[string]float64{
			"net_cash_flow_from_operating_activities": ocf,
			"capital_expenditure":                     capex,
		}})
	}
	f := newSeededFundamentals(
		cashQuarter("2023-02-03", 30000, -5000),
		cashQuarter("2023-05-05", 32000, -6000),
		cashQuarter("2023-08-04", 28000, -4000),
		cashQuarter("2023-11-03", 35000, -7000),
	)
	prop := ParseProperty("FinancialStatements_CashFlowStatement_FreeCashFlow_TwelveMonths")

	assert.Equal(t, 103000.0, f.Value("AAPL", prop, date(2023, 12, 1)))
}

func TestTrailingBalanceSheetTakesLatestObservation(t *testing.T) {
	balanceQuarter := func(filingDate string, assets float64) FilingRecord {
		return quarter(filingDate, Statements{Balance: map[string]float64{"assets": assets}})
	}
	f := newSeededFundamentals(
		balanceQuarter("2023-02-03", 350000),
		balanceQuarter("2023-05-05", 340000),
	)
	prop := ParseProperty("FinancialStatements_BalanceSheet_TotalAssets_TwelveMonths")

	// Stock quantities are not summed; the latest visible value wins.
	assert.Equal(t, 340000.0, f.Value("AAPL", prop, date(2023, 6, 1)))
	assert.Equal(t, 350000.0, f.Value("AAPL", prop, date(2023, 3, 1)))
}

func TestQuarterlyValueIsPointInTime(t *testing.T) {
	f := newSeededFundamentals(
		revenueQuarter("2023-02-03", 100000),
		revenueQuarter("2023-05-05", 110000),
	)
	prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_ThreeMonths")

	assert.Equal(t, 100000.0, f.Value("AAPL", prop, date(2023, 3, 1)))
	assert.Equal(t, 110000.0, f.Value("AAPL", prop, date(2023, 5, 5)))
	assert.True(t, math.IsNaN(f.Value("AAPL", prop, date(2023, 1, 1))),
		"no filing visible before the first filing date")
}

func TestTrailingSumNaNWhenSummandMissing(t *testing.T) {
	f := newSeededFundamentals(
		revenueQuarter("2023-02-03", 100000),
		quarter("2023-05-05", Statements{Income: map[string]float64{"gross_profit": 1}}),
		revenueQuarter("2023-08-04", 120000),
		revenueQuarter("2023-11-03", 130000),
	)
	prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_TwelveMonths")

	assert.True(t, math.IsNaN(f.Value("AAPL", prop, date(2023, 12, 1))))
}

func TestUnsupportedPeriodsReturnNaN(t *testing.T) {
	f := newSeededFundamentals(revenueQuarter("2023-02-03", 100000))

	for _, period := range []string{"OneMonth", "TwoMonths", "SixMonths", "NineMonths"} {
		prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_" + period)
		require.Equal(t, PropertyFinancial, prop.Kind)
		assert.True(t, math.IsNaN(f.Value("AAPL", prop, date(2023, 12, 1))), period)
	}
}

func TestMarketCapAlwaysNaN(t *testing.T) {
	f := newSeededFundamentals(revenueQuarter("2023-02-03", 100000))
	assert.True(t, math.IsNaN(f.Value("AAPL", ParseProperty("CompanyProfile_MarketCap"), date(2023, 12, 1))))
}

func TestHasFundamentalData(t *testing.T) {
	f := newSeededFundamentals(revenueQuarter("2023-02-03", 100000))
	prop := ParseProperty("HasFundamentalData")

	assert.Equal(t, 1.0, f.Value("AAPL", prop, date(2023, 12, 1)))

	empty := newSeededFundamentals()
	assert.Equal(t, 0.0, empty.Value("AAPL", prop, date(2023, 12, 1)))
}

func TestAnnualFilingsAreIgnored(t *testing.T) {
	annual := FilingRecord{
		Ticker:     "AAPL",
		FilingDate: "2023-03-01",
		Timeframe:  "annual",
		Statements: Statements{Income: map[string]float64{"revenues": 999999}},
	}
	f := newSeededFundamentals(revenueQuarter("2023-02-03", 100000), annual)
	prop := ParseProperty("FinancialStatements_IncomeStatement_TotalRevenue_ThreeMonths")

	assert.Equal(t, 100000.0, f.Value("AAPL", prop, date(2023, 4, 1)))
}
