package domain

import "time"

// TradingCalendar answers exchange-session questions for the US equity market.
// The factor engine uses it to place corporate-action rows on the trading day
// preceding the event. Implemented by market_hours.Service; tests use fixtures.
type TradingCalendar interface {
	// IsTradingDay reports whether the market holds a regular session on the
	// given date (weekends and exchange holidays are closed).
	IsTradingDay(t time.Time) bool

	// PreviousTradingDay returns the last trading day strictly before t.
	PreviousTradingDay(t time.Time) time.Time
}

// FactorLookup resolves the cumulative price and split scaling factors that
// convert a raw price on the given date into the most-recent-day basis.
type FactorLookup interface {
	FactorsOn(date time.Time) (priceFactor, splitFactor float64)
}

// FactorSource yields per-ticker factor lookups. Implemented by the factor
// engine; injected into the universe engine so coarse rows can carry
// adjustment factors without a package cycle.
type FactorSource interface {
	// Lookup returns the factor series for a ticker, or false when the
	// security has no factor file (lookups then default to 1, 1).
	Lookup(ticker string) (FactorLookup, bool)
}
