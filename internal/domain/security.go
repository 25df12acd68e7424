// Package domain provides the core security model shared by all engines.
//
// A Symbol is the boundary identifier for everything this service produces:
// factor files, map files and universe rows are all keyed by the ticker,
// while downstream consumers address securities by their permanent
// identifier (stable across renames).
package domain

import "strings"

// SecurityType classifies a security. Only equities are supported by the
// generation engines; anything else short-circuits to "no artifact".
type SecurityType string

const (
	SecurityTypeEquity  SecurityType = "EQUITY"
	SecurityTypeETF     SecurityType = "ETF"
	SecurityTypeOption  SecurityType = "OPTION"
	SecurityTypeUnknown SecurityType = "UNKNOWN"
)

// Market identifies the venue universe a security belongs to.
type Market string

const (
	MarketUSA Market = "usa"
)

// Exchange short codes used in map files.
const (
	ExchangeNASDAQ  = "Q"
	ExchangeNYSE    = "N"
	ExchangeUnknown = "UNKNOWN"
)

// PrimaryExchange returns the default exchange code for a market.
// US listings without explicit venue information are attributed to NASDAQ.
func PrimaryExchange(market Market) string {
	if market == MarketUSA {
		return ExchangeNASDAQ
	}
	return ExchangeUnknown
}

// Symbol represents a security identifier: the ticker it currently trades
// under plus a stable permanent identifier independent of renames.
type Symbol struct {
	Ticker string       `json:"ticker"`  // Uppercase ticker (e.g., "AAPL")
	PermID string       `json:"perm_id"` // Permanent identifier, empty until assigned
	Type   SecurityType `json:"type"`
	Market Market       `json:"market"`
}

// NewEquity creates a US equity symbol. Tickers are normalized to uppercase.
func NewEquity(ticker string) Symbol {
	return Symbol{
		Ticker: strings.ToUpper(strings.TrimSpace(ticker)),
		Type:   SecurityTypeEquity,
		Market: MarketUSA,
	}
}

// IsEquity reports whether the symbol is an equity on a supported market.
func (s Symbol) IsEquity() bool {
	return s.Type == SecurityTypeEquity && s.Market == MarketUSA && s.Ticker != ""
}
