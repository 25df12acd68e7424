// Package market_hours provides the US equity trading calendar.
//
// The generation engines only need session-day arithmetic: corporate-action
// rows are written on the trading day preceding the event, and reference
// prices are looked up on trading days. Intraday open/close times are out of
// scope for file generation.
package market_hours

import (
	"sync"
	"time"
)

// Service answers trading-day questions for the US equity market.
// Holiday sets are computed per year and cached; safe for concurrent use.
type Service struct {
	mu           sync.Mutex
	holidayCache map[int]map[string]bool // year -> set of "2006-01-02" holiday dates
}

// NewService creates a new market hours service.
func NewService() *Service {
	return &Service{
		holidayCache: make(map[int]map[string]bool),
	}
}

// IsTradingDay reports whether the US market holds a regular session on the
// given date. Weekends and exchange holidays are closed.
func (s *Service) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !s.isHoliday(t)
}

// PreviousTradingDay returns the last trading day strictly before t.
func (s *Service) PreviousTradingDay(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for {
		day = day.AddDate(0, 0, -1)
		if s.IsTradingDay(day) {
			return day
		}
	}
}

// NextTradingDay returns the first trading day strictly after t.
func (s *Service) NextTradingDay(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for {
		day = day.AddDate(0, 0, 1)
		if s.IsTradingDay(day) {
			return day
		}
	}
}

// isHoliday checks if a date is a US market holiday.
func (s *Service) isHoliday(t time.Time) bool {
	year := t.Year()

	s.mu.Lock()
	set, ok := s.holidayCache[year]
	if !ok {
		set = make(map[string]bool)
		for _, h := range CalculateUSHolidays(year) {
			set[h.Format("2006-01-02")] = true
		}
		s.holidayCache[year] = set
	}
	s.mu.Unlock()

	return set[t.Format("2006-01-02")]
}
