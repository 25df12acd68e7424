package market_hours

import "time"

// CalculateUSHolidays calculates all US market holidays for a given year.
func CalculateUSHolidays(year int) []time.Time {
	holidays := make([]time.Time, 0, 10)

	// New Year's Day - Jan 1 (observed on nearest weekday)
	newYear := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	holidays = append(holidays, observeOnWeekday(newYear))

	// Martin Luther King Jr. Day - 3rd Monday in January
	holidays = append(holidays, findNthWeekday(year, 1, time.Monday, 3))

	// Presidents Day - 3rd Monday in February
	holidays = append(holidays, findNthWeekday(year, 2, time.Monday, 3))

	// Good Friday - two days before Easter Sunday
	holidays = append(holidays, calculateEaster(year).AddDate(0, 0, -2))

	// Memorial Day - Last Monday in May
	holidays = append(holidays, findLastWeekday(year, 5, time.Monday))

	// Juneteenth - June 19, observed since 2022
	if year >= 2022 {
		juneteenth := time.Date(year, 6, 19, 0, 0, 0, 0, time.UTC)
		holidays = append(holidays, observeOnWeekday(juneteenth))
	}

	// Independence Day - July 4 (observed on nearest weekday)
	independenceDay := time.Date(year, 7, 4, 0, 0, 0, 0, time.UTC)
	holidays = append(holidays, observeOnWeekday(independenceDay))

	// Labor Day - 1st Monday in September
	holidays = append(holidays, findNthWeekday(year, 9, time.Monday, 1))

	// Thanksgiving - 4th Thursday in November
	holidays = append(holidays, findNthWeekday(year, 11, time.Thursday, 4))

	// Christmas - Dec 25 (observed on nearest weekday)
	christmas := time.Date(year, 12, 25, 0, 0, 0, 0, time.UTC)
	holidays = append(holidays, observeOnWeekday(christmas))

	return holidays
}

// calculateEaster calculates Easter Sunday (Gregorian computus).
func calculateEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451

	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// findNthWeekday finds the nth occurrence of a weekday in a given month/year.
func findNthWeekday(year, month int, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	return date.AddDate(0, 0, daysToAdd+(n-1)*7)
}

// findLastWeekday finds the last occurrence of a weekday in a given month/year.
func findLastWeekday(year, month int, weekday time.Weekday) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC)

	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday moves a date to the nearest weekday if it falls on a weekend:
// Saturday -> Friday, Sunday -> Monday.
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}
