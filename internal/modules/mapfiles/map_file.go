// Package mapfiles materializes ticker identity history files for US equities.
//
// A map file lists, per date, the ticker a security traded under through that
// date. The first row anchors the series at the earliest data date; the last
// row is either the far-future sentinel (still listed) or the delisting date.
package mapfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/refdata/internal/domain"
)

// Row is one map file line: the security traded as Ticker through Date.
type Row struct {
	Date     time.Time
	Ticker   string
	Exchange string
}

// File is a parsed map file.
type File struct {
	Ticker string // Ticker the file is resolved and stored under
	Rows   []Row  // Ascending by date
}

// LastDate returns the final row's date. Zero time for an empty file.
func (f *File) LastDate() time.Time {
	if len(f.Rows) == 0 {
		return time.Time{}
	}
	return f.Rows[len(f.Rows)-1].Date
}

// TickerOn returns the ticker in effect on the given date: the ticker of the
// earliest row whose date is on or after it. Empty past the final row, which
// for a delisted security means the date is after delisting.
func (f *File) TickerOn(date time.Time) string {
	d := domain.Midnight(date)
	for _, row := range f.Rows {
		if !row.Date.Before(d) {
			return row.Ticker
		}
	}
	return ""
}

// Delisted reports whether the file ends before the far-future sentinel.
func (f *File) Delisted() bool {
	last := f.LastDate()
	return !last.IsZero() && last.Before(domain.FarFutureDate())
}

// Marshal renders the file in its on-disk CSV form: no header, one
// YYYYMMDD,ticker,exchangeCode row per line. Tickers are written uppercase.
func (f *File) Marshal() []byte {
	var b strings.Builder
	for _, row := range f.Rows {
		b.WriteString(row.Date.Format(domain.DateFormatCompact))
		b.WriteByte(',')
		b.WriteString(strings.ToUpper(row.Ticker))
		b.WriteByte(',')
		b.WriteString(row.Exchange)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Parse reads the on-disk CSV form. Tickers are normalized to uppercase.
func Parse(ticker string, data []byte) (*File, error) {
	file := &File{Ticker: strings.ToUpper(ticker)}

	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo+1, len(parts))
		}

		date, err := time.Parse(domain.DateFormatCompact, parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q: %w", lineNo+1, parts[0], err)
		}

		file.Rows = append(file.Rows, Row{
			Date:     date,
			Ticker:   strings.ToUpper(parts[1]),
			Exchange: parts[2],
		})
	}

	if len(file.Rows) == 0 {
		return nil, fmt.Errorf("map file for %s is empty", ticker)
	}
	return file, nil
}

// Load reads and parses a map file from disk. Returns (nil, nil) when the
// file does not exist.
func Load(path, ticker string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}
	return Parse(ticker, data)
}

// FilePath returns the on-disk location of a ticker's map file.
func FilePath(dataDir, ticker string) string {
	return filepath.Join(dataDir, "equity", "usa", "map_files", strings.ToLower(ticker)+".csv")
}

// sortRows orders rows ascending by date.
func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
}

// dedupeByDate keeps the last row for each date, preserving input order
// otherwise. Input must already be in synthesis order.
func dedupeByDate(rows []Row) []Row {
	byDate := make(map[time.Time]int, len(rows))
	out := rows[:0]
	for _, row := range rows {
		if i, ok := byDate[row.Date]; ok {
			out[i] = row
			continue
		}
		byDate[row.Date] = len(out)
		out = append(out, row)
	}
	return out
}

// minimalFile is the two-row identity series for a symbol with no known
// rename or delisting history.
func minimalFile(ticker, exchange string) *File {
	upper := strings.ToUpper(ticker)
	return &File{
		Ticker: upper,
		Rows: []Row{
			{Date: domain.EarliestDate(), Ticker: upper, Exchange: exchange},
			{Date: domain.FarFutureDate(), Ticker: upper, Exchange: exchange},
		},
	}
}
