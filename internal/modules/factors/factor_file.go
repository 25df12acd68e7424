// Package factors materializes price/split factor files for US equities.
//
// A factor file encodes, per date, the cumulative adjustment that converts a
// raw price on that date into the most-recent-day basis. Rows are ascending
// by date; the first row anchors the series at the earliest data date and the
// last row ("top sentinel") records the date the file was last verified,
// always carrying factors of exactly 1.
package factors

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/utils"
)

// Row is one factor file line: the factors apply to raw prices on any date at
// or before Date (until the previous row's date).
type Row struct {
	Date           time.Time
	PriceFactor    float64
	SplitFactor    float64
	ReferencePrice float64
}

// File is a parsed factor file.
type File struct {
	Ticker string
	Rows   []Row // Strictly ascending by date
}

// LastDate returns the top sentinel's date, the date through which the file
// has been verified. Zero time for an empty file.
func (f *File) LastDate() time.Time {
	if len(f.Rows) == 0 {
		return time.Time{}
	}
	return f.Rows[len(f.Rows)-1].Date
}

// FactorsOn returns the price and split factors applicable to a raw price on
// the given date: the factors of the earliest row whose date is on or after
// it. Dates beyond the top sentinel scale by 1.
func (f *File) FactorsOn(date time.Time) (priceFactor, splitFactor float64) {
	d := domain.Midnight(date)
	for _, row := range f.Rows {
		if !row.Date.Before(d) {
			return row.PriceFactor, row.SplitFactor
		}
	}
	return 1, 1
}

// sortRows orders rows ascending by date.
func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
}

// Marshal renders the file in its on-disk CSV form: no header, one
// YYYYMMDD,priceFactor,splitFactor,referencePrice row per line.
func (f *File) Marshal() []byte {
	var b strings.Builder
	for _, row := range f.Rows {
		b.WriteString(row.Date.Format(domain.DateFormatCompact))
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.PriceFactor))
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.SplitFactor))
		b.WriteByte(',')
		b.WriteString(utils.FormatDecimal(row.ReferencePrice))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Parse reads the on-disk CSV form.
func Parse(ticker string, data []byte) (*File, error) {
	file := &File{Ticker: strings.ToUpper(ticker)}

	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("line %d: expected 4 fields, got %d", lineNo+1, len(parts))
		}

		date, err := time.Parse(domain.DateFormatCompact, parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q: %w", lineNo+1, parts[0], err)
		}
		price, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price factor %q: %w", lineNo+1, parts[1], err)
		}
		split, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid split factor %q: %w", lineNo+1, parts[2], err)
		}
		ref, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid reference price %q: %w", lineNo+1, parts[3], err)
		}

		file.Rows = append(file.Rows, Row{
			Date:           date,
			PriceFactor:    price,
			SplitFactor:    split,
			ReferencePrice: ref,
		})
	}

	if len(file.Rows) == 0 {
		return nil, fmt.Errorf("factor file for %s is empty", ticker)
	}
	return file, nil
}

// Load reads and parses a factor file from disk. Returns (nil, nil) when the
// file does not exist.
func Load(path, ticker string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read factor file: %w", err)
	}
	return Parse(ticker, data)
}

// FilePath returns the on-disk location of a ticker's factor file.
func FilePath(dataDir, ticker string) string {
	return filepath.Join(dataDir, "equity", "usa", "factor_files", strings.ToLower(ticker)+".csv")
}

// minimalFile is the two-row series for a symbol with no corporate actions:
// an earliest-date anchor and a top sentinel at the generation date.
func minimalFile(ticker string, today time.Time) *File {
	return &File{
		Ticker: strings.ToUpper(ticker),
		Rows: []Row{
			{Date: domain.EarliestDate(), PriceFactor: 1, SplitFactor: 1},
			{Date: today, PriceFactor: 1, SplitFactor: 1},
		},
	}
}
