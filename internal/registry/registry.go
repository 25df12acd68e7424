// Package registry assigns and persists permanent security identifiers.
//
// A permanent identifier is "{firstTicker} {listingYYYYMMDD}" and is written
// once on first sight; renames never rewrite it, which is what makes it a
// stable join key for downstream consumers.
package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS perm_ids (
    ticker     TEXT PRIMARY KEY,
    perm_id    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_perm_ids_perm_id ON perm_ids(perm_id);
`

// Registry is the sqlite-backed permanent identifier store.
type Registry struct {
	conn *sql.DB
	log  zerolog.Logger
}

// New creates the registry and ensures its schema exists.
func New(conn *sql.DB, log zerolog.Logger) (*Registry, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return &Registry{
		conn: conn,
		log:  log.With().Str("component", "registry").Logger(),
	}, nil
}

// Resolve returns the ticker's permanent identifier, assigning one from the
// listing date on first sight. A zero listing date anchors to the earliest
// supported data date.
func (r *Registry) Resolve(ticker string, listDate time.Time) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", fmt.Errorf("empty ticker")
	}

	if permID, ok, err := r.lookup(ticker); err != nil {
		return "", err
	} else if ok {
		return permID, nil
	}

	if listDate.IsZero() {
		listDate = domain.EarliestDate()
	}
	permID := ticker + " " + listDate.Format(domain.DateFormatCompact)

	// INSERT OR IGNORE keeps the first writer's assignment under races.
	if _, err := r.conn.Exec(
		`INSERT OR IGNORE INTO perm_ids (ticker, perm_id) VALUES (?, ?)`,
		ticker, permID,
	); err != nil {
		return "", fmt.Errorf("failed to insert permanent identifier: %w", err)
	}

	assigned, ok, err := r.lookup(ticker)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("permanent identifier for %s vanished after insert", ticker)
	}
	if assigned != permID {
		r.log.Debug().Str("ticker", ticker).Str("perm_id", assigned).Msg("Concurrent assignment won")
	}
	return assigned, nil
}

// Ticker returns the ticker a permanent identifier was assigned to.
func (r *Registry) Ticker(permID string) (string, bool, error) {
	var ticker string
	err := r.conn.QueryRow(
		`SELECT ticker FROM perm_ids WHERE perm_id = ?`, permID,
	).Scan(&ticker)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query ticker: %w", err)
	}
	return ticker, true, nil
}

// Count returns the number of assigned identifiers.
func (r *Registry) Count() (int, error) {
	var n int
	if err := r.conn.QueryRow(`SELECT COUNT(*) FROM perm_ids`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count permanent identifiers: %w", err)
	}
	return n, nil
}

func (r *Registry) lookup(ticker string) (string, bool, error) {
	var permID string
	err := r.conn.QueryRow(
		`SELECT perm_id FROM perm_ids WHERE ticker = ?`, ticker,
	).Scan(&permID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query permanent identifier: %w", err)
	}
	return permID, true, nil
}
