package sink

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"outlet-watcher/internal/types"
)

// Store is the structured side of the row sink: a SQLite database holding
// derived variant state, append-only observations, and the alert ledger.
type Store struct {
	db *sql.DB
}

// VariantRecord is the summary state kept per hash key.
type VariantRecord struct {
	HashKey     string  `json:"hash_key"`
	ProductURL  string  `json:"product_url"`
	Color       string  `json:"color"`
	Size        string  `json:"size"`
	Name        *string `json:"name,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	FirstSeenAt string  `json:"first_seen_at"`
	LastSeenAt  string  `json:"last_seen_at"`
	EverInStock bool    `json:"ever_in_stock"`
}

// Observation is one point-in-time stock/price capture for a variant-size.
type Observation struct {
	ObsID     int64   `json:"obs_id"`
	RunID     string  `json:"run_id"`
	HashKey   string  `json:"hash_key"`
	CrawlTS   string  `json:"crawl_ts"`
	InStock   bool    `json:"in_stock"`
	Quantity  *int    `json:"quantity,omitempty"`
	ListPrice *string `json:"list_price,omitempty"`
	SalePrice *string `json:"sale_price,omitempty"`
	Discount  *string `json:"discount,omitempty"`
}

// AlertRecord is one delivered (or pending) notification, unique per
// (hash_key, reason).
type AlertRecord struct {
	HashKey   string `json:"hash_key"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// OpenStore opens (and migrates) the SQLite store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA synchronous=NORMAL`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set sqlite pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT
);

CREATE TABLE IF NOT EXISTS variants (
  hash_key TEXT PRIMARY KEY,
  product_url TEXT NOT NULL,
  color TEXT NOT NULL,
  size TEXT NOT NULL,
  name TEXT,
  image_url TEXT,
  first_seen_at TEXT NOT NULL,
  last_seen_at TEXT NOT NULL,
  ever_in_stock INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS observations (
  obs_id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  hash_key TEXT NOT NULL,
  crawl_ts TEXT NOT NULL,
  in_stock INTEGER NOT NULL,
  quantity INTEGER,
  list_price TEXT,
  sale_price TEXT,
  discount TEXT
);

CREATE INDEX IF NOT EXISTS idx_obs_hash_ts ON observations(hash_key, crawl_ts);

CREATE TABLE IF NOT EXISTS alerts (
  hash_key TEXT NOT NULL,
  reason TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (hash_key, reason)
);
`

// BeginRun records a new crawl run and returns its id.
func (s *Store) BeginRun(startedAt string) (string, error) {
	runID := uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO runs(run_id, started_at) VALUES (?, ?)`, runID, startedAt,
	); err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run's finish time.
func (s *Store) FinishRun(runID, finishedAt string) error {
	if _, err := s.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`, finishedAt, runID,
	); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// UpsertVariant inserts or refreshes the summary record for a row's hash
// key: first_seen_at is set on insert only, last_seen_at always advances,
// and ever_in_stock latches once true.
func (s *Store) UpsertVariant(row types.CanonicalRow) error {
	ever := 0
	if row.InStock {
		ever = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO variants(hash_key, product_url, color, size, name, image_url, first_seen_at, last_seen_at, ever_in_stock)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash_key) DO UPDATE SET
		  product_url = excluded.product_url,
		  color = excluded.color,
		  size = excluded.size,
		  name = COALESCE(excluded.name, variants.name),
		  image_url = COALESCE(excluded.image_url, variants.image_url),
		  last_seen_at = excluded.last_seen_at,
		  ever_in_stock = CASE WHEN excluded.ever_in_stock = 1 THEN 1 ELSE variants.ever_in_stock END`,
		row.HashKey, row.ProductURL, row.Color, row.Size, row.Name, row.ImageURL,
		row.CrawlTS, row.CrawlTS, ever,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert variant %s: %w", row.HashKey, err)
	}
	return nil
}

// HasVariant reports whether a hash key has been seen before.
func (s *Store) HasVariant(hashKey string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM variants WHERE hash_key = ?`, hashKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query variant %s: %w", hashKey, err)
	}
	return true, nil
}

// InsertObservation appends one point-in-time capture.
func (s *Store) InsertObservation(runID string, row types.CanonicalRow) error {
	inStock := 0
	if row.InStock {
		inStock = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO observations(run_id, hash_key, crawl_ts, in_stock, quantity, list_price, sale_price, discount)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, row.HashKey, row.CrawlTS, inStock, row.Quantity,
		row.ListPrice, row.SalePrice, row.Discount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation for %s: %w", row.HashKey, err)
	}
	return nil
}

// LatestObservation returns the most recent observation for a hash key, or
// nil when none exists.
func (s *Store) LatestObservation(hashKey string) (*Observation, error) {
	var o Observation
	var inStock int
	err := s.db.QueryRow(`
		SELECT obs_id, run_id, hash_key, crawl_ts, in_stock, quantity, list_price, sale_price, discount
		FROM observations WHERE hash_key = ?
		ORDER BY obs_id DESC LIMIT 1`, hashKey,
	).Scan(&o.ObsID, &o.RunID, &o.HashKey, &o.CrawlTS, &inStock, &o.Quantity, &o.ListPrice, &o.SalePrice, &o.Discount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest observation for %s: %w", hashKey, err)
	}
	o.InStock = inStock == 1
	return &o, nil
}

// RecordAlert inserts an alert unless one with the same (hash_key, reason)
// already exists; the return value reports whether this call claimed it.
func (s *Store) RecordAlert(hashKey, reason, createdAt string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO alerts(hash_key, reason, created_at) VALUES(?, ?, ?)`,
		hashKey, reason, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record alert %s/%s: %w", hashKey, reason, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read alert insert result: %w", err)
	}
	return n > 0, nil
}

// Variants lists summary records, most recently seen first.
func (s *Store) Variants(limit int) ([]VariantRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(`
		SELECT hash_key, product_url, color, size, name, image_url, first_seen_at, last_seen_at, ever_in_stock
		FROM variants ORDER BY last_seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var out []VariantRecord
	for rows.Next() {
		var v VariantRecord
		var ever int
		if err := rows.Scan(&v.HashKey, &v.ProductURL, &v.Color, &v.Size, &v.Name, &v.ImageURL, &v.FirstSeenAt, &v.LastSeenAt, &ever); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v.EverInStock = ever == 1
		out = append(out, v)
	}
	return out, rows.Err()
}

// Observations lists the capture history for one hash key, newest first.
func (s *Store) Observations(hashKey string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT obs_id, run_id, hash_key, crawl_ts, in_stock, quantity, list_price, sale_price, discount
		FROM observations WHERE hash_key = ? ORDER BY obs_id DESC LIMIT ?`, hashKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations for %s: %w", hashKey, err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var inStock int
		if err := rows.Scan(&o.ObsID, &o.RunID, &o.HashKey, &o.CrawlTS, &inStock, &o.Quantity, &o.ListPrice, &o.SalePrice, &o.Discount); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.InStock = inStock == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// Alerts lists the alert ledger, newest first.
func (s *Store) Alerts(limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT hash_key, reason, created_at FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.HashKey, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Ping verifies the underlying database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
