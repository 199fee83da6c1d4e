package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"outlet-watcher/internal/types"
)

// CSVSink appends canonical rows to a flat file with a fixed column set.
// Appends are not safe for concurrent writers; the crawl loop is the single
// writer.
type CSVSink struct {
	path   string
	logger types.Logger
}

// NewCSVSink creates a sink for the given path. An existing file whose
// header no longer matches the expected column set is rotated to a
// timestamped backup so new runs stay consistent.
func NewCSVSink(path string, logger types.Logger) (*CSVSink, error) {
	s := &CSVSink{path: path, logger: logger}
	if err := s.rotateIfIncompatible(); err != nil {
		return nil, err
	}
	if err := s.ensureHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Header defines the CSV column order.
func Header() []string {
	return []string{
		"crawl_ts", "locale", "category_path", "name", "sku", "product_url",
		"color", "size", "list_price", "sale_price", "discount",
		"in_stock", "quantity", "image_url", "hash_key", "source",
	}
}

func (s *CSVSink) rotateIfIncompatible() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect CSV header: %w", err)
	}
	reader := csv.NewReader(f)
	current, readErr := reader.Read()
	f.Close()

	if readErr == nil && equalHeader(current, Header()) {
		return nil
	}
	backup := fmt.Sprintf("%s.bak_%s", s.path, time.Now().Format("20060102_150405"))
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("failed to rotate incompatible CSV: %w", err)
	}
	s.logger.Infof("Rotated old CSV to %s", backup)
	return nil
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}

func (s *CSVSink) ensureHeader() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create CSV: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Append writes rows in order. Nil optional fields become empty cells.
func (s *CSVSink) Append(rows []types.CanonicalRow) error {
	if len(rows) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open CSV for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, r := range rows {
		record := []string{
			r.CrawlTS,
			r.Locale,
			deref(r.CategoryPath),
			deref(r.Name),
			deref(r.SKU),
			r.ProductURL,
			r.Color,
			r.Size,
			deref(r.ListPrice),
			deref(r.SalePrice),
			deref(r.Discount),
			strconv.FormatBool(r.InStock),
			derefInt(r.Quantity),
			deref(r.ImageURL),
			r.HashKey,
			r.Source,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to append CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
