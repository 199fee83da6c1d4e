package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlet-watcher/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func sampleRow() types.CanonicalRow {
	return types.CanonicalRow{
		CrawlTS:      "2026-08-23T10:00:00Z",
		Locale:       "us-en",
		CategoryPath: strPtr("Home / Mens / Jackets"),
		Name:         strPtr("Beta Jacket"),
		SKU:          strPtr("X000012345"),
		ProductURL:   "https://outlet.example.com/us/en/shop/mens/beta-jacket",
		Color:        "Black",
		Size:         "M",
		ListPrice:    strPtr("$750.00"),
		SalePrice:    strPtr("$150.00"),
		Discount:     strPtr("80%"),
		InStock:      true,
		Quantity:     intPtr(3),
		ImageURL:     strPtr("https://img.example.com/black.jpg"),
		HashKey:      "abc123",
		Source:       "outlet-watcher",
	}
}

func TestCSVSink_CreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outlet.csv")

	_, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)

	records := readAll(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, Header(), records[0])
}

func TestCSVSink_AppendWritesAllColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outlet.csv")
	s, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Append([]types.CanonicalRow{sampleRow()}))

	records := readAll(t, path)
	require.Len(t, records, 2)
	row := records[1]
	require.Len(t, row, len(Header()))
	assert.Equal(t, "2026-08-23T10:00:00Z", row[0])
	assert.Equal(t, "us-en", row[1])
	assert.Equal(t, "Home / Mens / Jackets", row[2])
	assert.Equal(t, "Beta Jacket", row[3])
	assert.Equal(t, "X000012345", row[4])
	assert.Equal(t, "Black", row[6])
	assert.Equal(t, "M", row[7])
	assert.Equal(t, "$750.00", row[8])
	assert.Equal(t, "$150.00", row[9])
	assert.Equal(t, "80%", row[10])
	assert.Equal(t, "true", row[11])
	assert.Equal(t, "3", row[12])
	assert.Equal(t, "abc123", row[14])
	assert.Equal(t, "outlet-watcher", row[15])
}

func TestCSVSink_NilOptionalsBecomeEmptyCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outlet.csv")
	s, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)

	row := sampleRow()
	row.CategoryPath = nil
	row.ListPrice = nil
	row.Discount = nil
	row.Quantity = nil
	row.InStock = false
	require.NoError(t, s.Append([]types.CanonicalRow{row}))

	records := readAll(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[1][2])
	assert.Equal(t, "", records[1][8])
	assert.Equal(t, "", records[1][10])
	assert.Equal(t, "false", records[1][11])
	assert.Equal(t, "", records[1][12])
}

func TestCSVSink_ReopenAppendsWithoutNewHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outlet.csv")

	s, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Append([]types.CanonicalRow{sampleRow()}))

	s2, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s2.Append([]types.CanonicalRow{sampleRow()}))

	records := readAll(t, path)
	require.Len(t, records, 3, "one header plus two rows across reopens")
}

func TestCSVSink_RotatesIncompatibleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outlet.csv")
	require.NoError(t, os.WriteFile(path, []byte("old,columns\n1,2\n"), 0644))

	_, err := NewCSVSink(path, testLogger())
	require.NoError(t, err)

	records := readAll(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, Header(), records[0])

	backups, err := filepath.Glob(path + ".bak_*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(old), "old,columns")
}
