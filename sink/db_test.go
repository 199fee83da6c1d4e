package sink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlet-watcher/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "outlet.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func rowAt(ts string, inStock bool) types.CanonicalRow {
	row := sampleRow()
	row.CrawlTS = ts
	row.InStock = inStock
	if !inStock {
		row.Quantity = nil
	}
	return row
}

func TestStore_RunLifecycle(t *testing.T) {
	store := openTestStore(t)

	runID, err := store.BeginRun("2026-08-23T10:00:00Z")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.NoError(t, store.FinishRun(runID, "2026-08-23T10:05:00Z"))
	require.NoError(t, store.Ping())
}

func TestStore_UpsertVariantLatchesEverInStock(t *testing.T) {
	store := openTestStore(t)

	first := rowAt("2026-08-23T10:00:00Z", true)
	require.NoError(t, store.UpsertVariant(first))

	second := rowAt("2026-08-24T10:00:00Z", false)
	second.Name = nil
	require.NoError(t, store.UpsertVariant(second))

	variants, err := store.Variants(10)
	require.NoError(t, err)
	require.Len(t, variants, 1)

	v := variants[0]
	assert.Equal(t, first.HashKey, v.HashKey)
	assert.Equal(t, "2026-08-23T10:00:00Z", v.FirstSeenAt)
	assert.Equal(t, "2026-08-24T10:00:00Z", v.LastSeenAt)
	assert.True(t, v.EverInStock, "ever_in_stock stays latched after going out of stock")
	require.NotNil(t, v.Name)
	assert.Equal(t, "Beta Jacket", *v.Name, "nil name on refresh keeps the stored one")
}

func TestStore_HasVariant(t *testing.T) {
	store := openTestStore(t)

	seen, err := store.HasVariant("missing")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.UpsertVariant(sampleRow()))
	seen, err = store.HasVariant(sampleRow().HashKey)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestStore_LatestObservationOrdering(t *testing.T) {
	store := openTestStore(t)
	runID, err := store.BeginRun("2026-08-23T10:00:00Z")
	require.NoError(t, err)

	require.NoError(t, store.InsertObservation(runID, rowAt("2026-08-23T10:00:00Z", false)))
	require.NoError(t, store.InsertObservation(runID, rowAt("2026-08-24T10:00:00Z", true)))

	latest, err := store.LatestObservation(sampleRow().HashKey)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2026-08-24T10:00:00Z", latest.CrawlTS)
	assert.True(t, latest.InStock)
	require.NotNil(t, latest.Quantity)
	assert.Equal(t, 3, *latest.Quantity)
	require.NotNil(t, latest.SalePrice)
	assert.Equal(t, "$150.00", *latest.SalePrice)

	history, err := store.Observations(sampleRow().HashKey, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].InStock)
	assert.False(t, history[1].InStock)
	assert.Nil(t, history[1].Quantity)
}

func TestStore_LatestObservationNilWhenUnseen(t *testing.T) {
	store := openTestStore(t)

	latest, err := store.LatestObservation("missing")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStore_RecordAlertClaimsOnce(t *testing.T) {
	store := openTestStore(t)

	claimed, err := store.RecordAlert("abc123", "first_seen", "2026-08-23T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.RecordAlert("abc123", "first_seen", "2026-08-24T10:00:00Z")
	require.NoError(t, err)
	assert.False(t, claimed, "repeat (hash_key, reason) is never re-claimed")

	claimed, err = store.RecordAlert("abc123", "went_in_stock", "2026-08-24T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, claimed, "a different reason is its own ledger entry")

	alerts, err := store.Alerts(10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}
