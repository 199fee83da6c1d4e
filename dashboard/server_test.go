package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlet-watcher/internal/types"
	"outlet-watcher/sink"
)

func newTestServer(t *testing.T) (*httptest.Server, *sink.Store) {
	t.Helper()
	store, err := sink.OpenStore(filepath.Join(t.TempDir(), "outlet.sqlite"))
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	srv := httptest.NewServer(NewServer(store, logger).Router())
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return srv, store
}

func seedVariant(t *testing.T, store *sink.Store, hashKey string, inStock bool) {
	t.Helper()
	name := "Beta Jacket"
	row := types.CanonicalRow{
		CrawlTS:    "2026-08-23T10:00:00Z",
		Locale:     "us-en",
		Name:       &name,
		ProductURL: "https://outlet.example.com/us/en/shop/mens/beta-jacket",
		Color:      "Black",
		Size:       "M",
		InStock:    inStock,
		HashKey:    hashKey,
		Source:     "outlet-watcher",
	}
	require.NoError(t, store.UpsertVariant(row))
	runID, err := store.BeginRun(row.CrawlTS)
	require.NoError(t, err)
	require.NoError(t, store.InsertObservation(runID, row))
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, srv.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestVariantsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	var empty []sink.VariantRecord
	status := getJSON(t, srv.URL+"/api/variants", &empty)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, empty, "empty store yields an empty array, not null")

	seedVariant(t, store, "abc123", true)

	var variants []sink.VariantRecord
	status = getJSON(t, srv.URL+"/api/variants", &variants)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, variants, 1)
	assert.Equal(t, "abc123", variants[0].HashKey)
	assert.True(t, variants[0].EverInStock)
}

func TestObservationsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedVariant(t, store, "abc123", false)

	var observations []sink.Observation
	status := getJSON(t, srv.URL+"/api/variants/abc123/observations", &observations)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, observations, 1)
	assert.False(t, observations[0].InStock)
}

func TestObservationsEndpoint_UnknownHashKeyIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	var problem ProblemDetails
	status := getJSON(t, srv.URL+"/api/variants/nope/observations", &problem)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, problem.Status)
}

func TestAlertsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	claimed, err := store.RecordAlert("abc123", "first_seen", "2026-08-23T10:00:00Z")
	require.NoError(t, err)
	require.True(t, claimed)

	var alerts []sink.AlertRecord
	status := getJSON(t, srv.URL+"/api/alerts", &alerts)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, alerts, 1)
	assert.Equal(t, "first_seen", alerts[0].Reason)
	assert.Equal(t, "abc123", alerts[0].HashKey)
}
