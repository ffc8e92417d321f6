package db

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blerx/internal/testutil"
)

func adminDB(t *testing.T) (*DB, *http.ServeMux) {
	t.Helper()
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
	return db, mux
}

func TestAdmin_Sightings(t *testing.T) {
	db, mux := adminDB(t)
	s, err := db.StartSession("mock", 38, time.Unix(0, 0))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordSighting(s.ID, record(beacon, "blex", uint64(i)), time.Unix(int64(i), 0)))
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/sightings?limit=2", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got []Sighting
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, beacon, got[0].Address)
	assert.Equal(t, "blex", got[0].LocalName)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/sightings?limit=-1", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestAdmin_DevicesChart(t *testing.T) {
	db, mux := adminDB(t)
	s, err := db.StartSession("mock", 38, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.RecordSighting(s.ID, record(beacon, "blex", 0), time.Now()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/devices?window=10m", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "blex (C0:11:22:33:44:55)")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/devices?window=soon", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Backup(t *testing.T) {
	db, mux := adminDB(t)
	_, err := db.StartSession("mock", 38, time.Unix(0, 0))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/backup", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".db.gz")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}

func TestAdmin_TailSQLMounted(t *testing.T) {
	_, mux := adminDB(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/tailsql/", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}
