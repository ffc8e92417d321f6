package samplemux

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/monitoring"
	"github.com/banshee-data/blerx/internal/testutil"
)

func adminMux(t *testing.T, opts Options) (*SampleMux[*testutil.ByteSource], *http.ServeMux) {
	t.Helper()
	m, _ := newTestMux(t, nil, opts)
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)
	return m, mux
}

func testRecord() ble.Record {
	return ble.Record{
		Address: addrA,
		PDUType: ble.PDUAdvInd,
		Length:  9,
		Channel: ble.AdvChannel,
		Payload: []byte{0x0A, 0, 0, 0, 0, 0xC0, 0x02, 0x01, 0x06},
	}
}

func TestAdmin_LivePage(t *testing.T) {
	_, mux := adminMux(t, testOptions())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/live", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "channel 38")
	assert.Contains(t, w.Body.String(), `src="live.js"`)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/live.js", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "EventSource")
}

func TestAdmin_RejectsRemoteClients(t *testing.T) {
	_, mux := adminMux(t, testOptions())

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	m, mux := adminMux(t, testOptions())
	require.NoError(t, m.Initialize())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/stats", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body struct {
		Stats
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Initialized)
	assert.NotEmpty(t, body.Version)
}

func TestAdmin_Metrics(t *testing.T) {
	opts := testOptions()
	_, mux := adminMux(t, opts)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "metrics route only exists when metrics are enabled")

	opts.Metrics = monitoring.NewMetrics()
	_, mux = adminMux(t, opts)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/metrics", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "blerx_subscribers")
}

func TestAdmin_TailMethodNotAllowed(t *testing.T) {
	_, mux := adminMux(t, testOptions())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodPost, "/debug/tail", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func waitSubscribers(t *testing.T, m *SampleMux[*testutil.ByteSource], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Stats().Subscribers == n },
		2*time.Second, 10*time.Millisecond)
}

func TestAdmin_TailStreamsEvents(t *testing.T) {
	m, mux := adminMux(t, testOptions())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/tail")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	waitSubscribers(t, m, 1)
	m.accept(testRecord())

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, addrA, ev.Record.Address)
	assert.Equal(t, ble.PDUAdvInd, ev.Record.PDUType)
}

func TestAdmin_WebsocketFrames(t *testing.T) {
	opts := testOptions()
	opts.FrameMetadata = true
	m, mux := adminMux(t, opts)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/debug/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitSubscribers(t, m, 1)
	rec := testRecord()
	m.accept(rec)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{'A', 0xC0, 0, 0, 0, 0, 0x0A, 9, 38, 'B'}, msg)

	// Closing the mux ends the stream with a close frame.
	require.NoError(t, m.Close())
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestFrameBytes(t *testing.T) {
	got := FrameBytes(ble.Frame(testRecord(), false))
	assert.Equal(t, []byte{'A', 0xC0, 0, 0, 0, 0, 0x0A, 'B'}, got)
	assert.Empty(t, FrameBytes(nil))
}

func TestParseFrameBytes_MarkerValuedData(t *testing.T) {
	rec := ble.Record{
		Address: ble.Address{ble.StartMarker, ble.EndMarker, 0x41, 0x42, 0x00, 0xC0},
		Length:  int(ble.StartMarker),
		Channel: 38,
	}
	for _, meta := range []bool{false, true} {
		f, err := ParseFrameBytes(FrameBytes(ble.Frame(rec, meta)))
		require.NoError(t, err)
		assert.Equal(t, rec.Address, f.Address)
		assert.Equal(t, meta, f.HasMeta)
		if meta {
			assert.Equal(t, rec.Length, f.Length)
			assert.Equal(t, rec.Channel, f.Channel)
		}
	}
}

func TestParseFrameBytes_Malformed(t *testing.T) {
	for _, msg := range [][]byte{
		nil,
		{'A'},
		{'A', 1, 2, 3, 'B'},
		{'X', 1, 2, 3, 4, 5, 6, 'B'},
		{'A', 1, 2, 3, 4, 5, 6, 'A'},
	} {
		_, err := ParseFrameBytes(msg)
		assert.ErrorIs(t, err, ErrBadFrame, "% X", msg)
	}
}
