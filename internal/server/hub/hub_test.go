package hub

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
	"github.com/dmitrijs2005/clipsync/internal/server/storage"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// startHub serves every connection as user "alice", bypassing the HTTP auth
// layer so the frame protocol can be driven directly.
func startHub(t *testing.T) (*storage.Store, *httptest.Server) {
	t.Helper()
	st, err := storage.New(t.TempDir())
	require.NoError(t, err)
	h := New(st, testLogger())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(r.Context(), "alice", conn)
	}))
	t.Cleanup(srv.Close)
	return st, srv
}

// dialHub connects and completes the hello exchange so the session is
// known to be joined before the test proceeds.
func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sendFrame(t, conn, protocol.CheckVersionArr(nil))
	f := recvFrame(t, conn)
	require.Equal(t, protocol.FrameUpdated, f.Type)
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f protocol.Frame) {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func recvFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

func recvZip(t *testing.T, conn *websocket.Conn) map[string][]byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	records, err := protocol.ReadZip(data)
	require.NoError(t, err)
	return records
}

func TestServe_UploadFansOutAndDownloads(t *testing.T) {
	_, srv := startHub(t)
	a := dialHub(t, srv)
	b := dialHub(t, srv)

	id := "20250901120000"
	payload := []byte(`{"data":"hello","typ":"text/plain","device":"os","pined":false}`)

	sendFrame(t, a, protocol.Data(id, payload, true, ""))
	f := recvFrame(t, a)
	assert.Equal(t, protocol.FrameSuccess, f.Type)
	assert.Equal(t, id, f.Old)
	assert.Equal(t, id, f.New)

	// the sibling session is nudged, not the originator
	f = recvFrame(t, b)
	assert.Equal(t, protocol.FrameOutdated, f.Type)

	sendFrame(t, b, protocol.CheckVersionArr(nil))
	records := recvZip(t, b)
	require.Len(t, records, 1)
	assert.Equal(t, payload, records[id])
}

func TestServe_CollidingUploadGetsSuffixedID(t *testing.T) {
	st, srv := startHub(t)
	a := dialHub(t, srv)

	id := "20250901120000"
	sendFrame(t, a, protocol.Data(id, []byte("p1"), true, ""))
	f := recvFrame(t, a)
	require.Equal(t, protocol.FrameSuccess, f.Type)
	assert.Equal(t, id, f.New)

	sendFrame(t, a, protocol.Data(id, []byte("p2"), true, ""))
	f = recvFrame(t, a)
	require.Equal(t, protocol.FrameSuccess, f.Type)
	assert.Equal(t, id+"_001", f.New)

	assert.Equal(t, []string{id, id + "_001"}, st.IDs("alice"))
}

func TestServe_EditDeletesOldBeforeFanout(t *testing.T) {
	st, srv := startHub(t)
	a := dialHub(t, srv)
	b := dialHub(t, srv)

	oldID := "20250901120000"
	sendFrame(t, a, protocol.Data(oldID, []byte("v1"), true, ""))
	require.Equal(t, protocol.FrameSuccess, recvFrame(t, a).Type)
	require.Equal(t, protocol.FrameOutdated, recvFrame(t, b).Type)

	sendFrame(t, b, protocol.CheckVersionArr(nil))
	require.Len(t, recvZip(t, b), 1)

	newID := "20250901120005"
	sendFrame(t, a, protocol.Data(newID, []byte("v2"), true, oldID))
	f := recvFrame(t, a)
	require.Equal(t, protocol.FrameSuccess, f.Type)
	assert.Equal(t, newID, f.New)

	// the superseded record is gone by the time the success is answered
	assert.Equal(t, []string{newID}, st.IDs("alice"))

	require.Equal(t, protocol.FrameOutdated, recvFrame(t, b).Type)

	// the stale holder is told to prune before receiving the replacement
	sendFrame(t, b, protocol.CheckVersionArr([]string{oldID}))
	f = recvFrame(t, b)
	require.Equal(t, protocol.FramePrune, f.Type)
	assert.Equal(t, []string{oldID}, f.IDs)

	records := recvZip(t, b)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("v2"), records[newID])
}

func TestServe_RemoveIsIdempotentAndFansOut(t *testing.T) {
	st, srv := startHub(t)
	a := dialHub(t, srv)
	b := dialHub(t, srv)

	id := "20250901120000"
	sendFrame(t, a, protocol.Data(id, []byte("p"), true, ""))
	require.Equal(t, protocol.FrameSuccess, recvFrame(t, a).Type)
	require.Equal(t, protocol.FrameOutdated, recvFrame(t, b).Type)

	sendFrame(t, a, protocol.Remove(id, true))
	f := recvFrame(t, a)
	require.Equal(t, protocol.FrameSuccess, f.Type)
	assert.Equal(t, id, f.Old)
	assert.Empty(t, f.New)
	assert.Empty(t, st.IDs("alice"))

	require.Equal(t, protocol.FrameOutdated, recvFrame(t, b).Type)

	// a re-sent remove after a reconnect must not error the session
	sendFrame(t, a, protocol.Remove(id, true))
	require.Equal(t, protocol.FrameSuccess, recvFrame(t, a).Type)
}
