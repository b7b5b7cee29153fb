package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clipsync/internal/client/pending"
	"github.com/dmitrijs2005/clipsync/internal/client/store"
	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "data"), filepath.Join(dir, "image"), 100, testLogger())
	require.NoError(t, err)
	return st
}

func testQueue(t *testing.T) *pending.Queue {
	t.Helper()
	q, err := pending.New(filepath.Join(t.TempDir(), "pending"))
	require.NoError(t, err)
	return q
}

// script runs on the server side of an upgraded connection and returns an
// error on any deviation from the expected exchange.
type script func(conn *websocket.Conn) error

// newFakeHub serves /getkey with a fixed token and /connect with the given
// script, rejecting stale bearer tokens so the refresh path is exercised.
func newFakeHub(t *testing.T, token string, s script) (*httptest.Server, <-chan error) {
	t.Helper()
	scriptErr := make(chan error, 1)
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/getkey", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(token))
	})
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			scriptErr <- err
			return
		}
		defer conn.Close()
		scriptErr <- s(conn)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, scriptErr
}

func readFrame(conn *websocket.Conn) (protocol.Frame, error) {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	if mt != websocket.TextMessage {
		return protocol.Frame{}, fmt.Errorf("expected text frame, got type %d", mt)
	}
	return protocol.Decode(data)
}

func writeFrame(conn *websocket.Conn, f protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func TestEngine_UploadAndRename(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	id, err := st.Write(store.Record{Data: "hello", Typ: "text/plain", Device: "os"})
	require.NoError(t, err)
	require.NoError(t, q.Push(pending.Entry{Kind: pending.KindNew, ID: id, Typ: "text/plain"}))

	serverID := id + "_001"
	srv, scriptErr := newFakeHub(t, "good", func(conn *websocket.Conn) error {
		f, err := readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameCheckVersionArr || len(f.IDs) != 1 || f.IDs[0] != id {
			return fmt.Errorf("unexpected hello frame: %+v", f)
		}
		if err := writeFrame(conn, protocol.Updated()); err != nil {
			return err
		}

		f, err = readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameData || f.ID != id || !f.Last || f.IsEditOf != "" {
			return fmt.Errorf("unexpected data frame: %+v", f)
		}
		var rec store.Record
		if err := json.Unmarshal(f.Payload, &rec); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		if rec.Data != "hello" || rec.Pined {
			return fmt.Errorf("unexpected payload record: %+v", rec)
		}

		if err := writeFrame(conn, protocol.Success(id, serverID)); err != nil {
			return err
		}

		// hold the socket open until the client disconnects
		_, _, err = conn.ReadMessage()
		_ = err
		return nil
	})

	// a stale token forces the one-shot refresh before the dial succeeds
	SetToken("stale")

	e := NewEngine(Options{
		ServerURL: srv.URL,
		Cred:      protocol.UserCred{Username: "alice", Key: "k"},
	}, st, q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return q.Len() == 0 && st.Has(serverID) && !st.Has(id)
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-scriptErr)
}

func TestEngine_EditDuringUploadTracksServerID(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	id, err := st.Write(store.Record{Data: "v1", Typ: "text/plain", Device: "os"})
	require.NoError(t, err)
	require.NoError(t, q.Push(pending.Entry{Kind: pending.KindNew, ID: id, Typ: "text/plain"}))

	serverID := id + "_001"
	editedID := make(chan string, 1)

	srv, scriptErr := newFakeHub(t, "good", func(conn *websocket.Conn) error {
		f, err := readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameCheckVersionArr {
			return fmt.Errorf("unexpected hello frame: %+v", f)
		}
		if err := writeFrame(conn, protocol.Updated()); err != nil {
			return err
		}

		// the upload of v1 arrives
		f, err = readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameData || f.ID != id {
			return fmt.Errorf("unexpected data frame: %+v", f)
		}

		// the user edits the record while its upload awaits the reply
		newID, err := st.Rewrite(id, store.Record{Data: "v2", Typ: "text/plain", Device: "os"})
		if err != nil {
			return err
		}
		if err := q.Push(pending.Entry{Kind: pending.KindEdit, ID: id, NewID: newID, Typ: "text/plain"}); err != nil {
			return err
		}
		editedID <- newID

		// the server stored v1 under a colliding id
		if err := writeFrame(conn, protocol.Success(id, serverID)); err != nil {
			return err
		}

		// the queued edit must chase the id the server assigned, or v1
		// would survive server-side forever
		f, err = readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameData || f.ID != newID || f.IsEditOf != serverID {
			return fmt.Errorf("unexpected edit frame: %+v", f)
		}
		var rec store.Record
		if err := json.Unmarshal(f.Payload, &rec); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		if rec.Data != "v2" {
			return fmt.Errorf("unexpected payload record: %+v", rec)
		}
		if err := writeFrame(conn, protocol.Success(newID, newID)); err != nil {
			return err
		}

		_, _, err = conn.ReadMessage()
		_ = err
		return nil
	})

	SetToken("")

	e := NewEngine(Options{
		ServerURL: srv.URL,
		Cred:      protocol.UserCred{Username: "alice", Key: "k"},
	}, st, q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	newID := <-editedID
	assert.Eventually(t, func() bool { return q.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, st.Has(newID))
	assert.False(t, st.Has(id))

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-scriptErr)
}

func TestEngine_FailedSessionsDoNotLeakReaders(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/getkey", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("good"))
	})
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := readFrame(conn); err != nil {
			return
		}
		_ = writeFrame(conn, protocol.Errorf("boom"))
		_, _, _ = conn.ReadMessage() // wait for the client to drop
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	SetToken("")

	e := NewEngine(Options{
		ServerURL: srv.URL,
		Cred:      protocol.UserCred{Username: "alice", Key: "k"},
	}, st, q, testLogger())

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		require.Error(t, e.session(context.Background()))
	}

	// each failed session takes its reader goroutine down with it
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+3
	}, 3*time.Second, 50*time.Millisecond)
}

func TestEngine_IngestAndPrune(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	localID, err := st.Write(store.Record{Data: "stale local", Typ: "text/plain", Device: "os"})
	require.NoError(t, err)

	remoteID := "20250901120000"
	doc, err := json.Marshal(store.Record{Data: "from server", Typ: "text/plain", Device: "laptop"})
	require.NoError(t, err)
	archive, err := protocol.BuildZip(map[string][]byte{remoteID: doc})
	require.NoError(t, err)

	var changed []string
	srv, scriptErr := newFakeHub(t, "good", func(conn *websocket.Conn) error {
		f, err := readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameCheckVersionArr {
			return fmt.Errorf("unexpected hello frame: %+v", f)
		}

		if err := writeFrame(conn, protocol.Prune([]string{localID})); err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, archive); err != nil {
			return err
		}

		// after ingesting the archive the client confirms its new tip
		f, err = readFrame(conn)
		if err != nil {
			return err
		}
		if f.Type != protocol.FrameCheckVersion || f.ID != remoteID {
			return fmt.Errorf("unexpected tip frame: %+v", f)
		}
		if err := writeFrame(conn, protocol.Updated()); err != nil {
			return err
		}

		_, _, err = conn.ReadMessage()
		_ = err
		return nil
	})

	SetToken("")

	e := NewEngine(Options{
		ServerURL: srv.URL,
		Cred:      protocol.UserCred{Username: "alice", Key: "k"},
		OnChange:  func(id string) { changed = append(changed, id) },
	}, st, q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return st.Has(remoteID) && !st.Has(localID)
	}, 3*time.Second, 10*time.Millisecond)

	rec, err := st.Read(remoteID)
	require.NoError(t, err)
	assert.Equal(t, "from server", rec.Data)
	assert.Equal(t, "laptop", rec.Device)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-scriptErr)
	assert.Contains(t, changed, remoteID)
	assert.Contains(t, changed, localID)
}

func TestEngine_PruneSkipsQueuedIDs(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	id, err := st.Write(store.Record{Data: "not yet uploaded", Typ: "text/plain", Device: "os"})
	require.NoError(t, err)
	require.NoError(t, q.Push(pending.Entry{Kind: pending.KindNew, ID: id, Typ: "text/plain"}))

	e := NewEngine(Options{}, st, q, testLogger())
	e.applyPrune(context.Background(), []string{id})

	assert.True(t, st.Has(id))
}

func TestEngine_RunFailsFastOnBadCredential(t *testing.T) {
	st := testStore(t)
	q := testQueue(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	SetToken("")

	e := NewEngine(Options{
		ServerURL: srv.URL,
		Cred:      protocol.UserCred{Username: "alice", Key: "wrong"},
	}, st, q, testLogger())

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestWsEndpoint(t *testing.T) {
	e := NewEngine(Options{ServerURL: "https://example.com/"}, nil, nil, testLogger())
	assert.Equal(t, "wss://example.com/connect", e.wsEndpoint())

	e = NewEngine(Options{ServerURL: "http://127.0.0.1:8383"}, nil, nil, testLogger())
	assert.Equal(t, "ws://127.0.0.1:8383/connect", e.wsEndpoint())
}
