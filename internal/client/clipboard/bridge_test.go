package clipboard

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipsync/internal/client/store"
	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLog struct {
	mu  sync.Mutex
	ids []string
}

func (c *captureLog) fn(id string, rec store.Record) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *captureLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func newTestBridge(t *testing.T, storeImage bool) (*Bridge, *MockClipboard, *store.Store, *captureLog) {
	t.Helper()
	base := t.TempDir()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	st, err := store.New(filepath.Join(base, "data"), filepath.Join(base, "image"), 100, logger)
	require.NoError(t, err)

	flag, err := NewEchoFlag(filepath.Join(base, "OK"))
	require.NoError(t, err)

	clip := NewMockClipboard()
	log := &captureLog{}
	return NewBridge(clip, st, flag, storeImage, log.fn, logger), clip, st, log
}

func TestCapture_TextRecord(t *testing.T) {
	b, clip, st, log := newTestBridge(t, true)
	ctx := context.Background()

	clip.Set("text/plain;charset=utf-8", []byte("hello"))
	require.NoError(t, b.Capture(ctx))

	require.Equal(t, 1, log.count())
	ids := st.List()
	require.Len(t, ids, 1)

	rec, err := st.Read(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Data)
	assert.Equal(t, "text/plain", rec.Typ)
	assert.Equal(t, "os", rec.Device)
}

func TestCapture_PrefersImageOverText(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, true)
	ctx := context.Background()

	clip.mu.Lock()
	clip.content = map[string][]byte{
		"text/plain": []byte("caption"),
		"image/png":  []byte("not-a-real-png"),
	}
	clip.mu.Unlock()

	require.NoError(t, b.Capture(ctx))

	ids := st.List()
	require.Len(t, ids, 1)
	rec, err := st.Read(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.Typ)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("not-a-real-png")), rec.Data)
}

func TestCapture_ImageDisabled(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, false)
	ctx := context.Background()

	clip.Set("image/png", []byte("png-bytes"))
	require.NoError(t, b.Capture(ctx))
	assert.Empty(t, st.List())
}

func TestCapture_MarkerMimeSkips(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, true)
	ctx := context.Background()

	clip.mu.Lock()
	clip.content = map[string][]byte{
		"text/plain": []byte("from a sibling"),
		MarkerTarget: []byte("1"),
	}
	clip.mu.Unlock()

	require.NoError(t, b.Capture(ctx))
	assert.Empty(t, st.List())
}

func TestCapture_DiffsRepeatedPayload(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, true)
	ctx := context.Background()

	clip.Set("text/plain", []byte("same"))
	require.NoError(t, b.Capture(ctx))
	require.NoError(t, b.Capture(ctx))

	assert.Len(t, st.List(), 1)
}

func TestPaste_EchoSuppression(t *testing.T) {
	b, clip, st, log := newTestBridge(t, true)
	ctx := context.Background()

	id, err := st.Write(store.Record{Data: "copied elsewhere", Typ: "text/plain", Device: "srv"})
	require.NoError(t, err)

	require.NoError(t, b.Paste(ctx, id))

	data, err := clip.Read(ctx, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "copied elsewhere", string(data))

	// the change event caused by our own paste produces zero new records
	before := len(st.List())
	require.NoError(t, b.Capture(ctx))
	assert.Len(t, st.List(), before)
	assert.Equal(t, 0, log.count())

	// the flag re-arms: a genuine copy afterwards is captured
	clip.Set("text/plain", []byte("real copy"))
	require.NoError(t, b.Capture(ctx))
	assert.Len(t, st.List(), before+1)
}

func TestPaste_ImageDecodesBase64(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, true)
	ctx := context.Background()

	payload := []byte{0x89, 0x50, 0x4E, 0x47}
	err := st.Import("20250901120000", store.Record{
		Data:   base64.StdEncoding.EncodeToString(payload),
		Typ:    "image/png",
		Device: "srv",
	})
	require.NoError(t, err)

	require.NoError(t, b.Paste(ctx, "20250901120000"))

	data, err := clip.Read(ctx, "image/png")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRun_CapturesFromWatch(t *testing.T) {
	b, clip, st, _ := newTestBridge(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	clip.Set("text/plain", []byte("watched"))

	assert.Eventually(t, func() bool {
		return len(st.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
