// Package sync implements the client half of the replication protocol: one
// logical WebSocket session to the fan-out hub, a drain loop over the
// pending queue, and ingest of server-pushed records.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/clipsync/internal/client/pending"
	"github.com/dmitrijs2005/clipsync/internal/client/store"
	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/cryptox"
	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

type Options struct {
	// ServerURL is the http(s) base URL; the WebSocket endpoint is derived
	// from it.
	ServerURL string
	Cred      protocol.UserCred

	// EncryptKey enables end-to-end encryption when non-nil.
	EncryptKey []byte

	// OnChange is called with the id of every record the server added to or
	// removed from the local store.
	OnChange func(id string)

	PingInterval time.Duration
	PongTimeout  time.Duration
}

type Engine struct {
	opts   Options
	store  *store.Store
	queue  *pending.Queue
	logger logging.Logger

	httpClient *http.Client
	dialer     *websocket.Dialer

	// in-flight upload: exactly one data/remove frame awaits its success
	// reply at any time, which keeps the stream ordered.
	inFlight   *pending.Entry
	proposedID string
}

func NewEngine(opts Options, st *store.Store, q *pending.Queue, logger logging.Logger) *Engine {
	if opts.PingInterval == 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 300 * time.Second
	}
	return &Engine{
		opts:       opts,
		store:      st,
		queue:      q,
		logger:     logger.With("module", "sync"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// Run keeps exactly one session alive until ctx is cancelled. Transport
// errors fall back to bounded exponential backoff; auth failure after a
// token refresh is unrecoverable and returned to the caller.
func (e *Engine) Run(ctx context.Context) error {
	bo := newBackoff(time.Second, 30*time.Second)

	for {
		start := time.Now()
		err := e.session(ctx)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, common.ErrUnauthorized) {
			return fmt.Errorf("authentication failed: %w", err)
		}

		if time.Since(start) > time.Minute {
			bo.reset()
		}
		delay := bo.next()
		e.logger.Warn(ctx, "session ended, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// wsEndpoint derives the /connect WebSocket URL from the HTTP base URL.
func (e *Engine) wsEndpoint() string {
	base := strings.TrimSuffix(e.opts.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/connect"
}

// dial connects with the current bearer token, refreshing it once on 401.
func (e *Engine) dial(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		if GetToken() == "" {
			if err := fetchToken(ctx, e.httpClient, e.opts.ServerURL, e.opts.Cred); err != nil {
				return nil, fmt.Errorf("fetch token: %w", err)
			}
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+GetToken())

		conn, resp, err := e.dialer.DialContext(ctx, e.wsEndpoint(), header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
				// expired token; refresh exactly once
				SetToken("")
				continue
			}
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, common.ErrUnauthorized
			}
			return nil, fmt.Errorf("dial: %w", err)
		}
		return conn, nil
	}
}

type inboundMsg struct {
	messageType int
	data        []byte
	err         error
}

func (e *Engine) session(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// session-scoped context: the reader goroutine must not outlive this
	// session, or every failed connection would strand one reader
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.inFlight = nil
	e.proposedID = ""
	defer e.queue.ClearInFlight()

	conn.SetReadLimit(protocol.MaxFrameSize)
	deadline := func() time.Time { return time.Now().Add(e.opts.PongTimeout) }
	if err := conn.SetReadDeadline(deadline()); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(deadline()) })

	inbound := make(chan inboundMsg)
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			select {
			case inbound <- inboundMsg{mt, data, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	e.logger.Info(ctx, "session open", "endpoint", e.wsEndpoint())

	// step one of the protocol loop: reconcile full id sets
	if err := e.writeFrame(conn, protocol.CheckVersionArr(e.store.List())); err != nil {
		return err
	}

	pingTicker := time.NewTicker(e.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// flush nothing: the in-flight entry stays queued and is
			// re-sent on the next connect
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case <-e.queue.Notify():
			if err := e.drain(conn); err != nil {
				return err
			}

		case msg := <-inbound:
			if msg.err != nil {
				return fmt.Errorf("socket read: %w", msg.err)
			}
			if err := e.handleMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, conn *websocket.Conn, msg inboundMsg) error {
	if msg.messageType == websocket.BinaryMessage {
		if err := e.ingestZip(ctx, msg.data); err != nil {
			return err
		}
		// confirm we now sit at the stream tip
		if tip := e.store.Newest(); tip != "" {
			if err := e.writeFrame(conn, protocol.CheckVersion(tip)); err != nil {
				return err
			}
		}
		return e.drain(conn)
	}

	frame, err := protocol.Decode(msg.data)
	if err != nil {
		// protocol error: close without retry semantics are handled by the
		// caller; the queue is untouched
		return err
	}

	switch frame.Type {
	case protocol.FrameUpdated:
		e.logger.Debug(ctx, "up to date")
		return e.drain(conn)

	case protocol.FrameOutdated:
		return e.writeFrame(conn, protocol.CheckVersionArr(e.store.List()))

	case protocol.FramePrune:
		e.applyPrune(ctx, frame.IDs)
		return nil

	case protocol.FrameSuccess:
		if err := e.handleSuccess(ctx, frame); err != nil {
			return err
		}
		return e.drain(conn)

	case protocol.FrameError:
		return fmt.Errorf("server error: %s", frame.Msg)

	default:
		return fmt.Errorf("%w: unexpected %q from server", common.ErrUnknownFrame, frame.Type)
	}
}

// drain sends the oldest pending mutation unless one is already in flight.
func (e *Engine) drain(conn *websocket.Conn) error {
	if e.inFlight != nil {
		return nil
	}

	entry, ok := e.queue.Peek()
	if !ok {
		return nil
	}
	last := e.queue.Len() == 1

	var frame protocol.Frame
	switch entry.Kind {
	case pending.KindNew:
		payload, err := e.buildPayload(entry.ID)
		if err != nil {
			return err
		}
		frame = protocol.Data(entry.ID, payload, last, "")
		e.proposedID = entry.ID

	case pending.KindEdit:
		payload, err := e.buildPayload(entry.NewID)
		if err != nil {
			return err
		}
		frame = protocol.Data(entry.NewID, payload, last, entry.ID)
		e.proposedID = entry.NewID

	case pending.KindRemove:
		frame = protocol.Remove(entry.ID, last)
		e.proposedID = entry.ID

	default:
		return fmt.Errorf("unknown pending kind %q", entry.Kind)
	}

	if err := e.writeFrame(conn, frame); err != nil {
		return err
	}
	e.inFlight = &entry
	e.queue.MarkInFlight()
	return nil
}

func (e *Engine) handleSuccess(ctx context.Context, frame protocol.Frame) error {
	if e.inFlight == nil {
		e.logger.Warn(ctx, "stray success frame", "old", frame.Old, "new", frame.New)
		return nil
	}

	entry := *e.inFlight
	e.inFlight = nil

	if err := e.queue.Ack(entry.ID); err != nil {
		return err
	}

	// re-map the local id to the server-assigned one. Queued mutations that
	// still reference the proposed id (an edit raced the upload) follow it,
	// so their remove-old half hits the id the server stored.
	if entry.Kind != pending.KindRemove && frame.New != "" && frame.New != e.proposedID {
		if err := e.store.Rename(e.proposedID, frame.New); err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if err := e.queue.RemapID(e.proposedID, frame.New); err != nil {
			return err
		}
		e.logger.Info(ctx, "record re-mapped", "old", e.proposedID, "new", frame.New)
	}
	return nil
}

// buildPayload marshals a record for upload. Pin state is local-only and is
// stripped; the document is sealed when encryption is on.
func (e *Engine) buildPayload(id string) ([]byte, error) {
	rec, err := e.store.Read(id)
	if err != nil {
		return nil, fmt.Errorf("load %s for upload: %w", id, err)
	}
	rec.Pined = false

	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", id, err)
	}

	if e.opts.EncryptKey != nil {
		return cryptox.Encrypt(e.opts.EncryptKey, doc)
	}
	return doc, nil
}

// ingestZip extracts a server download into the store. A record that fails
// to decrypt or parse is skipped and flagged; the rest of the archive still
// lands.
func (e *Engine) ingestZip(ctx context.Context, data []byte) error {
	records, err := protocol.ReadZip(data)
	if err != nil {
		return err
	}

	for id, payload := range records {
		doc := payload
		if e.opts.EncryptKey != nil {
			doc, err = cryptox.Decrypt(e.opts.EncryptKey, payload)
			if err != nil {
				e.logger.Warn(ctx, "cannot decrypt record, skipping", "id", id, "error", err)
				continue
			}
		}

		var rec store.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			e.logger.Warn(ctx, "cannot parse record, skipping", "id", id, "error", err)
			continue
		}
		rec.Pined = false

		if err := e.store.Import(id, rec); err != nil {
			e.logger.Warn(ctx, "cannot import record, skipping", "id", id, "error", err)
			continue
		}
		e.logger.Info(ctx, "ingested record", "id", id, "typ", rec.Typ)
		if e.opts.OnChange != nil {
			e.opts.OnChange(id)
		}
	}
	return nil
}

// applyPrune removes records the server no longer has, except ids that are
// still queued for upload (the server simply has not seen those yet).
func (e *Engine) applyPrune(ctx context.Context, ids []string) {
	pending := e.queue.PendingIDs()
	for _, id := range ids {
		if _, ok := pending[id]; ok {
			continue
		}
		if err := e.store.Remove(id); err != nil && !errors.Is(err, common.ErrNotFound) {
			e.logger.Warn(ctx, "prune failed", "id", id, "error", err)
			continue
		}
		e.logger.Info(ctx, "pruned record", "id", id)
		if e.opts.OnChange != nil {
			e.opts.OnChange(id)
		}
	}
}

func (e *Engine) writeFrame(conn *websocket.Conn, frame protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}
