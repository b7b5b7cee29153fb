// Package hub is the server half of the replication protocol. Authenticated
// sessions hand their WebSocket here; the hub multiplexes uploads,
// reconciliation and outdated fan-out per user.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
	"github.com/dmitrijs2005/clipsync/internal/server/storage"
)

const pongTimeout = 300 * time.Second

type Hub struct {
	store  *storage.Store
	rooms  *RoomManager
	logger logging.Logger
}

func New(store *storage.Store, logger logging.Logger) *Hub {
	return &Hub{
		store:  store,
		rooms:  NewRoomManager(),
		logger: logger.With("module", "hub"),
	}
}

// Rooms exposes the registry for inspection (health, tests).
func (h *Hub) Rooms() *RoomManager { return h.rooms }

type inboundMsg struct {
	messageType int
	data        []byte
	err         error
}

// Serve runs one session until the socket errors, the client closes, the
// pong deadline passes or ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, user string, conn *websocket.Conn) {
	logger := h.logger.With("user", user)

	sess := h.rooms.Join(user)
	sessionsGauge.Inc()
	defer func() {
		h.rooms.Leave(user, sess.slot)
		sessionsGauge.Dec()
		conn.Close()
		logger.Info(ctx, "session closed", "slot", sess.slot)
	}()

	logger.Info(ctx, "session open", "slot", sess.slot)

	conn.SetReadLimit(protocol.MaxFrameSize)
	deadline := func() time.Time { return time.Now().Add(pongTimeout) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(deadline())
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

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

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return

		case <-sess.outdated:
			if err := h.writeFrame(conn, protocol.Outdated()); err != nil {
				logger.Warn(ctx, "notify failed", "error", err)
				return
			}

		case msg := <-inbound:
			if msg.err != nil {
				logger.Debug(ctx, "socket read ended", "error", msg.err)
				return
			}
			if err := h.handleFrame(ctx, logger, user, sess, conn, msg.data); err != nil {
				logger.Warn(ctx, "closing session", "error", err)
				return
			}
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, logger logging.Logger, user string, sess *session, conn *websocket.Conn, data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		_ = h.writeFrame(conn, protocol.Errorf("bad frame"))
		return err
	}
	framesTotal.WithLabelValues(string(frame.Type)).Inc()

	switch frame.Type {
	case protocol.FrameCheckVersion:
		if h.store.Newest(user) == frame.ID {
			return h.writeFrame(conn, protocol.Updated())
		}
		return h.writeFrame(conn, protocol.Outdated())

	case protocol.FrameCheckVersionArr:
		return h.reconcile(user, conn, frame.IDs)

	case protocol.FrameData:
		return h.handleData(ctx, logger, user, sess, conn, frame)

	case protocol.FrameRemove:
		if err := h.store.Delete(user, frame.ID); err != nil {
			return err
		}
		if err := h.writeFrame(conn, protocol.Success(frame.ID, "")); err != nil {
			return err
		}
		if frame.Last {
			h.broadcast(ctx, logger, user, sess.slot)
		}
		return nil

	default:
		_ = h.writeFrame(conn, protocol.Errorf("unexpected frame %q", frame.Type))
		return fmt.Errorf("unexpected client frame %q", frame.Type)
	}
}

// reconcile answers a full id-set comparison: prune for ids the server no
// longer holds, a zip for records the client is missing, or updated when
// the sets already match.
func (h *Hub) reconcile(user string, conn *websocket.Conn, clientIDs []string) error {
	missing, extra := h.store.Diff(user, clientIDs)

	if len(extra) > 0 {
		if err := h.writeFrame(conn, protocol.Prune(extra)); err != nil {
			return err
		}
	}

	if len(missing) == 0 {
		return h.writeFrame(conn, protocol.Updated())
	}

	blob, err := h.store.Zip(user, missing)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, blob); err != nil {
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}

func (h *Hub) handleData(ctx context.Context, logger logging.Logger, user string, sess *session, conn *websocket.Conn, frame protocol.Frame) error {
	newID, err := h.store.Put(user, frame.ID, frame.Payload)
	if err != nil {
		_ = h.writeFrame(conn, protocol.Errorf("store: %v", err))
		return err
	}

	// the superseded record must be gone before anyone is told to re-fetch
	if frame.IsEditOf != "" {
		if err := h.store.Delete(user, frame.IsEditOf); err != nil {
			return err
		}
	}

	if err := h.writeFrame(conn, protocol.Success(frame.ID, newID)); err != nil {
		return err
	}

	logger.Info(ctx, "record stored", "id", newID, "edit_of", frame.IsEditOf, "bytes", len(frame.Payload))

	if frame.Last {
		h.broadcast(ctx, logger, user, sess.slot)
	}
	return nil
}

func (h *Hub) broadcast(ctx context.Context, logger logging.Logger, user string, exceptSlot int) {
	n := h.rooms.Broadcast(user, exceptSlot)
	if n > 0 {
		broadcastsTotal.Add(float64(n))
		logger.Debug(ctx, "broadcast outdated", "sessions", n)
	}
}

func (h *Hub) writeFrame(conn *websocket.Conn, frame protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}
