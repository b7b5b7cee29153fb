// Package ipc is the local control channel between the agent and GUI
// front-ends. It speaks line-delimited JSON over a unix socket that doubles
// as the single-instance lock: a second agent finding the socket alive hands
// its foreground request to the running one and exits.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/clipsync/internal/client/config"
	"github.com/dmitrijs2005/clipsync/internal/client/store"
	"github.com/dmitrijs2005/clipsync/internal/logging"
)

// ErrAlreadyRunning reports that another agent owns the socket.
var ErrAlreadyRunning = errors.New("agent already running")

type MsgType string

const (
	MsgOpenGUI        MsgType = "open_gui"
	MsgPaste          MsgType = "paste"
	MsgNew            MsgType = "new"
	MsgEdit           MsgType = "edit"
	MsgUpdateSettings MsgType = "update_settings"
	MsgRemove         MsgType = "remove"
	MsgUpdated        MsgType = "updated"
)

// Message is the envelope for every socket exchange. Unused fields are
// omitted per message type.
type Message struct {
	Type     MsgType          `json:"type"`
	ID       string           `json:"id,omitempty"`
	Record   *store.Record    `json:"record,omitempty"`
	Settings *config.Settings `json:"settings,omitempty"`
}

// Handler reacts to messages arriving on the socket.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Listener owns the socket, dispatches inbound messages to the handler and
// pushes change notifications to connected front-ends.
type Listener struct {
	path    string
	handler Handler
	logger  logging.Logger

	ln    net.Listener
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Listen claims the socket. If another agent already holds it, the given
// handoff message is delivered there and ErrAlreadyRunning is returned.
func Listen(path string, handler Handler, logger logging.Logger, handoff *Message) (*Listener, error) {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		if handoff != nil {
			_ = writeMessage(conn, *handoff)
		}
		conn.Close()
		return nil, ErrAlreadyRunning
	}

	// Either no agent ever ran here or the previous one died without
	// cleanup. Remove the stale socket and take over.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	return &Listener{
		path:    path,
		handler: handler,
		logger:  logger,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	defer os.Remove(l.path)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			l.logger.Warn(ctx, "bad ipc message", "error", err)
			continue
		}
		if err := l.handler.HandleMessage(ctx, msg); err != nil {
			l.logger.Warn(ctx, "ipc handler error", "type", string(msg.Type), "error", err)
		}
	}
}

// Broadcast sends a message to every connected front-end. Failed writes
// are ignored; the connection cleanup happens on its own read loop.
func (l *Listener) Broadcast(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.conns {
		_ = writeMessage(conn, msg)
	}
}

func writeMessage(conn net.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}
