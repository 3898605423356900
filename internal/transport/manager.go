// Package transport is the WebSocket channel between clients and the
// chat orchestrator: connection lifecycle, heartbeat, bearer
// authentication, and event delivery.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/meridian/voter-gateway/internal/orchestrator"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 40 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Authenticator validates bearer tokens at connection time.
type Authenticator interface {
	Verify(token string) (userID, email string, err error)
}

// TurnHandler is the orchestrator surface the transport drives.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sid, userID, sessionID, modelID, userText string) error
	Recover(ctx context.Context, sid, userID, sessionID string)
	UpdateModel(ctx context.Context, sid, userID, sessionID, modelID string) error
	Disconnected(sid string)
}

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id,omitempty"`
	ModelID       string `json:"model_id,omitempty"`
	Message       string `json:"message,omitempty"`
	LastMessageID string `json:"last_message_id,omitempty"`
}

// Connection is one WebSocket client with its auth state.
type Connection struct {
	ID            string
	conn          *websocket.Conn
	ctx           context.Context
	cancel        context.CancelFunc
	authenticated bool
	userID        string
	userEmail     string
}

// Manager owns the connection set. It implements orchestrator.Emitter so
// the orchestrator can push events by connection id without knowing
// about WebSockets.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	handler TurnHandler
	auth    Authenticator

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewManager wires a manager; zero durations select the defaults.
func NewManager(handler TurnHandler, auth Authenticator, pingInterval, pongTimeout time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		handler:      handler,
		auth:         auth,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// Emit delivers one event to a connection. False means the connection is
// gone and the caller should stop emitting.
func (m *Manager) Emit(sid string, ev orchestrator.Event) bool {
	m.mu.RLock()
	c, ok := m.connections[sid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("marshaling event failed", "connection_id", sid, "error", err.Error())
		return true
	}
	if err := m.sendRaw(c, data); err != nil {
		return false
	}
	return true
}

// ActiveConnections reports how many clients are attached.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection runs one connection's lifecycle; it blocks until the
// socket closes. token may be empty: unauthenticated clients can
// connect and recover but may not send messages.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, token string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.NewString(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	if token != "" && m.auth != nil {
		userID, email, err := m.auth.Verify(token)
		if err == nil {
			c.authenticated = true
			c.userID = userID
			c.userEmail = email
		} else {
			logger.Warn("token rejected", "connection_id", c.ID)
		}
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	defer m.unregister(c)

	m.sendEvent(c, orchestrator.Event{Type: "connection_established"})
	go m.heartbeat(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid client message", "connection_id", c.ID, "error", err.Error())
			continue
		}
		m.handleMessage(ctx, c, &msg)
	}
}

func (m *Manager) handleMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case "send_message":
		if !c.authenticated {
			m.sendEvent(c, orchestrator.Event{Type: orchestrator.EventError, Error: "authentication required"})
			return
		}
		// The turn streams asynchronously; the read loop stays free for
		// recover/typing messages in the meantime. The turn context is
		// detached from the connection: generation must survive a drop so
		// the buffered tail is there to recover.
		turnCtx := context.WithoutCancel(ctx)
		go func() {
			_ = m.handler.HandleTurn(turnCtx, c.ID, c.userID, msg.SessionID, msg.ModelID, msg.Message)
		}()

	case "recover_message":
		m.handler.Recover(ctx, c.ID, c.userID, msg.SessionID)

	case "update_session_model":
		if !c.authenticated {
			m.sendEvent(c, orchestrator.Event{Type: orchestrator.EventError, Error: "authentication required"})
			return
		}
		_ = m.handler.UpdateModel(ctx, c.ID, c.userID, msg.SessionID, msg.ModelID)

	case "typing_start", "typing_stop":
		m.sendEvent(c, orchestrator.Event{Type: "ack"})

	default:
		m.sendEvent(c, orchestrator.Event{Type: orchestrator.EventError, Error: "unknown message type"})
	}
}

// heartbeat pings on an interval well under intermediary idle timeouts;
// a missed pong within the timeout tears the connection down.
func (m *Manager) heartbeat(c *Connection) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, m.pongTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Info("heartbeat lost", "connection_id", c.ID)
				c.cancel()
				return
			}
		}
	}
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	m.handler.Disconnected(c.ID)
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendEvent(c *Connection, ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		logger.Warn("send failed", "connection_id", c.ID, "error", err.Error())
	}
}

func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
