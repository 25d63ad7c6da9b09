package network

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/node"
	"github.com/helix-labs/helix/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Per-connection outbound queue. A consumer that falls this far
	// behind starts missing headers rather than backing up the feed.
	sendQueueSize = 64
)

// BlockHeader is the frame streamed to feed subscribers each time a
// block commits.
type BlockHeader struct {
	Height      int64  `json:"height"`
	Hash        string `json:"hash"`
	PrevHash    string `json:"prevHash"`
	Timestamp   int64  `json:"timestamp"`
	Proposer    string `json:"proposer"`
	TxCount     int    `json:"txCount"`
	IntentCount int    `json:"intentCount"`
}

func headerOf(b *types.Block) BlockHeader {
	return BlockHeader{
		Height:      b.Height,
		Hash:        b.Hash.String(),
		PrevHash:    b.PrevHash.String(),
		Timestamp:   b.Timestamp,
		Proposer:    b.Proposer,
		TxCount:     len(b.Transactions),
		IntentCount: len(b.Intents),
	}
}

type wsConnection struct {
	ws   *websocket.Conn
	send chan []byte
}

// WebSocketManager streams committed block headers to websocket
// clients. It subscribes to the node's propagation fanout once and
// re-broadcasts to every open connection.
type WebSocketManager struct {
	node     *node.Node
	upgrader websocket.Upgrader
	subID    string

	mu          sync.RWMutex
	connections map[string]*wsConnection
}

func NewWebSocketManager(n *node.Node) *WebSocketManager {
	return &WebSocketManager{
		node: n,
		upgrader: websocket.Upgrader{
			// The feed is read-only public data.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[string]*wsConnection),
	}
}

// Start registers the manager on the node's propagation fanout.
func (m *WebSocketManager) Start() {
	m.subID = "ws-feed-" + uuid.NewString()
	m.node.Propagation().Subscribe(m.subID, m.onEvent)
}

// Stop detaches from the fanout and closes every open connection.
func (m *WebSocketManager) Stop() {
	if m.subID != "" {
		m.node.Propagation().Unsubscribe(m.subID)
	}

	m.mu.Lock()
	for id, conn := range m.connections {
		close(conn.send)
		delete(m.connections, id)
	}
	m.mu.Unlock()
}

// onEvent runs on a propagation worker and must not block.
func (m *WebSocketManager) onEvent(ev node.Event) {
	if ev.Block == nil {
		return
	}

	frame, err := json.Marshal(headerOf(ev.Block))
	if err != nil {
		log.WithError(err).Error("failed to encode block header frame")
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, conn := range m.connections {
		select {
		case conn.send <- frame:
		default:
			log.WithField("conn", id).Debug("feed consumer behind, header skipped")
		}
	}
}

// WebSocketBlockHandler upgrades the request and starts streaming. The
// current tip is sent immediately so a client knows where the feed
// picks up.
func (m *WebSocketManager) WebSocketBlockHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("failed to upgrade to WebSocket")
		return
	}

	conn := &wsConnection{
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
	}

	if tip, err := m.node.Chain().GetBlock(m.node.Chain().Height()); err == nil {
		if frame, err := json.Marshal(headerOf(tip)); err == nil {
			conn.send <- frame
		}
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.connections[id] = conn
	m.mu.Unlock()

	log.WithField("conn", id).Debug("block feed client connected")

	go m.writePump(id, conn)
	go m.readPump(id, conn)
}

func (m *WebSocketManager) writePump(id string, conn *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
		m.drop(id)
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *WebSocketManager) readPump(id string, conn *wsConnection) {
	defer func() {
		m.drop(id)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithField("conn", id).WithError(err).Debug("block feed client error")
			}
			break
		}
	}
}

func (m *WebSocketManager) drop(id string) {
	m.mu.Lock()
	delete(m.connections, id)
	m.mu.Unlock()
}
