// Package agentlink lets fleet hosts behind NAT receive remediation work.
// Agents dial in over websocket and hold the connection open; the
// orchestrator pushes command batches down the link and waits for results.
package agentlink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinkerbelle-io/fleetmend/internal/executor"
)

// HostHeader carries the agent's host id on the websocket handshake.
const HostHeader = "X-Fleetmend-Host"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// execRequest is pushed orchestrator -> agent.
type execRequest struct {
	Type           string   `json:"type"`
	ID             string   `json:"id"`
	Commands       []string `json:"commands"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// execResponse comes back agent -> orchestrator.
type execResponse struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result executor.Result `json:"result"`
}

// agentConn is one connected agent. Writes are serialized through writeMu;
// the read pump routes responses to the pending channel for their request id.
type agentConn struct {
	hostID  string
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan execResponse
	closed  bool
}

func (c *agentConn) send(req execRequest) (chan execResponse, error) {
	ch := make(chan execResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("agent %s disconnected", c.hostID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(req.ID)
		return nil, fmt.Errorf("write to agent %s: %w", c.hostID, err)
	}
	return ch, nil
}

func (c *agentConn) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *agentConn) dispatch(resp execResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// close marks the connection dead and unblocks every in-flight request.
func (c *agentConn) close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[string]chan execResponse{}
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- execResponse{ID: id, Result: executor.Result{
			OK: false, Error: "agent disconnected mid-run",
		}}
	}
	c.ws.Close()
}

// Hub tracks connected agents by host id. A reconnecting agent replaces its
// previous connection.
type Hub struct {
	mu       sync.Mutex
	agents   map[string]*agentConn
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		agents: map[string]*agentConn{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: slog.Default().With("component", "agentlink"),
	}
}

// HandleAgent upgrades an agent's handshake and pumps its messages until the
// link drops. Mount it on the serve mux at the agent endpoint.
func (h *Hub) HandleAgent(w http.ResponseWriter, r *http.Request) {
	hostID := r.Header.Get(HostHeader)
	if hostID == "" {
		hostID = r.URL.Query().Get("host")
	}
	if hostID == "" {
		http.Error(w, "missing host id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("agent upgrade failed", "host", hostID, "error", err)
		return
	}

	conn := &agentConn{
		hostID:  hostID,
		ws:      ws,
		pending: map[string]chan execResponse{},
	}
	h.register(conn)
	h.log.Info("agent connected", "host", hostID, "remote", r.RemoteAddr)

	go h.pingLoop(conn)
	h.readLoop(conn)

	h.unregister(conn)
	conn.close()
	h.log.Info("agent disconnected", "host", hostID)
}

func (h *Hub) register(conn *agentConn) {
	h.mu.Lock()
	if old, ok := h.agents[conn.hostID]; ok {
		old.close()
	}
	h.agents[conn.hostID] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(conn *agentConn) {
	h.mu.Lock()
	if h.agents[conn.hostID] == conn {
		delete(h.agents, conn.hostID)
	}
	h.mu.Unlock()
}

func (h *Hub) get(hostID string) *agentConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agents[hostID]
}

// Connected returns the host ids with a live agent link.
func (h *Hub) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.agents))
	for id := range h.agents {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) readLoop(conn *agentConn) {
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		var resp execResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			h.log.Warn("bad agent message", "host", conn.hostID, "error", err)
			continue
		}
		conn.dispatch(resp)
	}
}

func (h *Hub) pingLoop(conn *agentConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		conn.writeMu.Lock()
		conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.ws.WriteMessage(websocket.PingMessage, nil)
		conn.writeMu.Unlock()
		if err != nil {
			return
		}
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			return
		}
	}
}
