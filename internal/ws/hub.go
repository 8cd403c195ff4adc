// Package ws implements the operator channel: a websocket hub that fans
// telemetry and broker events out to browser clients and routes operator
// commands into the command router and the mission and spray orchestrators.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agrolink/internal/command"
	"agrolink/internal/mission"
	"agrolink/internal/registry"
	"agrolink/internal/spray"
	"agrolink/internal/util"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// sendQueueSize bounds each client's outbound queue. A slow client drops its
// oldest events instead of back-pressuring producers.
const sendQueueSize = 64

// Hub is the single broadcast point between the broker and operator clients.
type Hub struct {
	reg      *registry.Registry
	router   *command.Router
	missions *mission.Orchestrator
	sprayer  *spray.Orchestrator
	poll     time.Duration

	mu      sync.Mutex
	clients map[*client]bool

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewHub wires the hub over the broker components. poll is the telemetry
// fan-out period.
func NewHub(reg *registry.Registry, router *command.Router, missions *mission.Orchestrator, sprayer *spray.Orchestrator, poll time.Duration) *Hub {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Hub{
		reg:      reg,
		router:   router,
		missions: missions,
		sprayer:  sprayer,
		poll:     poll,
		clients:  map[*client]bool{},
		stop:     make(chan struct{}),
	}
}

// Start launches the periodic telemetry fan-out.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.telemetryLoop()
}

// Stop closes all client connections and halts the fan-out loop.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.clients = map[*client]bool{}
	h.mu.Unlock()
	h.wg.Wait()
}

// HandleWS upgrades an HTTP request and registers the client for broadcasts.
// The new client immediately receives the current drone list.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	util.Info("[ws] client connected from %s", conn.RemoteAddr())

	h.backfill(c)
	go c.writeLoop()
	go c.readLoop()
}

// Broadcast marshals {"type": typ, ...payload fields} and enqueues it to every
// client. payload must marshal to a JSON object or be nil.
func (h *Hub) Broadcast(typ string, payload any) {
	buf, err := envelope(typ, payload)
	if err != nil {
		util.Error("[ws] marshal %s: %v", typ, err)
		return
	}
	h.mu.Lock()
	for c := range h.clients {
		c.enqueue(buf)
	}
	h.mu.Unlock()
}

// BroadcastEvent publishes a value that already carries its own "type" field,
// such as mission and spray events.
func (h *Hub) BroadcastEvent(ev any) {
	buf, err := json.Marshal(ev)
	if err != nil {
		util.Error("[ws] marshal event: %v", err)
		return
	}
	h.mu.Lock()
	for c := range h.clients {
		c.enqueue(buf)
	}
	h.mu.Unlock()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// backfill sends the drone list plus per-vehicle connection state to a newly
// joined client.
func (h *Hub) backfill(c *client) {
	list := h.reg.List()
	if buf, err := envelope("drones_status", map[string]any{"drones": list}); err == nil {
		c.enqueue(buf)
	}
	for _, v := range list {
		typ := "drone_disconnected"
		if v.Connected {
			typ = "drone_connected"
		}
		if buf, err := envelope(typ, map[string]any{"drone_id": v.ID}); err == nil {
			c.enqueue(buf)
		}
	}
}

// telemetryLoop pushes per-vehicle snapshots at the configured period.
func (h *Hub) telemetryLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}
		h.mu.Lock()
		idle := len(h.clients) == 0
		h.mu.Unlock()
		if idle {
			continue
		}
		for _, v := range h.reg.List() {
			if !v.Connected || v.Telemetry == nil {
				continue
			}
			h.Broadcast("drone_telemetry_update", map[string]any{
				"drone_id":  v.ID,
				"telemetry": v.Telemetry,
			})
		}
	}
}

// envelope flattens payload into an object carrying a "type" discriminator.
func envelope(typ string, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// client is one operator connection with a bounded outbound queue.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	queue   [][]byte
	wake    chan struct{}
	closed  bool
	dropped int
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{hub: h, conn: conn, wake: make(chan struct{}, 1)}
}

// enqueue appends to the client's queue, evicting the oldest event when full.
func (c *client) enqueue(buf []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= sendQueueSize {
		c.queue = c.queue[1:]
		c.dropped++
	}
	c.queue = append(c.queue, buf)
	// Wake under the lock so close() cannot race the send.
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.mu.Unlock()
}

func (c *client) writeLoop() {
	for range c.wake {
		for {
			c.mu.Lock()
			if c.closed || len(c.queue) == 0 {
				closed := c.closed
				c.mu.Unlock()
				if closed {
					return
				}
				break
			}
			buf := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.hub.drop(c)
				return
			}
		}
	}
}

func (c *client) readLoop() {
	defer c.hub.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.dispatch(c, raw)
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.wake)
	if err := c.conn.Close(); err != nil {
		util.Debugf("[ws] close client: %v", err)
	}
}
