package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// WSMessage is one command frame sent by a client.
type WSMessage struct {
	Action    string `json:"action"`
	Code      string `json:"code,omitempty"`
	Name      string `json:"name,omitempty"`
	LobbyName string `json:"lobby_name,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
	Target    string `json:"target,omitempty"`
	Text      string `json:"text,omitempty"`
	Private   bool   `json:"private,omitempty"`
}

// Client represents a websocket connection. identity is minted on connect and
// is the player's ID for as long as the connection lives.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity string
	code     string // room the client is subscribed to, guarded by hub.mu
	send     chan []byte
}

// Hub tracks connections and the session room each one belongs to. It
// implements Notifier: deliveries are queued per client and never block.
type Hub struct {
	clients    map[string]*Client            // identity -> client
	rooms      map[string]map[string]*Client // code -> identity -> client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	onMessage    func(c *Client, message []byte)
	onDisconnect func(identity string)
	upgrader     websocket.Upgrader
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// start launches the hub goroutine
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop ends run and waits for it to return.
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.identity] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (%s). Total: %d", client.identity, total)
			h.SendTo("", client.identity, Event{Kind: EventConnected, Identity: client.identity})

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.identity]
			if ok && current == client {
				delete(h.clients, client.identity)
				h.leaveRoomLocked(client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()

			if ok && current == client {
				log.Printf("WebSocket client disconnected (%s). Total: %d", client.identity, total)
				// called without h.mu: the engine broadcasts the departure
				if h.onDisconnect != nil {
					h.onDisconnect(client.identity)
				}
			}
		}
	}
}

// Broadcast sends ev to every client subscribed to code. A roster update
// also re-syncs the room so it always matches the session's roster.
func (h *Hub) Broadcast(code string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logError("Hub.Broadcast: marshal", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Kind == EventRosterUpdated {
		h.syncRoomLocked(code, ev.Roster)
	}
	for _, client := range h.rooms[code] {
		LogWSMessage("OUT", client.identity, string(data))
		client.enqueue(data)
	}
}

// SendTo sends ev to one connection.
func (h *Hub) SendTo(code, identity string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logError("Hub.SendTo: marshal", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[identity]
	if !ok {
		DebugLog("Hub.SendTo", "No connection for %s (session %s), dropping %s", identity, code, ev.Kind)
		return
	}
	LogWSMessage("OUT", identity, string(data))
	client.enqueue(data)
}

// leaveRoom unsubscribes identity from its current room.
func (h *Hub) leaveRoom(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[identity]; ok {
		h.leaveRoomLocked(client)
	}
}

func (h *Hub) syncRoomLocked(code string, roster []PlayerView) {
	seated := make(map[string]bool, len(roster))
	for _, p := range roster {
		seated[p.ID] = true
		client, ok := h.clients[p.ID]
		if !ok || client.code == code {
			continue
		}
		h.leaveRoomLocked(client)
		if h.rooms[code] == nil {
			h.rooms[code] = make(map[string]*Client)
		}
		h.rooms[code][p.ID] = client
		client.code = code
	}
	for id, client := range h.rooms[code] {
		if !seated[id] {
			h.leaveRoomLocked(client)
		}
	}
}

func (h *Hub) leaveRoomLocked(client *Client) {
	if client.code == "" {
		return
	}
	room := h.rooms[client.code]
	delete(room, client.identity)
	if len(room) == 0 {
		delete(h.rooms, client.code)
	}
	client.code = ""
}

// enqueue hands data to the writer. Called with hub.mu held, so send is
// never closed underneath it. A full buffer drops the message.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("WebSocket send buffer full for %s, dropping message", c.identity)
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error for %s: %v", c.identity, err)
			}
			return
		}
		LogWSMessage("IN", c.identity, string(message))
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, message)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error to %s: %v", c.identity, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error from %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		identity: uuid.NewString(),
		send:     make(chan []byte, sendBuffer),
	}
	DebugLog("handleWebSocket", "Connection from %s is %s", r.RemoteAddr, client.identity)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
