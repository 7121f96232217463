package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aviv90/tasker-server-sub010/internal/bus"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsQueueSize    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Bearer auth already ran; browser origins are not a trust boundary
	// for a token-authenticated API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvent is the wire form of one task lifecycle event.
type streamEvent struct {
	Topic     string    `json:"topic"`
	TaskID    string    `json:"taskId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Text      string    `json:"text,omitempty"`
	MediaPath string    `json:"mediaPath,omitempty"` // store-relative
	MediaURL  string    `json:"mediaUrl,omitempty"`  // fetchable API path
	MIME      string    `json:"mime,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Err       string    `json:"error,omitempty"`
	Final     bool      `json:"final,omitempty"`
	At        time.Time `json:"at"`
}

// eventHub fans task lifecycle events out to websocket subscribers.
// Every event goes to every client; filtering happens client-side on
// requestId or taskId.
type eventHub struct {
	store *media.MediaStore

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	subs    []bus.SubscriptionID
}

type wsClient struct {
	conn *websocket.Conn
	send chan streamEvent
}

func newEventHub(store *media.MediaStore) *eventHub {
	return &eventHub{
		store:   store,
		clients: make(map[*wsClient]struct{}),
	}
}

// start subscribes the hub to the task lifecycle topics. The accepted
// topic is included; the stream is the one surface that sees the whole
// lifecycle.
func (h *eventHub) start() {
	topics := []string{
		notify.TopicAccepted,
		notify.TopicProgress,
		notify.TopicCompleted,
		notify.TopicFailed,
	}
	for _, topic := range topics {
		topic := topic
		id := bus.SubscribeEvent(topic, func(ev bus.Event) {
			out, ok := ev.Data.(types.Outbound)
			if !ok {
				return
			}
			h.broadcast(topic, out)
		})
		h.subs = append(h.subs, id)
	}
}

func (h *eventHub) stop() {
	for _, id := range h.subs {
		bus.UnsubscribeEvent(id)
	}
	h.subs = nil

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

func (h *eventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	L_debug("httpapi: event stream client connected", "clients", n)
}

func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(c.send)
		c.conn.Close()
		L_debug("httpapi: event stream client disconnected", "clients", n)
	}
}

// broadcast queues an event on every client, dropping it for clients
// whose queue is full rather than blocking the bus.
func (h *eventHub) broadcast(topic string, out types.Outbound) {
	ev := streamEvent{
		Topic:     topic,
		TaskID:    out.TaskID,
		Channel:   out.Delivery.Channel,
		RequestID: out.Delivery.RequestID,
		Text:      out.Text,
		MIME:      out.MIME,
		Caption:   out.Caption,
		Err:       out.Err,
		Final:     out.Final,
		At:        time.Now(),
	}
	if out.MediaPath != "" {
		if rel := h.store.RelativePath(out.MediaPath); rel != "" {
			ev.MediaPath = rel
			ev.MediaURL = "/api/media/" + rel
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			L_warn("httpapi: slow event stream client, dropping event", "topic", topic)
		}
	}
}

// handleEvents upgrades the connection and streams task events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("httpapi: websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan streamEvent, wsQueueSize),
	}
	s.hub.add(c)

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client frames and notices the close.
func (s *Server) readPump(c *wsClient) {
	defer s.hub.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends queued events and keeps the connection alive.
func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.hub.remove(c)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
