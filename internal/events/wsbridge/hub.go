// Package wsbridge relays published domain events to external
// websocket clients, subscribed per trading pair, the same way the
// teacher's pairs websocket handler relays per-pair statistics.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outboundMessage struct {
	Topic   string          `json:"topic"`
	Pair    string          `json:"pair,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans out subscribed events to connected websocket clients.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]map[string]bool // conn -> subscribed pair (or "*")
}

// New builds a Hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*websocket.Conn]map[string]bool)}
}

// ServeHTTP upgrades the connection and registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("wsbridge: upgrade failed", zap.Error(err))
		return
	}
	h.register(conn)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = make(map[string]bool)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg struct {
			Action string   `json:"action"`
			Pairs  []string `json:"pairs"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("wsbridge: read error", zap.Error(err))
			}
			return
		}

		h.mu.Lock()
		subs := h.clients[conn]
		switch msg.Action {
		case "subscribe":
			if len(msg.Pairs) == 0 {
				subs["*"] = true
			}
			for _, p := range msg.Pairs {
				subs[p] = true
			}
		case "unsubscribe":
			for _, p := range msg.Pairs {
				delete(subs, p)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) broadcast(topic events.Topic, pair string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("wsbridge: marshal failed", zap.Error(err))
		return
	}
	out := outboundMessage{Topic: string(topic), Pair: pair, Payload: raw}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, subs := range h.clients {
		if !subs["*"] && pair != "" && !subs[pair] {
			continue
		}
		if err := conn.WriteJSON(out); err != nil {
			h.logger.Warn("wsbridge: write failed", zap.Error(err))
		}
	}
}

// Subscribe attaches the hub to a watermill subscriber carrying the
// topics events.Publisher publishes, relaying each message to the
// clients subscribed to its pair.
func (h *Hub) Subscribe(ctx context.Context, sub message.Subscriber, topics []events.Topic) error {
	for _, topic := range topics {
		msgs, err := sub.Subscribe(ctx, string(topic))
		if err != nil {
			return err
		}
		go h.consume(ctx, topic, msgs)
	}
	return nil
}

func (h *Hub) consume(ctx context.Context, topic events.Topic, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var envelope map[string]interface{}
			if err := json.Unmarshal(m.Payload, &envelope); err != nil {
				m.Ack()
				continue
			}
			pair, _ := envelope["pair"].(string)
			h.broadcast(topic, pair, envelope)
			m.Ack()
		}
	}
}
