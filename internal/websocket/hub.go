package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/game-storage/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeBestScore         = "best_score"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string        `json:"type"`
	Period    domain.Period `json:"period,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// LeaderboardUpdate carries a period's current top list
type LeaderboardUpdate struct {
	Period  domain.Period        `json:"period"`
	Entries []domain.RankedEntry `json:"entries"`
}

// BestScore announces that a user raised their best score in a period
type BestScore struct {
	UserID string        `json:"user_id"`
	Period domain.Period `json:"period"`
	Score  int           `json:"score"`
}

type subscriptionRequest struct {
	client *Client
	period domain.Period
}

// Hub maintains the set of active clients and broadcasts leaderboard changes
type Hub struct {
	// Subscribed clients by period
	clients map[domain.Period]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	// Closed when Run returns so late callers do not block
	done chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[domain.Period]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run processes hub events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for period, clients := range h.clients {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.clients, period)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.period]; !ok {
				h.clients[req.period] = make(map[*Client]bool)
			}
			h.clients[req.period][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "period", req.period)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.period]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.period)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "period", req.period)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver sends a message to the clients subscribed to its period
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Period] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastLeaderboard sends a period's top list to its subscribers
func (h *Hub) BroadcastLeaderboard(period domain.Period, entries []domain.RankedEntry) {
	h.enqueue(&Message{
		Type:      MessageTypeLeaderboardUpdate,
		Period:    period,
		Data:      LeaderboardUpdate{Period: period, Entries: entries},
		Timestamp: time.Now(),
	})
}

// BroadcastBestScore announces a user's new best score to the period's subscribers
func (h *Hub) BroadcastBestScore(period domain.Period, userID string, score int) {
	h.enqueue(&Message{
		Type:      MessageTypeBestScore,
		Period:    period,
		Data:      BestScore{UserID: userID, Period: period, Score: score},
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a period's updates
func (h *Hub) Subscribe(client *Client, period domain.Period) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, period: period}:
	case <-h.done:
	}
}

// Unsubscribe removes a client from a period's updates
func (h *Hub) Unsubscribe(client *Client, period domain.Period) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, period: period}:
	case <-h.done:
	}
}

// SubscriberCount returns the number of subscribers of a period
func (h *Hub) SubscriberCount(period domain.Period) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[period])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
