package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/motorbid/auction-engine/internal/engine"
	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/types"
)

// Authenticator resolves a websocket upgrade request to a known user.
type Authenticator interface {
	Authenticate(r *http.Request) (types.User, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const defaultSendBuffer = 16

// Options tunes per-connection behavior; zero values fall back to defaults.
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	MaxMessageSize int64
}

// AuctionHandler is the realtime broadcaster: it owns the live connections
// and the per-auction topic subscriptions, and implements engine.Broadcaster
// for committed engine events.
type AuctionHandler struct {
	db     store.Store
	bidder *engine.Bidder
	auth   Authenticator
	opts   Options

	mu      sync.Mutex
	clients map[*Client]bool
	topics  map[string]map[*Client]bool // auction id -> subscribed connections
}

func NewAuctionHandler(db store.Store, auth Authenticator, opts Options) *AuctionHandler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &AuctionHandler{
		db:      db,
		auth:    auth,
		opts:    opts,
		clients: make(map[*Client]bool),
		topics:  make(map[string]map[*Client]bool),
	}
}

// SetBidder wires the admission service. Set after construction because the
// bidder broadcasts through this handler.
func (h *AuctionHandler) SetBidder(bidder *engine.Bidder) {
	h.bidder = bidder
}

// HandleAuctionWebSocket authenticates the request and upgrades it.
func (h *AuctionHandler) HandleAuctionWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		log.Error("Invalid session on websocket upgrade", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.serveClient(w, r, user)
}

// serveClient upgrades the HTTP request to a WebSocket connection.
func (h *AuctionHandler) serveClient(w http.ResponseWriter, r *http.Request, user types.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		Conn:           conn,
		Send:           make(chan []byte, h.opts.SendBuffer),
		RateLimiter:    rate.NewLimiter(1, 3),
		PingInterval:   h.opts.PingInterval,
		MaxMessageSize: h.opts.MaxMessageSize,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.ReadMessages(h.HandleMessage, h.dropClient)
	go client.WriteMessages()
}

// dropClient removes a connection from every topic and the client set.
// Disconnection is an implicit leave from all auctions.
func (h *AuctionHandler) dropClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	for auctionID, subscribers := range h.topics {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, auctionID)
		}
	}
	h.mu.Unlock()

	client.Disconnect()
}

// Join subscribes the connection to an auction's topic.
func (h *AuctionHandler) Join(client *Client, auctionID string) {
	h.mu.Lock()
	subscribers, ok := h.topics[auctionID]
	if !ok {
		subscribers = make(map[*Client]bool)
		h.topics[auctionID] = subscribers
	}
	subscribers[client] = true
	h.mu.Unlock()
	log.Debugf("Client %s joined auction %s", client.ID, auctionID)
}

// Leave unsubscribes the connection from an auction's topic.
func (h *AuctionHandler) Leave(client *Client, auctionID string) {
	h.mu.Lock()
	if subscribers, ok := h.topics[auctionID]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, auctionID)
		}
	}
	h.mu.Unlock()
	log.Debugf("Client %s left auction %s", client.ID, auctionID)
}

func (h *AuctionHandler) subscribed(client *Client, auctionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topics[auctionID][client]
}

// Subscribers reports how many connections watch an auction live.
func (h *AuctionHandler) Subscribers(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[auctionID])
}

// publish delivers a message to every subscriber of the auction's topic.
// Delivery is best-effort: a subscriber whose buffer is full is dropped so
// it can never stall the others. Callers of the same auction are serialized
// upstream, so each connection observes events in commit order.
func (h *AuctionHandler) publish(auctionID string, message []byte) {
	h.mu.Lock()
	var stale []*Client
	for client := range h.topics[auctionID] {
		if !client.TrySend(message) {
			stale = append(stale, client)
		}
	}
	for _, client := range stale {
		delete(h.clients, client)
		for id, subscribers := range h.topics {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.topics, id)
			}
		}
	}
	h.mu.Unlock()

	for _, client := range stale {
		log.Warnf("Dropping slow client %s", client.ID)
		client.Disconnect()
	}
}

// PublishBidAccepted implements engine.Broadcaster.
func (h *AuctionHandler) PublishBidAccepted(event types.BidAcceptedEvent) {
	message, err := marshalMessage("bid_accepted", event)
	if err != nil {
		log.Error("Error marshalling bid event", "error", err)
		return
	}
	h.publish(event.AuctionID, message)
}

// PublishStatusChanged implements engine.Broadcaster.
func (h *AuctionHandler) PublishStatusChanged(event types.StatusChangedEvent) {
	message, err := marshalMessage("status_changed", event)
	if err != nil {
		log.Error("Error marshalling status event", "error", err)
		return
	}
	h.publish(event.AuctionID, message)
}

func marshalMessage(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: msgType, Data: data})
}

var _ engine.Broadcaster = (*AuctionHandler)(nil)
