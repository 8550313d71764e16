package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces the per-league Redis channels.
const ChannelPrefix = "league-chat:"

// Hub fans league messages out to the sockets connected to this instance.
// Every instance subscribes to all league channels, so a message published
// by one instance reaches subscribers on all of them.
type Hub struct {
	leagues    map[string]map[*Client]bool
	broadcast  chan BroadcastMessage // From Redis -> Clients
	Register   chan *Client          // New client joins
	Unregister chan *Client          // Client leaves
	redis      *redis.Client
	done       chan struct{}
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		leagues:    make(map[string]map[*Client]bool),
		broadcast:  make(chan BroadcastMessage),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		redis:      redisClient,
		done:       make(chan struct{}),
	}
}

// Run is the only goroutine touching h.leagues.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			clients := h.leagues[client.LeagueID]
			if clients == nil {
				clients = make(map[*Client]bool)
				h.leagues[client.LeagueID] = clients
			}
			clients[client] = true
			slog.Debug("Client subscribed", "league_id", client.LeagueID, "user_id", client.UserID, "clients", len(clients))

		case client := <-h.Unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			for client := range h.leagues[msg.LeagueID] {
				select {
				case client.Send <- msg.Payload:
				default:
					// Slow consumer; it reloads history when it reconnects.
					slog.Warn("Dropping slow client", "league_id", client.LeagueID, "user_id", client.UserID)
					h.remove(client)
				}
			}

		case <-ctx.Done():
			for _, clients := range h.leagues {
				for client := range clients {
					close(client.Send)
				}
			}
			h.leagues = make(map[string]map[*Client]bool)
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.leagues[client.LeagueID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.leagues, client.LeagueID)
	}
}

// Publish sends a confirmed message to every instance's subscribers.
func (h *Hub) Publish(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, ChannelPrefix+msg.ConversationID, payload).Err()
}

// SubscribeToRedis listens for messages from every instance, this one included.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Dispatch(msg.Channel, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch routes a payload received on a Redis channel to its league.
func (h *Hub) Dispatch(channel string, payload []byte) {
	leagueID, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok || leagueID == "" {
		return
	}
	select {
	case h.broadcast <- BroadcastMessage{LeagueID: leagueID, Payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
