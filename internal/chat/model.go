package chat

import "time"

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Message is a confirmed league chat message. The JSON shape is what both
// the REST API and the WebSocket feed deliver to clients.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"` // league id
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name"` // Denormalized for UI speed (Fetched via JOIN)
	Body           string    `json:"body"`
	ClientToken    string    `json:"client_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendRequest is the body of POST /api/leagues/{leagueID}/messages.
// Author and league come from the token and the URL.
type SendRequest struct {
	Body        string `json:"body"`
	ClientToken string `json:"client_token"`
}

// Author is the authenticated sender.
type Author struct {
	ID   string
	Name string
}

// ---------------------------------------------
// ⚡ Internal Hub Models
// ---------------------------------------------

// BroadcastMessage pipes a Redis payload to the sockets of one league.
type BroadcastMessage struct {
	LeagueID string
	Payload  []byte // The actual JSON data
}
