package livechat

import (
	"strconv"
	"strings"
	"time"
)

// TempIDPrefix marks ids assigned locally before the server has confirmed a message.
const TempIDPrefix = "tmp-"

// Status is the delivery state of a message in the store.
type Status int

const (
	StatusPending   Status = iota // sent optimistically, waiting for the server
	StatusConfirmed               // server-issued id and timestamp
	StatusFailed                  // send rejected or timed out, can be retried
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one chat entry in a league conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	ClientToken    string    `json:"client_token,omitempty"` // echoed back by the server
	Status         Status    `json:"-"`
	Err            error     `json:"-"` // last send error while Failed
}

// IsPending reports whether the message still carries a temporary id.
func (m Message) IsPending() bool {
	return m.Status == StatusPending
}

// SendRequest is what the submitter hands to the backend.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	AuthorID       string `json:"author_id"`
	Body           string `json:"body"`
	ClientToken    string `json:"client_token"`
}

// IsTemporaryID reports whether id was generated locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

func tempID(seq uint64) string {
	return TempIDPrefix + strconv.FormatUint(seq, 10)
}
