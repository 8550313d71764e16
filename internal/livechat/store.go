package livechat

import "time"

// Store is the ordered list of messages for the open conversation.
// It is not safe for concurrent use; a Session owns it from a single goroutine.
type Store struct {
	messages []Message
}

func NewStore() *Store {
	return &Store{}
}

// Append adds msg at the tail. Only the zero message (no id) is rejected.
func (s *Store) Append(msg Message) bool {
	if msg.ID == "" {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

// Replace overwrites the record holding tempID with confirmed, keeping its
// position. It is a no-op when tempID is not in the store.
func (s *Store) Replace(tempID string, confirmed Message) bool {
	i := s.indexOf(tempID)
	if i < 0 {
		return false
	}
	confirmed.Status = StatusConfirmed
	confirmed.Err = nil
	s.messages[i] = confirmed
	return true
}

// Find returns the record with the given id.
func (s *Store) Find(id string) (Message, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	return s.messages[i], true
}

// Remove drops the record with the given id.
func (s *Store) Remove(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// SetStatus updates the delivery state of a not yet confirmed record.
func (s *Store) SetStatus(id string, status Status, err error) bool {
	i := s.indexOf(id)
	if i < 0 || s.messages[i].Status == StatusConfirmed {
		return false
	}
	s.messages[i].Status = status
	s.messages[i].Err = err
	return true
}

// FindUnconfirmedByToken looks up a pending or failed record by its client token.
func (s *Store) FindUnconfirmedByToken(token string) (Message, bool) {
	if token == "" {
		return Message{}, false
	}
	for _, m := range s.messages {
		if m.Status != StatusConfirmed && m.ClientToken == token {
			return m, true
		}
	}
	return Message{}, false
}

// FindUnconfirmedByContent returns the oldest unconfirmed record from author
// with the same body, created within window of at.
func (s *Store) FindUnconfirmedByContent(authorID, body string, at time.Time, window time.Duration) (Message, bool) {
	for _, m := range s.messages {
		if m.Status == StatusConfirmed || m.AuthorID != authorID || m.Body != body {
			continue
		}
		d := at.Sub(m.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Store) Len() int {
	return len(s.messages)
}

// Messages returns a copy in insertion order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}
