package livechat

import (
	"context"
	"sync"
)

// Backend is the chat service a Session talks to.
type Backend interface {
	// GetMessages returns the conversation history, oldest first.
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
	// SendMessage persists a message and returns the confirmed record.
	SendMessage(ctx context.Context, req SendRequest) (Message, error)
	// Subscribe starts delivering confirmed messages of the conversation to
	// onMessage until the returned subscription is cancelled.
	Subscribe(ctx context.Context, conversationID string, onMessage func(Message)) (Subscription, error)
}

// Subscription is a live push channel for one conversation.
type Subscription interface {
	Unsubscribe() error
}

// feed wraps a backend subscription so that no delivery reaches the
// callback once Unsubscribe has returned.
type feed struct {
	mu     sync.RWMutex
	closed bool
	sub    Subscription
}

func subscribeFeed(ctx context.Context, b Backend, conversationID string, onMessage func(Message)) (*feed, error) {
	f := &feed{}
	sub, err := b.Subscribe(ctx, conversationID, func(m Message) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.closed {
			return
		}
		onMessage(m)
	})
	if err != nil {
		return nil, err
	}
	f.sub = sub
	return f, nil
}

func (f *feed) Unsubscribe() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.sub.Unsubscribe()
}
