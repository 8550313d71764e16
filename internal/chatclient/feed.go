package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"league-chat/internal/livechat"
)

const closeWait = time.Second

type subscription struct {
	conn     *websocket.Conn
	leagueID string
	done     chan struct{}
	once     sync.Once
	err      error
}

// Subscribe opens the league's push feed. onMessage runs on the reader
// goroutine, one message at a time.
func (c *Client) Subscribe(ctx context.Context, conversationID string, onMessage func(livechat.Message)) (livechat.Subscription, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"league": {conversationID}}.Encode()

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, resp, err := c.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode, Body: "websocket handshake failed"}
		}
		return nil, err
	}

	s := &subscription{conn: conn, leagueID: conversationID, done: make(chan struct{})}
	go s.read(onMessage)
	return s, nil
}

// read decodes every frame; the server batches several newline separated
// messages into one frame.
func (s *subscription) read(onMessage func(livechat.Message)) {
	defer close(s.done)
	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Feed closed", "league_id", s.leagueID, "error", err)
			}
			return
		}
		dec := json.NewDecoder(r)
		for {
			var m livechat.Message
			if err := dec.Decode(&m); err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Warn("Dropping malformed feed frame", "league_id", s.leagueID, "error", err)
				}
				break
			}
			m.Status = livechat.StatusConfirmed
			onMessage(m)
		}
	}
}

// Unsubscribe closes the socket and waits for the reader to stop, so no
// callback runs after it returns.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
			slog.Debug("Close frame not sent", "league_id", s.leagueID, "error", err)
		}
		s.err = s.conn.Close()
	})
	<-s.done
	return s.err
}
