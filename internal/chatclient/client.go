// Package chatclient talks to the league chat server over HTTP and WebSocket
// and implements livechat.Backend.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"league-chat/internal/livechat"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat server returned %d: %s", e.Code, e.Body)
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Dialer:  websocket.DefaultDialer,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Username    string `json:"username"`
}

// Register creates an account. A 409 (already taken) is reported as a StatusError.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/register", credentials{username, password}, nil)
}

// Login authenticates and keeps the access token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/login", credentials{username, password}, &res); err != nil {
		return nil, err
	}
	c.Token = res.AccessToken
	return &res, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]livechat.Message, error) {
	var msgs []livechat.Message
	if err := c.do(ctx, http.MethodGet, messagesPath(conversationID), nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Status = livechat.StatusConfirmed
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, req livechat.SendRequest) (livechat.Message, error) {
	body := struct {
		Body        string `json:"body"`
		ClientToken string `json:"client_token"`
	}{req.Body, req.ClientToken}

	var msg livechat.Message
	if err := c.do(ctx, http.MethodPost, messagesPath(req.ConversationID), body, &msg); err != nil {
		return livechat.Message{}, err
	}
	msg.Status = livechat.StatusConfirmed
	return msg, nil
}

func messagesPath(leagueID string) string {
	return "/api/leagues/" + url.PathEscape(leagueID) + "/messages"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
