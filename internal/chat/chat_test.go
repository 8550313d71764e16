package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	myMiddleware "league-chat/internal/middleware"
)

type memRepo struct {
	mu       sync.Mutex
	messages []*Message
	saveErr  error
}

func (m *memRepo) SaveMessage(ctx context.Context, msg *Message) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, false, m.saveErr
	}
	if msg.ClientToken != "" {
		for _, existing := range m.messages {
			if existing.AuthorID == msg.AuthorID && existing.ClientToken == msg.ClientToken {
				cp := *existing
				return &cp, false, nil
			}
		}
	}
	cp := *msg
	cp.CreatedAt = time.Date(2026, 3, 1, 18, 0, len(m.messages), 0, time.UTC)
	m.messages = append(m.messages, &cp)
	out := cp
	return &out, true, nil
}

func (m *memRepo) GetRecentMessages(ctx context.Context, leagueID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == leagueID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*Message
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return p.err
}

// loopbackPublisher skips Redis and hands payloads straight to the hub.
type loopbackPublisher struct{ hub *Hub }

func (p loopbackPublisher) Publish(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.hub.Dispatch(ChannelPrefix+msg.ConversationID, payload)
	return nil
}

var alice = Author{ID: "u1", Name: "alice"}

func TestServiceSendValidation(t *testing.T) {
	svc := NewService(&memRepo{}, &recordingPublisher{}, 50)
	tests := []struct {
		name    string
		league  string
		req     SendRequest
		wantErr error
	}{
		{name: "EmptyBody", league: "L1", req: SendRequest{Body: " \n\t"}, wantErr: ErrEmptyBody},
		{name: "TooLong", league: "L1", req: SendRequest{Body: strings.Repeat("x", maxBodyLength+1)}, wantErr: ErrBodyTooLong},
		{name: "LongToken", league: "L1", req: SendRequest{Body: "hi", ClientToken: strings.Repeat("t", 65)}, wantErr: ErrInvalidToken},
		{name: "NoLeague", league: "", req: SendRequest{Body: "hi"}, wantErr: ErrInvalidLeague},
		{name: "WildcardLeague", league: "L*", req: SendRequest{Body: "hi"}, wantErr: ErrInvalidLeague},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), alice, tt.league, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServiceSendIsIdempotentOnClientToken(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(&memRepo{}, pub, 50)
	ctx := context.Background()

	first, err := svc.Send(ctx, alice, "L1", SendRequest{Body: "gm", ClientToken: "tok-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "tok-1", first.ClientToken)

	again, err := svc.Send(ctx, alice, "L1", SendRequest{Body: "gm", ClientToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, pub.published, 1, "replays are not fanned out twice")
}

func TestServiceSendPublishFailureStillConfirms(t *testing.T) {
	svc := NewService(&memRepo{}, &recordingPublisher{err: errors.New("redis down")}, 50)
	msg, err := svc.Send(context.Background(), alice, "L1", SendRequest{Body: "gm"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestServiceSendSaveFailure(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(&memRepo{saveErr: errors.New("db down")}, pub, 50)
	_, err := svc.Send(context.Background(), alice, "L1", SendRequest{Body: "gm"})
	assert.ErrorContains(t, err, "save message")
	assert.Empty(t, pub.published)
}

func TestServiceHistory(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, &recordingPublisher{}, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, alice, "L1", SendRequest{Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	_, err := svc.Send(ctx, alice, "L2", SendRequest{Body: "other"})
	require.NoError(t, err)

	msgs, err := svc.History(ctx, "L1", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Body)
	assert.Equal(t, "m4", msgs[2].Body)

	empty, err := svc.History(ctx, "L9", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func TestHubFansOutPerLeague(t *testing.T) {
	hub := runHub(t)
	c1 := &Client{Hub: hub, Send: make(chan []byte, 4), LeagueID: "L1", UserID: "u1"}
	c2 := &Client{Hub: hub, Send: make(chan []byte, 4), LeagueID: "L2", UserID: "u2"}
	require.True(t, hub.register(c1))
	require.True(t, hub.register(c2))

	hub.Dispatch(ChannelPrefix+"L1", []byte(`{"id":"m1"}`))
	hub.Dispatch("other-channel", []byte(`{"id":"ignored"}`))
	hub.Dispatch(ChannelPrefix+"L2", []byte(`{"id":"m2"}`))

	assert.Equal(t, `{"id":"m1"}`, string(<-c1.Send))
	assert.Equal(t, `{"id":"m2"}`, string(<-c2.Send))
	assert.Empty(t, c1.Send)

	hub.unregister(c1)
	_, open := <-c1.Send
	assert.False(t, open, "unregister closes the send channel")
	hub.unregister(c1) // second unregister is a no-op
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := runHub(t)
	slow := &Client{Hub: hub, Send: make(chan []byte), LeagueID: "L1"}
	require.True(t, hub.register(slow))

	hub.Dispatch(ChannelPrefix+"L1", []byte("x"))
	// Round-trip through Run so the broadcast has been handled.
	require.True(t, hub.register(&Client{Hub: hub, Send: make(chan []byte, 1), LeagueID: "L2"}))
	_, open := <-slow.Send
	assert.False(t, open)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return serveChat(t, runHub(t))
}

func serveChat(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, NewService(&memRepo{}, loopbackPublisher{hub}, 50))

	r := chi.NewRouter()
	r.Use(myMiddleware.NewAuthMiddleware(tokenTable{"tok-alice": alice, "tok-bob": {ID: "u2", Name: "bob"}}).Handle)
	r.Get("/ws", h.ServeWs)
	r.Get("/api/leagues/{leagueID}/messages", h.GetChatHistory)
	r.Post("/api/leagues/{leagueID}/messages", h.SendMessage)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type tokenTable map[string]Author

func (tt tokenTable) ValidateToken(token string) (string, string, error) {
	a, ok := tt[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return a.ID, a.Name, nil
}

func postMessage(t *testing.T, srv *httptest.Server, token, league string, req SendRequest) *http.Response {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/leagues/"+league+"/messages", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandlerSendIsPushedToSubscribers(t *testing.T) {
	srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?league=L1&token=tok-bob"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := postMessage(t, srv, "tok-alice", "L1", SendRequest{Body: "gm", ClientToken: "c-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "gm", m.Body)
	assert.Equal(t, "u1", m.AuthorID)
	assert.Equal(t, "c-1", m.ClientToken)
}

func TestServeWsRegistersBeforeHandshake(t *testing.T) {
	hub := NewHub(nil)
	srv := serveChat(t, hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?league=L1&token=tok-bob"

	ctx, cancel := context.WithCancel(context.Background())
	started := false
	startHub := func() {
		if !started {
			started = true
			go hub.Run(ctx)
		}
	}
	// A stopped hub releases a handler still waiting to register.
	t.Cleanup(func() {
		cancel()
		startHub()
	})

	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		dialed <- dialResult{conn, err}
	}()

	select {
	case res := <-dialed:
		if res.conn != nil {
			res.conn.Close()
		}
		t.Fatal("handshake completed while the hub had not registered the subscriber")
	case <-time.After(100 * time.Millisecond):
	}

	startHub()

	var res dialResult
	select {
	case res = <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not complete after the hub started")
	}
	require.NoError(t, res.err)
	defer res.conn.Close()

	// Nothing is retried: the first broadcast after the dial must arrive.
	hub.Dispatch(ChannelPrefix+"L1", []byte(`{"id":"m1","body":"first"}`))
	require.NoError(t, res.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, res.conn.ReadJSON(&m))
	assert.Equal(t, "m1", m.ID)
}

func TestServeWsHubStopped(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	srv := serveChat(t, hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?league=L1&token=tok-bob"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlerSendAndHistory(t *testing.T) {
	srv := newTestServer(t)

	resp := postMessage(t, srv, "tok-alice", "L1", SendRequest{Body: "hello", ClientToken: "c-9"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var confirmed Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&confirmed))
	assert.Equal(t, "alice", confirmed.AuthorName)
	assert.Equal(t, "c-9", confirmed.ClientToken)

	resp = postMessage(t, srv, "tok-alice", "L1", SendRequest{Body: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postMessage(t, srv, "nope", "L1", SendRequest{Body: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/leagues/L1/messages?limit=10", nil)
	req.Header.Set("Authorization", "Bearer tok-bob")
	hist, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer hist.Body.Close()
	var msgs []Message
	require.NoError(t, json.NewDecoder(hist.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, confirmed.ID, msgs[0].ID)
}

func TestServeWsRequiresLeague(t *testing.T) {
	srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok-bob"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
