package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "league-chat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub     *Hub
	service *Service
}

func NewHandler(hub *Hub, service *Service) *Handler {
	return &Handler{hub: hub, service: service}
}

// GetChatHistory serves GET /api/leagues/{leagueID}/messages?limit=N.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.service.History(r.Context(), leagueID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage serves POST /api/leagues/{leagueID}/messages and answers with
// the confirmed record.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.service.Send(r.Context(), Author{ID: userID, Name: username}, chi.URLParam(r, "leagueID"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ServeWs upgrades GET /ws?league=ID into a push feed for that league.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	leagueID := r.URL.Query().Get("league")
	if err := validLeague(leagueID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Registered before the handshake completes: once the dialer returns,
	// every later broadcast for the league is queued on Send.
	client := &Client{
		Hub:      h.hub,
		Send:     make(chan []byte, sendBuffer),
		LeagueID: leagueID,
		UserID:   userID,
	}
	if !h.hub.register(client) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		h.hub.unregister(client)
		return
	}
	client.Conn = conn

	go client.WritePump()
	go client.ReadPump()
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrBodyTooLong),
		errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidLeague):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Chat request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
