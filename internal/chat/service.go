package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxBodyLength  = 2000
	maxTokenLength = 64
	maxLeagueID    = 64
)

var (
	ErrEmptyBody     = errors.New("message body is empty")
	ErrBodyTooLong   = fmt.Errorf("message body exceeds %d characters", maxBodyLength)
	ErrInvalidToken  = fmt.Errorf("client token exceeds %d characters", maxTokenLength)
	ErrInvalidLeague = errors.New("invalid league id")
)

// MessageRepository is the persistence the service needs; *Repository implements it.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *Message) (*Message, bool, error)
	GetRecentMessages(ctx context.Context, leagueID string, limit int) ([]*Message, error)
}

// Publisher fans a confirmed message out to every subscriber of its league.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

type Service struct {
	repo         MessageRepository
	pub          Publisher
	historyLimit int
}

func NewService(repo MessageRepository, pub Publisher, historyLimit int) *Service {
	return &Service{repo: repo, pub: pub, historyLimit: historyLimit}
}

// Send validates, stores and publishes a message. Replays of an already
// stored client token return the original record without publishing again.
func (s *Service) Send(ctx context.Context, author Author, leagueID string, req SendRequest) (*Message, error) {
	if err := validLeague(leagueID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrEmptyBody
	}
	if utf8.RuneCountInString(req.Body) > maxBodyLength {
		return nil, ErrBodyTooLong
	}
	if len(req.ClientToken) > maxTokenLength {
		return nil, ErrInvalidToken
	}

	msg, created, err := s.repo.SaveMessage(ctx, &Message{
		ID:             uuid.NewString(),
		ConversationID: leagueID,
		AuthorID:       author.ID,
		AuthorName:     author.Name,
		Body:           req.Body,
		ClientToken:    req.ClientToken,
	})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if !created {
		slog.Info("Replayed send", "league_id", leagueID, "message_id", msg.ID, "client_token", msg.ClientToken)
		return msg, nil
	}

	// Stored already; subscribers catch up on their next history load.
	if err := s.pub.Publish(ctx, msg); err != nil {
		slog.Error("Publish failed", "league_id", leagueID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// History returns up to limit recent messages (the service default when
// limit is out of range), oldest first.
func (s *Service) History(ctx context.Context, leagueID string, limit int) ([]*Message, error) {
	if err := validLeague(leagueID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	msgs, err := s.repo.GetRecentMessages(ctx, leagueID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

func validLeague(id string) error {
	if id == "" || len(id) > maxLeagueID || strings.ContainsAny(id, " :*") {
		return ErrInvalidLeague
	}
	return nil
}
