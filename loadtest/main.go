package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"league-chat/internal/chatclient"
	"league-chat/internal/config"
	"league-chat/internal/livechat"
)

var (
	userCount = flag.Int("pairs", 50, "number of user pairs, each pair shares a league") // ⚠️ Start small. Database might choke on 1000 immediately.
	msgCount  = flag.Int("messages", 20, "messages per user")
	settle    = flag.Duration("settle", 10*time.Second, "how long to wait for every message to confirm")
)

type stats struct {
	confirmed  atomic.Int64
	failed     atomic.Int64
	pending    atomic.Int64
	duplicates atomic.Int64
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("❌ Failed to load config", "error", err)
		os.Exit(1)
	}
	baseURL := flag.String("base-url", cfg.BaseURL, "chat server base URL")
	flag.Parse()
	slog.SetDefault(cfg.NewLogger(os.Stderr))

	slog.Info("🔥 STARTING STRESS TEST", "users", *userCount*2, "messages_each", *msgCount)
	var st stats
	var wg sync.WaitGroup

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < *userCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(*baseURL, cfg, pairID, &st)
		}(i)
	}

	wg.Wait()
	slog.Info("✅ LOAD TEST COMPLETE",
		"confirmed", st.confirmed.Load(),
		"failed", st.failed.Load(),
		"pending", st.pending.Load(),
		"duplicates", st.duplicates.Load())
	if st.duplicates.Load() > 0 || st.pending.Load() > 0 {
		os.Exit(1)
	}
}

func runPair(baseURL string, cfg *config.Config, pairID int, st *stats) {
	league := fmt.Sprintf("loadtest-%d", pairID)
	var wg sync.WaitGroup
	for _, side := range []string{"a", "b"} {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			if err := spamChat(baseURL, cfg, league, username, st); err != nil {
				slog.Error("❌ User failed", "user", username, "error", err)
			}
		}(fmt.Sprintf("u_%d_%s", pairID, side))
	}
	wg.Wait()
}

// authenticate registers (ignores conflict if the user exists) and logs in.
func authenticate(ctx context.Context, c *chatclient.Client, username string) (string, error) {
	const pass = "password123"
	var se *chatclient.StatusError
	if err := c.Register(ctx, username, pass); err != nil && !(errors.As(err, &se) && se.Code == http.StatusConflict) {
		return "", err
	}
	res, err := c.Login(ctx, username, pass)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func spamChat(baseURL string, cfg *config.Config, league, username string, st *stats) error {
	ctx := context.Background()
	c := chatclient.New(baseURL)
	userID, err := authenticate(ctx, c, username)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	s := livechat.NewSession(c, livechat.Options{
		ConversationID: league,
		AuthorID:       userID,
		SendTimeout:    cfg.SendTimeout,
		FallbackWindow: cfg.FallbackWindow,
	})
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close()

	for i := 0; i < *msgCount; i++ {
		if _, err := s.Submit(ctx, fmt.Sprintf("LoadTest Msg %d from %s", i, username)); err != nil {
			return err
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(*settle)
	var msgs []livechat.Message
	for {
		msgs, err = s.Messages(ctx)
		if err != nil {
			return err
		}
		if unconfirmed(msgs) == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			st.duplicates.Add(1)
		}
		seen[m.ID] = true
		if m.AuthorID != userID {
			continue
		}
		switch m.Status {
		case livechat.StatusConfirmed:
			st.confirmed.Add(1)
		case livechat.StatusFailed:
			st.failed.Add(1)
		default:
			st.pending.Add(1)
		}
	}
	slog.Info("✅ User finished", "user", username, "league_id", league, "store_size", len(msgs))
	return nil
}

func unconfirmed(msgs []livechat.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Status != livechat.StatusConfirmed {
			n++
		}
	}
	return n
}
