package livechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyBody     = errors.New("livechat: message body is empty")
	ErrSessionClosed = errors.New("livechat: session closed")
	ErrNotFound      = errors.New("livechat: message not found")
	ErrNotFailed     = errors.New("livechat: message has not failed")
)

const (
	DefaultSendTimeout    = 10 * time.Second
	DefaultFallbackWindow = 30 * time.Second

	// ExactFallbackWindow matches by content only when the timestamps are equal.
	ExactFallbackWindow time.Duration = time.Nanosecond
	// DisableFallback turns content matching off.
	DisableFallback time.Duration = -1
)

// Options configures a Session.
type Options struct {
	ConversationID string
	AuthorID       string

	// SendTimeout bounds each send request. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	// FallbackWindow is how far apart a pending record and a feed message
	// without client token may be timestamped and still be matched by
	// author and body. Zero means DefaultFallbackWindow; use
	// ExactFallbackWindow for equal timestamps only, and DisableFallback
	// (or any negative value) to turn content matching off.
	FallbackWindow time.Duration

	// OnChange receives a snapshot of the store after every mutation.
	// It runs on the session goroutine and must not call back into the session.
	OnChange func([]Message)

	Clock    func() time.Time
	NewToken func() string
	Logger   *slog.Logger
}

type submitRequest struct {
	body  string
	reply chan Message
}

type retryRequest struct {
	id    string
	reply chan error
}

type sendResult struct {
	tempID    string
	confirmed Message
	err       error
}

// Session is an open conversation view. It owns one Store and applies every
// mutation from a single goroutine, so the store itself needs no locking.
type Session struct {
	backend Backend
	opts    Options
	log     *slog.Logger
	store   *Store
	seq     uint64
	feed    *feed

	// The Pipes. run is the only reader.
	submit   chan submitRequest
	retry    chan retryRequest
	results  chan sendResult
	incoming chan Message
	snapshot chan chan []Message

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   chan struct{}
	started   bool
	closeOnce sync.Once
	sends     sync.WaitGroup
}

func NewSession(backend Backend, opts Options) *Session {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.FallbackWindow == 0 {
		opts.FallbackWindow = DefaultFallbackWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		backend:  backend,
		opts:     opts,
		log:      logger.With("conversation_id", opts.ConversationID, "author_id", opts.AuthorID),
		store:    NewStore(),
		submit:   make(chan submitRequest),
		retry:    make(chan retryRequest),
		results:  make(chan sendResult),
		incoming: make(chan Message, 64),
		snapshot: make(chan chan []Message),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Open subscribes to the conversation feed, loads its history and starts the
// session loop. Feed deliveries that overlap the history are dropped by the
// de-duplication gate.
func (s *Session) Open(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if s.started {
		return errors.New("livechat: session already open")
	}

	f, err := subscribeFeed(ctx, s.backend, s.opts.ConversationID, s.deliver)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.opts.ConversationID, err)
	}
	s.feed = f

	history, err := s.backend.GetMessages(ctx, s.opts.ConversationID)
	if err != nil {
		s.Close()
		return fmt.Errorf("load history %s: %w", s.opts.ConversationID, err)
	}
	for _, m := range history {
		m.Status = StatusConfirmed
		if ShouldAppend(m, s.store) {
			s.store.Append(m)
		}
	}
	s.log.Info("Conversation opened", "history", s.store.Len())

	s.started = true
	go s.run()
	return nil
}

// deliver is the feed callback; it hands the message to the session loop.
func (s *Session) deliver(m Message) {
	select {
	case s.incoming <- m:
	case <-s.done:
	}
}

// Submit appends a pending message and sends it in the background. A body
// that is empty after trimming leaves the store untouched and returns ErrEmptyBody.
func (s *Session) Submit(ctx context.Context, body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyBody
	}
	req := submitRequest{body: body, reply: make(chan Message, 1)}
	select {
	case s.submit <- req:
	case <-s.done:
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	return <-req.reply, nil
}

// Retry re-sends a failed message with its original client token.
func (s *Session) Retry(ctx context.Context, id string) error {
	req := retryRequest{id: id, reply: make(chan error, 1)}
	select {
	case s.retry <- req:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// Messages returns the store contents in insertion order.
func (s *Session) Messages(ctx context.Context) ([]Message, error) {
	reply := make(chan []Message, 1)
	select {
	case s.snapshot <- reply:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-reply, nil
}

// Close unsubscribes from the feed, stops the loop and discards the store.
// In-flight sends are abandoned.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.feed != nil {
			err = s.feed.Unsubscribe()
		}
		if s.started {
			<-s.stopped
		}
		s.sends.Wait()
		s.store = nil
		s.log.Info("Conversation closed")
	})
	return err
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.submit:
			req.reply <- s.appendPending(req.body)

		case req := <-s.retry:
			req.reply <- s.resend(req.id)

		case res := <-s.results:
			if res.err != nil {
				s.fail(res.tempID, res.err)
			} else {
				s.reconcile(res.tempID, res.confirmed)
			}

		case m := <-s.incoming:
			s.accept(m)

		case reply := <-s.snapshot:
			reply <- s.store.Messages()

		case <-s.done:
			return
		}
	}
}

func (s *Session) appendPending(body string) Message {
	s.seq++
	m := Message{
		ID:             tempID(s.seq),
		ConversationID: s.opts.ConversationID,
		AuthorID:       s.opts.AuthorID,
		Body:           body,
		CreatedAt:      s.opts.Clock(),
		ClientToken:    s.opts.NewToken(),
		Status:         StatusPending,
	}
	s.store.Append(m)
	s.changed()
	s.send(m)
	return m
}

func (s *Session) resend(id string) error {
	m, ok := s.store.Find(id)
	if !ok {
		return ErrNotFound
	}
	if m.Status != StatusFailed {
		return ErrNotFailed
	}
	s.store.SetStatus(id, StatusPending, nil)
	s.changed()
	s.send(m)
	return nil
}

// send issues the request off the loop and reports back through s.results.
func (s *Session) send(m Message) {
	req := SendRequest{
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Body:           m.Body,
		ClientToken:    m.ClientToken,
	}
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.SendTimeout)
		defer cancel()
		confirmed, err := s.backend.SendMessage(ctx, req)
		select {
		case s.results <- sendResult{tempID: m.ID, confirmed: confirmed, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.store.Messages())
	}
}
