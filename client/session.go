// Package client implements the conversation-side session: it opens the
// live connection, hydrates history, appends sends optimistically and
// reconciles them with the durable record when the server acks.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/store"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// ErrNotConnected is returned by Send outside the Connected state. Retryable
// after reconnect; the idempotency token makes the retry safe.
var ErrNotConnected = errors.New("not connected")

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status of a message in the local view. Pending entries are shown as
// unconfirmed; Failed entries are shown distinctly so the user can retry.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusFailed
)

// LocalMessage is one entry in the conversation view. Token doubles as the
// temporary id until the ack carries the durable ID.
type LocalMessage struct {
	Token     string
	ID        string
	Sender    string
	Receiver  string
	Text      string
	Timestamp time.Time
	Status    Status
}

// Transport is the live bidirectional connection. *websocket.Conn from the
// dialer satisfies it; tests use in-memory fakes.
type Transport interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

type HistoryFetcher interface {
	Fetch(ctx context.Context, peer string, since time.Time) ([]*store.Message, error)
}

// Session is the per-conversation state machine:
// Disconnected → Connecting → Connected → Disconnected.
type Session struct {
	userID string
	peerID string

	dialer  Dialer
	history HistoryFetcher
	log     *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped on every teardown; stale dials check it
	transport Transport
	view      []*LocalMessage
	byToken   map[string]*LocalMessage
	seenIDs   map[string]struct{}
}

func NewSession(userID, peerID string, dialer Dialer, history HistoryFetcher, log *zap.SugaredLogger) *Session {
	return &Session{
		userID:  userID,
		peerID:  peerID,
		dialer:  dialer,
		history: history,
		log:     log,
		byToken: make(map[string]*LocalMessage),
		seenIDs: make(map[string]struct{}),
	}
}

// Connect opens the transport. The history fetch runs in parallel and never
// blocks connection establishment; it merges into the view when it lands.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return errors.New("session already " + s.state.String())
	}
	s.state = Connecting
	gen := s.gen
	s.mu.Unlock()

	if s.history != nil {
		go s.fetchHistory(ctx)
	}

	t, err := s.dialer.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == Connecting && s.gen == gen {
			s.state = Disconnected
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	// Close may have run while the dial was in flight; a stale dial must
	// not move the session back to Connected.
	if s.state != Connecting || s.gen != gen {
		s.mu.Unlock()
		_ = t.Close()
		return ErrNotConnected
	}
	s.state = Connected
	s.transport = t
	s.mu.Unlock()

	go s.readLoop(t)
	return nil
}

func (s *Session) fetchHistory(ctx context.Context) {
	msgs, err := s.history.Fetch(ctx, s.peerID, time.Time{})
	if err != nil {
		s.log.Warnw("history fetch failed", "peer", s.peerID, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var merged []*LocalMessage
	for _, m := range msgs {
		if _, ok := s.seenIDs[m.ID]; ok {
			continue
		}
		if lm, ok := s.byToken[m.Token]; ok {
			// our own send, already confirmed over the live connection
			lm.ID = m.ID
			lm.Status = StatusSent
			continue
		}
		s.seenIDs[m.ID] = struct{}{}
		merged = append(merged, &LocalMessage{
			Token:     m.Token,
			ID:        m.ID,
			Sender:    m.SenderID,
			Receiver:  m.ReceiverID,
			Text:      m.Text,
			Timestamp: m.CreatedAt,
			Status:    StatusSent,
		})
	}
	// history precedes anything sent or received during this session
	s.view = append(merged, s.view...)
}

// Send appends the message optimistically under a fresh idempotency token
// and transmits it. It fails fast with ErrNotConnected outside Connected.
func (s *Session) Send(text string) (string, error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	t := s.transport
	token := uuid.NewString()
	lm := &LocalMessage{
		Token:     token,
		Sender:    s.userID,
		Receiver:  s.peerID,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
	}
	s.view = append(s.view, lm)
	s.byToken[token] = lm
	s.mu.Unlock()

	if err := s.transmit(t, lm); err != nil {
		s.markFailed(token)
		s.teardown()
		return token, ErrNotConnected
	}
	return token, nil
}

// Retry re-transmits a failed send under its original token; the server
// deduplicates, so a send that actually went through is not stored twice.
func (s *Session) Retry(token string) error {
	s.mu.Lock()
	lm, ok := s.byToken[token]
	if !ok {
		s.mu.Unlock()
		return errors.New("unknown token")
	}
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	t := s.transport
	lm.Status = StatusPending
	s.mu.Unlock()

	if err := s.transmit(t, lm); err != nil {
		s.markFailed(token)
		s.teardown()
		return ErrNotConnected
	}
	return nil
}

func (s *Session) transmit(t Transport, lm *LocalMessage) error {
	return t.WriteJSON(ws.Frame{
		Type:      ws.FrameMessage,
		Token:     lm.Token,
		Text:      lm.Text,
		Sender:    lm.Sender,
		Receiver:  lm.Receiver,
		Timestamp: lm.Timestamp,
	})
}

func (s *Session) readLoop(t Transport) {
	for {
		var f ws.Frame
		if err := t.ReadJSON(&f); err != nil {
			s.teardown()
			return
		}
		switch f.Type {
		case ws.FrameAck:
			s.reconcile(&f)
		case ws.FrameError:
			s.markFailed(f.Token)
		default:
			s.receive(&f)
		}
	}
}

// reconcile swaps the temporary token for the durable id.
func (s *Session) reconcile(f *ws.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lm, ok := s.byToken[f.Token]
	if !ok {
		return
	}
	lm.ID = f.ID
	lm.Status = StatusSent
	if !f.Timestamp.IsZero() {
		lm.Timestamp = f.Timestamp
	}
	if f.ID != "" {
		s.seenIDs[f.ID] = struct{}{}
	}
}

// receive appends an inbound message in arrival order. Frames outside the
// open conversation are ignored here; routing them belongs to the UI layer.
func (s *Session) receive(f *ws.Frame) {
	if !(f.Sender == s.peerID && f.Receiver == s.userID) &&
		!(f.Sender == s.userID && f.Receiver == s.peerID) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID != "" {
		if _, ok := s.seenIDs[f.ID]; ok {
			return
		}
		s.seenIDs[f.ID] = struct{}{}
	}
	if _, ok := s.byToken[f.Token]; ok {
		return
	}
	s.view = append(s.view, &LocalMessage{
		Token:     f.Token,
		ID:        f.ID,
		Sender:    f.Sender,
		Receiver:  f.Receiver,
		Text:      f.Text,
		Timestamp: f.Timestamp,
		Status:    StatusSent,
	})
}

func (s *Session) markFailed(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lm, ok := s.byToken[token]; ok {
		lm.Status = StatusFailed
	}
}

// teardown moves to Disconnected and fails every pending send so the caller
// can surface them instead of waiting on acks that will never come.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.gen++
	t := s.transport
	s.transport = nil
	for _, lm := range s.view {
		if lm.Status == StatusPending {
			lm.Status = StatusFailed
		}
	}
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// Close tears the session down. Pending sends fail fast.
func (s *Session) Close() {
	s.teardown()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation view.
func (s *Session) Messages() []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalMessage, len(s.view))
	for i, lm := range s.view {
		out[i] = *lm
	}
	return out
}
