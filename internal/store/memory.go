package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps messages and contacts in process memory. Used in tests
// and for local development without a Mongo instance.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*Message
	byToken  map[string]*Message // keyed by sender+token, matching the mongo index
	contacts map[[2]string]*Contact
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken:  make(map[string]*Message),
		contacts: make(map[[2]string]*Contact),
	}
}

func senderTokenKey(senderID, token string) string {
	return senderID + "\x00" + token
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := senderTokenKey(m.SenderID, m.Token)
	if existing, ok := s.byToken[key]; ok {
		return existing, ErrDuplicateSend
	}
	stored := *m
	if stored.ID == "" {
		s.nextID++
		stored.ID = strconv.Itoa(s.nextID)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, &stored)
	s.byToken[key] = &stored
	return &stored, nil
}

func (s *MemoryStore) FetchHistory(_ context.Context, userA, userB string, since time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if !pairMatches(m, userA, userB) {
			continue
		}
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *MemoryStore) UpsertContact(_ context.Context, userA, userB string) error {
	a, b := PairKey(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{a, b}
	if _, ok := s.contacts[key]; ok {
		return nil
	}
	s.contacts[key] = &Contact{UserA: a, UserB: b, FirstContactAt: time.Now().UTC()}
	return nil
}

func (s *MemoryStore) ListContacts(_ context.Context, userID string) ([]*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Contact
	for _, c := range s.contacts {
		if c.UserA == userID || c.UserB == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstContactAt.Before(out[j].FirstContactAt)
	})
	return out, nil
}

// ContactCount reports how many relations exist; test hook.
func (s *MemoryStore) ContactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

func pairMatches(m *Message, userA, userB string) bool {
	return (m.SenderID == userA && m.ReceiverID == userB) ||
		(m.SenderID == userB && m.ReceiverID == userA)
}

