package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store mirrors connection registrations into Redis so presence is visible
// outside the relay process. The in-memory registry stays authoritative for
// delivery; this mirror is what a future multi-instance deployment would
// route on.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type ConnMeta struct {
	SocketID    string `json:"socket_id"`
	ConnectedAt int64  `json:"connected_at"`
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, ttl: 24 * time.Hour}
}

func (s *Store) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *Store) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *Store) AddConnection(ctx context.Context, userID, socketID string) error {
	meta, _ := json.Marshal(ConnMeta{SocketID: socketID, ConnectedAt: time.Now().Unix()})
	if err := s.client.SAdd(ctx, s.connKey(userID), meta).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, s.connKey(userID), s.ttl).Err()
	return s.setStatus(ctx, userID, "online")
}

func (s *Store) RemoveConnection(ctx context.Context, userID, socketID string) error {
	key := s.connKey(userID)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		var cm ConnMeta
		if json.Unmarshal([]byte(m), &cm) == nil && cm.SocketID == socketID {
			_ = s.client.SRem(ctx, key, m).Err()
		}
	}
	remaining, _ := s.client.SCard(ctx, key).Result()
	if remaining == 0 {
		return s.setStatus(ctx, userID, "offline")
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, userID, status string) error {
	b, _ := json.Marshal(map[string]any{"status": status, "last_seen": time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, s.ttl).Err()
}
