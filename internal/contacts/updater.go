package contacts

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/store"
)

// Updater maintains the "known contact" relation between users who have
// messaged each other. The store upsert is what guarantees exactly one
// relation per pair; the in-process cache only saves round trips once a
// pair has been recorded.
type Updater struct {
	store store.ContactStore
	log   *zap.SugaredLogger
	seen  sync.Map // pair key -> struct{}
}

func NewUpdater(st store.ContactStore, log *zap.SugaredLogger) *Updater {
	return &Updater{store: st, log: log}
}

// Ensure records the pair. Idempotent under concurrent and repeated calls.
func (u *Updater) Ensure(ctx context.Context, userA, userB string) error {
	a, b := store.PairKey(userA, userB)
	key := a + "\x00" + b
	if _, ok := u.seen.Load(key); ok {
		return nil
	}
	if err := u.store.UpsertContact(ctx, a, b); err != nil {
		u.log.Warnw("contact upsert failed", "user_a", a, "user_b", b, "err", err)
		return err
	}
	u.seen.Store(key, struct{}{})
	return nil
}
