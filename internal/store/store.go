package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateSend is returned by InsertMessage when the sender has already
// persisted a message under this idempotency token. Callers treat it as
// success: the returned message is the one stored by the earlier attempt.
var ErrDuplicateSend = errors.New("duplicate send")

// NewMessageID assigns the durable message id at ingress, before the relay
// fans the frame out, so delivered frames and the eventual ack carry the
// same id. The driver generates ObjectIDs client-side anyway.
func NewMessageID() string {
	return primitive.NewObjectID().Hex()
}

// Message is immutable once created. Token is the client-generated
// idempotency token; Seq is the per-pair sequence assigned at the relay.
type Message struct {
	ID         string    `bson:"_id,omitempty" json:"id"`
	Token      string    `bson:"token" json:"token,omitempty"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	ReceiverID string    `bson:"receiver_id" json:"receiver_id"`
	Text       string    `bson:"text" json:"text"`
	Seq        uint64    `bson:"seq" json:"-"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// Contact records that two users have exchanged at least one message.
// UserA/UserB are stored in normalized (lexicographic) order.
type Contact struct {
	UserA          string    `bson:"user_a" json:"user_a"`
	UserB          string    `bson:"user_b" json:"user_b"`
	FirstContactAt time.Time `bson:"first_contact_at" json:"first_contact_at"`
}

type MessageStore interface {
	// InsertMessage stores the message exactly once per (sender, token). A
	// retry with an already-stored token returns the original record and
	// ErrDuplicateSend. Dedup is scoped to the sender so a peer who saw a
	// token cannot suppress their own sends with it.
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	// FetchHistory returns all messages between the two users, ascending by
	// created_at with ties broken by relay sequence. A zero since means the
	// full conversation.
	FetchHistory(ctx context.Context, userA, userB string, since time.Time) ([]*Message, error)
}

type ContactStore interface {
	// UpsertContact records the pair idempotently; concurrent calls for the
	// same pair yield exactly one relation.
	UpsertContact(ctx context.Context, userA, userB string) error
	ListContacts(ctx context.Context, userID string) ([]*Contact, error)
}

// PairKey normalizes an unordered user pair.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
