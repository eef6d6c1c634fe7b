package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore backs both the message and contact stores.
type MongoStore struct {
	msgCol     *mongo.Collection
	contactCol *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		msgCol:     db.Collection("messages"),
		contactCol: db.Collection("contacts"),
	}
}

// EnsureIndexes creates the indexes the contracts depend on: the unique
// (sender_id, token) index is what makes retried sends store exactly once
// without letting one user's token collide with another's, and the unique
// pair index is what makes the contact upsert race-free.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "token", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "receiver_id", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
	})
	if err != nil {
		return err
	}
	_, err = s.contactCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_a", Value: 1},
			{Key: "user_b", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	stored := *m
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	oid := primitive.NewObjectID()
	if stored.ID != "" {
		if parsed, err := primitive.ObjectIDFromHex(stored.ID); err == nil {
			oid = parsed
		}
	}
	stored.ID = oid.Hex()
	_, err := s.msgCol.InsertOne(ctx, bson.M{
		"_id":         oid,
		"token":       stored.Token,
		"sender_id":   stored.SenderID,
		"receiver_id": stored.ReceiverID,
		"text":        stored.Text,
		"seq":         int64(stored.Seq),
		"created_at":  stored.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// dedup is scoped to the sender: the same token from another
			// user is a different logical send and inserts normally
			existing, findErr := s.findBySenderToken(ctx, m.SenderID, m.Token)
			if findErr != nil {
				return nil, findErr
			}
			return existing, ErrDuplicateSend
		}
		return nil, err
	}
	return &stored, nil
}

func (s *MongoStore) findBySenderToken(ctx context.Context, senderID, token string) (*Message, error) {
	var doc messageDoc
	err := s.msgCol.FindOne(ctx, bson.M{"sender_id": senderID, "token": token}).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return doc.message(), nil
}

func (s *MongoStore) FetchHistory(ctx context.Context, userA, userB string, since time.Time) ([]*Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": userA, "receiver_id": userB},
			bson.M{"sender_id": userB, "receiver_id": userA},
		},
	}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gt": since}
	}
	cur, err := s.msgCol.Find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
	}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.message())
	}
	return out, cur.Err()
}

type messageDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Token      string             `bson:"token"`
	SenderID   string             `bson:"sender_id"`
	ReceiverID string             `bson:"receiver_id"`
	Text       string             `bson:"text"`
	Seq        int64              `bson:"seq"`
	CreatedAt  time.Time          `bson:"created_at"`
}

func (d *messageDoc) message() *Message {
	return &Message{
		ID:         d.ID.Hex(),
		Token:      d.Token,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Seq:        uint64(d.Seq),
		CreatedAt:  d.CreatedAt,
	}
}

// UpsertContact is a single upsert keyed by the normalized pair, never a
// check-then-insert: two near-simultaneous first messages from both sides
// still yield exactly one relation.
func (s *MongoStore) UpsertContact(ctx context.Context, userA, userB string) error {
	a, b := PairKey(userA, userB)
	_, err := s.contactCol.UpdateOne(ctx,
		bson.M{"user_a": a, "user_b": b},
		bson.M{"$setOnInsert": bson.M{
			"user_a":           a,
			"user_b":           b,
			"first_contact_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		// lost the upsert race to the other side's first message
		return nil
	}
	return err
}

func (s *MongoStore) ListContacts(ctx context.Context, userID string) ([]*Contact, error) {
	cur, err := s.contactCol.Find(ctx,
		bson.M{"$or": bson.A{bson.M{"user_a": userID}, bson.M{"user_b": userID}}},
		options.Find().SetSort(bson.D{{Key: "first_contact_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Contact
	for cur.Next(ctx) {
		var c Contact
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}
