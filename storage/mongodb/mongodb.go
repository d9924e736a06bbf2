// Package mongodb persists chat messages and the per-chat sequence counters
// in the document store.
package mongodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"coreapi/datatypes"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	messages *mongo.Collection
	counters *mongo.Collection
}

type messageDoc struct {
	ID          string                     `bson:"_id"`
	ChatID      int64                      `bson:"chat_id"`
	Sender      string                     `bson:"sender"`
	Content     string                     `bson:"content"`
	ContentType string                     `bson:"content_type"`
	Sequence    int64                      `bson:"sequence"`
	Sources     []datatypes.SourceDocument `bson:"sources,omitempty"`
	CreatedAt   time.Time                  `bson:"created_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		messages: db.Collection("messages"),
		counters: db.Collection("counters"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// (chat_id, sequence) unique: the counter guarantees uniqueness, the
	// index makes the invariant hold even against buggy writers.
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "chat_id", Value: 1},
			{Key: "sequence", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("messages.chat_id+sequence index: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// NextSequence atomically increments and returns the next message sequence
// for a chat. The upsert creates the counter on first use, so the first
// message of a chat gets sequence 1.
func (s *Storage) NextSequence(ctx context.Context, chatID int64) (int64, error) {
	const op = "storage.mongodb.NextSequence"

	filter := bson.D{{Key: "_id", Value: counterID(chatID)}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return counter.Value, nil
}

// SaveMessage inserts a message, assigning it the next sequence in its chat.
func (s *Storage) SaveMessage(ctx context.Context, msg *datatypes.Message) (*datatypes.Message, error) {
	const op = "storage.mongodb.SaveMessage"

	seq, err := s.NextSequence(ctx, msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc := messageDoc{
		ID:          uuid.NewString(),
		ChatID:      msg.ChatID,
		Sender:      string(msg.Sender),
		Content:     msg.Content,
		ContentType: msg.ContentType,
		Sequence:    seq,
		Sources:     msg.Sources,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	saved := *msg
	saved.ID = doc.ID
	saved.Sequence = doc.Sequence
	saved.CreatedAt = doc.CreatedAt
	return &saved, nil
}

// MessagesByChat returns all messages of a chat in sequence order.
func (s *Storage) MessagesByChat(ctx context.Context, chatID int64) ([]datatypes.Message, error) {
	const op = "storage.mongodb.MessagesByChat"

	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.D{{Key: "chat_id", Value: chatID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var msgs []datatypes.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		msgs = append(msgs, docToMessage(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msgs, nil
}

// LastMessages returns the most recent n messages of a chat in sequence
// order. Used to rebuild conversation history for inference requests.
func (s *Storage) LastMessages(ctx context.Context, chatID int64, n int64) ([]datatypes.Message, error) {
	const op = "storage.mongodb.LastMessages"

	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: -1}}).
		SetLimit(n)
	cursor, err := s.messages.Find(ctx, bson.D{{Key: "chat_id", Value: chatID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var msgs []datatypes.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		msgs = append(msgs, docToMessage(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Reverse into ascending sequence order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteChatMessages removes all messages and the counter for a chat.
func (s *Storage) DeleteChatMessages(ctx context.Context, chatID int64) error {
	const op = "storage.mongodb.DeleteChatMessages"

	if _, err := s.messages.DeleteMany(ctx, bson.D{{Key: "chat_id", Value: chatID}}); err != nil {
		return fmt.Errorf("%s: messages: %w", op, err)
	}
	if _, err := s.counters.DeleteOne(ctx, bson.D{{Key: "_id", Value: counterID(chatID)}}); err != nil {
		return fmt.Errorf("%s: counter: %w", op, err)
	}
	return nil
}

func counterID(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

func docToMessage(doc messageDoc) datatypes.Message {
	return datatypes.Message{
		ID:          doc.ID,
		ChatID:      doc.ChatID,
		Sender:      datatypes.Sender(doc.Sender),
		Content:     doc.Content,
		ContentType: doc.ContentType,
		Sequence:    doc.Sequence,
		Sources:     doc.Sources,
		CreatedAt:   doc.CreatedAt,
	}
}
