package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "neighborhub/internal/domain/chat"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(messagesCollection)}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) error {
	doc, err := newMessageDocument(msg)
	if err != nil {
		return err
	}
	_, err = r.col.InsertOne(ctx, doc)
	return err
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return []*domainchat.Message{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"chat_id": oid}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainchat.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toMessage())
	}
	return out, nil
}

// MarkRead is a single filtered UpdateMany, so concurrent calls never flip a
// message twice and a repeat call modifies nothing.
func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, receiver string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return 0, nil
	}
	filter := bson.M{"chat_id": oid, "receiver": receiver, "read": false}
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *MessageRepository) UnreadCounts(ctx context.Context, receiver string, ids []domainchat.ConversationID) (map[domainchat.ConversationID]int, error) {
	counts := make(map[domainchat.ConversationID]int, len(ids))
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(string(id)); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return counts, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"chat_id": bson.M{"$in": oids}, "receiver": receiver, "read": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$chat_id", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo: unread aggregation: %w", err)
	}
	var rows []struct {
		ID    primitive.ObjectID `bson:"_id"`
		Count int                `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[domainchat.ConversationID(row.ID.Hex())] = row.Count
	}
	return counts, nil
}

type messageDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	ChatID    primitive.ObjectID `bson:"chat_id"`
	Sender    string             `bson:"sender"`
	Receiver  string             `bson:"receiver"`
	Text      string             `bson:"text"`
	Media     string             `bson:"media"`
	Read      bool               `bson:"read"`
	CreatedAt time.Time          `bson:"created_at"`
}

func newMessageDocument(m *domainchat.Message) (messageDocument, error) {
	id, err := primitive.ObjectIDFromHex(string(m.ID))
	if err != nil {
		return messageDocument{}, fmt.Errorf("mongo: message id %q is not an object id: %w", m.ID, err)
	}
	chatID, err := primitive.ObjectIDFromHex(string(m.ConversationID))
	if err != nil {
		return messageDocument{}, fmt.Errorf("mongo: conversation id %q is not an object id: %w", m.ConversationID, err)
	}
	return messageDocument{
		ID:        id,
		ChatID:    chatID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Text:      m.Content.Text,
		Media:     m.Content.Media,
		Read:      m.Read,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

func (d messageDocument) toMessage() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID.Hex()),
		ConversationID: domainchat.ConversationID(d.ChatID.Hex()),
		Sender:         d.Sender,
		Receiver:       d.Receiver,
		Content:        domainchat.Content{Text: d.Text, Media: d.Media},
		Read:           d.Read,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

var _ domainchat.MessageRepository = (*MessageRepository)(nil)
