package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
)

type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(conversationsCollection)}
}

// FindOrCreate upserts on the unique pair_key. Two racing upserts can both miss
// the filter; the loser gets a duplicate key error and re-reads the winner.
// Inside a transaction the loser's transaction is already aborted, so the error
// is reported as uow.ErrConflict and the unit is replayed.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	doc, err := newConversationDocument(candidate)
	if err != nil {
		return nil, false, err
	}
	filter := bson.M{"pair_key": doc.PairKey}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored conversationDocument
	err = r.col.FindOneAndUpdate(ctx, filter, bson.M{"$setOnInsert": doc}, opts).Decode(&stored)
	if err != nil && inTransaction(ctx) && isWriteConflict(err) {
		return nil, false, fmt.Errorf("mongo: upsert conversation: %w: %v", uow.ErrConflict, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		err = r.col.FindOne(ctx, filter).Decode(&stored)
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo: upsert conversation: %w", err)
	}
	return stored.toAggregate(), stored.ID == doc.ID, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domainchat.ErrConversationNotFound
	}
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	return r.find(ctx, bson.M{"participants": userID})
}

func (r *ConversationRepository) ListAll(ctx context.Context) ([]*domainchat.Conversation, error) {
	return r.find(ctx, bson.M{})
}

func (r *ConversationRepository) Touch(ctx context.Context, conv *domainchat.Conversation) error {
	oid, err := primitive.ObjectIDFromHex(string(conv.ID))
	if err != nil {
		return domainchat.ErrConversationNotFound
	}
	update := bson.M{"$set": bson.M{"last_message": conv.LastMessage, "updated_at": conv.UpdatedAt.UTC()}}
	res, err := r.col.UpdateByID(ctx, oid, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) find(ctx context.Context, filter bson.M) ([]*domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainchat.Conversation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

type conversationDocument struct {
	ID           primitive.ObjectID `bson:"_id"`
	PairKey      string             `bson:"pair_key"`
	Participants []string           `bson:"participants"`
	ItemID       *string            `bson:"item_id"`
	ServiceID    *string            `bson:"service_id"`
	LastMessage  string             `bson:"last_message"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func newConversationDocument(c *domainchat.Conversation) (conversationDocument, error) {
	oid, err := primitive.ObjectIDFromHex(string(c.ID))
	if err != nil {
		return conversationDocument{}, fmt.Errorf("mongo: conversation id %q is not an object id: %w", c.ID, err)
	}
	return conversationDocument{
		ID:           oid,
		PairKey:      c.Key(),
		Participants: append([]string(nil), c.Participants...),
		ItemID:       optionalString(c.Scope.ItemID),
		ServiceID:    optionalString(c.Scope.ServiceID),
		LastMessage:  c.LastMessage,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}, nil
}

func (d conversationDocument) toAggregate() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:           domainchat.ConversationID(d.ID.Hex()),
		Participants: append([]string(nil), d.Participants...),
		LastMessage:  d.LastMessage,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.ItemID != nil {
		conv.Scope.ItemID = *d.ItemID
	}
	if d.ServiceID != nil {
		conv.Scope.ServiceID = *d.ServiceID
	}
	return conv
}

func inTransaction(ctx context.Context) bool {
	return mongo.SessionFromContext(ctx) != nil
}

func isWriteConflict(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(driverTransientLabel)
}

const driverTransientLabel = "TransientTransactionError"

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)
