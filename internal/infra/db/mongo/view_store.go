package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	domainanalytics "neighborhub/internal/domain/analytics"
)

// ViewStore appends product views to the product_views collection. The view id
// is the document id, so a redelivered view is stored once.
type ViewStore struct {
	col *mongo.Collection
}

func NewViewStore(db *mongo.Database) *ViewStore {
	return &ViewStore{col: db.Collection(viewsCollection)}
}

func (s *ViewStore) StoreView(ctx context.Context, view domainanalytics.ProductView) error {
	doc := viewDocument{
		ID:          view.ID,
		ProductID:   view.ProductID,
		ProductType: string(view.ProductType),
		ViewerRole:  string(view.ViewerRole),
		Timestamp:   view.Timestamp.UTC(),
	}
	if view.ViewedBy != "" {
		doc.ViewedBy = &view.ViewedBy
	}
	_, err := s.col.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

type viewDocument struct {
	ID          string    `bson:"_id"`
	ProductID   string    `bson:"product_id"`
	ProductType string    `bson:"product_type"`
	ViewedBy    *string   `bson:"viewed_by"`
	ViewerRole  string    `bson:"viewer_role"`
	Timestamp   time.Time `bson:"timestamp"`
}

var _ domainanalytics.Sink = (*ViewStore)(nil)
