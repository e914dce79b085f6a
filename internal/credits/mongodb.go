package credits

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type purchaseDoc struct {
	OrderID   string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	PackageID string    `bson:"package_id"`
	Credits   int       `bson:"credits"`
	Status    string    `bson:"status"`
	SessionID string    `bson:"session_id"`
	CreatedAt time.Time `bson:"created_at"`
	PaidAt    time.Time `bson:"paid_at,omitempty"`
}

// NewMongoStore creates a new MongoDB-backed purchase store.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection("credit_purchases"),
	}
	userIndex := mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}}
	if _, err := store.coll.Indexes().CreateOne(ctx, userIndex); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create purchase indexes: %w", err)
	}
	return store, nil
}

// Create inserts the purchase document.
func (s *MongoStore) Create(ctx context.Context, p *Purchase) error {
	doc := purchaseDoc{
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		PackageID: p.PackageID,
		Credits:   p.Credits,
		Status:    p.Status,
		SessionID: p.SessionID,
		CreatedAt: p.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// Get returns the purchase or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, orderID string) (*Purchase, error) {
	var doc purchaseDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return &Purchase{
		OrderID:   doc.OrderID,
		UserID:    doc.UserID,
		PackageID: doc.PackageID,
		Credits:   doc.Credits,
		Status:    doc.Status,
		SessionID: doc.SessionID,
		CreatedAt: doc.CreatedAt,
		PaidAt:    doc.PaidAt,
	}, nil
}

// MarkPaid flips the document to PAID; the status filter is the
// idempotence gate.
func (s *MongoStore) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": orderID, "status": StatusCreated},
		bson.M{"$set": bson.M{"status": StatusPaid, "paid_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("mark purchase paid: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
