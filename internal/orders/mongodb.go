package orders

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

// orderDoc is the BSON shape of an order document.
type orderDoc struct {
	ID           string             `bson:"_id"`
	Status       string             `bson:"status"`
	CreatorID    string             `bson:"creator_id"`
	AmountNeeded float64            `bson:"amount_needed"`
	PledgeMap    map[string]float64 `bson:"pledge_map"`
	TotalPledge  float64            `bson:"total_pledge"`
	TotalUsers   int                `bson:"total_users"`
	Platform     string             `bson:"platform"`
	Latitude     float64            `bson:"latitude"`
	Longitude    float64            `bson:"longitude"`
	ExpiresAt    time.Time          `bson:"expires_at"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed order store.
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
		coll:   client.Database(database).Collection("orders"),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "creator_id", Value: 1}}},
	}
	if _, err := store.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create order indexes: %w", err)
	}

	return store, nil
}

func toDoc(o *Order) orderDoc {
	return orderDoc{
		ID:           o.ID,
		Status:       string(o.Status),
		CreatorID:    o.CreatorID,
		AmountNeeded: o.AmountNeeded,
		PledgeMap:    o.PledgeMap,
		TotalPledge:  o.TotalPledge,
		TotalUsers:   o.TotalUsers,
		Platform:     o.Platform,
		Latitude:     o.Latitude,
		Longitude:    o.Longitude,
		ExpiresAt:    o.ExpiresAt,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	}
}

func fromDoc(d orderDoc) *Order {
	pledges := d.PledgeMap
	if pledges == nil {
		pledges = map[string]float64{}
	}
	return &Order{
		ID:           d.ID,
		Status:       Status(d.Status),
		CreatorID:    d.CreatorID,
		AmountNeeded: d.AmountNeeded,
		PledgeMap:    pledges,
		TotalPledge:  d.TotalPledge,
		TotalUsers:   d.TotalUsers,
		Platform:     d.Platform,
		Latitude:     d.Latitude,
		Longitude:    d.Longitude,
		ExpiresAt:    d.ExpiresAt,
		CreatedAt:    d.CreatedAt,
	}
}

// Insert creates the order document.
func (s *MongoStore) Insert(ctx context.Context, order *Order) error {
	if _, err := s.coll.InsertOne(ctx, toDoc(order)); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdatePledge replaces the mutable fields after a successful pledge.
func (s *MongoStore) UpdatePledge(ctx context.Context, orderID string, pledgeMap map[string]float64, totalPledge float64, totalUsers int, status Status) error {
	res, err := s.coll.UpdateByID(ctx, orderID, bson.M{"$set": bson.M{
		"pledge_map":   pledgeMap,
		"total_pledge": totalPledge,
		"total_users":  totalUsers,
		"status":       string(status),
		"updated_at":   time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update order pledge: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired flips the document from ACTIVE to EXPIRED; the status filter is
// the idempotence gate.
func (s *MongoStore) MarkExpired(ctx context.Context, orderID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": orderID, "status": string(StatusActive)},
		bson.M{"$set": bson.M{"status": string(StatusExpired), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("mark order expired: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// Get returns the order or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	var doc orderDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return fromDoc(doc), nil
}

// ListActive returns every ACTIVE order.
func (s *MongoStore) ListActive(ctx context.Context) ([]*Order, error) {
	cur, err := s.coll.Find(ctx, bson.M{"status": string(StatusActive)})
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Order
	for cur.Next(ctx) {
		var doc orderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, fromDoc(doc))
	}
	return out, cur.Err()
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
