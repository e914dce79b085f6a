package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type userDoc struct {
	ID          string    `bson:"_id"`
	PhoneNumber string    `bson:"phone_number"`
	PushToken   string    `bson:"push_token"`
	Credits     int       `bson:"credits"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed user store.
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
		coll:   client.Database(database).Collection("users"),
	}

	phoneIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "phone_number", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := store.coll.Indexes().CreateOne(ctx, phoneIndex); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create user indexes: %w", err)
	}

	return store, nil
}

func fromUserDoc(d userDoc) *User {
	return &User{
		ID:          d.ID,
		PhoneNumber: d.PhoneNumber,
		PushToken:   d.PushToken,
		Credits:     d.Credits,
		CreatedAt:   d.CreatedAt,
	}
}

// GetOrCreateByPhone returns the user for the phone number, inserting on first
// sight. The unique index on phone_number arbitrates concurrent first logins;
// the loser of the race falls back to reading the winner's document.
func (s *MongoStore) GetOrCreateByPhone(ctx context.Context, phone string, defaultCredits int) (*User, bool, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, bson.M{"phone_number": phone}).Decode(&doc)
	if err == nil {
		return fromUserDoc(doc), false, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, fmt.Errorf("get user by phone: %w", err)
	}

	now := time.Now().UTC()
	doc = userDoc{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Credits:     defaultCredits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if err := s.coll.FindOne(ctx, bson.M{"phone_number": phone}).Decode(&doc); err != nil {
				return nil, false, fmt.Errorf("get user after duplicate insert: %w", err)
			}
			return fromUserDoc(doc), false, nil
		}
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	return fromUserDoc(doc), true, nil
}

// Get returns the user or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, userID string) (*User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return fromUserDoc(doc), nil
}

// SetPushToken records the device push token.
func (s *MongoStore) SetPushToken(ctx context.Context, userID, token string) error {
	res, err := s.coll.UpdateByID(ctx, userID, bson.M{"$set": bson.M{
		"push_token": token,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set push token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// PhoneNumbers resolves user IDs to phone numbers.
func (s *MongoStore) PhoneNumbers(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("resolve phone numbers: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out[doc.ID] = doc.PhoneNumber
	}
	return out, cur.Err()
}

// TryDebit subtracts n credits only when the balance covers it.
func (s *MongoStore) TryDebit(ctx context.Context, userID string, n int) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "credits": bson.M{"$gte": n}},
		bson.M{"$inc": bson.M{"credits": -n}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	count, err := s.coll.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, fmt.Errorf("debit credits: check user: %w", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// Credit adds n credits to the balance.
func (s *MongoStore) Credit(ctx context.Context, userID string, n int) error {
	res, err := s.coll.UpdateByID(ctx, userID, bson.M{
		"$inc": bson.M{"credits": n},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("credit user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Credits returns the current balance.
func (s *MongoStore) Credits(ctx context.Context, userID string) (int, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
