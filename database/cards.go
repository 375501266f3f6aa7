package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"cardtracker/models"
)

var ErrCardNotFound = errors.New("card not found")

const cardsCollection = "cards"

// CardStore keeps cards in MongoDB. Every write is a single-document
// operation and so is durable once it returns.
type CardStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewCardStore(db *mongo.Database) *CardStore {
	return &CardStore{coll: db.Collection(cardsCollection), now: time.Now}
}

func (s *CardStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "player_name", Value: 1}}},
		{Keys: bson.D{{Key: "sport", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create card indexes: %w", err)
	}
	return nil
}

// CreatePlaceholder inserts an empty pending card and returns its id.
func (s *CardStore) CreatePlaceholder(ctx context.Context) (string, error) {
	now := s.now().UTC()
	card := models.Card{
		ID:        bson.NewObjectID(),
		Status:    models.CardPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.coll.InsertOne(ctx, card); err != nil {
		return "", fmt.Errorf("insert card: %w", err)
	}
	return card.ID.Hex(), nil
}

// AttachImage records the stored image and makes the card visible in listings.
func (s *CardStore) AttachImage(ctx context.Context, id string, ref models.ImageRef) error {
	return s.update(ctx, id, bson.M{
		"image_path": ref.Path,
		"image_url":  ref.URL,
		"status":     models.CardReady,
	})
}

// MergeMetadata sets only the fields present in md, plus notes when non-empty.
func (s *CardStore) MergeMetadata(ctx context.Context, id string, md models.CardMetadata, notes string) error {
	set := bson.M{}
	for k, v := range md.Fields() {
		set[k] = v
	}
	if notes != "" {
		set["notes"] = notes
	}
	if len(set) == 0 {
		return nil
	}
	return s.update(ctx, id, set)
}

func (s *CardStore) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrCardNotFound
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (s *CardStore) Get(ctx context.Context, id string) (*models.Card, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrCardNotFound
	}
	var card models.Card
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&card); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("find card %s: %w", id, err)
	}
	return &card, nil
}

// List returns one page of finalized cards, newest first, and the total count.
// Pending placeholders are never listed.
func (s *CardStore) List(ctx context.Context, page, limit int) ([]models.Card, int64, error) {
	filter := bson.M{"status": models.CardReady}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count cards: %w", err)
	}

	findOptions := options.Find().
		SetSkip(skip(page, limit)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("find cards: %w", err)
	}
	defer cursor.Close(ctx)

	cards := []models.Card{}
	if err := cursor.All(ctx, &cards); err != nil {
		return nil, 0, fmt.Errorf("decode cards: %w", err)
	}
	return cards, total, nil
}

// skip is the number of documents before page, computed without overflow.
func skip(page, limit int) int64 {
	if page < 1 || limit < 1 {
		return 0
	}
	p, l := int64(page-1), int64(limit)
	if p > math.MaxInt64/l {
		return math.MaxInt64
	}
	return p * l
}

func (s *CardStore) update(ctx context.Context, id string, set bson.M) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrCardNotFound
	}
	set["updated_at"] = s.now().UTC()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update card %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrCardNotFound
	}
	return nil
}
