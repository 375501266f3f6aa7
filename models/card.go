package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type CardStatus string

const (
	// CardPending marks a placeholder created at the start of an ingestion.
	CardPending CardStatus = "pending"
	CardReady   CardStatus = "ready"
)

// Card is a single physical trading card in the collection.
type Card struct {
	ID           bson.ObjectID `json:"id" bson:"_id,omitempty"`
	CardMetadata `bson:",inline"`
	Notes        *string    `json:"notes,omitempty" bson:"notes,omitempty"`
	ImagePath    string     `json:"image_path,omitempty" bson:"image_path,omitempty"` // record scoped: {card_id}/{file}
	ImageURL     string     `json:"image_url,omitempty" bson:"image_url,omitempty"`
	SignedURL    string     `json:"signed_url,omitempty" bson:"-"`
	Status       CardStatus `json:"status" bson:"status"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}

// ImageRef addresses exactly one stored image.
type ImageRef struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}
