package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Upvote records a duplicate report that was merged into a canonical issue
// instead of becoming an issue of its own.
type Upvote struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue      primitive.ObjectID `bson:"issue" json:"issue"`
	User       primitive.ObjectID `bson:"user" json:"user"`
	Similarity float64            `bson:"similarity" json:"similarity"`
	DistanceKm float64            `bson:"distanceKm" json:"distanceKm"`
	// ImageKey is the merged report's own photo, if one was stored.
	ImageKey  *string   `bson:"imageKey,omitempty" json:"imageKey,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
