package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultEstimatedDuration is used for every assignment created by the optimizer.
const DefaultEstimatedDuration = 60

// Assignment links one issue to one crew
type Assignment struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue      primitive.ObjectID `bson:"issue" json:"issue"`
	Crew       primitive.ObjectID `bson:"crew" json:"crew"`
	AssignedAt time.Time          `bson:"assignedAt" json:"assignedAt"`
	StartedAt  *time.Time         `bson:"startedAt,omitempty" json:"startedAt,omitempty"`

	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Completed   bool       `bson:"completed" json:"completed"`

	// Durations are in minutes.
	EstimatedDuration int  `bson:"estimatedDuration" json:"estimatedDuration"`
	ActualDuration    *int `bson:"actualDuration,omitempty" json:"actualDuration,omitempty"`
}

// Complete closes the assignment at now and records how long the work took,
// measured from the start time when the crew reported one.
func (a *Assignment) Complete(now time.Time) {
	from := a.AssignedAt
	if a.StartedAt != nil {
		from = *a.StartedAt
	}
	minutes := int(now.Sub(from).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	a.Completed = true
	a.CompletedAt = &now
	a.ActualDuration = &minutes
}
