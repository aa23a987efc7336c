package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PriorityScore is the auditable breakdown behind an issue's priority.
type PriorityScore struct {
	Issue         primitive.ObjectID `bson:"_id" json:"issue"`
	SeverityScore float64            `bson:"severityScore" json:"severityScore"`
	AgeScore      float64            `bson:"ageScore" json:"ageScore"`
	UpvoteScore   float64            `bson:"upvoteScore" json:"upvoteScore"`
	RiskScore     float64            `bson:"riskScore" json:"riskScore"`
	TotalScore    float64            `bson:"totalScore" json:"totalScore"`
	CalculatedAt  time.Time          `bson:"calculatedAt" json:"calculatedAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}
