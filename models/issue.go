package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueCategory enum
type IssueCategory string

const (
	RoadDamage         IssueCategory = "road_damage"
	WasteOverflow      IssueCategory = "waste_overflow"
	StreetlightFailure IssueCategory = "streetlight_failure"
)

// Categories lists every category an issue can be filed under.
var Categories = []IssueCategory{RoadDamage, WasteOverflow, StreetlightFailure}

// IsValid reports whether c is one of the known categories.
func (c IssueCategory) IsValid() bool {
	switch c {
	case RoadDamage, WasteOverflow, StreetlightFailure:
		return true
	}
	return false
}

// IssueSeverity enum
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

func (s IssueSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IssueStatus enum
type IssueStatus string

const (
	Reported   IssueStatus = "reported"
	Verified   IssueStatus = "verified"
	Assigned   IssueStatus = "assigned"
	InProgress IssueStatus = "in_progress"
	Resolved   IssueStatus = "resolved"
	Rejected   IssueStatus = "rejected"
)

func (s IssueStatus) IsValid() bool {
	switch s {
	case Reported, Verified, Assigned, InProgress, Resolved, Rejected:
		return true
	}
	return false
}

// IsClosed reports whether the issue needs no further field work.
func (s IssueStatus) IsClosed() bool {
	return s == Resolved || s == Rejected
}

// Issue represents an infrastructure problem reported by a citizen
type Issue struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ReportedBy  primitive.ObjectID `bson:"reportedBy" json:"reportedBy"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Latitude    float64            `bson:"latitude" json:"latitude"`
	Longitude   float64            `bson:"longitude" json:"longitude"`
	Address     *string            `bson:"address,omitempty" json:"address,omitempty"`
	Category    IssueCategory      `bson:"category" json:"category"`
	Severity    IssueSeverity      `bson:"severity" json:"severity"`
	Status      IssueStatus        `bson:"status" json:"status"`
	Department  string             `bson:"department" json:"department"`

	ImageKey  *string `bson:"imageKey,omitempty" json:"imageKey,omitempty"`
	ImageHash string  `bson:"imageHash,omitempty" json:"-"`

	MLCategoryConfidence float64 `bson:"mlCategoryConfidence" json:"mlCategoryConfidence"`
	MLSeverityConfidence float64 `bson:"mlSeverityConfidence" json:"mlSeverityConfidence"`
	CategoryConflict     bool    `bson:"categoryConflict" json:"categoryConflict"`

	PriorityScore float64             `bson:"priorityScore" json:"priorityScore"`
	Upvotes       int                 `bson:"upvotes" json:"upvotes"`
	IsDuplicate   bool                `bson:"isDuplicate" json:"isDuplicate"`
	DuplicateOf   *primitive.ObjectID `bson:"duplicateOf,omitempty" json:"duplicateOf,omitempty"`

	ReportedAt time.Time  `bson:"reportedAt" json:"reportedAt"`
	VerifiedAt *time.Time `bson:"verifiedAt,omitempty" json:"verifiedAt,omitempty"`
	AssignedAt *time.Time `bson:"assignedAt,omitempty" json:"assignedAt,omitempty"`
	ResolvedAt *time.Time `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updatedAt"`

	// Version is bumped on every write and guards concurrent updates.
	Version int64 `bson:"version" json:"-"`
}

// HasFingerprint reports whether the issue carries an image fingerprint
// usable for duplicate matching.
func (i *Issue) HasFingerprint() bool {
	return i.ImageHash != ""
}

// CanTransitionTo reports whether an issue may move from its current status
// to next. Assignment is driven by the optimizer, never set directly.
func (i *Issue) CanTransitionTo(next IssueStatus) bool {
	switch i.Status {
	case Reported:
		return next == Verified || next == Rejected
	case Verified:
		return next == Rejected || next == Resolved
	case Assigned:
		return next == InProgress || next == Resolved || next == Rejected
	case InProgress:
		return next == Resolved || next == Rejected
	}
	return false
}
