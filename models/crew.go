package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CrewStatus enum
type CrewStatus string

const (
	CrewAvailable CrewStatus = "available"
	CrewAssigned  CrewStatus = "assigned"
	CrewBusy      CrewStatus = "busy"
	CrewOffline   CrewStatus = "offline"
)

func (s CrewStatus) IsValid() bool {
	switch s {
	case CrewAvailable, CrewAssigned, CrewBusy, CrewOffline:
		return true
	}
	return false
}

// Crew is a field team that can be dispatched to issues
type Crew struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Department  string             `bson:"department" json:"department"`
	Phone       string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Email       string             `bson:"email,omitempty" json:"email,omitempty"`
	Latitude    *float64           `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude   *float64           `bson:"longitude,omitempty" json:"longitude,omitempty"`
	Status      CrewStatus         `bson:"status" json:"status"`
	Capacity    int                `bson:"capacity" json:"capacity"`
	CurrentLoad int                `bson:"currentLoad" json:"currentLoad"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
	Version     int64              `bson:"version" json:"-"`
}

// Position returns the crew's last known coordinates. ok is false when the
// crew has not reported a location yet.
func (c *Crew) Position() (lat, lon float64, ok bool) {
	if c.Latitude == nil || c.Longitude == nil {
		return 0, 0, false
	}
	return *c.Latitude, *c.Longitude, true
}

// FreeSlots is the number of additional assignments the crew can take.
func (c *Crew) FreeSlots() int {
	if free := c.Capacity - c.CurrentLoad; free > 0 {
		return free
	}
	return 0
}

// AddLoad records n new active assignments and flips the crew to busy once
// it is at capacity.
func (c *Crew) AddLoad(n int) {
	c.CurrentLoad += n
	if c.CurrentLoad >= c.Capacity {
		c.Status = CrewBusy
	}
}

// ReleaseLoad records a finished assignment. A busy crew becomes available
// again as soon as it drops below capacity.
func (c *Crew) ReleaseLoad() {
	if c.CurrentLoad > 0 {
		c.CurrentLoad--
	}
	if c.Status == CrewBusy && c.CurrentLoad < c.Capacity {
		c.Status = CrewAvailable
	}
}
