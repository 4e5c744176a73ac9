package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/money"
)

type JobStatus string

const (
	JobOpen              JobStatus = "open"
	JobAssigned          JobStatus = "assigned"
	JobInProgress        JobStatus = "in_progress"
	JobPendingCompletion JobStatus = "pending_completion"
	JobCompleted         JobStatus = "completed"
	JobCancelled         JobStatus = "cancelled"
)

// Job categories offered to clients.
var JobCategories = []string{
	"furniture_moving",
	"junk_removal",
	"appliance",
	"assembly",
	"heavy_lifting",
	"packing",
	"storage",
	"other",
}

func ValidCategory(c string) bool {
	for _, v := range JobCategories {
		if v == c {
			return true
		}
	}
	return false
}

type Job struct {
	ID              uuid.UUID    `json:"id"`
	ClientID        uuid.UUID    `json:"client_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Category        string       `json:"category"`
	Budget          money.Amount `json:"budget"`
	LocationAddress string       `json:"location_address"`
	City            string       `json:"city"`
	Lat             *float64     `json:"lat,omitempty"`
	Lng             *float64     `json:"lng,omitempty"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
	Status          JobStatus    `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// JobFilter narrows the open-job listing. Zero values mean "any".
type JobFilter struct {
	Category      string
	City          string
	MinBudget     money.Amount
	MaxBudget     money.Amount
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
}

func (f JobFilter) Match(j *Job) bool {
	if f.Category != "" && j.Category != f.Category {
		return false
	}
	if f.City != "" && !strings.Contains(strings.ToLower(j.City), strings.ToLower(f.City)) {
		return false
	}
	if f.MinBudget > 0 && j.Budget < f.MinBudget {
		return false
	}
	if f.MaxBudget > 0 && j.Budget > f.MaxBudget {
		return false
	}
	if f.ScheduledFrom != nil && j.ScheduledAt.Before(*f.ScheduledFrom) {
		return false
	}
	if f.ScheduledTo != nil && j.ScheduledAt.After(*f.ScheduledTo) {
		return false
	}
	return true
}

// JobCursor is a keyset position in the (created_at desc, id desc) ordering.
type JobCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// After reports whether j sorts strictly after the cursor.
func (c *JobCursor) After(j *Job) bool {
	if c == nil {
		return true
	}
	if !j.CreatedAt.Equal(c.CreatedAt) {
		return j.CreatedAt.Before(c.CreatedAt)
	}
	return j.ID.String() < c.ID.String()
}
