package models

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationPending     ApplicationStatus = "pending"
	ApplicationNegotiating ApplicationStatus = "negotiating"
	ApplicationAccepted    ApplicationStatus = "accepted"
	ApplicationRejected    ApplicationStatus = "rejected"
)

type Application struct {
	ID         uuid.UUID         `json:"id"`
	JobID      uuid.UUID         `json:"job_id"`
	HaulerID   uuid.UUID         `json:"hauler_id"`
	Proposal   string            `json:"proposal"`
	Status     ApplicationStatus `json:"status"`
	ChatRoomID *string           `json:"chat_room_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
