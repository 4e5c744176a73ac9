package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/money"
)

type BookingStatus string

const (
	BookingAssigned          BookingStatus = "assigned"
	BookingInProgress        BookingStatus = "in_progress"
	BookingPendingCompletion BookingStatus = "pending_completion"
	BookingCompleted         BookingStatus = "completed"
	BookingDisputed          BookingStatus = "disputed"
	BookingResolvedHauler    BookingStatus = "resolved_hauler"
	BookingResolvedClient    BookingStatus = "resolved_client"
	BookingCancelled         BookingStatus = "cancelled"
)

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingResolvedHauler, BookingResolvedClient, BookingCancelled:
		return true
	}
	return false
}

// JobStatus is the job status mirrored from a booking in status s.
func (s BookingStatus) JobStatus() JobStatus {
	switch s {
	case BookingAssigned:
		return JobAssigned
	case BookingInProgress:
		return JobInProgress
	case BookingPendingCompletion, BookingDisputed:
		return JobPendingCompletion
	case BookingCompleted, BookingResolvedHauler:
		return JobCompleted
	default:
		return JobCancelled
	}
}

type EvidenceKind string

const (
	EvidencePickup  EvidenceKind = "pickup"
	EvidenceDropoff EvidenceKind = "dropoff"
)

type Evidence struct {
	ID           uuid.UUID    `json:"id"`
	BookingID    uuid.UUID    `json:"booking_id"`
	Kind         EvidenceKind `json:"kind"`
	ArtifactRef  string       `json:"artifact_ref"`
	Lat          *float64     `json:"lat,omitempty"`
	Lng          *float64     `json:"lng,omitempty"`
	CapturedAt   time.Time    `json:"captured_at"`
	SupersededAt *time.Time   `json:"superseded_at,omitempty"`
}

type AmendmentStatus string

const (
	AmendmentPending  AmendmentStatus = "pending"
	AmendmentAccepted AmendmentStatus = "accepted"
	AmendmentRejected AmendmentStatus = "rejected"
)

type Amendment struct {
	ID             uuid.UUID       `json:"id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	ProposedAmount money.Amount    `json:"proposed_amount"`
	PreviousAmount money.Amount    `json:"previous_amount"`
	Reason         string          `json:"reason"`
	Status         AmendmentStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	RespondedAt    *time.Time      `json:"responded_at,omitempty"`
}

type Booking struct {
	ID                uuid.UUID     `json:"id"`
	JobID             uuid.UUID     `json:"job_id"`
	ApplicationID     uuid.UUID     `json:"application_id"`
	ClientID          uuid.UUID     `json:"client_id"`
	HaulerID          uuid.UUID     `json:"hauler_id"`
	Amount            money.Amount  `json:"amount"`
	Status            BookingStatus `json:"status"`
	PickupCode        string        `json:"-"`
	PickupAttempts    int           `json:"-"`
	PickupLockedUntil *time.Time    `json:"pickup_locked_until,omitempty"`
	ScheduledAt       time.Time     `json:"scheduled_at"`
	EscrowLockedAt    time.Time     `json:"escrow_locked_at"`
	PickupConfirmedAt *time.Time    `json:"pickup_confirmed_at,omitempty"`
	HaulerMarkedDone  *time.Time    `json:"hauler_marked_done_at,omitempty"`
	DisputeOpenedAt   *time.Time    `json:"dispute_opened_at,omitempty"`
	DisputeReason     string        `json:"dispute_reason,omitempty"`
	ResolutionNote    string        `json:"resolution_note,omitempty"`
	AutoReleaseAt     *time.Time    `json:"auto_release_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Evidence          []Evidence    `json:"evidence"`
	Amendments        []Amendment   `json:"amendments"`
}

// CurrentEvidence returns the live (not superseded) evidence of the given kind.
func (b *Booking) CurrentEvidence(kind EvidenceKind) *Evidence {
	for i := range b.Evidence {
		e := &b.Evidence[i]
		if e.Kind == kind && e.SupersededAt == nil {
			return e
		}
	}
	return nil
}

func (b *Booking) Amendment(id uuid.UUID) *Amendment {
	for i := range b.Amendments {
		if b.Amendments[i].ID == id {
			return &b.Amendments[i]
		}
	}
	return nil
}

func (b *Booking) Participant(userID uuid.UUID) bool {
	return b.ClientID == userID || b.HaulerID == userID
}
