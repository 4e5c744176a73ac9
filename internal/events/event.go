// Package events carries lifecycle notifications to external collaborators (reviews, chat).
// Events are enqueued inside the transaction that caused them and published by a river worker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	TypeApplicationNegotiating = "application.negotiating"
	TypeBookingCompleted       = "booking.completed"
	TypeBookingResolvedHauler  = "booking.resolved_hauler"
	TypeBookingResolvedClient  = "booking.resolved_client"
	TypeBookingCancelled       = "booking.cancelled"
)

type Event struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	JobID         uuid.UUID  `json:"job_id"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	ApplicationID *uuid.UUID `json:"application_id,omitempty"`
	ClientID      uuid.UUID  `json:"client_id"`
	HaulerID      uuid.UUID  `json:"hauler_id"`
	ChatRoomID    string     `json:"chat_room_id,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Reviewable reports whether the review collaborator should act on the event.
func (e Event) Reviewable() bool {
	return e.Type == TypeBookingCompleted || e.Type == TypeBookingResolvedHauler || e.Type == TypeBookingResolvedClient
}

// EnqueueTxFunc enqueues an event within the given transaction. Provided by main using river.Client.InsertTx.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, e Event) error
