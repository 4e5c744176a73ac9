// Package chat is the boundary to the chat transport. The core only needs room identifiers.
package chat

import (
	"context"

	"github.com/google/uuid"
)

// Rooms opens the negotiation room for an application.
type Rooms interface {
	OpenRoom(ctx context.Context, applicationID, clientID, haulerID uuid.UUID) (string, error)
}

var roomNamespace = uuid.MustParse("6f1b7c3e-2d44-4f0e-9a55-8c1d2e3f4a5b")

// DerivedRooms derives a stable room id from the application id; the chat transport creates the room
// on first use when it receives the application.negotiating event.
type DerivedRooms struct{}

func (DerivedRooms) OpenRoom(_ context.Context, applicationID, _, _ uuid.UUID) (string, error) {
	return "room_" + uuid.NewSHA1(roomNamespace, applicationID[:]).String(), nil
}
