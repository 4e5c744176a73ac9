package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleClient Role = "client"
	RoleHauler Role = "hauler"
)

func (r Role) Valid() bool { return r == RoleClient || r == RoleHauler }

// Verification tiers are set by the identity collaborator; the core only stores them.
const (
	TierUnverified    = "unverified"
	TierPhoneVerified = "phone_verified"
	TierIDVerified    = "id_verified"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountWarned    AccountStatus = "warned"
	AccountSuspended AccountStatus = "suspended"
	AccountBanned    AccountStatus = "banned"
)

// CanTransact reports whether the user may post, apply or hire.
func (s AccountStatus) CanTransact() bool {
	return s == AccountActive || s == AccountWarned
}

type User struct {
	ID               uuid.UUID     `json:"id"`
	Email            string        `json:"email"`
	DisplayName      string        `json:"display_name"`
	PasswordHash     string        `json:"-"`
	Role             Role          `json:"role"`
	VerificationTier string        `json:"verification_tier"`
	Status           AccountStatus `json:"account_status"`
	NoShowCount      int           `json:"no_show_count"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
