package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/models"
)

var errInvalidCredentials = apperr.Unauthenticated("invalid credentials")

type Service interface {
	Register(ctx context.Context, email, password, displayName string, role models.Role) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	// RequireActive loads the user and checks role and standing.
	RequireActive(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error)
	// RecordNoShow adds a strike to the hauler inside tx and escalates the account status.
	RecordNoShow(ctx context.Context, tx pgx.Tx, haulerID uuid.UUID) (*models.User, error)
}

type service struct {
	repo             Store
	secret           []byte
	strikeMultiplier int
	now              func() time.Time
	log              *slog.Logger
}

func NewService(repo Store, secret string, strikeMultiplier int, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	if strikeMultiplier < 1 {
		strikeMultiplier = 1
	}
	return &service{repo: repo, secret: []byte(secret), strikeMultiplier: strikeMultiplier, now: time.Now, log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Register(ctx context.Context, email, password, displayName string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("role must be client or hauler")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, apperr.Validation("invalid email")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &models.User{
		ID:               uuid.New(),
		Email:            strings.ToLower(addr.Address),
		DisplayName:      displayName,
		PasswordHash:     string(hash),
		Role:             role,
		VerificationTier: models.TierUnverified,
		Status:           models.AccountActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", errInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", errInvalidCredentials
	}
	if u.Status == models.AccountBanned {
		return "", apperr.Forbidden("account is banned")
	}
	return s.issueToken(u.ID, string(u.Role))
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(s.now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) RequireActive(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, apperr.Forbidden("only a %s can do this", role)
	}
	if !u.Status.CanTransact() {
		return nil, apperr.Forbidden("account is %s", u.Status)
	}
	return u, nil
}

func (s *service) RecordNoShow(ctx context.Context, tx pgx.Tx, haulerID uuid.UUID) (*models.User, error) {
	u, err := s.repo.GetForUpdate(ctx, tx, haulerID)
	if err != nil {
		return nil, err
	}
	u.NoShowCount++
	next := StandingAfterStrikes(u.NoShowCount, s.strikeMultiplier)
	if rank(next) > rank(u.Status) {
		u.Status = next
	}
	u.UpdatedAt = s.now()
	if err := s.repo.UpdateStanding(ctx, tx, u); err != nil {
		return nil, err
	}
	metrics.RecordTransition("account", string(u.Status))
	s.log.Info("no-show strike recorded", "user_id", u.ID, "no_show_count", u.NoShowCount, "account_status", u.Status)
	return u, nil
}

// StandingAfterStrikes maps a no-show count onto an account status. Thresholds scale with multiplier.
func StandingAfterStrikes(count, multiplier int) models.AccountStatus {
	switch {
	case count >= 5*multiplier:
		return models.AccountBanned
	case count >= 2*multiplier:
		return models.AccountSuspended
	case count >= multiplier:
		return models.AccountWarned
	}
	return models.AccountActive
}

func rank(s models.AccountStatus) int {
	switch s {
	case models.AccountWarned:
		return 1
	case models.AccountSuspended:
		return 2
	case models.AccountBanned:
		return 3
	}
	return 0
}
