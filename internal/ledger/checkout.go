package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/money"
)

// SignatureHeader carries the payment collaborator's signature on the capture callback.
const SignatureHeader = "X-Checkout-Signature"

// signatureTolerance bounds the age of a signed callback.
const signatureTolerance = 5 * time.Minute

// Checkout is the boundary to the hosted payment page. A deposit yields a signed handle; the payment
// collaborator posts the handle back once the card is captured, signing the request body with the webhook
// secret. The handle is only the idempotency reference: holding it does not authorize a capture.
type Checkout struct {
	baseURL       string
	secret        []byte
	webhookSecret []byte
	ttl           time.Duration
	now           func() time.Time
}

func NewCheckout(baseURL, secret, webhookSecret string, ttl time.Duration) *Checkout {
	return &Checkout{
		baseURL:       baseURL,
		secret:        []byte(secret),
		webhookSecret: []byte(webhookSecret),
		ttl:           ttl,
		now:           time.Now,
	}
}

type checkoutClaims struct {
	jwt.RegisteredClaims
	AmountCents int64 `json:"amt"`
}

type Session struct {
	HandleID    string    `json:"handle_id"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Start signs a handle for the deposit and returns the redirect URL carrying it.
func (c *Checkout) Start(userID uuid.UUID, amount money.Amount) (*Session, error) {
	now := c.now()
	handle := uuid.NewString()
	claims := checkoutClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        handle,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		AmountCents: amount.Cents(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign checkout handle: %w", err)
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("checkout base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return &Session{HandleID: handle, CheckoutURL: u.String(), ExpiresAt: now.Add(c.ttl)}, nil
}

// Capture is a verified checkout handle.
type Capture struct {
	HandleID string
	UserID   uuid.UUID
	Amount   money.Amount
}

func (c Capture) ExternalRef() string { return "checkout:" + c.HandleID }

func (c *Checkout) Verify(token string) (*Capture, error) {
	claims := &checkoutClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil || !tok.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Validation("checkout handle expired")
		}
		return nil, apperr.Validation("invalid checkout handle")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.ID == "" || claims.AmountCents <= 0 {
		return nil, apperr.Validation("invalid checkout handle")
	}
	return &Capture{HandleID: claims.ID, UserID: userID, Amount: money.Amount(claims.AmountCents)}, nil
}

// Sign returns the signature header value for body, in the form "t=<unix>,v1=<hex hmac-sha256>". The
// payment collaborator computes the same value with the shared webhook secret.
func (c *Checkout) Sign(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(c.mac(ts, body))
}

// VerifySignature checks header against body. An unset webhook secret rejects every callback.
func (c *Checkout) VerifySignature(body []byte, header string) error {
	if len(c.webhookSecret) == 0 {
		return apperr.Unauthenticated("checkout callbacks are not configured")
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return apperr.Unauthenticated("malformed checkout signature")
	}
	if age := c.now().Sub(time.Unix(unix, 0)); age > signatureTolerance || age < -signatureTolerance {
		return apperr.Unauthenticated("checkout signature timestamp outside tolerance")
	}
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.mac(ts, body)) {
		return apperr.Unauthenticated("checkout signature mismatch")
	}
	return nil
}

func (c *Checkout) mac(ts string, body []byte) []byte {
	m := hmac.New(sha256.New, c.webhookSecret)
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}
