// Package receipt issues signed consent receipts so edge services can check
// a visitor's choices without reading the consent store.
package receipt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"consentkit/internal/consent/models"
	dErrors "consentkit/pkg/domain-errors"
)

// Claims is the JWT body of a consent receipt.
type Claims struct {
	Outcome   models.Outcome `json:"outcome"`
	Necessary bool           `json:"necessary"`
	Analytics bool           `json:"analytics"`
	Marketing bool           `json:"marketing"`
	DecidedAt string         `json:"decided_at"`
	jwt.RegisteredClaims
}

// Record rebuilds the consent record carried by the receipt.
func (c *Claims) Record() (*models.Record, error) {
	decidedAt, err := time.Parse(time.RFC3339Nano, c.DecidedAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid receipt timestamp")
	}
	return models.NewRecord(models.Selection{Analytics: c.Analytics, Marketing: c.Marketing}, decidedAt), nil
}

// Issuer signs and verifies receipts with HS256.
type Issuer struct {
	signingKey []byte
	issuer     string
	retention  time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the clock used for issued-at and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithRetention bounds how long a receipt stays valid after the decision.
func WithRetention(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.retention = d
		}
	}
}

func NewIssuer(signingKey, issuer string, opts ...Option) *Issuer {
	i := &Issuer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		retention:  models.DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a receipt for rec. It expires together with the record.
func (i *Issuer) Issue(clientID string, outcome models.Outcome, rec *models.Record) (string, error) {
	if rec == nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "consent record is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Outcome:   outcome,
		Necessary: true,
		Analytics: rec.Analytics,
		Marketing: rec.Marketing,
		DecidedAt: rec.Timestamp.UTC().Format(models.TimestampLayout),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(rec.Timestamp.Add(i.retention)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign consent receipt")
	}
	return signed, nil
}

// Verify checks the signature, issuer, and expiry of a receipt.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "consent receipt has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid consent receipt")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || !claims.Necessary {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid consent receipt")
	}
	return claims, nil
}
