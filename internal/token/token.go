package token

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
)

const issuerName = "dunning-engine"

// Claims identify the attempt a card-update link belongs to.
type Claims struct {
	TenantID  string `json:"tid"`
	InvoiceID string `json:"inv"`
	jwt.RegisteredClaims
}

// AttemptID is the attempt the token was issued for.
func (c *Claims) AttemptID() string {
	return c.Subject
}

// Issuer signs and verifies HS256 card-update tokens.
type Issuer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

func NewIssuer(secret string, baseURL string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("card update secret is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid card update base url: %w", err)
	}
	return &Issuer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// Generate signs a token for attempt that expires after expiryHours.
func (i *Issuer) Generate(attempt *domain.RetryAttempt, expiryHours int) (string, time.Time, error) {
	if attempt == nil || strings.TrimSpace(attempt.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	if expiryHours <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: expiry hours must be positive", domain.ErrValidation)
	}

	now := i.now().UTC()
	expiresAt := now.Add(time.Duration(expiryHours) * time.Hour)
	claims := Claims{
		TenantID:  attempt.TenantID,
		InvoiceID: attempt.InvoiceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuerName,
			Subject:   attempt.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign card update token: %w", err)
	}
	return signed, expiresAt, nil
}

// Link returns the card-update URL carrying a fresh token.
func (i *Issuer) Link(attempt *domain.RetryAttempt, expiryHours int) (string, error) {
	signed, _, err := i.Generate(attempt, expiryHours)
	if err != nil {
		return "", err
	}
	return i.baseURL + "?token=" + url.QueryEscape(signed), nil
}

// Verify parses tokenString. Expired tokens yield domain.ErrTokenExpired,
// anything else malformed or forged yields domain.ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuerName),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
