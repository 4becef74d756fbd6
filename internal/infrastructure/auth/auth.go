// Package auth issues and validates the JWT bearer tokens the API uses to
// identify bidders and sellers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID    uuid.UUID
	Handle    string
	Moderator bool
}

// Claims is the JWT payload. Handle is the public display name; the
// moderator flag allows retracting other users' bids.
type Claims struct {
	Handle    string `json:"handle"`
	Moderator bool   `json:"moderator,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Service signs and verifies HMAC tokens.
type Service struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewService creates a token service. secret must be non-empty.
func NewService(secret string, expiry time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Service{
		secret: []byte(secret),
		expiry: expiry,
		issuer: "auction-exchange",
	}, nil
}

// GenerateToken issues a signed token for a user.
func (s *Service) GenerateToken(userID uuid.UUID, handle string, moderator bool) (string, error) {
	now := time.Now()
	claims := Claims{
		Handle:    handle,
		Moderator: moderator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a token and returns the identity it carries.
func (s *Service) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:    userID,
		Handle:    claims.Handle,
		Moderator: claims.Moderator,
	}, nil
}
