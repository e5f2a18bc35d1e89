// Package auth verifies and issues the bearer tokens clients present.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"chatrelay/backend/internal/models"
)

var (
	// ErrInvalidToken is returned when the token fails parsing or signature checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingClaims is returned when a valid token lacks the email or authorities claim.
	ErrMissingClaims = errors.New("token is missing email or authorities claim")
)

// Claims carried by relay tokens.
type Claims struct {
	Email       string      `json:"email"`
	Authorities Authorities `json:"authorities"`
	jwt.RegisteredClaims
}

// Authorities is the role claim. Issuers send either a single string or a
// list of granted authorities; a list is joined with ",".
type Authorities string

func (a *Authorities) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Authorities(single)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("authorities must be a string or a list of strings: %w", err)
	}
	*a = Authorities(strings.Join(list, ","))
	return nil
}

// Verifier turns a token into an Identity.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// JWTService signs and verifies HS256 tokens.
type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTService creates a JWTService. An empty issuer disables issuer checks.
func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify validates the token and extracts the caller identity.
func (s *JWTService) Verify(token string) (models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email == "" || claims.Authorities == "" {
		return models.Identity{}, ErrMissingClaims
	}

	return models.Identity{Subject: claims.Email, Role: string(claims.Authorities)}, nil
}

// Issue signs a token for email/role valid for ttl.
func (s *JWTService) Issue(email, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Email:       email,
		Authorities: Authorities(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
