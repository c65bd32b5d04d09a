// Package auth verifies the bearer tokens issued by the identity service and
// turns them into actors.
package auth

import (
	"errors"
	"time"

	"seawatch/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer             = "seawatch-identity"
	DefaultTokenExpiry = 24 * time.Hour
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidUserID = errors.New("token carries an invalid user id")
)

type Claims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	VesselName string `json:"vessel_name,omitempty"`
	VesselType string `json:"vessel_type,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the request actor. The role is taken
// as issued.
func (c *Claims) Actor() (model.Actor, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil || id == uuid.Nil {
		return model.Anonymous, ErrInvalidUserID
	}
	return model.Actor{
		ID:         id,
		Role:       model.Role(c.Role),
		Name:       c.Name,
		VesselName: c.VesselName,
		VesselType: c.VesselType,
	}, nil
}

// GenerateAccessToken signs an HS256 token for user. The identity service
// owns issuance; this is used by tooling and tests.
func GenerateAccessToken(user *model.User, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     user.ID.String(),
		Email:      user.Email,
		Name:       user.Name,
		Role:       string(user.Role),
		VesselName: user.VesselName,
		VesselType: user.VesselType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateAccessToken(tokenString string, secret string) (*Claims, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Authenticate verifies a raw token and returns its actor. Any failure is an
// authentication failure.
func Authenticate(tokenString, secret string) (model.Actor, error) {
	claims, err := ValidateAccessToken(tokenString, secret)
	if err != nil {
		return model.Anonymous, err
	}
	return claims.Actor()
}
