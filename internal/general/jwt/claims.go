package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// RoleDriver is the only role this agent authenticates as.
const RoleDriver = "DRIVER"

// Claims defines the canonical driver-token payload. Subject carries the
// driver (profile) id; AccountID carries the auth identity, which may differ.
type Claims struct {
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
	jwtlib.RegisteredClaims
}

// ensure Claims implements jwtlib.Claims interface
var _ jwtlib.Claims = (*Claims)(nil)

// NewDriverClaims constructs claims for a driver profile.
func NewDriverClaims(driverID, accountID string, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role:      RoleDriver,
		AccountID: accountID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   driverID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
