package cli

import (
	"time"

	"ride-hail-driver/internal/general/jwt"
)

// GenerateDriverToken signs a driver access token for local testing. The
// production agent receives its token from the auth backend at login.
func GenerateDriverToken(secret, driverID, accountID string, ttl time.Duration) (string, *jwt.Claims, error) {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	manager := jwt.NewManager(secret, ttl)
	return manager.IssueDriverToken(driverID, accountID)
}
