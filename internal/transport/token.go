package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is the validity window of the connect credential.
const tokenTTL = 24 * time.Hour

// mintToken signs the time-boxed claim set presented as the bearer
// credential on connect.
func mintToken(secret, companyID string, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("collector secret is not configured")
	}
	claims := jwt.MapClaims{
		"type":      "media-bot",
		"companyId": companyID,
		"iat":       now.Unix(),
		"exp":       now.Add(tokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign claim token: %w", err)
	}
	return signed, nil
}
