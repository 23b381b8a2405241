package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the storefront issues.
type Claims struct {
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller a verified token names.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// JWTManager signs and verifies HS256 access tokens.
type JWTManager struct {
	secret       []byte
	accessExpiry time.Duration
}

// NewJWTManager creates a manager for the given shared secret.
func NewJWTManager(secret string, accessExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:       []byte(secret),
		accessExpiry: accessExpiry,
	}
}

// GenerateAccessToken creates a signed access token for userID.
func (m *JWTManager) GenerateAccessToken(userID, email string, isAdmin bool) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:  userID,
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies signature and expiry and returns the caller.
// sub may be a string or a number; user_id is read when sub is absent.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claimString(claims["sub"])
	if userID == "" {
		userID = claimString(claims["user_id"])
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	email, _ := claims["email"].(string)
	isAdmin, _ := claims["isAdmin"].(bool)

	return &Identity{UserID: userID, Email: email, IsAdmin: isAdmin}, nil
}

// claimString accepts string and numeric claim values; some issuers encode
// numeric user ids in sub.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
