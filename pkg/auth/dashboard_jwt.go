// Package auth issues and verifies the bearer tokens that guard dashboard endpoints.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "variantlab"

// Viewer is the authenticated dashboard user
type Viewer struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// ExtractToken extracts the JWT token from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}

// DashboardAuth signs and verifies HS256 dashboard tokens
type DashboardAuth struct {
	SecretKey   []byte
	TokenExpiry time.Duration // Default: 12 hours
}

// NewDashboardAuth creates a new token authority
func NewDashboardAuth(secretKey string, expiry time.Duration) (*DashboardAuth, error) {
	if secretKey == "" {
		return nil, errors.New("JWT secret key cannot be empty")
	}
	if expiry == 0 {
		expiry = 12 * time.Hour
	}

	return &DashboardAuth{
		SecretKey:   []byte(secretKey),
		TokenExpiry: expiry,
	}, nil
}

// Claims represents the JWT token claims
type Claims struct {
	ViewerID string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for a dashboard viewer
func (a *DashboardAuth) GenerateToken(viewerID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		ViewerID: viewerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyToken verifies a token and returns the viewer
func (a *DashboardAuth) VerifyToken(tokenString string) (*Viewer, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &Viewer{ID: claims.ViewerID, Role: claims.Role}, nil
	}

	return nil, errors.New("invalid token")
}
