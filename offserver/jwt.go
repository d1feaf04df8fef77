// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/auth"
)

const tokenIssuer = "offsync"

// JWTAuth handles bearer JWT authentication
type JWTAuth struct {
	secret []byte
	logger *slog.Logger
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string, logger *slog.Logger) *JWTAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuth{secret: []byte(secret), logger: logger}
}

// JWTClaims identifies a user (sub) on one of their devices (did)
type JWTClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for userID on deviceID
func (j *JWTAuth) GenerateToken(userID, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken validates a token and returns its claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the caller in the context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "authorization header required")
			return
		}
		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || token == "" {
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "invalid authorization header format")
			return
		}

		claims, err := j.ValidateToken(token)
		if err != nil {
			tokenPrefix := token
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			j.logger.Warn("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "invalid token")
			return
		}

		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: claims.Subject, DeviceID: claims.DeviceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
