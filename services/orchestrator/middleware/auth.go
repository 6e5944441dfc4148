// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the counsel API.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "counsel_principal"

// TokenAuth authenticates API clients by static bearer tokens, each
// registered under a client name.
type TokenAuth struct {
	// digests maps sha256(token) to the client name.
	digests map[[sha256.Size]byte]string
}

// NewTokenAuth creates an authenticator from client name to token. Blank
// tokens are ignored. It returns nil when no token remains, meaning the
// API is open.
func NewTokenAuth(tokens map[string]string) *TokenAuth {
	digests := make(map[[sha256.Size]byte]string, len(tokens))
	for name, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		digests[sha256.Sum256([]byte(token))] = name
	}
	if len(digests) == 0 {
		return nil
	}
	return &TokenAuth{digests: digests}
}

// Authenticate returns the client name for token.
func (a *TokenAuth) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	for digest, name := range a.digests {
		if subtle.ConstantTimeCompare(digest[:], sum[:]) == 1 {
			return name, true
		}
	}
	return "", false
}

// AuthMiddleware rejects requests without a valid token. A nil auth lets
// every request through.
//
// # Description
//
// The token is read from "Authorization: Bearer <token>", or from the
// access_token query parameter since browsers cannot set headers on
// WebSocket upgrades. The authenticated client name is stored in the gin
// context, see GetPrincipal.
func AuthMiddleware(auth *TokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.Next()
			return
		}
		name, ok := auth.Authenticate(extractToken(c))
		if !ok {
			slog.Warn("Rejected unauthenticated request", "path", c.FullPath(), "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(principalKey, name)
		c.Next()
	}
}

// GetPrincipal returns the authenticated client name, or "" when the API is
// open.
func GetPrincipal(c *gin.Context) string {
	return c.GetString(principalKey)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(c.Query("access_token"))
}
