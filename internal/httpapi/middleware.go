// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/plateful/identity/internal/auth"
)

// userContextKey is where requireAuth stores the authenticated user.
const userContextKey = "httpapi.user"

// CurrentUser returns the authenticated user stored by requireAuth.
func CurrentUser(c *gin.Context) (*auth.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*auth.User)
	return user, ok
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// requireAuth verifies the bearer token and loads the current account.
// The role inside the token is only a snapshot; ValidateBearer re-reads
// it from storage so revocations and demotions take effect immediately.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error: apiError{Code: "TOKEN_INVALID", Message: "missing or malformed Authorization header"},
			})
			return
		}

		claims, err := s.verifier.VerifyAccess(token)
		if err != nil {
			writeError(c, err)
			return
		}

		user, err := s.sessions.ValidateBearer(c.Request.Context(), claims)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// requestMeta captures the audit fields recorded alongside issued tokens.
func requestMeta(c *gin.Context) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
