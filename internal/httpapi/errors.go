// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plateful/identity/pkg/errutil"
)

// apiError is the wire shape of a failed request.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse wraps apiError for the response body.
type errorResponse struct {
	Error apiError `json:"error"`
}

// statusFor maps a service error code to the HTTP status and the message
// exposed to clients. Internal error details never leave the process:
// everything unmapped collapses to a generic 500.
func statusFor(code string) (int, string) {
	switch code {
	case "AUTH_INVALID_CREDENTIALS":
		return http.StatusUnauthorized, "invalid email or password"
	case "AUTH_PASSWORD_INCORRECT":
		return http.StatusUnauthorized, "current password is incorrect"
	case "AUTH_REFRESH_INVALID":
		return http.StatusUnauthorized, "invalid or expired refresh token"
	case "TOKEN_INVALID":
		return http.StatusUnauthorized, "invalid or expired token"
	case "AUTH_ACCOUNT_DEACTIVATED":
		return http.StatusForbidden, "account is deactivated"
	case "AUTH_USER_NOT_FOUND":
		return http.StatusNotFound, "user not found"
	case "AUTH_EMAIL_EXISTS":
		return http.StatusConflict, "email is already registered"
	case "AUTH_ALREADY_VERIFIED":
		return http.StatusConflict, "email is already verified"
	case "AUTH_PASSWORD_MISMATCH":
		return http.StatusBadRequest, "passwords do not match"
	case "AUTH_INVALID_EMAIL":
		return http.StatusBadRequest, "invalid email address"
	case "AUTH_INVALID_PASSWORD":
		return http.StatusBadRequest, "password must be 8 to 128 characters"
	case "AUTH_INVALID_NAME":
		return http.StatusBadRequest, "invalid name"
	case "AUTH_INVALID_REQUEST", "AUTH_EMPTY_PASSWORD":
		return http.StatusBadRequest, "invalid request"
	case "TOKEN_INVALID_OR_EXPIRED":
		return http.StatusBadRequest, "invalid or expired token"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError converts a service error into the JSON error response and
// aborts the request.
func writeError(c *gin.Context, err error) {
	code := errutil.Code(err)
	status, msg := statusFor(code)
	if status == http.StatusInternalServerError {
		// Don't echo internal codes; clients only need to know it failed.
		code = "INTERNAL"
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeBindError reports a malformed request body.
func writeBindError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error: apiError{Code: "AUTH_INVALID_REQUEST", Message: "invalid request body"},
	})
}
