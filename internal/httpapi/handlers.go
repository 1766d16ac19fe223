// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/pkg/errutil"
)

// userView is the wire shape of an account. The password hash never
// appears here by construction: auth.User does not carry it.
type userView struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	IsEmailVerified bool       `json:"is_email_verified"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:              u.ID.String(),
		Email:           u.Email,
		Name:            u.Name,
		Role:            string(u.Role),
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
	}
}

// sessionResponse carries an account plus its fresh token pair.
type sessionResponse struct {
	User   userView        `json:"user"`
	Tokens *auth.TokenPair `json:"tokens"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	user, tokens, err := s.sessions.Register(c.Request.Context(), auth.RegisterParams{
		Email:           req.Email,
		Name:            req.Name,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RegistrationsTotal.Inc()
	}
	c.JSON(http.StatusCreated, sessionResponse{User: viewOf(user), Tokens: tokens})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	user, tokens, err := s.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errutil.HasCode(err, "AUTH_INVALID_CREDENTIALS") {
			s.throttle.RecordFailure(c.ClientIP())
		}
		if s.metrics != nil {
			s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		}
		writeError(c, err)
		return
	}

	s.throttle.RecordSuccess(c.ClientIP())
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	}
	c.JSON(http.StatusOK, sessionResponse{User: viewOf(user), Tokens: tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	tokens, err := s.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		}
		writeError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.sessions.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	ack, err := s.resets.RequestReset(c.Request.Context(), req.Email, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}

	// Requested, not issued: unknown addresses get the same ack and must
	// not be distinguishable here either.
	if s.metrics != nil {
		s.metrics.SingleUseTokens.WithLabelValues("password_reset", "requested").Inc()
	}
	c.JSON(http.StatusOK, ack)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	ack, err := s.resets.ResetPassword(c.Request.Context(), req.Token, req.NewPassword)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.SingleUseTokens.WithLabelValues("password_reset", "consumed").Inc()
	}
	c.JSON(http.StatusOK, ack)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		writeError(c, nil)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	err := s.sessions.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (s *Server) handleSendVerification(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		writeError(c, nil)
		return
	}

	if err := s.verifications.SendVerification(c.Request.Context(), user.ID); err != nil {
		writeError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.SingleUseTokens.WithLabelValues("email_verification", "issued").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

type confirmVerificationRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleConfirmVerification(c *gin.Context) {
	var req confirmVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}

	if err := s.verifications.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		writeError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.SingleUseTokens.WithLabelValues("email_verification", "consumed").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

func (s *Server) handleMe(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		writeError(c, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": viewOf(user)})
}
