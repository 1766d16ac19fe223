// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/oklog/ulid/v2"
)

// apiResponse bundles a decoded JSON body with its HTTP status.
type apiResponse struct {
	status int
	body   map[string]any
}

// post sends a JSON request to the API and decodes the JSON response.
func post(path string, payload map[string]any, headers ...string) apiResponse {
	GinkgoHelper()

	data, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())

	req, err := http.NewRequest(http.MethodPost, env.baseURL+path, bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())

	var body map[string]any
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &body)).To(Succeed(), "body: %s", raw)
	}
	return apiResponse{status: resp.StatusCode, body: body}
}

func get(path, accessToken string) apiResponse {
	GinkgoHelper()

	req, err := http.NewRequest(http.MethodGet, env.baseURL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())

	var body map[string]any
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &body)).To(Succeed(), "body: %s", raw)
	}
	return apiResponse{status: resp.StatusCode, body: body}
}

// uniqueEmail returns a fresh address so specs never collide on accounts.
func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, ulid.Make().String())
}

// register creates an account and returns its token pair.
func register(email, name, password string) apiResponse {
	GinkgoHelper()

	resp := post("/api/v1/auth/register", map[string]any{
		"email":            email,
		"name":             name,
		"password":         password,
		"confirm_password": password,
	})
	Expect(resp.status).To(Equal(http.StatusCreated), "body: %v", resp.body)
	return resp
}

func tokensOf(resp apiResponse) (access, refresh string) {
	GinkgoHelper()

	tokens, ok := resp.body["tokens"].(map[string]any)
	Expect(ok).To(BeTrue(), "response should carry tokens: %v", resp.body)
	access, _ = tokens["access_token"].(string)
	refresh, _ = tokens["refresh_token"].(string)
	Expect(access).NotTo(BeEmpty())
	Expect(refresh).NotTo(BeEmpty())
	return access, refresh
}

var _ = Describe("Registration and login", func() {
	It("registers an account and returns a usable token pair", func() {
		email := uniqueEmail("register")
		resp := register(email, "Casey Cook", "orange-chicken-42")

		user, ok := resp.body["user"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(user["email"]).To(Equal(email))
		Expect(user["role"]).To(Equal("user"))
		Expect(user["is_email_verified"]).To(BeFalse())
		Expect(user).NotTo(HaveKey("password"))
		Expect(user).NotTo(HaveKey("password_hash"))

		access, _ := tokensOf(resp)
		me := get("/api/v1/auth/me", access)
		Expect(me.status).To(Equal(http.StatusOK))
		meUser := me.body["user"].(map[string]any)
		Expect(meUser["email"]).To(Equal(email))
	})

	It("rejects a duplicate email without leaking the existing account", func() {
		email := uniqueEmail("duplicate")
		register(email, "First", "orange-chicken-42")

		resp := post("/api/v1/auth/register", map[string]any{
			"email":            email,
			"name":             "Second",
			"password":         "different-password",
			"confirm_password": "different-password",
		})
		Expect(resp.status).To(Equal(http.StatusConflict))
	})

	It("rejects mismatched password confirmation", func() {
		resp := post("/api/v1/auth/register", map[string]any{
			"email":            uniqueEmail("mismatch"),
			"name":             "Mismatch",
			"password":         "orange-chicken-42",
			"confirm_password": "orange-chicken-43",
		})
		Expect(resp.status).To(Equal(http.StatusBadRequest))
	})

	It("logs in with correct credentials and records the login time", func() {
		email := uniqueEmail("login")
		register(email, "Login User", "orange-chicken-42")

		resp := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "orange-chicken-42",
		})
		Expect(resp.status).To(Equal(http.StatusOK))
		tokensOf(resp)

		// A second login sees the first login's timestamp on the account
		resp = post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "orange-chicken-42",
		})
		Expect(resp.status).To(Equal(http.StatusOK))
		user := resp.body["user"].(map[string]any)
		Expect(user["last_login_at"]).NotTo(BeNil())
	})

	It("rejects a wrong password with the same error as an unknown email", func() {
		email := uniqueEmail("wrongpass")
		register(email, "Wrong Pass", "orange-chicken-42")

		wrongPass := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "not-the-password",
		})
		Expect(wrongPass.status).To(Equal(http.StatusUnauthorized))

		// The throttle imposes a delay after a failure from this address
		time.Sleep(1100 * time.Millisecond)

		unknownEmail := post("/api/v1/auth/login", map[string]any{
			"email":    uniqueEmail("ghost"),
			"password": "not-the-password",
		})
		Expect(unknownEmail.status).To(Equal(http.StatusUnauthorized))
		Expect(unknownEmail.body["error"]).To(Equal(wrongPass.body["error"]),
			"credential errors must be indistinguishable")

		// Clear the throttle entry for later specs
		time.Sleep(2100 * time.Millisecond)
		ok := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "orange-chicken-42",
		})
		Expect(ok.status).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Token refresh", func() {
	It("exchanges a refresh token for a new pair", func() {
		email := uniqueEmail("refresh")
		resp := register(email, "Refresh User", "orange-chicken-42")
		_, refresh := tokensOf(resp)

		refreshed := post("/api/v1/auth/refresh", map[string]any{
			"refresh_token": refresh,
		})
		Expect(refreshed.status).To(Equal(http.StatusOK))

		access, _ := tokensOf(refreshed)
		me := get("/api/v1/auth/me", access)
		Expect(me.status).To(Equal(http.StatusOK))
	})

	It("rejects an access token presented as a refresh token", func() {
		email := uniqueEmail("confused")
		resp := register(email, "Confused User", "orange-chicken-42")
		access, _ := tokensOf(resp)

		refreshed := post("/api/v1/auth/refresh", map[string]any{
			"refresh_token": access,
		})
		Expect(refreshed.status).To(Equal(http.StatusUnauthorized))
	})

	It("rejects garbage refresh tokens", func() {
		refreshed := post("/api/v1/auth/refresh", map[string]any{
			"refresh_token": "not-a-token",
		})
		Expect(refreshed.status).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("Password reset", func() {
	It("completes the full forgot-reset-login cycle", func() {
		email := uniqueEmail("reset")
		register(email, "Reset User", "old-password-42")

		forgot := post("/api/v1/auth/password/forgot", map[string]any{"email": email})
		Expect(forgot.status).To(Equal(http.StatusOK))

		token := env.mailer.lastResetToken(email)
		Expect(token).NotTo(BeEmpty(), "a reset token should have been mailed")

		reset := post("/api/v1/auth/password/reset", map[string]any{
			"token":        token,
			"new_password": "new-password-42",
		})
		Expect(reset.status).To(Equal(http.StatusOK), "body: %v", reset.body)

		// Old password no longer works; the throttle needs a beat after it
		oldLogin := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "old-password-42",
		})
		Expect(oldLogin.status).To(Equal(http.StatusUnauthorized))

		time.Sleep(1100 * time.Millisecond)

		newLogin := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "new-password-42",
		})
		Expect(newLogin.status).To(Equal(http.StatusOK))
	})

	It("rejects reuse of a consumed reset token", func() {
		email := uniqueEmail("reuse")
		register(email, "Reuse User", "old-password-42")

		post("/api/v1/auth/password/forgot", map[string]any{"email": email})
		token := env.mailer.lastResetToken(email)
		Expect(token).NotTo(BeEmpty())

		first := post("/api/v1/auth/password/reset", map[string]any{
			"token":        token,
			"new_password": "new-password-42",
		})
		Expect(first.status).To(Equal(http.StatusOK))

		second := post("/api/v1/auth/password/reset", map[string]any{
			"token":        token,
			"new_password": "sneaky-password-42",
		})
		Expect(second.status).To(Equal(http.StatusBadRequest),
			"a consumed token must not reset the password again")

		// The second attempt must not have changed the password
		login := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "new-password-42",
		})
		Expect(login.status).To(Equal(http.StatusOK))
	})

	It("answers identically for known and unknown addresses", func() {
		email := uniqueEmail("enum")
		register(email, "Enum User", "orange-chicken-42")

		known := post("/api/v1/auth/password/forgot", map[string]any{"email": email})
		unknown := post("/api/v1/auth/password/forgot", map[string]any{
			"email": uniqueEmail("never-registered"),
		})

		Expect(known.status).To(Equal(http.StatusOK))
		Expect(unknown.status).To(Equal(http.StatusOK))
		Expect(known.body["message"]).To(Equal(unknown.body["message"]),
			"responses must not reveal whether the address is registered")
	})

	It("rejects a syntactically invalid reset token", func() {
		resp := post("/api/v1/auth/password/reset", map[string]any{
			"token":        "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			"new_password": "whatever-password-42",
		})
		Expect(resp.status).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Email verification", func() {
	It("flips the verified flag end to end", func() {
		email := uniqueEmail("verify")
		resp := register(email, "Verify User", "orange-chicken-42")
		access, _ := tokensOf(resp)

		send := post("/api/v1/auth/verify/send", map[string]any{},
			"Authorization", "Bearer "+access)
		Expect(send.status).To(Equal(http.StatusOK))

		token := env.mailer.lastVerifyToken(email)
		Expect(token).NotTo(BeEmpty())

		confirm := post("/api/v1/auth/verify/confirm", map[string]any{"token": token})
		Expect(confirm.status).To(Equal(http.StatusOK))

		me := get("/api/v1/auth/me", access)
		Expect(me.status).To(Equal(http.StatusOK))
		user := me.body["user"].(map[string]any)
		Expect(user["is_email_verified"]).To(BeTrue())
	})

	It("rejects reuse of a consumed verification token", func() {
		email := uniqueEmail("verify-reuse")
		resp := register(email, "Verify Reuse", "orange-chicken-42")
		access, _ := tokensOf(resp)

		post("/api/v1/auth/verify/send", map[string]any{},
			"Authorization", "Bearer "+access)
		token := env.mailer.lastVerifyToken(email)
		Expect(token).NotTo(BeEmpty())

		first := post("/api/v1/auth/verify/confirm", map[string]any{"token": token})
		Expect(first.status).To(Equal(http.StatusOK))

		second := post("/api/v1/auth/verify/confirm", map[string]any{"token": token})
		Expect(second.status).To(Equal(http.StatusBadRequest))
	})

	It("requires authentication to request a verification email", func() {
		resp := post("/api/v1/auth/verify/send", map[string]any{})
		Expect(resp.status).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("Password change", func() {
	It("changes the password for an authenticated user", func() {
		email := uniqueEmail("change")
		resp := register(email, "Change User", "old-password-42")
		access, _ := tokensOf(resp)

		change := post("/api/v1/auth/password/change", map[string]any{
			"current_password": "old-password-42",
			"new_password":     "new-password-42",
		}, "Authorization", "Bearer "+access)
		Expect(change.status).To(Equal(http.StatusOK))

		login := post("/api/v1/auth/login", map[string]any{
			"email":    email,
			"password": "new-password-42",
		})
		Expect(login.status).To(Equal(http.StatusOK))
	})

	It("rejects a wrong current password", func() {
		email := uniqueEmail("change-wrong")
		resp := register(email, "Change Wrong", "old-password-42")
		access, _ := tokensOf(resp)

		change := post("/api/v1/auth/password/change", map[string]any{
			"current_password": "not-the-password",
			"new_password":     "new-password-42",
		}, "Authorization", "Bearer "+access)
		Expect(change.status).To(Equal(http.StatusUnauthorized))
	})

	It("rejects the request without a bearer token", func() {
		resp := post("/api/v1/auth/password/change", map[string]any{
			"current_password": "old-password-42",
			"new_password":     "new-password-42",
		})
		Expect(resp.status).To(Equal(http.StatusUnauthorized))
	})
})
