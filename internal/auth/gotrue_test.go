package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoTrueSignInWithOTP(t *testing.T) {
	var body map[string]any
	var path, redirect, apikey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		redirect = r.URL.Query().Get("redirect_to")
		apikey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGoTrue(GoTrueConfig{BaseURL: srv.URL, APIKey: "anon"}, srv.Client())
	require.NoError(t, g.SignInWithOTP(context.Background(), "ana@uni.edu", "http://localhost:8080/auth/callback"))
	assert.Equal(t, "/auth/v1/otp", path)
	assert.Equal(t, "http://localhost:8080/auth/callback", redirect)
	assert.Equal(t, "anon", apikey)
	assert.Equal(t, "ana@uni.edu", body["email"])
}

func TestGoTrueVerifyOTPDecodesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["token_hash"] != "abc" || req["type"] != "magiclink" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":403,"error_code":"otp_expired","msg":"Email link is invalid or has expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":3600,"expires_at":1900000000,
			"user":{"id":"7f1c7c3e-8a4b-4a53-9a64-0c6c9f2b1d11","email":"ana@uni.edu","created_at":"2025-01-01T10:00:00Z"}
		}`))
	}))
	defer srv.Close()

	g := NewGoTrue(GoTrueConfig{BaseURL: srv.URL + "/", APIKey: "anon"}, srv.Client())
	s, err := g.VerifyOTP(context.Background(), "abc", "")
	require.NoError(t, err)
	assert.Equal(t, "at", s.AccessToken)
	assert.Equal(t, "rt", s.RefreshToken)
	assert.Equal(t, "ana@uni.edu", s.User.Email)
	assert.Equal(t, "7f1c7c3e-8a4b-4a53-9a64-0c6c9f2b1d11", s.User.ID.String())

	_, err = g.VerifyOTP(context.Background(), "stale", "magiclink")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "otp_expired", apiErr.Code)
	assert.Equal(t, "Email link is invalid or has expired", apiErr.Message)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGoTrueErrorsMapToSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/otp":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"msg":"For security purposes, you can only request this once every 60 seconds"}`))
		case "/auth/v1/user":
			assert.Equal(t, "Bearer expired", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid JWT"}`))
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`))
		}
	}))
	defer srv.Close()

	g := NewGoTrue(GoTrueConfig{BaseURL: srv.URL, APIKey: "anon"}, srv.Client())
	err := g.SignInWithOTP(context.Background(), "ana@uni.edu", "")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = g.GetUser(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = g.Refresh(context.Background(), "old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Refresh Token")
}

func TestGoTrueSignOutSendsBearer(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGoTrue(GoTrueConfig{BaseURL: srv.URL, APIKey: "anon"}, srv.Client())
	require.NoError(t, g.SignOut(context.Background(), "user-token"))
	assert.Equal(t, "Bearer user-token", auth)
}
