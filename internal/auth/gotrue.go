package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/clubhub/portal/internal/models"
)

// ErrRateLimited is returned when the auth service throttles the caller.
var ErrRateLimited = errors.New("auth: rate limited")

// GoTrueConfig configures the hosted auth service client.
type GoTrueConfig struct {
	BaseURL string // project URL; the client appends /auth/v1
	APIKey  string
}

// GoTrue is an Issuer backed by a GoTrue-compatible auth API.
type GoTrue struct {
	cfg  GoTrueConfig
	http *http.Client
}

// NewGoTrue creates an auth service client. httpClient may be nil.
func NewGoTrue(cfg GoTrueConfig, httpClient *http.Client) *GoTrue {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GoTrue{cfg: cfg, http: httpClient}
}

// APIError is a failure reported by the auth service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("auth: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrInvalidToken:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// SignInWithOTP implements Issuer.
func (g *GoTrue) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	params := url.Values{}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	body := map[string]any{"email": email, "create_user": true}
	return g.do(ctx, http.MethodPost, "/otp", params, "", body, nil)
}

// VerifyOTP implements Issuer.
func (g *GoTrue) VerifyOTP(ctx context.Context, tokenHash, kind string) (*Session, error) {
	if kind == "" {
		kind = "magiclink"
	}
	var s Session
	body := map[string]string{"type": kind, "token_hash": tokenHash}
	if err := g.do(ctx, http.MethodPost, "/verify", nil, "", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh implements Issuer.
func (g *GoTrue) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	params := url.Values{"grant_type": {"refresh_token"}}
	var s Session
	body := map[string]string{"refresh_token": refreshToken}
	if err := g.do(ctx, http.MethodPost, "/token", params, "", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SignOut implements Issuer.
func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	return g.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
}

// GetUser implements Issuer.
func (g *GoTrue) GetUser(ctx context.Context, accessToken string) (*models.Identity, error) {
	var u models.Identity
	if err := g.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *GoTrue) do(ctx context.Context, method, path string, params url.Values, bearer string, body, dest any) error {
	u := g.cfg.BaseURL + "/auth/v1" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("auth: encode body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.cfg.APIKey)
	if bearer == "" {
		bearer = g.cfg.APIKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth %s: read body: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return parseAPIError(resp.StatusCode, raw)
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("auth %s: decode: %w", path, err)
	}
	return nil
}

func parseAPIError(status int, raw []byte) error {
	var body struct {
		Code             any    `json:"code"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &body)
	e := &APIError{Status: status, Code: body.ErrorCode}
	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
