package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/models"
)

// ErrNoSession means the request carries no usable access token.
var ErrNoSession = errors.New("no session")

// Session is a signed-in identity with its tokens.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	TokenType    string          `json:"token_type,omitempty"`
	ExpiresIn    int             `json:"expires_in,omitempty"`
	ExpiresAt    int64           `json:"expires_at,omitempty"`
	User         models.Identity `json:"user"`
}

// Expiry returns the access token expiry, or the zero time when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// Issuer is the passwordless auth service.
type Issuer interface {
	// SignInWithOTP triggers delivery of a magic link to email. Success means the
	// request was accepted, not that the mail arrived.
	SignInWithOTP(ctx context.Context, email, redirectTo string) error
	VerifyOTP(ctx context.Context, tokenHash, kind string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*models.Identity, error)
}

// Verifier turns an access token into a Session. With a JWT secret the token is
// checked locally; otherwise the issuer is asked.
type Verifier struct {
	jwt    *JWTService
	issuer Issuer
}

// NewVerifier creates a verifier. Either argument may be nil, not both.
func NewVerifier(jwt *JWTService, issuer Issuer) *Verifier {
	return &Verifier{jwt: jwt, issuer: issuer}
}

// Session verifies accessToken.
func (v *Verifier) Session(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, ErrNoSession
	}
	if v.jwt.Enabled() {
		claims, err := v.jwt.Validate(accessToken)
		if err != nil {
			return nil, err
		}
		id, _ := claims.UserID()
		s := &Session{
			AccessToken: accessToken,
			TokenType:   "bearer",
			User:        models.Identity{ID: id, Email: claims.Email},
		}
		if claims.ExpiresAt != nil {
			s.ExpiresAt = claims.ExpiresAt.Unix()
		}
		return s, nil
	}
	if v.issuer == nil {
		return nil, ErrInvalidToken
	}
	user, err := v.issuer.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return &Session{AccessToken: accessToken, TokenType: "bearer", User: *user}, nil
}
