package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/models"
)

// Local is an in-process Issuer for development runs without a hosted auth
// service. Magic links are written to the log instead of mailed.
type Local struct {
	jwt      *JWTService
	logger   *zap.Logger
	linkTTL  time.Duration
	mu       sync.Mutex
	users    map[string]models.Identity // by email
	pending  map[string]pendingLink     // by token hash
	refresh  map[string]uuid.UUID       // refresh token -> identity id
	now      func() time.Time
	delivery func(email, link string)
}

type pendingLink struct {
	email   string
	expires time.Time
}

// NewLocal creates a development issuer that signs tokens with jwt.
func NewLocal(jwt *JWTService, linkTTL time.Duration, logger *zap.Logger) *Local {
	if linkTTL <= 0 {
		linkTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Local{
		jwt:     jwt,
		logger:  logger,
		linkTTL: linkTTL,
		users:   map[string]models.Identity{},
		pending: map[string]pendingLink{},
		refresh: map[string]uuid.UUID{},
		now:     time.Now,
	}
	l.delivery = func(email, link string) {
		l.logger.Info("magic link issued", zap.String("email", email), zap.String("link", link))
	}
	return l
}

// OnDelivery replaces the log-based delivery of magic links.
func (l *Local) OnDelivery(fn func(email, link string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivery = fn
}

// SignInWithOTP implements Issuer. Expired links that were never redeemed are
// dropped on the way.
func (l *Local) SignInWithOTP(_ context.Context, email, redirectTo string) error {
	hash := randomToken()
	l.mu.Lock()
	now := l.now()
	for h, p := range l.pending {
		if now.After(p.expires) {
			delete(l.pending, h)
		}
	}
	l.pending[hash] = pendingLink{email: email, expires: now.Add(l.linkTTL)}
	deliver := l.delivery
	l.mu.Unlock()

	link := redirectTo
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	link += sep + url.Values{"token_hash": {hash}, "type": {"magiclink"}}.Encode()
	deliver(email, link)
	return nil
}

// VerifyOTP implements Issuer.
func (l *Local) VerifyOTP(_ context.Context, tokenHash, _ string) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[tokenHash]
	delete(l.pending, tokenHash)
	if !ok || l.now().After(p.expires) {
		return nil, &APIError{Status: 403, Code: "otp_expired", Message: "Email link is invalid or has expired"}
	}
	id, ok := l.users[p.email]
	if !ok {
		id = models.Identity{ID: uuid.New(), Email: p.email, CreatedAt: l.now().UTC()}
		l.users[p.email] = id
	}
	return l.issueLocked(id)
}

// Refresh implements Issuer. Refresh tokens are single use.
func (l *Local) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	uid, ok := l.refresh[refreshToken]
	delete(l.refresh, refreshToken)
	if !ok {
		return nil, &APIError{Status: 400, Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
	}
	for _, id := range l.users {
		if id.ID == uid {
			return l.issueLocked(id)
		}
	}
	return nil, &APIError{Status: 400, Code: "user_not_found", Message: "User not found"}
}

// SignOut implements Issuer. All refresh tokens of the caller are revoked.
func (l *Local) SignOut(_ context.Context, accessToken string) error {
	claims, err := l.jwt.Validate(accessToken)
	if err != nil {
		return err
	}
	uid, _ := claims.UserID()
	l.mu.Lock()
	defer l.mu.Unlock()
	for tok, id := range l.refresh {
		if id == uid {
			delete(l.refresh, tok)
		}
	}
	return nil
}

// GetUser implements Issuer.
func (l *Local) GetUser(_ context.Context, accessToken string) (*models.Identity, error) {
	claims, err := l.jwt.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.users[claims.Email]; ok {
		return &id, nil
	}
	uid, _ := claims.UserID()
	return &models.Identity{ID: uid, Email: claims.Email}, nil
}

func (l *Local) issueLocked(id models.Identity) (*Session, error) {
	token, exp, err := l.jwt.Generate(id)
	if err != nil {
		return nil, err
	}
	rt := randomToken()
	l.refresh[rt] = id.ID
	return &Session{
		AccessToken:  token,
		RefreshToken: rt,
		TokenType:    "bearer",
		ExpiresIn:    int(exp.Sub(l.now()).Seconds()),
		ExpiresAt:    exp.Unix(),
		User:         id,
	}, nil
}

func randomToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
