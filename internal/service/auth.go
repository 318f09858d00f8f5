package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/model"
)

// APIKeyHeader carries a trigger API key.
const APIKeyHeader = "X-API-Key"

// KeyPrefixLen is the number of plaintext characters kept for identification.
const KeyPrefixLen = 8

var (
	ErrNoCredentials      = errors.New("no credentials presented")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrInvalidBasic       = errors.New("invalid basic credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStorage            = errors.New("key storage unavailable")
)

// Admin is the single operator identity, fixed for the process lifetime.
type Admin struct {
	Username string
	Password string
}

// APIKeyPrincipal identifies the stored key a request authenticated with.
type APIKeyPrincipal struct {
	KeyID     int64
	KeyPrefix string
}

// SessionPrincipal identifies an admin session.
type SessionPrincipal struct {
	Username  string
	ExpiresAt time.Time
}

// Channel names the credential channel a trigger request used.
type Channel string

const (
	ChannelNone   Channel = "none"
	ChannelAPIKey Channel = "api_key"
	ChannelBasic  Channel = "basic"
)

// Decision is the outcome of authenticating a trigger request. Err is nil
// when the request is authorized and one of ErrNoCredentials,
// ErrInvalidAPIKey or ErrInvalidBasic otherwise.
type Decision struct {
	Channel   Channel
	KeyPrefix string
	Err       error
}

// Authorized reports whether the request may proceed.
func (d Decision) Authorized() bool { return d.Err == nil }

// Option configures an AuthService.
type Option func(*AuthService)

// WithHashCost sets the bcrypt cost used for new keys.
func WithHashCost(cost int) Option {
	return func(s *AuthService) { s.hashCost = cost }
}

// WithLogger sets the logger used for storage and verification failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *AuthService) { s.logger = logger }
}

// AuthService owns the API key collection and makes every credential
// decision: key issuance and listing, the admin check, trigger request
// authentication, and admin session tokens.
type AuthService struct {
	store         *config.Store
	admin         Admin
	sessionSecret []byte
	hashCost      int
	logger        *slog.Logger

	// issueMu serializes key issuance so concurrent callers cannot interleave
	// writes to the key collection.
	issueMu sync.Mutex
}

func NewAuthService(store *config.Store, admin Admin, sessionSecret string, opts ...Option) *AuthService {
	s := &AuthService{
		store:         store,
		admin:         admin,
		sessionSecret: []byte(sessionSecret),
		hashCost:      bcrypt.DefaultCost,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Credential store
// ---------------------------------------------------------------------------

// ListKeys returns the hashes of all active keys in insertion order. A
// storage failure is logged and yields an empty list.
func (s *AuthService) ListKeys(ctx context.Context) []string {
	keys, err := s.store.ListActiveAPIKeys(ctx)
	if err != nil {
		s.logger.Error("failed to list api keys", "error", err)
		return []string{}
	}
	hashes := make([]string, len(keys))
	for i, k := range keys {
		hashes[i] = k.KeyHash
	}
	return hashes
}

// ListKeyRecords returns every key record, revoked ones included.
func (s *AuthService) ListKeyRecords(ctx context.Context) ([]model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return keys, nil
}

// IssueKey generates a random key, persists its bcrypt hash, and returns the
// plaintext. The hash is committed before IssueKey returns. On failure the
// returned key is empty and the error wraps ErrStorage.
func (s *AuthService) IssueKey(ctx context.Context) (string, error) {
	rawKey := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("%w: hash key: %v", ErrStorage, err)
	}

	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	key := &model.APIKey{
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:KeyPrefixLen],
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		s.logger.Error("failed to store api key", "error", err)
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.logger.Info("new api key issued", "key_prefix", key.KeyPrefix)
	return rawKey, nil
}

// RevokeKey revokes the single active key whose prefix starts with prefix.
func (s *AuthService) RevokeKey(ctx context.Context, prefix string) (*model.APIKey, error) {
	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	key, err := s.store.RevokeAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key revoked", "key_prefix", key.KeyPrefix)
	return key, nil
}

// ValidateAPIKey compares rawKey against every active stored hash and
// returns the first match.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}
	keys, err := s.store.ListActiveAPIKeys(ctx)
	if err != nil {
		s.logger.Error("failed to list api keys", "error", err)
		return nil, ErrInvalidAPIKey
	}

	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		// Update last used timestamp (fire and forget)
		go s.store.UpdateAPIKeyLastUsed(context.Background(), k.ID)
		return &APIKeyPrincipal{KeyID: k.ID, KeyPrefix: k.KeyPrefix}, nil
	}
	return nil, ErrInvalidAPIKey
}

// ---------------------------------------------------------------------------
// Admin authenticator
// ---------------------------------------------------------------------------

// CheckAdmin reports whether username and password exactly match the
// configured admin credentials.
func (s *AuthService) CheckAdmin(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.admin.Password)) == 1
	return userOK && passOK
}

// ---------------------------------------------------------------------------
// Request authenticator
// ---------------------------------------------------------------------------

// AuthenticateRequest decides whether a trigger request is authorized. An
// API key header, when present, is the only channel consulted: a key that
// matches nothing rejects the request even if valid basic credentials are
// also attached. Basic credentials are checked only when no key header is
// present.
func (s *AuthService) AuthenticateRequest(r *http.Request) Decision {
	if apiKey := r.Header.Get(APIKeyHeader); apiKey != "" {
		p, err := s.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			return Decision{Channel: ChannelAPIKey, Err: ErrInvalidAPIKey}
		}
		return Decision{Channel: ChannelAPIKey, KeyPrefix: p.KeyPrefix}
	}

	if username, password, ok := r.BasicAuth(); ok {
		if !s.CheckAdmin(username, password) {
			return Decision{Channel: ChannelBasic, Err: ErrInvalidBasic}
		}
		return Decision{Channel: ChannelBasic}
	}

	return Decision{Channel: ChannelNone, Err: ErrNoCredentials}
}

// ---------------------------------------------------------------------------
// Admin sessions
// ---------------------------------------------------------------------------

// Login checks the admin credentials and issues a session token.
func (s *AuthService) Login(username, password string, ttl time.Duration) (string, error) {
	if !s.CheckAdmin(username, password) {
		return "", ErrInvalidCredentials
	}
	return s.IssueSession(username, ttl)
}

// IssueSession creates a signed session token for the admin.
func (s *AuthService) IssueSession(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "sleepd",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.sessionSecret)
}

// ValidateSession verifies a session token. Tokens for a username other than
// the configured admin are rejected.
func (s *AuthService) ValidateSession(tokenStr string) (*SessionPrincipal, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.sessionSecret, nil
	}, jwt.WithIssuer("sleepd"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	if claims.Subject != s.admin.Username {
		return nil, ErrInvalidCredentials
	}

	p := &SessionPrincipal{Username: claims.Subject}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
