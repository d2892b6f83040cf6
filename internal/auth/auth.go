package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"echohub/internal/content"
	"echohub/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	minPasswordLength  = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("too many failed login attempts")
)

// Credentials is the storage-facing view of a user: the public record plus
// the secrets and counters the identity service needs.
type Credentials struct {
	models.User
	PasswordHash string
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (c *Credentials) resetFailedLoginAttempts(now time.Time) {
	c.FailedLoginAttempts = 0
	c.LastAttemptTime = now.Unix()
}

func (c *Credentials) incrementFailedLoginAttempts(now time.Time) {
	c.FailedLoginAttempts++
	c.LastAttemptTime = now.Unix()
}

// Store is the durable backend for credentials and session tokens.
// Implemented by the storage package.
type Store interface {
	CreateCredentials(creds Credentials) error
	GetCredentialsByEmail(email string) (Credentials, error)
	GetCredentialsByID(id string) (Credentials, error)
	UpdateCredentials(creds Credentials) error
	UpsertToken(tokenHash, userID string, expiresAt int64) error
	GetToken(tokenHash string) (string, error)
	DeleteToken(tokenHash string) error
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// Service is the identity service: it owns signup, login, and the mapping
// from a session token to a verified user ID. Live tokens are cached in a
// TTL map; HMAC hashes of the tokens are persisted so sessions survive a
// restart without the raw token ever touching disk.
type Service struct {
	Config
	store      Store
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewService(ctx context.Context, config Config, store Store) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config:     config,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// SignUp creates a new account and logs it in. Returns the public user
// record and a fresh session token.
func (s *Service) SignUp(email, fullName, password string) (models.User, string, error) {
	if err := content.ValidateEmail(email); err != nil {
		return models.User{}, "", err
	}
	fullName = content.Sanitize(fullName)
	if fullName == "" {
		return models.User{}, "", errors.New("full name is required")
	}
	if len(password) < minPasswordLength {
		return models.User{}, "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	creds := Credentials{
		User: models.User{
			ID:        uuid.NewString(),
			Email:     email,
			FullName:  fullName,
			CreatedAt: s.now().Unix(),
		},
		PasswordHash: string(hash),
	}

	if err := s.store.CreateCredentials(creds); err != nil {
		return models.User{}, "", err
	}

	token, err := s.issueToken(creds.ID)
	if err != nil {
		return models.User{}, "", err
	}

	slog.Info("user signed up", "user_id", creds.ID)
	return creds.User, token, nil
}

// Login verifies email and password and issues a session token.
func (s *Service) Login(email, password string) (models.User, string, error) {
	now := s.now()

	creds, err := s.store.GetCredentialsByEmail(email)
	if err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	// Check failed login attempts
	if creds.FailedLoginAttempts > 3 {
		nextAttempt := creds.LastAttemptTime + 30*(creds.FailedLoginAttempts*creds.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return models.User{}, "", fmt.Errorf("%w: next attempt in %d seconds",
				ErrThrottled, nextAttempt-now.Unix())
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		creds.incrementFailedLoginAttempts(now)
		if err := s.store.UpdateCredentials(creds); err != nil {
			slog.Error("failed to record login attempt", "user_id", creds.ID, "error", err)
		}
		return models.User{}, "", ErrInvalidCredentials
	}

	creds.resetFailedLoginAttempts(now)
	if err := s.store.UpdateCredentials(creds); err != nil {
		slog.Error("failed to reset login attempts", "user_id", creds.ID, "error", err)
	}

	token, err := s.issueToken(creds.ID)
	if err != nil {
		slog.Error("login failed", "user_id", creds.ID, "error", err)
		return models.User{}, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return creds.User, token, nil
}

// Logoff invalidates the session token.
func (s *Service) Logoff(token string) error {
	_ = s.liveTokens.Del(token)
	return s.store.DeleteToken(s.hashToken(token))
}

// GetUserID resolves a session token to a verified user ID. This is the
// single identity query behind both the REST middleware and the realtime
// handshake.
func (s *Service) GetUserID(token string) (string, error) {
	if token == "" {
		return "", models.ErrNotFound
	}

	if userID, err := s.liveTokens.Get(token); err == nil {
		return userID, nil
	}

	// Fall back to the persisted hash so sessions survive restarts.
	userID, err := s.store.GetToken(s.hashToken(token))
	if err != nil {
		return "", models.ErrNotFound
	}
	s.liveTokens.Set(token, userID)
	return userID, nil
}

func (s *Service) issueToken(userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.StdEncoding.EncodeToString(b)

	expiresAt := s.now().Add(s.TokenExpiry).Unix()
	if err := s.store.UpsertToken(s.hashToken(token), userID, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}
	s.liveTokens.Set(token, userID)
	return token, nil
}

func (s *Service) hashToken(token string) string {
	h := hmac.New(sha256.New, s.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
