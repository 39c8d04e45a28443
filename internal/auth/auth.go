package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c-pro/geche"

	"taskpulse/internal/models"
)

const DefaultTokenExpiry = 12 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownUser  = errors.New("unknown user")
)

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

// Service verifies the bearer credentials the channel and REST surfaces
// present. Account management (login, password, rotation) belongs to the
// product's identity service; this one only mints and checks HMAC-signed
// tokens for users it has been told about.
type Service struct {
	Config
	users    *geche.Locker[string, models.User]
	verified geche.Geche[string, verifiedToken]
	now      func() time.Time
}

// verifiedToken carries the embedded expiry alongside the resolved user so
// the cached path still honors token lifetime, not just cache TTL.
type verifiedToken struct {
	userID string
	expiry int64
}

func NewService(ctx context.Context, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config:   config,
		users:    geche.NewLocker[string, models.User](geche.NewMapCache[string, models.User]()),
		verified: geche.NewMapTTLCache[string, verifiedToken](ctx, config.TokenExpiry, time.Minute),
		now:      time.Now,
	}, nil
}

// Register makes a user known to the service. The directory is injected at
// startup, never read from ambient application state.
func (s *Service) Register(user models.User) {
	tx := s.users.Lock()
	defer tx.Unlock()
	tx.Set(user.ID, user)
}

// Mint issues a signed bearer token for a known user.
func (s *Service) Mint(userID string) (string, error) {
	if _, err := s.lookup(userID); err != nil {
		return "", err
	}

	expiry := s.now().Add(s.TokenExpiry).Unix()
	payload := fmt.Sprintf("%s:%d", userID, expiry)
	token := payload + ":" + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Verify resolves a bearer token to its user. Successful verifications are
// cached with a TTL so the hot path skips the HMAC.
func (s *Service) Verify(token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrInvalidToken
	}

	if v, err := s.verified.Get(token); err == nil {
		if s.now().Unix() >= v.expiry {
			_ = s.verified.Del(token)
			return models.User{}, ErrTokenExpired
		}
		return s.lookup(v.userID)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}

	// userID:expiry:signature, with user ids allowed to contain colons.
	parts := strings.Split(string(decoded), ":")
	if len(parts) < 3 {
		return models.User{}, ErrInvalidToken
	}
	sig := parts[len(parts)-1]
	expiryStr := parts[len(parts)-2]
	userID := strings.Join(parts[:len(parts)-2], ":")

	if !hmac.Equal([]byte(sig), []byte(s.sign(userID+":"+expiryStr))) {
		return models.User{}, ErrInvalidToken
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}
	if s.now().Unix() >= expiry {
		return models.User{}, ErrTokenExpired
	}

	user, err := s.lookup(userID)
	if err != nil {
		return models.User{}, err
	}

	s.verified.Set(token, verifiedToken{userID: userID, expiry: expiry})
	return user, nil
}

func (s *Service) lookup(userID string) (models.User, error) {
	tx := s.users.Lock()
	defer tx.Unlock()

	user, err := tx.Get(userID)
	if err != nil {
		return models.User{}, ErrUnknownUser
	}
	return user, nil
}

func (s *Service) sign(payload string) string {
	h := hmac.New(sha512.New, s.secretBytes)
	h.Write([]byte(payload))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}
