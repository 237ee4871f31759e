package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ssohub.org/internal/ids"
)

// Kind selects which of the two signing secrets a token is bound to. Access
// and refresh tokens are signed with different secrets, so a token of one
// kind can never pass verification as the other.
type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	if k == Refresh {
		return "refresh"
	}
	return "access"
}

// ErrInvalidToken indicates the token failed verification for any reason:
// bad signature, wrong issuer, expired, malformed, or wrong kind.
var ErrInvalidToken = errors.New("token: invalid token")

const maxLeeway = 2 * time.Minute

// Config holds the signing material and lifetimes for both token kinds.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Leeway is the clock-skew tolerance applied to expiry checks.
	// Zero (the default) means strict expiry; capped at two minutes.
	Leeway time.Duration
}

// Claims is the verified payload of an access or refresh token.
type Claims struct {
	User  string            `json:"user"`
	Roles map[string]string `json:"roles,omitempty"`
	Org   string            `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HMAC tokens. Verification is pure and
// side-effect free; both operations are safe for concurrent use.
type Codec struct {
	cfg Config
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates the configuration and builds a Codec. Misconfigured
// signing material is a startup error, never a per-request condition.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("token: both signing secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("token: issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be greater than zero")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("token: leeway must be between 0 and %s", maxLeeway)
	}
	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given kind for the subject. The returned time
// is the token's expiry.
func (c *Codec) Issue(user string, roles map[string]string, org string, kind Kind) (string, time.Time, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", time.Time{}, errors.New("token: user is required")
	}

	now := c.now().UTC()
	exp := now.Add(c.ttl(kind))
	claims := Claims{
		User:  user,
		Roles: roles,
		Org:   org,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature, issuer, and expiry of a token of the given
// kind. Any mismatch collapses to ErrInvalidToken.
func (c *Codec) Verify(raw string, kind Kind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	// Claims are validated manually below against the injected clock.
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret(kind), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if err := c.validate(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) validate(claims *Claims) error {
	if claims.Issuer != c.cfg.Issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.User) == "" {
		return errors.New("user claim missing")
	}
	if claims.ExpiresAt == nil {
		return errors.New("expiry missing")
	}
	now := c.now().UTC()
	if now.After(claims.ExpiresAt.Time.Add(c.cfg.Leeway)) {
		return errors.New("token expired")
	}
	if claims.IssuedAt != nil && claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func (c *Codec) secret(kind Kind) []byte {
	if kind == Refresh {
		return []byte(c.cfg.RefreshSecret)
	}
	return []byte(c.cfg.AccessSecret)
}

func (c *Codec) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return c.cfg.RefreshTTL
	}
	return c.cfg.AccessTTL
}
