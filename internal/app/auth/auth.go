// Package auth verifies bearer credentials: static API tokens and HS256 JWTs
// issued by Login for configured users.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/atproject/projectone/internal/config"
)

const (
	RoleAdmin  = "admin"
	RoleWriter = "writer"
	RoleViewer = "viewer"

	issuer = "projectone"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrLoginDisabled      = errors.New("login requires a jwt secret")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string
}

// CanWrite reports whether the principal may mutate records.
func (p Principal) CanWrite() bool {
	return p.Role == RoleAdmin || p.Role == RoleWriter
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Claims are the JWT claims issued by Login.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type user struct {
	hash []byte
	role string
}

// Manager holds the configured credentials.
type Manager struct {
	tokens []staticToken
	users  map[string]user
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type staticToken struct {
	value     []byte
	principal Principal
}

// NewManager parses cfg. Plaintext user passwords are bcrypt-hashed here;
// values that already look like bcrypt hashes are kept.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	m := &Manager{
		users:  make(map[string]user),
		secret: []byte(strings.TrimSpace(cfg.JWTSecret)),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = time.Hour
	}

	for i, entry := range config.SplitList(cfg.Tokens) {
		value, role, _ := strings.Cut(entry, ":")
		role, err := parseRole(role)
		if err != nil {
			return nil, fmt.Errorf("auth token %d: %w", i+1, err)
		}
		m.tokens = append(m.tokens, staticToken{
			value:     []byte(value),
			principal: Principal{Subject: fmt.Sprintf("token-%d", i+1), Role: role, Method: "token"},
		})
	}

	for _, entry := range config.SplitList(cfg.Users) {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("auth user %q must look like name:password[:role]", parts[0])
		}
		role := ""
		if len(parts) == 3 {
			role = parts[2]
		}
		role, err := parseRole(role)
		if err != nil {
			return nil, fmt.Errorf("auth user %s: %w", parts[0], err)
		}
		hash := []byte(parts[1])
		if !strings.HasPrefix(parts[1], "$2") {
			hash, err = bcrypt.GenerateFromPassword([]byte(parts[1]), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password for %s: %w", parts[0], err)
			}
		}
		m.users[parts[0]] = user{hash: hash, role: role}
	}

	if len(m.users) > 0 && len(m.secret) == 0 {
		return nil, errors.New("auth users are configured but no jwt secret is set")
	}
	return m, nil
}

func parseRole(raw string) (string, error) {
	switch role := strings.ToLower(strings.TrimSpace(raw)); role {
	case "":
		return RoleAdmin, nil
	case RoleAdmin, RoleWriter, RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Enabled reports whether any credential is configured. When it is false
// every request is treated as an anonymous admin.
func (m *Manager) Enabled() bool {
	return m != nil && (len(m.tokens) > 0 || len(m.secret) > 0)
}

// Login checks a user's password and issues a signed token.
func (m *Manager) Login(username, password string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, ErrLoginDisabled
	}
	u, ok := m.users[username]
	if !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		Role: u.role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and verifies a token issued by Login.
func (m *Manager) Validate(token string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate resolves a bearer credential to a principal.
func (m *Manager) Authenticate(bearer string) (Principal, error) {
	candidate := []byte(bearer)
	for _, tok := range m.tokens {
		if subtle.ConstantTimeCompare(tok.value, candidate) == 1 {
			return tok.principal, nil
		}
	}
	claims, err := m.Validate(bearer)
	if err != nil {
		return Principal{}, err
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: claims.Subject, Role: role, Method: "jwt"}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
