// Package auth provides EdDSA bearer tokens for the mutating API endpoints.
//
// Tokens are JWTs signed with the orchestrator's Ed25519 identity key, the
// same key material that signs decision traces. Auth is optional: the demo
// runs open, and enabling it only gates endpoints that change thread state.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
)

// OrchestratorID is the key store identity used for token signing.
const OrchestratorID = "orchestrator"

const issuer = "ecoverify"

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims extends jwt.RegisteredClaims with the operator identity.
type Claims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// Manager issues and verifies operator tokens.
type Manager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration
	enabled    bool
}

// NewManager creates a Manager backed by the orchestrator key in the store,
// generating the keypair on first use. When enabled is false, Middleware
// passes every request through.
func NewManager(keys *nhi.KeyStore, expiration time.Duration, enabled bool) (*Manager, error) {
	priv, err := keys.Generate(OrchestratorID, false)
	if err != nil {
		return nil, fmt.Errorf("auth: orchestrator key: %w", err)
	}
	return &Manager{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
		expiration: expiration,
		enabled:    enabled,
	}, nil
}

// Enabled reports whether token checks are enforced.
func (m *Manager) Enabled() bool { return m.enabled }

// IssueToken creates a signed JWT for the named operator.
func (m *Manager) IssueToken(operator string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Operator: operator,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken validates the signature and standard claims.
func (m *Manager) VerifyToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware enforces a Bearer token when auth is enabled. The verified
// operator is exposed to handlers via the X-Ecoverify-Operator header on
// the cloned request.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ecoverify"`)
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := m.VerifyToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		r2 := r.Clone(r.Context())
		r2.Header.Set("X-Ecoverify-Operator", claims.Operator)
		next.ServeHTTP(w, r2)
	})
}
