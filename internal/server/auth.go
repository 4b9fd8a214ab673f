package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pdm-project/pdm/pkg/config"
)

// RoleAdmin marks accounts whose operations run with the privileged flag.
const RoleAdmin = "admin"

type contextKey string

const identityKey contextKey = "pdm_identity"

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	Username string
	Role     string
}

// Privileged reports whether the identity may override other users' locks.
func (id Identity) Privileged() bool {
	return id.Role == RoleAdmin
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type authenticator struct {
	secret []byte
	ttl    time.Duration
	users  []config.UserConfig
}

func newAuthenticator(cfg config.ServerConfig) *authenticator {
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &authenticator{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		users:  cfg.Users,
	}
}

// issue checks the password against the configured sha256 digest and returns
// a signed token. Comparison is constant time over the digests.
func (a *authenticator) issue(username, password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	digest := hex.EncodeToString(sum[:])

	for _, u := range a.users {
		if u.Username != username {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.PasswordSHA256), []byte(digest)) != 1 {
			break
		}
		now := time.Now().UTC()
		claims := tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   u.Username,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			},
			Role: u.Role,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString(a.secret)
	}
	return "", errInvalidCredentials
}

func (a *authenticator) parse(tokenString string) (Identity, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return Identity{}, errInvalidToken
	}
	return Identity{Username: claims.Subject, Role: claims.Role}, nil
}

// middleware rejects requests without a valid bearer token and puts the
// caller identity into the request context.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			writeJSON(w, http.StatusUnauthorized,
				map[string]string{"error": "missing or malformed Authorization header"})
			return
		}
		id, err := a.parse(parts[1])
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				map[string]string{"error": "invalid or expired token"})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the authenticated identity, or the zero value when
// the middleware did not run.
func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
