package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/safenest/safenest/internal/models"
	"github.com/safenest/safenest/internal/store"
)

// Authentication failures. All of them refuse the connection before any event
// can be dispatched.
var (
	ErrMissingToken     = errors.New("missing credential token")
	ErrInvalidToken     = errors.New("invalid credential token")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityInactive = errors.New("identity is deactivated")
)

// Claims are the JWT claims minted by the external account service.
type Claims struct {
	IdentityID string `json:"identity_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer credentials presented at connection time.
type Authenticator struct {
	secret []byte
	db     store.DataStore
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(secret string, db store.DataStore) *Authenticator {
	return &Authenticator{secret: []byte(secret), db: db}
}

// Authenticate validates a bearer token and resolves its identity from the
// store. A deactivated identity is refused even with a valid token.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.IdentityID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	identity, err := a.db.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	if !identity.Active {
		return nil, ErrIdentityInactive
	}
	return identity, nil
}

// bearerToken extracts the credential from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
