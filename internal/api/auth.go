/*-------------------------------------------------------------------------
 *
 * auth.go
 *    Caller authentication for the NeuronLedger API
 *
 * Two modes are supported. In jwt mode a bearer token signed with HS256
 * carries tenant_id and user_id claims (sub is the user fallback). In
 * header mode a trusted gateway in front of the service supplies
 * X-Tenant-ID and X-User-ID.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/auth.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/metrics"
)

const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"

	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

/* Claims are the JWT claims the ledger reads */
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

/* Authenticator resolves the caller of a request */
type Authenticator struct {
	mode   string
	secret []byte
	issuer string
}

func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	switch cfg.Mode {
	case AuthModeJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt secret is required when auth mode is '%s'", AuthModeJWT)
		}
	case AuthModeHeader:
	default:
		return nil, fmt.Errorf("invalid auth mode: mode='%s', allowed='jwt,header'", cfg.Mode)
	}
	return &Authenticator{mode: cfg.Mode, secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}, nil
}

/* Authenticate returns the principal of r */
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.mode == AuthModeHeader {
		p := Principal{
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		}
		if p.TenantID == "" {
			return Principal{}, errors.New("missing " + HeaderTenantID + " header")
		}
		return p, nil
	}

	token, err := extractToken(r)
	if err != nil {
		return Principal{}, err
	}
	claims, err := a.ValidateToken(token)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{TenantID: claims.TenantID, UserID: claims.UserID}
	if p.UserID == "" {
		p.UserID = claims.Subject
	}
	return p, nil
}

/* ValidateToken parses and verifies an HS256 token */
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant_id claim")
	}
	return claims, nil
}

/* GenerateToken issues a token for a tenant and user, used by tooling and tests */
func GenerateToken(secret, issuer, tenantID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID: tenantID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

/* extractToken reads a bearer token, or access_token for websocket clients */
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Fields(authHeader)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1], nil
		}
		return "", errors.New("invalid authorization header format")
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing authorization header")
}

/* AuthMiddleware rejects unauthenticated requests and stores the principal */
func AuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				metrics.WarnWithContext(r.Context(), "Request authentication failed", map[string]interface{}{
					"path":  r.URL.Path,
					"error": err.Error(),
				})
				respondError(w, WrapError(ErrUnauthorized, GetRequestID(r.Context())))
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}
