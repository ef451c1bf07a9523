package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexusgw/gateway/pkg/models"
)

// AuthErrorKind distinguishes why a credential failed validation, per the
// expired/invalid/system taxonomy surfaced by the gateway's HTTP layer.
type AuthErrorKind string

const (
	AuthErrorExpired AuthErrorKind = "expired"
	AuthErrorInvalid AuthErrorKind = "invalid"
	AuthErrorSystem  AuthErrorKind = "system"
)

// AuthError reports a credential validation failure.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

func newAuthError(kind AuthErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// GatewayClaims is the full claim set a banking credential carries, per
// SPEC_FULL.md §4.2. Scope is space-separated on the wire, matching the
// OAuth2 convention the original service used.
type GatewayClaims struct {
	Scope      string         `json:"scope"`
	Roles      []string       `json:"roles"`
	Attributes map[string]any `json:"attributes"`
	Tier       string         `json:"tier"`
	Region     string         `json:"region"`
	Verified   bool           `json:"verified"`
	// Fxn is the pre-computed permitted-tool list. When present it is
	// trusted as-is and the Permission Resolver is bypassed entirely.
	Fxn []string `json:"fxn,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalValidator verifies bearer credentials and yields a Principal.
// Signature, expiry, and audience are cryptographically verified with zero
// clock-skew tolerance, matching the original service's strict posture.
type PrincipalValidator struct {
	secret   []byte
	audience string
}

// NewPrincipalValidator builds a validator for HMAC-signed gateway
// credentials, optionally pinned to a required audience (empty to skip the
// audience check).
func NewPrincipalValidator(secret, audience string) *PrincipalValidator {
	return &PrincipalValidator{secret: []byte(secret), audience: audience}
}

// Validate parses and verifies a bearer token, returning the derived
// Principal or a classified AuthError.
func (v *PrincipalValidator) Validate(bearer string) (*models.Principal, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, newAuthError(AuthErrorSystem, errors.New("validator not configured"))
	}
	bearer = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if bearer == "" {
		return nil, newAuthError(AuthErrorInvalid, errors.New("empty credential"))
	}

	parserOpts := []jwt.ParserOption{}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &GatewayClaims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, parserOpts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newAuthError(AuthErrorExpired, err)
		}
		if errors.Is(err, jwt.ErrTokenMalformed) ||
			errors.Is(err, jwt.ErrTokenUnverifiable) ||
			errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
			errors.Is(err, jwt.ErrTokenRequiredClaimMissing) ||
			errors.Is(err, jwt.ErrTokenInvalidAudience) ||
			errors.Is(err, jwt.ErrTokenUsedBeforeIssued) ||
			errors.Is(err, jwt.ErrTokenInvalidIssuer) ||
			errors.Is(err, jwt.ErrTokenInvalidSubject) ||
			errors.Is(err, jwt.ErrTokenNotValidYet) ||
			errors.Is(err, jwt.ErrTokenInvalidId) ||
			errors.Is(err, jwt.ErrTokenInvalidClaims) {
			return nil, newAuthError(AuthErrorInvalid, err)
		}
		return nil, newAuthError(AuthErrorSystem, err)
	}
	if !token.Valid {
		return nil, newAuthError(AuthErrorInvalid, errors.New("token not valid"))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, newAuthError(AuthErrorInvalid, errors.New("missing subject"))
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, newAuthError(AuthErrorExpired, errors.New("token expired"))
	}

	p := &models.Principal{
		UserID:     claims.Subject,
		Scopes:     splitScope(claims.Scope),
		Roles:      claims.Roles,
		Attributes: claims.Attributes,
		Tier:       claims.Tier,
		Region:     claims.Region,
		Verified:   claims.Verified,
	}
	if claims.ExpiresAt != nil {
		p.Expiry = claims.ExpiresAt.Time
	}
	// Trust the issuer fully when fxn is present: bypasses C3 resolution
	// entirely. See DESIGN.md for the Open Question decision.
	if claims.Fxn != nil {
		p.PermittedTools = claims.Fxn
	}
	return p, nil
}

func splitScope(scope string) []string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
