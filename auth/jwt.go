package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig controls validation of JWT bearer tokens: issuer, audience,
// scope, algorithm and clock-skew policies. Keys come from a JWKS endpoint
// and are auto-refreshed by keyfunc.
type JWTConfig struct {
	Issuer string
	// ExpectedAudiences contains the accepted audiences; a token is valid when
	// its aud claim intersects this set.
	ExpectedAudiences []string
	// RequiredScopes must all be present in the token's space-delimited scope
	// claim unless ScopeModeAny is set, in which case one suffices.
	RequiredScopes []string
	ScopeModeAny   bool
	AllowedAlgs    []string
	Leeway         time.Duration
}

// DefaultJWTConfig returns a JWTConfig with safe algorithm and leeway
// defaults.
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

type jwtAuthenticator struct {
	cfg     *JWTConfig
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*jwtAuthenticator)(nil)

// NewJWT constructs an Authenticator that validates JWT access tokens against
// a statically configured issuer, audience set and JWKS URI.
func NewJWT(ctx context.Context, cfg *JWTConfig, jwksURI string) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &jwtAuthenticator{cfg: cfg, keyfunc: kf.Keyfunc}, nil
}

func (a *jwtAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	if err := checkScopes(claims["scope"], a.cfg.RequiredScopes, a.cfg.ScopeModeAny); err != nil {
		return nil, err
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

// audIntersects accepts aud as a string or array, per RFC 7519.
func audIntersects(aud any, wants []string) bool {
	wantSet := make(map[string]struct{}, len(wants))
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok := wantSet[s]; ok {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

// checkScopes enforces the scope policy against a space-delimited scope
// claim (RFC 8693 style). An empty policy always passes.
func checkScopes(claim any, required []string, anyMode bool) error {
	if len(required) == 0 {
		return nil
	}
	scopeStr, _ := claim.(string)
	have := make(map[string]struct{})
	for _, s := range strings.Fields(scopeStr) {
		have[s] = struct{}{}
	}
	matched := 0
	for _, want := range required {
		if _, ok := have[want]; ok {
			matched++
		}
	}
	if anyMode {
		if matched == 0 {
			return fmt.Errorf("%w: none of the required scopes present", ErrInsufficientScope)
		}
		return nil
	}
	if matched != len(required) {
		return fmt.Errorf("%w: missing required scopes", ErrInsufficientScope)
	}
	return nil
}
