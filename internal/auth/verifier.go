package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrMissingToken = errors.New("missing_token")
)

// Identity is the verified caller extracted from a bearer token.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates RS256 bearer tokens against the configured
// issuer, audience, and JWKS key set.
type Verifier struct {
	keys     *KeyStore
	issuer   string
	audience string
}

func NewVerifier(keys *KeyStore, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, audience: audience}
}

// Verify parses and validates a raw bearer token. An expired key set
// is refreshed once: a token signed with a freshly rotated key should
// not fail just because the cache is stale.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	identity, err := v.verify(ctx, raw)
	if err != nil && errors.Is(err, ErrKeyNotFound) {
		v.keys.Invalidate()
		identity, err = v.verify(ctx, raw)
	}
	return identity, err
}

func (v *Verifier) verify(ctx context.Context, raw string) (*Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
		}
		return v.keys.Key(ctx, kid)
	}, options...)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrJWKSUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	return &Identity{Subject: subject, Email: email}, nil
}
