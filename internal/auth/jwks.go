package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/hashangit/seo-pro/internal/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxJWKSBody = 1 << 20

var (
	ErrKeyNotFound     = errors.New("signing_key_not_found")
	ErrJWKSUnavailable = errors.New("jwks_unavailable")
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// KeyStore resolves token signing keys by kid. The JWKS document is
// cached; concurrent misses collapse into a single upstream fetch.
type KeyStore struct {
	url    string
	ttl    time.Duration
	client *http.Client
	log    *zap.Logger
	cache  cache.Cache[string, *rsa.PublicKey]
	group  singleflight.Group
}

func NewKeyStore(log *zap.Logger, url string, ttl time.Duration) *KeyStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &KeyStore{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.Named("auth.jwks"),
		cache:  cache.NewTTLCache[string, *rsa.PublicKey](),
	}
}

// Key returns the RSA public key for kid, refreshing the JWKS document
// on a cache miss.
func (s *KeyStore) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.cache.Get(kid); ok {
		return key, nil
	}

	_, err, _ := s.group.Do("jwks", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}

	if key, ok := s.cache.Get(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid=%s", ErrKeyNotFound, kid)
}

// Invalidate drops the cached keys so the next verification refetches.
func (s *KeyStore) Invalidate() {
	s.cache.Clear()
}

func (s *KeyStore) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return err
	}
	var doc jwks
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}

	loaded := 0
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pub, err := key.publicKey()
		if err != nil {
			s.log.Warn("skipping unparsable jwk", zap.String("kid", key.Kid), zap.Error(err))
			continue
		}
		s.cache.Set(key.Kid, pub, s.ttl)
		loaded++
	}
	if loaded == 0 {
		return errors.New("no usable keys in document")
	}
	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
