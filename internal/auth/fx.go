package auth

import (
	"github.com/hashangit/seo-pro/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth",
	fx.Provide(func(log *zap.Logger, cfg config.Config) *KeyStore {
		return NewKeyStore(log, cfg.JWKSURL, cfg.JWKSCacheTTL)
	}),
	fx.Provide(func(keys *KeyStore, cfg config.Config) *Verifier {
		return NewVerifier(keys, cfg.TokenIssuer, cfg.TokenAudience)
	}),
)
