package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashangit/seo-pro/internal/auditlog"
	obscontext "github.com/hashangit/seo-pro/internal/observability/context"
)

const (
	contextSubjectKey = "subject"
	contextEmailKey   = "email"
)

// AuthRequired authenticates the bearer token and stores the verified
// subject on the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextSubjectKey, identity.Subject)
		c.Set(contextEmailKey, identity.Email)

		ctx := obscontext.WithSubject(c.Request.Context(), identity.Subject)
		ctx = obscontext.WithActor(ctx, auditlog.ActorTypeUser, identity.Subject)
		ctx = auditlog.WithActor(ctx, auditlog.ActorTypeUser, identity.Subject)
		ctx = auditlog.WithIPAddress(ctx, c.ClientIP())
		ctx = auditlog.WithUserAgent(ctx, c.Request.UserAgent())
		if requestID := obscontext.RequestIDFromGin(c); requestID != "" {
			ctx = auditlog.WithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminRequired gates operator endpoints on the configured admin
// email list.
func (s *Server) AdminRequired() gin.HandlerFunc {
	admins := make(map[string]struct{})
	for _, email := range s.cfg.AdminEmailList() {
		admins[strings.ToLower(email)] = struct{}{}
	}

	return func(c *gin.Context) {
		email := strings.ToLower(strings.TrimSpace(c.GetString(contextEmailKey)))
		if email == "" {
			AbortWithError(c, ErrForbidden)
			return
		}
		if _, ok := admins[email]; !ok {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) subject(c *gin.Context) string {
	return c.GetString(contextSubjectKey)
}
