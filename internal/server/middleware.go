package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/emissor/internal/apikey/domain"
	"github.com/smallbiznis/emissor/internal/orgcontext"
)

const (
	HeaderOrg = "X-Org-Id"

	contextAPIKeyKey = "api_key"
)

// APIKeyRequired authenticates requests using an API key only. Organization
// identity is derived solely from the api_keys table; a caller-supplied org
// identifier is rejected outright.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestHasOrgID(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), key.OrgID)
		c.Set(contextAPIKeyKey, key)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireScope rejects keys that do not carry the given scope.
func (s *Server) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFromGin(c)
		if key == nil || !key.HasScope(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// AdminRequired guards key management endpoints with the static admin token.
// The acting organization comes from the X-Org-Id header.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(s.cfg.AdminToken)
		if token == "" {
			AbortWithError(c, ErrNotFound)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "required", "X-Org-Id header is required"))
			return
		}

		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}

// EmissionRateLimit throttles emission calls per organization.
func (s *Server) EmissionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.limiter.AllowOrg(c.Request.Context(), orgID.String())
		if err != nil {
			// Redis being down must not block emissions.
			s.log.Warn("emission rate limiter unavailable")
			c.Next()
			return
		}

		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), orgID.String(), c.FullPath(), "org_rate")
			}
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many emission requests",
			}})
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), orgID.String(), c.FullPath())
		}
		c.Next()
	}
}

func apiKeyFromGin(c *gin.Context) *apikeydomain.APIKey {
	value, ok := c.Get(contextAPIKeyKey)
	if !ok {
		return nil
	}
	key, ok := value.(*apikeydomain.APIKey)
	if !ok {
		return nil
	}
	return key
}

func requestHasOrgID(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader(HeaderOrg)) != "" {
		return true
	}
	if value, ok := c.GetQuery("org_id"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	if value, ok := c.GetQuery("orgId"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	return false
}
