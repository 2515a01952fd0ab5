package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"library_service/pkg/apperrors"
)

const identityKey = "auth.identity"

// Middleware checks every request against policy before it reaches a handler.
// Failures are attached with c.Error and the chain is aborted; the API error
// handler renders them.
func Middleware(tokens *TokenService, policy *Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, found := policy.Find(c.Request.Method, c.Request.URL.Path)
		if found && rule.Public() {
			c.Next()
			return
		}

		identity, err := authenticate(tokens, c.GetHeader("Authorization"))
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)

		if !found || !rule.Allows(identity.Role) {
			c.Error(apperrors.AuthorizationDenied("access denied"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// SetIdentity stores identity on the context as Middleware would.
func SetIdentity(c *gin.Context, identity Identity) {
	c.Set(identityKey, identity)
}

func authenticate(tokens *TokenService, header string) (Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return Identity{}, apperrors.AuthenticationFailed("missing or malformed Authorization header", nil)
	}
	identity, err := tokens.Validate(token)
	if err != nil {
		return Identity{}, apperrors.AuthenticationFailed(err.Error(), err)
	}
	return identity, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
