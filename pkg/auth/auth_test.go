package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour, "test")

	token, err := tokens.Issue("reader@example.com", models.RoleUser)
	require.NoError(t, err)

	identity, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{Email: "reader@example.com", Role: models.RoleUser}, identity)
}

func TestTokenWithZeroTTLIsExpired(t *testing.T) {
	tokens := NewTokenService("secret", 0, "test")

	token, err := tokens.Issue("reader@example.com", models.RoleUser)
	require.NoError(t, err)

	_, err = tokens.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokenService("secret", 24*time.Hour, "test").WithClock(func() time.Time { return issuedAt })

	token, err := tokens.Issue("staff@library.org", models.RoleStaff)
	require.NoError(t, err)

	tokens.WithClock(func() time.Time { return issuedAt.Add(23 * time.Hour) })
	_, err = tokens.Validate(token)
	assert.NoError(t, err)

	tokens.WithClock(func() time.Time { return issuedAt.Add(25 * time.Hour) })
	_, err = tokens.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenInvalid(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour, "test")
	other := NewTokenService("other-secret", time.Hour, "test")

	foreign, err := other.Issue("reader@example.com", models.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong signature", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Validate(tt.token)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, hasher.Compare(hash, "correct horse"))
	assert.False(t, hasher.Compare(hash, "battery staple"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		method string
		path   string
		public bool
		allow  []models.Role
		deny   []models.Role
	}{
		{"POST", "/api/v1/auth/login", true, nil, nil},
		{"POST", "/api/v1/auth/staff/login", true, nil, nil},
		{"GET", "/manage/health", true, nil, nil},
		{"POST", "/api/v1/auth/change-password", false, []models.Role{models.RoleUser, models.RoleStaff}, nil},
		{"GET", "/api/v1/books", false, []models.Role{models.RoleUser, models.RoleAdmin}, nil},
		{"POST", "/api/v1/books", false, []models.Role{models.RoleStaff, models.RoleAdmin}, []models.Role{models.RoleUser}},
		{"POST", "/api/v1/loans", false, []models.Role{models.RoleUser, models.RoleStaff}, nil},
		{"POST", "/api/v1/loans/4/return", false, []models.Role{models.RoleUser}, nil},
		{"POST", "/api/v1/loans/mark-overdue", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"GET", "/api/v1/loans", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"GET", "/api/v1/loans/9", false, []models.Role{models.RoleUser}, nil},
		{"POST", "/api/v1/fines/3/waive", false, []models.Role{models.RoleStaff, models.RoleAdmin}, []models.Role{models.RoleUser}},
		{"POST", "/api/v1/fines/3/pay", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"POST", "/api/v1/fines/assess/loan/3", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"GET", "/api/v1/fines/user/2/total-pending", false, []models.Role{models.RoleUser}, nil},
		{"GET", "/api/v1/fines/3", false, []models.Role{models.RoleUser}, nil},
		{"POST", "/api/v1/payments", false, []models.Role{models.RoleUser}, nil},
		{"POST", "/api/v1/payments/5/refund", false, []models.Role{models.RoleAdmin}, []models.Role{models.RoleUser}},
		{"GET", "/api/v1/payments/revenue", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"PATCH", "/api/v1/patrons/2/status", false, []models.Role{models.RoleStaff}, []models.Role{models.RoleUser}},
		{"DELETE", "/api/v1/patrons/2", false, []models.Role{models.RoleAdmin}, []models.Role{models.RoleStaff, models.RoleUser}},
		{"POST", "/api/v1/staff", false, []models.Role{models.RoleAdmin}, []models.Role{models.RoleStaff}},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rule, found := policy.Find(tt.method, tt.path)
			require.True(t, found)
			assert.Equal(t, tt.public, rule.Public())
			for _, role := range tt.allow {
				assert.True(t, rule.Allows(role), role)
			}
			for _, role := range tt.deny {
				assert.False(t, rule.Allows(role), role)
			}
		})
	}
}

func TestPolicyUnmatchedRoute(t *testing.T) {
	_, found := DefaultPolicy().Find("GET", "/api/v2/anything")
	assert.False(t, found)
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/", true},
		{"/a/*", "/a/1", true},
		{"/a/*", "/a", false},
		{"/a/*", "/a/1/2", false},
		{"/a/**", "/a", true},
		{"/a/**", "/a/1/2/3", true},
		{"/a/*/c", "/a/1/c", true},
		{"/a/*/c", "/a/1/d", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.match, matchPath(splitPath(tt.pattern), splitPath(tt.path)))
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokenService("secret", time.Hour, "test")
	userToken, _ := tokens.Issue("reader@example.com", models.RoleUser)
	staffToken, _ := tokens.Issue("staff@library.org", models.RoleStaff)
	expired, _ := NewTokenService("secret", 0, "test").Issue("reader@example.com", models.RoleUser)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			c.JSON(statusFor(c.Errors.Last().Err), gin.H{"error": c.Errors.Last().Error()})
		}
	})
	router.Use(Middleware(tokens, DefaultPolicy()))
	ok := func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"email": identity.Email})
	}
	router.POST("/api/v1/auth/login", ok)
	router.POST("/api/v1/fines/:id/waive", ok)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"public route without token", "/api/v1/auth/login", "", http.StatusOK},
		{"missing token", "/api/v1/fines/1/waive", "", http.StatusUnauthorized},
		{"malformed header", "/api/v1/fines/1/waive", "Token " + staffToken, http.StatusUnauthorized},
		{"expired token", "/api/v1/fines/1/waive", "Bearer " + expired, http.StatusUnauthorized},
		{"user role denied", "/api/v1/fines/1/waive", "Bearer " + userToken, http.StatusForbidden},
		{"staff role allowed", "/api/v1/fines/1/waive", "Bearer " + staffToken, http.StatusOK},
		{"unmatched route denied", "/api/v9/unknown", "Bearer " + staffToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", tt.path, strings.NewReader("{}"))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case apperrors.KindAuthorizationDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
