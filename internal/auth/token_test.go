package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func onError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	http.Error(w, msg, status)
}

func TestIssueAndValidate(t *testing.T) {
	tok, err := Issue(testSecret, "fintrack", "owner-1", []string{"ledger:write"}, time.Minute)
	require.NoError(t, err)

	v := &Validator{Secret: testSecret, Issuer: "fintrack"}
	claims, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.Subject)
	assert.Equal(t, []string{"ledger:write"}, claims.Scopes)
}

func TestValidateRejections(t *testing.T) {
	v := &Validator{Secret: testSecret, Issuer: "fintrack"}

	expired, err := Issue(testSecret, "fintrack", "owner-1", nil, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Issue([]byte("other-secret"), "fintrack", "owner-1", nil, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := Issue(testSecret, "someone-else", "owner-1", nil, time.Minute)
	require.NoError(t, err)
	noSubject, err := Issue(testSecret, "fintrack", "", nil, time.Minute)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(tok)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	v := &Validator{Secret: testSecret, Issuer: "fintrack"}
	var gotOwner string
	handler := Authenticate(v, onError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		gotOwner = id.OwnerID
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	tok, err := Issue(testSecret, "fintrack", "owner-1", nil, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner-1", gotOwner)
}

func TestRequireScopes(t *testing.T) {
	v := &Validator{Secret: testSecret, Issuer: "fintrack"}
	handler := Authenticate(v, onError)(
		RequireScopes(onError, "ledger:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})),
	)

	readOnly, err := Issue(testSecret, "fintrack", "owner-1", []string{"ledger:read"}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	writer, err := Issue(testSecret, "fintrack", "owner-1", []string{"ledger:read", "ledger:write"}, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+writer)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
