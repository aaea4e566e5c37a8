package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehub/hubcore/pkg/rbac"
)

func TestTokenValidator_RoundTrip(t *testing.T) {
	tv := NewTokenValidator("test-secret", "edgehub")

	token, err := tv.IssueToken(&rbac.AccessContext{
		UserID:      "admin-1",
		UserType:    rbac.UserTypeAdmin,
		HubID:       "hub-1",
		Permissions: []string{"student:read"},
	}, time.Hour)
	require.NoError(t, err)

	claims, err := tv.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.Subject)
	assert.Equal(t, rbac.UserTypeAdmin, claims.UserType)
	assert.Equal(t, "hub-1", claims.HubID)
	assert.Equal(t, []string{"student:read"}, claims.Permissions)
}

func TestTokenValidator_PermissionsNilVersusEmpty(t *testing.T) {
	tv := NewTokenValidator("test-secret", "")

	withNil, err := tv.IssueToken(&rbac.AccessContext{UserType: rbac.UserTypeSystem}, time.Hour)
	require.NoError(t, err)
	claims, err := tv.ValidateJWT(withNil)
	require.NoError(t, err)
	assert.Nil(t, claims.Permissions)

	withEmpty, err := tv.IssueToken(&rbac.AccessContext{UserType: rbac.UserTypeSystem, Permissions: []string{}}, time.Hour)
	require.NoError(t, err)
	claims, err = tv.ValidateJWT(withEmpty)
	require.NoError(t, err)
	assert.NotNil(t, claims.Permissions)
	assert.Empty(t, claims.Permissions)
}

func TestTokenValidator_Rejects(t *testing.T) {
	tv := NewTokenValidator("test-secret", "edgehub")

	expired, err := tv.IssueToken(&rbac.AccessContext{UserType: rbac.UserTypeAdmin}, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewTokenValidator("other-secret", "edgehub").IssueToken(&rbac.AccessContext{UserType: rbac.UserTypeAdmin}, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewTokenValidator("test-secret", "someone-else").IssueToken(&rbac.AccessContext{UserType: rbac.UserTypeAdmin}, time.Hour)
	require.NoError(t, err)

	badType, err := tv.IssueToken(&rbac.AccessContext{UserType: "superuser"}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserType: rbac.UserTypeAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"unknown type": badType,
		"alg none":     none,
		"garbage":      "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tv.ValidateJWT(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenValidator_AccessContext(t *testing.T) {
	tv := NewTokenValidator("test-secret", "")

	req := httptest.NewRequest("GET", "/api/v1/students", nil)
	req.RemoteAddr = "192.168.1.20:5123"
	req.Header.Set("User-Agent", "hub-test")

	ac, err := tv.AccessContext(req)
	require.NoError(t, err)
	assert.Equal(t, rbac.UserTypeAnonymous, ac.UserType)
	assert.Equal(t, "192.168.1.20", ac.IPAddress)
	assert.Equal(t, "hub-test", ac.UserAgent)
	assert.Nil(t, ac.Permissions)

	token, err := tv.IssueToken(&rbac.AccessContext{UserID: "svc", UserType: rbac.UserTypeAPI, HubID: "hub-9"}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Forwarded-For", "10.1.1.1, 172.16.0.1")

	ac, err = tv.AccessContext(req)
	require.NoError(t, err)
	assert.Equal(t, rbac.UserTypeAPI, ac.UserType)
	assert.Equal(t, "hub-9", ac.HubID)
	assert.Equal(t, "192.168.1.20", ac.IPAddress, "forwarded header from an untrusted peer is ignored")

	req.Header.Set("Authorization", "Basic abc")
	_, err = tv.AccessContext(req)
	assert.ErrorIs(t, err, ErrMalformedAuthorization)
}

func TestTokenValidator_TrustedProxies(t *testing.T) {
	tv, err := NewTokenValidator("test-secret", "").WithTrustedProxies("192.168.1.0/24", "172.16.0.1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		forwarded []string
		want      string
	}{
		{"no header", "192.168.1.20:5123", nil, "192.168.1.20"},
		{"single hop", "192.168.1.20:5123", []string{"10.1.1.1"}, "10.1.1.1"},
		{"chained proxies", "192.168.1.20:5123", []string{"10.1.1.1, 172.16.0.1"}, "10.1.1.1"},
		{"spoofed leftmost", "192.168.1.20:5123", []string{"1.2.3.4, 10.1.1.1"}, "10.1.1.1"},
		{"repeated headers", "192.168.1.20:5123", []string{"10.1.1.1", "172.16.0.1"}, "10.1.1.1"},
		{"untrusted peer", "203.0.113.7:4000", []string{"10.1.1.1"}, "203.0.113.7"},
		{"ipv6 peer", "[2001:db8::1]:4000", []string{"10.1.1.1"}, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/students", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}

			ac, err := tv.AccessContext(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ac.IPAddress)
		})
	}

	_, err = NewTokenValidator("s", "").WithTrustedProxies("not-a-network")
	assert.Error(t, err)
}
