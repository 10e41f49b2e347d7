package rpc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthenticateResolvesSubject(t *testing.T) {
	cfg := AuthConfig{HMACSecret: testSecret, Issuer: "stakectl", Audience: "stakevault"}
	auth := NewAuthenticator(cfg)
	tok, err := IssueToken(cfg, aliceAddr.String(), time.Minute, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/rpc", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	caller, rpcErr := auth.Authenticate(req)
	require.Nil(t, rpcErr)
	require.Equal(t, aliceAddr.Raw(), caller)
}

func TestAuthenticateRejectsWrongAudience(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Audience: "stakevault"})
	tok, err := IssueToken(AuthConfig{HMACSecret: testSecret, Audience: "elsewhere"}, aliceAddr.String(), time.Minute, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, rpcErr := auth.Authenticate(req)
	require.NotNil(t, rpcErr)
	require.Equal(t, codeUnauthorized, rpcErr.Code)
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	req := httptest.NewRequest("POST", "/rpc", nil)
	req.Header.Set("Authorization", "Bearer x")
	_, rpcErr := NewAuthenticator(AuthConfig{}).Authenticate(req)
	require.NotNil(t, rpcErr)
	require.Contains(t, rpcErr.Message, "not configured")
}

func TestIssueTokenValidatesSubject(t *testing.T) {
	_, err := IssueToken(AuthConfig{HMACSecret: testSecret}, "not-an-account", time.Minute, time.Now())
	require.Error(t, err)
	_, err = IssueToken(AuthConfig{}, aliceAddr.String(), time.Minute, time.Now())
	require.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "", extractBearer("Basic abc"))
	require.Equal(t, "", extractBearer(""))
}
