package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceIssueAndValidate(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	ts := auth.NewTokenService(testConfig(), auth.WithTokenClock(func() time.Time { return now }))

	assert.Equal(t, time.Hour, ts.TTL())

	token, issued, err := ts.Issue(auth.TokenSubject{
		UserID:    "user-1",
		Email:     "ana@example.com",
		SessionID: "sess-1",
		Metadata:  map[string]any{auth.MetadataDisplayName: "Ana"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "user-1", issued.UserID())
	assert.Equal(t, now.Add(time.Hour), issued.Expires())

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "sess-1", claims.SID())
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, "portal-test", claims.Issuer)
	assert.Equal(t, now, claims.Issued())

	session := claims.ProviderSession(token)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, token, session.AccessToken)
	assert.Equal(t, "Ana", session.Metadata[auth.MetadataDisplayName])
}

func TestTokenServiceDefaultTTL(t *testing.T) {
	cfg := testConfig()
	cfg.TokenHours = 0
	assert.Equal(t, 24*time.Hour, auth.NewTokenService(cfg).TTL())
}

func TestTokenServiceRejectsEmptySubject(t *testing.T) {
	ts := auth.NewTokenService(testConfig())
	_, _, err := ts.Issue(auth.TokenSubject{})
	assert.Error(t, err)
}

func TestTokenServiceExpiredToken(t *testing.T) {
	issuedAt := time.Now().Add(-2 * time.Hour)
	issuer := auth.NewTokenService(testConfig(), auth.WithTokenClock(func() time.Time { return issuedAt }))
	token, _, err := issuer.Issue(auth.TokenSubject{UserID: "user-1"})
	require.NoError(t, err)

	_, err = auth.NewTokenService(testConfig()).Validate(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenServiceMalformedToken(t *testing.T) {
	ts := auth.NewTokenService(testConfig())

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong key", token: signWith(t, "another-key", "portal-test")},
		{name: "wrong issuer", token: signWith(t, testConfig().SigningKey, "someone-else")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(tt.token)
			require.Error(t, err)
			assert.True(t, auth.IsMalformedError(err))
			assert.Equal(t, auth.TextCodeTokenMalformed, auth.TextCode(err))
			assert.Equal(t, 401, auth.StatusCode(err))
		})
	}
}

func TestTokenValidatorWithoutKeyfunc(t *testing.T) {
	v := auth.NewTokenValidator(nil, "", nil)
	_, err := v.Validate("anything")
	assert.ErrorIs(t, err, auth.ErrUnableToDecodeSession)
}

func signWith(t *testing.T, key, issuer string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{"portal"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}
