package tokens_test

import (
	"crypto/ecdsa"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

var (
	sharedTestKey     *ecdsa.PrivateKey
	sharedTestKeyOnce sync.Once
)

// getSharedTestKey returns a shared ECDSA key for tests that don't need isolation.
func getSharedTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sharedTestKeyOnce.Do(func() {
		key, err := tokens.GenerateKey()
		if err != nil {
			panic("failed to generate shared test key: " + err.Error())
		}
		sharedTestKey = key
	})
	return sharedTestKey
}

func unsignedToken(payload string) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func TestUsable(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"undefined literal", "undefined", false},
		{"null literal", "null", false},
		{"opaque token", "abc123", true},
		{"two segments", "abc.def", true},
		{"future exp", unsignedToken(`{"exp":1700003600}`), true},
		{"past exp", unsignedToken(`{"exp":1699996400}`), false},
		{"exp equal to now", unsignedToken(`{"exp":1700000000}`), false},
		{"missing exp", unsignedToken(`{"sub":"user-1"}`), true},
		{"string exp", unsignedToken(`{"exp":"tomorrow"}`), true},
		{"payload not json", unsignedToken(`not json`), true},
		{"payload not base64", "aaa.!!!.bbb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokens.Usable(tt.token, now))
		})
	}
}

func TestExpiration(t *testing.T) {
	t.Parallel()

	// decodes exp from the middle segment only
	exp, ok := tokens.Expiration(unsignedToken(`{"exp":1700003600}`))
	require.True(t, ok)
	assert.Equal(t, int64(1700003600), exp.Unix())

	// padded segments are not base64url
	_, ok = tokens.Expiration("a.eyJleHAiOjF9==.b")
	assert.False(t, ok)

	_, ok = tokens.Expiration("opaque")
	assert.False(t, ok)
}

func TestIssuer_RoundTrip(t *testing.T) {
	t.Parallel()
	issuer := tokens.NewIssuer(getSharedTestKey(t), "auth.test")

	pair, err := issuer.IssuePair("user-1", time.Minute, time.Hour)
	require.NoError(t, err)
	assert.False(t, pair.Empty())

	// access token verifies as access and peeks a future exp
	claims, err := issuer.Verify(pair.AccessToken, tokens.UseAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, tokens.Usable(pair.AccessToken, time.Now()))

	// refresh token cannot be used as an access token
	_, err = issuer.Verify(pair.RefreshToken, tokens.UseAccess)
	assert.ErrorIs(t, err, tokens.ErrTokenWrongUse())

	// two refresh tokens for the same subject never collide
	again, err := issuer.IssueRefreshToken("user-1", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, again)
}

func TestIssuer_Rejections(t *testing.T) {
	t.Parallel()
	issuer := tokens.NewIssuer(getSharedTestKey(t), "auth.test")

	t.Run("expired", func(t *testing.T) {
		token, err := issuer.IssueAccessToken("user-1", -time.Minute)
		require.NoError(t, err)

		_, err = issuer.Verify(token, tokens.UseAccess)
		assert.ErrorIs(t, err, tokens.ErrTokenExpired())
		assert.False(t, tokens.Usable(token, time.Now()))
	})

	t.Run("other issuer", func(t *testing.T) {
		other := tokens.NewIssuer(getSharedTestKey(t), "elsewhere.test")
		token, err := other.IssueAccessToken("user-1", time.Minute)
		require.NoError(t, err)

		_, err = issuer.Verify(token, tokens.UseAccess)
		assert.ErrorIs(t, err, tokens.ErrTokenInvalidIssuer())
	})

	t.Run("other key", func(t *testing.T) {
		key, err := tokens.GenerateKey()
		require.NoError(t, err)
		token, err := tokens.NewIssuer(key, "auth.test").IssueAccessToken("user-1", time.Minute)
		require.NoError(t, err)

		_, err = issuer.Verify(token, tokens.UseAccess)
		assert.ErrorIs(t, err, tokens.ErrTokenBadSignature())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token", tokens.UseAccess)
		assert.ErrorIs(t, err, tokens.ErrTokenMalformed())
	})
}
