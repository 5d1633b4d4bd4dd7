package initdata

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:TEST-TOKEN"

func signedInitData(t *testing.T, userJSON string) string {
	t.Helper()
	values := url.Values{}
	values.Set("auth_date", "1717171717")
	values.Set("query_id", "AAH-test")
	if userJSON != "" {
		values.Set("user", userJSON)
	}
	values.Set("hash", Sign(values, testToken))
	return values.Encode()
}

func TestValidateAcceptsSignedPayload(t *testing.T) {
	initData := signedInitData(t, `{"id":777,"first_name":"Анна","username":"anna"}`)
	require.NoError(t, Validate(initData, testToken))

	id, err := UserID(initData, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
}

func TestValidateRejectsTampering(t *testing.T) {
	values := url.Values{}
	values.Set("auth_date", "1717171717")
	values.Set("user", `{"id":777}`)
	values.Set("hash", Sign(values, testToken))

	// Swap the user after signing.
	values.Set("user", `{"id":999}`)
	assert.ErrorIs(t, Validate(values.Encode(), testToken), ErrInvalid)
}

func TestValidateRejectsWrongToken(t *testing.T) {
	initData := signedInitData(t, `{"id":777}`)
	assert.ErrorIs(t, Validate(initData, "999999:OTHER"), ErrInvalid)
}

func TestValidateEdgeCases(t *testing.T) {
	assert.ErrorIs(t, Validate("", testToken), ErrMissingInitData)
	assert.ErrorIs(t, Validate("   ", testToken), ErrMissingInitData)
	assert.ErrorIs(t, Validate("auth_date=1", ""), ErrNotConfigured)
	assert.ErrorIs(t, Validate("auth_date=1", testToken), ErrInvalid, "missing hash")
}

func TestUserIDRequiresUser(t *testing.T) {
	initData := signedInitData(t, "")
	_, err := UserID(initData, testToken)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestParseUserRejectsZeroID(t *testing.T) {
	_, err := ParseUser("user=" + url.QueryEscape(`{"id":0,"first_name":"x"}`))
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestStrictPolicy(t *testing.T) {
	policy := StrictPolicy{BotToken: testToken}

	id, err := policy.ResolveUserID(signedInitData(t, `{"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = policy.ResolveUserID("")
	assert.ErrorIs(t, err, ErrMissingInitData)
	assert.False(t, policy.SkipNatalAuth())
}

func TestPermissivePolicyFallsBack(t *testing.T) {
	policy := PermissivePolicy{BotToken: testToken, FallbackID: 555}

	// Valid signatures still resolve to the real user.
	id, err := policy.ResolveUserID(signedInitData(t, `{"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	// Missing init data falls back instead of failing.
	id, err = policy.ResolveUserID("")
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)

	assert.True(t, policy.SkipNatalAuth())
}
