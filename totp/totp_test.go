package totp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base32 of the ASCII seed "12345678901234567890" from RFC 6238 appendix B.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestGenerate_RFC6238Vectors(t *testing.T) {
	vectors := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, v := range vectors {
		got, err := Generate(rfcSecret, time.Unix(v.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, v.want, got, "unix=%d", v.unix)
	}
}

func TestGenerate_SameWindowIsDeterministic(t *testing.T) {
	base := time.Unix(1700000010, 0) // 10s into a 30s step
	a, err := Generate(rfcSecret, base)
	require.NoError(t, err)
	b, err := Generate(rfcSecret, base.Add(15*time.Second))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_DifferentWindowsDiffer(t *testing.T) {
	base := time.Unix(1700000010, 0)
	a, err := Generate(rfcSecret, base)
	require.NoError(t, err)
	b, err := Generate(rfcSecret, base.Add(Period*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerate_AcceptsLooseSecretFormats(t *testing.T) {
	at := time.Unix(59, 0)
	lower := strings.ToLower(rfcSecret)
	grouped := "GEZD GNBV GY3T QOJQ GEZD GNBV GY3T QOJQ"
	for _, s := range []string{lower, grouped, rfcSecret + "===="} {
		got, err := Generate(s, at)
		require.NoError(t, err, s)
		assert.Equal(t, "287082", got, s)
	}
}

func TestGenerate_MalformedSecret(t *testing.T) {
	for _, s := range []string{"", "not-base32!", "18"} {
		_, err := Generate(s, time.Now())
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, ErrCodeGeneration), "secret %q: %v", s, err)
	}
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	code, err := Generate(rfcSecret, now)
	require.NoError(t, err)

	assert.True(t, Verify(rfcSecret, code, now))
	assert.True(t, Verify(rfcSecret, code, now.Add(Period*time.Second)), "one step of skew is tolerated")
	assert.False(t, Verify(rfcSecret, code, now.Add(3*Period*time.Second)))
	assert.False(t, Verify(rfcSecret, "12345", now), "short code")
	assert.False(t, Verify(rfcSecret, "abcdef", now), "non-numeric code")
	assert.False(t, Verify("!!", code, now), "bad secret")
}

func TestNewSecretRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	now := time.Now()
	code, err := Generate(secret, now)
	require.NoError(t, err)
	assert.True(t, Verify(secret, code, now))
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 30*time.Second, Remaining(time.Unix(60, 0)))
	assert.Equal(t, 1*time.Second, Remaining(time.Unix(89, 0)))
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("ABC", "Tradedesk", "trader")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Tradedesk:trader?"))
	assert.Contains(t, uri, "secret=ABC")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
