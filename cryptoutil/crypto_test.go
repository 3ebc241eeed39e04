package cryptoutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureDeterminism(t *testing.T) {
	ts1 := time.Unix(1700000000, 0)
	ts2 := time.Unix(1700000000, 0)
	ts3 := time.Unix(1700000001, 0)

	sig1, str1 := SignTimestamp("product-key", ts1)
	sig2, str2 := SignTimestamp("product-key", ts2)
	sig3, str3 := SignTimestamp("product-key", ts3)

	assert.Equal(t, str1, str2)
	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, str1, str3)
	assert.NotEqual(t, sig1, sig3)

	assert.True(t, VerifySignature("product-key", str1, sig1))
	assert.False(t, VerifySignature("product-key", str1, sig3))
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")

	plain := []byte(`{"api_url":"https://a/b","mqtt_iot_url":"ssl://c:8883"}`)
	ct, err := AESCBCEncrypt(key, iv, plain)
	require.NoError(t, err)

	got, err := AESCBCDecrypt(key, iv, ct)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestAESCBCDecryptRejectsBadPadding(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	bogus := make([]byte, 16)
	_, err := AESCBCDecrypt(key, iv, bogus)
	assert.Error(t, err)
}

func TestBase64RoundTrip(t *testing.T) {
	s := Base64Encode([]byte("AA:BB:CC:DD:EE:FF"))
	out, err := Base64Decode(s)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", string(out))
}

func TestMD5Hex(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Hex(nil))
}
