package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/http"
	"testing"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

const canonicalOPayMessage = `{Amount:"49160",Currency:"NGN",Reference:"10023",Refunded:f,Status:"SUCCESS",Timestamp:"2022-05-07T06:20:46Z",Token:"220507145660712931829",TransactionID:"220507145660712931829"}`

func TestHMAC_KnownSHA256Vector(t *testing.T) {
	got := HexHMAC(sha256.New, sha256.BlockSize, []byte("key"), []byte("The quick brown fox jumps over the lazy dog"))

	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
}

func TestHMAC_MatchesStandardLibraryAcrossHashes(t *testing.T) {
	hashes := []struct {
		name      string
		newHash   func() hash.Hash
		blockSize int
	}{
		{"sha256", sha256.New, sha256.BlockSize},
		{"sha512", sha512.New, sha512.BlockSize},
		{"sha3-512", sha3.New512, SHA3512BlockSize},
	}
	keys := map[string][]byte{
		"empty":            {},
		"short":            []byte("secret"),
		"exactly 72 bytes": bytes.Repeat([]byte{0xab}, 72),
		"exactly 128":      bytes.Repeat([]byte{0x01}, 128),
		"longer than any":  bytes.Repeat([]byte("k"), 200),
	}
	msg := []byte(canonicalOPayMessage)

	for _, h := range hashes {
		for keyName, key := range keys {
			t.Run(h.name+"/"+keyName, func(t *testing.T) {
				ref := hmac.New(h.newHash, key)
				ref.Write(msg)

				assert.Equal(t, ref.Sum(nil), HMAC(h.newHash, h.blockSize, key, msg))
			})
		}
	}
}

func TestHMAC_SHA3512UsesRateAsBlockSize(t *testing.T) {
	assert.Equal(t, SHA3512BlockSize, sha3.New512().BlockSize())
}

func TestHMACSHA3512_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
		want string
	}{
		{
			name: "short key",
			key:  []byte("OPAYPRV16501234567890.1234567890123456"),
			want: "763e2acfa4f6a072d0b4ba49dbed698c597c8e3946f26fb2ba4991dfc6a44208677431d73372a0bed7db8c469310ed1a46a4d58b1d070792b09ab42402e2be4e",
		},
		{
			name: "key longer than block is hashed first",
			key:  bytes.Repeat([]byte("k"), 100),
			want: "5c0268995e18d342df9f97c34bdab76f44b1c0436666ab6334503259193abdcc95a5313fe6c0e56580c054955aed399795041c916a1b8d72c25e4d247ec0efa5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HMACSHA3512(tt.key, []byte(canonicalOPayMessage)))
		})
	}
}

func TestEqualHex(t *testing.T) {
	assert.True(t, EqualHex("abcDEF", "ABCdef"))
	assert.True(t, EqualHex("abcdef", " abcdef\n"))
	assert.False(t, EqualHex("abcdef", "abcdee"))
	assert.False(t, EqualHex("", ""))
	assert.False(t, EqualHex("abcdef", "abcdef00"))
}

func TestSharedSecret_Verify(t *testing.T) {
	v := SharedSecret{Gateway: "flutterwave", Header: "verif-hash", Secret: "s3cret-hash"}

	ok := http.Header{}
	ok.Set("verif-hash", "s3cret-hash")
	require.NoError(t, v.Verify(nil, ok))

	bad := http.Header{}
	bad.Set("verif-hash", "nope")
	assert.ErrorIs(t, v.Verify(nil, bad), domainErrors.ErrSignatureVerification)

	assert.ErrorIs(t, v.Verify(nil, http.Header{}), domainErrors.ErrSignatureVerification)

	unconfigured := SharedSecret{Gateway: "flutterwave", Header: "verif-hash"}
	assert.ErrorIs(t, unconfigured.Verify(nil, ok), domainErrors.ErrSignatureVerification)
}

func TestBodyHMAC_Verify(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-1","amount":250000,"currency":"NGN","status":"success"}}`)
	v := BodyHMAC{Gateway: "paystack", Header: "x-paystack-signature", Secret: []byte("sk_test_paystack"), NewHash: sha512.New}

	headers := http.Header{}
	headers.Set("x-paystack-signature", "f905f357014491e86d0ce5daec633e9441f322154279e49a2ff0150b7605d6657eef1e6e7324e17ccabd5b1529b0455e48830075b098acbb3db6479154f739df")
	require.NoError(t, v.Verify(body, headers))

	tampered := bytes.Replace(body, []byte("250000"), []byte("2500"), 1)
	err := v.Verify(tampered, headers)
	var sigErr *domainErrors.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "paystack", sigErr.Gateway)

	mac := hmac.New(sha512.New, []byte("other-secret"))
	mac.Write(body)
	headers.Set("x-paystack-signature", hex.EncodeToString(mac.Sum(nil)))
	assert.ErrorIs(t, v.Verify(body, headers), domainErrors.ErrSignatureVerification)
}
