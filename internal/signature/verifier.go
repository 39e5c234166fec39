package signature

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
)

// Verifier checks a raw webhook body and its headers.
// It returns a *errors.SignatureError when the delivery cannot be trusted.
type Verifier interface {
	Verify(body []byte, headers http.Header) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(body []byte, headers http.Header) error

func (f VerifierFunc) Verify(body []byte, headers http.Header) error {
	return f(body, headers)
}

// SharedSecret accepts a delivery when a header carries the configured secret verbatim.
type SharedSecret struct {
	Gateway string
	Header  string
	Secret  string
}

func (v SharedSecret) Verify(_ []byte, headers http.Header) error {
	if v.Secret == "" {
		return domainErrors.NewSignatureError(v.Gateway, "no webhook secret configured")
	}
	got := headers.Get(v.Header)
	if got == "" {
		return domainErrors.NewSignatureError(v.Gateway, "missing "+v.Header+" header")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(v.Secret)) != 1 {
		return domainErrors.NewSignatureError(v.Gateway, "secret mismatch")
	}
	return nil
}

// BodyHMAC accepts a delivery when a header carries the hex HMAC of the raw body.
type BodyHMAC struct {
	Gateway string
	Header  string
	Secret  []byte
	NewHash func() hash.Hash
}

func (v BodyHMAC) Verify(body []byte, headers http.Header) error {
	if len(v.Secret) == 0 {
		return domainErrors.NewSignatureError(v.Gateway, "no webhook secret configured")
	}
	got := strings.TrimSpace(headers.Get(v.Header))
	if got == "" {
		return domainErrors.NewSignatureError(v.Gateway, "missing "+v.Header+" header")
	}

	mac := hmac.New(v.NewHash, v.Secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !EqualHex(expected, got) {
		return domainErrors.NewSignatureError(v.Gateway, "digest mismatch")
	}
	return nil
}
