// Package signature verifies that inbound webhook bodies were produced by the
// gateway they claim to come from.
package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SHA3512BlockSize is the rate of SHA3-512 in bytes, which HMAC uses as its block size.
const SHA3512BlockSize = 72

const (
	innerPad byte = 0x36
	outerPad byte = 0x5c
)

// HMAC computes HMAC(key, msg) over an arbitrary hash with an explicit block size:
//
//	H((K' ^ opad) || H((K' ^ ipad) || msg))
//
// where K' is the key (hashed first when longer than the block) right-padded
// with zeros to blockSize.
func HMAC(newHash func() hash.Hash, blockSize int, key, msg []byte) []byte {
	if len(key) > blockSize {
		h := newHash()
		h.Write(key)
		key = h.Sum(nil)
	}

	padded := make([]byte, blockSize)
	copy(padded, key)

	innerKey := make([]byte, blockSize)
	outerKey := make([]byte, blockSize)
	for i, b := range padded {
		innerKey[i] = b ^ innerPad
		outerKey[i] = b ^ outerPad
	}

	inner := newHash()
	inner.Write(innerKey)
	inner.Write(msg)
	innerSum := inner.Sum(nil)

	outer := newHash()
	outer.Write(outerKey)
	outer.Write(innerSum)
	return outer.Sum(nil)
}

// HexHMAC is HMAC hex-encoded in lower case.
func HexHMAC(newHash func() hash.Hash, blockSize int, key, msg []byte) string {
	return hex.EncodeToString(HMAC(newHash, blockSize, key, msg))
}

// HMACSHA3512 returns the hex HMAC-SHA3-512 of msg.
func HMACSHA3512(key, msg []byte) string {
	return HexHMAC(sha3.New512, SHA3512BlockSize, key, msg)
}

// EqualHex compares two hex digests in constant time, ignoring case and
// surrounding whitespace.
func EqualHex(expected, got string) bool {
	e := strings.ToLower(strings.TrimSpace(expected))
	g := strings.ToLower(strings.TrimSpace(got))
	if e == "" || g == "" {
		return false
	}
	return hmac.Equal([]byte(e), []byte(g))
}
