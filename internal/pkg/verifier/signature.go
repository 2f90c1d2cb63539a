package verifier

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// signHex returns the lowercase hex HMAC of payload.
func signHex(hashFunc func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHexHMAC compares a hex signature header (any case) against the HMAC
// of payload in constant time.
func verifyHexHMAC(hashFunc func() hash.Hash, secret string, payload []byte, signature string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func verifySHA512(secret string, payload []byte, signature string) bool {
	return verifyHexHMAC(sha512.New, secret, payload, signature)
}

func verifySHA256(secret string, payload []byte, signature string) bool {
	return verifyHexHMAC(sha256.New, secret, payload, signature)
}

// verifyMD5OrSHA256 accepts HMAC-MD5 and, for installations configured
// with the newer scheme, HMAC-SHA256.
func verifyMD5OrSHA256(secret string, payload []byte, signature string) bool {
	if verifyHexHMAC(md5.New, secret, payload, signature) {
		return true
	}
	return verifySHA256(secret, payload, signature)
}
