package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// verifyHMACSignature verifies an HMAC-SHA256 hex signature against the
// request body.
//
// This function uses constant-time comparison (crypto/subtle) to prevent
// timing attacks. All errors are generic to prevent information leakage.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return fmt.Errorf("webhook verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	actualMAC, err := hex.DecodeString(signature)
	if err != nil {
		// Generic error - don't leak format details
		return fmt.Errorf("webhook verification failed")
	}

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}

	return nil
}

// computeSignature computes the hex HMAC-SHA256 signature for a body.
// Used by tests and for documenting the expected sender behavior.
func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
